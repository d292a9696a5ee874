// Copyright (C) 2025, ReliQuary Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package trust implements the Trust Scoring Engine (C1): a weighted,
// multi-factor, history-aware evaluation of a (user, context) pair
// (spec.md §4.1).
package trust

import (
	"context"
	"math"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/swayam8624/reliquary/collab"
	"github.com/swayam8624/reliquary/log"
	"github.com/swayam8624/reliquary/metrics"
	"github.com/swayam8624/reliquary/types"
)

// weights are the eight sub-metric weights from spec.md §4.1's table.
// They sum to 1.00, so Overall never exceeds 100 given each metric is
// itself clamped to [0,100].
const (
	weightDevice      = 0.20
	weightTemporal     = 0.15
	weightGeographic   = 0.15
	weightBehavioral   = 0.20
	weightAccessFreq   = 0.10
	weightRisk         = 0.10
	weightCompliance   = 0.05
	weightHistorical   = 0.05
)

// Context is the per-factor evidence the workflow verifies before
// asking for a trust score. Verified booleans normally come from the
// Context Verification Adapter (C2); the rest is raw client telemetry.
type Context struct {
	DeviceVerified    bool
	TimestampVerified bool
	LocationVerified  bool
	PatternVerified   bool

	DeviceFingerprint string
	Lat, Lon          *float64

	SessionDurationSeconds *float64
	KeystrokesPerMinute    *float64

	SecondsSinceLastAccess *float64
	AccessFrequencyRatio   *float64 // current rate / typical rate, precomputed by the caller

	BusinessHours bool
	IPConsistent  bool

	ComplianceViolationNow bool
}

// Metrics holds the eight named sub-scores, each in [0,100].
type Metrics struct {
	DeviceConsistency     float64
	TemporalPatterns      float64
	GeographicConsistency float64
	BehavioralPatterns    float64
	AccessFrequency       float64
	RiskIndicators        float64
	ComplianceScore       float64
	HistoricalReliability float64
}

// Evaluation is the immutable result of one evaluate() call (spec.md §3).
type Evaluation struct {
	UserID            string
	OverallScore      float64
	RiskLevel         types.RiskLevel
	Metrics           Metrics
	Confidence        float64
	AdaptiveThresholds map[string]float64
	Recommendations   []string
	Timestamp         time.Time
}

// Engine is C1, the Trust Scoring Engine.
type Engine struct {
	store   ProfileStore
	audit   collab.AuditWriter
	metrics *metrics.Metrics
	log     log.Logger
}

// New constructs a Trust Scoring Engine. store is required; audit,
// m and logger may be nil (they degrade to no-ops).
func New(store ProfileStore, audit collab.AuditWriter, m *metrics.Metrics, logger log.Logger) *Engine {
	if logger == nil {
		logger = log.NewNoOp()
	}
	return &Engine{store: store, audit: audit, metrics: m, log: logger}
}

// failureEvaluation is spec.md §4.1's documented failure mode: any
// internal error yields this fixed evaluation rather than propagating.
func failureEvaluation(userID string) Evaluation {
	return Evaluation{
		UserID:             userID,
		OverallScore:       0,
		RiskLevel:          types.RiskVeryHigh,
		Confidence:         0,
		AdaptiveThresholds: map[string]float64{},
		Recommendations:    []string{"system error"},
		Timestamp:          time.Now(),
	}
}

// Evaluate computes a TrustEvaluation for (userID, ctx) and persists
// the updated profile. It never returns an error to the caller for
// anything but a precondition violation (empty userID); any panic
// recovered from the store, the scoring pipeline, or the audit/metrics
// calls below collapses into failureEvaluation, matching spec.md §4.1.
func (e *Engine) Evaluate(ctx context.Context, userID string, tctx Context) (eval Evaluation, err error) {
	if userID == "" {
		return Evaluation{}, collab.New(collab.KindConfiguration, "user_id must not be empty")
	}

	defer func() {
		if r := recover(); r != nil {
			e.log.Warn("trust evaluation panicked, returning failure evaluation", "user_id", userID, "recovered", r)
			eval, err = failureEvaluation(userID), nil
		}
	}()

	return e.evaluate(ctx, userID, tctx)
}

func (e *Engine) evaluate(ctx context.Context, userID string, tctx Context) (Evaluation, error) {
	profile, existed, loadErr := e.store.Load(ctx, userID)
	if loadErr != nil {
		e.log.Warn("trust profile load failed, treating as stale", "user_id", userID, "err", loadErr)
	}
	if !existed || profile == nil {
		profile = NewUserTrustProfile(userID)
	}

	eval, newProfile := e.evaluateWithProfile(userID, tctx, profile)

	if err := e.store.Save(ctx, newProfile); err != nil {
		e.log.Warn("trust profile save failed", "user_id", userID, "err", err)
	}
	if e.audit != nil {
		_ = e.audit.Write(ctx, collab.AuditEvent{
			Event: "trust_evaluated",
			Fields: map[string]any{
				"user_id": userID,
				"score":   eval.OverallScore,
				"risk":    string(eval.RiskLevel),
			},
			Timestamp: eval.Timestamp,
		})
	}
	if e.metrics != nil {
		e.metrics.TrustEvaluations.Inc()
		e.metrics.TrustScore.Observe(eval.OverallScore)
	}
	return eval, nil
}

func (e *Engine) evaluateWithProfile(userID string, tctx Context, profile *UserTrustProfile) (Evaluation, *UserTrustProfile) {
	history := profile.TrustHistory.Values()
	mean, variance := historyStats(history)

	m := Metrics{
		DeviceConsistency:     deviceConsistency(tctx, profile),
		TemporalPatterns:      temporalPatterns(tctx, profile),
		GeographicConsistency: geographicConsistency(tctx, profile),
		BehavioralPatterns:    behavioralPatterns(tctx, profile),
		AccessFrequency:       accessFrequency(tctx),
		RiskIndicators:        riskIndicators(tctx, profile),
		ComplianceScore:       complianceScore(tctx, profile),
		HistoricalReliability: historicalReliability(history, mean, variance),
	}

	overall := weightDevice*m.DeviceConsistency +
		weightTemporal*m.TemporalPatterns +
		weightGeographic*m.GeographicConsistency +
		weightBehavioral*m.BehavioralPatterns +
		weightAccessFreq*m.AccessFrequency +
		weightRisk*m.RiskIndicators +
		weightCompliance*m.ComplianceScore +
		weightHistorical*m.HistoricalReliability
	overall = clamp(overall, 0, 100)

	risk := riskLevelFor(overall)
	confidence := confidenceFor(profile.TotalEvaluations, variance)
	thresholds := adaptiveThresholds(mean)
	recs := recommendationsFor(risk, m)

	now := time.Now()
	eval := Evaluation{
		UserID:             userID,
		OverallScore:       overall,
		RiskLevel:          risk,
		Metrics:            m,
		Confidence:         confidence,
		AdaptiveThresholds: thresholds,
		Recommendations:    recs,
		Timestamp:          now,
	}

	applyPostConditions(profile, tctx, overall, risk, now)
	return eval, profile
}

func applyPostConditions(profile *UserTrustProfile, tctx Context, overall float64, risk types.RiskLevel, now time.Time) {
	profile.TrustHistory.Append(overall)
	profile.BaselineScore = mean(profile.TrustHistory.Values())

	if tctx.DeviceFingerprint != "" {
		profile.KnownDevices.Append(tctx.DeviceFingerprint)
	}
	if tctx.Lat != nil && tctx.Lon != nil {
		if nearestKnownDistanceKM(*tctx.Lat, *tctx.Lon, profile.KnownLocations) > 5 {
			profile.addKnownLocation(KnownLocation{Lat: *tctx.Lat, Lon: *tctx.Lon})
		}
	}
	if tctx.SecondsSinceLastAccess != nil {
		profile.AccessIntervals.Append(*tctx.SecondsSinceLastAccess)
	}
	if tctx.SessionDurationSeconds != nil {
		profile.SessionDurations.Append(*tctx.SessionDurationSeconds)
	}
	if tctx.KeystrokesPerMinute != nil {
		profile.TypingSpeeds.Append(*tctx.KeystrokesPerMinute)
	}
	if risk == types.RiskHigh || risk == types.RiskVeryHigh {
		profile.RiskEvents = append(profile.RiskEvents, RiskEvent{
			Timestamp: now,
			Level:     string(risk),
			Score:     overall,
		})
	}
	if tctx.ComplianceViolationNow {
		profile.ComplianceViolations++
	}
	profile.TotalEvaluations++
	profile.LastEvaluation = now
}

// --- sub-metric computations (spec.md §4.1 table) ---

func deviceConsistency(c Context, p *UserTrustProfile) float64 {
	if !c.DeviceVerified {
		return 0
	}
	score := 80.0
	if c.DeviceFingerprint != "" && p.KnownDevices.Contains(c.DeviceFingerprint) {
		score += 20
	} else {
		score += 10
	}
	return clamp(score, 0, 100)
}

func temporalPatterns(c Context, p *UserTrustProfile) float64 {
	if !c.TimestampVerified {
		return 0
	}
	score := 70.0
	intervals := p.AccessIntervals.Values()
	if len(intervals) > 0 && c.SecondsSinceLastAccess != nil {
		m := mean(intervals)
		if m > 0 {
			deviation := math.Abs(*c.SecondsSinceLastAccess-m) / m
			score += 30 * math.Max(0, 1-deviation)
		}
	}
	return clamp(score, 0, 100)
}

func geographicConsistency(c Context, p *UserTrustProfile) float64 {
	if !c.LocationVerified {
		return 0
	}
	score := 70.0
	if c.Lat != nil && c.Lon != nil {
		d := nearestKnownDistanceKM(*c.Lat, *c.Lon, p.KnownLocations)
		switch {
		case d <= 10:
			score += 30
		case d <= 50:
			score += 20
		case d <= 200:
			score += 10
		}
	}
	return clamp(score, 0, 100)
}

func behavioralPatterns(c Context, p *UserTrustProfile) float64 {
	if !c.PatternVerified {
		return 0
	}
	score := 70.0
	if c.SessionDurationSeconds != nil {
		durations := p.SessionDurations.Values()
		if len(durations) > 0 {
			score += deviationBonus(*c.SessionDurationSeconds, durations, 15)
		}
	}
	if c.KeystrokesPerMinute != nil {
		typing := p.TypingSpeeds.Values()
		if len(typing) > 0 {
			score += deviationBonus(*c.KeystrokesPerMinute, typing, 15)
		}
	}
	return clamp(score, 0, 100)
}

// deviationBonus gives up to max points, shrinking linearly with the
// normalized distance of value from the baseline mean.
func deviationBonus(value float64, baseline []float64, max float64) float64 {
	m := mean(baseline)
	if m == 0 {
		return 0
	}
	deviation := math.Abs(value-m) / m
	return max * math.Max(0, 1-deviation)
}

func accessFrequency(c Context) float64 {
	if c.AccessFrequencyRatio == nil {
		return 60
	}
	r := *c.AccessFrequencyRatio
	switch {
	case r >= 0.5 && r <= 2.0:
		return 90
	case r >= 0.2 && r <= 3.0:
		return 70
	default:
		return 40
	}
}

func riskIndicators(c Context, p *UserTrustProfile) float64 {
	score := 100.0
	score -= 10 * float64(complianceEventsLast7Days(p))

	failedVerifications := 0
	for _, verified := range []bool{c.DeviceVerified, c.TimestampVerified, c.LocationVerified, c.PatternVerified} {
		if !verified {
			failedVerifications++
		}
	}
	score -= 15 * float64(failedVerifications)

	if c.SecondsSinceLastAccess != nil && *c.SecondsSinceLastAccess < 60 {
		score -= 20
	}
	return clamp(score, 0, 100)
}

func complianceEventsLast7Days(p *UserTrustProfile) int {
	cutoff := time.Now().Add(-7 * 24 * time.Hour)
	count := 0
	for _, ev := range p.RiskEvents {
		if ev.Timestamp.After(cutoff) {
			count++
		}
	}
	return count
}

func complianceScore(c Context, p *UserTrustProfile) float64 {
	score := 100.0 - 5*float64(p.ComplianceViolations)
	if !c.BusinessHours {
		score -= 10
	}
	if !c.IPConsistent {
		score -= 15
	}
	return clamp(score, 0, 100)
}

func historicalReliability(history []float64, mean, variance float64) float64 {
	if len(history) == 0 {
		return 50
	}
	return clamp(0.7*mean+0.3*(100-variance), 0, 100)
}

// --- level/confidence/threshold derivations ---

func riskLevelFor(overall float64) types.RiskLevel {
	switch {
	case overall >= 90:
		return types.RiskVeryLow
	case overall >= 75:
		return types.RiskLow
	case overall >= 60:
		return types.RiskMedium
	case overall >= 40:
		return types.RiskHigh
	default:
		return types.RiskVeryHigh
	}
}

func confidenceFor(totalEvaluations int, variance float64) float64 {
	c := math.Min(80, 2*float64(totalEvaluations)) + math.Max(0, 20-variance/5)
	return clamp(c, 0, 100)
}

func adaptiveThresholds(historyMean float64) map[string]float64 {
	shift := math.Max(0, 0.1*(historyMean-75))
	return map[string]float64{
		"very_low":  90 + shift,
		"low":       75 + shift,
		"medium":    60 + shift,
		"high":      40 + shift,
		"very_high": 0 + shift,
	}
}

func recommendationsFor(risk types.RiskLevel, m Metrics) []string {
	var recs []string
	if risk == types.RiskHigh || risk == types.RiskVeryHigh {
		recs = append(recs, "require step-up verification")
	}
	if m.DeviceConsistency < 50 {
		recs = append(recs, "verify device fingerprint")
	}
	if m.GeographicConsistency < 50 {
		recs = append(recs, "confirm access location")
	}
	if m.BehavioralPatterns < 50 {
		recs = append(recs, "monitor behavioral pattern deviation")
	}
	return recs
}

// --- shared numeric helpers ---

func historyStats(history []float64) (mean, variance float64) {
	if len(history) == 0 {
		return 0, 0
	}
	return stat.Mean(history, nil), stat.PopVariance(history, nil)
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	return stat.Mean(values, nil)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// nearestKnownDistanceKM approximates distance with a planar projection
// scaled by 111 km/degree, matching spec.md §4.1's stated approximation
// ("approximate planar distance × 111"). math.MaxFloat64 if no known
// locations exist yet.
func nearestKnownDistanceKM(lat, lon float64, known []KnownLocation) float64 {
	if len(known) == 0 {
		return math.MaxFloat64
	}
	best := math.MaxFloat64
	for _, k := range known {
		dLat := lat - k.Lat
		dLon := lon - k.Lon
		d := math.Sqrt(dLat*dLat+dLon*dLon) * 111
		if d < best {
			best = d
		}
	}
	return best
}
