// Copyright (C) 2025, ReliQuary Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package agent

import (
	"math"
	"sync"

	"github.com/swayam8624/reliquary/types"
)

const (
	watchdogAllowThreshold = 0.60
	watchdogDenyThreshold  = 0.30
	watchdogBaselineCap    = 30
	watchdogMinKnownHours  = 5
)

// baseline is one user's Watchdog rolling history: typing speed,
// session duration, access frequency and the set of hours access has
// previously been observed at (spec §4.3's "Watchdog specifics").
type baseline struct {
	typingSpeeds     []float64
	sessionDurations []float64
	frequencies      []float64
	knownHours       map[int]bool
}

func newBaseline() *baseline {
	return &baseline{knownHours: make(map[int]bool)}
}

func appendBounded(values []float64, v float64, cap int) []float64 {
	values = append(values, v)
	if over := len(values) - cap; over > 0 {
		values = values[over:]
	}
	return values
}

func meanOf(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func stddevOf(values []float64, mean float64) float64 {
	if len(values) < 2 {
		return 0
	}
	sumSq := 0.0
	for _, v := range values {
		d := v - mean
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(values)-1))
}

func maxOf(values []float64) float64 {
	max := 0.0
	for _, v := range values {
		if v > max {
			max = v
		}
	}
	return max
}

// Watchdog is the anomaly-detection personality: it maintains rolling
// per-user baselines across calls and scores deviation from them.
type Watchdog struct {
	mu        sync.Mutex
	baselines map[string]*baseline
}

// NewWatchdog returns a Watchdog with empty per-user baselines.
func NewWatchdog() *Watchdog {
	return &Watchdog{baselines: make(map[string]*baseline)}
}

func (w *Watchdog) baselineFor(userID string) *baseline {
	w.mu.Lock()
	defer w.mu.Unlock()
	b, ok := w.baselines[userID]
	if !ok {
		b = newBaseline()
		w.baselines[userID] = b
	}
	return b
}

func (Watchdog) Type() types.AgentType { return types.Watchdog }

func (Watchdog) Initialize(s *state) {
	s.confidenceFloor = types.ConfidenceMedium
	s.confidence = floorValue(s.confidenceFloor)
	s.note("watchdog: initialized, confidence floor medium")
}

func (Watchdog) Analyze(s *state, in Input) {
	if in.DeviceVerified {
		s.accessFactors = append(s.accessFactors, "device verified")
	} else {
		s.riskFactors = append(s.riskFactors, "device not verified")
	}
	if in.TimestampVerified {
		s.accessFactors = append(s.accessFactors, "timestamp verified")
	} else {
		s.riskFactors = append(s.riskFactors, "timestamp not verified")
	}
	if in.LocationVerified {
		s.accessFactors = append(s.accessFactors, "location verified")
	} else {
		s.riskFactors = append(s.riskFactors, "location not verified")
	}
	if in.PatternVerified {
		s.accessFactors = append(s.accessFactors, "pattern verified")
	} else {
		s.riskFactors = append(s.riskFactors, "pattern not verified")
	}
}

func (Watchdog) EvaluateTrust(s *state, in Input) {
	s.trustNormalized = in.TrustScore / 100
}

// Extend runs collect_baseline, detect_anomalies, analyze_behavior,
// assess_threats, pattern_analysis and security_correlation.
func (w *Watchdog) Extend(s *state, in Input) {
	b := w.baselineFor(in.UserID)

	var anomaly float64
	var alerts []string

	if in.KeystrokesPerMinute > 500 || (in.KeystrokesPerMinute > 0 && in.KeystrokesPerMinute < 1) {
		alerts = append(alerts, "Bot-like behavior detected")
		anomaly += 0.5
	} else if len(b.typingSpeeds) >= 2 && in.KeystrokesPerMinute > 0 {
		m := meanOf(b.typingSpeeds)
		sd := stddevOf(b.typingSpeeds, m)
		if sd > 0 {
			z := math.Abs(in.KeystrokesPerMinute-m) / sd
			if z > 2.5 {
				anomaly += 0.3
				alerts = append(alerts, "typing speed far outside baseline")
			} else if z > 1.5 {
				anomaly += 0.1
			}
		}
	}

	if len(b.sessionDurations) >= 2 && in.SessionDurationSeconds > 0 {
		m := meanOf(b.sessionDurations)
		if m > 0 {
			ratio := in.SessionDurationSeconds / m
			if ratio < 0.10 {
				anomaly += 0.4
				alerts = append(alerts, "session duration anomalously short")
			} else if ratio > 5.0 {
				anomaly += 0.2
				alerts = append(alerts, "session duration anomalously long")
			}
		}
	}

	if len(b.frequencies) >= 2 && in.AccessFrequencyRatio > 0 {
		max := maxOf(b.frequencies)
		if max > 0 {
			if in.AccessFrequencyRatio > 3*max {
				anomaly += 0.5
				alerts = append(alerts, "access frequency far exceeds historical maximum")
			} else if in.AccessFrequencyRatio > 2*max {
				anomaly += 0.2
			}
		}
	}

	if len(b.knownHours) >= watchdogMinKnownHours && !b.knownHours[in.AccessHour] {
		anomaly += 0.3
		alerts = append(alerts, "access hour outside observed pattern")
	}

	patternDeviation := 0.0
	if len(b.typingSpeeds) >= 2 {
		m := meanOf(b.typingSpeeds)
		if m > 0 {
			patternDeviation = clamp01(math.Abs(in.KeystrokesPerMinute-m) / m)
		}
	}

	threatLevel := "none"
	switch {
	case anomaly >= 0.7 || len(alerts) >= 3:
		threatLevel = "critical"
	case anomaly >= 0.3:
		threatLevel = "elevated"
	}

	s.extras["anomaly_score"] = clamp01(anomaly)
	s.extras["pattern_deviation"] = patternDeviation
	s.extras["alerts"] = alerts
	s.extras["threat_level"] = threatLevel
	for _, a := range alerts {
		s.riskFactors = append(s.riskFactors, a)
	}

	b.typingSpeeds = appendBounded(b.typingSpeeds, in.KeystrokesPerMinute, watchdogBaselineCap)
	b.sessionDurations = appendBounded(b.sessionDurations, in.SessionDurationSeconds, watchdogBaselineCap)
	b.frequencies = appendBounded(b.frequencies, in.AccessFrequencyRatio, watchdogBaselineCap)
	if in.AccessHour >= 0 && in.AccessHour <= 23 {
		b.knownHours[in.AccessHour] = true
	}

	s.note("watchdog: baseline updated, anomaly scored")
}

func (Watchdog) Decide(s *state, in Input) {
	anomaly := s.extras["anomaly_score"].(float64)
	patternDev := s.extras["pattern_deviation"].(float64)
	alerts, _ := s.extras["alerts"].([]string)
	threatLevel, _ := s.extras["threat_level"].(string)

	if threatLevel == "critical" || anomaly >= 0.7 || len(alerts) >= 3 {
		s.outcome = types.Deny
		s.confidence = clamp01(s.confidence + 0.25)
		s.note("watchdog: hard override denied access")
		return
	}

	score := s.trustNormalized - anomaly - 0.10*patternDev - 0.15*float64(len(alerts))
	s.score = score

	switch {
	case score >= watchdogAllowThreshold:
		s.outcome = types.Allow
	case score <= watchdogDenyThreshold:
		s.outcome = types.Deny
	default:
		s.outcome = types.AllowWithMonitoring
		s.note("watchdog: borderline score resolved to allow with enhanced monitoring")
	}
}

var _ Personality = (*Watchdog)(nil)
