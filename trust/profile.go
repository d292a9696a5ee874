// Copyright (C) 2025, ReliQuary Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package trust

import (
	"context"
	"time"
)

// boundedFloats is a FIFO-eviction bounded deque of float64, used for
// trust_history and several behavioral baselines (spec.md §3).
type boundedFloats struct {
	cap   int
	items []float64
}

func newBoundedFloats(cap int) *boundedFloats {
	return &boundedFloats{cap: cap}
}

func (b *boundedFloats) Append(v float64) {
	b.items = append(b.items, v)
	if over := len(b.items) - b.cap; over > 0 {
		b.items = b.items[over:]
	}
}

func (b *boundedFloats) Values() []float64 {
	out := make([]float64, len(b.items))
	copy(out, b.items)
	return out
}

func (b *boundedFloats) Len() int { return len(b.items) }

// boundedStrings is the FIFO-eviction bounded deque used for known
// devices / locations as opaque hash strings.
type boundedStrings struct {
	cap   int
	items []string
	seen  map[string]bool
}

func newBoundedStrings(cap int) *boundedStrings {
	return &boundedStrings{cap: cap, seen: make(map[string]bool)}
}

func (b *boundedStrings) Contains(v string) bool { return b.seen[v] }

func (b *boundedStrings) Append(v string) {
	if b.seen[v] {
		return
	}
	b.items = append(b.items, v)
	b.seen[v] = true
	if over := len(b.items) - b.cap; over > 0 {
		evicted := b.items[:over]
		for _, e := range evicted {
			delete(b.seen, e)
		}
		b.items = b.items[over:]
	}
}

func (b *boundedStrings) Values() []string {
	out := make([]string, len(b.items))
	copy(out, b.items)
	return out
}

// KnownLocation is a coarse lat/lon the user has previously accessed
// from, kept so geographic_consistency can measure distance to the
// nearest one (spec.md §4.1).
type KnownLocation struct {
	Lat, Lon float64
}

// RiskEvent records an elevated-risk evaluation for the trend used by
// risk_indicators (spec.md §4.1: "−10 per compliance event in last 7
// days" and the High/VeryHigh append rule).
type RiskEvent struct {
	Timestamp time.Time
	Level     string
	Score     float64
}

const (
	maxTrustHistory    = 100
	maxKnownDevices    = 10
	maxKnownLocations  = 20
	maxAccessIntervals = 50
	maxSessionDurations = 30
	maxTypingSpeeds    = 30
)

// UserTrustProfile is owned exclusively by the Trust Scoring Engine,
// keyed by user_id (spec.md §3).
type UserTrustProfile struct {
	UserID       string
	BaselineScore float64

	TrustHistory *boundedFloats

	KnownDevices   *boundedStrings
	KnownLocations []KnownLocation

	AccessIntervals  *boundedFloats // seconds between accesses
	SessionDurations *boundedFloats
	TypingSpeeds     *boundedFloats

	RiskEvents []RiskEvent

	TotalEvaluations     int
	ComplianceViolations int
	LastEvaluation       time.Time
}

// NewUserTrustProfile returns a fresh profile with all bounded
// collections initialized to spec.md §3's caps.
func NewUserTrustProfile(userID string) *UserTrustProfile {
	return &UserTrustProfile{
		UserID:           userID,
		TrustHistory:     newBoundedFloats(maxTrustHistory),
		KnownDevices:     newBoundedStrings(maxKnownDevices),
		AccessIntervals:  newBoundedFloats(maxAccessIntervals),
		SessionDurations: newBoundedFloats(maxSessionDurations),
		TypingSpeeds:     newBoundedFloats(maxTypingSpeeds),
	}
}

func (p *UserTrustProfile) addKnownLocation(loc KnownLocation) {
	p.KnownLocations = append(p.KnownLocations, loc)
	if over := len(p.KnownLocations) - maxKnownLocations; over > 0 {
		p.KnownLocations = p.KnownLocations[over:]
	}
}

// snapshot is the JSON-serializable shape of a profile (spec.md §6:
// "bounded deques serialized as arrays").
type snapshot struct {
	UserID               string          `json:"user_id"`
	BaselineScore        float64         `json:"baseline_score"`
	TrustHistory         []float64       `json:"trust_history"`
	KnownDevices         []string        `json:"known_devices"`
	KnownLocations       []KnownLocation `json:"known_locations"`
	AccessIntervals      []float64       `json:"access_intervals"`
	SessionDurations     []float64       `json:"session_durations"`
	TypingSpeeds         []float64       `json:"typing_speeds"`
	RiskEvents           []RiskEvent     `json:"risk_events"`
	TotalEvaluations     int             `json:"total_evaluations"`
	ComplianceViolations int             `json:"compliance_violations"`
	LastEvaluation       time.Time       `json:"last_evaluation"`
}

func (p *UserTrustProfile) toSnapshot() snapshot {
	s := snapshot{
		UserID:               p.UserID,
		BaselineScore:        p.BaselineScore,
		TrustHistory:         p.TrustHistory.Values(),
		KnownDevices:         p.KnownDevices.Values(),
		KnownLocations:       p.KnownLocations,
		AccessIntervals:      p.AccessIntervals.Values(),
		SessionDurations:     p.SessionDurations.Values(),
		TypingSpeeds:         p.TypingSpeeds.Values(),
		RiskEvents:           p.RiskEvents,
		TotalEvaluations:     p.TotalEvaluations,
		ComplianceViolations: p.ComplianceViolations,
		LastEvaluation:       p.LastEvaluation,
	}
	return s
}

func fromSnapshot(s snapshot) *UserTrustProfile {
	p := NewUserTrustProfile(s.UserID)
	p.BaselineScore = s.BaselineScore
	for _, v := range s.TrustHistory {
		p.TrustHistory.Append(v)
	}
	for _, v := range s.KnownDevices {
		p.KnownDevices.Append(v)
	}
	p.KnownLocations = s.KnownLocations
	for _, v := range s.AccessIntervals {
		p.AccessIntervals.Append(v)
	}
	for _, v := range s.SessionDurations {
		p.SessionDurations.Append(v)
	}
	for _, v := range s.TypingSpeeds {
		p.TypingSpeeds.Append(v)
	}
	p.RiskEvents = s.RiskEvents
	p.TotalEvaluations = s.TotalEvaluations
	p.ComplianceViolations = s.ComplianceViolations
	p.LastEvaluation = s.LastEvaluation
	return p
}

// ProfileStore is the trust-profile-store collaborator (spec.md §6.4):
// CRUD on UserTrustProfile keyed by user_id. The default is a per-user
// JSON file in a configured directory.
type ProfileStore interface {
	Load(ctx context.Context, userID string) (*UserTrustProfile, bool, error)
	Save(ctx context.Context, profile *UserTrustProfile) error
	Delete(ctx context.Context, userID string) error
}
