// Copyright (C) 2025, ReliQuary Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package agent implements the Agent Decision Workflow (C3): a single
// finite pipeline — initialize, analyze, evaluate trust, a
// personality-specific extension stage, decide, finalize — run by
// every pooled agent. Personality changes interpretation weight and
// extension stages only; the pipeline shape never branches.
package agent

import (
	"time"

	"github.com/swayam8624/reliquary/types"
)

// Input is the request-scoped evidence one decision is made from.
// TrustScore is the raw 0-100 TrustEvaluation.OverallScore; personality
// formulas normalize it internally.
type Input struct {
	RequestID string
	UserID    string

	TrustScore float64

	DeviceVerified    bool
	TimestampVerified bool
	LocationVerified  bool
	PatternVerified   bool

	AccessFrequencyRatio   float64
	SessionDurationSeconds float64
	KeystrokesPerMinute    float64
	AccessHour             int

	Now time.Time
}

func (in Input) verificationsPassed() int {
	count := 0
	for _, v := range []bool{in.DeviceVerified, in.TimestampVerified, in.LocationVerified, in.PatternVerified} {
		if v {
			count++
		}
	}
	return count
}

// Decision is every personality's uniform output shape (spec §4.3's
// "Output" paragraph).
type Decision struct {
	AgentID   string
	AgentType types.AgentType

	Outcome    types.DecisionOutcome
	Confidence float64 // 0..1

	ReasoningChain []string
	AccessFactors  []string
	RiskFactors    []string
	Extras         map[string]any

	Timestamp time.Time
}

// ConfidenceLevel buckets Decision.Confidence the way S1's "confidence
// ≥ Medium" assertion reads.
func (d Decision) ConfidenceLevel() types.ConfidenceLevel {
	switch {
	case d.Confidence >= 0.7:
		return types.ConfidenceHigh
	case d.Confidence >= 0.4:
		return types.ConfidenceMedium
	default:
		return types.ConfidenceLow
	}
}

// state is the per-decision scratch object (spec §3's
// AgentDecisionState), discarded once Run returns a Decision.
type state struct {
	confidenceFloor types.ConfidenceLevel
	confidence      float64
	reasoningChain  []string
	accessFactors   []string
	riskFactors     []string
	extras          map[string]any

	trustNormalized float64 // TrustScore / 100, in [0,1]

	score   float64
	outcome types.DecisionOutcome
}

// floorValue returns the numeric confidence a ConfidenceLevel floor
// corresponds to, used to seed state.confidence in Initialize.
func floorValue(level types.ConfidenceLevel) float64 {
	switch level {
	case types.ConfidenceHigh:
		return 0.8
	case types.ConfidenceMedium:
		return 0.55
	default:
		return 0.3
	}
}

func newState() *state {
	return &state{extras: make(map[string]any)}
}

func (s *state) note(line string) { s.reasoningChain = append(s.reasoningChain, line) }

// Personality implements the per-stage tables spec §4.3 names for one
// agent type. Initialize/Analyze/EvaluateTrust are common shape, only
// their thresholds/phrasing differ; Extend and Decide are where the
// four personalities diverge structurally.
type Personality interface {
	Type() types.AgentType
	Initialize(s *state)
	Analyze(s *state, in Input)
	EvaluateTrust(s *state, in Input)
	Extend(s *state, in Input)
	Decide(s *state, in Input)
}

// Workflow runs one personality's pipeline for one agent instance.
type Workflow struct {
	AgentID     string
	Personality Personality
}

// New builds a workflow bound to agentID running p.
func New(agentID string, p Personality) *Workflow {
	return &Workflow{AgentID: agentID, Personality: p}
}

// Run executes the six-stage pipeline and never panics outward: any
// recovered failure collapses into the personality's default failure
// stance (spec §4.3's "Output ... On exception" clause).
func (w *Workflow) Run(in Input) (result Decision) {
	defer func() {
		if r := recover(); r != nil {
			result = w.failureDecision(in)
		}
	}()

	s := newState()
	w.Personality.Initialize(s)
	w.Personality.Analyze(s, in)
	w.Personality.EvaluateTrust(s, in)
	w.Personality.Extend(s, in)
	w.Personality.Decide(s, in)

	s.note("finalize: decision " + string(s.outcome))

	return Decision{
		AgentID:        w.AgentID,
		AgentType:      w.Personality.Type(),
		Outcome:        s.outcome,
		Confidence:     clamp01(s.confidence),
		ReasoningChain: s.reasoningChain,
		AccessFactors:  s.accessFactors,
		RiskFactors:    s.riskFactors,
		Extras:         s.extras,
		Timestamp:      in.Now,
	}
}

// failureDecision is Strict/Watchdog's high-confidence DENY, or
// Neutral/Permissive's very-low-confidence DENY, per personality.
func (w *Workflow) failureDecision(in Input) Decision {
	confidence := 0.05
	switch w.Personality.Type() {
	case types.Strict, types.Watchdog:
		confidence = 0.9
	}
	return Decision{
		AgentID:        w.AgentID,
		AgentType:      w.Personality.Type(),
		Outcome:        types.Deny,
		Confidence:     confidence,
		ReasoningChain: []string{"decision workflow failed, defaulting to deny"},
		Timestamp:      in.Now,
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
