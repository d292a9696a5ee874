// Copyright (C) 2025, ReliQuary Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package agent

import "github.com/swayam8624/reliquary/types"

const (
	permissiveAllowThreshold = 0.40
	permissiveDenyThreshold  = 0.20
	permissiveCriticalGate   = 0.80
)

// Permissive favors access, applying flexibility when partial
// verification still looks legitimate, with a hard critical-risk gate.
type Permissive struct{}

func (Permissive) Type() types.AgentType { return types.Permissive }

func (Permissive) Initialize(s *state) {
	s.confidenceFloor = types.ConfidenceMedium
	s.confidence = floorValue(s.confidenceFloor)
	s.note("permissive: initialized, confidence floor medium")
}

func (Permissive) Analyze(s *state, in Input) {
	if in.DeviceVerified {
		s.accessFactors = append(s.accessFactors, "device verified")
	} else {
		s.accessFactors = append(s.accessFactors, "device unverified, usability note")
	}
	if in.TimestampVerified {
		s.accessFactors = append(s.accessFactors, "timestamp verified")
	} else {
		s.accessFactors = append(s.accessFactors, "timestamp unverified, usability note")
	}
	if in.LocationVerified {
		s.accessFactors = append(s.accessFactors, "location verified")
	} else {
		s.accessFactors = append(s.accessFactors, "location unverified, usability note")
	}
	if in.PatternVerified {
		s.accessFactors = append(s.accessFactors, "pattern verified")
	} else {
		s.accessFactors = append(s.accessFactors, "pattern unverified, usability note")
	}
}

func (Permissive) EvaluateTrust(s *state, in Input) {
	s.trustNormalized = in.TrustScore / 100
	if in.TrustScore >= 60 {
		s.confidence = floorValue(types.ConfidenceHigh)
	} else {
		s.confidence = floorValue(types.ConfidenceMedium)
	}
}

// Extend runs assess_usability, apply_flexibility and
// check_critical_risks.
func (Permissive) Extend(s *state, in Input) {
	failed := 4 - in.verificationsPassed()
	passed := in.verificationsPassed()

	ux := clamp01(0.5 + 0.1*float64(passed)/4 - 0.1*float64(failed)/4)
	s.extras["ux_score"] = ux * 100

	flex := 0.0
	if failed >= 1 && failed <= 2 {
		flex = 0.3
		s.extras["flexibility_applied"] = []string{"partial verification tolerated for known-pattern access"}
		s.note("permissive: flexibility applied for partial verification")
	}
	s.extras["flexibility_score"] = flex

	critical := false
	if in.AccessFrequencyRatio > 10 {
		critical = true
		s.riskFactors = append(s.riskFactors, "access frequency indicates automated abuse")
	}
	s.extras["critical_risk"] = critical

	if failed > 0 && !critical {
		s.note("permissive: enhanced monitoring recommended given partial verification")
	}
}

func (p Permissive) Decide(s *state, in Input) {
	failed := 4 - in.verificationsPassed()
	passed := in.verificationsPassed()
	a := float64(passed) / 4
	r := float64(failed) / 4
	ux := s.extras["ux_score"].(float64) / 100
	flex := s.extras["flexibility_score"].(float64)
	critical := s.extras["critical_risk"].(bool)

	score := s.trustNormalized + 0.15*a + 0.20*ux + 0.10*flex - 0.05*r
	s.score = score

	switch {
	case critical && score < permissiveCriticalGate:
		s.outcome = types.Deny
		s.note("permissive: critical risk gate denied access")
	case score > permissiveAllowThreshold:
		s.outcome = types.Allow
	case score < permissiveDenyThreshold:
		s.outcome = types.Deny
	default:
		s.outcome = types.AllowWithMonitoring
		s.note("permissive: tie zone resolved to allow with monitoring")
	}
}

var _ Personality = Permissive{}
