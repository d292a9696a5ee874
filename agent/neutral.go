// Copyright (C) 2025, ReliQuary Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package agent

import "github.com/swayam8624/reliquary/types"

// neutralFrequencyLow/High and the session bounds gate Neutral's
// assess_risk stage: only genuinely extreme values count as risk,
// ordinary variation (e.g. a 3x access-frequency ratio) does not.
const (
	neutralFrequencyHigh = 5.0
	neutralFrequencyLow  = 0.1
	neutralSessionMinSec = 60.0
	neutralSessionMaxSec = 14400.0

	neutralAllowThreshold = 0.60
	neutralDenyThreshold  = 0.40
)

// Neutral balances access and risk evenly; a tie goes to DENY.
type Neutral struct{}

func (Neutral) Type() types.AgentType { return types.Neutral }

func (Neutral) Initialize(s *state) {
	s.confidenceFloor = types.ConfidenceMedium
	s.confidence = floorValue(s.confidenceFloor)
	s.note("neutral: initialized, confidence floor medium")
}

func (Neutral) Analyze(s *state, in Input) {
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

func (Neutral) EvaluateTrust(s *state, in Input) {
	s.trustNormalized = in.TrustScore / 100
	if in.TrustScore >= 75 {
		s.confidence = floorValue(types.ConfidenceHigh)
	} else if in.TrustScore >= 50 {
		s.confidence = floorValue(types.ConfidenceMedium)
	} else {
		s.confidence = floorValue(types.ConfidenceLow)
	}
	s.note("neutral: trust bucketed")
}

// Extend runs assess_risk and check_compliance.
func (Neutral) Extend(s *state, in Input) {
	if in.AccessFrequencyRatio > neutralFrequencyHigh || (in.AccessFrequencyRatio > 0 && in.AccessFrequencyRatio < neutralFrequencyLow) {
		s.riskFactors = append(s.riskFactors, "access frequency far outside baseline")
	}
	if in.SessionDurationSeconds > 0 && (in.SessionDurationSeconds < neutralSessionMinSec || in.SessionDurationSeconds > neutralSessionMaxSec) {
		s.riskFactors = append(s.riskFactors, "session duration outside expected range")
	}
	s.note("neutral: assessed risk and compliance")
}

func (n Neutral) Decide(s *state, in Input) {
	failed := 4 - in.verificationsPassed()
	a := float64(in.verificationsPassed()) / 4
	extraRisks := len(s.riskFactors) - failed // risks beyond failed verifications, e.g. frequency/session anomalies
	r := clamp01(float64(failed)/4 + 0.25*float64(extraRisks))
	score := s.trustNormalized + 0.10*a - 0.08*r
	s.score = score

	switch {
	case score > neutralAllowThreshold:
		s.outcome = types.Allow
	case score < neutralDenyThreshold:
		s.outcome = types.Deny
	default:
		s.outcome = types.Deny // tie zone -> DENY
		s.note("neutral: tie zone resolved to deny")
	}
	if len(s.riskFactors) == 0 && s.outcome == types.Allow {
		s.confidence = clamp01(s.confidence + 0.1)
	}
	s.note("neutral: decision formula produced score")
}

var _ Personality = Neutral{}
