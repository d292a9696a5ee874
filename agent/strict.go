// Copyright (C) 2025, ReliQuary Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package agent

import "github.com/swayam8624/reliquary/types"

const (
	strictAllowThreshold  = 0.80
	strictDenyThreshold   = 0.60
	strictMinTrust        = 60.0
	strictMinVerifications = 3
)

// Strict is the security-first personality: mandatory gates block
// ALLOW outright before the weighted formula is even consulted.
type Strict struct{}

func (Strict) Type() types.AgentType { return types.Strict }

func (Strict) Initialize(s *state) {
	s.confidenceFloor = types.ConfidenceLow
	s.confidence = floorValue(s.confidenceFloor)
	s.extras["mandatory_requirements"] = []string{
		"trust_score >= 60",
		"at least 3 of 4 verifications passed",
		"device_verified present",
		"timestamp_verified present",
	}
	s.note("strict: initialized, mandatory requirements populated")
}

func (Strict) Analyze(s *state, in Input) {
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

func (Strict) EvaluateTrust(s *state, in Input) {
	s.trustNormalized = in.TrustScore / 100
	if in.TrustScore >= 85 {
		s.confidence = floorValue(types.ConfidenceHigh)
	} else if in.TrustScore >= 60 {
		s.confidence = floorValue(types.ConfidenceMedium)
	}
}

// Extend runs verify_requirements, assess_threats, check_compliance
// and security_audit.
func (Strict) Extend(s *state, in Input) {
	var violations []string

	if in.TrustScore < strictMinTrust {
		violations = append(violations, "trust below minimum")
	}
	if in.verificationsPassed() < strictMinVerifications {
		violations = append(violations, "insufficient verifications passed")
	}
	if !in.DeviceVerified {
		violations = append(violations, "device_verified required field missing")
	}
	if !in.TimestampVerified {
		violations = append(violations, "timestamp_verified required field missing")
	}

	threats := 0
	if in.AccessFrequencyRatio > 8 {
		threats++
		s.riskFactors = append(s.riskFactors, "access frequency threat indicator")
	}
	if in.KeystrokesPerMinute > 0 && (in.KeystrokesPerMinute > 400 || in.KeystrokesPerMinute < 5) {
		threats++
		s.riskFactors = append(s.riskFactors, "keystroke pattern threat indicator")
	}

	s.extras["security_violations"] = violations
	s.extras["threat_indicators"] = threats
	s.note("strict: verified requirements, assessed threats, audited compliance")
}

func (s2 Strict) Decide(s *state, in Input) {
	violations, _ := s.extras["security_violations"].([]string)
	threats, _ := s.extras["threat_indicators"].(int)

	if len(violations) > 0 || threats >= 2 || in.TrustScore < strictMinTrust {
		s.outcome = types.Deny
		s.confidence = clamp01(s.confidence + 0.2)
		s.note("strict: hard override denied access")
		return
	}

	passed := in.verificationsPassed()
	failed := 4 - passed
	sec := clamp01(1 - float64(threats)*0.3)
	compl := clamp01(1 - float64(len(violations))*0.25)
	a := float64(passed) / 4
	r := float64(failed)/4 + 0.25*float64(threats)

	score := 0.35*s.trustNormalized + 0.30*sec + 0.20*compl + 0.10*a - 0.10*r
	s.score = score

	switch {
	case score >= strictAllowThreshold:
		s.outcome = types.Allow
	case score <= strictDenyThreshold:
		s.outcome = types.Deny
	default:
		s.outcome = types.Deny
		s.note("strict: tie zone resolved to deny")
	}
}

var _ Personality = Strict{}
