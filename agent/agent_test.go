// Copyright (C) 2025, ReliQuary Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package agent

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/swayam8624/reliquary/types"
)

func TestNeutral_S1HappyPath(t *testing.T) {
	wf := New("agent-neutral-1", Neutral{})
	d := wf.Run(Input{
		RequestID: "r1", UserID: "u1",
		TrustScore: 85,
		DeviceVerified: true, TimestampVerified: true, LocationVerified: true, PatternVerified: true,
		AccessFrequencyRatio: 3, SessionDurationSeconds: 1800, KeystrokesPerMinute: 65,
		Now: time.Now(),
	})
	require.Equal(t, types.Allow, d.Outcome)
	require.Contains(t, []types.ConfidenceLevel{types.ConfidenceMedium, types.ConfidenceHigh}, d.ConfidenceLevel())
	require.Empty(t, d.RiskFactors)
}

func TestStrict_S2HardGate(t *testing.T) {
	wf := New("agent-strict-1", Strict{})
	d := wf.Run(Input{
		RequestID: "r2", UserID: "u2",
		TrustScore: 55,
		DeviceVerified: true, TimestampVerified: true, LocationVerified: true, PatternVerified: true,
		Now: time.Now(),
	})
	require.Equal(t, types.Deny, d.Outcome)
	violations, _ := d.Extras["security_violations"].([]string)
	require.Contains(t, violations, "trust below minimum")
}

func TestPermissive_S3Monitoring(t *testing.T) {
	wf := New("agent-permissive-1", Permissive{})
	d := wf.Run(Input{
		RequestID: "r3", UserID: "u3",
		TrustScore: 45,
		DeviceVerified: true, TimestampVerified: true, LocationVerified: false, PatternVerified: false,
		Now: time.Now(),
	})
	require.Equal(t, types.Allow, d.Outcome)
	flex, ok := d.Extras["flexibility_applied"].([]string)
	require.True(t, ok)
	require.NotEmpty(t, flex)

	found := false
	for _, line := range d.ReasoningChain {
		if strings.Contains(line, "enhanced monitoring") {
			found = true
		}
	}
	require.True(t, found, "expected a reasoning line mentioning enhanced monitoring, got %v", d.ReasoningChain)
}

func TestWatchdog_S4BotDetection(t *testing.T) {
	wf := New("agent-watchdog-1", NewWatchdog())
	d := wf.Run(Input{
		RequestID: "r4", UserID: "u4",
		TrustScore:          50,
		KeystrokesPerMinute: 600,
		Now:                 time.Now(),
	})
	require.Equal(t, types.Deny, d.Outcome)
	require.Contains(t, d.RiskFactors, "Bot-like behavior detected")
	anomaly, _ := d.Extras["anomaly_score"].(float64)
	require.GreaterOrEqual(t, anomaly, 0.3)
}

func TestWatchdog_BaselineAccumulatesAcrossCalls(t *testing.T) {
	wd := NewWatchdog()
	wf := New("agent-watchdog-2", wd)

	for i := 0; i < 5; i++ {
		wf.Run(Input{UserID: "u5", TrustScore: 90, KeystrokesPerMinute: 60, SessionDurationSeconds: 600, AccessHour: 9, Now: time.Now()})
	}
	d := wf.Run(Input{UserID: "u5", TrustScore: 90, KeystrokesPerMinute: 60, SessionDurationSeconds: 600, AccessHour: 9, Now: time.Now()})
	require.Equal(t, types.Allow, d.Outcome)
}

func TestWorkflow_PanicRecoversToFailureDecision(t *testing.T) {
	wf := New("agent-panic", panicPersonality{})
	d := wf.Run(Input{Now: time.Now()})
	require.Equal(t, types.Deny, d.Outcome)
}

type panicPersonality struct{}

func (panicPersonality) Type() types.AgentType       { return types.Strict }
func (panicPersonality) Initialize(s *state)         {}
func (panicPersonality) Analyze(s *state, in Input)  {}
func (panicPersonality) EvaluateTrust(*state, Input) {}
func (panicPersonality) Extend(*state, Input)        {}
func (panicPersonality) Decide(*state, Input)        { panic("boom") }

func TestAllPersonalities_NeverPanicOutward(t *testing.T) {
	personalities := []Personality{Neutral{}, Permissive{}, Strict{}, NewWatchdog()}
	for _, p := range personalities {
		wf := New("agent-x", p)
		require.NotPanics(t, func() {
			wf.Run(Input{Now: time.Now()})
		})
	}
}
