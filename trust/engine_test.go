// Copyright (C) 2025, ReliQuary Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package trust

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/swayam8624/reliquary/collab"
	"github.com/swayam8624/reliquary/types"
)

func f(v float64) *float64 { return &v }

// panickingStore simulates an internal collaborator failure so severe
// it panics instead of returning an error.
type panickingStore struct{}

func (panickingStore) Load(context.Context, string) (*UserTrustProfile, bool, error) {
	panic("profile store unavailable")
}
func (panickingStore) Save(context.Context, *UserTrustProfile) error { return nil }
func (panickingStore) Delete(context.Context, string) error          { return nil }

func newTestEngine(t *testing.T) (*Engine, ProfileStore) {
	t.Helper()
	store := NewFileProfileStore(t.TempDir())
	return New(store, collab.NewRingAuditWriter(0), nil, nil), store
}

func TestEvaluate_EmptyUserIDRejected(t *testing.T) {
	engine, _ := newTestEngine(t)
	_, err := engine.Evaluate(context.Background(), "", Context{})
	require.Error(t, err)
	require.Equal(t, collab.KindConfiguration, collab.KindOf(err))
}

func TestEvaluate_BoundsAndPersistence(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()

	eval, err := engine.Evaluate(ctx, "user-1", Context{
		DeviceVerified:    true,
		TimestampVerified: true,
		LocationVerified:  true,
		PatternVerified:   true,
		DeviceFingerprint: "device-a",
		Lat:               f(37.0), Lon: f(-122.0),
		BusinessHours: true,
		IPConsistent:  true,
	})
	require.NoError(t, err)
	require.GreaterOrEqual(t, eval.OverallScore, 0.0)
	require.LessOrEqual(t, eval.OverallScore, 100.0)
	require.NotEmpty(t, eval.RiskLevel)

	profile, ok, err := store.Load(ctx, "user-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 1, profile.TotalEvaluations)
	require.Equal(t, 1, profile.TrustHistory.Len())
}

func TestEvaluate_UnverifiedFactorsScoreZeroOnThatMetric(t *testing.T) {
	engine, _ := newTestEngine(t)
	eval, err := engine.Evaluate(context.Background(), "user-2", Context{})
	require.NoError(t, err)
	require.Equal(t, 0.0, eval.Metrics.DeviceConsistency)
	require.Equal(t, 0.0, eval.Metrics.TemporalPatterns)
	require.Equal(t, 0.0, eval.Metrics.GeographicConsistency)
	require.Equal(t, 0.0, eval.Metrics.BehavioralPatterns)
}

func TestEvaluate_RiskLevelMonotonicWithScore(t *testing.T) {
	require.True(t, riskLevelFor(30).Worse(riskLevelFor(80)))
	require.False(t, riskLevelFor(95).Worse(riskLevelFor(95)))
	require.Equal(t, riskLevelFor(90), riskLevelFor(99))
}

func TestEvaluate_TrustHistoryBounded(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()

	for i := 0; i < maxTrustHistory+20; i++ {
		_, err := engine.Evaluate(ctx, "user-3", Context{
			DeviceVerified: true, TimestampVerified: true,
			LocationVerified: true, PatternVerified: true,
			DeviceFingerprint: "device-a",
		})
		require.NoError(t, err)
	}
	profile, ok, err := store.Load(ctx, "user-3")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, maxTrustHistory, profile.TrustHistory.Len())
	require.Equal(t, maxTrustHistory+20, profile.TotalEvaluations)
}

func TestEvaluate_KnownDeviceRaisesDeviceConsistency(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	first, err := engine.Evaluate(ctx, "user-4", Context{
		DeviceVerified: true, DeviceFingerprint: "device-x",
	})
	require.NoError(t, err)

	second, err := engine.Evaluate(ctx, "user-4", Context{
		DeviceVerified: true, DeviceFingerprint: "device-x",
	})
	require.NoError(t, err)
	require.Greater(t, second.Metrics.DeviceConsistency, first.Metrics.DeviceConsistency)
}

func TestEvaluate_HighRiskAppendsRiskEvent(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()

	_, err := engine.Evaluate(ctx, "user-5", Context{})
	require.NoError(t, err)

	profile, ok, err := store.Load(ctx, "user-5")
	require.NoError(t, err)
	require.True(t, ok)
	require.NotEmpty(t, profile.RiskEvents)
}

func TestAdaptiveThresholds_ShiftNonNegative(t *testing.T) {
	th := adaptiveThresholds(40)
	require.Equal(t, 90.0, th["very_low"])
	require.Equal(t, 0.0, th["very_high"])

	th2 := adaptiveThresholds(95)
	require.Greater(t, th2["very_low"], 90.0)
}

func TestEvaluate_RecoversPanicIntoFailureEvaluation(t *testing.T) {
	engine := New(panickingStore{}, nil, nil, nil)
	eval, err := engine.Evaluate(context.Background(), "user-panic", Context{DeviceVerified: true})
	require.NoError(t, err)
	require.Equal(t, "user-panic", eval.UserID)
	require.Equal(t, 0.0, eval.OverallScore)
	require.Equal(t, 0.0, eval.Confidence)
	require.Equal(t, types.RiskVeryHigh, eval.RiskLevel)
	require.Equal(t, []string{"system error"}, eval.Recommendations)
}

func TestConfidenceFor_ClampedToRange(t *testing.T) {
	c := confidenceFor(1000, 0)
	require.LessOrEqual(t, c, 100.0)
	require.GreaterOrEqual(t, c, 0.0)
}
