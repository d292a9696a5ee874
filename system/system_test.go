// Copyright (C) 2025, ReliQuary Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package system

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/swayam8624/reliquary/collab"
	"github.com/swayam8624/reliquary/contextverify"
	"github.com/swayam8624/reliquary/trust"
	"github.com/swayam8624/reliquary/types"
)

func testHarness(t *testing.T) *System {
	t.Helper()
	cfg := DefaultConfig()
	cfg.TrustProfileDir = t.TempDir()
	cfg.Pool.Types[types.Neutral] = cfg.Pool.Types[types.Neutral]
	cfg.Pool.HealthCheckInterval = time.Hour
	cfg.MonitoringInterval = time.Hour
	cfg.Registerer = nil

	sys, err := New(cfg, Collaborators{ZKRunner: collab.NoOpZKRunner{}})
	require.NoError(t, err)
	t.Cleanup(func() { sys.Shutdown(context.Background()) })
	return sys
}

func TestNew_StartsReadyPoolAndClustering(t *testing.T) {
	sys := testHarness(t)
	require.Greater(t, sys.Pool.Count(types.Neutral), 0)
	require.NotEmpty(t, sys.Consensus.Coordinators())
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Cluster.Max = 1
	cfg.Cluster.Min = 5
	_, err := New(cfg, Collaborators{})
	require.Error(t, err)
}

func TestRequestAccess_EmptyUserIDRejected(t *testing.T) {
	sys := testHarness(t)
	_, err := sys.RequestAccess(context.Background(), Request{RequestID: "r1"})
	require.Error(t, err)
}

func TestRequestAccess_FullRoundTrip(t *testing.T) {
	sys := testHarness(t)

	req := Request{
		RequestID: "r1",
		UserID:    "user-1",
		Timeout:   time.Second,
		TrustContext: trust.Context{
			DeviceVerified: true, TimestampVerified: true, LocationVerified: true, PatternVerified: true,
			DeviceFingerprint: "fp-1", BusinessHours: true, IPConsistent: true,
		},
		VerifyRequest: contextverify.Request{
			UserID:            "user-1",
			DeviceFingerprint: "fp-1",
			ChallengeNonce:    "nonce-1",
			DeviceContext:     map[string]any{"fp": "fp-1"},
			Required:          types.FactorDevice,
			Level:             types.VerificationBasic,
		},
		MinimumConsensus: 0.5,
	}

	resp, err := sys.RequestAccess(context.Background(), req)
	require.NoError(t, err)
	require.NotEmpty(t, resp.Trust.RiskLevel)
	require.True(t, resp.Verify.DeviceVerified)
	require.NotEmpty(t, resp.Consensus.FinalDecision)
}

func TestPoolStatsAdapter_ReflectsDispatchActivity(t *testing.T) {
	sys := testHarness(t)
	adapter := poolStatsAdapter{p: sys.Pool}
	require.GreaterOrEqual(t, adapter.PendingDecisions(), sys.Pool.Count(types.Neutral))
	require.Equal(t, 0, adapter.ActiveAgents())
}
