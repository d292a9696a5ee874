// Copyright (C) 2025, ReliQuary Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package consensus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/swayam8624/reliquary/agent"
	"github.com/swayam8624/reliquary/pool"
	"github.com/swayam8624/reliquary/types"
	"github.com/swayam8624/reliquary/utils/set"
)

func memberSet(n int) set.Set[string] {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = "m" + itoa(i)
	}
	return set.Of(ids...)
}

func newTestPool(t *testing.T, count int) *pool.Pool {
	t.Helper()
	cfg := pool.DefaultConfig()
	cfg.Types[types.Neutral] = pool.TypeConfig{Min: 1, Target: count, Max: count + 5}
	cfg.HealthCheckInterval = time.Hour
	p, err := pool.New(cfg, nil, nil, nil)
	require.NoError(t, err)
	require.NoError(t, p.InitializePool(context.Background()))
	t.Cleanup(func() { p.Shutdown(context.Background()) })
	return p
}

func TestInitializeClustering_Bounds(t *testing.T) {
	p := newTestPool(t, 36)
	e := New(DefaultClusterConfig(), p, nil, nil, nil)
	require.NoError(t, e.InitializeClustering(p.AgentIDs(types.Neutral)))

	e.mu.RLock()
	defer e.mu.RUnlock()
	total := 0
	for _, c := range e.clusters {
		require.GreaterOrEqual(t, c.Members.Len(), e.cfg.Min)
		require.LessOrEqual(t, c.Members.Len(), e.cfg.Max)
		require.True(t, c.Members.Contains(c.LeaderID))
		total += c.Members.Len()
	}
	require.Equal(t, 36, total)
}

func TestInitializeClustering_AssignmentExclusivity(t *testing.T) {
	p := newTestPool(t, 25)
	e := New(DefaultClusterConfig(), p, nil, nil, nil)
	ids := p.AgentIDs(types.Neutral)
	require.NoError(t, e.InitializeClustering(ids))

	seen := make(map[string]int)
	e.mu.RLock()
	for cid, c := range e.clusters {
		for _, m := range c.Members.List() {
			seen[m]++
			require.Equal(t, cid, e.agentCluster[m])
		}
	}
	e.mu.RUnlock()
	require.Len(t, seen, len(ids))
	for _, count := range seen {
		require.Equal(t, 1, count)
	}
}

func TestInterPhase_WeightedAggregation_S5(t *testing.T) {
	p := newTestPool(t, 3)
	e := New(DefaultClusterConfig(), p, nil, nil, nil)
	e.clusters = map[string]*Cluster{
		"c1": {ClusterID: "c1", Members: memberSet(12)},
		"c2": {ClusterID: "c2", Members: memberSet(12)},
		"c3": {ClusterID: "c3", Members: memberSet(12)},
	}
	decisions := map[string]ClusterDecision{
		"c1": {ClusterID: "c1", Decision: types.Allow, Confidence: 0.75},
		"c2": {ClusterID: "c2", Decision: types.Allow, Confidence: 0.60},
		"c3": {ClusterID: "c3", Decision: types.Deny, Confidence: 0.90},
	}
	winner, confidence, totalWeight := e.interPhase(decisions)
	require.Equal(t, types.Allow, winner)
	require.InDelta(t, 0.45, confidence, 0.001)
	require.Equal(t, 36.0, totalWeight)
	require.Less(t, confidence, 0.6, "below minimum_consensus should read INSUFFICIENT_CONSENSUS upstream")
}

func TestConsensusRoundTrip_AllAllowUnanimous(t *testing.T) {
	p := newTestPool(t, 4)
	e := New(DefaultClusterConfig(), p, nil, nil, nil)
	require.NoError(t, e.InitializeClustering(p.AgentIDs(types.Neutral)))

	req := ConsensusRequest{
		RequestID: "req-1", Timeout: time.Second, MinimumConsensus: 0.5, CreatedAt: time.Now(),
	}
	in := agent.Input{
		RequestID: "req-1", UserID: "user-1", TrustScore: 95,
		DeviceVerified: true, TimestampVerified: true, LocationVerified: true, PatternVerified: true,
		Now: time.Now(),
	}
	result := e.ExecuteHierarchicalConsensus(context.Background(), req, in)
	require.True(t, result.ConsensusReached)
	require.Equal(t, types.Allow, result.FinalDecision)
	require.Equal(t, 1.0, result.GlobalConfidence)
}

func TestMinimumConsensusLaw(t *testing.T) {
	final, reached := decideGlobal(types.Allow, 0.45, 0.6)
	require.False(t, reached)
	require.Equal(t, types.InsufficientConsensus, final)

	final, reached = decideGlobal(types.Allow, 0.75, 0.6)
	require.True(t, reached)
	require.Equal(t, types.Allow, final)
}

func TestPartitionDetection(t *testing.T) {
	p := newTestPool(t, 4)
	e := New(DefaultClusterConfig(), p, nil, nil, nil)
	targets := []*Cluster{
		{ClusterID: "c1"}, {ClusterID: "c2"}, {ClusterID: "c3"}, {ClusterID: "c4"}, {ClusterID: "c5"},
	}
	decisions := map[string]ClusterDecision{
		"c1": {ClusterID: "c1", Decision: types.Allow},
	}
	info := e.finalize(targets, decisions)
	require.Equal(t, types.PartitionPartitioned, info.Status)
	require.Less(t, info.ParticipationRatio, 0.6)
}

func TestHandleAgentFailure_LeaderContinuity(t *testing.T) {
	p := newTestPool(t, 8)
	e := New(DefaultClusterConfig(), p, nil, nil, nil)
	require.NoError(t, e.InitializeClustering(p.AgentIDs(types.Neutral)))

	e.mu.RLock()
	var targetCluster string
	var leader string
	for id, c := range e.clusters {
		targetCluster = id
		leader = c.LeaderID
		break
	}
	e.mu.RUnlock()

	e.HandleAgentFailure(leader)

	e.mu.RLock()
	newLeader := e.clusters[targetCluster].LeaderID
	e.mu.RUnlock()
	require.NotEqual(t, leader, newLeader)
	require.NotEmpty(t, newLeader)
}
