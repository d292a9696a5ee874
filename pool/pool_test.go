// Copyright (C) 2025, ReliQuary Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package pool

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/swayam8624/reliquary/agent"
	"github.com/swayam8624/reliquary/metrics"
	"github.com/swayam8624/reliquary/types"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Types[types.Neutral] = TypeConfig{Min: 1, Target: 2, Max: 5}
	cfg.HealthCheckInterval = time.Hour // keep background ticks from firing mid-test
	return cfg
}

func TestInitializePool_CreatesTargetCount(t *testing.T) {
	p, err := New(testConfig(), nil, nil, nil)
	require.NoError(t, err)
	require.NoError(t, p.InitializePool(context.Background()))
	defer p.Shutdown(context.Background())

	require.Equal(t, 2, p.Count(types.Neutral))
}

func TestGetAvailableAgent_MarksBusy(t *testing.T) {
	p, err := New(testConfig(), nil, nil, nil)
	require.NoError(t, err)
	require.NoError(t, p.InitializePool(context.Background()))
	defer p.Shutdown(context.Background())

	id, ok := p.GetAvailableAgent(types.Neutral)
	require.True(t, ok)
	require.NotEmpty(t, id)

	p.mu.RLock()
	status := p.agents[id].Status
	p.mu.RUnlock()
	require.Equal(t, types.StatusBusy, status)
}

func TestReleaseAgent_DecaysLoadAndTransitions(t *testing.T) {
	p, err := New(testConfig(), nil, nil, nil)
	require.NoError(t, err)
	require.NoError(t, p.InitializePool(context.Background()))
	defer p.Shutdown(context.Background())

	id, ok := p.GetAvailableAgent(types.Neutral)
	require.True(t, ok)

	p.ReleaseAgent(id, 100, true)
	p.mu.RLock()
	inst := p.agents[id]
	p.mu.RUnlock()
	require.Equal(t, int64(1), inst.Total)
	require.Equal(t, int64(1), inst.Successful)
	require.Equal(t, types.StatusIdle, inst.Status)
}

func TestScaleUp_RespectsMaxAndCooldown(t *testing.T) {
	p, err := New(testConfig(), nil, nil, nil)
	require.NoError(t, err)
	require.NoError(t, p.InitializePool(context.Background()))
	defer p.Shutdown(context.Background())

	n := p.ScaleUp(types.Neutral, 10, "test")
	require.Equal(t, 3, n) // 2 existing + 3 == max(5)
	require.Equal(t, 5, p.Count(types.Neutral))

	second := p.ScaleUp(types.Neutral, 1, "test-cooldown")
	require.Equal(t, 0, second, "second scale-up within cooldown must be dropped")
}

func TestScaleDown_RespectsMin(t *testing.T) {
	p, err := New(testConfig(), nil, nil, nil)
	require.NoError(t, err)
	require.NoError(t, p.InitializePool(context.Background()))
	defer p.Shutdown(context.Background())

	n := p.ScaleDown(types.Neutral, 5, "test")
	require.Equal(t, 1, n) // stops at min(1)
	require.Equal(t, 1, p.Count(types.Neutral))
}

func TestScalingHistory_BoundedAndFilterable(t *testing.T) {
	p, err := New(testConfig(), nil, nil, nil)
	require.NoError(t, err)
	require.NoError(t, p.InitializePool(context.Background()))
	defer p.Shutdown(context.Background())

	start := time.Now().Add(-time.Minute)
	p.ScaleUp(types.Neutral, 1, "test")

	hist := p.ScalingHistory(start, types.Neutral)
	require.Len(t, hist, 1)
	require.Equal(t, "up", hist[0].Direction)
}

func TestCheckHealth_TransitionsUnhealthyAgentThroughFailedBeforeRemoval(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)
	p, err := New(testConfig(), nil, m, nil)
	require.NoError(t, err)
	require.NoError(t, p.InitializePool(context.Background()))
	defer p.Shutdown(context.Background())

	id := p.byType[types.Neutral][0]
	inst := p.agents[id]
	inst.AvgResponseMs = 5000
	inst.Total = 10
	inst.Successful = 0
	inst.CurrentLoad = 1.0
	inst.LastActivity = time.Now()

	p.checkHealth()

	failedCount := testutil.ToFloat64(m.AgentsTotal.WithLabelValues(string(types.Neutral), string(types.StatusFailed)))
	require.Equal(t, 1.0, failedCount, "health check must transition the agent through StatusFailed before removing it")

	_, stillPresent := p.agents[id]
	require.False(t, stillPresent)
}

func TestConfig_InvalidBoundsRejected(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Types[types.Neutral] = TypeConfig{Min: 5, Target: 2, Max: 5}
	_, err := New(cfg, nil, nil, nil)
	require.Error(t, err)
}

func TestDispatch_ReturnsDecision(t *testing.T) {
	p, err := New(testConfig(), nil, nil, nil)
	require.NoError(t, err)
	require.NoError(t, p.InitializePool(context.Background()))
	defer p.Shutdown(context.Background())

	id, ok := p.GetAvailableAgent(types.Neutral)
	require.True(t, ok)

	d, err := p.Dispatch(id, agent.Input{RequestID: "r1", UserID: "u1", TrustScore: 85,
		DeviceVerified: true, TimestampVerified: true, LocationVerified: true, PatternVerified: true,
		Now: time.Now()})
	require.NoError(t, err)
	require.NotEmpty(t, d.Outcome)
}

func TestDispatchLatencyAverage_TracksObservationsWhenRegistererSet(t *testing.T) {
	cfg := testConfig()
	cfg.Registerer = prometheus.NewRegistry()
	p, err := New(cfg, nil, nil, nil)
	require.NoError(t, err)
	require.NoError(t, p.InitializePool(context.Background()))
	defer p.Shutdown(context.Background())

	require.Equal(t, float64(0), p.DispatchLatencyAverage())

	id, ok := p.GetAvailableAgent(types.Neutral)
	require.True(t, ok)
	p.ReleaseAgent(id, 40, true)

	id2, ok := p.GetAvailableAgent(types.Neutral)
	require.True(t, ok)
	p.ReleaseAgent(id2, 60, true)

	require.Equal(t, float64(50), p.DispatchLatencyAverage())
}

func TestDispatchLatencyAverage_ZeroWithoutRegisterer(t *testing.T) {
	p, err := New(testConfig(), nil, nil, nil)
	require.NoError(t, err)
	require.NoError(t, p.InitializePool(context.Background()))
	defer p.Shutdown(context.Background())

	p.ReleaseAgent("nonexistent", 40, true)
	require.Equal(t, float64(0), p.DispatchLatencyAverage())
}
