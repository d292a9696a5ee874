// Copyright (C) 2025, ReliQuary Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package scaling

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/swayam8624/reliquary/consensus"
	"github.com/swayam8624/reliquary/monitor"
	"github.com/swayam8624/reliquary/pool"
	"github.com/swayam8624/reliquary/types"
)

type fixedSampler struct{ cpu, mem float64 }

func (f fixedSampler) Sample() (float64, float64, float64, float64) { return f.cpu, f.mem, 0, 0 }

type fixedAgents struct {
	active  int
	respMs  float64
	errRate float64
}

func (f fixedAgents) ActiveAgents() int      { return f.active }
func (f fixedAgents) PendingDecisions() int  { return 0 }
func (f fixedAgents) AvgResponseMs() float64 { return f.respMs }
func (f fixedAgents) ErrorRate() float64     { return f.errRate }

func newHarness(t *testing.T, target, max int) (*pool.Pool, *consensus.Engine) {
	t.Helper()
	cfg := pool.DefaultConfig()
	cfg.Types[types.Neutral] = pool.TypeConfig{Min: 1, Target: target, Max: max}
	cfg.HealthCheckInterval = time.Hour
	p, err := pool.New(cfg, nil, nil, nil)
	require.NoError(t, err)
	require.NoError(t, p.InitializePool(context.Background()))
	t.Cleanup(func() { p.Shutdown(context.Background()) })

	e := consensus.New(consensus.DefaultClusterConfig(), p, nil, nil, nil)
	require.NoError(t, e.InitializeClustering(p.AgentIDs(types.Neutral)))
	return p, e
}

func TestTick_CriticalHealthScalesUpThree_S6(t *testing.T) {
	p, e := newHarness(t, 10, 50)
	mon := monitor.New(time.Hour, fixedSampler{cpu: 92, mem: 50}, fixedAgents{active: 10}, nil, nil)
	mon.Sample()

	c := New(time.Hour, mon, p, e, nil, nil)
	action := c.Tick(context.Background())

	require.NotNil(t, action)
	require.Equal(t, "up", action.Direction)
	require.Equal(t, 3, action.Count)
	require.Equal(t, "critical_system_health", action.Reason)
	require.Equal(t, 13, p.Count(types.Neutral))
}

func TestTick_RespectsMaxBound(t *testing.T) {
	p, e := newHarness(t, 49, 50)
	mon := monitor.New(time.Hour, fixedSampler{cpu: 92, mem: 50}, fixedAgents{active: 49}, nil, nil)
	mon.Sample()

	c := New(time.Hour, mon, p, e, nil, nil)
	action := c.Tick(context.Background())

	require.NotNil(t, action)
	require.Equal(t, 1, action.Count) // 49 + 1 == max(50)
	require.Equal(t, 50, p.Count(types.Neutral))
}

func TestTick_DegradedWithHighResponseScalesUpTwo(t *testing.T) {
	p, e := newHarness(t, 10, 50)
	mon := monitor.New(time.Hour, fixedSampler{cpu: 20, mem: 20}, fixedAgents{active: 10, respMs: 1500}, nil, nil)
	mon.Sample()

	c := New(time.Hour, mon, p, e, nil, nil)
	action := c.Tick(context.Background())

	require.NotNil(t, action)
	require.Equal(t, "up", action.Direction)
	require.Equal(t, 2, action.Count)
	require.Equal(t, "high_load", action.Reason)
}

func TestTick_LowUtilizationScalesDownOne(t *testing.T) {
	p, e := newHarness(t, 30, 50)
	mon := monitor.New(time.Hour, fixedSampler{cpu: 5, mem: 5}, fixedAgents{active: 30}, nil, nil)
	mon.Sample()

	c := New(time.Hour, mon, p, e, nil, nil)
	action := c.Tick(context.Background())

	require.NotNil(t, action)
	require.Equal(t, "down", action.Direction)
	require.Equal(t, 1, action.Count)
	require.Equal(t, "low_utilization", action.Reason)
}

func TestTick_StableHealthTakesNoAction(t *testing.T) {
	p, e := newHarness(t, 10, 50)
	mon := monitor.New(time.Hour, fixedSampler{cpu: 50, mem: 50}, fixedAgents{active: 10}, nil, nil)
	mon.Sample()

	c := New(time.Hour, mon, p, e, nil, nil)
	action := c.Tick(context.Background())

	require.Nil(t, action)
	require.Empty(t, c.History())
}

func TestTick_RebalancesClusteringAfterScaling(t *testing.T) {
	p, e := newHarness(t, 10, 50)
	mon := monitor.New(time.Hour, fixedSampler{cpu: 95, mem: 95}, fixedAgents{active: 10}, nil, nil)
	mon.Sample()

	c := New(time.Hour, mon, p, e, nil, nil)
	c.Tick(context.Background())

	total := 0
	for _, id := range p.AllAgentIDs() {
		_, ok := e.ClusterOf(id)
		if ok {
			total++
		}
	}
	require.Equal(t, p.Count(types.Neutral), total)
}

func TestActionHistory_Bounded(t *testing.T) {
	p, e := newHarness(t, 10, 10000)
	mon := monitor.New(time.Hour, fixedSampler{cpu: 95, mem: 95}, fixedAgents{active: 10}, nil, nil)

	c := New(time.Hour, mon, p, e, nil, nil)
	for i := 0; i < actionHistoryCap+20; i++ {
		mon.Sample()
		c.Tick(context.Background())
	}
	require.LessOrEqual(t, len(c.History()), actionHistoryCap)
}

func TestPredictNextLoad_RisingTrendAboveThreshold(t *testing.T) {
	history := []float64{50, 55, 60, 65, 70, 75, 80, 85, 90, 95}
	predicted := predictNextLoad(history)
	require.Greater(t, predicted, 0.8)
}

func TestPredictNextLoad_InsufficientHistoryIsZero(t *testing.T) {
	require.Equal(t, 0.0, predictNextLoad(nil))
	require.Equal(t, 0.0, predictNextLoad([]float64{1}))
}

func TestDecideAction_NoMatchReturnsEmpty(t *testing.T) {
	h := monitor.SystemHealth{Level: types.HealthGood, ActiveAgents: 10}
	direction, _, _, _ := decideAction(h)
	require.Empty(t, direction)
}
