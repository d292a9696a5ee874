// Copyright (C) 2025, ReliQuary Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package scaling implements the Scalability Coordinator (C7): a
// single background loop that watches the Performance Monitor's
// health snapshots and drives the Agent Pool Manager's scale-up and
// scale-down operations, re-initializing consensus clustering after
// each scale action it applies. Membership changes made by the pool's
// own auto-scale and health-check loops do not trigger a re-clustering.
package scaling

import (
	"context"
	"sync"
	"time"

	montanastats "github.com/montanaflynn/stats"

	"github.com/swayam8624/reliquary/consensus"
	"github.com/swayam8624/reliquary/log"
	"github.com/swayam8624/reliquary/metrics"
	"github.com/swayam8624/reliquary/monitor"
	"github.com/swayam8624/reliquary/pool"
	"github.com/swayam8624/reliquary/types"
)

const actionHistoryCap = 100

// Action records one scale decision taken by the coordinator.
type Action struct {
	Timestamp time.Time
	Direction string // "up" or "down"
	AgentType types.AgentType
	Count     int
	Reason    string
}

// Coordinator is C7.
type Coordinator struct {
	interval time.Duration
	mon      *monitor.Monitor
	p        *pool.Pool
	cons     *consensus.Engine
	log      log.Logger
	m        *metrics.Metrics

	mu      sync.Mutex
	history []Action

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// New constructs a Coordinator wiring the monitor, pool, and
// consensus engine together.
func New(interval time.Duration, mon *monitor.Monitor, p *pool.Pool, cons *consensus.Engine, logger log.Logger, m *metrics.Metrics) *Coordinator {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if logger == nil {
		logger = log.NewNoOp()
	}
	return &Coordinator{
		interval: interval,
		mon:      mon,
		p:        p,
		cons:     cons,
		log:      logger,
		m:        m,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the background coordination loop.
func (c *Coordinator) Start() {
	c.wg.Add(1)
	go c.run()
}

// Stop ends the loop and waits for it to exit.
func (c *Coordinator) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.wg.Wait()
}

func (c *Coordinator) run() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.Tick(context.Background())
		}
	}
}

// Tick runs one coordination cycle against the monitor's latest
// health snapshot, applying the first matching action rule.
func (c *Coordinator) Tick(ctx context.Context) *Action {
	health := c.mon.Latest()

	direction, agentType, count, reason := decideAction(health)
	if direction == "" {
		c.tryPredictive(ctx, health)
		return nil
	}

	var applied int
	switch direction {
	case "up":
		applied = c.p.ScaleUp(agentType, count, reason)
	case "down":
		applied = c.p.ScaleDown(agentType, count, reason)
	}
	if applied == 0 {
		return nil
	}

	action := Action{Timestamp: time.Now(), Direction: direction, AgentType: agentType, Count: applied, Reason: reason}
	c.record(action)
	c.rebalanceClustering()
	if c.m != nil {
		c.m.ScalingEvents.WithLabelValues(string(agentType), direction, reason).Inc()
	}
	return &action
}

// decideAction applies the first-match-wins rule set (spec §4.7).
func decideAction(h monitor.SystemHealth) (direction string, agentType types.AgentType, count int, reason string) {
	switch {
	case h.Level == types.HealthCritical:
		return "up", types.Neutral, 3, "critical_system_health"
	case h.Level == types.HealthDegraded || h.AvgResponseMs > 1000:
		return "up", types.Neutral, 2, "high_load"
	case h.Level == types.HealthExcellent && h.CPUPercent < 30 && h.MemPercent < 40 && h.ActiveAgents > 20:
		return "down", types.Neutral, 1, "low_utilization"
	default:
		return "", "", 0, ""
	}
}

// tryPredictive runs the optional trend-based path when no reactive
// rule fired: if the CPU trend over the last 10 samples projects past
// 0.8 (80%) and the pool has headroom, scale up preemptively.
func (c *Coordinator) tryPredictive(ctx context.Context, h monitor.SystemHealth) {
	history := c.mon.History("cpu")
	predicted := predictNextLoad(history)
	if predicted <= 0.8 {
		return
	}
	current := c.p.Count(types.Neutral)
	max := c.p.MaxFor(types.Neutral)
	if max == 0 || float64(current) >= 0.8*float64(max) {
		return
	}
	applied := c.p.ScaleUp(types.Neutral, 1, "predictive_trend")
	if applied == 0 {
		return
	}
	c.record(Action{Timestamp: time.Now(), Direction: "up", AgentType: types.Neutral, Count: applied, Reason: "predictive_trend"})
	c.rebalanceClustering()
}

// predictNextLoad fits a linear trend over the last 10 CPU samples
// (percent scale) and projects one step ahead, returning a [0,1]
// fraction. Returns 0 when there is not enough history to trend.
func predictNextLoad(history []float64) float64 {
	if len(history) < 2 {
		return 0
	}
	n := 10
	if len(history) < n {
		n = len(history)
	}
	window := history[len(history)-n:]
	xs := make([]float64, len(window))
	for i := range xs {
		xs[i] = float64(i)
	}
	series := make([]float64, len(window))
	for i, v := range window {
		series[i] = v
	}
	pairs := make([]montanastats.Coordinate, len(window))
	for i := range window {
		pairs[i] = montanastats.Coordinate{X: xs[i], Y: series[i]}
	}
	trend, err := montanastats.LinearRegression(pairs)
	if err != nil || len(trend) == 0 {
		return 0
	}
	next := trend[len(trend)-1].Y
	if len(trend) >= 2 {
		// xs are evenly spaced by 1, so the step between fitted
		// points is the slope.
		next += trend[len(trend)-1].Y - trend[len(trend)-2].Y
	}
	return next / 100.0
}

func (c *Coordinator) record(a Action) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history = append(c.history, a)
	if over := len(c.history) - actionHistoryCap; over > 0 {
		c.history = c.history[over:]
	}
}

// History returns a snapshot of the bounded action ring.
func (c *Coordinator) History() []Action {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Action, len(c.history))
	copy(out, c.history)
	return out
}

func (c *Coordinator) rebalanceClustering() {
	if c.cons == nil {
		return
	}
	ids := c.p.AllAgentIDs()
	if err := c.cons.InitializeClustering(ids); err != nil {
		c.log.Warn("clustering re-initialization failed after scaling", "error", err)
	}
}
