// Copyright (C) 2025, ReliQuary Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package pool implements the Agent Pool Manager (C4): lifecycle for
// pooled decision-workflow agents, dispatch, load balancing, health
// scoring and scaling.
package pool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sony/gobreaker"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/swayam8624/reliquary/agent"
	"github.com/swayam8624/reliquary/collab"
	"github.com/swayam8624/reliquary/log"
	"github.com/swayam8624/reliquary/metrics"
	"github.com/swayam8624/reliquary/types"
	"github.com/swayam8624/reliquary/utils/sampler"
	"github.com/swayam8624/reliquary/utils/wrappers"
)

// TypeConfig bounds one agent type's population (spec §4.4).
type TypeConfig struct {
	Min    int
	Target int
	Max    int
}

// Config is the pool-wide configuration (spec §4.4).
type Config struct {
	Types map[types.AgentType]TypeConfig

	ScaleUpThreshold   float64
	ScaleDownThreshold float64
	ScaleUpCooldown    time.Duration
	ScaleDownCooldown  time.Duration
	HealthCheckInterval time.Duration
	MaxIdle            time.Duration
	Strategy           types.LoadBalanceStrategy

	// Registerer, if set, gets a pool-wide dispatch-latency averager
	// registered against it. Nil skips that metric entirely.
	Registerer prometheus.Registerer `yaml:"-"`
}

// DefaultConfig returns spec §4.4's literal defaults for every field
// but Types, which the caller must supply.
func DefaultConfig() Config {
	return Config{
		Types:               map[types.AgentType]TypeConfig{},
		ScaleUpThreshold:    0.7,
		ScaleDownThreshold:  0.3,
		ScaleUpCooldown:     60 * time.Second,
		ScaleDownCooldown:   300 * time.Second,
		HealthCheckInterval: 30 * time.Second,
		MaxIdle:             600 * time.Second,
		Strategy:            types.LeastLoaded,
	}
}

func (c Config) validate() error {
	for t, tc := range c.Types {
		if tc.Min > tc.Target || tc.Target > tc.Max || tc.Min < 0 {
			return collab.New(collab.KindConfiguration, fmt.Sprintf("agent type %s: invalid min/target/max bounds", t))
		}
	}
	if c.HealthCheckInterval <= 0 || c.ScaleUpCooldown <= 0 || c.ScaleDownCooldown <= 0 {
		return collab.New(collab.KindConfiguration, "intervals and cooldowns must be positive")
	}
	return nil
}

// AgentInstance is exclusively owned by the pool (spec §3).
type AgentInstance struct {
	AgentID      string
	Type         types.AgentType
	Status       types.AgentStatus
	CreatedAt    time.Time
	LastActivity time.Time

	Total      int64
	Successful int64
	Failed     int64

	CurrentLoad   float64
	AvgResponseMs float64
	HealthScore   float64

	workflow *agent.Workflow
}

// ScalingEvent is one bounded-ring entry recording a scale action.
type ScalingEvent struct {
	Timestamp time.Time
	AgentType types.AgentType
	Direction string // "up" | "down"
	Amount    int
	Reason    string
}

// Pool is C4, the Agent Pool Manager.
type Pool struct {
	cfg Config
	log log.Logger
	m   *metrics.Metrics
	audit collab.AuditWriter

	mu      sync.RWMutex
	agents  map[string]*AgentInstance
	byType  map[types.AgentType][]string

	rrIndex map[types.AgentType]int

	upLimiters   map[types.AgentType]*rate.Limiter
	downLimiters map[types.AgentType]*rate.Limiter

	breakers map[types.AgentType]*gobreaker.CircuitBreaker

	eventsMu sync.Mutex
	events   []ScalingEvent

	// dispatchLatency tracks pool-wide dispatch latency independent of
	// the per-agent-type AvgResponseMs; nil when cfg.Registerer is nil.
	dispatchLatency metrics.Averager

	active bool

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

const scalingEventCap = 1000

// New constructs a Pool. audit and m may be nil.
func New(cfg Config, logger log.Logger, m *metrics.Metrics, audit collab.AuditWriter) (*Pool, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.NewNoOp()
	}
	p := &Pool{
		cfg:          cfg,
		log:          logger,
		m:            m,
		audit:        audit,
		agents:       make(map[string]*AgentInstance),
		byType:       make(map[types.AgentType][]string),
		rrIndex:      make(map[types.AgentType]int),
		upLimiters:   make(map[types.AgentType]*rate.Limiter),
		downLimiters: make(map[types.AgentType]*rate.Limiter),
		breakers:     make(map[types.AgentType]*gobreaker.CircuitBreaker),
		stopCh:       make(chan struct{}),
	}
	if cfg.Registerer != nil {
		var errs wrappers.Errs
		p.dispatchLatency = metrics.NewAveragerWithErrs("pool_dispatch_latency_ms", "pool-wide agent dispatch latency", cfg.Registerer, &errs)
		if errs.Errored() {
			logger.Warn("pool dispatch latency averager registration failed", "error", errs.Err())
		}
	}
	for t := range cfg.Types {
		p.upLimiters[t] = rate.NewLimiter(rate.Every(cfg.ScaleUpCooldown), 1)
		p.downLimiters[t] = rate.NewLimiter(rate.Every(cfg.ScaleDownCooldown), 1)
		p.breakers[t] = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "pool-dispatch-" + string(t),
			Timeout: 30 * time.Second,
		})
	}
	return p, nil
}

// InitializePool creates Target agents of every configured type in
// parallel and marks the pool active.
func (p *Pool) InitializePool(ctx context.Context) error {
	g, _ := errgroup.WithContext(ctx)
	for t, tc := range p.cfg.Types {
		t, tc := t, tc
		g.Go(func() error {
			for i := 0; i < tc.Target; i++ {
				p.spawn(t)
			}
			return nil
		})
	}
	_ = g.Wait() // spawn never fails; the group only buys parallel fan-out

	p.mu.Lock()
	p.active = true
	p.mu.Unlock()

	p.wg.Add(2)
	go p.runHealthCheck()
	go p.runAutoScale()
	return nil
}

func newPersonality(t types.AgentType) agent.Personality {
	switch t {
	case types.Permissive:
		return agent.Permissive{}
	case types.Strict:
		return agent.Strict{}
	case types.Watchdog:
		return agent.NewWatchdog()
	default:
		return agent.Neutral{}
	}
}

func (p *Pool) spawn(t types.AgentType) *AgentInstance {
	id := uuid.NewString()
	inst := &AgentInstance{
		AgentID:      id,
		Type:         t,
		Status:       types.StatusStarting,
		CreatedAt:    time.Now(),
		LastActivity: time.Now(),
		HealthScore:  1.0,
		workflow:     agent.New(id, newPersonality(t)),
	}
	p.mu.Lock()
	p.agents[id] = inst
	p.byType[t] = append(p.byType[t], id)
	p.mu.Unlock()

	inst.Status = types.StatusReady
	if p.m != nil {
		p.m.AgentsTotal.WithLabelValues(string(t), string(types.StatusReady)).Inc()
	}
	return inst
}

// GetAvailableAgent filters eligible agents (Ready/Idle, matching
// wantType if non-empty, health_score > 0.5), applies the configured
// load-balancing strategy, and marks the chosen agent Busy.
func (p *Pool) GetAvailableAgent(wantType types.AgentType) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var candidates []*AgentInstance
	for _, inst := range p.agents {
		if wantType != "" && inst.Type != wantType {
			continue
		}
		if inst.Status != types.StatusReady && inst.Status != types.StatusIdle {
			continue
		}
		if inst.HealthScore <= 0.5 {
			continue
		}
		candidates = append(candidates, inst)
	}
	if len(candidates) == 0 {
		return "", false
	}

	chosen := p.pick(wantType, candidates)
	chosen.Status = types.StatusBusy
	chosen.LastActivity = time.Now()
	return chosen.AgentID, true
}

func (p *Pool) pick(t types.AgentType, candidates []*AgentInstance) *AgentInstance {
	switch p.cfg.Strategy {
	case types.RoundRobin:
		idx := p.rrIndex[t] % len(candidates)
		p.rrIndex[t] = idx + 1
		return candidates[idx]
	case types.WeightedRandom:
		weights := make([]uint64, len(candidates))
		for i, c := range candidates {
			w := 1 - c.CurrentLoad
			if w < 0.1 {
				w = 0.1
			}
			weights[i] = uint64(w * 1000)
		}
		ws := sampler.NewWeightedWithoutReplacement()
		if err := ws.Initialize(weights); err == nil {
			if idx, ok := ws.Sample(1); ok && len(idx) == 1 {
				return candidates[idx[0]]
			}
		}
		return candidates[0]
	default: // least_loaded
		best := candidates[0]
		for _, c := range candidates[1:] {
			if c.CurrentLoad < best.CurrentLoad {
				best = c
			}
		}
		return best
	}
}

// ReleaseAgent updates counters, the running mean response time, decays
// current_load, and transitions the agent back to Idle or Ready.
func (p *Pool) ReleaseAgent(agentID string, processingMs float64, success bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	inst, ok := p.agents[agentID]
	if !ok {
		return
	}
	inst.Total++
	if success {
		inst.Successful++
	} else {
		inst.Failed++
	}
	if inst.Total == 1 {
		inst.AvgResponseMs = processingMs
	} else {
		inst.AvgResponseMs += (processingMs - inst.AvgResponseMs) / float64(inst.Total)
	}
	inst.CurrentLoad -= 0.1
	if inst.CurrentLoad < 0 {
		inst.CurrentLoad = 0
	}
	if inst.CurrentLoad < 0.1 {
		inst.Status = types.StatusIdle
	} else {
		inst.Status = types.StatusReady
	}
	inst.LastActivity = time.Now()

	if p.dispatchLatency != nil {
		p.dispatchLatency.Observe(processingMs)
	}
}

// DispatchLatencyAverage reads the pool-wide running average dispatch
// latency, or 0 if no Registerer was configured.
func (p *Pool) DispatchLatencyAverage() float64 {
	if p.dispatchLatency == nil {
		return 0
	}
	return p.dispatchLatency.Read()
}

// RemoveAgent transitions agentID to Stopping and drops it from the
// registry and type index.
func (p *Pool) RemoveAgent(agentID string, reason string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.removeLocked(agentID, reason)
}

func (p *Pool) removeLocked(agentID, reason string) {
	inst, ok := p.agents[agentID]
	if !ok {
		return
	}
	inst.Status = types.StatusStopping
	delete(p.agents, agentID)
	ids := p.byType[inst.Type]
	for i, id := range ids {
		if id == agentID {
			p.byType[inst.Type] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if p.m != nil {
		p.m.AgentsTotal.WithLabelValues(string(inst.Type), string(types.StatusStopping)).Inc()
	}
	p.log.Info("agent removed", "agent_id", agentID, "type", string(inst.Type), "reason", reason)
}

// Count returns the current agent count for t.
func (p *Pool) Count(t types.AgentType) int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.byType[t])
}

// MaxFor returns the configured maximum population for t, or 0 if t
// has no configured bounds.
func (p *Pool) MaxFor(t types.AgentType) int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cfg.Types[t].Max
}

// AgentIDs returns every known agent id of type t, regardless of
// status. Used by C5 to build its clustering roster and by C7 to
// observe current population.
func (p *Pool) AgentIDs(t types.AgentType) []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]string(nil), p.byType[t]...)
}

// AllAgentIDs returns every known agent id across all types.
func (p *Pool) AllAgentIDs() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, 0, len(p.agents))
	for id := range p.agents {
		out = append(out, id)
	}
	return out
}

// AggregateStats rolls up every agent's counters for the Performance
// Monitor (C6): active (busy) agents, pending (total pooled) agents,
// the total-weighted average response time, and the overall error
// rate across every dispatch this process has made.
func (p *Pool) AggregateStats() (active, pending int, avgResponseMs, errorRate float64) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var totalRequests, totalFailed int64
	var weightedResponse float64
	for _, inst := range p.agents {
		pending++
		if inst.Status == types.StatusBusy {
			active++
		}
		totalRequests += inst.Total
		totalFailed += inst.Failed
		weightedResponse += inst.AvgResponseMs * float64(inst.Total)
	}
	if totalRequests > 0 {
		avgResponseMs = weightedResponse / float64(totalRequests)
		errorRate = float64(totalFailed) / float64(totalRequests)
	}
	return active, pending, avgResponseMs, errorRate
}

// ScaleUp creates n agents of type t, honoring the per-type max count
// and scale-up cooldown (concurrent attempts within cooldown are
// dropped, not queued, per spec §5).
func (p *Pool) ScaleUp(t types.AgentType, n int, reason string) int {
	limiter, ok := p.upLimiters[t]
	if !ok || !limiter.Allow() {
		return 0
	}
	p.mu.RLock()
	tc := p.cfg.Types[t]
	current := len(p.byType[t])
	p.mu.RUnlock()

	if current >= tc.Max {
		return 0
	}
	if current+n > tc.Max {
		n = tc.Max - current
	}
	for i := 0; i < n; i++ {
		p.spawn(t)
	}
	p.recordEvent(ScalingEvent{Timestamp: time.Now(), AgentType: t, Direction: "up", Amount: n, Reason: reason})
	if p.m != nil {
		p.m.ScalingEvents.WithLabelValues(string(t), "up", reason).Inc()
	}
	return n
}

// ScaleDown removes up to n agents of type t, honoring the per-type min
// count and scale-down cooldown.
func (p *Pool) ScaleDown(t types.AgentType, n int, reason string) int {
	limiter, ok := p.downLimiters[t]
	if !ok || !limiter.Allow() {
		return 0
	}
	p.mu.Lock()
	tc := p.cfg.Types[t]
	ids := append([]string(nil), p.byType[t]...)
	current := len(ids)
	if current-n < tc.Min {
		n = current - tc.Min
	}
	if n <= 0 {
		p.mu.Unlock()
		return 0
	}
	removed := 0
	for _, id := range ids {
		if removed >= n {
			break
		}
		inst := p.agents[id]
		if inst.Status == types.StatusIdle || inst.Status == types.StatusReady {
			inst.Status = types.StatusDraining
			p.removeLocked(id, reason)
			removed++
		}
	}
	p.mu.Unlock()

	p.recordEvent(ScalingEvent{Timestamp: time.Now(), AgentType: t, Direction: "down", Amount: removed, Reason: reason})
	if p.m != nil {
		p.m.ScalingEvents.WithLabelValues(string(t), "down", reason).Inc()
	}
	return removed
}

func (p *Pool) recordEvent(ev ScalingEvent) {
	p.eventsMu.Lock()
	defer p.eventsMu.Unlock()
	p.events = append(p.events, ev)
	if over := len(p.events) - scalingEventCap; over > 0 {
		p.events = p.events[over:]
	}
	if p.audit != nil {
		_ = p.audit.Write(context.Background(), collab.AuditEvent{
			Event: "scaling_event",
			Fields: map[string]any{
				"agent_type": string(ev.AgentType), "direction": ev.Direction,
				"amount": ev.Amount, "reason": ev.Reason,
			},
			Timestamp: ev.Timestamp,
		})
	}
}

// ScalingHistory returns recorded events since t, optionally filtered
// to one agent type (empty string means all types).
func (p *Pool) ScalingHistory(since time.Time, agentType types.AgentType) []ScalingEvent {
	p.eventsMu.Lock()
	defer p.eventsMu.Unlock()
	var out []ScalingEvent
	for _, ev := range p.events {
		if ev.Timestamp.Before(since) {
			continue
		}
		if agentType != "" && ev.AgentType != agentType {
			continue
		}
		out = append(out, ev)
	}
	return out
}

// healthScore is the mean of the four factors from spec §4.4.
func healthScore(inst *AgentInstance, maxIdle time.Duration) float64 {
	respFactor := 1 - inst.AvgResponseMs/5000
	if respFactor < 0 {
		respFactor = 0
	}
	successRate := 1.0
	if inst.Total > 0 {
		successRate = float64(inst.Successful) / float64(inst.Total)
	}
	loadFactor := 1 - inst.CurrentLoad
	if loadFactor < 0 {
		loadFactor = 0
	}
	idleFactor := 1.0
	if time.Since(inst.LastActivity) > maxIdle {
		idleFactor = 0.5
	}
	return (respFactor + successRate + loadFactor + idleFactor) / 4
}

func (p *Pool) runHealthCheck() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.HealthCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.checkHealth()
		}
	}
}

func (p *Pool) checkHealth() {
	p.mu.Lock()
	var failed []string
	for id, inst := range p.agents {
		inst.HealthScore = healthScore(inst, p.cfg.MaxIdle)
		if p.m != nil {
			p.m.AgentHealthScore.WithLabelValues(id).Set(inst.HealthScore)
		}
		if inst.HealthScore < 0.3 {
			inst.Status = types.StatusFailed
			if p.m != nil {
				p.m.AgentsTotal.WithLabelValues(string(inst.Type), string(types.StatusFailed)).Inc()
			}
			failed = append(failed, id)
		}
	}
	p.mu.Unlock()

	for _, id := range failed {
		p.RemoveAgent(id, "health_score_below_threshold")
	}
}

func (p *Pool) runAutoScale() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.HealthCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.autoScaleTick()
		}
	}
}

// autoScaleTick grows or shrinks each type toward target utilization,
// using average current_load as the trigger, independent of C7's
// system-health-driven scaling (which calls ScaleUp/ScaleDown directly).
func (p *Pool) autoScaleTick() {
	p.mu.RLock()
	avgLoad := make(map[types.AgentType]float64)
	counts := make(map[types.AgentType]int)
	for t, ids := range p.byType {
		var sum float64
		for _, id := range ids {
			sum += p.agents[id].CurrentLoad
		}
		if len(ids) > 0 {
			avgLoad[t] = sum / float64(len(ids))
		}
		counts[t] = len(ids)
	}
	p.mu.RUnlock()

	for t, load := range avgLoad {
		if load > p.cfg.ScaleUpThreshold {
			p.ScaleUp(t, 1, "load_above_threshold")
		} else if load < p.cfg.ScaleDownThreshold && counts[t] > p.cfg.Types[t].Min {
			p.ScaleDown(t, 1, "load_below_threshold")
		}
	}
}

// Dispatch runs one decision through the circuit breaker protecting
// agentID's type, so a run of personality failures opens the breaker
// rather than letting every caller retry into the same failure.
func (p *Pool) Dispatch(agentID string, in agent.Input) (agent.Decision, error) {
	p.mu.RLock()
	inst, ok := p.agents[agentID]
	p.mu.RUnlock()
	if !ok {
		return agent.Decision{}, collab.New(collab.KindCapacity, "agent not found: "+agentID)
	}
	breaker := p.breakers[inst.Type]
	if breaker == nil {
		return inst.workflow.Run(in), nil
	}
	out, err := breaker.Execute(func() (interface{}, error) {
		d := inst.workflow.Run(in)
		if d.Outcome == types.DecisionError {
			return d, collab.New(collab.KindVoteFailure, "decision workflow returned error")
		}
		return d, nil
	})
	if err != nil {
		if d, ok := out.(agent.Decision); ok {
			return d, nil
		}
		return agent.Decision{AgentID: agentID, AgentType: inst.Type, Outcome: types.DecisionError, Timestamp: time.Now()}, nil
	}
	return out.(agent.Decision), nil
}

// Shutdown drains the pool: every agent is set Draining and the
// background tasks stop. Agents stay registered in the pool; Shutdown
// does not remove them.
func (p *Pool) Shutdown(ctx context.Context) {
	p.mu.Lock()
	for _, inst := range p.agents {
		inst.Status = types.StatusDraining
	}
	p.active = false
	p.mu.Unlock()

	p.stopOnce.Do(func() { close(p.stopCh) })
	p.wg.Wait()
}
