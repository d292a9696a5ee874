// Copyright (C) 2025, ReliQuary Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package monitor implements the Performance Monitor (C6): a
// background sampler that tracks system and per-agent telemetry and
// classifies overall health and scalability posture.
package monitor

import (
	"runtime"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/swayam8624/reliquary/log"
	"github.com/swayam8624/reliquary/metrics"
	"github.com/swayam8624/reliquary/types"
)

const (
	defaultInterval = 30 * time.Second
	metricHistoryCap = 1000
)

// Sample is one cycle's raw reading.
type Sample struct {
	Timestamp     time.Time
	CPUPercent    float64
	MemPercent    float64
	DiskPercent   float64
	NetworkIOKBps float64

	ActiveAgents    int
	PendingDecisions int
	AvgResponseMs   float64
	ErrorRate       float64
}

// SystemHealth is the periodic snapshot produced each cycle (spec §3).
type SystemHealth struct {
	Timestamp time.Time

	CPUPercent    float64
	MemPercent    float64
	DiskPercent   float64
	NetworkIOKBps float64

	ActiveAgents     int
	PendingDecisions int
	AvgResponseMs    float64
	ErrorRate        float64

	Level             types.HealthLevel
	ScalabilityStatus types.ScalabilityStatus

	Bottlenecks     []string
	Recommendations []string
}

// SystemSampler is the injectable collaborator for OS-level counters,
// so tests and alternate deployments can supply synthetic readings
// instead of runtime.MemStats/NumGoroutine.
type SystemSampler interface {
	Sample() (cpuPercent, memPercent, diskPercent, networkKBps float64)
}

// defaultSampler derives a coarse reading from the Go runtime: not a
// real OS-level sampler, but keeps the monitor self-contained when no
// collaborator is supplied.
type defaultSampler struct{}

func (defaultSampler) Sample() (cpu, mem, disk, network float64) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	memPercent := float64(ms.Alloc) / float64(ms.Sys) * 100
	if ms.Sys == 0 {
		memPercent = 0
	}
	cpuProxy := float64(runtime.NumGoroutine()) / float64(runtime.NumCPU()*200) * 100
	if cpuProxy > 100 {
		cpuProxy = 100
	}
	return cpuProxy, memPercent, 0, 0
}

// AgentStatsProvider reports current pool-wide activity; wired to
// *pool.Pool in the composition root.
type AgentStatsProvider interface {
	ActiveAgents() int
	PendingDecisions() int
	AvgResponseMs() float64
	ErrorRate() float64
}

// Monitor is C6, the Performance Monitor.
type Monitor struct {
	interval time.Duration
	sampler  SystemSampler
	agents   AgentStatsProvider
	log      log.Logger
	m        *metrics.Metrics

	historyMu sync.Mutex
	history   map[string][]float64

	latestMu sync.RWMutex
	latest   SystemHealth

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// New constructs a Monitor. sampler defaults to a runtime-derived
// proxy if nil; agents may be nil (active-agent/response fields read 0).
func New(interval time.Duration, sampler SystemSampler, agents AgentStatsProvider, logger log.Logger, m *metrics.Metrics) *Monitor {
	if interval <= 0 {
		interval = defaultInterval
	}
	if sampler == nil {
		sampler = defaultSampler{}
	}
	if logger == nil {
		logger = log.NewNoOp()
	}
	return &Monitor{
		interval: interval,
		sampler:  sampler,
		agents:   agents,
		log:      logger,
		m:        m,
		history:  make(map[string][]float64),
		stopCh:   make(chan struct{}),
	}
}

// Start begins the background sampling loop.
func (mon *Monitor) Start() {
	mon.wg.Add(1)
	go mon.run()
}

// Stop ends the sampling loop and waits for it to exit.
func (mon *Monitor) Stop() {
	mon.stopOnce.Do(func() { close(mon.stopCh) })
	mon.wg.Wait()
}

func (mon *Monitor) run() {
	defer mon.wg.Done()
	ticker := time.NewTicker(mon.interval)
	defer ticker.Stop()
	mon.Sample() // first cycle runs immediately, not after interval
	for {
		select {
		case <-mon.stopCh:
			return
		case <-ticker.C:
			mon.Sample()
		}
	}
}

// Sample runs one monitoring cycle and returns the resulting SystemHealth.
func (mon *Monitor) Sample() SystemHealth {
	cpu, mem, disk, network := mon.sampler.Sample()

	var active, pending int
	var avgResp, errRate float64
	if mon.agents != nil {
		active = mon.agents.ActiveAgents()
		pending = mon.agents.PendingDecisions()
		avgResp = mon.agents.AvgResponseMs()
		errRate = mon.agents.ErrorRate()
	}

	mon.record("cpu", cpu)
	mon.record("mem", mem)
	mon.record("disk", disk)
	mon.record("network", network)
	mon.record("response_ms", avgResp)
	mon.record("error_rate", errRate)

	level := classifyHealth(cpu, mem, avgResp, errRate, active)
	status := classifyScalability(active, cpu, mem, avgResp)

	health := SystemHealth{
		Timestamp: time.Now(),

		CPUPercent: cpu, MemPercent: mem, DiskPercent: disk, NetworkIOKBps: network,
		ActiveAgents: active, PendingDecisions: pending, AvgResponseMs: avgResp, ErrorRate: errRate,

		Level:             level,
		ScalabilityStatus: status,
		Bottlenecks:       bottlenecksFor(cpu, mem, avgResp, errRate, active),
		Recommendations:   recommendationsFor(level, status),
	}

	if slope := TrendSlope(mon.History("cpu"), cpuTrendWindow); slope > cpuTrendSlopeThreshold {
		health.Recommendations = append(health.Recommendations, "cpu utilization trending upward")
	}

	mon.latestMu.Lock()
	mon.latest = health
	mon.latestMu.Unlock()

	if mon.m != nil {
		mon.m.SystemHealthLevel.Set(healthOrdinal(level))
	}
	return health
}

func (mon *Monitor) record(metric string, value float64) {
	mon.historyMu.Lock()
	defer mon.historyMu.Unlock()
	values := append(mon.history[metric], value)
	if over := len(values) - metricHistoryCap; over > 0 {
		values = values[over:]
	}
	mon.history[metric] = values
}

// History returns a snapshot of the bounded sample history for metric.
func (mon *Monitor) History(metric string) []float64 {
	mon.historyMu.Lock()
	defer mon.historyMu.Unlock()
	out := make([]float64, len(mon.history[metric]))
	copy(out, mon.history[metric])
	return out
}

// Latest returns the most recently computed SystemHealth.
func (mon *Monitor) Latest() SystemHealth {
	mon.latestMu.RLock()
	defer mon.latestMu.RUnlock()
	return mon.latest
}

func classifyHealth(cpu, mem, respMs, errRate float64, agents int) types.HealthLevel {
	if cpu >= 90 || mem >= 95 || respMs >= 5000 || errRate >= 0.15 || agents >= 150 {
		return types.HealthCritical
	}
	if cpu >= 70 || mem >= 80 || respMs >= 1000 || errRate >= 0.05 || agents >= 100 {
		return types.HealthDegraded
	}
	if agents > 50 {
		return types.HealthGood
	}
	return types.HealthExcellent
}

func classifyScalability(agents int, cpu, mem, respMs float64) types.ScalabilityStatus {
	switch {
	case agents > 150:
		return types.ScalabilityOverloaded
	case agents >= 100:
		return types.ScalabilityAtCapacity
	case cpu > 80 || mem > 85 || respMs > 3000:
		return types.ScalabilityScalingUp
	case cpu < 30 && mem < 40 && agents > 10:
		return types.ScalabilityScalingDown
	default:
		return types.ScalabilityStable
	}
}

func bottlenecksFor(cpu, mem, respMs, errRate float64, agents int) []string {
	var out []string
	if cpu >= 70 {
		out = append(out, "cpu utilization elevated")
	}
	if mem >= 80 {
		out = append(out, "memory utilization elevated")
	}
	if respMs >= 1000 {
		out = append(out, "response time elevated")
	}
	if errRate >= 0.05 {
		out = append(out, "error rate elevated")
	}
	if agents >= 100 {
		out = append(out, "agent population near capacity")
	}
	return out
}

func recommendationsFor(level types.HealthLevel, status types.ScalabilityStatus) []string {
	var out []string
	switch level {
	case types.HealthCritical:
		out = append(out, "scale up immediately and investigate root cause")
	case types.HealthDegraded:
		out = append(out, "scale up or shed load")
	}
	if status == types.ScalabilityScalingDown {
		out = append(out, "consider scaling down idle capacity")
	}
	return out
}

func healthOrdinal(level types.HealthLevel) float64 {
	switch level {
	case types.HealthExcellent:
		return 4
	case types.HealthGood:
		return 3
	case types.HealthDegraded:
		return 2
	case types.HealthCritical:
		return 1
	default:
		return 0
	}
}

// cpuTrendWindow and cpuTrendSlopeThreshold bound Sample's own
// rising-CPU recommendation; C7's predictive scale-up path computes
// its own trend independently via montanaflynn (see scaling.predictNextLoad).
const (
	cpuTrendWindow         = 10
	cpuTrendSlopeThreshold = 2.0
)

// TrendSlope fits a linear trend over metric's recorded history using
// the last n samples (or all, if fewer), returning the slope per
// sample. Sample uses it internally to flag a rising CPU trend before
// it crosses classifyHealth's thresholds.
func TrendSlope(values []float64, n int) float64 {
	if len(values) > n {
		values = values[len(values)-n:]
	}
	if len(values) < 2 {
		return 0
	}
	xs := make([]float64, len(values))
	for i := range xs {
		xs[i] = float64(i)
	}
	_, slope := stat.LinearRegression(xs, values, nil, false)
	return slope
}
