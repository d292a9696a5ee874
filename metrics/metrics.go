// Copyright (C) 2025, ReliQuary Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package metrics wires the telemetry sink collaborator (§6.5): it is
// optional, and every component must keep working if the caller passes
// a nil *Metrics or a Registerer that rejects duplicate registration.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is the telemetry sink shared by the pool, the consensus
// engine, the trust engine and the scalability coordinator. It holds
// the core's whole metric set, built by NewMetrics; components skip
// reporting when handed a nil *Metrics, so a missing sink never blocks
// core logic.
type Metrics struct {
	Registry prometheus.Registerer

	AgentsTotal        *prometheus.GaugeVec
	AgentHealthScore   *prometheus.GaugeVec
	ClusterSize        *prometheus.GaugeVec
	ClusterHealth      *prometheus.GaugeVec
	ConsensusRequests  prometheus.Counter
	ConsensusReached   prometheus.Counter
	ConsensusFailed    *prometheus.CounterVec
	TrustEvaluations   prometheus.Counter
	TrustScore         prometheus.Histogram
	ScalingEvents      *prometheus.CounterVec
	PartitionDetected  prometheus.Counter
	SystemHealthLevel  prometheus.Gauge
}

// NewMetrics constructs and registers the core's metric set against reg.
// Registration errors from duplicate collectors are swallowed the same
// way NewAveragerWithErrs does: metrics degrade, the system does not.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Registry: reg,
		AgentsTotal: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "reliquary", Subsystem: "pool", Name: "agents_total",
			Help: "Current number of agents by type and status.",
		}, []string{"agent_type", "status"}),
		AgentHealthScore: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "reliquary", Subsystem: "pool", Name: "agent_health_score",
			Help: "Per-agent health score in [0,1].",
		}, []string{"agent_id"}),
		ClusterSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "reliquary", Subsystem: "consensus", Name: "cluster_size",
			Help: "Member count per cluster.",
		}, []string{"cluster_id"}),
		ClusterHealth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "reliquary", Subsystem: "consensus", Name: "cluster_health",
			Help: "Per-cluster health score in [0,1].",
		}, []string{"cluster_id"}),
		ConsensusRequests: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "reliquary", Subsystem: "consensus", Name: "requests_total",
			Help: "Total consensus requests dispatched.",
		}),
		ConsensusReached: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "reliquary", Subsystem: "consensus", Name: "reached_total",
			Help: "Total requests that reached consensus.",
		}),
		ConsensusFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "reliquary", Subsystem: "consensus", Name: "failed_total",
			Help: "Total requests that failed to reach consensus, by reason.",
		}, []string{"reason"}),
		TrustEvaluations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "reliquary", Subsystem: "trust", Name: "evaluations_total",
			Help: "Total trust evaluations performed.",
		}),
		TrustScore: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "reliquary", Subsystem: "trust", Name: "overall_score",
			Help:    "Distribution of overall trust scores.",
			Buckets: []float64{10, 25, 40, 60, 75, 90, 100},
		}),
		ScalingEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "reliquary", Subsystem: "scaling", Name: "events_total",
			Help: "Scaling actions taken, by agent type and direction.",
		}, []string{"agent_type", "direction", "reason"}),
		PartitionDetected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "reliquary", Subsystem: "consensus", Name: "partitions_detected_total",
			Help: "Total times the engine observed participation_ratio < 0.6.",
		}),
		SystemHealthLevel: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "reliquary", Subsystem: "monitor", Name: "system_health_level",
			Help: "Current SystemHealth level as an ordinal: 0=Failed..4=Excellent.",
		}),
	}

	if reg == nil {
		return m
	}
	for _, c := range []prometheus.Collector{
		m.AgentsTotal, m.AgentHealthScore, m.ClusterSize, m.ClusterHealth,
		m.ConsensusRequests, m.ConsensusReached, m.ConsensusFailed,
		m.TrustEvaluations, m.TrustScore, m.ScalingEvents,
		m.PartitionDetected, m.SystemHealthLevel,
	} {
		_ = reg.Register(c) // best-effort: duplicate/failed registration must not be fatal
	}
	return m
}

// Register registers an additional prometheus collector against the
// core's registry and returns the registry's error, including a
// duplicate-registration error. It returns nil without registering
// when m or its registry is nil.
func (m *Metrics) Register(collector prometheus.Collector) error {
	if m == nil || m.Registry == nil {
		return nil
	}
	return m.Registry.Register(collector)
}
