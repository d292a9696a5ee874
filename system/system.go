// Copyright (C) 2025, ReliQuary Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package system is the composition root: it wires C1 through C7 into
// one running instance and exposes the single top-level operation a
// caller drives a request through. No package-level globals anywhere
// in this module; every dependency is constructed here and threaded
// through explicitly.
package system

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/swayam8624/reliquary/agent"
	"github.com/swayam8624/reliquary/collab"
	"github.com/swayam8624/reliquary/consensus"
	"github.com/swayam8624/reliquary/contextverify"
	"github.com/swayam8624/reliquary/log"
	"github.com/swayam8624/reliquary/metrics"
	"github.com/swayam8624/reliquary/monitor"
	"github.com/swayam8624/reliquary/pool"
	"github.com/swayam8624/reliquary/scaling"
	"github.com/swayam8624/reliquary/trust"
)

// Collaborators bundles the external contracts named in spec.md §6.
// Any field left nil gets the package's default, non-authoritative
// implementation (matching §6's "a Python fallback is acceptable").
type Collaborators struct {
	ProfileStore trust.ProfileStore
	AuditWriter  collab.AuditWriter
	ZKRunner     collab.ZKRunner
}

// System owns C1-C7 for the lifetime of a process.
type System struct {
	cfg Config

	Trust      *trust.Engine
	Verify     *contextverify.Adapter
	Pool       *pool.Pool
	Consensus  *consensus.Engine
	Monitor    *monitor.Monitor
	Scaling    *scaling.Coordinator

	log log.Logger
	m   *metrics.Metrics
}

// New builds and starts C1-C7, following the teacher-derived
// "initialize all then verify readiness" startup sequence: pool, then
// the consensus engine's clustering over that pool, then the monitor,
// then the coordinator — each one checked ready before the next
// starts.
func New(cfg Config, collaborators Collaborators) (*System, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := log.New(cfg.LogLevel)
	reg := cfg.Registerer
	m := metrics.NewMetrics(reg)

	store := collaborators.ProfileStore
	if store == nil {
		store = trust.NewFileProfileStore(cfg.TrustProfileDir)
	}
	audit := collaborators.AuditWriter
	if audit == nil {
		audit = collab.NewRingAuditWriter(1000)
	}
	zk := collaborators.ZKRunner
	if zk == nil {
		zk = collab.NoOpZKRunner{}
	}

	trustEngine := trust.New(store, audit, m, logger.With("component", "trust"))
	verifyAdapter := contextverify.New(collab.NewCachingZKRunner(zk, cfg.ZKCacheTTL))

	poolCfg := cfg.Pool
	poolCfg.Registerer = reg
	p, err := pool.New(poolCfg, logger.With("component", "pool"), m, audit)
	if err != nil {
		return nil, fmt.Errorf("system: pool configuration: %w", err)
	}
	if err := p.InitializePool(context.Background()); err != nil {
		return nil, fmt.Errorf("system: pool startup: %w", err)
	}

	consensusEngine := consensus.New(cfg.Cluster, p, logger.With("component", "consensus"), m, audit)
	if err := consensusEngine.InitializeClustering(p.AllAgentIDs()); err != nil {
		return nil, fmt.Errorf("system: clustering startup: %w", err)
	}

	mon := monitor.New(cfg.MonitoringInterval, nil, poolStatsAdapter{p}, logger.With("component", "monitor"), m)
	mon.Start()
	mon.Sample() // first snapshot is synchronous, so Scaling.Tick never races an empty Latest()

	coordinator := scaling.New(cfg.MonitoringInterval, mon, p, consensusEngine, logger.With("component", "scaling"), m)
	coordinator.Start()

	return &System{
		cfg:       cfg,
		Trust:     trustEngine,
		Verify:    verifyAdapter,
		Pool:      p,
		Consensus: consensusEngine,
		Monitor:   mon,
		Scaling:   coordinator,
		log:       logger,
		m:         m,
	}, nil
}

// Shutdown stops the background loops and the pool, in reverse startup
// order.
func (s *System) Shutdown(ctx context.Context) {
	s.Scaling.Stop()
	s.Monitor.Stop()
	s.Pool.Shutdown(ctx)
}

// Request is one end-to-end access-decision request: a vault-access
// attempt that must clear trust scoring, context verification, and
// hierarchical agent consensus.
type Request struct {
	RequestID string
	UserID    string
	Timeout   time.Duration

	TrustContext  trust.Context
	VerifyRequest contextverify.Request

	AccessFrequencyRatio   float64
	SessionDurationSeconds float64
	KeystrokesPerMinute    float64
	AccessHour             int

	MinimumConsensus float64
	RequiredClusters []string
}

// Response is what RequestAccess returns the caller: the consensus
// result plus the trust/context evidence it was built from, for
// audit and explanation purposes.
type Response struct {
	Trust      trust.Evaluation
	Verify     contextverify.Result
	Consensus  consensus.HierarchicalConsensusResult
}

// RequestAccess drives spec.md §2's data flow: "request -> C1 (trust)
// + C2 (context) -> C5.dispatch -> ... -> caller". C1 and C2 run
// concurrently since neither depends on the other's output.
func (s *System) RequestAccess(ctx context.Context, req Request) (Response, error) {
	if req.UserID == "" {
		return Response{}, collab.New(collab.KindConfiguration, "user_id must not be empty")
	}

	var (
		trustEval   trust.Evaluation
		trustErr    error
		verifyResult contextverify.Result
		verifyErr   error
		wg          sync.WaitGroup
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		trustEval, trustErr = s.Trust.Evaluate(ctx, req.UserID, req.TrustContext)
	}()
	go func() {
		defer wg.Done()
		verifyResult, verifyErr = s.Verify.Verify(ctx, req.VerifyRequest)
	}()
	wg.Wait()

	if trustErr != nil {
		return Response{}, fmt.Errorf("system: trust evaluation: %w", trustErr)
	}
	if verifyErr != nil {
		return Response{}, fmt.Errorf("system: context verification: %w", verifyErr)
	}

	in := agent.Input{
		RequestID: req.RequestID,
		UserID:    req.UserID,

		TrustScore: trustEval.OverallScore,

		DeviceVerified:    verifyResult.DeviceVerified,
		TimestampVerified: verifyResult.TimestampVerified,
		LocationVerified:  verifyResult.LocationVerified,
		PatternVerified:   verifyResult.PatternVerified,

		AccessFrequencyRatio:   req.AccessFrequencyRatio,
		SessionDurationSeconds: req.SessionDurationSeconds,
		KeystrokesPerMinute:    req.KeystrokesPerMinute,
		AccessHour:             req.AccessHour,

		Now: time.Now(),
	}

	consensusReq := consensus.ConsensusRequest{
		RequestID:        req.RequestID,
		RequestType:      "vault_access",
		Timeout:          req.Timeout,
		RequiredClusters: req.RequiredClusters,
		MinimumConsensus: req.MinimumConsensus,
		CreatedAt:        time.Now(),
	}
	result := s.Consensus.ExecuteHierarchicalConsensus(ctx, consensusReq, in)

	return Response{Trust: trustEval, Verify: verifyResult, Consensus: result}, nil
}

// poolStatsAdapter satisfies monitor.AgentStatsProvider over *pool.Pool
// without giving the monitor package direct pool internals.
type poolStatsAdapter struct{ p *pool.Pool }

func (a poolStatsAdapter) ActiveAgents() int {
	active, _, _, _ := a.p.AggregateStats()
	return active
}

func (a poolStatsAdapter) PendingDecisions() int {
	_, pending, _, _ := a.p.AggregateStats()
	return pending
}

func (a poolStatsAdapter) AvgResponseMs() float64 {
	_, _, avg, _ := a.p.AggregateStats()
	return avg
}

func (a poolStatsAdapter) ErrorRate() float64 {
	_, _, _, errRate := a.p.AggregateStats()
	return errRate
}
