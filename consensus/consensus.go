// Copyright (C) 2025, ReliQuary Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package consensus implements the Hierarchical Consensus Engine (C5):
// clustering, leader election, the four-phase intra/inter/global/
// finalize consensus pipeline, and partition detection.
package consensus

import (
	"context"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/swayam8624/reliquary/agent"
	"github.com/swayam8624/reliquary/collab"
	"github.com/swayam8624/reliquary/log"
	"github.com/swayam8624/reliquary/metrics"
	"github.com/swayam8624/reliquary/pool"
	"github.com/swayam8624/reliquary/types"
	"github.com/swayam8624/reliquary/utils/set"
)

// ClusterConfig bounds clustering (spec §4.5).
type ClusterConfig struct {
	Optimal int
	Min     int
	Max     int
}

// DefaultClusterConfig returns spec §4.5's literal defaults.
func DefaultClusterConfig() ClusterConfig {
	return ClusterConfig{Optimal: 12, Min: 7, Max: 20}
}

// Cluster is exclusively owned by the engine (spec §3).
type Cluster struct {
	ClusterID       string
	LeaderID        string
	BackupLeaderID  string
	Members         set.Set[string]
	Health          float64
	LastHeartbeat   time.Time
	PartitionStatus types.PartitionStatus
}

// ConsensusRequest is the immutable value object a caller submits.
type ConsensusRequest struct {
	RequestID        string
	RequestType      string
	Payload          any
	Priority         int
	Timeout          time.Duration
	RequiredClusters []string
	MinimumConsensus float64
	CreatedAt        time.Time
}

// ClusterDecision is one cluster's intra-phase outcome.
type ClusterDecision struct {
	ClusterID        string
	Decision         types.DecisionOutcome
	Confidence       float64
	Leader           string
	VoteDistribution map[types.DecisionOutcome]int
}

// PhaseRecord is a timing/detail entry for one pipeline phase.
type PhaseRecord struct {
	Phase    string
	Duration time.Duration
	Detail   string
}

// PartitionInfo is the engine-wide connectivity estimate for one request.
type PartitionInfo struct {
	ParticipationRatio float64
	Status             types.PartitionStatus
	Strategy           string
}

// HierarchicalConsensusResult is constructed fresh per request.
type HierarchicalConsensusResult struct {
	RequestID        string
	ConsensusReached bool
	FinalDecision    types.DecisionOutcome
	ClusterDecisions map[string]ClusterDecision
	GlobalConfidence float64
	PhaseRecords     []PhaseRecord
	ProcessingTime   time.Duration
	PartitionInfo    PartitionInfo
}

const partitionHistoryCap = 1000

// Engine is C5, the Hierarchical Consensus Engine.
type Engine struct {
	cfg  ClusterConfig
	pool *pool.Pool
	log  log.Logger
	m    *metrics.Metrics
	audit collab.AuditWriter

	mu           sync.RWMutex
	clusters     map[string]*Cluster
	agentCluster map[string]string
	knownAgents  []string

	partitionMu      sync.Mutex
	partitionHistory []PartitionInfo
}

// New constructs the consensus engine. p must be the same pool whose
// agents this engine clusters and dispatches votes to.
func New(cfg ClusterConfig, p *pool.Pool, logger log.Logger, m *metrics.Metrics, audit collab.AuditWriter) *Engine {
	if logger == nil {
		logger = log.NewNoOp()
	}
	return &Engine{
		cfg:          cfg,
		pool:         p,
		log:          logger,
		m:            m,
		audit:        audit,
		clusters:     make(map[string]*Cluster),
		agentCluster: make(map[string]string),
	}
}

// InitializeClustering partitions agentIDs greedily into clusters of
// cfg.Optimal size; if the final remainder falls below cfg.Min, it is
// merged with the group before it and the merged group is split in
// half. It then elects a leader/backup for
// each (lexicographically-smallest-id tiebreak, spec §4.5 notes this
// is a placeholder for a real election protocol).
func (e *Engine) InitializeClustering(agentIDs []string) error {
	if e.cfg.Min <= 0 || e.cfg.Optimal < e.cfg.Min || e.cfg.Max < e.cfg.Optimal {
		return collab.New(collab.KindConfiguration, "invalid cluster size bounds")
	}
	sorted := append([]string(nil), agentIDs...)
	sort.Strings(sorted)

	var groups [][]string
	for i := 0; i < len(sorted); i += e.cfg.Optimal {
		end := i + e.cfg.Optimal
		if end > len(sorted) {
			end = len(sorted)
		}
		groups = append(groups, sorted[i:end])
	}
	if n := len(groups); n >= 2 && len(groups[n-1]) < e.cfg.Min {
		last := groups[n-1]
		prev := groups[n-2]
		merged := append(append([]string(nil), prev...), last...)
		mid := len(merged) / 2
		groups = append(groups[:n-2], merged[:mid], merged[mid:])
	}

	clusters := make(map[string]*Cluster, len(groups))
	agentCluster := make(map[string]string, len(sorted))
	for i, members := range groups {
		if len(members) == 0 {
			continue
		}
		id := clusterID(i)
		leader, backup := electLeaders(members)
		c := &Cluster{
			ClusterID:       id,
			LeaderID:        leader,
			BackupLeaderID:  backup,
			Members:         set.Of(members...),
			Health:          1.0,
			LastHeartbeat:   time.Now(),
			PartitionStatus: types.PartitionConnected,
		}
		clusters[id] = c
		for _, m := range members {
			agentCluster[m] = id
		}
	}

	e.mu.Lock()
	e.clusters = clusters
	e.agentCluster = agentCluster
	e.knownAgents = sorted
	e.mu.Unlock()

	if e.m != nil {
		for id, c := range clusters {
			e.m.ClusterSize.WithLabelValues(id).Set(float64(c.Members.Len()))
			e.m.ClusterHealth.WithLabelValues(id).Set(c.Health)
		}
	}
	return nil
}

func clusterID(i int) string {
	const letters = "abcdefghijklmnopqrstuvwxyz0123456789"
	return "cluster-" + string(letters[i%len(letters)]) + itoa(i)
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	neg := i < 0
	if neg {
		i = -i
	}
	var buf [20]byte
	pos := len(buf)
	for i > 0 {
		pos--
		buf[pos] = byte('0' + i%10)
		i /= 10
	}
	if neg {
		pos--
		buf[pos] = '-'
	}
	return string(buf[pos:])
}

// electLeaders picks the lexicographically smallest id as leader and
// the next smallest as backup. It sorts a copy of members, so the
// caller's slice may be in any order and is left unchanged.
func electLeaders(members []string) (leader, backup string) {
	if len(members) == 0 {
		return "", ""
	}
	sorted := append([]string(nil), members...)
	sort.Strings(sorted)
	leader = sorted[0]
	if len(sorted) > 1 {
		backup = sorted[1]
	}
	return leader, backup
}

// Coordinators returns the set of cluster leaders, plus up to three
// backup leaders when there are more than five clusters (spec §4.5).
func (e *Engine) Coordinators() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var coords []string
	for _, c := range e.clusters {
		coords = append(coords, c.LeaderID)
	}
	if len(e.clusters) > 5 {
		count := 0
		for _, c := range e.clusters {
			if c.BackupLeaderID == "" || count >= 3 {
				continue
			}
			coords = append(coords, c.BackupLeaderID)
			count++
		}
	}
	sort.Strings(coords)
	return coords
}

// ClusterOf returns the cluster id agentID belongs to.
func (e *Engine) ClusterOf(agentID string) (string, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	id, ok := e.agentCluster[agentID]
	return id, ok
}

// ExecuteHierarchicalConsensus runs the four-phase pipeline for req
// using in as the shared decision input dispatched to every voting
// member.
func (e *Engine) ExecuteHierarchicalConsensus(ctx context.Context, req ConsensusRequest, in agent.Input) HierarchicalConsensusResult {
	start := time.Now()
	if e.m != nil {
		e.m.ConsensusRequests.Inc()
	}

	targets := e.targetClusters(req.RequiredClusters)
	var records []PhaseRecord

	intraStart := time.Now()
	intraCtx, cancel := context.WithTimeout(ctx, phaseDeadline(req.Timeout, 0.60))
	clusterDecisions := e.intraPhase(intraCtx, targets, in)
	cancel()
	records = append(records, PhaseRecord{Phase: "intra", Duration: time.Since(intraStart), Detail: "dispatched to clusters"})

	interStart := time.Now()
	winner, interConfidence, totalWeight := e.interPhase(clusterDecisions)
	records = append(records, PhaseRecord{Phase: "inter", Duration: time.Since(interStart)})

	globalStart := time.Now()
	final, reached := decideGlobal(winner, interConfidence, req.MinimumConsensus)
	records = append(records, PhaseRecord{Phase: "global", Duration: time.Since(globalStart)})

	partitionInfo := e.finalize(targets, clusterDecisions)
	records = append(records, PhaseRecord{Phase: "finalize", Duration: time.Since(globalStart)})

	if e.m != nil {
		if reached {
			e.m.ConsensusReached.Inc()
		} else {
			e.m.ConsensusFailed.WithLabelValues(string(final)).Inc()
		}
		if partitionInfo.Status == types.PartitionPartitioned {
			e.m.PartitionDetected.Inc()
		}
	}
	if e.audit != nil {
		_ = e.audit.Write(ctx, collab.AuditEvent{
			Event: "consensus_executed",
			Fields: map[string]any{
				"request_id": req.RequestID, "decision": string(final),
				"consensus_reached": reached, "confidence": interConfidence,
			},
			Timestamp: time.Now(),
		})
	}

	_ = totalWeight
	return HierarchicalConsensusResult{
		RequestID:        req.RequestID,
		ConsensusReached: reached,
		FinalDecision:    final,
		ClusterDecisions: clusterDecisions,
		GlobalConfidence: interConfidence,
		PhaseRecords:     records,
		ProcessingTime:   time.Since(start),
		PartitionInfo:    partitionInfo,
	}
}

// decideGlobal applies spec §4.5's global phase: the inter-cluster
// winner stands if its confidence clears the request's minimum,
// otherwise the result is INSUFFICIENT_CONSENSUS.
func decideGlobal(winner types.DecisionOutcome, interConfidence, minimumConsensus float64) (final types.DecisionOutcome, reached bool) {
	if interConfidence >= minimumConsensus {
		return winner, true
	}
	return types.InsufficientConsensus, false
}

func phaseDeadline(total time.Duration, fraction float64) time.Duration {
	if total <= 0 {
		return time.Second
	}
	return time.Duration(float64(total) * fraction)
}

func (e *Engine) targetClusters(required []string) []*Cluster {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if len(required) == 0 {
		out := make([]*Cluster, 0, len(e.clusters))
		for _, c := range e.clusters {
			out = append(out, c)
		}
		return out
	}
	var out []*Cluster
	for _, id := range required {
		if c, ok := e.clusters[id]; ok {
			out = append(out, c)
		}
	}
	return out
}

// intraPhase dispatches req to every cluster concurrently; each
// cluster gathers one vote per member and tallies a majority decision.
// A cluster-level failure yields {decision=ERROR, confidence=0} and
// never aborts the others.
func (e *Engine) intraPhase(ctx context.Context, clusters []*Cluster, in agent.Input) map[string]ClusterDecision {
	results := make(map[string]ClusterDecision, len(clusters))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for _, c := range clusters {
		c := c
		g.Go(func() error {
			cd := e.voteCluster(gctx, c, in)
			mu.Lock()
			results[c.ClusterID] = cd
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait() // voteCluster never returns an error: cluster failure becomes a DecisionError vote

	return results
}

func (e *Engine) voteCluster(ctx context.Context, c *Cluster, in agent.Input) ClusterDecision {
	members := c.Members.List()
	votes := make([]agent.Decision, 0, len(members))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, memberID := range members {
		memberID := memberID
		wg.Add(1)
		go func() {
			defer wg.Done()
			select {
			case <-ctx.Done():
				mu.Lock()
				votes = append(votes, agent.Decision{Outcome: types.DecisionError})
				mu.Unlock()
				return
			default:
			}
			d, err := e.pool.Dispatch(memberID, in)
			mu.Lock()
			if err != nil {
				votes = append(votes, agent.Decision{Outcome: types.DecisionError})
			} else {
				votes = append(votes, d)
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	if len(votes) == 0 {
		return ClusterDecision{ClusterID: c.ClusterID, Decision: types.DecisionError, Leader: c.LeaderID}
	}

	tally := make(map[types.DecisionOutcome]int)
	for _, v := range votes {
		tally[v.Outcome]++
	}
	winner, winnerCount := types.DecisionError, 0
	for outcome, count := range tally {
		if count > winnerCount {
			winner, winnerCount = outcome, count
		}
	}
	return ClusterDecision{
		ClusterID:        c.ClusterID,
		Decision:         winner,
		Confidence:       float64(winnerCount) / float64(len(votes)),
		Leader:           c.LeaderID,
		VoteDistribution: tally,
	}
}

// interPhase runs a weighted vote across successful clusters, weight =
// cluster size, contribution = confidence * weight.
func (e *Engine) interPhase(decisions map[string]ClusterDecision) (winner types.DecisionOutcome, confidence float64, totalWeight float64) {
	contributions := make(map[types.DecisionOutcome]float64)

	e.mu.RLock()
	for id, cd := range decisions {
		if cd.Decision == types.DecisionError {
			continue
		}
		c, ok := e.clusters[id]
		if !ok {
			continue
		}
		weight := float64(c.Members.Len())
		totalWeight += weight
		contributions[cd.Decision] += cd.Confidence * weight
	}
	e.mu.RUnlock()

	if totalWeight == 0 {
		return types.DecisionError, 0, 0
	}

	best := 0.0
	for outcome, contribution := range contributions {
		if contribution > best {
			winner, best = outcome, contribution
		}
	}
	return winner, best / totalWeight, totalWeight
}

// finalize bumps cluster health for every participating cluster,
// refreshes heartbeats, and classifies the partition status.
func (e *Engine) finalize(targets []*Cluster, decisions map[string]ClusterDecision) PartitionInfo {
	e.mu.Lock()
	participating := 0
	for _, c := range targets {
		cd, ok := decisions[c.ClusterID]
		if ok && cd.Decision != types.DecisionError {
			c.Health += 0.1
			if c.Health > 1.0 {
				c.Health = 1.0
			}
			c.LastHeartbeat = time.Now()
			participating++
		}
	}
	e.mu.Unlock()

	ratio := 1.0
	if len(targets) > 0 {
		ratio = float64(participating) / float64(len(targets))
	}

	var status types.PartitionStatus
	var strategy string
	switch {
	case ratio < 0.6:
		status, strategy = types.PartitionPartitioned, "WAIT_FOR_HEALING"
	case ratio < 0.8:
		status, strategy = types.PartitionHealing, "CONTINUE_WITH_MAJORITY"
	default:
		status, strategy = types.PartitionConnected, ""
	}

	e.mu.Lock()
	for _, c := range targets {
		c.PartitionStatus = status
	}
	e.mu.Unlock()

	info := PartitionInfo{ParticipationRatio: ratio, Status: status, Strategy: strategy}
	e.partitionMu.Lock()
	e.partitionHistory = append(e.partitionHistory, info)
	if over := len(e.partitionHistory) - partitionHistoryCap; over > 0 {
		e.partitionHistory = e.partitionHistory[over:]
	}
	e.partitionMu.Unlock()
	return info
}

// PartitionHistory returns a snapshot of recorded partition classifications.
func (e *Engine) PartitionHistory() []PartitionInfo {
	e.partitionMu.Lock()
	defer e.partitionMu.Unlock()
	out := make([]PartitionInfo, len(e.partitionHistory))
	copy(out, e.partitionHistory)
	return out
}

// HandleAgentFailure removes agentID from its cluster, promoting the
// backup leader (or electing a new one) if the failed agent was
// leader. It returns true when the cluster is left below the minimum
// size; it does not recluster itself.
func (e *Engine) HandleAgentFailure(agentID string) (needsRebalance bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	clusterID, ok := e.agentCluster[agentID]
	if !ok {
		return false
	}
	c := e.clusters[clusterID]
	c.Members.Remove(agentID)
	delete(e.agentCluster, agentID)

	if c.LeaderID == agentID {
		if c.Members.Contains(c.BackupLeaderID) {
			c.LeaderID = c.BackupLeaderID
		} else {
			leader, _ := electLeaders(c.Members.List())
			c.LeaderID = leader
		}
		_, backup := electLeaders(c.Members.List())
		if backup == c.LeaderID {
			backup = ""
		}
		c.BackupLeaderID = backup
	} else if c.BackupLeaderID == agentID {
		_, backup := electLeaders(c.Members.List())
		c.BackupLeaderID = backup
	}

	for i, id := range e.knownAgents {
		if id == agentID {
			e.knownAgents = append(e.knownAgents[:i], e.knownAgents[i+1:]...)
			break
		}
	}

	return c.Members.Len() < e.cfg.Min
}

// KnownAgents returns the roster last used to (re)initialize clustering.
func (e *Engine) KnownAgents() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]string(nil), e.knownAgents...)
}
