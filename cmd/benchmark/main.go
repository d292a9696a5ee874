// Copyright (C) 2025, ReliQuary Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Command benchmark drives a production-readiness load test against
// an in-process ReliQuary system: a batch of concurrent vault-access
// requests through trust scoring, context verification, and
// hierarchical consensus, reporting throughput, latency percentiles,
// and a pass/fail grade.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"

	"github.com/swayam8624/reliquary/collab"
	"github.com/swayam8624/reliquary/contextverify"
	"github.com/swayam8624/reliquary/system"
	"github.com/swayam8624/reliquary/trust"
	"github.com/swayam8624/reliquary/types"
)

var (
	configPath  = flag.String("config", "", "Path to a system YAML config file")
	operations  = flag.Int("operations", 500, "Total number of access requests to run")
	concurrency = flag.Int("concurrency", 50, "Number of requests in flight at once")
	timeout     = flag.Duration("timeout", 10*time.Second, "Per-request consensus timeout")

	redisAddr   = flag.String("redis-addr", "", "Optional redis address; when set, trust profiles read through a CachedProfileStore instead of the file store directly")
	natsURL     = flag.String("nats-url", "", "Optional NATS server URL; when set, audit events also publish to nats-subject")
	natsSubject = flag.String("nats-subject", "reliquary.audit", "NATS subject audit events publish to when nats-url is set")
)

// result is one request's outcome, mirroring the latency/error shape
// the original benchmark harness tracked per operation.
type result struct {
	latency time.Duration
	err     error
}

func main() {
	flag.Parse()

	cfg, err := system.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "benchmark: loading config: %v\n", err)
		os.Exit(1)
	}

	sys, err := system.New(cfg, buildCollaborators(cfg))
	if err != nil {
		fmt.Fprintf(os.Stderr, "benchmark: starting system: %v\n", err)
		os.Exit(1)
	}
	defer sys.Shutdown(context.Background())

	results := run(sys, *operations, *concurrency, *timeout)
	report := summarize(results)
	report.PoolDispatchLatencyMs = sys.Pool.DispatchLatencyAverage()
	printReport(report)

	if report.SuccessRate >= 99.0 {
		fmt.Println("production ready")
		os.Exit(0)
	}
	fmt.Println("system needs performance optimization before production")
	os.Exit(1)
}

// buildCollaborators wires the opt-in redis-backed profile cache and
// NATS audit fan-out when their respective flags are set, falling
// back to system.New's in-process defaults otherwise. A connection
// failure is logged and degrades to the default rather than aborting
// the run, matching spec.md §7's "never fatal on a collaborator
// outage" framing.
func buildCollaborators(cfg system.Config) system.Collaborators {
	var collaborators system.Collaborators

	if *redisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: *redisAddr})
		if err := client.Ping(context.Background()).Err(); err != nil {
			fmt.Fprintf(os.Stderr, "benchmark: redis unavailable at %s, using file store only: %v\n", *redisAddr, err)
		} else {
			base := trust.NewFileProfileStore(cfg.TrustProfileDir)
			collaborators.ProfileStore = trust.NewCachedProfileStore(base, client, 5*time.Minute)
		}
	}

	if *natsURL != "" {
		conn, err := nats.Connect(*natsURL)
		if err != nil {
			fmt.Fprintf(os.Stderr, "benchmark: nats unavailable at %s, audit events stay in-process only: %v\n", *natsURL, err)
		} else {
			collaborators.AuditWriter = collab.NewMultiAuditWriter(
				collab.NewRingAuditWriter(1000),
				collab.NewNATSAuditWriter(conn, *natsSubject),
			)
		}
	}

	collaborators.ZKRunner = collab.NoOpZKRunner{}
	return collaborators
}

func run(sys *system.System, operations, concurrency int, timeout time.Duration) []result {
	results := make([]result, operations)
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup

	for i := 0; i < operations; i++ {
		i := i
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			results[i] = runOne(sys, i, timeout)
		}()
	}
	wg.Wait()
	return results
}

func runOne(sys *system.System, i int, timeout time.Duration) result {
	start := time.Now()
	userID := fmt.Sprintf("benchmark-user-%d", i)

	req := system.Request{
		RequestID: fmt.Sprintf("benchmark-req-%d", i),
		UserID:    userID,
		Timeout:   timeout,
		TrustContext: trust.Context{
			DeviceVerified: true, TimestampVerified: true, LocationVerified: true, PatternVerified: true,
			DeviceFingerprint: fmt.Sprintf("device-%d", i%10),
			BusinessHours:     true, IPConsistent: true,
		},
		VerifyRequest: contextverify.Request{
			UserID:            userID,
			DeviceFingerprint: fmt.Sprintf("device-%d", i%10),
			ChallengeNonce:    fmt.Sprintf("nonce-%d", i),
			DeviceContext:     map[string]any{"seen": true},
			Required:          types.FactorDevice,
			Level:             types.VerificationBasic,
		},
		MinimumConsensus: 0.5,
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	_, err := sys.RequestAccess(ctx, req)
	return result{latency: time.Since(start), err: err}
}

// report mirrors the original Python harness's BenchmarkResult shape,
// trimmed to what a single in-process run can actually measure.
type report struct {
	TotalOperations int
	TotalTime       time.Duration
	OpsPerSecond    float64
	AvgLatencyMs    float64
	P95LatencyMs    float64
	P99LatencyMs    float64
	SuccessRate     float64
	Errors          []string

	// PoolDispatchLatencyMs is read straight from the pool's own
	// Prometheus-backed running average, independent of this
	// process's own latency sampling above.
	PoolDispatchLatencyMs float64
}

func summarize(results []result) report {
	var total time.Duration
	var failed int
	var errs []string
	latencies := make([]float64, 0, len(results))

	for _, r := range results {
		total += r.latency
		latencies = append(latencies, float64(r.latency.Milliseconds()))
		if r.err != nil {
			failed++
			if len(errs) < 10 {
				errs = append(errs, r.err.Error())
			}
		}
	}

	sort.Float64s(latencies)
	n := len(results)
	rep := report{
		TotalOperations: n,
		TotalTime:       total,
		SuccessRate:     float64(n-failed) / float64(n) * 100,
		Errors:          errs,
	}
	if n > 0 {
		rep.AvgLatencyMs = mean(latencies)
		rep.P95LatencyMs = percentile(latencies, 0.95)
		rep.P99LatencyMs = percentile(latencies, 0.99)
	}
	if total > 0 {
		rep.OpsPerSecond = float64(n) / total.Seconds()
	}
	return rep
}

func mean(xs []float64) float64 {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// percentile assumes xs is sorted ascending.
func percentile(xs []float64, p float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	idx := int(p * float64(len(xs)-1))
	return xs[idx]
}

func printReport(r report) {
	fmt.Println("============================================================")
	fmt.Println("RELIQUARY PERFORMANCE BENCHMARK RESULTS")
	fmt.Println("============================================================")
	fmt.Printf("Total Operations: %d\n", r.TotalOperations)
	fmt.Printf("Ops/sec: %.1f\n", r.OpsPerSecond)
	fmt.Printf("Avg Latency: %.2fms\n", r.AvgLatencyMs)
	fmt.Printf("P95 Latency: %.2fms\n", r.P95LatencyMs)
	fmt.Printf("P99 Latency: %.2fms\n", r.P99LatencyMs)
	fmt.Printf("Success Rate: %.2f%%\n", r.SuccessRate)
	fmt.Printf("Pool Dispatch Latency (avg): %.2fms\n", r.PoolDispatchLatencyMs)
	if len(r.Errors) > 0 {
		fmt.Println("Sample errors:")
		for _, e := range r.Errors {
			fmt.Printf("  - %s\n", e)
		}
	}
	fmt.Println("============================================================")
}
