// Copyright (C) 2025, ReliQuary Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package contextverify implements the Context Verification Adapter
// (C2): a thin facade over the ZK context runner collaborator that
// rolls per-factor verification into a preliminary trust score.
package contextverify

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sort"

	"github.com/swayam8624/reliquary/collab"
	"github.com/swayam8624/reliquary/types"
)

// factorWeights are the per-factor contributions to the preliminary
// score, summed and capped at 100.
const (
	weightDevice    = 30
	weightLocation  = 25
	weightPattern   = 25
	weightTimestamp = 20
)

// Request carries the raw per-factor context plus what the caller
// requires before it will trust the result.
type Request struct {
	UserID            string
	DeviceFingerprint string
	ChallengeNonce    string

	DeviceContext    map[string]any
	TimestampContext map[string]any
	LocationContext  map[string]any
	PatternContext   map[string]any

	Level     types.VerificationLevel
	Required  types.VerificationFactor
}

// Result is the adapter's output, consumed by the trust engine and C3.
type Result struct {
	DeviceVerified    bool
	TimestampVerified bool
	LocationVerified  bool
	PatternVerified   bool

	Score           float64
	CombinedProofHash string
	LevelMet        bool
}

var levelThresholds = map[types.VerificationLevel]float64{
	types.VerificationBasic:    25,
	types.VerificationStandard: 65,
	types.VerificationHigh:     85,
	types.VerificationMaximum:  95,
}

// Adapter is C2.
type Adapter struct {
	runner collab.ZKRunner
}

// New wraps a ZK runner collaborator. Pass a collab.CachingZKRunner to
// avoid re-running identical circuits within their TTL.
func New(runner collab.ZKRunner) *Adapter {
	return &Adapter{runner: runner}
}

// Verify validates req's required factors and rolls up a preliminary
// score. A missing required context field for a required factor short
// circuits that factor to false without calling the runner for it.
func (a *Adapter) Verify(ctx context.Context, req Request) (Result, error) {
	if req.DeviceFingerprint == "" || req.ChallengeNonce == "" {
		return Result{}, collab.New(collab.KindConfiguration, "device fingerprint and challenge nonce are required")
	}

	var proofHashes []string
	var result Result

	if req.Required.Has(types.FactorDevice) {
		verified, hash := a.runFactor(ctx, "device", req.DeviceContext)
		result.DeviceVerified = verified
		if hash != "" {
			proofHashes = append(proofHashes, hash)
		}
	}
	if req.Required.Has(types.FactorTimestamp) {
		verified, hash := a.runFactor(ctx, "timestamp", req.TimestampContext)
		result.TimestampVerified = verified
		if hash != "" {
			proofHashes = append(proofHashes, hash)
		}
	}
	if req.Required.Has(types.FactorLocation) {
		verified, hash := a.runFactor(ctx, "location", req.LocationContext)
		result.LocationVerified = verified
		if hash != "" {
			proofHashes = append(proofHashes, hash)
		}
	}
	if req.Required.Has(types.FactorPattern) {
		verified, hash := a.runFactor(ctx, "pattern", req.PatternContext)
		result.PatternVerified = verified
		if hash != "" {
			proofHashes = append(proofHashes, hash)
		}
	}

	score := 0.0
	if result.DeviceVerified {
		score += weightDevice
	}
	if result.LocationVerified {
		score += weightLocation
	}
	if result.PatternVerified {
		score += weightPattern
	}
	if result.TimestampVerified {
		score += weightTimestamp
	}
	if score > 100 {
		score = 100
	}
	result.Score = score
	result.CombinedProofHash = combineHashes(proofHashes)
	result.LevelMet = allRequiredContextSupplied(req) && score >= levelThresholds[req.Level]

	return result, nil
}

// allRequiredContextSupplied reports whether every factor set in
// req.Required had a non-nil context map. A required factor with no
// context never actually ran a circuit, so it cannot count toward
// level_met regardless of how high the other factors push the score.
func allRequiredContextSupplied(req Request) bool {
	if req.Required.Has(types.FactorDevice) && req.DeviceContext == nil {
		return false
	}
	if req.Required.Has(types.FactorTimestamp) && req.TimestampContext == nil {
		return false
	}
	if req.Required.Has(types.FactorLocation) && req.LocationContext == nil {
		return false
	}
	if req.Required.Has(types.FactorPattern) && req.PatternContext == nil {
		return false
	}
	return true
}

// runFactor calls the ZK runner for a single factor. A nil context map
// means the caller never supplied that factor's evidence: it is
// treated as unverified without invoking the runner.
func (a *Adapter) runFactor(ctx context.Context, circuitType string, factorCtx map[string]any) (verified bool, proofHash string) {
	if factorCtx == nil || a.runner == nil {
		return false, ""
	}
	out, err := a.runner.Run(ctx, collab.ZKInput{CircuitType: circuitType, Inputs: factorCtx})
	if err != nil {
		return false, ""
	}
	return out.Verified, out.ProofHash
}

// combineHashes produces a stable hash over the included per-factor
// proof hashes, independent of the order factors were evaluated in.
func combineHashes(hashes []string) string {
	if len(hashes) == 0 {
		return ""
	}
	sorted := append([]string(nil), hashes...)
	sort.Strings(sorted)
	h := sha256.New()
	for _, hash := range sorted {
		h.Write([]byte(hash))
	}
	return hex.EncodeToString(h.Sum(nil))
}
