// Copyright (C) 2025, ReliQuary Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package collab defines the external collaborator interfaces named in
// spec.md §6 (cryptography, the ZK context runner, the Merkle audit
// writer, the trust profile store, and a token issuer stub) plus
// default, non-authoritative adapters for each. The core never depends
// on a collaborator's internals — only on these contracts.
package collab

import "errors"

// Kind classifies an error the way spec.md §7 names them, so callers
// can branch on category instead of matching strings.
type Kind int

const (
	KindUnknown Kind = iota
	KindConfiguration
	KindCapacity
	KindVoteFailure
	KindPhaseTimeout
	KindPartitionDetected
	KindHealthFailure
	KindPersistence
	KindSystem
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration_error"
	case KindCapacity:
		return "capacity_error"
	case KindVoteFailure:
		return "vote_failure"
	case KindPhaseTimeout:
		return "phase_timeout"
	case KindPartitionDetected:
		return "partition_detected"
	case KindHealthFailure:
		return "health_failure"
	case KindPersistence:
		return "persistence_error"
	case KindSystem:
		return "system_error"
	default:
		return "unknown"
	}
}

// Error wraps an underlying error with a Kind, so PersistenceError from
// a profile store (for example) stays distinguishable after wrapping.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return e.Kind.String() + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a classified error.
func New(kind Kind, msg string) error {
	return &Error{Kind: kind, Err: errors.New(msg)}
}

// Wrap classifies an existing error.
func Wrap(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: err}
}

// KindOf extracts the Kind from err, or KindUnknown if err wasn't
// produced by this package.
func KindOf(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindUnknown
}
