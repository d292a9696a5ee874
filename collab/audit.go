// Copyright (C) 2025, ReliQuary Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package collab

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// AuditEvent is the append-only record written by C1/C4/C5/C7 (spec §6.3).
type AuditEvent struct {
	Event     string         `json:"event"`
	Fields    map[string]any `json:"fields,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// AuditWriter is the Merkle audit log collaborator contract. The real
// implementation (out of scope here) chains each event into a Merkle
// log; the core only ever appends.
type AuditWriter interface {
	Write(ctx context.Context, event AuditEvent) error
}

// RingAuditWriter is the default in-process AuditWriter: a bounded ring
// buffer, matching spec §6's "no persistence unless a store is
// supplied" for consensus/scaling/partition history.
type RingAuditWriter struct {
	mu    sync.Mutex
	cap   int
	items []AuditEvent
}

// NewRingAuditWriter returns a writer bounded to capacity cap.
func NewRingAuditWriter(cap int) *RingAuditWriter {
	if cap <= 0 {
		cap = 1000
	}
	return &RingAuditWriter{cap: cap}
}

func (w *RingAuditWriter) Write(_ context.Context, event AuditEvent) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.items = append(w.items, event)
	if over := len(w.items) - w.cap; over > 0 {
		w.items = w.items[over:]
	}
	return nil
}

// Snapshot returns a consistent, truncated copy of recorded events.
func (w *RingAuditWriter) Snapshot() []AuditEvent {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]AuditEvent, len(w.items))
	copy(out, w.items)
	return out
}

// NATSAuditWriter publishes audit events to a subject, best-effort: a
// publish failure is logged by the caller but never blocks the
// decision path, matching spec §6.5's "must continue to operate if
// absent" framing extended to the audit sink. Grounded on
// dataparency-dev-AI-delegation and veerababumanyam-MediSync's direct
// use of nats-io/nats.go for event fan-out.
type NATSAuditWriter struct {
	conn    *nats.Conn
	subject string
}

// NewNATSAuditWriter wraps an already-connected NATS connection.
func NewNATSAuditWriter(conn *nats.Conn, subject string) *NATSAuditWriter {
	return &NATSAuditWriter{conn: conn, subject: subject}
}

func (w *NATSAuditWriter) Write(_ context.Context, event AuditEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return Wrap(KindSystem, err)
	}
	if err := w.conn.Publish(w.subject, payload); err != nil {
		return Wrap(KindSystem, err)
	}
	return nil
}

// MultiAuditWriter fans an event out to several writers, collecting but
// not aborting on per-writer failures — an audit sink outage must never
// block C1/C4/C5/C7.
type MultiAuditWriter struct {
	writers []AuditWriter
}

func NewMultiAuditWriter(writers ...AuditWriter) *MultiAuditWriter {
	return &MultiAuditWriter{writers: writers}
}

func (m *MultiAuditWriter) Write(ctx context.Context, event AuditEvent) error {
	var firstErr error
	for _, w := range m.writers {
		if err := w.Write(ctx, event); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
