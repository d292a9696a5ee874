// Copyright (C) 2025, ReliQuary Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/swayam8624/reliquary/collab"
	"github.com/swayam8624/reliquary/system"
)

func resetFlags(t *testing.T) {
	t.Helper()
	origRedis, origNats, origSubject := *redisAddr, *natsURL, *natsSubject
	t.Cleanup(func() {
		*redisAddr, *natsURL, *natsSubject = origRedis, origNats, origSubject
	})
}

func TestBuildCollaborators_DefaultsToInProcessCollaborators(t *testing.T) {
	resetFlags(t)
	*redisAddr, *natsURL = "", ""

	c := buildCollaborators(system.DefaultConfig())
	require.Nil(t, c.ProfileStore)
	require.Nil(t, c.AuditWriter)
	require.Equal(t, collab.NoOpZKRunner{}, c.ZKRunner)
}

func TestBuildCollaborators_UnreachableRedisDegradesGracefully(t *testing.T) {
	resetFlags(t)
	*redisAddr = "127.0.0.1:1" // nothing listens on port 1; dial/ping fails immediately
	*natsURL = ""

	c := buildCollaborators(system.DefaultConfig())
	require.Nil(t, c.ProfileStore, "a failed redis ping must fall back to the default file store")
}

func TestBuildCollaborators_UnreachableNATSDegradesGracefully(t *testing.T) {
	resetFlags(t)
	*redisAddr = ""
	*natsURL = "nats://127.0.0.1:1"

	c := buildCollaborators(system.DefaultConfig())
	require.Nil(t, c.AuditWriter, "a failed nats connect must fall back to the default ring writer")
}
