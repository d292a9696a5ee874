// Copyright (C) 2025, ReliQuary Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package trust

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// CachedProfileStore is a read-through cache in front of another
// ProfileStore (normally FileProfileStore), for multi-process
// deployments where re-reading the JSON file on every evaluate() call
// would be wasteful. A cache miss or Redis outage falls back to next
// and the evaluation proceeds — spec.md §7 treats the profile as stale
// rather than missing on a PersistenceError, never fatal. Grounded on
// Generativebots-ocx-backend-go-svc, veerababumanyam-MediSync, and
// jordigilh-kubernaut, all of which pair redis-go-redis/v9 with a
// durable store for this exact read-through shape.
type CachedProfileStore struct {
	next   ProfileStore
	client *redis.Client
	ttl    time.Duration
}

func NewCachedProfileStore(next ProfileStore, client *redis.Client, ttl time.Duration) *CachedProfileStore {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CachedProfileStore{next: next, client: client, ttl: ttl}
}

func (c *CachedProfileStore) key(userID string) string {
	return "reliquary:trust_profile:" + userID
}

func (c *CachedProfileStore) Load(ctx context.Context, userID string) (*UserTrustProfile, bool, error) {
	if c.client != nil {
		if raw, err := c.client.Get(ctx, c.key(userID)).Bytes(); err == nil {
			var snap snapshot
			if jsonErr := json.Unmarshal(raw, &snap); jsonErr == nil {
				return fromSnapshot(snap), true, nil
			}
		}
	}
	profile, ok, err := c.next.Load(ctx, userID)
	if err != nil || !ok {
		return profile, ok, err
	}
	c.refreshCache(ctx, profile)
	return profile, ok, nil
}

func (c *CachedProfileStore) Save(ctx context.Context, profile *UserTrustProfile) error {
	if err := c.next.Save(ctx, profile); err != nil {
		return err
	}
	c.refreshCache(ctx, profile)
	return nil
}

func (c *CachedProfileStore) Delete(ctx context.Context, userID string) error {
	if c.client != nil {
		c.client.Del(ctx, c.key(userID))
	}
	return c.next.Delete(ctx, userID)
}

func (c *CachedProfileStore) refreshCache(ctx context.Context, profile *UserTrustProfile) {
	if c.client == nil {
		return
	}
	data, err := json.Marshal(profile.toSnapshot())
	if err != nil {
		return
	}
	// Best-effort: a cache-write failure must not fail the evaluation.
	_ = c.client.Set(ctx, c.key(profile.UserID), data, c.ttl).Err()
}

var _ ProfileStore = (*CachedProfileStore)(nil)
