// Copyright (C) 2025, ReliQuary Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package collab

import (
	"context"
	"time"
)

// TokenIssuer is named by spec.md's Open Question 2: the HTTP layer
// mentions an access_token with expiry that the consensus core does
// not currently construct. This interface lets a future HTTP
// collaborator add one without changing consensus semantics; nothing
// in this module calls it yet.
type TokenIssuer interface {
	Issue(ctx context.Context, userID string, ttl time.Duration) (token string, err error)
}
