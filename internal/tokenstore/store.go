// Package tokenstore issues and redeems single-use, expiring verification tokens bound to a subject.
package tokenstore

import (
	"context"
	"errors"
	"time"

	"manifold/backend/internal/identity/domain"
)

var (
	// ErrTokenNotFound is returned by Redeem when the token never existed, expired or was already redeemed.
	ErrTokenNotFound = errors.New("token not found")
	// ErrStoreUnavailable is returned when the backing store cannot be reached in time.
	ErrStoreUnavailable = errors.New("token store unavailable")
)

// Claims is what a redeemed token resolves to.
type Claims struct {
	Subject  string                   `json:"sub"`
	Kind     domain.LoginIdentityType `json:"kind"`
	IssuedAt int64                    `json:"iat"`
}

// IssuedTime returns IssuedAt as a time.Time.
func (c *Claims) IssuedTime() time.Time {
	return time.Unix(c.IssuedAt, 0).UTC()
}

// Store holds verification tokens. At most one token per (subject, kind) is live: issuing a new one
// invalidates the previous. A token can be redeemed exactly once.
type Store interface {
	// Issue creates a token for subjectID that expires after the store's TTL.
	Issue(ctx context.Context, subjectID string, kind domain.LoginIdentityType) (string, error)
	// Redeem atomically consumes the token and returns its claims.
	Redeem(ctx context.Context, token string) (*Claims, error)
}
