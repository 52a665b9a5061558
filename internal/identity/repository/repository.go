package repository

import (
	"context"
	"time"

	"manifold/backend/internal/identity/domain"
)

// Repository defines persistence for login identities.
type Repository interface {
	GetByUserAndKind(ctx context.Context, userID string, kind domain.LoginIdentityType) (*domain.Identity, error)
	GetByIdentifier(ctx context.Context, kind domain.LoginIdentityType, identifier string) (*domain.Identity, error)
	Create(ctx context.Context, i *domain.Identity) error
	// MarkVerified sets verified_at once; later calls leave the row untouched. Returns false if no row matched.
	MarkVerified(ctx context.Context, userID string, kind domain.LoginIdentityType, at time.Time) (bool, error)
	Delete(ctx context.Context, userID string, kind domain.LoginIdentityType) error
}
