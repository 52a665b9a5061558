package repository

import (
	"context"

	"manifold/backend/internal/user/domain"
)

// Repository defines persistence for users.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.User, error)
	List(ctx context.Context, limit, offset int32) ([]*domain.User, error)
	Create(ctx context.Context, u *domain.User) error
	// Delete removes the user and, by cascade, its login identities. Returns false if no row matched.
	Delete(ctx context.Context, id string) (bool, error)
}
