// Package registry is the closed-world registry of login identity kinds. For every kind it knows how to
// create the stored record from a submitted credential, which delivery target verification messages go
// to, and how to complete verification.
package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"

	"manifold/backend/internal/db"
	"manifold/backend/internal/identity/domain"
	"manifold/backend/internal/identity/repository"
	"manifold/backend/internal/security"
)

var (
	// ErrValidationFailed is returned when a submitted identity is malformed.
	ErrValidationFailed = errors.New("login identity validation failed")
	// ErrDuplicateIdentity is returned when the identifier is already held by another user.
	ErrDuplicateIdentity = errors.New("login identity already exists")
	// ErrIdentityNotFound is returned when no identity of the kind exists for the user.
	ErrIdentityNotFound = errors.New("login identity not found")
	// ErrStoreFailure wraps relational store errors that are not one of the above.
	ErrStoreFailure = errors.New("login identity store failure")
	// ErrUnsupportedKind is returned for identity values or kinds the registry has no handler for.
	ErrUnsupportedKind = errors.New("unsupported login identity kind")
)

// Registry dispatches over the closed set of login identity kinds.
type Registry struct {
	repo   repository.Repository
	hasher *security.Hasher
	now    func() time.Time
}

// New returns a Registry backed by repo. It fails if any kind in domain.AllLoginIdentityTypes has no handler.
func New(repo repository.Repository, hasher *security.Hasher) (*Registry, error) {
	if repo == nil || hasher == nil {
		return nil, errors.New("registry: repository and hasher are required")
	}
	for _, k := range domain.AllLoginIdentityTypes() {
		if !handles(k) {
			return nil, fmt.Errorf("registry: no handler for kind %q", k)
		}
	}
	return &Registry{repo: repo, hasher: hasher, now: time.Now}, nil
}

func handles(kind domain.LoginIdentityType) bool {
	switch kind {
	case domain.LoginIdentityTypeEmail:
		return true
	}
	return false
}

// Validate checks the submitted identity without touching storage.
func (r *Registry) Validate(id domain.LoginIdentity) error {
	switch v := id.(type) {
	case domain.EmailPassword:
		return validateEmailPassword(v)
	case *domain.EmailPassword:
		if v == nil {
			return fmt.Errorf("%w: identity is required", ErrValidationFailed)
		}
		return validateEmailPassword(*v)
	case nil:
		return fmt.Errorf("%w: identity is required", ErrValidationFailed)
	default:
		return fmt.Errorf("%w: %T", ErrUnsupportedKind, id)
	}
}

func validateEmailPassword(v domain.EmailPassword) error {
	v.Email = strings.TrimSpace(v.Email)
	err := validation.ValidateStruct(&v,
		validation.Field(&v.Email, validation.Required, is.EmailFormat),
		validation.Field(&v.Password, validation.Required),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrValidationFailed, err)
	}
	return nil
}

// Identifier returns the normalized unique handle of the identity.
func Identifier(id domain.LoginIdentity) (string, error) {
	switch v := id.(type) {
	case domain.EmailPassword:
		return normalizeEmail(v.Email), nil
	case *domain.EmailPassword:
		if v == nil {
			return "", fmt.Errorf("%w: nil identity", ErrUnsupportedKind)
		}
		return normalizeEmail(v.Email), nil
	default:
		return "", fmt.Errorf("%w: %T", ErrUnsupportedKind, id)
	}
}

// DeliveryTarget returns where verification messages for the identity are sent.
// For email identities this is the email address.
func (r *Registry) DeliveryTarget(id domain.LoginIdentity) (string, error) {
	switch id.(type) {
	case domain.EmailPassword, *domain.EmailPassword:
		return Identifier(id)
	default:
		return "", fmt.Errorf("%w: %T", ErrUnsupportedKind, id)
	}
}

func normalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Exists reports whether the identity's identifier is already held by some user.
func (r *Registry) Exists(ctx context.Context, id domain.LoginIdentity) (bool, error) {
	ident, err := Identifier(id)
	if err != nil {
		return false, err
	}
	existing, err := r.repo.GetByIdentifier(ctx, id.Kind(), ident)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStoreFailure, err)
	}
	return existing != nil, nil
}

// Add validates the identity, hashes its secret with a fresh salt and attaches it to userID.
// The plaintext password is never persisted.
func (r *Registry) Add(ctx context.Context, userID string, id domain.LoginIdentity) error {
	if err := r.Validate(id); err != nil {
		return err
	}
	var record *domain.Identity
	switch v := id.(type) {
	case domain.EmailPassword:
		rec, err := r.emailRecord(userID, v)
		if err != nil {
			return err
		}
		record = rec
	case *domain.EmailPassword:
		rec, err := r.emailRecord(userID, *v)
		if err != nil {
			return err
		}
		record = rec
	default:
		return fmt.Errorf("%w: %T", ErrUnsupportedKind, id)
	}
	if err := r.repo.Create(ctx, record); err != nil {
		if errors.Is(err, db.ErrDuplicate) {
			return ErrDuplicateIdentity
		}
		return fmt.Errorf("%w: %v", ErrStoreFailure, err)
	}
	return nil
}

func (r *Registry) emailRecord(userID string, v domain.EmailPassword) (*domain.Identity, error) {
	salt, err := security.NewSalt()
	if err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	hash, err := r.hasher.Hash([]byte(v.Password), salt)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	now := r.now().UTC()
	return &domain.Identity{
		UserID:       userID,
		Kind:         domain.LoginIdentityTypeEmail,
		Identifier:   normalizeEmail(v.Email),
		PasswordHash: hash,
		Salt:         salt,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// Remove detaches the identity of kind from userID. Removing a missing identity is not an error.
func (r *Registry) Remove(ctx context.Context, userID string, kind domain.LoginIdentityType) error {
	if !handles(kind) {
		return fmt.Errorf("%w: %q", ErrUnsupportedKind, kind)
	}
	if err := r.repo.Delete(ctx, userID, kind); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreFailure, err)
	}
	return nil
}

// MarkVerified completes verification of the identity of kind owned by userID.
// Calling it on an already verified identity is a no-op.
func (r *Registry) MarkVerified(ctx context.Context, userID string, kind domain.LoginIdentityType) error {
	if !handles(kind) {
		return fmt.Errorf("%w: %q", ErrUnsupportedKind, kind)
	}
	found, err := r.repo.MarkVerified(ctx, userID, kind, r.now().UTC())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreFailure, err)
	}
	if !found {
		return ErrIdentityNotFound
	}
	return nil
}
