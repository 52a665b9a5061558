package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"manifold/backend/internal/db"
	"manifold/backend/internal/identity/domain"
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns an identity repository that uses the given db for persistence.
func NewPostgresRepository(conn *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: conn}
}

const identityColumns = `user_id, kind, identifier, password_hash, salt, verified_at, created_at, updated_at`

// GetByUserAndKind returns the identity for the given user and kind, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByUserAndKind(ctx context.Context, userID string, kind domain.LoginIdentityType) (*domain.Identity, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+identityColumns+` FROM login_identities WHERE user_id = $1 AND kind = $2`, userID, string(kind))
	return scanOptional(row)
}

// GetByIdentifier returns the identity holding identifier for kind, or nil if not found.
func (r *PostgresRepository) GetByIdentifier(ctx context.Context, kind domain.LoginIdentityType, identifier string) (*domain.Identity, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+identityColumns+` FROM login_identities WHERE kind = $1 AND identifier = $2`, string(kind), identifier)
	return scanOptional(row)
}

// Create persists the identity. Returns db.ErrDuplicate (wrapped) when the user already has an identity
// of this kind or the identifier is taken.
func (r *PostgresRepository) Create(ctx context.Context, i *domain.Identity) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO login_identities (user_id, kind, identifier, password_hash, salt, verified_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		i.UserID, string(i.Kind), i.Identifier, i.PasswordHash, i.Salt, nullTime(i.VerifiedAt), i.CreatedAt, i.UpdatedAt)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return fmt.Errorf("create %s identity: %w", i.Kind, db.ErrDuplicate)
		}
		return err
	}
	return nil
}

// MarkVerified stamps verified_at with at unless it is already set.
func (r *PostgresRepository) MarkVerified(ctx context.Context, userID string, kind domain.LoginIdentityType, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE login_identities
		 SET verified_at = COALESCE(verified_at, $3),
		     updated_at = CASE WHEN verified_at IS NULL THEN $3 ELSE updated_at END
		 WHERE user_id = $1 AND kind = $2`,
		userID, string(kind), at)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Delete removes the identity. Deleting a missing identity is not an error.
func (r *PostgresRepository) Delete(ctx context.Context, userID string, kind domain.LoginIdentityType) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM login_identities WHERE user_id = $1 AND kind = $2`, userID, string(kind))
	return err
}

func scanOptional(row *sql.Row) (*domain.Identity, error) {
	var (
		i        domain.Identity
		kind     string
		verified sql.NullTime
	)
	err := row.Scan(&i.UserID, &kind, &i.Identifier, &i.PasswordHash, &i.Salt, &verified, &i.CreatedAt, &i.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	i.Kind = domain.LoginIdentityType(kind)
	if verified.Valid {
		t := verified.Time
		i.VerifiedAt = &t
	}
	return &i, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
