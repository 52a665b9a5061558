package registry

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"manifold/backend/internal/db"
	"manifold/backend/internal/identity/domain"
	"manifold/backend/internal/security"
)

type identityKey struct {
	userID string
	kind   domain.LoginIdentityType
}

// memIdentityRepo enforces the same uniqueness rules as the login_identities table.
type memIdentityRepo struct {
	mu        sync.Mutex
	rows      map[identityKey]*domain.Identity
	createErr error
	markErr   error
	deleteErr error
}

func newMemIdentityRepo() *memIdentityRepo {
	return &memIdentityRepo{rows: make(map[identityKey]*domain.Identity)}
}

func (m *memIdentityRepo) GetByUserAndKind(_ context.Context, userID string, kind domain.LoginIdentityType) (*domain.Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if i, ok := m.rows[identityKey{userID, kind}]; ok {
		cp := *i
		return &cp, nil
	}
	return nil, nil
}

func (m *memIdentityRepo) GetByIdentifier(_ context.Context, kind domain.LoginIdentityType, identifier string) (*domain.Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, i := range m.rows {
		if i.Kind == kind && i.Identifier == identifier {
			cp := *i
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memIdentityRepo) Create(_ context.Context, i *domain.Identity) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[identityKey{i.UserID, i.Kind}]; ok {
		return db.ErrDuplicate
	}
	for _, r := range m.rows {
		if r.Kind == i.Kind && r.Identifier == i.Identifier {
			return db.ErrDuplicate
		}
	}
	cp := *i
	m.rows[identityKey{i.UserID, i.Kind}] = &cp
	return nil
}

func (m *memIdentityRepo) MarkVerified(_ context.Context, userID string, kind domain.LoginIdentityType, at time.Time) (bool, error) {
	if m.markErr != nil {
		return false, m.markErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	i, ok := m.rows[identityKey{userID, kind}]
	if !ok {
		return false, nil
	}
	if i.VerifiedAt == nil {
		i.VerifiedAt = &at
		i.UpdatedAt = at
	}
	return true, nil
}

func (m *memIdentityRepo) Delete(_ context.Context, userID string, kind domain.LoginIdentityType) error {
	if m.deleteErr != nil {
		return m.deleteErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rows, identityKey{userID, kind})
	return nil
}

func newTestRegistry(t *testing.T) (*Registry, *memIdentityRepo) {
	t.Helper()
	repo := newMemIdentityRepo()
	r, err := New(repo, security.NewHasher(4))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return r, repo
}

func TestNew_RequiresDeps(t *testing.T) {
	if _, err := New(nil, security.NewHasher(4)); err == nil {
		t.Error("New with nil repository should fail")
	}
	if _, err := New(newMemIdentityRepo(), nil); err == nil {
		t.Error("New with nil hasher should fail")
	}
}

func TestEveryKindHandled(t *testing.T) {
	for _, k := range domain.AllLoginIdentityTypes() {
		if !handles(k) {
			t.Errorf("kind %q has no registry handler", k)
		}
	}
	if handles("carrier-pigeon") {
		t.Error("unknown kind must not be handled")
	}
}

func TestValidate(t *testing.T) {
	r, _ := newTestRegistry(t)
	testCases := []struct {
		name string
		id   domain.LoginIdentity
		err  error
	}{
		{"valid", domain.EmailPassword{Email: "a@b.com", Password: "p"}, nil},
		{"valid pointer", &domain.EmailPassword{Email: "a@b.com", Password: "p"}, nil},
		{"padded email", domain.EmailPassword{Email: "  a@b.com ", Password: "p"}, nil},
		{"empty email", domain.EmailPassword{Email: "", Password: "p"}, ErrValidationFailed},
		{"malformed email", domain.EmailPassword{Email: "not-an-email", Password: "p"}, ErrValidationFailed},
		{"empty password", domain.EmailPassword{Email: "a@b.com", Password: ""}, ErrValidationFailed},
		{"nil identity", nil, ErrValidationFailed},
		{"nil pointer", (*domain.EmailPassword)(nil), ErrValidationFailed},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := r.Validate(tc.id)
			if tc.err == nil {
				if err != nil {
					t.Fatalf("Validate: %v", err)
				}
				return
			}
			if !errors.Is(err, tc.err) {
				t.Fatalf("Validate err = %v, want %v", err, tc.err)
			}
		})
	}
}

func TestDeliveryTarget(t *testing.T) {
	r, _ := newTestRegistry(t)
	got, err := r.DeliveryTarget(domain.EmailPassword{Email: " Alice@Example.COM ", Password: "p"})
	if err != nil {
		t.Fatalf("DeliveryTarget: %v", err)
	}
	if got != "alice@example.com" {
		t.Errorf("DeliveryTarget = %q, want alice@example.com", got)
	}
}

func TestAdd_HashesPassword(t *testing.T) {
	r, repo := newTestRegistry(t)
	ctx := context.Background()

	if err := r.Add(ctx, "u-1", domain.EmailPassword{Email: "a@b.com", Password: "secret"}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	got, _ := repo.GetByUserAndKind(ctx, "u-1", domain.LoginIdentityTypeEmail)
	if got == nil {
		t.Fatal("identity not stored")
	}
	if got.Identifier != "a@b.com" {
		t.Errorf("Identifier = %q", got.Identifier)
	}
	if got.PasswordHash == "" || strings.Contains(got.PasswordHash, "secret") {
		t.Errorf("PasswordHash must be a hash, got %q", got.PasswordHash)
	}
	if got.Salt == "" {
		t.Error("Salt must be set")
	}
	if got.Verified() {
		t.Error("new identity must be unverified")
	}
	if err := security.NewHasher(4).Compare(got.PasswordHash, got.Salt, []byte("secret")); err != nil {
		t.Errorf("stored hash does not verify: %v", err)
	}
}

func TestAdd_Errors(t *testing.T) {
	ctx := context.Background()

	t.Run("duplicate identifier", func(t *testing.T) {
		r, _ := newTestRegistry(t)
		if err := r.Add(ctx, "u-1", domain.EmailPassword{Email: "a@b.com", Password: "p"}); err != nil {
			t.Fatalf("Add: %v", err)
		}
		err := r.Add(ctx, "u-2", domain.EmailPassword{Email: "A@B.com", Password: "q"})
		if !errors.Is(err, ErrDuplicateIdentity) {
			t.Fatalf("err = %v, want ErrDuplicateIdentity", err)
		}
	})

	t.Run("invalid", func(t *testing.T) {
		r, repo := newTestRegistry(t)
		err := r.Add(ctx, "u-1", domain.EmailPassword{Email: "bad", Password: "p"})
		if !errors.Is(err, ErrValidationFailed) {
			t.Fatalf("err = %v, want ErrValidationFailed", err)
		}
		if len(repo.rows) != 0 {
			t.Error("invalid identity must not be stored")
		}
	})

	t.Run("store failure", func(t *testing.T) {
		r, repo := newTestRegistry(t)
		repo.createErr = errors.New("connection refused")
		err := r.Add(ctx, "u-1", domain.EmailPassword{Email: "a@b.com", Password: "p"})
		if !errors.Is(err, ErrStoreFailure) {
			t.Fatalf("err = %v, want ErrStoreFailure", err)
		}
	})
}

func TestExists(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()
	id := domain.EmailPassword{Email: "a@b.com", Password: "p"}

	ok, err := r.Exists(ctx, id)
	if err != nil || ok {
		t.Fatalf("Exists before Add = %v, %v", ok, err)
	}
	if err := r.Add(ctx, "u-1", id); err != nil {
		t.Fatalf("Add: %v", err)
	}
	ok, err = r.Exists(ctx, domain.EmailPassword{Email: "A@b.com", Password: "other"})
	if err != nil || !ok {
		t.Fatalf("Exists after Add = %v, %v", ok, err)
	}
}

func TestRemove(t *testing.T) {
	r, repo := newTestRegistry(t)
	ctx := context.Background()
	if err := r.Add(ctx, "u-1", domain.EmailPassword{Email: "a@b.com", Password: "p"}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := r.Remove(ctx, "u-1", domain.LoginIdentityTypeEmail); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if got, _ := repo.GetByUserAndKind(ctx, "u-1", domain.LoginIdentityTypeEmail); got != nil {
		t.Error("identity still present after Remove")
	}
	if err := r.Remove(ctx, "u-1", domain.LoginIdentityTypeEmail); err != nil {
		t.Errorf("second Remove: %v", err)
	}
	if err := r.Remove(ctx, "u-1", "sms"); !errors.Is(err, ErrUnsupportedKind) {
		t.Errorf("Remove unknown kind err = %v", err)
	}
}

func TestMarkVerified_Idempotent(t *testing.T) {
	r, repo := newTestRegistry(t)
	ctx := context.Background()
	if err := r.Add(ctx, "u-1", domain.EmailPassword{Email: "a@b.com", Password: "p"}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	first := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return first }
	if err := r.MarkVerified(ctx, "u-1", domain.LoginIdentityTypeEmail); err != nil {
		t.Fatalf("MarkVerified: %v", err)
	}
	r.now = func() time.Time { return first.Add(time.Hour) }
	if err := r.MarkVerified(ctx, "u-1", domain.LoginIdentityTypeEmail); err != nil {
		t.Fatalf("second MarkVerified: %v", err)
	}

	got, _ := repo.GetByUserAndKind(ctx, "u-1", domain.LoginIdentityTypeEmail)
	if got.VerifiedAt == nil || !got.VerifiedAt.Equal(first) {
		t.Errorf("VerifiedAt = %v, want %v", got.VerifiedAt, first)
	}
	if !got.UpdatedAt.Equal(first) {
		t.Errorf("UpdatedAt = %v, want %v", got.UpdatedAt, first)
	}
}

func TestMarkVerified_Errors(t *testing.T) {
	r, repo := newTestRegistry(t)
	ctx := context.Background()

	if err := r.MarkVerified(ctx, "missing", domain.LoginIdentityTypeEmail); !errors.Is(err, ErrIdentityNotFound) {
		t.Errorf("missing identity err = %v", err)
	}
	repo.markErr = errors.New("timeout")
	if err := r.MarkVerified(ctx, "u-1", domain.LoginIdentityTypeEmail); !errors.Is(err, ErrStoreFailure) {
		t.Errorf("store failure err = %v", err)
	}
}
