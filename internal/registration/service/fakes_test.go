package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"manifold/backend/internal/db"
	identitydomain "manifold/backend/internal/identity/domain"
	"manifold/backend/internal/identity/registry"
	"manifold/backend/internal/notify"
	"manifold/backend/internal/policy/engine"
	"manifold/backend/internal/security"
	"manifold/backend/internal/tokenstore"
	userdomain "manifold/backend/internal/user/domain"
)

// memUserRepo is an in-memory UserRepo with a unique username, like the users table.
type memUserRepo struct {
	mu        sync.Mutex
	users     map[string]*userdomain.User
	createErr error
	deleteErr error
	deletes   int
	// onCreate runs before a create is applied.
	onCreate func()
}

func newMemUserRepo() *memUserRepo {
	return &memUserRepo{users: make(map[string]*userdomain.User)}
}

func (m *memUserRepo) Create(ctx context.Context, u *userdomain.User) error {
	if m.onCreate != nil {
		m.onCreate()
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.createErr != nil {
		return m.createErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.users {
		if existing.Username == u.Username {
			return db.ErrDuplicate
		}
	}
	cp := *u
	m.users[u.ID] = &cp
	return nil
}

func (m *memUserRepo) Delete(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deletes++
	if m.deleteErr != nil {
		return false, m.deleteErr
	}
	_, ok := m.users[id]
	delete(m.users, id)
	return ok, nil
}

// GetByID plays the role of fetch_user in assertions.
func (m *memUserRepo) GetByID(id string) *userdomain.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.users[id]
}

func (m *memUserRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.users)
}

type identityKey struct {
	userID string
	kind   identitydomain.LoginIdentityType
}

// memIdentityRepo enforces the same uniqueness rules as the login_identities table.
type memIdentityRepo struct {
	mu        sync.Mutex
	rows      map[identityKey]*identitydomain.Identity
	createErr error
	markErr   error
	deleteErr error
	getErr    error
}

func newMemIdentityRepo() *memIdentityRepo {
	return &memIdentityRepo{rows: make(map[identityKey]*identitydomain.Identity)}
}

func (m *memIdentityRepo) GetByUserAndKind(_ context.Context, userID string, kind identitydomain.LoginIdentityType) (*identitydomain.Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if i, ok := m.rows[identityKey{userID, kind}]; ok {
		cp := *i
		return &cp, nil
	}
	return nil, nil
}

func (m *memIdentityRepo) GetByIdentifier(_ context.Context, kind identitydomain.LoginIdentityType, identifier string) (*identitydomain.Identity, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
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

func (m *memIdentityRepo) Create(_ context.Context, i *identitydomain.Identity) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, r := range m.rows {
		if k == (identityKey{i.UserID, i.Kind}) || (r.Kind == i.Kind && r.Identifier == i.Identifier) {
			return db.ErrDuplicate
		}
	}
	cp := *i
	m.rows[identityKey{i.UserID, i.Kind}] = &cp
	return nil
}

func (m *memIdentityRepo) MarkVerified(_ context.Context, userID string, kind identitydomain.LoginIdentityType, at time.Time) (bool, error) {
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

func (m *memIdentityRepo) Delete(_ context.Context, userID string, kind identitydomain.LoginIdentityType) error {
	if m.deleteErr != nil {
		return m.deleteErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rows, identityKey{userID, kind})
	return nil
}

func (m *memIdentityRepo) get(userID string) *identitydomain.Identity {
	m.mu.Lock()
	defer m.mu.Unlock()
	if i, ok := m.rows[identityKey{userID, identitydomain.LoginIdentityTypeEmail}]; ok {
		cp := *i
		return &cp
	}
	return nil
}

// flakyTokens wraps a Store and can be told to fail.
type flakyTokens struct {
	tokenstore.Store
	issueErr  error
	redeemErr error
}

func (f *flakyTokens) Issue(ctx context.Context, subjectID string, kind identitydomain.LoginIdentityType) (string, error) {
	if f.issueErr != nil {
		return "", f.issueErr
	}
	return f.Store.Issue(ctx, subjectID, kind)
}

func (f *flakyTokens) Redeem(ctx context.Context, token string) (*tokenstore.Claims, error) {
	if f.redeemErr != nil {
		return nil, f.redeemErr
	}
	return f.Store.Redeem(ctx, token)
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []notify.Message
	err  error
}

func (r *recordingNotifier) Send(ctx context.Context, msg notify.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, msg)
	return r.err
}

func (r *recordingNotifier) last() notify.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.sent) == 0 {
		return notify.Message{}
	}
	return r.sent[len(r.sent)-1]
}

type auditEntry struct {
	userID, action string
	meta           map[string]string
}

type recordingAudit struct {
	mu      sync.Mutex
	entries []auditEntry
}

func (r *recordingAudit) LogEvent(_ context.Context, userID, action, _ string, meta map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, auditEntry{userID: userID, action: action, meta: meta})
}

func (r *recordingAudit) actions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.action
	}
	return out
}

type staticPolicy struct {
	decision engine.Decision
	err      error
}

func (p staticPolicy) EvaluateAdmission(context.Context, engine.AdmissionInput) (engine.Decision, error) {
	return p.decision, p.err
}

// harness wires a Saga and a Verifier over in-memory collaborators.
type harness struct {
	users      *memUserRepo
	identities *memIdentityRepo
	tokens     *flakyTokens
	notifier   *recordingNotifier
	audit      *recordingAudit
	saga       *Saga
	verifier   *Verifier
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		users:      newMemUserRepo(),
		identities: newMemIdentityRepo(),
		tokens:     &flakyTokens{Store: tokenstore.NewMemoryStore(time.Hour)},
		notifier:   &recordingNotifier{},
		audit:      &recordingAudit{},
	}
	reg, err := registry.New(h.identities, security.NewHasher(4))
	if err != nil {
		t.Fatalf("registry.New: %v", err)
	}
	deps := Deps{
		Users:    h.users,
		Registry: reg,
		Tokens:   h.tokens,
		Notifier: h.notifier,
		Policy:   staticPolicy{decision: engine.Decision{Allowed: true}},
		Audit:    h.audit,
		Timeouts: Timeouts{DB: time.Second, KV: time.Second, Notify: time.Second},
	}
	h.saga, err = NewSaga(deps)
	if err != nil {
		t.Fatalf("NewSaga: %v", err)
	}
	h.verifier, err = NewVerifier(deps)
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}
	return h
}

func emailUser(username, email string) NewUser {
	return NewUser{Username: username, Identity: identitydomain.EmailPassword{Email: email, Password: "p"}}
}

func asRegistrationError(t *testing.T, err error) *RegistrationError {
	t.Helper()
	var rerr *RegistrationError
	if !errors.As(err, &rerr) {
		t.Fatalf("error %v (%T) is not a *RegistrationError", err, err)
	}
	return rerr
}
