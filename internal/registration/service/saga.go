// Package service implements account registration as a saga with compensating rollback, and
// redemption of the verification tokens it issues.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	auditdomain "manifold/backend/internal/audit/domain"
	"manifold/backend/internal/db"
	identitydomain "manifold/backend/internal/identity/domain"
	"manifold/backend/internal/notify"
	"manifold/backend/internal/policy/engine"
	"manifold/backend/internal/tokenstore"
	userdomain "manifold/backend/internal/user/domain"
)

const maxUsernameLength = 64

// UserRepo is the minimal user repository needed by the saga.
type UserRepo interface {
	Create(ctx context.Context, u *userdomain.User) error
	Delete(ctx context.Context, id string) (bool, error)
}

// IdentityRegistry is the login identity registry as seen by the saga and the verifier.
type IdentityRegistry interface {
	Validate(id identitydomain.LoginIdentity) error
	DeliveryTarget(id identitydomain.LoginIdentity) (string, error)
	Exists(ctx context.Context, id identitydomain.LoginIdentity) (bool, error)
	Add(ctx context.Context, userID string, id identitydomain.LoginIdentity) error
	Remove(ctx context.Context, userID string, kind identitydomain.LoginIdentityType) error
	MarkVerified(ctx context.Context, userID string, kind identitydomain.LoginIdentityType) error
}

// AuditLogger records security-relevant events. Best-effort.
type AuditLogger interface {
	LogEvent(ctx context.Context, userID, action, resource string, metadata map[string]string)
}

// Timeouts bound each external call made by the saga and the verifier.
type Timeouts struct {
	DB     time.Duration
	KV     time.Duration
	Notify time.Duration
}

func (t Timeouts) withDefaults() Timeouts {
	if t.DB <= 0 {
		t.DB = 2 * time.Second
	}
	if t.KV <= 0 {
		t.KV = 500 * time.Millisecond
	}
	if t.Notify <= 0 {
		t.Notify = 10 * time.Second
	}
	return t
}

// Deps are the collaborators of a Saga. Policy and Audit are optional.
type Deps struct {
	Users    UserRepo
	Registry IdentityRegistry
	Tokens   tokenstore.Store
	Notifier notify.Notifier
	Policy   engine.Evaluator
	Audit    AuditLogger
	Log      *slog.Logger
	Timeouts Timeouts
}

// NewUser is a registration request.
type NewUser struct {
	Username string
	Identity identitydomain.LoginIdentity
}

// Saga registers users: create user, attach identity, issue token, notify.
// A failure after the user exists rolls back what was created, except a failed notification,
// which leaves the registered user in place and is reported alongside it.
type Saga struct {
	users    UserRepo
	registry IdentityRegistry
	tokens   tokenstore.Store
	notifier notify.Notifier
	policy   engine.Evaluator
	audit    AuditLogger
	log      *slog.Logger
	timeouts Timeouts
	inst     *instruments

	now   func() time.Time
	newID func() string
}

// NewSaga returns a Saga. Users, Registry, Tokens and Notifier are required.
func NewSaga(d Deps) (*Saga, error) {
	if d.Users == nil || d.Registry == nil || d.Tokens == nil || d.Notifier == nil {
		return nil, errors.New("registration: users, registry, tokens and notifier are required")
	}
	if d.Log == nil {
		d.Log = slog.New(slog.DiscardHandler)
	}
	return &Saga{
		users:    d.Users,
		registry: d.Registry,
		tokens:   d.Tokens,
		notifier: d.Notifier,
		policy:   d.Policy,
		audit:    d.Audit,
		log:      d.Log,
		timeouts: d.Timeouts.withDefaults(),
		inst:     newInstruments(),
		now:      time.Now,
		newID:    func() string { return uuid.New().String() },
	}, nil
}

// compensation is one rollback action, registered after the step it undoes succeeds.
type compensation struct {
	name string
	undo func(ctx context.Context) error
}

// Register runs the saga. On success it returns the created user. On a notification failure it
// returns the created user together with an error of kind ErrNotificationFailed. Every other
// failure returns a nil user and a *RegistrationError.
//
// Pre-flight checks honor ctx cancellation. Once the first write starts, the saga runs detached
// from ctx cancellation so it always ends in a terminal or compensated state.
func (s *Saga) Register(ctx context.Context, in NewUser) (*userdomain.User, error) {
	ctx, span := s.inst.tracer.Start(ctx, "registration.Register")
	defer span.End()

	user, err := s.register(ctx, in, span)
	outcome := "success"
	if err != nil {
		var rerr *RegistrationError
		if errors.As(err, &rerr) {
			outcome = string(rerr.State)
			span.SetAttributes(attribute.String("registration.kind", rerr.Kind.Error()))
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "registration failed")
	}
	s.inst.registrations.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	return user, err
}

func (s *Saga) register(ctx context.Context, in NewUser, span trace.Span) (*userdomain.User, error) {
	username := strings.TrimSpace(in.Username)
	if err := validation.Validate(username, validation.Required, validation.RuneLength(1, maxUsernameLength)); err != nil {
		return nil, s.fail(ctx, StateStart, ErrValidationFailed, "", fmt.Errorf("%w: username: %v", ErrValidationFailed, err))
	}
	if err := s.registry.Validate(in.Identity); err != nil {
		return nil, s.fail(ctx, StateStart, ErrValidationFailed, "", err)
	}
	kind := in.Identity.Kind()
	target, err := s.registry.DeliveryTarget(in.Identity)
	if err != nil {
		return nil, s.fail(ctx, StateStart, ErrValidationFailed, "", err)
	}
	span.SetAttributes(attribute.String("identity.kind", string(kind)))

	if s.policy != nil {
		decision, err := s.policy.EvaluateAdmission(ctx, engine.AdmissionInput{
			Username: username, Kind: string(kind), Identifier: target,
		})
		if err != nil {
			return nil, s.fail(ctx, StateStart, ErrUserCreationFailed, "", fmt.Errorf("admission policy: %w", err))
		}
		if !decision.Allowed {
			return nil, s.fail(ctx, StateStart, ErrValidationFailed, "",
				fmt.Errorf("%w: %s", ErrValidationFailed, strings.Join(decision.Reasons, "; ")))
		}
	}

	taken, err := call(ctx, s.timeouts.DB, func(ctx context.Context) (bool, error) {
		return s.registry.Exists(ctx, in.Identity)
	})
	if err != nil {
		return nil, s.fail(ctx, StateStart, ErrUserCreationFailed, "", err)
	}
	if taken {
		return nil, s.fail(ctx, StateStart, ErrDuplicateIdentity, "", ErrDuplicateIdentity)
	}
	if err := ctx.Err(); err != nil {
		return nil, s.fail(ctx, StateStart, ErrUserCreationFailed, "", err)
	}

	// From here on the saga owns its lifetime.
	ctx = context.WithoutCancel(ctx)

	now := s.now().UTC()
	user := &userdomain.User{ID: s.newID(), Username: username, CreatedAt: now, UpdatedAt: now}
	err = do(ctx, s.timeouts.DB, func(ctx context.Context) error { return s.users.Create(ctx, user) })
	if err != nil {
		if errors.Is(err, db.ErrDuplicate) {
			return nil, s.fail(ctx, StateStart, ErrDuplicateIdentity, "", ErrUsernameTaken)
		}
		return nil, s.fail(ctx, StateStart, ErrUserCreationFailed, "", err)
	}
	rollback := []compensation{{
		name: "delete user",
		undo: func(ctx context.Context) error {
			_, err := s.users.Delete(ctx, user.ID)
			return err
		},
	}}
	s.log.DebugContext(ctx, "registration: user created", "user_id", user.ID)

	err = do(ctx, s.timeouts.DB, func(ctx context.Context) error { return s.registry.Add(ctx, user.ID, in.Identity) })
	if err != nil {
		kind := ErrIdentityAttachFailed
		if errors.Is(err, ErrDuplicateIdentity) {
			// Lost a race with a concurrent registration of the same identifier.
			kind = ErrDuplicateIdentity
		}
		return nil, s.compensate(ctx, StateUserCreated, kind, user.ID, err, rollback)
	}
	rollback = append(rollback, compensation{
		name: "remove login identity",
		undo: func(ctx context.Context) error { return s.registry.Remove(ctx, user.ID, kind) },
	})

	token, err := call(ctx, s.timeouts.KV, func(ctx context.Context) (string, error) {
		return s.tokens.Issue(ctx, user.ID, kind)
	})
	if err != nil {
		return nil, s.compensate(ctx, StateIdentityAttached, ErrTokenIssueFailed, user.ID, err, rollback)
	}

	err = do(ctx, s.timeouts.Notify, func(ctx context.Context) error {
		return s.notifier.Send(ctx, notify.Message{
			Kind:      kind,
			UserID:    user.ID,
			Recipient: target,
			Username:  user.Username,
			Token:     token,
		})
	})
	if err != nil {
		s.logAudit(ctx, user.ID, auditdomain.ActionUserRegistered, map[string]string{"kind": string(kind), "notified": "false"})
		return user, s.fail(ctx, StateTokenIssued, ErrNotificationFailed, user.ID, err)
	}

	s.logAudit(ctx, user.ID, auditdomain.ActionUserRegistered, map[string]string{"kind": string(kind), "notified": "true"})
	s.log.InfoContext(ctx, "registration: user registered", "user_id", user.ID, "state", StateNotificationSent)
	return user, nil
}

// fail builds an error for a failure that needs no rollback.
func (s *Saga) fail(ctx context.Context, reached State, kind error, userID string, cause error) error {
	err := &RegistrationError{Reached: reached, State: reached, Kind: kind, UserID: userID, Cause: cause}
	level := slog.LevelWarn
	if kind == ErrValidationFailed || kind == ErrDuplicateIdentity {
		level = slog.LevelInfo
	}
	s.log.Log(ctx, level, "registration: failed", "state", reached, "user_id", userID, "error", err)
	return err
}

// compensate runs rollback in reverse, each action under its own timeout, continuing past failures.
func (s *Saga) compensate(ctx context.Context, reached State, kind error, userID string, cause error, rollback []compensation) error {
	var failures []error
	for i := len(rollback) - 1; i >= 0; i-- {
		c := rollback[i]
		if err := do(ctx, s.timeouts.DB, c.undo); err != nil {
			failures = append(failures, fmt.Errorf("%s: %w", c.name, err))
		}
	}
	rerr := &RegistrationError{Reached: reached, State: StateCompensated, Kind: kind, UserID: userID, Cause: cause}
	if len(failures) == 0 {
		s.log.WarnContext(ctx, "registration: rolled back", "reached", reached, "user_id", userID, "error", cause)
		return rerr
	}

	rerr.State = StateCompensationFailed
	rerr.Compensation = errors.Join(append([]error{ErrCompensationFailed}, failures...)...)
	s.log.ErrorContext(ctx, "registration: compensation failed, partial state left",
		"reached", reached, "user_id", userID, "error", cause, "compensation", rerr.Compensation)
	s.logAudit(ctx, userID, auditdomain.ActionRegistrationOrphaned, map[string]string{
		"reached":      string(reached),
		"cause":        cause.Error(),
		"compensation": rerr.Compensation.Error(),
	})
	return rerr
}

func (s *Saga) logAudit(ctx context.Context, userID, action string, meta map[string]string) {
	if s.audit != nil {
		s.audit.LogEvent(ctx, userID, action, "user", meta)
	}
}

// do runs fn under its own timeout.
func do(ctx context.Context, timeout time.Duration, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(ctx)
}

func call[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(ctx)
}
