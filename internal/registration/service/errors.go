package service

import (
	"errors"
	"fmt"
	"strings"

	"manifold/backend/internal/identity/registry"
	"manifold/backend/internal/tokenstore"
)

// Error kinds returned by Saga.Register and Verifier.Verify. Callers match them with errors.Is;
// the handler maps them to HTTP status codes.
var (
	ErrValidationFailed          = registry.ErrValidationFailed
	ErrDuplicateIdentity         = registry.ErrDuplicateIdentity
	ErrUserCreationFailed        = errors.New("user creation failed")
	ErrIdentityAttachFailed      = errors.New("login identity attach failed")
	ErrTokenIssueFailed          = errors.New("verification token issue failed")
	ErrNotificationFailed        = errors.New("verification notification failed")
	ErrCompensationFailed        = errors.New("registration compensation failed")
	ErrInvalidOrExpiredToken     = errors.New("invalid or expired verification token")
	ErrVerificationPersistFailed = errors.New("verification could not be persisted")
	ErrStoreUnavailable          = tokenstore.ErrStoreUnavailable

	// ErrUsernameTaken is the cause attached to ErrDuplicateIdentity when the username, not the
	// login identifier, is already registered.
	ErrUsernameTaken = errors.New("username already taken")
)

// State is a registration saga state.
type State string

const (
	StateStart              State = "start"
	StateUserCreated        State = "user_created"
	StateIdentityAttached   State = "identity_attached"
	StateTokenIssued        State = "token_issued"
	StateNotificationSent   State = "notification_sent"
	StateCompensated        State = "compensated"
	StateCompensationFailed State = "compensation_failed"
)

// RegistrationError describes a failed registration.
type RegistrationError struct {
	// Reached is the last forward state completed before the failure.
	Reached State
	// State is the terminal state: Reached when nothing was rolled back, otherwise
	// StateCompensated or StateCompensationFailed.
	State State
	// Kind is one of the package's error kinds.
	Kind error
	// UserID is set once a user row was created, even if it was later rolled back.
	UserID string
	Cause  error
	// Compensation is non-nil when rollback left partial state; it wraps ErrCompensationFailed.
	Compensation error
}

func (e *RegistrationError) Error() string {
	var b strings.Builder
	b.WriteString(describe(e.Kind, e.Cause))
	fmt.Fprintf(&b, " (state %s", e.State)
	if e.UserID != "" {
		fmt.Fprintf(&b, ", user %s", e.UserID)
	}
	b.WriteString(")")
	if e.Compensation != nil {
		fmt.Fprintf(&b, "; %v", e.Compensation)
	}
	return b.String()
}

// Unwrap exposes the kind, the cause and the compensation failure to errors.Is and errors.As.
func (e *RegistrationError) Unwrap() []error {
	out := []error{e.Kind}
	if e.Cause != nil {
		out = append(out, e.Cause)
	}
	if e.Compensation != nil {
		out = append(out, e.Compensation)
	}
	return out
}

// VerificationError describes a failed verification.
type VerificationError struct {
	Kind error
	// UserID is the token subject, known once the token was redeemed.
	UserID string
	Cause  error
}

func (e *VerificationError) Error() string {
	msg := describe(e.Kind, e.Cause)
	if e.UserID != "" {
		msg += " (user " + e.UserID + ")"
	}
	return msg
}

func (e *VerificationError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Cause}
}

// describe avoids repeating the kind when the cause already wraps it.
func describe(kind, cause error) string {
	switch {
	case cause == nil:
		return kind.Error()
	case errors.Is(cause, kind):
		return cause.Error()
	default:
		return kind.Error() + ": " + cause.Error()
	}
}
