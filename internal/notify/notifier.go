// Package notify delivers verification messages to the delivery target of a login identity.
package notify

import (
	"context"
	"errors"

	"manifold/backend/internal/identity/domain"
)

// ErrUnsupportedKind is returned when no template exists for a message kind.
var ErrUnsupportedKind = errors.New("notify: unsupported login identity kind")

// Message is a verification notification. Token is the raw verification token and must only
// leave the process inside the rendered message.
type Message struct {
	Kind      domain.LoginIdentityType `json:"kind"`
	UserID    string                   `json:"userId"`
	Recipient string                   `json:"recipient"`
	Username  string                   `json:"username"`
	Token     string                   `json:"token"`
}

// Notifier sends a verification message. Implementations must respect ctx cancellation.
type Notifier interface {
	Send(ctx context.Context, msg Message) error
}
