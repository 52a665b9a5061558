package domain

import "time"

// Actions recorded by the registration and verification flows.
const (
	ActionUserRegistered       = "user.registered"
	ActionRegistrationOrphaned = "registration.orphaned"
	ActionIdentityVerified     = "identity.verified"
	ActionUserDeleted          = "user.deleted"
)

// AuditLog represents an audit event. UserID is not a foreign key so entries outlive the user.
type AuditLog struct {
	ID        string
	UserID    string
	Action    string
	Resource  string
	IP        string
	Metadata  string
	CreatedAt time.Time
}
