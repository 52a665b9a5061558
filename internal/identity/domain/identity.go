package domain

import (
	"fmt"
	"time"
)

// LoginIdentityType is the closed set of login identity kinds. Adding a kind means adding
// a LoginIdentity variant here, a case in the registry and a notification template.
type LoginIdentityType string

const (
	LoginIdentityTypeEmail LoginIdentityType = "email"
)

// AllLoginIdentityTypes returns every supported kind. Registry and notifier constructors
// use it to refuse configurations that leave a kind unhandled.
func AllLoginIdentityTypes() []LoginIdentityType {
	return []LoginIdentityType{LoginIdentityTypeEmail}
}

// ParseLoginIdentityType returns the kind named by s or an error for unknown kinds.
func ParseLoginIdentityType(s string) (LoginIdentityType, error) {
	for _, k := range AllLoginIdentityTypes() {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown login identity type %q", s)
}

// LoginIdentity is a credential submitted by a client to create an account.
// The unexported method seals the set: only this package can declare variants.
type LoginIdentity interface {
	Kind() LoginIdentityType
	loginIdentity()
}

// EmailPassword is an email address plus plaintext password as received from the client.
// The password never leaves the registry unhashed.
type EmailPassword struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Kind implements LoginIdentity.
func (EmailPassword) Kind() LoginIdentityType { return LoginIdentityTypeEmail }

func (EmailPassword) loginIdentity() {}

// Identity is the stored login identity of a user. Exactly one exists per (UserID, Kind).
type Identity struct {
	UserID string
	Kind   LoginIdentityType
	// Identifier is the kind-specific unique handle (the email address for LoginIdentityTypeEmail).
	Identifier   string
	PasswordHash string
	Salt         string
	VerifiedAt   *time.Time // nil until the delivery channel is verified
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Verified reports whether the identity's delivery channel has been verified.
func (i *Identity) Verified() bool {
	return i != nil && i.VerifiedAt != nil
}
