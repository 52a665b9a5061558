package security

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"

	"golang.org/x/crypto/bcrypt"
)

const saltBytes = 16

// Hasher hashes and verifies passwords using bcrypt over a per-credential salt. Callers must not log or
// persist plaintext passwords.
type Hasher struct {
	Cost int
}

// NewHasher returns a Hasher with the given bcrypt cost (4–31). Cost 12 is a
// reasonable default for interactive login.
func NewHasher(cost int) *Hasher {
	if cost <= 0 {
		cost = bcrypt.DefaultCost
	}
	if cost < bcrypt.MinCost {
		cost = bcrypt.MinCost
	}
	if cost > bcrypt.MaxCost {
		cost = bcrypt.MaxCost
	}
	return &Hasher{Cost: cost}
}

// NewSalt returns a random hex-encoded salt for a new credential.
func NewSalt() (string, error) {
	b := make([]byte, saltBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// Hash produces a bcrypt hash of salt and password. The pair is pre-hashed with SHA-256
// so long passwords are not truncated at bcrypt's 72-byte limit.
func (h *Hasher) Hash(password []byte, salt string) (string, error) {
	b, err := bcrypt.GenerateFromPassword(presalt(password, salt), h.Cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Compare verifies password and salt against the stored hash using constant-time
// comparison. Returns nil if they match; returns an error (including
// bcrypt.ErrMismatchedHashAndPassword) if they do not or on invalid hash.
func (h *Hasher) Compare(hash, salt string, password []byte) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), presalt(password, salt))
}

func presalt(password []byte, salt string) []byte {
	sum := sha256.New()
	sum.Write([]byte(salt))
	sum.Write(password)
	return []byte(hex.EncodeToString(sum.Sum(nil)))
}
