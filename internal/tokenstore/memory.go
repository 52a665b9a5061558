package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"manifold/backend/internal/identity/domain"
	"manifold/backend/internal/security"
)

type memEntry struct {
	claims    Claims
	expiresAt time.Time
}

type subjectRef struct {
	subject string
	kind    domain.LoginIdentityType
}

// MemoryStore is an in-memory Store for development and tests. Tokens are lost on restart.
type MemoryStore struct {
	mu     sync.Mutex
	tokens map[string]memEntry   // token hash -> entry
	index  map[subjectRef]string // subject -> live token hash
	ttl    time.Duration
	nowF   func() time.Time
}

// NewMemoryStore returns an in-memory store whose tokens expire after ttl (24h if ttl <= 0).
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &MemoryStore{
		tokens: make(map[string]memEntry),
		index:  make(map[subjectRef]string),
		ttl:    ttl,
		nowF:   time.Now,
	}
}

// Issue implements Store.
func (s *MemoryStore) Issue(ctx context.Context, subjectID string, kind domain.LoginIdentityType) (string, error) {
	if subjectID == "" {
		return "", errors.New("tokenstore: subject is required")
	}
	token, err := security.GenerateToken()
	if err != nil {
		return "", fmt.Errorf("tokenstore: generate token: %w", err)
	}
	hash := security.HashToken(token)
	now := s.nowF()
	ref := subjectRef{subject: subjectID, kind: kind}

	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.index[ref]; ok {
		delete(s.tokens, prev)
	}
	s.tokens[hash] = memEntry{
		claims:    Claims{Subject: subjectID, Kind: kind, IssuedAt: now.Unix()},
		expiresAt: now.Add(s.ttl),
	}
	s.index[ref] = hash
	return token, nil
}

// Redeem implements Store.
func (s *MemoryStore) Redeem(ctx context.Context, token string) (*Claims, error) {
	if token == "" {
		return nil, ErrTokenNotFound
	}
	hash := security.HashToken(token)

	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.tokens[hash]
	if !ok {
		return nil, ErrTokenNotFound
	}
	delete(s.tokens, hash)
	ref := subjectRef{subject: e.claims.Subject, kind: e.claims.Kind}
	if security.TokenHashEqual(token, s.index[ref]) {
		delete(s.index, ref)
	}
	if !e.expiresAt.After(s.nowF()) {
		return nil, ErrTokenNotFound
	}
	c := e.claims
	return &c, nil
}
