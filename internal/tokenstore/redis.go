package tokenstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"manifold/backend/internal/identity/domain"
	"manifold/backend/internal/security"
)

const (
	defaultTTL     = 24 * time.Hour
	defaultTimeout = 500 * time.Millisecond
)

// issueScript replaces the subject's live token, if any, and stores the new one.
// KEYS[1] token key, KEYS[2] subject index key.
// ARGV[1] claims JSON, ARGV[2] ttl in ms, ARGV[3] token hash, ARGV[4] token key prefix.
var issueScript = redis.NewScript(`
local prev = redis.call('GET', KEYS[2])
if prev then
	redis.call('DEL', ARGV[4] .. prev)
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
redis.call('SET', KEYS[2], ARGV[3], 'PX', ARGV[2])
return 1
`)

// releaseIndexScript deletes the subject index only while it still points at the redeemed token.
var releaseIndexScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

// RedisOptions configures a RedisStore.
type RedisOptions struct {
	// Prefix namespaces every key (e.g. "manifold:verify:").
	Prefix string
	// TTL is the token lifetime; defaults to 24h.
	TTL time.Duration
	// Timeout bounds every call to Redis; defaults to 500ms.
	Timeout time.Duration
}

// RedisStore is a Store backed by Redis. Only the SHA-256 of a token is used as a key.
type RedisStore struct {
	client   redis.UniversalClient
	prefix   string
	ttl      time.Duration
	timeout  time.Duration
	nowF     func() time.Time
	newToken func() (string, error)
}

// NewRedisStore returns a Store using client. The client's pool is shared; the store does not close it.
func NewRedisStore(client redis.UniversalClient, opts RedisOptions) *RedisStore {
	if opts.TTL <= 0 {
		opts.TTL = defaultTTL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	return &RedisStore{
		client:   client,
		prefix:   opts.Prefix,
		ttl:      opts.TTL,
		timeout:  opts.Timeout,
		nowF:     time.Now,
		newToken: security.GenerateToken,
	}
}

func (s *RedisStore) tokenPrefix() string { return s.prefix + "token:" }

func (s *RedisStore) tokenKey(hash string) string { return s.tokenPrefix() + hash }

func (s *RedisStore) subjectKey(subjectID string, kind domain.LoginIdentityType) string {
	return s.prefix + "subject:" + string(kind) + ":" + subjectID
}

// Issue implements Store.
func (s *RedisStore) Issue(ctx context.Context, subjectID string, kind domain.LoginIdentityType) (string, error) {
	if subjectID == "" {
		return "", errors.New("tokenstore: subject is required")
	}
	token, err := s.newToken()
	if err != nil {
		return "", fmt.Errorf("tokenstore: generate token: %w", err)
	}
	payload, err := json.Marshal(Claims{Subject: subjectID, Kind: kind, IssuedAt: s.nowF().Unix()})
	if err != nil {
		return "", err
	}
	hash := security.HashToken(token)

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	err = issueScript.Run(ctx, s.client,
		[]string{s.tokenKey(hash), s.subjectKey(subjectID, kind)},
		string(payload), s.ttl.Milliseconds(), hash, s.tokenPrefix(),
	).Err()
	if err != nil {
		return "", classify("issue", err)
	}
	return token, nil
}

// Redeem implements Store. The token key is read and deleted in one GETDEL so concurrent
// redemptions of the same token see exactly one success.
func (s *RedisStore) Redeem(ctx context.Context, token string) (*Claims, error) {
	if token == "" {
		return nil, ErrTokenNotFound
	}
	hash := security.HashToken(token)

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	raw, err := s.client.GetDel(ctx, s.tokenKey(hash)).Bytes()
	if err != nil {
		return nil, classify("redeem", err)
	}
	var c Claims
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("tokenstore: decode claims: %w", err)
	}
	// Best effort: a stale index entry expires with the token's TTL anyway.
	_ = releaseIndexScript.Run(ctx, s.client, []string{s.subjectKey(c.Subject, c.Kind)}, hash).Err()
	return &c, nil
}

// Ping reports whether Redis answers within the store timeout.
func (s *RedisStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.client.Ping(ctx).Err(); err != nil {
		return classify("ping", err)
	}
	return nil
}

// classify maps go-redis errors onto the package's sentinels. A reply error from the server
// means Redis is up but refused the command; anything else (dial, timeout, pool, closed
// client) means it could not be reached.
func classify(op string, err error) error {
	if errors.Is(err, redis.Nil) {
		return ErrTokenNotFound
	}
	var replyErr redis.Error
	if errors.As(err, &replyErr) {
		return fmt.Errorf("tokenstore: %s: %w", op, err)
	}
	return fmt.Errorf("%w: %s: %v", ErrStoreUnavailable, op, err)
}
