package store

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// TokenRevoker tracks revoked token IDs until expiry.
type TokenRevoker interface {
	Revoke(tokenID string, ttl time.Duration) error
	IsRevoked(tokenID string) (bool, error)
}

// AccountTokenRevoker additionally tracks a per-account cutoff: tokens issued
// at or before it are rejected.
type AccountTokenRevoker interface {
	TokenRevoker
	RevokeAccount(accountID string, since time.Time) error
	RevokedAfter(accountID string) (time.Time, error)
}

// accountCutoffTTL bounds how long a cutoff is remembered. It must exceed
// the longest session TTL.
const accountCutoffTTL = 30 * 24 * time.Hour

// MemoryTokenRevoker keeps revoked tokens in-memory (single instance only).
type MemoryTokenRevoker struct {
	mu       sync.Mutex
	tokens   map[string]time.Time
	accounts map[string]time.Time
}

// NewMemoryTokenRevoker builds an in-memory revoker.
func NewMemoryTokenRevoker() *MemoryTokenRevoker {
	return &MemoryTokenRevoker{
		tokens:   make(map[string]time.Time),
		accounts: make(map[string]time.Time),
	}
}

// Revoke marks a token as revoked until its expiry.
func (r *MemoryTokenRevoker) Revoke(tokenID string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	r.mu.Lock()
	r.tokens[tokenID] = time.Now().Add(ttl)
	r.mu.Unlock()
	return nil
}

// IsRevoked checks if the token is revoked.
func (r *MemoryTokenRevoker) IsRevoked(tokenID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	expiry, ok := r.tokens[tokenID]
	if !ok {
		return false, nil
	}
	if time.Now().After(expiry) {
		delete(r.tokens, tokenID)
		return false, nil
	}
	return true, nil
}

// RevokeAccount records a cutoff. Older cutoffs never replace newer ones.
func (r *MemoryTokenRevoker) RevokeAccount(accountID string, since time.Time) error {
	since = since.UTC()
	r.mu.Lock()
	defer r.mu.Unlock()
	if current, ok := r.accounts[accountID]; ok && !since.After(current) {
		return nil
	}
	r.accounts[accountID] = since
	return nil
}

// RevokedAfter returns the account cutoff or the zero time.
func (r *MemoryTokenRevoker) RevokedAfter(accountID string) (time.Time, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.accounts[accountID], nil
}

// RedisTokenRevoker stores revoked tokens in Redis with TTL.
type RedisTokenRevoker struct {
	client *redis.Client
}

// NewRedisTokenRevoker builds a Redis-backed revoker.
func NewRedisTokenRevoker(addr, password string) *RedisTokenRevoker {
	return &RedisTokenRevoker{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
		}),
	}
}

// Revoke marks a token as revoked until expiry.
func (r *RedisTokenRevoker) Revoke(tokenID string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	return r.client.Set(ctx, revocationKey(tokenID), "1", ttl).Err()
}

// IsRevoked checks if the token is revoked.
func (r *RedisTokenRevoker) IsRevoked(tokenID string) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	res, err := r.client.Exists(ctx, revocationKey(tokenID)).Result()
	if err != nil {
		return false, err
	}
	return res > 0, nil
}

// keepNewestCutoff sets KEYS[1] to ARGV[1] unless a larger value is stored.
var keepNewestCutoff = redis.NewScript(`
local current = redis.call("GET", KEYS[1])
if current and tonumber(current) >= tonumber(ARGV[1]) then
	return 0
end
redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2])
return 1
`)

// RevokeAccount records a cutoff. Older cutoffs never replace newer ones.
func (r *RedisTokenRevoker) RevokeAccount(accountID string, since time.Time) error {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	return keepNewestCutoff.Run(ctx, r.client,
		[]string{accountCutoffKey(accountID)},
		since.UTC().UnixNano(), accountCutoffTTL.Milliseconds(),
	).Err()
}

// RevokedAfter returns the account cutoff or the zero time.
func (r *RedisTokenRevoker) RevokedAfter(accountID string) (time.Time, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	nanos, err := r.client.Get(ctx, accountCutoffKey(accountID)).Int64()
	if err == redis.Nil {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(0, nanos).UTC(), nil
}

// Close releases the Redis connection pool.
func (r *RedisTokenRevoker) Close() error {
	return r.client.Close()
}

func revocationKey(tokenID string) string {
	return "finboard:revoked:" + tokenID
}

func accountCutoffKey(accountID string) string {
	return "finboard:revoked-account:" + accountID
}

var (
	_ AccountTokenRevoker = (*MemoryTokenRevoker)(nil)
	_ AccountTokenRevoker = (*RedisTokenRevoker)(nil)
)
