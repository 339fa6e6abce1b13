package auth

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// Revoker tracks logged-out token ids until their natural expiry.
type Revoker interface {
	Revoke(ctx context.Context, jti string, expiresAt time.Time) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

// MemoryRevoker keeps revoked ids in process. Entries past their expiry
// are dropped by a background sweep every interval.
type MemoryRevoker struct {
	mu      sync.RWMutex
	entries map[string]time.Time
	done    chan struct{}
	once    sync.Once
}

func NewMemoryRevoker(interval time.Duration) *MemoryRevoker {
	r := &MemoryRevoker{
		entries: make(map[string]time.Time),
		done:    make(chan struct{}),
	}
	if interval > 0 {
		go r.sweepLoop(interval)
	}
	return r
}

func (r *MemoryRevoker) Revoke(_ context.Context, jti string, expiresAt time.Time) error {
	if jti == "" {
		return errors.New("token id is required")
	}
	r.mu.Lock()
	r.entries[jti] = expiresAt
	r.mu.Unlock()
	return nil
}

func (r *MemoryRevoker) IsRevoked(_ context.Context, jti string) (bool, error) {
	r.mu.RLock()
	_, ok := r.entries[jti]
	r.mu.RUnlock()
	return ok, nil
}

func (r *MemoryRevoker) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Close stops the sweep goroutine. Safe to call more than once.
func (r *MemoryRevoker) Close() {
	r.once.Do(func() { close(r.done) })
}

func (r *MemoryRevoker) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-r.done:
			return
		case now := <-ticker.C:
			r.sweep(now)
		}
	}
}

func (r *MemoryRevoker) sweep(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for jti, exp := range r.entries {
		if now.After(exp) {
			delete(r.entries, jti)
		}
	}
}

// RedisRevoker stores revoked ids as keys that expire with the token.
type RedisRevoker struct {
	client *redis.Client
	prefix string
}

func NewRedisRevoker(client *redis.Client) *RedisRevoker {
	return &RedisRevoker{client: client, prefix: "hmis:revoked:"}
}

func (r *RedisRevoker) Revoke(ctx context.Context, jti string, expiresAt time.Time) error {
	if jti == "" {
		return errors.New("token id is required")
	}
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return nil
	}
	return r.client.Set(ctx, r.prefix+jti, "1", ttl).Err()
}

func (r *RedisRevoker) IsRevoked(ctx context.Context, jti string) (bool, error) {
	_, err := r.client.Get(ctx, r.prefix+jti).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
