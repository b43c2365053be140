package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/noxfi/nox-indexer/internal/model"
)

// pruneEvery bounds how many claims pass between sweeps of expired nonces.
const pruneEvery = 1024

// MemoryNonceGuard keeps used nonces in process memory. Not shared across
// replicas.
type MemoryNonceGuard struct {
	mu     sync.Mutex
	seen   map[string]time.Time
	claims int
	now    func() time.Time
}

// NewMemoryNonceGuard creates an empty in-memory guard.
func NewMemoryNonceGuard() *MemoryNonceGuard {
	return &MemoryNonceGuard{
		seen: make(map[string]time.Time),
		now:  time.Now,
	}
}

func (g *MemoryNonceGuard) Claim(_ context.Context, owner model.OwnerID, nonce string, ttl time.Duration) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	g.claims++
	if g.claims%pruneEvery == 0 {
		for k, exp := range g.seen {
			if now.After(exp) {
				delete(g.seen, k)
			}
		}
	}

	key := nonceKey(owner, nonce)
	if exp, ok := g.seen[key]; ok && now.Before(exp) {
		return false, nil
	}
	g.seen[key] = now.Add(ttl)
	return true, nil
}

// RedisNonceGuard records nonces with SETNX so replicas share one view.
type RedisNonceGuard struct {
	rdb *redis.Client
}

// NewRedisNonceGuard creates a guard backed by rdb.
func NewRedisNonceGuard(rdb *redis.Client) *RedisNonceGuard {
	return &RedisNonceGuard{rdb: rdb}
}

func (g *RedisNonceGuard) Claim(ctx context.Context, owner model.OwnerID, nonce string, ttl time.Duration) (bool, error) {
	ok, err := g.rdb.SetNX(ctx, nonceKey(owner, nonce), 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx: %w", err)
	}
	return ok, nil
}

func nonceKey(owner model.OwnerID, nonce string) string {
	return fmt.Sprintf("nonce:%s:%s", owner, nonce)
}
