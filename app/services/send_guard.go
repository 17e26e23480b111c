package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/amirphl/wa-relay/utils"
	"github.com/redis/go-redis/v9"
)

// SendGuard claims correlation ids so the same message is not dispatched twice concurrently
type SendGuard interface {
	// Claim returns false when the key is already held
	Claim(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
}

// RedisSendGuard implements SendGuard with SETNX so several relay processes share claims
type RedisSendGuard struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisSendGuard creates a Redis backed send guard
func NewRedisSendGuard(client *redis.Client, prefix string, ttl time.Duration) *RedisSendGuard {
	return &RedisSendGuard{client: client, prefix: prefix, ttl: ttl}
}

func (g *RedisSendGuard) key(key string) string {
	return g.prefix + "send:" + key
}

func (g *RedisSendGuard) Claim(ctx context.Context, key string) (bool, error) {
	ok, err := g.client.SetNX(ctx, g.key(key), utils.UTCNowRFC3339(), g.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to claim send key: %w", err)
	}
	return ok, nil
}

func (g *RedisSendGuard) Release(ctx context.Context, key string) error {
	if err := g.client.Del(ctx, g.key(key)).Err(); err != nil {
		return fmt.Errorf("failed to release send key: %w", err)
	}
	return nil
}

// MemorySendGuard implements SendGuard in process; expired claims are pruned lazily
type MemorySendGuard struct {
	mu     sync.Mutex
	ttl    time.Duration
	clock  utils.Clock
	claims map[string]time.Time
}

// NewMemorySendGuard creates an in-process send guard
func NewMemorySendGuard(ttl time.Duration, clock utils.Clock) *MemorySendGuard {
	if clock == nil {
		clock = utils.SystemClock()
	}
	return &MemorySendGuard{ttl: ttl, clock: clock, claims: make(map[string]time.Time)}
}

func (g *MemorySendGuard) Claim(ctx context.Context, key string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.clock.Now()
	for k, expiresAt := range g.claims {
		if !now.Before(expiresAt) {
			delete(g.claims, k)
		}
	}

	if _, held := g.claims[key]; held {
		return false, nil
	}
	g.claims[key] = now.Add(g.ttl)
	return true, nil
}

func (g *MemorySendGuard) Release(ctx context.Context, key string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.claims, key)
	return nil
}
