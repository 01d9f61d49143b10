// Package redis implements domain.TokenCache over go-redis, with an
// optional in-process tier that shortcuts repeated reservations of the
// same token within one process without a network round-trip.
package redis

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/outboxkit/outboxkit/internal/domain"
)

// TokenCache implements domain.TokenCache with SET key value NX PX ttl: the
// first caller to reserve a token within ttl gets true, every subsequent
// caller (same process or not) gets false until the key expires.
//
// local caches up to capacity lost tokens in-process (evicting an arbitrary
// entry when full) so a tight
// retry loop that resubmits the same token doesn't pay a Redis round-trip
// for a reservation it already knows it lost; it never substitutes for
// Redis as the source of truth, it only negative-caches on this process's
// past observations.
type TokenCache struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration

	localMu       sync.Mutex
	local         map[string]time.Time
	localCapacity int
}

// NewTokenCache constructs a TokenCache. localCapacity <= 0 disables the
// in-process tier.
func NewTokenCache(client *redis.Client, keyPrefix string, ttl time.Duration, localCapacity int) *TokenCache {
	var local map[string]time.Time
	if localCapacity > 0 {
		local = make(map[string]time.Time, localCapacity)
	}
	return &TokenCache{
		client:        client,
		keyPrefix:     keyPrefix,
		ttl:           ttl,
		local:         local,
		localCapacity: localCapacity,
	}
}

// TryReserve reports whether this call is the first to reserve token within
// ttl. A local-tier hit short-circuits Redis; a local-tier miss always
// round-trips to Redis, since the local tier only remembers reservations
// this process has already lost.
func (c *TokenCache) TryReserve(ctx domain.Context, token string) (bool, error) {
	key := c.redisKey(token)

	if seen := c.checkLocal(key); seen {
		return false, nil
	}

	ok, err := c.client.SetNX(ctx, key, "1", c.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("op=tokencache.try_reserve: %w: %v", domain.ErrInfrastructure, err)
	}
	if !ok {
		c.rememberLocal(key)
	}
	return ok, nil
}

func (c *TokenCache) redisKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return c.keyPrefix + ":" + hex.EncodeToString(sum[:])
}

func (c *TokenCache) checkLocal(key string) bool {
	if c.local == nil {
		return false
	}
	c.localMu.Lock()
	defer c.localMu.Unlock()

	expiresAt, ok := c.local[key]
	if !ok {
		return false
	}
	if time.Now().After(expiresAt) {
		delete(c.local, key)
		return false
	}
	return true
}

func (c *TokenCache) rememberLocal(key string) {
	if c.local == nil {
		return
	}
	c.localMu.Lock()
	defer c.localMu.Unlock()

	if len(c.local) >= c.localCapacity {
		for k := range c.local {
			delete(c.local, k)
			break
		}
	}
	c.local[key] = time.Now().Add(c.ttl)
}

// NoOpCache implements domain.TokenCache for when the idempotency strategy
// is None: every reservation "succeeds" since there is no token to
// deduplicate.
type NoOpCache struct{}

// TryReserve always returns true.
func (NoOpCache) TryReserve(domain.Context, string) (bool, error) { return true, nil }

var errNilClient = errors.New("redis client is nil")

// Ping checks connectivity to Redis.
func (c *TokenCache) Ping(ctx domain.Context) error {
	if c.client == nil {
		return errNilClient
	}
	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("op=tokencache.ping: %w: %v", domain.ErrInfrastructure, err)
	}
	return nil
}
