package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// DefaultBalanceCacheTTL bounds staleness when invalidation is missed.
const DefaultBalanceCacheTTL = time.Minute

// DefaultMemoryCacheEntries caps the in-process cache.
const DefaultMemoryCacheEntries = 10000

// BalanceCache stores computed balances. It is never authoritative.
type BalanceCache interface {
	Key(ctx context.Context, q BalanceQuery) (string, error)
	Get(ctx context.Context, key string) (Balance, bool, error)
	Set(ctx context.Context, key string, balance Balance) error
	Invalidate(ctx context.Context, tenantID int64) error
}

// queryToken escapes every field so free-form filter ids cannot collide.
func queryToken(q BalanceQuery) string {
	return url.Values{
		"account":  {q.AccountCode},
		"from":     {shared.FormatOptionalDate(q.From)},
		"asOf":     {shared.FormatOptionalDate(q.AsOf)},
		"order":    {q.Filter.OrderID},
		"customer": {q.Filter.CustomerID},
		"supplier": {q.Filter.SupplierID},
	}.Encode()
}

// RedisBalanceCache keeps balances in Redis under a per-tenant version so a
// single INCR invalidates every key of the tenant.
type RedisBalanceCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisBalanceCache instantiates the Redis cache.
func NewRedisBalanceCache(client *redis.Client, ttl time.Duration) *RedisBalanceCache {
	if ttl <= 0 {
		ttl = DefaultBalanceCacheTTL
	}
	return &RedisBalanceCache{client: client, ttl: ttl}
}

func redisVersionKey(tenantID int64) string {
	return fmt.Sprintf("ledger:balance:%d:version", tenantID)
}

// Version returns the tenant's cache version, zero when never bumped.
func (c *RedisBalanceCache) Version(ctx context.Context, tenantID int64) (int64, error) {
	ver, err := c.client.Get(ctx, redisVersionKey(tenantID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return ver, err
}

func (c *RedisBalanceCache) Key(ctx context.Context, q BalanceQuery) (string, error) {
	ver, err := c.Version(ctx, q.TenantID)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("ledger:balance:%d:v%d:%s", q.TenantID, ver, queryToken(q)), nil
}

func (c *RedisBalanceCache) Get(ctx context.Context, key string) (Balance, bool, error) {
	payload, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Balance{}, false, nil
	}
	if err != nil {
		return Balance{}, false, err
	}
	var balance Balance
	if err := json.Unmarshal(payload, &balance); err != nil {
		return Balance{}, false, err
	}
	return balance, true, nil
}

func (c *RedisBalanceCache) Set(ctx context.Context, key string, balance Balance) error {
	raw, err := json.Marshal(balance)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, raw, c.ttl).Err()
}

// Invalidate bumps the tenant version; stale keys age out through their TTL.
func (c *RedisBalanceCache) Invalidate(ctx context.Context, tenantID int64) error {
	return c.client.Incr(ctx, redisVersionKey(tenantID)).Err()
}

type cacheItem struct {
	value   Balance
	tenant  int64
	expires time.Time
}

// MemoryBalanceCache is an in-process TTL cache for single-instance deployments.
// Keys carry a per-tenant generation; Invalidate bumps it so a balance computed
// before the bump is never stored under a live key.
type MemoryBalanceCache struct {
	ttl        time.Duration
	maxEntries int
	now        func() time.Time
	mu         sync.RWMutex
	items      map[string]cacheItem
	gens       map[int64]int64
	nextSweep  time.Time
}

// NewMemoryBalanceCache builds an in-process cache.
func NewMemoryBalanceCache(ttl time.Duration) *MemoryBalanceCache {
	if ttl <= 0 {
		ttl = DefaultBalanceCacheTTL
	}
	return &MemoryBalanceCache{
		ttl:        ttl,
		maxEntries: DefaultMemoryCacheEntries,
		now:        time.Now,
		items:      make(map[string]cacheItem),
		gens:       make(map[int64]int64),
	}
}

func (c *MemoryBalanceCache) Key(_ context.Context, q BalanceQuery) (string, error) {
	c.mu.RLock()
	gen := c.gens[q.TenantID]
	c.mu.RUnlock()
	return fmt.Sprintf("t%d:v%d:%s", q.TenantID, gen, queryToken(q)), nil
}

func (c *MemoryBalanceCache) Get(_ context.Context, key string) (Balance, bool, error) {
	c.mu.RLock()
	item, ok := c.items[key]
	c.mu.RUnlock()
	if !ok {
		return Balance{}, false, nil
	}
	if c.now().After(item.expires) {
		c.mu.Lock()
		delete(c.items, key)
		c.mu.Unlock()
		return Balance{}, false, nil
	}
	return item.value, true, nil
}

// Set stores the balance unless the key belongs to an invalidated generation
// or the cache is full after sweeping expired entries.
func (c *MemoryBalanceCache) Set(_ context.Context, key string, balance Balance) error {
	var tenant, gen int64
	if _, err := fmt.Sscanf(key, "t%d:v%d:", &tenant, &gen); err != nil {
		return fmt.Errorf("ledger: malformed balance cache key %q", key)
	}
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gens[tenant] {
		return nil
	}
	if !now.Before(c.nextSweep) {
		c.sweepLocked(now)
	}
	if _, exists := c.items[key]; !exists && len(c.items) >= c.maxEntries {
		c.sweepLocked(now)
		if len(c.items) >= c.maxEntries {
			return nil
		}
	}
	c.items[key] = cacheItem{value: balance, tenant: tenant, expires: now.Add(c.ttl)}
	return nil
}

func (c *MemoryBalanceCache) sweepLocked(now time.Time) {
	for key, item := range c.items {
		if now.After(item.expires) {
			delete(c.items, key)
		}
	}
	c.nextSweep = now.Add(c.ttl)
}

// Len reports the number of stored entries, expired ones included.
func (c *MemoryBalanceCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

func (c *MemoryBalanceCache) Invalidate(_ context.Context, tenantID int64) error {
	c.mu.Lock()
	c.gens[tenantID]++
	for key, item := range c.items {
		if item.tenant == tenantID {
			delete(c.items, key)
		}
	}
	c.mu.Unlock()
	return nil
}
