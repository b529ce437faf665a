package rbac

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/authzcore/internal/shared"
)

// PermissionCache stores precomputed effective permission sets per principal.
// Entries are scoped by a Stamp: bumping the generation drops every entry at
// once, bumping a principal's epoch drops that principal's entry.
type PermissionCache interface {
	Stamp(ctx context.Context, principalID int64) (Stamp, error)
	Get(ctx context.Context, stamp Stamp, principalID int64) (PermissionSet, bool, error)
	Set(ctx context.Context, stamp Stamp, principalID int64, set PermissionSet) error
	Invalidate(ctx context.Context, principalID int64) error
	InvalidateAll(ctx context.Context) error
}

// Stamp identifies the cache state a permission set was computed under.
// A set stored with a stamp that is no longer current is never served.
type Stamp struct {
	Generation int64
	Epoch      int64
}

type memoryEntry struct {
	stamp   Stamp
	set     PermissionSet
	expires time.Time
}

// MemoryPermissionCache keeps entries in process memory.
type MemoryPermissionCache struct {
	mu         sync.RWMutex
	generation int64
	epochs     map[int64]int64
	entries    map[int64]memoryEntry
	ttl        time.Duration
	now        func() time.Time
}

// NewMemoryPermissionCache constructs the cache. A non-positive ttl keeps entries until invalidated.
func NewMemoryPermissionCache(ttl time.Duration) *MemoryPermissionCache {
	return &MemoryPermissionCache{
		epochs:  make(map[int64]int64),
		entries: make(map[int64]memoryEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Stamp implements PermissionCache.
func (c *MemoryPermissionCache) Stamp(_ context.Context, principalID int64) (Stamp, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current(principalID), nil
}

func (c *MemoryPermissionCache) current(principalID int64) Stamp {
	return Stamp{Generation: c.generation, Epoch: c.epochs[principalID]}
}

// Get implements PermissionCache.
func (c *MemoryPermissionCache) Get(_ context.Context, stamp Stamp, principalID int64) (PermissionSet, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[principalID]
	if !ok || entry.stamp != stamp || stamp != c.current(principalID) {
		return nil, false, nil
	}
	if !entry.expires.IsZero() && c.now().After(entry.expires) {
		return nil, false, nil
	}
	return entry.set, true, nil
}

// Set implements PermissionCache. Sets computed under a stale stamp are discarded.
func (c *MemoryPermissionCache) Set(_ context.Context, stamp Stamp, principalID int64, set PermissionSet) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if stamp != c.current(principalID) {
		return nil
	}
	entry := memoryEntry{stamp: stamp, set: set}
	if c.ttl > 0 {
		entry.expires = c.now().Add(c.ttl)
	}
	c.entries[principalID] = entry
	return nil
}

// Invalidate implements PermissionCache.
func (c *MemoryPermissionCache) Invalidate(_ context.Context, principalID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.epochs[principalID]++
	delete(c.entries, principalID)
	return nil
}

// InvalidateAll implements PermissionCache.
func (c *MemoryPermissionCache) InvalidateAll(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	c.entries = make(map[int64]memoryEntry)
	return nil
}

// RedisPermissionCache shares effective sets between processes.
// Stale entries are left under their old keys and expire through the TTL.
type RedisPermissionCache struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedisPermissionCache constructs the cache.
func NewRedisPermissionCache(client redis.UniversalClient, ttl time.Duration) *RedisPermissionCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RedisPermissionCache{client: client, ttl: ttl}
}

// Stamp implements PermissionCache.
func (c *RedisPermissionCache) Stamp(ctx context.Context, principalID int64) (Stamp, error) {
	values, err := c.client.MGet(ctx, shared.PermissionGenerationKey, shared.PermissionEpochKey(principalID)).Result()
	if err != nil {
		return Stamp{}, fmt.Errorf("rbac: cache stamp: %w", err)
	}
	gen, err := counter(values[0])
	if err != nil {
		return Stamp{}, fmt.Errorf("rbac: cache generation: %w", err)
	}
	epoch, err := counter(values[1])
	if err != nil {
		return Stamp{}, fmt.Errorf("rbac: cache epoch: %w", err)
	}
	return Stamp{Generation: gen, Epoch: epoch}, nil
}

func counter(v any) (int64, error) {
	if v == nil {
		return 0, nil
	}
	s, ok := v.(string)
	if !ok {
		return 0, fmt.Errorf("unexpected counter type %T", v)
	}
	return strconv.ParseInt(s, 10, 64)
}

// Get implements PermissionCache.
func (c *RedisPermissionCache) Get(ctx context.Context, stamp Stamp, principalID int64) (PermissionSet, bool, error) {
	raw, err := c.client.Get(ctx, shared.PermissionCacheKey(stamp.Generation, stamp.Epoch, principalID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("rbac: cache get: %w", err)
	}
	var codes []string
	if err := json.Unmarshal(raw, &codes); err != nil {
		return nil, false, fmt.Errorf("rbac: cache decode: %w", err)
	}
	return NewPermissionSet(codes...), true, nil
}

// Set implements PermissionCache. A write that races an invalidation lands
// under the superseded stamp's key, which readers no longer consult.
func (c *RedisPermissionCache) Set(ctx context.Context, stamp Stamp, principalID int64, set PermissionSet) error {
	current, err := c.Stamp(ctx, principalID)
	if err != nil {
		return err
	}
	if current != stamp {
		return nil
	}
	payload, err := json.Marshal(set.Codes())
	if err != nil {
		return err
	}
	key := shared.PermissionCacheKey(stamp.Generation, stamp.Epoch, principalID)
	if err := c.client.Set(ctx, key, payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("rbac: cache set: %w", err)
	}
	return nil
}

// Invalidate implements PermissionCache.
func (c *RedisPermissionCache) Invalidate(ctx context.Context, principalID int64) error {
	if err := c.client.Incr(ctx, shared.PermissionEpochKey(principalID)).Err(); err != nil {
		return fmt.Errorf("rbac: cache invalidate: %w", err)
	}
	return nil
}

// InvalidateAll implements PermissionCache.
func (c *RedisPermissionCache) InvalidateAll(ctx context.Context) error {
	if err := c.client.Incr(ctx, shared.PermissionGenerationKey).Err(); err != nil {
		return fmt.Errorf("rbac: cache invalidate all: %w", err)
	}
	return nil
}
