package moduleaccess

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// moduleCache holds the active module list in redis. A nil *moduleCache is a
// permanently empty cache. Only module definitions are cached; access and
// role decisions are always read from the database.
//
// Entries are keyed by a generation counter that every registry write
// increments. A reader stores its list under the generation it observed
// before querying the database, so a list read before a write can never
// become visible after it.
type moduleCache struct {
	redis  *redis.Client
	prefix string
	ttl    time.Duration
}

func newModuleCache(client *redis.Client, prefix string, ttl time.Duration) *moduleCache {
	if client == nil {
		return nil
	}
	return &moduleCache{redis: client, prefix: prefix, ttl: ttl}
}

func (c *moduleCache) generationKey() string {
	return c.prefix + "modules:generation"
}

// activeKey generates the redis key for the active module list of gen.
func (c *moduleCache) activeKey(gen int64) string {
	return c.prefix + "modules:active:" + strconv.FormatInt(gen, 10)
}

// generation returns the current cache generation. ok is false when the
// cache is disabled or redis cannot be read, in which case nothing may be
// read from or written to the cache.
func (c *moduleCache) generation(ctx context.Context) (gen int64, ok bool) {
	if c == nil {
		return 0, false
	}
	gen, err := c.redis.Get(ctx, c.generationKey()).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, true
	}
	if err != nil {
		return 0, false
	}
	return gen, true
}

func (c *moduleCache) activeModules(ctx context.Context, gen int64) ([]Module, bool) {
	raw, err := c.redis.Get(ctx, c.activeKey(gen)).Bytes()
	if err != nil {
		return nil, false
	}
	var mods []Module
	if err := json.Unmarshal(raw, &mods); err != nil {
		return nil, false
	}
	return mods, true
}

func (c *moduleCache) storeActiveModules(ctx context.Context, gen int64, mods []Module) error {
	if mods == nil {
		mods = []Module{}
	}
	raw, err := json.Marshal(mods)
	if err != nil {
		return err
	}
	return c.redis.Set(ctx, c.activeKey(gen), raw, c.ttl).Err()
}

// invalidate moves the cache to a new generation. Entries of older
// generations are never read again and lapse with their TTL.
func (c *moduleCache) invalidate(ctx context.Context) error {
	if c == nil {
		return nil
	}
	return c.redis.Incr(ctx, c.generationKey()).Err()
}

// WithCache enables the redis read-through cache for ListActive.
func (r *ModuleRegistry) WithCache(client *redis.Client, prefix string, ttl time.Duration) *ModuleRegistry {
	r.cache = newModuleCache(client, prefix, ttl)
	return r
}

// CacheStats returns cache statistics
func (r *ModuleRegistry) CacheStats(ctx context.Context) map[string]interface{} {
	stats := map[string]interface{}{
		"redis_enabled": r.cache != nil,
	}
	if r.cache == nil {
		return stats
	}

	stats["prefix"] = r.cache.prefix
	stats["ttl_seconds"] = r.cache.ttl.Seconds()
	if gen, ok := r.cache.generation(ctx); ok {
		stats["generation"] = gen
		exists, err := r.cache.redis.Exists(ctx, r.cache.activeKey(gen)).Result()
		if err == nil {
			stats["active_modules_cached"] = exists == 1
		}
	}
	keys, err := r.cache.redis.Keys(ctx, r.cache.prefix+"*").Result()
	if err == nil {
		stats["cache_keys_count"] = len(keys)
	}
	return stats
}

// ClearCache drops every cached list and starts a new generation. The
// generation counter itself is kept so it never moves backwards.
func (r *ModuleRegistry) ClearCache(ctx context.Context) error {
	if r.cache == nil {
		return nil
	}
	keys, err := r.cache.redis.Keys(ctx, r.cache.prefix+"modules:active:*").Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	if len(keys) > 0 {
		if err := r.cache.redis.Del(ctx, keys...).Err(); err != nil {
			return err
		}
	}
	return r.cache.invalidate(ctx)
}
