// Package cache provides a Redis cache-aside layer for read-mostly lookups.
package cache

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/stockroom-labs/stockroom/internal/config"
)

// LoadFunc fetches the value from the source of truth on a miss.
type LoadFunc func(ctx context.Context) (any, error)

// Cache is the cache-aside contract the use cases depend on.
type Cache interface {
	Fetch(ctx context.Context, key string, dest any, load LoadFunc) error
	Delete(ctx context.Context, keys ...string) error
}

// Stats tracks cache statistics.
type Stats struct {
	Hits    uint64 `json:"hits"`
	Misses  uint64 `json:"misses"`
	Sets    uint64 `json:"sets"`
	Deletes uint64 `json:"deletes"`
	Stale   uint64 `json:"stale"`
	Errors  uint64 `json:"errors"`
}

// RedisCache stores JSON values under prefix. Concurrent misses for one key share one load.
//
// Every key has a generation counter that Delete bumps. A loaded value is only stored when the
// generation did not move while it was loading, so an invalidation that lands between the
// load and the store is never undone by the stale value.
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	group  singleflight.Group
	stats  Stats
}

// NewRedisCache keeps entries for ttl. A zero ttl stores them without expiry.
func NewRedisCache(client *redis.Client, prefix string, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, prefix: prefix, ttl: ttl}
}

// New returns a Redis-backed cache when an address is configured and a pass-through otherwise.
func New(cfg config.RedisConfig, prefix string) (Cache, func() error) {
	if !cfg.Enabled() {
		return Passthrough{}, func() error { return nil }
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return NewRedisCache(client, prefix, cfg.TTL), client.Close
}

// Fetch fills dest from Redis, or from load on a miss and then stores the result. Redis errors
// degrade to calling load; they are counted and logged, not returned.
func (c *RedisCache) Fetch(ctx context.Context, key string, dest any, load LoadFunc) error {
	fullKey := c.prefix + key

	data, err := c.client.Get(ctx, fullKey).Bytes()
	switch {
	case err == nil:
		if jsonErr := json.Unmarshal(data, dest); jsonErr == nil {
			atomic.AddUint64(&c.stats.Hits, 1)
			return nil
		}
		atomic.AddUint64(&c.stats.Errors, 1)
	case errors.Is(err, redis.Nil):
		atomic.AddUint64(&c.stats.Misses, 1)
	default:
		atomic.AddUint64(&c.stats.Errors, 1)
		zerolog.Ctx(ctx).Warn().Err(err).Str("key", fullKey).Msg("[CACHE] get failed")
	}

	v, err, _ := c.group.Do(fullKey, func() (any, error) {
		gen, genErr := c.generation(ctx, c.client, fullKey)
		value, err := load(ctx)
		if err != nil {
			return nil, err
		}
		raw, err := json.Marshal(value)
		if err != nil {
			return nil, errors.Wrap(err, "cache marshal")
		}
		if genErr != nil {
			atomic.AddUint64(&c.stats.Errors, 1)
			return raw, nil
		}
		c.store(ctx, fullKey, raw, gen)
		return raw, nil
	})
	if err != nil {
		return err
	}
	return errors.Wrap(json.Unmarshal(v.([]byte), dest), "cache unmarshal")
}

// store sets key to raw unless its generation moved past gen.
func (c *RedisCache) store(ctx context.Context, key string, raw []byte, gen int64) {
	err := c.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := c.generation(ctx, tx, key)
		if err != nil {
			return err
		}
		if current != gen {
			return errStale
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, raw, c.ttl)
			return nil
		})
		return err
	}, generationKey(key))

	switch {
	case err == nil:
		atomic.AddUint64(&c.stats.Sets, 1)
	case errors.Is(err, errStale), errors.Is(err, redis.TxFailedErr):
		atomic.AddUint64(&c.stats.Stale, 1)
		zerolog.Ctx(ctx).Debug().Str("key", key).Msg("[CACHE] invalidated during load, not stored")
	default:
		atomic.AddUint64(&c.stats.Errors, 1)
		zerolog.Ctx(ctx).Warn().Err(err).Str("key", key).Msg("[CACHE] set failed")
	}
}

var errStale = errors.New("cache generation moved")

func generationKey(key string) string { return key + ":gen" }

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (c *RedisCache) generation(ctx context.Context, cmd getter, key string) (int64, error) {
	gen, err := cmd.Get(ctx, generationKey(key)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

// Delete removes keys and bumps their generations. Missing keys are not an error.
func (c *RedisCache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = c.prefix + k
	}
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, k := range full {
			pipe.Incr(ctx, generationKey(k))
			if c.ttl > 0 {
				pipe.Expire(ctx, generationKey(k), 2*c.ttl)
			}
		}
		pipe.Del(ctx, full...)
		return nil
	})
	if err != nil {
		atomic.AddUint64(&c.stats.Errors, 1)
		return errors.Wrap(err, "cache delete")
	}
	atomic.AddUint64(&c.stats.Deletes, uint64(len(keys)))
	return nil
}

// Stats returns a snapshot of the counters.
func (c *RedisCache) Stats() Stats {
	return Stats{
		Hits:    atomic.LoadUint64(&c.stats.Hits),
		Misses:  atomic.LoadUint64(&c.stats.Misses),
		Sets:    atomic.LoadUint64(&c.stats.Sets),
		Deletes: atomic.LoadUint64(&c.stats.Deletes),
		Stale:   atomic.LoadUint64(&c.stats.Stale),
		Errors:  atomic.LoadUint64(&c.stats.Errors),
	}
}

// Passthrough always loads. It keeps the JSON round trip so callers see the same copy
// semantics as with Redis.
type Passthrough struct{}

func (Passthrough) Fetch(ctx context.Context, _ string, dest any, load LoadFunc) error {
	value, err := load(ctx)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return errors.Wrap(err, "cache marshal")
	}
	return errors.Wrap(json.Unmarshal(raw, dest), "cache unmarshal")
}

func (Passthrough) Delete(context.Context, ...string) error { return nil }
