// Package cache implements the pipeline's per-entity TTL caches:
// items (by gid), itemsWithPrices (by gid), and latestPrices (by
// gid:quantity), each with independent TTL, size bound, and optional
// hit/miss statistics. An optional second tier backed by Redis can be
// layered on top for horizontal scaling (§4.9 expansion); with it
// disabled behaviour matches a single in-process TTL cache exactly.
package cache

import (
	"container/list"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// MetricsSink optionally mirrors one named cache's hit/miss/eviction
// counters and hit ratio into a Prometheus registry at the same call
// sites Stats already updates.
type MetricsSink interface {
	IncHits(cache string)
	IncMisses(cache string)
	IncEvictions(cache string)
	SetHitRatio(cache string, ratio float64)
}

// Stats reports hit/miss/eviction counters for one named cache.
type Stats struct {
	Hits      int64
	Misses    int64
	Evictions int64
}

// HitRate returns Hits/(Hits+Misses), or 0 when no requests were made.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

type entry struct {
	key        string
	value      interface{}
	expiresAt  time.Time
	listElem   *list.Element
}

// TTLCache is a thread-safe, size-bounded, expiration-after-write
// cache with LRU-equivalent eviction once MaxSize is reached.
type TTLCache struct {
	name    string
	ttl     time.Duration
	maxSize int

	mu    sync.RWMutex
	items map[string]*entry
	lru   *list.List

	recordStats bool
	stats       Stats

	redis    *redis.Client
	redisTTL time.Duration

	sink MetricsSink
}

// Config describes one named cache's TTL and capacity.
type Config struct {
	TTL            time.Duration
	MaxSize        int
	RecordStats    bool
}

// New builds an in-process TTL cache.
func New(name string, cfg Config) *TTLCache {
	return &TTLCache{
		name:        name,
		ttl:         cfg.TTL,
		maxSize:     cfg.MaxSize,
		items:       make(map[string]*entry),
		lru:         list.New(),
		recordStats: cfg.RecordStats,
	}
}

// WithRedis layers an optional distributed tier on top. Only
// GetOrLoadJSON reads through and writes through to Redis; Get and Set
// stay local, and Invalidate also deletes the key from Redis.
func (c *TTLCache) WithRedis(client *redis.Client, ttl time.Duration) *TTLCache {
	c.redis = client
	c.redisTTL = ttl
	return c
}

// WithMetrics wires an optional Prometheus sink alongside the cache's
// own Stats counters. Returns c for chaining at the construction site.
func (c *TTLCache) WithMetrics(sink MetricsSink) *TTLCache {
	c.sink = sink
	return c
}

// Get returns the cached value for key, reporting a hit/miss.
func (c *TTLCache) Get(key string) (interface{}, bool) {
	c.mu.Lock()
	e, found := c.items[key]
	if found {
		if time.Now().After(e.expiresAt) {
			c.removeLocked(e)
			found = false
		} else {
			c.lru.MoveToFront(e.listElem)
		}
	}
	var snapshot Stats
	if c.recordStats {
		if found {
			c.stats.Hits++
		} else {
			c.stats.Misses++
		}
		snapshot = c.stats
	}
	c.mu.Unlock()

	if c.recordStats && c.sink != nil {
		if found {
			c.sink.IncHits(c.name)
		} else {
			c.sink.IncMisses(c.name)
		}
		c.sink.SetHitRatio(c.name, snapshot.HitRate())
	}

	if found {
		return e.value, true
	}
	return nil, false
}

// Set stores value under key with the cache's configured TTL.
func (c *TTLCache) Set(key string, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.items[key]; ok {
		existing.value = value
		existing.expiresAt = time.Now().Add(c.ttl)
		c.lru.MoveToFront(existing.listElem)
		return
	}

	elem := c.lru.PushFront(key)
	c.items[key] = &entry{
		key:       key,
		value:     value,
		expiresAt: time.Now().Add(c.ttl),
		listElem:  elem,
	}

	evicted := 0
	for c.maxSize > 0 && len(c.items) > c.maxSize {
		back := c.lru.Back()
		if back == nil {
			break
		}
		c.removeLocked(c.items[back.Value.(string)])
		c.stats.Evictions++
		evicted++
	}
	if c.sink != nil {
		for i := 0; i < evicted; i++ {
			c.sink.IncEvictions(c.name)
		}
	}
}

// removeLocked deletes e from both the map and the LRU list. Caller
// must hold c.mu.
func (c *TTLCache) removeLocked(e *entry) {
	delete(c.items, e.key)
	c.lru.Remove(e.listElem)
	log.Trace().Str("cache", c.name).Str("key", e.key).Msg("cache entry removed")
}

// Invalidate removes key from the cache, and from the Redis tier if
// configured.
func (c *TTLCache) Invalidate(key string) {
	c.mu.Lock()
	if e, ok := c.items[key]; ok {
		c.removeLocked(e)
	}
	c.mu.Unlock()

	if c.redis != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := c.redis.Del(ctx, c.redisKey(key)).Err(); err != nil {
			log.Debug().Err(err).Str("cache", c.name).Msg("redis invalidate failed")
		}
	}
}

// GetOrLoad returns the cached value, or computes it via load, stores
// it, and returns it on a miss. load errors are not cached.
func (c *TTLCache) GetOrLoad(key string, load func() (interface{}, error)) (interface{}, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}
	v, err := load()
	if err != nil {
		return nil, err
	}
	c.Set(key, v)
	return v, nil
}

// GetOrLoadJSON is GetOrLoad generalized with an optional Redis tier:
// into decodes a Redis hit before it is promoted to the local tier,
// and a local miss that falls through to load() is write-through
// encoded to Redis for the next process/instance to find. Callers
// supply the decode target via into, since the generic interface{}
// value alone doesn't carry enough type information to round-trip
// through JSON; values are encoded with json.Marshal.
func (c *TTLCache) GetOrLoadJSON(key string, into func() interface{}, load func() (interface{}, error)) (interface{}, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}
	if c.redis != nil {
		if v, ok := c.getRemote(key, into); ok {
			c.Set(key, v)
			return v, nil
		}
	}
	v, err := load()
	if err != nil {
		return nil, err
	}
	c.Set(key, v)
	if c.redis != nil {
		c.setRemote(key, v)
	}
	return v, nil
}

// getRemote attempts a Redis read, decoding into the pointer `into`
// produces. Any Redis error or decode failure is treated as a miss.
func (c *TTLCache) getRemote(key string, into func() interface{}) (interface{}, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	raw, err := c.redis.Get(ctx, c.redisKey(key)).Bytes()
	if err != nil {
		return nil, false
	}
	target := into()
	if err := json.Unmarshal(raw, target); err != nil {
		return nil, false
	}
	return target, true
}

func (c *TTLCache) setRemote(key string, value interface{}) {
	raw, err := json.Marshal(value)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if err := c.redis.Set(ctx, c.redisKey(key), raw, c.redisTTL).Err(); err != nil {
		log.Debug().Err(err).Str("cache", c.name).Msg("redis write-through failed")
	}
}

// Stats returns a snapshot of hit/miss/eviction counters.
func (c *TTLCache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stats
}

// Len returns the current number of live entries (expired-but-not-yet
// evicted entries still count until their next Get/Set touches them).
func (c *TTLCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

func (c *TTLCache) redisKey(key string) string {
	return fmt.Sprintf("hdv:%s:%s", c.name, key)
}
