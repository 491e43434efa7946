// Package cache is a best-effort TTL cache over the persistent key-value
// store. Every failure is logged and reported as a miss.
package cache

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/zhouzirui/soulbuddy/companion/internal/storage"
)

const namespace = "cache:"

// Well-known keys shared by the cache callers.
const (
	KeyMoodToday     = "mood:today"
	KeyMoodTimeline  = "mood:timeline:today"
	KeyMoodAnalytics = "mood:analytics:today"
)

// ProfileKey scopes the profile cache entry to a user.
func ProfileKey(userID string) string {
	return "profile:" + userID
}

type record struct {
	Value    json.RawMessage `json:"value"`
	StoredAt int64           `json:"storedAt"`
}

// Cache stores {value, storedAt} records. TTL is chosen per read.
type Cache struct {
	store storage.Store
	now   func() time.Time
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		c.now = now
	}
}

// New wraps store.
func New(store storage.Store, opts ...Option) *Cache {
	c := &Cache{store: store, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the value under key when now - storedAt < ttl.
func Get[T any](ctx context.Context, c *Cache, key string, ttl time.Duration) (T, bool) {
	var zero T
	if c == nil {
		return zero, false
	}

	raw, ok, err := c.store.Get(ctx, namespace+key)
	if err != nil {
		log.Printf("[cache] read %s failed: %v", key, err)
		return zero, false
	}
	if !ok {
		return zero, false
	}

	var rec record
	if err := json.Unmarshal(raw, &rec); err != nil {
		log.Printf("[cache] decode %s failed: %v", key, err)
		return zero, false
	}

	age := c.now().Sub(time.UnixMilli(rec.StoredAt))
	if age >= ttl {
		return zero, false
	}

	var value T
	if err := json.Unmarshal(rec.Value, &value); err != nil {
		log.Printf("[cache] decode value %s failed: %v", key, err)
		return zero, false
	}
	return value, true
}

// Set overwrites key and resets storedAt to now.
func Set[T any](ctx context.Context, c *Cache, key string, value T) {
	if c == nil {
		return
	}

	payload, err := json.Marshal(value)
	if err != nil {
		log.Printf("[cache] encode %s failed: %v", key, err)
		return
	}
	raw, err := json.Marshal(record{Value: payload, StoredAt: c.now().UnixMilli()})
	if err != nil {
		log.Printf("[cache] encode record %s failed: %v", key, err)
		return
	}
	if err := c.store.Put(ctx, namespace+key, raw); err != nil {
		log.Printf("[cache] write %s failed: %v", key, err)
	}
}

// Invalidate drops key so the next Get misses.
func (c *Cache) Invalidate(ctx context.Context, keys ...string) {
	if c == nil {
		return
	}
	for _, key := range keys {
		if err := c.store.Delete(ctx, namespace+key); err != nil {
			log.Printf("[cache] invalidate %s failed: %v", key, err)
		}
	}
}
