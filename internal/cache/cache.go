// Package cache holds directory and web search results for a short time so
// repeated questions do not hit the upstream services again.
package cache

import (
	"container/list"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"repairbot/internal/logging"

	"golang.org/x/sync/singleflight"
)

// Stats is a point-in-time view of cache activity.
type Stats struct {
	Entries  int
	Hits     int64
	Misses   int64
	Shared   int64 // loads satisfied by another in-flight caller
	BySource map[string]int
}

// item is one stored result; source is e.g. "ifixit.search" or "web".
type item struct {
	key, value, source string
	expires            time.Time
}

// Cache is a TTL cache with a size cap. When full, the entry stored first
// is dropped. Concurrent loads of the same key collapse into one upstream
// call. A nil *Cache, or one with ttl <= 0, is valid and caches nothing.
type Cache struct {
	mu    sync.Mutex
	byKey map[string]*list.Element
	fifo  *list.List // of *item, oldest at the front
	limit int
	ttl   time.Duration
	now   func() time.Time

	flight               singleflight.Group
	hits, misses, shared atomic.Int64
}

// New creates a cache holding at most limit entries for ttl each.
func New(limit int, ttl time.Duration) *Cache {
	return &Cache{
		byKey: map[string]*list.Element{},
		fifo:  list.New(),
		limit: max(limit, 1),
		ttl:   ttl,
		now:   time.Now,
	}
}

// Enabled reports whether values are retained.
func (c *Cache) Enabled() bool {
	return c != nil && c.ttl > 0
}

// Get returns an unexpired value.
func (c *Cache) Get(key string) (string, bool) {
	if !c.Enabled() {
		return "", false
	}
	c.mu.Lock()
	var it *item
	if el, ok := c.byKey[key]; ok {
		it = el.Value.(*item)
	}
	fresh := it != nil && c.now().Before(it.expires)
	c.mu.Unlock()

	if !fresh {
		c.misses.Add(1)
		return "", false
	}
	c.hits.Add(1)
	return it.value, true
}

// Set stores value under key. Overwriting refreshes the value and expiry
// but keeps the key's place in the eviction order.
func (c *Cache) Set(key, value, source string) {
	if !c.Enabled() {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	it := &item{key: key, value: value, source: source, expires: c.now().Add(c.ttl)}
	if el, ok := c.byKey[key]; ok {
		el.Value = it
		return
	}
	for c.fifo.Len() >= c.limit {
		oldest := c.fifo.Front()
		delete(c.byKey, oldest.Value.(*item).key)
		c.fifo.Remove(oldest)
	}
	c.byKey[key] = c.fifo.PushBack(it)
}

// Size returns the number of stored entries, expired ones included.
func (c *Cache) Size() int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fifo.Len()
}

// GetOrLoad returns the cached value for key or calls load once for all
// concurrent callers asking for the same key. Only successful loads are
// stored. The shared load runs with the first caller's ctx.
func (c *Cache) GetOrLoad(ctx context.Context, source, key string, load func(context.Context) (string, error)) (string, error) {
	if !c.Enabled() {
		return load(ctx)
	}
	if v, ok := c.Get(key); ok {
		logging.Get(logging.CategoryCache).Debugw("cache hit", "source", source, "key", key)
		return v, nil
	}

	v, err, shared := c.flight.Do(key, func() (any, error) {
		val, err := load(ctx)
		if err == nil {
			c.Set(key, val, source)
		}
		return val, err
	})
	if shared {
		c.shared.Add(1)
	}
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Stats returns counters and a per-source count of live entries.
func (c *Cache) Stats() Stats {
	st := Stats{BySource: map[string]int{}}
	if c == nil {
		return st
	}
	c.mu.Lock()
	now := c.now()
	for el := c.fifo.Front(); el != nil; el = el.Next() {
		if it := el.Value.(*item); now.Before(it.expires) {
			st.BySource[it.source]++
		}
	}
	st.Entries = c.fifo.Len()
	c.mu.Unlock()

	st.Hits, st.Misses, st.Shared = c.hits.Load(), c.misses.Load(), c.shared.Load()
	return st
}

// Key derives a short fixed-length key from its parts.
func Key(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "\x00")))
	return hex.EncodeToString(sum[:8])
}
