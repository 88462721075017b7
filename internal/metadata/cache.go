package metadata

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/openproject-tools/openproject-mcp/internal/hal"
	"github.com/openproject-tools/openproject-mcp/internal/openproject"
)

// DefaultTTL is how long a cached reference list stays valid.
const DefaultTTL = 10 * time.Minute

// Cache memoizes reference lists per base URL and endpoint. Entries
// are replaced wholesale on expiry; there is no background eviction.
// Safe for concurrent use — two racing misses for the same key may
// both fetch, and the later store simply wins.
type Cache struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	ts    time.Time
	items any
}

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithClock replaces the time source so tests control expiry.
func WithClock(now func() time.Time) CacheOption {
	return func(c *Cache) { c.now = now }
}

// NewCache creates a cache with the given TTL; ttl <= 0 selects
// DefaultTTL.
func NewCache(ttl time.Duration, opts ...CacheOption) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c := &Cache{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]cacheEntry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Clear drops every entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]cacheEntry)
}

func (c *Cache) lookup(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok || c.now().Sub(entry.ts) >= c.ttl {
		return nil, false
	}
	return entry.items, true
}

func (c *Cache) store(key string, items any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{ts: c.now(), items: items}
}

// cachedList serves endpoint's `_embedded.elements` through the
// cache. The key includes the client's base URL so two instances
// never share entries. The lock is not held across the fetch; a
// redundant fetch on a rare concurrent miss is acceptable.
func cachedList[T any](ctx context.Context, cache *Cache, client *openproject.Client, endpoint string, parse func(map[string]any) (T, error)) ([]T, error) {
	key := client.BaseURL() + ":" + endpoint
	if v, ok := cache.lookup(key); ok {
		if items, ok := v.([]T); ok {
			return items, nil
		}
	}

	items, err := fetchList(ctx, client, endpoint, nil, parse)
	if err != nil {
		return nil, err
	}
	cache.store(key, items)
	return items, nil
}

// fetchList gets one collection page and parses its elements.
func fetchList[T any](ctx context.Context, client *openproject.Client, endpoint string, params map[string]string, parse func(map[string]any) (T, error)) ([]T, error) {
	values := urlValues(params)
	payload, err := client.Get(ctx, endpoint, values, "metadata")
	if err != nil {
		return nil, err
	}
	elements, err := hal.Elements(payload)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", endpoint, err)
	}
	items := make([]T, 0, len(elements))
	for _, e := range elements {
		item, err := parse(e)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", endpoint, err)
		}
		items = append(items, item)
	}
	return items, nil
}

func urlValues(params map[string]string) url.Values {
	if len(params) == 0 {
		return nil
	}
	values := url.Values{}
	for k, v := range params {
		values.Set(k, v)
	}
	return values
}

// paginatedList walks offset-based pages until a page comes back
// empty or maxPages is reached.
func paginatedList[T any](ctx context.Context, client *openproject.Client, endpoint string, maxPages, pageSize int, parse func(map[string]any) (T, error)) ([]T, error) {
	var items []T
	offset := 0
	for page := 0; page < maxPages; page++ {
		batch, err := fetchList(ctx, client, endpoint, map[string]string{
			"offset":   fmt.Sprint(offset),
			"pageSize": fmt.Sprint(pageSize),
		}, parse)
		if err != nil {
			return nil, err
		}
		items = append(items, batch...)
		if len(batch) == 0 {
			break
		}
		offset += pageSize
	}
	return items, nil
}
