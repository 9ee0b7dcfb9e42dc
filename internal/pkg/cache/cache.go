// Package cache provides an in-memory TTL cache that collapses concurrent
// misses for the same key into a single fetch.
package cache

import (
	"context"
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"
)

// FetchFunc loads the value for a key on a cache miss.
type FetchFunc[T any] func(ctx context.Context) (T, error)

// MemoryCache stores values of type T in go-cache. Fetch errors are not cached.
type MemoryCache[T any] struct {
	items *gocache.Cache
	group singleflight.Group
	ttl   time.Duration
}

// NewMemoryCache creates a cache whose entries expire after ttl and are
// swept every cleanupInterval.
func NewMemoryCache[T any](ttl, cleanupInterval time.Duration) *MemoryCache[T] {
	return &MemoryCache[T]{
		items: gocache.New(ttl, cleanupInterval),
		ttl:   ttl,
	}
}

// GetOrFetch returns the cached value for key, calling fetch at most once per
// key across concurrent callers on a miss.
func (c *MemoryCache[T]) GetOrFetch(ctx context.Context, key string, fetch FetchFunc[T]) (T, error) {
	var zero T

	if v, ok := c.items.Get(key); ok {
		if typed, ok := v.(T); ok {
			return typed, nil
		}
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		// Another caller may have filled the entry while we waited.
		if v, ok := c.items.Get(key); ok {
			return v, nil
		}
		fetched, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		c.items.Set(key, fetched, c.ttl)
		return fetched, nil
	})
	if err != nil {
		return zero, err
	}

	typed, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("unexpected type %T in cache for key %s", v, key)
	}
	return typed, nil
}

// Delete evicts key.
func (c *MemoryCache[T]) Delete(key string) {
	c.items.Delete(key)
}

// Flush evicts every entry.
func (c *MemoryCache[T]) Flush() {
	c.items.Flush()
}

// Len returns the number of cached entries, including expired ones not yet swept.
func (c *MemoryCache[T]) Len() int {
	return c.items.ItemCount()
}
