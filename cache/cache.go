// cache/cache.go
package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/neottil/ditto/enforcer"
	"github.com/neottil/ditto/model"
)

// Loader fetches the authoritative value on a cache miss. It returns a
// nonexistent entry when the backing entity is confirmed absent and a
// fetch-error entry on transient failure; a returned error is treated as a
// fetch error as well.
type Loader[K comparable, V any] func(ctx context.Context, key K) (Entry[V], error)

// Options configures a Cache.
type Options struct {
	TTL      time.Duration
	ErrorTTL time.Duration
	MaxSize  int
}

// Cache is a key-addressed cache with single-flight loading, TTL and size
// bounded eviction, and explicit plus conditional invalidation. Fetch-error
// entries are cached under the shorter error TTL to avoid hammering a
// failing backing store.
type Cache[K comparable, V any] struct {
	loader Loader[K, V]
	opts   Options

	mu      sync.Mutex
	entries map[K]timedEntry[V]
	group   singleflight.Group
}

type timedEntry[V any] struct {
	entry     Entry[V]
	expiresAt time.Time
}

func New[K comparable, V any](loader Loader[K, V], opts Options) *Cache[K, V] {
	return &Cache[K, V]{
		loader:  loader,
		opts:    opts,
		entries: make(map[K]timedEntry[V]),
	}
}

// Get returns the cached entry for key, invoking the loader at most once
// across all concurrent callers of the same key.
func (c *Cache[K, V]) Get(ctx context.Context, key K) (Entry[V], error) {
	if entry, ok := c.lookup(key); ok {
		return entry, nil
	}

	result, err, _ := c.group.Do(fmt.Sprintf("%v", key), func() (any, error) {
		// A concurrent load may have populated the cache while this
		// caller waited on the flight group.
		if entry, ok := c.lookup(key); ok {
			return entry, nil
		}
		entry, err := c.loader(ctx, key)
		if err != nil {
			entry = FetchError[V](err)
		}
		c.store(key, entry)
		return entry, nil
	})
	if err != nil {
		return FetchError[V](err), err
	}
	return result.(Entry[V]), nil
}

func (c *Cache[K, V]) lookup(key K) (Entry[V], bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	te, ok := c.entries[key]
	if !ok {
		return Entry[V]{}, false
	}
	if time.Now().After(te.expiresAt) {
		delete(c.entries, key)
		return Entry[V]{}, false
	}
	return te.entry, true
}

func (c *Cache[K, V]) store(key K, entry Entry[V]) {
	ttl := c.opts.TTL
	if entry.IsFetchError() {
		ttl = c.opts.ErrorTTL
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.opts.MaxSize > 0 && len(c.entries) >= c.opts.MaxSize {
		for k := range c.entries {
			delete(c.entries, k)
			break
		}
	}
	c.entries[key] = timedEntry[V]{entry: entry, expiresAt: time.Now().Add(ttl)}
}

// Invalidate unconditionally evicts the entry for key.
func (c *Cache[K, V]) Invalidate(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// InvalidateConditionally evicts the entry for key only when the current
// entry satisfies predicate, and reports whether an eviction occurred.
// Invalidating an already-absent key is a no-op.
func (c *Cache[K, V]) InvalidateConditionally(key K, predicate func(Entry[V]) bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	te, ok := c.entries[key]
	if !ok {
		return false
	}
	if !predicate(te.entry) {
		return false
	}
	delete(c.entries, key)
	return true
}

// Len returns the number of cached entries, expired or not.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Key addresses a compiled enforcer. Raw and import-resolved compilations
// of the same policy are cached under distinct keys so that a change to an
// importing policy does not churn the imported policy's raw entry.
type Key struct {
	PolicyID       model.PolicyID
	ResolveImports bool
}

func (k Key) String() string {
	return fmt.Sprintf("%s#resolveImports=%t", k.PolicyID, k.ResolveImports)
}

// EnforcerCache is the cluster-local cache of compiled policy enforcers.
type EnforcerCache = Cache[Key, *enforcer.PolicyEnforcer]

// EnforcerLoader feeds EnforcerCache misses.
type EnforcerLoader = Loader[Key, *enforcer.PolicyEnforcer]
