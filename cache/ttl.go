// Package cache provides a bounded, time-expiring memoization map.
package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Result labels passed to an observer.
const (
	Hit  = "hit"
	Miss = "miss"
)

type options struct {
	now      func() time.Time
	coalesce bool
	observe  func(result string)
}

// Option configures a TTL cache.
type Option func(*options)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithCoalescing joins concurrent misses for the same key onto one fetch.
// Without it, every concurrent miss runs its own fetch.
func WithCoalescing() Option {
	return func(o *options) { o.coalesce = true }
}

// WithObserver is called with Hit or Miss on every lookup.
func WithObserver(fn func(result string)) Option {
	return func(o *options) { o.observe = fn }
}

type entry[V any] struct {
	val      V
	inserted time.Time
}

// TTL maps keys to values that expire ttl after insertion. An expired entry is
// never returned. When the cache holds max entries, inserting purges expired
// entries and then evicts the oldest insertion.
type TTL[K comparable, V any] struct {
	mu    sync.Mutex
	items map[K]entry[V]
	ttl   time.Duration
	max   int

	opts  options
	group *singleflight.Group
}

func New[K comparable, V any](ttl time.Duration, max int, opts ...Option) *TTL[K, V] {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	c := &TTL[K, V]{
		items: make(map[K]entry[V]),
		ttl:   ttl,
		max:   max,
		opts:  o,
	}
	if o.coalesce {
		c.group = &singleflight.Group{}
	}
	return c
}

// Get returns the value for key if it was inserted less than ttl ago.
func (c *TTL[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.items[key]
	if ok && c.opts.now().Sub(e.inserted) < c.ttl {
		return e.val, true
	}
	if ok {
		delete(c.items, key)
	}
	var zero V
	return zero, false
}

// Set stores val under key with the current time.
func (c *TTL[K, V]) Set(key K, val V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.opts.now()
	if _, exists := c.items[key]; !exists && c.max > 0 && len(c.items) >= c.max {
		c.evict(now)
	}
	c.items[key] = entry[V]{val: val, inserted: now}
}

// evict must be called with mu held.
func (c *TTL[K, V]) evict(now time.Time) {
	var (
		oldestKey K
		oldest    time.Time
		found     bool
	)
	for k, e := range c.items {
		if now.Sub(e.inserted) >= c.ttl {
			delete(c.items, k)
			continue
		}
		if !found || e.inserted.Before(oldest) {
			oldestKey, oldest, found = k, e.inserted, true
		}
	}
	if len(c.items) >= c.max && found {
		delete(c.items, oldestKey)
	}
}

// Len counts stored entries, including ones that expired but were not yet purged.
func (c *TTL[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// GetOrFetch returns the cached value for key or calls fetch and caches its
// result. Errors are returned to the caller and never cached. With coalescing
// the fetch runs detached from the caller's cancellation, so fetch must bound
// itself.
func (c *TTL[K, V]) GetOrFetch(ctx context.Context, key K, fetch func(context.Context) (V, error)) (V, error) {
	if v, ok := c.Get(key); ok {
		c.observe(Hit)
		return v, nil
	}
	c.observe(Miss)

	if c.group == nil {
		return c.fetchAndStore(ctx, key, fetch)
	}

	// the shared fetch outlives any single caller; each caller still gives
	// up on its own ctx
	shared := context.WithoutCancel(ctx)
	ch := c.group.DoChan(fmt.Sprint(key), func() (any, error) {
		// a joined caller may arrive just after the leader stored the value
		if v, ok := c.Get(key); ok {
			return v, nil
		}
		return c.fetchAndStore(shared, key, fetch)
	})

	var zero V
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		return res.Val.(V), nil
	}
}

func (c *TTL[K, V]) fetchAndStore(ctx context.Context, key K, fetch func(context.Context) (V, error)) (V, error) {
	v, err := fetch(ctx)
	if err != nil {
		return v, err
	}
	c.Set(key, v)
	return v, nil
}

func (c *TTL[K, V]) observe(result string) {
	if c.opts.observe != nil {
		c.opts.observe(result)
	}
}
