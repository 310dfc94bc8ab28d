// Package ttrcache provides a generic time-to-refresh cache.
//
// An entry is served as-is until it is TTR old; the next Get after that
// refetches it. Entries are never evicted by size.
package ttrcache

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// DefaultFetchTimeout bounds one fetch when WithFetchTimeout is not given.
const DefaultFetchTimeout = time.Minute

// FetchFunc loads the current value for one key.
type FetchFunc[K comparable, V any] func(ctx context.Context, key K) (V, error)

// Option mutates cache construction.
type Option func(*options)

type options struct {
	name         string
	clock        func() time.Time
	fetchTimeout time.Duration
}

// WithName labels the cache in errors and metrics.
func WithName(name string) Option {
	return func(o *options) {
		if name != "" {
			o.name = name
		}
	}
}

// WithClock overrides the wall clock, for tests.
func WithClock(clock func() time.Time) Option {
	return func(o *options) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithFetchTimeout bounds how long one shared fetch may run.
func WithFetchTimeout(timeout time.Duration) Option {
	return func(o *options) {
		if timeout > 0 {
			o.fetchTimeout = timeout
		}
	}
}

type entry[V any] struct {
	fetchedAt time.Time
	value     V
}

// flight is one fetch shared by every caller that missed the same key.
// value and err are written once, before done is closed.
type flight[V any] struct {
	done  chan struct{}
	value V
	err   error
}

// Cache memoizes FetchFunc results per key for a refresh interval.
//
// Concurrent misses for one key share a single fetch. The fetch outlives the
// caller that started it, so a canceled caller does not fail the others. A
// failed fetch leaves the previously stored value in place.
type Cache[K comparable, V any] struct {
	name         string
	ttr          time.Duration
	fetch        FetchFunc[K, V]
	clock        func() time.Time
	fetchTimeout time.Duration

	mu      sync.Mutex
	entries map[K]entry[V]
	flights map[K]*flight[V]
}

// New creates a cache that refetches entries once they are ttr old.
func New[K comparable, V any](ttr time.Duration, fetch FetchFunc[K, V], opts ...Option) (*Cache[K, V], error) {
	if ttr <= 0 {
		return nil, fmt.Errorf("new ttr cache: ttr must be > 0")
	}
	if fetch == nil {
		return nil, fmt.Errorf("new ttr cache: nil fetch func")
	}

	resolved := options{name: "default", clock: time.Now, fetchTimeout: DefaultFetchTimeout}
	for _, opt := range opts {
		opt(&resolved)
	}

	return &Cache[K, V]{
		name:         resolved.name,
		ttr:          ttr,
		fetch:        fetch,
		clock:        resolved.clock,
		fetchTimeout: resolved.fetchTimeout,
		entries:      make(map[K]entry[V]),
		flights:      make(map[K]*flight[V]),
	}, nil
}

// Get returns the value for key, fetching it first when absent or stale.
// A canceled ctx abandons the wait but not the shared fetch.
func (c *Cache[K, V]) Get(ctx context.Context, key K) (V, error) {
	call, hit := c.join(ctx, key)
	if hit {
		observeFetch(c.name, resultHit)
		return call.value, nil
	}

	select {
	case <-call.done:
	case <-ctx.Done():
		var zero V
		return zero, fmt.Errorf("ttr cache %s get %v: %w", c.name, key, ctx.Err())
	}
	if call.err != nil {
		var zero V
		return zero, fmt.Errorf("ttr cache %s get %v: %w", c.name, key, call.err)
	}

	return call.value, nil
}

// join serves a fresh entry, or returns the running fetch for key after
// starting one if none runs.
func (c *Cache[K, V]) join(ctx context.Context, key K) (*flight[V], bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if stored, ok := c.entries[key]; ok && c.clock().Sub(stored.fetchedAt) < c.ttr {
		return &flight[V]{value: stored.value}, true
	}
	if running, ok := c.flights[key]; ok {
		return running, false
	}

	call := &flight[V]{done: make(chan struct{})}
	c.flights[key] = call
	go c.run(context.WithoutCancel(ctx), key, call)

	return call, false
}

func (c *Cache[K, V]) run(ctx context.Context, key K, call *flight[V]) {
	fetchCtx, cancel := context.WithTimeout(ctx, c.fetchTimeout)
	defer cancel()

	value, err := c.fetchSafely(fetchCtx, key)

	c.mu.Lock()
	if err == nil {
		c.entries[key] = entry[V]{fetchedAt: c.clock(), value: value}
	}
	delete(c.flights, key)
	c.mu.Unlock()

	if err != nil {
		observeFetch(c.name, resultError)
	} else {
		observeFetch(c.name, resultMiss)
	}
	call.value, call.err = value, err
	close(call.done)
}

func (c *Cache[K, V]) fetchSafely(ctx context.Context, key K) (value V, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("fetch panic: %v", recovered)
		}
	}()

	return c.fetch(ctx, key)
}

// Set stores value for key as freshly fetched.
func (c *Cache[K, V]) Set(key K, value V) {
	c.mu.Lock()
	c.entries[key] = entry[V]{fetchedAt: c.clock(), value: value}
	c.mu.Unlock()
}

// Peek returns the stored value without refreshing it.
func (c *Cache[K, V]) Peek(key K) (V, bool) {
	c.mu.Lock()
	stored, ok := c.entries[key]
	c.mu.Unlock()

	return stored.value, ok
}

// Len reports how many keys currently hold a value.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.entries)
}
