package adapters

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/adcontextprotocol/signals-agent/pkg/types"
)

// DefaultCacheDuration is the live segment cache TTL when none is configured
const DefaultCacheDuration = time.Hour

// DefaultFetchTimeout bounds one upstream fetch when the cache is built without one
const DefaultFetchTimeout = 5 * time.Second

// FetchFunc loads the segments of one account from the platform
type FetchFunc func(ctx context.Context) ([]types.Segment, error)

// CacheResult is what a cache lookup hands back to the caller
type CacheResult struct {
	Segments  []types.Segment
	FetchedAt time.Time
	Cached    bool // served without an upstream call by this caller
}

type cacheEntry struct {
	segments  []types.Segment
	fetchedAt time.Time
}

// Cache holds the live segment listings of one platform, keyed by account.
//
// At most one fetch per account is in flight. Callers arriving during a fetch
// wait for it or for their own context. The fetch itself is detached from
// the caller that started it and bounded by the fetch timeout, so one
// caller's cancellation never fails the others. Failed fetches are not stored.
type Cache struct {
	ttl          time.Duration
	fetchTimeout time.Duration
	now          func() time.Time

	mu      sync.RWMutex
	entries map[string]cacheEntry

	group singleflight.Group
}

// CacheOption configures a Cache
type CacheOption func(*Cache)

// WithFetchTimeout bounds every upstream fetch made by the cache
func WithFetchTimeout(d time.Duration) CacheOption {
	return func(c *Cache) {
		if d > 0 {
			c.fetchTimeout = d
		}
	}
}

// NewCache creates a cache with the given TTL and clock. A nil clock means time.Now.
func NewCache(ttl time.Duration, now func() time.Time, opts ...CacheOption) *Cache {
	if ttl <= 0 {
		ttl = DefaultCacheDuration
	}
	if now == nil {
		now = time.Now
	}
	c := &Cache{
		ttl:          ttl,
		fetchTimeout: DefaultFetchTimeout,
		now:          now,
		entries:      make(map[string]cacheEntry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the listing for account, calling fetch on a miss.
func (c *Cache) Get(ctx context.Context, account string, fetch FetchFunc) (CacheResult, error) {
	if e, ok := c.lookup(account); ok {
		return CacheResult{Segments: cloneSegments(e.segments), FetchedAt: e.fetchedAt, Cached: true}, nil
	}

	// fetched is only written by the flight this caller started
	var fetched bool
	ch := c.group.DoChan(account, func() (any, error) {
		// A flight that finished between lookup and DoChan already filled the entry
		if e, ok := c.lookup(account); ok {
			return e, nil
		}
		fetched = true
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.fetchTimeout)
		defer cancel()
		segments, err := fetch(fetchCtx)
		if err != nil {
			return nil, err
		}
		e := cacheEntry{segments: cloneSegments(segments), fetchedAt: c.now()}
		c.mu.Lock()
		c.entries[account] = e
		c.mu.Unlock()
		return e, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return CacheResult{}, res.Err
		}
		e := res.Val.(cacheEntry)
		return CacheResult{Segments: cloneSegments(e.segments), FetchedAt: e.fetchedAt, Cached: !fetched}, nil
	case <-ctx.Done():
		return CacheResult{}, ctx.Err()
	}
}

func (c *Cache) lookup(account string) (cacheEntry, bool) {
	c.mu.RLock()
	e, ok := c.entries[account]
	c.mu.RUnlock()
	if !ok || c.now().Sub(e.fetchedAt) >= c.ttl {
		return cacheEntry{}, false
	}
	return e, true
}

// Invalidate drops the entry for account
func (c *Cache) Invalidate(account string) {
	c.mu.Lock()
	delete(c.entries, account)
	c.mu.Unlock()
}

// Purge drops every entry
func (c *Cache) Purge() {
	c.mu.Lock()
	c.entries = make(map[string]cacheEntry)
	c.mu.Unlock()
}

// Len returns the number of stored entries, expired or not
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func cloneSegments(in []types.Segment) []types.Segment {
	if in == nil {
		return nil
	}
	out := make([]types.Segment, len(in))
	for i := range in {
		out[i] = in[i].Clone()
	}
	return out
}
