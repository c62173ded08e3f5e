// Package session keeps the discovery contexts that link a result set to
// later activation calls. Contexts live only in process memory.
package session

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/adcontextprotocol/signals-agent/internal/idgen"
	"github.com/adcontextprotocol/signals-agent/pkg/types"
)

const (
	DefaultTTL           = 7 * 24 * time.Hour
	DefaultMaxEntries    = 10000
	DefaultSweepInterval = time.Hour
)

// Store holds discovery contexts with a TTL and an LRU bound
type Store struct {
	ttl           time.Duration
	sweepInterval time.Duration
	now           func() time.Time
	newID         idgen.Generator

	mu      sync.Mutex
	entries *lru.Cache[string, *types.DiscoveryContext]
}

// Option configures a Store
type Option func(*Store)

// WithClock sets the clock used for creation times and expiry
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithIDGenerator replaces the context id generator
func WithIDGenerator(gen idgen.Generator) Option {
	return func(s *Store) { s.newID = gen }
}

// WithSweepInterval sets the period of Run
func WithSweepInterval(d time.Duration) Option {
	return func(s *Store) { s.sweepInterval = d }
}

// NewStore creates a store. Non-positive ttl or maxEntries select the defaults.
func NewStore(ttl time.Duration, maxEntries int, opts ...Option) (*Store, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	s := &Store{
		ttl:           ttl,
		sweepInterval: DefaultSweepInterval,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.newID == nil {
		s.newID = idgen.ContextID(s.now)
	}

	entries, err := lru.New[string, *types.DiscoveryContext](maxEntries)
	if err != nil {
		return nil, eris.Wrap(err, "session: create context cache")
	}
	s.entries = entries
	return s, nil
}

// CreateOrReuse records a discovery. An unexpired context owned by the same
// principal is reused: its spec and discovered ids are replaced while its
// activations and creation time are kept. Otherwise a new context is created.
func (s *Store) CreateOrReuse(existingID, spec string, segmentIDs []string, principalID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existingID != "" {
		if c, ok := s.live(existingID); ok && c.PrincipalID == principalID {
			c.SignalSpec = spec
			c.DiscoveredSegmentIDs = append([]string(nil), segmentIDs...)
			return existingID
		}
	}

	id := s.newID()
	for s.entries.Contains(id) {
		id = s.newID()
	}
	s.entries.Add(id, &types.DiscoveryContext{
		ContextID:            id,
		SignalSpec:           spec,
		DiscoveredSegmentIDs: append([]string(nil), segmentIDs...),
		PrincipalID:          principalID,
		CreatedAt:            s.now(),
	})
	return id
}

// LinkActivation appends an activation to the context
func (s *Store) LinkActivation(id, segmentID, platform string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.live(id)
	if !ok {
		return eris.Wrapf(types.ErrContextNotFound, "session: link activation to %q", id)
	}
	c.Activations = append(c.Activations, types.Activation{
		SegmentID:   segmentID,
		Platform:    platform,
		ActivatedAt: s.now(),
	})
	return nil
}

// Get returns a copy of the context
func (s *Store) Get(id string) (types.DiscoveryContext, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.live(id)
	if !ok {
		return types.DiscoveryContext{}, eris.Wrapf(types.ErrContextNotFound, "session: get %q", id)
	}
	return c.Clone(), nil
}

// live returns the unexpired context for id, removing it when expired. mu must be held.
func (s *Store) live(id string) (*types.DiscoveryContext, bool) {
	c, ok := s.entries.Get(id)
	if !ok {
		return nil, false
	}
	if s.expired(c) {
		s.entries.Remove(id)
		return nil, false
	}
	return c, true
}

func (s *Store) expired(c *types.DiscoveryContext) bool {
	return s.now().Sub(c.CreatedAt) >= s.ttl
}

// Sweep removes every expired context and returns how many were removed
func (s *Store) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for _, id := range s.entries.Keys() {
		if c, ok := s.entries.Peek(id); ok && s.expired(c) {
			s.entries.Remove(id)
			removed++
		}
	}
	return removed
}

// Len returns the number of stored contexts, including expired ones not yet swept
func (s *Store) Len() int {
	return s.entries.Len()
}

// Run sweeps periodically until ctx is done
func (s *Store) Run(ctx context.Context) {
	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Sweep(); n > 0 {
				zap.L().Debug("session: expired contexts swept", zap.Int("removed", n))
			}
		}
	}
}
