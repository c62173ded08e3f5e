package adapters

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/adcontextprotocol/signals-agent/internal/config"
	"github.com/adcontextprotocol/signals-agent/internal/resilience"
	"github.com/adcontextprotocol/signals-agent/pkg/types"
)

// DefaultTimeout bounds a single adapter call when the platform sets none
const DefaultTimeout = 5 * time.Second

type platform struct {
	name    string
	cfg     config.PlatformConfig
	adapter PlatformAdapter
	cache   *Cache
	limiter *rate.Limiter
	timeout time.Duration
}

// Manager owns the platform adapters, their caches and breakers, and fans
// discovery out to them.
type Manager struct {
	now        func() time.Time
	breakers   *resilience.Breakers
	httpClient *http.Client

	mu        sync.RWMutex
	platforms map[string]*platform

	activationsMu sync.Mutex
	activations   map[activationKey]string // -> platform segment id
}

type activationKey struct {
	platform, account, segmentID string
}

// Option configures a Manager
type Option func(*Manager)

// WithClock sets the clock used by caches and breakers
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithBreakerConfig overrides the per-platform circuit breaker settings
func WithBreakerConfig(cfg resilience.Config) Option {
	return func(m *Manager) { m.breakers = resilience.NewBreakers(cfg) }
}

// WithHTTPClient sets the transport handed to remote adapters built from config
func WithHTTPClient(c *http.Client) Option {
	return func(m *Manager) { m.httpClient = c }
}

// NewManager creates an empty manager
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		now:         time.Now,
		platforms:   make(map[string]*platform),
		activations: make(map[activationKey]string),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.breakers == nil {
		cfg := resilience.DefaultConfig()
		cfg.Now = m.now
		m.breakers = resilience.NewBreakers(cfg)
	}
	return m
}

// Register adds an enabled platform. A later registration under the same name replaces it.
func (m *Manager) Register(name string, cfg config.PlatformConfig, adapter PlatformAdapter) {
	timeout := cfg.Timeout()
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.platforms[name] = &platform{
		name:    name,
		cfg:     cfg,
		adapter: adapter,
		cache:   NewCache(cfg.CacheDuration(), m.now, WithFetchTimeout(timeout)),
		limiter: rate.NewLimiter(limit, burst),
		timeout: timeout,
	}
}

// Platforms returns the registered platform names, sorted
func (m *Manager) Platforms() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.platforms))
	for name := range m.platforms {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Has reports whether platform is registered
func (m *Manager) Has(name string) bool {
	_, ok := m.get(name)
	return ok
}

// RequiresAccount reports whether segments of platform are only visible to
// principals holding an account on it.
func (m *Manager) RequiresAccount(name string) bool {
	p, ok := m.get(name)
	return ok && !p.cfg.PublicInventory
}

// Cache returns the live segment cache of platform
func (m *Manager) Cache(name string) (*Cache, bool) {
	p, ok := m.get(name)
	if !ok {
		return nil, false
	}
	return p.cache, true
}

func (m *Manager) get(name string) (*platform, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.platforms[name]
	return p, ok
}

// account resolves the principal's account on p
func (m *Manager) account(principal types.Principal, p *platform) (string, bool) {
	if account, ok := principal.AccountFor(p.name); ok {
		return account, true
	}
	if !principal.IsAnonymous() {
		if account := p.cfg.PrincipalAccounts[principal.ID]; account != "" {
			return account, true
		}
	}
	return "", false
}

// Fetch queries every registered platform the principal can reach, optionally
// restricted to names. Platforms without a mapped account are skipped unless
// they serve public inventory. Failures are reported per platform and never
// returned as an error.
func (m *Manager) Fetch(ctx context.Context, principal types.Principal, names []string) map[string]types.AdapterResult {
	type target struct {
		p       *platform
		account string
	}

	var wanted map[string]bool
	if len(names) > 0 {
		wanted = make(map[string]bool, len(names))
		for _, n := range names {
			wanted[n] = true
		}
	}

	var targets []target
	for _, name := range m.Platforms() {
		if wanted != nil && !wanted[name] {
			continue
		}
		p, _ := m.get(name)
		account, ok := m.account(principal, p)
		if !ok && !p.cfg.PublicInventory {
			continue
		}
		targets = append(targets, target{p: p, account: account})
	}

	results := make([]types.AdapterResult, len(targets))
	var g errgroup.Group
	for i, t := range targets {
		g.Go(func() error {
			results[i] = m.fetchOne(ctx, t.p, t.account)
			return nil
		})
	}
	_ = g.Wait()

	out := make(map[string]types.AdapterResult, len(results))
	for _, r := range results {
		out[r.Platform] = r
	}
	return out
}

func (m *Manager) fetchOne(ctx context.Context, p *platform, account string) types.AdapterResult {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	res, err := p.cache.Get(ctx, account, m.fetchFunc(p, account))
	result := types.AdapterResult{Platform: p.name, AccountID: account}
	if err != nil {
		result.Failure = classify(ctx, err)
		result.Detail = err.Error()
		zap.L().Warn("platform fetch failed",
			zap.String("platform", p.name),
			zap.String("account_id", account),
			zap.String("failure", string(result.Failure)),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err),
		)
		return result
	}

	result.Segments = res.Segments
	result.Cached = res.Cached
	result.FetchedAt = res.FetchedAt.Unix()
	zap.L().Debug("platform fetch",
		zap.String("platform", p.name),
		zap.String("account_id", account),
		zap.Int("segments", len(res.Segments)),
		zap.Bool("cached", res.Cached),
		zap.Duration("elapsed", time.Since(start)),
	)
	return result
}

// fetchFunc is the upstream call made on a cache miss: rate limit, then breaker
func (m *Manager) fetchFunc(p *platform, account string) FetchFunc {
	return func(ctx context.Context) ([]types.Segment, error) {
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrapf(types.ErrAdapterTimeout, "%s rate limit wait: %v", p.name, err)
		}
		return resilience.Do(ctx, m.breakers.Get(p.name), func(ctx context.Context) ([]types.Segment, error) {
			return p.adapter.FetchSegments(ctx, account)
		})
	}
}

// classify maps a fetch error to its failure marker
func classify(ctx context.Context, err error) types.FailureKind {
	switch {
	case errors.Is(err, types.ErrAdapterAuth):
		return types.FailureAuth
	case errors.Is(err, types.ErrAdapterTimeout),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(ctx.Err(), context.DeadlineExceeded):
		return types.FailureTimeout
	default:
		return types.FailureUnavailable
	}
}

// catalogAccount resolves the principal's account for a catalog segment
// deployment. The platform need not have a registered adapter.
func (m *Manager) catalogAccount(principal types.Principal, name string) (string, bool) {
	if p, ok := m.get(name); ok {
		return m.account(principal, p)
	}
	return principal.AccountFor(name)
}

// Activate deploys segmentID on platform for the principal's account.
//
// A catalog segment (catalog non-nil) is deployed immediately on any platform
// the principal holds an account on. A live segment needs a registered
// platform and must appear in its listing for the account; the adapter's
// status is returned unchanged.
func (m *Manager) Activate(ctx context.Context, principal types.Principal, name, segmentID string, catalog *types.Segment) (types.ActivationResult, error) {
	if catalog != nil {
		account, ok := m.catalogAccount(principal, name)
		if !ok {
			return types.ActivationResult{}, types.PermissionDenied(segmentID, name)
		}
		return types.ActivationResult{
			PlatformSegmentID: CatalogPlatformSegmentID(name, segmentID, account),
			Status:            types.StatusDeployed,
			Source:            types.SourceCatalog,
		}, nil
	}

	p, ok := m.get(name)
	if !ok {
		return types.ActivationResult{}, types.InvalidSegment(segmentID, name)
	}
	account, ok := m.account(principal, p)
	if !ok {
		return types.ActivationResult{}, types.PermissionDenied(segmentID, name)
	}

	seg, err := m.liveSegment(ctx, p, account, segmentID)
	if err != nil {
		return types.ActivationResult{}, err
	}

	callCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	res, err := resilience.Do(callCtx, m.breakers.Get(name), func(ctx context.Context) (types.ActivationResult, error) {
		return p.adapter.ActivateSegment(ctx, seg.ExternalID, account)
	})
	if err != nil {
		return types.ActivationResult{}, eris.Wrapf(err, "adapters: activate %s on %s", segmentID, name)
	}
	res.Source = types.SourcePlatformLive

	m.activationsMu.Lock()
	m.activations[activationKey{name, account, segmentID}] = res.PlatformSegmentID
	m.activationsMu.Unlock()

	zap.L().Info("segment activation requested",
		zap.String("platform", name),
		zap.String("account_id", account),
		zap.String("segment_id", segmentID),
		zap.String("platform_segment_id", res.PlatformSegmentID),
		zap.String("status", string(res.Status)),
	)
	return res, nil
}

// liveSegment finds segmentID in the account's listing, fetching on a miss
func (m *Manager) liveSegment(ctx context.Context, p *platform, account, segmentID string) (types.Segment, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	res, err := p.cache.Get(fetchCtx, account, m.fetchFunc(p, account))
	if err != nil {
		return types.Segment{}, eris.Wrapf(err, "adapters: list %s segments", p.name)
	}
	for _, s := range res.Segments {
		if s.ID == segmentID {
			return s, nil
		}
	}
	return types.Segment{}, types.InvalidSegment(segmentID, p.name)
}

// CheckStatus reports the deployment state of segmentID on platform. Catalog
// segments are always deployed. For live segments the id recorded by Activate
// is queried; an unrecorded id is passed to the adapter as a platform segment id.
func (m *Manager) CheckStatus(ctx context.Context, principal types.Principal, name, segmentID string, catalog *types.Segment) (types.ActivationStatus, error) {
	if catalog != nil {
		if _, ok := m.catalogAccount(principal, name); !ok {
			return "", types.PermissionDenied(segmentID, name)
		}
		return types.StatusDeployed, nil
	}

	p, ok := m.get(name)
	if !ok {
		return "", types.InvalidSegment(segmentID, name)
	}
	account, ok := m.account(principal, p)
	if !ok {
		return "", types.PermissionDenied(segmentID, name)
	}

	m.activationsMu.Lock()
	platformID, ok := m.activations[activationKey{name, account, segmentID}]
	m.activationsMu.Unlock()
	if !ok {
		platformID = segmentID
	}

	callCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	status, err := resilience.Do(callCtx, m.breakers.Get(name), func(ctx context.Context) (types.ActivationStatus, error) {
		return p.adapter.CheckStatus(ctx, platformID, account)
	})
	if err != nil {
		return "", eris.Wrapf(err, "adapters: status of %s on %s", segmentID, name)
	}
	return status, nil
}

// Authenticate warms every adapter. Failures are logged, not returned.
func (m *Manager) Authenticate(ctx context.Context) {
	var g errgroup.Group
	for _, name := range m.Platforms() {
		p, _ := m.get(name)
		g.Go(func() error {
			callCtx, cancel := context.WithTimeout(ctx, p.timeout)
			defer cancel()
			if err := p.adapter.Authenticate(callCtx); err != nil {
				zap.L().Warn("platform authentication failed",
					zap.String("platform", name),
					zap.Error(err),
				)
				return nil
			}
			zap.L().Info("platform authenticated", zap.String("platform", name))
			return nil
		})
	}
	_ = g.Wait()
}

// BreakerStates exposes the circuit state per platform
func (m *Manager) BreakerStates() map[string]resilience.State {
	return m.breakers.States()
}
