// Package discovery composes strategy selection, search, access control and
// the context store into the discover / activate / status calls exposed to
// buyers.
package discovery

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/adcontextprotocol/signals-agent/internal/access"
	"github.com/adcontextprotocol/signals-agent/internal/searcher"
	"github.com/adcontextprotocol/signals-agent/internal/session"
	"github.com/adcontextprotocol/signals-agent/internal/storage"
	"github.com/adcontextprotocol/signals-agent/internal/strategy"
	"github.com/adcontextprotocol/signals-agent/pkg/types"
)

// Defaults for Options
const (
	DefaultTimeout        = 15 * time.Second
	DefaultLimit          = 10
	DefaultMaxLimit       = 100
	DefaultPoolMultiplier = 3
	DefaultMaxPool        = 500
)

// ErrInvalidRequest marks a request with missing or malformed arguments
var ErrInvalidRequest = eris.New("invalid request")

// Searcher runs one search
type Searcher interface {
	Search(ctx context.Context, req searcher.Request) (*searcher.Response, error)
}

// Platforms activates segments on external platforms
type Platforms interface {
	Has(name string) bool
	Activate(ctx context.Context, principal types.Principal, platform, segmentID string, catalog *types.Segment) (types.ActivationResult, error)
	CheckStatus(ctx context.Context, principal types.Principal, platform, segmentID string, catalog *types.Segment) (types.ActivationStatus, error)
}

// Catalog resolves catalog segments by id
type Catalog interface {
	GetSegment(ctx context.Context, id string) (*types.Segment, error)
}

// Dependencies are the collaborators a Service is composed from
type Dependencies struct {
	Catalog    Catalog
	Searcher   Searcher
	Platforms  Platforms
	Access     *access.Resolver
	Selector   *strategy.Selector
	Principals map[string]types.Principal
}

// Options tunes a Service. Zero values select the defaults.
type Options struct {
	Timeout        time.Duration
	DefaultLimit   int
	MaxLimit       int
	PoolMultiplier int
	MaxPool        int

	ContextTTL     time.Duration
	MaxContexts    int
	SessionOptions []session.Option
}

// Service implements signal discovery and activation
type Service struct {
	catalog    Catalog
	searcher   Searcher
	platforms  Platforms
	access     *access.Resolver
	selector   *strategy.Selector
	principals map[string]types.Principal
	contexts   *session.Store
	opts       Options
}

// New creates a Service and the context store it owns
func New(deps Dependencies, opts Options) (*Service, error) {
	if deps.Catalog == nil || deps.Searcher == nil || deps.Platforms == nil {
		return nil, eris.New("discovery: catalog, searcher and platforms are required")
	}
	if deps.Access == nil {
		deps.Access = access.NewResolver(nil)
	}
	if deps.Selector == nil {
		deps.Selector = strategy.NewSelector(strategy.Options{})
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxLimit <= 0 {
		opts.MaxLimit = DefaultMaxLimit
	}
	if opts.DefaultLimit <= 0 {
		opts.DefaultLimit = DefaultLimit
	}
	if opts.DefaultLimit > opts.MaxLimit {
		opts.DefaultLimit = opts.MaxLimit
	}
	if opts.PoolMultiplier <= 0 {
		opts.PoolMultiplier = DefaultPoolMultiplier
	}
	if opts.MaxPool <= 0 {
		opts.MaxPool = DefaultMaxPool
	}

	contexts, err := session.NewStore(opts.ContextTTL, opts.MaxContexts, opts.SessionOptions...)
	if err != nil {
		return nil, eris.Wrap(err, "discovery: create context store")
	}

	return &Service{
		catalog:    deps.Catalog,
		searcher:   deps.Searcher,
		platforms:  deps.Platforms,
		access:     deps.Access,
		selector:   deps.Selector,
		principals: deps.Principals,
		contexts:   contexts,
		opts:       opts,
	}, nil
}

// Run sweeps expired contexts until ctx is done
func (s *Service) Run(ctx context.Context) {
	s.contexts.Run(ctx)
}

// Principal resolves a principal id. Missing and unknown ids resolve to the
// anonymous public principal.
func (s *Service) Principal(id string) types.Principal {
	id = strings.TrimSpace(id)
	if id == "" {
		return types.Anonymous()
	}
	if p, ok := s.principals[id]; ok {
		return p
	}
	zap.L().Debug("discovery: unknown principal, treating as anonymous", zap.String("principal_id", id))
	return types.Anonymous()
}

// DiscoverRequest is the input of Discover
type DiscoverRequest struct {
	SignalSpec  string        `json:"signal_spec"`
	PrincipalID string        `json:"principal_id,omitempty"`
	Limit       int           `json:"max_results,omitempty"`
	ContextID   string        `json:"context_id,omitempty"`
	Platforms   []string      `json:"platforms,omitempty"`
	Filters     types.Filters `json:"filters,omitempty"`
}

// StrategyInfo reports how the query was searched
type StrategyInfo struct {
	Mode            strategy.Mode `json:"mode"`
	Expand          bool          `json:"expand"`
	Reason          string        `json:"reason,omitempty"`
	Terms           []string      `json:"terms,omitempty"`
	ExpansionFailed bool          `json:"expansion_failed,omitempty"`
	CatalogFailed   bool          `json:"catalog_failed,omitempty"`
	Degraded        bool          `json:"degraded,omitempty"`
}

// DiscoverResponse is the result of Discover
type DiscoverResponse struct {
	Message             string                         `json:"message"`
	Candidates          []types.ScoredCandidate        `json:"candidates"`
	ContextID           string                         `json:"context_id"`
	ClarificationNeeded bool                           `json:"clarification_needed"`
	Strategy            StrategyInfo                   `json:"strategy"`
	Platforms           map[string]types.AdapterResult `json:"platforms"`
}

// Discover searches the catalog and the live platforms, filters and prices
// the merged result for the principal and records a discovery context.
func (s *Service) Discover(ctx context.Context, req DiscoverRequest) (*DiscoverResponse, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.Timeout)
		defer cancel()
	}

	principal := s.Principal(req.PrincipalID)
	limit := s.limit(req.Limit)
	query := strings.TrimSpace(req.SignalSpec)
	strat := s.selector.Classify(query)

	pool := limit * s.opts.PoolMultiplier
	if pool > s.opts.MaxPool {
		pool = s.opts.MaxPool
	}

	var (
		resp       *searcher.Response
		candidates []types.ScoredCandidate
		live       map[string]types.AdapterResult
	)
	for {
		var err error
		resp, err = s.searcher.Search(ctx, searcher.Request{
			Query:     query,
			Strategy:  strat,
			Pool:      pool,
			Principal: principal,
			Platforms: req.Platforms,
			Live:      live,
		})
		if err != nil {
			return nil, eris.Wrapf(err, "discovery: search %q", query)
		}
		live = resp.Platforms

		candidates = applyFilters(s.access.FilterAndPrice(ctx, resp.Candidates, principal), req.Filters)
		if len(candidates) >= limit || !resp.CatalogSaturated || pool >= s.opts.MaxPool {
			break
		}
		pool *= 2
		if pool > s.opts.MaxPool {
			pool = s.opts.MaxPool
		}
		zap.L().Debug("discovery: widening search pool",
			zap.String("query", query),
			zap.Int("visible", len(candidates)),
			zap.Int("pool", pool),
		)
	}

	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	ids := make([]string, len(candidates))
	for i := range candidates {
		candidates[i].Rank = i + 1
		ids[i] = candidates[i].Segment.ID
	}

	contextID := s.contexts.CreateOrReuse(req.ContextID, query, ids, principal.ID)

	return &DiscoverResponse{
		Message:             composeDiscoverMessage(query, candidates, resp),
		Candidates:          candidates,
		ContextID:           contextID,
		ClarificationNeeded: len(candidates) == 0,
		Strategy: StrategyInfo{
			Mode:            strat.Mode,
			Expand:          strat.Expand,
			Reason:          strat.Reason,
			Terms:           resp.Terms,
			ExpansionFailed: resp.ExpansionFailed,
			CatalogFailed:   resp.CatalogFailed,
			Degraded:        resp.Degraded,
		},
		Platforms: resp.Platforms,
	}, nil
}

func (s *Service) limit(requested int) int {
	switch {
	case requested <= 0:
		return s.opts.DefaultLimit
	case requested > s.opts.MaxLimit:
		return s.opts.MaxLimit
	default:
		return requested
	}
}

func applyFilters(candidates []types.ScoredCandidate, f types.Filters) []types.ScoredCandidate {
	if f.Empty() {
		return candidates
	}
	out := candidates[:0]
	for _, c := range candidates {
		if f.Match(c) {
			out = append(out, c)
		}
	}
	return out
}

// ActivateRequest is the input of Activate
type ActivateRequest struct {
	SegmentID   string `json:"segment_id"`
	Platform    string `json:"platform"`
	PrincipalID string `json:"principal_id,omitempty"`
	ContextID   string `json:"context_id,omitempty"`
}

// ActivateResponse is the result of Activate
type ActivateResponse struct {
	Message           string                 `json:"message"`
	PlatformSegmentID string                 `json:"platform_segment_id"`
	Status            types.ActivationStatus `json:"status"`
	Source            types.Source           `json:"source"`
	ContextID         string                 `json:"context_id,omitempty"`
}

// Activate deploys a segment on a platform for the principal and links the
// activation to the discovery context when one is given.
func (s *Service) Activate(ctx context.Context, req ActivateRequest) (*ActivateResponse, error) {
	if err := validateSegmentRef(req.SegmentID, req.Platform); err != nil {
		return nil, err
	}
	principal := s.Principal(req.PrincipalID)

	catalog, err := s.resolveCatalog(ctx, req.SegmentID, req.Platform)
	if err != nil {
		return nil, err
	}
	if catalog != nil && !s.access.Visible(*catalog, principal) {
		return nil, types.InvalidSegment(req.SegmentID, req.Platform)
	}

	result, err := s.platforms.Activate(ctx, principal, req.Platform, req.SegmentID, catalog)
	if err != nil {
		return nil, eris.Wrapf(err, "discovery: activate %s on %s", req.SegmentID, req.Platform)
	}

	resp := &ActivateResponse{
		PlatformSegmentID: result.PlatformSegmentID,
		Status:            result.Status,
		Source:            result.Source,
	}

	linked := false
	if req.ContextID != "" {
		if err := s.link(req.ContextID, req.SegmentID, req.Platform, principal); err != nil {
			zap.L().Info("discovery: activation not linked to context",
				zap.String("context_id", req.ContextID),
				zap.String("segment_id", req.SegmentID),
				zap.Error(err),
			)
		} else {
			linked = true
			resp.ContextID = req.ContextID
		}
	}

	resp.Message = composeActivateMessage(req, result, linked)
	return resp, nil
}

// link records the activation on a context owned by principal
func (s *Service) link(contextID, segmentID, platform string, principal types.Principal) error {
	c, err := s.contexts.Get(contextID)
	if err != nil {
		return err
	}
	if c.PrincipalID != principal.ID {
		return eris.Wrapf(types.ErrContextNotFound, "discovery: context %q belongs to another principal", contextID)
	}
	return s.contexts.LinkActivation(contextID, segmentID, platform)
}

// StatusRequest is the input of CheckStatus
type StatusRequest struct {
	SegmentID   string `json:"segment_id"`
	Platform    string `json:"platform"`
	PrincipalID string `json:"principal_id,omitempty"`
}

// StatusResponse is the result of CheckStatus
type StatusResponse struct {
	Message   string                 `json:"message"`
	SegmentID string                 `json:"segment_id"`
	Platform  string                 `json:"platform"`
	Status    types.ActivationStatus `json:"status"`
}

// CheckStatus reports the deployment state of a segment on a platform. A
// catalog segment the principal may not see reports not_found.
func (s *Service) CheckStatus(ctx context.Context, req StatusRequest) (*StatusResponse, error) {
	if err := validateSegmentRef(req.SegmentID, req.Platform); err != nil {
		return nil, err
	}
	principal := s.Principal(req.PrincipalID)

	catalog, err := s.resolveCatalog(ctx, req.SegmentID, req.Platform)
	if err != nil {
		return nil, err
	}

	resp := &StatusResponse{SegmentID: req.SegmentID, Platform: req.Platform}
	if catalog != nil && !s.access.Visible(*catalog, principal) {
		resp.Status = types.StatusNotFound
	} else {
		status, err := s.platforms.CheckStatus(ctx, principal, req.Platform, req.SegmentID, catalog)
		if err != nil {
			return nil, eris.Wrapf(err, "discovery: check status of %s on %s", req.SegmentID, req.Platform)
		}
		resp.Status = status
	}
	resp.Message = composeStatusMessage(req, resp.Status)
	return resp, nil
}

// GetContext returns a copy of a discovery context
func (s *Service) GetContext(_ context.Context, id string) (types.DiscoveryContext, error) {
	if strings.TrimSpace(id) == "" {
		return types.DiscoveryContext{}, eris.Wrap(ErrInvalidRequest, "discovery: context_id is required")
	}
	return s.contexts.Get(id)
}

// resolveCatalog returns the catalog segment for id, or nil when the id is
// not in the catalog. A catalog segment may target any platform; a live
// segment id on an unregistered platform is rejected.
func (s *Service) resolveCatalog(ctx context.Context, segmentID, platform string) (*types.Segment, error) {
	seg, err := s.catalog.GetSegment(ctx, segmentID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		if !s.platforms.Has(platform) {
			return nil, types.InvalidSegment(segmentID, platform)
		}
		return nil, nil
	case err != nil:
		return nil, eris.Wrapf(err, "discovery: load segment %s", segmentID)
	}
	return seg, nil
}

func validateSegmentRef(segmentID, platform string) error {
	if strings.TrimSpace(segmentID) == "" {
		return eris.Wrap(ErrInvalidRequest, "segment_id is required")
	}
	if strings.TrimSpace(platform) == "" {
		return eris.Wrap(ErrInvalidRequest, "platform is required")
	}
	return nil
}
