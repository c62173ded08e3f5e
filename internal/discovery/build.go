package discovery

import (
	"github.com/rotisserie/eris"

	"github.com/adcontextprotocol/signals-agent/internal/access"
	"github.com/adcontextprotocol/signals-agent/internal/adapters"
	"github.com/adcontextprotocol/signals-agent/internal/config"
	"github.com/adcontextprotocol/signals-agent/internal/embedder"
	"github.com/adcontextprotocol/signals-agent/internal/ranker"
	"github.com/adcontextprotocol/signals-agent/internal/searcher"
	"github.com/adcontextprotocol/signals-agent/internal/session"
	"github.com/adcontextprotocol/signals-agent/internal/storage"
	"github.com/adcontextprotocol/signals-agent/internal/strategy"
)

// NewFromConfig wires a Service from configuration. exp may be nil when
// expansion is disabled.
func NewFromConfig(cfg *config.Config, store storage.CatalogStore, emb embedder.Embedder, exp embedder.Expander, mgr *adapters.Manager, sessionOpts ...session.Option) (*Service, error) {
	if cfg == nil || store == nil || emb == nil || mgr == nil {
		return nil, eris.New("discovery: config, store, embedder and platform manager are required")
	}

	s := searcher.New(store, emb, exp, mgr, searcher.Options{
		Weights:           ranker.Weights{FTS: cfg.Search.FTSWeight, Vector: cfg.Search.VectorWeight},
		LiveFloorScale:    cfg.Search.LiveFloorScale,
		ExpansionTimeout:  cfg.Search.ExpansionTimeout(),
		ExpansionFallback: cfg.Search.ExpansionFallback,
		CacheTTL:          cfg.Search.CacheTTL(),
		CacheSize:         cfg.Search.CacheSize,
	})

	selector := strategy.NewSelector(strategy.Options{
		BehavioralTerms:  cfg.Search.BehavioralTerms,
		DemographicTerms: cfg.Search.DemographicTerms,
		PlatformNames:    cfg.PlatformNames(),
	})

	if interval := cfg.Contexts.SweepInterval(); interval > 0 {
		sessionOpts = append([]session.Option{session.WithSweepInterval(interval)}, sessionOpts...)
	}

	return New(Dependencies{
		Catalog:    store,
		Searcher:   s,
		Platforms:  mgr,
		Access:     access.NewResolver(mgr, store, access.ConfigPricing(cfg.Principals)),
		Selector:   selector,
		Principals: cfg.ResolvePrincipals(),
	}, Options{
		Timeout:        cfg.Discovery.Timeout(),
		DefaultLimit:   cfg.Discovery.DefaultLimit,
		MaxLimit:       cfg.Discovery.MaxLimit,
		PoolMultiplier: cfg.Search.PoolMultiplier,
		MaxPool:        cfg.Search.MaxPool,
		ContextTTL:     cfg.Contexts.TTL(),
		MaxContexts:    cfg.Contexts.MaxEntries,
		SessionOptions: sessionOpts,
	})
}
