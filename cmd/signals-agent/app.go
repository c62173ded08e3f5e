package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/adcontextprotocol/signals-agent/internal/adapters"
	"github.com/adcontextprotocol/signals-agent/internal/discovery"
	"github.com/adcontextprotocol/signals-agent/internal/embedder"
	"github.com/adcontextprotocol/signals-agent/internal/indexer"
	"github.com/adcontextprotocol/signals-agent/internal/mcp"
	"github.com/adcontextprotocol/signals-agent/internal/storage"
)

// appEnv holds the components shared by the serve commands
type appEnv struct {
	Store     storage.CatalogStore
	Embedder  embedder.Embedder
	Indexer   *indexer.Indexer
	Platforms *adapters.Manager
	Discovery *discovery.Service
	Registry  *mcp.Registry
}

// Close releases the embedder and the catalog database
func (e *appEnv) Close() {
	if e.Embedder != nil {
		_ = e.Embedder.Close()
	}
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// catalogEnv holds what the catalog commands need
type catalogEnv struct {
	Store    storage.CatalogStore
	Embedder embedder.Embedder
	Indexer  *indexer.Indexer
}

func (e *catalogEnv) Close() {
	_ = e.Embedder.Close()
	_ = e.Store.Close()
}

func initCatalog(force bool) (*catalogEnv, error) {
	st, err := storage.NewSQLiteStorage(cfg.Database.Path)
	if err != nil {
		return nil, eris.Wrap(err, "open catalog")
	}

	emb, err := embedder.New(cfg.Embedding)
	if err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "init embedder")
	}

	idx := indexer.New(st, emb, indexer.Config{
		BatchSize: cfg.Indexer.BatchSize,
		Workers:   cfg.Indexer.Workers,
		Force:     force,
	})
	return &catalogEnv{Store: st, Embedder: emb, Indexer: idx}, nil
}

// initApp wires the full agent from cfg
func initApp(ctx context.Context) (*appEnv, error) {
	cat, err := initCatalog(false)
	if err != nil {
		return nil, err
	}
	env := &appEnv{Store: cat.Store, Embedder: cat.Embedder, Indexer: cat.Indexer}

	if cfg.Indexer.EmbedOnStart {
		if _, err := env.Indexer.EmbedCatalog(ctx); err != nil {
			env.Close()
			return nil, eris.Wrap(err, "embed catalog")
		}
	}

	exp, err := embedder.NewExpander(cfg.Expansion)
	if err != nil {
		env.Close()
		return nil, eris.Wrap(err, "init expander")
	}

	env.Platforms, err = adapters.NewManagerFromConfig(cfg)
	if err != nil {
		env.Close()
		return nil, eris.Wrap(err, "init platforms")
	}
	env.Platforms.Authenticate(ctx)

	env.Discovery, err = discovery.NewFromConfig(cfg, env.Store, env.Embedder, exp, env.Platforms)
	if err != nil {
		env.Close()
		return nil, eris.Wrap(err, "init discovery")
	}

	env.Registry, err = mcp.NewSignalRegistry(env.Discovery)
	if err != nil {
		env.Close()
		return nil, eris.Wrap(err, "init task registry")
	}

	stats, err := env.Store.Stats(ctx)
	if err == nil {
		zap.L().Info("agent ready",
			zap.Int("segments", stats.Segments),
			zap.Int("embeddings", stats.Embeddings),
			zap.Strings("platforms", env.Platforms.Platforms()),
			zap.String("storage", storage.BuildMode),
		)
	}
	return env, nil
}
