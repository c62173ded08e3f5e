package embedder

import (
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/adcontextprotocol/signals-agent/internal/config"
)

// New creates the embedder selected by embedding.provider
func New(cfg config.EmbeddingConfig) (Embedder, error) {
	cache := NewCache(cfg.CacheSize)

	switch strings.ToLower(cfg.Provider) {
	case ProviderJina:
		return NewJinaProvider(cfg.APIKey, cache)
	case ProviderOpenAI:
		return NewOpenAIProvider(cfg.APIKey, cache)
	case ProviderLocal, "":
		return NewLocalProvider(cache), nil
	default:
		return nil, eris.Wrapf(ErrUnsupportedModel, "unknown provider %s", cfg.Provider)
	}
}

// NewExpander creates the query expander selected by expansion.provider.
// It returns nil when expansion is disabled. An anthropic expander without an
// API key falls back to the local synonym table.
func NewExpander(cfg config.ExpansionConfig) (Expander, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	switch strings.ToLower(cfg.Provider) {
	case "anthropic":
		if cfg.APIKey == "" {
			zap.L().Warn("embedder: anthropic expansion configured without api key, using local synonyms")
			return NewLocalExpander(cfg.Synonyms, cfg.MaxTerms), nil
		}
		return NewAnthropicExpander(AnthropicOptions{
			APIKey:            cfg.APIKey,
			Model:             cfg.Model,
			MaxTerms:          cfg.MaxTerms,
			RequestsPerMinute: cfg.RequestsPerMinute,
		})
	case ProviderLocal, "":
		return NewLocalExpander(cfg.Synonyms, cfg.MaxTerms), nil
	default:
		return nil, eris.Errorf("embedder: unknown expansion provider %s", cfg.Provider)
	}
}
