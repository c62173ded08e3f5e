// Package config loads the signals agent configuration.
package config

import (
	"os"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"

	"github.com/adcontextprotocol/signals-agent/pkg/types"
)

// Platform adapter kinds recognised in platforms.<name>.type
const (
	PlatformLiveRamp = "liveramp"
	PlatformREST     = "rest"
	PlatformStatic   = "static"
)

// Expansion fallbacks recognised in search.expansion_fallback
const (
	FallbackOriginal = "original" // keep the planned mode with the unexpanded query
	FallbackKeyword  = "keyword"  // additionally run the keyword path
)

// Config is the root configuration. Unknown keys anywhere in the tree are
// rejected at load time.
type Config struct {
	Database   DatabaseConfig            `yaml:"database" mapstructure:"database"`
	Log        LogConfig                 `yaml:"log" mapstructure:"log"`
	HTTP       HTTPConfig                `yaml:"http" mapstructure:"http"`
	Search     SearchConfig              `yaml:"search" mapstructure:"search"`
	Discovery  DiscoveryConfig           `yaml:"discovery" mapstructure:"discovery"`
	Embedding  EmbeddingConfig           `yaml:"embedding" mapstructure:"embedding"`
	Expansion  ExpansionConfig           `yaml:"expansion" mapstructure:"expansion"`
	Contexts   ContextsConfig            `yaml:"contexts" mapstructure:"contexts"`
	Indexer    IndexerConfig             `yaml:"indexer" mapstructure:"indexer"`
	Principals []PrincipalConfig         `yaml:"principals" mapstructure:"principals"`
	Platforms  map[string]PlatformConfig `yaml:"platforms" mapstructure:"platforms"`
}

// DatabaseConfig configures the local segment catalog.
type DatabaseConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// HTTPConfig configures the JSON task API.
type HTTPConfig struct {
	Addr string `yaml:"addr" mapstructure:"addr"`
}

// SearchConfig configures ranking and catalog search.
type SearchConfig struct {
	FTSWeight          float64  `yaml:"fts_weight" mapstructure:"fts_weight"`
	VectorWeight       float64  `yaml:"vector_weight" mapstructure:"vector_weight"`
	LiveFloorScale     float64  `yaml:"live_floor_scale" mapstructure:"live_floor_scale"`
	PoolMultiplier     int      `yaml:"pool_multiplier" mapstructure:"pool_multiplier"`
	MaxPool            int      `yaml:"max_pool" mapstructure:"max_pool"`
	ExpansionTimeoutMs int      `yaml:"expansion_timeout_ms" mapstructure:"expansion_timeout_ms"`
	ExpansionFallback  string   `yaml:"expansion_fallback" mapstructure:"expansion_fallback"`
	CacheTTLSeconds    int      `yaml:"cache_ttl_seconds" mapstructure:"cache_ttl_seconds"`
	CacheSize          int      `yaml:"cache_size" mapstructure:"cache_size"`
	BehavioralTerms    []string `yaml:"behavioral_terms" mapstructure:"behavioral_terms"`
	DemographicTerms   []string `yaml:"demographic_terms" mapstructure:"demographic_terms"`
}

// ExpansionTimeout returns the expansion sub-deadline.
func (s SearchConfig) ExpansionTimeout() time.Duration {
	return time.Duration(s.ExpansionTimeoutMs) * time.Millisecond
}

// CacheTTL returns the catalog result cache lifetime.
func (s SearchConfig) CacheTTL() time.Duration {
	return time.Duration(s.CacheTTLSeconds) * time.Second
}

// DiscoveryConfig configures the discovery call.
type DiscoveryConfig struct {
	TimeoutSeconds int `yaml:"timeout_seconds" mapstructure:"timeout_seconds"`
	DefaultLimit   int `yaml:"default_limit" mapstructure:"default_limit"`
	MaxLimit       int `yaml:"max_limit" mapstructure:"max_limit"`
}

// Timeout returns the default discovery deadline.
func (d DiscoveryConfig) Timeout() time.Duration {
	return time.Duration(d.TimeoutSeconds) * time.Second
}

// EmbeddingConfig selects the text-embedding provider.
type EmbeddingConfig struct {
	Provider  string `yaml:"provider" mapstructure:"provider"`
	APIKey    string `yaml:"api_key" mapstructure:"api_key"`
	CacheSize int    `yaml:"cache_size" mapstructure:"cache_size"`
}

// ExpansionConfig selects the query expansion provider.
type ExpansionConfig struct {
	Enabled           bool                `yaml:"enabled" mapstructure:"enabled"`
	Provider          string              `yaml:"provider" mapstructure:"provider"`
	APIKey            string              `yaml:"api_key" mapstructure:"api_key"`
	Model             string              `yaml:"model" mapstructure:"model"`
	MaxTerms          int                 `yaml:"max_terms" mapstructure:"max_terms"`
	RequestsPerMinute int                 `yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
	Synonyms          map[string][]string `yaml:"synonyms" mapstructure:"synonyms"`
}

// ContextsConfig configures the discovery context store.
type ContextsConfig struct {
	TTLHours             int `yaml:"ttl_hours" mapstructure:"ttl_hours"`
	MaxEntries           int `yaml:"max_entries" mapstructure:"max_entries"`
	SweepIntervalMinutes int `yaml:"sweep_interval_minutes" mapstructure:"sweep_interval_minutes"`
}

// TTL returns the context lifetime.
func (c ContextsConfig) TTL() time.Duration {
	return time.Duration(c.TTLHours) * time.Hour
}

// SweepInterval returns the period of the expiration sweep.
func (c ContextsConfig) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalMinutes) * time.Minute
}

// IndexerConfig configures catalog embedding backfill.
type IndexerConfig struct {
	BatchSize    int  `yaml:"batch_size" mapstructure:"batch_size"`
	Workers      int  `yaml:"workers" mapstructure:"workers"`
	EmbedOnStart bool `yaml:"embed_on_start" mapstructure:"embed_on_start"`
}

// PrincipalConfig declares one principal.
type PrincipalConfig struct {
	ID               string             `yaml:"id" mapstructure:"id"`
	AccessLevel      string             `yaml:"access_level" mapstructure:"access_level"`
	PlatformAccounts map[string]string  `yaml:"platform_accounts" mapstructure:"platform_accounts"`
	NegotiatedCPM    map[string]float64 `yaml:"negotiated_cpm" mapstructure:"negotiated_cpm"`
}

// PlatformConfig enumerates every recognised option of one decisioning platform.
type PlatformConfig struct {
	Type                 string            `yaml:"type" mapstructure:"type"`
	Enabled              bool              `yaml:"enabled" mapstructure:"enabled"`
	BaseURL              string            `yaml:"base_url" mapstructure:"base_url"`
	Credentials          Credentials       `yaml:"credentials" mapstructure:"credentials"`
	CacheDurationSeconds int               `yaml:"cache_duration_seconds" mapstructure:"cache_duration_seconds"`
	TimeoutSeconds       int               `yaml:"timeout_seconds" mapstructure:"timeout_seconds"`
	PrincipalAccounts    map[string]string `yaml:"principal_accounts" mapstructure:"principal_accounts"` // principal id -> account id
	PublicInventory      bool              `yaml:"public_inventory" mapstructure:"public_inventory"`
	RequestsPerSecond    float64           `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	Burst                int               `yaml:"burst" mapstructure:"burst"`
	MaxPages             int               `yaml:"max_pages" mapstructure:"max_pages"`
	ActivationStatus     string            `yaml:"activation_status" mapstructure:"activation_status"`
	Segments             []types.Segment   `yaml:"segments" mapstructure:"segments"`
}

// CacheDuration returns the live segment cache TTL.
func (p PlatformConfig) CacheDuration() time.Duration {
	return time.Duration(p.CacheDurationSeconds) * time.Second
}

// Timeout returns the per-call adapter timeout.
func (p PlatformConfig) Timeout() time.Duration {
	return time.Duration(p.TimeoutSeconds) * time.Second
}

// Credentials holds platform authentication material.
type Credentials struct {
	ClientID  string `yaml:"client_id" mapstructure:"client_id"`
	SecretKey string `yaml:"secret_key" mapstructure:"secret_key"`
	AccountID string `yaml:"account_id" mapstructure:"account_id"`
	OwnerOrg  string `yaml:"owner_org" mapstructure:"owner_org"`
	TokenURL  string `yaml:"token_url" mapstructure:"token_url"`
	APIKey    string `yaml:"api_key" mapstructure:"api_key"`
}

// Load reads configuration from path (or ./config.yaml when empty) and the environment.
func Load(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("SIGNALS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.UnmarshalExact(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	cfg.applyEnvOverrides()
	cfg.applyPlatformDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.path", "signals_agent.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("http.addr", ":8000")
	v.SetDefault("search.fts_weight", 0.3)
	v.SetDefault("search.vector_weight", 0.7)
	v.SetDefault("search.live_floor_scale", 0.5)
	v.SetDefault("search.pool_multiplier", 3)
	v.SetDefault("search.max_pool", 500)
	v.SetDefault("search.expansion_timeout_ms", 3000)
	v.SetDefault("search.expansion_fallback", FallbackOriginal)
	v.SetDefault("search.cache_ttl_seconds", 300)
	v.SetDefault("search.cache_size", 100)
	v.SetDefault("discovery.timeout_seconds", 15)
	v.SetDefault("discovery.default_limit", 10)
	v.SetDefault("discovery.max_limit", 100)
	v.SetDefault("embedding.provider", "local")
	v.SetDefault("embedding.cache_size", 10000)
	v.SetDefault("expansion.enabled", true)
	v.SetDefault("expansion.provider", "local")
	v.SetDefault("expansion.model", "claude-haiku-4-5-20251001")
	v.SetDefault("expansion.max_terms", 5)
	v.SetDefault("expansion.requests_per_minute", 10)
	v.SetDefault("contexts.ttl_hours", 7*24)
	v.SetDefault("contexts.max_entries", 10000)
	v.SetDefault("contexts.sweep_interval_minutes", 60)
	v.SetDefault("indexer.batch_size", 32)
	v.SetDefault("indexer.workers", 4)
	v.SetDefault("indexer.embed_on_start", false)
}

// applyEnvOverrides maps the conventional credential variables onto the tree.
func (c *Config) applyEnvOverrides() {
	if p := os.Getenv("DATABASE_PATH"); p != "" {
		c.Database.Path = p
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" && c.Expansion.APIKey == "" {
		c.Expansion.APIKey = key
	}
	if c.Embedding.APIKey == "" {
		switch strings.ToLower(c.Embedding.Provider) {
		case "jina":
			c.Embedding.APIKey = os.Getenv("JINA_API_KEY")
		case "openai":
			c.Embedding.APIKey = os.Getenv("OPENAI_API_KEY")
		}
	}

	for name, p := range c.Platforms {
		if p.Type != PlatformLiveRamp {
			continue
		}
		if v := os.Getenv("LIVERAMP_CLIENT_ID"); v != "" {
			p.Credentials.ClientID = v
		}
		if v := os.Getenv("LIVERAMP_SECRET_KEY"); v != "" {
			p.Credentials.SecretKey = v
		}
		if v := os.Getenv("LIVERAMP_ACCOUNT_ID"); v != "" {
			p.Credentials.AccountID = v
		}
		c.Platforms[name] = p
	}
}

func (c *Config) applyPlatformDefaults() {
	for name, p := range c.Platforms {
		if p.CacheDurationSeconds <= 0 {
			p.CacheDurationSeconds = 3600
		}
		if p.TimeoutSeconds <= 0 {
			p.TimeoutSeconds = 5
		}
		if p.RequestsPerSecond <= 0 {
			p.RequestsPerSecond = 5
		}
		if p.Burst <= 0 {
			p.Burst = 5
		}
		if p.MaxPages <= 0 {
			p.MaxPages = 5
		}
		if p.Type == PlatformLiveRamp {
			if p.BaseURL == "" {
				p.BaseURL = "https://api.liveramp.com"
			}
			if p.Credentials.TokenURL == "" {
				p.Credentials.TokenURL = "https://serviceaccounts.liveramp.com/authn/v1/oauth2/token"
			}
		}
		c.Platforms[name] = p
	}
}

// Validate checks cross-field constraints that viper cannot express.
func (c *Config) Validate() error {
	if c.Search.FTSWeight < 0 || c.Search.VectorWeight < 0 {
		return eris.New("config: search weights must be >= 0")
	}
	if c.Search.FTSWeight+c.Search.VectorWeight == 0 {
		return eris.New("config: search weights must not both be zero")
	}
	if c.Search.LiveFloorScale < 0 || c.Search.LiveFloorScale > 1 {
		return eris.New("config: search.live_floor_scale must be within [0, 1]")
	}
	switch c.Search.ExpansionFallback {
	case FallbackOriginal, FallbackKeyword:
	default:
		return eris.Errorf("config: unknown search.expansion_fallback %q", c.Search.ExpansionFallback)
	}
	if c.Discovery.DefaultLimit <= 0 || c.Discovery.MaxLimit < c.Discovery.DefaultLimit {
		return eris.New("config: discovery limits must satisfy 0 < default_limit <= max_limit")
	}
	if c.Contexts.TTLHours <= 0 || c.Contexts.MaxEntries <= 0 {
		return eris.New("config: contexts ttl_hours and max_entries must be positive")
	}

	seen := make(map[string]bool, len(c.Principals))
	for _, p := range c.Principals {
		if p.ID == "" {
			return eris.New("config: principal id is required")
		}
		if seen[p.ID] {
			return eris.Errorf("config: duplicate principal %q", p.ID)
		}
		seen[p.ID] = true
		if !types.AccessLevel(p.AccessLevel).Valid() {
			return eris.Errorf("config: principal %q has invalid access_level %q", p.ID, p.AccessLevel)
		}
	}

	for _, name := range c.PlatformNames() {
		p := c.Platforms[name]
		switch p.Type {
		case PlatformLiveRamp, PlatformREST, PlatformStatic:
		default:
			return eris.Errorf("config: platform %q has unknown type %q", name, p.Type)
		}
		if p.Type == PlatformREST && p.BaseURL == "" && p.Enabled {
			return eris.Errorf("config: platform %q requires base_url", name)
		}
	}
	return nil
}

// PlatformNames returns configured platform names in sorted order.
func (c *Config) PlatformNames() []string {
	names := make([]string, 0, len(c.Platforms))
	for name := range c.Platforms {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ResolvePrincipals builds the immutable principal table. Accounts declared
// under platforms.<name>.principal_accounts are merged in; an account declared
// on the principal itself wins.
func (c *Config) ResolvePrincipals() map[string]types.Principal {
	out := make(map[string]types.Principal, len(c.Principals))
	for _, pc := range c.Principals {
		accounts := make(map[string]string)
		for platform, pcfg := range c.Platforms {
			if account, ok := pcfg.PrincipalAccounts[pc.ID]; ok && account != "" {
				accounts[platform] = account
			}
		}
		for platform, account := range pc.PlatformAccounts {
			accounts[platform] = account
		}
		out[pc.ID] = types.Principal{
			ID:               pc.ID,
			AccessLevel:      types.AccessLevel(pc.AccessLevel),
			PlatformAccounts: accounts,
		}
	}
	return out
}
