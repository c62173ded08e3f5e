package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/adcontextprotocol/signals-agent/pkg/types"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(origDir) })

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "signals_agent.db", cfg.Database.Path)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.InDelta(t, 0.3, cfg.Search.FTSWeight, 0.0001)
	assert.InDelta(t, 0.7, cfg.Search.VectorWeight, 0.0001)
	assert.Equal(t, FallbackOriginal, cfg.Search.ExpansionFallback)
	assert.Equal(t, 300, cfg.Search.CacheTTLSeconds)
	assert.Equal(t, 100, cfg.Search.CacheSize)
	assert.Equal(t, 10, cfg.Discovery.DefaultLimit)
	assert.Equal(t, 100, cfg.Discovery.MaxLimit)
	assert.Equal(t, 168, cfg.Contexts.TTLHours)
	assert.Equal(t, "local", cfg.Embedding.Provider)
	assert.Equal(t, 5, cfg.Expansion.MaxTerms)
	assert.Empty(t, cfg.Platforms)
}

func TestLoadFromYAML(t *testing.T) {
	path := writeConfig(t, `
log:
  level: debug
  format: console
search:
  fts_weight: 0.5
  vector_weight: 0.5
  expansion_fallback: keyword
principals:
  - id: acme_corp
    access_level: personalized
    platform_accounts:
      index-exchange: "1489997"
    negotiated_cpm:
      luxury_auto_intenders: 4.5
platforms:
  liveramp:
    type: liveramp
    enabled: true
    principal_accounts:
      acme_corp: acme-lr
  index-exchange:
    type: static
    enabled: true
    timeout_seconds: 2
    segments:
      - id: ix_sports
        name: Sports Fans
        coverage_percentage: 12.5
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.InDelta(t, 0.5, cfg.Search.FTSWeight, 0.0001)
	assert.Equal(t, FallbackKeyword, cfg.Search.ExpansionFallback)

	require.Len(t, cfg.Principals, 1)
	assert.InDelta(t, 4.5, cfg.Principals[0].NegotiatedCPM["luxury_auto_intenders"], 0.0001)

	lr := cfg.Platforms["liveramp"]
	assert.Equal(t, "https://api.liveramp.com", lr.BaseURL)
	assert.Equal(t, 3600, lr.CacheDurationSeconds)
	assert.Equal(t, 5, lr.TimeoutSeconds)

	ix := cfg.Platforms["index-exchange"]
	assert.Equal(t, 2, ix.TimeoutSeconds)
	require.Len(t, ix.Segments, 1)
	require.NotNil(t, ix.Segments[0].Coverage)
	assert.InDelta(t, 12.5, *ix.Segments[0].Coverage, 0.0001)
	assert.Nil(t, ix.Segments[0].CPM)

	assert.Equal(t, []string{"index-exchange", "liveramp"}, cfg.PlatformNames())
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"top level", "unknown_section:\n  x: 1\n"},
		{"nested typo", "search:\n  fts_wieght: 0.4\n"},
		{"platform option", "platforms:\n  liveramp:\n    type: liveramp\n    turbo: true\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			require.Error(t, err)
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"zero weights", "search:\n  fts_weight: 0\n  vector_weight: 0\n"},
		{"negative weight", "search:\n  fts_weight: -0.1\n"},
		{"bad fallback", "search:\n  expansion_fallback: retry\n"},
		{"bad access level", "principals:\n  - id: p1\n    access_level: admin\n"},
		{"duplicate principal", "principals:\n  - id: p1\n    access_level: public\n  - id: p1\n    access_level: private\n"},
		{"unknown platform type", "platforms:\n  ttd:\n    type: magic\n"},
		{"rest without url", "platforms:\n  ix:\n    type: rest\n    enabled: true\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("DATABASE_PATH", "/data/signals.db")
	t.Setenv("LIVERAMP_CLIENT_ID", "env-client")
	t.Setenv("LIVERAMP_SECRET_KEY", "env-secret")
	t.Setenv("ANTHROPIC_API_KEY", "sk-test")

	path := writeConfig(t, `
platforms:
  liveramp:
    type: liveramp
    credentials:
      client_id: file-client
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/data/signals.db", cfg.Database.Path)
	assert.Equal(t, "env-client", cfg.Platforms["liveramp"].Credentials.ClientID)
	assert.Equal(t, "env-secret", cfg.Platforms["liveramp"].Credentials.SecretKey)
	assert.Equal(t, "sk-test", cfg.Expansion.APIKey)
}

func TestResolvePrincipals(t *testing.T) {
	cfg := &Config{
		Principals: []PrincipalConfig{
			{ID: "acme_corp", AccessLevel: "personalized", PlatformAccounts: map[string]string{"liveramp": "own"}},
			{ID: "agency", AccessLevel: "private"},
		},
		Platforms: map[string]PlatformConfig{
			"liveramp":       {PrincipalAccounts: map[string]string{"acme_corp": "from-platform", "agency": "ag-lr"}},
			"index-exchange": {PrincipalAccounts: map[string]string{"acme_corp": "1489997"}},
		},
	}

	principals := cfg.ResolvePrincipals()
	require.Len(t, principals, 2)

	acme := principals["acme_corp"]
	assert.Equal(t, types.AccessPersonalized, acme.AccessLevel)
	assert.Equal(t, "own", acme.PlatformAccounts["liveramp"], "principal-level mapping wins")
	assert.Equal(t, "1489997", acme.PlatformAccounts["index-exchange"])

	agency := principals["agency"]
	assert.Equal(t, "ag-lr", agency.PlatformAccounts["liveramp"])
	_, ok := agency.PlatformAccounts["index-exchange"]
	assert.False(t, ok)
}

func TestInitLogger(t *testing.T) {
	prev := zap.L()
	t.Cleanup(func() { zap.ReplaceGlobals(prev) })

	require.NoError(t, InitLogger(LogConfig{Level: "debug", Format: "console"}))
	assert.True(t, zap.L().Core().Enabled(zap.DebugLevel))

	require.NoError(t, InitLogger(LogConfig{Level: "warn", Format: "json"}))
	assert.False(t, zap.L().Core().Enabled(zap.InfoLevel))

	assert.Error(t, InitLogger(LogConfig{Level: "verbose"}))
}
