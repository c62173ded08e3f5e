package adapters

import (
	"net/http"

	"github.com/rotisserie/eris"

	"github.com/adcontextprotocol/signals-agent/internal/config"
)

// Build constructs the adapter for one configured platform. client is the
// HTTP transport for remote adapters; nil selects a default per platform.
func Build(name string, cfg config.PlatformConfig, client *http.Client) (PlatformAdapter, error) {
	switch cfg.Type {
	case config.PlatformLiveRamp:
		return NewLiveRampAdapter(name, cfg, client)
	case config.PlatformREST:
		return NewRESTAdapter(name, cfg, client)
	case config.PlatformStatic:
		return NewStaticAdapter(name, cfg)
	default:
		return nil, eris.Errorf("adapters: platform %q has unknown type %q", name, cfg.Type)
	}
}

// NewManagerFromConfig builds every enabled platform and registers it with a
// new manager. A platform whose adapter cannot be built is an error.
func NewManagerFromConfig(cfg *config.Config, opts ...Option) (*Manager, error) {
	m := NewManager(opts...)
	for _, name := range cfg.PlatformNames() {
		pc := cfg.Platforms[name]
		if !pc.Enabled {
			continue
		}
		adapter, err := Build(name, pc, m.httpClient)
		if err != nil {
			return nil, err
		}
		m.Register(name, pc, adapter)
	}
	return m, nil
}
