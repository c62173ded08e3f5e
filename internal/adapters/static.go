package adapters

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"

	"github.com/adcontextprotocol/signals-agent/internal/config"
	"github.com/adcontextprotocol/signals-agent/internal/idgen"
	"github.com/adcontextprotocol/signals-agent/pkg/types"
)

// StaticAdapter serves segments declared in configuration. Activations are
// recorded in memory and report the configured status.
type StaticAdapter struct {
	name     string
	segments []types.Segment
	status   types.ActivationStatus
	ids      idgen.Generator

	mu          sync.Mutex
	activations map[string]string // activation id -> account
}

// NewStaticAdapter builds the adapter from platforms.<name>.segments
func NewStaticAdapter(name string, cfg config.PlatformConfig) (*StaticAdapter, error) {
	segments := make([]types.Segment, 0, len(cfg.Segments))
	for _, s := range cfg.Segments {
		seg := s.Clone()
		if seg.ExternalID == "" {
			seg.ExternalID = seg.ID
		}
		seg.Platform = name
		seg.Source = types.SourcePlatformLive
		seg.Normalize()
		if err := seg.Validate(); err != nil {
			return nil, eris.Wrapf(err, "adapters: platform %q segment %q", name, seg.ID)
		}
		segments = append(segments, seg)
	}

	status := types.ActivationStatus(cfg.ActivationStatus)
	if status == "" {
		status = types.StatusActivating
	}
	return &StaticAdapter{
		name:        name,
		segments:    segments,
		status:      status,
		ids:         idgen.UUIDv7(),
		activations: make(map[string]string),
	}, nil
}

func (a *StaticAdapter) Name() string {
	return a.name
}

func (a *StaticAdapter) Authenticate(context.Context) error {
	return nil
}

// FetchSegments returns platform-wide segments plus those scoped to accountID
func (a *StaticAdapter) FetchSegments(_ context.Context, accountID string) ([]types.Segment, error) {
	var out []types.Segment
	for _, s := range a.segments {
		if s.AccountID == "" || s.AccountID == accountID {
			out = append(out, s.Clone())
		}
	}
	return out, nil
}

func (a *StaticAdapter) ActivateSegment(_ context.Context, externalID, accountID string) (types.ActivationResult, error) {
	id := a.ids()

	a.mu.Lock()
	a.activations[id] = accountID
	a.mu.Unlock()

	return types.ActivationResult{
		PlatformSegmentID: id,
		Status:            a.status,
		Source:            types.SourcePlatformLive,
	}, nil
}

func (a *StaticAdapter) CheckStatus(_ context.Context, platformSegmentID, accountID string) (types.ActivationStatus, error) {
	a.mu.Lock()
	owner, ok := a.activations[platformSegmentID]
	a.mu.Unlock()
	if !ok || owner != accountID {
		return types.StatusNotFound, nil
	}
	return a.status, nil
}
