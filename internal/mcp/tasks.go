package mcp

import (
	"context"

	"github.com/go-viper/mapstructure/v2"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/adcontextprotocol/signals-agent/internal/discovery"
	"github.com/adcontextprotocol/signals-agent/pkg/types"
)

// Discovery is the service the signal tasks call into
type Discovery interface {
	Discover(ctx context.Context, req discovery.DiscoverRequest) (*discovery.DiscoverResponse, error)
	Activate(ctx context.Context, req discovery.ActivateRequest) (*discovery.ActivateResponse, error)
	CheckStatus(ctx context.Context, req discovery.StatusRequest) (*discovery.StatusResponse, error)
	GetContext(ctx context.Context, id string) (types.DiscoveryContext, error)
}

// SignalTasks returns the get_signals, activate_signal, check_signal_status
// and get_context tasks over svc
func SignalTasks(svc Discovery) []Task {
	return []Task{
		&getSignalsTask{svc: svc},
		&activateSignalTask{svc: svc},
		&checkStatusTask{svc: svc},
		&getContextTask{svc: svc},
	}
}

// NewSignalRegistry builds the registry served by both transports
func NewSignalRegistry(svc Discovery) (*Registry, error) {
	return NewRegistry(SignalTasks(svc)...)
}

type getSignalsTask struct{ svc Discovery }

func (t *getSignalsTask) Name() string { return "get_signals" }

func (t *getSignalsTask) Description() string {
	return "Discover audience signals matching a natural language description, ranked and priced for the caller"
}

func (t *getSignalsTask) InputSchema() mcp.ToolInputSchema { return getSignalsSchema() }

func (t *getSignalsTask) Execute(ctx context.Context, args map[string]any) (any, error) {
	var req discovery.DiscoverRequest
	if err := decodeArgs(args, &req); err != nil {
		return nil, err
	}
	if req.Limit < 0 {
		return nil, newMCPError(ErrorCodeInvalidParams, "max_results must be positive", map[string]any{
			"param": "max_results",
			"value": req.Limit,
		})
	}
	return t.svc.Discover(ctx, req)
}

type activateSignalTask struct{ svc Discovery }

func (t *activateSignalTask) Name() string { return "activate_signal" }

func (t *activateSignalTask) Description() string {
	return "Activate a discovered signal on a platform, optionally linking it to a discovery context"
}

func (t *activateSignalTask) InputSchema() mcp.ToolInputSchema { return activateSignalSchema() }

func (t *activateSignalTask) Execute(ctx context.Context, args map[string]any) (any, error) {
	var req discovery.ActivateRequest
	if err := decodeArgs(args, &req); err != nil {
		return nil, err
	}
	return t.svc.Activate(ctx, req)
}

type checkStatusTask struct{ svc Discovery }

func (t *checkStatusTask) Name() string { return "check_signal_status" }

func (t *checkStatusTask) Description() string {
	return "Check the deployment status of a signal on a platform"
}

func (t *checkStatusTask) InputSchema() mcp.ToolInputSchema { return checkStatusSchema() }

func (t *checkStatusTask) Execute(ctx context.Context, args map[string]any) (any, error) {
	var req discovery.StatusRequest
	if err := decodeArgs(args, &req); err != nil {
		return nil, err
	}
	return t.svc.CheckStatus(ctx, req)
}

type getContextTask struct{ svc Discovery }

func (t *getContextTask) Name() string { return "get_context" }

func (t *getContextTask) Description() string {
	return "Return a discovery context with the signals it found and the activations linked to it"
}

func (t *getContextTask) InputSchema() mcp.ToolInputSchema { return getContextSchema() }

func (t *getContextTask) Execute(ctx context.Context, args map[string]any) (any, error) {
	var req struct {
		ContextID string `json:"context_id"`
	}
	if err := decodeArgs(args, &req); err != nil {
		return nil, err
	}
	c, err := t.svc.GetContext(ctx, req.ContextID)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// decodeArgs maps tool arguments onto a request struct by its json tags.
// Unknown and mistyped arguments are invalid params.
func decodeArgs(args map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:     "json",
		ErrorUnused: true,
		Result:      out,
	})
	if err != nil {
		return newMCPError(ErrorCodeInternalError, "internal error", nil)
	}
	if err := dec.Decode(args); err != nil {
		return newMCPError(ErrorCodeInvalidParams, "invalid arguments", map[string]any{
			"reason": err.Error(),
		})
	}
	return nil
}
