package mcp

import (
	"errors"
	"fmt"

	"github.com/adcontextprotocol/signals-agent/internal/discovery"
	"github.com/adcontextprotocol/signals-agent/pkg/types"
)

// Error codes returned to protocol clients
const (
	ErrorCodeInvalidParams    = -32602 // Invalid method parameters
	ErrorCodeInternalError    = -32603 // Internal JSON-RPC error
	ErrorCodeMethodNotFound   = -32601 // No such task
	ErrorCodePermissionDenied = -32001 // Principal has no account on the platform
	ErrorCodeInvalidSegment   = -32002 // Segment or platform cannot be resolved
)

// MCPError represents a protocol error with a JSON-RPC style code
type MCPError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

func newMCPError(code int, message string, data any) *MCPError {
	return &MCPError{Code: code, Message: message, Data: data}
}

// ToError maps an error returned by a task onto its protocol error
func ToError(err error) *MCPError {
	var mcpErr *MCPError
	if errors.As(err, &mcpErr) {
		return mcpErr
	}

	var data map[string]any
	var segErr *types.SegmentError
	if errors.As(err, &segErr) {
		data = map[string]any{"segment_id": segErr.SegmentID}
		if segErr.Platform != "" {
			data["platform"] = segErr.Platform
		}
	}

	switch {
	case errors.Is(err, types.ErrPermissionDenied):
		return newMCPError(ErrorCodePermissionDenied, "permission denied", data)
	case errors.Is(err, types.ErrInvalidSegment):
		return newMCPError(ErrorCodeInvalidSegment, "invalid segment", data)
	case errors.Is(err, ErrUnknownTask):
		return newMCPError(ErrorCodeMethodNotFound, "unknown task", nil)
	case errors.Is(err, discovery.ErrInvalidRequest), errors.Is(err, types.ErrContextNotFound):
		return newMCPError(ErrorCodeInvalidParams, "invalid params", map[string]any{"reason": err.Error()})
	default:
		return newMCPError(ErrorCodeInternalError, "internal error", nil)
	}
}
