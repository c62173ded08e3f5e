package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
)

func principalProperty() map[string]any {
	return map[string]any{
		"type":        "string",
		"description": "Principal making the request. Unknown or missing principals see public signals only",
	}
}

func segmentRefProperties() map[string]any {
	return map[string]any{
		"segment_id": map[string]any{
			"type":        "string",
			"description": "Signal id as returned by get_signals",
		},
		"platform": map[string]any{
			"type":        "string",
			"description": "Platform to act on (e.g. liveramp)",
		},
		"principal_id": principalProperty(),
	}
}

// getSignalsSchema returns the input schema for get_signals
func getSignalsSchema() mcp.ToolInputSchema {
	return mcp.ToolInputSchema{
		Type: "object",
		Properties: map[string]any{
			"signal_spec": map[string]any{
				"type":        "string",
				"description": "Natural language description of the audience, or a boolean keyword query",
			},
			"principal_id": principalProperty(),
			"max_results": map[string]any{
				"type":        "integer",
				"description": "Maximum number of signals to return (1-100)",
				"default":     10,
				"minimum":     1,
				"maximum":     100,
			},
			"context_id": map[string]any{
				"type":        "string",
				"description": "Existing discovery context to refine",
			},
			"platforms": map[string]any{
				"type":        "array",
				"description": "Restrict live lookups to these platforms",
				"items":       map[string]any{"type": "string"},
			},
			"filters": map[string]any{
				"type":        "object",
				"description": "Optional filters applied after pricing",
				"properties": map[string]any{
					"max_cpm": map[string]any{
						"type":    "number",
						"minimum": 0.0,
					},
					"min_coverage_percentage": map[string]any{
						"type":    "number",
						"minimum": 0.0,
						"maximum": 100.0,
					},
					"data_providers": map[string]any{
						"type":  "array",
						"items": map[string]any{"type": "string"},
					},
					"catalog_types": map[string]any{
						"type":  "array",
						"items": map[string]any{"type": "string"},
					},
				},
			},
		},
		Required: []string{"signal_spec"},
	}
}

// activateSignalSchema returns the input schema for activate_signal
func activateSignalSchema() mcp.ToolInputSchema {
	props := segmentRefProperties()
	props["context_id"] = map[string]any{
		"type":        "string",
		"description": "Discovery context the activation follows from",
	}
	return mcp.ToolInputSchema{
		Type:       "object",
		Properties: props,
		Required:   []string{"segment_id", "platform"},
	}
}

// checkStatusSchema returns the input schema for check_signal_status
func checkStatusSchema() mcp.ToolInputSchema {
	return mcp.ToolInputSchema{
		Type:       "object",
		Properties: segmentRefProperties(),
		Required:   []string{"segment_id", "platform"},
	}
}

// getContextSchema returns the input schema for get_context
func getContextSchema() mcp.ToolInputSchema {
	return mcp.ToolInputSchema{
		Type: "object",
		Properties: map[string]any{
			"context_id": map[string]any{
				"type":        "string",
				"description": "Context id returned by get_signals",
			},
		},
		Required: []string{"context_id"},
	}
}
