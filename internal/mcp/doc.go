// Package mcp exposes the signals agent as a Model Context Protocol server.
//
// Every operation is a Task held in a Registry. The registry is built once at
// startup and served by both transports: the stdio MCP server in this package
// and the HTTP router in internal/httpapi.
//
// # Tools
//
//   - get_signals: discover signals for a natural language description
//   - activate_signal: activate a signal on a platform
//   - check_signal_status: report the deployment status of a signal
//   - get_context: return a discovery context and its linked activations
//
// # Example
//
//	Request:
//	{
//	  "name": "get_signals",
//	  "arguments": {
//	    "signal_spec": "luxury car buyers",
//	    "principal_id": "acme_corp",
//	    "max_results": 5
//	  }
//	}
//
//	Response:
//	{
//	  "message": "Found 2 signals for \"luxury car buyers\". 1 priced at your negotiated rate.",
//	  "candidates": [...],
//	  "context_id": "ctx_1760000000_a1b2c3",
//	  "clarification_needed": false
//	}
//
// # Error Handling
//
// Task errors are returned as tool results with isError set and a JSON body:
//
//	{"code": -32001, "message": "permission denied", "data": {"segment_id": "...", "platform": "liveramp"}}
//
// Error codes:
//   - -32001: Principal has no account on the platform
//   - -32002: Segment or platform cannot be resolved
//   - -32601: Unknown task
//   - -32602: Invalid params, including an unknown or expired context
//   - -32603: Internal error
//
// Logs go to stderr. Stdout is reserved for the protocol.
package mcp
