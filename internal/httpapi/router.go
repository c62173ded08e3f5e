// Package httpapi serves the task registry over plain HTTP + JSON.
package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/adcontextprotocol/signals-agent/internal/idgen"
	"github.com/adcontextprotocol/signals-agent/internal/mcp"
)

// RequestIDHeader carries the id assigned to each request
const RequestIDHeader = "X-Request-ID"

// DefaultMaxBodyBytes bounds a task request body
const DefaultMaxBodyBytes = 1 << 20

type requestIDKey struct{}

// Options tunes the router
type Options struct {
	Version      string
	MaxBodyBytes int64
	RequestIDs   idgen.Generator
}

type router struct {
	registry *mcp.Registry
	opts     Options
}

// NewRouter returns the HTTP handler for registry
func NewRouter(registry *mcp.Registry, opts Options) http.Handler {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if opts.RequestIDs == nil {
		opts.RequestIDs = idgen.UUIDv7()
	}
	rt := &router{registry: registry, opts: opts}

	r := chi.NewRouter()
	r.Use(rt.requestID)
	r.Use(middleware.Recoverer)
	r.Use(accessLog)

	r.Get("/healthz", rt.handleHealth)
	r.Get("/tasks", rt.handleListTasks)
	r.Post("/tasks/{name}", rt.handleExecute)
	return r
}

// RequestID returns the id assigned to the request carrying ctx
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func (rt *router) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = rt.opts.RequestIDs()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

func accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		zap.L().Info("http: request",
			zap.String("request_id", RequestID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func (rt *router) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": rt.opts.Version})
}

type taskInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	InputSchema any    `json:"input_schema"`
}

func (rt *router) handleListTasks(w http.ResponseWriter, _ *http.Request) {
	tasks := rt.registry.List()
	out := make([]taskInfo, len(tasks))
	for i, t := range tasks {
		out[i] = taskInfo{Name: t.Name(), Description: t.Description(), InputSchema: t.InputSchema()}
	}
	writeJSON(w, http.StatusOK, out)
}

func (rt *router) handleExecute(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	args := map[string]any{}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, rt.opts.MaxBodyBytes))
	if err != nil {
		writeError(w, &mcp.MCPError{Code: mcp.ErrorCodeInvalidParams, Message: "request body too large or unreadable"})
		return
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &args); err != nil {
			writeError(w, &mcp.MCPError{Code: mcp.ErrorCodeInvalidParams, Message: "request body must be a JSON object"})
			return
		}
	}

	out, err := rt.registry.Execute(r.Context(), name, args)
	if err != nil {
		mErr := mcp.ToError(err)
		if mErr.Code == mcp.ErrorCodeInternalError {
			zap.L().Error("http: task failed",
				zap.String("request_id", RequestID(r.Context())),
				zap.String("task", name),
				zap.Error(err),
			)
		}
		writeError(w, mErr)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// statusFor maps a protocol error code onto an HTTP status
func statusFor(code int) int {
	switch code {
	case mcp.ErrorCodeInvalidParams:
		return http.StatusBadRequest
	case mcp.ErrorCodePermissionDenied:
		return http.StatusForbidden
	case mcp.ErrorCodeInvalidSegment, mcp.ErrorCodeMethodNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, mErr *mcp.MCPError) {
	writeJSON(w, statusFor(mErr.Code), map[string]any{"error": mErr})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Debug("http: write response", zap.Error(err))
	}
}
