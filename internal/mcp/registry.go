package mcp

import (
	"context"
	"sort"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/rotisserie/eris"
)

// Task is one callable operation exposed by the agent
type Task interface {
	Name() string
	Description() string
	InputSchema() mcp.ToolInputSchema
	Execute(ctx context.Context, args map[string]any) (any, error)
}

// ErrUnknownTask is returned when no task is registered under a name
var ErrUnknownTask = eris.New("unknown task")

// Registry holds the tasks served by every transport. It is filled once at
// startup and read concurrently afterwards.
type Registry struct {
	mu    sync.RWMutex
	tasks map[string]Task
}

// NewRegistry creates a registry holding tasks
func NewRegistry(tasks ...Task) (*Registry, error) {
	r := &Registry{tasks: make(map[string]Task, len(tasks))}
	for _, t := range tasks {
		if err := r.Register(t); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a task. Names must be unique.
func (r *Registry) Register(t Task) error {
	if t == nil || t.Name() == "" {
		return eris.New("mcp: task must have a name")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tasks[t.Name()]; exists {
		return eris.Errorf("mcp: task %q already registered", t.Name())
	}
	r.tasks[t.Name()] = t
	return nil
}

// Get returns the task registered under name
func (r *Registry) Get(name string) (Task, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tasks[name]
	return t, ok
}

// List returns all tasks sorted by name
func (r *Registry) List() []Task {
	r.mu.RLock()
	out := make([]Task, 0, len(r.tasks))
	for _, t := range r.tasks {
		out = append(out, t)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Execute runs the named task
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) (any, error) {
	t, ok := r.Get(name)
	if !ok {
		return nil, eris.Wrapf(ErrUnknownTask, "mcp: %q", name)
	}
	if args == nil {
		args = map[string]any{}
	}
	return t.Execute(ctx, args)
}
