// Package tool defines the Tool interface and a Registry of the
// project-mutating operations exposed to the model. Every change a
// subagent makes to a project goes through a Tool.
package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	apperrors "github.com/knearme/showcase/internal/errors"
	"github.com/knearme/showcase/internal/llm"
	"github.com/knearme/showcase/internal/state"
)

// Tool is the interface all project tools must implement.
type Tool interface {
	// Schema returns the tool's name, description, and JSON Schema for inputs.
	Schema() llm.ToolSchema

	// Execute validates the JSON input against the current project and
	// returns the resulting state delta plus a result string for the model.
	// Executors are pure: the delta is applied by the caller, never here.
	Execute(ctx context.Context, cur state.Project, input json.RawMessage) (state.Delta, string, error)
}

// Registry holds all registered tools and provides lookup.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool to the registry. Panics on duplicate name.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := t.Schema().Name
	if _, exists := r.tools[name]; exists {
		panic(fmt.Sprintf("tool already registered: %s", name))
	}
	r.tools[name] = t
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Schemas returns all tool schemas (for passing to the LLM).
func (r *Registry) Schemas() []llm.ToolSchema {
	r.mu.RLock()
	defer r.mu.RUnlock()
	schemas := make([]llm.ToolSchema, 0, len(r.tools))
	for _, t := range r.tools {
		schemas = append(schemas, t.Schema())
	}
	return schemas
}

// Execute runs a tool by name against the current project state.
func (r *Registry) Execute(ctx context.Context, name string, cur state.Project, input json.RawMessage) (state.Delta, string, error) {
	t, ok := r.Get(name)
	if !ok {
		return state.Delta{}, "", fmt.Errorf("%w: %s", apperrors.ErrUnknownTool, name)
	}
	return t.Execute(ctx, cur, input)
}

// MustSchema builds a json.RawMessage from a Go value (panics on error).
func MustSchema(v interface{}) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("MustSchema: %v", err))
	}
	return b
}
