// Package tool provides the per-agent tool executor: a registry of
// callable tools, JSON schema argument validation, an optional sandbox
// boundary for isolated tools, and an executor actor that runs one
// reasoning round's calls concurrently while reporting results in the
// order the model requested them.
package tool

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.uber.org/zap"

	"github.com/Govcraft/acton-ai/types"
)

// Tool is a callable capability exposed to the model.
type Tool interface {
	// Definition returns the tool's name, description and input schema.
	Definition() types.ToolDefinition

	// Execute runs the tool. args is the raw JSON arguments object, already
	// validated against the definition's schema.
	Execute(ctx context.Context, args json.RawMessage) (json.RawMessage, error)
}

// Isolated marks a tool that must run inside a sandbox. The executor
// refuses to run such a tool in process when no sandbox pool is attached.
type Isolated interface {
	Tool
	RequiresSandbox() bool
}

// Func adapts a function into a Tool.
type Func struct {
	Def types.ToolDefinition
	Fn  func(ctx context.Context, args json.RawMessage) (json.RawMessage, error)
}

func (f Func) Definition() types.ToolDefinition { return f.Def }

func (f Func) Execute(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
	return f.Fn(ctx, args)
}

// Registry holds an agent's tools by name, with each tool's input schema
// compiled once at registration. Safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]Tool
	schemas map[string]*jsonschema.Schema
	logger  *zap.Logger
}

// NewRegistry returns an empty registry. logger may be nil.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		tools:   make(map[string]Tool),
		schemas: make(map[string]*jsonschema.Schema),
		logger:  logger.With(zap.String("component", "tool_registry")),
	}
}

// Register adds t under its definition name, compiling its input schema.
// Registering the same name twice or an uncompilable schema fails.
func (r *Registry) Register(t Tool) error {
	def := t.Definition()
	if def.Name == "" {
		return types.NewError(types.ErrToolValidation, "tool definition has no name")
	}
	schema, err := compileSchema(def.Name, def.InputSchema)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[def.Name]; exists {
		return types.NewErrorf(types.ErrToolDuplicate, "tool %q already registered", def.Name)
	}
	r.tools[def.Name] = t
	if schema != nil {
		r.schemas[def.Name] = schema
	}
	r.logger.Info("tool registered", zap.String("name", def.Name))
	return nil
}

// Unregister removes the named tool.
func (r *Registry) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[name]; !exists {
		return types.NewErrorf(types.ErrToolNotFound, "tool %q not found", name)
	}
	delete(r.tools, name)
	delete(r.schemas, name)
	r.logger.Info("tool unregistered", zap.String("name", name))
	return nil
}

// Get returns the named tool.
func (r *Registry) Get(name string) (Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tools[name]
	if !ok {
		return nil, types.NewErrorf(types.ErrToolNotFound, "tool %q not found", name)
	}
	return t, nil
}

// Has reports whether the named tool is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[name]
	return ok
}

// Definitions returns all tool definitions sorted by name, ready to be
// attached to a provider request.
func (r *Registry) Definitions() []types.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]types.ToolDefinition, 0, len(r.tools))
	for _, t := range r.tools {
		defs = append(defs, t.Definition())
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}
