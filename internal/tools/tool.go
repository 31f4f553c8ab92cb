// Package tools provides the tools the model may call mid-conversation and
// the registry that dispatches them.
package tools

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/drok-bot/drok/internal/provider"
)

// ErrUnknownTool is returned by Dispatch when no tool has the requested name.
var ErrUnknownTool = errors.New("unknown tool")

// Declaration is the schema a tool hands the model.
type Declaration = provider.ToolDeclaration

// Param describes one declared parameter.
type Param = provider.Param

// Tool is the interface that all tools must implement.
type Tool interface {
	// Name returns the tool identifier used in function calls.
	Name() string
	// Declaration returns the schema advertised to the model.
	Declaration() Declaration
	// Execute runs the tool. channelKey identifies the conversation the call
	// belongs to.
	Execute(ctx context.Context, args map[string]any, channelKey string) (Outcome, error)
}

// Outcome is what a tool produced: Media or Answer.
type Outcome interface {
	isOutcome()
}

// Media is binary output returned straight to the user; it ends the run.
type Media struct {
	MIMEType string
	Data     []byte
}

// Answer is text fed back to the model as a tool result.
type Answer struct {
	Text string
}

func (Media) isOutcome()  {}
func (Answer) isOutcome() {}

// Registry manages tool registration and execution.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]registered
}

type registered struct {
	tool Tool
	decl Declaration
}

// NewRegistry creates a new tool registry.
func NewRegistry() *Registry {
	return &Registry{
		tools: make(map[string]registered),
	}
}

// Register adds a tool to the registry. Its declaration is captured once.
func (r *Registry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name()] = registered{tool: tool, decl: tool.Declaration().Clone()}
}

// Lookup returns a tool by name.
func (r *Registry) Lookup(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.tools[name]
	return reg.tool, ok
}

// Names returns registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Declarations returns copies of every declaration, sorted by name.
func (r *Registry) Declarations() []Declaration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Declaration, 0, len(r.tools))
	for _, reg := range r.tools {
		out = append(out, reg.decl.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Dispatch runs the named tool.
func (r *Registry) Dispatch(ctx context.Context, name string, args map[string]any, channelKey string) (Outcome, error) {
	tool, ok := r.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	if args == nil {
		args = map[string]any{}
	}
	out, err := tool.Execute(ctx, args, channelKey)
	if err != nil {
		return nil, fmt.Errorf("tool %s: %w", name, err)
	}
	if out == nil {
		return nil, fmt.Errorf("tool %s returned no outcome", name)
	}
	return out, nil
}

// GetString extracts a string parameter with a default value.
func GetString(params map[string]any, key string, defaultVal string) string {
	if v, ok := params[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return defaultVal
}

// GetInt extracts an int parameter with a default value.
func GetInt(params map[string]any, key string, defaultVal int) int {
	if v, ok := params[key]; ok {
		switch n := v.(type) {
		case int:
			return n
		case float64:
			return int(n)
		}
	}
	return defaultVal
}

// GetBool extracts a bool parameter with a default value.
func GetBool(params map[string]any, key string, defaultVal bool) bool {
	if v, ok := params[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return defaultVal
}
