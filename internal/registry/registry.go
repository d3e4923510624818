package registry

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
)

// Module is the interface that all tool modules must implement to be registered.
type Module interface {
	Register(r *Registry)
}

// RunFunc executes a tool. Human-readable progress goes to out; the logger
// carried by ctx is expected to write there as well.
type RunFunc func(ctx context.Context, params Params, out io.Writer) error

// Tool is a runnable unit exposed on the command line and in the GUI.
type Tool struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Params      []Param `json:"params"`
	Run         RunFunc `json:"-"`
}

// Param returns the declaration of the named parameter.
func (t *Tool) Param(name string) (Param, bool) {
	for _, p := range t.Params {
		if p.Name == name {
			return p, true
		}
	}
	return Param{}, false
}

// Registry holds the tools registered for a single application instance.
type Registry struct {
	tools map[string]*Tool
}

// New creates and initializes a new Registry instance.
func New() *Registry {
	return &Registry{tools: make(map[string]*Tool)}
}

// RegisterTool adds tool to the registry.
func (r *Registry) RegisterTool(tool *Tool) {
	if tool.Run == nil {
		panic(fmt.Sprintf("tool '%s' has no run function", tool.Name))
	}
	if _, exists := r.tools[tool.Name]; exists {
		panic(fmt.Sprintf("tool with name '%s' already registered", tool.Name))
	}
	slog.Debug("Registering tool.", "name", tool.Name, "params", len(tool.Params))
	r.tools[tool.Name] = tool
}

// Tool looks up a registered tool by name.
func (r *Registry) Tool(name string) (*Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Tools returns every registered tool sorted by name.
func (r *Registry) Tools() []*Tool {
	out := make([]*Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
