// Package tools holds the tools the specialist agents may call and the
// registry that executes them on behalf of the executor role.
package tools

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/soyeahso/roundtable/internal/domain"
	"github.com/soyeahso/roundtable/internal/logging"
)

// Tool is a capability an agent can request during a conversation.
type Tool interface {
	// Name returns the tool's identifier.
	Name() string

	// Description returns a human-readable description for the LLM.
	Description() string

	// InputSchema returns the JSON Schema for the tool's input.
	InputSchema() string

	// Execute runs the tool with the given JSON input.
	Execute(ctx context.Context, input string) (string, error)
}

// Definition is a serializable tool definition for passing to the LLM.
type Definition struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	InputSchema string `json:"inputSchema"`
}

// ToolError is a failed tool call. Code carries the HTTP status for tools
// backed by a remote API and is zero otherwise.
type ToolError struct {
	Tool    string
	Message string
	Code    int
}

func (e *ToolError) Error() string {
	return e.Message
}

// Temporary reports whether running the call again may succeed.
func (e *ToolError) Temporary() bool {
	return e.Code == 408 || e.Code == 429 || e.Code >= 500
}

// RoleTools lists the tools each role may request.
var RoleTools = map[domain.Role][]string{
	domain.RoleSqlSpecialist: {SQLToolName},
	domain.RoleJobSpecialist: {RunJobToolName, JobStatusToolName},
}

// Registry holds available tools.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
	log   *logging.Logger
}

// NewRegistry creates an empty tool registry.
func NewRegistry(log *logging.Logger) *Registry {
	return &Registry{
		tools: make(map[string]Tool),
		log:   log.Sub("tools"),
	}
}

// Register adds a tool, replacing any tool with the same name.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	r.mu.RUnlock()
	sort.Strings(names)
	return names
}

// Definitions returns LLM-ready definitions for the named tools, or for
// every registered tool when no names are given. Unknown names are skipped.
func (r *Registry) Definitions(names ...string) []Definition {
	if len(names) == 0 {
		names = r.Names()
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]Definition, 0, len(names))
	for _, name := range names {
		t, ok := r.tools[name]
		if !ok {
			continue
		}
		defs = append(defs, Definition{
			Name:        t.Name(),
			Description: t.Description(),
			InputSchema: t.InputSchema(),
		})
	}
	return defs
}

// Invoke runs the named tool. Unknown tools and panics are reported as
// permanent ToolErrors.
func (r *Registry) Invoke(ctx context.Context, name, args string) (out string, err error) {
	t, ok := r.Get(name)
	if !ok {
		return "", &ToolError{Tool: name, Message: "unknown tool: " + name}
	}
	if args == "" {
		args = "{}"
	}

	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			r.log.Error().Str("tool", name).Interface("panic", p).Msg("tool panicked")
			out, err = "", &ToolError{Tool: name, Message: fmt.Sprintf("tool %s panicked: %v", name, p)}
		}
		ev := r.log.Debug()
		if err != nil {
			ev = r.log.Warn().Err(err)
		}
		ev.Str("tool", name).Dur("took", time.Since(start)).Msg("tool executed")
	}()

	return t.Execute(ctx, args)
}
