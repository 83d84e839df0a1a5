package scry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
)

// Built-in tool names. The delegate and plan tools are withheld from subagent
// registries; submit_review is the top-level loop's terminal tool.
const (
	ToolDelegate     = "delegate"
	ToolUpdatePlan   = "update_plan"
	ToolSubmitReview = "submit_review"
)

// Tool is one callable capability exposed to the model. Implementations must
// be safe for concurrent Execute calls: the executor fans out a batch of tool
// calls in parallel.
type Tool interface {
	// Name returns the unique tool name.
	Name() string
	// Description returns the model-facing description.
	Description() string
	// Schema returns the JSON Schema for the tool's arguments.
	Schema() json.RawMessage
	// Execute runs the tool with validated arguments. Errors that the model
	// can act on belong in ToolResult.Error; a returned error is treated as
	// a runtime failure of the tool body. Long-running bodies must check ctx
	// cooperatively.
	Execute(ctx context.Context, args json.RawMessage, tc *ToolContext) (ToolResult, error)
}

// ToolResult is the outcome of a tool execution.
type ToolResult struct {
	Content  string            `json:"content"`
	Error    string            `json:"error,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// ToolContext carries session-scoped collaborators into a tool execution.
// Every field is optional: a tool can run in degraded contexts (a subagent
// has no Spawn hook and no Plan) and must fail as data, not panic, when a
// collaborator it needs is absent.
type ToolContext struct {
	// RepoRoot is the repository root all path arguments resolve against.
	RepoRoot string
	// Plan is the shared review plan, present only in the top-level session.
	Plan *PlanState
	// Subagents is the session-wide spawn budget.
	Subagents *SubagentBudget
	// Spawn runs an isolated subagent investigation and returns its findings
	// text. Nil in subagent contexts: subagents cannot recurse.
	Spawn SpawnFunc
	// Logger is never nil when the context is built by this package.
	Logger *slog.Logger
}

// SpawnFunc runs one subagent task to completion. It never returns an error:
// faults inside the subagent degrade to a textual finding at the delegation
// boundary.
type SpawnFunc func(ctx context.Context, task SubagentTask) string

// ToolRegistry is a lookup table from tool name to Tool, built once per
// session and immutable afterward, so concurrent dispatches read it safely.
// List returns tools in registration order for deterministic prompt
// generation.
type ToolRegistry struct {
	byName  map[string]Tool
	ordered []Tool
}

// NewToolRegistry creates an empty registry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{byName: make(map[string]Tool)}
}

// Register adds a tool keyed by its unique name. Registering a second tool
// under an existing name is an error.
func (r *ToolRegistry) Register(t Tool) error {
	name := t.Name()
	if _, exists := r.byName[name]; exists {
		return fmt.Errorf("tool %q already registered", name)
	}
	r.byName[name] = t
	r.ordered = append(r.ordered, t)
	return nil
}

// Get returns the tool with the given name.
func (r *ToolRegistry) Get(name string) (Tool, bool) {
	t, ok := r.byName[name]
	return t, ok
}

// Has reports whether a tool with the given name is registered.
func (r *ToolRegistry) Has(name string) bool {
	_, ok := r.byName[name]
	return ok
}

// List returns all tools in registration order.
func (r *ToolRegistry) List() []Tool {
	out := make([]Tool, len(r.ordered))
	copy(out, r.ordered)
	return out
}

// Definitions returns model-facing definitions in registration order.
func (r *ToolRegistry) Definitions() []ToolDefinition {
	defs := make([]ToolDefinition, 0, len(r.ordered))
	for _, t := range r.ordered {
		defs = append(defs, ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Schema(),
		})
	}
	return defs
}
