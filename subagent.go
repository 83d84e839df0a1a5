package scry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
)

// SubagentBudget is the session-wide counter capping how many subagents one
// top-level analysis may spawn. A single instance is shared by reference
// across the whole session; sibling delegations racing to spawn go through
// an atomic compare-and-increment, so at most Limit permits are ever granted.
//
// Subagents cannot spawn subagents (the delegate tool is excluded from their
// registries and their Spawn hook is nil), so a flat counter suffices — there
// is no tree depth to track.
type SubagentBudget struct {
	spawned atomic.Int64
	limit   int64
}

// NewSubagentBudget creates a budget granting at most limit spawns.
func NewSubagentBudget(limit int) *SubagentBudget {
	return &SubagentBudget{limit: int64(limit)}
}

// TrySpawn attempts to acquire a spawn permit. It is safe to call from
// concurrent sibling dispatches.
func (b *SubagentBudget) TrySpawn() bool {
	for {
		n := b.spawned.Load()
		if n >= b.limit {
			return false
		}
		if b.spawned.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

// Spawned returns the number of permits granted so far.
func (b *SubagentBudget) Spawned() int {
	return int(b.spawned.Load())
}

// Limit returns the maximum number of permits.
func (b *SubagentBudget) Limit() int {
	return int(b.limit)
}

// SubagentTask describes one delegated sub-investigation.
type SubagentTask struct {
	// Description is what the subagent should investigate.
	Description string
	// Context is optional background the parent passes along.
	Context string
	// MaxToolCalls overrides the subagent's own iteration ceiling when > 0.
	MaxToolCalls int
}

// delegateTool is the built-in delegation tool. Its Execute body only parses
// arguments and hands off to the session's Spawn hook; the hook owns the
// nested loop and never returns an error — subagent faults degrade to text.
type delegateTool struct{}

func (delegateTool) Name() string { return ToolDelegate }

func (delegateTool) Description() string {
	return "Delegate a focused sub-investigation to an isolated agent with its own tool budget. " +
		"Use it for questions that need several tool calls of their own, e.g. tracing how a changed function is used across the repository. " +
		"Returns the agent's findings as text."
}

func (delegateTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"task": {"type": "string", "minLength": 1, "description": "What to investigate, stated as a self-contained question"},
			"context": {"type": "string", "description": "Optional background the agent needs (file paths, symbol names, prior findings)"},
			"max_tool_calls": {"type": "integer", "minimum": 1, "description": "Optional tool-call ceiling for this investigation"}
		},
		"required": ["task"]
	}`)
}

func (delegateTool) Execute(ctx context.Context, args json.RawMessage, tc *ToolContext) (ToolResult, error) {
	if tc == nil || tc.Spawn == nil {
		return ToolResult{Error: "delegation is not available in this context"}, nil
	}
	var params struct {
		Task         string `json:"task"`
		Context      string `json:"context"`
		MaxToolCalls int    `json:"max_tool_calls"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return ToolResult{Error: "invalid args: " + err.Error()}, nil
	}
	findings := tc.Spawn(ctx, SubagentTask{
		Description:  params.Task,
		Context:      params.Context,
		MaxToolCalls: params.MaxToolCalls,
	})
	return ToolResult{Content: findings}, nil
}

// subagentRunner builds and runs isolated subagent sessions. One runner is
// created per top-level session; each run builds its own conversation and
// executor, sharing only the spawn budget with its siblings.
type subagentRunner struct {
	provider         Provider
	tools            []Tool // the session's inspection tool set, pre-exclusion
	budget           *SubagentBudget
	repoRoot         string
	maxToolCalls     int
	maxResponseChars int
	guard            *OutputGuard
	logger           *slog.Logger
	tracer           Tracer
}

// run executes one delegated investigation to completion and returns a
// compact findings string. It never returns an error and never touches the
// parent conversation: budget denial, model faults, and panics all degrade
// to a textual finding so one failing sub-investigation cannot abort the
// parent analysis.
func (r *subagentRunner) run(ctx context.Context, task SubagentTask) (findings string) {
	defer func() {
		if p := recover(); p != nil {
			findings = fmt.Sprintf("subagent panic: %v", p)
		}
	}()

	if !r.budget.TrySpawn() {
		return fmt.Sprintf("subagent budget exhausted (limit %d per session); continue with your own tool calls instead",
			r.budget.Limit())
	}

	if r.tracer != nil {
		var span Span
		ctx, span = r.tracer.Start(ctx, "subagent.run",
			StringAttr("subagent.task", truncateStr(task.Description, 120)))
		defer span.End()
	}
	r.logger.Info("subagent started", "task", truncateStr(task.Description, 80))

	registry, err := r.buildRegistry()
	if err != nil {
		return "subagent setup error: " + err.Error()
	}

	// Fresh executor and conversation: nothing of the parent's mutable state
	// crosses the delegation boundary except the shared spawn budget.
	exec := NewToolExecutor(registry, &ToolContext{RepoRoot: r.repoRoot, Logger: r.logger},
		ExecMaxCalls(r.resolveMaxCalls(task)),
		ExecMaxResponseChars(r.maxResponseChars),
		ExecGuard(r.guard),
		ExecLogger(r.logger),
		ExecTracer(r.tracer),
	)

	conv := NewConversation()
	conv.AppendSystem(subagentSystemPrompt(registry.Definitions()))
	conv.AppendUser(subagentUserPrompt(task))

	outcome, err := runLoop(ctx, loopConfig{
		name:     "subagent",
		provider: r.provider,
		exec:     exec,
		conv:     conv,
		toolDefs: registry.Definitions(),
		maxIter:  r.resolveMaxCalls(task),
		logger:   r.logger,
		tracer:   r.tracer,
	})
	if err != nil {
		// Fault isolation across the delegation boundary: the parent loop
		// must keep running even when this one died.
		r.logger.Warn("subagent failed", "error", err)
		return "subagent error: " + err.Error()
	}

	switch outcome.state {
	case StateExhausted:
		if outcome.text != "" {
			return "subagent ran out of tool calls before concluding. Partial findings:\n" + outcome.text
		}
		return "subagent ran out of tool calls before concluding; no findings were produced. " +
			"Consider a narrower task or investigate directly."
	default:
		if outcome.text == "" {
			return "subagent finished without findings"
		}
		return outcome.text
	}
}

// buildRegistry assembles the subagent's tool registry: the session tool set
// minus delegation and plan mutation. This is the structural guard against
// recursive fan-out and shared-plan writes; run-time guards (nil Spawn, nil
// Plan) back it up.
func (r *subagentRunner) buildRegistry() (*ToolRegistry, error) {
	registry := NewToolRegistry()
	for _, t := range r.tools {
		switch t.Name() {
		case ToolDelegate, ToolUpdatePlan, ToolSubmitReview:
			continue
		}
		if err := registry.Register(t); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

func (r *subagentRunner) resolveMaxCalls(task SubagentTask) int {
	if task.MaxToolCalls > 0 {
		return task.MaxToolCalls
	}
	return r.maxToolCalls
}

func subagentSystemPrompt(tools []ToolDefinition) string {
	var b strings.Builder
	b.WriteString("You are an isolated code-investigation agent. You are given one task by a reviewing agent. ")
	b.WriteString("Use the available tools to investigate, then answer with a plain text summary of your findings. ")
	b.WriteString("When you respond without tool calls, that response is your final answer. ")
	b.WriteString("You cannot delegate further and you cannot submit reviews.\n\nTools:\n")
	for _, d := range tools {
		fmt.Fprintf(&b, "- %s: %s\n", d.Name, d.Description)
	}
	return b.String()
}

func subagentUserPrompt(task SubagentTask) string {
	if task.Context == "" {
		return task.Description
	}
	return task.Description + "\n\nContext from the reviewing agent:\n" + task.Context
}
