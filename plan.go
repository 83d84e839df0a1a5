package scry

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
)

// PlanState is the shared review plan for one session. The model maintains it
// through the update_plan tool; it is only ever attached to the top-level
// session's ToolContext, never to a subagent's.
type PlanState struct {
	mu       sync.Mutex
	items    []PlanItem
	revision int
}

// PlanItem is one step of the review plan.
type PlanItem struct {
	Text   string `json:"text"`
	Status string `json:"status"` // "pending", "active", "done"
}

// NewPlanState creates an empty plan.
func NewPlanState() *PlanState {
	return &PlanState{}
}

// Set replaces the plan items and bumps the revision.
func (p *PlanState) Set(items []PlanItem) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.items = append([]PlanItem(nil), items...)
	p.revision++
}

// Items returns a copy of the current plan items.
func (p *PlanState) Items() []PlanItem {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]PlanItem(nil), p.items...)
}

// Revision returns how many times the plan has been replaced.
func (p *PlanState) Revision() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.revision
}

// Render formats the plan as a checklist for feeding back to the model.
func (p *PlanState) Render() string {
	items := p.Items()
	if len(items) == 0 {
		return "(empty plan)"
	}
	var b strings.Builder
	for i, it := range items {
		mark := " "
		switch it.Status {
		case "done":
			mark = "x"
		case "active":
			mark = ">"
		}
		fmt.Fprintf(&b, "%d. [%s] %s\n", i+1, mark, it.Text)
	}
	return b.String()
}

// planTool is the built-in update_plan tool.
type planTool struct{}

func (planTool) Name() string { return ToolUpdatePlan }

func (planTool) Description() string {
	return "Replace the review plan with an updated list of steps. Use it to record what you intend to check and to mark steps done as you go."
}

func (planTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"items": {
				"type": "array",
				"description": "The full plan, replacing any previous version.",
				"items": {
					"type": "object",
					"properties": {
						"text": {"type": "string", "description": "What this step checks"},
						"status": {"type": "string", "enum": ["pending", "active", "done"]}
					},
					"required": ["text", "status"]
				}
			}
		},
		"required": ["items"]
	}`)
}

func (planTool) Execute(_ context.Context, args json.RawMessage, tc *ToolContext) (ToolResult, error) {
	if tc == nil || tc.Plan == nil {
		return ToolResult{Error: "plan state is not available in this context"}, nil
	}
	var params struct {
		Items []PlanItem `json:"items"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return ToolResult{Error: "invalid args: " + err.Error()}, nil
	}
	tc.Plan.Set(params.Items)
	return ToolResult{Content: "Plan updated:\n" + tc.Plan.Render()}, nil
}
