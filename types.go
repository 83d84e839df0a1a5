package scry

import (
	"encoding/json"
	"time"
)

// --- Conversation protocol types ---

// Turn roles. A conversation is an ordered sequence of turns; every "tool"
// turn answers a tool call emitted by the immediately preceding assistant turn.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Turn is a single message in a conversation.
type Turn struct {
	Role      string     `json:"role"`
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	// ToolCallID links a tool-result turn back to the assistant tool call
	// it answers. Set only when Role is "tool".
	ToolCallID string `json:"tool_call_id,omitempty"`
	// ToolName is the name of the tool that produced a tool-result turn.
	ToolName string `json:"tool_name,omitempty"`
}

// ToolCall is a model-requested invocation of a named tool.
type ToolCall struct {
	ID   string          `json:"id"`
	Name string          `json:"name"`
	Args json.RawMessage `json:"args"`
}

// ChatRequest is what the orchestrator sends to a model client.
type ChatRequest struct {
	Turns []Turn           `json:"turns"`
	Tools []ToolDefinition `json:"tools,omitempty"`
}

// ChatResponse is one assistant turn from the model client: optional text
// content plus zero or more tool calls.
type ChatResponse struct {
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	Usage     Usage      `json:"usage"`
}

// Usage tracks token consumption across model calls.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Add accumulates u2 into u.
func (u *Usage) Add(u2 Usage) {
	u.InputTokens += u2.InputTokens
	u.OutputTokens += u2.OutputTokens
}

// ToolDefinition is the model-facing description of a callable tool.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"` // JSON Schema
}

// --- Turn constructors ---

func SystemTurn(text string) Turn {
	return Turn{Role: RoleSystem, Content: text}
}

func UserTurn(text string) Turn {
	return Turn{Role: RoleUser, Content: text}
}

func AssistantTurn(content string, calls []ToolCall) Turn {
	return Turn{Role: RoleAssistant, Content: content, ToolCalls: calls}
}

func ToolResultTurn(callID, toolName, content string) Turn {
	return Turn{Role: RoleTool, Content: content, ToolCallID: callID, ToolName: toolName}
}

// StepTrace records the execution of a single tool call or subagent
// delegation, collected in chronological order during the loop.
type StepTrace struct {
	// Name is the tool name (e.g. "search_pattern", "delegate").
	Name string `json:"name"`
	// Type is "tool" or "subagent".
	Type string `json:"type"`
	// Input is the raw arguments, truncated to 200 runes.
	Input string `json:"input"`
	// Output is the result text, truncated to 500 runes.
	Output string `json:"output"`
	// Duration is the wall-clock time for this step.
	Duration time.Duration `json:"duration"`
}

// truncateStr truncates a string to n runes.
func truncateStr(s string, n int) string {
	// Byte length ≤ n guarantees rune count ≤ n, avoiding the []rune
	// allocation for short ASCII strings.
	if len(s) <= n {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
