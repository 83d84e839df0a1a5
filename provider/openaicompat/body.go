package openaicompat

import (
	"encoding/json"

	"github.com/averen/scry"
)

// BuildBody converts scry turns and tool definitions into an OpenAI-format
// ChatRequest. System turns stay in the messages array as role:"system".
func BuildBody(turns []scry.Turn, tools []scry.ToolDefinition, model string, opts ...Option) ChatRequest {
	var msgs []Message

	for _, t := range turns {
		switch {
		case t.Role == scry.RoleAssistant && len(t.ToolCalls) > 0:
			var tcs []ToolCallRequest
			for _, tc := range t.ToolCalls {
				tcs = append(tcs, ToolCallRequest{
					ID:   tc.ID,
					Type: "function",
					Function: FunctionCall{
						Name:      tc.Name,
						Arguments: string(tc.Args),
					},
				})
			}
			msgs = append(msgs, Message{
				Role:      "assistant",
				Content:   t.Content,
				ToolCalls: tcs,
			})

		case t.Role == scry.RoleTool:
			msgs = append(msgs, Message{
				Role:       "tool",
				Content:    t.Content,
				ToolCallID: t.ToolCallID,
				Name:       t.ToolName,
			})

		default:
			msgs = append(msgs, Message{
				Role:    t.Role,
				Content: t.Content,
			})
		}
	}

	req := ChatRequest{
		Model:    model,
		Messages: msgs,
	}
	if len(tools) > 0 {
		req.Tools = BuildToolDefs(tools)
	}
	for _, opt := range opts {
		opt(&req)
	}
	return req
}

// BuildToolDefs converts scry ToolDefinitions to OpenAI tool format.
func BuildToolDefs(tools []scry.ToolDefinition) []Tool {
	out := make([]Tool, 0, len(tools))
	for _, t := range tools {
		params := t.Parameters
		if len(params) == 0 {
			params = json.RawMessage(`{}`)
		}
		out = append(out, Tool{
			Type: "function",
			Function: Function{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  params,
			},
		})
	}
	return out
}
