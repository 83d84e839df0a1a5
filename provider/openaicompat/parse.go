package openaicompat

import (
	"encoding/json"

	"github.com/averen/scry"
)

// ParseResponse converts an OpenAI-format ChatResponse to a scry ChatResponse.
// It extracts content, tool calls, and usage from choices[0].
func ParseResponse(resp ChatResponse) (scry.ChatResponse, error) {
	var out scry.ChatResponse

	if len(resp.Choices) == 0 {
		return out, nil
	}

	choice := resp.Choices[0]
	if choice.Message != nil {
		out.Content = choice.Message.Content
		out.ToolCalls = ParseToolCalls(choice.Message.ToolCalls)
	}

	if resp.Usage != nil {
		out.Usage = scry.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		}
	}

	return out, nil
}

// ParseToolCalls converts OpenAI tool call requests to scry ToolCalls.
// OpenAI returns function.arguments as a JSON string; invalid JSON is kept
// as-is so the executor can record the malformed-argument handling itself.
func ParseToolCalls(tcs []ToolCallRequest) []scry.ToolCall {
	if len(tcs) == 0 {
		return nil
	}

	out := make([]scry.ToolCall, 0, len(tcs))
	for _, tc := range tcs {
		out = append(out, scry.ToolCall{
			ID:   tc.ID,
			Name: tc.Function.Name,
			Args: json.RawMessage(tc.Function.Arguments),
		})
	}
	return out
}
