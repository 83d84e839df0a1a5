package scry

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
)

// mockProvider returns scripted responses in order. Responses past the end
// of the script are plain "exhausted" turns so a runaway loop terminates.
type mockProvider struct {
	name      string
	responses []ChatResponse
	err       error // returned instead of a response when set

	mu  sync.Mutex
	idx int
	// reqs records every request for assertions on conversation shape.
	reqs []ChatRequest
}

func (m *mockProvider) Name() string { return m.name }

func (m *mockProvider) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	if err := ctx.Err(); err != nil {
		return ChatResponse{}, err
	}
	if m.err != nil {
		return ChatResponse{}, m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reqs = append(m.reqs, req)
	if m.idx >= len(m.responses) {
		return ChatResponse{Content: "exhausted"}, nil
	}
	resp := m.responses[m.idx]
	m.idx++
	return resp, nil
}

func (m *mockProvider) requests() []ChatRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ChatRequest(nil), m.reqs...)
}

// submitCall builds a submit_review tool call with the given review text.
func submitCall(id, text string) ToolCall {
	args, _ := json.Marshal(map[string]string{"review_content": text})
	return ToolCall{ID: id, Name: ToolSubmitReview, Args: args}
}

// --- Tool mocks ---

// echoTool returns its "text" argument.
type echoTool struct{ name string }

func (t echoTool) Name() string { return t.name }

func (t echoTool) Description() string { return "Echo the text argument" }

func (t echoTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {"text": {"type": "string"}},
		"required": ["text"]
	}`)
}

func (t echoTool) Execute(_ context.Context, args json.RawMessage, _ *ToolContext) (ToolResult, error) {
	var params struct {
		Text string `json:"text"`
	}
	_ = json.Unmarshal(args, &params)
	return ToolResult{Content: "echo: " + params.Text}, nil
}

// errorTool always reports a runtime error as data.
type errorTool struct{}

func (errorTool) Name() string             { return "broken" }
func (errorTool) Description() string      { return "Always fails" }
func (errorTool) Schema() json.RawMessage  { return json.RawMessage(`{"type":"object"}`) }
func (errorTool) Execute(_ context.Context, _ json.RawMessage, _ *ToolContext) (ToolResult, error) {
	return ToolResult{Error: "tool broken"}, nil
}

// panicTool panics on execution.
type panicTool struct{}

func (panicTool) Name() string            { return "volatile" }
func (panicTool) Description() string     { return "Panics" }
func (panicTool) Schema() json.RawMessage { return json.RawMessage(`{"type":"object"}`) }
func (panicTool) Execute(_ context.Context, _ json.RawMessage, _ *ToolContext) (ToolResult, error) {
	panic("boom")
}

// bigTool returns a response of the requested size.
type bigTool struct{ chars int }

func (t bigTool) Name() string            { return "firehose" }
func (t bigTool) Description() string     { return "Returns a lot of text" }
func (t bigTool) Schema() json.RawMessage { return json.RawMessage(`{"type":"object"}`) }
func (t bigTool) Execute(_ context.Context, _ json.RawMessage, _ *ToolContext) (ToolResult, error) {
	return ToolResult{Content: strings.Repeat("x", t.chars)}, nil
}

// barrierTool blocks until all concurrent calls have started. Sequential
// dispatch deadlocks here (caught by test timeout).
type barrierTool struct {
	name    string
	barrier chan struct{}
	started chan struct{}
}

func (b *barrierTool) Name() string            { return b.name }
func (b *barrierTool) Description() string     { return "Barrier tool" }
func (b *barrierTool) Schema() json.RawMessage { return json.RawMessage(`{"type":"object"}`) }
func (b *barrierTool) Execute(_ context.Context, _ json.RawMessage, _ *ToolContext) (ToolResult, error) {
	b.started <- struct{}{} // signal: I have started
	<-b.barrier             // wait for release
	return ToolResult{Content: "done from " + b.name}, nil
}

// newTestExecutor builds an executor over the given tools with test-friendly
// defaults.
func newTestExecutor(tctx *ToolContext, opts []ExecutorOption, tools ...Tool) *ToolExecutor {
	registry := NewToolRegistry()
	for _, t := range tools {
		if err := registry.Register(t); err != nil {
			panic(err)
		}
	}
	return NewToolExecutor(registry, tctx, opts...)
}
