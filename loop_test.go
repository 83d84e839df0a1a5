package scry

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func newLoopConfig(provider Provider, exec *ToolExecutor, defs []ToolDefinition) loopConfig {
	conv := NewConversation()
	conv.AppendSystem("you are a reviewer")
	conv.AppendUser("review this diff")
	return loopConfig{
		name:         "analysis",
		provider:     provider,
		exec:         exec,
		conv:         conv,
		toolDefs:     defs,
		maxIter:      10,
		terminalTool: ToolSubmitReview,
		logger:       slog.New(discardHandler{}),
	}
}

func TestRunLoopSubmitEndsSession(t *testing.T) {
	provider := &mockProvider{responses: []ChatResponse{
		{ToolCalls: []ToolCall{submitCall("t1", "LGTM, one nit about naming")},
			Usage: Usage{InputTokens: 10, OutputTokens: 5}},
	}}
	exec := newTestExecutor(nil, nil, submitReviewTool{})

	out, err := runLoop(context.Background(), newLoopConfig(provider, exec, nil))
	if err != nil {
		t.Fatal(err)
	}
	if out.state != StateSuccess {
		t.Fatalf("state = %s, want success", out.state)
	}
	if out.text != "LGTM, one nit about naming" {
		t.Errorf("text = %q", out.text)
	}
	if out.rounds != 1 {
		t.Errorf("rounds = %d, want 1", out.rounds)
	}
	if out.usage.InputTokens != 10 || out.usage.OutputTokens != 5 {
		t.Errorf("usage = %+v", out.usage)
	}
	if !strings.Contains(string(out.submission), "LGTM") {
		t.Errorf("submission = %s, want the raw submit arguments", out.submission)
	}
}

func TestRunLoopBudgetLockedSubmissionStillLands(t *testing.T) {
	review := strings.Repeat("the lock ordering in worker.go is inverted. ", 3)
	provider := &mockProvider{responses: []ChatResponse{
		{ToolCalls: []ToolCall{
			{ID: "t1", Name: "echo", Args: json.RawMessage(`{"text":"a"}`)},
			{ID: "t2", Name: "echo", Args: json.RawMessage(`{"text":"b"}`)},
		}},
		{ToolCalls: []ToolCall{submitCall("t3", review)}},
	}}
	// Two echo calls spend the whole budget, so the submit call itself is
	// rate-limited. The review must land anyway: the text is in the call
	// arguments, and the lockout message told the model to submit.
	exec := newTestExecutor(nil, []ExecutorOption{ExecMaxCalls(2)}, echoTool{name: "echo"}, submitReviewTool{})

	out, err := runLoop(context.Background(), newLoopConfig(provider, exec, nil))
	if err != nil {
		t.Fatal(err)
	}
	if out.state != StateSuccess {
		t.Fatalf("state = %s, want success", out.state)
	}
	if out.text != review {
		t.Errorf("text = %q, want the submitted review", out.text)
	}
	if out.rounds != 2 {
		t.Errorf("rounds = %d, want 2", out.rounds)
	}
}

func TestRunLoopBudgetLockedSubmissionStillValidated(t *testing.T) {
	provider := &mockProvider{responses: []ChatResponse{
		{ToolCalls: []ToolCall{
			{ID: "t1", Name: "echo", Args: json.RawMessage(`{"text":"a"}`)},
		}},
		{ToolCalls: []ToolCall{submitCall("t2", "too short")}},
		{ToolCalls: []ToolCall{submitCall("t3", strings.Repeat("a real finding. ", 8))}},
	}}
	exec := newTestExecutor(nil, []ExecutorOption{ExecMaxCalls(1)}, echoTool{name: "echo"}, submitReviewTool{minChars: 80})

	cfg := newLoopConfig(provider, exec, nil)
	cfg.minFinalLen = 80
	out, err := runLoop(context.Background(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	// A locked-out submit below the minimum length must not end the session;
	// the next, full-length one does.
	if out.state != StateSuccess || out.rounds != 3 {
		t.Fatalf("state = %s, rounds = %d, want success after 3 rounds", out.state, out.rounds)
	}
}

func TestRunLoopToolRoundThenSubmit(t *testing.T) {
	provider := &mockProvider{responses: []ChatResponse{
		{ToolCalls: []ToolCall{
			{ID: "t1", Name: "echo", Args: json.RawMessage(`{"text":"first"}`)},
			{ID: "t2", Name: "echo", Args: json.RawMessage(`{"text":"second"}`)},
		}},
		{ToolCalls: []ToolCall{submitCall("t3", "done reviewing")}},
	}}
	exec := newTestExecutor(nil, nil, echoTool{name: "echo"}, submitReviewTool{})

	cfg := newLoopConfig(provider, exec, nil)
	out, err := runLoop(context.Background(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	if out.state != StateSuccess || out.rounds != 2 {
		t.Fatalf("state = %s, rounds = %d", out.state, out.rounds)
	}

	// The second request must carry the full transcript: system, user,
	// assistant with calls, then one tool result per call in call order.
	reqs := provider.requests()
	if len(reqs) != 2 {
		t.Fatalf("len(reqs) = %d, want 2", len(reqs))
	}
	turns := reqs[1].Turns
	wantRoles := []string{RoleSystem, RoleUser, RoleAssistant, RoleTool, RoleTool}
	if len(turns) != len(wantRoles) {
		t.Fatalf("len(turns) = %d, want %d", len(turns), len(wantRoles))
	}
	for i, want := range wantRoles {
		if turns[i].Role != want {
			t.Errorf("turns[%d].Role = %s, want %s", i, turns[i].Role, want)
		}
	}
	if turns[3].ToolCallID != "t1" || turns[4].ToolCallID != "t2" {
		t.Errorf("tool results out of call order: %s, %s", turns[3].ToolCallID, turns[4].ToolCallID)
	}
	if turns[3].Content != "echo: first" {
		t.Errorf("turns[3].Content = %q", turns[3].Content)
	}

	// Steps recorded for every tool call, including the terminal one.
	if len(out.steps) != 3 {
		t.Errorf("len(steps) = %d, want 3", len(out.steps))
	}
}

func TestRunLoopNoToolCallsIsFinalAnswer(t *testing.T) {
	provider := &mockProvider{responses: []ChatResponse{
		{Content: "everything looks fine"},
	}}
	exec := newTestExecutor(nil, nil, submitReviewTool{})

	out, err := runLoop(context.Background(), newLoopConfig(provider, exec, nil))
	if err != nil {
		t.Fatal(err)
	}
	if out.state != StateSuccess || out.text != "everything looks fine" {
		t.Fatalf("got (%s, %q)", out.state, out.text)
	}
}

func TestRunLoopShortSubmissionKeepsGoing(t *testing.T) {
	provider := &mockProvider{responses: []ChatResponse{
		{ToolCalls: []ToolCall{submitCall("t1", "ok")}},
		{ToolCalls: []ToolCall{submitCall("t2", strings.Repeat("a solid finding. ", 10))}},
	}}
	// Schema minLength rejects the first submission; the model sees the
	// validation failure and retries with a real review.
	exec := newTestExecutor(nil, nil, submitReviewTool{minChars: 80})

	cfg := newLoopConfig(provider, exec, nil)
	cfg.minFinalLen = 80
	out, err := runLoop(context.Background(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	if out.state != StateSuccess {
		t.Fatalf("state = %s, want success on the second attempt", out.state)
	}
	if out.rounds != 2 {
		t.Errorf("rounds = %d, want 2", out.rounds)
	}
}

func TestRunLoopExhaustionSurfacesLongestContent(t *testing.T) {
	provider := &mockProvider{responses: []ChatResponse{
		{Content: "short note", ToolCalls: []ToolCall{
			{ID: "t1", Name: "echo", Args: json.RawMessage(`{"text":"a"}`)},
		}},
		{Content: "a much longer interim assessment of the change under review", ToolCalls: []ToolCall{
			{ID: "t2", Name: "echo", Args: json.RawMessage(`{"text":"b"}`)},
		}},
		{Content: "hm", ToolCalls: []ToolCall{
			{ID: "t3", Name: "echo", Args: json.RawMessage(`{"text":"c"}`)},
		}},
	}}
	exec := newTestExecutor(nil, nil, echoTool{name: "echo"})

	cfg := newLoopConfig(provider, exec, nil)
	cfg.maxIter = 3
	out, err := runLoop(context.Background(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	if out.state != StateExhausted {
		t.Fatalf("state = %s, want exhausted", out.state)
	}
	if out.text != "a much longer interim assessment of the change under review" {
		t.Errorf("text = %q, want the longest assistant content", out.text)
	}
}

func TestRunLoopModelFaultIsError(t *testing.T) {
	provider := &mockProvider{err: errors.New("dial tcp: connection refused")}
	exec := newTestExecutor(nil, nil, submitReviewTool{})

	_, err := runLoop(context.Background(), newLoopConfig(provider, exec, nil))
	if err == nil || !strings.Contains(err.Error(), "model client:") {
		t.Fatalf("err = %v, want a wrapped model-client fault", err)
	}
}

func TestRunLoopCancellationIsError(t *testing.T) {
	provider := &mockProvider{responses: []ChatResponse{
		{Content: "never reached"},
	}}
	exec := newTestExecutor(nil, nil, submitReviewTool{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := runLoop(ctx, newLoopConfig(provider, exec, nil))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestExtractFinalText(t *testing.T) {
	tests := []struct {
		name   string
		args   string
		minLen int
		want   string
		ok     bool
	}{
		{"present", `{"review_content":"looks good"}`, 0, "looks good", true},
		{"missing", `{}`, 0, "", false},
		{"empty", `{"review_content":""}`, 0, "", false},
		{"below minimum", `{"review_content":"ok"}`, 10, "", false},
		{"at minimum", `{"review_content":"0123456789"}`, 10, "0123456789", true},
		{"invalid json", `{"review_content":`, 0, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := extractFinalText(json.RawMessage(tt.args), tt.minLen)
			if got != tt.want || ok != tt.ok {
				t.Errorf("extractFinalText(%s, %d) = (%q, %v), want (%q, %v)",
					tt.args, tt.minLen, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestBuildStepTraceDelegateUsesTaskAsInput(t *testing.T) {
	call := ToolCall{ID: "t1", Name: ToolDelegate,
		Args: json.RawMessage(`{"task":"trace callers of parse"}`)}
	step := buildStepTrace(call, ExecutionResult{Success: true, Content: "found two callers"})
	if step.Type != "subagent" {
		t.Errorf("Type = %q, want subagent", step.Type)
	}
	if step.Input != "trace callers of parse" {
		t.Errorf("Input = %q", step.Input)
	}

	plain := buildStepTrace(ToolCall{Name: "read_file", Args: json.RawMessage(`{"path":"main.go"}`)},
		ExecutionResult{Success: true, Content: "package main"})
	if plain.Type != "tool" {
		t.Errorf("Type = %q, want tool", plain.Type)
	}
}
