package scry

import "testing"

func TestConversationAppendOrder(t *testing.T) {
	conv := NewConversation()
	conv.AppendSystem("rules")
	conv.AppendUser("the diff")
	conv.AppendAssistant("checking", []ToolCall{{ID: "t1", Name: "read_file"}})
	conv.AppendToolResult("t1", "read_file", "package main")

	turns := conv.Snapshot()
	if len(turns) != 4 || conv.Len() != 4 {
		t.Fatalf("Len = %d, want 4", conv.Len())
	}
	wantRoles := []string{RoleSystem, RoleUser, RoleAssistant, RoleTool}
	for i, want := range wantRoles {
		if turns[i].Role != want {
			t.Errorf("turns[%d].Role = %s, want %s", i, turns[i].Role, want)
		}
	}
	if turns[2].ToolCalls[0].ID != "t1" {
		t.Errorf("assistant turn lost its tool calls")
	}
	if turns[3].ToolCallID != "t1" || turns[3].ToolName != "read_file" {
		t.Errorf("tool result not linked to its call: %+v", turns[3])
	}
}

func TestConversationSnapshotIsACopy(t *testing.T) {
	conv := NewConversation()
	conv.AppendUser("original")

	snap := conv.Snapshot()
	snap[0].Content = "tampered"

	if conv.Snapshot()[0].Content != "original" {
		t.Error("mutating a snapshot leaked into the conversation")
	}
}

func TestConversationClearBeforeFirstAppend(t *testing.T) {
	conv := NewConversation()
	conv.AppendSystem("stale prompt")
	conv.Clear()
	if conv.Len() != 0 {
		t.Fatalf("Len = %d after Clear, want 0", conv.Len())
	}
	conv.AppendSystem("fresh prompt")
	if got := conv.Snapshot()[0].Content; got != "fresh prompt" {
		t.Errorf("Content = %q", got)
	}
}
