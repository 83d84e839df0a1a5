package scry

// Conversation owns the ordered message history for one analysis session.
// It is append-only: turns are never rewritten or truncated mid-session, so
// the stored sequence is a complete audit trail of the model's reasoning.
//
// A Conversation is mutated only by its owning loop; append calls are never
// issued concurrently against the same instance, so no locking is needed.
type Conversation struct {
	turns []Turn
}

// NewConversation creates an empty conversation.
func NewConversation() *Conversation {
	return &Conversation{}
}

// AppendSystem appends a system turn.
func (c *Conversation) AppendSystem(text string) {
	c.turns = append(c.turns, SystemTurn(text))
}

// AppendUser appends a user turn.
func (c *Conversation) AppendUser(text string) {
	c.turns = append(c.turns, UserTurn(text))
}

// AppendAssistant appends an assistant turn with optional tool calls.
func (c *Conversation) AppendAssistant(content string, calls []ToolCall) {
	c.turns = append(c.turns, AssistantTurn(content, calls))
}

// AppendToolResult appends a tool-result turn answering the tool call with
// the given ID. The caller is responsible for appending one result per call
// emitted by the preceding assistant turn, in call order, before the next
// model round-trip.
func (c *Conversation) AppendToolResult(callID, toolName, content string) {
	c.turns = append(c.turns, ToolResultTurn(callID, toolName, content))
}

// Snapshot returns a copy of the turn sequence for sending to the model
// client. Mutating the returned slice does not affect the conversation.
func (c *Conversation) Snapshot() []Turn {
	out := make([]Turn, len(c.turns))
	copy(out, c.turns)
	return out
}

// Len returns the number of turns.
func (c *Conversation) Len() int {
	return len(c.turns)
}

// Clear removes all turns. It is only valid at the very start of a session,
// before the first turn is appended; the loop never truncates mid-session
// history.
func (c *Conversation) Clear() {
	c.turns = c.turns[:0]
}
