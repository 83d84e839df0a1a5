package scry

import "context"

// SessionRecord is the persisted summary of one analysis session.
type SessionRecord struct {
	ID           string
	CreatedAt    int64
	State        string
	Review       string
	DiffFiles    int
	Rounds       int
	ToolCalls    int64
	Subagents    int
	InputTokens  int
	OutputTokens int
}

// StepRecord is one persisted step of a session's trace.
type StepRecord struct {
	SessionID  string
	Seq        int
	Name       string
	Type       string
	Input      string
	Output     string
	DurationMS int64
}

// Store persists finished sessions for audit. Implementations live under
// store/; persistence is best-effort and never blocks an analysis outcome.
type Store interface {
	SaveSession(ctx context.Context, rec SessionRecord, steps []StepRecord) error
	GetSession(ctx context.Context, id string) (SessionRecord, []StepRecord, error)
	ListSessions(ctx context.Context, limit int) ([]SessionRecord, error)
	Close() error
}
