// Package sqlite implements scry.Store using pure-Go SQLite. Zero CGO
// required.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/averen/scry"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// StoreOption configures a SQLite Store.
type StoreOption func(*Store)

// WithLogger sets a structured logger for the store.
// When set, the store emits debug logs for every operation including
// timing and key parameters. If not set, no logs are emitted.
func WithLogger(l *slog.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// Store implements scry.Store backed by a local SQLite file.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ scry.Store = (*Store)(nil)

// nopLogger is a logger that discards all output.
var nopLogger = slog.New(discardHandler{})

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// New creates a Store using a local SQLite file at dbPath.
// It opens a single shared connection pool with SetMaxOpenConns(1) so that
// all goroutines serialize through one connection, eliminating SQLITE_BUSY
// errors caused by concurrent writers opening independent connections.
func New(dbPath string, opts ...StoreOption) *Store {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		// sql.Open only fails when the driver is not registered; with the
		// blank import above that never happens.
		panic(fmt.Sprintf("sqlite: open driver: %v", err))
	}
	db.SetMaxOpenConns(1)
	s := &Store{db: db, logger: nopLogger}
	for _, o := range opts {
		o(s)
	}
	s.logger.Debug("sqlite: store opened", "path", dbPath)
	return s
}

// Init creates all required tables.
func (s *Store) Init(ctx context.Context) error {
	start := time.Now()
	s.logger.Debug("sqlite: init started")
	tables := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			created_at INTEGER NOT NULL,
			state TEXT NOT NULL,
			review TEXT NOT NULL,
			diff_files INTEGER NOT NULL,
			rounds INTEGER NOT NULL,
			tool_calls INTEGER NOT NULL,
			subagents INTEGER NOT NULL,
			input_tokens INTEGER NOT NULL,
			output_tokens INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS steps (
			session_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			name TEXT NOT NULL,
			type TEXT NOT NULL,
			input TEXT NOT NULL,
			output TEXT NOT NULL,
			duration_ms INTEGER NOT NULL,
			PRIMARY KEY (session_id, seq)
		)`,
	}

	for _, ddl := range tables {
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}
	s.logger.Debug("sqlite: init ok", "duration", time.Since(start))
	return nil
}

// SaveSession stores one finished session and its step trace in a single
// transaction.
func (s *Store) SaveSession(ctx context.Context, rec scry.SessionRecord, steps []scry.StepRecord) error {
	start := time.Now()
	s.logger.Debug("sqlite: save session", "id", rec.ID, "state", rec.State, "steps", len(steps))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO sessions
		 (id, created_at, state, review, diff_files, rounds, tool_calls, subagents, input_tokens, output_tokens)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.CreatedAt, rec.State, rec.Review, rec.DiffFiles, rec.Rounds,
		rec.ToolCalls, rec.Subagents, rec.InputTokens, rec.OutputTokens,
	)
	if err != nil {
		s.logger.Error("sqlite: save session failed", "id", rec.ID, "error", err, "duration", time.Since(start))
		return fmt.Errorf("save session: %w", err)
	}

	for _, st := range steps {
		_, err = tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO steps (session_id, seq, name, type, input, output, duration_ms)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			st.SessionID, st.Seq, st.Name, st.Type, st.Input, st.Output, st.DurationMS,
		)
		if err != nil {
			return fmt.Errorf("save step %d: %w", st.Seq, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	s.logger.Debug("sqlite: save session ok", "id", rec.ID, "duration", time.Since(start))
	return nil
}

// GetSession returns one session and its step trace in sequence order.
func (s *Store) GetSession(ctx context.Context, id string) (scry.SessionRecord, []scry.StepRecord, error) {
	var rec scry.SessionRecord
	err := s.db.QueryRowContext(ctx,
		`SELECT id, created_at, state, review, diff_files, rounds, tool_calls, subagents, input_tokens, output_tokens
		 FROM sessions WHERE id = ?`, id,
	).Scan(&rec.ID, &rec.CreatedAt, &rec.State, &rec.Review, &rec.DiffFiles, &rec.Rounds,
		&rec.ToolCalls, &rec.Subagents, &rec.InputTokens, &rec.OutputTokens)
	if err != nil {
		return scry.SessionRecord{}, nil, fmt.Errorf("get session: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, seq, name, type, input, output, duration_ms
		 FROM steps WHERE session_id = ? ORDER BY seq`, id,
	)
	if err != nil {
		return scry.SessionRecord{}, nil, fmt.Errorf("get steps: %w", err)
	}
	defer rows.Close()

	var steps []scry.StepRecord
	for rows.Next() {
		var st scry.StepRecord
		if err := rows.Scan(&st.SessionID, &st.Seq, &st.Name, &st.Type, &st.Input, &st.Output, &st.DurationMS); err != nil {
			return scry.SessionRecord{}, nil, fmt.Errorf("scan step: %w", err)
		}
		steps = append(steps, st)
	}
	if err := rows.Err(); err != nil {
		return scry.SessionRecord{}, nil, fmt.Errorf("iterate steps: %w", err)
	}
	return rec, steps, nil
}

// ListSessions returns the most recent sessions, newest first.
func (s *Store) ListSessions(ctx context.Context, limit int) ([]scry.SessionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, created_at, state, review, diff_files, rounds, tool_calls, subagents, input_tokens, output_tokens
		 FROM sessions ORDER BY created_at DESC, id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var recs []scry.SessionRecord
	for rows.Next() {
		var rec scry.SessionRecord
		if err := rows.Scan(&rec.ID, &rec.CreatedAt, &rec.State, &rec.Review, &rec.DiffFiles, &rec.Rounds,
			&rec.ToolCalls, &rec.Subagents, &rec.InputTokens, &rec.OutputTokens); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return recs, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
