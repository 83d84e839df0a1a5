// Package postgres implements scry.Store using PostgreSQL.
//
// Store accepts an externally-owned *pgxpool.Pool via constructor
// injection. The caller creates and closes the pool.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/averen/scry"
)

// Store implements scry.Store backed by PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

var _ scry.Store = (*Store)(nil)

// New creates a Store using an existing pgxpool.Pool.
// The caller owns the pool and is responsible for closing it.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Init creates all required tables.
func (s *Store) Init(ctx context.Context) error {
	tables := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			created_at BIGINT NOT NULL,
			state TEXT NOT NULL,
			review TEXT NOT NULL,
			diff_files INTEGER NOT NULL,
			rounds INTEGER NOT NULL,
			tool_calls BIGINT NOT NULL,
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
			duration_ms BIGINT NOT NULL,
			PRIMARY KEY (session_id, seq)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_created ON sessions (created_at DESC)`,
	}
	for _, ddl := range tables {
		if _, err := s.pool.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}
	return nil
}

// SaveSession stores one finished session and its step trace in a single
// transaction.
func (s *Store) SaveSession(ctx context.Context, rec scry.SessionRecord, steps []scry.StepRecord) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO sessions
		 (id, created_at, state, review, diff_files, rounds, tool_calls, subagents, input_tokens, output_tokens)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (id) DO UPDATE SET
		   state = EXCLUDED.state, review = EXCLUDED.review, rounds = EXCLUDED.rounds,
		   tool_calls = EXCLUDED.tool_calls, subagents = EXCLUDED.subagents,
		   input_tokens = EXCLUDED.input_tokens, output_tokens = EXCLUDED.output_tokens`,
		rec.ID, rec.CreatedAt, rec.State, rec.Review, rec.DiffFiles, rec.Rounds,
		rec.ToolCalls, rec.Subagents, rec.InputTokens, rec.OutputTokens,
	)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}

	for _, st := range steps {
		_, err = tx.Exec(ctx,
			`INSERT INTO steps (session_id, seq, name, type, input, output, duration_ms)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)
			 ON CONFLICT (session_id, seq) DO NOTHING`,
			st.SessionID, st.Seq, st.Name, st.Type, st.Input, st.Output, st.DurationMS,
		)
		if err != nil {
			return fmt.Errorf("save step %d: %w", st.Seq, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// GetSession returns one session and its step trace in sequence order.
func (s *Store) GetSession(ctx context.Context, id string) (scry.SessionRecord, []scry.StepRecord, error) {
	var rec scry.SessionRecord
	err := s.pool.QueryRow(ctx,
		`SELECT id, created_at, state, review, diff_files, rounds, tool_calls, subagents, input_tokens, output_tokens
		 FROM sessions WHERE id = $1`, id,
	).Scan(&rec.ID, &rec.CreatedAt, &rec.State, &rec.Review, &rec.DiffFiles, &rec.Rounds,
		&rec.ToolCalls, &rec.Subagents, &rec.InputTokens, &rec.OutputTokens)
	if err != nil {
		return scry.SessionRecord{}, nil, fmt.Errorf("get session: %w", err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT session_id, seq, name, type, input, output, duration_ms
		 FROM steps WHERE session_id = $1 ORDER BY seq`, id,
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
	rows, err := s.pool.Query(ctx,
		`SELECT id, created_at, state, review, diff_files, rounds, tool_calls, subagents, input_tokens, output_tokens
		 FROM sessions ORDER BY created_at DESC, id DESC LIMIT $1`, limit,
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

// Close is a no-op; the pool is externally owned.
func (s *Store) Close() error { return nil }
