package sqlite

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/averen/scry"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s := New(filepath.Join(t.TempDir(), "scry.db"))
	t.Cleanup(func() { s.Close() })
	if err := s.Init(context.Background()); err != nil {
		t.Fatal(err)
	}
	return s
}

func sampleSession(id string, created int64) scry.SessionRecord {
	return scry.SessionRecord{
		ID:           id,
		CreatedAt:    created,
		State:        "success",
		Review:       "looks good",
		DiffFiles:    2,
		Rounds:       3,
		ToolCalls:    5,
		Subagents:    1,
		InputTokens:  1200,
		OutputTokens: 300,
	}
}

func TestSaveAndGetSession(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	rec := sampleSession("s1", 100)
	steps := []scry.StepRecord{
		{SessionID: "s1", Seq: 0, Name: "read_file", Type: "tool", Input: `{"path":"main.go"}`, Output: "package main", DurationMS: 12},
		{SessionID: "s1", Seq: 1, Name: "delegate", Type: "subagent", Input: "trace callers", Output: "two callers", DurationMS: 900},
	}
	if err := s.SaveSession(ctx, rec, steps); err != nil {
		t.Fatal(err)
	}

	got, gotSteps, err := s.GetSession(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if got != rec {
		t.Errorf("got %+v, want %+v", got, rec)
	}
	if len(gotSteps) != 2 {
		t.Fatalf("len(steps) = %d", len(gotSteps))
	}
	for i, st := range gotSteps {
		if st != steps[i] {
			t.Errorf("steps[%d] = %+v, want %+v", i, st, steps[i])
		}
	}
}

func TestSaveSessionIsIdempotent(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	rec := sampleSession("s1", 100)
	if err := s.SaveSession(ctx, rec, nil); err != nil {
		t.Fatal(err)
	}
	rec.Review = "updated review"
	if err := s.SaveSession(ctx, rec, nil); err != nil {
		t.Fatal(err)
	}

	got, _, err := s.GetSession(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Review != "updated review" {
		t.Errorf("Review = %q, want the replacement", got.Review)
	}

	all, err := s.ListSessions(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 {
		t.Errorf("len(sessions) = %d, want 1", len(all))
	}
}

func TestGetSessionMissing(t *testing.T) {
	s := newStore(t)
	if _, _, err := s.GetSession(context.Background(), "ghost"); err == nil {
		t.Error("expected an error for a missing session")
	}
}

func TestListSessionsNewestFirst(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		rec := sampleSession(fmt.Sprintf("s%d", i), int64(100+i))
		if err := s.SaveSession(ctx, rec, nil); err != nil {
			t.Fatal(err)
		}
	}

	recs, err := s.ListSessions(ctx, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 3 {
		t.Fatalf("len = %d, want 3", len(recs))
	}
	for i, want := range []string{"s4", "s3", "s2"} {
		if recs[i].ID != want {
			t.Errorf("recs[%d].ID = %s, want %s", i, recs[i].ID, want)
		}
	}
}
