package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"ballotbox/contexts/governance/voting-session/adapters/sqlite/migrations"
	"ballotbox/contexts/governance/voting-session/domain/entities"
	domainerrors "ballotbox/contexts/governance/voting-session/domain/errors"
	"ballotbox/contexts/governance/voting-session/ports"
	"ballotbox/internal/platform/db"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	handle, err := db.OpenSQLite(filepath.Join(t.TempDir(), "voting.db"), migrations.FS)
	if err != nil {
		t.Fatalf("open sqlite failed: %v", err)
	}
	t.Cleanup(func() { _ = handle.Close() })
	return NewStore(handle.DB, nil)
}

func TestSessionRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	first, err := store.NextSessionID(ctx)
	if err != nil {
		t.Fatalf("next session id failed: %v", err)
	}
	second, err := store.NextSessionID(ctx)
	if err != nil {
		t.Fatalf("next session id failed: %v", err)
	}
	if first != 1 || second != 2 {
		t.Fatalf("expected ids 1 and 2, got %d and %d", first, second)
	}

	now := time.Date(2026, 6, 1, 8, 30, 0, 0, time.UTC)
	session := entities.NewSession(first, "creator", "Color", []string{"Red", "Blue"}, true, now)
	session.Access.Add("v1")
	session.Access.Add("v2")
	session.Votes["v1"] = 1
	session.Delegations["v2"] = "v1"
	if err := store.SaveSession(ctx, session); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	loaded, err := store.GetSession(ctx, first)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if loaded.Title != "Color" || len(loaded.Options) != 2 || loaded.Options[1] != "Blue" {
		t.Fatalf("unexpected session header %+v", loaded)
	}
	if loaded.Creator() != "creator" || loaded.Access.Len() != 3 || !loaded.ResultsPublic {
		t.Fatalf("unexpected access list %v", loaded.Access.Members())
	}
	if loaded.Votes["v1"] != 1 {
		t.Fatalf("expected v1 vote restored, got %v", loaded.Votes)
	}
	if delegate, ok := loaded.Delegations.DelegateOf("v2"); !ok || delegate != "v1" {
		t.Fatalf("expected v2 -> v1 restored, got %v", loaded.Delegations)
	}
	if !loaded.CreatedAt.Equal(now) {
		t.Fatalf("expected created_at %s, got %s", now, loaded.CreatedAt)
	}

	loaded.Access.Remove("v1")
	delete(loaded.Votes, "v1")
	closedAt := now.Add(time.Hour)
	loaded.Closed = true
	loaded.ClosedAt = &closedAt
	if err := store.SaveSession(ctx, loaded); err != nil {
		t.Fatalf("second save failed: %v", err)
	}
	updated, err := store.GetSession(ctx, first)
	if err != nil {
		t.Fatalf("get after update failed: %v", err)
	}
	if updated.Access.IsAllowed("v1") || updated.HasVoted("v1") {
		t.Fatalf("expected removed rows to be rewritten")
	}
	if !updated.Closed || updated.ClosedAt == nil || !updated.ClosedAt.Equal(closedAt) {
		t.Fatalf("expected closed state persisted, got %+v", updated)
	}

	if _, err := store.GetSession(ctx, 42); !errors.Is(err, domainerrors.ErrSessionNotFound) {
		t.Fatalf("expected session not found, got %v", err)
	}
	sessions, err := store.ListSessions(ctx)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(sessions) != 1 || sessions[0].SessionID != first {
		t.Fatalf("unexpected session list %+v", sessions)
	}
}

func TestOutboxLifecycle(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	occurred := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	session := entities.NewSession(1, "creator", "Color", []string{"Red", "Blue"}, false, occurred)

	for _, id := range []string{"evt-2", "evt-1"} {
		if err := store.SaveSession(ctx, session, ports.EventEnvelope{EventID: id, EventType: "voting.vote.cast", PartitionKey: "1", OccurredAt: occurred}); err != nil {
			t.Fatalf("save with %s failed: %v", id, err)
		}
	}
	if err := store.SaveSession(ctx, session, ports.EventEnvelope{EventID: "evt-2", EventType: "voting.vote.cast", PartitionKey: "1", OccurredAt: occurred}); err != nil {
		t.Fatalf("identical replay should be accepted: %v", err)
	}
	if err := store.SaveSession(ctx, session, ports.EventEnvelope{EventID: "evt-2", EventType: "voting.session.closed", PartitionKey: "1", OccurredAt: occurred}); !errors.Is(err, domainerrors.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}

	pending, err := store.ListPendingOutbox(ctx, 10)
	if err != nil {
		t.Fatalf("list pending failed: %v", err)
	}
	if len(pending) != 2 || pending[0].OutboxID != "evt-2" || pending[0].PartitionKey != "1" {
		t.Fatalf("expected insertion order, got %+v", pending)
	}
	if err := store.MarkOutboxPublished(ctx, "evt-2", occurred); err != nil {
		t.Fatalf("mark published failed: %v", err)
	}
	if err := store.MarkOutboxPublished(ctx, "nope", occurred); !errors.Is(err, domainerrors.ErrConflict) {
		t.Fatalf("expected conflict for missing row, got %v", err)
	}
	pending, _ = store.ListPendingOutbox(ctx, 10)
	if len(pending) != 1 || pending[0].OutboxID != "evt-1" {
		t.Fatalf("expected only evt-1 pending, got %+v", pending)
	}
}

func TestSaveSessionRollsBackOnEventConflict(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	occurred := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	session := entities.NewSession(1, "creator", "Color", []string{"Red", "Blue"}, false, occurred)
	session.Access.Add("v1")
	if err := store.SaveSession(ctx, session, ports.EventEnvelope{EventID: "evt-1", EventType: "voting.session.created", PartitionKey: "1", OccurredAt: occurred}); err != nil {
		t.Fatalf("initial save failed: %v", err)
	}

	voted := session.Clone()
	voted.Votes["v1"] = 0
	err := store.SaveSession(ctx, voted, ports.EventEnvelope{EventID: "evt-1", EventType: "voting.vote.cast", PartitionKey: "1", OccurredAt: occurred})
	if !errors.Is(err, domainerrors.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}

	loaded, err := store.GetSession(ctx, 1)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if loaded.HasVoted("v1") || !loaded.Access.IsAllowed("v1") {
		t.Fatalf("rejected save must roll back the session rows, got votes %v", loaded.Votes)
	}
	pending, _ := store.ListPendingOutbox(ctx, 10)
	if len(pending) != 1 || pending[0].EventType != "voting.session.created" {
		t.Fatalf("expected only the original event, got %+v", pending)
	}
}

func TestFinalTallyUpsert(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if _, err := store.GetFinalTally(ctx, 1); !errors.Is(err, domainerrors.ErrResultsNotFinalized) {
		t.Fatalf("expected not finalized, got %v", err)
	}
	tally := entities.Tally{SessionID: 1, Options: []string{"Red", "Blue"}, Counts: map[int]int{0: 0, 1: 2}, Abstentions: 1, Eligible: 3, Closed: true}
	if err := store.SaveFinalTally(ctx, tally, time.Now()); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	tally.Counts[0] = 1
	if err := store.SaveFinalTally(ctx, tally, time.Now()); err != nil {
		t.Fatalf("overwrite failed: %v", err)
	}
	loaded, err := store.GetFinalTally(ctx, 1)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if loaded.Counts[0] != 1 || loaded.Counts[1] != 2 || loaded.Abstentions != 1 || loaded.Eligible != 3 {
		t.Fatalf("unexpected archived tally %+v", loaded)
	}
}
