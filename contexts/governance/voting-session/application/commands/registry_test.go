package commands

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"ballotbox/contexts/governance/voting-session/adapters/memory"
	"ballotbox/contexts/governance/voting-session/domain/entities"
	domainerrors "ballotbox/contexts/governance/voting-session/domain/errors"
	"ballotbox/contexts/governance/voting-session/domain/services"
	"ballotbox/contexts/governance/voting-session/ports"
)

type fixedClock struct {
	now time.Time
}

func (c fixedClock) Now() time.Time {
	return c.now
}

func newRegistry(store *memory.Store) SessionRegistry {
	return SessionRegistry{
		Sessions: store,
		Clock:    fixedClock{now: time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)},
		IDGen:    store,
		Locks:    NewSessionLocks(),
	}
}

func createColor(t *testing.T, registry SessionRegistry) entities.Session {
	t.Helper()
	session, err := registry.CreateSession(context.Background(), CreateSessionCommand{
		Creator: "creator",
		Title:   "Color",
		Options: []string{"Red", "Blue"},
	})
	if err != nil {
		t.Fatalf("create session failed: %v", err)
	}
	return session
}

func TestCreateSessionAllocatesSequentialIDs(t *testing.T) {
	registry := newRegistry(memory.NewStore(nil))

	first := createColor(t, registry)
	second := createColor(t, registry)
	if first.SessionID != 1 || second.SessionID != 2 {
		t.Fatalf("expected ids 1 and 2, got %d and %d", first.SessionID, second.SessionID)
	}
	if !first.Access.IsAllowed("creator") {
		t.Fatalf("expected creator in allowed list")
	}

	stored, err := registry.GetSession(context.Background(), first.SessionID)
	if err != nil {
		t.Fatalf("get session failed: %v", err)
	}
	if stored.Title != "Color" || len(stored.Options) != 2 {
		t.Fatalf("unexpected stored session %+v", stored)
	}
}

func TestCreateSessionValidation(t *testing.T) {
	store := memory.NewStore(nil)
	registry := newRegistry(store)

	_, err := registry.CreateSession(context.Background(), CreateSessionCommand{
		Creator: "creator",
		Title:   "Color",
		Options: []string{"Red"},
	})
	if !errors.Is(err, domainerrors.ErrInvalidOptions) {
		t.Fatalf("expected invalid options, got %v", err)
	}
	_, err = registry.CreateSession(context.Background(), CreateSessionCommand{
		Title:   "Color",
		Options: []string{"Red", "Blue"},
	})
	if !errors.Is(err, domainerrors.ErrUnauthorized) {
		t.Fatalf("expected unauthorized for anonymous creator, got %v", err)
	}

	sessions, err := store.ListSessions(context.Background())
	if err != nil {
		t.Fatalf("list sessions failed: %v", err)
	}
	if len(sessions) != 0 {
		t.Fatalf("rejected creates must not persist, got %d sessions", len(sessions))
	}
}

func TestUnknownSessionIsNotFound(t *testing.T) {
	registry := newRegistry(memory.NewStore(nil))
	err := registry.Vote(context.Background(), VoteCommand{SessionID: 99, Voter: "creator"})
	if !errors.Is(err, domainerrors.ErrSessionNotFound) {
		t.Fatalf("expected session not found, got %v", err)
	}
	if _, err := registry.GetSession(context.Background(), 99); !errors.Is(err, domainerrors.ErrSessionNotFound) {
		t.Fatalf("expected session not found, got %v", err)
	}
}

func TestRegistryFlowAppendsEventsInOrder(t *testing.T) {
	store := memory.NewStore(nil)
	registry := newRegistry(store)
	ctx := context.Background()
	session := createColor(t, registry)

	for _, voter := range []entities.Identity{"v1", "v2"} {
		if err := registry.AddAllowedVoter(ctx, VoterCommand{SessionID: session.SessionID, Requester: "creator", Voter: voter}); err != nil {
			t.Fatalf("add voter %s failed: %v", voter, err)
		}
	}
	if err := registry.Vote(ctx, VoteCommand{SessionID: session.SessionID, Voter: "v1", OptionIndex: 1}); err != nil {
		t.Fatalf("vote failed: %v", err)
	}
	if err := registry.DelegateVote(ctx, DelegateVoteCommand{SessionID: session.SessionID, Delegator: "v2", Delegate: "v1"}); err != nil {
		t.Fatalf("delegate failed: %v", err)
	}
	closed, err := registry.CloseVote(ctx, CloseVoteCommand{SessionID: session.SessionID, Requester: "creator"})
	if err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if !closed.Closed {
		t.Fatalf("expected returned session to be closed")
	}

	pending, err := store.ListPendingOutbox(ctx, 100)
	if err != nil {
		t.Fatalf("list outbox failed: %v", err)
	}
	want := []string{
		EventSessionCreated,
		EventVoterAdded,
		EventVoterAdded,
		EventVoteCast,
		EventVoteDelegated,
		EventSessionClosed,
	}
	if len(pending) != len(want) {
		t.Fatalf("expected %d outbox rows, got %d", len(want), len(pending))
	}
	for i, row := range pending {
		if row.EventType != want[i] {
			t.Fatalf("row %d: expected %s, got %s", i, want[i], row.EventType)
		}
		if row.PartitionKey != "1" {
			t.Fatalf("row %d: expected partition key 1, got %q", i, row.PartitionKey)
		}
	}

	var envelope ports.EventEnvelope
	if err := json.Unmarshal(pending[4].Payload, &envelope); err != nil {
		t.Fatalf("decode envelope failed: %v", err)
	}
	var data map[string]any
	if err := json.Unmarshal(envelope.Data, &data); err != nil {
		t.Fatalf("decode data failed: %v", err)
	}
	if data["delegator_id"] != "v2" || data["delegate_id"] != "v1" {
		t.Fatalf("unexpected delegation payload %v", data)
	}
	if data["session_id"] != float64(1) {
		t.Fatalf("expected session_id in payload, got %v", data["session_id"])
	}

	tally, err := services.ComputeTally(closed)
	if err != nil {
		t.Fatalf("tally failed: %v", err)
	}
	if tally.Counts[0] != 0 || tally.Counts[1] != 2 {
		t.Fatalf("expected {0:0 1:2}, got %v", tally.Counts)
	}
	if err := registry.Vote(ctx, VoteCommand{SessionID: session.SessionID, Voter: "v2", OptionIndex: 0}); !errors.Is(err, domainerrors.ErrSessionClosed) {
		t.Fatalf("expected session closed, got %v", err)
	}
}

func TestRejectedOperationLeavesNoTrace(t *testing.T) {
	store := memory.NewStore(nil)
	registry := newRegistry(store)
	ctx := context.Background()
	session := createColor(t, registry)
	if err := registry.AddAllowedVoter(ctx, VoterCommand{SessionID: session.SessionID, Requester: "creator", Voter: "a"}); err != nil {
		t.Fatalf("add voter failed: %v", err)
	}
	if err := registry.DelegateVote(ctx, DelegateVoteCommand{SessionID: session.SessionID, Delegator: "a", Delegate: "creator"}); err != nil {
		t.Fatalf("delegate failed: %v", err)
	}
	before, err := store.GetSession(ctx, session.SessionID)
	if err != nil {
		t.Fatalf("get session failed: %v", err)
	}
	pendingBefore, _ := store.ListPendingOutbox(ctx, 100)

	err = registry.DelegateVote(ctx, DelegateVoteCommand{SessionID: session.SessionID, Delegator: "creator", Delegate: "a"})
	if !errors.Is(err, domainerrors.ErrDelegationCycle) {
		t.Fatalf("expected delegation cycle, got %v", err)
	}
	err = registry.AddAllowedVoter(ctx, VoterCommand{SessionID: session.SessionID, Requester: "a", Voter: "b"})
	if !errors.Is(err, domainerrors.ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}

	after, err := store.GetSession(ctx, session.SessionID)
	if err != nil {
		t.Fatalf("get session failed: %v", err)
	}
	if after.HasDelegated("creator") || after.Access.IsAllowed("b") || !after.UpdatedAt.Equal(before.UpdatedAt) {
		t.Fatalf("rejected operations must not persist changes")
	}
	pendingAfter, _ := store.ListPendingOutbox(ctx, 100)
	if len(pendingAfter) != len(pendingBefore) {
		t.Fatalf("rejected operations must not append events")
	}
}

type repeatingIDs struct {
	id string
}

func (g repeatingIDs) NewID(context.Context) (string, error) {
	return g.id, nil
}

func TestFailedEventWriteLeavesSessionUnchanged(t *testing.T) {
	store := memory.NewStore(nil)
	registry := newRegistry(store)
	registry.IDGen = repeatingIDs{id: "evt-fixed"}
	ctx := context.Background()
	session := createColor(t, registry)

	err := registry.Vote(ctx, VoteCommand{SessionID: session.SessionID, Voter: "creator", OptionIndex: 0})
	if !errors.Is(err, domainerrors.ErrConflict) {
		t.Fatalf("expected outbox conflict, got %v", err)
	}
	stored, err := store.GetSession(ctx, session.SessionID)
	if err != nil {
		t.Fatalf("get session failed: %v", err)
	}
	if stored.HasVoted("creator") {
		t.Fatalf("failed operation must not persist the vote")
	}

	registry.IDGen = store
	if err := registry.Vote(ctx, VoteCommand{SessionID: session.SessionID, Voter: "creator", OptionIndex: 0}); err != nil {
		t.Fatalf("retry after failed event write should succeed, got %v", err)
	}
	pending, err := store.ListPendingOutbox(ctx, 10)
	if err != nil {
		t.Fatalf("list outbox failed: %v", err)
	}
	if len(pending) != 2 || pending[0].EventType != EventSessionCreated || pending[1].EventType != EventVoteCast {
		t.Fatalf("expected created then vote cast, got %+v", pending)
	}
}

func TestRemoveAllowedVoterReportsCascade(t *testing.T) {
	registry := newRegistry(memory.NewStore(nil))
	ctx := context.Background()
	session := createColor(t, registry)
	for _, voter := range []entities.Identity{"a", "b"} {
		if err := registry.AddAllowedVoter(ctx, VoterCommand{SessionID: session.SessionID, Requester: "creator", Voter: voter}); err != nil {
			t.Fatalf("add voter %s failed: %v", voter, err)
		}
	}
	if err := registry.Vote(ctx, VoteCommand{SessionID: session.SessionID, Voter: "a", OptionIndex: 0}); err != nil {
		t.Fatalf("vote failed: %v", err)
	}
	if err := registry.DelegateVote(ctx, DelegateVoteCommand{SessionID: session.SessionID, Delegator: "b", Delegate: "a"}); err != nil {
		t.Fatalf("delegate failed: %v", err)
	}

	effect, err := registry.RemoveAllowedVoter(ctx, VoterCommand{SessionID: session.SessionID, Requester: "creator", Voter: "a"})
	if err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	if !effect.RetractedVote || len(effect.OrphanedDelegators) != 1 || effect.OrphanedDelegators[0] != "b" {
		t.Fatalf("unexpected removal effect %+v", effect)
	}

	stored, err := registry.GetSession(ctx, session.SessionID)
	if err != nil {
		t.Fatalf("get session failed: %v", err)
	}
	tally, err := services.ComputeTally(stored)
	if err != nil {
		t.Fatalf("tally failed: %v", err)
	}
	if tally.Total() != 0 {
		t.Fatalf("expected empty tally after cascade, got %v", tally.Counts)
	}

	if err := registry.RevokeDelegation(ctx, RevokeDelegationCommand{SessionID: session.SessionID, Delegator: "b"}); err != nil {
		t.Fatalf("revoke orphaned delegation failed: %v", err)
	}
	if err := registry.Vote(ctx, VoteCommand{SessionID: session.SessionID, Voter: "b", OptionIndex: 1}); err != nil {
		t.Fatalf("vote after revoke failed: %v", err)
	}
}

func TestConcurrentVotesOnOneSession(t *testing.T) {
	registry := newRegistry(memory.NewStore(nil))
	ctx := context.Background()
	session := createColor(t, registry)

	voters := []entities.Identity{"a", "b", "c", "d", "e", "f", "g", "h"}
	for _, voter := range voters {
		if err := registry.AddAllowedVoter(ctx, VoterCommand{SessionID: session.SessionID, Requester: "creator", Voter: voter}); err != nil {
			t.Fatalf("add voter %s failed: %v", voter, err)
		}
	}

	var wg sync.WaitGroup
	errs := make(chan error, len(voters))
	for i, voter := range voters {
		wg.Add(1)
		go func(voter entities.Identity, option int) {
			defer wg.Done()
			errs <- registry.Vote(ctx, VoteCommand{SessionID: session.SessionID, Voter: voter, OptionIndex: option})
		}(voter, i%2)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent vote failed: %v", err)
		}
	}

	stored, err := registry.GetSession(ctx, session.SessionID)
	if err != nil {
		t.Fatalf("get session failed: %v", err)
	}
	if len(stored.Votes) != len(voters) {
		t.Fatalf("expected %d votes, got %d", len(voters), len(stored.Votes))
	}
}
