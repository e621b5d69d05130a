package services

import (
	"errors"
	"testing"
	"time"

	"ballotbox/contexts/governance/voting-session/domain/entities"
	domainerrors "ballotbox/contexts/governance/voting-session/domain/errors"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newColorSession(t *testing.T, voters ...entities.Identity) entities.Session {
	t.Helper()
	title, options, err := NormalizeSessionInput("Color", []string{"Red", "Blue"})
	if err != nil {
		t.Fatalf("normalize failed: %v", err)
	}
	session := entities.NewSession(1, "creator", title, options, false, testNow)
	for _, voter := range voters {
		if err := AddAllowedVoter(&session, "creator", voter, testNow); err != nil {
			t.Fatalf("add voter %s failed: %v", voter, err)
		}
	}
	return session
}

func TestNormalizeSessionInput(t *testing.T) {
	cases := []struct {
		name    string
		title   string
		options []string
		wantErr error
	}{
		{name: "valid", title: " Color ", options: []string{" Red ", "Blue"}},
		{name: "single option", title: "Color", options: []string{"Red"}, wantErr: domainerrors.ErrInvalidOptions},
		{name: "blank option", title: "Color", options: []string{"Red", "  "}, wantErr: domainerrors.ErrInvalidOptions},
		{name: "duplicate after trim", title: "Color", options: []string{"Red", " Red"}, wantErr: domainerrors.ErrInvalidOptions},
		{name: "blank title", title: "  ", options: []string{"Red", "Blue"}, wantErr: domainerrors.ErrInvalidTitle},
		{name: "options checked before title", title: "", options: nil, wantErr: domainerrors.ErrInvalidOptions},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			title, options, err := NormalizeSessionInput(tc.title, tc.options)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("expected %v, got %v", tc.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("normalize failed: %v", err)
			}
			if title != "Color" || options[0] != "Red" || options[1] != "Blue" {
				t.Fatalf("unexpected normalized input %q %v", title, options)
			}
		})
	}
}

func TestColorScenario(t *testing.T) {
	session := newColorSession(t, "v1", "v2")

	if err := CastVote(&session, "v1", 1, testNow); err != nil {
		t.Fatalf("v1 vote failed: %v", err)
	}
	if _, _, err := DelegateVote(&session, "v2", "v1", testNow); err != nil {
		t.Fatalf("v2 delegate failed: %v", err)
	}

	tally, err := ComputeTally(session)
	if err != nil {
		t.Fatalf("compute tally failed: %v", err)
	}
	if tally.Counts[0] != 0 || tally.Counts[1] != 2 {
		t.Fatalf("expected {0:0 1:2}, got %v", tally.Counts)
	}
	if tally.Abstentions != 1 || tally.Eligible != 3 {
		t.Fatalf("expected creator to abstain, got abstentions=%d eligible=%d", tally.Abstentions, tally.Eligible)
	}

	if err := CloseSession(&session, "creator", testNow); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if err := CastVote(&session, "v2", 0, testNow); !errors.Is(err, domainerrors.ErrSessionClosed) {
		t.Fatalf("expected session closed, got %v", err)
	}
	if err := CloseSession(&session, "creator", testNow); !errors.Is(err, domainerrors.ErrAlreadyClosed) {
		t.Fatalf("expected already closed, got %v", err)
	}
	if session.ClosedAt == nil || !session.ClosedAt.Equal(testNow) {
		t.Fatalf("expected closed_at to be stamped")
	}
}

func TestCastVoteRejections(t *testing.T) {
	session := newColorSession(t, "v1", "v2")
	if _, _, err := DelegateVote(&session, "v2", "v1", testNow); err != nil {
		t.Fatalf("delegate failed: %v", err)
	}

	cases := []struct {
		name   string
		voter  entities.Identity
		option int
		want   error
	}{
		{name: "outsider", voter: "stranger", option: 0, want: domainerrors.ErrUnauthorized},
		{name: "empty caller", voter: "", option: 0, want: domainerrors.ErrUnauthorized},
		{name: "negative option", voter: "v1", option: -1, want: domainerrors.ErrInvalidOption},
		{name: "option past end", voter: "v1", option: 2, want: domainerrors.ErrInvalidOption},
		{name: "delegated voter", voter: "v2", option: 0, want: domainerrors.ErrAlreadyDelegated},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			before := session.Clone()
			err := CastVote(&session, tc.voter, tc.option, testNow.Add(time.Minute))
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			if len(session.Votes) != len(before.Votes) || !session.UpdatedAt.Equal(before.UpdatedAt) {
				t.Fatalf("rejected vote must not change the session")
			}
		})
	}

	if err := CastVote(&session, "v1", 0, testNow); err != nil {
		t.Fatalf("vote failed: %v", err)
	}
	if err := CastVote(&session, "v1", 1, testNow); !errors.Is(err, domainerrors.ErrAlreadyVoted) {
		t.Fatalf("expected already voted, got %v", err)
	}
}

func TestDelegateVoteRejectsCycleAndInvalidDelegate(t *testing.T) {
	session := newColorSession(t, "a", "b", "c")

	if _, _, err := DelegateVote(&session, "a", "a", testNow); !errors.Is(err, domainerrors.ErrInvalidDelegate) {
		t.Fatalf("expected invalid delegate for self, got %v", err)
	}
	if _, _, err := DelegateVote(&session, "a", "stranger", testNow); !errors.Is(err, domainerrors.ErrInvalidDelegate) {
		t.Fatalf("expected invalid delegate for outsider, got %v", err)
	}
	if _, _, err := DelegateVote(&session, "stranger", "a", testNow); !errors.Is(err, domainerrors.ErrUnauthorized) {
		t.Fatalf("expected unauthorized delegator, got %v", err)
	}

	if _, _, err := DelegateVote(&session, "a", "b", testNow); err != nil {
		t.Fatalf("a -> b failed: %v", err)
	}
	if _, _, err := DelegateVote(&session, "b", "a", testNow); !errors.Is(err, domainerrors.ErrDelegationCycle) {
		t.Fatalf("expected cycle for b -> a, got %v", err)
	}
	if _, _, err := DelegateVote(&session, "b", "c", testNow); err != nil {
		t.Fatalf("b -> c failed: %v", err)
	}
	if _, _, err := DelegateVote(&session, "c", "a", testNow); !errors.Is(err, domainerrors.ErrDelegationCycle) {
		t.Fatalf("expected cycle for c -> a, got %v", err)
	}

	if err := CastVote(&session, "c", 1, testNow); err != nil {
		t.Fatalf("c vote failed: %v", err)
	}
	for _, voter := range []entities.Identity{"a", "b", "c"} {
		resolution, err := ResolveEffectiveVote(session, voter)
		if err != nil {
			t.Fatalf("resolve %s failed: %v", voter, err)
		}
		if resolution.Abstained || resolution.OptionIndex != 1 || resolution.ResolvedBy != "c" {
			t.Fatalf("expected %s to resolve to c's option 1, got %+v", voter, resolution)
		}
	}
	if _, _, err := DelegateVote(&session, "c", "creator", testNow); !errors.Is(err, domainerrors.ErrAlreadyVoted) {
		t.Fatalf("expected already voted for direct voter delegating, got %v", err)
	}
}

func TestRedelegationReplacesEdge(t *testing.T) {
	session := newColorSession(t, "a", "b", "c")
	if _, _, err := DelegateVote(&session, "a", "b", testNow); err != nil {
		t.Fatalf("first delegation failed: %v", err)
	}
	previous, replaced, err := DelegateVote(&session, "a", "c", testNow)
	if err != nil {
		t.Fatalf("redelegation failed: %v", err)
	}
	if !replaced || previous != "b" {
		t.Fatalf("expected b to be replaced, got %q %v", previous, replaced)
	}
	if delegate, _ := session.Delegations.DelegateOf("a"); delegate != "c" {
		t.Fatalf("expected a -> c, got %s", delegate)
	}
}

func TestRevokeDelegation(t *testing.T) {
	session := newColorSession(t, "a", "b")
	if _, err := RevokeDelegation(&session, "a", testNow); !errors.Is(err, domainerrors.ErrNoActiveDelegation) {
		t.Fatalf("expected no active delegation, got %v", err)
	}
	if _, _, err := DelegateVote(&session, "a", "b", testNow); err != nil {
		t.Fatalf("delegate failed: %v", err)
	}
	released, err := RevokeDelegation(&session, "a", testNow)
	if err != nil {
		t.Fatalf("revoke failed: %v", err)
	}
	if released != "b" || session.HasDelegated("a") {
		t.Fatalf("expected delegation to b released")
	}
	if err := CastVote(&session, "a", 0, testNow); err != nil {
		t.Fatalf("direct vote after revoke failed: %v", err)
	}
}

func TestRemoveAllowedVoterCascade(t *testing.T) {
	session := newColorSession(t, "a", "b", "c")
	if err := CastVote(&session, "b", 0, testNow); err != nil {
		t.Fatalf("b vote failed: %v", err)
	}
	if _, _, err := DelegateVote(&session, "a", "b", testNow); err != nil {
		t.Fatalf("a -> b failed: %v", err)
	}
	if _, _, err := DelegateVote(&session, "c", "a", testNow); err != nil {
		t.Fatalf("c -> a failed: %v", err)
	}

	effect, err := RemoveAllowedVoter(&session, "creator", "a", testNow)
	if err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	if !effect.RetractedDelegation || effect.RetractedVote {
		t.Fatalf("unexpected removal effect %+v", effect)
	}
	if len(effect.OrphanedDelegators) != 1 || effect.OrphanedDelegators[0] != "c" {
		t.Fatalf("expected c orphaned, got %v", effect.OrphanedDelegators)
	}
	if session.Access.IsAllowed("a") || session.HasDelegated("a") {
		t.Fatalf("expected a's membership and delegation removed")
	}

	resolution, err := ResolveEffectiveVote(session, "c")
	if err != nil {
		t.Fatalf("resolve c failed: %v", err)
	}
	if !resolution.Abstained {
		t.Fatalf("expected orphaned delegator to abstain, got %+v", resolution)
	}

	effect, err = RemoveAllowedVoter(&session, "creator", "b", testNow)
	if err != nil {
		t.Fatalf("remove b failed: %v", err)
	}
	if !effect.RetractedVote {
		t.Fatalf("expected b's vote retracted")
	}
	tally, err := ComputeTally(session)
	if err != nil {
		t.Fatalf("tally failed: %v", err)
	}
	if tally.Total() != 0 {
		t.Fatalf("expected removed votes to leave the tally, got %v", tally.Counts)
	}
}

func TestRemoveAllowedVoterRejections(t *testing.T) {
	session := newColorSession(t, "a")
	if _, err := RemoveAllowedVoter(&session, "a", "a", testNow); !errors.Is(err, domainerrors.ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if _, err := RemoveAllowedVoter(&session, "creator", "creator", testNow); !errors.Is(err, domainerrors.ErrCannotRemoveCreator) {
		t.Fatalf("expected cannot remove creator, got %v", err)
	}
	if _, err := RemoveAllowedVoter(&session, "creator", "ghost", testNow); !errors.Is(err, domainerrors.ErrVoterNotFound) {
		t.Fatalf("expected voter not found, got %v", err)
	}
	if err := AddAllowedVoter(&session, "creator", "a", testNow); !errors.Is(err, domainerrors.ErrAlreadyAllowed) {
		t.Fatalf("expected already allowed, got %v", err)
	}
	if err := AddAllowedVoter(&session, "a", "b", testNow); !errors.Is(err, domainerrors.ErrUnauthorized) {
		t.Fatalf("expected unauthorized add, got %v", err)
	}
	if err := CloseSession(&session, "creator", testNow); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if err := AddAllowedVoter(&session, "creator", "b", testNow); !errors.Is(err, domainerrors.ErrSessionClosed) {
		t.Fatalf("expected session closed, got %v", err)
	}
}

func TestComputeTallyBoundedByAllowedVoters(t *testing.T) {
	session := newColorSession(t, "a", "b", "c", "d")
	steps := []func() error{
		func() error { return CastVote(&session, "a", 0, testNow) },
		func() error { return CastVote(&session, "creator", 1, testNow) },
		func() error { _, _, err := DelegateVote(&session, "b", "a", testNow); return err },
		func() error { _, _, err := DelegateVote(&session, "c", "d", testNow); return err },
	}
	for i, step := range steps {
		if err := step(); err != nil {
			t.Fatalf("step %d failed: %v", i, err)
		}
	}

	tally, err := ComputeTally(session)
	if err != nil {
		t.Fatalf("tally failed: %v", err)
	}
	if tally.Total() > session.Access.Len() {
		t.Fatalf("tally total %d exceeds allowed voters %d", tally.Total(), session.Access.Len())
	}
	if tally.Counts[0] != 2 || tally.Counts[1] != 1 {
		t.Fatalf("unexpected counts %v", tally.Counts)
	}
	if tally.Total()+tally.Abstentions != tally.Eligible {
		t.Fatalf("every allowed voter must count or abstain")
	}
}

func TestResolveEffectiveVoteReportsCorruption(t *testing.T) {
	session := newColorSession(t, "a", "b")
	session.Delegations["a"] = "b"
	session.Delegations["b"] = "a"
	if _, err := ComputeTally(session); !errors.Is(err, domainerrors.ErrInternalInconsistency) {
		t.Fatalf("expected internal inconsistency for stored loop, got %v", err)
	}

	session = newColorSession(t, "a")
	session.Votes["a"] = 5
	if _, err := ResolveEffectiveVote(session, "a"); !errors.Is(err, domainerrors.ErrInternalInconsistency) {
		t.Fatalf("expected internal inconsistency for out of range vote, got %v", err)
	}
}

func TestCanReadResults(t *testing.T) {
	session := newColorSession(t, "a")
	if CanReadResults(session, "stranger") {
		t.Fatalf("private results must hide from outsiders")
	}
	if !CanReadResults(session, "a") || !CanReadResults(session, "creator") {
		t.Fatalf("allowed voters and creator must read private results")
	}
	session.ResultsPublic = true
	if !CanReadResults(session, "") {
		t.Fatalf("public results must be readable by anyone")
	}
}
