package entities

import (
	"sort"
	"time"
)

// Session is one vote: fixed options, a creator, the access list, cast votes
// and delegations. Closed only ever moves from false to true.
type Session struct {
	SessionID     uint64
	Title         string
	Options       []string
	Access        AccessControlList
	Votes         map[Identity]int
	Delegations   DelegationGraph
	Closed        bool
	ResultsPublic bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
	ClosedAt      *time.Time
}

func NewSession(
	sessionID uint64,
	creator Identity,
	title string,
	options []string,
	resultsPublic bool,
	now time.Time,
) Session {
	return Session{
		SessionID:     sessionID,
		Title:         title,
		Options:       append([]string(nil), options...),
		Access:        NewAccessControlList(creator),
		Votes:         make(map[Identity]int),
		Delegations:   make(DelegationGraph),
		ResultsPublic: resultsPublic,
		CreatedAt:     now.UTC(),
		UpdatedAt:     now.UTC(),
	}
}

func (s Session) Creator() Identity {
	return s.Access.Creator
}

func (s Session) HasVoted(id Identity) bool {
	_, ok := s.Votes[id]
	return ok
}

func (s Session) HasDelegated(id Identity) bool {
	_, ok := s.Delegations[id]
	return ok
}

// Ballot is one direct vote.
type Ballot struct {
	Voter       Identity
	OptionIndex int
}

// Ballots returns direct votes ordered by voter.
func (s Session) Ballots() []Ballot {
	items := make([]Ballot, 0, len(s.Votes))
	for voter, option := range s.Votes {
		items = append(items, Ballot{Voter: voter, OptionIndex: option})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Voter < items[j].Voter })
	return items
}

// Clone deep-copies every map and slice so the copy can be mutated and
// discarded without touching the original.
func (s Session) Clone() Session {
	out := s
	out.Options = append([]string(nil), s.Options...)
	out.Access = s.Access.Clone()
	out.Votes = make(map[Identity]int, len(s.Votes))
	for voter, option := range s.Votes {
		out.Votes[voter] = option
	}
	out.Delegations = s.Delegations.Clone()
	if s.ClosedAt != nil {
		closedAt := *s.ClosedAt
		out.ClosedAt = &closedAt
	}
	return out
}

// Tally is a per-option count of effective votes at a point in time. Counts
// holds every option index, zero-filled.
type Tally struct {
	SessionID   uint64
	Options     []string
	Counts      map[int]int
	Abstentions int
	Eligible    int
	Closed      bool
}

func (t Tally) Total() int {
	total := 0
	for _, count := range t.Counts {
		total += count
	}
	return total
}

func (t Tally) Clone() Tally {
	out := t
	out.Options = append([]string(nil), t.Options...)
	out.Counts = make(map[int]int, len(t.Counts))
	for index, count := range t.Counts {
		out.Counts[index] = count
	}
	return out
}
