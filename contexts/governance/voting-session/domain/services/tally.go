package services

import (
	"fmt"

	"ballotbox/contexts/governance/voting-session/domain/entities"
	domainerrors "ballotbox/contexts/governance/voting-session/domain/errors"
)

// Resolution is the effective outcome of one allowed voter.
type Resolution struct {
	Voter       entities.Identity
	OptionIndex int
	Abstained   bool
	// ResolvedBy is the identity whose direct vote was used; equal to Voter
	// for direct votes and empty on abstention.
	ResolvedBy entities.Identity
}

// ComputeTally counts every allowed voter's effective vote. It reads only the
// given session and never caches.
func ComputeTally(session entities.Session) (entities.Tally, error) {
	tally := entities.Tally{
		SessionID: session.SessionID,
		Options:   append([]string(nil), session.Options...),
		Counts:    make(map[int]int, len(session.Options)),
		Eligible:  session.Access.Len(),
		Closed:    session.Closed,
	}
	for index := range session.Options {
		tally.Counts[index] = 0
	}

	for _, voter := range session.Access.Members() {
		resolution, err := ResolveEffectiveVote(session, voter)
		if err != nil {
			return entities.Tally{}, err
		}
		if resolution.Abstained {
			tally.Abstentions++
			continue
		}
		tally.Counts[resolution.OptionIndex]++
	}
	return tally, nil
}

// ResolveEffectiveVote follows voter's delegation chain to the first direct
// vote. A chain that dead-ends, or reaches an identity that is no longer
// allowed, abstains. Revisiting an identity or walking past the allowed-voter
// bound is a broken invariant and fails with ErrInternalInconsistency.
func ResolveEffectiveVote(session entities.Session, voter entities.Identity) (Resolution, error) {
	bound := session.Access.Len()
	visited := make(map[entities.Identity]struct{}, 4)
	current := voter

	for steps := 0; steps <= bound; steps++ {
		if _, seen := visited[current]; seen {
			return Resolution{}, fmt.Errorf("%w: delegation cycle through %s in session %d",
				domainerrors.ErrInternalInconsistency, current, session.SessionID)
		}
		visited[current] = struct{}{}

		if !session.Access.IsAllowed(current) {
			return Resolution{Voter: voter, Abstained: true}, nil
		}
		if option, ok := session.Votes[current]; ok {
			if option < 0 || option >= len(session.Options) {
				return Resolution{}, fmt.Errorf("%w: vote by %s references option %d of %d in session %d",
					domainerrors.ErrInternalInconsistency, current, option, len(session.Options), session.SessionID)
			}
			return Resolution{Voter: voter, OptionIndex: option, ResolvedBy: current}, nil
		}
		next, ok := session.Delegations.DelegateOf(current)
		if !ok {
			return Resolution{Voter: voter, Abstained: true}, nil
		}
		current = next
	}
	return Resolution{}, fmt.Errorf("%w: delegation chain from %s exceeds %d voters in session %d",
		domainerrors.ErrInternalInconsistency, voter, bound, session.SessionID)
}
