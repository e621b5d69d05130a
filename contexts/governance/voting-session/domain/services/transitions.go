package services

import (
	"strings"
	"time"

	"ballotbox/contexts/governance/voting-session/domain/entities"
	domainerrors "ballotbox/contexts/governance/voting-session/domain/errors"
)

// Every transition validates fully before its first write, so a returned
// error leaves the session untouched.

// NormalizeSessionInput trims and validates the creation parameters.
func NormalizeSessionInput(title string, options []string) (string, []string, error) {
	if len(options) < 2 {
		return "", nil, domainerrors.ErrInvalidOptions
	}
	normalized := make([]string, 0, len(options))
	seen := make(map[string]struct{}, len(options))
	for _, option := range options {
		option = strings.TrimSpace(option)
		if option == "" {
			return "", nil, domainerrors.ErrInvalidOptions
		}
		if _, dup := seen[option]; dup {
			return "", nil, domainerrors.ErrInvalidOptions
		}
		seen[option] = struct{}{}
		normalized = append(normalized, option)
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return "", nil, domainerrors.ErrInvalidTitle
	}
	return title, normalized, nil
}

func AddAllowedVoter(session *entities.Session, requester entities.Identity, voter entities.Identity, now time.Time) error {
	if !IsCreator(*session, requester) {
		return domainerrors.ErrUnauthorized
	}
	if session.Closed {
		return domainerrors.ErrSessionClosed
	}
	if voter.IsZero() {
		return domainerrors.ErrInvalidIdentity
	}
	if !session.Access.Add(voter) {
		return domainerrors.ErrAlreadyAllowed
	}
	touch(session, now)
	return nil
}

// RemovalEffect describes what a voter removal retracted.
type RemovalEffect struct {
	RetractedVote       bool
	RetractedDelegation bool
	// OrphanedDelegators still point at the removed voter and now abstain.
	OrphanedDelegators []entities.Identity
}

func RemoveAllowedVoter(
	session *entities.Session,
	requester entities.Identity,
	voter entities.Identity,
	now time.Time,
) (RemovalEffect, error) {
	if !IsCreator(*session, requester) {
		return RemovalEffect{}, domainerrors.ErrUnauthorized
	}
	if session.Closed {
		return RemovalEffect{}, domainerrors.ErrSessionClosed
	}
	if voter.IsZero() {
		return RemovalEffect{}, domainerrors.ErrInvalidIdentity
	}
	if voter == session.Creator() {
		return RemovalEffect{}, domainerrors.ErrCannotRemoveCreator
	}
	if !session.Access.IsAllowed(voter) {
		return RemovalEffect{}, domainerrors.ErrVoterNotFound
	}

	effect := RemovalEffect{
		RetractedVote:       session.HasVoted(voter),
		RetractedDelegation: session.HasDelegated(voter),
		OrphanedDelegators:  session.Delegations.PointingAt(voter),
	}
	session.Access.Remove(voter)
	delete(session.Votes, voter)
	delete(session.Delegations, voter)
	touch(session, now)
	return effect, nil
}

func CastVote(session *entities.Session, voter entities.Identity, optionIndex int, now time.Time) error {
	if session.Closed {
		return domainerrors.ErrSessionClosed
	}
	if !IsAllowedVoter(*session, voter) {
		return domainerrors.ErrUnauthorized
	}
	if optionIndex < 0 || optionIndex >= len(session.Options) {
		return domainerrors.ErrInvalidOption
	}
	if session.HasVoted(voter) {
		return domainerrors.ErrAlreadyVoted
	}
	if session.HasDelegated(voter) {
		return domainerrors.ErrAlreadyDelegated
	}
	if session.Votes == nil {
		session.Votes = make(map[entities.Identity]int)
	}
	session.Votes[voter] = optionIndex
	touch(session, now)
	return nil
}

// DelegateVote points delegator at delegate, replacing any earlier delegate.
// It returns the replaced delegate, if there was one.
func DelegateVote(
	session *entities.Session,
	delegator entities.Identity,
	delegate entities.Identity,
	now time.Time,
) (entities.Identity, bool, error) {
	if session.Closed {
		return "", false, domainerrors.ErrSessionClosed
	}
	if !IsAllowedVoter(*session, delegator) {
		return "", false, domainerrors.ErrUnauthorized
	}
	if delegate == delegator || !IsAllowedVoter(*session, delegate) {
		return "", false, domainerrors.ErrInvalidDelegate
	}
	if session.HasVoted(delegator) {
		return "", false, domainerrors.ErrAlreadyVoted
	}
	cycle, err := session.Delegations.WouldCycle(delegator, delegate)
	if err != nil {
		return "", false, err
	}
	if cycle {
		return "", false, domainerrors.ErrDelegationCycle
	}

	previous, replaced := session.Delegations.DelegateOf(delegator)
	if session.Delegations == nil {
		session.Delegations = make(entities.DelegationGraph)
	}
	session.Delegations[delegator] = delegate
	touch(session, now)
	return previous, replaced, nil
}

// RevokeDelegation clears the delegator's edge so it may vote directly or
// delegate elsewhere. It returns the delegate that was released.
func RevokeDelegation(session *entities.Session, delegator entities.Identity, now time.Time) (entities.Identity, error) {
	if session.Closed {
		return "", domainerrors.ErrSessionClosed
	}
	if !IsAllowedVoter(*session, delegator) {
		return "", domainerrors.ErrUnauthorized
	}
	delegate, ok := session.Delegations.DelegateOf(delegator)
	if !ok {
		return "", domainerrors.ErrNoActiveDelegation
	}
	delete(session.Delegations, delegator)
	touch(session, now)
	return delegate, nil
}

func CloseSession(session *entities.Session, requester entities.Identity, now time.Time) error {
	if !IsCreator(*session, requester) {
		return domainerrors.ErrUnauthorized
	}
	if session.Closed {
		return domainerrors.ErrAlreadyClosed
	}
	closedAt := now.UTC()
	session.Closed = true
	session.ClosedAt = &closedAt
	touch(session, now)
	return nil
}

func touch(session *entities.Session, now time.Time) {
	session.UpdatedAt = now.UTC()
}
