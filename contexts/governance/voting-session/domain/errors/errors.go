package errors

import "errors"

var (
	ErrSessionNotFound       = errors.New("voting session not found")
	ErrInvalidOptions        = errors.New("voting options must be at least two distinct non-empty values")
	ErrInvalidTitle          = errors.New("voting session title is required")
	ErrUnauthorized          = errors.New("caller is not authorized for this operation")
	ErrSessionClosed         = errors.New("voting session is closed")
	ErrAlreadyClosed         = errors.New("voting session is already closed")
	ErrAlreadyVoted          = errors.New("voter has already cast a direct vote")
	ErrAlreadyDelegated      = errors.New("voter has an active delegation")
	ErrInvalidOption         = errors.New("option index is out of range")
	ErrInvalidDelegate       = errors.New("delegate is not an allowed voter or is the delegator")
	ErrDelegationCycle       = errors.New("delegation would create a cycle")
	ErrAlreadyAllowed        = errors.New("voter is already allowed")
	ErrVoterNotFound         = errors.New("voter is not in the allowed list")
	ErrCannotRemoveCreator   = errors.New("session creator cannot be removed")
	ErrNoActiveDelegation    = errors.New("voter has no active delegation")
	ErrInvalidIdentity       = errors.New("identity is required")
	ErrInternalInconsistency = errors.New("voting session state is inconsistent")
	ErrResultsNotFinalized   = errors.New("final results are not archived for this session")
	ErrConflict              = errors.New("conflicting record for the same key")
)
