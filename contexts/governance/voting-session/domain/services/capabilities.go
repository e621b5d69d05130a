package services

import "ballotbox/contexts/governance/voting-session/domain/entities"

// IsCreator grants creator-only operations: managing voters and closing.
func IsCreator(session entities.Session, caller entities.Identity) bool {
	return !caller.IsZero() && caller == session.Creator()
}

// IsAllowedVoter grants voting and delegating.
func IsAllowedVoter(session entities.Session, caller entities.Identity) bool {
	return !caller.IsZero() && session.Access.IsAllowed(caller)
}

// CanReadResults applies the session visibility policy.
func CanReadResults(session entities.Session, caller entities.Identity) bool {
	if session.ResultsPublic {
		return true
	}
	return IsCreator(session, caller) || IsAllowedVoter(session, caller)
}
