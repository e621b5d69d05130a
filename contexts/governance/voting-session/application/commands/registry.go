package commands

import (
	"context"
	"errors"
	"log/slog"
	"time"

	application "ballotbox/contexts/governance/voting-session/application"
	"ballotbox/contexts/governance/voting-session/domain/entities"
	domainerrors "ballotbox/contexts/governance/voting-session/domain/errors"
	"ballotbox/contexts/governance/voting-session/domain/services"
	"ballotbox/contexts/governance/voting-session/ports"
)

// CreateSessionCommand is the write-model input for session creation.
type CreateSessionCommand struct {
	Creator       entities.Identity
	Title         string
	Options       []string
	ResultsPublic bool
}

// VoterCommand addresses one voter of a session on behalf of the creator.
type VoterCommand struct {
	SessionID uint64
	Requester entities.Identity
	Voter     entities.Identity
}

type VoteCommand struct {
	SessionID   uint64
	Voter       entities.Identity
	OptionIndex int
}

type DelegateVoteCommand struct {
	SessionID uint64
	Delegator entities.Identity
	Delegate  entities.Identity
}

type RevokeDelegationCommand struct {
	SessionID uint64
	Delegator entities.Identity
}

type CloseVoteCommand struct {
	SessionID uint64
	Requester entities.Identity
}

// SessionRegistry owns the session collection: it allocates ids, locates
// sessions and routes each operation to the domain transition. Each
// operation runs load -> validate -> mutate -> save under the session lock
// and persists nothing on failure. The session and its outbox event are
// saved together.
type SessionRegistry struct {
	Sessions ports.SessionRepository
	Clock    ports.Clock
	IDGen    ports.IDGenerator
	Locks    *SessionLocks
	Logger   *slog.Logger
}

func (r SessionRegistry) CreateSession(ctx context.Context, cmd CreateSessionCommand) (entities.Session, error) {
	logger := application.ResolveLogger(r.Logger)
	logger.Info("session create processing started",
		"event", "voting_session_create_started",
		"module", application.ModuleName,
		"layer", "application",
		"creator_id", cmd.Creator.String(),
		"option_count", len(cmd.Options),
	)
	if cmd.Creator.IsZero() {
		return entities.Session{}, r.rejected(logger, "create_session", 0, cmd.Creator, domainerrors.ErrUnauthorized)
	}
	title, options, err := services.NormalizeSessionInput(cmd.Title, cmd.Options)
	if err != nil {
		return entities.Session{}, r.rejected(logger, "create_session", 0, cmd.Creator, err)
	}

	sessionID, err := r.Sessions.NextSessionID(ctx)
	if err != nil {
		logger.Error("session id allocation failed",
			"event", "voting_session_id_allocation_failed",
			"module", application.ModuleName,
			"layer", "application",
			"creator_id", cmd.Creator.String(),
			"error", err.Error(),
		)
		return entities.Session{}, err
	}
	now := r.now()
	session := entities.NewSession(sessionID, cmd.Creator, title, options, cmd.ResultsPublic, now)
	events, err := r.buildEvents(ctx, EventSessionCreated, session.SessionID, now, map[string]any{
		"creator_id":     session.Creator().String(),
		"title":          session.Title,
		"options":        session.Options,
		"results_public": session.ResultsPublic,
	})
	if err != nil {
		return entities.Session{}, err
	}
	if err := r.Sessions.SaveSession(ctx, session, events...); err != nil {
		logger.Error("session save failed",
			"event", "voting_session_save_failed",
			"module", application.ModuleName,
			"layer", "application",
			"operation", "create_session",
			"session_id", session.SessionID,
			"error", err.Error(),
		)
		return entities.Session{}, err
	}

	logger.Info("session created",
		"event", "voting_session_created",
		"module", application.ModuleName,
		"layer", "application",
		"session_id", session.SessionID,
		"creator_id", session.Creator().String(),
		"results_public", session.ResultsPublic,
	)
	return session, nil
}

// GetSession performs the registry existence lookup.
func (r SessionRegistry) GetSession(ctx context.Context, sessionID uint64) (entities.Session, error) {
	return r.Sessions.GetSession(ctx, sessionID)
}

func (r SessionRegistry) AddAllowedVoter(ctx context.Context, cmd VoterCommand) error {
	_, err := r.mutate(ctx, "add_allowed_voter", cmd.SessionID, cmd.Requester,
		func(session *entities.Session, now time.Time) (string, map[string]any, error) {
			if err := services.AddAllowedVoter(session, cmd.Requester, cmd.Voter, now); err != nil {
				return "", nil, err
			}
			return EventVoterAdded, map[string]any{
				"voter_id":   cmd.Voter.String(),
				"added_by":   cmd.Requester.String(),
				"voter_size": session.Access.Len(),
			}, nil
		})
	return err
}

func (r SessionRegistry) RemoveAllowedVoter(ctx context.Context, cmd VoterCommand) (services.RemovalEffect, error) {
	var effect services.RemovalEffect
	_, err := r.mutate(ctx, "remove_allowed_voter", cmd.SessionID, cmd.Requester,
		func(session *entities.Session, now time.Time) (string, map[string]any, error) {
			var err error
			effect, err = services.RemoveAllowedVoter(session, cmd.Requester, cmd.Voter, now)
			if err != nil {
				return "", nil, err
			}
			orphaned := make([]string, 0, len(effect.OrphanedDelegators))
			for _, delegator := range effect.OrphanedDelegators {
				orphaned = append(orphaned, delegator.String())
			}
			return EventVoterRemoved, map[string]any{
				"voter_id":             cmd.Voter.String(),
				"removed_by":           cmd.Requester.String(),
				"retracted_vote":       effect.RetractedVote,
				"retracted_delegation": effect.RetractedDelegation,
				"orphaned_delegators":  orphaned,
			}, nil
		})
	if err != nil {
		return services.RemovalEffect{}, err
	}
	return effect, nil
}

func (r SessionRegistry) Vote(ctx context.Context, cmd VoteCommand) error {
	_, err := r.mutate(ctx, "vote", cmd.SessionID, cmd.Voter,
		func(session *entities.Session, now time.Time) (string, map[string]any, error) {
			if err := services.CastVote(session, cmd.Voter, cmd.OptionIndex, now); err != nil {
				return "", nil, err
			}
			return EventVoteCast, map[string]any{
				"voter_id":     cmd.Voter.String(),
				"option_index": cmd.OptionIndex,
			}, nil
		})
	return err
}

func (r SessionRegistry) DelegateVote(ctx context.Context, cmd DelegateVoteCommand) error {
	_, err := r.mutate(ctx, "delegate_vote", cmd.SessionID, cmd.Delegator,
		func(session *entities.Session, now time.Time) (string, map[string]any, error) {
			previous, replaced, err := services.DelegateVote(session, cmd.Delegator, cmd.Delegate, now)
			if err != nil {
				return "", nil, err
			}
			data := map[string]any{
				"delegator_id": cmd.Delegator.String(),
				"delegate_id":  cmd.Delegate.String(),
			}
			if replaced {
				data["replaced_delegate_id"] = previous.String()
			}
			return EventVoteDelegated, data, nil
		})
	return err
}

func (r SessionRegistry) RevokeDelegation(ctx context.Context, cmd RevokeDelegationCommand) error {
	_, err := r.mutate(ctx, "revoke_delegation", cmd.SessionID, cmd.Delegator,
		func(session *entities.Session, now time.Time) (string, map[string]any, error) {
			released, err := services.RevokeDelegation(session, cmd.Delegator, now)
			if err != nil {
				return "", nil, err
			}
			return EventDelegationRevoked, map[string]any{
				"delegator_id": cmd.Delegator.String(),
				"delegate_id":  released.String(),
			}, nil
		})
	return err
}

func (r SessionRegistry) CloseVote(ctx context.Context, cmd CloseVoteCommand) (entities.Session, error) {
	return r.mutate(ctx, "close_vote", cmd.SessionID, cmd.Requester,
		func(session *entities.Session, now time.Time) (string, map[string]any, error) {
			if err := services.CloseSession(session, cmd.Requester, now); err != nil {
				return "", nil, err
			}
			return EventSessionClosed, map[string]any{
				"closed_by": cmd.Requester.String(),
				"closed_at": now.UTC().Format(time.RFC3339),
			}, nil
		})
}

type transition func(session *entities.Session, now time.Time) (eventType string, data map[string]any, err error)

func (r SessionRegistry) mutate(
	ctx context.Context,
	operation string,
	sessionID uint64,
	caller entities.Identity,
	apply transition,
) (entities.Session, error) {
	logger := application.ResolveLogger(r.Logger)
	logger.Info("session operation processing started",
		"event", "voting_operation_started",
		"module", application.ModuleName,
		"layer", "application",
		"operation", operation,
		"session_id", sessionID,
		"caller_id", caller.String(),
	)

	unlock := r.Locks.Lock(sessionID)
	defer unlock()

	stored, err := r.Sessions.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, domainerrors.ErrSessionNotFound) {
			return entities.Session{}, r.rejected(logger, operation, sessionID, caller, err)
		}
		logger.Error("session load failed",
			"event", "voting_session_load_failed",
			"module", application.ModuleName,
			"layer", "application",
			"operation", operation,
			"session_id", sessionID,
			"error", err.Error(),
		)
		return entities.Session{}, err
	}

	session := stored.Clone()
	now := r.now()
	eventType, data, err := apply(&session, now)
	if err != nil {
		return entities.Session{}, r.rejected(logger, operation, sessionID, caller, err)
	}
	events, err := r.buildEvents(ctx, eventType, sessionID, now, data)
	if err != nil {
		return entities.Session{}, err
	}
	if err := r.Sessions.SaveSession(ctx, session, events...); err != nil {
		logger.Error("session save failed",
			"event", "voting_session_save_failed",
			"module", application.ModuleName,
			"layer", "application",
			"operation", operation,
			"session_id", sessionID,
			"error", err.Error(),
		)
		return entities.Session{}, err
	}

	logger.Info("session operation applied",
		"event", "voting_operation_applied",
		"module", application.ModuleName,
		"layer", "application",
		"operation", operation,
		"session_id", sessionID,
		"caller_id", caller.String(),
		"event_type", eventType,
	)
	return session, nil
}

// rejected logs a failed validation and returns err unchanged. A broken
// invariant is logged as fatal for the session's derived data.
func (r SessionRegistry) rejected(
	logger *slog.Logger,
	operation string,
	sessionID uint64,
	caller entities.Identity,
	err error,
) error {
	if errors.Is(err, domainerrors.ErrInternalInconsistency) {
		logger.Error("session invariant violated",
			"event", "voting_invariant_violated",
			"module", application.ModuleName,
			"layer", "application",
			"operation", operation,
			"session_id", sessionID,
			"caller_id", caller.String(),
			"fatal", true,
			"error", err.Error(),
		)
		return err
	}
	logger.Warn("session operation rejected",
		"event", "voting_operation_rejected",
		"module", application.ModuleName,
		"layer", "application",
		"operation", operation,
		"session_id", sessionID,
		"caller_id", caller.String(),
		"reason", err.Error(),
	)
	return err
}

func (r SessionRegistry) buildEvents(
	ctx context.Context,
	eventType string,
	sessionID uint64,
	occurredAt time.Time,
	data map[string]any,
) ([]ports.EventEnvelope, error) {
	// Events are optional for pure read/test wiring, so a nil IDGen emits none.
	if r.IDGen == nil {
		return nil, nil
	}
	eventID, err := r.IDGen.NewID(ctx)
	if err != nil {
		return nil, err
	}
	payload := map[string]any{
		"session_id":  sessionID,
		"occurred_at": occurredAt.UTC().Format(time.RFC3339),
	}
	for key, value := range data {
		payload[key] = value
	}
	envelope, err := newSessionEnvelope(eventID, eventType, sessionID, occurredAt, payload)
	if err != nil {
		return nil, err
	}
	return []ports.EventEnvelope{envelope}, nil
}

func (r SessionRegistry) now() time.Time {
	if r.Clock != nil {
		return r.Clock.Now().UTC()
	}
	return time.Now().UTC()
}
