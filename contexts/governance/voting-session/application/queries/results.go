package queries

import (
	"context"
	"errors"
	"log/slog"
	"sort"

	application "ballotbox/contexts/governance/voting-session/application"
	"ballotbox/contexts/governance/voting-session/domain/entities"
	domainerrors "ballotbox/contexts/governance/voting-session/domain/errors"
	"ballotbox/contexts/governance/voting-session/domain/services"
	"ballotbox/contexts/governance/voting-session/ports"
)

type ResultsUseCase struct {
	Sessions ports.SessionRepository
	Archive  ports.ResultArchive
	Logger   *slog.Logger
}

// SessionSummary is the listing view of a session.
type SessionSummary struct {
	SessionID     uint64
	Title         string
	Creator       entities.Identity
	OptionCount   int
	VoterCount    int
	Closed        bool
	ResultsPublic bool
}

// GetResults computes a fresh tally when the caller may see it. Open and
// closed sessions are both readable.
func (uc ResultsUseCase) GetResults(ctx context.Context, sessionID uint64, caller entities.Identity) (entities.Tally, error) {
	session, err := uc.Sessions.GetSession(ctx, sessionID)
	if err != nil {
		return entities.Tally{}, err
	}
	if !services.CanReadResults(session, caller) {
		return entities.Tally{}, domainerrors.ErrUnauthorized
	}

	tally, err := services.ComputeTally(session)
	if err != nil {
		if errors.Is(err, domainerrors.ErrInternalInconsistency) {
			application.ResolveLogger(uc.Logger).Error("tally invariant violated",
				"event", "voting_tally_invariant_violated",
				"module", application.ModuleName,
				"layer", "application",
				"session_id", sessionID,
				"fatal", true,
				"error", err.Error(),
			)
		}
		return entities.Tally{}, err
	}
	return tally, nil
}

// GetFinalResults reads the tally archived for a closed session under the
// same visibility policy as GetResults. Without an archive, or before the
// finalizer has run, it reports ErrResultsNotFinalized.
func (uc ResultsUseCase) GetFinalResults(ctx context.Context, sessionID uint64, caller entities.Identity) (entities.Tally, error) {
	session, err := uc.Sessions.GetSession(ctx, sessionID)
	if err != nil {
		return entities.Tally{}, err
	}
	if !services.CanReadResults(session, caller) {
		return entities.Tally{}, domainerrors.ErrUnauthorized
	}
	if uc.Archive == nil || !session.Closed {
		return entities.Tally{}, domainerrors.ErrResultsNotFinalized
	}
	return uc.Archive.GetFinalTally(ctx, sessionID)
}

// GetOptions returns the option list; options are public once the session exists.
func (uc ResultsUseCase) GetOptions(ctx context.Context, sessionID uint64) ([]string, error) {
	session, err := uc.Sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return append([]string(nil), session.Options...), nil
}

func (uc ResultsUseCase) IsVoterAllowed(ctx context.Context, sessionID uint64, voter entities.Identity) (bool, error) {
	session, err := uc.Sessions.GetSession(ctx, sessionID)
	if err != nil {
		return false, err
	}
	return services.IsAllowedVoter(session, voter), nil
}

// ResolveVote explains where a voter's effective vote lands.
func (uc ResultsUseCase) ResolveVote(
	ctx context.Context,
	sessionID uint64,
	caller entities.Identity,
	voter entities.Identity,
) (services.Resolution, error) {
	session, err := uc.Sessions.GetSession(ctx, sessionID)
	if err != nil {
		return services.Resolution{}, err
	}
	if !services.CanReadResults(session, caller) {
		return services.Resolution{}, domainerrors.ErrUnauthorized
	}
	if !session.Access.IsAllowed(voter) {
		return services.Resolution{}, domainerrors.ErrVoterNotFound
	}
	return services.ResolveEffectiveVote(session, voter)
}

func (uc ResultsUseCase) ListSessions(ctx context.Context) ([]SessionSummary, error) {
	sessions, err := uc.Sessions.ListSessions(ctx)
	if err != nil {
		return nil, err
	}
	items := make([]SessionSummary, 0, len(sessions))
	for _, session := range sessions {
		items = append(items, SessionSummary{
			SessionID:     session.SessionID,
			Title:         session.Title,
			Creator:       session.Creator(),
			OptionCount:   len(session.Options),
			VoterCount:    session.Access.Len(),
			Closed:        session.Closed,
			ResultsPublic: session.ResultsPublic,
		})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].SessionID < items[j].SessionID })
	return items, nil
}
