package httpadapter

import (
	"context"
	"log/slog"
	"time"

	"ballotbox/contexts/governance/voting-session/application/commands"
	"ballotbox/contexts/governance/voting-session/application/queries"
	"ballotbox/contexts/governance/voting-session/domain/entities"
	domainerrors "ballotbox/contexts/governance/voting-session/domain/errors"
	httptransport "ballotbox/contexts/governance/voting-session/transport/http"
)

// Handler maps transport DTOs onto the session registry and the results
// queries. Identities arrive already canonicalized by the server.
type Handler struct {
	Registry commands.SessionRegistry
	Results  queries.ResultsUseCase
	Logger   *slog.Logger
}

func (h Handler) CreateSessionHandler(
	ctx context.Context,
	callerID string,
	req httptransport.CreateSessionRequest,
) (httptransport.SessionResponse, error) {
	creator, err := callerIdentity(callerID)
	if err != nil {
		return httptransport.SessionResponse{}, err
	}
	session, err := h.Registry.CreateSession(ctx, commands.CreateSessionCommand{
		Creator:       creator,
		Title:         req.Title,
		Options:       req.Options,
		ResultsPublic: req.ResultsPublic,
	})
	if err != nil {
		return httptransport.SessionResponse{}, err
	}
	return mapSession(session), nil
}

func (h Handler) GetSessionHandler(ctx context.Context, sessionID uint64) (httptransport.SessionResponse, error) {
	session, err := h.Registry.GetSession(ctx, sessionID)
	if err != nil {
		return httptransport.SessionResponse{}, err
	}
	return mapSession(session), nil
}

func (h Handler) ListSessionsHandler(ctx context.Context) (httptransport.ListSessionsResponse, error) {
	items, err := h.Results.ListSessions(ctx)
	if err != nil {
		return httptransport.ListSessionsResponse{}, err
	}
	resp := httptransport.ListSessionsResponse{Items: make([]httptransport.SessionSummaryResponse, 0, len(items))}
	for _, item := range items {
		resp.Items = append(resp.Items, httptransport.SessionSummaryResponse{
			SessionID:     item.SessionID,
			Title:         item.Title,
			CreatorID:     item.Creator.String(),
			OptionCount:   item.OptionCount,
			VoterCount:    item.VoterCount,
			Closed:        item.Closed,
			ResultsPublic: item.ResultsPublic,
		})
	}
	return resp, nil
}

func (h Handler) GetOptionsHandler(ctx context.Context, sessionID uint64) (httptransport.OptionsResponse, error) {
	options, err := h.Results.GetOptions(ctx, sessionID)
	if err != nil {
		return httptransport.OptionsResponse{}, err
	}
	return httptransport.OptionsResponse{SessionID: sessionID, Options: options}, nil
}

func (h Handler) AddVoterHandler(
	ctx context.Context,
	sessionID uint64,
	callerID string,
	req httptransport.AddVoterRequest,
) (httptransport.VoterStatusResponse, error) {
	requester, err := callerIdentity(callerID)
	if err != nil {
		return httptransport.VoterStatusResponse{}, err
	}
	// Empty voter ids are rejected by the transition after the creator check.
	voter := entities.Identity(req.VoterID)
	if err := h.Registry.AddAllowedVoter(ctx, commands.VoterCommand{
		SessionID: sessionID,
		Requester: requester,
		Voter:     voter,
	}); err != nil {
		return httptransport.VoterStatusResponse{}, err
	}
	return httptransport.VoterStatusResponse{SessionID: sessionID, VoterID: voter.String(), Allowed: true}, nil
}

func (h Handler) RemoveVoterHandler(
	ctx context.Context,
	sessionID uint64,
	callerID string,
	voterID string,
) (httptransport.RemoveVoterResponse, error) {
	requester, err := callerIdentity(callerID)
	if err != nil {
		return httptransport.RemoveVoterResponse{}, err
	}
	effect, err := h.Registry.RemoveAllowedVoter(ctx, commands.VoterCommand{
		SessionID: sessionID,
		Requester: requester,
		Voter:     entities.Identity(voterID),
	})
	if err != nil {
		return httptransport.RemoveVoterResponse{}, err
	}
	orphaned := make([]string, 0, len(effect.OrphanedDelegators))
	for _, delegator := range effect.OrphanedDelegators {
		orphaned = append(orphaned, delegator.String())
	}
	return httptransport.RemoveVoterResponse{
		SessionID:           sessionID,
		VoterID:             voterID,
		RetractedVote:       effect.RetractedVote,
		RetractedDelegation: effect.RetractedDelegation,
		OrphanedDelegators:  orphaned,
	}, nil
}

func (h Handler) VoterStatusHandler(ctx context.Context, sessionID uint64, voterID string) (httptransport.VoterStatusResponse, error) {
	allowed, err := h.Results.IsVoterAllowed(ctx, sessionID, entities.Identity(voterID))
	if err != nil {
		return httptransport.VoterStatusResponse{}, err
	}
	return httptransport.VoterStatusResponse{SessionID: sessionID, VoterID: voterID, Allowed: allowed}, nil
}

func (h Handler) CastVoteHandler(
	ctx context.Context,
	sessionID uint64,
	callerID string,
	req httptransport.CastVoteRequest,
) error {
	voter, err := callerIdentity(callerID)
	if err != nil {
		return err
	}
	if req.OptionIndex == nil {
		return domainerrors.ErrInvalidOption
	}
	return h.Registry.Vote(ctx, commands.VoteCommand{
		SessionID:   sessionID,
		Voter:       voter,
		OptionIndex: *req.OptionIndex,
	})
}

func (h Handler) DelegateVoteHandler(
	ctx context.Context,
	sessionID uint64,
	callerID string,
	req httptransport.DelegateVoteRequest,
) error {
	delegator, err := callerIdentity(callerID)
	if err != nil {
		return err
	}
	return h.Registry.DelegateVote(ctx, commands.DelegateVoteCommand{
		SessionID: sessionID,
		Delegator: delegator,
		Delegate:  entities.Identity(req.DelegateID),
	})
}

func (h Handler) RevokeDelegationHandler(ctx context.Context, sessionID uint64, callerID string) error {
	delegator, err := callerIdentity(callerID)
	if err != nil {
		return err
	}
	return h.Registry.RevokeDelegation(ctx, commands.RevokeDelegationCommand{
		SessionID: sessionID,
		Delegator: delegator,
	})
}

func (h Handler) CloseVoteHandler(ctx context.Context, sessionID uint64, callerID string) (httptransport.SessionResponse, error) {
	requester, err := callerIdentity(callerID)
	if err != nil {
		return httptransport.SessionResponse{}, err
	}
	session, err := h.Registry.CloseVote(ctx, commands.CloseVoteCommand{
		SessionID: sessionID,
		Requester: requester,
	})
	if err != nil {
		return httptransport.SessionResponse{}, err
	}
	return mapSession(session), nil
}

func (h Handler) ResultsHandler(ctx context.Context, sessionID uint64, callerID string) (httptransport.ResultsResponse, error) {
	// Anonymous readers are allowed; the visibility policy decides.
	tally, err := h.Results.GetResults(ctx, sessionID, entities.Identity(callerID))
	if err != nil {
		return httptransport.ResultsResponse{}, err
	}
	return mapTally(tally), nil
}

// FinalResultsHandler serves the tally archived when the session closed.
func (h Handler) FinalResultsHandler(ctx context.Context, sessionID uint64, callerID string) (httptransport.ResultsResponse, error) {
	tally, err := h.Results.GetFinalResults(ctx, sessionID, entities.Identity(callerID))
	if err != nil {
		return httptransport.ResultsResponse{}, err
	}
	return mapTally(tally), nil
}

func mapTally(tally entities.Tally) httptransport.ResultsResponse {
	resp := httptransport.ResultsResponse{
		SessionID:   tally.SessionID,
		Closed:      tally.Closed,
		Eligible:    tally.Eligible,
		Abstentions: tally.Abstentions,
		TotalVotes:  tally.Total(),
		Items:       make([]httptransport.OptionCount, 0, len(tally.Options)),
	}
	for index, option := range tally.Options {
		resp.Items = append(resp.Items, httptransport.OptionCount{
			OptionIndex: index,
			Option:      option,
			Votes:       tally.Counts[index],
		})
	}
	return resp
}

func (h Handler) ResolveVoteHandler(
	ctx context.Context,
	sessionID uint64,
	callerID string,
	voterID string,
) (httptransport.ResolutionResponse, error) {
	resolution, err := h.Results.ResolveVote(ctx, sessionID, entities.Identity(callerID), entities.Identity(voterID))
	if err != nil {
		return httptransport.ResolutionResponse{}, err
	}
	resp := httptransport.ResolutionResponse{
		SessionID: sessionID,
		VoterID:   voterID,
		Abstained: resolution.Abstained,
	}
	if !resolution.Abstained {
		option := resolution.OptionIndex
		resp.OptionIndex = &option
		resp.ResolvedBy = resolution.ResolvedBy.String()
	}
	return resp, nil
}

func callerIdentity(callerID string) (entities.Identity, error) {
	identity, err := entities.NewIdentity(callerID)
	if err != nil {
		return "", domainerrors.ErrUnauthorized
	}
	return identity, nil
}

func mapSession(session entities.Session) httptransport.SessionResponse {
	members := session.Access.Members()
	allowed := make([]string, 0, len(members))
	for _, member := range members {
		allowed = append(allowed, member.String())
	}
	resp := httptransport.SessionResponse{
		SessionID:     session.SessionID,
		Title:         session.Title,
		Options:       append([]string(nil), session.Options...),
		CreatorID:     session.Creator().String(),
		AllowedVoters: allowed,
		VoteCount:     len(session.Votes),
		Delegations:   len(session.Delegations),
		Closed:        session.Closed,
		ResultsPublic: session.ResultsPublic,
		CreatedAt:     session.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:     session.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if session.ClosedAt != nil {
		resp.ClosedAt = session.ClosedAt.UTC().Format(time.RFC3339)
	}
	return resp
}
