package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	votingerrors "ballotbox/contexts/governance/voting-session/domain/errors"
	votinghttp "ballotbox/contexts/governance/voting-session/transport/http"
	"ballotbox/internal/platform/identity"
)

func (s *Server) registerVotingRoutes() {
	s.mux.HandleFunc("GET /v1/voting/sessions", s.handleListVotingSessions)
	s.mux.HandleFunc("POST /v1/voting/sessions", s.handleCreateVotingSession)
	s.mux.HandleFunc("GET /v1/voting/sessions/{session_id}", s.handleGetVotingSession)
	s.mux.HandleFunc("GET /v1/voting/sessions/{session_id}/options", s.handleGetVotingOptions)
	s.mux.HandleFunc("POST /v1/voting/sessions/{session_id}/voters", s.handleAddVotingVoter)
	s.mux.HandleFunc("GET /v1/voting/sessions/{session_id}/voters/{voter_id}", s.handleGetVotingVoter)
	s.mux.HandleFunc("DELETE /v1/voting/sessions/{session_id}/voters/{voter_id}", s.handleRemoveVotingVoter)
	s.mux.HandleFunc("POST /v1/voting/sessions/{session_id}/votes", s.handleCastVote)
	s.mux.HandleFunc("POST /v1/voting/sessions/{session_id}/delegations", s.handleDelegateVote)
	s.mux.HandleFunc("DELETE /v1/voting/sessions/{session_id}/delegations", s.handleRevokeDelegation)
	s.mux.HandleFunc("POST /v1/voting/sessions/{session_id}/close", s.handleCloseVotingSession)
	s.mux.HandleFunc("GET /v1/voting/sessions/{session_id}/results", s.handleVotingResults)
	s.mux.HandleFunc("GET /v1/voting/sessions/{session_id}/results/final", s.handleFinalVotingResults)
	s.mux.HandleFunc("GET /v1/voting/sessions/{session_id}/results/voters/{voter_id}", s.handleResolveVote)
}

func (s *Server) handleListVotingSessions(w http.ResponseWriter, r *http.Request) {
	resp, err := s.voting.Handler.ListSessionsHandler(r.Context())
	if err != nil {
		writeVotingDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCreateVotingSession(w http.ResponseWriter, r *http.Request) {
	callerID, ok := requireVotingCaller(w, r)
	if !ok {
		return
	}
	var req votinghttp.CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeVotingError(w, http.StatusBadRequest, "invalid_json", "request body must be valid JSON")
		return
	}
	resp, err := s.voting.Handler.CreateSessionHandler(r.Context(), callerID, req)
	if err != nil {
		writeVotingDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleGetVotingSession(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := parseSessionID(w, r)
	if !ok {
		return
	}
	resp, err := s.voting.Handler.GetSessionHandler(r.Context(), sessionID)
	if err != nil {
		writeVotingDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetVotingOptions(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := parseSessionID(w, r)
	if !ok {
		return
	}
	resp, err := s.voting.Handler.GetOptionsHandler(r.Context(), sessionID)
	if err != nil {
		writeVotingDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAddVotingVoter(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := parseSessionID(w, r)
	if !ok {
		return
	}
	callerID, ok := requireVotingCaller(w, r)
	if !ok {
		return
	}
	var req votinghttp.AddVoterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeVotingError(w, http.StatusBadRequest, "invalid_json", "request body must be valid JSON")
		return
	}
	req.VoterID = identity.Canonicalize(req.VoterID)
	resp, err := s.voting.Handler.AddVoterHandler(r.Context(), sessionID, callerID, req)
	if err != nil {
		writeVotingDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleGetVotingVoter(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := parseSessionID(w, r)
	if !ok {
		return
	}
	voterID := identity.Canonicalize(r.PathValue("voter_id"))
	resp, err := s.voting.Handler.VoterStatusHandler(r.Context(), sessionID, voterID)
	if err != nil {
		writeVotingDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRemoveVotingVoter(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := parseSessionID(w, r)
	if !ok {
		return
	}
	callerID, ok := requireVotingCaller(w, r)
	if !ok {
		return
	}
	voterID := identity.Canonicalize(r.PathValue("voter_id"))
	resp, err := s.voting.Handler.RemoveVoterHandler(r.Context(), sessionID, callerID, voterID)
	if err != nil {
		writeVotingDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCastVote(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := parseSessionID(w, r)
	if !ok {
		return
	}
	callerID, ok := requireVotingCaller(w, r)
	if !ok {
		return
	}
	var req votinghttp.CastVoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeVotingError(w, http.StatusBadRequest, "invalid_json", "request body must be valid JSON")
		return
	}
	if err := s.voting.Handler.CastVoteHandler(r.Context(), sessionID, callerID, req); err != nil {
		writeVotingDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDelegateVote(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := parseSessionID(w, r)
	if !ok {
		return
	}
	callerID, ok := requireVotingCaller(w, r)
	if !ok {
		return
	}
	var req votinghttp.DelegateVoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeVotingError(w, http.StatusBadRequest, "invalid_json", "request body must be valid JSON")
		return
	}
	req.DelegateID = identity.Canonicalize(req.DelegateID)
	if err := s.voting.Handler.DelegateVoteHandler(r.Context(), sessionID, callerID, req); err != nil {
		writeVotingDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRevokeDelegation(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := parseSessionID(w, r)
	if !ok {
		return
	}
	callerID, ok := requireVotingCaller(w, r)
	if !ok {
		return
	}
	if err := s.voting.Handler.RevokeDelegationHandler(r.Context(), sessionID, callerID); err != nil {
		writeVotingDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCloseVotingSession(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := parseSessionID(w, r)
	if !ok {
		return
	}
	callerID, ok := requireVotingCaller(w, r)
	if !ok {
		return
	}
	resp, err := s.voting.Handler.CloseVoteHandler(r.Context(), sessionID, callerID)
	if err != nil {
		writeVotingDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleVotingResults(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := parseSessionID(w, r)
	if !ok {
		return
	}
	callerID := identity.Canonicalize(r.Header.Get("X-User-Id"))
	resp, err := s.voting.Handler.ResultsHandler(r.Context(), sessionID, callerID)
	if err != nil {
		writeVotingDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleFinalVotingResults(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := parseSessionID(w, r)
	if !ok {
		return
	}
	callerID := identity.Canonicalize(r.Header.Get("X-User-Id"))
	resp, err := s.voting.Handler.FinalResultsHandler(r.Context(), sessionID, callerID)
	if err != nil {
		writeVotingDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleResolveVote(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := parseSessionID(w, r)
	if !ok {
		return
	}
	callerID := identity.Canonicalize(r.Header.Get("X-User-Id"))
	voterID := identity.Canonicalize(r.PathValue("voter_id"))
	resp, err := s.voting.Handler.ResolveVoteHandler(r.Context(), sessionID, callerID, voterID)
	if err != nil {
		writeVotingDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func requireVotingCaller(w http.ResponseWriter, r *http.Request) (string, bool) {
	callerID := identity.Canonicalize(r.Header.Get("X-User-Id"))
	if callerID == "" {
		writeVotingError(w, http.StatusUnauthorized, "missing_user", "X-User-Id header is required")
		return "", false
	}
	return callerID, true
}

func parseSessionID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	sessionID, err := strconv.ParseUint(r.PathValue("session_id"), 10, 64)
	if err != nil || sessionID == 0 {
		writeVotingError(w, http.StatusBadRequest, "invalid_session_id", "session_id must be a positive integer")
		return 0, false
	}
	return sessionID, true
}

func writeVotingError(w http.ResponseWriter, status int, code string, message string) {
	writeJSON(w, status, votinghttp.ErrorResponse{Code: code, Message: message})
}

func writeVotingDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, votingerrors.ErrSessionNotFound):
		writeVotingError(w, http.StatusNotFound, "session_not_found", err.Error())
	case errors.Is(err, votingerrors.ErrVoterNotFound):
		writeVotingError(w, http.StatusNotFound, "voter_not_found", err.Error())
	case errors.Is(err, votingerrors.ErrResultsNotFinalized):
		writeVotingError(w, http.StatusNotFound, "results_not_finalized", err.Error())
	case errors.Is(err, votingerrors.ErrUnauthorized):
		writeVotingError(w, http.StatusForbidden, "unauthorized", err.Error())
	case errors.Is(err, votingerrors.ErrInvalidOptions):
		writeVotingError(w, http.StatusBadRequest, "invalid_options", err.Error())
	case errors.Is(err, votingerrors.ErrInvalidTitle):
		writeVotingError(w, http.StatusBadRequest, "invalid_title", err.Error())
	case errors.Is(err, votingerrors.ErrInvalidOption):
		writeVotingError(w, http.StatusBadRequest, "invalid_option", err.Error())
	case errors.Is(err, votingerrors.ErrInvalidDelegate):
		writeVotingError(w, http.StatusBadRequest, "invalid_delegate", err.Error())
	case errors.Is(err, votingerrors.ErrInvalidIdentity):
		writeVotingError(w, http.StatusBadRequest, "invalid_identity", err.Error())
	case errors.Is(err, votingerrors.ErrSessionClosed):
		writeVotingError(w, http.StatusConflict, "session_closed", err.Error())
	case errors.Is(err, votingerrors.ErrAlreadyClosed):
		writeVotingError(w, http.StatusConflict, "already_closed", err.Error())
	case errors.Is(err, votingerrors.ErrAlreadyVoted):
		writeVotingError(w, http.StatusConflict, "already_voted", err.Error())
	case errors.Is(err, votingerrors.ErrAlreadyDelegated):
		writeVotingError(w, http.StatusConflict, "already_delegated", err.Error())
	case errors.Is(err, votingerrors.ErrDelegationCycle):
		writeVotingError(w, http.StatusConflict, "delegation_cycle", err.Error())
	case errors.Is(err, votingerrors.ErrAlreadyAllowed):
		writeVotingError(w, http.StatusConflict, "already_allowed", err.Error())
	case errors.Is(err, votingerrors.ErrCannotRemoveCreator):
		writeVotingError(w, http.StatusConflict, "cannot_remove_creator", err.Error())
	case errors.Is(err, votingerrors.ErrNoActiveDelegation):
		writeVotingError(w, http.StatusConflict, "no_active_delegation", err.Error())
	case errors.Is(err, votingerrors.ErrConflict):
		writeVotingError(w, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, votingerrors.ErrInternalInconsistency):
		writeVotingError(w, http.StatusInternalServerError, "internal_inconsistency", "voting session state is inconsistent")
	default:
		writeVotingError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}
