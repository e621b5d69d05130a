package http

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type CreateSessionRequest struct {
	Title         string   `json:"title"`
	Options       []string `json:"options"`
	ResultsPublic bool     `json:"results_public"`
}

type SessionResponse struct {
	SessionID     uint64   `json:"session_id"`
	Title         string   `json:"title"`
	Options       []string `json:"options"`
	CreatorID     string   `json:"creator_id"`
	AllowedVoters []string `json:"allowed_voters"`
	VoteCount     int      `json:"vote_count"`
	Delegations   int      `json:"delegation_count"`
	Closed        bool     `json:"closed"`
	ResultsPublic bool     `json:"results_public"`
	CreatedAt     string   `json:"created_at"`
	UpdatedAt     string   `json:"updated_at"`
	ClosedAt      string   `json:"closed_at,omitempty"`
}

type SessionSummaryResponse struct {
	SessionID     uint64 `json:"session_id"`
	Title         string `json:"title"`
	CreatorID     string `json:"creator_id"`
	OptionCount   int    `json:"option_count"`
	VoterCount    int    `json:"voter_count"`
	Closed        bool   `json:"closed"`
	ResultsPublic bool   `json:"results_public"`
}

type ListSessionsResponse struct {
	Items []SessionSummaryResponse `json:"items"`
}

type OptionsResponse struct {
	SessionID uint64   `json:"session_id"`
	Options   []string `json:"options"`
}

type AddVoterRequest struct {
	VoterID string `json:"voter_id"`
}

type VoterStatusResponse struct {
	SessionID uint64 `json:"session_id"`
	VoterID   string `json:"voter_id"`
	Allowed   bool   `json:"allowed"`
}

type RemoveVoterResponse struct {
	SessionID           uint64   `json:"session_id"`
	VoterID             string   `json:"voter_id"`
	RetractedVote       bool     `json:"retracted_vote"`
	RetractedDelegation bool     `json:"retracted_delegation"`
	OrphanedDelegators  []string `json:"orphaned_delegators"`
}

type CastVoteRequest struct {
	OptionIndex *int `json:"option_index"`
}

type DelegateVoteRequest struct {
	DelegateID string `json:"delegate_id"`
}

type ResolutionResponse struct {
	SessionID   uint64 `json:"session_id"`
	VoterID     string `json:"voter_id"`
	Abstained   bool   `json:"abstained"`
	OptionIndex *int   `json:"option_index,omitempty"`
	ResolvedBy  string `json:"resolved_by,omitempty"`
}

type OptionCount struct {
	OptionIndex int    `json:"option_index"`
	Option      string `json:"option"`
	Votes       int    `json:"votes"`
}

type ResultsResponse struct {
	SessionID   uint64        `json:"session_id"`
	Closed      bool          `json:"closed"`
	Eligible    int           `json:"eligible"`
	Abstentions int           `json:"abstentions"`
	TotalVotes  int           `json:"total_votes"`
	Items       []OptionCount `json:"items"`
}
