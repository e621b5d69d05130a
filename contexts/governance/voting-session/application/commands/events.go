package commands

import (
	"encoding/json"
	"strconv"
	"time"

	"ballotbox/contexts/governance/voting-session/ports"
)

const (
	EventSessionCreated     = "voting.session.created"
	EventVoterAdded         = "voting.voter.added"
	EventVoterRemoved       = "voting.voter.removed"
	EventVoteCast           = "voting.vote.cast"
	EventVoteDelegated      = "voting.vote.delegated"
	EventDelegationRevoked  = "voting.delegation.revoked"
	EventSessionClosed      = "voting.session.closed"
	sourceService           = "voting-session"
	sessionPartitionKeyPath = "session_id"
)

// EventTypes lists every topic this context produces.
var EventTypes = []string{
	EventSessionCreated,
	EventVoterAdded,
	EventVoterRemoved,
	EventVoteCast,
	EventVoteDelegated,
	EventDelegationRevoked,
	EventSessionClosed,
}

func newSessionEnvelope(
	eventID string,
	eventType string,
	sessionID uint64,
	occurredAt time.Time,
	data map[string]any,
) (ports.EventEnvelope, error) {
	// Partitioned by session so consumers see one session's events in order.
	payload, err := json.Marshal(data)
	if err != nil {
		return ports.EventEnvelope{}, err
	}
	return ports.EventEnvelope{
		EventID:          eventID,
		EventType:        eventType,
		OccurredAt:       occurredAt.UTC(),
		SourceService:    sourceService,
		TraceID:          eventID,
		SchemaVersion:    1,
		PartitionKeyPath: sessionPartitionKeyPath,
		PartitionKey:     strconv.FormatUint(sessionID, 10),
		Data:             payload,
	}, nil
}
