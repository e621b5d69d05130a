package ports

import (
	"context"
	"encoding/json"
	"time"

	"ballotbox/contexts/governance/voting-session/domain/entities"
)

// SessionRepository is the persistent record of sessions keyed by id.
// Implementations return deep copies; callers mutate and Save.
// SaveSession writes the session and its outbox events atomically: when any
// event is rejected the stored session is left as it was.
type SessionRepository interface {
	NextSessionID(ctx context.Context) (uint64, error)
	SaveSession(ctx context.Context, session entities.Session, events ...EventEnvelope) error
	GetSession(ctx context.Context, sessionID uint64) (entities.Session, error)
	ListSessions(ctx context.Context) ([]entities.Session, error)
}

type Clock interface {
	Now() time.Time
}

type IDGenerator interface {
	NewID(ctx context.Context) (string, error)
}

type EventEnvelope struct {
	EventID          string          `json:"event_id"`
	EventType        string          `json:"event_type"`
	OccurredAt       time.Time       `json:"occurred_at"`
	SourceService    string          `json:"source_service"`
	TraceID          string          `json:"trace_id"`
	SchemaVersion    int             `json:"schema_version"`
	PartitionKeyPath string          `json:"partition_key_path"`
	PartitionKey     string          `json:"partition_key"`
	Data             json.RawMessage `json:"data"`
}

type OutboxMessage struct {
	OutboxID     string
	EventType    string
	PartitionKey string
	Payload      []byte
	CreatedAt    time.Time
}

type OutboxRepository interface {
	ListPendingOutbox(ctx context.Context, limit int) ([]OutboxMessage, error)
	MarkOutboxPublished(ctx context.Context, outboxID string, publishedAt time.Time) error
}

type EventPublisher interface {
	Publish(ctx context.Context, topic string, event EventEnvelope) error
}

type EventSubscriber interface {
	Subscribe(
		ctx context.Context,
		topic string,
		consumerGroup string,
		handler func(context.Context, EventEnvelope) error,
	) error
}

// ResultArchive keeps the final tally of closed sessions for downstream
// readers. Saving the same session twice overwrites the earlier snapshot.
type ResultArchive interface {
	SaveFinalTally(ctx context.Context, tally entities.Tally, finalizedAt time.Time) error
	GetFinalTally(ctx context.Context, sessionID uint64) (entities.Tally, error)
}
