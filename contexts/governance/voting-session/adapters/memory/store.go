package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"ballotbox/contexts/governance/voting-session/domain/entities"
	domainerrors "ballotbox/contexts/governance/voting-session/domain/errors"
	"ballotbox/contexts/governance/voting-session/ports"

	"github.com/google/uuid"
)

type outboxRecord struct {
	sequence  uint64
	message   ports.OutboxMessage
	published bool
}

type finalRecord struct {
	tally       entities.Tally
	finalizedAt time.Time
}

// Store keeps sessions, outbox rows and archived tallies in process memory.
// Every read and write goes through deep copies.
type Store struct {
	mu sync.RWMutex

	nextSessionID  uint64
	sessions       map[uint64]entities.Session
	outbox         map[string]outboxRecord
	outboxSequence uint64
	finals         map[uint64]finalRecord
}

func NewStore(seed []entities.Session) *Store {
	sessions := make(map[uint64]entities.Session, len(seed))
	var maxID uint64
	for _, session := range seed {
		sessions[session.SessionID] = session.Clone()
		if session.SessionID > maxID {
			maxID = session.SessionID
		}
	}
	return &Store{
		nextSessionID: maxID,
		sessions:      sessions,
		outbox:        make(map[string]outboxRecord),
		finals:        make(map[uint64]finalRecord),
	}
}

// NextSessionID hands out ids starting at 1. Ids are never reused, even when
// the session that claimed one is never saved.
func (s *Store) NextSessionID(_ context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSessionID++
	return s.nextSessionID, nil
}

// SaveSession stages every outbox row before touching the session map, so a
// conflicting event leaves both the session and the outbox unchanged.
func (s *Store) SaveSession(_ context.Context, session entities.Session, events ...ports.EventEnvelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	staged := make([]ports.OutboxMessage, 0, len(events))
	for _, envelope := range events {
		message, fresh, err := s.stageOutbox(envelope)
		if err != nil {
			return err
		}
		if fresh {
			staged = append(staged, message)
		}
	}
	for _, message := range staged {
		s.outboxSequence++
		s.outbox[message.OutboxID] = outboxRecord{sequence: s.outboxSequence, message: message}
	}
	s.sessions[session.SessionID] = session.Clone()
	return nil
}

func (s *Store) GetSession(_ context.Context, sessionID uint64) (entities.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return entities.Session{}, domainerrors.ErrSessionNotFound
	}
	return session.Clone(), nil
}

func (s *Store) ListSessions(_ context.Context) ([]entities.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := make([]entities.Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		items = append(items, session.Clone())
	}
	sort.Slice(items, func(i, j int) bool { return items[i].SessionID < items[j].SessionID })
	return items, nil
}

// stageOutbox builds the row for envelope. An identical replay of a known
// event id is not fresh; a different payload under that id is a conflict.
func (s *Store) stageOutbox(envelope ports.EventEnvelope) (ports.OutboxMessage, bool, error) {
	payload, err := json.Marshal(envelope)
	if err != nil {
		return ports.OutboxMessage{}, false, err
	}
	outboxID := strings.TrimSpace(envelope.EventID)
	if outboxID == "" {
		outboxID = uuid.NewString()
	}
	if existing, ok := s.outbox[outboxID]; ok {
		if !bytes.Equal(existing.message.Payload, payload) {
			return ports.OutboxMessage{}, false, domainerrors.ErrConflict
		}
		return existing.message, false, nil
	}
	createdAt := envelope.OccurredAt.UTC()
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	return ports.OutboxMessage{
		OutboxID:     outboxID,
		EventType:    strings.TrimSpace(envelope.EventType),
		PartitionKey: strings.TrimSpace(envelope.PartitionKey),
		Payload:      payload,
		CreatedAt:    createdAt,
	}, true, nil
}

func (s *Store) ListPendingOutbox(_ context.Context, limit int) ([]ports.OutboxMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}
	rows := make([]outboxRecord, 0, len(s.outbox))
	for _, row := range s.outbox {
		if !row.published {
			rows = append(rows, row)
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].sequence < rows[j].sequence })
	if len(rows) > limit {
		rows = rows[:limit]
	}
	items := make([]ports.OutboxMessage, 0, len(rows))
	for _, row := range rows {
		items = append(items, row.message)
	}
	return items, nil
}

func (s *Store) MarkOutboxPublished(_ context.Context, outboxID string, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := strings.TrimSpace(outboxID)
	row, ok := s.outbox[key]
	if !ok {
		return domainerrors.ErrConflict
	}
	row.published = true
	s.outbox[key] = row
	return nil
}

func (s *Store) SaveFinalTally(_ context.Context, tally entities.Tally, finalizedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finals[tally.SessionID] = finalRecord{tally: tally.Clone(), finalizedAt: finalizedAt.UTC()}
	return nil
}

func (s *Store) GetFinalTally(_ context.Context, sessionID uint64) (entities.Tally, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.finals[sessionID]
	if !ok {
		return entities.Tally{}, domainerrors.ErrResultsNotFinalized
	}
	return record.tally.Clone(), nil
}

func (s *Store) Now() time.Time {
	return time.Now().UTC()
}

func (s *Store) NewID(_ context.Context) (string, error) {
	return uuid.NewString(), nil
}
