// Package sqlite persists voting sessions in an embedded SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	application "ballotbox/contexts/governance/voting-session/application"
	"ballotbox/contexts/governance/voting-session/domain/entities"
	domainerrors "ballotbox/contexts/governance/voting-session/domain/errors"
	"ballotbox/contexts/governance/voting-session/ports"

	"github.com/google/uuid"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

const (
	outboxStatusPending   = "pending"
	outboxStatusPublished = "published"
)

// Store is the SQLite implementation of the session, outbox and archive ports.
type Store struct {
	sqlDB  *sql.DB
	logger *slog.Logger
}

func NewStore(sqlDB *sql.DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{sqlDB: sqlDB, logger: logger}
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// NextSessionID allocates from an AUTOINCREMENT table, so ids stay unique
// even after the highest row is deleted.
func (s *Store) NextSessionID(ctx context.Context) (uint64, error) {
	result, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO voting_session_ids (allocated_at) VALUES (?)`,
		toMillis(time.Now()),
	)
	if err != nil {
		return 0, s.logError("voting_sqlite_next_session_id_failed", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, s.logError("voting_sqlite_next_session_id_failed", err)
	}
	return uint64(id), nil
}

// SaveSession upserts the session row, rewrites its child rows and appends
// events to the outbox in one transaction.
func (s *Store) SaveSession(ctx context.Context, session entities.Session, events ...ports.EventEnvelope) error {
	options, err := json.Marshal(session.Options)
	if err != nil {
		return s.logError("voting_sqlite_encode_session_failed", err, "session_id", session.SessionID)
	}
	var closedAt sql.NullInt64
	if session.ClosedAt != nil {
		closedAt = sql.NullInt64{Int64: toMillis(*session.ClosedAt), Valid: true}
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return s.logError("voting_sqlite_begin_failed", err, "session_id", session.SessionID)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO voting_sessions (
		   id, creator_id, title, options, closed, results_public, created_at, updated_at, closed_at
		 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		   title = excluded.title,
		   options = excluded.options,
		   closed = excluded.closed,
		   results_public = excluded.results_public,
		   updated_at = excluded.updated_at,
		   closed_at = excluded.closed_at`,
		session.SessionID,
		session.Creator().String(),
		session.Title,
		string(options),
		session.Closed,
		session.ResultsPublic,
		toMillis(session.CreatedAt),
		toMillis(session.UpdatedAt),
		closedAt,
	); err != nil {
		return s.translate("voting_sqlite_upsert_session_failed", err, session.SessionID)
	}

	for _, table := range []string{"voting_session_voters", "voting_session_ballots", "voting_session_delegations"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE session_id = ?", session.SessionID); err != nil {
			return s.translate("voting_sqlite_clear_children_failed", err, session.SessionID)
		}
	}
	for _, member := range session.Access.Members() {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO voting_session_voters (session_id, voter_id) VALUES (?, ?)`,
			session.SessionID, member.String(),
		); err != nil {
			return s.translate("voting_sqlite_insert_voter_failed", err, session.SessionID)
		}
	}
	for _, ballot := range session.Ballots() {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO voting_session_ballots (session_id, voter_id, option_index) VALUES (?, ?, ?)`,
			session.SessionID, ballot.Voter.String(), ballot.OptionIndex,
		); err != nil {
			return s.translate("voting_sqlite_insert_ballot_failed", err, session.SessionID)
		}
	}
	for _, edge := range session.Delegations.Edges() {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO voting_session_delegations (session_id, delegator_id, delegate_id) VALUES (?, ?, ?)`,
			session.SessionID, edge.Delegator.String(), edge.Delegate.String(),
		); err != nil {
			return s.translate("voting_sqlite_insert_delegation_failed", err, session.SessionID)
		}
	}
	for _, envelope := range events {
		if err := s.appendOutbox(ctx, tx, envelope); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return s.logError("voting_sqlite_commit_failed", err, "session_id", session.SessionID)
	}
	return nil
}

func (s *Store) GetSession(ctx context.Context, sessionID uint64) (entities.Session, error) {
	row := s.sqlDB.QueryRowContext(ctx,
		`SELECT id, creator_id, title, options, closed, results_public, created_at, updated_at, closed_at
		 FROM voting_sessions WHERE id = ?`,
		sessionID,
	)
	session, err := s.scanSession(ctx, row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return entities.Session{}, domainerrors.ErrSessionNotFound
		}
		return entities.Session{}, s.logError("voting_sqlite_get_session_failed", err, "session_id", sessionID)
	}
	return session, nil
}

func (s *Store) ListSessions(ctx context.Context) ([]entities.Session, error) {
	rows, err := s.sqlDB.QueryContext(ctx, `SELECT id FROM voting_sessions ORDER BY id ASC`)
	if err != nil {
		return nil, s.logError("voting_sqlite_list_sessions_failed", err)
	}
	var ids []uint64
	for rows.Next() {
		var id uint64
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return nil, s.logError("voting_sqlite_list_sessions_failed", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, s.logError("voting_sqlite_list_sessions_failed", err)
	}
	_ = rows.Close()

	items := make([]entities.Session, 0, len(ids))
	for _, id := range ids {
		session, err := s.GetSession(ctx, id)
		if err != nil {
			return nil, err
		}
		items = append(items, session)
	}
	return items, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Store) scanSession(ctx context.Context, row rowScanner) (entities.Session, error) {
	var (
		sessionID     uint64
		creatorID     string
		title         string
		optionsJSON   string
		closed        bool
		resultsPublic bool
		createdAt     int64
		updatedAt     int64
		closedAt      sql.NullInt64
	)
	if err := row.Scan(
		&sessionID, &creatorID, &title, &optionsJSON, &closed, &resultsPublic, &createdAt, &updatedAt, &closedAt,
	); err != nil {
		return entities.Session{}, err
	}
	var options []string
	if err := json.Unmarshal([]byte(optionsJSON), &options); err != nil {
		return entities.Session{}, fmt.Errorf("decode options: %w", err)
	}

	members, err := s.queryPairs(ctx, `SELECT voter_id, '' FROM voting_session_voters WHERE session_id = ?`, sessionID)
	if err != nil {
		return entities.Session{}, err
	}
	allowed := make([]entities.Identity, 0, len(members))
	for _, pair := range members {
		allowed = append(allowed, entities.Identity(pair[0]))
	}

	session := entities.Session{
		SessionID:     sessionID,
		Title:         title,
		Options:       options,
		Access:        entities.NewAccessControlList(entities.Identity(creatorID), allowed...),
		Votes:         make(map[entities.Identity]int),
		Delegations:   make(entities.DelegationGraph),
		Closed:        closed,
		ResultsPublic: resultsPublic,
		CreatedAt:     fromMillis(createdAt),
		UpdatedAt:     fromMillis(updatedAt),
	}
	if closedAt.Valid {
		value := fromMillis(closedAt.Int64)
		session.ClosedAt = &value
	}

	ballots, err := s.sqlDB.QueryContext(ctx,
		`SELECT voter_id, option_index FROM voting_session_ballots WHERE session_id = ?`, sessionID)
	if err != nil {
		return entities.Session{}, err
	}
	defer ballots.Close()
	for ballots.Next() {
		var voterID string
		var option int
		if err := ballots.Scan(&voterID, &option); err != nil {
			return entities.Session{}, err
		}
		session.Votes[entities.Identity(voterID)] = option
	}
	if err := ballots.Err(); err != nil {
		return entities.Session{}, err
	}

	edges, err := s.queryPairs(ctx,
		`SELECT delegator_id, delegate_id FROM voting_session_delegations WHERE session_id = ?`, sessionID)
	if err != nil {
		return entities.Session{}, err
	}
	for _, pair := range edges {
		session.Delegations[entities.Identity(pair[0])] = entities.Identity(pair[1])
	}
	return session, nil
}

func (s *Store) queryPairs(ctx context.Context, query string, sessionID uint64) ([][2]string, error) {
	rows, err := s.sqlDB.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items [][2]string
	for rows.Next() {
		var pair [2]string
		if err := rows.Scan(&pair[0], &pair[1]); err != nil {
			return nil, err
		}
		items = append(items, pair)
	}
	return items, rows.Err()
}

// appendOutbox inserts one pending row inside tx. Replaying an identical
// payload under a known event id is accepted; a different payload conflicts.
func (s *Store) appendOutbox(ctx context.Context, tx *sql.Tx, envelope ports.EventEnvelope) error {
	payload, err := json.Marshal(envelope)
	if err != nil {
		return s.logError("voting_sqlite_append_outbox_marshal_failed", err,
			"event_id", strings.TrimSpace(envelope.EventID),
		)
	}
	outboxID := strings.TrimSpace(envelope.EventID)
	if outboxID == "" {
		outboxID = uuid.NewString()
	}
	createdAt := envelope.OccurredAt.UTC()
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO voting_session_outbox (outbox_id, event_type, partition_key, payload, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		outboxID,
		strings.TrimSpace(envelope.EventType),
		strings.TrimSpace(envelope.PartitionKey),
		payload,
		outboxStatusPending,
		toMillis(createdAt),
	)
	if err == nil {
		return nil
	}
	if !isUniqueViolation(err) {
		return s.logError("voting_sqlite_append_outbox_insert_failed", err, "outbox_id", outboxID)
	}

	var existing []byte
	if err := tx.QueryRowContext(ctx,
		`SELECT payload FROM voting_session_outbox WHERE outbox_id = ?`, outboxID,
	).Scan(&existing); err != nil {
		return s.logError("voting_sqlite_append_outbox_load_existing_failed", err, "outbox_id", outboxID)
	}
	if string(existing) != string(payload) {
		return domainerrors.ErrConflict
	}
	return nil
}

func (s *Store) ListPendingOutbox(ctx context.Context, limit int) ([]ports.OutboxMessage, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT outbox_id, event_type, partition_key, payload, created_at
		 FROM voting_session_outbox
		 WHERE status = ?
		 ORDER BY sequence ASC
		 LIMIT ?`,
		outboxStatusPending, limit,
	)
	if err != nil {
		return nil, s.logError("voting_sqlite_list_pending_outbox_failed", err, "limit", limit)
	}
	defer rows.Close()

	items := make([]ports.OutboxMessage, 0)
	for rows.Next() {
		var message ports.OutboxMessage
		var createdAt int64
		if err := rows.Scan(&message.OutboxID, &message.EventType, &message.PartitionKey, &message.Payload, &createdAt); err != nil {
			return nil, s.logError("voting_sqlite_list_pending_outbox_failed", err, "limit", limit)
		}
		message.CreatedAt = fromMillis(createdAt)
		items = append(items, message)
	}
	if err := rows.Err(); err != nil {
		return nil, s.logError("voting_sqlite_list_pending_outbox_failed", err, "limit", limit)
	}
	return items, nil
}

func (s *Store) MarkOutboxPublished(ctx context.Context, outboxID string, publishedAt time.Time) error {
	result, err := s.sqlDB.ExecContext(ctx,
		`UPDATE voting_session_outbox SET status = ?, published_at = ? WHERE outbox_id = ?`,
		outboxStatusPublished, toMillis(publishedAt), strings.TrimSpace(outboxID),
	)
	if err != nil {
		return s.logError("voting_sqlite_mark_outbox_published_failed", err, "outbox_id", outboxID)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return s.logError("voting_sqlite_mark_outbox_published_failed", err, "outbox_id", outboxID)
	}
	if affected == 0 {
		return domainerrors.ErrConflict
	}
	return nil
}

func (s *Store) SaveFinalTally(ctx context.Context, tally entities.Tally, finalizedAt time.Time) error {
	options, err := json.Marshal(tally.Options)
	if err != nil {
		return err
	}
	counts, err := json.Marshal(tally.Counts)
	if err != nil {
		return err
	}
	if _, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO voting_final_tallies (session_id, options, counts, abstentions, eligible, finalized_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (session_id) DO UPDATE SET
		   options = excluded.options,
		   counts = excluded.counts,
		   abstentions = excluded.abstentions,
		   eligible = excluded.eligible,
		   finalized_at = excluded.finalized_at`,
		tally.SessionID, string(options), string(counts), tally.Abstentions, tally.Eligible, toMillis(finalizedAt),
	); err != nil {
		return s.logError("voting_sqlite_save_final_tally_failed", err, "session_id", tally.SessionID)
	}
	return nil
}

func (s *Store) GetFinalTally(ctx context.Context, sessionID uint64) (entities.Tally, error) {
	var optionsJSON, countsJSON string
	tally := entities.Tally{SessionID: sessionID, Closed: true}
	var finalizedAt int64
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT options, counts, abstentions, eligible, finalized_at FROM voting_final_tallies WHERE session_id = ?`,
		sessionID,
	).Scan(&optionsJSON, &countsJSON, &tally.Abstentions, &tally.Eligible, &finalizedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return entities.Tally{}, domainerrors.ErrResultsNotFinalized
		}
		return entities.Tally{}, s.logError("voting_sqlite_get_final_tally_failed", err, "session_id", sessionID)
	}
	if err := json.Unmarshal([]byte(optionsJSON), &tally.Options); err != nil {
		return entities.Tally{}, err
	}
	if err := json.Unmarshal([]byte(countsJSON), &tally.Counts); err != nil {
		return entities.Tally{}, err
	}
	return tally, nil
}

func (s *Store) translate(event string, err error, sessionID uint64) error {
	if isUniqueViolation(err) {
		return domainerrors.ErrConflict
	}
	return s.logError(event, err, "session_id", sessionID)
}

func (s *Store) logError(event string, err error, attrs ...any) error {
	fields := make([]any, 0, len(attrs)+8)
	fields = append(fields,
		"event", event,
		"module", application.ModuleName,
		"layer", "adapter",
		"error", err.Error(),
	)
	fields = append(fields, attrs...)
	s.logger.Error("voting session sqlite operation failed", fields...)
	return err
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}

var _ ports.SessionRepository = (*Store)(nil)
var _ ports.OutboxRepository = (*Store)(nil)
var _ ports.ResultArchive = (*Store)(nil)
