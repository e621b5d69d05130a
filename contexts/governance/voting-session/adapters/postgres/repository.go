package postgresadapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	application "ballotbox/contexts/governance/voting-session/application"
	"ballotbox/contexts/governance/voting-session/domain/entities"
	domainerrors "ballotbox/contexts/governance/voting-session/domain/errors"
	"ballotbox/contexts/governance/voting-session/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	outboxStatusPending   = "pending"
	outboxStatusPublished = "published"
	sessionIDSequence     = "voting_session_id_seq"
)

type Repository struct {
	db     *gorm.DB
	logger *slog.Logger
}

func NewRepository(db *gorm.DB, logger *slog.Logger) *Repository {
	if logger == nil {
		logger = slog.Default()
	}
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// EnsureSchema creates the session tables and the id sequence when absent.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	tx := r.db.WithContext(ctx)
	if err := tx.Exec("CREATE SEQUENCE IF NOT EXISTS " + sessionIDSequence + " START 1").Error; err != nil {
		return r.logError("voting_repo_create_sequence_failed", err)
	}
	if err := tx.AutoMigrate(
		&sessionModel{},
		&voterModel{},
		&ballotModel{},
		&delegationModel{},
		&outboxModel{},
		&finalTallyModel{},
	); err != nil {
		return r.logError("voting_repo_migrate_failed", err)
	}
	return nil
}

// NextSessionID draws from a sequence so ids stay unique across API replicas.
func (r *Repository) NextSessionID(ctx context.Context) (uint64, error) {
	var next int64
	if err := r.db.WithContext(ctx).
		Raw("SELECT nextval(?)", sessionIDSequence).
		Scan(&next).Error; err != nil {
		return 0, r.logError("voting_repo_next_session_id_failed", err)
	}
	return uint64(next), nil
}

// SaveSession upserts the session row, replaces its voter, ballot and
// delegation rows and appends events to the outbox in one transaction.
func (r *Repository) SaveSession(ctx context.Context, session entities.Session, events ...ports.EventEnvelope) error {
	row, err := sessionModelFromEntity(session)
	if err != nil {
		return r.logError("voting_repo_encode_session_failed", err, "session_id", session.SessionID)
	}

	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "id"}},
			DoUpdates: clause.Assignments(map[string]any{
				"title":          row.Title,
				"options":        row.Options,
				"closed":         row.Closed,
				"results_public": row.ResultsPublic,
				"updated_at":     row.UpdatedAt,
				"closed_at":      row.ClosedAt,
			}),
		}).Create(&row).Error; err != nil {
			return err
		}

		for _, model := range []any{&voterModel{}, &ballotModel{}, &delegationModel{}} {
			if err := tx.Where("session_id = ?", session.SessionID).Delete(model).Error; err != nil {
				return err
			}
		}

		voters := make([]voterModel, 0, session.Access.Len())
		for _, member := range session.Access.Members() {
			voters = append(voters, voterModel{SessionID: session.SessionID, VoterID: member.String()})
		}
		if len(voters) > 0 {
			if err := tx.Create(&voters).Error; err != nil {
				return err
			}
		}

		ballots := make([]ballotModel, 0, len(session.Votes))
		for _, ballot := range session.Ballots() {
			ballots = append(ballots, ballotModel{
				SessionID:   session.SessionID,
				VoterID:     ballot.Voter.String(),
				OptionIndex: ballot.OptionIndex,
			})
		}
		if len(ballots) > 0 {
			if err := tx.Create(&ballots).Error; err != nil {
				return err
			}
		}

		edges := make([]delegationModel, 0, len(session.Delegations))
		for _, edge := range session.Delegations.Edges() {
			edges = append(edges, delegationModel{
				SessionID:   session.SessionID,
				DelegatorID: edge.Delegator.String(),
				DelegateID:  edge.Delegate.String(),
			})
		}
		if len(edges) > 0 {
			if err := tx.Create(&edges).Error; err != nil {
				return err
			}
		}
		for _, envelope := range events {
			if err := r.appendOutbox(tx, envelope); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, domainerrors.ErrConflict) || isUniqueViolation(err) {
			return domainerrors.ErrConflict
		}
		return r.logError("voting_repo_save_session_failed", err, "session_id", session.SessionID)
	}
	return nil
}

func (r *Repository) GetSession(ctx context.Context, sessionID uint64) (entities.Session, error) {
	var row sessionModel
	err := r.db.WithContext(ctx).
		Where("id = ?", sessionID).
		First(&row).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return entities.Session{}, domainerrors.ErrSessionNotFound
		}
		return entities.Session{}, r.logError("voting_repo_get_session_failed", err, "session_id", sessionID)
	}
	return r.hydrate(ctx, row)
}

func (r *Repository) ListSessions(ctx context.Context) ([]entities.Session, error) {
	var rows []sessionModel
	if err := r.db.WithContext(ctx).
		Order("id ASC").
		Find(&rows).Error; err != nil {
		return nil, r.logError("voting_repo_list_sessions_failed", err)
	}
	items := make([]entities.Session, 0, len(rows))
	for _, row := range rows {
		session, err := r.hydrate(ctx, row)
		if err != nil {
			return nil, err
		}
		items = append(items, session)
	}
	return items, nil
}

func (r *Repository) hydrate(ctx context.Context, row sessionModel) (entities.Session, error) {
	var options []string
	if err := json.Unmarshal(row.Options, &options); err != nil {
		return entities.Session{}, r.logError("voting_repo_decode_options_failed", err, "session_id", row.ID)
	}

	tx := r.db.WithContext(ctx)
	var voters []voterModel
	if err := tx.Where("session_id = ?", row.ID).Find(&voters).Error; err != nil {
		return entities.Session{}, r.logError("voting_repo_list_voters_failed", err, "session_id", row.ID)
	}
	var ballots []ballotModel
	if err := tx.Where("session_id = ?", row.ID).Find(&ballots).Error; err != nil {
		return entities.Session{}, r.logError("voting_repo_list_ballots_failed", err, "session_id", row.ID)
	}
	var edges []delegationModel
	if err := tx.Where("session_id = ?", row.ID).Find(&edges).Error; err != nil {
		return entities.Session{}, r.logError("voting_repo_list_delegations_failed", err, "session_id", row.ID)
	}

	members := make([]entities.Identity, 0, len(voters))
	for _, voter := range voters {
		members = append(members, entities.Identity(voter.VoterID))
	}
	session := entities.Session{
		SessionID:     row.ID,
		Title:         row.Title,
		Options:       options,
		Access:        entities.NewAccessControlList(entities.Identity(row.CreatorID), members...),
		Votes:         make(map[entities.Identity]int, len(ballots)),
		Delegations:   make(entities.DelegationGraph, len(edges)),
		Closed:        row.Closed,
		ResultsPublic: row.ResultsPublic,
		CreatedAt:     row.CreatedAt.UTC(),
		UpdatedAt:     row.UpdatedAt.UTC(),
		ClosedAt:      normalizeOptionalTime(row.ClosedAt),
	}
	for _, ballot := range ballots {
		session.Votes[entities.Identity(ballot.VoterID)] = ballot.OptionIndex
	}
	for _, edge := range edges {
		session.Delegations[entities.Identity(edge.DelegatorID)] = entities.Identity(edge.DelegateID)
	}
	return session, nil
}

// appendOutbox inserts one pending row through tx. Replaying an identical
// payload under a known event id is accepted; a different payload conflicts.
func (r *Repository) appendOutbox(tx *gorm.DB, envelope ports.EventEnvelope) error {
	payload, err := json.Marshal(envelope)
	if err != nil {
		return r.logError("voting_repo_append_outbox_marshal_failed", err,
			"event_id", strings.TrimSpace(envelope.EventID),
			"event_type", strings.TrimSpace(envelope.EventType),
		)
	}
	row := outboxModel{
		OutboxID:     strings.TrimSpace(envelope.EventID),
		EventType:    strings.TrimSpace(envelope.EventType),
		PartitionKey: strings.TrimSpace(envelope.PartitionKey),
		Payload:      payload,
		Status:       outboxStatusPending,
		CreatedAt:    envelope.OccurredAt.UTC(),
	}
	if row.OutboxID == "" {
		row.OutboxID = uuid.NewString()
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	create := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "outbox_id"}},
		DoNothing: true,
	}).Create(&row)
	if create.Error != nil {
		return r.logError("voting_repo_append_outbox_insert_failed", create.Error,
			"outbox_id", row.OutboxID,
		)
	}
	if create.RowsAffected > 0 {
		return nil
	}

	var existing outboxModel
	if err := tx.
		Select("payload").
		Where("outbox_id = ?", row.OutboxID).
		First(&existing).Error; err != nil {
		return r.logError("voting_repo_append_outbox_load_existing_failed", err,
			"outbox_id", row.OutboxID,
		)
	}
	if !bytes.Equal(existing.Payload, row.Payload) {
		return domainerrors.ErrConflict
	}
	return nil
}

func (r *Repository) ListPendingOutbox(ctx context.Context, limit int) ([]ports.OutboxMessage, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []outboxModel
	if err := r.db.WithContext(ctx).
		Where("status = ?", outboxStatusPending).
		Order("sequence ASC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, r.logError("voting_repo_list_pending_outbox_failed", err, "limit", limit)
	}
	items := make([]ports.OutboxMessage, 0, len(rows))
	for _, row := range rows {
		items = append(items, ports.OutboxMessage{
			OutboxID:     row.OutboxID,
			EventType:    row.EventType,
			PartitionKey: row.PartitionKey,
			Payload:      append([]byte(nil), row.Payload...),
			CreatedAt:    row.CreatedAt.UTC(),
		})
	}
	return items, nil
}

func (r *Repository) MarkOutboxPublished(ctx context.Context, outboxID string, publishedAt time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&outboxModel{}).
		Where("outbox_id = ?", strings.TrimSpace(outboxID)).
		Updates(map[string]any{
			"status":       outboxStatusPublished,
			"published_at": publishedAt.UTC(),
		})
	if result.Error != nil {
		return r.logError("voting_repo_mark_outbox_published_failed", result.Error,
			"outbox_id", strings.TrimSpace(outboxID),
		)
	}
	if result.RowsAffected == 0 {
		return domainerrors.ErrConflict
	}
	return nil
}

func (r *Repository) SaveFinalTally(ctx context.Context, tally entities.Tally, finalizedAt time.Time) error {
	row, err := finalTallyModelFromEntity(tally, finalizedAt)
	if err != nil {
		return r.logError("voting_repo_encode_final_tally_failed", err, "session_id", tally.SessionID)
	}
	if err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "session_id"}},
		DoUpdates: clause.Assignments(map[string]any{
			"options":      row.Options,
			"counts":       row.Counts,
			"abstentions":  row.Abstentions,
			"eligible":     row.Eligible,
			"finalized_at": row.FinalizedAt,
		}),
	}).Create(&row).Error; err != nil {
		return r.logError("voting_repo_save_final_tally_failed", err, "session_id", tally.SessionID)
	}
	return nil
}

func (r *Repository) GetFinalTally(ctx context.Context, sessionID uint64) (entities.Tally, error) {
	var row finalTallyModel
	err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		First(&row).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) || isUndefinedTable(err) {
			return entities.Tally{}, domainerrors.ErrResultsNotFinalized
		}
		return entities.Tally{}, r.logError("voting_repo_get_final_tally_failed", err, "session_id", sessionID)
	}
	tally, err := row.toEntity()
	if err != nil {
		return entities.Tally{}, r.logError("voting_repo_decode_final_tally_failed", err, "session_id", sessionID)
	}
	return tally, nil
}

func (r *Repository) logError(event string, err error, attrs ...any) error {
	fields := make([]any, 0, len(attrs)+8)
	fields = append(fields,
		"event", event,
		"module", application.ModuleName,
		"layer", "adapter",
		"error", err.Error(),
	)
	fields = append(fields, attrs...)
	r.logger.Error("voting session repository operation failed", fields...)
	return err
}

type sessionModel struct {
	ID            uint64     `gorm:"column:id;primaryKey;autoIncrement:false"`
	CreatorID     string     `gorm:"column:creator_id;not null"`
	Title         string     `gorm:"column:title;not null"`
	Options       []byte     `gorm:"column:options;type:jsonb;not null"`
	Closed        bool       `gorm:"column:closed;not null"`
	ResultsPublic bool       `gorm:"column:results_public;not null"`
	CreatedAt     time.Time  `gorm:"column:created_at"`
	UpdatedAt     time.Time  `gorm:"column:updated_at"`
	ClosedAt      *time.Time `gorm:"column:closed_at"`
}

func (sessionModel) TableName() string {
	return "voting_sessions"
}

func sessionModelFromEntity(session entities.Session) (sessionModel, error) {
	options, err := json.Marshal(session.Options)
	if err != nil {
		return sessionModel{}, err
	}
	row := sessionModel{
		ID:            session.SessionID,
		CreatorID:     session.Creator().String(),
		Title:         session.Title,
		Options:       options,
		Closed:        session.Closed,
		ResultsPublic: session.ResultsPublic,
		CreatedAt:     session.CreatedAt.UTC(),
		UpdatedAt:     session.UpdatedAt.UTC(),
		ClosedAt:      normalizeOptionalTime(session.ClosedAt),
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	if row.UpdatedAt.IsZero() {
		row.UpdatedAt = row.CreatedAt
	}
	return row, nil
}

type voterModel struct {
	SessionID uint64 `gorm:"column:session_id;primaryKey;autoIncrement:false"`
	VoterID   string `gorm:"column:voter_id;primaryKey"`
}

func (voterModel) TableName() string {
	return "voting_session_voters"
}

type ballotModel struct {
	SessionID   uint64 `gorm:"column:session_id;primaryKey;autoIncrement:false"`
	VoterID     string `gorm:"column:voter_id;primaryKey"`
	OptionIndex int    `gorm:"column:option_index;not null"`
}

func (ballotModel) TableName() string {
	return "voting_session_ballots"
}

type delegationModel struct {
	SessionID   uint64 `gorm:"column:session_id;primaryKey;autoIncrement:false"`
	DelegatorID string `gorm:"column:delegator_id;primaryKey"`
	DelegateID  string `gorm:"column:delegate_id;not null"`
}

func (delegationModel) TableName() string {
	return "voting_session_delegations"
}

type outboxModel struct {
	Sequence     int64      `gorm:"column:sequence;autoIncrement;uniqueIndex"`
	OutboxID     string     `gorm:"column:outbox_id;primaryKey"`
	EventType    string     `gorm:"column:event_type"`
	PartitionKey string     `gorm:"column:partition_key"`
	Payload      []byte     `gorm:"column:payload"`
	Status       string     `gorm:"column:status;index"`
	CreatedAt    time.Time  `gorm:"column:created_at"`
	PublishedAt  *time.Time `gorm:"column:published_at"`
}

func (outboxModel) TableName() string {
	return "voting_session_outbox"
}

type finalTallyModel struct {
	SessionID   uint64    `gorm:"column:session_id;primaryKey;autoIncrement:false"`
	Options     []byte    `gorm:"column:options;type:jsonb"`
	Counts      []byte    `gorm:"column:counts;type:jsonb"`
	Abstentions int       `gorm:"column:abstentions"`
	Eligible    int       `gorm:"column:eligible"`
	FinalizedAt time.Time `gorm:"column:finalized_at"`
}

func (finalTallyModel) TableName() string {
	return "voting_final_tallies"
}

func finalTallyModelFromEntity(tally entities.Tally, finalizedAt time.Time) (finalTallyModel, error) {
	options, err := json.Marshal(tally.Options)
	if err != nil {
		return finalTallyModel{}, err
	}
	counts, err := json.Marshal(tally.Counts)
	if err != nil {
		return finalTallyModel{}, err
	}
	return finalTallyModel{
		SessionID:   tally.SessionID,
		Options:     options,
		Counts:      counts,
		Abstentions: tally.Abstentions,
		Eligible:    tally.Eligible,
		FinalizedAt: finalizedAt.UTC(),
	}, nil
}

func (m finalTallyModel) toEntity() (entities.Tally, error) {
	tally := entities.Tally{
		SessionID:   m.SessionID,
		Abstentions: m.Abstentions,
		Eligible:    m.Eligible,
		Closed:      true,
	}
	if err := json.Unmarshal(m.Options, &tally.Options); err != nil {
		return entities.Tally{}, err
	}
	if err := json.Unmarshal(m.Counts, &tally.Counts); err != nil {
		return entities.Tally{}, err
	}
	return tally, nil
}

func normalizeOptionalTime(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	timestamp := value.UTC()
	return &timestamp
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func isUndefinedTable(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "42P01"
}

var _ ports.SessionRepository = (*Repository)(nil)
var _ ports.OutboxRepository = (*Repository)(nil)
var _ ports.ResultArchive = (*Repository)(nil)
