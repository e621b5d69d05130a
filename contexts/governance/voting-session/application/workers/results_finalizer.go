package workers

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	application "ballotbox/contexts/governance/voting-session/application"
	"ballotbox/contexts/governance/voting-session/domain/services"
	"ballotbox/contexts/governance/voting-session/ports"
)

const (
	sessionClosedTopic    = "voting.session.closed"
	defaultFinalizerGroup = "voting-session-results-cg"
)

// ResultsFinalizer archives the final tally once a session closes. Votes are
// frozen after close, so replaying the same event rewrites an identical
// snapshot.
type ResultsFinalizer struct {
	Subscriber    ports.EventSubscriber
	Sessions      ports.SessionRepository
	Archive       ports.ResultArchive
	Clock         ports.Clock
	ConsumerGroup string
	Disabled      bool
	Logger        *slog.Logger
}

func (f ResultsFinalizer) Start(ctx context.Context) error {
	logger := application.ResolveLogger(f.Logger)
	if f.Disabled {
		logger.Info("results finalizer disabled by configuration",
			"event", "voting_results_finalizer_disabled",
			"module", application.ModuleName,
			"layer", "worker",
		)
		return nil
	}
	group := strings.TrimSpace(f.ConsumerGroup)
	if group == "" {
		group = defaultFinalizerGroup
	}
	if err := f.Subscriber.Subscribe(ctx, sessionClosedTopic, group, f.HandleSessionClosed); err != nil {
		logger.Error("results finalizer subscribe failed",
			"event", "voting_results_finalizer_subscribe_failed",
			"module", application.ModuleName,
			"layer", "worker",
			"topic", sessionClosedTopic,
			"consumer_group", group,
			"error", err.Error(),
		)
		return err
	}
	logger.Info("results finalizer subscription active",
		"event", "voting_results_finalizer_started",
		"module", application.ModuleName,
		"layer", "worker",
		"topic", sessionClosedTopic,
		"consumer_group", group,
	)
	return nil
}

func (f ResultsFinalizer) HandleSessionClosed(ctx context.Context, event ports.EventEnvelope) error {
	logger := application.ResolveLogger(f.Logger)
	var payload struct {
		SessionID uint64 `json:"session_id"`
	}
	if err := json.Unmarshal(event.Data, &payload); err != nil {
		logger.Error("session.closed payload decode failed",
			"event", "voting_session_closed_decode_failed",
			"module", application.ModuleName,
			"layer", "worker",
			"event_id", event.EventID,
			"error", err.Error(),
		)
		return err
	}

	session, err := f.Sessions.GetSession(ctx, payload.SessionID)
	if err != nil {
		logger.Error("session.closed session load failed",
			"event", "voting_session_closed_load_failed",
			"module", application.ModuleName,
			"layer", "worker",
			"event_id", event.EventID,
			"session_id", payload.SessionID,
			"error", err.Error(),
		)
		return err
	}
	if !session.Closed {
		logger.Warn("session.closed event for open session ignored",
			"event", "voting_session_closed_stale",
			"module", application.ModuleName,
			"layer", "worker",
			"event_id", event.EventID,
			"session_id", payload.SessionID,
		)
		return nil
	}

	tally, err := services.ComputeTally(session)
	if err != nil {
		logger.Error("final tally failed",
			"event", "voting_final_tally_failed",
			"module", application.ModuleName,
			"layer", "worker",
			"event_id", event.EventID,
			"session_id", payload.SessionID,
			"fatal", true,
			"error", err.Error(),
		)
		return err
	}
	if err := f.Archive.SaveFinalTally(ctx, tally, f.now()); err != nil {
		logger.Error("final tally archive failed",
			"event", "voting_final_tally_archive_failed",
			"module", application.ModuleName,
			"layer", "worker",
			"event_id", event.EventID,
			"session_id", payload.SessionID,
			"error", err.Error(),
		)
		return err
	}

	logger.Info("session results finalized",
		"event", "voting_results_finalized",
		"module", application.ModuleName,
		"layer", "worker",
		"event_id", event.EventID,
		"session_id", payload.SessionID,
		"total_votes", tally.Total(),
		"abstentions", tally.Abstentions,
	)
	return nil
}

func (f ResultsFinalizer) now() time.Time {
	if f.Clock != nil {
		return f.Clock.Now().UTC()
	}
	return time.Now().UTC()
}
