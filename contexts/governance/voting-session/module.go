package votingsession

import (
	"log/slog"

	httpadapter "ballotbox/contexts/governance/voting-session/adapters/http"
	"ballotbox/contexts/governance/voting-session/adapters/memory"
	"ballotbox/contexts/governance/voting-session/application/commands"
	"ballotbox/contexts/governance/voting-session/application/queries"
	"ballotbox/contexts/governance/voting-session/application/workers"
	"ballotbox/contexts/governance/voting-session/domain/entities"
	"ballotbox/contexts/governance/voting-session/ports"
)

type Module struct {
	Handler  httpadapter.Handler
	Registry commands.SessionRegistry
	Results  queries.ResultsUseCase
	Store    *memory.Store
}

type Dependencies struct {
	Sessions ports.SessionRepository
	Archive  ports.ResultArchive
	Clock    ports.Clock
	IDGen    ports.IDGenerator
	Logger   *slog.Logger
}

func NewModule(deps Dependencies) Module {
	registry := commands.SessionRegistry{
		Sessions: deps.Sessions,
		Clock:    deps.Clock,
		IDGen:    deps.IDGen,
		Locks:    commands.NewSessionLocks(),
		Logger:   deps.Logger,
	}
	results := queries.ResultsUseCase{
		Sessions: deps.Sessions,
		Archive:  deps.Archive,
		Logger:   deps.Logger,
	}
	return Module{
		Handler: httpadapter.Handler{
			Registry: registry,
			Results:  results,
			Logger:   deps.Logger,
		},
		Registry: registry,
		Results:  results,
	}
}

func NewInMemoryModule(seed []entities.Session, logger *slog.Logger) Module {
	store := memory.NewStore(seed)
	module := NewModule(Dependencies{
		Sessions: store,
		Archive:  store,
		Clock:    store,
		IDGen:    store,
		Logger:   logger,
	})
	module.Store = store
	return module
}

// WorkerDependencies wires the background side of the module.
type WorkerDependencies struct {
	Sessions   ports.SessionRepository
	Outbox     ports.OutboxRepository
	Archive    ports.ResultArchive
	Publisher  ports.EventPublisher
	Subscriber ports.EventSubscriber
	Clock      ports.Clock
	BatchSize  int
	Logger     *slog.Logger
}

type Workers struct {
	OutboxRelay workers.OutboxRelay
	Finalizer   workers.ResultsFinalizer
}

func NewWorkers(deps WorkerDependencies) Workers {
	return Workers{
		OutboxRelay: workers.OutboxRelay{
			Outbox:    deps.Outbox,
			Publisher: deps.Publisher,
			Clock:     deps.Clock,
			BatchSize: deps.BatchSize,
			Logger:    deps.Logger,
		},
		Finalizer: workers.ResultsFinalizer{
			Subscriber: deps.Subscriber,
			Sessions:   deps.Sessions,
			Archive:    deps.Archive,
			Clock:      deps.Clock,
			Logger:     deps.Logger,
		},
	}
}
