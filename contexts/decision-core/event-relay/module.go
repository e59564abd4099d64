package eventrelay

import (
	"log/slog"
	"time"

	"consilium/contexts/decision-core/event-relay/adapters/memory"
	"consilium/contexts/decision-core/event-relay/application/queries"
	"consilium/contexts/decision-core/event-relay/application/workers"
	"consilium/contexts/decision-core/event-relay/ports"
)

type Module struct {
	Dispatcher workers.Dispatcher
	Registry   *workers.HandlerRegistry
	Updates    queries.UpdatesUseCase
	Store      *memory.Store
}

type Dependencies struct {
	Store       ports.OutboxStore
	Reader      ports.CursorReader
	Guard       ports.Guard
	Clock       ports.Clock
	WorkerID    string
	BatchSize   int
	LockTTL     time.Duration
	MaxAttempts int
	PollEvery   time.Duration
	Logger      *slog.Logger
}

func NewModule(deps Dependencies) Module {
	registry := workers.NewHandlerRegistry()
	return Module{
		Dispatcher: workers.Dispatcher{
			Store:       deps.Store,
			Registry:    registry,
			Guard:       deps.Guard,
			Clock:       deps.Clock,
			WorkerID:    deps.WorkerID,
			BatchSize:   deps.BatchSize,
			LockTTL:     deps.LockTTL,
			MaxAttempts: deps.MaxAttempts,
			PollEvery:   deps.PollEvery,
			Logger:      deps.Logger,
		},
		Registry: registry,
		Updates: queries.UpdatesUseCase{
			Reader: deps.Reader,
			Logger: deps.Logger,
		},
	}
}

func NewInMemoryModule(workerID string, logger *slog.Logger) Module {
	store := memory.NewStore()
	module := NewModule(Dependencies{
		Store:    store,
		Reader:   store,
		Guard:    workers.PassthroughGuard{},
		Clock:    store,
		WorkerID: workerID,
		Logger:   logger,
	})
	module.Store = store
	return module
}
