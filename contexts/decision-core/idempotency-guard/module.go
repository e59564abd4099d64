package idempotencyguard

import (
	"log/slog"
	"time"

	"consilium/contexts/decision-core/idempotency-guard/adapters/memory"
	"consilium/contexts/decision-core/idempotency-guard/application"
	"consilium/contexts/decision-core/idempotency-guard/ports"
)

type Module struct {
	Wrapper application.Wrapper
	Store   *memory.Store
}

type Dependencies struct {
	Store  ports.Store
	Clock  ports.Clock
	IDGen  ports.IDGenerator
	TTL    time.Duration
	Logger *slog.Logger
}

func NewModule(deps Dependencies) Module {
	return Module{
		Wrapper: application.Guard{
			Store:  deps.Store,
			Clock:  deps.Clock,
			IDGen:  deps.IDGen,
			TTL:    deps.TTL,
			Logger: deps.Logger,
		},
	}
}

func NewInMemoryModule(logger *slog.Logger) Module {
	store := memory.NewStore()
	module := NewModule(Dependencies{
		Store:  store,
		Clock:  store,
		IDGen:  store,
		TTL:    24 * time.Hour,
		Logger: logger,
	})
	module.Store = store
	return module
}
