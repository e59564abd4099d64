package proposalengine

import (
	"log/slog"

	httpadapter "consilium/contexts/decision-core/proposal-engine/adapters/http"
	"consilium/contexts/decision-core/proposal-engine/adapters/memory"
	"consilium/contexts/decision-core/proposal-engine/application/commands"
	"consilium/contexts/decision-core/proposal-engine/ports"
)

type Module struct {
	Handler httpadapter.Handler
	Store   *memory.Store
}

type Dependencies struct {
	Store  ports.Store
	Clock  ports.Clock
	IDGen  ports.IDGenerator
	Source string
	Logger *slog.Logger
}

func NewModule(deps Dependencies) Module {
	engine := commands.ApprovalEngine{Logger: deps.Logger}
	strategies := commands.DefaultStrategies(deps.IDGen)
	evaluator := commands.Evaluator{
		Engine: engine,
		IDGen:  deps.IDGen,
		Source: deps.Source,
		Logger: deps.Logger,
	}
	approvalUseCase := commands.ApprovalUseCase{
		Store:      deps.Store,
		Engine:     engine,
		Strategies: strategies,
		Clock:      deps.Clock,
		IDGen:      deps.IDGen,
		Source:     deps.Source,
		Logger:     deps.Logger,
	}
	membershipUseCase := commands.MembershipUseCase{
		Store:  deps.Store,
		Engine: engine,
		Clock:  deps.Clock,
		IDGen:  deps.IDGen,
		Source: deps.Source,
		Logger: deps.Logger,
	}
	voteUseCase := commands.VoteUseCase{
		Store:      deps.Store,
		Evaluator:  evaluator,
		Strategies: strategies,
		Clock:      deps.Clock,
		IDGen:      deps.IDGen,
		Logger:     deps.Logger,
	}
	return Module{
		Handler: httpadapter.Handler{
			Approvals:   approvalUseCase,
			Memberships: membershipUseCase,
			Votes:       voteUseCase,
			Logger:      deps.Logger,
		},
	}
}

func NewInMemoryModule(source string, logger *slog.Logger) Module {
	store := memory.NewStore()
	module := NewModule(Dependencies{
		Store:  store,
		Clock:  store,
		IDGen:  store,
		Source: source,
		Logger: logger,
	})
	module.Store = store
	return module
}
