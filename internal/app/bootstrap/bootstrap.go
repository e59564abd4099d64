package bootstrap

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	eventrelay "consilium/contexts/decision-core/event-relay"
	relaypostgres "consilium/contexts/decision-core/event-relay/adapters/postgres"
	relayworkers "consilium/contexts/decision-core/event-relay/application/workers"
	idempotencyguard "consilium/contexts/decision-core/idempotency-guard"
	guardpostgres "consilium/contexts/decision-core/idempotency-guard/adapters/postgres"
	guardapp "consilium/contexts/decision-core/idempotency-guard/application"
	proposalengine "consilium/contexts/decision-core/proposal-engine"
	proposalpostgres "consilium/contexts/decision-core/proposal-engine/adapters/postgres"
	proposalcommands "consilium/contexts/decision-core/proposal-engine/application/commands"
	"consilium/internal/platform/config"
	"consilium/internal/platform/db"
	"consilium/internal/platform/httpserver"
	"consilium/internal/platform/messaging"
)

// Package bootstrap is the composition root.
// Keep construction/wiring here so module code stays framework-agnostic.

// SystemUserID owns idempotency records acquired by background dispatch
// rather than by an end user.
const SystemUserID = "00000000-0000-0000-0000-000000000000"

type APIApp struct {
	server   *httpserver.Server
	postgres *db.Postgres
	logger   *slog.Logger
}

type WorkerApp struct {
	postgres *db.Postgres
	relay    eventrelay.Module
	logger   *slog.Logger
}

func BuildAPI() (*APIApp, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logger := slog.Default().With("service", cfg.ServiceName, "process", "api")
	if strings.TrimSpace(cfg.PostgresDSN) == "" {
		return nil, errors.New("POSTGRES_DSN is required")
	}

	pg, err := db.Connect(cfg.PostgresDSN, db.Options{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
	})
	if err != nil {
		return nil, err
	}

	guardRepo := guardpostgres.NewRepository(pg.DB, logger)
	proposalRepo := proposalpostgres.NewRepository(pg.DB, logger)
	relayRepo := relaypostgres.NewRepository(pg.DB, logger)
	for _, migrate := range []func() error{guardRepo.Migrate, proposalRepo.Migrate, relayRepo.Migrate} {
		if err := migrate(); err != nil {
			_ = pg.Close()
			return nil, err
		}
	}

	guardModule := idempotencyguard.NewModule(idempotencyguard.Dependencies{
		Store:  guardRepo,
		Clock:  guardpostgres.SystemClock{},
		IDGen:  guardpostgres.UUIDGenerator{},
		TTL:    cfg.IdempotencyTTL,
		Logger: logger,
	})
	proposalModule := proposalengine.NewModule(proposalengine.Dependencies{
		Store:  proposalRepo,
		Clock:  proposalpostgres.SystemClock{},
		IDGen:  proposalpostgres.UUIDGenerator{},
		Source: cfg.ServiceName,
		Logger: logger,
	})
	relayModule := eventrelay.NewModule(eventrelay.Dependencies{
		Store:    relayRepo,
		Reader:   relayRepo,
		Clock:    guardpostgres.SystemClock{},
		WorkerID: cfg.WorkerID,
		Logger:   logger,
	})

	server := httpserver.New(
		proposalModule,
		relayModule,
		guardModule.Wrapper,
		httpserver.StreamConfig{
			PollInterval: cfg.StreamPollInterval,
			Heartbeat:    cfg.StreamHeartbeat,
			RetryMillis:  cfg.StreamRetryMillis,
		},
		logger,
		normalizeAddr(cfg.HTTPPort),
	)
	return &APIApp{
		server:   server,
		postgres: pg,
		logger:   logger,
	}, nil
}

func BuildWorker() (*WorkerApp, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logger := slog.Default().With("service", cfg.ServiceName, "process", "worker")
	if strings.TrimSpace(cfg.PostgresDSN) == "" {
		return nil, errors.New("POSTGRES_DSN is required")
	}

	pg, err := db.Connect(cfg.PostgresDSN, db.Options{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
	})
	if err != nil {
		return nil, err
	}

	guardRepo := guardpostgres.NewRepository(pg.DB, logger)
	relayRepo := relaypostgres.NewRepository(pg.DB, logger)
	for _, migrate := range []func() error{guardRepo.Migrate, relayRepo.Migrate} {
		if err := migrate(); err != nil {
			_ = pg.Close()
			return nil, err
		}
	}

	guardModule := idempotencyguard.NewModule(idempotencyguard.Dependencies{
		Store:  guardRepo,
		Clock:  guardpostgres.SystemClock{},
		IDGen:  guardpostgres.UUIDGenerator{},
		TTL:    cfg.IdempotencyTTL,
		Logger: logger,
	})
	relayModule := eventrelay.NewModule(eventrelay.Dependencies{
		Store:       relayRepo,
		Reader:      relayRepo,
		Guard:       DispatchGuard{Wrapper: guardModule.Wrapper},
		Clock:       guardpostgres.SystemClock{},
		WorkerID:    cfg.WorkerID,
		BatchSize:   cfg.OutboxBatchSize,
		LockTTL:     cfg.OutboxLockTTL,
		MaxAttempts: cfg.OutboxMaxAttempts,
		PollEvery:   cfg.OutboxPollInterval,
		Logger:      logger,
	})

	bus := messaging.NewBus(logger)
	notifications := relayworkers.NotificationHandler{Publisher: bus, Logger: logger}
	RegisterHandlers(relayModule.Registry, notifications)

	return &WorkerApp{
		postgres: pg,
		relay:    relayModule,
		logger:   logger,
	}, nil
}

// RegisterHandlers binds the notification handler to every decision event
// type the relay delivers.
func RegisterHandlers(registry *relayworkers.HandlerRegistry, notifications relayworkers.NotificationHandler) {
	for _, eventType := range []string{
		proposalcommands.EventProposalApproved,
		proposalcommands.EventProposalRejected,
		proposalcommands.EventMembershipApproved,
		proposalcommands.EventMembershipRejected,
	} {
		registry.Register(eventType, notifications)
	}
}

// DispatchGuard adapts the idempotency wrapper to the relay's guard port.
// Dispatch has no end user, so records are owned by the system user with a
// synthetic method and path derived from the outbox key.
type DispatchGuard struct {
	Wrapper guardapp.Wrapper
}

func (g DispatchGuard) Execute(ctx context.Context, key string, fn func(context.Context) error) error {
	_, err := g.Wrapper.Wrap(ctx, guardapp.WrapRequest{
		OwnerID: SystemUserID,
		Key:     key,
		Method:  "OUTBOX_HANDLER",
		Path:    "/outbox/" + key,
	}, func(ctx context.Context) (guardapp.WrapResponse, error) {
		if err := fn(ctx); err != nil {
			return guardapp.WrapResponse{}, err
		}
		// The stored body must be non-nil so a crash between handler success
		// and MarkDone replays as a completed call instead of a corrupt record.
		return guardapp.WrapResponse{Code: 200, Body: []byte("{}")}, nil
	})
	return err
}

func (a *APIApp) Run(_ context.Context) error {
	if a.logger != nil {
		a.logger.Info("api app started",
			"event", "bootstrap_api_started",
			"module", "internal/app/bootstrap",
			"layer", "platform",
		)
	}
	return a.server.Start()
}

func (a *APIApp) Close() error {
	if a.postgres != nil {
		return a.postgres.Close()
	}
	return nil
}

func (w *WorkerApp) Run(ctx context.Context) error {
	w.logger.Info("worker app started",
		"event", "bootstrap_worker_started",
		"module", "internal/app/bootstrap",
		"layer", "platform",
	)
	if err := w.relay.Dispatcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (w *WorkerApp) Close() error {
	if w.postgres != nil {
		return w.postgres.Close()
	}
	return nil
}

func normalizeAddr(port string) string {
	value := strings.TrimSpace(port)
	if value == "" {
		return ":8080"
	}
	if strings.HasPrefix(value, ":") {
		return value
	}
	return ":" + value
}
