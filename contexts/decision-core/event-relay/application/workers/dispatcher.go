package workers

import (
	"context"
	"log/slog"
	"time"

	application "consilium/contexts/decision-core/event-relay/application"
	"consilium/contexts/decision-core/event-relay/domain/entities"
	"consilium/contexts/decision-core/event-relay/ports"
)

const (
	defaultBatchSize   = 10
	defaultLockTTL     = 5 * time.Minute
	defaultMaxAttempts = 3
	defaultPollEvery   = 5 * time.Second
)

// Dispatcher claims due outbox rows and drives their handlers. Rows are
// locked per worker during a claim; handler execution happens outside any
// database transaction so a crash mid-handler leaves the row claimable again
// after the lock TTL.
type Dispatcher struct {
	Store       ports.OutboxStore
	Registry    *HandlerRegistry
	Guard       ports.Guard
	Clock       ports.Clock
	WorkerID    string
	BatchSize   int
	LockTTL     time.Duration
	MaxAttempts int
	PollEvery   time.Duration
	Logger      *slog.Logger
}

// RunOnce claims one batch and dispatches every row in it. Per-row failures
// are recorded on the row and do not stop the batch. Returns the number of
// rows claimed.
func (d Dispatcher) RunOnce(ctx context.Context) (int, error) {
	logger := application.ResolveLogger(d.Logger)
	now := d.now()

	batch, err := d.Store.Claim(ctx, d.WorkerID, d.batchSize(), now, d.lockTTL())
	if err != nil {
		logger.Error("outbox claim failed",
			"event", "relay_outbox_claim_failed",
			"module", "decision-core/event-relay",
			"layer", "worker",
			"worker_id", d.WorkerID,
			"error", err.Error(),
		)
		return 0, err
	}
	if len(batch) == 0 {
		return 0, nil
	}
	logger.Info("outbox batch claimed",
		"event", "relay_outbox_batch_claimed",
		"module", "decision-core/event-relay",
		"layer", "worker",
		"worker_id", d.WorkerID,
		"batch_size", len(batch),
	)

	for _, event := range batch {
		d.dispatch(ctx, event)
	}
	return len(batch), nil
}

// Run polls until ctx is canceled. The in-flight batch finishes before Run
// returns so claimed rows are not abandoned to the lock TTL on shutdown.
func (d Dispatcher) Run(ctx context.Context) error {
	logger := application.ResolveLogger(d.Logger)
	logger.Info("outbox dispatcher started",
		"event", "relay_dispatcher_started",
		"module", "decision-core/event-relay",
		"layer", "worker",
		"worker_id", d.WorkerID,
		"poll_interval", d.pollEvery().String(),
		"handler_types", d.Registry.EventTypes(),
	)

	ticker := time.NewTicker(d.pollEvery())
	defer ticker.Stop()
	for {
		if _, err := d.RunOnce(context.WithoutCancel(ctx)); err != nil {
			logger.Error("outbox dispatch cycle failed",
				"event", "relay_dispatch_cycle_failed",
				"module", "decision-core/event-relay",
				"layer", "worker",
				"worker_id", d.WorkerID,
				"error", err.Error(),
			)
		}
		select {
		case <-ctx.Done():
			logger.Info("outbox dispatcher stopped",
				"event", "relay_dispatcher_stopped",
				"module", "decision-core/event-relay",
				"layer", "worker",
				"worker_id", d.WorkerID,
			)
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (d Dispatcher) dispatch(ctx context.Context, event entities.OutboxEvent) {
	logger := application.ResolveLogger(d.Logger)

	err := d.handle(ctx, event)
	if err == nil {
		if markErr := d.Store.MarkDone(ctx, event.EventID, d.now()); markErr != nil {
			logger.Error("outbox mark done failed",
				"event", "relay_outbox_mark_done_failed",
				"module", "decision-core/event-relay",
				"layer", "worker",
				"outbox_id", event.EventID,
				"error", markErr.Error(),
			)
			return
		}
		logger.Info("outbox event delivered",
			"event", "relay_outbox_delivered",
			"module", "decision-core/event-relay",
			"layer", "worker",
			"outbox_id", event.EventID,
			"event_type", event.EventType,
		)
		return
	}

	attempts, dead, markErr := d.Store.MarkFailed(ctx, event.EventID, err.Error(), d.now(), d.maxAttempts())
	if markErr != nil {
		logger.Error("outbox mark failed errored",
			"event", "relay_outbox_mark_failed_errored",
			"module", "decision-core/event-relay",
			"layer", "worker",
			"outbox_id", event.EventID,
			"error", markErr.Error(),
		)
		return
	}
	if dead {
		logger.Error("outbox event dead-lettered",
			"event", "relay_outbox_dead_lettered",
			"module", "decision-core/event-relay",
			"layer", "worker",
			"outbox_id", event.EventID,
			"event_type", event.EventType,
			"attempts", attempts,
			"error", err.Error(),
		)
		return
	}
	logger.Warn("outbox event delivery failed",
		"event", "relay_outbox_delivery_failed",
		"module", "decision-core/event-relay",
		"layer", "worker",
		"outbox_id", event.EventID,
		"event_type", event.EventType,
		"attempts", attempts,
		"error", err.Error(),
	)
}

func (d Dispatcher) handle(ctx context.Context, event entities.OutboxEvent) error {
	handler, err := d.Registry.Resolve(event.EventType)
	if err != nil {
		return err
	}
	guard := d.guard()
	correlationID := event.EventID
	return guard.Execute(ctx, "outbox:"+event.EventID, func(ctx context.Context) error {
		return handler.Handle(ctx, event.Payload, correlationID)
	})
}

func (d Dispatcher) guard() ports.Guard {
	if d.Guard != nil {
		return d.Guard
	}
	return PassthroughGuard{}
}

func (d Dispatcher) now() time.Time {
	if d.Clock != nil {
		return d.Clock.Now().UTC()
	}
	return time.Now().UTC()
}

func (d Dispatcher) batchSize() int {
	if d.BatchSize > 0 {
		return d.BatchSize
	}
	return defaultBatchSize
}

func (d Dispatcher) lockTTL() time.Duration {
	if d.LockTTL > 0 {
		return d.LockTTL
	}
	return defaultLockTTL
}

func (d Dispatcher) maxAttempts() int {
	if d.MaxAttempts > 0 {
		return d.MaxAttempts
	}
	return defaultMaxAttempts
}

func (d Dispatcher) pollEvery() time.Duration {
	if d.PollEvery > 0 {
		return d.PollEvery
	}
	return defaultPollEvery
}
