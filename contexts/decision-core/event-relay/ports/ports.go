package ports

import (
	"context"
	"time"

	"consilium/contexts/decision-core/event-relay/domain/entities"
	"consilium/internal/shared/events"
)

// Publisher fans decoded envelopes out to in-process subscribers such as the
// notification stream.
type Publisher interface {
	Publish(ctx context.Context, topic string, envelope events.Envelope) error
}

type OutboxStore interface {
	Append(ctx context.Context, event entities.OutboxEvent) error
	// Claim locks up to batchSize due rows for workerID and returns them.
	// A row is due when it is PENDING, its next_retry_at has passed, and it
	// is unlocked or its lock is older than lockTTL. Two workers never claim
	// the same row.
	Claim(ctx context.Context, workerID string, batchSize int, now time.Time, lockTTL time.Duration) ([]entities.OutboxEvent, error)
	// MarkDone finishes a delivered row: DONE, processed_at stamped, lock and
	// last_error cleared.
	MarkDone(ctx context.Context, eventID string, processedAt time.Time) error
	// MarkFailed increments attempts, records lastError and releases the
	// lock. Below maxAttempts the row returns to PENDING with a backoff
	// delay; at maxAttempts it dead-letters to FAILED. Returns the new
	// attempt count and whether the row dead-lettered.
	MarkFailed(ctx context.Context, eventID string, lastError string, now time.Time, maxAttempts int) (int, bool, error)
	Get(ctx context.Context, eventID string) (entities.OutboxEvent, error)
}

// CursorReader reads outbox rows for client streaming. Results are ordered
// by event id and independent of delivery status: a row is visible to
// streams the moment its staging transaction commits.
type CursorReader interface {
	EventsSince(ctx context.Context, subjectID string, afterEventID string, limit int) ([]entities.OutboxEvent, error)
}

// Handler processes one staged event. Implementations must be idempotent;
// the dispatcher additionally wraps calls in a Guard keyed by the outbox row.
type Handler interface {
	Handle(ctx context.Context, payload []byte, correlationID string) error
}

// Guard deduplicates handler executions across retries and competing
// workers. fn runs at most once per key while the guard's record is live.
type Guard interface {
	Execute(ctx context.Context, key string, fn func(context.Context) error) error
}

type Clock interface {
	Now() time.Time
}
