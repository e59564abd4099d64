package entities

import "time"

// DeliveryStatus tracks an outbox row through the dispatcher. PENDING rows
// are claimable, DONE rows are delivered, FAILED rows are dead-lettered and
// never retried automatically.
type DeliveryStatus string

const (
	StatusPending DeliveryStatus = "PENDING"
	StatusDone    DeliveryStatus = "DONE"
	StatusFailed  DeliveryStatus = "FAILED"
)

// OutboxEvent is one staged domain event. EventID is a UUIDv7 so id order
// matches staging order, which the cursor reader relies on.
type OutboxEvent struct {
	EventID     string
	EventType   string
	SubjectID   string
	Payload     []byte
	Status      DeliveryStatus
	Attempts    int
	NextRetryAt time.Time
	LockedAt    *time.Time
	LockedBy    string
	LastError   string
	CreatedAt   time.Time
	ProcessedAt *time.Time
}

// RetryBackoff doubles per attempt: 2s after the first failure, 4s after the
// second, and so on.
func RetryBackoff(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	return time.Duration(1<<attempts) * time.Second
}
