package ports

import (
	"context"
	"time"
)

type RecordStatus string

const (
	StatusInProgress RecordStatus = "IN_PROGRESS"
	StatusCompleted  RecordStatus = "COMPLETED"
	StatusFailed     RecordStatus = "FAILED"
)

// Record is one request-dedup entry. (OwnerID, Key) is unique; a record moves
// IN_PROGRESS -> COMPLETED or IN_PROGRESS -> FAILED exactly once.
type Record struct {
	RecordID     string
	OwnerID      string
	Key          string
	Method       string
	Path         string
	RequestHash  string
	Status       RecordStatus
	ResponseCode int
	ResponseBody []byte
	CreatedAt    time.Time
	ExpiresAt    time.Time
}

type Store interface {
	// Get returns the live record for (ownerID, key). Expired rows are
	// reported as absent.
	Get(ctx context.Context, ownerID string, key string, now time.Time) (Record, bool, error)
	// TryAcquire inserts the record as IN_PROGRESS. FAILED and expired rows
	// count as absent and are taken over in place. Returns false when a live
	// row already holds the key.
	TryAcquire(ctx context.Context, record Record, now time.Time) (Record, bool, error)
	MarkCompleted(ctx context.Context, recordID string, responseCode int, responseBody []byte) error
	MarkFailed(ctx context.Context, recordID string) error
}

type Clock interface {
	Now() time.Time
}

type IDGenerator interface {
	NewID(ctx context.Context) (string, error)
}
