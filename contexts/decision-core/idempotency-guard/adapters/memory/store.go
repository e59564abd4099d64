package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	domainerrors "consilium/contexts/decision-core/idempotency-guard/domain/errors"
	"consilium/contexts/decision-core/idempotency-guard/ports"

	"github.com/google/uuid"
)

// Store is the in-memory adapter used by tests and local wiring. Per-method
// locking gives the same single-winner acquisition semantics as the unique
// constraint in postgres.
type Store struct {
	mu      sync.Mutex
	records map[string]ports.Record
}

func NewStore() *Store {
	return &Store{
		records: make(map[string]ports.Record),
	}
}

func (s *Store) Get(
	_ context.Context,
	ownerID string,
	key string,
	now time.Time,
) (ports.Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[recordKey(ownerID, key)]
	if !ok {
		return ports.Record{}, false, nil
	}
	if !record.ExpiresAt.IsZero() && now.UTC().After(record.ExpiresAt.UTC()) {
		return ports.Record{}, false, nil
	}
	return cloneRecord(record), true, nil
}

func (s *Store) TryAcquire(
	_ context.Context,
	record ports.Record,
	now time.Time,
) (ports.Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	mapKey := recordKey(record.OwnerID, record.Key)
	if existing, ok := s.records[mapKey]; ok {
		expired := !existing.ExpiresAt.IsZero() && now.UTC().After(existing.ExpiresAt.UTC())
		if existing.Status != ports.StatusFailed && !expired {
			return ports.Record{}, false, nil
		}
		record.RecordID = existing.RecordID
	}
	if strings.TrimSpace(record.RecordID) == "" {
		record.RecordID = uuid.NewString()
	}
	record.Status = ports.StatusInProgress
	record.ResponseCode = 0
	record.ResponseBody = nil
	record.CreatedAt = now.UTC()
	s.records[mapKey] = cloneRecord(record)
	return cloneRecord(record), true, nil
}

func (s *Store) MarkCompleted(
	_ context.Context,
	recordID string,
	responseCode int,
	responseBody []byte,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for mapKey, record := range s.records {
		if record.RecordID == recordID && record.Status == ports.StatusInProgress {
			record.Status = ports.StatusCompleted
			record.ResponseCode = responseCode
			record.ResponseBody = append([]byte(nil), responseBody...)
			s.records[mapKey] = record
			return nil
		}
	}
	return domainerrors.ErrRecordNotFound
}

func (s *Store) MarkFailed(_ context.Context, recordID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for mapKey, record := range s.records {
		if record.RecordID == recordID && record.Status == ports.StatusInProgress {
			record.Status = ports.StatusFailed
			s.records[mapKey] = record
			return nil
		}
	}
	return domainerrors.ErrRecordNotFound
}

// Record exposes the stored row for test assertions.
func (s *Store) Record(ownerID string, key string) (ports.Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[recordKey(ownerID, key)]
	if !ok {
		return ports.Record{}, false
	}
	return cloneRecord(record), true
}

func (s *Store) Now() time.Time {
	return time.Now().UTC()
}

func (s *Store) NewID(_ context.Context) (string, error) {
	return uuid.NewString(), nil
}

func recordKey(ownerID string, key string) string {
	return strings.TrimSpace(ownerID) + "|" + strings.TrimSpace(key)
}

func cloneRecord(record ports.Record) ports.Record {
	record.ResponseBody = append([]byte(nil), record.ResponseBody...)
	return record
}

var _ ports.Store = (*Store)(nil)
var _ ports.Clock = (*Store)(nil)
var _ ports.IDGenerator = (*Store)(nil)
