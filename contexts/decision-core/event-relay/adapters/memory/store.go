package memory

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"consilium/contexts/decision-core/event-relay/domain/entities"
	domainerrors "consilium/contexts/decision-core/event-relay/domain/errors"
	"consilium/contexts/decision-core/event-relay/ports"
	"consilium/internal/shared/events"
)

// Store is the in-memory outbox for tests and local wiring. Claim holds the
// store lock for the whole selection, which gives the same disjoint-batch
// guarantee as SKIP LOCKED.
type Store struct {
	mu     sync.Mutex
	events map[string]entities.OutboxEvent
}

func NewStore() *Store {
	return &Store{events: make(map[string]entities.OutboxEvent)}
}

func (s *Store) Append(_ context.Context, event entities.OutboxEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	event.Status = entities.StatusPending
	event.Attempts = 0
	event.Payload = append([]byte(nil), event.Payload...)
	s.events[event.EventID] = event
	return nil
}

// AppendEnvelope stages a shared envelope as a new PENDING row with a
// sortable id. It is the sink handed to the proposal store in memory wiring.
func (s *Store) AppendEnvelope(ctx context.Context, envelope events.Envelope) error {
	payload, err := json.Marshal(envelope)
	if err != nil {
		return err
	}
	rowID, err := uuid.NewV7()
	if err != nil {
		return err
	}
	now := envelope.OccurredAtUTC.UTC()
	if now.IsZero() {
		now = time.Now().UTC()
	}
	return s.Append(ctx, entities.OutboxEvent{
		EventID:     rowID.String(),
		EventType:   envelope.EventType,
		SubjectID:   envelope.SubjectID,
		Payload:     payload,
		NextRetryAt: now,
		CreatedAt:   now,
	})
}

func (s *Store) Claim(
	_ context.Context,
	workerID string,
	batchSize int,
	now time.Time,
	lockTTL time.Duration,
) ([]entities.OutboxEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := now.UTC().Add(-lockTTL)
	var due []entities.OutboxEvent
	for _, event := range s.events {
		if event.Status != entities.StatusPending {
			continue
		}
		if event.NextRetryAt.After(now.UTC()) {
			continue
		}
		if event.LockedAt != nil && event.LockedAt.After(cutoff) {
			continue
		}
		due = append(due, event)
	}
	sort.Slice(due, func(i, j int) bool { return due[i].EventID < due[j].EventID })
	if len(due) > batchSize {
		due = due[:batchSize]
	}

	lockedAt := now.UTC()
	claimed := make([]entities.OutboxEvent, 0, len(due))
	for _, event := range due {
		event.LockedAt = &lockedAt
		event.LockedBy = workerID
		s.events[event.EventID] = event
		claimed = append(claimed, cloneEvent(event))
	}
	return claimed, nil
}

func (s *Store) MarkDone(_ context.Context, eventID string, processedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	event, ok := s.events[eventID]
	if !ok {
		return domainerrors.ErrEventNotFound
	}
	processed := processedAt.UTC()
	event.Status = entities.StatusDone
	event.ProcessedAt = &processed
	event.LockedAt = nil
	event.LockedBy = ""
	event.LastError = ""
	s.events[eventID] = event
	return nil
}

func (s *Store) MarkFailed(
	_ context.Context,
	eventID string,
	lastError string,
	now time.Time,
	maxAttempts int,
) (int, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	event, ok := s.events[eventID]
	if !ok {
		return 0, false, domainerrors.ErrEventNotFound
	}
	event.Attempts++
	event.LastError = lastError
	event.LockedAt = nil
	event.LockedBy = ""
	dead := event.Attempts >= maxAttempts
	if dead {
		event.Status = entities.StatusFailed
	} else {
		event.Status = entities.StatusPending
		event.NextRetryAt = now.UTC().Add(entities.RetryBackoff(event.Attempts))
	}
	s.events[eventID] = event
	return event.Attempts, dead, nil
}

func (s *Store) Get(_ context.Context, eventID string) (entities.OutboxEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	event, ok := s.events[eventID]
	if !ok {
		return entities.OutboxEvent{}, domainerrors.ErrEventNotFound
	}
	return cloneEvent(event), nil
}

func (s *Store) EventsSince(
	_ context.Context,
	subjectID string,
	afterEventID string,
	limit int,
) ([]entities.OutboxEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []entities.OutboxEvent
	for _, event := range s.events {
		if event.SubjectID != subjectID {
			continue
		}
		if afterEventID != "" && event.EventID <= afterEventID {
			continue
		}
		matched = append(matched, cloneEvent(event))
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].EventID < matched[j].EventID })
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func (s *Store) Now() time.Time {
	return time.Now().UTC()
}

func cloneEvent(event entities.OutboxEvent) entities.OutboxEvent {
	event.Payload = append([]byte(nil), event.Payload...)
	return event
}

var _ ports.OutboxStore = (*Store)(nil)
var _ ports.CursorReader = (*Store)(nil)
var _ ports.Clock = (*Store)(nil)
