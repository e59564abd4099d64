package postgres

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"consilium/contexts/decision-core/event-relay/domain/entities"
	domainerrors "consilium/contexts/decision-core/event-relay/domain/errors"
	"consilium/contexts/decision-core/event-relay/ports"
)

type outboxEventModel struct {
	EventID     string     `gorm:"column:event_id;primaryKey"`
	EventType   string     `gorm:"column:event_type"`
	SubjectID   string     `gorm:"column:subject_id;index:idx_outbox_events_subject_id"`
	Payload     []byte     `gorm:"column:payload;type:jsonb"`
	Status      string     `gorm:"column:status;index:idx_outbox_events_status"`
	Attempts    int        `gorm:"column:attempts"`
	NextRetryAt time.Time  `gorm:"column:next_retry_at"`
	LockedAt    *time.Time `gorm:"column:locked_at"`
	LockedBy    string     `gorm:"column:locked_by"`
	LastError   string     `gorm:"column:last_error"`
	CreatedAt   time.Time  `gorm:"column:created_at"`
	ProcessedAt *time.Time `gorm:"column:processed_at"`
}

func (outboxEventModel) TableName() string { return "outbox_events" }

func (m outboxEventModel) toEntity() entities.OutboxEvent {
	return entities.OutboxEvent{
		EventID:     m.EventID,
		EventType:   m.EventType,
		SubjectID:   m.SubjectID,
		Payload:     append([]byte(nil), m.Payload...),
		Status:      entities.DeliveryStatus(m.Status),
		Attempts:    m.Attempts,
		NextRetryAt: m.NextRetryAt,
		LockedAt:    m.LockedAt,
		LockedBy:    m.LockedBy,
		LastError:   m.LastError,
		CreatedAt:   m.CreatedAt,
		ProcessedAt: m.ProcessedAt,
	}
}

// Repository implements the outbox store and the cursor reader over the
// shared outbox_events table.
type Repository struct {
	db     *gorm.DB
	logger *slog.Logger
}

func NewRepository(db *gorm.DB, logger *slog.Logger) *Repository {
	return &Repository{db: db, logger: logger}
}

func (r *Repository) Migrate() error {
	return r.db.AutoMigrate(&outboxEventModel{})
}

func (r *Repository) Append(ctx context.Context, event entities.OutboxEvent) error {
	row := outboxEventModel{
		EventID:     event.EventID,
		EventType:   event.EventType,
		SubjectID:   event.SubjectID,
		Payload:     append([]byte(nil), event.Payload...),
		Status:      string(entities.StatusPending),
		Attempts:    0,
		NextRetryAt: event.NextRetryAt.UTC(),
		CreatedAt:   event.CreatedAt.UTC(),
	}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		r.logError(ctx, "relay_pg_append_failed", err)
		return err
	}
	return nil
}

// Claim selects due rows with FOR UPDATE SKIP LOCKED inside a transaction
// and stamps the worker's lock before returning them. SKIP LOCKED keeps
// concurrent workers from blocking on each other's in-flight claims; the
// locked_at cutoff reclaims rows from workers that died mid-batch.
func (r *Repository) Claim(
	ctx context.Context,
	workerID string,
	batchSize int,
	now time.Time,
	lockTTL time.Duration,
) ([]entities.OutboxEvent, error) {
	cutoff := now.UTC().Add(-lockTTL)
	var claimed []entities.OutboxEvent

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rows []outboxEventModel
		if err := tx.
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("status = ? AND next_retry_at <= ? AND (locked_at IS NULL OR locked_at <= ?)",
				string(entities.StatusPending), now.UTC(), cutoff).
			Order("event_id").
			Limit(batchSize).
			Find(&rows).
			Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}

		ids := make([]string, 0, len(rows))
		for _, row := range rows {
			ids = append(ids, row.EventID)
		}
		lockedAt := now.UTC()
		if err := tx.Model(&outboxEventModel{}).
			Where("event_id IN ?", ids).
			Updates(map[string]any{
				"locked_at": lockedAt,
				"locked_by": workerID,
			}).
			Error; err != nil {
			return err
		}

		claimed = make([]entities.OutboxEvent, 0, len(rows))
		for _, row := range rows {
			entity := row.toEntity()
			entity.LockedAt = &lockedAt
			entity.LockedBy = workerID
			claimed = append(claimed, entity)
		}
		return nil
	})
	if err != nil {
		r.logError(ctx, "relay_pg_claim_failed", err)
		return nil, err
	}
	return claimed, nil
}

func (r *Repository) MarkDone(ctx context.Context, eventID string, processedAt time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&outboxEventModel{}).
		Where("event_id = ?", eventID).
		Updates(map[string]any{
			"status":       string(entities.StatusDone),
			"processed_at": processedAt.UTC(),
			"locked_at":    nil,
			"locked_by":    "",
			"last_error":   "",
		})
	if result.Error != nil {
		r.logError(ctx, "relay_pg_mark_done_failed", result.Error)
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domainerrors.ErrEventNotFound
	}
	return nil
}

func (r *Repository) MarkFailed(
	ctx context.Context,
	eventID string,
	lastError string,
	now time.Time,
	maxAttempts int,
) (int, bool, error) {
	var attempts int
	var dead bool

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row outboxEventModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("event_id = ?", eventID).
			First(&row).
			Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domainerrors.ErrEventNotFound
			}
			return err
		}

		attempts = row.Attempts + 1
		dead = attempts >= maxAttempts
		updates := map[string]any{
			"attempts":   attempts,
			"last_error": lastError,
			"locked_at":  nil,
			"locked_by":  "",
		}
		if dead {
			updates["status"] = string(entities.StatusFailed)
		} else {
			updates["status"] = string(entities.StatusPending)
			updates["next_retry_at"] = now.UTC().Add(entities.RetryBackoff(attempts))
		}
		return tx.Model(&outboxEventModel{}).
			Where("event_id = ?", eventID).
			Updates(updates).
			Error
	})
	if err != nil {
		r.logError(ctx, "relay_pg_mark_failed_failed", err)
		return 0, false, err
	}
	return attempts, dead, nil
}

func (r *Repository) Get(ctx context.Context, eventID string) (entities.OutboxEvent, error) {
	var row outboxEventModel
	err := r.db.WithContext(ctx).
		Where("event_id = ?", eventID).
		First(&row).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return entities.OutboxEvent{}, domainerrors.ErrEventNotFound
		}
		r.logError(ctx, "relay_pg_get_failed", err)
		return entities.OutboxEvent{}, err
	}
	return row.toEntity(), nil
}

func (r *Repository) EventsSince(
	ctx context.Context,
	subjectID string,
	afterEventID string,
	limit int,
) ([]entities.OutboxEvent, error) {
	query := r.db.WithContext(ctx).
		Where("subject_id = ?", subjectID).
		Order("event_id").
		Limit(limit)
	if afterEventID != "" {
		query = query.Where("event_id > ?", afterEventID)
	}

	var rows []outboxEventModel
	if err := query.Find(&rows).Error; err != nil {
		r.logError(ctx, "relay_pg_events_since_failed", err)
		return nil, err
	}
	result := make([]entities.OutboxEvent, 0, len(rows))
	for _, row := range rows {
		result = append(result, row.toEntity())
	}
	return result, nil
}

func (r *Repository) logError(ctx context.Context, event string, err error) {
	if r.logger == nil {
		return
	}
	r.logger.ErrorContext(ctx, "event relay postgres operation failed",
		"event", event,
		"module", "decision-core/event-relay",
		"layer", "adapters",
		"error", err.Error(),
	)
}

var _ ports.OutboxStore = (*Repository)(nil)
var _ ports.CursorReader = (*Repository)(nil)
