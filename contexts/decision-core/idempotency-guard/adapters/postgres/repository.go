package postgresadapter

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	domainerrors "consilium/contexts/decision-core/idempotency-guard/domain/errors"
	"consilium/contexts/decision-core/idempotency-guard/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Repository struct {
	db     *gorm.DB
	logger *slog.Logger
}

func NewRepository(db *gorm.DB, logger *slog.Logger) *Repository {
	if logger == nil {
		logger = slog.Default()
	}
	return &Repository{
		db:     db,
		logger: logger,
	}
}

func (r *Repository) Migrate() error {
	return r.db.AutoMigrate(&idempotencyRecordModel{})
}

func (r *Repository) Get(
	ctx context.Context,
	ownerID string,
	key string,
	now time.Time,
) (ports.Record, bool, error) {
	var row idempotencyRecordModel
	err := r.db.WithContext(ctx).
		Where("owner_id = ?", strings.TrimSpace(ownerID)).
		Where("key = ?", strings.TrimSpace(key)).
		First(&row).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ports.Record{}, false, nil
		}
		return ports.Record{}, false, r.logError("idempotency_repo_get_failed", err,
			"owner_id", strings.TrimSpace(ownerID),
		)
	}
	if !row.ExpiresAt.IsZero() && now.UTC().After(row.ExpiresAt.UTC()) {
		// Expired rows are reclaimed by TryAcquire; reads treat them as gone.
		return ports.Record{}, false, nil
	}
	return row.toRecord(), true, nil
}

func (r *Repository) TryAcquire(
	ctx context.Context,
	record ports.Record,
	now time.Time,
) (ports.Record, bool, error) {
	row := recordModelFromPort(record)
	create := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "owner_id"}, {Name: "key"}},
		DoNothing: true,
	}).Create(&row)
	if create.Error != nil {
		if isUniqueViolation(create.Error) {
			return ports.Record{}, false, nil
		}
		return ports.Record{}, false, r.logError("idempotency_repo_acquire_insert_failed", create.Error,
			"owner_id", row.OwnerID,
		)
	}
	if create.RowsAffected > 0 {
		return row.toRecord(), true, nil
	}

	// A row holds the key. FAILED and expired rows count as absent: take the
	// slot over in place with a conditional update so only one caller wins.
	takeover := r.db.WithContext(ctx).
		Model(&idempotencyRecordModel{}).
		Where("owner_id = ? AND key = ?", row.OwnerID, row.Key).
		Where("status = ? OR expires_at <= ?", string(ports.StatusFailed), now.UTC()).
		Updates(map[string]any{
			"method":        row.Method,
			"path":          row.Path,
			"request_hash":  row.RequestHash,
			"status":        string(ports.StatusInProgress),
			"response_code": 0,
			"response_body": nil,
			"created_at":    now.UTC(),
			"expires_at":    row.ExpiresAt,
		})
	if takeover.Error != nil {
		return ports.Record{}, false, r.logError("idempotency_repo_acquire_takeover_failed", takeover.Error,
			"owner_id", row.OwnerID,
		)
	}
	if takeover.RowsAffected == 0 {
		return ports.Record{}, false, nil
	}

	var existing idempotencyRecordModel
	if err := r.db.WithContext(ctx).
		Where("owner_id = ? AND key = ?", row.OwnerID, row.Key).
		First(&existing).Error; err != nil {
		return ports.Record{}, false, r.logError("idempotency_repo_acquire_reload_failed", err,
			"owner_id", row.OwnerID,
		)
	}
	return existing.toRecord(), true, nil
}

func (r *Repository) MarkCompleted(
	ctx context.Context,
	recordID string,
	responseCode int,
	responseBody []byte,
) error {
	result := r.db.WithContext(ctx).
		Model(&idempotencyRecordModel{}).
		Where("id = ? AND status = ?", strings.TrimSpace(recordID), string(ports.StatusInProgress)).
		Updates(map[string]any{
			"status":        string(ports.StatusCompleted),
			"response_code": responseCode,
			"response_body": responseBody,
		})
	if result.Error != nil {
		return r.logError("idempotency_repo_mark_completed_failed", result.Error,
			"record_id", strings.TrimSpace(recordID),
		)
	}
	if result.RowsAffected == 0 {
		return domainerrors.ErrRecordNotFound
	}
	return nil
}

func (r *Repository) MarkFailed(ctx context.Context, recordID string) error {
	result := r.db.WithContext(ctx).
		Model(&idempotencyRecordModel{}).
		Where("id = ? AND status = ?", strings.TrimSpace(recordID), string(ports.StatusInProgress)).
		Update("status", string(ports.StatusFailed))
	if result.Error != nil {
		return r.logError("idempotency_repo_mark_failed_failed", result.Error,
			"record_id", strings.TrimSpace(recordID),
		)
	}
	if result.RowsAffected == 0 {
		return domainerrors.ErrRecordNotFound
	}
	return nil
}

func (r *Repository) logError(event string, err error, attrs ...any) error {
	fields := make([]any, 0, len(attrs)+8)
	fields = append(fields,
		"event", event,
		"module", "decision-core/idempotency-guard",
		"layer", "adapter",
		"error", err.Error(),
	)
	fields = append(fields, attrs...)
	r.logger.Error("idempotency repository operation failed", fields...)
	return err
}

type idempotencyRecordModel struct {
	ID           string    `gorm:"column:id;primaryKey"`
	OwnerID      string    `gorm:"column:owner_id;uniqueIndex:uq_idempotency_records_owner_id_key"`
	Key          string    `gorm:"column:key;uniqueIndex:uq_idempotency_records_owner_id_key"`
	Method       string    `gorm:"column:method"`
	Path         string    `gorm:"column:path"`
	RequestHash  string    `gorm:"column:request_hash"`
	Status       string    `gorm:"column:status"`
	ResponseCode int       `gorm:"column:response_code"`
	ResponseBody []byte    `gorm:"column:response_body"`
	CreatedAt    time.Time `gorm:"column:created_at"`
	ExpiresAt    time.Time `gorm:"column:expires_at;index:idx_idempotency_records_expires_at"`
}

func (idempotencyRecordModel) TableName() string {
	return "idempotency_records"
}

func recordModelFromPort(record ports.Record) idempotencyRecordModel {
	row := idempotencyRecordModel{
		ID:           strings.TrimSpace(record.RecordID),
		OwnerID:      strings.TrimSpace(record.OwnerID),
		Key:          strings.TrimSpace(record.Key),
		Method:       strings.TrimSpace(record.Method),
		Path:         strings.TrimSpace(record.Path),
		RequestHash:  strings.TrimSpace(record.RequestHash),
		Status:       string(record.Status),
		ResponseCode: record.ResponseCode,
		ResponseBody: record.ResponseBody,
		CreatedAt:    record.CreatedAt.UTC(),
		ExpiresAt:    record.ExpiresAt.UTC(),
	}
	if row.ID == "" {
		row.ID = uuid.NewString()
	}
	if row.Status == "" {
		row.Status = string(ports.StatusInProgress)
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	return row
}

func (m idempotencyRecordModel) toRecord() ports.Record {
	return ports.Record{
		RecordID:     m.ID,
		OwnerID:      m.OwnerID,
		Key:          m.Key,
		Method:       m.Method,
		Path:         m.Path,
		RequestHash:  m.RequestHash,
		Status:       ports.RecordStatus(m.Status),
		ResponseCode: m.ResponseCode,
		ResponseBody: append([]byte(nil), m.ResponseBody...),
		CreatedAt:    m.CreatedAt.UTC(),
		ExpiresAt:    m.ExpiresAt.UTC(),
	}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

var _ ports.Store = (*Repository)(nil)
