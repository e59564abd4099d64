package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"consilium/contexts/decision-core/proposal-engine/domain/entities"
	domainerrors "consilium/contexts/decision-core/proposal-engine/domain/errors"
	"consilium/contexts/decision-core/proposal-engine/ports"
	"consilium/internal/shared/events"
)

const uniqueViolationCode = "23505"

// Repository implements ports.Store over gorm. InTx returns a tx-bound copy
// so the conditional updates and outbox appends of one use case share a
// transaction.
type Repository struct {
	db     *gorm.DB
	logger *slog.Logger
}

func NewRepository(db *gorm.DB, logger *slog.Logger) *Repository {
	return &Repository{db: db, logger: logger}
}

// Migrate creates the module's tables. The decision_events projection is
// included so local wiring can seed it.
func (r *Repository) Migrate() error {
	return r.db.AutoMigrate(
		&proposalModel{},
		&proposalVoteModel{},
		&membershipModel{},
		&decisionEventModel{},
		&contentItemModel{},
		&outboxEventModel{},
	)
}

func (r *Repository) InTx(ctx context.Context, fn func(ports.Repositories) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Repository{db: tx, logger: r.logger})
	})
}

func (r *Repository) GetProposal(ctx context.Context, proposalID string) (entities.Proposal, error) {
	var row proposalModel
	err := r.db.WithContext(ctx).
		Where("proposal_id = ?", proposalID).
		First(&row).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return entities.Proposal{}, domainerrors.ErrProposalNotFound
		}
		r.logError(ctx, "proposal_engine_pg_get_proposal_failed", err)
		return entities.Proposal{}, err
	}
	return row.toEntity(), nil
}

func (r *Repository) ApproveProposalIfPending(
	ctx context.Context,
	proposalID string,
	acceptedAt time.Time,
) (*entities.Proposal, error) {
	result := r.db.WithContext(ctx).
		Model(&proposalModel{}).
		Where("proposal_id = ? AND status = ?", proposalID, string(entities.StatusPending)).
		Updates(map[string]any{
			"status":      string(entities.StatusAccepted),
			"accepted_at": acceptedAt.UTC(),
		})
	if result.Error != nil {
		r.logError(ctx, "proposal_engine_pg_approve_proposal_failed", result.Error)
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, nil
	}
	return r.reloadProposal(ctx, proposalID)
}

func (r *Repository) RejectProposalIfPending(
	ctx context.Context,
	proposalID string,
) (*entities.Proposal, error) {
	result := r.db.WithContext(ctx).
		Model(&proposalModel{}).
		Where("proposal_id = ? AND status = ?", proposalID, string(entities.StatusPending)).
		Update("status", string(entities.StatusRejected))
	if result.Error != nil {
		r.logError(ctx, "proposal_engine_pg_reject_proposal_failed", result.Error)
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, nil
	}
	return r.reloadProposal(ctx, proposalID)
}

func (r *Repository) MarkProposalApplied(
	ctx context.Context,
	proposalID string,
	appliedAt time.Time,
) error {
	result := r.db.WithContext(ctx).
		Model(&proposalModel{}).
		Where("proposal_id = ? AND status = ?", proposalID, string(entities.StatusAccepted)).
		Update("applied_at", appliedAt.UTC())
	if result.Error != nil {
		r.logError(ctx, "proposal_engine_pg_mark_applied_failed", result.Error)
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domainerrors.ErrProposalNotFound
	}
	return nil
}

func (r *Repository) reloadProposal(ctx context.Context, proposalID string) (*entities.Proposal, error) {
	var row proposalModel
	if err := r.db.WithContext(ctx).
		Where("proposal_id = ?", proposalID).
		First(&row).
		Error; err != nil {
		return nil, err
	}
	entity := row.toEntity()
	return &entity, nil
}

func (r *Repository) AddVote(ctx context.Context, vote entities.Vote) error {
	row := proposalVoteModel{
		VoteID:     vote.VoteID,
		ProposalID: vote.ProposalID,
		VoterID:    vote.VoterID,
		CreatedAt:  vote.CreatedAt.UTC(),
	}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		if isUniqueViolation(err) {
			return domainerrors.ErrDuplicateVote
		}
		r.logError(ctx, "proposal_engine_pg_add_vote_failed", err)
		return err
	}
	return nil
}

func (r *Repository) RemoveVote(ctx context.Context, proposalID string, voterID string) error {
	result := r.db.WithContext(ctx).
		Where("proposal_id = ? AND voter_id = ?", proposalID, voterID).
		Delete(&proposalVoteModel{})
	if result.Error != nil {
		r.logError(ctx, "proposal_engine_pg_remove_vote_failed", result.Error)
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domainerrors.ErrVoteNotFound
	}
	return nil
}

func (r *Repository) CountVotes(ctx context.Context, proposalID string) (int, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&proposalVoteModel{}).
		Where("proposal_id = ?", proposalID).
		Count(&count).
		Error
	if err != nil {
		r.logError(ctx, "proposal_engine_pg_count_votes_failed", err)
		return 0, err
	}
	return int(count), nil
}

func (r *Repository) GetMembership(ctx context.Context, membershipID string) (entities.Membership, error) {
	var row membershipModel
	err := r.db.WithContext(ctx).
		Where("membership_id = ?", membershipID).
		First(&row).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return entities.Membership{}, domainerrors.ErrMembershipNotFound
		}
		r.logError(ctx, "proposal_engine_pg_get_membership_failed", err)
		return entities.Membership{}, err
	}
	return row.toEntity(), nil
}

func (r *Repository) ApproveMembershipIfPending(
	ctx context.Context,
	membershipID string,
	joinedAt time.Time,
) (*entities.Membership, error) {
	result := r.db.WithContext(ctx).
		Model(&membershipModel{}).
		Where("membership_id = ? AND status = ?", membershipID, string(entities.StatusPending)).
		Updates(map[string]any{
			"status":    string(entities.StatusAccepted),
			"joined_at": joinedAt.UTC(),
		})
	if result.Error != nil {
		r.logError(ctx, "proposal_engine_pg_approve_membership_failed", result.Error)
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, nil
	}
	return r.reloadMembership(ctx, membershipID)
}

func (r *Repository) RejectMembershipIfPending(
	ctx context.Context,
	membershipID string,
) (*entities.Membership, error) {
	result := r.db.WithContext(ctx).
		Model(&membershipModel{}).
		Where("membership_id = ? AND status = ?", membershipID, string(entities.StatusPending)).
		Update("status", string(entities.StatusRejected))
	if result.Error != nil {
		r.logError(ctx, "proposal_engine_pg_reject_membership_failed", result.Error)
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, nil
	}
	return r.reloadMembership(ctx, membershipID)
}

func (r *Repository) reloadMembership(ctx context.Context, membershipID string) (*entities.Membership, error) {
	var row membershipModel
	if err := r.db.WithContext(ctx).
		Where("membership_id = ?", membershipID).
		First(&row).
		Error; err != nil {
		return nil, err
	}
	entity := row.toEntity()
	return &entity, nil
}

func (r *Repository) CountAcceptedMembers(ctx context.Context, eventID string) (int, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&membershipModel{}).
		Where("event_id = ? AND status = ?", eventID, string(entities.StatusAccepted)).
		Count(&count).
		Error
	if err != nil {
		r.logError(ctx, "proposal_engine_pg_count_members_failed", err)
		return 0, err
	}
	return int(count), nil
}

func (r *Repository) GetEventSettings(ctx context.Context, eventID string) (entities.EventSettings, error) {
	var row decisionEventModel
	err := r.db.WithContext(ctx).
		Where("event_id = ?", eventID).
		First(&row).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return entities.EventSettings{}, domainerrors.ErrEventNotFound
		}
		r.logError(ctx, "proposal_engine_pg_get_settings_failed", err)
		return entities.EventSettings{}, err
	}
	return entities.EventSettings{
		EventID:                    row.EventID,
		AdminID:                    row.AdminID,
		Status:                     row.Status,
		AssumptionAutoApprove:      row.AssumptionAutoApprove,
		AssumptionMinVotes:         row.AssumptionMinVotes,
		CriterionAutoApprove:       row.CriterionAutoApprove,
		CriterionMinVotes:          row.CriterionMinVotes,
		ConclusionAutoApprove:      row.ConclusionAutoApprove,
		ConclusionThresholdPercent: row.ConclusionThresholdPercent,
	}, nil
}

func (r *Repository) GetContent(ctx context.Context, contentID string) (entities.ContentItem, error) {
	var row contentItemModel
	err := r.db.WithContext(ctx).
		Where("content_id = ?", contentID).
		First(&row).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return entities.ContentItem{}, domainerrors.ErrContentNotFound
		}
		r.logError(ctx, "proposal_engine_pg_get_content_failed", err)
		return entities.ContentItem{}, err
	}
	return entities.ContentItem{
		ContentID: row.ContentID,
		EventID:   row.EventID,
		Kind:      entities.ProposalKind(row.Kind),
		Body:      row.Body,
		Deleted:   row.Deleted,
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
	}, nil
}

func (r *Repository) CreateContent(ctx context.Context, item entities.ContentItem) error {
	row := contentItemModel{
		ContentID: item.ContentID,
		EventID:   item.EventID,
		Kind:      string(item.Kind),
		Body:      item.Body,
		Deleted:   item.Deleted,
		CreatedAt: item.CreatedAt.UTC(),
		UpdatedAt: item.UpdatedAt.UTC(),
	}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		r.logError(ctx, "proposal_engine_pg_create_content_failed", err)
		return err
	}
	return nil
}

func (r *Repository) UpdateContentBody(
	ctx context.Context,
	contentID string,
	body string,
	updatedAt time.Time,
) error {
	result := r.db.WithContext(ctx).
		Model(&contentItemModel{}).
		Where("content_id = ? AND deleted = ?", contentID, false).
		Updates(map[string]any{
			"body":       body,
			"updated_at": updatedAt.UTC(),
		})
	if result.Error != nil {
		r.logError(ctx, "proposal_engine_pg_update_content_failed", result.Error)
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domainerrors.ErrContentNotFound
	}
	return nil
}

func (r *Repository) SoftDeleteContent(
	ctx context.Context,
	contentID string,
	deletedAt time.Time,
) error {
	result := r.db.WithContext(ctx).
		Model(&contentItemModel{}).
		Where("content_id = ? AND deleted = ?", contentID, false).
		Updates(map[string]any{
			"deleted":    true,
			"updated_at": deletedAt.UTC(),
		})
	if result.Error != nil {
		r.logError(ctx, "proposal_engine_pg_delete_content_failed", result.Error)
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domainerrors.ErrContentNotFound
	}
	return nil
}

// AppendOutbox stages the envelope as a PENDING relay row. The row id is a
// UUIDv7 so id order matches staging order for cursor reads.
func (r *Repository) AppendOutbox(ctx context.Context, envelope events.Envelope) error {
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
	row := outboxEventModel{
		EventID:     rowID.String(),
		EventType:   envelope.EventType,
		SubjectID:   envelope.SubjectID,
		Payload:     payload,
		Status:      "PENDING",
		Attempts:    0,
		NextRetryAt: now,
		CreatedAt:   now,
	}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		r.logError(ctx, "proposal_engine_pg_append_outbox_failed", err)
		return err
	}
	return nil
}

func (r *Repository) logError(ctx context.Context, event string, err error) {
	if r.logger == nil {
		return
	}
	r.logger.ErrorContext(ctx, "proposal engine postgres operation failed",
		"event", event,
		"module", "decision-core/proposal-engine",
		"layer", "adapters",
		"error", err.Error(),
	)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode
}

var _ ports.Store = (*Repository)(nil)
