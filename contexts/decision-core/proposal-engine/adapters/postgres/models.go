package postgres

import (
	"time"

	"consilium/contexts/decision-core/proposal-engine/domain/entities"
)

type proposalModel struct {
	ProposalID string     `gorm:"column:proposal_id;primaryKey"`
	EventID    string     `gorm:"column:event_id;index:idx_proposals_event_id"`
	Kind       string     `gorm:"column:kind"`
	Category   string     `gorm:"column:category"`
	Status     string     `gorm:"column:status;index:idx_proposals_status"`
	Content    string     `gorm:"column:content;type:text"`
	TargetID   string     `gorm:"column:target_id"`
	CreatedBy  string     `gorm:"column:created_by"`
	CreatedAt  time.Time  `gorm:"column:created_at"`
	AcceptedAt *time.Time `gorm:"column:accepted_at"`
	AppliedAt  *time.Time `gorm:"column:applied_at"`
}

func (proposalModel) TableName() string { return "proposals" }

func (m proposalModel) toEntity() entities.Proposal {
	return entities.Proposal{
		ProposalID: m.ProposalID,
		EventID:    m.EventID,
		Kind:       entities.ProposalKind(m.Kind),
		Category:   entities.ProposalCategory(m.Category),
		Status:     entities.ApprovalStatus(m.Status),
		Content:    m.Content,
		TargetID:   m.TargetID,
		CreatedBy:  m.CreatedBy,
		CreatedAt:  m.CreatedAt,
		AcceptedAt: m.AcceptedAt,
		AppliedAt:  m.AppliedAt,
	}
}

type proposalVoteModel struct {
	VoteID     string    `gorm:"column:vote_id;primaryKey"`
	ProposalID string    `gorm:"column:proposal_id;uniqueIndex:uq_proposal_votes_proposal_id_voter_id"`
	VoterID    string    `gorm:"column:voter_id;uniqueIndex:uq_proposal_votes_proposal_id_voter_id"`
	CreatedAt  time.Time `gorm:"column:created_at"`
}

func (proposalVoteModel) TableName() string { return "proposal_votes" }

type membershipModel struct {
	MembershipID string     `gorm:"column:membership_id;primaryKey"`
	EventID      string     `gorm:"column:event_id;index:idx_event_memberships_event_id"`
	UserID       string     `gorm:"column:user_id"`
	Status       string     `gorm:"column:status"`
	JoinedAt     *time.Time `gorm:"column:joined_at"`
	CreatedAt    time.Time  `gorm:"column:created_at"`
}

func (membershipModel) TableName() string { return "event_memberships" }

func (m membershipModel) toEntity() entities.Membership {
	return entities.Membership{
		MembershipID: m.MembershipID,
		EventID:      m.EventID,
		UserID:       m.UserID,
		Status:       entities.ApprovalStatus(m.Status),
		JoinedAt:     m.JoinedAt,
		CreatedAt:    m.CreatedAt,
	}
}

// decisionEventModel is a read-only projection of the owning event; the
// module never writes it.
type decisionEventModel struct {
	EventID                    string  `gorm:"column:event_id;primaryKey"`
	AdminID                    string  `gorm:"column:admin_id"`
	Status                     string  `gorm:"column:status"`
	AssumptionAutoApprove      bool    `gorm:"column:assumption_auto_approve"`
	AssumptionMinVotes         int     `gorm:"column:assumption_min_votes"`
	CriterionAutoApprove       bool    `gorm:"column:criterion_auto_approve"`
	CriterionMinVotes          int     `gorm:"column:criterion_min_votes"`
	ConclusionAutoApprove      bool    `gorm:"column:conclusion_auto_approve"`
	ConclusionThresholdPercent float64 `gorm:"column:conclusion_threshold_percent"`
}

func (decisionEventModel) TableName() string { return "decision_events" }

type contentItemModel struct {
	ContentID string    `gorm:"column:content_id;primaryKey"`
	EventID   string    `gorm:"column:event_id;index:idx_content_items_event_id"`
	Kind      string    `gorm:"column:kind"`
	Body      string    `gorm:"column:body;type:text"`
	Deleted   bool      `gorm:"column:deleted"`
	CreatedAt time.Time `gorm:"column:created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (contentItemModel) TableName() string { return "content_items" }

// outboxEventModel mirrors the relay's table; this module only inserts
// PENDING rows.
type outboxEventModel struct {
	EventID     string     `gorm:"column:event_id;primaryKey"`
	EventType   string     `gorm:"column:event_type"`
	SubjectID   string     `gorm:"column:subject_id"`
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
