package entities

import "time"

type ProposalKind string

const (
	KindAssumption ProposalKind = "assumption"
	KindCriterion  ProposalKind = "criterion"
	KindConclusion ProposalKind = "conclusion"
)

type ProposalCategory string

const (
	CategoryCreation     ProposalCategory = "CREATION"
	CategoryModification ProposalCategory = "MODIFICATION"
	CategoryDeletion     ProposalCategory = "DELETION"
)

// ApprovalStatus is shared by proposals and memberships. PENDING moves to a
// terminal status exactly once; concurrent transition attempts yield exactly
// one winner.
type ApprovalStatus string

const (
	StatusPending  ApprovalStatus = "PENDING"
	StatusAccepted ApprovalStatus = "ACCEPTED"
	StatusRejected ApprovalStatus = "REJECTED"
)

type Proposal struct {
	ProposalID string
	EventID    string
	Kind       ProposalKind
	Category   ProposalCategory
	Status     ApprovalStatus
	Content    string
	// TargetID names the content row a MODIFICATION or DELETION proposal acts
	// on; empty for CREATION.
	TargetID   string
	CreatedBy  string
	CreatedAt  time.Time
	AcceptedAt *time.Time
	AppliedAt  *time.Time
}

// Vote is one member's endorsement of a pending proposal. (ProposalID,
// VoterID) is unique.
type Vote struct {
	VoteID     string
	ProposalID string
	VoterID    string
	CreatedAt  time.Time
}

type Membership struct {
	MembershipID string
	EventID      string
	UserID       string
	Status       ApprovalStatus
	JoinedAt     *time.Time
	CreatedAt    time.Time
}

const EventStatusInProgress = "IN_PROGRESS"

// EventSettings is the approval-policy projection of one decision event,
// read at evaluation time so setting changes only affect future evaluations.
type EventSettings struct {
	EventID                    string
	AdminID                    string
	Status                     string
	AssumptionAutoApprove      bool
	AssumptionMinVotes         int
	CriterionAutoApprove       bool
	CriterionMinVotes          int
	ConclusionAutoApprove      bool
	ConclusionThresholdPercent float64
}

// ContentItem is the materialized target of an accepted proposal.
type ContentItem struct {
	ContentID string
	EventID   string
	Kind      ProposalKind
	Body      string
	Deleted   bool
	CreatedAt time.Time
	UpdatedAt time.Time
}
