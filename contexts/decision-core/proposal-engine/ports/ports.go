package ports

import (
	"context"
	"time"

	"consilium/contexts/decision-core/proposal-engine/domain/entities"
	"consilium/internal/shared/events"
)

type ProposalRepository interface {
	GetProposal(ctx context.Context, proposalID string) (entities.Proposal, error)
	// ApproveProposalIfPending flips the proposal to ACCEPTED only if it is
	// still PENDING. Returns nil when the conditional update matched no row.
	ApproveProposalIfPending(ctx context.Context, proposalID string, acceptedAt time.Time) (*entities.Proposal, error)
	RejectProposalIfPending(ctx context.Context, proposalID string) (*entities.Proposal, error)
	MarkProposalApplied(ctx context.Context, proposalID string, appliedAt time.Time) error
}

type VoteRepository interface {
	AddVote(ctx context.Context, vote entities.Vote) error
	RemoveVote(ctx context.Context, proposalID string, voterID string) error
	CountVotes(ctx context.Context, proposalID string) (int, error)
}

type MembershipRepository interface {
	GetMembership(ctx context.Context, membershipID string) (entities.Membership, error)
	ApproveMembershipIfPending(ctx context.Context, membershipID string, joinedAt time.Time) (*entities.Membership, error)
	RejectMembershipIfPending(ctx context.Context, membershipID string) (*entities.Membership, error)
	CountAcceptedMembers(ctx context.Context, eventID string) (int, error)
}

type SettingsReader interface {
	GetEventSettings(ctx context.Context, eventID string) (entities.EventSettings, error)
}

type ContentRepository interface {
	GetContent(ctx context.Context, contentID string) (entities.ContentItem, error)
	CreateContent(ctx context.Context, item entities.ContentItem) error
	UpdateContentBody(ctx context.Context, contentID string, body string, updatedAt time.Time) error
	SoftDeleteContent(ctx context.Context, contentID string, deletedAt time.Time) error
}

// OutboxAppender stages an event envelope in the same transaction as the
// state change it describes.
type OutboxAppender interface {
	AppendOutbox(ctx context.Context, envelope events.Envelope) error
}

type Repositories interface {
	ProposalRepository
	VoteRepository
	MembershipRepository
	SettingsReader
	ContentRepository
	OutboxAppender
}

// Store gives use cases both direct reads and transactional writes. Work done
// through the Repositories passed to fn commits atomically, including any
// outbox rows appended inside fn.
type Store interface {
	Repositories
	InTx(ctx context.Context, fn func(Repositories) error) error
}

type Clock interface {
	Now() time.Time
}

type IDGenerator interface {
	NewID(ctx context.Context) (string, error)
}
