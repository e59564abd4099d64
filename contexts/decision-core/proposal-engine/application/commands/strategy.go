package commands

import (
	"context"
	"errors"
	"time"

	"consilium/contexts/decision-core/proposal-engine/domain/entities"
	domainerrors "consilium/contexts/decision-core/proposal-engine/domain/errors"
	"consilium/contexts/decision-core/proposal-engine/ports"
)

const (
	EventProposalApproved   = "proposal.approved.v1"
	EventProposalRejected   = "proposal.rejected.v1"
	EventMembershipApproved = "membership.approved.v1"
	EventMembershipRejected = "membership.rejected.v1"
)

// AutoApprovalPolicy names how a kind's rule is evaluated. The policy is
// fixed per kind; the settings only supply its parameters, so a zero
// parameter still evaluates rather than silently disabling the rule.
type AutoApprovalPolicy string

const (
	PolicyVoteFloor   AutoApprovalPolicy = "vote_floor"
	PolicyMemberRatio AutoApprovalPolicy = "member_ratio"
)

// AutoApprovalRule is the per-kind policy snapshot read from event settings.
type AutoApprovalRule struct {
	Enabled          bool
	Policy           AutoApprovalPolicy
	MinVotes         int
	ThresholdPercent float64
}

// KindStrategy binds one proposal kind to its policy source, its approved and
// rejected event names, and its materialization effect. Kinds compose the
// shared engine instead of owning their own approval flow.
type KindStrategy struct {
	Kind          entities.ProposalKind
	ApprovedEvent string
	RejectedEvent string
	Rule          func(settings entities.EventSettings) AutoApprovalRule
	Apply         func(ctx context.Context, repos ports.Repositories, proposal entities.Proposal, now time.Time) error
}

type StrategySet map[entities.ProposalKind]KindStrategy

// DefaultStrategies wires the three built-in proposal kinds. Assumptions and
// criteria auto-approve on an absolute vote floor; conclusions require a
// percentage of the event's accepted members.
func DefaultStrategies(idGen ports.IDGenerator) StrategySet {
	return StrategySet{
		entities.KindAssumption: {
			Kind:          entities.KindAssumption,
			ApprovedEvent: EventProposalApproved,
			RejectedEvent: EventProposalRejected,
			Rule: func(settings entities.EventSettings) AutoApprovalRule {
				return AutoApprovalRule{
					Enabled:  settings.AssumptionAutoApprove,
					Policy:   PolicyVoteFloor,
					MinVotes: settings.AssumptionMinVotes,
				}
			},
			Apply: materializeContent(idGen),
		},
		entities.KindCriterion: {
			Kind:          entities.KindCriterion,
			ApprovedEvent: EventProposalApproved,
			RejectedEvent: EventProposalRejected,
			Rule: func(settings entities.EventSettings) AutoApprovalRule {
				return AutoApprovalRule{
					Enabled:  settings.CriterionAutoApprove,
					Policy:   PolicyVoteFloor,
					MinVotes: settings.CriterionMinVotes,
				}
			},
			Apply: materializeContent(idGen),
		},
		entities.KindConclusion: {
			Kind:          entities.KindConclusion,
			ApprovedEvent: EventProposalApproved,
			RejectedEvent: EventProposalRejected,
			Rule: func(settings entities.EventSettings) AutoApprovalRule {
				return AutoApprovalRule{
					Enabled:          settings.ConclusionAutoApprove,
					Policy:           PolicyMemberRatio,
					ThresholdPercent: settings.ConclusionThresholdPercent,
				}
			},
			Apply: materializeContent(idGen),
		},
	}
}

// materializeContent turns an accepted proposal into its content effect:
// CREATION inserts a row, MODIFICATION rewrites the target body, DELETION
// soft-deletes the target. Runs inside the acceptance transaction.
func materializeContent(
	idGen ports.IDGenerator,
) func(ctx context.Context, repos ports.Repositories, proposal entities.Proposal, now time.Time) error {
	return func(ctx context.Context, repos ports.Repositories, proposal entities.Proposal, now time.Time) error {
		switch proposal.Category {
		case entities.CategoryCreation:
			contentID, err := newID(ctx, idGen)
			if err != nil {
				return err
			}
			return repos.CreateContent(ctx, entities.ContentItem{
				ContentID: contentID,
				EventID:   proposal.EventID,
				Kind:      proposal.Kind,
				Body:      proposal.Content,
				CreatedAt: now,
				UpdatedAt: now,
			})
		case entities.CategoryModification:
			return repos.UpdateContentBody(ctx, proposal.TargetID, proposal.Content, now)
		case entities.CategoryDeletion:
			return repos.SoftDeleteContent(ctx, proposal.TargetID, now)
		default:
			return domainerrors.ErrInvalidInput
		}
	}
}

type proposalTargetInput struct {
	Proposal      entities.Proposal
	Strategy      KindStrategy
	IDGen         ports.IDGenerator
	Source        string
	CorrelationID string
	Updated       *entities.Proposal
}

// proposalTarget adapts a proposal to the engine's callback shape. It is
// shared by the admin path and the auto-approval path so both race through
// the same conditional update.
func proposalTarget(in proposalTargetInput) ApprovalTarget {
	return ApprovalTarget{
		Reload: func(ctx context.Context, repos ports.Repositories) (entities.ApprovalStatus, error) {
			current, err := repos.GetProposal(ctx, in.Proposal.ProposalID)
			if err != nil {
				return "", err
			}
			return current.Status, nil
		},
		Approve: func(ctx context.Context, repos ports.Repositories, now time.Time) (bool, error) {
			row, err := repos.ApproveProposalIfPending(ctx, in.Proposal.ProposalID, now)
			if err != nil {
				return false, err
			}
			if row == nil {
				return false, nil
			}
			if in.Updated != nil {
				*in.Updated = *row
			}
			return true, nil
		},
		Reject: func(ctx context.Context, repos ports.Repositories) (bool, error) {
			row, err := repos.RejectProposalIfPending(ctx, in.Proposal.ProposalID)
			if err != nil {
				return false, err
			}
			if row == nil {
				return false, nil
			}
			if in.Updated != nil {
				*in.Updated = *row
			}
			return true, nil
		},
		Apply: func(ctx context.Context, repos ports.Repositories, now time.Time) error {
			if in.Strategy.Apply != nil {
				if err := in.Strategy.Apply(ctx, repos, in.Proposal, now); err != nil {
					return err
				}
			}
			if err := repos.MarkProposalApplied(ctx, in.Proposal.ProposalID, now); err != nil {
				return err
			}
			if in.Updated != nil {
				appliedAt := now
				in.Updated.AppliedAt = &appliedAt
			}
			return nil
		},
		Emit: func(ctx context.Context, repos ports.Repositories, status entities.ApprovalStatus, now time.Time) error {
			eventType := in.Strategy.ApprovedEvent
			if status == entities.StatusRejected {
				eventType = in.Strategy.RejectedEvent
			}
			envelope, err := newDecisionEnvelope(ctx, envelopeInput{
				IDGen:         in.IDGen,
				EventType:     eventType,
				Source:        in.Source,
				SubjectID:     in.Proposal.EventID,
				CorrelationID: in.CorrelationID,
				OccurredAt:    now,
				Payload: map[string]any{
					"proposal_id":       in.Proposal.ProposalID,
					"decision_event_id": in.Proposal.EventID,
					"kind":              string(in.Proposal.Kind),
					"category":          string(in.Proposal.Category),
					"status":            string(status),
				},
			})
			if err != nil {
				return err
			}
			return repos.AppendOutbox(ctx, envelope)
		},
	}
}

// membershipTarget adapts a membership row to the engine. Acceptance stamps
// joined_at inside the same conditional update, so no separate Apply step is
// needed.
func membershipTarget(
	membership entities.Membership,
	idGen ports.IDGenerator,
	source string,
	correlationID string,
	updated *entities.Membership,
) ApprovalTarget {
	return ApprovalTarget{
		Reload: func(ctx context.Context, repos ports.Repositories) (entities.ApprovalStatus, error) {
			current, err := repos.GetMembership(ctx, membership.MembershipID)
			if err != nil {
				return "", err
			}
			return current.Status, nil
		},
		Approve: func(ctx context.Context, repos ports.Repositories, now time.Time) (bool, error) {
			row, err := repos.ApproveMembershipIfPending(ctx, membership.MembershipID, now)
			if err != nil {
				return false, err
			}
			if row == nil {
				return false, nil
			}
			if updated != nil {
				*updated = *row
			}
			return true, nil
		},
		Reject: func(ctx context.Context, repos ports.Repositories) (bool, error) {
			row, err := repos.RejectMembershipIfPending(ctx, membership.MembershipID)
			if err != nil {
				return false, err
			}
			if row == nil {
				return false, nil
			}
			if updated != nil {
				*updated = *row
			}
			return true, nil
		},
		Emit: func(ctx context.Context, repos ports.Repositories, status entities.ApprovalStatus, now time.Time) error {
			eventType := EventMembershipApproved
			if status == entities.StatusRejected {
				eventType = EventMembershipRejected
			}
			envelope, err := newDecisionEnvelope(ctx, envelopeInput{
				IDGen:         idGen,
				EventType:     eventType,
				Source:        source,
				SubjectID:     membership.EventID,
				CorrelationID: correlationID,
				OccurredAt:    now,
				Payload: map[string]any{
					"membership_id":     membership.MembershipID,
					"decision_event_id": membership.EventID,
					"user_id":           membership.UserID,
					"status":            string(status),
				},
			})
			if err != nil {
				return err
			}
			return repos.AppendOutbox(ctx, envelope)
		},
	}
}

func newID(ctx context.Context, idGen ports.IDGenerator) (string, error) {
	if idGen == nil {
		return "", errors.New("id generator is not configured")
	}
	return idGen.NewID(ctx)
}
