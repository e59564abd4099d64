package commands

import (
	"context"
	"log/slog"
	"time"

	application "consilium/contexts/decision-core/proposal-engine/application"
	"consilium/contexts/decision-core/proposal-engine/domain/entities"
	"consilium/contexts/decision-core/proposal-engine/ports"
)

// Evaluator decides whether a vote change pushed a pending proposal over its
// auto-approval policy, and if so resolves it through the shared engine. It
// runs inside the vote's transaction so the acceptance, its content effect,
// and the outbox event commit together with the vote.
type Evaluator struct {
	Engine ApprovalEngine
	IDGen  ports.IDGenerator
	Source string
	Logger *slog.Logger
}

// Evaluate applies the kind's policy against the current vote count. Policy
// parameters come from the owning event at evaluation time. A concurrent
// resolver winning the transition is not an error for the vote path; the vote
// itself still commits.
func (ev Evaluator) Evaluate(
	ctx context.Context,
	repos ports.Repositories,
	proposal entities.Proposal,
	settings entities.EventSettings,
	voteCount int,
	strategy KindStrategy,
	correlationID string,
	now time.Time,
) error {
	if proposal.Status != entities.StatusPending {
		return nil
	}
	rule := strategy.Rule(settings)
	if !rule.Enabled {
		return nil
	}

	triggered := false
	switch rule.Policy {
	case PolicyVoteFloor:
		triggered = voteCount >= rule.MinVotes
	case PolicyMemberRatio:
		total, err := repos.CountAcceptedMembers(ctx, proposal.EventID)
		if err != nil {
			return err
		}
		// An event with no accepted members cannot satisfy a ratio policy.
		if total == 0 {
			return nil
		}
		triggered = float64(voteCount)*100/float64(total) >= rule.ThresholdPercent
	default:
		return nil
	}
	if !triggered {
		return nil
	}

	target := proposalTarget(proposalTargetInput{
		Proposal:      proposal,
		Strategy:      strategy,
		IDGen:         ev.IDGen,
		Source:        ev.Source,
		CorrelationID: correlationID,
	})
	err := ev.Engine.Resolve(ctx, repos, target, entities.StatusAccepted, now)
	if err != nil {
		if IsResolutionConflict(err) {
			application.ResolveLogger(ev.Logger).Info("auto approval lost resolution race",
				"event", "proposal_auto_approval_race_lost",
				"module", "decision-core/proposal-engine",
				"layer", "application",
				"proposal_id", proposal.ProposalID,
				"decision_event_id", proposal.EventID,
			)
			return nil
		}
		return err
	}
	application.ResolveLogger(ev.Logger).Info("proposal auto approved",
		"event", "proposal_auto_approved",
		"module", "decision-core/proposal-engine",
		"layer", "application",
		"proposal_id", proposal.ProposalID,
		"decision_event_id", proposal.EventID,
		"kind", string(proposal.Kind),
		"vote_count", voteCount,
	)
	return nil
}
