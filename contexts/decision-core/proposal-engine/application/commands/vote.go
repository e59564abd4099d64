package commands

import (
	"context"
	"log/slog"
	"strings"
	"time"

	application "consilium/contexts/decision-core/proposal-engine/application"
	"consilium/contexts/decision-core/proposal-engine/domain/entities"
	domainerrors "consilium/contexts/decision-core/proposal-engine/domain/errors"
	"consilium/contexts/decision-core/proposal-engine/ports"
)

// AddVoteCommand records one member's endorsement of a pending proposal.
type AddVoteCommand struct {
	EventID       string
	ProposalID    string
	VoterID       string
	CorrelationID string
}

// RemoveVoteCommand retracts a previously recorded endorsement.
type RemoveVoteCommand struct {
	EventID       string
	ProposalID    string
	VoterID       string
	CorrelationID string
}

// VoteResult returns the proposal state after the vote transaction, including
// any auto-approval that happened inside it.
type VoteResult struct {
	Proposal  entities.Proposal
	VoteCount int
}

// VoteUseCase orchestrates vote writes. Every vote change re-runs the
// auto-approval evaluation in the same transaction, so crossing the policy
// line and materializing the acceptance are atomic with the vote itself.
type VoteUseCase struct {
	Store      ports.Store
	Evaluator  Evaluator
	Strategies StrategySet
	Clock      ports.Clock
	IDGen      ports.IDGenerator
	Logger     *slog.Logger
}

// AddVote records a vote and evaluates auto-approval. Duplicate votes by the
// same voter surface ErrDuplicateVote from the unique constraint.
func (uc VoteUseCase) AddVote(ctx context.Context, cmd AddVoteCommand) (VoteResult, error) {
	logger := application.ResolveLogger(uc.Logger)
	logger.Info("vote add started",
		"event", "proposal_vote_add_started",
		"module", "decision-core/proposal-engine",
		"layer", "application",
		"decision_event_id", strings.TrimSpace(cmd.EventID),
		"proposal_id", strings.TrimSpace(cmd.ProposalID),
		"voter_id", strings.TrimSpace(cmd.VoterID),
	)

	proposal, settings, strategy, err := uc.loadVotingContext(ctx, cmd.EventID, cmd.ProposalID, cmd.VoterID)
	if err != nil {
		return VoteResult{}, err
	}

	voteID, err := uc.IDGen.NewID(ctx)
	if err != nil {
		return VoteResult{}, err
	}
	now := uc.now()

	var result VoteResult
	err = uc.Store.InTx(ctx, func(repos ports.Repositories) error {
		if err := repos.AddVote(ctx, entities.Vote{
			VoteID:     voteID,
			ProposalID: proposal.ProposalID,
			VoterID:    strings.TrimSpace(cmd.VoterID),
			CreatedAt:  now,
		}); err != nil {
			return err
		}
		count, err := repos.CountVotes(ctx, proposal.ProposalID)
		if err != nil {
			return err
		}
		if err := uc.Evaluator.Evaluate(ctx, repos, proposal, settings, count, strategy, cmd.CorrelationID, now); err != nil {
			return err
		}
		// Re-read so the caller sees an auto-approval performed in this
		// transaction.
		refreshed, err := repos.GetProposal(ctx, proposal.ProposalID)
		if err != nil {
			return err
		}
		result = VoteResult{Proposal: refreshed, VoteCount: count}
		return nil
	})
	if err != nil {
		logger.Warn("vote add rejected",
			"event", "proposal_vote_add_rejected",
			"module", "decision-core/proposal-engine",
			"layer", "application",
			"decision_event_id", strings.TrimSpace(cmd.EventID),
			"proposal_id", strings.TrimSpace(cmd.ProposalID),
			"error", err.Error(),
		)
		return VoteResult{}, err
	}

	logger.Info("vote add completed",
		"event", "proposal_vote_add_completed",
		"module", "decision-core/proposal-engine",
		"layer", "application",
		"proposal_id", result.Proposal.ProposalID,
		"vote_count", result.VoteCount,
		"proposal_status", string(result.Proposal.Status),
	)
	return result, nil
}

// RemoveVote retracts the voter's vote. The evaluation still runs afterwards
// because settings may have changed since the last vote.
func (uc VoteUseCase) RemoveVote(ctx context.Context, cmd RemoveVoteCommand) (VoteResult, error) {
	logger := application.ResolveLogger(uc.Logger)
	logger.Info("vote remove started",
		"event", "proposal_vote_remove_started",
		"module", "decision-core/proposal-engine",
		"layer", "application",
		"decision_event_id", strings.TrimSpace(cmd.EventID),
		"proposal_id", strings.TrimSpace(cmd.ProposalID),
		"voter_id", strings.TrimSpace(cmd.VoterID),
	)

	proposal, settings, strategy, err := uc.loadVotingContext(ctx, cmd.EventID, cmd.ProposalID, cmd.VoterID)
	if err != nil {
		return VoteResult{}, err
	}
	now := uc.now()

	var result VoteResult
	err = uc.Store.InTx(ctx, func(repos ports.Repositories) error {
		if err := repos.RemoveVote(ctx, proposal.ProposalID, strings.TrimSpace(cmd.VoterID)); err != nil {
			return err
		}
		count, err := repos.CountVotes(ctx, proposal.ProposalID)
		if err != nil {
			return err
		}
		if err := uc.Evaluator.Evaluate(ctx, repos, proposal, settings, count, strategy, cmd.CorrelationID, now); err != nil {
			return err
		}
		refreshed, err := repos.GetProposal(ctx, proposal.ProposalID)
		if err != nil {
			return err
		}
		result = VoteResult{Proposal: refreshed, VoteCount: count}
		return nil
	})
	if err != nil {
		logger.Warn("vote remove rejected",
			"event", "proposal_vote_remove_rejected",
			"module", "decision-core/proposal-engine",
			"layer", "application",
			"decision_event_id", strings.TrimSpace(cmd.EventID),
			"proposal_id", strings.TrimSpace(cmd.ProposalID),
			"error", err.Error(),
		)
		return VoteResult{}, err
	}

	logger.Info("vote remove completed",
		"event", "proposal_vote_remove_completed",
		"module", "decision-core/proposal-engine",
		"layer", "application",
		"proposal_id", result.Proposal.ProposalID,
		"vote_count", result.VoteCount,
	)
	return result, nil
}

// loadVotingContext performs the shared pre-transaction checks: inputs, event
// progress, proposal ownership and pending status, and kind strategy lookup.
func (uc VoteUseCase) loadVotingContext(
	ctx context.Context,
	eventID string,
	proposalID string,
	voterID string,
) (entities.Proposal, entities.EventSettings, KindStrategy, error) {
	if strings.TrimSpace(eventID) == "" ||
		strings.TrimSpace(proposalID) == "" ||
		strings.TrimSpace(voterID) == "" {
		return entities.Proposal{}, entities.EventSettings{}, KindStrategy{}, domainerrors.ErrInvalidInput
	}
	settings, err := uc.Store.GetEventSettings(ctx, strings.TrimSpace(eventID))
	if err != nil {
		return entities.Proposal{}, entities.EventSettings{}, KindStrategy{}, err
	}
	if settings.Status != entities.EventStatusInProgress {
		return entities.Proposal{}, entities.EventSettings{}, KindStrategy{}, domainerrors.ErrEventNotInProgress
	}
	proposal, err := uc.Store.GetProposal(ctx, strings.TrimSpace(proposalID))
	if err != nil {
		return entities.Proposal{}, entities.EventSettings{}, KindStrategy{}, err
	}
	if proposal.EventID != strings.TrimSpace(eventID) {
		return entities.Proposal{}, entities.EventSettings{}, KindStrategy{}, domainerrors.ErrProposalMismatch
	}
	if proposal.Status != entities.StatusPending {
		return entities.Proposal{}, entities.EventSettings{}, KindStrategy{}, domainerrors.ErrProposalNotPending
	}
	strategy, ok := uc.Strategies[proposal.Kind]
	if !ok {
		return entities.Proposal{}, entities.EventSettings{}, KindStrategy{}, domainerrors.ErrUnknownKind
	}
	return proposal, settings, strategy, nil
}

func (uc VoteUseCase) now() time.Time {
	if uc.Clock != nil {
		return uc.Clock.Now().UTC()
	}
	return time.Now().UTC()
}
