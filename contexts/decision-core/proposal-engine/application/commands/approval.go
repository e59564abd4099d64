package commands

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	application "consilium/contexts/decision-core/proposal-engine/application"
	"consilium/contexts/decision-core/proposal-engine/domain/entities"
	domainerrors "consilium/contexts/decision-core/proposal-engine/domain/errors"
	"consilium/contexts/decision-core/proposal-engine/ports"
)

// ApprovalTarget bundles the per-kind callbacks the engine drives. Approve and
// Reject run the conditional transition and report whether a row was won;
// Reload feeds race classification after a loss; Apply materializes an
// acceptance; Emit stages the domain event.
type ApprovalTarget struct {
	Reload  func(ctx context.Context, repos ports.Repositories) (entities.ApprovalStatus, error)
	Approve func(ctx context.Context, repos ports.Repositories, now time.Time) (bool, error)
	Reject  func(ctx context.Context, repos ports.Repositories) (bool, error)
	Apply   func(ctx context.Context, repos ports.Repositories, now time.Time) error
	Emit    func(ctx context.Context, repos ports.Repositories, status entities.ApprovalStatus, now time.Time) error
}

// ApprovalEngine performs the PENDING to terminal transition for any
// approvable entity. The conditional update is the entire concurrency guard:
// zero affected rows means another path already resolved the entity, and the
// caller gets a reason derived from the reloaded state rather than a silent
// second success.
type ApprovalEngine struct {
	Logger *slog.Logger
}

// Resolve moves the target to the requested terminal status. On the winning
// path it runs Apply (for acceptances) and Emit inside the caller's
// transaction; on the losing path it classifies the conflict.
func (engine ApprovalEngine) Resolve(
	ctx context.Context,
	repos ports.Repositories,
	target ApprovalTarget,
	status entities.ApprovalStatus,
	now time.Time,
) error {
	if status != entities.StatusAccepted && status != entities.StatusRejected {
		return domainerrors.ErrInvalidStatus
	}

	var won bool
	var err error
	if status == entities.StatusAccepted {
		won, err = target.Approve(ctx, repos, now)
	} else {
		won, err = target.Reject(ctx, repos)
	}
	if err != nil {
		return err
	}
	if !won {
		return engine.classifyLoss(ctx, repos, target)
	}

	if status == entities.StatusAccepted && target.Apply != nil {
		if err := target.Apply(ctx, repos, now); err != nil {
			return err
		}
	}
	if target.Emit != nil {
		if err := target.Emit(ctx, repos, status, now); err != nil {
			return err
		}
	}
	return nil
}

func (engine ApprovalEngine) classifyLoss(
	ctx context.Context,
	repos ports.Repositories,
	target ApprovalTarget,
) error {
	current, err := target.Reload(ctx, repos)
	if err != nil {
		return err
	}
	switch current {
	case entities.StatusAccepted:
		return domainerrors.ErrAlreadyAccepted
	case entities.StatusRejected:
		return domainerrors.ErrAlreadyRejected
	default:
		return domainerrors.ErrStatusChanged
	}
}

// IsResolutionConflict reports whether err is one of the loss classifications
// produced when a concurrent resolver won the transition.
func IsResolutionConflict(err error) bool {
	return errors.Is(err, domainerrors.ErrAlreadyAccepted) ||
		errors.Is(err, domainerrors.ErrAlreadyRejected) ||
		errors.Is(err, domainerrors.ErrStatusChanged)
}

// UpdateProposalStatusCommand is the admin write-model input for a manual
// proposal resolution.
type UpdateProposalStatusCommand struct {
	EventID       string
	ProposalID    string
	ActorID       string
	Status        entities.ApprovalStatus
	CorrelationID string
}

// ApprovalUseCase exposes admin-driven proposal resolution. Auto-approval
// shares the same engine and targets through the evaluator.
type ApprovalUseCase struct {
	Store      ports.Store
	Engine     ApprovalEngine
	Strategies StrategySet
	Clock      ports.Clock
	IDGen      ports.IDGenerator
	Source     string
	Logger     *slog.Logger
}

// UpdateProposalStatus lets the event admin accept or reject a pending
// proposal. Acceptance materializes the proposal's content effect and stages
// the approval event atomically with the status flip.
func (uc ApprovalUseCase) UpdateProposalStatus(
	ctx context.Context,
	cmd UpdateProposalStatusCommand,
) (entities.Proposal, error) {
	logger := application.ResolveLogger(uc.Logger)
	logger.Info("proposal status update started",
		"event", "proposal_status_update_started",
		"module", "decision-core/proposal-engine",
		"layer", "application",
		"decision_event_id", strings.TrimSpace(cmd.EventID),
		"proposal_id", strings.TrimSpace(cmd.ProposalID),
		"actor_id", strings.TrimSpace(cmd.ActorID),
		"target_status", string(cmd.Status),
	)
	if strings.TrimSpace(cmd.EventID) == "" ||
		strings.TrimSpace(cmd.ProposalID) == "" ||
		strings.TrimSpace(cmd.ActorID) == "" {
		return entities.Proposal{}, domainerrors.ErrInvalidInput
	}
	if cmd.Status != entities.StatusAccepted && cmd.Status != entities.StatusRejected {
		return entities.Proposal{}, domainerrors.ErrInvalidStatus
	}

	settings, err := uc.Store.GetEventSettings(ctx, cmd.EventID)
	if err != nil {
		return entities.Proposal{}, err
	}
	if settings.AdminID != strings.TrimSpace(cmd.ActorID) {
		logger.Warn("proposal status update forbidden",
			"event", "proposal_status_update_forbidden",
			"module", "decision-core/proposal-engine",
			"layer", "application",
			"decision_event_id", strings.TrimSpace(cmd.EventID),
			"proposal_id", strings.TrimSpace(cmd.ProposalID),
			"actor_id", strings.TrimSpace(cmd.ActorID),
		)
		return entities.Proposal{}, domainerrors.ErrNotAdmin
	}

	proposal, err := uc.Store.GetProposal(ctx, cmd.ProposalID)
	if err != nil {
		return entities.Proposal{}, err
	}
	if proposal.EventID != strings.TrimSpace(cmd.EventID) {
		return entities.Proposal{}, domainerrors.ErrProposalMismatch
	}
	strategy, ok := uc.Strategies[proposal.Kind]
	if !ok {
		return entities.Proposal{}, domainerrors.ErrUnknownKind
	}

	now := uc.now()
	var updated entities.Proposal
	err = uc.Store.InTx(ctx, func(repos ports.Repositories) error {
		target := proposalTarget(proposalTargetInput{
			Proposal:      proposal,
			Strategy:      strategy,
			IDGen:         uc.IDGen,
			Source:        uc.Source,
			CorrelationID: cmd.CorrelationID,
			Updated:       &updated,
		})
		return uc.Engine.Resolve(ctx, repos, target, cmd.Status, now)
	})
	if err != nil {
		logger.Warn("proposal status update rejected",
			"event", "proposal_status_update_rejected",
			"module", "decision-core/proposal-engine",
			"layer", "application",
			"decision_event_id", strings.TrimSpace(cmd.EventID),
			"proposal_id", strings.TrimSpace(cmd.ProposalID),
			"error", err.Error(),
		)
		return entities.Proposal{}, err
	}

	logger.Info("proposal status update completed",
		"event", "proposal_status_update_completed",
		"module", "decision-core/proposal-engine",
		"layer", "application",
		"decision_event_id", strings.TrimSpace(cmd.EventID),
		"proposal_id", strings.TrimSpace(cmd.ProposalID),
		"status", string(updated.Status),
	)
	return updated, nil
}

func (uc ApprovalUseCase) now() time.Time {
	if uc.Clock != nil {
		return uc.Clock.Now().UTC()
	}
	return time.Now().UTC()
}
