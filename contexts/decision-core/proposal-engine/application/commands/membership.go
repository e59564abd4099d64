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

// UpdateMembershipStatusCommand is the admin write-model input for resolving
// a pending join request.
type UpdateMembershipStatusCommand struct {
	EventID       string
	MembershipID  string
	ActorID       string
	Status        entities.ApprovalStatus
	CorrelationID string
}

// MembershipUseCase resolves join requests through the same engine as
// proposals. Acceptance stamps joined_at in the conditional update itself.
type MembershipUseCase struct {
	Store  ports.Store
	Engine ApprovalEngine
	Clock  ports.Clock
	IDGen  ports.IDGenerator
	Source string
	Logger *slog.Logger
}

// UpdateMembershipStatus lets the event admin accept or reject a pending
// membership, staging the membership event atomically with the flip.
func (uc MembershipUseCase) UpdateMembershipStatus(
	ctx context.Context,
	cmd UpdateMembershipStatusCommand,
) (entities.Membership, error) {
	logger := application.ResolveLogger(uc.Logger)
	logger.Info("membership status update started",
		"event", "membership_status_update_started",
		"module", "decision-core/proposal-engine",
		"layer", "application",
		"decision_event_id", strings.TrimSpace(cmd.EventID),
		"membership_id", strings.TrimSpace(cmd.MembershipID),
		"actor_id", strings.TrimSpace(cmd.ActorID),
		"target_status", string(cmd.Status),
	)
	if strings.TrimSpace(cmd.EventID) == "" ||
		strings.TrimSpace(cmd.MembershipID) == "" ||
		strings.TrimSpace(cmd.ActorID) == "" {
		return entities.Membership{}, domainerrors.ErrInvalidInput
	}
	if cmd.Status != entities.StatusAccepted && cmd.Status != entities.StatusRejected {
		return entities.Membership{}, domainerrors.ErrInvalidStatus
	}

	settings, err := uc.Store.GetEventSettings(ctx, cmd.EventID)
	if err != nil {
		return entities.Membership{}, err
	}
	if settings.AdminID != strings.TrimSpace(cmd.ActorID) {
		return entities.Membership{}, domainerrors.ErrNotAdmin
	}

	membership, err := uc.Store.GetMembership(ctx, cmd.MembershipID)
	if err != nil {
		return entities.Membership{}, err
	}
	if membership.EventID != strings.TrimSpace(cmd.EventID) {
		return entities.Membership{}, domainerrors.ErrMembershipMismatch
	}

	now := uc.now()
	var updated entities.Membership
	err = uc.Store.InTx(ctx, func(repos ports.Repositories) error {
		target := membershipTarget(membership, uc.IDGen, uc.Source, cmd.CorrelationID, &updated)
		return uc.Engine.Resolve(ctx, repos, target, cmd.Status, now)
	})
	if err != nil {
		logger.Warn("membership status update rejected",
			"event", "membership_status_update_rejected",
			"module", "decision-core/proposal-engine",
			"layer", "application",
			"decision_event_id", strings.TrimSpace(cmd.EventID),
			"membership_id", strings.TrimSpace(cmd.MembershipID),
			"error", err.Error(),
		)
		return entities.Membership{}, err
	}

	logger.Info("membership status update completed",
		"event", "membership_status_update_completed",
		"module", "decision-core/proposal-engine",
		"layer", "application",
		"decision_event_id", strings.TrimSpace(cmd.EventID),
		"membership_id", strings.TrimSpace(cmd.MembershipID),
		"status", string(updated.Status),
	)
	return updated, nil
}

func (uc MembershipUseCase) now() time.Time {
	if uc.Clock != nil {
		return uc.Clock.Now().UTC()
	}
	return time.Now().UTC()
}
