package commands

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"consilium/contexts/decision-core/proposal-engine/adapters/memory"
	"consilium/contexts/decision-core/proposal-engine/domain/entities"
	domainerrors "consilium/contexts/decision-core/proposal-engine/domain/errors"
)

type approvalFixture struct {
	store       *memory.Store
	approvals   ApprovalUseCase
	memberships MembershipUseCase
	votes       VoteUseCase
}

func newApprovalFixture(t *testing.T) approvalFixture {
	t.Helper()
	store := memory.NewStore()
	engine := ApprovalEngine{}
	strategies := DefaultStrategies(store)
	evaluator := Evaluator{Engine: engine, IDGen: store, Source: "decision-core"}
	return approvalFixture{
		store: store,
		approvals: ApprovalUseCase{
			Store:      store,
			Engine:     engine,
			Strategies: strategies,
			Clock:      store,
			IDGen:      store,
			Source:     "decision-core",
		},
		memberships: MembershipUseCase{
			Store:  store,
			Engine: engine,
			Clock:  store,
			IDGen:  store,
			Source: "decision-core",
		},
		votes: VoteUseCase{
			Store:      store,
			Evaluator:  evaluator,
			Strategies: strategies,
			Clock:      store,
			IDGen:      store,
		},
	}
}

func (f approvalFixture) seedEvent(adminID string) string {
	eventID := "event-1"
	f.store.SeedEventSettings(entities.EventSettings{
		EventID: eventID,
		AdminID: adminID,
		Status:  entities.EventStatusInProgress,
	})
	return eventID
}

func (f approvalFixture) seedProposal(eventID string, category entities.ProposalCategory, targetID string) entities.Proposal {
	proposal := entities.Proposal{
		ProposalID: "proposal-1",
		EventID:    eventID,
		Kind:       entities.KindAssumption,
		Category:   category,
		Status:     entities.StatusPending,
		Content:    "the market doubles every year",
		TargetID:   targetID,
		CreatedBy:  "member-1",
		CreatedAt:  time.Now().UTC(),
	}
	f.store.SeedProposal(proposal)
	return proposal
}

func TestUpdateProposalStatusAcceptMaterializesCreation(t *testing.T) {
	fixture := newApprovalFixture(t)
	ctx := context.Background()
	eventID := fixture.seedEvent("admin-1")
	proposal := fixture.seedProposal(eventID, entities.CategoryCreation, "")

	updated, err := fixture.approvals.UpdateProposalStatus(ctx, UpdateProposalStatusCommand{
		EventID:    eventID,
		ProposalID: proposal.ProposalID,
		ActorID:    "admin-1",
		Status:     entities.StatusAccepted,
	})
	if err != nil {
		t.Fatalf("accept failed: %v", err)
	}
	if updated.Status != entities.StatusAccepted {
		t.Fatalf("expected ACCEPTED, got %s", updated.Status)
	}
	if updated.AcceptedAt == nil || updated.AppliedAt == nil {
		t.Fatalf("expected accepted_at and applied_at to be stamped")
	}

	contents := fixture.store.ContentByEvent(eventID)
	if len(contents) != 1 {
		t.Fatalf("expected one content row, got %d", len(contents))
	}
	if contents[0].Body != proposal.Content {
		t.Fatalf("expected content body %q, got %q", proposal.Content, contents[0].Body)
	}

	envelopes := fixture.store.OutboxEnvelopes()
	if len(envelopes) != 1 {
		t.Fatalf("expected one staged event, got %d", len(envelopes))
	}
	if envelopes[0].EventType != EventProposalApproved {
		t.Fatalf("expected %s, got %s", EventProposalApproved, envelopes[0].EventType)
	}
}

func TestUpdateProposalStatusRejectSkipsMaterialization(t *testing.T) {
	fixture := newApprovalFixture(t)
	ctx := context.Background()
	eventID := fixture.seedEvent("admin-1")
	proposal := fixture.seedProposal(eventID, entities.CategoryCreation, "")

	updated, err := fixture.approvals.UpdateProposalStatus(ctx, UpdateProposalStatusCommand{
		EventID:    eventID,
		ProposalID: proposal.ProposalID,
		ActorID:    "admin-1",
		Status:     entities.StatusRejected,
	})
	if err != nil {
		t.Fatalf("reject failed: %v", err)
	}
	if updated.Status != entities.StatusRejected {
		t.Fatalf("expected REJECTED, got %s", updated.Status)
	}
	if len(fixture.store.ContentByEvent(eventID)) != 0 {
		t.Fatalf("rejected proposal must not materialize content")
	}
	envelopes := fixture.store.OutboxEnvelopes()
	if len(envelopes) != 1 || envelopes[0].EventType != EventProposalRejected {
		t.Fatalf("expected one %s event, got %+v", EventProposalRejected, envelopes)
	}
}

func TestUpdateProposalStatusModificationRewritesTarget(t *testing.T) {
	fixture := newApprovalFixture(t)
	ctx := context.Background()
	eventID := fixture.seedEvent("admin-1")
	fixture.store.SeedContent(entities.ContentItem{
		ContentID: "content-1",
		EventID:   eventID,
		Kind:      entities.KindAssumption,
		Body:      "old body",
	})
	proposal := fixture.seedProposal(eventID, entities.CategoryModification, "content-1")

	if _, err := fixture.approvals.UpdateProposalStatus(ctx, UpdateProposalStatusCommand{
		EventID:    eventID,
		ProposalID: proposal.ProposalID,
		ActorID:    "admin-1",
		Status:     entities.StatusAccepted,
	}); err != nil {
		t.Fatalf("accept failed: %v", err)
	}

	item, err := fixture.store.GetContent(ctx, "content-1")
	if err != nil {
		t.Fatalf("content lookup failed: %v", err)
	}
	if item.Body != proposal.Content {
		t.Fatalf("expected body rewritten to %q, got %q", proposal.Content, item.Body)
	}
}

func TestUpdateProposalStatusDeletionSoftDeletesTarget(t *testing.T) {
	fixture := newApprovalFixture(t)
	ctx := context.Background()
	eventID := fixture.seedEvent("admin-1")
	fixture.store.SeedContent(entities.ContentItem{
		ContentID: "content-1",
		EventID:   eventID,
		Kind:      entities.KindAssumption,
		Body:      "stale assumption",
	})
	proposal := fixture.seedProposal(eventID, entities.CategoryDeletion, "content-1")

	if _, err := fixture.approvals.UpdateProposalStatus(ctx, UpdateProposalStatusCommand{
		EventID:    eventID,
		ProposalID: proposal.ProposalID,
		ActorID:    "admin-1",
		Status:     entities.StatusAccepted,
	}); err != nil {
		t.Fatalf("accept failed: %v", err)
	}
	if len(fixture.store.ContentByEvent(eventID)) != 0 {
		t.Fatalf("expected target soft-deleted")
	}
}

func TestUpdateProposalStatusRequiresAdmin(t *testing.T) {
	fixture := newApprovalFixture(t)
	ctx := context.Background()
	eventID := fixture.seedEvent("admin-1")
	proposal := fixture.seedProposal(eventID, entities.CategoryCreation, "")

	_, err := fixture.approvals.UpdateProposalStatus(ctx, UpdateProposalStatusCommand{
		EventID:    eventID,
		ProposalID: proposal.ProposalID,
		ActorID:    "member-2",
		Status:     entities.StatusAccepted,
	})
	if !errors.Is(err, domainerrors.ErrNotAdmin) {
		t.Fatalf("expected ErrNotAdmin, got %v", err)
	}
}

func TestUpdateProposalStatusInvalidTarget(t *testing.T) {
	fixture := newApprovalFixture(t)
	ctx := context.Background()
	eventID := fixture.seedEvent("admin-1")
	proposal := fixture.seedProposal(eventID, entities.CategoryCreation, "")

	_, err := fixture.approvals.UpdateProposalStatus(ctx, UpdateProposalStatusCommand{
		EventID:    eventID,
		ProposalID: proposal.ProposalID,
		ActorID:    "admin-1",
		Status:     entities.StatusPending,
	})
	if !errors.Is(err, domainerrors.ErrInvalidStatus) {
		t.Fatalf("expected ErrInvalidStatus, got %v", err)
	}
}

func TestUpdateProposalStatusClassifiesResolvedProposal(t *testing.T) {
	fixture := newApprovalFixture(t)
	ctx := context.Background()
	eventID := fixture.seedEvent("admin-1")
	accepted := time.Now().UTC()
	fixture.store.SeedProposal(entities.Proposal{
		ProposalID: "proposal-1",
		EventID:    eventID,
		Kind:       entities.KindAssumption,
		Category:   entities.CategoryCreation,
		Status:     entities.StatusAccepted,
		AcceptedAt: &accepted,
	})

	_, err := fixture.approvals.UpdateProposalStatus(ctx, UpdateProposalStatusCommand{
		EventID:    eventID,
		ProposalID: "proposal-1",
		ActorID:    "admin-1",
		Status:     entities.StatusRejected,
	})
	if !errors.Is(err, domainerrors.ErrAlreadyAccepted) {
		t.Fatalf("expected ErrAlreadyAccepted, got %v", err)
	}
}

func TestUpdateProposalStatusConcurrentSingleWinner(t *testing.T) {
	fixture := newApprovalFixture(t)
	ctx := context.Background()
	eventID := fixture.seedEvent("admin-1")
	proposal := fixture.seedProposal(eventID, entities.CategoryCreation, "")

	const attempts = 8
	results := make([]error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			_, err := fixture.approvals.UpdateProposalStatus(ctx, UpdateProposalStatusCommand{
				EventID:    eventID,
				ProposalID: proposal.ProposalID,
				ActorID:    "admin-1",
				Status:     entities.StatusAccepted,
			})
			results[slot] = err
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range results {
		switch {
		case err == nil:
			wins++
		case IsResolutionConflict(err):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins)
	}
	if got := len(fixture.store.OutboxEnvelopes()); got != 1 {
		t.Fatalf("expected one staged event, got %d", got)
	}
	if got := len(fixture.store.ContentByEvent(eventID)); got != 1 {
		t.Fatalf("expected one content row, got %d", got)
	}
}

func TestUpdateMembershipStatusApproveStampsJoinedAt(t *testing.T) {
	fixture := newApprovalFixture(t)
	ctx := context.Background()
	eventID := fixture.seedEvent("admin-1")
	fixture.store.SeedMembership(entities.Membership{
		MembershipID: "membership-1",
		EventID:      eventID,
		UserID:       "member-9",
		Status:       entities.StatusPending,
	})

	updated, err := fixture.memberships.UpdateMembershipStatus(ctx, UpdateMembershipStatusCommand{
		EventID:      eventID,
		MembershipID: "membership-1",
		ActorID:      "admin-1",
		Status:       entities.StatusAccepted,
	})
	if err != nil {
		t.Fatalf("membership accept failed: %v", err)
	}
	if updated.Status != entities.StatusAccepted || updated.JoinedAt == nil {
		t.Fatalf("expected ACCEPTED with joined_at, got %+v", updated)
	}

	envelopes := fixture.store.OutboxEnvelopes()
	if len(envelopes) != 1 || envelopes[0].EventType != EventMembershipApproved {
		t.Fatalf("expected one %s event, got %+v", EventMembershipApproved, envelopes)
	}
}

func TestUpdateMembershipStatusWrongEvent(t *testing.T) {
	fixture := newApprovalFixture(t)
	ctx := context.Background()
	eventID := fixture.seedEvent("admin-1")
	fixture.store.SeedMembership(entities.Membership{
		MembershipID: "membership-1",
		EventID:      "other-event",
		UserID:       "member-9",
		Status:       entities.StatusPending,
	})

	_, err := fixture.memberships.UpdateMembershipStatus(ctx, UpdateMembershipStatusCommand{
		EventID:      eventID,
		MembershipID: "membership-1",
		ActorID:      "admin-1",
		Status:       entities.StatusAccepted,
	})
	if !errors.Is(err, domainerrors.ErrMembershipMismatch) {
		t.Fatalf("expected ErrMembershipMismatch, got %v", err)
	}
}
