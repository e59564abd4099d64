package commands

import (
	"context"
	"errors"
	"sync"
	"testing"

	"consilium/contexts/decision-core/proposal-engine/domain/entities"
	domainerrors "consilium/contexts/decision-core/proposal-engine/domain/errors"
)

func TestAddVoteAutoApprovesOnVoteFloor(t *testing.T) {
	fixture := newApprovalFixture(t)
	ctx := context.Background()
	fixture.store.SeedEventSettings(entities.EventSettings{
		EventID:               "event-1",
		AdminID:               "admin-1",
		Status:                entities.EventStatusInProgress,
		AssumptionAutoApprove: true,
		AssumptionMinVotes:    2,
	})
	proposal := fixture.seedProposal("event-1", entities.CategoryCreation, "")

	first, err := fixture.votes.AddVote(ctx, AddVoteCommand{
		EventID:    "event-1",
		ProposalID: proposal.ProposalID,
		VoterID:    "member-1",
	})
	if err != nil {
		t.Fatalf("first vote failed: %v", err)
	}
	if first.Proposal.Status != entities.StatusPending {
		t.Fatalf("one vote must not approve, got %s", first.Proposal.Status)
	}

	second, err := fixture.votes.AddVote(ctx, AddVoteCommand{
		EventID:    "event-1",
		ProposalID: proposal.ProposalID,
		VoterID:    "member-2",
	})
	if err != nil {
		t.Fatalf("second vote failed: %v", err)
	}
	if second.Proposal.Status != entities.StatusAccepted {
		t.Fatalf("expected auto approval at two votes, got %s", second.Proposal.Status)
	}
	if second.VoteCount != 2 {
		t.Fatalf("expected vote count 2, got %d", second.VoteCount)
	}
	if got := len(fixture.store.ContentByEvent("event-1")); got != 1 {
		t.Fatalf("expected one materialized content row, got %d", got)
	}
	envelopes := fixture.store.OutboxEnvelopes()
	if len(envelopes) != 1 || envelopes[0].EventType != EventProposalApproved {
		t.Fatalf("expected exactly one %s event, got %+v", EventProposalApproved, envelopes)
	}
}

func TestAddVoteZeroFloorApprovesOnFirstVote(t *testing.T) {
	fixture := newApprovalFixture(t)
	ctx := context.Background()
	fixture.store.SeedEventSettings(entities.EventSettings{
		EventID:               "event-1",
		AdminID:               "admin-1",
		Status:                entities.EventStatusInProgress,
		AssumptionAutoApprove: true,
		AssumptionMinVotes:    0,
	})
	proposal := fixture.seedProposal("event-1", entities.CategoryCreation, "")

	result, err := fixture.votes.AddVote(ctx, AddVoteCommand{
		EventID:    "event-1",
		ProposalID: proposal.ProposalID,
		VoterID:    "member-1",
	})
	if err != nil {
		t.Fatalf("vote failed: %v", err)
	}
	if result.Proposal.Status != entities.StatusAccepted {
		t.Fatalf("an enabled floor of zero must approve on any evaluation, got %s", result.Proposal.Status)
	}
}

func TestAddVoteConcurrentThresholdSingleApproval(t *testing.T) {
	fixture := newApprovalFixture(t)
	ctx := context.Background()
	fixture.store.SeedEventSettings(entities.EventSettings{
		EventID:               "event-1",
		AdminID:               "admin-1",
		Status:                entities.EventStatusInProgress,
		AssumptionAutoApprove: true,
		AssumptionMinVotes:    2,
	})
	proposal := fixture.seedProposal("event-1", entities.CategoryCreation, "")

	const voters = 6
	var wg sync.WaitGroup
	errs := make([]error, voters)
	for i := 0; i < voters; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			_, err := fixture.votes.AddVote(ctx, AddVoteCommand{
				EventID:    "event-1",
				ProposalID: proposal.ProposalID,
				VoterID:    "member-" + string(rune('a'+slot)),
			})
			errs[slot] = err
		}(i)
	}
	wg.Wait()

	// Late voters may observe the proposal already resolved; every other
	// outcome must be a clean success.
	for _, err := range errs {
		if err != nil && !errors.Is(err, domainerrors.ErrProposalNotPending) {
			t.Fatalf("unexpected vote error: %v", err)
		}
	}
	updated, err := fixture.store.GetProposal(ctx, proposal.ProposalID)
	if err != nil {
		t.Fatalf("proposal lookup failed: %v", err)
	}
	if updated.Status != entities.StatusAccepted {
		t.Fatalf("expected ACCEPTED, got %s", updated.Status)
	}
	if got := len(fixture.store.ContentByEvent("event-1")); got != 1 {
		t.Fatalf("expected exactly one content row, got %d", got)
	}
	envelopes := fixture.store.OutboxEnvelopes()
	if len(envelopes) != 1 {
		t.Fatalf("expected exactly one approval event, got %d", len(envelopes))
	}
}

func TestAddVoteRatioPolicy(t *testing.T) {
	fixture := newApprovalFixture(t)
	ctx := context.Background()
	fixture.store.SeedEventSettings(entities.EventSettings{
		EventID:                    "event-1",
		AdminID:                    "admin-1",
		Status:                     entities.EventStatusInProgress,
		ConclusionAutoApprove:      true,
		ConclusionThresholdPercent: 50,
	})
	for _, userID := range []string{"member-1", "member-2", "member-3", "member-4"} {
		fixture.store.SeedMembership(entities.Membership{
			MembershipID: "membership-" + userID,
			EventID:      "event-1",
			UserID:       userID,
			Status:       entities.StatusAccepted,
		})
	}
	fixture.store.SeedProposal(entities.Proposal{
		ProposalID: "proposal-1",
		EventID:    "event-1",
		Kind:       entities.KindConclusion,
		Category:   entities.CategoryCreation,
		Status:     entities.StatusPending,
		Content:    "ship the feature",
	})

	first, err := fixture.votes.AddVote(ctx, AddVoteCommand{
		EventID:    "event-1",
		ProposalID: "proposal-1",
		VoterID:    "member-1",
	})
	if err != nil {
		t.Fatalf("first vote failed: %v", err)
	}
	if first.Proposal.Status != entities.StatusPending {
		t.Fatalf("25%% must not approve at a 50%% threshold, got %s", first.Proposal.Status)
	}

	second, err := fixture.votes.AddVote(ctx, AddVoteCommand{
		EventID:    "event-1",
		ProposalID: "proposal-1",
		VoterID:    "member-2",
	})
	if err != nil {
		t.Fatalf("second vote failed: %v", err)
	}
	if second.Proposal.Status != entities.StatusAccepted {
		t.Fatalf("expected approval at 50%%, got %s", second.Proposal.Status)
	}
}

func TestAddVoteRatioPolicyZeroMembers(t *testing.T) {
	fixture := newApprovalFixture(t)
	ctx := context.Background()
	fixture.store.SeedEventSettings(entities.EventSettings{
		EventID:                    "event-1",
		AdminID:                    "admin-1",
		Status:                     entities.EventStatusInProgress,
		ConclusionAutoApprove:      true,
		ConclusionThresholdPercent: 50,
	})
	fixture.store.SeedProposal(entities.Proposal{
		ProposalID: "proposal-1",
		EventID:    "event-1",
		Kind:       entities.KindConclusion,
		Category:   entities.CategoryCreation,
		Status:     entities.StatusPending,
	})

	result, err := fixture.votes.AddVote(ctx, AddVoteCommand{
		EventID:    "event-1",
		ProposalID: "proposal-1",
		VoterID:    "member-1",
	})
	if err != nil {
		t.Fatalf("vote failed: %v", err)
	}
	if result.Proposal.Status != entities.StatusPending {
		t.Fatalf("zero accepted members must never satisfy a ratio policy, got %s", result.Proposal.Status)
	}
}

func TestAddVoteDisabledPolicyNeverApproves(t *testing.T) {
	fixture := newApprovalFixture(t)
	ctx := context.Background()
	fixture.store.SeedEventSettings(entities.EventSettings{
		EventID:            "event-1",
		AdminID:            "admin-1",
		Status:             entities.EventStatusInProgress,
		AssumptionMinVotes: 1,
	})
	proposal := fixture.seedProposal("event-1", entities.CategoryCreation, "")

	result, err := fixture.votes.AddVote(ctx, AddVoteCommand{
		EventID:    "event-1",
		ProposalID: proposal.ProposalID,
		VoterID:    "member-1",
	})
	if err != nil {
		t.Fatalf("vote failed: %v", err)
	}
	if result.Proposal.Status != entities.StatusPending {
		t.Fatalf("disabled policy must not approve, got %s", result.Proposal.Status)
	}
}

func TestAddVoteDuplicateVoter(t *testing.T) {
	fixture := newApprovalFixture(t)
	ctx := context.Background()
	fixture.seedEvent("admin-1")
	proposal := fixture.seedProposal("event-1", entities.CategoryCreation, "")

	if _, err := fixture.votes.AddVote(ctx, AddVoteCommand{
		EventID:    "event-1",
		ProposalID: proposal.ProposalID,
		VoterID:    "member-1",
	}); err != nil {
		t.Fatalf("first vote failed: %v", err)
	}
	_, err := fixture.votes.AddVote(ctx, AddVoteCommand{
		EventID:    "event-1",
		ProposalID: proposal.ProposalID,
		VoterID:    "member-1",
	})
	if !errors.Is(err, domainerrors.ErrDuplicateVote) {
		t.Fatalf("expected ErrDuplicateVote, got %v", err)
	}
}

func TestAddVoteRejectsWhenEventNotInProgress(t *testing.T) {
	fixture := newApprovalFixture(t)
	ctx := context.Background()
	fixture.store.SeedEventSettings(entities.EventSettings{
		EventID: "event-1",
		AdminID: "admin-1",
		Status:  "COMPLETED",
	})
	proposal := fixture.seedProposal("event-1", entities.CategoryCreation, "")

	_, err := fixture.votes.AddVote(ctx, AddVoteCommand{
		EventID:    "event-1",
		ProposalID: proposal.ProposalID,
		VoterID:    "member-1",
	})
	if !errors.Is(err, domainerrors.ErrEventNotInProgress) {
		t.Fatalf("expected ErrEventNotInProgress, got %v", err)
	}
}

func TestRemoveVoteDecrementsCount(t *testing.T) {
	fixture := newApprovalFixture(t)
	ctx := context.Background()
	fixture.seedEvent("admin-1")
	proposal := fixture.seedProposal("event-1", entities.CategoryCreation, "")

	if _, err := fixture.votes.AddVote(ctx, AddVoteCommand{
		EventID:    "event-1",
		ProposalID: proposal.ProposalID,
		VoterID:    "member-1",
	}); err != nil {
		t.Fatalf("vote failed: %v", err)
	}

	result, err := fixture.votes.RemoveVote(ctx, RemoveVoteCommand{
		EventID:    "event-1",
		ProposalID: proposal.ProposalID,
		VoterID:    "member-1",
	})
	if err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	if result.VoteCount != 0 {
		t.Fatalf("expected vote count 0, got %d", result.VoteCount)
	}

	_, err = fixture.votes.RemoveVote(ctx, RemoveVoteCommand{
		EventID:    "event-1",
		ProposalID: proposal.ProposalID,
		VoterID:    "member-1",
	})
	if !errors.Is(err, domainerrors.ErrVoteNotFound) {
		t.Fatalf("expected ErrVoteNotFound, got %v", err)
	}
}
