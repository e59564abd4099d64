package httpadapter

import (
	"context"
	"log/slog"
	"time"

	"consilium/contexts/decision-core/proposal-engine/application/commands"
	"consilium/contexts/decision-core/proposal-engine/domain/entities"
	httptransport "consilium/contexts/decision-core/proposal-engine/transport/http"
)

type Handler struct {
	Approvals   commands.ApprovalUseCase
	Memberships commands.MembershipUseCase
	Votes       commands.VoteUseCase
	Logger      *slog.Logger
}

func (h Handler) UpdateProposalStatusHandler(
	ctx context.Context,
	eventID string,
	proposalID string,
	actorID string,
	correlationID string,
	req httptransport.UpdateStatusRequest,
) (httptransport.ProposalResponse, error) {
	proposal, err := h.Approvals.UpdateProposalStatus(ctx, commands.UpdateProposalStatusCommand{
		EventID:       eventID,
		ProposalID:    proposalID,
		ActorID:       actorID,
		Status:        entities.ApprovalStatus(req.Status),
		CorrelationID: correlationID,
	})
	if err != nil {
		return httptransport.ProposalResponse{}, err
	}
	return proposalResponse(proposal), nil
}

func (h Handler) AddVoteHandler(
	ctx context.Context,
	eventID string,
	proposalID string,
	voterID string,
	correlationID string,
) (httptransport.VoteResponse, error) {
	result, err := h.Votes.AddVote(ctx, commands.AddVoteCommand{
		EventID:       eventID,
		ProposalID:    proposalID,
		VoterID:       voterID,
		CorrelationID: correlationID,
	})
	if err != nil {
		return httptransport.VoteResponse{}, err
	}
	return voteResponse(result), nil
}

func (h Handler) RemoveVoteHandler(
	ctx context.Context,
	eventID string,
	proposalID string,
	voterID string,
	correlationID string,
) (httptransport.VoteResponse, error) {
	result, err := h.Votes.RemoveVote(ctx, commands.RemoveVoteCommand{
		EventID:       eventID,
		ProposalID:    proposalID,
		VoterID:       voterID,
		CorrelationID: correlationID,
	})
	if err != nil {
		return httptransport.VoteResponse{}, err
	}
	return voteResponse(result), nil
}

func (h Handler) UpdateMembershipStatusHandler(
	ctx context.Context,
	eventID string,
	membershipID string,
	actorID string,
	correlationID string,
	req httptransport.UpdateStatusRequest,
) (httptransport.MembershipResponse, error) {
	membership, err := h.Memberships.UpdateMembershipStatus(ctx, commands.UpdateMembershipStatusCommand{
		EventID:       eventID,
		MembershipID:  membershipID,
		ActorID:       actorID,
		Status:        entities.ApprovalStatus(req.Status),
		CorrelationID: correlationID,
	})
	if err != nil {
		return httptransport.MembershipResponse{}, err
	}
	return httptransport.MembershipResponse{
		MembershipID: membership.MembershipID,
		EventID:      membership.EventID,
		UserID:       membership.UserID,
		Status:       string(membership.Status),
		JoinedAt:     formatTime(membership.JoinedAt),
	}, nil
}

func proposalResponse(proposal entities.Proposal) httptransport.ProposalResponse {
	return httptransport.ProposalResponse{
		ProposalID: proposal.ProposalID,
		EventID:    proposal.EventID,
		Kind:       string(proposal.Kind),
		Category:   string(proposal.Category),
		Status:     string(proposal.Status),
		Content:    proposal.Content,
		TargetID:   proposal.TargetID,
		AcceptedAt: formatTime(proposal.AcceptedAt),
		AppliedAt:  formatTime(proposal.AppliedAt),
	}
}

func voteResponse(result commands.VoteResult) httptransport.VoteResponse {
	return httptransport.VoteResponse{
		ProposalID:     result.Proposal.ProposalID,
		EventID:        result.Proposal.EventID,
		VoteCount:      result.VoteCount,
		ProposalStatus: string(result.Proposal.Status),
	}
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
