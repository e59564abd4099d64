package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"consilium/contexts/decision-core/proposal-engine/domain/entities"
	domainerrors "consilium/contexts/decision-core/proposal-engine/domain/errors"
	"consilium/contexts/decision-core/proposal-engine/ports"
	"consilium/internal/shared/events"
)

// Store is the in-memory adapter for tests and local wiring. Per-method
// locking preserves the single-winner semantics of the conditional updates;
// InTx runs fn directly without rollback, which the use cases tolerate
// because their writes are ordered vote-first.
type Store struct {
	mu          sync.Mutex
	proposals   map[string]entities.Proposal
	votes       map[string]entities.Vote
	memberships map[string]entities.Membership
	settings    map[string]entities.EventSettings
	contents    map[string]entities.ContentItem
	outbox      []events.Envelope
	outboxSink  func(ctx context.Context, envelope events.Envelope) error
}

func NewStore() *Store {
	return &Store{
		proposals:   make(map[string]entities.Proposal),
		votes:       make(map[string]entities.Vote),
		memberships: make(map[string]entities.Membership),
		settings:    make(map[string]entities.EventSettings),
		contents:    make(map[string]entities.ContentItem),
	}
}

func (s *Store) InTx(_ context.Context, fn func(ports.Repositories) error) error {
	return fn(s)
}

func (s *Store) GetProposal(_ context.Context, proposalID string) (entities.Proposal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	proposal, ok := s.proposals[proposalID]
	if !ok {
		return entities.Proposal{}, domainerrors.ErrProposalNotFound
	}
	return proposal, nil
}

func (s *Store) ApproveProposalIfPending(
	_ context.Context,
	proposalID string,
	acceptedAt time.Time,
) (*entities.Proposal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	proposal, ok := s.proposals[proposalID]
	if !ok || proposal.Status != entities.StatusPending {
		return nil, nil
	}
	accepted := acceptedAt.UTC()
	proposal.Status = entities.StatusAccepted
	proposal.AcceptedAt = &accepted
	s.proposals[proposalID] = proposal
	return &proposal, nil
}

func (s *Store) RejectProposalIfPending(
	_ context.Context,
	proposalID string,
) (*entities.Proposal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	proposal, ok := s.proposals[proposalID]
	if !ok || proposal.Status != entities.StatusPending {
		return nil, nil
	}
	proposal.Status = entities.StatusRejected
	s.proposals[proposalID] = proposal
	return &proposal, nil
}

func (s *Store) MarkProposalApplied(
	_ context.Context,
	proposalID string,
	appliedAt time.Time,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	proposal, ok := s.proposals[proposalID]
	if !ok || proposal.Status != entities.StatusAccepted {
		return domainerrors.ErrProposalNotFound
	}
	applied := appliedAt.UTC()
	proposal.AppliedAt = &applied
	s.proposals[proposalID] = proposal
	return nil
}

func (s *Store) AddVote(_ context.Context, vote entities.Vote) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	mapKey := vote.ProposalID + "|" + vote.VoterID
	if _, ok := s.votes[mapKey]; ok {
		return domainerrors.ErrDuplicateVote
	}
	s.votes[mapKey] = vote
	return nil
}

func (s *Store) RemoveVote(_ context.Context, proposalID string, voterID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	mapKey := proposalID + "|" + voterID
	if _, ok := s.votes[mapKey]; !ok {
		return domainerrors.ErrVoteNotFound
	}
	delete(s.votes, mapKey)
	return nil
}

func (s *Store) CountVotes(_ context.Context, proposalID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, vote := range s.votes {
		if vote.ProposalID == proposalID {
			count++
		}
	}
	return count, nil
}

func (s *Store) GetMembership(_ context.Context, membershipID string) (entities.Membership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	membership, ok := s.memberships[membershipID]
	if !ok {
		return entities.Membership{}, domainerrors.ErrMembershipNotFound
	}
	return membership, nil
}

func (s *Store) ApproveMembershipIfPending(
	_ context.Context,
	membershipID string,
	joinedAt time.Time,
) (*entities.Membership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	membership, ok := s.memberships[membershipID]
	if !ok || membership.Status != entities.StatusPending {
		return nil, nil
	}
	joined := joinedAt.UTC()
	membership.Status = entities.StatusAccepted
	membership.JoinedAt = &joined
	s.memberships[membershipID] = membership
	return &membership, nil
}

func (s *Store) RejectMembershipIfPending(
	_ context.Context,
	membershipID string,
) (*entities.Membership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	membership, ok := s.memberships[membershipID]
	if !ok || membership.Status != entities.StatusPending {
		return nil, nil
	}
	membership.Status = entities.StatusRejected
	s.memberships[membershipID] = membership
	return &membership, nil
}

func (s *Store) CountAcceptedMembers(_ context.Context, eventID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, membership := range s.memberships {
		if membership.EventID == eventID && membership.Status == entities.StatusAccepted {
			count++
		}
	}
	return count, nil
}

func (s *Store) GetEventSettings(_ context.Context, eventID string) (entities.EventSettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	settings, ok := s.settings[eventID]
	if !ok {
		return entities.EventSettings{}, domainerrors.ErrEventNotFound
	}
	return settings, nil
}

func (s *Store) GetContent(_ context.Context, contentID string) (entities.ContentItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.contents[contentID]
	if !ok {
		return entities.ContentItem{}, domainerrors.ErrContentNotFound
	}
	return item, nil
}

func (s *Store) CreateContent(_ context.Context, item entities.ContentItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contents[item.ContentID] = item
	return nil
}

func (s *Store) UpdateContentBody(
	_ context.Context,
	contentID string,
	body string,
	updatedAt time.Time,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.contents[contentID]
	if !ok || item.Deleted {
		return domainerrors.ErrContentNotFound
	}
	item.Body = body
	item.UpdatedAt = updatedAt.UTC()
	s.contents[contentID] = item
	return nil
}

func (s *Store) SoftDeleteContent(
	_ context.Context,
	contentID string,
	deletedAt time.Time,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.contents[contentID]
	if !ok || item.Deleted {
		return domainerrors.ErrContentNotFound
	}
	item.Deleted = true
	item.UpdatedAt = deletedAt.UTC()
	s.contents[contentID] = item
	return nil
}

func (s *Store) AppendOutbox(ctx context.Context, envelope events.Envelope) error {
	s.mu.Lock()
	sink := s.outboxSink
	if sink == nil {
		s.outbox = append(s.outbox, envelope)
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()
	return sink(ctx, envelope)
}

// SetOutboxSink redirects staged envelopes, letting wiring hand them to a
// relay store instead of the internal slice.
func (s *Store) SetOutboxSink(sink func(ctx context.Context, envelope events.Envelope) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outboxSink = sink
}

// Seed helpers for tests and local wiring.

func (s *Store) SeedEventSettings(settings entities.EventSettings) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings[settings.EventID] = settings
}

func (s *Store) SeedProposal(proposal entities.Proposal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.proposals[proposal.ProposalID] = proposal
}

func (s *Store) SeedMembership(membership entities.Membership) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.memberships[membership.MembershipID] = membership
}

func (s *Store) SeedContent(item entities.ContentItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contents[item.ContentID] = item
}

// OutboxEnvelopes exposes staged envelopes for test assertions.
func (s *Store) OutboxEnvelopes() []events.Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]events.Envelope(nil), s.outbox...)
}

// ContentByEvent returns the live content rows for one event.
func (s *Store) ContentByEvent(eventID string) []entities.ContentItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	var items []entities.ContentItem
	for _, item := range s.contents {
		if item.EventID == eventID && !item.Deleted {
			items = append(items, item)
		}
	}
	return items
}

func (s *Store) Now() time.Time {
	return time.Now().UTC()
}

func (s *Store) NewID(context.Context) (string, error) {
	return uuid.NewString(), nil
}

var _ ports.Store = (*Store)(nil)
var _ ports.Clock = (*Store)(nil)
var _ ports.IDGenerator = (*Store)(nil)
