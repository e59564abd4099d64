package errors

import "errors"

var (
	ErrInvalidInput       = errors.New("invalid proposal input")
	ErrInvalidStatus      = errors.New("status must be ACCEPTED or REJECTED")
	ErrEventNotFound      = errors.New("decision event not found")
	ErrEventNotInProgress = errors.New("decision event is not in progress")
	ErrNotAdmin           = errors.New("actor is not the event admin")
	ErrProposalNotFound   = errors.New("proposal not found")
	ErrProposalMismatch   = errors.New("proposal does not belong to this event")
	ErrProposalNotPending = errors.New("proposal is not pending")
	ErrAlreadyAccepted    = errors.New("already accepted")
	ErrAlreadyRejected    = errors.New("already rejected")
	ErrStatusChanged      = errors.New("status has changed and cannot be updated")
	ErrUnknownKind        = errors.New("unknown proposal kind")
	ErrDuplicateVote      = errors.New("voter already voted on this proposal")
	ErrVoteNotFound       = errors.New("vote not found")
	ErrMembershipNotFound = errors.New("membership not found")
	ErrMembershipMismatch = errors.New("membership does not belong to this event")
	ErrContentNotFound    = errors.New("content item not found")
	ErrConflict           = errors.New("proposal conflict")
)
