package http

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type UpdateStatusRequest struct {
	Status string `json:"status"`
}

type ProposalResponse struct {
	ProposalID string `json:"proposal_id"`
	EventID    string `json:"event_id"`
	Kind       string `json:"kind"`
	Category   string `json:"category"`
	Status     string `json:"status"`
	Content    string `json:"content,omitempty"`
	TargetID   string `json:"target_id,omitempty"`
	AcceptedAt string `json:"accepted_at,omitempty"`
	AppliedAt  string `json:"applied_at,omitempty"`
}

type VoteResponse struct {
	ProposalID     string `json:"proposal_id"`
	EventID        string `json:"event_id"`
	VoteCount      int    `json:"vote_count"`
	ProposalStatus string `json:"proposal_status"`
}

type MembershipResponse struct {
	MembershipID string `json:"membership_id"`
	EventID      string `json:"event_id"`
	UserID       string `json:"user_id"`
	Status       string `json:"status"`
	JoinedAt     string `json:"joined_at,omitempty"`
}
