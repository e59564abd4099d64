package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	eventrelay "consilium/contexts/decision-core/event-relay"
	relayerrors "consilium/contexts/decision-core/event-relay/domain/errors"
	guardapp "consilium/contexts/decision-core/idempotency-guard/application"
	guarderrors "consilium/contexts/decision-core/idempotency-guard/domain/errors"
	proposalengine "consilium/contexts/decision-core/proposal-engine"
	proposalerrors "consilium/contexts/decision-core/proposal-engine/domain/errors"
	proposalhttp "consilium/contexts/decision-core/proposal-engine/transport/http"

	httpSwagger "github.com/swaggo/http-swagger"
	_ "consilium/internal/platform/httpserver/docs"
)

// StreamConfig tunes the server-sent events loop.
type StreamConfig struct {
	PollInterval time.Duration
	Heartbeat    time.Duration
	RetryMillis  int
	PageSize     int
}

type Server struct {
	mux       *http.ServeMux
	logger    *slog.Logger
	addr      string
	proposals proposalengine.Module
	relay     eventrelay.Module
	guard     guardapp.Wrapper
	stream    StreamConfig
}

func New(
	proposals proposalengine.Module,
	relay eventrelay.Module,
	guard guardapp.Wrapper,
	stream StreamConfig,
	logger *slog.Logger,
	addr string,
) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if addr == "" {
		addr = ":8080"
	}
	if guard == nil {
		guard = guardapp.NoopWrapper{}
	}
	if stream.PollInterval <= 0 {
		stream.PollInterval = 2 * time.Second
	}
	if stream.Heartbeat <= 0 {
		stream.Heartbeat = 15 * time.Second
	}
	if stream.RetryMillis <= 0 {
		stream.RetryMillis = 5000
	}
	if stream.PageSize <= 0 {
		stream.PageSize = 100
	}

	s := &Server{
		mux:       http.NewServeMux(),
		logger:    logger,
		addr:      addr,
		proposals: proposals,
		relay:     relay,
		guard:     guard,
		stream:    stream,
	}
	s.registerRoutes()
	return s
}

func (s *Server) Start() error {
	s.logger.Info("http server starting",
		"event", "http_server_starting",
		"module", "internal/platform/httpserver",
		"layer", "platform",
		"addr", s.addr,
	)
	return http.ListenAndServe(s.addr, s.mux)
}

// Handler exposes the mux for tests.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) registerRoutes() {
	s.mux.Handle("/swagger/", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))

	s.mux.HandleFunc("POST /v1/events/{event_id}/proposals/{proposal_id}/status", s.handleUpdateProposalStatus)
	s.mux.HandleFunc("POST /v1/events/{event_id}/proposals/{proposal_id}/votes", s.handleAddVote)
	s.mux.HandleFunc("DELETE /v1/events/{event_id}/proposals/{proposal_id}/votes", s.handleRemoveVote)
	s.mux.HandleFunc("POST /v1/events/{event_id}/memberships/{membership_id}/status", s.handleUpdateMembershipStatus)
	s.mux.HandleFunc("GET /v1/events/{event_id}/updates", s.handleEventUpdates)
	s.mux.HandleFunc("GET /v1/events/{event_id}/stream", s.handleEventStream)
}

func (s *Server) handleUpdateProposalStatus(w http.ResponseWriter, r *http.Request) {
	userID := requireUserID(w, r)
	if userID == "" {
		return
	}
	rawBody, ok := readBody(w, r)
	if !ok {
		return
	}
	var req proposalhttp.UpdateStatusRequest
	if len(rawBody) > 0 {
		if err := json.Unmarshal(rawBody, &req); err != nil {
			writeDecisionError(w, http.StatusBadRequest, "invalid_body", "request body must be valid JSON")
			return
		}
	}

	eventID := r.PathValue("event_id")
	proposalID := r.PathValue("proposal_id")
	s.withIdempotency(w, r, userID, rawBody, func(ctx context.Context) (int, any, error) {
		resp, err := s.proposals.Handler.UpdateProposalStatusHandler(
			ctx, eventID, proposalID, userID, correlationID(r), req)
		if err != nil {
			return 0, nil, err
		}
		return http.StatusOK, resp, nil
	})
}

func (s *Server) handleAddVote(w http.ResponseWriter, r *http.Request) {
	userID := requireUserID(w, r)
	if userID == "" {
		return
	}
	rawBody, ok := readBody(w, r)
	if !ok {
		return
	}

	eventID := r.PathValue("event_id")
	proposalID := r.PathValue("proposal_id")
	s.withIdempotency(w, r, userID, rawBody, func(ctx context.Context) (int, any, error) {
		resp, err := s.proposals.Handler.AddVoteHandler(ctx, eventID, proposalID, userID, correlationID(r))
		if err != nil {
			return 0, nil, err
		}
		return http.StatusCreated, resp, nil
	})
}

func (s *Server) handleRemoveVote(w http.ResponseWriter, r *http.Request) {
	userID := requireUserID(w, r)
	if userID == "" {
		return
	}
	rawBody, ok := readBody(w, r)
	if !ok {
		return
	}

	eventID := r.PathValue("event_id")
	proposalID := r.PathValue("proposal_id")
	s.withIdempotency(w, r, userID, rawBody, func(ctx context.Context) (int, any, error) {
		resp, err := s.proposals.Handler.RemoveVoteHandler(ctx, eventID, proposalID, userID, correlationID(r))
		if err != nil {
			return 0, nil, err
		}
		return http.StatusOK, resp, nil
	})
}

func (s *Server) handleUpdateMembershipStatus(w http.ResponseWriter, r *http.Request) {
	userID := requireUserID(w, r)
	if userID == "" {
		return
	}
	rawBody, ok := readBody(w, r)
	if !ok {
		return
	}
	var req proposalhttp.UpdateStatusRequest
	if len(rawBody) > 0 {
		if err := json.Unmarshal(rawBody, &req); err != nil {
			writeDecisionError(w, http.StatusBadRequest, "invalid_body", "request body must be valid JSON")
			return
		}
	}

	eventID := r.PathValue("event_id")
	membershipID := r.PathValue("membership_id")
	s.withIdempotency(w, r, userID, rawBody, func(ctx context.Context) (int, any, error) {
		resp, err := s.proposals.Handler.UpdateMembershipStatusHandler(
			ctx, eventID, membershipID, userID, correlationID(r), req)
		if err != nil {
			return 0, nil, err
		}
		return http.StatusOK, resp, nil
	})
}

func (s *Server) handleEventUpdates(w http.ResponseWriter, r *http.Request) {
	eventID := r.PathValue("event_id")
	cursor := r.URL.Query().Get("cursor")
	limit := s.stream.PageSize
	if limitRaw := r.URL.Query().Get("limit"); limitRaw != "" {
		parsed, err := strconv.Atoi(limitRaw)
		if err != nil {
			writeDecisionError(w, http.StatusBadRequest, "invalid_limit", "limit must be an integer")
			return
		}
		limit = parsed
	}

	result, err := s.relay.Updates.Since(r.Context(), eventID, cursor, limit)
	if err != nil {
		writeDecisionDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updatesResponseFromResult(result))
}

// withIdempotency runs fn under the idempotency guard when the caller sent
// an Idempotency-Key. Without the header the request executes unguarded.
func (s *Server) withIdempotency(
	w http.ResponseWriter,
	r *http.Request,
	ownerID string,
	rawBody []byte,
	fn func(ctx context.Context) (int, any, error),
) {
	key := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if key == "" {
		status, payload, err := fn(r.Context())
		if err != nil {
			writeDecisionDomainError(w, err)
			return
		}
		writeJSON(w, status, payload)
		return
	}

	var body map[string]any
	if len(rawBody) > 0 {
		// Hash input only; an unparsable body was rejected earlier.
		_ = json.Unmarshal(rawBody, &body)
	}

	resp, err := s.guard.Wrap(r.Context(), guardapp.WrapRequest{
		OwnerID: ownerID,
		Key:     key,
		Method:  r.Method,
		Path:    r.URL.Path,
		Body:    body,
	}, func(ctx context.Context) (guardapp.WrapResponse, error) {
		status, payload, err := fn(ctx)
		if err != nil {
			return guardapp.WrapResponse{}, err
		}
		encoded, marshalErr := json.Marshal(payload)
		if marshalErr != nil {
			return guardapp.WrapResponse{}, marshalErr
		}
		return guardapp.WrapResponse{Code: status, Body: encoded}, nil
	})
	if err != nil {
		writeDecisionDomainError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.Code)
	_, _ = w.Write(resp.Body)
}

func requireUserID(w http.ResponseWriter, r *http.Request) string {
	userID := strings.TrimSpace(r.Header.Get("X-User-Id"))
	if userID == "" {
		writeDecisionError(w, http.StatusUnauthorized, "missing_user", "X-User-Id header is required")
	}
	return userID
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	if r.Body == nil {
		return nil, true
	}
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		writeDecisionError(w, http.StatusBadRequest, "invalid_body", "could not read request body")
		return nil, false
	}
	return raw, true
}

func correlationID(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get("X-Correlation-Id"))
}

func writeDecisionDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, guarderrors.ErrKeyReused):
		writeDecisionError(w, http.StatusUnprocessableEntity, "idempotency_key_reused", err.Error())
	case errors.Is(err, guarderrors.ErrRequestInProgress):
		writeDecisionError(w, http.StatusConflict, "request_in_progress", err.Error())
	case errors.Is(err, guarderrors.ErrKeyRequired):
		writeDecisionError(w, http.StatusBadRequest, "idempotency_key_required", err.Error())
	case errors.Is(err, proposalerrors.ErrInvalidInput),
		errors.Is(err, proposalerrors.ErrInvalidStatus),
		errors.Is(err, relayerrors.ErrInvalidCursor):
		writeDecisionError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, proposalerrors.ErrNotAdmin):
		writeDecisionError(w, http.StatusForbidden, "not_admin", err.Error())
	case errors.Is(err, proposalerrors.ErrEventNotFound),
		errors.Is(err, proposalerrors.ErrProposalNotFound),
		errors.Is(err, proposalerrors.ErrProposalMismatch),
		errors.Is(err, proposalerrors.ErrMembershipNotFound),
		errors.Is(err, proposalerrors.ErrMembershipMismatch),
		errors.Is(err, proposalerrors.ErrVoteNotFound),
		errors.Is(err, proposalerrors.ErrContentNotFound),
		errors.Is(err, relayerrors.ErrEventNotFound):
		writeDecisionError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, proposalerrors.ErrAlreadyAccepted),
		errors.Is(err, proposalerrors.ErrAlreadyRejected),
		errors.Is(err, proposalerrors.ErrStatusChanged),
		errors.Is(err, proposalerrors.ErrProposalNotPending),
		errors.Is(err, proposalerrors.ErrEventNotInProgress),
		errors.Is(err, proposalerrors.ErrDuplicateVote),
		errors.Is(err, proposalerrors.ErrConflict):
		writeDecisionError(w, http.StatusConflict, "conflict", err.Error())
	default:
		writeDecisionError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

func writeDecisionError(w http.ResponseWriter, status int, code string, message string) {
	writeJSON(w, status, proposalhttp.ErrorResponse{
		Code:    code,
		Message: message,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
