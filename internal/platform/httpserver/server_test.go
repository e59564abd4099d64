package httpserver

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	eventrelay "consilium/contexts/decision-core/event-relay"
	relaymemory "consilium/contexts/decision-core/event-relay/adapters/memory"
	idempotencyguard "consilium/contexts/decision-core/idempotency-guard"
	proposalengine "consilium/contexts/decision-core/proposal-engine"
	proposalmemory "consilium/contexts/decision-core/proposal-engine/adapters/memory"
	"consilium/contexts/decision-core/proposal-engine/domain/entities"
	proposalhttp "consilium/contexts/decision-core/proposal-engine/transport/http"
	"consilium/internal/shared/events"
)

func newTestServer(t *testing.T, stream StreamConfig) (*Server, *proposalmemory.Store, *relaymemory.Store) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	proposals := proposalengine.NewInMemoryModule("consilium-test", logger)
	relay := eventrelay.NewInMemoryModule("worker-test", logger)
	guard := idempotencyguard.NewInMemoryModule(logger)
	proposals.Store.SetOutboxSink(relay.Store.AppendEnvelope)
	server := New(proposals, relay, guard.Wrapper, stream, logger, ":0")
	return server, proposals.Store, relay.Store
}

func seedDecisionEvent(store *proposalmemory.Store) {
	store.SeedEventSettings(entities.EventSettings{
		EventID:               "event-1",
		AdminID:               "admin-1",
		Status:                entities.EventStatusInProgress,
		AssumptionAutoApprove: true,
		AssumptionMinVotes:    5,
	})
	store.SeedProposal(entities.Proposal{
		ProposalID: "proposal-1",
		EventID:    "event-1",
		Kind:       entities.KindAssumption,
		Category:   entities.CategoryCreation,
		Status:     entities.StatusPending,
		Content:    "the market will grow",
		CreatedBy:  "member-1",
		CreatedAt:  time.Now().UTC(),
	})
}

func doRequest(t *testing.T, server *Server, method string, path string, userID string, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if userID != "" {
		req.Header.Set("X-User-Id", userID)
	}
	for name, value := range headers {
		req.Header.Set(name, value)
	}
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	return rec
}

func TestVoteRequiresUserHeader(t *testing.T) {
	server, store, _ := newTestServer(t, StreamConfig{})
	seedDecisionEvent(store)

	rec := doRequest(t, server, http.MethodPost, "/v1/events/event-1/proposals/proposal-1/votes", "", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without X-User-Id, got %d", rec.Code)
	}
}

func TestAddVoteReturnsCreated(t *testing.T) {
	server, store, _ := newTestServer(t, StreamConfig{})
	seedDecisionEvent(store)

	rec := doRequest(t, server, http.MethodPost, "/v1/events/event-1/proposals/proposal-1/votes", "member-1", "", nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp proposalhttp.VoteResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.VoteCount != 1 || resp.ProposalStatus != string(entities.StatusPending) {
		t.Fatalf("unexpected vote response: %+v", resp)
	}
}

func TestDuplicateVoteConflicts(t *testing.T) {
	server, store, _ := newTestServer(t, StreamConfig{})
	seedDecisionEvent(store)

	path := "/v1/events/event-1/proposals/proposal-1/votes"
	if rec := doRequest(t, server, http.MethodPost, path, "member-1", "", nil); rec.Code != http.StatusCreated {
		t.Fatalf("first vote failed: %d", rec.Code)
	}
	rec := doRequest(t, server, http.MethodPost, path, "member-1", "", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 on duplicate vote, got %d", rec.Code)
	}
}

func TestIdempotentVoteReplaysStoredResponse(t *testing.T) {
	server, store, _ := newTestServer(t, StreamConfig{})
	seedDecisionEvent(store)

	path := "/v1/events/event-1/proposals/proposal-1/votes"
	headers := map[string]string{"Idempotency-Key": "vote-once"}
	first := doRequest(t, server, http.MethodPost, path, "member-1", "", headers)
	if first.Code != http.StatusCreated {
		t.Fatalf("first call failed: %d: %s", first.Code, first.Body.String())
	}
	second := doRequest(t, server, http.MethodPost, path, "member-1", "", headers)
	if second.Code != http.StatusCreated {
		t.Fatalf("replay must restore the original status, got %d", second.Code)
	}
	if first.Body.String() != second.Body.String() {
		t.Fatalf("replay body diverged: %q vs %q", first.Body.String(), second.Body.String())
	}
	var resp proposalhttp.VoteResponse
	if err := json.Unmarshal(second.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.VoteCount != 1 {
		t.Fatalf("replay must not cast a second vote, count %d", resp.VoteCount)
	}
}

func TestIdempotencyKeyReuseWithDifferentBody(t *testing.T) {
	server, store, _ := newTestServer(t, StreamConfig{})
	seedDecisionEvent(store)

	path := "/v1/events/event-1/proposals/proposal-1/status"
	headers := map[string]string{"Idempotency-Key": "decide-once"}
	first := doRequest(t, server, http.MethodPost, path, "admin-1", `{"status":"ACCEPTED"}`, headers)
	if first.Code != http.StatusOK {
		t.Fatalf("first decision failed: %d: %s", first.Code, first.Body.String())
	}
	second := doRequest(t, server, http.MethodPost, path, "admin-1", `{"status":"REJECTED"}`, headers)
	if second.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for key reuse with new payload, got %d", second.Code)
	}
}

func TestAdminDecisionFlow(t *testing.T) {
	server, store, relayStore := newTestServer(t, StreamConfig{})
	seedDecisionEvent(store)

	path := "/v1/events/event-1/proposals/proposal-1/status"
	rec := doRequest(t, server, http.MethodPost, path, "admin-1", `{"status":"ACCEPTED"}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp proposalhttp.ProposalResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != string(entities.StatusAccepted) || resp.AppliedAt == "" {
		t.Fatalf("expected accepted and applied proposal, got %+v", resp)
	}

	staged, err := relayStore.EventsSince(context.Background(), "event-1", "", 10)
	if err != nil {
		t.Fatalf("read staged events: %v", err)
	}
	if len(staged) != 1 || staged[0].EventType != "proposal.approved.v1" {
		t.Fatalf("expected one staged approval event, got %+v", staged)
	}

	// A second decision hits an already resolved proposal.
	rec = doRequest(t, server, http.MethodPost, path, "admin-1", `{"status":"REJECTED"}`, nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 on resolved proposal, got %d", rec.Code)
	}
}

func TestDecisionRequiresAdmin(t *testing.T) {
	server, store, _ := newTestServer(t, StreamConfig{})
	seedDecisionEvent(store)

	rec := doRequest(t, server, http.MethodPost,
		"/v1/events/event-1/proposals/proposal-1/status", "member-1", `{"status":"ACCEPTED"}`, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for non-admin, got %d", rec.Code)
	}
}

func TestMembershipDecision(t *testing.T) {
	server, store, _ := newTestServer(t, StreamConfig{})
	seedDecisionEvent(store)
	store.SeedMembership(entities.Membership{
		MembershipID: "membership-1",
		EventID:      "event-1",
		UserID:       "member-2",
		Status:       entities.StatusPending,
		CreatedAt:    time.Now().UTC(),
	})

	rec := doRequest(t, server, http.MethodPost,
		"/v1/events/event-1/memberships/membership-1/status", "admin-1", `{"status":"ACCEPTED"}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp proposalhttp.MembershipResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != string(entities.StatusAccepted) || resp.JoinedAt == "" {
		t.Fatalf("expected accepted membership with joined_at, got %+v", resp)
	}
}

func TestUpdatesEndpointPaginates(t *testing.T) {
	server, _, relayStore := newTestServer(t, StreamConfig{})
	seedRelayEnvelope(t, relayStore, "event-1", "proposal.approved.v1")
	seedRelayEnvelope(t, relayStore, "event-1", "membership.approved.v1")

	rec := doRequest(t, server, http.MethodGet, "/v1/events/event-1/updates?limit=1", "", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var page updatesResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &page); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(page.Items) != 1 || page.Cursor == "" {
		t.Fatalf("expected one item and a cursor, got %+v", page)
	}

	rec = doRequest(t, server, http.MethodGet, "/v1/events/event-1/updates?cursor="+page.Cursor, "", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var next updatesResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &next); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(next.Items) != 1 || next.Items[0].EventID == page.Items[0].EventID {
		t.Fatalf("expected the remaining item after the cursor, got %+v", next)
	}
}

func TestStreamEmitsFramesAndRetry(t *testing.T) {
	server, _, relayStore := newTestServer(t, StreamConfig{PollInterval: time.Millisecond})
	seedRelayEnvelope(t, relayStore, "event-1", "proposal.approved.v1")

	rec := serveStream(server, "/v1/events/event-1/stream", nil)
	body := rec.Body.String()
	if !strings.Contains(body, "retry: 5000\n\n") {
		t.Fatalf("expected retry directive, got %q", body)
	}
	if !strings.Contains(body, "event: proposal.approved.v1\n") {
		t.Fatalf("expected event frame, got %q", body)
	}
	if !strings.Contains(body, "id: ") || !strings.Contains(body, "data: ") {
		t.Fatalf("expected id and data lines, got %q", body)
	}
	if got := rec.Header().Get("Content-Type"); got != "text/event-stream" {
		t.Fatalf("expected SSE content type, got %q", got)
	}
}

func TestStreamResumesAfterLastEventID(t *testing.T) {
	server, _, relayStore := newTestServer(t, StreamConfig{PollInterval: time.Millisecond})
	seedRelayEnvelope(t, relayStore, "event-1", "proposal.approved.v1")
	seedRelayEnvelope(t, relayStore, "event-1", "membership.approved.v1")

	staged, err := relayStore.EventsSince(context.Background(), "event-1", "", 10)
	if err != nil || len(staged) != 2 {
		t.Fatalf("seed rows: %v %d", err, len(staged))
	}

	rec := serveStream(server, "/v1/events/event-1/stream", map[string]string{
		"Last-Event-ID": staged[0].EventID,
	})
	body := rec.Body.String()
	if strings.Contains(body, "id: "+staged[0].EventID+"\n") {
		t.Fatalf("row before the cursor must not replay, got %q", body)
	}
	if !strings.Contains(body, "id: "+staged[1].EventID+"\n") {
		t.Fatalf("row after the cursor must stream, got %q", body)
	}
}

func TestStreamHeartbeatsWhenIdle(t *testing.T) {
	server, _, _ := newTestServer(t, StreamConfig{
		PollInterval: time.Millisecond,
		Heartbeat:    time.Nanosecond,
	})

	rec := serveStream(server, "/v1/events/event-9/stream", nil)
	if !strings.Contains(rec.Body.String(), ": ping\n\n") {
		t.Fatalf("expected heartbeat comment, got %q", rec.Body.String())
	}
}

// serveStream runs the stream handler with an already cancelled context so the
// loop performs one poll, writes its frames, and exits.
func serveStream(server *Server, path string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for name, value := range headers {
		req.Header.Set(name, value)
	}
	ctx, cancel := context.WithCancel(req.Context())
	cancel()
	req = req.WithContext(ctx)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	return rec
}

func seedRelayEnvelope(t *testing.T, store *relaymemory.Store, subjectID string, eventType string) {
	t.Helper()
	err := store.AppendEnvelope(context.Background(), events.Envelope{
		EventID:        "evt-" + eventType,
		EventType:      eventType,
		SourceService:  "consilium-test",
		OccurredAtUTC:  time.Now().UTC(),
		SubjectID:      subjectID,
		PayloadVersion: 1,
		Payload:        map[string]any{"decision_event_id": subjectID},
	})
	if err != nil {
		t.Fatalf("append envelope: %v", err)
	}
}
