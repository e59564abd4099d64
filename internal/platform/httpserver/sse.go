package httpserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"consilium/contexts/decision-core/event-relay/application/queries"
)

type updateItem struct {
	EventID   string          `json:"event_id"`
	EventType string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload"`
}

type updatesResponse struct {
	Items  []updateItem `json:"items"`
	Cursor string       `json:"cursor"`
}

func updatesResponseFromResult(result queries.UpdatesResult) updatesResponse {
	resp := updatesResponse{Items: []updateItem{}, Cursor: result.Cursor}
	for _, item := range result.Items {
		resp.Items = append(resp.Items, updateItem{
			EventID:   item.EventID,
			EventType: item.EventType,
			Payload:   item.Payload,
		})
	}
	return resp
}

// handleEventStream serves server-sent events for one decision event. The
// loop polls the outbox cursor reader, emits id/event/data frames, and sends
// comment heartbeats through idle stretches so proxies keep the connection
// open. Clients resume with Last-Event-ID or the cursor query parameter.
func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeDecisionError(w, http.StatusInternalServerError, "streaming_unsupported", "response writer does not support streaming")
		return
	}

	eventID := r.PathValue("event_id")
	cursor := strings.TrimSpace(r.URL.Query().Get("cursor"))
	if lastEventID := strings.TrimSpace(r.Header.Get("Last-Event-ID")); lastEventID != "" {
		cursor = lastEventID
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "retry: %d\n\n", s.stream.RetryMillis)
	flusher.Flush()

	s.logger.Info("event stream opened",
		"event", "http_stream_opened",
		"module", "internal/platform/httpserver",
		"layer", "platform",
		"decision_event_id", eventID,
		"cursor", cursor,
	)

	ctx := r.Context()
	lastActivity := time.Now()
	ticker := time.NewTicker(s.stream.PollInterval)
	defer ticker.Stop()

	for {
		result, err := s.relay.Updates.Since(ctx, eventID, cursor, s.stream.PageSize)
		if err != nil {
			s.logger.Error("event stream read failed",
				"event", "http_stream_read_failed",
				"module", "internal/platform/httpserver",
				"layer", "platform",
				"decision_event_id", eventID,
				"error", err.Error(),
			)
			// Tell the client to reconnect rather than holding a broken loop.
			fmt.Fprintf(w, "retry: %d\n\n", s.stream.RetryMillis)
			flusher.Flush()
			return
		}

		if len(result.Items) > 0 {
			for _, item := range result.Items {
				fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", item.EventID, item.EventType, item.Payload)
			}
			cursor = result.Cursor
			lastActivity = time.Now()
			flusher.Flush()
		} else if time.Since(lastActivity) >= s.stream.Heartbeat {
			fmt.Fprint(w, ": ping\n\n")
			lastActivity = time.Now()
			flusher.Flush()
		}

		select {
		case <-ctx.Done():
			s.logger.Info("event stream closed",
				"event", "http_stream_closed",
				"module", "internal/platform/httpserver",
				"layer", "platform",
				"decision_event_id", eventID,
			)
			return
		case <-ticker.C:
		}
	}
}
