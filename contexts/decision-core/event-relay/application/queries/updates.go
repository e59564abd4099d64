package queries

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	application "consilium/contexts/decision-core/event-relay/application"
	domainerrors "consilium/contexts/decision-core/event-relay/domain/errors"
	"consilium/contexts/decision-core/event-relay/ports"
)

const defaultPageSize = 100

// StreamItem is one event frame handed to the transport layer. Payload is
// the staged envelope, passed through verbatim.
type StreamItem struct {
	EventID   string
	EventType string
	Payload   json.RawMessage
}

// UpdatesResult carries a page of events plus the cursor a client should
// resume from. Cursor equals the last item's id, or the input cursor when
// the page is empty.
type UpdatesResult struct {
	Items  []StreamItem
	Cursor string
}

// UpdatesUseCase serves incremental reads over the outbox for one subject.
// Visibility is commit-ordered by row id and independent of delivery status,
// so stream consumers never wait on the dispatcher.
type UpdatesUseCase struct {
	Reader ports.CursorReader
	Logger *slog.Logger
}

// Since returns events for subjectID with id greater than afterEventID.
func (uc UpdatesUseCase) Since(
	ctx context.Context,
	subjectID string,
	afterEventID string,
	limit int,
) (UpdatesResult, error) {
	if strings.TrimSpace(subjectID) == "" {
		return UpdatesResult{}, domainerrors.ErrInvalidCursor
	}
	if limit <= 0 {
		limit = defaultPageSize
	}

	rows, err := uc.Reader.EventsSince(ctx, strings.TrimSpace(subjectID), strings.TrimSpace(afterEventID), limit)
	if err != nil {
		application.ResolveLogger(uc.Logger).Error("updates read failed",
			"event", "relay_updates_read_failed",
			"module", "decision-core/event-relay",
			"layer", "application",
			"subject_id", subjectID,
			"error", err.Error(),
		)
		return UpdatesResult{}, err
	}

	result := UpdatesResult{Cursor: strings.TrimSpace(afterEventID)}
	for _, row := range rows {
		result.Items = append(result.Items, StreamItem{
			EventID:   row.EventID,
			EventType: row.EventType,
			Payload:   json.RawMessage(row.Payload),
		})
		result.Cursor = row.EventID
	}
	return result, nil
}
