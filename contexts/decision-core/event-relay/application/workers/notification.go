package workers

import (
	"context"
	"encoding/json"
	"log/slog"

	application "consilium/contexts/decision-core/event-relay/application"
	"consilium/contexts/decision-core/event-relay/ports"
	"consilium/internal/shared/events"
)

// NotificationHandler decodes a staged envelope and republishes it on the
// in-process bus so notification consumers see resolved proposals and
// memberships. Publishing the same envelope twice is harmless, which keeps
// the handler idempotent on its own.
type NotificationHandler struct {
	Publisher ports.Publisher
	Logger    *slog.Logger
}

func (h NotificationHandler) Handle(ctx context.Context, payload []byte, correlationID string) error {
	var envelope events.Envelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return err
	}
	if envelope.CorrelationID == "" {
		envelope.CorrelationID = correlationID
	}
	if err := h.Publisher.Publish(ctx, envelope.EventType, envelope); err != nil {
		return err
	}
	application.ResolveLogger(h.Logger).Info("notification published",
		"event", "relay_notification_published",
		"module", "decision-core/event-relay",
		"layer", "worker",
		"event_id", envelope.EventID,
		"event_type", envelope.EventType,
		"subject_id", envelope.SubjectID,
	)
	return nil
}

var _ ports.Handler = NotificationHandler{}
