package commands

import (
	"context"
	"time"

	"consilium/contexts/decision-core/proposal-engine/ports"
	"consilium/internal/shared/events"
)

const payloadVersion = 1

type envelopeInput struct {
	IDGen         ports.IDGenerator
	EventType     string
	Source        string
	SubjectID     string
	CorrelationID string
	OccurredAt    time.Time
	Payload       map[string]any
}

// newDecisionEnvelope builds the shared envelope staged in the outbox. The
// envelope id is generated here; the outbox row gets its own sortable id from
// the store.
func newDecisionEnvelope(ctx context.Context, in envelopeInput) (events.Envelope, error) {
	eventID, err := newID(ctx, in.IDGen)
	if err != nil {
		return events.Envelope{}, err
	}
	return events.Envelope{
		EventID:        eventID,
		EventType:      in.EventType,
		SourceService:  in.Source,
		OccurredAtUTC:  in.OccurredAt.UTC(),
		CorrelationID:  in.CorrelationID,
		SubjectID:      in.SubjectID,
		PayloadVersion: payloadVersion,
		Payload:        in.Payload,
	}, nil
}
