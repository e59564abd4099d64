package events

import "time"

// Envelope is the canonical event shape persisted in the outbox and delivered
// to side-effect handlers and live-stream subscribers.
// SubjectID groups every envelope emitted for one decision event so stream
// readers can follow a single event timeline.
type Envelope struct {
	EventID        string    `json:"event_id"`
	EventType      string    `json:"event_type"`
	SourceService  string    `json:"source_service"`
	OccurredAtUTC  time.Time `json:"occurred_at_utc"`
	CorrelationID  string    `json:"correlation_id"`
	SubjectID      string    `json:"subject_id"`
	PayloadVersion int       `json:"payload_version"`
	Payload        any       `json:"payload"`
}
