package errors

import "errors"

var (
	ErrUnknownEventType = errors.New("no handler registered for event type")
	ErrEventNotFound    = errors.New("outbox event not found")
	ErrInvalidCursor    = errors.New("invalid stream cursor")
)
