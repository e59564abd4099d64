package errors

import "errors"

var (
	ErrKeyRequired       = errors.New("idempotency key is required")
	ErrKeyReused         = errors.New("idempotency key reused with a different request")
	ErrRequestInProgress = errors.New("request with this idempotency key is in progress")
	ErrRecordCorrupted   = errors.New("completed idempotency record is missing response data")
	ErrAcquireFailed     = errors.New("failed to acquire idempotency key")
	ErrRecordNotFound    = errors.New("idempotency record not found")
)
