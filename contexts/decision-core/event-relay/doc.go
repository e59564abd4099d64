// Package eventrelay implements asynchronous event delivery inside the
// decision-core context.
//
// State changes stage rows in a transactional outbox; a dispatcher claims
// batches with worker-scoped locks, runs the registered handler per event
// type under an idempotency guard, and retries failures with exponential
// backoff up to a dead-letter cap. A cursor reader exposes the same rows in
// id order for client resumption over server-sent events.
package eventrelay
