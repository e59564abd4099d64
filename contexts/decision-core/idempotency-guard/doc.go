// Package idempotencyguard implements the request-dedup guard inside the
// decision-core context.
//
// The module owns at-most-once execution of state-changing requests keyed by
// (owner, idempotency key): request canonicalization and hashing, key
// acquisition, replay of stored responses, and conflict detection. Business
// use cases stay unaware of retries; the guard wraps them at the transport
// edge and the outbox dispatcher derives keys from it for handler dedup.
package idempotencyguard
