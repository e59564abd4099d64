package workers

import (
	"context"

	"consilium/contexts/decision-core/event-relay/ports"
)

// PassthroughGuard runs fn without deduplication. Used by tests and wiring
// that relies on handler idempotency alone.
type PassthroughGuard struct{}

func (PassthroughGuard) Execute(ctx context.Context, _ string, fn func(context.Context) error) error {
	return fn(ctx)
}

var _ ports.Guard = PassthroughGuard{}
