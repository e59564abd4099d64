package application

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"consilium/contexts/decision-core/idempotency-guard/adapters/memory"
	domainerrors "consilium/contexts/decision-core/idempotency-guard/domain/errors"
	"consilium/contexts/decision-core/idempotency-guard/ports"
)

func newGuard(store *memory.Store) Guard {
	return Guard{
		Store: store,
		Clock: store,
		IDGen: store,
		TTL:   time.Hour,
	}
}

func sampleRequest(key string) WrapRequest {
	return WrapRequest{
		OwnerID: "user-1",
		Key:     key,
		Method:  "POST",
		Path:    "/v1/events/event-1/proposals/proposal-1/votes",
		Body:    map[string]any{"reason": "agree"},
	}
}

func TestWrapReplaysCompletedResponse(t *testing.T) {
	store := memory.NewStore()
	guard := newGuard(store)
	ctx := context.Background()

	calls := 0
	fn := func(context.Context) (WrapResponse, error) {
		calls++
		return WrapResponse{Code: 201, Body: []byte(`{"vote_count":1}`)}, nil
	}

	first, err := guard.Wrap(ctx, sampleRequest("key-1"), fn)
	if err != nil {
		t.Fatalf("first call failed: %v", err)
	}
	second, err := guard.Wrap(ctx, sampleRequest("key-1"), fn)
	if err != nil {
		t.Fatalf("replay failed: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected fn to run once, ran %d times", calls)
	}
	if second.Code != first.Code || string(second.Body) != string(first.Body) {
		t.Fatalf("replay must return stored response, got %d %s", second.Code, second.Body)
	}
}

func TestWrapRejectsKeyReuseWithDifferentPayload(t *testing.T) {
	store := memory.NewStore()
	guard := newGuard(store)
	ctx := context.Background()

	ok := func(context.Context) (WrapResponse, error) {
		return WrapResponse{Code: 200, Body: []byte(`{}`)}, nil
	}
	if _, err := guard.Wrap(ctx, sampleRequest("key-1"), ok); err != nil {
		t.Fatalf("first call failed: %v", err)
	}

	altered := sampleRequest("key-1")
	altered.Body = map[string]any{"reason": "changed my mind"}
	_, err := guard.Wrap(ctx, altered, ok)
	if !errors.Is(err, domainerrors.ErrKeyReused) {
		t.Fatalf("expected ErrKeyReused, got %v", err)
	}
}

func TestWrapIgnoresVolatileFieldsInHash(t *testing.T) {
	store := memory.NewStore()
	guard := newGuard(store)
	ctx := context.Background()

	calls := 0
	fn := func(context.Context) (WrapResponse, error) {
		calls++
		return WrapResponse{Code: 200, Body: []byte(`{}`)}, nil
	}

	first := sampleRequest("key-1")
	first.Body["timestamp"] = "2026-08-30T10:00:00Z"
	if _, err := guard.Wrap(ctx, first, fn); err != nil {
		t.Fatalf("first call failed: %v", err)
	}

	replay := sampleRequest("key-1")
	replay.Body["timestamp"] = "2026-08-30T10:05:00Z"
	if _, err := guard.Wrap(ctx, replay, fn); err != nil {
		t.Fatalf("replay with different timestamp failed: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected volatile fields excluded from hash, fn ran %d times", calls)
	}
}

func TestWrapReportsInProgress(t *testing.T) {
	store := memory.NewStore()
	guard := newGuard(store)
	ctx := context.Background()

	started := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_, _ = guard.Wrap(ctx, sampleRequest("key-1"), func(context.Context) (WrapResponse, error) {
			close(started)
			<-release
			return WrapResponse{Code: 200, Body: []byte(`{}`)}, nil
		})
	}()
	<-started

	_, err := guard.Wrap(ctx, sampleRequest("key-1"), func(context.Context) (WrapResponse, error) {
		return WrapResponse{Code: 200, Body: []byte(`{}`)}, nil
	})
	close(release)
	if !errors.Is(err, domainerrors.ErrRequestInProgress) {
		t.Fatalf("expected ErrRequestInProgress, got %v", err)
	}
}

func TestWrapRetriesAfterFailure(t *testing.T) {
	store := memory.NewStore()
	guard := newGuard(store)
	ctx := context.Background()

	boom := errors.New("downstream unavailable")
	_, err := guard.Wrap(ctx, sampleRequest("key-1"), func(context.Context) (WrapResponse, error) {
		return WrapResponse{}, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped error returned unchanged, got %v", err)
	}
	record, found := store.Record("user-1", "key-1")
	if !found || record.Status != ports.StatusFailed {
		t.Fatalf("expected FAILED record after fn error, got %+v", record)
	}

	resp, err := guard.Wrap(ctx, sampleRequest("key-1"), func(context.Context) (WrapResponse, error) {
		return WrapResponse{Code: 200, Body: []byte(`{"ok":true}`)}, nil
	})
	if err != nil {
		t.Fatalf("retry after failure must re-execute, got %v", err)
	}
	if resp.Code != 200 {
		t.Fatalf("expected fresh execution result, got %d", resp.Code)
	}
}

func TestWrapRequiresOwnerAndKey(t *testing.T) {
	guard := newGuard(memory.NewStore())
	req := sampleRequest("key-1")
	req.OwnerID = " "
	_, err := guard.Wrap(context.Background(), req, func(context.Context) (WrapResponse, error) {
		return WrapResponse{}, nil
	})
	if !errors.Is(err, domainerrors.ErrKeyRequired) {
		t.Fatalf("expected ErrKeyRequired, got %v", err)
	}
}

func TestWrapConcurrentCallersExecuteOnce(t *testing.T) {
	store := memory.NewStore()
	guard := newGuard(store)
	ctx := context.Background()

	var executions atomic.Int32
	fn := func(context.Context) (WrapResponse, error) {
		executions.Add(1)
		return WrapResponse{Code: 201, Body: []byte(`{"done":true}`)}, nil
	}

	const callers = 10
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			_, errs[slot] = guard.Wrap(ctx, sampleRequest("key-1"), fn)
		}(i)
	}
	wg.Wait()

	if got := executions.Load(); got != 1 {
		t.Fatalf("expected exactly one execution, got %d", got)
	}
	for _, err := range errs {
		if err != nil && !errors.Is(err, domainerrors.ErrRequestInProgress) {
			t.Fatalf("unexpected concurrent caller error: %v", err)
		}
	}
}
