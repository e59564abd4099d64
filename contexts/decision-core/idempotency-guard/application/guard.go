package application

import (
	"context"
	"log/slog"
	"strings"
	"time"

	domainerrors "consilium/contexts/decision-core/idempotency-guard/domain/errors"
	"consilium/contexts/decision-core/idempotency-guard/ports"
)

// WrapRequest identifies one logical client request. Body is the parsed JSON
// request body; the guard canonicalizes and hashes it together with
// method and path to detect key reuse with a different payload.
type WrapRequest struct {
	OwnerID string
	Key     string
	Method  string
	Path    string
	Body    map[string]any
}

// WrapResponse is the response the caller serializes verbatim. Replays return
// the stored bytes unchanged.
type WrapResponse struct {
	Code int
	Body []byte
}

// Wrapper is the guard contract request handlers depend on.
type Wrapper interface {
	Wrap(ctx context.Context, req WrapRequest, fn func(context.Context) (WrapResponse, error)) (WrapResponse, error)
}

// Guard enforces at-most-once execution per (owner, key). The wrapped fn runs
// its own transaction; the guard's completion write is a separate step, so a
// crash between fn's commit and that write leaves a stuck IN_PROGRESS record
// until the TTL elapses rather than a lost side effect.
type Guard struct {
	Store  ports.Store
	Clock  ports.Clock
	IDGen  ports.IDGenerator
	TTL    time.Duration
	Logger *slog.Logger
}

func (g Guard) Wrap(
	ctx context.Context,
	req WrapRequest,
	fn func(context.Context) (WrapResponse, error),
) (WrapResponse, error) {
	logger := ResolveLogger(g.Logger)
	ownerID := strings.TrimSpace(req.OwnerID)
	key := strings.TrimSpace(req.Key)
	if ownerID == "" || key == "" {
		return WrapResponse{}, domainerrors.ErrKeyRequired
	}

	now := g.now()
	requestHash := ComputeRequestHash(req.Method, req.Path, req.Body)

	existing, found, err := g.Store.Get(ctx, ownerID, key, now)
	if err != nil {
		logger.Error("idempotency lookup failed",
			"event", "idempotency_lookup_failed",
			"module", "decision-core/idempotency-guard",
			"layer", "application",
			"owner_id", ownerID,
			"error", err.Error(),
		)
		return WrapResponse{}, err
	}
	if found && existing.Status != ports.StatusFailed {
		return g.classifyExisting(existing, requestHash, logger, ownerID)
	}

	recordID, err := g.IDGen.NewID(ctx)
	if err != nil {
		return WrapResponse{}, err
	}
	record, acquired, err := g.Store.TryAcquire(ctx, ports.Record{
		RecordID:    recordID,
		OwnerID:     ownerID,
		Key:         key,
		Method:      strings.ToUpper(strings.TrimSpace(req.Method)),
		Path:        strings.TrimSpace(req.Path),
		RequestHash: requestHash,
		Status:      ports.StatusInProgress,
		CreatedAt:   now,
		ExpiresAt:   now.Add(g.resolveTTL()),
	}, now)
	if err != nil {
		return WrapResponse{}, err
	}
	if !acquired {
		// Lost the insert race; the winner's record decides the outcome.
		existing, found, err = g.Store.Get(ctx, ownerID, key, now)
		if err != nil {
			return WrapResponse{}, err
		}
		if !found {
			return WrapResponse{}, domainerrors.ErrAcquireFailed
		}
		return g.classifyExisting(existing, requestHash, logger, ownerID)
	}

	response, err := fn(ctx)
	if err != nil {
		if markErr := g.Store.MarkFailed(ctx, record.RecordID); markErr != nil {
			logger.Error("idempotency mark failed write failed",
				"event", "idempotency_mark_failed_failed",
				"module", "decision-core/idempotency-guard",
				"layer", "application",
				"owner_id", ownerID,
				"record_id", record.RecordID,
				"error", markErr.Error(),
			)
		}
		return WrapResponse{}, err
	}

	if err := g.Store.MarkCompleted(ctx, record.RecordID, response.Code, response.Body); err != nil {
		logger.Error("idempotency completion write failed",
			"event", "idempotency_complete_failed",
			"module", "decision-core/idempotency-guard",
			"layer", "application",
			"owner_id", ownerID,
			"record_id", record.RecordID,
			"error", err.Error(),
		)
		return WrapResponse{}, err
	}
	logger.Info("idempotency guarded call completed",
		"event", "idempotency_completed",
		"module", "decision-core/idempotency-guard",
		"layer", "application",
		"owner_id", ownerID,
		"record_id", record.RecordID,
		"response_code", response.Code,
	)
	return response, nil
}

func (g Guard) classifyExisting(
	record ports.Record,
	requestHash string,
	logger *slog.Logger,
	ownerID string,
) (WrapResponse, error) {
	switch record.Status {
	case ports.StatusCompleted:
		if record.RequestHash != requestHash {
			return WrapResponse{}, domainerrors.ErrKeyReused
		}
		if record.ResponseCode == 0 || record.ResponseBody == nil {
			return WrapResponse{}, domainerrors.ErrRecordCorrupted
		}
		logger.Info("idempotency replay",
			"event", "idempotency_replayed",
			"module", "decision-core/idempotency-guard",
			"layer", "application",
			"owner_id", ownerID,
			"record_id", record.RecordID,
		)
		return WrapResponse{
			Code: record.ResponseCode,
			Body: append([]byte(nil), record.ResponseBody...),
		}, nil
	case ports.StatusInProgress:
		if record.RequestHash != requestHash {
			return WrapResponse{}, domainerrors.ErrKeyReused
		}
		return WrapResponse{}, domainerrors.ErrRequestInProgress
	default:
		// FAILED records are re-acquired before this point; reaching here means
		// another attempt grabbed the key between lookup and acquisition.
		return WrapResponse{}, domainerrors.ErrRequestInProgress
	}
}

func (g Guard) now() time.Time {
	now := time.Now().UTC()
	if g.Clock != nil {
		now = g.Clock.Now().UTC()
	}
	return now
}

func (g Guard) resolveTTL() time.Duration {
	if g.TTL <= 0 {
		return 24 * time.Hour
	}
	return g.TTL
}

// NoopWrapper executes fn directly. Deployments that opt out of request dedup
// wire this instead of nil-checking the guard at every call site.
type NoopWrapper struct{}

func (NoopWrapper) Wrap(
	ctx context.Context,
	_ WrapRequest,
	fn func(context.Context) (WrapResponse, error),
) (WrapResponse, error) {
	return fn(ctx)
}

var _ Wrapper = Guard{}
var _ Wrapper = NoopWrapper{}
