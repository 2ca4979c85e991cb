// Package tracker applies asynchronous provider status callbacks to
// persisted delivery attempts.
package tracker

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/voxdrop/voxdrop/internal/db"
	"github.com/voxdrop/voxdrop/internal/metrics"
)

// ErrUnknownAttempt indicates a callback that matches no persisted attempt.
// The HTTP layer logs and drops these — the provider still gets a 2xx.
var ErrUnknownAttempt = errors.New("unknown attempt reference")

// ErrMalformedCallback indicates a callback missing its reference or status.
var ErrMalformedCallback = errors.New("malformed callback")

// Callback is one provider status event for one attempt.
type Callback struct {
	AttemptRef      string `json:"attempt_ref"`
	Status          string `json:"status"`
	DurationSeconds *int   `json:"duration_seconds,omitempty"`
}

// Repository is the slice of the store the tracker writes through. The
// tracker is the sole writer of post-initiation fields; every write is scoped
// to a single attempt row.
type Repository interface {
	GetAttemptByRef(ctx context.Context, providerRef string) (*db.DeliveryAttempt, error)
	MarkAttemptTerminal(ctx context.Context, providerRef, status string, failureReason *string, durationSeconds *int, costCents *int) (bool, error)
	MergeAttemptDuration(ctx context.Context, providerRef string, durationSeconds int) (bool, error)
	RecordProviderStatus(ctx context.Context, providerRef, providerStatus string) error
	TouchAttempt(ctx context.Context, providerRef string) error
}

// Finalizer recomputes cost from the actual connected duration.
type Finalizer interface {
	Finalize(durationSeconds int) int
}

// Tracker is the webhook-driven state machine for delivery attempts.
// Callbacks arrive over an unordered channel: duplicates and stale terminal
// statuses are absorbed idempotently, and the first terminal transition wins.
type Tracker struct {
	repo      Repository
	estimator Finalizer
	logger    *zap.Logger
}

// New creates a tracker.
func New(repo Repository, estimator Finalizer, logger *zap.Logger) *Tracker {
	return &Tracker{
		repo:      repo,
		estimator: estimator,
		logger:    logger,
	}
}

// terminalStatus maps a provider status code to the stored terminal status
// and its diagnostic failure reason. The second return is false for statuses
// that are not terminal for us.
func terminalStatus(providerStatus string) (status string, reason *string, ok bool) {
	switch providerStatus {
	case "completed":
		return db.StatusDelivered, nil, true
	case "failed":
		r := "failed"
		return db.StatusFailed, &r, true
	case "canceled":
		r := "canceled"
		return db.StatusFailed, &r, true
	case "busy":
		r := "busy"
		return db.StatusBusy, &r, true
	case "no-answer":
		r := "no-answer"
		return db.StatusNoAnswer, &r, true
	}
	return "", nil, false
}

// HandleCallback applies one status callback. Repeated delivery of the same
// terminal status is a no-op beyond updated_at; a late conflicting terminal
// callback never overrides the settled status, though its duration is merged
// when the settled record lacks one.
func (t *Tracker) HandleCallback(ctx context.Context, cb Callback) error {
	if cb.AttemptRef == "" || cb.Status == "" {
		return fmt.Errorf("%w: attempt_ref and status are required", ErrMalformedCallback)
	}

	attempt, err := t.repo.GetAttemptByRef(ctx, cb.AttemptRef)
	if errors.Is(err, db.ErrAttemptNotFound) {
		return fmt.Errorf("%w: %s", ErrUnknownAttempt, cb.AttemptRef)
	}
	if err != nil {
		// Transient store failure, not a missing row. Surface it so the
		// provider retries instead of the callback being acked and lost.
		return fmt.Errorf("look up attempt: %w", err)
	}

	status, reason, terminal := terminalStatus(cb.Status)
	if !terminal {
		// Unknown or intermediate provider state: store it verbatim, never
		// force a terminal transition out of it.
		t.logger.Debug("recording non-terminal provider status",
			zap.String("provider_ref", cb.AttemptRef),
			zap.String("provider_status", cb.Status),
		)
		metrics.RecordCallback("intermediate")
		return t.repo.RecordProviderStatus(ctx, cb.AttemptRef, cb.Status)
	}

	var finalCost *int
	if cb.DurationSeconds != nil && t.estimator != nil {
		c := t.estimator.Finalize(*cb.DurationSeconds)
		finalCost = &c
	}

	applied, err := t.repo.MarkAttemptTerminal(ctx, cb.AttemptRef, status, reason, cb.DurationSeconds, finalCost)
	if err != nil {
		return fmt.Errorf("apply callback: %w", err)
	}

	if applied {
		t.logger.Info("delivery attempt settled",
			zap.String("attempt_id", attempt.ID.String()),
			zap.String("provider_ref", cb.AttemptRef),
			zap.String("status", status),
		)
		metrics.RecordCallback(status)
		return nil
	}

	// Lost the race or plain duplicate: the attempt is already terminal.
	// No side effects re-fire — only diagnostic enrichment is allowed.
	if cb.DurationSeconds != nil {
		merged, err := t.repo.MergeAttemptDuration(ctx, cb.AttemptRef, *cb.DurationSeconds)
		if err != nil {
			return fmt.Errorf("merge duration: %w", err)
		}
		if merged {
			t.logger.Debug("merged duration from duplicate callback",
				zap.String("provider_ref", cb.AttemptRef),
				zap.Int("duration_seconds", *cb.DurationSeconds),
			)
			metrics.RecordCallback("duplicate")
			return nil
		}
	}

	metrics.RecordCallback("duplicate")
	return t.repo.TouchAttempt(ctx, cb.AttemptRef)
}
