// Package dispatch turns a recipient list into batched concurrent delivery
// attempts against the telephony provider.
package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/voxdrop/voxdrop/internal/db"
	"github.com/voxdrop/voxdrop/internal/metrics"
	"github.com/voxdrop/voxdrop/internal/telephony"
)

// Executor places one outbound attempt and returns the provider reference.
type Executor interface {
	Execute(ctx context.Context, phoneNumber string, msg telephony.Message) (string, error)
}

// Repository is the slice of the store the dispatcher needs.
type Repository interface {
	CreateAttempt(ctx context.Context, attempt *db.DeliveryAttempt) error
}

// Estimator computes the provisional cost recorded at dispatch time.
type Estimator interface {
	Provisional(message string) int
}

// Message is the campaign payload shared by every attempt in a dispatch.
type Message struct {
	Text     string
	AssetID  *uuid.UUID
	AssetURL string
}

// AttemptResult is the synchronous outcome for one recipient. Exactly one of
// AttemptRef or Err is meaningful; rejected recipients never get an attempt
// record and never produce a callback.
type AttemptResult struct {
	PhoneNumber string     `json:"phone_number"`
	Accepted    bool       `json:"accepted"`
	AttemptID   uuid.UUID  `json:"attempt_id,omitempty"`
	AttemptRef  string     `json:"attempt_ref,omitempty"`
	Err         error      `json:"-"`
}

// Options tune one dispatch call. Zero values fall back to the dispatcher
// defaults.
type Options struct {
	BatchSize       int
	InterBatchDelay time.Duration
}

// Config holds dispatcher-wide defaults.
type Config struct {
	BatchSize       int
	InterBatchDelay time.Duration
}

// Dispatcher partitions recipients into fixed-size batches and runs each
// batch as a fork-join: every attempt in the batch is issued concurrently,
// and the batch fully settles before the inter-batch delay starts. One
// recipient's failure never cancels its siblings.
type Dispatcher struct {
	executor  Executor
	repo      Repository
	estimator Estimator
	config    Config
	logger    *zap.Logger
}

// New creates a dispatcher.
func New(executor Executor, repo Repository, estimator Estimator, cfg Config, logger *zap.Logger) *Dispatcher {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.InterBatchDelay <= 0 {
		cfg.InterBatchDelay = time.Second
	}

	return &Dispatcher{
		executor:  executor,
		repo:      repo,
		estimator: estimator,
		config:    cfg,
		logger:    logger,
	}
}

// Dispatch submits one attempt per recipient and returns a result per
// recipient in input order. Cancelling ctx stops future batches only; the
// batch in flight always runs to completion.
func (d *Dispatcher) Dispatch(
	ctx context.Context,
	recipients []string,
	msg Message,
	campaignID *uuid.UUID,
	opts Options,
) []AttemptResult {
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = d.config.BatchSize
	}
	delay := opts.InterBatchDelay
	if delay <= 0 {
		delay = d.config.InterBatchDelay
	}

	results := make([]AttemptResult, len(recipients))
	provisionalCost := d.estimator.Provisional(msg.Text)

	for start := 0; start < len(recipients); start += batchSize {
		if start > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
			}
		}

		if err := ctx.Err(); err != nil {
			// Campaign stopped: remaining batches are never dispatched.
			for i := start; i < len(recipients); i++ {
				results[i] = AttemptResult{
					PhoneNumber: recipients[i],
					Err:         fmt.Errorf("dispatch stopped: %w", err),
				}
			}
			d.logger.Info("dispatch stopped between batches",
				zap.Int("dispatched", start),
				zap.Int("remaining", len(recipients)-start),
			)
			break
		}

		end := start + batchSize
		if end > len(recipients) {
			end = len(recipients)
		}

		batchStart := time.Now()
		d.runBatch(ctx, recipients[start:end], results[start:end], msg, campaignID, provisionalCost)
		metrics.RecordBatchDuration(time.Since(batchStart))

		d.logger.Info("batch settled",
			zap.Int("batch_start", start),
			zap.Int("batch_size", end-start),
			zap.Duration("took", time.Since(batchStart)),
		)
	}

	return results
}

// runBatch issues every attempt in the slice concurrently and joins on all
// of them. Results land by index, so output order matches input order no
// matter which attempt settles first.
func (d *Dispatcher) runBatch(
	ctx context.Context,
	recipients []string,
	results []AttemptResult,
	msg Message,
	campaignID *uuid.UUID,
	provisionalCost int,
) {
	var wg sync.WaitGroup
	for i, phone := range recipients {
		wg.Add(1)
		go func(i int, phone string) {
			defer wg.Done()
			results[i] = d.attempt(ctx, phone, msg, campaignID, provisionalCost)
		}(i, phone)
	}
	wg.Wait()
}

func (d *Dispatcher) attempt(
	ctx context.Context,
	phone string,
	msg Message,
	campaignID *uuid.UUID,
	provisionalCost int,
) AttemptResult {
	ref, err := d.executor.Execute(ctx, phone, telephony.Message{
		Text:     msg.Text,
		AssetURL: msg.AssetURL,
	})
	if err != nil {
		d.logger.Warn("attempt rejected",
			zap.Error(err),
			zap.String("phone_number", phone),
		)
		metrics.RecordAttemptDispatched("rejected")
		return AttemptResult{PhoneNumber: phone, Err: err}
	}

	attempt := &db.DeliveryAttempt{
		ID:             uuid.New(),
		ProviderRef:    ref,
		CampaignID:     campaignID,
		PhoneNumber:    phone,
		MessageText:    msg.Text,
		AudioAssetID:   msg.AssetID,
		Status:         db.StatusInitiated,
		ProviderStatus: db.StatusInitiated,
		CostCents:      provisionalCost,
	}

	if err := d.repo.CreateAttempt(ctx, attempt); err != nil {
		// The call is already in flight; without a record its callback will
		// be dropped as unknown. Surface the failure to the caller.
		d.logger.Error("attempt accepted by provider but not persisted",
			zap.Error(err),
			zap.String("provider_ref", ref),
			zap.String("phone_number", phone),
		)
		metrics.RecordAttemptDispatched("store_error")
		return AttemptResult{PhoneNumber: phone, Err: fmt.Errorf("persist attempt: %w", err)}
	}

	metrics.RecordAttemptDispatched("initiated")
	return AttemptResult{
		PhoneNumber: phone,
		Accepted:    true,
		AttemptID:   attempt.ID,
		AttemptRef:  ref,
	}
}
