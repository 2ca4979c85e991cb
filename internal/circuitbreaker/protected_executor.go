package circuitbreaker

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/voxdrop/voxdrop/internal/telephony"
)

// Executor mirrors the dispatch-side executor interface to avoid a
// dependency cycle with the dispatch package.
type Executor interface {
	Execute(ctx context.Context, phoneNumber string, msg telephony.Message) (string, error)
}

// ProtectedExecutor wraps a telephony executor with a CircuitBreaker. When
// the provider starts failing, attempts fail fast as synchronous per-recipient
// errors instead of each one waiting out a network timeout.
type ProtectedExecutor struct {
	executor Executor
	breaker  *CircuitBreaker
	logger   *zap.Logger
}

// NewProtectedExecutor wraps an executor with circuit breaker protection.
func NewProtectedExecutor(executor Executor, breaker *CircuitBreaker, logger *zap.Logger) *ProtectedExecutor {
	return &ProtectedExecutor{
		executor: executor,
		breaker:  breaker,
		logger:   logger,
	}
}

// Execute attempts one call through the circuit breaker. If the circuit is
// open, returns ErrCircuitOpen immediately. Local validation failures are not
// counted against the breaker — only traffic that reached the provider is.
func (p *ProtectedExecutor) Execute(ctx context.Context, phoneNumber string, msg telephony.Message) (string, error) {
	if !p.breaker.Allow() {
		p.logger.Warn("circuit breaker rejected attempt",
			zap.String("breaker", p.breaker.config.Name),
			zap.String("phone_number", phoneNumber),
			zap.String("state", p.breaker.GetState().String()),
		)
		return "", fmt.Errorf("%w: %s unavailable", ErrCircuitOpen, p.breaker.config.Name)
	}

	ref, err := p.executor.Execute(ctx, phoneNumber, msg)
	if err != nil {
		if errors.Is(err, telephony.ErrInvalidRecipient) {
			return "", err
		}
		p.breaker.RecordFailure()
		p.logger.Debug("circuit breaker recorded failure",
			zap.String("breaker", p.breaker.config.Name),
			zap.Error(err),
		)
		return "", err
	}

	p.breaker.RecordSuccess()
	return ref, nil
}

// Breaker returns the underlying circuit breaker for metrics/monitoring.
func (p *ProtectedExecutor) Breaker() *CircuitBreaker {
	return p.breaker
}
