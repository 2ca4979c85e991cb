package sqs

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/voxdrop/voxdrop/internal/tracker"
)

// receiveBackoff paces the loop after a receive error so a broken queue
// connection does not spin.
const receiveBackoff = 5 * time.Second

// Drain continuously receives buffered callback events and applies them to
// the tracker until ctx is cancelled. Malformed and unknown-attempt events
// are deleted (redelivery cannot fix them); store errors leave the message
// in flight for redelivery after the visibility timeout.
func (c *Consumer) Drain(ctx context.Context, t *tracker.Tracker) {
	c.logger.Info("callback drain loop started")

	for {
		if ctx.Err() != nil {
			c.logger.Info("callback drain loop stopping")
			return
		}

		event, receiptHandle, err := c.ReceiveCallback(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info("callback drain loop stopping")
				return
			}

			if receiptHandle != "" {
				// Unparseable body: delete it, redelivery cannot help.
				c.logger.Warn("dropping unparseable callback event", zap.Error(err))
				_ = c.DeleteMessage(ctx, receiptHandle)
				continue
			}

			c.logger.Error("failed to receive callback event", zap.Error(err))
			select {
			case <-ctx.Done():
			case <-time.After(receiveBackoff):
			}
			continue
		}

		if event == nil {
			continue
		}

		err = t.HandleCallback(ctx, event.Callback())
		switch {
		case err == nil:
			_ = c.DeleteMessage(ctx, receiptHandle)
		case errors.Is(err, tracker.ErrMalformedCallback), errors.Is(err, tracker.ErrUnknownAttempt):
			c.logger.Warn("dropping undeliverable callback event",
				zap.Error(err),
				zap.String("attempt_ref", event.AttemptRef),
			)
			_ = c.DeleteMessage(ctx, receiptHandle)
		default:
			c.logger.Error("callback apply failed, leaving event for redelivery",
				zap.Error(err),
				zap.String("attempt_ref", event.AttemptRef),
			)
		}
	}
}
