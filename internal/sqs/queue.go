// Package sqs buffers provider status callbacks through SQS so the webhook
// endpoint can acknowledge immediately and the tracker can drain at its own
// pace.
package sqs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"go.uber.org/zap"

	"github.com/voxdrop/voxdrop/internal/tracker"
)

// Config holds SQS configuration.
type Config struct {
	Region   string
	QueueURL string
}

// CallbackEvent is the payload enqueued for one provider status callback.
type CallbackEvent struct {
	AttemptRef      string `json:"attempt_ref"`
	Status          string `json:"status"`
	DurationSeconds *int   `json:"duration_seconds,omitempty"`
	ReceivedAt      int64  `json:"received_at"`
}

// Callback converts the event back to the tracker's input.
func (e *CallbackEvent) Callback() tracker.Callback {
	return tracker.Callback{
		AttemptRef:      e.AttemptRef,
		Status:          e.Status,
		DurationSeconds: e.DurationSeconds,
	}
}

// Producer enqueues callback events.
type Producer struct {
	client   *sqs.Client
	queueURL string
	logger   *zap.Logger
}

// NewProducer creates a new SQS producer.
func NewProducer(ctx context.Context, cfg Config, logger *zap.Logger) (*Producer, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	logger.Info("sqs callback producer initialized",
		zap.String("queue_url", cfg.QueueURL),
	)

	return &Producer{
		client:   sqs.NewFromConfig(awsCfg),
		queueURL: cfg.QueueURL,
		logger:   logger,
	}, nil
}

// EnqueueCallback buffers one callback event for asynchronous tracking.
// Returns the SQS message ID.
func (p *Producer) EnqueueCallback(ctx context.Context, cb tracker.Callback) (string, error) {
	event := CallbackEvent{
		AttemptRef:      cb.AttemptRef,
		Status:          cb.Status,
		DurationSeconds: cb.DurationSeconds,
		ReceivedAt:      time.Now().UnixNano(),
	}

	body, err := json.Marshal(event)
	if err != nil {
		return "", fmt.Errorf("failed to marshal callback event: %w", err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
	}

	result, err := p.client.SendMessage(ctx, input)
	if err != nil {
		p.logger.Error("failed to enqueue callback event",
			zap.Error(err),
			zap.String("attempt_ref", cb.AttemptRef),
		)
		return "", fmt.Errorf("sqs send failed: %w", err)
	}

	return *result.MessageId, nil
}

// Consumer drains callback events from SQS.
type Consumer struct {
	client   *sqs.Client
	queueURL string
	logger   *zap.Logger
}

// NewConsumer creates a new SQS consumer.
func NewConsumer(ctx context.Context, cfg Config, logger *zap.Logger) (*Consumer, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	logger.Info("sqs callback consumer initialized",
		zap.String("queue_url", cfg.QueueURL),
	)

	return &Consumer{
		client:   sqs.NewFromConfig(awsCfg),
		queueURL: cfg.QueueURL,
		logger:   logger,
	}, nil
}

// ReceiveCallback retrieves one callback event with long polling. Returns
// (nil, "", nil) when the poll came back empty.
func (c *Consumer) ReceiveCallback(ctx context.Context) (*CallbackEvent, string, error) {
	input := &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(c.queueURL),
		MaxNumberOfMessages: 1,
		WaitTimeSeconds:     20,
		VisibilityTimeout:   60,
	}

	result, err := c.client.ReceiveMessage(ctx, input)
	if err != nil {
		return nil, "", fmt.Errorf("sqs receive failed: %w", err)
	}

	if len(result.Messages) == 0 {
		return nil, "", nil
	}

	msgData := result.Messages[0]

	var event CallbackEvent
	if err := json.Unmarshal([]byte(*msgData.Body), &event); err != nil {
		c.logger.Error("failed to unmarshal callback event", zap.Error(err))
		return nil, *msgData.ReceiptHandle, fmt.Errorf("invalid callback event: %w", err)
	}

	return &event, *msgData.ReceiptHandle, nil
}

// DeleteMessage removes a callback event after the tracker accepted it.
func (c *Consumer) DeleteMessage(ctx context.Context, receiptHandle string) error {
	input := &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.queueURL),
		ReceiptHandle: aws.String(receiptHandle),
	}

	_, err := c.client.DeleteMessage(ctx, input)
	if err != nil {
		return fmt.Errorf("sqs delete failed: %w", err)
	}

	return nil
}
