package app

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/transfa/user-service/internal/store"
	"github.com/transfa/user-service/pkg/rabbitmq"
)

const (
	defaultBatchSize       = 50
	defaultPollInterval    = 1200 * time.Millisecond
	defaultStaleProcessing = 2 * time.Minute
	maxRetryDelaySeconds   = 300
)

// PublisherFactory opens a publisher connection on demand.
type PublisherFactory func() (rabbitmq.Publisher, error)

// OutboxDispatcher redelivers events that were parked in the outbox.
type OutboxDispatcher struct {
	repo                store.OutboxRepository
	connect             PublisherFactory
	batchSize           int
	pollInterval        time.Duration
	staleProcessingTime time.Duration
	producer            rabbitmq.Publisher
	logger              *zap.Logger
}

// NewOutboxDispatcher creates a dispatcher. A non-positive pollInterval uses the default.
func NewOutboxDispatcher(repo store.OutboxRepository, connect PublisherFactory, pollInterval time.Duration, logger *zap.Logger) *OutboxDispatcher {
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OutboxDispatcher{
		repo:                repo,
		connect:             connect,
		batchSize:           defaultBatchSize,
		pollInterval:        pollInterval,
		staleProcessingTime: defaultStaleProcessing,
		logger:              logger,
	}
}

// Run polls the outbox until ctx is cancelled.
func (d *OutboxDispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()
	defer d.closeProducer()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := d.FlushOnce(ctx); err != nil {
				d.logger.Warn("outbox flush error", zap.Error(err))
			}
		}
	}
}

// FlushOnce delivers one batch and returns how many messages were published.
func (d *OutboxDispatcher) FlushOnce(ctx context.Context) (int, error) {
	staleAfterSeconds := int(d.staleProcessingTime.Seconds())
	messages, err := d.repo.ClaimOutboxMessages(ctx, d.batchSize, staleAfterSeconds)
	if err != nil {
		return 0, err
	}

	published := 0
	for _, message := range messages {
		if err := d.publishMessage(ctx, message); err != nil {
			retryAfter := retryDelaySeconds(message.Attempts)
			d.logger.Warn("outbox message not delivered",
				zap.String("id", message.ID),
				zap.Int("attempts", message.Attempts),
				zap.Int("retry_after_s", retryAfter),
				zap.Error(err))
			if markErr := d.repo.MarkOutboxFailed(ctx, message.ID, retryAfter, err.Error()); markErr != nil {
				d.logger.Error("failed to reschedule outbox message", zap.String("id", message.ID), zap.Error(markErr))
			}
			continue
		}
		if err := d.repo.MarkOutboxPublished(ctx, message.ID); err != nil {
			d.logger.Error("failed to mark outbox message as published", zap.String("id", message.ID), zap.Error(err))
			continue
		}
		published++
	}
	return published, nil
}

func (d *OutboxDispatcher) publishMessage(ctx context.Context, message store.OutboxMessage) error {
	if d.producer == nil {
		producer, err := d.connect()
		if err != nil {
			return err
		}
		d.producer = producer
	}

	var payload json.RawMessage = message.Payload
	if err := d.producer.Publish(ctx, message.Exchange, message.RoutingKey, payload); err != nil {
		d.closeProducer()
		return err
	}
	return nil
}

func (d *OutboxDispatcher) closeProducer() {
	if d.producer != nil {
		d.producer.Close()
		d.producer = nil
	}
}

func retryDelaySeconds(attempt int) int {
	if attempt < 1 {
		return 1
	}
	delay := 1 << min(attempt, 9)
	if delay > maxRetryDelaySeconds {
		return maxRetryDelaySeconds
	}
	return delay
}
