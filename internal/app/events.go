package app

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/transfa/user-service/internal/domain"
	"github.com/transfa/user-service/internal/store"
	"github.com/transfa/user-service/pkg/rabbitmq"
)

const defaultPublishTimeout = 3 * time.Second

// LifecycleEmitter publishes user lifecycle events without ever failing the caller.
// Events that cannot be published in time are parked in the outbox.
type LifecycleEmitter struct {
	publisher rabbitmq.Publisher
	outbox    store.OutboxRepository
	exchange  string
	timeout   time.Duration
	logger    *zap.Logger
}

// NewLifecycleEmitter creates an emitter. publisher may be nil, in which case every event goes to the outbox.
func NewLifecycleEmitter(publisher rabbitmq.Publisher, outbox store.OutboxRepository, exchange string, timeout time.Duration, logger *zap.Logger) *LifecycleEmitter {
	if timeout <= 0 {
		timeout = defaultPublishTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LifecycleEmitter{
		publisher: publisher,
		outbox:    outbox,
		exchange:  exchange,
		timeout:   timeout,
		logger:    logger,
	}
}

// Emit sends event keyed by its user id.
func (e *LifecycleEmitter) Emit(ctx context.Context, event domain.UserLifecycleEvent) {
	// The event outlives a cancelled request; only the publish timeout bounds it.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.timeout)
	defer cancel()

	fields := []zap.Field{zap.String("user_id", event.UserID), zap.String("status", event.Status)}

	if e.publisher != nil {
		err := e.publisher.Publish(ctx, e.exchange, event.UserID, event)
		if err == nil {
			e.logger.Info("user lifecycle event sent", fields...)
			return
		}
		e.logger.Warn("user lifecycle event not published, parking in outbox", append(fields, zap.Error(err))...)
	}

	if e.outbox == nil {
		e.logger.Error("user lifecycle event dropped", fields...)
		return
	}
	if err := e.outbox.EnqueueEvent(ctx, e.exchange, event.UserID, event); err != nil {
		e.logger.Error("user lifecycle event dropped, outbox unavailable", append(fields, zap.Error(err))...)
	}
}
