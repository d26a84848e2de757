package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// OutboxMessage is an event waiting to be (re)published.
type OutboxMessage struct {
	ID         string
	Exchange   string
	RoutingKey string
	Payload    []byte
	Attempts   int
}

// OutboxRepository parks events that could not be published right away.
type OutboxRepository interface {
	EnqueueEvent(ctx context.Context, exchange, routingKey string, payload interface{}) error
	ClaimOutboxMessages(ctx context.Context, limit int, staleAfterSeconds int) ([]OutboxMessage, error)
	MarkOutboxPublished(ctx context.Context, id string) error
	MarkOutboxFailed(ctx context.Context, id string, retryAfterSeconds int, reason string) error
	// PurgePublishedOutbox deletes messages delivered more than olderThan ago.
	PurgePublishedOutbox(ctx context.Context, olderThan time.Duration) (int64, error)
}

const (
	defaultClaimLimit      = 50
	defaultStaleAfter      = 120
	maxOutboxReasonLength  = 2000
	outboxStatusPending    = "pending"
	outboxStatusProcessing = "processing"
	outboxStatusPublished  = "published"
)

// EnqueueEvent stores payload for later delivery.
func (r *PostgresRepository) EnqueueEvent(ctx context.Context, exchange, routingKey string, payload interface{}) error {
	blob, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	_, err = r.db.Exec(ctx, `
		INSERT INTO event_outbox (id, exchange, routing_key, payload)
		VALUES ($1, $2, $3, $4::jsonb)
	`, uuid.NewString(), strings.TrimSpace(exchange), strings.TrimSpace(routingKey), string(blob))
	if err != nil {
		return fmt.Errorf("failed to enqueue outbox event: %w", err)
	}
	return nil
}

// ClaimOutboxMessages marks a batch of due messages as processing and returns them.
// Messages stuck in processing longer than staleAfterSeconds are claimed again.
func (r *PostgresRepository) ClaimOutboxMessages(ctx context.Context, limit int, staleAfterSeconds int) ([]OutboxMessage, error) {
	if limit <= 0 {
		limit = defaultClaimLimit
	}
	if staleAfterSeconds <= 0 {
		staleAfterSeconds = defaultStaleAfter
	}

	query := `
		WITH candidates AS (
			SELECT id
			FROM event_outbox
			WHERE (
				(status = 'pending' AND next_attempt_at <= NOW())
				OR (status = 'processing' AND processing_started_at < NOW() - ($2 * INTERVAL '1 second'))
			)
			ORDER BY created_at
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		UPDATE event_outbox AS o
		SET status = 'processing',
			processing_started_at = NOW(),
			attempts = o.attempts + 1
		FROM candidates
		WHERE o.id = candidates.id
		RETURNING o.id::text, o.exchange, o.routing_key, o.payload::text, o.attempts
	`

	rows, err := r.db.Query(ctx, query, limit, staleAfterSeconds)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := make([]OutboxMessage, 0, limit)
	for rows.Next() {
		var (
			msg         OutboxMessage
			payloadText string
		)
		if err := rows.Scan(&msg.ID, &msg.Exchange, &msg.RoutingKey, &payloadText, &msg.Attempts); err != nil {
			return nil, err
		}
		msg.Payload = []byte(payloadText)
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// MarkOutboxPublished records a successful delivery.
func (r *PostgresRepository) MarkOutboxPublished(ctx context.Context, id string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE event_outbox
		SET status = 'published',
			published_at = NOW(),
			processing_started_at = NULL,
			last_error = NULL
		WHERE id = $1
	`, id)
	return err
}

// MarkOutboxFailed puts the message back in the queue after retryAfterSeconds.
func (r *PostgresRepository) MarkOutboxFailed(ctx context.Context, id string, retryAfterSeconds int, reason string) error {
	if retryAfterSeconds < 1 {
		retryAfterSeconds = 1
	}
	_, err := r.db.Exec(ctx, `
		UPDATE event_outbox
		SET status = 'pending',
			next_attempt_at = NOW() + ($2 * INTERVAL '1 second'),
			processing_started_at = NULL,
			last_error = $3
		WHERE id = $1
	`, id, retryAfterSeconds, truncateReason(reason))
	return err
}

// PurgePublishedOutbox removes delivered messages past their retention.
func (r *PostgresRepository) PurgePublishedOutbox(ctx context.Context, olderThan time.Duration) (int64, error) {
	tag, err := r.db.Exec(ctx, `
		DELETE FROM event_outbox
		WHERE status = 'published'
			AND published_at < NOW() - ($1 * INTERVAL '1 second')
	`, int64(olderThan.Seconds()))
	if err != nil {
		return 0, fmt.Errorf("purge outbox: %w", err)
	}
	return tag.RowsAffected(), nil
}

func truncateReason(reason string) string {
	if len(reason) > maxOutboxReasonLength {
		return reason[:maxOutboxReasonLength]
	}
	return reason
}
