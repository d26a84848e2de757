package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Publisher is the interface implemented by types that can publish events.
type Publisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body interface{}) error
	Close()
}

// EventProducer is responsible for publishing events to a RabbitMQ topic exchange.
type EventProducer struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	channel  *amqp.Channel
	declared map[string]bool
	logger   *zap.Logger
}

// LogPublisher is a no-op publisher used when no broker is configured.
// It logs the event instead of failing the caller.
type LogPublisher struct {
	Logger *zap.Logger
}

func (p *LogPublisher) Publish(_ context.Context, exchange, routingKey string, body interface{}) error {
	if p.Logger != nil {
		p.Logger.Info("broker disabled, event not sent",
			zap.String("exchange", exchange),
			zap.String("routing_key", routingKey),
			zap.Any("body", body))
	}
	return nil
}

func (p *LogPublisher) Close() {}

// SanitizeURL trims stray quotes and prefixes from an AMQP URL and checks its scheme.
func SanitizeURL(raw string) (string, error) {
	clean := strings.TrimSpace(raw)
	clean = strings.Trim(clean, "\"'")
	idx := strings.Index(strings.ToLower(clean), "amqp")
	if idx > 0 {
		clean = clean[idx:]
	}
	u, err := url.Parse(clean)
	if err != nil {
		return "", err
	}
	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return "", errors.New("AMQP scheme must be either 'amqp://' or 'amqps://'")
	}
	return clean, nil
}

// MaskURL hides credentials of an AMQP URL so it can be logged.
func MaskURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "<unparseable>"
	}
	if u.User != nil {
		u.User = url.UserPassword("****", "****")
	}
	return u.String()
}

// NewEventProducer dials RabbitMQ with a bounded timeout and opens a channel.
func NewEventProducer(amqpURL string, logger *zap.Logger) (*EventProducer, error) {
	cleanURL, err := SanitizeURL(amqpURL)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	conn, err := amqp.DialConfig(cleanURL, amqp.Config{Dial: amqp.DefaultDial(10 * time.Second)})
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}

	return &EventProducer{conn: conn, channel: ch, declared: map[string]bool{}, logger: logger}, nil
}

// Publish sends body as JSON to exchange with the routing key.
// A broken channel is reopened once before giving up.
func (p *EventProducer) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return err
	}
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    time.Now(),
		Body:         jsonBody,
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	err = p.publishLocked(ctx, exchange, routingKey, msg)
	if err == nil {
		p.logger.Debug("event published",
			zap.String("exchange", exchange),
			zap.String("routing_key", routingKey),
			zap.String("message_id", msg.MessageId))
		return nil
	}

	p.logger.Warn("publish failed, reopening channel", zap.String("exchange", exchange), zap.Error(err))
	if reopenErr := p.reopenLocked(); reopenErr != nil {
		return errors.Join(err, reopenErr)
	}
	if err := p.publishLocked(ctx, exchange, routingKey, msg); err != nil {
		return err
	}
	p.logger.Info("event published after retry", zap.String("exchange", exchange), zap.String("routing_key", routingKey))
	return nil
}

func (p *EventProducer) publishLocked(ctx context.Context, exchange, routingKey string, msg amqp.Publishing) error {
	if p.channel == nil {
		return amqp.ErrClosed
	}
	if !p.declared[exchange] {
		if err := p.channel.ExchangeDeclare(
			exchange, // name
			"topic",  // type
			true,     // durable
			false,    // autoDelete
			false,    // internal
			false,    // noWait
			nil,      // args
		); err != nil {
			return err
		}
		p.declared[exchange] = true
	}
	return p.channel.PublishWithContext(ctx, exchange, routingKey, false, false, msg)
}

func (p *EventProducer) reopenLocked() error {
	if p.conn == nil || p.conn.IsClosed() {
		return amqp.ErrClosed
	}
	ch, err := p.conn.Channel()
	if err != nil {
		return err
	}
	if p.channel != nil {
		_ = p.channel.Close()
	}
	p.channel = ch
	p.declared = map[string]bool{}
	return nil
}

// Close closes the RabbitMQ connection and channel.
func (p *EventProducer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.channel != nil {
		p.channel.Close()
		p.channel = nil
	}
	if p.conn != nil {
		p.conn.Close()
		p.conn = nil
	}
}
