/**
 * @description
 * This file provides the RabbitMQ event producer used to announce committed
 * transfers to downstream consumers (notifications, analytics). Publishing is
 * strictly post-commit and best-effort: a broker outage never fails a transfer.
 *
 * @dependencies
 * - github.com/rabbitmq/amqp091-go: The AMQP 0-9-1 client library.
 */

package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher is the event publishing surface the app layer depends on.
type Publisher interface {
	Publish(ctx context.Context, exchange, routingKey string, event any) error
	Close()
}

// TransferCompletedEvent is the payload published after a transfer commits.
type TransferCompletedEvent struct {
	TransferID    uuid.UUID `json:"transfer_id"`
	FromAccountID uuid.UUID `json:"from_account_id"`
	ToIBAN        string    `json:"to_iban"`
	Amount        string    `json:"amount"`
	CreatedAt     time.Time `json:"created_at"`
}

// Producer publishes JSON events to a durable topic exchange.
type Producer struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	logger  *slog.Logger
}

// NewProducer dials the broker and opens a channel. The caller owns the
// returned producer and must Close it on shutdown.
func NewProducer(amqpURL string, logger *slog.Logger) (*Producer, error) {
	conn, err := amqp.DialConfig(amqpURL, amqp.Config{
		Dial: amqp.DefaultDial(10 * time.Second),
	})
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq at %s: %w", sanitizeAMQPURL(amqpURL), err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	return &Producer{conn: conn, channel: channel, logger: logger}, nil
}

// Publish declares the exchange idempotently and sends one persistent JSON
// message.
func (p *Producer) Publish(ctx context.Context, exchange, routingKey string, event any) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	if err := p.channel.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", exchange, err)
	}

	err = p.channel.PublishWithContext(ctx, exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", routingKey, err)
	}

	p.logger.Debug("event published", "exchange", exchange, "routing_key", routingKey)
	return nil
}

// Close releases the channel and connection.
func (p *Producer) Close() {
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}
}

// sanitizeAMQPURL strips credentials before the URL appears in logs or errors.
func sanitizeAMQPURL(amqpURL string) string {
	parsed, err := url.Parse(amqpURL)
	if err != nil {
		return "invalid-url"
	}
	if parsed.User != nil {
		parsed.User = url.User(parsed.User.Username())
	}
	return parsed.Redacted()
}
