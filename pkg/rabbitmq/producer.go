/**
 * @description
 * This package publishes banking events as JSON to a RabbitMQ topic exchange and
 * consumes settlement updates from a durable queue.
 *
 * Key features:
 * - Publishing uses publisher confirms so a returned nil means the broker has the event.
 * - Exchanges are declared once per channel.
 * - A failed publish reopens the channel and retries once.
 *
 * @dependencies
 * - github.com/rabbitmq/amqp091-go: The RabbitMQ client library.
 * - github.com/google/uuid: Message ids.
 * - go.uber.org/zap: Structured logging.
 */
package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const appID = "banking-service"

// Publisher is the interface implemented by types that can publish events.
type Publisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body interface{}) error
	Close()
}

// EventProducer publishes persistent JSON messages on a confirm-mode channel.
type EventProducer struct {
	mu       sync.Mutex
	conn     *amqp091.Connection
	channel  *amqp091.Channel
	declared map[string]bool
	logger   *zap.Logger
}

// NoopPublisher drops every event. It is used when no broker is configured or
// the broker is unreachable at startup.
type NoopPublisher struct {
	Logger *zap.Logger
}

func (p *NoopPublisher) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	if p.Logger != nil {
		p.Logger.Debug("publish skipped", zap.String("exchange", exchange), zap.String("routing_key", routingKey))
	}
	return nil
}

func (p *NoopPublisher) Close() {}

// sanitizeAMQPURL strips quotes and anything pasted before the scheme.
func sanitizeAMQPURL(raw string) (string, error) {
	clean := strings.Trim(strings.TrimSpace(raw), "\"'")
	if idx := strings.Index(strings.ToLower(clean), "amqp"); idx > 0 {
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

// NewEventProducer dials RabbitMQ and opens a confirm-mode publishing channel.
func NewEventProducer(amqpURL string, logger *zap.Logger) (*EventProducer, error) {
	cleanURL, err := sanitizeAMQPURL(amqpURL)
	if err != nil {
		return nil, err
	}

	conn, err := amqp091.DialConfig(cleanURL, amqp091.Config{Dial: amqp091.DefaultDial(10 * time.Second)})
	if err != nil {
		return nil, err
	}
	p := &EventProducer{conn: conn, logger: logger}
	if err := p.openChannel(); err != nil {
		conn.Close()
		return nil, err
	}
	return p, nil
}

func (p *EventProducer) openChannel() error {
	ch, err := p.conn.Channel()
	if err != nil {
		return err
	}
	if err := ch.Confirm(false); err != nil {
		ch.Close()
		return fmt.Errorf("enable publisher confirms: %w", err)
	}
	p.channel = ch
	p.declared = make(map[string]bool)
	return nil
}

// Publish marshals body to JSON and waits for the broker to confirm it.
func (p *EventProducer) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", routingKey, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	err = p.publishConfirmed(ctx, exchange, routingKey, payload)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil || p.conn == nil || p.conn.IsClosed() {
		return err
	}

	p.logger.Warn("publish failed; reopening channel", zap.String("exchange", exchange), zap.String("routing_key", routingKey), zap.Error(err))
	if p.channel != nil {
		p.channel.Close()
	}
	if chErr := p.openChannel(); chErr != nil {
		return fmt.Errorf("reopen channel: %w", chErr)
	}
	return p.publishConfirmed(ctx, exchange, routingKey, payload)
}

func (p *EventProducer) publishConfirmed(ctx context.Context, exchange, routingKey string, payload []byte) error {
	if !p.declared[exchange] {
		if err := p.channel.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare exchange %s: %w", exchange, err)
		}
		p.declared[exchange] = true
	}

	confirmation, err := p.channel.PublishWithDeferredConfirmWithContext(ctx, exchange, routingKey, false, false, amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		MessageId:    uuid.NewString(),
		Type:         routingKey,
		AppId:        appID,
		Timestamp:    time.Now().UTC(),
		Body:         payload,
	})
	if err != nil {
		return err
	}
	acked, err := confirmation.WaitContext(ctx)
	if err != nil {
		return err
	}
	if !acked {
		return fmt.Errorf("broker nacked %s", routingKey)
	}
	return nil
}

// Close gracefully closes the channel and connection to RabbitMQ.
func (p *EventProducer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}
}
