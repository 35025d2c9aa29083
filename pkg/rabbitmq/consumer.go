package rabbitmq

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const (
	defaultPrefetch     = 10
	defaultDrainTimeout = 10 * time.Second
	consumerTag         = "banking-service-settlement"
)

// Consumer delivers messages from one durable queue to per-routing-key handlers.
// A handler returning false re-queues the message once; a second failure sends it
// to the queue's dead-letter queue so a poison message cannot spin forever.
type Consumer struct {
	conn         *amqp.Connection
	ch           *amqp.Channel
	logger       *zap.Logger
	prefetch     int
	drainTimeout time.Duration
	done         chan struct{}
	consuming    bool
	once         sync.Once
}

func NewConsumer(amqpURL string, logger *zap.Logger) (*Consumer, error) {
	cleanURL, err := sanitizeAMQPURL(amqpURL)
	if err != nil {
		return nil, err
	}
	if !strings.HasSuffix(cleanURL, "/") {
		cleanURL += "/"
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

	return &Consumer{
		conn:         conn,
		ch:           ch,
		logger:       logger,
		prefetch:     defaultPrefetch,
		drainTimeout: defaultDrainTimeout,
		done:         make(chan struct{}),
	}, nil
}

// deadLetterNames returns the exchange and queue that receive rejected messages for queueName.
func deadLetterNames(queueName string) (exchange, queue string) {
	return queueName + ".dlx", queueName + ".dead"
}

func (c *Consumer) declareTopology(exchange, queueName string) error {
	if err := c.ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", exchange, err)
	}

	dlx, dlq := deadLetterNames(queueName)
	if err := c.ch.ExchangeDeclare(dlx, "fanout", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare dead-letter exchange %s: %w", dlx, err)
	}
	if _, err := c.ch.QueueDeclare(dlq, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare dead-letter queue %s: %w", dlq, err)
	}
	if err := c.ch.QueueBind(dlq, "", dlx, false, nil); err != nil {
		return fmt.Errorf("bind dead-letter queue %s: %w", dlq, err)
	}

	args := amqp.Table{"x-dead-letter-exchange": dlx}
	if _, err := c.ch.QueueDeclare(queueName, true, false, false, false, args); err != nil {
		return fmt.Errorf("declare queue %s: %w", queueName, err)
	}
	return nil
}

// ConsumeWithBindings declares the queue, binds every routing key in bindings to
// it on exchange and starts delivering in a background goroutine.
func (c *Consumer) ConsumeWithBindings(exchange, queueName string, bindings map[string]func([]byte) bool) error {
	handlers := make(map[string]func([]byte) bool, len(bindings))
	for routingKey, handler := range bindings {
		if handler != nil {
			handlers[routingKey] = handler
		}
	}
	if len(handlers) == 0 {
		return errors.New("no bindings provided")
	}

	if err := c.declareTopology(exchange, queueName); err != nil {
		return err
	}
	for routingKey := range handlers {
		if err := c.ch.QueueBind(queueName, routingKey, exchange, false, nil); err != nil {
			return fmt.Errorf("bind %s: %w", routingKey, err)
		}
	}
	if err := c.ch.Qos(c.prefetch, 0, false); err != nil {
		return err
	}

	deliveries, err := c.ch.Consume(queueName, consumerTag, false, false, false, false, nil)
	if err != nil {
		return err
	}
	c.consuming = true

	go func() {
		defer close(c.done)
		for d := range deliveries {
			c.dispatch(d, handlers)
		}
		c.logger.Info("delivery channel closed", zap.String("queue", queueName))
	}()
	return nil
}

func (c *Consumer) dispatch(d amqp.Delivery, handlers map[string]func([]byte) bool) {
	handler, ok := handlers[d.RoutingKey]
	if !ok {
		c.logger.Warn("no handler for routing key; dropping", zap.String("routing_key", d.RoutingKey))
		_ = d.Ack(false)
		return
	}
	if handler(d.Body) {
		_ = d.Ack(false)
		return
	}

	requeue := !d.Redelivered
	if requeue {
		c.logger.Warn("handler failed; re-queuing", zap.String("routing_key", d.RoutingKey))
	} else {
		c.logger.Error("handler failed on redelivery; dead-lettering", zap.String("routing_key", d.RoutingKey))
	}
	_ = d.Nack(false, requeue)
}

// Close stops new deliveries, waits up to the drain timeout for the in-flight
// handler to ack, then closes the channel and connection.
func (c *Consumer) Close() {
	c.once.Do(func() {
		if c.consuming && c.ch != nil {
			if err := c.ch.Cancel(consumerTag, false); err != nil {
				c.logger.Warn("failed to cancel consumer", zap.Error(err))
			} else if !waitDone(c.done, c.drainTimeout) {
				c.logger.Warn("settlement handler still running at shutdown", zap.Duration("timeout", c.drainTimeout))
			}
		}
		if c.ch != nil {
			c.ch.Close()
		}
		if c.conn != nil {
			c.conn.Close()
		}
	})
}

// waitDone reports whether done closed before timeout elapsed.
func waitDone(done <-chan struct{}, timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		return true
	case <-timer.C:
		return false
	}
}
