// Package kafka publishes service events to a single Kafka topic. The routing key
// becomes the message key and the exchange travels as a header, so consumers can
// filter the same way they would on a RabbitMQ topic exchange.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type Producer struct {
	writer *kafka.Writer
	logger *zap.Logger
}

// ParseBrokers splits a comma separated broker list, dropping blanks.
func ParseBrokers(raw string) []string {
	var brokers []string
	for _, b := range strings.Split(raw, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

func NewProducer(brokers []string, topic string, logger *zap.Logger) (*Producer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("no kafka brokers configured")
	}
	if strings.TrimSpace(topic) == "" {
		return nil, fmt.Errorf("kafka topic is required")
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireAll,
		MaxAttempts:  3,
		Logger:       kafka.LoggerFunc(func(msg string, args ...interface{}) { logger.Debug(fmt.Sprintf(msg, args...)) }),
		ErrorLogger:  kafka.LoggerFunc(func(msg string, args ...interface{}) { logger.Error(fmt.Sprintf(msg, args...)) }),
	}

	return &Producer{writer: writer, logger: logger}, nil
}

// Publish writes body as JSON keyed by routingKey. The call blocks until the
// write is acknowledged or the write timeout elapses.
func (p *Producer) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	value, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(routingKey),
		Value: value,
		Headers: []kafka.Header{
			{Key: "exchange", Value: []byte(exchange)},
			{Key: "routing_key", Value: []byte(routingKey)},
		},
		Time: time.Now().UTC(),
	}

	produceCtx, cancel := context.WithTimeout(ctx, p.writer.WriteTimeout)
	defer cancel()

	if err := p.writer.WriteMessages(produceCtx, msg); err != nil {
		p.logger.Error("Failed to produce message to Kafka",
			zap.String("topic", p.writer.Topic),
			zap.String("key", routingKey),
			zap.Error(err),
		)
		return fmt.Errorf("failed to produce message to Kafka: %w", err)
	}
	p.logger.Debug("Message produced to Kafka", zap.String("topic", p.writer.Topic), zap.String("key", routingKey))
	return nil
}

func (p *Producer) Close() {
	if p.writer == nil {
		return
	}
	if err := p.writer.Close(); err != nil {
		p.logger.Error("Failed to close Kafka producer", zap.Error(err))
		return
	}
	p.logger.Info("Kafka producer closed")
}
