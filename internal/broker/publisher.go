package broker

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// messageWriter is the slice of kafka.Writer the publisher depends on.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher republishes billing events onto the retry and dead-letter
// topics. Messages are keyed by bill id so redeliveries of the same bill
// stay on one partition.
type Publisher struct {
	writer messageWriter
	logger *zap.Logger
}

func NewPublisher(brokers []string, logger *zap.Logger) (*Publisher, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("at least one broker address is required")
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 10 * time.Millisecond,
	}

	return NewPublisherWithWriter(writer, logger), nil
}

func NewPublisherWithWriter(writer messageWriter, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{writer: writer, logger: logger}
}

// PublishRetry schedules a redelivery carrying the next attempt number.
func (p *Publisher) PublishRetry(ctx context.Context, billID int64, payload []byte, attempt int) error {
	return p.publish(ctx, TopicRetry, billID, payload, attempt)
}

// PublishDeadLetter parks a message that exhausted its retries. The attempt
// header is preserved so the dead-letter consumer can record it.
func (p *Publisher) PublishDeadLetter(ctx context.Context, billID int64, payload []byte, attempt int) error {
	return p.publish(ctx, TopicDeadLetter, billID, payload, attempt)
}

func (p *Publisher) publish(ctx context.Context, topic string, billID int64, payload []byte, attempt int) error {
	if p == nil || p.writer == nil {
		return fmt.Errorf("publisher is not initialized")
	}
	if len(payload) == 0 {
		return fmt.Errorf("payload is required")
	}
	if attempt < 0 {
		return fmt.Errorf("attempt must not be negative, got %d", attempt)
	}

	msg := kafka.Message{
		Topic:   topic,
		Key:     []byte(strconv.FormatInt(billID, 10)),
		Value:   payload,
		Headers: []kafka.Header{attemptHeader(attempt)},
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}

	p.logger.Debug("message published",
		zap.String("topic", topic),
		zap.Int64("billId", billID),
		zap.Int("attempt", attempt),
	)
	return nil
}

func (p *Publisher) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
