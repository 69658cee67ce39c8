package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Fetcher is the slice of kafka.Reader the consumer depends on.
type Fetcher interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// BatchHandler processes one accumulated batch. Calling ack commits the
// batch offsets; the handler must only do so after the batch outcome is
// durably recorded.
type BatchHandler func(ctx context.Context, msgs []kafka.Message, ack func(context.Context) error) error

// BatchConsumer accumulates fetched messages into batches and hands them to
// a handler. Offsets are committed by the handler, never implicitly, so a
// crash before persistence replays the batch.
type BatchConsumer struct {
	fetcher       Fetcher
	batchSize     int
	flushInterval time.Duration
	logger        *zap.Logger
}

func NewReader(brokers []string, topic, groupID string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          topic,
		GroupID:        groupID,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // explicit commits only
	})
}

func NewBatchConsumer(fetcher Fetcher, batchSize int, flushInterval time.Duration, logger *zap.Logger) *BatchConsumer {
	if batchSize < 1 {
		batchSize = 1
	}
	if flushInterval <= 0 {
		flushInterval = time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &BatchConsumer{
		fetcher:       fetcher,
		batchSize:     batchSize,
		flushInterval: flushInterval,
		logger:        logger,
	}
}

// Run fetches and dispatches batches until the context is canceled. A batch
// is flushed when it reaches batchSize or when flushInterval elapses with at
// least one pending message.
func (c *BatchConsumer) Run(ctx context.Context, handle BatchHandler) error {
	if c == nil || c.fetcher == nil {
		return fmt.Errorf("consumer is not initialized")
	}
	if handle == nil {
		return fmt.Errorf("batch handler is required")
	}

	batch := make([]kafka.Message, 0, c.batchSize)
	deadline := time.Now().Add(c.flushInterval)

	for {
		if ctx.Err() != nil {
			return c.flush(context.WithoutCancel(ctx), batch, handle)
		}

		if len(batch) >= c.batchSize || (len(batch) > 0 && !time.Now().Before(deadline)) {
			if err := c.flush(ctx, batch, handle); err != nil {
				return err
			}
			batch = batch[:0]
			deadline = time.Now().Add(c.flushInterval)
			continue
		}

		fetchCtx, cancel := context.WithDeadline(ctx, deadline)
		msg, err := c.fetcher.FetchMessage(fetchCtx)
		cancel()

		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				// interval elapsed, loop around and flush what we have
				deadline = time.Now().Add(c.flushInterval)
				if len(batch) > 0 {
					if err := c.flush(ctx, batch, handle); err != nil {
						return err
					}
					batch = batch[:0]
				}
				continue
			}
			if ctx.Err() != nil {
				return c.flush(context.WithoutCancel(ctx), batch, handle)
			}
			c.logger.Warn("fetch failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return c.flush(context.WithoutCancel(ctx), batch, handle)
			case <-time.After(time.Second):
			}
			continue
		}

		batch = append(batch, msg)
	}
}

func (c *BatchConsumer) flush(ctx context.Context, batch []kafka.Message, handle BatchHandler) error {
	if len(batch) == 0 {
		return nil
	}

	msgs := make([]kafka.Message, len(batch))
	copy(msgs, batch)

	ack := func(ackCtx context.Context) error {
		if err := c.fetcher.CommitMessages(ackCtx, msgs...); err != nil {
			return fmt.Errorf("failed to commit %d offsets: %w", len(msgs), err)
		}
		return nil
	}

	started := time.Now()
	if err := handle(ctx, msgs, ack); err != nil {
		return fmt.Errorf("batch handler failed: %w", err)
	}

	c.logger.Debug("batch flushed",
		zap.Int("size", len(msgs)),
		zap.Duration("took", time.Since(started)),
	)
	return nil
}

func (c *BatchConsumer) Close() error {
	if c == nil || c.fetcher == nil {
		return nil
	}
	return c.fetcher.Close()
}
