package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ureca/billing-notifier/internal/domain"
)

// TerminalRecorder persists the terminal FAILED state for a dead-lettered
// billing event.
type TerminalRecorder interface {
	RecordDeadLettered(ctx context.Context, msg domain.BillingMessage, attempt int) error
}

// DeadLetterConsumer drains the dead-letter topic and records each parked
// message as permanently failed. Offsets are committed only after the
// terminal state is persisted.
type DeadLetterConsumer struct {
	fetcher  Fetcher
	recorder TerminalRecorder
	logger   *zap.Logger
}

func NewDeadLetterConsumer(fetcher Fetcher, recorder TerminalRecorder, logger *zap.Logger) *DeadLetterConsumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DeadLetterConsumer{
		fetcher:  fetcher,
		recorder: recorder,
		logger:   logger,
	}
}

func (c *DeadLetterConsumer) Run(ctx context.Context) error {
	if c == nil || c.fetcher == nil {
		return fmt.Errorf("dead-letter consumer is not initialized")
	}
	if c.recorder == nil {
		return fmt.Errorf("terminal recorder is required")
	}

	for {
		msg, err := c.fetcher.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			c.logger.Warn("dead-letter fetch failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}

		attempt := Attempt(msg)

		billing, err := domain.DecodeBillingMessage(msg.Value)
		if err != nil {
			// nothing to record for an undecodable payload, drop it
			c.logger.Error("dropping undecodable dead-letter message",
				zap.Error(err),
				zap.Int64("offset", msg.Offset),
				zap.Int("partition", msg.Partition),
			)
			if commitErr := c.fetcher.CommitMessages(ctx, msg); commitErr != nil {
				return fmt.Errorf("failed to commit dead-letter offset: %w", commitErr)
			}
			continue
		}

		// Retry the same message in place. Fetching the next one would let a
		// later commit's cumulative offset cover this record and lose it.
		for {
			err := c.recorder.RecordDeadLettered(ctx, billing, attempt)
			if err == nil {
				break
			}
			c.logger.Error("failed to record dead-lettered message, retrying",
				zap.Error(err),
				zap.Int64("billId", billing.BillID),
				zap.Int64("offset", msg.Offset),
			)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
		}

		c.logger.Warn("billing event dead-lettered",
			zap.Int64("billId", billing.BillID),
			zap.Int64("userId", billing.UserID),
			zap.Int("attempt", attempt),
		)

		if err := c.fetcher.CommitMessages(ctx, msg); err != nil {
			return fmt.Errorf("failed to commit dead-letter offset: %w", err)
		}
	}
}

func (c *DeadLetterConsumer) Close() error {
	if c == nil || c.fetcher == nil {
		return nil
	}
	return c.fetcher.Close()
}
