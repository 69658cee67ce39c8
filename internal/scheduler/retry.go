package scheduler

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ureca/billing-notifier/internal/domain"
	"github.com/ureca/billing-notifier/internal/observability"
)

const (
	defaultRetryScanInterval = time.Minute
	defaultRetryScanLimit    = 100
	defaultRetryBudget       = 3
)

// RetryStore is the repository surface the scanner depends on.
type RetryStore interface {
	ListFailedForRetry(ctx context.Context, maxRetries, limit int) ([]domain.Notification, error)
	MarkRetry(ctx context.Context, id int64) error
}

// RetryPublisher republishes stored payloads onto the retry topic.
type RetryPublisher interface {
	PublishRetry(ctx context.Context, billID int64, payload []byte, attempt int) error
}

// RetryScanner sweeps FAILED records that still have retry budget and
// republishes their stored payloads. It backs up the inline retry path:
// records whose republish failed at send time land here.
type RetryScanner struct {
	store      RetryStore
	publisher  RetryPublisher
	metrics    *observability.Metrics
	logger     *zap.Logger
	interval   time.Duration
	maxRetries int
	limit      int
}

func NewRetryScanner(
	store RetryStore,
	publisher RetryPublisher,
	metrics *observability.Metrics,
	interval time.Duration,
	maxRetries int,
	limit int,
	logger *zap.Logger,
) (*RetryScanner, error) {
	if store == nil {
		return nil, fmt.Errorf("retry store is required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("retry publisher is required")
	}
	if interval <= 0 {
		interval = defaultRetryScanInterval
	}
	if maxRetries < 1 {
		maxRetries = defaultRetryBudget
	}
	if limit <= 0 {
		limit = defaultRetryScanLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RetryScanner{
		store:      store,
		publisher:  publisher,
		metrics:    metrics,
		logger:     logger,
		interval:   interval,
		maxRetries: maxRetries,
		limit:      limit,
	}, nil
}

func (s *RetryScanner) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := s.RunOnce(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				s.logger.Error("retry scan failed", zap.Error(err))
			}
		}
	}
}

// RunOnce republishes one page of retryable records and returns how many
// were scheduled.
func (s *RetryScanner) RunOnce(ctx context.Context) (int, error) {
	candidates, err := s.store.ListFailedForRetry(ctx, s.maxRetries, s.limit)
	if err != nil {
		return 0, fmt.Errorf("failed to list retryable records: %w", err)
	}

	scheduled := 0
	for i := range candidates {
		n := candidates[i]

		if len(n.Payload) == 0 {
			s.logger.Warn("retryable record has no stored payload, skipping",
				zap.Int64("notificationId", n.ID),
				zap.Int64("billId", n.BillID),
			)
			continue
		}

		if err := s.publisher.PublishRetry(ctx, n.BillID, n.Payload, n.RetryCount+1); err != nil {
			s.logger.Error("failed to republish record",
				zap.Int64("notificationId", n.ID),
				zap.Int64("billId", n.BillID),
				zap.Error(err),
			)
			continue
		}

		if err := s.store.MarkRetry(ctx, n.ID); err != nil {
			s.logger.Error("failed to mark record for retry",
				zap.Int64("notificationId", n.ID),
				zap.Error(err),
			)
			continue
		}

		s.metrics.IncRetryScheduled(n.Channel.String())
		scheduled++
	}

	if scheduled > 0 {
		s.logger.Info("retry scan complete", zap.Int("scheduled", scheduled))
	}
	return scheduled, nil
}
