package processor

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ureca/billing-notifier/internal/domain"
	"github.com/ureca/billing-notifier/internal/observability"
)

// DeadLetterRecorder persists the terminal state for messages parked on
// the dead-letter topic. The record is final: retry count is pinned at the
// budget so the retry scanner never picks it up.
type DeadLetterRecorder struct {
	store      Store
	metrics    *observability.Metrics
	logger     *zap.Logger
	maxRetries int
	now        func() time.Time
}

func NewDeadLetterRecorder(store Store, metrics *observability.Metrics, logger *zap.Logger, maxRetries int) (*DeadLetterRecorder, error) {
	if store == nil {
		return nil, fmt.Errorf("notification store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxRetries < 1 {
		maxRetries = defaultMaxRetries
	}

	return &DeadLetterRecorder{
		store:      store,
		metrics:    metrics,
		logger:     logger,
		maxRetries: maxRetries,
		now:        time.Now,
	}, nil
}

func (r *DeadLetterRecorder) RecordDeadLettered(ctx context.Context, msg domain.BillingMessage, attempt int) error {
	ch, err := msg.ResolveChannel()
	if err != nil {
		// keep the record anyway, the payload already burned its retries
		r.logger.Warn("dead-lettered message has unknown channel, recording as email",
			zap.Int64("billId", msg.BillID),
			zap.String("notificationType", msg.NotificationType),
		)
		ch = domain.ChannelEmail
	}

	retryCount := attempt
	if retryCount < r.maxRetries {
		retryCount = r.maxRetries
	}
	errMsg := fmt.Sprintf("moved to DLT after %d retries", retryCount)
	now := r.now()

	payload, marshalErr := msg.Encode()
	if marshalErr != nil {
		payload = nil
	}

	notification := &domain.Notification{
		UserID:       msg.UserID,
		BillID:       msg.BillID,
		Channel:      ch,
		Status:       domain.StatusFailed,
		Recipient:    msg.Recipient(ch),
		Content:      msg.Content(ch),
		RetryCount:   retryCount,
		Payload:      payload,
		ScheduledAt:  now,
		ErrorMessage: &errMsg,
	}

	if err := r.store.UpsertBatch(ctx, []*domain.Notification{notification}); err != nil {
		return fmt.Errorf("failed to record dead-lettered bill %d: %w", msg.BillID, err)
	}

	r.metrics.IncNotificationFailed(ch.String(), "dead_lettered")
	return nil
}
