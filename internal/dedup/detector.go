package dedup

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/ureca/billing-notifier/internal/domain"
	"go.uber.org/zap"
)

const defaultSentTTL = 24 * time.Hour

// Classification is the outcome of checking a message against the dedup
// cache: already delivered, a correlated retry, or fresh.
type Classification struct {
	Duplicate  bool
	Retry      bool
	ExistingID int64
}

// Detector is a cache-backed idempotency guard in front of the persistent
// store. Its keys are hints only: the identity-based upsert on the
// notifications table remains the source of truth if the cache is evicted
// or inconsistent after a crash.
type Detector struct {
	client  *goredis.Client
	sentTTL time.Duration
	logger  *zap.Logger
}

func NewDetector(client *goredis.Client, sentTTL time.Duration, logger *zap.Logger) (*Detector, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if sentTTL <= 0 {
		sentTTL = defaultSentTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Detector{client: client, sentTTL: sentTTL, logger: logger}, nil
}

// Classify checks the sent marker first, then the retry correlation key.
// Cache failures degrade to "fresh": a redundant dispatch is cheaper than a
// dropped one, and the upsert keeps the store consistent either way.
func (d *Detector) Classify(ctx context.Context, billID int64, channel domain.Channel) Classification {
	sent, err := d.client.Exists(ctx, sentKey(billID, channel)).Result()
	if err != nil {
		d.logger.Warn("dedup cache unavailable, treating message as fresh",
			zap.Int64("billId", billID),
			zap.String("channel", channel.String()),
			zap.Error(err),
		)
		return Classification{}
	}
	if sent > 0 {
		return Classification{Duplicate: true}
	}

	value, err := d.client.Get(ctx, retryKey(billID)).Result()
	if errors.Is(err, goredis.Nil) {
		return Classification{}
	}
	if err != nil {
		d.logger.Warn("retry correlation lookup failed, treating message as fresh",
			zap.Int64("billId", billID),
			zap.Error(err),
		)
		return Classification{}
	}

	existingID, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		d.logger.Warn("retry correlation key holds malformed id, treating message as fresh",
			zap.Int64("billId", billID),
			zap.String("value", value),
		)
		return Classification{}
	}

	return Classification{Retry: true, ExistingID: existingID}
}

// MarkSent records a successful dispatch: the TTL-bounded sent marker is
// written and the retry correlation key is cleared.
func (d *Detector) MarkSent(ctx context.Context, billID int64, channel domain.Channel) error {
	pipe := d.client.TxPipeline()
	pipe.Set(ctx, sentKey(billID, channel), "1", d.sentTTL)
	pipe.Del(ctx, retryKey(billID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to mark message as sent: %w", err)
	}
	return nil
}

// MarkRetry correlates a failed bill with its persisted notification id so
// a redelivered message reuses the same record identity.
func (d *Detector) MarkRetry(ctx context.Context, billID int64, notificationID int64) error {
	err := d.client.Set(ctx, retryKey(billID), strconv.FormatInt(notificationID, 10), d.sentTTL).Err()
	if err != nil {
		return fmt.Errorf("failed to mark message for retry: %w", err)
	}
	return nil
}

func sentKey(billID int64, channel domain.Channel) string {
	return fmt.Sprintf("sent:%d:%s", billID, channel)
}

func retryKey(billID int64) string {
	return fmt.Sprintf("retry:%d", billID)
}
