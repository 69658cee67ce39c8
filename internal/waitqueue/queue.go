package waitqueue

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const queueKey = "queue:waiting"

// Status summarizes the waiting queue for the administrative surface.
type Status struct {
	QueueKey      string   `json:"queueKey"`
	TotalCount    int64    `json:"totalCount"`
	ReadyCount    int64    `json:"readyCount"`
	ReadyMessages []string `json:"readyMessages"`
}

// Queue is a durable, time-ordered deferral store for messages blocked by a
// quiet window. Entries are serialized billing messages scored by their
// release time in epoch seconds; the store survives process restarts.
type Queue struct {
	client *goredis.Client
	logger *zap.Logger
	now    func() time.Time
}

func NewQueue(client *goredis.Client, logger *zap.Logger) (*Queue, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Queue{client: client, logger: logger, now: time.Now}, nil
}

// Enqueue stores a blocked message with the given release time. The score is
// the release epoch second, so draining in score order is draining in
// release order.
func (q *Queue) Enqueue(ctx context.Context, payload []byte, releaseAt time.Time) error {
	member := goredis.Z{Score: float64(releaseAt.Unix()), Member: string(payload)}
	if err := q.client.ZAdd(ctx, queueKey, member).Err(); err != nil {
		return fmt.Errorf("failed to enqueue deferred message: %w", err)
	}

	q.logger.Info("message deferred",
		zap.Time("releaseAt", releaseAt),
	)
	return nil
}

// DrainReady returns up to limit entries whose release time has passed,
// ascending by release time. Entries are not removed: the caller removes
// each one only after successful reprocessing, so a crash between read and
// reprocess loses nothing.
func (q *Queue) DrainReady(ctx context.Context, limit int) ([][]byte, error) {
	if limit <= 0 {
		return nil, nil
	}

	rangeBy := &goredis.ZRangeBy{
		Min:   "0",
		Max:   fmt.Sprintf("%d", q.now().Unix()),
		Count: int64(limit),
	}
	members, err := q.client.ZRangeByScore(ctx, queueKey, rangeBy).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read ready messages: %w", err)
	}

	payloads := make([][]byte, 0, len(members))
	for _, member := range members {
		payloads = append(payloads, []byte(member))
	}
	return payloads, nil
}

// Remove deletes one entry after it has been reprocessed.
func (q *Queue) Remove(ctx context.Context, payload []byte) error {
	if err := q.client.ZRem(ctx, queueKey, string(payload)).Err(); err != nil {
		return fmt.Errorf("failed to remove message from waiting queue: %w", err)
	}
	return nil
}

// Size returns the total number of deferred entries.
func (q *Queue) Size(ctx context.Context) (int64, error) {
	size, err := q.client.ZCard(ctx, queueKey).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read waiting queue size: %w", err)
	}
	return size, nil
}

// Clear empties the queue. Administrative/test use only.
func (q *Queue) Clear(ctx context.Context) error {
	if err := q.client.Del(ctx, queueKey).Err(); err != nil {
		return fmt.Errorf("failed to clear waiting queue: %w", err)
	}
	return nil
}

// QueueStatus reports totals plus a sample of ready payloads.
func (q *Queue) QueueStatus(ctx context.Context) (Status, error) {
	total, err := q.Size(ctx)
	if err != nil {
		return Status{}, err
	}

	now := fmt.Sprintf("%d", q.now().Unix())
	ready, err := q.client.ZCount(ctx, queueKey, "0", now).Result()
	if err != nil {
		return Status{}, fmt.Errorf("failed to count ready messages: %w", err)
	}

	sample, err := q.DrainReady(ctx, 10)
	if err != nil {
		return Status{}, err
	}
	messages := make([]string, 0, len(sample))
	for _, payload := range sample {
		messages = append(messages, string(payload))
	}

	return Status{
		QueueKey:      queueKey,
		TotalCount:    total,
		ReadyCount:    ready,
		ReadyMessages: messages,
	}, nil
}
