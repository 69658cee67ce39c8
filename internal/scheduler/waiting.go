package scheduler

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ureca/billing-notifier/internal/observability"
)

const (
	defaultDrainInterval = 30 * time.Second
	defaultDrainLimit    = 200
)

// Reprocessor runs one deferred payload through the dispatch pipeline.
type Reprocessor interface {
	Reprocess(ctx context.Context, payload []byte) (deferred bool, err error)
}

// WaitingQueue is the waiting-queue surface the drainer depends on.
type WaitingQueue interface {
	DrainReady(ctx context.Context, limit int) ([][]byte, error)
	Remove(ctx context.Context, payload []byte) error
	Size(ctx context.Context) (int64, error)
}

// WaitingDrainer periodically releases deferred messages whose quiet window
// has ended. Entries are removed from the queue only after reprocessing, so
// a crash mid-drain redelivers rather than loses them.
type WaitingDrainer struct {
	queue     WaitingQueue
	processor Reprocessor
	metrics   *observability.Metrics
	logger    *zap.Logger
	interval  time.Duration
	limit     int
}

func NewWaitingDrainer(
	queue WaitingQueue,
	processor Reprocessor,
	metrics *observability.Metrics,
	interval time.Duration,
	limit int,
	logger *zap.Logger,
) (*WaitingDrainer, error) {
	if queue == nil {
		return nil, fmt.Errorf("waiting queue is required")
	}
	if processor == nil {
		return nil, fmt.Errorf("reprocessor is required")
	}
	if interval <= 0 {
		interval = defaultDrainInterval
	}
	if limit <= 0 {
		limit = defaultDrainLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &WaitingDrainer{
		queue:     queue,
		processor: processor,
		metrics:   metrics,
		logger:    logger,
		interval:  interval,
		limit:     limit,
	}, nil
}

func (d *WaitingDrainer) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if _, err := d.RunOnce(ctx); err != nil && ctx.Err() == nil {
		d.logger.Error("initial waiting-queue drain failed", zap.Error(err))
	}

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := d.RunOnce(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				d.logger.Error("waiting-queue drain failed", zap.Error(err))
			}
		}
	}
}

// RunOnce drains every ready entry and returns how many were released.
func (d *WaitingDrainer) RunOnce(ctx context.Context) (int, error) {
	payloads, err := d.queue.DrainReady(ctx, d.limit)
	if err != nil {
		return 0, fmt.Errorf("failed to read ready entries: %w", err)
	}

	released := 0
	for _, payload := range payloads {
		deferred, err := d.processor.Reprocess(ctx, payload)
		if err != nil {
			// entry stays queued and is retried on the next drain
			d.logger.Error("failed to reprocess deferred message", zap.Error(err))
			continue
		}
		if deferred {
			// re-enqueued with a new release time, keep the new entry
			continue
		}

		if err := d.queue.Remove(ctx, payload); err != nil {
			d.logger.Warn("failed to remove released entry", zap.Error(err))
			continue
		}
		released++
	}

	if size, err := d.queue.Size(ctx); err == nil {
		d.metrics.SetWaitingQueueSize(size)
	}

	if released > 0 {
		d.logger.Info("waiting queue drained", zap.Int("released", released))
	}
	return released, nil
}
