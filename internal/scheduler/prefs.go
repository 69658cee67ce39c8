package scheduler

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

const defaultPrefRefreshInterval = time.Minute

// SnapshotRefresher reloads the in-memory preference snapshot.
type SnapshotRefresher interface {
	Refresh(ctx context.Context) error
	Len() int
}

// PrefRefresher keeps the preference snapshot current. Batch workers read
// the snapshot lock-free; this is the only writer besides admin updates.
type PrefRefresher struct {
	holder   SnapshotRefresher
	logger   *zap.Logger
	interval time.Duration
}

func NewPrefRefresher(holder SnapshotRefresher, interval time.Duration, logger *zap.Logger) (*PrefRefresher, error) {
	if holder == nil {
		return nil, fmt.Errorf("snapshot holder is required")
	}
	if interval <= 0 {
		interval = defaultPrefRefreshInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &PrefRefresher{holder: holder, logger: logger, interval: interval}, nil
}

func (r *PrefRefresher) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if err := r.holder.Refresh(ctx); err != nil && ctx.Err() == nil {
		r.logger.Error("initial preference snapshot load failed", zap.Error(err))
	} else {
		r.logger.Info("preference snapshot loaded", zap.Int("entries", r.holder.Len()))
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := r.holder.Refresh(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				// stale snapshot stays in place until the next refresh
				r.logger.Error("preference snapshot refresh failed", zap.Error(err))
			}
		}
	}
}
