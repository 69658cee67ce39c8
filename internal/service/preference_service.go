package service

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/ureca/billing-notifier/internal/domain"
	"github.com/ureca/billing-notifier/internal/repository"
)

// SnapshotRefresher reloads the in-memory preference snapshot after a
// write, so policy decisions pick up the change without waiting for the
// periodic refresh.
type SnapshotRefresher interface {
	Refresh(ctx context.Context) error
}

// PreferenceService validates and applies per-user notification settings.
type PreferenceService struct {
	prefs    repository.PreferenceRepository
	snapshot SnapshotRefresher
	logger   *zap.Logger
}

func NewPreferenceService(prefs repository.PreferenceRepository, snapshot SnapshotRefresher, logger *zap.Logger) (*PreferenceService, error) {
	if prefs == nil {
		return nil, fmt.Errorf("preference repository is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &PreferenceService{prefs: prefs, snapshot: snapshot, logger: logger}, nil
}

func (s *PreferenceService) Get(ctx context.Context, userID int64, channelStr string) (*domain.Preference, error) {
	if userID <= 0 {
		return nil, fmt.Errorf("%w: userId is required", domain.ErrValidation)
	}
	ch, err := domain.ParseChannelFromString(channelStr)
	if err != nil {
		return nil, err
	}
	return s.prefs.Get(ctx, userID, ch)
}

func (s *PreferenceService) ListByUser(ctx context.Context, userID int64) ([]domain.Preference, error) {
	if userID <= 0 {
		return nil, fmt.Errorf("%w: userId is required", domain.ErrValidation)
	}
	return s.prefs.ListByUser(ctx, userID)
}

// SetQuietWindow sets a user's personal quiet window for one channel.
// Empty start and end clear the window, falling back to the system policy.
func (s *PreferenceService) SetQuietWindow(ctx context.Context, userID int64, channelStr, start, end string) (*domain.Preference, error) {
	if userID <= 0 {
		return nil, fmt.Errorf("%w: userId is required", domain.ErrValidation)
	}
	ch, err := domain.ParseChannelFromString(channelStr)
	if err != nil {
		return nil, err
	}

	start = strings.TrimSpace(start)
	end = strings.TrimSpace(end)
	if (start == "") != (end == "") {
		return nil, fmt.Errorf("%w: quiet window requires both start and end", domain.ErrValidation)
	}

	var startTime, endTime *domain.TimeOfDay
	if start != "" {
		parsedStart, err := domain.ParseTimeOfDay(start)
		if err != nil {
			return nil, err
		}
		parsedEnd, err := domain.ParseTimeOfDay(end)
		if err != nil {
			return nil, err
		}
		if parsedStart == parsedEnd {
			return nil, fmt.Errorf("%w: quiet window must not be empty", domain.ErrValidation)
		}
		startTime, endTime = &parsedStart, &parsedEnd
	}

	if err := s.prefs.UpdateQuietWindow(ctx, userID, ch, startTime, endTime); err != nil {
		return nil, err
	}
	s.refreshSnapshot(ctx)

	return s.prefs.Get(ctx, userID, ch)
}

// SetEnabled toggles one channel on or off for a user.
func (s *PreferenceService) SetEnabled(ctx context.Context, userID int64, channelStr string, enabled bool) (*domain.Preference, error) {
	if userID <= 0 {
		return nil, fmt.Errorf("%w: userId is required", domain.ErrValidation)
	}
	ch, err := domain.ParseChannelFromString(channelStr)
	if err != nil {
		return nil, err
	}

	if err := s.prefs.ToggleChannel(ctx, userID, ch, enabled); err != nil {
		return nil, err
	}
	s.refreshSnapshot(ctx)

	return s.prefs.Get(ctx, userID, ch)
}

func (s *PreferenceService) refreshSnapshot(ctx context.Context) {
	if s.snapshot == nil {
		return
	}
	if err := s.snapshot.Refresh(ctx); err != nil {
		// the periodic refresher converges the snapshot eventually
		s.logger.Warn("failed to refresh preference snapshot after write", zap.Error(err))
	}
}
