package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ureca/billing-notifier/internal/domain"
)

type PreferenceRepository interface {
	Get(ctx context.Context, userID int64, channel domain.Channel) (*domain.Preference, error)
	ListByUser(ctx context.Context, userID int64) ([]domain.Preference, error)
	ListAll(ctx context.Context) ([]domain.Preference, error)
	Upsert(ctx context.Context, pref *domain.Preference) error
	UpdateQuietWindow(ctx context.Context, userID int64, channel domain.Channel, start, end *domain.TimeOfDay) error
	ToggleChannel(ctx context.Context, userID int64, channel domain.Channel, enabled bool) error
}

type GormPreferenceRepo struct {
	db *gorm.DB
}

func NewGormPreferenceRepo(db *gorm.DB) *GormPreferenceRepo {
	return &GormPreferenceRepo{db: db}
}

func (r *GormPreferenceRepo) Get(ctx context.Context, userID int64, channel domain.Channel) (*domain.Preference, error) {
	var model UserNotificationPrefModel
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND channel = ?", userID, channel).
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return prefModelToDomain(&model)
}

func (r *GormPreferenceRepo) ListByUser(ctx context.Context, userID int64) ([]domain.Preference, error) {
	var models []UserNotificationPrefModel
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("channel ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return prefsToDomain(models)
}

// ListAll feeds the in-memory preference snapshot. Rows with corrupt quiet
// times fail the load rather than silently losing a user's window.
func (r *GormPreferenceRepo) ListAll(ctx context.Context) ([]domain.Preference, error) {
	var models []UserNotificationPrefModel
	err := r.db.WithContext(ctx).
		Order("user_id ASC, channel ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return prefsToDomain(models)
}

func (r *GormPreferenceRepo) Upsert(ctx context.Context, pref *domain.Preference) error {
	if pref == nil {
		return errors.New("preference is required")
	}
	if err := pref.Validate(); err != nil {
		return err
	}

	model := prefModelFromDomain(pref)
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "user_id"}, {Name: "channel"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"enabled",
				"priority",
				"quiet_start",
				"quiet_end",
				"updated_at",
			}),
		}).
		Create(model).Error
	if err != nil {
		return err
	}

	updated, err := prefModelToDomain(model)
	if err != nil {
		return err
	}
	*pref = *updated
	return nil
}

// UpdateQuietWindow sets or clears the personal quiet window, creating the
// preference row implicitly when the user has none yet.
func (r *GormPreferenceRepo) UpdateQuietWindow(ctx context.Context, userID int64, channel domain.Channel, start, end *domain.TimeOfDay) error {
	if (start == nil) != (end == nil) {
		return errors.New("quiet window requires both start and end")
	}

	pref, err := r.Get(ctx, userID, channel)
	if errors.Is(err, domain.ErrNotFound) {
		pref = &domain.Preference{
			UserID:   userID,
			Channel:  channel,
			Enabled:  true,
			Priority: domain.DefaultPreferencePriority,
		}
	} else if err != nil {
		return err
	}

	pref.QuietStart = start
	pref.QuietEnd = end
	return r.Upsert(ctx, pref)
}

// ToggleChannel enables or disables a channel, creating the preference row
// implicitly when the user has none yet.
func (r *GormPreferenceRepo) ToggleChannel(ctx context.Context, userID int64, channel domain.Channel, enabled bool) error {
	pref, err := r.Get(ctx, userID, channel)
	if errors.Is(err, domain.ErrNotFound) {
		pref = &domain.Preference{
			UserID:   userID,
			Channel:  channel,
			Priority: domain.DefaultPreferencePriority,
		}
	} else if err != nil {
		return err
	}

	pref.Enabled = enabled
	return r.Upsert(ctx, pref)
}

func prefsToDomain(models []UserNotificationPrefModel) ([]domain.Preference, error) {
	prefs := make([]domain.Preference, 0, len(models))
	for i := range models {
		pref, err := prefModelToDomain(&models[i])
		if err != nil {
			return nil, err
		}
		prefs = append(prefs, *pref)
	}
	return prefs, nil
}
