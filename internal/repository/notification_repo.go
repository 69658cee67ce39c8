package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ureca/billing-notifier/internal/domain"
)

// StatusCount is one row of the per-status summary.
type StatusCount struct {
	Status domain.Status `gorm:"column:status"`
	Count  int64         `gorm:"column:count"`
}

type NotificationRepository interface {
	UpsertBatch(ctx context.Context, notifications []*domain.Notification) error
	GetByID(ctx context.Context, id int64) (*domain.Notification, error)
	GetByBillAndChannel(ctx context.Context, billID int64, channel domain.Channel) (*domain.Notification, error)
	ListFailedForRetry(ctx context.Context, maxRetries, limit int) ([]domain.Notification, error)
	MarkRetry(ctx context.Context, id int64) error
	CountFailedForRetry(ctx context.Context, maxRetries int) (int64, error)
	StatusSummary(ctx context.Context) ([]StatusCount, error)
}

type GormNotificationRepo struct {
	db *gorm.DB
}

func NewGormNotificationRepo(db *gorm.DB) *GormNotificationRepo {
	return &GormNotificationRepo{db: db}
}

// UpsertBatch writes a batch of dispatch outcomes in one statement.
// Conflicts on (bill_id, notification_type) update the existing row in
// place and keep its id and created_at, which makes redeliveries
// idempotent at the database level.
func (r *GormNotificationRepo) UpsertBatch(ctx context.Context, notifications []*domain.Notification) error {
	models := make([]NotificationModel, 0, len(notifications))
	modelIndexes := make([]int, 0, len(notifications))
	for i, n := range notifications {
		model := notificationModelFromDomain(n)
		if model != nil {
			models = append(models, *model)
			modelIndexes = append(modelIndexes, i)
		}
	}

	if len(models) == 0 {
		return nil
	}

	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "bill_id"}, {Name: "notification_type"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"status",
				"recipient",
				"content",
				"retry_count",
				"payload",
				"scheduled_at",
				"sent_at",
				"error_message",
			}),
		}).
		CreateInBatches(&models, 100).Error
	if err != nil {
		return err
	}

	for i := range models {
		idx := modelIndexes[i]
		if idx < len(notifications) && notifications[idx] != nil {
			*notifications[idx] = *notificationModelToDomain(&models[i])
		}
	}

	return nil
}

func (r *GormNotificationRepo) GetByID(ctx context.Context, id int64) (*domain.Notification, error) {
	var model NotificationModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return notificationModelToDomain(&model), nil
}

func (r *GormNotificationRepo) GetByBillAndChannel(ctx context.Context, billID int64, channel domain.Channel) (*domain.Notification, error) {
	var model NotificationModel
	err := r.db.WithContext(ctx).
		Where("bill_id = ? AND notification_type = ?", billID, channel).
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return notificationModelToDomain(&model), nil
}

// ListFailedForRetry returns failed records that still have retry budget
// left, oldest first.
func (r *GormNotificationRepo) ListFailedForRetry(ctx context.Context, maxRetries, limit int) ([]domain.Notification, error) {
	if limit < 1 {
		limit = 100
	}

	var models []NotificationModel
	err := r.db.WithContext(ctx).
		Where("status = ? AND retry_count < ?", domain.StatusFailed, maxRetries).
		Order("created_at ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	notifications := make([]domain.Notification, 0, len(models))
	for i := range models {
		notifications = append(notifications, *notificationModelToDomain(&models[i]))
	}
	return notifications, nil
}

// MarkRetry flips a failed record to RETRY before it is republished, so a
// second scanner pass does not pick it up again.
func (r *GormNotificationRepo) MarkRetry(ctx context.Context, id int64) error {
	result := r.db.WithContext(ctx).
		Model(&NotificationModel{}).
		Where("id = ? AND status = ?", id, domain.StatusFailed).
		Update("status", domain.StatusRetry)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrConflict
	}
	return nil
}

func (r *GormNotificationRepo) CountFailedForRetry(ctx context.Context, maxRetries int) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&NotificationModel{}).
		Where("status = ? AND retry_count < ?", domain.StatusFailed, maxRetries).
		Count(&count).Error
	return count, err
}

func (r *GormNotificationRepo) StatusSummary(ctx context.Context) ([]StatusCount, error) {
	var rows []StatusCount
	err := r.db.WithContext(ctx).
		Model(&NotificationModel{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Order("status ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}
