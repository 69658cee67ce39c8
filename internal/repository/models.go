package repository

import (
	"fmt"
	"time"

	"github.com/ureca/billing-notifier/internal/domain"
)

// NotificationModel is the persistence model for the notifications table.
// The (bill_id, notification_type) pair is the correlation identity:
// redeliveries of the same billing event land on the same row.
type NotificationModel struct {
	ID           int64          `gorm:"primaryKey;autoIncrement"`
	UserID       int64          `gorm:"not null;index"`
	BillID       int64          `gorm:"not null;uniqueIndex:idx_notifications_bill_type"`
	Channel      domain.Channel `gorm:"column:notification_type;type:varchar(10);not null;uniqueIndex:idx_notifications_bill_type"`
	Status       domain.Status  `gorm:"type:varchar(10);not null;index"`
	Recipient    string         `gorm:"type:varchar(255);not null"`
	Content      string         `gorm:"type:text;not null"`
	RetryCount   int            `gorm:"not null;default:0"`
	Payload      []byte         `gorm:"type:jsonb"`
	ScheduledAt  time.Time      `gorm:"type:timestamptz;not null"`
	SentAt       *time.Time     `gorm:"type:timestamptz"`
	ErrorMessage *string        `gorm:"type:text"`
	CreatedAt    time.Time
}

func (NotificationModel) TableName() string {
	return "notifications"
}

// UserNotificationPrefModel is the persistence model for per-user channel
// preferences. Quiet times are stored as "HH:MM" strings.
type UserNotificationPrefModel struct {
	ID         int64          `gorm:"primaryKey;autoIncrement"`
	UserID     int64          `gorm:"not null;uniqueIndex:idx_user_prefs_user_channel"`
	Channel    domain.Channel `gorm:"type:varchar(10);not null;uniqueIndex:idx_user_prefs_user_channel"`
	Enabled    bool           `gorm:"not null;default:true"`
	Priority   int            `gorm:"not null;default:1"`
	QuietStart *string        `gorm:"type:varchar(5)"`
	QuietEnd   *string        `gorm:"type:varchar(5)"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (UserNotificationPrefModel) TableName() string {
	return "user_notification_prefs"
}

func notificationModelFromDomain(n *domain.Notification) *NotificationModel {
	if n == nil {
		return nil
	}

	return &NotificationModel{
		ID:           n.ID,
		UserID:       n.UserID,
		BillID:       n.BillID,
		Channel:      n.Channel,
		Status:       n.Status,
		Recipient:    n.Recipient,
		Content:      n.Content,
		RetryCount:   n.RetryCount,
		Payload:      n.Payload,
		ScheduledAt:  n.ScheduledAt,
		SentAt:       n.SentAt,
		ErrorMessage: n.ErrorMessage,
		CreatedAt:    n.CreatedAt,
	}
}

func notificationModelToDomain(m *NotificationModel) *domain.Notification {
	if m == nil {
		return nil
	}

	return &domain.Notification{
		ID:           m.ID,
		UserID:       m.UserID,
		BillID:       m.BillID,
		Channel:      m.Channel,
		Status:       m.Status,
		Recipient:    m.Recipient,
		Content:      m.Content,
		RetryCount:   m.RetryCount,
		Payload:      m.Payload,
		ScheduledAt:  m.ScheduledAt,
		SentAt:       m.SentAt,
		ErrorMessage: m.ErrorMessage,
		CreatedAt:    m.CreatedAt,
	}
}

func prefModelFromDomain(p *domain.Preference) *UserNotificationPrefModel {
	if p == nil {
		return nil
	}

	model := &UserNotificationPrefModel{
		ID:        p.ID,
		UserID:    p.UserID,
		Channel:   p.Channel,
		Enabled:   p.Enabled,
		Priority:  p.Priority,
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}
	if p.QuietStart != nil {
		s := p.QuietStart.String()
		model.QuietStart = &s
	}
	if p.QuietEnd != nil {
		e := p.QuietEnd.String()
		model.QuietEnd = &e
	}
	return model
}

func prefModelToDomain(m *UserNotificationPrefModel) (*domain.Preference, error) {
	if m == nil {
		return nil, nil
	}

	pref := &domain.Preference{
		ID:        m.ID,
		UserID:    m.UserID,
		Channel:   m.Channel,
		Enabled:   m.Enabled,
		Priority:  m.Priority,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}

	if m.QuietStart != nil {
		start, err := domain.ParseTimeOfDay(*m.QuietStart)
		if err != nil {
			return nil, fmt.Errorf("stored quiet start for user %d is invalid: %w", m.UserID, err)
		}
		pref.QuietStart = &start
	}
	if m.QuietEnd != nil {
		end, err := domain.ParseTimeOfDay(*m.QuietEnd)
		if err != nil {
			return nil, fmt.Errorf("stored quiet end for user %d is invalid: %w", m.UserID, err)
		}
		pref.QuietEnd = &end
	}

	return pref, nil
}
