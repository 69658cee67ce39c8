package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"

	"github.com/ureca/billing-notifier/internal/repository"
)

func createUserNotificationPrefsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000002_create_user_notification_prefs",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.UserNotificationPrefModel{}); err != nil {
				return err
			}
			return tx.Exec(`CREATE INDEX IF NOT EXISTS idx_user_prefs_user_id ON user_notification_prefs (user_id)`).Error
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.UserNotificationPrefModel{})
		},
	}
}
