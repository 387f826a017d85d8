package database

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/taskhive/taskhive/internal/models"
)

// AutoMigrate creates or updates the database schema for all models.
func AutoMigrate(db *gorm.DB) error {
	if db == nil {
		return errors.New("nil database handle")
	}

	if err := db.AutoMigrate(
		&models.Company{},
		&models.User{},
		&models.RefreshToken{},
		&models.PasswordResetToken{},
		&models.TokenBlacklist{},
		&models.AuditLog{},
		&models.CacheEntry{},
	); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return ensureLiveEmailIndex(db)
}

// LiveEmailIndex keeps email addresses unique among users that are not soft deleted.
const LiveEmailIndex = "idx_users_email_live"

func ensureLiveEmailIndex(db *gorm.DB) error {
	if db.Migrator().HasIndex(&models.User{}, LiveEmailIndex) {
		return nil
	}

	stmt := "CREATE UNIQUE INDEX " + LiveEmailIndex + " ON users (email) WHERE deleted_at IS NULL"
	if db.Dialector.Name() == "mysql" {
		// MySQL has no partial indexes; a deleted user's address stays reserved.
		stmt = "CREATE UNIQUE INDEX " + LiveEmailIndex + " ON users (email)"
	}
	if err := db.Exec(stmt).Error; err != nil {
		return fmt.Errorf("create %s: %w", LiveEmailIndex, err)
	}
	return nil
}
