package db

import (
	"fmt"

	"github.com/mspsdc/helpdesk/internal/models"
	"gorm.io/gorm"
)

// AllModels returns every GORM model owned by the helpdesk.
func AllModels() []interface{} {
	return []interface{}{
		&models.Exchange{},
	}
}

// AutoMigrate creates or updates all tables.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("db: auto-migrate: %w", err)
	}
	return nil
}
