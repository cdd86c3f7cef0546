package db

import (
	"fmt"

	"github.com/uhcops/changebot/internal/models"
	"gorm.io/gorm"
)

// AllModels returns every GORM model for migration.
func AllModels() []interface{} {
	return []interface{}{
		&models.Thread{},
		&models.Cart{},
		&models.Order{},
		&models.OrderItem{},
		&models.OrderSupplier{},
		&models.Reminder{},
		&models.ForumPost{},
		&models.MessageLink{},
		&models.SupplierCacheEntry{},
	}
}

// AutoMigrate creates or updates all tables.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("db: auto-migrate: %w", err)
	}
	return nil
}
