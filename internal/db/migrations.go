package db

import (
	"gorm.io/gorm"
)

// RunMigrations runs all database migrations
func RunMigrations(db *DB) error {
	if err := db.AutoMigrate(&InventoryItem{}, &Category{}); err != nil {
		return err
	}

	// Create additional indexes if not exists
	if err := createIndexes(db.DB); err != nil {
		return err
	}

	return nil
}

func createIndexes(db *gorm.DB) error {
	indexes := []string{
		// Low-stock scans only ever look at active rows
		`CREATE INDEX IF NOT EXISTS idx_inventory_low_stock ON inventory_items(available_copies, minimum_stock) WHERE status = 'ACTIVE'`,

		// Subtree walks resolve children by parent_id in name order
		`CREATE INDEX IF NOT EXISTS idx_categories_parent_name ON categories(parent_id, name)`,
	}

	for _, indexSQL := range indexes {
		if err := db.Exec(indexSQL).Error; err != nil {
			return err
		}
	}

	return nil
}
