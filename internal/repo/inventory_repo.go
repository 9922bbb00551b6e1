package repo

import (
	"context"
	"errors"
	"time"

	"github.com/bookstore/services/inventory/internal/db"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	// ErrItemNotFound is returned when an inventory item is not found
	ErrItemNotFound = errors.New("inventory item not found")

	// ErrItemAlreadyExists is returned when an item for the book already exists
	ErrItemAlreadyExists = errors.New("inventory item already exists")

	// ErrVersionConflict is returned when a save loses the optimistic-concurrency race
	ErrVersionConflict = errors.New("inventory item was modified concurrently")
)

// InventoryRepository persists inventory items. Saves are guarded by the
// item's version column: an update only lands if the stored version still
// matches the version the caller read, otherwise ErrVersionConflict is
// returned and the caller must re-read and retry.
type InventoryRepository struct {
	db  *db.DB
	log *zap.Logger
}

// NewInventoryRepository creates a new inventory repository
func NewInventoryRepository(database *db.DB, logger *zap.Logger) *InventoryRepository {
	return &InventoryRepository{
		db:  database,
		log: logger,
	}
}

// GetByBookID retrieves the inventory item tracking the given book
func (r *InventoryRepository) GetByBookID(ctx context.Context, bookID string) (*db.InventoryItem, error) {
	var item db.InventoryItem
	err := r.db.WithContext(ctx).Where("book_id = ?", bookID).First(&item).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrItemNotFound
		}
		r.log.Error("Failed to get inventory item", zap.String("book_id", bookID), zap.Error(err))
		return nil, err
	}

	return &item, nil
}

// Create inserts the inventory item for a book that just entered tracking.
// Each book gets exactly one item, created once.
func (r *InventoryRepository) Create(ctx context.Context, item *db.InventoryItem) error {
	var existing db.InventoryItem
	err := r.db.WithContext(ctx).Where("book_id = ?", item.BookID).First(&existing).Error
	if err == nil {
		return ErrItemAlreadyExists
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		r.log.Error("Failed to check item existence", zap.String("book_id", item.BookID), zap.Error(err))
		return err
	}

	if err := r.db.WithContext(ctx).Create(item).Error; err != nil {
		r.log.Error("Failed to create inventory item", zap.String("book_id", item.BookID), zap.Error(err))
		return err
	}

	r.log.Info("Inventory item created", zap.String("book_id", item.BookID), zap.String("title", item.BookTitle))
	return nil
}

// Save commits a mutated item if and only if the stored row still carries
// expectedVersion. On success the item's Version is advanced to the committed
// value.
func (r *InventoryRepository) Save(ctx context.Context, item *db.InventoryItem, expectedVersion int64) error {
	updates := map[string]interface{}{
		"total_copies":     item.TotalCopies,
		"available_copies": item.AvailableCopies,
		"reserved_copies":  item.ReservedCopies,
		"rented_copies":    item.RentedCopies,
		"damaged_copies":   item.DamagedCopies,
		"lost_copies":      item.LostCopies,
		"minimum_stock":    item.MinimumStock,
		"maximum_stock":    item.MaximumStock,
		"reorder_level":    item.ReorderLevel,
		"status":           item.Status,
		"category_id":      item.CategoryID,
		"version":          expectedVersion + 1,
		"updated_at":       time.Now(),
	}

	result := r.db.WithContext(ctx).Model(&db.InventoryItem{}).
		Where("id = ? AND version = ?", item.ID, expectedVersion).
		Updates(updates)
	if result.Error != nil {
		r.log.Error("Failed to save inventory item", zap.String("book_id", item.BookID), zap.Error(result.Error))
		return result.Error
	}

	if result.RowsAffected == 0 {
		// Either the row is gone or someone else committed first
		var count int64
		if err := r.db.WithContext(ctx).Model(&db.InventoryItem{}).Where("id = ?", item.ID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return ErrItemNotFound
		}
		return ErrVersionConflict
	}

	item.Version = expectedVersion + 1
	return nil
}

// ListLowStock returns active items whose shelf count has fallen to or below
// their configured minimum.
func (r *InventoryRepository) ListLowStock(ctx context.Context) ([]*db.InventoryItem, error) {
	var items []*db.InventoryItem
	err := r.db.WithContext(ctx).
		Where("status = ? AND available_copies <= minimum_stock", db.StatusActive).
		Order("book_id").
		Find(&items).Error
	if err != nil {
		r.log.Error("Failed to list low-stock items", zap.Error(err))
		return nil, err
	}
	return items, nil
}

// CountByCategory returns how many inventory items are linked to a category.
// The category tree's delete guard consults this.
func (r *InventoryRepository) CountByCategory(ctx context.Context, categoryID int64) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&db.InventoryItem{}).
		Where("category_id = ?", categoryID).
		Count(&count).Error
	if err != nil {
		r.log.Error("Failed to count items in category", zap.Int64("category_id", categoryID), zap.Error(err))
		return 0, err
	}
	return count, nil
}

// GetStats returns inventory statistics for metrics
func (r *InventoryRepository) GetStats(ctx context.Context) (total, active int64, err error) {
	if err := r.db.WithContext(ctx).Model(&db.InventoryItem{}).Count(&total).Error; err != nil {
		return 0, 0, err
	}

	if err := r.db.WithContext(ctx).Model(&db.InventoryItem{}).Where("status = ?", db.StatusActive).Count(&active).Error; err != nil {
		return 0, 0, err
	}

	return total, active, nil
}
