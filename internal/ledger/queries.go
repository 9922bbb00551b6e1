package ledger

import (
	"context"

	"github.com/bookstore/services/inventory/internal/db"
)

// IsAvailable reports whether copies of the item can currently be reserved
func IsAvailable(item *db.InventoryItem) bool {
	return item.Status == db.StatusActive && item.AvailableCopies > 0
}

// IsLowStock reports whether the shelf count has fallen to or below the minimum
func IsLowStock(item *db.InventoryItem) bool {
	return item.AvailableCopies <= item.MinimumStock
}

// NeedsReorder reports whether the shelf count has fallen to or below the
// reorder level, if one is configured
func NeedsReorder(item *db.InventoryItem) bool {
	return item.ReorderLevel != nil && item.AvailableCopies <= *item.ReorderLevel
}

// Availability is a read-only view of an item's rentable state
type Availability struct {
	BookID          string `json:"book_id"`
	Available       bool   `json:"available"`
	AvailableCopies int32  `json:"available_copies"`
	TotalCopies     int32  `json:"total_copies"`
	LowStock        bool   `json:"low_stock"`
	NeedsReorder    bool   `json:"needs_reorder"`
}

// Availability answers whether a book can be rented right now
func (s *Service) Availability(ctx context.Context, bookID string) (*Availability, error) {
	item, err := s.repo.GetByBookID(ctx, bookID)
	if err != nil {
		return nil, err
	}

	return &Availability{
		BookID:          item.BookID,
		Available:       IsAvailable(item),
		AvailableCopies: item.AvailableCopies,
		TotalCopies:     item.TotalCopies,
		LowStock:        IsLowStock(item),
		NeedsReorder:    NeedsReorder(item),
	}, nil
}
