package db

import (
	"time"

	"gorm.io/gorm"
)

// Inventory item status values. The ledger only distinguishes ACTIVE from
// everything else; the remaining values exist for catalog bookkeeping.
const (
	StatusActive       = "ACTIVE"
	StatusInactive     = "INACTIVE"
	StatusDiscontinued = "DISCONTINUED"
)

// InventoryItem tracks the physical copies of one catalog book. There is at
// most one row per book. TotalCopies must always equal AvailableCopies +
// ReservedCopies + RentedCopies + DamagedCopies; LostCopies stays on the books
// but outside that sum. Version is bumped on every successful mutation and
// checked on save.
type InventoryItem struct {
	ID              int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	BookID          string    `gorm:"type:varchar(50);not null;uniqueIndex:idx_inventory_book_id" json:"book_id"`
	BookISBN        string    `gorm:"type:varchar(13)" json:"book_isbn,omitempty"`
	BookTitle       string    `gorm:"type:varchar(255);not null" json:"book_title"`
	BookAuthor      string    `gorm:"type:varchar(255)" json:"book_author,omitempty"`
	TotalCopies     int32     `gorm:"not null;default:0" json:"total_copies"`
	AvailableCopies int32     `gorm:"not null;default:0" json:"available_copies"`
	ReservedCopies  int32     `gorm:"not null;default:0" json:"reserved_copies"`
	RentedCopies    int32     `gorm:"not null;default:0" json:"rented_copies"`
	DamagedCopies   int32     `gorm:"not null;default:0" json:"damaged_copies"`
	LostCopies      int32     `gorm:"not null;default:0" json:"lost_copies"`
	MinimumStock    int32     `gorm:"not null;default:1" json:"minimum_stock"`
	MaximumStock    *int32    `json:"maximum_stock,omitempty"`
	ReorderLevel    *int32    `json:"reorder_level,omitempty"`
	Status          string    `gorm:"type:varchar(20);not null;default:'ACTIVE';index:idx_inventory_status" json:"status"`
	LocationCode    string    `gorm:"type:varchar(50)" json:"location_code,omitempty"`
	ShelfCode       string    `gorm:"type:varchar(50)" json:"shelf_code,omitempty"`
	Notes           string    `gorm:"type:text" json:"notes,omitempty"`
	CategoryID      *int64    `gorm:"index:idx_inventory_category" json:"category_id,omitempty"`
	CreatedAt       time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt       time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
	Version         int64     `gorm:"not null;default:0" json:"version"`
}

// TableName specifies the table name for InventoryItem model
func (InventoryItem) TableName() string {
	return "inventory_items"
}

// BeforeCreate hook to set timestamps
func (i *InventoryItem) BeforeCreate(tx *gorm.DB) error {
	now := time.Now()
	if i.CreatedAt.IsZero() {
		i.CreatedAt = now
	}
	if i.UpdatedAt.IsZero() {
		i.UpdatedAt = now
	}
	return nil
}

// BeforeUpdate hook to update timestamp
func (i *InventoryItem) BeforeUpdate(tx *gorm.DB) error {
	i.UpdatedAt = time.Now()
	return nil
}

// Category is one node of the category tree. The tree is kept as a flat table:
// ParentID is a plain foreign key and children are found by querying it, so no
// row ever holds an object reference to another row.
type Category struct {
	ID          int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Name        string    `gorm:"type:varchar(100);not null;uniqueIndex:idx_categories_name" json:"name"`
	Slug        string    `gorm:"type:varchar(100);not null;uniqueIndex:idx_categories_slug" json:"slug"`
	Description string    `gorm:"type:text" json:"description,omitempty"`
	ParentID    *int64    `gorm:"index:idx_categories_parent" json:"parent_id,omitempty"`
	CreatedAt   time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt   time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName specifies the table name for Category model
func (Category) TableName() string {
	return "categories"
}

// BeforeCreate hook to set timestamps
func (c *Category) BeforeCreate(tx *gorm.DB) error {
	now := time.Now()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = now
	}
	return nil
}

// BeforeUpdate hook to update timestamp
func (c *Category) BeforeUpdate(tx *gorm.DB) error {
	c.UpdatedAt = time.Now()
	return nil
}
