package ledger

import (
	"context"
	"errors"

	"github.com/bookstore/services/inventory/internal/db"
	"github.com/bookstore/services/inventory/internal/metrics"
	"github.com/bookstore/services/inventory/internal/repo"
	"go.uber.org/zap"
)

// ErrMaxStockExceeded is returned when adding stock would pass the item's configured maximum
var ErrMaxStockExceeded = errors.New("maximum stock exceeded")

// Service exposes the pool transitions of the ledger against persisted
// inventory items. Every operation is a single read-check-write: the item is
// loaded, the pure transition applied, the invariants re-checked, and the
// result saved under the version read at the start. A concurrent writer makes
// the save fail with repo.ErrVersionConflict and leaves the row untouched;
// retrying is the caller's decision.
type Service struct {
	repo *repo.InventoryRepository
	log  *zap.Logger
}

// NewService creates a new ledger service
func NewService(repository *repo.InventoryRepository, logger *zap.Logger) *Service {
	return &Service{
		repo: repository,
		log:  logger,
	}
}

// CreateItemParams describes a book entering inventory tracking
type CreateItemParams struct {
	BookID        string
	BookISBN      string
	BookTitle     string
	BookAuthor    string
	CategoryID    *int64
	InitialCopies int32
	MinimumStock  int32
	MaximumStock  *int32
	ReorderLevel  *int32
	LocationCode  string
	ShelfCode     string
}

// CreateItem starts tracking copies for a book. A book gets exactly one
// inventory item; creating a second one fails with repo.ErrItemAlreadyExists.
func (s *Service) CreateItem(ctx context.Context, params CreateItemParams) (*db.InventoryItem, error) {
	if params.InitialCopies < 0 {
		return nil, ErrInvalidQuantity
	}

	minStock := params.MinimumStock
	if minStock <= 0 {
		minStock = 1
	}

	item := &db.InventoryItem{
		BookID:          params.BookID,
		BookISBN:        params.BookISBN,
		BookTitle:       params.BookTitle,
		BookAuthor:      params.BookAuthor,
		CategoryID:      params.CategoryID,
		TotalCopies:     params.InitialCopies,
		AvailableCopies: params.InitialCopies,
		MinimumStock:    minStock,
		MaximumStock:    params.MaximumStock,
		ReorderLevel:    params.ReorderLevel,
		Status:          db.StatusActive,
		LocationCode:    params.LocationCode,
		ShelfCode:       params.ShelfCode,
	}

	if err := s.repo.Create(ctx, item); err != nil {
		return nil, err
	}

	return item, nil
}

// GetItem returns the current inventory snapshot for a book
func (s *Service) GetItem(ctx context.Context, bookID string) (*db.InventoryItem, error) {
	return s.repo.GetByBookID(ctx, bookID)
}

// Reserve places a hold on copies of a book
func (s *Service) Reserve(ctx context.Context, bookID string, qty int32) (*db.InventoryItem, error) {
	return s.apply(ctx, bookID, "reserve", func(item *db.InventoryItem, c Counts) (Counts, error) {
		return Reserve(c, qty)
	})
}

// ReleaseReservation returns held copies to the shelf
func (s *Service) ReleaseReservation(ctx context.Context, bookID string, qty int32) (*db.InventoryItem, error) {
	return s.apply(ctx, bookID, "release_reservation", func(item *db.InventoryItem, c Counts) (Counts, error) {
		return ReleaseReservation(c, qty)
	})
}

// Rent converts held copies into rented copies
func (s *Service) Rent(ctx context.Context, bookID string, qty int32) (*db.InventoryItem, error) {
	return s.apply(ctx, bookID, "rent", func(item *db.InventoryItem, c Counts) (Counts, error) {
		return Rent(c, qty)
	})
}

// RentFromShelf handles a walk-in rental with no prior hold: the reserve and
// rent transitions are composed into one commit, so a failure partway cannot
// leave a stray reservation behind.
func (s *Service) RentFromShelf(ctx context.Context, bookID string, qty int32) (*db.InventoryItem, error) {
	return s.apply(ctx, bookID, "rent_from_shelf", func(item *db.InventoryItem, c Counts) (Counts, error) {
		held, err := Reserve(c, qty)
		if err != nil {
			return c, err
		}
		return Rent(held, qty)
	})
}

// ReturnRental puts rented copies back on the shelf
func (s *Service) ReturnRental(ctx context.Context, bookID string, qty int32) (*db.InventoryItem, error) {
	return s.apply(ctx, bookID, "return_rental", func(item *db.InventoryItem, c Counts) (Counts, error) {
		return ReturnRental(c, qty)
	})
}

// MarkDamaged moves shelf copies into the damaged pool
func (s *Service) MarkDamaged(ctx context.Context, bookID string, qty int32) (*db.InventoryItem, error) {
	return s.apply(ctx, bookID, "mark_damaged", func(item *db.InventoryItem, c Counts) (Counts, error) {
		return MarkDamaged(c, qty)
	})
}

// MarkLost writes copies off as lost, consuming rented copies first
func (s *Service) MarkLost(ctx context.Context, bookID string, qty int32) (*db.InventoryItem, error) {
	return s.apply(ctx, bookID, "mark_lost", func(item *db.InventoryItem, c Counts) (Counts, error) {
		return MarkLost(c, qty)
	})
}

// AddStock stocks new copies, honouring the item's configured maximum
func (s *Service) AddStock(ctx context.Context, bookID string, qty int32) (*db.InventoryItem, error) {
	return s.apply(ctx, bookID, "add_stock", func(item *db.InventoryItem, c Counts) (Counts, error) {
		next, err := AddStock(c, qty)
		if err != nil {
			return c, err
		}
		if item.MaximumStock != nil && next.Total > *item.MaximumStock {
			return c, ErrMaxStockExceeded
		}
		return next, nil
	})
}

// RemoveStock retires unencumbered shelf copies from the collection
func (s *Service) RemoveStock(ctx context.Context, bookID string, qty int32) (*db.InventoryItem, error) {
	return s.apply(ctx, bookID, "remove_stock", func(item *db.InventoryItem, c Counts) (Counts, error) {
		return RemoveStock(c, qty)
	})
}

// Deactivate takes an item out of circulation without deleting it. The row
// stays because rental history still references the book.
func (s *Service) Deactivate(ctx context.Context, bookID string) (*db.InventoryItem, error) {
	item, err := s.repo.GetByBookID(ctx, bookID)
	if err != nil {
		return nil, err
	}

	item.Status = db.StatusInactive
	if err := s.repo.Save(ctx, item, item.Version); err != nil {
		if errors.Is(err, repo.ErrVersionConflict) {
			metrics.VersionConflicts.Inc()
		}
		return nil, err
	}

	s.log.Info("Inventory item deactivated", zap.String("book_id", bookID))
	return item, nil
}

func (s *Service) apply(ctx context.Context, bookID, op string, fn func(*db.InventoryItem, Counts) (Counts, error)) (*db.InventoryItem, error) {
	item, err := s.repo.GetByBookID(ctx, bookID)
	if err != nil {
		metrics.Operations.WithLabelValues(op, "not_found").Inc()
		return nil, err
	}

	counts := countsOf(item)
	next, err := fn(item, counts)
	if err != nil {
		metrics.Operations.WithLabelValues(op, "rejected").Inc()
		return nil, err
	}

	if err := next.Check(); err != nil {
		// A failed invariant here means a transition bug, not bad input
		s.log.Error("Invariant check failed", zap.String("book_id", bookID), zap.String("operation", op), zap.Error(err))
		metrics.Operations.WithLabelValues(op, "error").Inc()
		return nil, err
	}

	setCounts(item, next)
	if err := s.repo.Save(ctx, item, item.Version); err != nil {
		if errors.Is(err, repo.ErrVersionConflict) {
			metrics.VersionConflicts.Inc()
			metrics.Operations.WithLabelValues(op, "conflict").Inc()
		} else {
			metrics.Operations.WithLabelValues(op, "error").Inc()
		}
		return nil, err
	}

	metrics.Operations.WithLabelValues(op, "ok").Inc()
	s.log.Info("Ledger operation committed",
		zap.String("book_id", bookID),
		zap.String("operation", op),
		zap.Int32("available", item.AvailableCopies),
		zap.Int32("reserved", item.ReservedCopies),
		zap.Int32("rented", item.RentedCopies),
		zap.Int64("version", item.Version),
	)

	if IsLowStock(item) {
		s.log.Warn("Item is low on stock",
			zap.String("book_id", bookID),
			zap.Int32("available", item.AvailableCopies),
			zap.Int32("minimum_stock", item.MinimumStock),
		)
	}

	return item, nil
}

func countsOf(item *db.InventoryItem) Counts {
	return Counts{
		Total:     item.TotalCopies,
		Available: item.AvailableCopies,
		Reserved:  item.ReservedCopies,
		Rented:    item.RentedCopies,
		Damaged:   item.DamagedCopies,
		Lost:      item.LostCopies,
	}
}

func setCounts(item *db.InventoryItem, c Counts) {
	item.TotalCopies = c.Total
	item.AvailableCopies = c.Available
	item.ReservedCopies = c.Reserved
	item.RentedCopies = c.Rented
	item.DamagedCopies = c.Damaged
	item.LostCopies = c.Lost
}
