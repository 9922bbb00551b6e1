package ledger

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidQuantity is returned when an operation receives a non-positive quantity
	ErrInvalidQuantity = errors.New("quantity must be positive")

	// ErrInsufficientAvailable is returned when available copies cannot cover the request
	ErrInsufficientAvailable = errors.New("not enough available copies")

	// ErrInsufficientReserved is returned when reserved copies cannot cover the request
	ErrInsufficientReserved = errors.New("not enough reserved copies")

	// ErrInsufficientRented is returned when rented copies cannot cover the request
	ErrInsufficientRented = errors.New("not enough rented copies")

	// ErrInsufficientStock is returned when neither rented nor available copies cover the request
	ErrInsufficientStock = errors.New("not enough copies in stock")
)

// Counts holds the copy pools of a single inventory item. Values are moved
// between pools by the transition functions below; a Counts value is never
// mutated in place. Total must equal Available + Reserved + Rented + Damaged.
// Lost copies stay on the books but outside that sum: once a copy is written
// off as lost it no longer participates in any transition, so keeping it out
// of the conservation sum keeps Total meaningful as "copies we can account
// for".
type Counts struct {
	Total     int32
	Available int32
	Reserved  int32
	Rented    int32
	Damaged   int32
	Lost      int32
}

// Check verifies the conservation and non-negativity invariants. Every
// transition re-checks its result before it is committed anywhere.
func (c Counts) Check() error {
	if c.Total < 0 || c.Available < 0 || c.Reserved < 0 || c.Rented < 0 || c.Damaged < 0 || c.Lost < 0 {
		return fmt.Errorf("negative pool count: %+v", c)
	}
	if c.Total != c.Available+c.Reserved+c.Rented+c.Damaged {
		return fmt.Errorf("conservation violated: total=%d available=%d reserved=%d rented=%d damaged=%d",
			c.Total, c.Available, c.Reserved, c.Rented, c.Damaged)
	}
	return nil
}

// Reserve places a hold on copies from the shelf.
func Reserve(c Counts, qty int32) (Counts, error) {
	if qty <= 0 {
		return c, ErrInvalidQuantity
	}
	if c.Available < qty {
		return c, ErrInsufficientAvailable
	}
	c.Available -= qty
	c.Reserved += qty
	return c, nil
}

// ReleaseReservation puts held copies back on the shelf.
func ReleaseReservation(c Counts, qty int32) (Counts, error) {
	if qty <= 0 {
		return c, ErrInvalidQuantity
	}
	if c.Reserved < qty {
		return c, ErrInsufficientReserved
	}
	c.Reserved -= qty
	c.Available += qty
	return c, nil
}

// Rent hands held copies to a customer.
func Rent(c Counts, qty int32) (Counts, error) {
	if qty <= 0 {
		return c, ErrInvalidQuantity
	}
	if c.Reserved < qty {
		return c, ErrInsufficientReserved
	}
	c.Reserved -= qty
	c.Rented += qty
	return c, nil
}

// ReturnRental puts rented copies back on the shelf.
func ReturnRental(c Counts, qty int32) (Counts, error) {
	if qty <= 0 {
		return c, ErrInvalidQuantity
	}
	if c.Rented < qty {
		return c, ErrInsufficientRented
	}
	c.Rented -= qty
	c.Available += qty
	return c, nil
}

// MarkDamaged moves shelf copies into the damaged pool.
func MarkDamaged(c Counts, qty int32) (Counts, error) {
	if qty <= 0 {
		return c, ErrInvalidQuantity
	}
	if c.Available < qty {
		return c, ErrInsufficientAvailable
	}
	c.Available -= qty
	c.Damaged += qty
	return c, nil
}

// MarkLost writes copies off as lost. Copies in a customer's hands are the
// usual way things go missing, so the rented pool is consumed first; if it
// cannot cover the quantity the shelf pool is tried instead. Lost copies
// leave the conservation sum, so Total drops with the consumed pool.
func MarkLost(c Counts, qty int32) (Counts, error) {
	if qty <= 0 {
		return c, ErrInvalidQuantity
	}
	switch {
	case c.Rented >= qty:
		c.Rented -= qty
	case c.Available >= qty:
		c.Available -= qty
	default:
		return c, ErrInsufficientStock
	}
	c.Total -= qty
	c.Lost += qty
	return c, nil
}

// AddStock stocks new copies onto the shelf.
func AddStock(c Counts, qty int32) (Counts, error) {
	if qty <= 0 {
		return c, ErrInvalidQuantity
	}
	c.Total += qty
	c.Available += qty
	return c, nil
}

// RemoveStock retires copies from the collection. Removal may only consume
// unencumbered shelf copies; reserved, rented and damaged copies must be
// resolved through their own transitions first.
func RemoveStock(c Counts, qty int32) (Counts, error) {
	if qty <= 0 {
		return c, ErrInvalidQuantity
	}
	if c.Total < qty || c.Available < qty {
		return c, ErrInsufficientAvailable
	}
	c.Total -= qty
	c.Available -= qty
	return c, nil
}
