package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReserve(t *testing.T) {
	c := Counts{Total: 10, Available: 10}

	next, err := Reserve(c, 3)
	require.NoError(t, err)
	assert.Equal(t, int32(7), next.Available)
	assert.Equal(t, int32(3), next.Reserved)
	assert.Equal(t, int32(10), next.Total)
	assert.NoError(t, next.Check())
}

func TestReserveInsufficient(t *testing.T) {
	c := Counts{Total: 3, Available: 3}

	next, err := Reserve(c, 5)
	assert.ErrorIs(t, err, ErrInsufficientAvailable)
	assert.Equal(t, c, next) // Rejected operations leave counts untouched
}

func TestReserveReleaseRoundTrip(t *testing.T) {
	c := Counts{Total: 10, Available: 6, Reserved: 1, Rented: 2, Damaged: 1, Lost: 4}
	require.NoError(t, c.Check())

	held, err := Reserve(c, 4)
	require.NoError(t, err)
	require.NoError(t, held.Check())

	back, err := ReleaseReservation(held, 4)
	require.NoError(t, err)
	assert.Equal(t, c, back)
}

func TestRentRequiresReservation(t *testing.T) {
	c := Counts{Total: 5, Available: 5}

	_, err := Rent(c, 1)
	assert.ErrorIs(t, err, ErrInsufficientReserved)

	held, err := Reserve(c, 2)
	require.NoError(t, err)

	rented, err := Rent(held, 2)
	require.NoError(t, err)
	assert.Equal(t, int32(0), rented.Reserved)
	assert.Equal(t, int32(2), rented.Rented)
	assert.NoError(t, rented.Check())
}

func TestReturnRental(t *testing.T) {
	c := Counts{Total: 5, Available: 2, Rented: 3}

	next, err := ReturnRental(c, 3)
	require.NoError(t, err)
	assert.Equal(t, int32(5), next.Available)
	assert.Equal(t, int32(0), next.Rented)
	assert.NoError(t, next.Check())

	_, err = ReturnRental(next, 1)
	assert.ErrorIs(t, err, ErrInsufficientRented)
}

func TestMarkDamaged(t *testing.T) {
	c := Counts{Total: 4, Available: 4}

	next, err := MarkDamaged(c, 1)
	require.NoError(t, err)
	assert.Equal(t, int32(3), next.Available)
	assert.Equal(t, int32(1), next.Damaged)
	assert.Equal(t, int32(4), next.Total) // Damaged copies stay in the conservation sum
	assert.NoError(t, next.Check())

	_, err = MarkDamaged(next, 4)
	assert.ErrorIs(t, err, ErrInsufficientAvailable)
}

func TestMarkLostConsumesRentedFirst(t *testing.T) {
	c := Counts{Total: 6, Available: 3, Rented: 3}

	next, err := MarkLost(c, 2)
	require.NoError(t, err)
	assert.Equal(t, int32(1), next.Rented)
	assert.Equal(t, int32(3), next.Available)
	assert.Equal(t, int32(2), next.Lost)
	assert.Equal(t, int32(4), next.Total) // Lost copies are written off the total
	assert.NoError(t, next.Check())
}

func TestMarkLostFallsBackToAvailable(t *testing.T) {
	c := Counts{Total: 6, Available: 5, Rented: 1}

	// Rented can't cover 3, available can
	next, err := MarkLost(c, 3)
	require.NoError(t, err)
	assert.Equal(t, int32(1), next.Rented)
	assert.Equal(t, int32(2), next.Available)
	assert.Equal(t, int32(3), next.Lost)
	assert.NoError(t, next.Check())
}

func TestMarkLostInsufficient(t *testing.T) {
	c := Counts{Total: 4, Available: 2, Rented: 2}

	// Neither pool alone covers 3; pools are never combined
	next, err := MarkLost(c, 3)
	assert.ErrorIs(t, err, ErrInsufficientStock)
	assert.Equal(t, c, next)
}

func TestAddStock(t *testing.T) {
	c := Counts{}

	next, err := AddStock(c, 5)
	require.NoError(t, err)
	assert.Equal(t, int32(5), next.Total)
	assert.Equal(t, int32(5), next.Available)
	assert.NoError(t, next.Check())
}

func TestRemoveStockUnencumberedOnly(t *testing.T) {
	c := Counts{Total: 5, Available: 2, Reserved: 2, Rented: 1}

	// Total could cover 3 but the shelf cannot
	_, err := RemoveStock(c, 3)
	assert.ErrorIs(t, err, ErrInsufficientAvailable)

	next, err := RemoveStock(c, 2)
	require.NoError(t, err)
	assert.Equal(t, int32(3), next.Total)
	assert.Equal(t, int32(0), next.Available)
	assert.NoError(t, next.Check())
}

func TestInvalidQuantity(t *testing.T) {
	c := Counts{Total: 5, Available: 3, Reserved: 1, Rented: 1}

	type transition func(Counts, int32) (Counts, error)
	for name, fn := range map[string]transition{
		"reserve":             Reserve,
		"release_reservation": ReleaseReservation,
		"rent":                Rent,
		"return_rental":       ReturnRental,
		"mark_damaged":        MarkDamaged,
		"mark_lost":           MarkLost,
		"add_stock":           AddStock,
		"remove_stock":        RemoveStock,
	} {
		for _, qty := range []int32{0, -1} {
			next, err := fn(c, qty)
			assert.ErrorIs(t, err, ErrInvalidQuantity, "%s(%d)", name, qty)
			assert.Equal(t, c, next, "%s(%d)", name, qty)
		}
	}
}

// Conservation must hold after every step of an arbitrary successful sequence.
func TestConservationAcrossSequence(t *testing.T) {
	c := Counts{}

	steps := []struct {
		name string
		fn   func(Counts) (Counts, error)
	}{
		{"add 10", func(c Counts) (Counts, error) { return AddStock(c, 10) }},
		{"reserve 4", func(c Counts) (Counts, error) { return Reserve(c, 4) }},
		{"rent 3", func(c Counts) (Counts, error) { return Rent(c, 3) }},
		{"release 1", func(c Counts) (Counts, error) { return ReleaseReservation(c, 1) }},
		{"damage 2", func(c Counts) (Counts, error) { return MarkDamaged(c, 2) }},
		{"lose 1", func(c Counts) (Counts, error) { return MarkLost(c, 1) }},
		{"return 2", func(c Counts) (Counts, error) { return ReturnRental(c, 2) }},
		{"remove 2", func(c Counts) (Counts, error) { return RemoveStock(c, 2) }},
		{"add 5", func(c Counts) (Counts, error) { return AddStock(c, 5) }},
	}

	for _, step := range steps {
		next, err := step.fn(c)
		require.NoError(t, err, step.name)
		require.NoError(t, next.Check(), step.name)
		c = next
	}

	assert.Equal(t, int32(10), c.Total)
	assert.Equal(t, int32(1), c.Lost)
	assert.Equal(t, int32(2), c.Damaged)
}

func TestCheckDetectsCorruption(t *testing.T) {
	assert.Error(t, Counts{Total: 5, Available: 3}.Check())
	assert.Error(t, Counts{Total: -1, Available: -1}.Check())
	assert.Error(t, Counts{Total: 0, Lost: -2}.Check())
	assert.NoError(t, Counts{Total: 4, Available: 1, Reserved: 1, Rented: 1, Damaged: 1, Lost: 7}.Check())
}
