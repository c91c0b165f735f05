package inventory

import (
	"errors"
	"fmt"
	"time"
)

// DriftEpsilon is the tolerance for comparing the aggregate stock view
// against the sum of batch quantities.
const DriftEpsilon = 0.01

// Batch is one physical receipt lot. Quantity only ever decreases after
// creation; rows are retained at zero so the delivery audit trail keeps
// valid references.
type Batch struct {
	ID          int64
	WarehouseID int64
	ItemID      int64
	ReceivedAt  time.Time
	// ExpiresAt nil means the lot never expires and is consumed last.
	ExpiresAt *time.Time
	Quantity  float64
	CreatedAt time.Time
}

// StockLevel is the denormalised total quantity per (warehouse, item).
// It is a derived cache over the batch store, relied on for fast
// availability checks; it must only change in the same transaction as the
// batch mutation it mirrors.
type StockLevel struct {
	WarehouseID int64
	ItemID      int64
	Quantity    float64
	UpdatedAt   time.Time
}

// Allocation records how much one batch contributes to a consumption plan.
type Allocation struct {
	BatchID  int64
	Quantity float64
}

// ReceiveInput describes a procurement receipt posting.
type ReceiveInput struct {
	Code        string
	WarehouseID int64
	ItemID      int64
	Quantity    float64
	ReceivedAt  time.Time
	ExpiresAt   *time.Time
	// Gift receipts are tracked on the gift accumulator of the ledger.
	Gift    bool
	Note    string
	ActorID int64
}

// DriftReport flags one stock cell whose aggregate diverged from batch truth.
type DriftReport struct {
	WarehouseID int64
	ItemID      int64
	Aggregate   float64
	BatchSum    float64
}

// Drift returns aggregate minus batch sum.
func (d DriftReport) Drift() float64 {
	return d.Aggregate - d.BatchSum
}

// InsufficientStockError reports that available batch quantity cannot cover
// a requested consumption. No batch is mutated when it is returned.
type InsufficientStockError struct {
	WarehouseID int64
	ItemID      int64
	Required    float64
	Available   float64
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("inventory: insufficient stock for item %d in warehouse %d: need %.2f, have %.2f",
		e.ItemID, e.WarehouseID, e.Required, e.Available)
}

// Shortfall is the missing quantity.
func (e *InsufficientStockError) Shortfall() float64 {
	return e.Required - e.Available
}

// ErrInvalidQuantity indicates a non-positive quantity.
var ErrInvalidQuantity = errors.New("inventory: quantity must be positive")

// ErrBatchNotFound indicates a missing batch row.
var ErrBatchNotFound = errors.New("inventory: batch not found")

// ErrBatchDrained indicates a batch whose remainder no longer covers the
// requested decrement, typically because a concurrent settlement consumed it.
var ErrBatchDrained = errors.New("inventory: batch quantity insufficient")

// ErrStockLevelNotFound indicates a missing aggregate row.
var ErrStockLevelNotFound = errors.New("inventory: stock level not found")
