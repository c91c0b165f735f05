package settlement

import (
	"errors"
	"fmt"
	"time"
)

// Mode selects how a settlement call picks batches.
type Mode string

const (
	// ModeFull delivers everything still owed, batches chosen FIFO.
	ModeFull Mode = "FULL"
	// ModeManual delivers caller-chosen (batch, quantity) pairs.
	ModeManual Mode = "MANUAL"
)

// Delivery is one settlement event against an invoice. Append-only.
type Delivery struct {
	ID        int64
	InvoiceID int64
	Mode      Mode
	ActorID   int64
	CreatedAt time.Time
	Items     []DeliveryItem
}

// DeliveryItem records what one invoice line actually received in this
// event: the increment delivered now, not the line's full ordered quantity.
type DeliveryItem struct {
	ID           int64
	DeliveryID   int64
	LineID       int64
	ItemID       int64
	Quantity     float64
	GiftItemID   int64
	GiftQuantity float64
	Batches      []DeliveryBatch
}

// DeliveryBatch records exactly which batch supplied how much of a
// delivery item. Gift rows are flagged so owed recomputation can split
// main and gift consumption.
type DeliveryBatch struct {
	ID             int64
	DeliveryItemID int64
	BatchID        int64
	Quantity       float64
	Gift           bool
}

// OwedLine is the remaining undelivered quantity of one invoice line.
type OwedLine struct {
	LineID       int64
	ItemID       int64
	Quantity     float64
	GiftItemID   int64
	GiftQuantity float64
}

// Outstanding reports whether anything is still owed on the line.
func (o OwedLine) Outstanding() bool {
	return o.Quantity > quantityEpsilon || o.GiftQuantity > quantityEpsilon
}

// quantityEpsilon absorbs float accumulation noise when comparing owed
// quantities against zero.
const quantityEpsilon = 1e-9

// ManualAllocation is a caller-chosen consumption of one batch.
type ManualAllocation struct {
	BatchID  int64
	Quantity float64
	// Gift marks the allocation as settling the line's gift owed
	// instead of the main owed.
	Gift bool
}

// ManualLine carries the explicit allocations for one invoice line.
type ManualLine struct {
	LineID      int64
	Allocations []ManualAllocation
}

// InvalidBatchReferenceError reports a manual allocation naming a batch
// that does not belong to the expected cell or lacks the quantity.
type InvalidBatchReferenceError struct {
	BatchID     int64
	WarehouseID int64
	ItemID      int64
	Reason      string
}

func (e *InvalidBatchReferenceError) Error() string {
	return fmt.Sprintf("settlement: batch %d invalid for item %d in warehouse %d: %s",
		e.BatchID, e.ItemID, e.WarehouseID, e.Reason)
}

// ErrAlreadySettled indicates an invoice with zero remaining owed quantity.
var ErrAlreadySettled = errors.New("settlement: invoice already fully delivered")

// ErrPaymentNotConfirmed indicates the payment gate is still unset.
var ErrPaymentNotConfirmed = errors.New("settlement: payment not confirmed")

// ErrEmptyManualRequest indicates a manual call without any allocation.
var ErrEmptyManualRequest = errors.New("settlement: manual settlement needs at least one allocation")

// ErrLineNotFound indicates a manual line referencing no invoice line.
var ErrLineNotFound = errors.New("settlement: invoice line not found")

// ErrOverDelivery indicates allocations exceeding the remaining owed quantity.
var ErrOverDelivery = errors.New("settlement: allocation exceeds remaining owed quantity")

// ErrDeliveryNotFound indicates a lookup for an unknown delivery event.
var ErrDeliveryNotFound = errors.New("settlement: delivery not found")
