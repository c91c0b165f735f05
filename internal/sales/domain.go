package sales

import (
	"errors"
	"time"
)

// DeliveryStatus tracks how much of an invoice has been physically delivered.
type DeliveryStatus string

const (
	DeliveryStatusNotDelivered DeliveryStatus = "NOT_DELIVERED"
	DeliveryStatusPartial      DeliveryStatus = "PARTIAL"
	DeliveryStatusDelivered    DeliveryStatus = "DELIVERED"
)

// GiftKind tags the gift variant of an invoice line. A line carries at most
// one gift: none, extra units of the line's own item, or units of a distinct
// item settled against that item's own stock.
type GiftKind string

const (
	GiftNone         GiftKind = "NONE"
	GiftSameItem     GiftKind = "SAME_ITEM"
	GiftDistinctItem GiftKind = "DISTINCT_ITEM"
)

// Invoice is a customer order. The settlement engine reads it to compute
// owed quantities; payment confirmation is set by the accounting
// collaborator before any delivery may settle.
type Invoice struct {
	ID               int64
	Code             string
	CustomerID       int64
	WarehouseID      int64
	PaymentConfirmed bool
	DeliveryStatus   DeliveryStatus
	IssuedAt         time.Time
	CreatedAt        time.Time
	Lines            []InvoiceLine
}

// InvoiceLine is one ordered item with an optional gift variant.
type InvoiceLine struct {
	ID        int64
	InvoiceID int64
	ItemID    int64
	Quantity  float64
	UnitPrice float64
	GiftKind  GiftKind
	// GiftItemID is set only for GiftDistinctItem.
	GiftItemID   int64
	GiftQuantity float64
}

// GiftTargetItem returns the item whose stock a line's gift consumes.
// Zero means the line carries no gift.
func (l InvoiceLine) GiftTargetItem() int64 {
	switch l.GiftKind {
	case GiftSameItem:
		return l.ItemID
	case GiftDistinctItem:
		return l.GiftItemID
	default:
		return 0
	}
}

// Validate checks structural consistency of a line's gift variant.
func (l InvoiceLine) Validate() error {
	if l.Quantity <= 0 {
		return ErrInvalidLine
	}
	switch l.GiftKind {
	case GiftNone, "":
		if l.GiftQuantity != 0 || l.GiftItemID != 0 {
			return ErrInvalidLine
		}
	case GiftSameItem:
		if l.GiftQuantity <= 0 || l.GiftItemID != 0 {
			return ErrInvalidLine
		}
	case GiftDistinctItem:
		if l.GiftQuantity <= 0 || l.GiftItemID == 0 {
			return ErrInvalidLine
		}
	default:
		return ErrInvalidLine
	}
	return nil
}

// Total returns the monetary total of the invoice. Gifts are free.
func (inv Invoice) Total() float64 {
	var total float64
	for _, l := range inv.Lines {
		total += l.Quantity * l.UnitPrice
	}
	return total
}

// ErrInvoiceNotFound indicates a missing invoice.
var ErrInvoiceNotFound = errors.New("sales: invoice not found")

// ErrInvalidLine indicates a malformed invoice line or gift variant.
var ErrInvalidLine = errors.New("sales: invalid invoice line")

// ErrPaymentAlreadyConfirmed indicates a repeated confirmation.
var ErrPaymentAlreadyConfirmed = errors.New("sales: payment already confirmed")
