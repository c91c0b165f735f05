package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/meridian-erp/meridian-erp/internal/inventory"
	"github.com/meridian-erp/meridian-erp/internal/ledger"
	"github.com/meridian-erp/meridian-erp/internal/sales"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// DeliveredTotal sums what prior settlement events already delivered for
// one invoice line.
type DeliveredTotal struct {
	Quantity     float64
	GiftQuantity float64
}

// TxRepository exposes the transactional operations one settlement needs.
// Batch and aggregate mutations run in the same transaction as the
// delivery records and the invoice status update.
type TxRepository interface {
	GetInvoiceForUpdate(ctx context.Context, invoiceID int64) (sales.Invoice, error)
	DeliveredTotals(ctx context.Context, invoiceID int64) (map[int64]DeliveredTotal, error)
	ListOpenBatchesForUpdate(ctx context.Context, warehouseID, itemID int64) ([]inventory.Batch, error)
	GetBatchForUpdate(ctx context.Context, batchID int64) (inventory.Batch, error)
	DecrementBatch(ctx context.Context, batchID int64, qty float64) error
	AdjustStockLevel(ctx context.Context, warehouseID, itemID int64, delta float64) error
	InsertDelivery(ctx context.Context, d *Delivery) error
	SetDeliveryStatus(ctx context.Context, invoiceID int64, status sales.DeliveryStatus) error
}

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	ListDeliveries(ctx context.Context, invoiceID int64) ([]Delivery, error)
	GetDelivery(ctx context.Context, deliveryID int64) (Delivery, error)
}

// LedgerPort records stock movements after a settlement commits.
type LedgerPort interface {
	RecordMovement(ctx context.Context, warehouseID, itemID int64, day time.Time, delta ledger.Delta) (ledger.Movement, error)
}

// LockPort serializes settlement per invoice across processes.
type LockPort interface {
	Acquire(ctx context.Context, key string) (shared.Release, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// MetricsPort counts settlement outcomes.
type MetricsPort interface {
	CountSettlement(mode, outcome string)
}

// Service is the delivery settlement orchestrator. Every settlement call
// runs under a per-invoice lock and a single transaction covering batch
// decrements, the aggregate update, the delivery audit trail, and the
// invoice status; ledger movements are recorded once the transaction has
// committed.
type Service struct {
	repo    RepositoryPort
	ledger  LedgerPort
	locker  LockPort
	audit   AuditPort
	periods shared.PeriodPort
	metrics MetricsPort
	logger  *slog.Logger
}

// NewService builds Service.
func NewService(repo RepositoryPort, ledgerPort LedgerPort, locker LockPort, audit AuditPort, periods shared.PeriodPort, metrics MetricsPort, logger *slog.Logger) *Service {
	return &Service{
		repo:    repo,
		ledger:  ledgerPort,
		locker:  locker,
		audit:   audit,
		periods: periods,
		metrics: metrics,
		logger:  logger,
	}
}

// itemTotals accumulates one settlement event's consumption per item, split
// into main and gift quantities so the ledger movements stay separate.
type itemTotals struct {
	main float64
	gift float64
}

// computeOwed subtracts delivered history from ordered quantities.
func computeOwed(inv sales.Invoice, delivered map[int64]DeliveredTotal) []OwedLine {
	owed := make([]OwedLine, 0, len(inv.Lines))
	for _, line := range inv.Lines {
		prior := delivered[line.ID]
		o := OwedLine{
			LineID:   line.ID,
			ItemID:   line.ItemID,
			Quantity: line.Quantity - prior.Quantity,
		}
		if target := line.GiftTargetItem(); target != 0 {
			o.GiftItemID = target
			o.GiftQuantity = line.GiftQuantity - prior.GiftQuantity
		}
		if o.Quantity < 0 {
			o.Quantity = 0
		}
		if o.GiftQuantity < 0 {
			o.GiftQuantity = 0
		}
		owed = append(owed, o)
	}
	return owed
}

func anyOutstanding(owed []OwedLine) bool {
	for _, o := range owed {
		if o.Outstanding() {
			return true
		}
	}
	return false
}

func (s *Service) acquireInvoiceLock(ctx context.Context, invoiceID int64) (shared.Release, error) {
	if s.locker == nil {
		return func() {}, nil
	}
	return s.locker.Acquire(ctx, shared.SettlementLockKey(invoiceID))
}

func (s *Service) checkPeriodOpen(ctx context.Context, at time.Time) error {
	if s.periods == nil {
		return nil
	}
	open, err := s.periods.IsOpen(ctx, at)
	if err != nil {
		return err
	}
	if !open {
		return shared.ErrPeriodClosed
	}
	return nil
}

func (s *Service) countOutcome(mode Mode, err error, status sales.DeliveryStatus) {
	if s.metrics == nil {
		return
	}
	switch {
	case err != nil:
		s.metrics.CountSettlement(string(mode), "rejected")
	case status == sales.DeliveryStatusDelivered:
		s.metrics.CountSettlement(string(mode), "delivered")
	default:
		s.metrics.CountSettlement(string(mode), "partial")
	}
}

// SettleFull delivers everything still owed on the invoice, choosing
// batches FIFO per item. Gift owed settles against the gift target item's
// own batches and aggregate, independently of the main allocation.
func (s *Service) SettleFull(ctx context.Context, invoiceID int64, actorID int64) (Delivery, error) {
	now := time.Now().UTC()
	if err := s.checkPeriodOpen(ctx, now); err != nil {
		return Delivery{}, err
	}
	release, err := s.acquireInvoiceLock(ctx, invoiceID)
	if err != nil {
		return Delivery{}, err
	}
	defer release()

	var (
		delivery Delivery
		totals   map[int64]*itemTotals
		status   sales.DeliveryStatus
		inv      sales.Invoice
	)
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		inv, err = tx.GetInvoiceForUpdate(ctx, invoiceID)
		if err != nil {
			return err
		}
		if !inv.PaymentConfirmed {
			return ErrPaymentNotConfirmed
		}
		delivered, err := tx.DeliveredTotals(ctx, invoiceID)
		if err != nil {
			return err
		}
		owed := computeOwed(inv, delivered)
		if !anyOutstanding(owed) {
			return ErrAlreadySettled
		}

		delivery = Delivery{InvoiceID: invoiceID, Mode: ModeFull, ActorID: actorID}
		totals = map[int64]*itemTotals{}
		for _, o := range owed {
			if !o.Outstanding() {
				continue
			}
			item := DeliveryItem{LineID: o.LineID, ItemID: o.ItemID}
			if o.Quantity > quantityEpsilon {
				batches, err := tx.ListOpenBatchesForUpdate(ctx, inv.WarehouseID, o.ItemID)
				if err != nil {
					return err
				}
				plan, err := inventory.PlanAllocation(inv.WarehouseID, o.ItemID, batches, o.Quantity)
				if err != nil {
					return err
				}
				for _, alloc := range plan {
					if err := tx.DecrementBatch(ctx, alloc.BatchID, alloc.Quantity); err != nil {
						return err
					}
					item.Batches = append(item.Batches, DeliveryBatch{BatchID: alloc.BatchID, Quantity: alloc.Quantity})
				}
				item.Quantity = o.Quantity
				accumulate(totals, o.ItemID).main += o.Quantity
			}
			if o.GiftQuantity > quantityEpsilon {
				batches, err := tx.ListOpenBatchesForUpdate(ctx, inv.WarehouseID, o.GiftItemID)
				if err != nil {
					return err
				}
				plan, err := inventory.PlanAllocation(inv.WarehouseID, o.GiftItemID, batches, o.GiftQuantity)
				if err != nil {
					return err
				}
				for _, alloc := range plan {
					if err := tx.DecrementBatch(ctx, alloc.BatchID, alloc.Quantity); err != nil {
						return err
					}
					item.Batches = append(item.Batches, DeliveryBatch{BatchID: alloc.BatchID, Quantity: alloc.Quantity, Gift: true})
				}
				item.GiftItemID = o.GiftItemID
				item.GiftQuantity = o.GiftQuantity
				accumulate(totals, o.GiftItemID).gift += o.GiftQuantity
			}
			delivery.Items = append(delivery.Items, item)
		}

		// One aggregate update per item even when a line and its gift
		// consume the same stock.
		if err := adjustAggregates(ctx, tx, inv.WarehouseID, totals); err != nil {
			return err
		}
		if err := tx.InsertDelivery(ctx, &delivery); err != nil {
			return err
		}

		// Full mode always clears every outstanding line.
		status = sales.DeliveryStatusDelivered
		return tx.SetDeliveryStatus(ctx, invoiceID, status)
	})
	s.countOutcome(ModeFull, err, status)
	if err != nil {
		return Delivery{}, err
	}

	s.recordLedgerMovements(ctx, inv.WarehouseID, now, totals)
	s.recordAudit(ctx, actorID, delivery, status)
	return delivery, nil
}

// SettleManual delivers the caller-chosen (batch, quantity) pairs. The
// invoice becomes DELIVERED only when every line's owed reaches zero after
// this event; otherwise PARTIAL.
func (s *Service) SettleManual(ctx context.Context, invoiceID int64, lines []ManualLine, actorID int64) (Delivery, error) {
	if len(lines) == 0 {
		return Delivery{}, ErrEmptyManualRequest
	}
	now := time.Now().UTC()
	if err := s.checkPeriodOpen(ctx, now); err != nil {
		return Delivery{}, err
	}
	release, err := s.acquireInvoiceLock(ctx, invoiceID)
	if err != nil {
		return Delivery{}, err
	}
	defer release()

	var (
		delivery Delivery
		totals   map[int64]*itemTotals
		status   sales.DeliveryStatus
		inv      sales.Invoice
	)
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		inv, err = tx.GetInvoiceForUpdate(ctx, invoiceID)
		if err != nil {
			return err
		}
		if !inv.PaymentConfirmed {
			return ErrPaymentNotConfirmed
		}
		delivered, err := tx.DeliveredTotals(ctx, invoiceID)
		if err != nil {
			return err
		}
		owed := computeOwed(inv, delivered)
		if !anyOutstanding(owed) {
			return ErrAlreadySettled
		}
		owedByLine := make(map[int64]OwedLine, len(owed))
		for _, o := range owed {
			owedByLine[o.LineID] = o
		}

		delivery = Delivery{InvoiceID: invoiceID, Mode: ModeManual, ActorID: actorID}
		totals = map[int64]*itemTotals{}
		eventMain := map[int64]float64{}
		eventGift := map[int64]float64{}
		for _, ml := range lines {
			o, ok := owedByLine[ml.LineID]
			if !ok {
				return fmt.Errorf("%w: line %d on invoice %d", ErrLineNotFound, ml.LineID, invoiceID)
			}
			if len(ml.Allocations) == 0 {
				return ErrEmptyManualRequest
			}
			item := DeliveryItem{LineID: o.LineID, ItemID: o.ItemID}
			for _, alloc := range ml.Allocations {
				if alloc.Quantity <= 0 {
					return inventory.ErrInvalidQuantity
				}
				targetItem := o.ItemID
				if alloc.Gift {
					if o.GiftItemID == 0 {
						return fmt.Errorf("%w: line %d carries no gift", ErrLineNotFound, ml.LineID)
					}
					targetItem = o.GiftItemID
				}
				batch, err := tx.GetBatchForUpdate(ctx, alloc.BatchID)
				if err != nil {
					return err
				}
				if batch.WarehouseID != inv.WarehouseID || batch.ItemID != targetItem {
					return &InvalidBatchReferenceError{
						BatchID:     alloc.BatchID,
						WarehouseID: inv.WarehouseID,
						ItemID:      targetItem,
						Reason:      "batch belongs to a different stock cell",
					}
				}
				if batch.Quantity+quantityEpsilon < alloc.Quantity {
					return &InvalidBatchReferenceError{
						BatchID:     alloc.BatchID,
						WarehouseID: inv.WarehouseID,
						ItemID:      targetItem,
						Reason:      "requested quantity exceeds batch remainder",
					}
				}
				if err := tx.DecrementBatch(ctx, alloc.BatchID, alloc.Quantity); err != nil {
					return err
				}
				item.Batches = append(item.Batches, DeliveryBatch{BatchID: alloc.BatchID, Quantity: alloc.Quantity, Gift: alloc.Gift})
				if alloc.Gift {
					item.GiftItemID = o.GiftItemID
					item.GiftQuantity += alloc.Quantity
					eventGift[ml.LineID] += alloc.Quantity
					accumulate(totals, targetItem).gift += alloc.Quantity
				} else {
					item.Quantity += alloc.Quantity
					eventMain[ml.LineID] += alloc.Quantity
					accumulate(totals, targetItem).main += alloc.Quantity
				}
			}
			// Checked against the event-wide accumulators so a request
			// repeating the same line cannot exceed the owed quantity.
			if eventMain[ml.LineID] > o.Quantity+quantityEpsilon || eventGift[ml.LineID] > o.GiftQuantity+quantityEpsilon {
				return fmt.Errorf("%w: line %d", ErrOverDelivery, ml.LineID)
			}
			delivery.Items = append(delivery.Items, item)
		}

		if err := adjustAggregates(ctx, tx, inv.WarehouseID, totals); err != nil {
			return err
		}
		if err := tx.InsertDelivery(ctx, &delivery); err != nil {
			return err
		}

		status = sales.DeliveryStatusDelivered
		for _, o := range owed {
			if o.Quantity-eventMain[o.LineID] > quantityEpsilon ||
				o.GiftQuantity-eventGift[o.LineID] > quantityEpsilon {
				status = sales.DeliveryStatusPartial
				break
			}
		}
		return tx.SetDeliveryStatus(ctx, invoiceID, status)
	})
	s.countOutcome(ModeManual, err, status)
	if err != nil {
		return Delivery{}, err
	}

	s.recordLedgerMovements(ctx, inv.WarehouseID, now, totals)
	s.recordAudit(ctx, actorID, delivery, status)
	return delivery, nil
}

// ListDeliveries returns the settlement history of an invoice.
func (s *Service) ListDeliveries(ctx context.Context, invoiceID int64) ([]Delivery, error) {
	if invoiceID == 0 {
		return nil, errors.New("settlement: invoice required")
	}
	return s.repo.ListDeliveries(ctx, invoiceID)
}

// GetDelivery returns a single delivery event.
func (s *Service) GetDelivery(ctx context.Context, deliveryID int64) (Delivery, error) {
	if deliveryID == 0 {
		return Delivery{}, ErrDeliveryNotFound
	}
	return s.repo.GetDelivery(ctx, deliveryID)
}

func accumulate(totals map[int64]*itemTotals, itemID int64) *itemTotals {
	t, ok := totals[itemID]
	if !ok {
		t = &itemTotals{}
		totals[itemID] = t
	}
	return t
}

func adjustAggregates(ctx context.Context, tx TxRepository, warehouseID int64, totals map[int64]*itemTotals) error {
	for itemID, t := range totals {
		if err := tx.AdjustStockLevel(ctx, warehouseID, itemID, -(t.main + t.gift)); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) recordLedgerMovements(ctx context.Context, warehouseID int64, day time.Time, totals map[int64]*itemTotals) {
	if s.ledger == nil {
		return
	}
	for itemID, t := range totals {
		_, err := s.ledger.RecordMovement(ctx, warehouseID, itemID, day, ledger.Delta{
			Outgoing:      t.main,
			OutgoingGifts: t.gift,
		})
		if err != nil && s.logger != nil {
			s.logger.Error("record settlement movement",
				slog.Int64("warehouse_id", warehouseID),
				slog.Int64("item_id", itemID),
				slog.Any("error", err),
			)
		}
	}
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, d Delivery, status sales.DeliveryStatus) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   "settlement:deliver",
		Entity:   "inventory_delivery",
		EntityID: fmt.Sprintf("%d", d.ID),
		Meta: map[string]any{
			"invoice_id": d.InvoiceID,
			"mode":       d.Mode,
			"items":      len(d.Items),
			"status":     status,
		},
	})
}
