package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/meridian-erp/meridian-erp/internal/ledger"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetStockLevel(ctx context.Context, warehouseID, itemID int64) (StockLevel, error)
	ListBatches(ctx context.Context, warehouseID, itemID int64) ([]Batch, error)
	ListStockLevels(ctx context.Context) ([]StockLevel, error)
	SumBatchQuantity(ctx context.Context, warehouseID, itemID int64) (float64, error)
}

// LedgerPort records stock movements on the day-indexed ledger.
type LedgerPort interface {
	RecordMovement(ctx context.Context, warehouseID, itemID int64, day time.Time, delta ledger.Delta) (ledger.Movement, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service coordinates batch-level stock operations and keeps the aggregate
// stock view in lockstep with the batch store.
type Service struct {
	repo        RepositoryPort
	ledger      LedgerPort
	audit       AuditPort
	idempotency *shared.IdempotencyStore
	periods     shared.PeriodPort
	logger      *slog.Logger
}

// NewService builds Service.
func NewService(repo RepositoryPort, ledgerPort LedgerPort, audit AuditPort, idem *shared.IdempotencyStore, periods shared.PeriodPort, logger *slog.Logger) *Service {
	return &Service{repo: repo, ledger: ledgerPort, audit: audit, idempotency: idem, periods: periods, logger: logger}
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

// Receive posts a procurement receipt: a new batch plus the matching
// aggregate increment in one transaction, then the incoming ledger movement.
func (s *Service) Receive(ctx context.Context, input ReceiveInput) (Batch, error) {
	if input.WarehouseID == 0 || input.ItemID == 0 {
		return Batch{}, errors.New("inventory: warehouse and item required")
	}
	if input.Quantity <= 0 {
		return Batch{}, ErrInvalidQuantity
	}
	receivedAt := input.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = time.Now().UTC()
	}
	if err := s.checkPeriodOpen(ctx, receivedAt); err != nil {
		return Batch{}, err
	}

	insertedKey := false
	key := ""
	if s.idempotency != nil && input.Code != "" {
		key = uuid.NewSHA1(uuid.Nil, []byte(fmt.Sprintf("RCV:%s:%d:%d", input.Code, input.WarehouseID, input.ItemID))).String()
		if err := s.idempotency.CheckAndInsert(ctx, key, "inventory"); err != nil {
			return Batch{}, err
		}
		insertedKey = true
	}

	batch := Batch{
		WarehouseID: input.WarehouseID,
		ItemID:      input.ItemID,
		ReceivedAt:  receivedAt,
		ExpiresAt:   input.ExpiresAt,
		Quantity:    input.Quantity,
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.InsertBatch(ctx, batch)
		if err != nil {
			return err
		}
		batch.ID = id
		return tx.AdjustStockLevel(ctx, input.WarehouseID, input.ItemID, input.Quantity)
	})
	if err != nil {
		if insertedKey {
			_ = s.idempotency.Delete(ctx, key)
		}
		return Batch{}, err
	}

	if s.ledger != nil {
		delta := ledger.Delta{Incoming: input.Quantity}
		if input.Gift {
			delta = ledger.Delta{IncomingGifts: input.Quantity}
		}
		if _, err := s.ledger.RecordMovement(ctx, input.WarehouseID, input.ItemID, receivedAt, delta); err != nil {
			return Batch{}, fmt.Errorf("inventory: record receipt movement: %w", err)
		}
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  input.ActorID,
			Action:   "inventory:receive",
			Entity:   "stock_batch",
			EntityID: fmt.Sprintf("%d", batch.ID),
			Meta: map[string]any{
				"warehouse_id": input.WarehouseID,
				"item_id":      input.ItemID,
				"qty":          input.Quantity,
				"note":         input.Note,
			},
		})
	}
	return batch, nil
}

// Allocate consumes qty from the warehouse's batches in FIFO order,
// decrementing the aggregate by the same amount in one transaction, then
// records the outgoing ledger movement. Used by transfer and adjustment
// collaborators; delivery settlement drives the planner inside its own
// transaction instead.
func (s *Service) Allocate(ctx context.Context, warehouseID, itemID int64, qty float64, actorID int64) ([]Allocation, error) {
	if warehouseID == 0 || itemID == 0 {
		return nil, errors.New("inventory: warehouse and item required")
	}
	if qty <= 0 {
		return nil, ErrInvalidQuantity
	}
	now := time.Now().UTC()
	if err := s.checkPeriodOpen(ctx, now); err != nil {
		return nil, err
	}

	var plan []Allocation
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		batches, err := tx.ListOpenBatchesForUpdate(ctx, warehouseID, itemID)
		if err != nil {
			return err
		}
		plan, err = PlanAllocation(warehouseID, itemID, batches, qty)
		if err != nil {
			return err
		}
		for _, alloc := range plan {
			if err := tx.DecrementBatch(ctx, alloc.BatchID, alloc.Quantity); err != nil {
				return err
			}
		}
		return tx.AdjustStockLevel(ctx, warehouseID, itemID, -qty)
	})
	if err != nil {
		return nil, err
	}

	if s.ledger != nil {
		if _, err := s.ledger.RecordMovement(ctx, warehouseID, itemID, now, ledger.Delta{Outgoing: qty}); err != nil {
			return nil, fmt.Errorf("inventory: record allocation movement: %w", err)
		}
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  actorID,
			Action:   "inventory:allocate",
			Entity:   "stock_level",
			EntityID: fmt.Sprintf("%d:%d", warehouseID, itemID),
			Meta: map[string]any{
				"qty":     qty,
				"batches": len(plan),
			},
		})
	}
	return plan, nil
}

// GetStockLevel returns the aggregate quantity for one cell.
func (s *Service) GetStockLevel(ctx context.Context, warehouseID, itemID int64) (StockLevel, error) {
	if warehouseID == 0 || itemID == 0 {
		return StockLevel{}, errors.New("inventory: warehouse and item required")
	}
	return s.repo.GetStockLevel(ctx, warehouseID, itemID)
}

// ListBatches returns every batch of one cell, including exhausted ones.
func (s *Service) ListBatches(ctx context.Context, warehouseID, itemID int64) ([]Batch, error) {
	if warehouseID == 0 || itemID == 0 {
		return nil, errors.New("inventory: warehouse and item required")
	}
	return s.repo.ListBatches(ctx, warehouseID, itemID)
}

// ResyncStockLevel forces the aggregate cell back to the batch sum and
// returns the drift that was corrected. Repair tooling only.
func (s *Service) ResyncStockLevel(ctx context.Context, warehouseID, itemID int64) (float64, error) {
	if warehouseID == 0 || itemID == 0 {
		return 0, errors.New("inventory: warehouse and item required")
	}
	var drift float64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		sum, err := tx.SumBatchQuantity(ctx, warehouseID, itemID)
		if err != nil {
			return err
		}
		level, err := tx.GetStockLevelForUpdate(ctx, warehouseID, itemID)
		if err != nil && !errors.Is(err, ErrStockLevelNotFound) {
			return err
		}
		drift = level.Quantity - sum
		if math.Abs(drift) <= DriftEpsilon {
			drift = 0
			return nil
		}
		if s.logger != nil {
			s.logger.Warn("aggregate stock drift corrected",
				slog.Int64("warehouse_id", warehouseID),
				slog.Int64("item_id", itemID),
				slog.Float64("aggregate", level.Quantity),
				slog.Float64("batch_sum", sum),
			)
		}
		return tx.SetStockLevel(ctx, warehouseID, itemID, sum)
	})
	if err != nil {
		return 0, err
	}
	return drift, nil
}

// ScanDrift compares every aggregate cell against its batch sum and reports
// the cells diverging beyond DriftEpsilon. Read-only; repair happens via
// ResyncStockLevel.
func (s *Service) ScanDrift(ctx context.Context) ([]DriftReport, error) {
	levels, err := s.repo.ListStockLevels(ctx)
	if err != nil {
		return nil, err
	}

	reports := make([]DriftReport, len(levels))
	found := make([]bool, len(levels))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, level := range levels {
		g.Go(func() error {
			sum, err := s.repo.SumBatchQuantity(ctx, level.WarehouseID, level.ItemID)
			if err != nil {
				return err
			}
			if math.Abs(level.Quantity-sum) > DriftEpsilon {
				reports[i] = DriftReport{
					WarehouseID: level.WarehouseID,
					ItemID:      level.ItemID,
					Aggregate:   level.Quantity,
					BatchSum:    sum,
				}
				found[i] = true
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []DriftReport
	for i, ok := range found {
		if ok {
			out = append(out, reports[i])
		}
	}
	return out, nil
}
