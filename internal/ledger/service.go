package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	ListMovements(ctx context.Context, filter Filter) ([]Movement, error)
	ListStockCells(ctx context.Context) ([]StockCell, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service maintains the day-indexed stock movement ledger.
type Service struct {
	repo   RepositoryPort
	audit  AuditPort
	logger *slog.Logger
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort, logger *slog.Logger) *Service {
	return &Service{repo: repo, audit: audit, logger: logger}
}

// RecordMovement applies delta to the ledger row for (warehouse, item, day),
// creating the row lazily, and cascades the resulting closing balance through
// every later day so that opening(D+1) == closing(D) holds for the whole
// timeline after the call.
func (s *Service) RecordMovement(ctx context.Context, warehouseID, itemID int64, day time.Time, delta Delta) (Movement, error) {
	if warehouseID == 0 || itemID == 0 {
		return Movement{}, errors.New("ledger: warehouse and item required")
	}
	if delta.IsZero() {
		return Movement{}, ErrEmptyDelta
	}
	day = DayOf(day)

	var result Movement
	var cascaded int
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		m, err := tx.GetMovementForUpdate(ctx, warehouseID, itemID, day)
		switch {
		case errors.Is(err, ErrMovementNotFound):
			opening, err := s.openingBalance(ctx, tx, warehouseID, itemID, day)
			if err != nil {
				return err
			}
			m = Movement{WarehouseID: warehouseID, ItemID: itemID, Day: day, Opening: opening}
			delta.apply(&m)
			m.Recalculate()
			id, err := tx.InsertMovement(ctx, m)
			if err != nil {
				return err
			}
			m.ID = id
		case err != nil:
			return err
		default:
			delta.apply(&m)
			m.Recalculate()
			if err := tx.UpdateMovement(ctx, m); err != nil {
				return err
			}
		}

		cascaded, err = s.propagateForward(ctx, tx, m)
		if err != nil {
			return err
		}
		result = m
		return nil
	})
	if err != nil {
		return Movement{}, err
	}

	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			Action:   "ledger:record",
			Entity:   "stock_movement",
			EntityID: fmt.Sprintf("%d:%d:%s", warehouseID, itemID, day.Format("2006-01-02")),
			Meta: map[string]any{
				"warehouse_id": warehouseID,
				"item_id":      itemID,
				"net":          result.Net(),
				"closing":      result.Closing,
				"cascaded":     cascaded,
			},
		})
	}
	return result, nil
}

// openingBalance resolves the opening balance for a freshly created day row:
// the closing of the nearest earlier ledger row, or the live aggregate stock
// quantity when the cell has no history at all.
func (s *Service) openingBalance(ctx context.Context, tx TxRepository, warehouseID, itemID int64, day time.Time) (float64, error) {
	prev, err := tx.GetLatestMovementBefore(ctx, warehouseID, itemID, day)
	if err == nil {
		return prev.Closing, nil
	}
	if !errors.Is(err, ErrMovementNotFound) {
		return 0, err
	}
	// Bootstrap fallback: the aggregate view stands in for unknown history.
	return tx.GetStockQuantity(ctx, warehouseID, itemID)
}

// propagateForward rewrites every ledger row strictly after from.Day so the
// opening/closing chain stays continuous. Cost is O(days after the edited
// day); the walk stops early once a row's opening already matches, because
// everything downstream is then untouched by the edit.
func (s *Service) propagateForward(ctx context.Context, tx TxRepository, from Movement) (int, error) {
	rows, err := tx.ListMovementsAfter(ctx, from.WarehouseID, from.ItemID, from.Day)
	if err != nil {
		return 0, err
	}
	prev := from.Closing
	changed := 0
	for i := range rows {
		row := &rows[i]
		if math.Abs(row.Opening-prev) < 1e-9 {
			break
		}
		row.Opening = prev
		row.Recalculate()
		if err := tx.UpdateMovement(ctx, *row); err != nil {
			return changed, err
		}
		changed++
		prev = row.Closing
	}
	return changed, nil
}

// Initialize seeds the ledger for one stock cell with a known quantity:
// opening == closing == qty and all accumulators zero. Used by setup
// tooling; refuses to overwrite an existing day row.
func (s *Service) Initialize(ctx context.Context, warehouseID, itemID int64, qty float64, day time.Time) (Movement, error) {
	if warehouseID == 0 || itemID == 0 {
		return Movement{}, errors.New("ledger: warehouse and item required")
	}
	day = DayOf(day)

	var result Movement
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		_, err := tx.GetMovementForUpdate(ctx, warehouseID, itemID, day)
		if err == nil {
			return ErrMovementExists
		}
		if !errors.Is(err, ErrMovementNotFound) {
			return err
		}
		m := Movement{WarehouseID: warehouseID, ItemID: itemID, Day: day, Opening: qty, Closing: qty}
		id, err := tx.InsertMovement(ctx, m)
		if err != nil {
			return err
		}
		m.ID = id
		if _, err := s.propagateForward(ctx, tx, m); err != nil {
			return err
		}
		result = m
		return nil
	})
	if err != nil {
		return Movement{}, err
	}
	return result, nil
}

// BootstrapAll seeds a day-zero row from the aggregate stock view for every
// stock cell that has no ledger history yet. Returns the number of rows
// created.
func (s *Service) BootstrapAll(ctx context.Context, day time.Time) (int, error) {
	cells, err := s.repo.ListStockCells(ctx)
	if err != nil {
		return 0, err
	}
	day = DayOf(day)

	seeded := 0
	for _, cell := range cells {
		err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			has, err := tx.HasMovements(ctx, cell.WarehouseID, cell.ItemID)
			if err != nil {
				return err
			}
			if has {
				return nil
			}
			m := Movement{
				WarehouseID: cell.WarehouseID,
				ItemID:      cell.ItemID,
				Day:         day,
				Opening:     cell.Quantity,
				Closing:     cell.Quantity,
			}
			if _, err := tx.InsertMovement(ctx, m); err != nil {
				return err
			}
			seeded++
			return nil
		})
		if err != nil {
			return seeded, err
		}
	}
	if s.logger != nil {
		s.logger.Info("ledger bootstrap finished", slog.Int("cells", len(cells)), slog.Int("seeded", seeded))
	}
	return seeded, nil
}

// GetMovements returns the stored ledger rows in a window, ordered by day.
// Reporting collaborators derive opening/closing stock for a period from the
// first and last rows.
func (s *Service) GetMovements(ctx context.Context, filter Filter) ([]Movement, error) {
	if filter.WarehouseID == 0 || filter.ItemID == 0 {
		return nil, errors.New("ledger: warehouse and item required")
	}
	return s.repo.ListMovements(ctx, filter)
}
