package ledger

import (
	"context"
	"errors"
	"log/slog"
	"math"
)

// RebuildResult summarises one repair pass over a stock cell's timeline.
type RebuildResult struct {
	WarehouseID int64
	ItemID      int64
	Rows        int
	Repaired    int
	// Baseline is the back-calculated opening balance of the earliest day.
	Baseline float64
}

// Rebuild recomputes a cell's entire timeline against the aggregate stock
// view, which is treated as ground truth because it is kept in lockstep with
// the batch store. The pass walks the stored rows newest to oldest,
// algebraically reversing each day's formula to find what the earliest
// opening balance must have been, then replays forward with the standard
// formula and persists every row whose stored values drift beyond
// DriftEpsilon. Offline maintenance tooling only.
func (s *Service) Rebuild(ctx context.Context, warehouseID, itemID int64) (RebuildResult, error) {
	if warehouseID == 0 || itemID == 0 {
		return RebuildResult{}, errors.New("ledger: warehouse and item required")
	}

	result := RebuildResult{WarehouseID: warehouseID, ItemID: itemID}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		truth, err := tx.GetStockQuantity(ctx, warehouseID, itemID)
		if err != nil {
			return err
		}
		rows, err := tx.ListMovementsForUpdate(ctx, warehouseID, itemID)
		if err != nil {
			return err
		}
		result.Rows = len(rows)
		if len(rows) == 0 {
			return nil
		}

		// Reverse pass: the newest closing must equal the aggregate truth,
		// so the earliest opening is the truth minus every day's net change.
		baseline := truth
		for i := len(rows) - 1; i >= 0; i-- {
			baseline -= rows[i].Net()
		}
		result.Baseline = baseline

		// Forward replay.
		prev := baseline
		for i := range rows {
			stored := rows[i]
			row := &rows[i]
			row.Opening = prev
			row.Recalculate()
			prev = row.Closing

			if math.Abs(stored.Opening-row.Opening) <= DriftEpsilon &&
				math.Abs(stored.Closing-row.Closing) <= DriftEpsilon {
				continue
			}
			if s.logger != nil {
				s.logger.Warn("ledger drift repaired",
					slog.Int64("warehouse_id", warehouseID),
					slog.Int64("item_id", itemID),
					slog.Time("day", row.Day),
					slog.Float64("stored_closing", stored.Closing),
					slog.Float64("computed_closing", row.Closing),
				)
			}
			if err := tx.UpdateMovement(ctx, *row); err != nil {
				return err
			}
			result.Repaired++
		}
		return nil
	})
	if err != nil {
		return RebuildResult{}, err
	}
	return result, nil
}
