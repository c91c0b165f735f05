package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/meridian-erp/meridian-erp/internal/jobs"
	"github.com/meridian-erp/meridian-erp/internal/ledger"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// LedgerRebuilder is the ledger surface the rebuild job consumes.
type LedgerRebuilder interface {
	Rebuild(ctx context.Context, warehouseID, itemID int64) (ledger.RebuildResult, error)
}

// LockPort serializes rebuilds per stock cell.
type LockPort interface {
	Acquire(ctx context.Context, key string) (shared.Release, error)
}

// NewLedgerRebuildHandler builds the Asynq handler for TaskLedgerRebuild.
// A cell-level lock keeps a rebuild from racing a concurrent rebuild of the
// same cell; lock contention requeues the task.
func NewLedgerRebuildHandler(rebuilder LedgerRebuilder, locker LockPort, metrics *jobmetrics.Metrics, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload LedgerRebuildPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		if payload.WarehouseID == 0 || payload.ItemID == 0 {
			return asynq.SkipRetry
		}
		tracker := metrics.Track("ledger_rebuild")

		if locker != nil {
			release, err := locker.Acquire(ctx, shared.LedgerLockKey(payload.WarehouseID, payload.ItemID))
			if errors.Is(err, shared.ErrLockNotObtained) {
				return tracker.End(err)
			}
			if err != nil {
				return tracker.End(err)
			}
			defer release()
		}

		result, err := rebuilder.Rebuild(ctx, payload.WarehouseID, payload.ItemID)
		if err != nil {
			return tracker.End(err)
		}
		metrics.AddRepairs("ledger", result.Repaired)
		logger.Info("ledger rebuild finished",
			slog.Int64("warehouse_id", result.WarehouseID),
			slog.Int64("item_id", result.ItemID),
			slog.Int("rows", result.Rows),
			slog.Int("repaired", result.Repaired),
			slog.Float64("baseline", result.Baseline),
		)
		return tracker.End(nil)
	}
}
