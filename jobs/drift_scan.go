package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/meridian-erp/meridian-erp/internal/inventory"
	jobmetrics "github.com/meridian-erp/meridian-erp/internal/jobs"
)

// DriftScanner is the inventory surface the drift scan job consumes.
type DriftScanner interface {
	ScanDrift(ctx context.Context) ([]inventory.DriftReport, error)
	ResyncStockLevel(ctx context.Context, warehouseID, itemID int64) (float64, error)
}

// DriftCounter counts detected drift occurrences by kind.
type DriftCounter interface {
	CountDrift(kind string)
}

// NewStockDriftScanHandler builds the Asynq handler for TaskStockDriftScan.
func NewStockDriftScanHandler(scanner DriftScanner, counter DriftCounter, metrics *jobmetrics.Metrics, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload StockDriftScanPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		tracker := metrics.Track("stock_drift_scan")

		reports, err := scanner.ScanDrift(ctx)
		if err != nil {
			return tracker.End(err)
		}
		repaired := 0
		for _, report := range reports {
			if counter != nil {
				counter.CountDrift("aggregate")
			}
			logger.Warn("aggregate stock drift detected",
				slog.Int64("warehouse_id", report.WarehouseID),
				slog.Int64("item_id", report.ItemID),
				slog.Float64("aggregate", report.Aggregate),
				slog.Float64("batch_sum", report.BatchSum),
			)
			if !payload.Repair {
				continue
			}
			if _, err := scanner.ResyncStockLevel(ctx, report.WarehouseID, report.ItemID); err != nil {
				return tracker.End(err)
			}
			repaired++
		}
		metrics.AddRepairs("aggregate", repaired)
		logger.Info("stock drift scan finished",
			slog.Int("divergent_cells", len(reports)),
			slog.Int("repaired", repaired),
		)
		return tracker.End(nil)
	}
}
