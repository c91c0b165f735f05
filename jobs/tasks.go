package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskStockDriftScan compares every aggregate stock cell against its
	// batch sum and optionally resyncs divergent cells.
	TaskStockDriftScan = "stock:drift_scan"
	// TaskLedgerRebuild recomputes one cell's movement timeline from the
	// aggregate truth.
	TaskLedgerRebuild = "ledger:rebuild"
)

// StockDriftScanPayload configures a drift scan run.
type StockDriftScanPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
	// Repair resyncs every divergent cell instead of only reporting.
	Repair bool `json:"repair"`
}

// NewStockDriftScanTask constructs an Asynq task for a drift scan.
func NewStockDriftScanTask(payload StockDriftScanPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskStockDriftScan, body, asynq.Queue(QueueDefault)), nil
}

// LedgerRebuildPayload identifies the stock cell to rebuild.
type LedgerRebuildPayload struct {
	WarehouseID int64 `json:"warehouse_id"`
	ItemID      int64 `json:"item_id"`
}

// NewLedgerRebuildTask constructs an Asynq task for a ledger rebuild.
func NewLedgerRebuildTask(payload LedgerRebuildPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLedgerRebuild, body, asynq.Queue(QueueDefault)), nil
}
