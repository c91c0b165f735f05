package inventory

import (
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/meridian-erp/meridian-erp/internal/ledger"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

type memoryRepo struct {
	batches map[int64]Batch
	levels  map[string]StockLevel
	nextID  int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{batches: map[int64]Batch{}, levels: map[string]StockLevel{}, nextID: 1}
}

func cellKey(warehouseID, itemID int64) string {
	return fmt.Sprintf("%d:%d", warehouseID, itemID)
}

func (r *memoryRepo) snapshot() *memoryRepo {
	clone := newMemoryRepo()
	clone.nextID = r.nextID
	for id, b := range r.batches {
		clone.batches[id] = b
	}
	for k, l := range r.levels {
		clone.levels[k] = l
	}
	return clone
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	saved := r.snapshot()
	if err := fn(ctx, r); err != nil {
		r.batches = saved.batches
		r.levels = saved.levels
		r.nextID = saved.nextID
		return err
	}
	return nil
}

func (r *memoryRepo) InsertBatch(_ context.Context, b Batch) (int64, error) {
	b.ID = r.nextID
	r.nextID++
	b.CreatedAt = time.Now()
	r.batches[b.ID] = b
	return b.ID, nil
}

func (r *memoryRepo) ListOpenBatchesForUpdate(_ context.Context, warehouseID, itemID int64) ([]Batch, error) {
	var out []Batch
	for _, b := range r.batches {
		if b.WarehouseID == warehouseID && b.ItemID == itemID && b.Quantity > 0 {
			out = append(out, b)
		}
	}
	sortFIFO(out)
	return out, nil
}

func (r *memoryRepo) DecrementBatch(_ context.Context, batchID int64, qty float64) error {
	b, ok := r.batches[batchID]
	if !ok {
		return ErrBatchNotFound
	}
	if b.Quantity < qty {
		return ErrBatchDrained
	}
	b.Quantity -= qty
	r.batches[batchID] = b
	return nil
}

func (r *memoryRepo) AdjustStockLevel(_ context.Context, warehouseID, itemID int64, delta float64) error {
	key := cellKey(warehouseID, itemID)
	level, ok := r.levels[key]
	if !ok {
		level = StockLevel{WarehouseID: warehouseID, ItemID: itemID}
	}
	level.Quantity += delta
	level.UpdatedAt = time.Now()
	r.levels[key] = level
	return nil
}

func (r *memoryRepo) SetStockLevel(_ context.Context, warehouseID, itemID int64, qty float64) error {
	key := cellKey(warehouseID, itemID)
	level, ok := r.levels[key]
	if !ok {
		level = StockLevel{WarehouseID: warehouseID, ItemID: itemID}
	}
	level.Quantity = qty
	level.UpdatedAt = time.Now()
	r.levels[key] = level
	return nil
}

func (r *memoryRepo) GetStockLevelForUpdate(_ context.Context, warehouseID, itemID int64) (StockLevel, error) {
	level, ok := r.levels[cellKey(warehouseID, itemID)]
	if !ok {
		return StockLevel{}, ErrStockLevelNotFound
	}
	return level, nil
}

func (r *memoryRepo) GetStockLevel(ctx context.Context, warehouseID, itemID int64) (StockLevel, error) {
	return r.GetStockLevelForUpdate(ctx, warehouseID, itemID)
}

func (r *memoryRepo) ListBatches(_ context.Context, warehouseID, itemID int64) ([]Batch, error) {
	var out []Batch
	for _, b := range r.batches {
		if b.WarehouseID == warehouseID && b.ItemID == itemID {
			out = append(out, b)
		}
	}
	sortFIFO(out)
	return out, nil
}

func (r *memoryRepo) ListStockLevels(_ context.Context) ([]StockLevel, error) {
	var out []StockLevel
	for _, l := range r.levels {
		out = append(out, l)
	}
	return out, nil
}

func (r *memoryRepo) SumBatchQuantity(_ context.Context, warehouseID, itemID int64) (float64, error) {
	var sum float64
	for _, b := range r.batches {
		if b.WarehouseID == warehouseID && b.ItemID == itemID {
			sum += b.Quantity
		}
	}
	return sum, nil
}

func (r *memoryRepo) batchSum(warehouseID, itemID int64) float64 {
	sum, _ := r.SumBatchQuantity(context.Background(), warehouseID, itemID)
	return sum
}

type memoryLedger struct {
	deltas []ledger.Delta
}

func (l *memoryLedger) RecordMovement(_ context.Context, warehouseID, itemID int64, day time.Time, delta ledger.Delta) (ledger.Movement, error) {
	l.deltas = append(l.deltas, delta)
	return ledger.Movement{WarehouseID: warehouseID, ItemID: itemID, Day: ledger.DayOf(day)}, nil
}

type memoryAudit struct {
	logs []shared.AuditLog
}

func (a *memoryAudit) Record(_ context.Context, log shared.AuditLog) error {
	a.logs = append(a.logs, log)
	return nil
}

type stubPeriods struct {
	open bool
}

func (p stubPeriods) IsOpen(context.Context, time.Time) (bool, error) {
	return p.open, nil
}

func newTestService(repo *memoryRepo) (*Service, *memoryLedger, *memoryAudit) {
	ledgerFake := &memoryLedger{}
	audit := &memoryAudit{}
	svc := NewService(repo, ledgerFake, audit, nil, stubPeriods{open: true}, slog.Default())
	return svc, ledgerFake, audit
}

func TestReceiveKeepsAggregateInLockstep(t *testing.T) {
	repo := newMemoryRepo()
	svc, ledgerFake, audit := newTestService(repo)

	batch, err := svc.Receive(context.Background(), ReceiveInput{
		WarehouseID: 1, ItemID: 7, Quantity: 60,
		ReceivedAt: received("2024-01-10"),
		ExpiresAt:  expiry("2024-03-01"),
	})
	require.NoError(t, err)
	require.NotZero(t, batch.ID)

	level, err := repo.GetStockLevel(context.Background(), 1, 7)
	require.NoError(t, err)
	require.InDelta(t, 60, level.Quantity, 0.01)
	require.InDelta(t, repo.batchSum(1, 7), level.Quantity, 0.01)

	require.Len(t, ledgerFake.deltas, 1)
	require.InDelta(t, 60, ledgerFake.deltas[0].Incoming, 0.01)
	require.Len(t, audit.logs, 1)
	require.Equal(t, "inventory:receive", audit.logs[0].Action)
}

func TestReceiveGiftUsesGiftAccumulator(t *testing.T) {
	repo := newMemoryRepo()
	svc, ledgerFake, _ := newTestService(repo)

	_, err := svc.Receive(context.Background(), ReceiveInput{
		WarehouseID: 1, ItemID: 7, Quantity: 5, Gift: true,
	})
	require.NoError(t, err)
	require.Len(t, ledgerFake.deltas, 1)
	require.Zero(t, ledgerFake.deltas[0].Incoming)
	require.InDelta(t, 5, ledgerFake.deltas[0].IncomingGifts, 0.01)
}

func TestReceiveRejectsClosedPeriod(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil, stubPeriods{open: false}, slog.Default())

	_, err := svc.Receive(context.Background(), ReceiveInput{WarehouseID: 1, ItemID: 7, Quantity: 10})
	require.ErrorIs(t, err, shared.ErrPeriodClosed)
	require.Empty(t, repo.batches)
}

func TestAllocateConsumesFIFOAndDecrementsAggregate(t *testing.T) {
	repo := newMemoryRepo()
	svc, ledgerFake, _ := newTestService(repo)

	_, err := svc.Receive(context.Background(), ReceiveInput{WarehouseID: 1, ItemID: 7, Quantity: 60, ReceivedAt: received("2024-01-10"), ExpiresAt: expiry("2024-02-01")})
	require.NoError(t, err)
	_, err = svc.Receive(context.Background(), ReceiveInput{WarehouseID: 1, ItemID: 7, Quantity: 40, ReceivedAt: received("2024-02-10"), ExpiresAt: expiry("2024-04-01")})
	require.NoError(t, err)

	plan, err := svc.Allocate(context.Background(), 1, 7, 70, 1)
	require.NoError(t, err)
	require.Len(t, plan, 2)
	require.InDelta(t, 60, plan[0].Quantity, 0.01)
	require.InDelta(t, 10, plan[1].Quantity, 0.01)

	level, err := repo.GetStockLevel(context.Background(), 1, 7)
	require.NoError(t, err)
	require.InDelta(t, 30, level.Quantity, 0.01)
	require.InDelta(t, repo.batchSum(1, 7), level.Quantity, 0.01)

	require.InDelta(t, 70, ledgerFake.deltas[len(ledgerFake.deltas)-1].Outgoing, 0.01)
}

func TestAllocateShortageLeavesNothingMutated(t *testing.T) {
	repo := newMemoryRepo()
	svc, ledgerFake, _ := newTestService(repo)

	_, err := svc.Receive(context.Background(), ReceiveInput{WarehouseID: 1, ItemID: 7, Quantity: 50})
	require.NoError(t, err)
	movementsBefore := len(ledgerFake.deltas)

	_, err = svc.Allocate(context.Background(), 1, 7, 80, 1)
	var shortage *InsufficientStockError
	require.ErrorAs(t, err, &shortage)
	require.InDelta(t, 30, shortage.Shortfall(), 0.01)

	level, err := repo.GetStockLevel(context.Background(), 1, 7)
	require.NoError(t, err)
	require.InDelta(t, 50, level.Quantity, 0.01)
	require.InDelta(t, 50, repo.batchSum(1, 7), 0.01)
	require.Len(t, ledgerFake.deltas, movementsBefore)
}

func TestResyncStockLevelCorrectsDrift(t *testing.T) {
	repo := newMemoryRepo()
	svc, _, _ := newTestService(repo)

	_, err := svc.Receive(context.Background(), ReceiveInput{WarehouseID: 1, ItemID: 7, Quantity: 50})
	require.NoError(t, err)

	// Simulate a bug that bypassed the coupled update.
	require.NoError(t, repo.SetStockLevel(context.Background(), 1, 7, 57))

	drift, err := svc.ResyncStockLevel(context.Background(), 1, 7)
	require.NoError(t, err)
	require.InDelta(t, 7, drift, 0.01)

	level, err := repo.GetStockLevel(context.Background(), 1, 7)
	require.NoError(t, err)
	require.InDelta(t, 50, level.Quantity, 0.01)
}

func TestResyncStockLevelNoDriftIsNoop(t *testing.T) {
	repo := newMemoryRepo()
	svc, _, _ := newTestService(repo)

	_, err := svc.Receive(context.Background(), ReceiveInput{WarehouseID: 1, ItemID: 7, Quantity: 50})
	require.NoError(t, err)

	drift, err := svc.ResyncStockLevel(context.Background(), 1, 7)
	require.NoError(t, err)
	require.Zero(t, drift)
}

func TestScanDriftReportsDivergentCells(t *testing.T) {
	repo := newMemoryRepo()
	svc, _, _ := newTestService(repo)

	_, err := svc.Receive(context.Background(), ReceiveInput{WarehouseID: 1, ItemID: 7, Quantity: 50})
	require.NoError(t, err)
	_, err = svc.Receive(context.Background(), ReceiveInput{WarehouseID: 1, ItemID: 8, Quantity: 20})
	require.NoError(t, err)

	require.NoError(t, repo.SetStockLevel(context.Background(), 1, 8, 25))

	reports, err := svc.ScanDrift(context.Background())
	require.NoError(t, err)
	require.Len(t, reports, 1)
	require.Equal(t, int64(8), reports[0].ItemID)
	require.InDelta(t, 5, reports[0].Drift(), 0.01)
}
