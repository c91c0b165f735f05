package ledger

import (
	"context"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type memoryRepo struct {
	movements map[string][]Movement
	stock     map[string]float64
	nextID    int64
	updates   int
}

type memoryTx struct {
	repo *memoryRepo
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{movements: make(map[string][]Movement), stock: make(map[string]float64)}
}

func cellKey(warehouseID, itemID int64) string {
	return fmt.Sprintf("%d:%d", warehouseID, itemID)
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &memoryTx{repo: r})
}

func (r *memoryRepo) ListMovements(ctx context.Context, filter Filter) ([]Movement, error) {
	var out []Movement
	for _, m := range r.movements[cellKey(filter.WarehouseID, filter.ItemID)] {
		if !filter.From.IsZero() && m.Day.Before(DayOf(filter.From)) {
			continue
		}
		if !filter.To.IsZero() && m.Day.After(DayOf(filter.To)) {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

func (r *memoryRepo) ListStockCells(ctx context.Context) ([]StockCell, error) {
	var cells []StockCell
	for key, qty := range r.stock {
		var w, i int64
		fmt.Sscanf(key, "%d:%d", &w, &i)
		cells = append(cells, StockCell{WarehouseID: w, ItemID: i, Quantity: qty})
	}
	sort.Slice(cells, func(a, b int) bool {
		if cells[a].WarehouseID != cells[b].WarehouseID {
			return cells[a].WarehouseID < cells[b].WarehouseID
		}
		return cells[a].ItemID < cells[b].ItemID
	})
	return cells, nil
}

func (tx *memoryTx) cell(warehouseID, itemID int64) []Movement {
	return tx.repo.movements[cellKey(warehouseID, itemID)]
}

func (tx *memoryTx) GetMovementForUpdate(ctx context.Context, warehouseID, itemID int64, day time.Time) (Movement, error) {
	for _, m := range tx.cell(warehouseID, itemID) {
		if m.Day.Equal(day) {
			return m, nil
		}
	}
	return Movement{}, ErrMovementNotFound
}

func (tx *memoryTx) GetLatestMovementBefore(ctx context.Context, warehouseID, itemID int64, day time.Time) (Movement, error) {
	var found *Movement
	for i, m := range tx.cell(warehouseID, itemID) {
		if m.Day.Before(day) {
			rows := tx.cell(warehouseID, itemID)
			found = &rows[i]
		}
	}
	if found == nil {
		return Movement{}, ErrMovementNotFound
	}
	return *found, nil
}

func (tx *memoryTx) ListMovementsAfter(ctx context.Context, warehouseID, itemID int64, day time.Time) ([]Movement, error) {
	var out []Movement
	for _, m := range tx.cell(warehouseID, itemID) {
		if m.Day.After(day) {
			out = append(out, m)
		}
	}
	return out, nil
}

func (tx *memoryTx) ListMovementsForUpdate(ctx context.Context, warehouseID, itemID int64) ([]Movement, error) {
	out := make([]Movement, len(tx.cell(warehouseID, itemID)))
	copy(out, tx.cell(warehouseID, itemID))
	return out, nil
}

func (tx *memoryTx) InsertMovement(ctx context.Context, m Movement) (int64, error) {
	tx.repo.nextID++
	m.ID = tx.repo.nextID
	key := cellKey(m.WarehouseID, m.ItemID)
	rows := append(tx.repo.movements[key], m)
	sort.Slice(rows, func(a, b int) bool { return rows[a].Day.Before(rows[b].Day) })
	tx.repo.movements[key] = rows
	return m.ID, nil
}

func (tx *memoryTx) UpdateMovement(ctx context.Context, m Movement) error {
	key := cellKey(m.WarehouseID, m.ItemID)
	for i, row := range tx.repo.movements[key] {
		if row.ID == m.ID {
			tx.repo.movements[key][i] = m
			tx.repo.updates++
			return nil
		}
	}
	return ErrMovementNotFound
}

func (tx *memoryTx) GetStockQuantity(ctx context.Context, warehouseID, itemID int64) (float64, error) {
	return tx.repo.stock[cellKey(warehouseID, itemID)], nil
}

func (tx *memoryTx) HasMovements(ctx context.Context, warehouseID, itemID int64) (bool, error) {
	return len(tx.cell(warehouseID, itemID)) > 0, nil
}

func day(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestRecordMovementClosingFormula(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil)
	ctx := context.Background()

	m, err := svc.RecordMovement(ctx, 1, 1, day("2024-03-01"), Delta{Incoming: 100})
	require.NoError(t, err)
	require.InDelta(t, 0, m.Opening, 0.01)
	require.InDelta(t, 100, m.Closing, 0.01)

	m, err = svc.RecordMovement(ctx, 1, 1, day("2024-03-01"), Delta{Outgoing: 30, OutgoingGifts: 5})
	require.NoError(t, err)
	require.InDelta(t, 65, m.Closing, 0.01)
	require.InDelta(t, m.Opening+m.Incoming+m.IncomingGifts-m.Outgoing-m.PendingOutgoing-m.OutgoingGifts, m.Closing, 0.01)
}

func TestRecordMovementNormalisesDay(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil)
	ctx := context.Background()

	morning := time.Date(2024, 3, 1, 8, 30, 0, 0, time.UTC)
	evening := time.Date(2024, 3, 1, 22, 15, 0, 0, time.UTC)

	_, err := svc.RecordMovement(ctx, 1, 1, morning, Delta{Incoming: 10})
	require.NoError(t, err)
	_, err = svc.RecordMovement(ctx, 1, 1, evening, Delta{Incoming: 5})
	require.NoError(t, err)

	rows, err := svc.GetMovements(ctx, Filter{WarehouseID: 1, ItemID: 1})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.InDelta(t, 15, rows[0].Closing, 0.01)
}

func TestOpeningCarriesFromPreviousDay(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil)
	ctx := context.Background()

	_, err := svc.RecordMovement(ctx, 1, 1, day("2024-03-01"), Delta{Incoming: 50})
	require.NoError(t, err)

	m, err := svc.RecordMovement(ctx, 1, 1, day("2024-03-04"), Delta{Outgoing: 20})
	require.NoError(t, err)
	require.InDelta(t, 50, m.Opening, 0.01)
	require.InDelta(t, 30, m.Closing, 0.01)
}

func TestOpeningFallsBackToAggregate(t *testing.T) {
	repo := newMemoryRepo()
	repo.stock[cellKey(1, 7)] = 42
	svc := NewService(repo, nil, nil)

	m, err := svc.RecordMovement(context.Background(), 1, 7, day("2024-03-01"), Delta{Outgoing: 2})
	require.NoError(t, err)
	require.InDelta(t, 42, m.Opening, 0.01)
	require.InDelta(t, 40, m.Closing, 0.01)
}

func TestBackdatedEditPropagatesForward(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil)
	ctx := context.Background()

	deltas := []Delta{
		{Incoming: 100},
		{Outgoing: 10},
		{Outgoing: 20},
		{Incoming: 5},
		{Outgoing: 15},
	}
	for i, d := range deltas {
		_, err := svc.RecordMovement(ctx, 1, 1, day("2024-03-01").AddDate(0, 0, i), d)
		require.NoError(t, err)
	}

	// Backfilled correction on day 2.
	_, err := svc.RecordMovement(ctx, 1, 1, day("2024-03-02"), Delta{Incoming: 40})
	require.NoError(t, err)

	rows, err := svc.GetMovements(ctx, Filter{WarehouseID: 1, ItemID: 1})
	require.NoError(t, err)
	require.Len(t, rows, 5)

	// Day 1 untouched.
	require.InDelta(t, 0, rows[0].Opening, 0.01)
	require.InDelta(t, 100, rows[0].Closing, 0.01)

	// Chain continuity across the whole timeline.
	for i := 1; i < len(rows); i++ {
		require.InDelta(t, rows[i-1].Closing, rows[i].Opening, 0.01, "day %d opening", i+1)
	}
	// Final closing includes the +40 correction: 100-10+40-20+5-15.
	require.InDelta(t, 100, rows[4].Closing, 0.01)
}

func TestRecordMovementRejectsEmptyDelta(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil, nil)
	_, err := svc.RecordMovement(context.Background(), 1, 1, day("2024-03-01"), Delta{})
	require.ErrorIs(t, err, ErrEmptyDelta)
}

func TestInitializeRefusesExistingDay(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil)
	ctx := context.Background()

	m, err := svc.Initialize(ctx, 1, 1, 75, day("2024-03-01"))
	require.NoError(t, err)
	require.InDelta(t, 75, m.Opening, 0.01)
	require.InDelta(t, 75, m.Closing, 0.01)

	_, err = svc.Initialize(ctx, 1, 1, 75, day("2024-03-01"))
	require.ErrorIs(t, err, ErrMovementExists)
}

func TestBootstrapSeedsOnlyEmptyCells(t *testing.T) {
	repo := newMemoryRepo()
	repo.stock[cellKey(1, 1)] = 10
	repo.stock[cellKey(1, 2)] = 20
	svc := NewService(repo, nil, nil)
	ctx := context.Background()

	_, err := svc.RecordMovement(ctx, 1, 1, day("2024-03-01"), Delta{Incoming: 10})
	require.NoError(t, err)

	seeded, err := svc.BootstrapAll(ctx, day("2024-03-05"))
	require.NoError(t, err)
	require.Equal(t, 1, seeded)

	rows, err := svc.GetMovements(ctx, Filter{WarehouseID: 1, ItemID: 2})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.InDelta(t, 20, rows[0].Opening, 0.01)
	require.InDelta(t, 20, rows[0].Closing, 0.01)
	require.InDelta(t, 0, rows[0].Net(), 0.01)
}

func TestGetMovementsWindow(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		_, err := svc.RecordMovement(ctx, 1, 1, day("2024-03-01").AddDate(0, 0, i), Delta{Incoming: 1})
		require.NoError(t, err)
	}

	rows, err := svc.GetMovements(ctx, Filter{WarehouseID: 1, ItemID: 1, From: day("2024-03-03"), To: day("2024-03-05")})
	require.NoError(t, err)
	require.Len(t, rows, 3)
	require.Equal(t, day("2024-03-03"), rows[0].Day)
	require.Equal(t, day("2024-03-05"), rows[2].Day)
}
