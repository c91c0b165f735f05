package ledger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRebuildRepairsDrift(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil)
	ctx := context.Background()

	_, err := svc.RecordMovement(ctx, 1, 1, day("2024-03-01"), Delta{Incoming: 100})
	require.NoError(t, err)
	_, err = svc.RecordMovement(ctx, 1, 1, day("2024-03-02"), Delta{Outgoing: 30})
	require.NoError(t, err)
	_, err = svc.RecordMovement(ctx, 1, 1, day("2024-03-03"), Delta{Outgoing: 20})
	require.NoError(t, err)

	// Simulate drift from a manual edit: corrupt day 2's balances directly.
	key := cellKey(1, 1)
	repo.movements[key][1].Opening = 90
	repo.movements[key][1].Closing = 60
	// Batch-backed aggregate says the true current quantity is 50.
	repo.stock[key] = 50

	res, err := svc.Rebuild(ctx, 1, 1)
	require.NoError(t, err)
	require.Equal(t, 3, res.Rows)
	require.GreaterOrEqual(t, res.Repaired, 1)
	require.InDelta(t, 0, res.Baseline, 0.01)

	rows, err := svc.GetMovements(ctx, Filter{WarehouseID: 1, ItemID: 1})
	require.NoError(t, err)
	for i := 1; i < len(rows); i++ {
		require.InDelta(t, rows[i-1].Closing, rows[i].Opening, 0.01)
	}
	require.InDelta(t, 50, rows[2].Closing, 0.01)
}

func TestRebuildBackCalculatesBaselineFromAggregate(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil)
	ctx := context.Background()

	// History recorded before the aggregate was corrected: net change is -25.
	_, err := svc.RecordMovement(ctx, 2, 9, day("2024-05-01"), Delta{Outgoing: 25})
	require.NoError(t, err)
	repo.stock[cellKey(2, 9)] = 75

	res, err := svc.Rebuild(ctx, 2, 9)
	require.NoError(t, err)
	// Opening must have been 100 for the final closing to match 75.
	require.InDelta(t, 100, res.Baseline, 0.01)

	rows, err := svc.GetMovements(ctx, Filter{WarehouseID: 2, ItemID: 9})
	require.NoError(t, err)
	require.InDelta(t, 100, rows[0].Opening, 0.01)
	require.InDelta(t, 75, rows[0].Closing, 0.01)
}

func TestRebuildCleanTimelineWritesNothing(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil)
	ctx := context.Background()

	_, err := svc.RecordMovement(ctx, 1, 1, day("2024-03-01"), Delta{Incoming: 40})
	require.NoError(t, err)
	_, err = svc.RecordMovement(ctx, 1, 1, day("2024-03-02"), Delta{Outgoing: 10})
	require.NoError(t, err)
	repo.stock[cellKey(1, 1)] = 30

	before := repo.updates
	res, err := svc.Rebuild(ctx, 1, 1)
	require.NoError(t, err)
	require.Equal(t, 0, res.Repaired)
	require.Equal(t, before, repo.updates)
}

func TestRebuildEmptyTimeline(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil)

	res, err := svc.Rebuild(context.Background(), 3, 3)
	require.NoError(t, err)
	require.Equal(t, 0, res.Rows)
	require.Equal(t, 0, res.Repaired)
}
