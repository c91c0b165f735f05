package inventory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func expiry(s string) *time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return &t
}

func received(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func testBatches() []Batch {
	return []Batch{
		{ID: 3, WarehouseID: 1, ItemID: 1, ReceivedAt: received("2023-12-01"), ExpiresAt: nil, Quantity: 50},
		{ID: 2, WarehouseID: 1, ItemID: 1, ReceivedAt: received("2023-12-10"), ExpiresAt: expiry("2024-02-01"), Quantity: 40},
		{ID: 1, WarehouseID: 1, ItemID: 1, ReceivedAt: received("2023-12-20"), ExpiresAt: expiry("2024-01-01"), Quantity: 60},
	}
}

func TestPlanConsumesEarliestExpiryFirst(t *testing.T) {
	plan, err := PlanAllocation(1, 1, testBatches(), 30)
	require.NoError(t, err)
	require.Len(t, plan, 1)
	require.Equal(t, int64(1), plan[0].BatchID)
	require.InDelta(t, 30, plan[0].Quantity, 0.01)
}

func TestPlanSpillsIntoNextExpiry(t *testing.T) {
	plan, err := PlanAllocation(1, 1, testBatches(), 70)
	require.NoError(t, err)
	require.Len(t, plan, 2)
	require.Equal(t, int64(1), plan[0].BatchID)
	require.InDelta(t, 60, plan[0].Quantity, 0.01)
	require.Equal(t, int64(2), plan[1].BatchID)
	require.InDelta(t, 10, plan[1].Quantity, 0.01)
}

func TestPlanTouchesNoExpiryBatchLast(t *testing.T) {
	plan, err := PlanAllocation(1, 1, testBatches(), 120)
	require.NoError(t, err)
	require.Len(t, plan, 3)
	require.Equal(t, int64(1), plan[0].BatchID)
	require.Equal(t, int64(2), plan[1].BatchID)
	require.Equal(t, int64(3), plan[2].BatchID)
	require.InDelta(t, 20, plan[2].Quantity, 0.01)
}

func TestPlanTieBreaksOnReceiptTime(t *testing.T) {
	batches := []Batch{
		{ID: 9, ReceivedAt: received("2024-01-15"), ExpiresAt: expiry("2024-06-01"), Quantity: 10},
		{ID: 4, ReceivedAt: received("2024-01-05"), ExpiresAt: expiry("2024-06-01"), Quantity: 10},
	}
	plan, err := PlanAllocation(1, 1, batches, 15)
	require.NoError(t, err)
	require.Len(t, plan, 2)
	require.Equal(t, int64(4), plan[0].BatchID)
	require.Equal(t, int64(9), plan[1].BatchID)
}

func TestPlanSkipsExhaustedBatches(t *testing.T) {
	batches := []Batch{
		{ID: 1, ReceivedAt: received("2024-01-01"), Quantity: 0},
		{ID: 2, ReceivedAt: received("2024-02-01"), Quantity: 25},
	}
	plan, err := PlanAllocation(1, 1, batches, 25)
	require.NoError(t, err)
	require.Len(t, plan, 1)
	require.Equal(t, int64(2), plan[0].BatchID)
}

func TestPlanInsufficientStock(t *testing.T) {
	_, err := PlanAllocation(1, 1, testBatches(), 151)
	var shortage *InsufficientStockError
	require.ErrorAs(t, err, &shortage)
	require.Equal(t, int64(1), shortage.WarehouseID)
	require.Equal(t, int64(1), shortage.ItemID)
	require.InDelta(t, 151, shortage.Required, 0.01)
	require.InDelta(t, 150, shortage.Available, 0.01)
	require.InDelta(t, 1, shortage.Shortfall(), 0.01)
}

func TestPlanEmptyCellIdentifiesShortage(t *testing.T) {
	_, err := PlanAllocation(7, 42, nil, 5)
	var shortage *InsufficientStockError
	require.ErrorAs(t, err, &shortage)
	require.Equal(t, int64(7), shortage.WarehouseID)
	require.Equal(t, int64(42), shortage.ItemID)
	require.InDelta(t, 5, shortage.Required, 0.01)
	require.InDelta(t, 0, shortage.Available, 0.01)
}

func TestPlanRejectsNonPositiveQuantity(t *testing.T) {
	_, err := PlanAllocation(1, 1, testBatches(), 0)
	require.ErrorIs(t, err, ErrInvalidQuantity)
	_, err = PlanAllocation(1, 1, testBatches(), -5)
	require.ErrorIs(t, err, ErrInvalidQuantity)
}

func TestPlanExactFullConsumption(t *testing.T) {
	plan, err := PlanAllocation(1, 1, testBatches(), 150)
	require.NoError(t, err)
	total := 0.0
	for _, alloc := range plan {
		total += alloc.Quantity
	}
	require.InDelta(t, 150, total, 0.01)
}
