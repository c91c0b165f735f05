package inventory

import "sort"

// sortFIFO orders candidate batches for consumption: expiry date ascending
// with never-expiring batches last, then receipt time ascending, then ID for
// a stable total order.
func sortFIFO(batches []Batch) {
	sort.SliceStable(batches, func(a, b int) bool {
		ba, bb := batches[a], batches[b]
		switch {
		case ba.ExpiresAt != nil && bb.ExpiresAt == nil:
			return true
		case ba.ExpiresAt == nil && bb.ExpiresAt != nil:
			return false
		case ba.ExpiresAt != nil && bb.ExpiresAt != nil && !ba.ExpiresAt.Equal(*bb.ExpiresAt):
			return ba.ExpiresAt.Before(*bb.ExpiresAt)
		}
		if !ba.ReceivedAt.Equal(bb.ReceivedAt) {
			return ba.ReceivedAt.Before(bb.ReceivedAt)
		}
		return ba.ID < bb.ID
	})
}

// PlanAllocation selects batches to satisfy required using FIFO order and
// returns the consumption plan without mutating anything. Each batch is
// consumed fully until the remainder fits inside a single batch, which is
// consumed partially. When the candidates cannot cover required, an
// InsufficientStockError identifying the (warehouse, item) cell is returned
// and the caller must not apply any decrement.
func PlanAllocation(warehouseID, itemID int64, batches []Batch, required float64) ([]Allocation, error) {
	if required <= 0 {
		return nil, ErrInvalidQuantity
	}

	candidates := make([]Batch, 0, len(batches))
	available := 0.0
	for _, b := range batches {
		if b.Quantity > 0 {
			candidates = append(candidates, b)
			available += b.Quantity
		}
	}
	if available+1e-9 < required {
		return nil, &InsufficientStockError{
			WarehouseID: warehouseID,
			ItemID:      itemID,
			Required:    required,
			Available:   available,
		}
	}

	sortFIFO(candidates)

	var plan []Allocation
	remaining := required
	for _, b := range candidates {
		take := b.Quantity
		if take > remaining {
			take = remaining
		}
		plan = append(plan, Allocation{BatchID: b.ID, Quantity: take})
		remaining -= take
		if remaining <= 1e-9 {
			break
		}
	}
	return plan, nil
}
