package ledger

import (
	"errors"
	"math"
	"time"
)

// DriftEpsilon is the tolerance applied when comparing stored balances
// against recomputed ones. Quantities are decimal-ish floats coming from
// NUMERIC columns, so exact equality is not meaningful.
const DriftEpsilon = 0.01

// Movement is one day's recorded stock activity for a (warehouse, item) pair.
// Opening of day N must equal Closing of the nearest earlier day; the
// recorder maintains that invariant by propagating every write forward.
type Movement struct {
	ID          int64
	WarehouseID int64
	ItemID      int64
	// Day is a date-only key, normalised to midnight UTC.
	Day time.Time

	Opening         float64
	Incoming        float64
	IncomingGifts   float64
	Outgoing        float64
	PendingOutgoing float64
	OutgoingGifts   float64
	Closing         float64

	UpdatedAt time.Time
}

// Recalculate derives Closing from Opening and the day's accumulators.
func (m *Movement) Recalculate() {
	m.Closing = m.Opening + m.Incoming + m.IncomingGifts - m.Outgoing - m.PendingOutgoing - m.OutgoingGifts
}

// Net returns the day's net stock change independent of Opening.
func (m *Movement) Net() float64 {
	return m.Incoming + m.IncomingGifts - m.Outgoing - m.PendingOutgoing - m.OutgoingGifts
}

// Delta carries signed increments applied to a single day's accumulators.
type Delta struct {
	Incoming        float64
	IncomingGifts   float64
	Outgoing        float64
	PendingOutgoing float64
	OutgoingGifts   float64
}

// IsZero reports whether the delta would not change any accumulator.
func (d Delta) IsZero() bool {
	return math.Abs(d.Incoming)+math.Abs(d.IncomingGifts)+math.Abs(d.Outgoing)+
		math.Abs(d.PendingOutgoing)+math.Abs(d.OutgoingGifts) < 1e-9
}

func (d Delta) apply(m *Movement) {
	m.Incoming += d.Incoming
	m.IncomingGifts += d.IncomingGifts
	m.Outgoing += d.Outgoing
	m.PendingOutgoing += d.PendingOutgoing
	m.OutgoingGifts += d.OutgoingGifts
}

// DayOf strips the time-of-day component, yielding the ledger day key.
func DayOf(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// Filter selects movements for the read path.
type Filter struct {
	WarehouseID int64
	ItemID      int64
	From        time.Time
	To          time.Time
}

// StockCell identifies one aggregate stock entry used for bootstrapping.
type StockCell struct {
	WarehouseID int64
	ItemID      int64
	Quantity    float64
}

// ErrMovementNotFound indicates no ledger row exists for the requested day.
var ErrMovementNotFound = errors.New("ledger: movement not found")

// ErrMovementExists indicates a day row is already initialised.
var ErrMovementExists = errors.New("ledger: movement already initialised")

// ErrEmptyDelta indicates a record call that would change nothing.
var ErrEmptyDelta = errors.New("ledger: delta must change at least one accumulator")
