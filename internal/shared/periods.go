package shared

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Period statuses shared across modules.
const (
	PeriodStatusOpen   = "OPEN"
	PeriodStatusClosed = "CLOSED"
	PeriodStatusLocked = "LOCKED"
)

// ErrInvalidPeriodTransition indicates status change not allowed.
var ErrInvalidPeriodTransition = errors.New("period transition invalid")

// ValidatePeriodTransition checks transitions according to policy.
func ValidatePeriodTransition(current, target string, hasOverride bool) error {
	if current == target {
		return nil
	}
	switch current {
	case PeriodStatusOpen:
		if target == PeriodStatusClosed || target == PeriodStatusLocked {
			return nil
		}
	case PeriodStatusClosed:
		if target == PeriodStatusOpen {
			return nil
		}
		if target == PeriodStatusLocked {
			return nil
		}
	case PeriodStatusLocked:
		if target == PeriodStatusClosed && hasOverride {
			return nil
		}
	}
	return ErrInvalidPeriodTransition
}

// PeriodPort answers whether the books are open for a given operation date.
// Stock-affecting operations consult it before writing anything.
type PeriodPort interface {
	IsOpen(ctx context.Context, at time.Time) (bool, error)
}

// PeriodGate resolves period status from the accounting_periods table.
// A date with no period row is treated as open; closing the books is an
// explicit act, not the default.
type PeriodGate struct {
	pool *pgxpool.Pool
}

// NewPeriodGate constructs a PeriodGate.
func NewPeriodGate(pool *pgxpool.Pool) *PeriodGate {
	return &PeriodGate{pool: pool}
}

// IsOpen reports whether the period covering at accepts postings.
func (g *PeriodGate) IsOpen(ctx context.Context, at time.Time) (bool, error) {
	if g == nil || g.pool == nil {
		return true, nil
	}
	const query = `SELECT status FROM accounting_periods WHERE period = to_char($1::date, 'YYYY-MM') LIMIT 1`
	var status string
	if err := g.pool.QueryRow(ctx, query, at).Scan(&status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return true, nil
		}
		return false, err
	}
	return status == PeriodStatusOpen, nil
}
