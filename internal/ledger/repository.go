package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-erp/meridian-erp/internal/platform/db"
)

// Repository persists the stock movement ledger in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations used by the service.
type TxRepository interface {
	GetMovementForUpdate(ctx context.Context, warehouseID, itemID int64, day time.Time) (Movement, error)
	GetLatestMovementBefore(ctx context.Context, warehouseID, itemID int64, day time.Time) (Movement, error)
	ListMovementsAfter(ctx context.Context, warehouseID, itemID int64, day time.Time) ([]Movement, error)
	ListMovementsForUpdate(ctx context.Context, warehouseID, itemID int64) ([]Movement, error)
	InsertMovement(ctx context.Context, m Movement) (int64, error)
	UpdateMovement(ctx context.Context, m Movement) error
	GetStockQuantity(ctx context.Context, warehouseID, itemID int64) (float64, error)
	HasMovements(ctx context.Context, warehouseID, itemID int64) (bool, error)
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx wraps the callback in a repeatable-read transaction, retrying on
// serialization failures.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

const movementColumns = `id, warehouse_id, item_id, day, opening, incoming, incoming_gifts,
       outgoing, pending_outgoing, outgoing_gifts, closing, updated_at`

func scanMovement(row pgx.Row) (Movement, error) {
	var m Movement
	err := row.Scan(
		&m.ID, &m.WarehouseID, &m.ItemID, &m.Day, &m.Opening, &m.Incoming, &m.IncomingGifts,
		&m.Outgoing, &m.PendingOutgoing, &m.OutgoingGifts, &m.Closing, &m.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Movement{}, ErrMovementNotFound
		}
		return Movement{}, err
	}
	return m, nil
}

func collectMovements(rows pgx.Rows) ([]Movement, error) {
	defer rows.Close()
	var out []Movement
	for rows.Next() {
		m, err := scanMovement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ListMovements returns the literal stored rows inside the window.
func (r *Repository) ListMovements(ctx context.Context, filter Filter) ([]Movement, error) {
	query := `
		SELECT ` + movementColumns + `
		FROM stock_movements
		WHERE warehouse_id = $1 AND item_id = $2
		  AND ($3::date IS NULL OR day >= $3)
		  AND ($4::date IS NULL OR day <= $4)
		ORDER BY day
	`
	var from, to any
	if !filter.From.IsZero() {
		from = DayOf(filter.From)
	}
	if !filter.To.IsZero() {
		to = DayOf(filter.To)
	}
	rows, err := r.pool.Query(ctx, query, filter.WarehouseID, filter.ItemID, from, to)
	if err != nil {
		return nil, err
	}
	return collectMovements(rows)
}

// ListStockCells enumerates every aggregate stock entry for bootstrapping.
func (r *Repository) ListStockCells(ctx context.Context) ([]StockCell, error) {
	rows, err := r.pool.Query(ctx, `SELECT warehouse_id, item_id, quantity FROM stock_levels ORDER BY warehouse_id, item_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var cells []StockCell
	for rows.Next() {
		var c StockCell
		if err := rows.Scan(&c.WarehouseID, &c.ItemID, &c.Quantity); err != nil {
			return nil, err
		}
		cells = append(cells, c)
	}
	return cells, rows.Err()
}

func (r *txRepo) GetMovementForUpdate(ctx context.Context, warehouseID, itemID int64, day time.Time) (Movement, error) {
	query := `
		SELECT ` + movementColumns + `
		FROM stock_movements
		WHERE warehouse_id = $1 AND item_id = $2 AND day = $3
		FOR UPDATE
	`
	return scanMovement(r.tx.QueryRow(ctx, query, warehouseID, itemID, day))
}

func (r *txRepo) GetLatestMovementBefore(ctx context.Context, warehouseID, itemID int64, day time.Time) (Movement, error) {
	query := `
		SELECT ` + movementColumns + `
		FROM stock_movements
		WHERE warehouse_id = $1 AND item_id = $2 AND day < $3
		ORDER BY day DESC
		LIMIT 1
	`
	return scanMovement(r.tx.QueryRow(ctx, query, warehouseID, itemID, day))
}

func (r *txRepo) ListMovementsAfter(ctx context.Context, warehouseID, itemID int64, day time.Time) ([]Movement, error) {
	query := `
		SELECT ` + movementColumns + `
		FROM stock_movements
		WHERE warehouse_id = $1 AND item_id = $2 AND day > $3
		ORDER BY day
		FOR UPDATE
	`
	rows, err := r.tx.Query(ctx, query, warehouseID, itemID, day)
	if err != nil {
		return nil, err
	}
	return collectMovements(rows)
}

func (r *txRepo) ListMovementsForUpdate(ctx context.Context, warehouseID, itemID int64) ([]Movement, error) {
	query := `
		SELECT ` + movementColumns + `
		FROM stock_movements
		WHERE warehouse_id = $1 AND item_id = $2
		ORDER BY day
		FOR UPDATE
	`
	rows, err := r.tx.Query(ctx, query, warehouseID, itemID)
	if err != nil {
		return nil, err
	}
	return collectMovements(rows)
}

func (r *txRepo) InsertMovement(ctx context.Context, m Movement) (int64, error) {
	query := `
		INSERT INTO stock_movements
			(warehouse_id, item_id, day, opening, incoming, incoming_gifts,
			 outgoing, pending_outgoing, outgoing_gifts, closing, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())
		RETURNING id
	`
	var id int64
	err := r.tx.QueryRow(ctx, query,
		m.WarehouseID, m.ItemID, m.Day, m.Opening, m.Incoming, m.IncomingGifts,
		m.Outgoing, m.PendingOutgoing, m.OutgoingGifts, m.Closing,
	).Scan(&id)
	return id, err
}

func (r *txRepo) UpdateMovement(ctx context.Context, m Movement) error {
	query := `
		UPDATE stock_movements
		SET opening = $2, incoming = $3, incoming_gifts = $4, outgoing = $5,
		    pending_outgoing = $6, outgoing_gifts = $7, closing = $8, updated_at = NOW()
		WHERE id = $1
	`
	_, err := r.tx.Exec(ctx, query,
		m.ID, m.Opening, m.Incoming, m.IncomingGifts, m.Outgoing,
		m.PendingOutgoing, m.OutgoingGifts, m.Closing,
	)
	return err
}

func (r *txRepo) GetStockQuantity(ctx context.Context, warehouseID, itemID int64) (float64, error) {
	var qty float64
	err := r.tx.QueryRow(ctx, `SELECT quantity FROM stock_levels WHERE warehouse_id = $1 AND item_id = $2`, warehouseID, itemID).Scan(&qty)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return qty, err
}

func (r *txRepo) HasMovements(ctx context.Context, warehouseID, itemID int64) (bool, error) {
	var exists bool
	err := r.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM stock_movements WHERE warehouse_id = $1 AND item_id = $2)`, warehouseID, itemID).Scan(&exists)
	return exists, err
}
