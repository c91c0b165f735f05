package inventory

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-erp/meridian-erp/internal/platform/db"
)

// Repository persists batches and the aggregate stock view in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations used by the service.
type TxRepository interface {
	InsertBatch(ctx context.Context, b Batch) (int64, error)
	ListOpenBatchesForUpdate(ctx context.Context, warehouseID, itemID int64) ([]Batch, error)
	DecrementBatch(ctx context.Context, batchID int64, qty float64) error
	AdjustStockLevel(ctx context.Context, warehouseID, itemID int64, delta float64) error
	SetStockLevel(ctx context.Context, warehouseID, itemID int64, qty float64) error
	GetStockLevelForUpdate(ctx context.Context, warehouseID, itemID int64) (StockLevel, error)
	SumBatchQuantity(ctx context.Context, warehouseID, itemID int64) (float64, error)
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

const batchColumns = `id, warehouse_id, item_id, received_at, expires_at, quantity, created_at`

func scanBatch(row pgx.Row) (Batch, error) {
	var b Batch
	err := row.Scan(&b.ID, &b.WarehouseID, &b.ItemID, &b.ReceivedAt, &b.ExpiresAt, &b.Quantity, &b.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Batch{}, ErrBatchNotFound
		}
		return Batch{}, err
	}
	return b, nil
}

func collectBatches(rows pgx.Rows) ([]Batch, error) {
	defer rows.Close()
	var out []Batch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// GetStockLevel reads one aggregate cell.
func (r *Repository) GetStockLevel(ctx context.Context, warehouseID, itemID int64) (StockLevel, error) {
	var level StockLevel
	err := r.pool.QueryRow(ctx,
		`SELECT warehouse_id, item_id, quantity, updated_at FROM stock_levels WHERE warehouse_id = $1 AND item_id = $2`,
		warehouseID, itemID,
	).Scan(&level.WarehouseID, &level.ItemID, &level.Quantity, &level.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return StockLevel{WarehouseID: warehouseID, ItemID: itemID}, ErrStockLevelNotFound
	}
	return level, err
}

// ListBatches returns every batch of a cell, exhausted lots included.
func (r *Repository) ListBatches(ctx context.Context, warehouseID, itemID int64) ([]Batch, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+batchColumns+` FROM stock_batches WHERE warehouse_id = $1 AND item_id = $2 ORDER BY received_at, id`,
		warehouseID, itemID,
	)
	if err != nil {
		return nil, err
	}
	return collectBatches(rows)
}

// ListStockLevels enumerates every aggregate cell.
func (r *Repository) ListStockLevels(ctx context.Context) ([]StockLevel, error) {
	rows, err := r.pool.Query(ctx, `SELECT warehouse_id, item_id, quantity, updated_at FROM stock_levels ORDER BY warehouse_id, item_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []StockLevel
	for rows.Next() {
		var level StockLevel
		if err := rows.Scan(&level.WarehouseID, &level.ItemID, &level.Quantity, &level.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, level)
	}
	return out, rows.Err()
}

// SumBatchQuantity totals batch quantity for a cell outside a transaction.
func (r *Repository) SumBatchQuantity(ctx context.Context, warehouseID, itemID int64) (float64, error) {
	var sum float64
	err := r.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(quantity), 0) FROM stock_batches WHERE warehouse_id = $1 AND item_id = $2`,
		warehouseID, itemID,
	).Scan(&sum)
	return sum, err
}

func (r *txRepo) InsertBatch(ctx context.Context, b Batch) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx,
		`INSERT INTO stock_batches (warehouse_id, item_id, received_at, expires_at, quantity, created_at)
		 VALUES ($1, $2, $3, $4, $5, NOW()) RETURNING id`,
		b.WarehouseID, b.ItemID, b.ReceivedAt, b.ExpiresAt, b.Quantity,
	).Scan(&id)
	return id, err
}

func (r *txRepo) ListOpenBatchesForUpdate(ctx context.Context, warehouseID, itemID int64) ([]Batch, error) {
	rows, err := r.tx.Query(ctx,
		`SELECT `+batchColumns+` FROM stock_batches
		 WHERE warehouse_id = $1 AND item_id = $2 AND quantity > 0
		 ORDER BY received_at, id
		 FOR UPDATE`,
		warehouseID, itemID,
	)
	if err != nil {
		return nil, err
	}
	return collectBatches(rows)
}

func (r *txRepo) DecrementBatch(ctx context.Context, batchID int64, qty float64) error {
	tag, err := r.tx.Exec(ctx,
		`UPDATE stock_batches SET quantity = quantity - $2 WHERE id = $1 AND quantity >= $2`,
		batchID, qty,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := r.tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM stock_batches WHERE id = $1)`, batchID,
		).Scan(&exists); err != nil {
			return err
		}
		if exists {
			return ErrBatchDrained
		}
		return ErrBatchNotFound
	}
	return nil
}

func (r *txRepo) AdjustStockLevel(ctx context.Context, warehouseID, itemID int64, delta float64) error {
	_, err := r.tx.Exec(ctx,
		`INSERT INTO stock_levels (warehouse_id, item_id, quantity, updated_at)
		 VALUES ($1, $2, $3, NOW())
		 ON CONFLICT (warehouse_id, item_id)
		 DO UPDATE SET quantity = stock_levels.quantity + EXCLUDED.quantity, updated_at = NOW()`,
		warehouseID, itemID, delta,
	)
	return err
}

func (r *txRepo) SetStockLevel(ctx context.Context, warehouseID, itemID int64, qty float64) error {
	_, err := r.tx.Exec(ctx,
		`INSERT INTO stock_levels (warehouse_id, item_id, quantity, updated_at)
		 VALUES ($1, $2, $3, NOW())
		 ON CONFLICT (warehouse_id, item_id)
		 DO UPDATE SET quantity = EXCLUDED.quantity, updated_at = NOW()`,
		warehouseID, itemID, qty,
	)
	return err
}

func (r *txRepo) GetStockLevelForUpdate(ctx context.Context, warehouseID, itemID int64) (StockLevel, error) {
	var level StockLevel
	err := r.tx.QueryRow(ctx,
		`SELECT warehouse_id, item_id, quantity, updated_at FROM stock_levels WHERE warehouse_id = $1 AND item_id = $2 FOR UPDATE`,
		warehouseID, itemID,
	).Scan(&level.WarehouseID, &level.ItemID, &level.Quantity, &level.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return StockLevel{WarehouseID: warehouseID, ItemID: itemID}, ErrStockLevelNotFound
	}
	return level, err
}

func (r *txRepo) SumBatchQuantity(ctx context.Context, warehouseID, itemID int64) (float64, error) {
	var sum float64
	err := r.tx.QueryRow(ctx,
		`SELECT COALESCE(SUM(quantity), 0) FROM stock_batches WHERE warehouse_id = $1 AND item_id = $2`,
		warehouseID, itemID,
	).Scan(&sum)
	return sum, err
}
