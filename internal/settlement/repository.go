package settlement

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-erp/meridian-erp/internal/inventory"
	"github.com/meridian-erp/meridian-erp/internal/platform/db"
	"github.com/meridian-erp/meridian-erp/internal/sales"
)

// Repository persists settlement state in PostgreSQL. It reads invoices and
// mutates batch rows directly so one transaction covers the whole event.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
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

// GetInvoiceForUpdate row-locks the invoice and loads its lines.
func (t *txRepo) GetInvoiceForUpdate(ctx context.Context, invoiceID int64) (sales.Invoice, error) {
	var inv sales.Invoice
	err := t.tx.QueryRow(ctx,
		`SELECT id, code, customer_id, warehouse_id, payment_confirmed, delivery_status, issued_at, created_at
		 FROM sales_invoices WHERE id = $1 FOR UPDATE`, invoiceID,
	).Scan(&inv.ID, &inv.Code, &inv.CustomerID, &inv.WarehouseID,
		&inv.PaymentConfirmed, &inv.DeliveryStatus, &inv.IssuedAt, &inv.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return sales.Invoice{}, sales.ErrInvoiceNotFound
		}
		return sales.Invoice{}, err
	}

	rows, err := t.tx.Query(ctx,
		`SELECT id, invoice_id, item_id, quantity, unit_price, gift_kind, gift_item_id, gift_quantity
		 FROM sales_invoice_lines WHERE invoice_id = $1 ORDER BY id`, invoiceID)
	if err != nil {
		return sales.Invoice{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var l sales.InvoiceLine
		var giftItemID *int64
		if err := rows.Scan(&l.ID, &l.InvoiceID, &l.ItemID, &l.Quantity, &l.UnitPrice,
			&l.GiftKind, &giftItemID, &l.GiftQuantity); err != nil {
			return sales.Invoice{}, err
		}
		if giftItemID != nil {
			l.GiftItemID = *giftItemID
		}
		inv.Lines = append(inv.Lines, l)
	}
	return inv, rows.Err()
}

// DeliveredTotals sums prior delivery-item rows per invoice line.
func (t *txRepo) DeliveredTotals(ctx context.Context, invoiceID int64) (map[int64]DeliveredTotal, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT di.line_id, COALESCE(SUM(di.quantity), 0), COALESCE(SUM(di.gift_quantity), 0)
		 FROM inventory_delivery_items di
		 JOIN inventory_deliveries d ON d.id = di.delivery_id
		 WHERE d.invoice_id = $1
		 GROUP BY di.line_id`, invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[int64]DeliveredTotal{}
	for rows.Next() {
		var lineID int64
		var total DeliveredTotal
		if err := rows.Scan(&lineID, &total.Quantity, &total.GiftQuantity); err != nil {
			return nil, err
		}
		out[lineID] = total
	}
	return out, rows.Err()
}

const batchColumns = `id, warehouse_id, item_id, received_at, expires_at, quantity, created_at`

func scanBatch(row pgx.Row) (inventory.Batch, error) {
	var b inventory.Batch
	err := row.Scan(&b.ID, &b.WarehouseID, &b.ItemID, &b.ReceivedAt, &b.ExpiresAt, &b.Quantity, &b.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return inventory.Batch{}, inventory.ErrBatchNotFound
		}
		return inventory.Batch{}, err
	}
	return b, nil
}

// ListOpenBatchesForUpdate row-locks the cell's non-empty batches in FIFO
// order: expiry ascending with nulls last, then receipt, then id.
func (t *txRepo) ListOpenBatchesForUpdate(ctx context.Context, warehouseID, itemID int64) ([]inventory.Batch, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT `+batchColumns+` FROM stock_batches
		 WHERE warehouse_id = $1 AND item_id = $2 AND quantity > 0
		 ORDER BY expires_at ASC NULLS LAST, received_at ASC, id ASC
		 FOR UPDATE`, warehouseID, itemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []inventory.Batch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// GetBatchForUpdate row-locks one batch.
func (t *txRepo) GetBatchForUpdate(ctx context.Context, batchID int64) (inventory.Batch, error) {
	return scanBatch(t.tx.QueryRow(ctx,
		`SELECT `+batchColumns+` FROM stock_batches WHERE id = $1 FOR UPDATE`, batchID))
}

// DecrementBatch subtracts qty, guarded against going negative. A guard miss
// on an existing batch means its remainder was consumed concurrently.
func (t *txRepo) DecrementBatch(ctx context.Context, batchID int64, qty float64) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE stock_batches SET quantity = quantity - $2 WHERE id = $1 AND quantity >= $2`, batchID, qty)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := t.tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM stock_batches WHERE id = $1)`, batchID,
		).Scan(&exists); err != nil {
			return err
		}
		if exists {
			return inventory.ErrBatchDrained
		}
		return inventory.ErrBatchNotFound
	}
	return nil
}

// AdjustStockLevel applies a signed delta to the aggregate cell.
func (t *txRepo) AdjustStockLevel(ctx context.Context, warehouseID, itemID int64, delta float64) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO stock_levels (warehouse_id, item_id, quantity, updated_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (warehouse_id, item_id)
		 DO UPDATE SET quantity = stock_levels.quantity + $3, updated_at = $4`,
		warehouseID, itemID, delta, time.Now())
	return err
}

// InsertDelivery persists the three-level delivery record and fills in ids.
func (t *txRepo) InsertDelivery(ctx context.Context, d *Delivery) error {
	d.CreatedAt = time.Now()
	err := t.tx.QueryRow(ctx,
		`INSERT INTO inventory_deliveries (invoice_id, mode, actor_id, created_at)
		 VALUES ($1, $2, $3, $4) RETURNING id`,
		d.InvoiceID, d.Mode, d.ActorID, d.CreatedAt,
	).Scan(&d.ID)
	if err != nil {
		return err
	}
	for i := range d.Items {
		item := &d.Items[i]
		item.DeliveryID = d.ID
		var giftItemID *int64
		if item.GiftItemID != 0 {
			giftItemID = &item.GiftItemID
		}
		err = t.tx.QueryRow(ctx,
			`INSERT INTO inventory_delivery_items (delivery_id, line_id, item_id, quantity, gift_item_id, gift_quantity)
			 VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
			item.DeliveryID, item.LineID, item.ItemID, item.Quantity, giftItemID, item.GiftQuantity,
		).Scan(&item.ID)
		if err != nil {
			return err
		}
		for j := range item.Batches {
			ref := &item.Batches[j]
			ref.DeliveryItemID = item.ID
			err = t.tx.QueryRow(ctx,
				`INSERT INTO inventory_delivery_batches (delivery_item_id, batch_id, quantity, gift)
				 VALUES ($1, $2, $3, $4) RETURNING id`,
				ref.DeliveryItemID, ref.BatchID, ref.Quantity, ref.Gift,
			).Scan(&ref.ID)
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// SetDeliveryStatus updates the invoice's delivery state.
func (t *txRepo) SetDeliveryStatus(ctx context.Context, invoiceID int64, status sales.DeliveryStatus) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE sales_invoices SET delivery_status = $2 WHERE id = $1`, invoiceID, status)
	return err
}

// GetDelivery loads a single delivery event with its items and batch
// references.
func (r *Repository) GetDelivery(ctx context.Context, deliveryID int64) (Delivery, error) {
	var d Delivery
	err := r.pool.QueryRow(ctx,
		`SELECT id, invoice_id, mode, actor_id, created_at
		 FROM inventory_deliveries WHERE id = $1`, deliveryID,
	).Scan(&d.ID, &d.InvoiceID, &d.Mode, &d.ActorID, &d.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Delivery{}, ErrDeliveryNotFound
		}
		return Delivery{}, err
	}

	itemRows, err := r.pool.Query(ctx,
		`SELECT id, delivery_id, line_id, item_id, quantity, gift_item_id, gift_quantity
		 FROM inventory_delivery_items WHERE delivery_id = $1 ORDER BY id`, deliveryID)
	if err != nil {
		return Delivery{}, err
	}
	defer itemRows.Close()
	itemIndex := map[int64]int{}
	for itemRows.Next() {
		var item DeliveryItem
		var giftItemID *int64
		if err := itemRows.Scan(&item.ID, &item.DeliveryID, &item.LineID, &item.ItemID,
			&item.Quantity, &giftItemID, &item.GiftQuantity); err != nil {
			return Delivery{}, err
		}
		if giftItemID != nil {
			item.GiftItemID = *giftItemID
		}
		itemIndex[item.ID] = len(d.Items)
		d.Items = append(d.Items, item)
	}
	if err := itemRows.Err(); err != nil {
		return Delivery{}, err
	}

	batchRows, err := r.pool.Query(ctx,
		`SELECT db.id, db.delivery_item_id, db.batch_id, db.quantity, db.gift
		 FROM inventory_delivery_batches db
		 JOIN inventory_delivery_items di ON di.id = db.delivery_item_id
		 WHERE di.delivery_id = $1 ORDER BY db.id`, deliveryID)
	if err != nil {
		return Delivery{}, err
	}
	defer batchRows.Close()
	for batchRows.Next() {
		var ref DeliveryBatch
		if err := batchRows.Scan(&ref.ID, &ref.DeliveryItemID, &ref.BatchID, &ref.Quantity, &ref.Gift); err != nil {
			return Delivery{}, err
		}
		if pos, ok := itemIndex[ref.DeliveryItemID]; ok {
			d.Items[pos].Batches = append(d.Items[pos].Batches, ref)
		}
	}
	return d, batchRows.Err()
}

// ListDeliveries loads an invoice's settlement history with items and
// batch references, oldest first.
func (r *Repository) ListDeliveries(ctx context.Context, invoiceID int64) ([]Delivery, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, invoice_id, mode, actor_id, created_at
		 FROM inventory_deliveries WHERE invoice_id = $1 ORDER BY id`, invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Delivery
	index := map[int64]int{}
	for rows.Next() {
		var d Delivery
		if err := rows.Scan(&d.ID, &d.InvoiceID, &d.Mode, &d.ActorID, &d.CreatedAt); err != nil {
			return nil, err
		}
		index[d.ID] = len(out)
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return out, nil
	}

	itemRows, err := r.pool.Query(ctx,
		`SELECT di.id, di.delivery_id, di.line_id, di.item_id, di.quantity, di.gift_item_id, di.gift_quantity
		 FROM inventory_delivery_items di
		 JOIN inventory_deliveries d ON d.id = di.delivery_id
		 WHERE d.invoice_id = $1 ORDER BY di.id`, invoiceID)
	if err != nil {
		return nil, err
	}
	defer itemRows.Close()
	itemIndex := map[int64][2]int{}
	for itemRows.Next() {
		var item DeliveryItem
		var giftItemID *int64
		if err := itemRows.Scan(&item.ID, &item.DeliveryID, &item.LineID, &item.ItemID,
			&item.Quantity, &giftItemID, &item.GiftQuantity); err != nil {
			return nil, err
		}
		if giftItemID != nil {
			item.GiftItemID = *giftItemID
		}
		di := index[item.DeliveryID]
		out[di].Items = append(out[di].Items, item)
		itemIndex[item.ID] = [2]int{di, len(out[di].Items) - 1}
	}
	if err := itemRows.Err(); err != nil {
		return nil, err
	}

	batchRows, err := r.pool.Query(ctx,
		`SELECT db.id, db.delivery_item_id, db.batch_id, db.quantity, db.gift
		 FROM inventory_delivery_batches db
		 JOIN inventory_delivery_items di ON di.id = db.delivery_item_id
		 JOIN inventory_deliveries d ON d.id = di.delivery_id
		 WHERE d.invoice_id = $1 ORDER BY db.id`, invoiceID)
	if err != nil {
		return nil, err
	}
	defer batchRows.Close()
	for batchRows.Next() {
		var ref DeliveryBatch
		if err := batchRows.Scan(&ref.ID, &ref.DeliveryItemID, &ref.BatchID, &ref.Quantity, &ref.Gift); err != nil {
			return nil, err
		}
		pos, ok := itemIndex[ref.DeliveryItemID]
		if !ok {
			continue
		}
		item := &out[pos[0]].Items[pos[1]]
		item.Batches = append(item.Batches, ref)
	}
	return out, batchRows.Err()
}
