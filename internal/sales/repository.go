package sales

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-erp/meridian-erp/internal/platform/db"
)

// Repository persists invoices in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const invoiceColumns = `id, code, customer_id, warehouse_id, payment_confirmed, delivery_status, issued_at, created_at`

const lineColumns = `id, invoice_id, item_id, quantity, unit_price, gift_kind, gift_item_id, gift_quantity`

func scanInvoice(row pgx.Row) (Invoice, error) {
	var inv Invoice
	err := row.Scan(&inv.ID, &inv.Code, &inv.CustomerID, &inv.WarehouseID,
		&inv.PaymentConfirmed, &inv.DeliveryStatus, &inv.IssuedAt, &inv.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Invoice{}, ErrInvoiceNotFound
		}
		return Invoice{}, err
	}
	return inv, nil
}

func (r *Repository) loadLines(ctx context.Context, invoiceID int64) ([]InvoiceLine, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+lineColumns+` FROM sales_invoice_lines WHERE invoice_id = $1 ORDER BY id`, invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []InvoiceLine
	for rows.Next() {
		var l InvoiceLine
		var giftItemID *int64
		if err := rows.Scan(&l.ID, &l.InvoiceID, &l.ItemID, &l.Quantity, &l.UnitPrice,
			&l.GiftKind, &giftItemID, &l.GiftQuantity); err != nil {
			return nil, err
		}
		if giftItemID != nil {
			l.GiftItemID = *giftItemID
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// GetInvoice loads one invoice with its lines.
func (r *Repository) GetInvoice(ctx context.Context, id int64) (Invoice, error) {
	inv, err := scanInvoice(r.pool.QueryRow(ctx,
		`SELECT `+invoiceColumns+` FROM sales_invoices WHERE id = $1`, id))
	if err != nil {
		return Invoice{}, err
	}
	inv.Lines, err = r.loadLines(ctx, id)
	return inv, err
}

// ListInvoices returns invoices for a customer, newest first.
func (r *Repository) ListInvoices(ctx context.Context, customerID int64, limit int) ([]Invoice, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx,
		`SELECT `+invoiceColumns+` FROM sales_invoices WHERE customer_id = $1 ORDER BY issued_at DESC LIMIT $2`,
		customerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

// CreateInvoice inserts the invoice and its lines in one transaction.
func (r *Repository) CreateInvoice(ctx context.Context, inv Invoice) (Invoice, error) {
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx,
			`INSERT INTO sales_invoices (code, customer_id, warehouse_id, payment_confirmed, delivery_status, issued_at, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)
			 RETURNING id`,
			inv.Code, inv.CustomerID, inv.WarehouseID, inv.PaymentConfirmed,
			inv.DeliveryStatus, inv.IssuedAt, time.Now(),
		).Scan(&inv.ID)
		if err != nil {
			return err
		}
		for i := range inv.Lines {
			line := &inv.Lines[i]
			line.InvoiceID = inv.ID
			var giftItemID *int64
			if line.GiftItemID != 0 {
				giftItemID = &line.GiftItemID
			}
			err = tx.QueryRow(ctx,
				`INSERT INTO sales_invoice_lines (invoice_id, item_id, quantity, unit_price, gift_kind, gift_item_id, gift_quantity)
				 VALUES ($1, $2, $3, $4, $5, $6, $7)
				 RETURNING id`,
				line.InvoiceID, line.ItemID, line.Quantity, line.UnitPrice,
				line.GiftKind, giftItemID, line.GiftQuantity,
			).Scan(&line.ID)
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Invoice{}, err
	}
	return inv, nil
}

// ConfirmPayment marks the invoice payable for delivery settlement.
func (r *Repository) ConfirmPayment(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE sales_invoices SET payment_confirmed = TRUE WHERE id = $1 AND payment_confirmed = FALSE`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := r.pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM sales_invoices WHERE id = $1)`, id).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrInvoiceNotFound
		}
		return ErrPaymentAlreadyConfirmed
	}
	return nil
}
