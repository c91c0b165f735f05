package sales

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

type memoryRepo struct {
	invoices map[int64]Invoice
	nextID   int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{invoices: map[int64]Invoice{}, nextID: 1}
}

func (r *memoryRepo) GetInvoice(_ context.Context, id int64) (Invoice, error) {
	inv, ok := r.invoices[id]
	if !ok {
		return Invoice{}, ErrInvoiceNotFound
	}
	return inv, nil
}

func (r *memoryRepo) ListInvoices(_ context.Context, customerID int64, _ int) ([]Invoice, error) {
	var out []Invoice
	for _, inv := range r.invoices {
		if inv.CustomerID == customerID {
			out = append(out, inv)
		}
	}
	return out, nil
}

func (r *memoryRepo) CreateInvoice(_ context.Context, inv Invoice) (Invoice, error) {
	inv.ID = r.nextID
	r.nextID++
	for i := range inv.Lines {
		inv.Lines[i].ID = int64(i + 1)
		inv.Lines[i].InvoiceID = inv.ID
	}
	r.invoices[inv.ID] = inv
	return inv, nil
}

func (r *memoryRepo) ConfirmPayment(_ context.Context, id int64) error {
	inv, ok := r.invoices[id]
	if !ok {
		return ErrInvoiceNotFound
	}
	if inv.PaymentConfirmed {
		return ErrPaymentAlreadyConfirmed
	}
	inv.PaymentConfirmed = true
	r.invoices[id] = inv
	return nil
}

type stubPeriods struct {
	open bool
}

func (p stubPeriods) IsOpen(context.Context, time.Time) (bool, error) {
	return p.open, nil
}

func newTestService(repo *memoryRepo) *Service {
	return NewService(repo, nil, stubPeriods{open: true}, slog.Default())
}

func TestCreateInvoiceDefaultsAndTotals(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)

	inv, err := svc.CreateInvoice(context.Background(), CreateInvoiceInput{
		Code: "INV-001", CustomerID: 4, WarehouseID: 1,
		Lines: []InvoiceLine{
			{ItemID: 7, Quantity: 10, UnitPrice: 2.5},
			{ItemID: 8, Quantity: 4, UnitPrice: 10},
		},
	})
	require.NoError(t, err)
	require.Equal(t, DeliveryStatusNotDelivered, inv.DeliveryStatus)
	require.False(t, inv.PaymentConfirmed)
	require.Equal(t, GiftNone, inv.Lines[0].GiftKind)
	require.InDelta(t, 65, inv.Total(), 0.01)
}

func TestCreateInvoiceValidatesGiftVariants(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)

	cases := []struct {
		name string
		line InvoiceLine
	}{
		{"distinct gift without item", InvoiceLine{ItemID: 7, Quantity: 1, GiftKind: GiftDistinctItem, GiftQuantity: 2}},
		{"same-item gift with foreign item", InvoiceLine{ItemID: 7, Quantity: 1, GiftKind: GiftSameItem, GiftItemID: 8, GiftQuantity: 2}},
		{"gift quantity without kind", InvoiceLine{ItemID: 7, Quantity: 1, GiftKind: GiftNone, GiftQuantity: 2}},
		{"zero gift quantity", InvoiceLine{ItemID: 7, Quantity: 1, GiftKind: GiftSameItem}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.CreateInvoice(context.Background(), CreateInvoiceInput{
				Code: "INV-002", CustomerID: 4, WarehouseID: 1,
				Lines: []InvoiceLine{tc.line},
			})
			require.ErrorIs(t, err, ErrInvalidLine)
		})
	}
}

func TestCreateInvoiceRejectsClosedPeriod(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, stubPeriods{open: false}, slog.Default())

	_, err := svc.CreateInvoice(context.Background(), CreateInvoiceInput{
		Code: "INV-003", CustomerID: 4, WarehouseID: 1,
		Lines: []InvoiceLine{{ItemID: 7, Quantity: 1}},
	})
	require.ErrorIs(t, err, shared.ErrPeriodClosed)
	require.Empty(t, repo.invoices)
}

func TestConfirmPaymentOnce(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)

	inv, err := svc.CreateInvoice(context.Background(), CreateInvoiceInput{
		Code: "INV-004", CustomerID: 4, WarehouseID: 1,
		Lines: []InvoiceLine{{ItemID: 7, Quantity: 1}},
	})
	require.NoError(t, err)

	require.NoError(t, svc.ConfirmPayment(context.Background(), inv.ID, 1))
	require.ErrorIs(t, svc.ConfirmPayment(context.Background(), inv.ID, 1), ErrPaymentAlreadyConfirmed)

	stored, err := svc.GetInvoice(context.Background(), inv.ID)
	require.NoError(t, err)
	require.True(t, stored.PaymentConfirmed)
}

func TestGiftTargetItem(t *testing.T) {
	require.Equal(t, int64(0), InvoiceLine{ItemID: 7, GiftKind: GiftNone}.GiftTargetItem())
	require.Equal(t, int64(7), InvoiceLine{ItemID: 7, GiftKind: GiftSameItem}.GiftTargetItem())
	require.Equal(t, int64(9), InvoiceLine{ItemID: 7, GiftKind: GiftDistinctItem, GiftItemID: 9}.GiftTargetItem())
}
