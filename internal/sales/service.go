package sales

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// RepositoryPort abstracts invoice persistence for the service.
type RepositoryPort interface {
	GetInvoice(ctx context.Context, id int64) (Invoice, error)
	ListInvoices(ctx context.Context, customerID int64, limit int) ([]Invoice, error)
	CreateInvoice(ctx context.Context, inv Invoice) (Invoice, error)
	ConfirmPayment(ctx context.Context, id int64) error
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service provides invoice operations for the sales surface. Delivery
// settlement lives in the settlement package and only reads invoices.
type Service struct {
	repo    RepositoryPort
	audit   AuditPort
	periods shared.PeriodPort
	logger  *slog.Logger
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort, periods shared.PeriodPort, logger *slog.Logger) *Service {
	return &Service{repo: repo, audit: audit, periods: periods, logger: logger}
}

// CreateInvoiceInput describes a new order.
type CreateInvoiceInput struct {
	Code        string
	CustomerID  int64
	WarehouseID int64
	IssuedAt    time.Time
	Lines       []InvoiceLine
	ActorID     int64
}

// CreateInvoice validates and stores a new invoice in NOT_DELIVERED state.
func (s *Service) CreateInvoice(ctx context.Context, input CreateInvoiceInput) (Invoice, error) {
	if input.CustomerID == 0 || input.WarehouseID == 0 {
		return Invoice{}, errors.New("sales: customer and warehouse required")
	}
	if len(input.Lines) == 0 {
		return Invoice{}, fmt.Errorf("%w: invoice needs at least one line", ErrInvalidLine)
	}
	for i := range input.Lines {
		if input.Lines[i].GiftKind == "" {
			input.Lines[i].GiftKind = GiftNone
		}
		if err := input.Lines[i].Validate(); err != nil {
			return Invoice{}, err
		}
	}
	issuedAt := input.IssuedAt
	if issuedAt.IsZero() {
		issuedAt = time.Now().UTC()
	}
	if s.periods != nil {
		open, err := s.periods.IsOpen(ctx, issuedAt)
		if err != nil {
			return Invoice{}, err
		}
		if !open {
			return Invoice{}, shared.ErrPeriodClosed
		}
	}

	inv, err := s.repo.CreateInvoice(ctx, Invoice{
		Code:           input.Code,
		CustomerID:     input.CustomerID,
		WarehouseID:    input.WarehouseID,
		DeliveryStatus: DeliveryStatusNotDelivered,
		IssuedAt:       issuedAt,
		Lines:          input.Lines,
	})
	if err != nil {
		return Invoice{}, err
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  input.ActorID,
			Action:   "sales:create_invoice",
			Entity:   "sales_invoice",
			EntityID: fmt.Sprintf("%d", inv.ID),
			Meta: map[string]any{
				"code":  inv.Code,
				"lines": len(inv.Lines),
				"total": inv.Total(),
			},
		})
	}
	return inv, nil
}

// ConfirmPayment sets the payment gate that delivery settlement requires.
func (s *Service) ConfirmPayment(ctx context.Context, id int64, actorID int64) error {
	if err := s.repo.ConfirmPayment(ctx, id); err != nil {
		return err
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  actorID,
			Action:   "sales:confirm_payment",
			Entity:   "sales_invoice",
			EntityID: fmt.Sprintf("%d", id),
		})
	}
	return nil
}

// GetInvoice loads one invoice with lines.
func (s *Service) GetInvoice(ctx context.Context, id int64) (Invoice, error) {
	return s.repo.GetInvoice(ctx, id)
}

// ListInvoices lists a customer's invoices.
func (s *Service) ListInvoices(ctx context.Context, customerID int64, limit int) ([]Invoice, error) {
	if customerID == 0 {
		return nil, errors.New("sales: customer required")
	}
	return s.repo.ListInvoices(ctx, customerID, limit)
}
