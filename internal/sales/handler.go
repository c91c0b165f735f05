package sales

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/meridian-erp/meridian-erp/internal/platform/httpx"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Handler wires HTTP endpoints for invoices.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs a sales handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers sales routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/invoices", h.handleCreateInvoice)
	r.Get("/invoices/{id}", h.handleGetInvoice)
	r.Get("/invoices", h.handleListInvoices)
	r.Post("/invoices/{id}/confirm-payment", h.handleConfirmPayment)
}

func (h *Handler) respondError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, ErrInvoiceNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrInvalidLine):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ErrPaymentAlreadyConfirmed):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, shared.ErrPeriodClosed):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Period Closed", err.Error())
	default:
		h.logger.Error(op, slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}

type invoiceLineRequest struct {
	ItemID       int64   `json:"item_id" validate:"required,gt=0"`
	Quantity     float64 `json:"quantity" validate:"required,gt=0"`
	UnitPrice    float64 `json:"unit_price" validate:"gte=0"`
	GiftKind     string  `json:"gift_kind" validate:"omitempty,oneof=NONE SAME_ITEM DISTINCT_ITEM"`
	GiftItemID   int64   `json:"gift_item_id"`
	GiftQuantity float64 `json:"gift_quantity" validate:"gte=0"`
}

type createInvoiceRequest struct {
	Code        string               `json:"code" validate:"required"`
	CustomerID  int64                `json:"customer_id" validate:"required,gt=0"`
	WarehouseID int64                `json:"warehouse_id" validate:"required,gt=0"`
	IssuedAt    string               `json:"issued_at" validate:"omitempty,datetime=2006-01-02"`
	Lines       []invoiceLineRequest `json:"lines" validate:"required,min=1,dive"`
	ActorID     int64                `json:"actor_id"`
}

func (h *Handler) handleCreateInvoice(w http.ResponseWriter, r *http.Request) {
	var req createInvoiceRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	input := CreateInvoiceInput{
		Code:        req.Code,
		CustomerID:  req.CustomerID,
		WarehouseID: req.WarehouseID,
		ActorID:     req.ActorID,
	}
	if req.IssuedAt != "" {
		input.IssuedAt, _ = time.Parse("2006-01-02", req.IssuedAt)
	}
	for _, l := range req.Lines {
		kind := GiftKind(l.GiftKind)
		if kind == "" {
			kind = GiftNone
		}
		input.Lines = append(input.Lines, InvoiceLine{
			ItemID:       l.ItemID,
			Quantity:     l.Quantity,
			UnitPrice:    l.UnitPrice,
			GiftKind:     kind,
			GiftItemID:   l.GiftItemID,
			GiftQuantity: l.GiftQuantity,
		})
	}

	inv, err := h.service.CreateInvoice(r.Context(), input)
	if err != nil {
		h.respondError(w, "create invoice", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{
		"invoice_id":      inv.ID,
		"code":            inv.Code,
		"delivery_status": inv.DeliveryStatus,
		"total":           inv.Total(),
	})
}

func parseIDParam(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}

func (h *Handler) handleGetInvoice(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid invoice id")
		return
	}
	inv, err := h.service.GetInvoice(r.Context(), id)
	if err != nil {
		h.respondError(w, "get invoice", err)
		return
	}
	httpx.JSON(w, http.StatusOK, inv)
}

func (h *Handler) handleListInvoices(w http.ResponseWriter, r *http.Request) {
	customerID, err := strconv.ParseInt(r.URL.Query().Get("customer_id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "customer_id is required")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	invoices, err := h.service.ListInvoices(r.Context(), customerID, limit)
	if err != nil {
		h.respondError(w, "list invoices", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"invoices": invoices})
}

func (h *Handler) handleConfirmPayment(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid invoice id")
		return
	}
	var body struct {
		ActorID int64 `json:"actor_id"`
	}
	_ = httpx.DecodeJSON(r, &body)
	if err := h.service.ConfirmPayment(r.Context(), id, body.ActorID); err != nil {
		h.respondError(w, "confirm payment", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"payment_confirmed": true})
}
