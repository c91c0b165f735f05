package settlement

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/meridian-erp/meridian-erp/internal/inventory"
	"github.com/meridian-erp/meridian-erp/internal/platform/httpx"
	"github.com/meridian-erp/meridian-erp/internal/sales"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Handler wires HTTP endpoints for delivery settlement.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs a settlement handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers settlement routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/invoices/{id}/deliveries", h.handleSettle)
	r.Get("/invoices/{id}/deliveries", h.handleListDeliveries)
	r.Get("/deliveries/{deliveryID}", h.handleGetDelivery)
}

func (h *Handler) respondError(w http.ResponseWriter, op string, err error) {
	var shortage *inventory.InsufficientStockError
	var badBatch *InvalidBatchReferenceError
	switch {
	case errors.As(err, &shortage):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Insufficient Stock", shortage.Error())
	case errors.As(err, &badBatch):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Invalid Batch Reference", badBatch.Error())
	case errors.Is(err, ErrAlreadySettled):
		httpx.Problem(w, http.StatusConflict, "Already Delivered", err.Error())
	case errors.Is(err, ErrPaymentNotConfirmed):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Payment Not Confirmed", err.Error())
	case errors.Is(err, inventory.ErrBatchDrained):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Batch Drained", err.Error())
	case errors.Is(err, ErrOverDelivery), errors.Is(err, ErrEmptyManualRequest), errors.Is(err, inventory.ErrInvalidQuantity):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ErrLineNotFound), errors.Is(err, ErrDeliveryNotFound),
		errors.Is(err, sales.ErrInvoiceNotFound), errors.Is(err, inventory.ErrBatchNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, shared.ErrPeriodClosed):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Period Closed", err.Error())
	case errors.Is(err, shared.ErrLockNotObtained):
		httpx.Problem(w, http.StatusConflict, "Settlement In Progress", err.Error())
	default:
		h.logger.Error(op, slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}

type manualAllocationRequest struct {
	BatchID  int64   `json:"batch_id" validate:"required,gt=0"`
	Quantity float64 `json:"quantity" validate:"required,gt=0"`
	Gift     bool    `json:"gift"`
}

type manualLineRequest struct {
	LineID      int64                     `json:"line_id" validate:"required,gt=0"`
	Allocations []manualAllocationRequest `json:"allocations" validate:"required,min=1,dive"`
}

type settleRequest struct {
	Mode    string              `json:"mode" validate:"required,oneof=FULL MANUAL"`
	Lines   []manualLineRequest `json:"lines" validate:"omitempty,dive"`
	ActorID int64               `json:"actor_id"`
}

func (h *Handler) handleSettle(w http.ResponseWriter, r *http.Request) {
	invoiceID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid invoice id")
		return
	}
	var req settleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	var delivery Delivery
	switch Mode(req.Mode) {
	case ModeFull:
		delivery, err = h.service.SettleFull(r.Context(), invoiceID, req.ActorID)
	case ModeManual:
		lines := make([]ManualLine, 0, len(req.Lines))
		for _, l := range req.Lines {
			ml := ManualLine{LineID: l.LineID}
			for _, a := range l.Allocations {
				ml.Allocations = append(ml.Allocations, ManualAllocation{
					BatchID:  a.BatchID,
					Quantity: a.Quantity,
					Gift:     a.Gift,
				})
			}
			lines = append(lines, ml)
		}
		delivery, err = h.service.SettleManual(r.Context(), invoiceID, lines, req.ActorID)
	}
	if err != nil {
		h.respondError(w, "settle delivery", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, delivery)
}

func (h *Handler) handleListDeliveries(w http.ResponseWriter, r *http.Request) {
	invoiceID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid invoice id")
		return
	}
	deliveries, err := h.service.ListDeliveries(r.Context(), invoiceID)
	if err != nil {
		h.respondError(w, "list deliveries", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"deliveries": deliveries})
}

func (h *Handler) handleGetDelivery(w http.ResponseWriter, r *http.Request) {
	deliveryID, err := strconv.ParseInt(chi.URLParam(r, "deliveryID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid delivery id")
		return
	}
	delivery, err := h.service.GetDelivery(r.Context(), deliveryID)
	if err != nil {
		h.respondError(w, "get delivery", err)
		return
	}
	httpx.JSON(w, http.StatusOK, delivery)
}
