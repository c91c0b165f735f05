package inventory

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

// Handler wires HTTP endpoints for the batch store and aggregate view.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs an inventory handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers inventory routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/stock", h.handleGetStock)
	r.Post("/receipts", h.handleReceive)
	r.Post("/allocations", h.handleAllocate)
	r.Post("/resync", h.handleResync)
}

func (h *Handler) respondError(w http.ResponseWriter, op string, err error) {
	var shortage *InsufficientStockError
	switch {
	case errors.As(err, &shortage):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Insufficient Stock", shortage.Error())
	case errors.Is(err, ErrInvalidQuantity):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ErrBatchDrained):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Batch Drained", err.Error())
	case errors.Is(err, ErrStockLevelNotFound), errors.Is(err, ErrBatchNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, shared.ErrPeriodClosed):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Period Closed", err.Error())
	case errors.Is(err, shared.ErrIdempotencyConflict):
		httpx.Problem(w, http.StatusConflict, "Duplicate", err.Error())
	default:
		h.logger.Error(op, slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}

func parseCellParams(r *http.Request) (int64, int64, error) {
	q := r.URL.Query()
	warehouseID, err := strconv.ParseInt(q.Get("warehouse_id"), 10, 64)
	if err != nil {
		return 0, 0, errors.New("warehouse_id is required")
	}
	itemID, err := strconv.ParseInt(q.Get("item_id"), 10, 64)
	if err != nil {
		return 0, 0, errors.New("item_id is required")
	}
	return warehouseID, itemID, nil
}

type batchResponse struct {
	ID         int64   `json:"id"`
	ReceivedAt string  `json:"received_at"`
	ExpiresAt  *string `json:"expires_at,omitempty"`
	Quantity   float64 `json:"quantity"`
}

func (h *Handler) handleGetStock(w http.ResponseWriter, r *http.Request) {
	warehouseID, itemID, err := parseCellParams(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	level, err := h.service.GetStockLevel(r.Context(), warehouseID, itemID)
	if err != nil && !errors.Is(err, ErrStockLevelNotFound) {
		h.respondError(w, "get stock level", err)
		return
	}
	batches, err := h.service.ListBatches(r.Context(), warehouseID, itemID)
	if err != nil {
		h.respondError(w, "list batches", err)
		return
	}
	out := make([]batchResponse, 0, len(batches))
	for _, b := range batches {
		resp := batchResponse{ID: b.ID, ReceivedAt: b.ReceivedAt.Format(time.RFC3339), Quantity: b.Quantity}
		if b.ExpiresAt != nil {
			expiry := b.ExpiresAt.Format("2006-01-02")
			resp.ExpiresAt = &expiry
		}
		out = append(out, resp)
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"warehouse_id": warehouseID,
		"item_id":      itemID,
		"quantity":     level.Quantity,
		"batches":      out,
	})
}

type receiveRequest struct {
	Code        string  `json:"code"`
	WarehouseID int64   `json:"warehouse_id" validate:"required,gt=0"`
	ItemID      int64   `json:"item_id" validate:"required,gt=0"`
	Quantity    float64 `json:"quantity" validate:"required,gt=0"`
	ReceivedAt  string  `json:"received_at" validate:"omitempty,datetime=2006-01-02"`
	ExpiresAt   string  `json:"expires_at" validate:"omitempty,datetime=2006-01-02"`
	Gift        bool    `json:"gift"`
	Note        string  `json:"note"`
	ActorID     int64   `json:"actor_id"`
}

func (h *Handler) handleReceive(w http.ResponseWriter, r *http.Request) {
	var req receiveRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	input := ReceiveInput{
		Code:        req.Code,
		WarehouseID: req.WarehouseID,
		ItemID:      req.ItemID,
		Quantity:    req.Quantity,
		Gift:        req.Gift,
		Note:        req.Note,
		ActorID:     req.ActorID,
	}
	if req.ReceivedAt != "" {
		input.ReceivedAt, _ = time.Parse("2006-01-02", req.ReceivedAt)
	}
	if req.ExpiresAt != "" {
		expiry, _ := time.Parse("2006-01-02", req.ExpiresAt)
		input.ExpiresAt = &expiry
	}

	batch, err := h.service.Receive(r.Context(), input)
	if err != nil {
		h.respondError(w, "receive batch", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"batch_id": batch.ID, "quantity": batch.Quantity})
}

type allocateRequest struct {
	WarehouseID int64   `json:"warehouse_id" validate:"required,gt=0"`
	ItemID      int64   `json:"item_id" validate:"required,gt=0"`
	Quantity    float64 `json:"quantity" validate:"required,gt=0"`
	ActorID     int64   `json:"actor_id"`
}

func (h *Handler) handleAllocate(w http.ResponseWriter, r *http.Request) {
	var req allocateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	plan, err := h.service.Allocate(r.Context(), req.WarehouseID, req.ItemID, req.Quantity, req.ActorID)
	if err != nil {
		h.respondError(w, "allocate stock", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"allocations": plan})
}

func (h *Handler) handleResync(w http.ResponseWriter, r *http.Request) {
	warehouseID, itemID, err := parseCellParams(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	drift, err := h.service.ResyncStockLevel(r.Context(), warehouseID, itemID)
	if err != nil {
		h.respondError(w, "resync stock level", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"corrected_drift": drift})
}
