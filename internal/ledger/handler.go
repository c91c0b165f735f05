package ledger

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/meridian-erp/meridian-erp/internal/platform/httpx"
)

// Handler wires HTTP endpoints for the stock ledger.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs a ledger handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers ledger routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/movements", h.handleListMovements)
	r.Post("/movements", h.handleRecordMovement)
	r.Post("/bootstrap", h.handleBootstrap)
}

type movementResponse struct {
	ID              int64   `json:"id"`
	WarehouseID     int64   `json:"warehouse_id"`
	ItemID          int64   `json:"item_id"`
	Day             string  `json:"day"`
	Opening         float64 `json:"opening"`
	Incoming        float64 `json:"incoming"`
	IncomingGifts   float64 `json:"incoming_gifts"`
	Outgoing        float64 `json:"outgoing"`
	PendingOutgoing float64 `json:"pending_outgoing"`
	OutgoingGifts   float64 `json:"outgoing_gifts"`
	Closing         float64 `json:"closing"`
}

func toMovementResponse(m Movement) movementResponse {
	return movementResponse{
		ID:              m.ID,
		WarehouseID:     m.WarehouseID,
		ItemID:          m.ItemID,
		Day:             m.Day.Format("2006-01-02"),
		Opening:         m.Opening,
		Incoming:        m.Incoming,
		IncomingGifts:   m.IncomingGifts,
		Outgoing:        m.Outgoing,
		PendingOutgoing: m.PendingOutgoing,
		OutgoingGifts:   m.OutgoingGifts,
		Closing:         m.Closing,
	}
}

func (h *Handler) handleListMovements(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	warehouseID, err := strconv.ParseInt(q.Get("warehouse_id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "warehouse_id is required")
		return
	}
	itemID, err := strconv.ParseInt(q.Get("item_id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "item_id is required")
		return
	}
	filter := Filter{WarehouseID: warehouseID, ItemID: itemID}
	if from := q.Get("from"); from != "" {
		t, err := time.Parse("2006-01-02", from)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "from must be YYYY-MM-DD")
			return
		}
		filter.From = t
	}
	if to := q.Get("to"); to != "" {
		t, err := time.Parse("2006-01-02", to)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "to must be YYYY-MM-DD")
			return
		}
		filter.To = t
	}

	movements, err := h.service.GetMovements(r.Context(), filter)
	if err != nil {
		h.logger.Error("list movements", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	out := make([]movementResponse, 0, len(movements))
	for _, m := range movements {
		out = append(out, toMovementResponse(m))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"movements": out})
}

type recordMovementRequest struct {
	WarehouseID     int64   `json:"warehouse_id" validate:"required,gt=0"`
	ItemID          int64   `json:"item_id" validate:"required,gt=0"`
	Day             string  `json:"day" validate:"required,datetime=2006-01-02"`
	Incoming        float64 `json:"incoming"`
	IncomingGifts   float64 `json:"incoming_gifts"`
	Outgoing        float64 `json:"outgoing"`
	PendingOutgoing float64 `json:"pending_outgoing"`
	OutgoingGifts   float64 `json:"outgoing_gifts"`
}

func (h *Handler) handleRecordMovement(w http.ResponseWriter, r *http.Request) {
	var req recordMovementRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	day, _ := time.Parse("2006-01-02", req.Day)

	m, err := h.service.RecordMovement(r.Context(), req.WarehouseID, req.ItemID, day, Delta{
		Incoming:        req.Incoming,
		IncomingGifts:   req.IncomingGifts,
		Outgoing:        req.Outgoing,
		PendingOutgoing: req.PendingOutgoing,
		OutgoingGifts:   req.OutgoingGifts,
	})
	if err != nil {
		if errors.Is(err, ErrEmptyDelta) {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
			return
		}
		h.logger.Error("record movement", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toMovementResponse(m))
}

type bootstrapRequest struct {
	Day string `json:"day" validate:"omitempty,datetime=2006-01-02"`
}

func (h *Handler) handleBootstrap(w http.ResponseWriter, r *http.Request) {
	var req bootstrapRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	day := time.Now().UTC()
	if req.Day != "" {
		day, _ = time.Parse("2006-01-02", req.Day)
	}

	seeded, err := h.service.BootstrapAll(r.Context(), day)
	if err != nil {
		h.logger.Error("bootstrap ledger", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"seeded": seeded})
}
