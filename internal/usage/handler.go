package usage

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/steady-platform/steady/internal/api"
)

type Handler struct {
	recorder *Recorder
	validate *validator.Validate
}

func NewHandler(recorder *Recorder) *Handler {
	return &Handler{
		recorder: recorder,
		validate: validator.New(),
	}
}

type RecordUsageRequest struct {
	Service     string `json:"service,omitempty"`
	Calls       int64  `json:"calls" validate:"gte=0"`
	Tokens      int64  `json:"tokens" validate:"gte=0"`
	CostCents   int64  `json:"cost_cents" validate:"gte=0"`
	Outcome     string `json:"outcome" validate:"required,oneof=success error timeout quota_exceeded"`
	RequestedAt string `json:"requested_at,omitempty"` // RFC3339, defaults to now
}

func (h *Handler) Record(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		api.HandleError(w, api.ErrBadRequest)
		return
	}

	var req RecordUsageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.HandleError(w, api.ErrBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		api.HandleError(w, api.NewValidationError(err.Error()))
		return
	}

	var requestedAt time.Time
	if req.RequestedAt != "" {
		requestedAt, err = time.Parse(time.RFC3339, req.RequestedAt)
		if err != nil {
			api.HandleError(w, api.NewValidationError("requested_at must be RFC3339"))
			return
		}
	}

	event, err := h.recorder.Record(r.Context(), RecordParams{
		UserID:      userID,
		Service:     req.Service,
		Calls:       req.Calls,
		Tokens:      req.Tokens,
		CostCents:   req.CostCents,
		Outcome:     Outcome(req.Outcome),
		RequestedAt: requestedAt,
	})
	if err != nil {
		slog.Error("recording usage", "error", err, "user_id", userID)
		api.HandleError(w, api.ErrInternalServer)
		return
	}

	api.JSON(w, http.StatusCreated, event)
}

func (h *Handler) ListRecent(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		api.HandleError(w, api.ErrBadRequest)
		return
	}

	limit := 0
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil {
			limit = n
		}
	}

	events, err := h.recorder.ListRecent(r.Context(), userID, limit)
	if err != nil {
		slog.Error("listing usage events", "error", err, "user_id", userID)
		api.HandleError(w, api.ErrInternalServer)
		return
	}

	api.JSON(w, http.StatusOK, events)
}
