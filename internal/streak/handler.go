package streak

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/steady-platform/steady/internal/api"
)

type Handler struct {
	svc      *Service
	validate *validator.Validate
}

func NewHandler(svc *Service) *Handler {
	return &Handler{
		svc:      svc,
		validate: validator.New(),
	}
}

type CheckInRequest struct {
	OccurredAt string `json:"occurred_at,omitempty"` // RFC3339, defaults to now
	Note       string `json:"note,omitempty" validate:"max=500"`
}

func (h *Handler) CheckIn(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		api.HandleError(w, api.ErrBadRequest)
		return
	}

	var req CheckInRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			api.HandleError(w, api.ErrBadRequest)
			return
		}
	}
	if err := h.validate.Struct(req); err != nil {
		api.HandleError(w, api.NewValidationError(err.Error()))
		return
	}

	var occurredAt time.Time
	if req.OccurredAt != "" {
		occurredAt, err = time.Parse(time.RFC3339, req.OccurredAt)
		if err != nil {
			api.HandleError(w, api.NewValidationError("occurred_at must be RFC3339"))
			return
		}
	}

	rec, err := h.svc.CheckIn(r.Context(), userID, occurredAt, req.Note)
	if err != nil {
		if errors.Is(err, ErrAlreadyCheckedIn) {
			api.HandleError(w, api.NewConflictError(err.Error()))
			return
		}
		slog.Error("recording check-in", "error", err, "user_id", userID)
		api.HandleError(w, api.ErrInternalServer)
		return
	}

	api.JSON(w, http.StatusCreated, rec)
}

func (h *Handler) Snapshot(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		api.HandleError(w, api.ErrBadRequest)
		return
	}

	snap, err := h.svc.Snapshot(r.Context(), userID)
	if err != nil {
		slog.Error("computing streak snapshot", "error", err, "user_id", userID)
		api.HandleError(w, api.ErrInternalServer)
		return
	}

	api.JSON(w, http.StatusOK, snap)
}

func (h *Handler) Achievements(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		api.HandleError(w, api.ErrBadRequest)
		return
	}

	achievements, err := h.svc.Achievements(r.Context(), userID)
	if err != nil {
		slog.Error("computing achievements", "error", err, "user_id", userID)
		api.HandleError(w, api.ErrInternalServer)
		return
	}

	api.JSON(w, http.StatusOK, achievements)
}

func (h *Handler) Suggestions(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		api.HandleError(w, api.ErrBadRequest)
		return
	}

	suggestions, err := h.svc.Suggestions(r.Context(), userID)
	if err != nil {
		slog.Error("computing suggestions", "error", err, "user_id", userID)
		api.HandleError(w, api.ErrInternalServer)
		return
	}

	api.JSON(w, http.StatusOK, suggestions)
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	recordID, err := uuid.Parse(chi.URLParam(r, "recordID"))
	if err != nil {
		api.HandleError(w, api.ErrBadRequest)
		return
	}

	if err := h.svc.Delete(r.Context(), recordID); err != nil {
		if errors.Is(err, ErrNotFound) {
			api.HandleError(w, api.ErrNotFound)
			return
		}
		slog.Error("deleting check-in", "error", err, "record_id", recordID)
		api.HandleError(w, api.ErrInternalServer)
		return
	}

	api.JSONMessage(w, http.StatusOK, "check-in deleted")
}
