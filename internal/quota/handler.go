package quota

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/steady-platform/steady/internal/api"
	inats "github.com/steady-platform/steady/internal/nats"
	"github.com/steady-platform/steady/internal/period"
	"github.com/steady-platform/steady/internal/users"
)

// DeniedPublisher publishes denial events; *nats.Publisher satisfies it.
type DeniedPublisher interface {
	PublishQuotaDenied(ctx context.Context, event inats.QuotaDeniedEvent) error
}

type Handler struct {
	svc      *Service
	sweeper  *Sweeper
	pub      DeniedPublisher // optional
	validate *validator.Validate
}

func NewHandler(svc *Service, sweeper *Sweeper, pub DeniedPublisher) *Handler {
	return &Handler{
		svc:      svc,
		sweeper:  sweeper,
		pub:      pub,
		validate: validator.New(),
	}
}

type CheckRequest struct {
	Service   string `json:"service,omitempty"`
	Calls     int64  `json:"calls" validate:"gte=0"`
	Tokens    int64  `json:"tokens" validate:"gte=0"`
	CostCents int64  `json:"cost_cents" validate:"gte=0"`
}

// Check evaluates a prospective consumption. Denials are a 200 with
// allowed=false; only malformed requests and store failures are errors.
func (h *Handler) Check(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		api.HandleError(w, api.ErrBadRequest)
		return
	}

	var req CheckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.HandleError(w, api.ErrBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		api.HandleError(w, api.NewValidationError(err.Error()))
		return
	}

	var amounts []Amount
	if req.Calls > 0 {
		amounts = append(amounts, Calls(req.Calls))
	}
	if req.Tokens > 0 {
		amounts = append(amounts, Tokens(req.Tokens))
	}
	if req.CostCents > 0 {
		amounts = append(amounts, Cost(req.CostCents))
	}

	decision, err := h.svc.Check(r.Context(), userID, req.Service, amounts...)
	if err != nil {
		slog.Error("checking quota", "error", err, "user_id", userID)
		api.HandleError(w, api.ErrInternalServer)
		return
	}

	if !decision.Allowed && h.pub != nil {
		event := inats.QuotaDeniedEvent{
			UserID:    userID,
			Service:   req.Service,
			Reason:    decision.Reason,
			Timestamp: time.Now(),
		}
		if err := h.pub.PublishQuotaDenied(r.Context(), event); err != nil {
			slog.Warn("publishing denial event", "error", err, "user_id", userID)
		}
	}

	api.JSON(w, http.StatusOK, decision)
}

type CreateQuotaRequest struct {
	Resource    string `json:"resource" validate:"required,oneof=calls tokens cost"`
	Service     string `json:"service,omitempty"`
	Limit       int64  `json:"limit" validate:"required"`
	Period      string `json:"period" validate:"required,oneof=daily weekly monthly yearly"`
	Description string `json:"description,omitempty" validate:"max=500"`
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		api.HandleError(w, api.ErrBadRequest)
		return
	}

	var req CreateQuotaRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.HandleError(w, api.ErrBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		api.HandleError(w, api.NewValidationError(err.Error()))
		return
	}

	rec, err := h.svc.Create(r.Context(), userID, CreateParams{
		Resource:    ResourceType(req.Resource),
		Service:     req.Service,
		Limit:       req.Limit,
		Period:      period.Period(req.Period),
		Description: req.Description,
	})
	if err != nil {
		if errors.Is(err, users.ErrNotFound) {
			api.HandleError(w, api.ErrNotFound)
			return
		}
		api.HandleError(w, api.NewValidationError(err.Error()))
		return
	}

	api.JSON(w, http.StatusCreated, rec)
}

// Status returns the user's daily role-default view plus custom records.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		api.HandleError(w, api.ErrBadRequest)
		return
	}

	report, err := h.svc.Status(r.Context(), userID)
	if err != nil {
		if errors.Is(err, users.ErrNotFound) {
			api.HandleError(w, api.ErrNotFound)
			return
		}
		slog.Error("loading quota status", "error", err, "user_id", userID)
		api.HandleError(w, api.ErrInternalServer)
		return
	}

	api.JSON(w, http.StatusOK, report)
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	quotaID, err := uuid.Parse(chi.URLParam(r, "quotaID"))
	if err != nil {
		api.HandleError(w, api.ErrBadRequest)
		return
	}

	if err := h.svc.Delete(r.Context(), quotaID); err != nil {
		if errors.Is(err, ErrNotFound) {
			api.HandleError(w, api.ErrNotFound)
			return
		}
		slog.Error("deleting quota record", "error", err, "quota_id", quotaID)
		api.HandleError(w, api.ErrInternalServer)
		return
	}

	api.JSONMessage(w, http.StatusOK, "quota record deleted")
}

// Sweep triggers a batch reset of all expired quota windows. Per-record
// failures do not fail the sweep; they come back alongside the count of
// records actually reset.
func (h *Handler) Sweep(w http.ResponseWriter, r *http.Request) {
	count, err := h.sweeper.SweepAll(r.Context())
	if err != nil {
		slog.Warn("quota sweep finished with errors", "error", err, "reset_count", count)
		api.JSON(w, http.StatusOK, map[string]any{
			"reset_count": count,
			"errors":      err.Error(),
		})
		return
	}

	api.JSON(w, http.StatusOK, map[string]int{"reset_count": count})
}
