package users

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/steady-platform/steady/internal/api"
)

type Handler struct {
	svc      *Service
	onCreate func(ctx context.Context, user *User) error // optional post-create hook
	validate *validator.Validate
}

// NewHandler creates a users Handler. onCreate, when non-nil, runs after a
// successful creation (used to seed default quotas); its failure does not
// fail the request.
func NewHandler(svc *Service, onCreate func(ctx context.Context, user *User) error) *Handler {
	return &Handler{
		svc:      svc,
		onCreate: onCreate,
		validate: validator.New(),
	}
}

type CreateUserRequest struct {
	Email string `json:"email" validate:"required,email"`
	Tier  string `json:"tier" validate:"required,oneof=free pro unlimited"`
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.HandleError(w, api.ErrBadRequest)
		return
	}

	if err := h.validate.Struct(req); err != nil {
		api.HandleError(w, api.NewValidationError(err.Error()))
		return
	}

	user, err := h.svc.Create(r.Context(), req.Email, Tier(req.Tier))
	if err != nil {
		if errors.Is(err, ErrEmailTaken) {
			api.HandleError(w, api.ErrEmailAlreadyExists)
			return
		}
		slog.Error("creating user", "error", err)
		api.HandleError(w, api.ErrInternalServer)
		return
	}

	if h.onCreate != nil {
		if err := h.onCreate(r.Context(), user); err != nil {
			slog.Warn("user post-create hook failed", "error", err, "user_id", user.ID)
		}
	}

	api.JSON(w, http.StatusCreated, user)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		api.HandleError(w, api.ErrBadRequest)
		return
	}

	user, err := h.svc.GetByID(r.Context(), userID)
	if err != nil {
		slog.Error("getting user", "error", err)
		api.HandleError(w, api.ErrInternalServer)
		return
	}
	if user == nil {
		api.HandleError(w, api.ErrNotFound)
		return
	}

	api.JSON(w, http.StatusOK, user)
}

func (h *Handler) Suspend(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		api.HandleError(w, api.ErrBadRequest)
		return
	}

	if err := h.svc.Suspend(r.Context(), userID); err != nil {
		if errors.Is(err, ErrNotFound) {
			api.HandleError(w, api.ErrNotFound)
			return
		}
		slog.Error("suspending user", "error", err)
		api.HandleError(w, api.ErrInternalServer)
		return
	}

	api.JSONMessage(w, http.StatusOK, "user suspended")
}
