package access

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/meridianhq/meridian/internal/platform/httpx"
	"github.com/meridianhq/meridian/internal/shared"
)

// Handler exposes the decision engine over HTTP for support tooling and
// downstream services that cannot call it in process.
type Handler struct {
	logger    *slog.Logger
	engine    *Engine
	guard     shared.RouteGuard
	validator *validator.Validate
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, engine *Engine, guard shared.RouteGuard) *Handler {
	return &Handler{logger: logger, engine: engine, guard: guard, validator: validator.New()}
}

// MountRoutes registers access check routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.guard.RequirePermission(shared.PermUsersView))
		r.Post("/check", h.check)
		r.Post("/batch-check", h.batchCheck)
		r.Get("/users/{userID}/snapshot", h.snapshot)
	})
}

type checkRequest struct {
	UserID        int64  `json:"userId" validate:"required,gt=0"`
	PermissionKey string `json:"permissionKey" validate:"required"`
}

type batchCheckRequest struct {
	UserID         int64    `json:"userId" validate:"required,gt=0"`
	PermissionKeys []string `json:"permissionKeys" validate:"required,min=1,dive,required"`
}

func (h *Handler) check(w http.ResponseWriter, r *http.Request) {
	var req checkRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, shared.ValidationError("invalid request body"))
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondError(w, shared.ValidationError("%s", err.Error()))
		return
	}
	decision, err := h.engine.Check(r.Context(), req.UserID, req.PermissionKey)
	if err != nil {
		h.logger.Error("access check", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, http.StatusOK, decision)
}

func (h *Handler) batchCheck(w http.ResponseWriter, r *http.Request) {
	var req batchCheckRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, shared.ValidationError("invalid request body"))
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondError(w, shared.ValidationError("%s", err.Error()))
		return
	}
	results, err := h.engine.BatchCheck(r.Context(), req.UserID, req.PermissionKeys)
	if err != nil {
		h.logger.Error("batch access check", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, http.StatusOK, results)
}

func (h *Handler) snapshot(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil || userID <= 0 {
		httpx.RespondError(w, shared.ValidationError("invalid userID"))
		return
	}
	snap, err := h.engine.Snapshot(r.Context(), userID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, http.StatusOK, snap)
}
