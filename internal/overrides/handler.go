package overrides

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/meridianhq/meridian/internal/platform/httpx"
	"github.com/meridianhq/meridian/internal/shared"
)

// Handler exposes permission override endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	guard     shared.RouteGuard
	validator *validator.Validate
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, guard shared.RouteGuard) *Handler {
	return &Handler{logger: logger, service: service, guard: guard, validator: validator.New()}
}

// MountRoutes registers override routes. They live under the users prefix
// as /users/{id}/overrides.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.guard.RequirePermission(shared.PermOverridesView))
		r.Get("/{id}/overrides", h.list)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.guard.RequirePermission(shared.PermOverridesManage))
		r.Post("/{id}/overrides", h.create)
		r.Post("/{id}/overrides/bulk", h.bulkCreate)
		r.Delete("/{id}/overrides/{permissionID}", h.remove)
	})
}

type createOverrideRequest struct {
	PermissionID int64      `json:"permissionId" validate:"required,gt=0"`
	Effect       string     `json:"effect" validate:"required,oneof=allow deny"`
	Reason       string     `json:"reason"`
	ExpiresAt    *time.Time `json:"expiresAt"`
}

type bulkCreateRequest struct {
	Overrides []createOverrideRequest `json:"overrides" validate:"required,min=1,dive"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	list, err := h.service.List(r.Context(), userID)
	if err != nil {
		h.logger.Error("list overrides", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, http.StatusOK, list)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.AuthorizationError("missing actor"))
		return
	}
	var req createOverrideRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, shared.ValidationError("invalid request body"))
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondError(w, shared.ValidationError("%s", err.Error()))
		return
	}
	o, err := h.service.Create(r.Context(), CreateRequest{
		UserID:       userID,
		PermissionID: req.PermissionID,
		Effect:       Effect(req.Effect),
		Reason:       req.Reason,
		RequestedBy:  actor.UserID,
		ExpiresAt:    req.ExpiresAt,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, http.StatusCreated, o)
}

func (h *Handler) bulkCreate(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.AuthorizationError("missing actor"))
		return
	}
	var req bulkCreateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, shared.ValidationError("invalid request body"))
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondError(w, shared.ValidationError("%s", err.Error()))
		return
	}
	reqs := make([]CreateRequest, 0, len(req.Overrides))
	for _, o := range req.Overrides {
		reqs = append(reqs, CreateRequest{
			PermissionID: o.PermissionID,
			Effect:       Effect(o.Effect),
			Reason:       o.Reason,
			ExpiresAt:    o.ExpiresAt,
		})
	}
	created, err := h.service.BulkCreate(r.Context(), userID, reqs, actor.UserID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, http.StatusCreated, created)
}

func (h *Handler) remove(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	permissionID, ok := h.pathID(w, r, "permissionID")
	if !ok {
		return
	}
	if err := h.service.Remove(r.Context(), userID, permissionID); err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, http.StatusOK, nil)
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		httpx.RespondError(w, shared.ValidationError("invalid %s", name))
		return 0, false
	}
	return id, true
}
