package catalog

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/meridianhq/meridian/internal/platform/httpx"
	"github.com/meridianhq/meridian/internal/shared"
)

// Handler exposes catalog endpoints.
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

// MountRoutes registers catalog routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.guard.RequirePermission(shared.PermCatalogView))
		r.Get("/modules", h.listModules)
		r.Get("/modules/{id}", h.getModule)
		r.Get("/permissions", h.listPermissions)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.guard.RequirePermission(shared.PermCatalogManage))
		r.Post("/modules", h.createModule)
		r.Post("/permissions", h.createPermission)
	})
}

type createModuleRequest struct {
	Key            string  `json:"key" validate:"required"`
	Name           string  `json:"name"`
	ParentModuleID *int64  `json:"parentModuleId"`
	IsFreeForAll   bool    `json:"isFreeForAll"`
	Price          float64 `json:"price" validate:"gte=0"`
}

type createPermissionRequest struct {
	ModuleID             int64   `json:"moduleId" validate:"required,gt=0"`
	Action               string  `json:"action" validate:"required"`
	Name                 string  `json:"name"`
	IsFreeForAll         bool    `json:"isFreeForAll"`
	IsSubscriptionExempt bool    `json:"isSubscriptionExempt"`
	Price                float64 `json:"price" validate:"gte=0"`
}

func (h *Handler) createModule(w http.ResponseWriter, r *http.Request) {
	var req createModuleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, shared.ValidationError("invalid request body"))
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondError(w, shared.ValidationError("%s", err.Error()))
		return
	}
	module, err := h.service.CreateModule(r.Context(), Module{
		Key:            req.Key,
		Name:           req.Name,
		ParentModuleID: req.ParentModuleID,
		IsFreeForAll:   req.IsFreeForAll,
		Price:          req.Price,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, http.StatusCreated, module)
}

func (h *Handler) createPermission(w http.ResponseWriter, r *http.Request) {
	var req createPermissionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, shared.ValidationError("invalid request body"))
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondError(w, shared.ValidationError("%s", err.Error()))
		return
	}
	perm, err := h.service.CreatePermission(r.Context(), Permission{
		ModuleID:             req.ModuleID,
		Action:               req.Action,
		Name:                 req.Name,
		IsFreeForAll:         req.IsFreeForAll,
		IsSubscriptionExempt: req.IsSubscriptionExempt,
		Price:                req.Price,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, http.StatusCreated, perm)
}

func (h *Handler) listModules(w http.ResponseWriter, r *http.Request) {
	modules, err := h.service.ListModules(r.Context())
	if err != nil {
		h.logger.Error("list modules", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, http.StatusOK, modules)
}

func (h *Handler) getModule(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.RespondError(w, shared.ValidationError("invalid module id"))
		return
	}
	module, err := h.service.GetModule(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, http.StatusOK, module)
}

func (h *Handler) listPermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := h.service.ListPermissions(r.Context())
	if err != nil {
		h.logger.Error("list permissions", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, http.StatusOK, perms)
}
