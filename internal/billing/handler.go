package billing

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

// Handler exposes billing endpoints.
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

// MountRoutes registers billing routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.guard.RequirePermission(shared.PermBillingView))
		r.Get("/plans", h.listPlans)
		r.Get("/plans/{id}", h.getPlan)
		r.Get("/companies/{companyID}/subscriptions", h.listSubscriptions)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.guard.RequirePermission(shared.PermBillingManage))
		r.Post("/plans", h.createPlan)
		r.Post("/plans/{id}/modules/{moduleID}", h.addPlanModule)
		r.Post("/plans/{id}/permissions/{permissionID}", h.addPlanPermission)
		r.Post("/companies/{companyID}/subscriptions", h.createSubscription)
		r.Post("/companies/{companyID}/subscriptions/cancel", h.cancelSubscription)
		r.Post("/companies/{companyID}/subscriptions/expire", h.expireSubscription)
		r.Post("/companies/{companyID}/addons/modules/{moduleID}", h.purchaseModuleAddon)
		r.Delete("/companies/{companyID}/addons/modules/{moduleID}", h.removeModuleAddon)
		r.Post("/companies/{companyID}/addons/permissions/{permissionID}", h.purchasePermissionAddon)
		r.Delete("/companies/{companyID}/addons/permissions/{permissionID}", h.removePermissionAddon)
	})
}

type createPlanRequest struct {
	Name         string  `json:"name" validate:"required"`
	BasePrice    float64 `json:"basePrice" validate:"gte=0"`
	PricePerUser bool    `json:"pricePerUser"`
	MinUsers     int     `json:"minUsers" validate:"gte=0"`
	MaxUsers     int     `json:"maxUsers" validate:"gte=0"`
}

type createSubscriptionRequest struct {
	PlanID    int64      `json:"planId" validate:"required,gt=0"`
	UserCount int        `json:"userCount" validate:"gte=0"`
	Discount  float64    `json:"discount" validate:"gte=0"`
	StartsAt  *time.Time `json:"startsAt"`
	EndsAt    *time.Time `json:"endsAt"`
}

func (h *Handler) listPlans(w http.ResponseWriter, r *http.Request) {
	plans, err := h.service.ListPlans(r.Context())
	if err != nil {
		h.logger.Error("list plans", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, http.StatusOK, plans)
}

func (h *Handler) getPlan(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	plan, err := h.service.GetPlan(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, http.StatusOK, plan)
}

func (h *Handler) createPlan(w http.ResponseWriter, r *http.Request) {
	var req createPlanRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, shared.ValidationError("invalid request body"))
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondError(w, shared.ValidationError("%s", err.Error()))
		return
	}
	plan, err := h.service.CreatePlan(r.Context(), SubscriptionPlan{
		Name:         req.Name,
		BasePrice:    req.BasePrice,
		PricePerUser: req.PricePerUser,
		MinUsers:     req.MinUsers,
		MaxUsers:     req.MaxUsers,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, http.StatusCreated, plan)
}

func (h *Handler) addPlanModule(w http.ResponseWriter, r *http.Request) {
	planID, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	moduleID, ok := h.pathID(w, r, "moduleID")
	if !ok {
		return
	}
	if err := h.service.AddPlanModule(r.Context(), planID, moduleID); err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, http.StatusOK, nil)
}

func (h *Handler) addPlanPermission(w http.ResponseWriter, r *http.Request) {
	planID, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	permissionID, ok := h.pathID(w, r, "permissionID")
	if !ok {
		return
	}
	if err := h.service.AddPlanPermission(r.Context(), planID, permissionID); err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, http.StatusOK, nil)
}

func (h *Handler) listSubscriptions(w http.ResponseWriter, r *http.Request) {
	companyID, ok := h.pathID(w, r, "companyID")
	if !ok {
		return
	}
	subs, err := h.service.ListSubscriptions(r.Context(), companyID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, http.StatusOK, subs)
}

func (h *Handler) createSubscription(w http.ResponseWriter, r *http.Request) {
	companyID, ok := h.pathID(w, r, "companyID")
	if !ok {
		return
	}
	var req createSubscriptionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, shared.ValidationError("invalid request body"))
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondError(w, shared.ValidationError("%s", err.Error()))
		return
	}
	in := CreateSubscriptionRequest{
		CompanyID: companyID,
		PlanID:    req.PlanID,
		UserCount: req.UserCount,
		Discount:  req.Discount,
		EndsAt:    req.EndsAt,
	}
	if req.StartsAt != nil {
		in.StartsAt = *req.StartsAt
	}
	sub, err := h.service.CreateSubscription(r.Context(), in)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, http.StatusCreated, sub)
}

func (h *Handler) cancelSubscription(w http.ResponseWriter, r *http.Request) {
	companyID, ok := h.pathID(w, r, "companyID")
	if !ok {
		return
	}
	if err := h.service.CancelSubscription(r.Context(), companyID); err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, http.StatusOK, nil)
}

func (h *Handler) expireSubscription(w http.ResponseWriter, r *http.Request) {
	companyID, ok := h.pathID(w, r, "companyID")
	if !ok {
		return
	}
	if err := h.service.ExpireSubscription(r.Context(), companyID); err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, http.StatusOK, nil)
}

func (h *Handler) purchaseModuleAddon(w http.ResponseWriter, r *http.Request) {
	companyID, ok := h.pathID(w, r, "companyID")
	if !ok {
		return
	}
	moduleID, ok := h.pathID(w, r, "moduleID")
	if !ok {
		return
	}
	if err := h.service.PurchaseModuleAddon(r.Context(), companyID, moduleID); err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, http.StatusCreated, nil)
}

func (h *Handler) removeModuleAddon(w http.ResponseWriter, r *http.Request) {
	companyID, ok := h.pathID(w, r, "companyID")
	if !ok {
		return
	}
	moduleID, ok := h.pathID(w, r, "moduleID")
	if !ok {
		return
	}
	if err := h.service.RemoveModuleAddon(r.Context(), companyID, moduleID); err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, http.StatusOK, nil)
}

func (h *Handler) purchasePermissionAddon(w http.ResponseWriter, r *http.Request) {
	companyID, ok := h.pathID(w, r, "companyID")
	if !ok {
		return
	}
	permissionID, ok := h.pathID(w, r, "permissionID")
	if !ok {
		return
	}
	if err := h.service.PurchasePermissionAddon(r.Context(), companyID, permissionID); err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, http.StatusCreated, nil)
}

func (h *Handler) removePermissionAddon(w http.ResponseWriter, r *http.Request) {
	companyID, ok := h.pathID(w, r, "companyID")
	if !ok {
		return
	}
	permissionID, ok := h.pathID(w, r, "permissionID")
	if !ok {
		return
	}
	if err := h.service.RemovePermissionAddon(r.Context(), companyID, permissionID); err != nil {
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
