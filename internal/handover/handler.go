package handover

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/meridianhq/meridian/internal/platform/httpx"
	"github.com/meridianhq/meridian/internal/shared"
)

// Handler exposes handover endpoints.
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

// MountRoutes registers handover routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.guard.RequirePermission(shared.PermHandoverView))
		r.Get("/{id}", h.get)
		r.Get("/managers/{userID}", h.listForManager)
		r.Get("/backups/{userID}", h.listForBackup)
		r.Get("/visibility/{userID}", h.visibility)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.guard.RequirePermission(shared.PermHandoverManage))
		r.Post("/", h.request)
		r.Post("/assign", h.adminAssign)
		r.Post("/{id}/accept", h.accept)
		r.Post("/{id}/reject", h.reject)
		r.Post("/{id}/complete", h.complete)
		r.Post("/{id}/cancel", h.cancel)
	})
}

type requestHandover struct {
	ManagerID int64  `json:"managerId" validate:"required,gt=0"`
	BackupID  int64  `json:"backupId" validate:"required,gt=0"`
	Reason    string `json:"reason" validate:"required"`
}

func (h *Handler) request(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req requestHandover
	if !h.decode(w, r, &req) {
		return
	}
	created, err := h.service.Request(r.Context(), req.ManagerID, req.BackupID, req.Reason, actor.UserID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, http.StatusCreated, created)
}

func (h *Handler) adminAssign(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req requestHandover
	if !h.decode(w, r, &req) {
		return
	}
	created, err := h.service.AdminAssign(r.Context(), req.ManagerID, req.BackupID, req.Reason, actor.UserID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, http.StatusCreated, created)
}

func (h *Handler) accept(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.Accept)
}

func (h *Handler) reject(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.Reject)
}

func (h *Handler) complete(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.Complete)
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.Cancel)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathUUID(w, r)
	if !ok {
		return
	}
	found, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, http.StatusOK, found)
}

func (h *Handler) listForManager(w http.ResponseWriter, r *http.Request) {
	h.listBy(w, r, h.service.ListForManager)
}

func (h *Handler) listForBackup(w http.ResponseWriter, r *http.Request) {
	h.listBy(w, r, h.service.ListForBackup)
}

func (h *Handler) visibility(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.pathID(w, r, "userID")
	if !ok {
		return
	}
	ids, err := h.service.VisibleManagerIDs(r.Context(), userID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, http.StatusOK, ids)
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, id uuid.UUID, actorID int64) (Handover, error)) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, ok := h.pathUUID(w, r)
	if !ok {
		return
	}
	updated, err := fn(r.Context(), id, actor.UserID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, http.StatusOK, updated)
}

func (h *Handler) listBy(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, userID int64) ([]Handover, error)) {
	userID, ok := h.pathID(w, r, "userID")
	if !ok {
		return
	}
	list, err := fn(r.Context(), userID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, http.StatusOK, list)
}

func (h *Handler) actor(w http.ResponseWriter, r *http.Request) (shared.Actor, bool) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.AuthorizationError("missing actor"))
		return shared.Actor{}, false
	}
	return actor, true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := httpx.DecodeJSON(r, dst); err != nil {
		httpx.RespondError(w, shared.ValidationError("invalid request body"))
		return false
	}
	if err := h.validator.Struct(dst); err != nil {
		httpx.RespondError(w, shared.ValidationError("%s", err.Error()))
		return false
	}
	return true
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		httpx.RespondError(w, shared.ValidationError("invalid %s", name))
		return 0, false
	}
	return id, true
}

func (h *Handler) pathUUID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, shared.ValidationError("invalid handover id"))
		return uuid.Nil, false
	}
	return id, true
}
