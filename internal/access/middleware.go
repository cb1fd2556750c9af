package access

import (
	"log/slog"
	"net/http"

	"github.com/meridianhq/meridian/internal/observability"
	"github.com/meridianhq/meridian/internal/platform/httpx"
	"github.com/meridianhq/meridian/internal/shared"
)

// Guard adapts the engine to shared.RouteGuard so handlers can protect
// routes without importing the engine's dependency graph.
type Guard struct {
	logger  *slog.Logger
	engine  *Engine
	metrics *observability.Metrics
}

// NewGuard builds a Guard instance. metrics may be nil.
func NewGuard(logger *slog.Logger, engine *Engine, metrics *observability.Metrics) *Guard {
	return &Guard{logger: logger, engine: engine, metrics: metrics}
}

// RequirePermission denies the request unless the acting user passes the
// decision chain for the given permission key. Entitlement denials carry
// the noEntitlement detail so the edge can render an upsell instead of a
// plain 403.
func (g *Guard) RequirePermission(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := shared.ActorFromContext(r.Context())
			if !ok {
				httpx.RespondError(w, shared.AuthorizationError("missing actor"))
				return
			}
			decision, err := g.engine.Check(r.Context(), actor.UserID, key)
			if err != nil {
				g.logger.Error("permission check", slog.String("permission", key), slog.Any("error", err))
				httpx.RespondError(w, err)
				return
			}
			g.metrics.RecordCheck(decision.HasAccess, decision.Reason)
			if !decision.HasAccess {
				if decision.NoEntitlement {
					httpx.RespondError(w, shared.EntitlementError(decision.Reason))
					return
				}
				httpx.RespondError(w, shared.AuthorizationError("%s", decision.Reason))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
