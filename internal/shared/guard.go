package shared

import "net/http"

// RouteGuard gates HTTP routes behind a permission check. The access engine
// provides the only implementation; handlers depend on the interface so no
// caller reimplements the decision chain.
type RouteGuard interface {
	RequirePermission(key string) func(http.Handler) http.Handler
}
