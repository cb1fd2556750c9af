package access

import (
	"context"
	"log/slog"

	"github.com/meridianhq/meridian/internal/billing"
	"github.com/meridianhq/meridian/internal/catalog"
	"github.com/meridianhq/meridian/internal/overrides"
	"github.com/meridianhq/meridian/internal/shared"
	"github.com/meridianhq/meridian/internal/users"
)

// UserDirectory resolves users with their roles.
type UserDirectory interface {
	GetWithRole(ctx context.Context, id int64) (users.WithRole, error)
}

// Catalog supplies the permission hierarchy and the module list.
type Catalog interface {
	Hierarchy(ctx context.Context) (*catalog.Hierarchy, error)
	ListModules(ctx context.Context) ([]catalog.Module, error)
}

// Entitlements answers what the user's company has paid for.
type Entitlements interface {
	HasModuleAccess(ctx context.Context, companyID, moduleID int64) (bool, error)
	HasPermissionAccess(ctx context.Context, companyID, permissionID int64) (bool, error)
	Snapshot(ctx context.Context, companyID int64) (billing.EntitlementSnapshot, error)
}

// OverrideReader loads a user's active overrides keyed by permission id.
type OverrideReader interface {
	ActiveForUser(ctx context.Context, userID int64) (map[int64]overrides.Effect, error)
}

// RoleGraph reads a role's directly granted permission set.
type RoleGraph interface {
	PermissionIDs(ctx context.Context, roleID int64) (map[int64]struct{}, error)
}

// Engine is the sole integration surface for permission decisions. No
// caller reimplements the chain; everything funnels through Check,
// BatchCheck or UserSnapshot.
type Engine struct {
	logger       *slog.Logger
	users        UserDirectory
	catalog      Catalog
	entitlements Entitlements
	overrides    OverrideReader
	roles        RoleGraph
}

// NewEngine builds an Engine instance.
func NewEngine(logger *slog.Logger, dir UserDirectory, cat Catalog, ent Entitlements, ovr OverrideReader, graph RoleGraph) *Engine {
	return &Engine{logger: logger, users: dir, catalog: cat, entitlements: ent, overrides: ovr, roles: graph}
}

// evalEnv holds everything one decision needs, preloaded. Single checks and
// batch checks build it differently (per-permission queries vs one snapshot)
// but evaluate the identical chain, which is what keeps their results equal.
type evalEnv struct {
	user      users.WithRole
	hierarchy *catalog.Hierarchy
	overrides map[int64]overrides.Effect
	roleSet   map[int64]struct{}
	entitled  func(ctx context.Context, perm catalog.Permission) (bool, error)
}

// Check runs the decision chain for one permission key. Precondition
// failures are verdicts, not errors: the caller gets a deny with a reason.
// Errors are reserved for infrastructure failures.
func (e *Engine) Check(ctx context.Context, userID int64, permissionKey string) (Decision, error) {
	user, verdict, err := e.loadUser(ctx, userID)
	if err != nil {
		return Decision{}, err
	}
	if verdict != nil {
		return *verdict, nil
	}

	env, err := e.buildEnv(ctx, user)
	if err != nil {
		return Decision{}, err
	}
	env.entitled = func(ctx context.Context, perm catalog.Permission) (bool, error) {
		ok, err := e.entitlements.HasModuleAccess(ctx, *user.CompanyID, perm.ModuleID)
		if err != nil || ok {
			return ok, err
		}
		return e.entitlements.HasPermissionAccess(ctx, *user.CompanyID, perm.ID)
	}

	perm, ok := env.hierarchy.ByKey(permissionKey)
	if !ok {
		return deny(ReasonPermissionNotFound), nil
	}
	return e.evaluate(ctx, env, perm)
}

// BatchCheck produces, for every key, the same verdict Check would, but
// preloads the entitlement snapshot, override map and role set once.
func (e *Engine) BatchCheck(ctx context.Context, userID int64, permissionKeys []string) (map[string]bool, error) {
	out := make(map[string]bool, len(permissionKeys))

	user, verdict, err := e.loadUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if verdict != nil {
		for _, key := range permissionKeys {
			out[key] = false
		}
		return out, nil
	}

	env, err := e.buildEnv(ctx, user)
	if err != nil {
		return nil, err
	}
	snap, err := e.entitlements.Snapshot(ctx, *user.CompanyID)
	if err != nil {
		return nil, err
	}
	env.entitled = func(_ context.Context, perm catalog.Permission) (bool, error) {
		return snap.HasModule(perm.ModuleID) || snap.HasPermission(perm.ID), nil
	}

	for _, key := range permissionKeys {
		perm, ok := env.hierarchy.ByKey(key)
		if !ok {
			out[key] = false
			continue
		}
		d, err := e.evaluate(ctx, env, perm)
		if err != nil {
			return nil, err
		}
		out[key] = d.HasAccess
	}
	return out, nil
}

// evaluate is the chain itself. The order is fixed: entitlement gate,
// deny override (exact then hierarchical), allow override (exact then
// hierarchical), role grant (exact then hierarchical), default deny.
func (e *Engine) evaluate(ctx context.Context, env evalEnv, perm catalog.Permission) (Decision, error) {
	if !perm.IsSubscriptionExempt && !perm.IsFreeForAll {
		ok, err := env.entitled(ctx, perm)
		if err != nil {
			return Decision{}, err
		}
		if !ok {
			// Terminal: no override or role grant can reopen a feature the
			// company has not paid for.
			d := deny(ReasonNoEntitlement)
			d.NoEntitlement = true
			return d, nil
		}
	}

	if env.overrides[perm.ID] == overrides.EffectDeny {
		d := deny(ReasonDeniedByOverride)
		d.MatchType = MatchExact
		return d, nil
	}
	for _, broaderID := range env.hierarchy.BroaderThan(perm.ID) {
		if env.overrides[broaderID] == overrides.EffectDeny {
			d := deny(ReasonDeniedByOverride)
			d.MatchType = MatchHierarchical
			if via, ok := env.hierarchy.ByID(broaderID); ok {
				d.GrantedVia = via.Key
			}
			return d, nil
		}
	}

	if env.overrides[perm.ID] == overrides.EffectAllow {
		return allow(ReasonGrantedByOverride, MatchExact, ""), nil
	}
	for _, broaderID := range env.hierarchy.BroaderThan(perm.ID) {
		if env.overrides[broaderID] == overrides.EffectAllow {
			via := ""
			if p, ok := env.hierarchy.ByID(broaderID); ok {
				via = p.Key
			}
			return allow(ReasonGrantedByOverride, MatchHierarchical, via), nil
		}
	}

	if _, ok := env.roleSet[perm.ID]; ok {
		return allow(ReasonGrantedByRole, MatchExact, ""), nil
	}
	for _, broaderID := range env.hierarchy.BroaderThan(perm.ID) {
		if _, ok := env.roleSet[broaderID]; ok {
			via := ""
			if p, ok := env.hierarchy.ByID(broaderID); ok {
				via = p.Key
			}
			return allow(ReasonGrantedByRole, MatchHierarchical, via), nil
		}
	}

	return deny(ReasonNotGrantedByRole), nil
}

// loadUser runs the preconditions shared by every operation. A non-nil
// Decision means a precondition failed and the chain must not continue.
func (e *Engine) loadUser(ctx context.Context, userID int64) (users.WithRole, *Decision, error) {
	user, err := e.users.GetWithRole(ctx, userID)
	if err != nil {
		if shared.IsKind(err, shared.KindNotFound) {
			d := deny(ReasonUserNotFound)
			return users.WithRole{}, &d, nil
		}
		return users.WithRole{}, nil, err
	}
	if !user.IsActive || user.DeletedAt != nil {
		d := deny(ReasonUserInactive)
		return users.WithRole{}, &d, nil
	}
	if user.RoleID == nil || user.Role == nil {
		d := deny(ReasonNoRole)
		return users.WithRole{}, &d, nil
	}
	if user.CompanyID == nil {
		d := deny(ReasonNoCompany)
		return users.WithRole{}, &d, nil
	}
	return user, nil, nil
}

func (e *Engine) buildEnv(ctx context.Context, user users.WithRole) (evalEnv, error) {
	hierarchy, err := e.catalog.Hierarchy(ctx)
	if err != nil {
		return evalEnv{}, err
	}
	overrideMap, err := e.overrides.ActiveForUser(ctx, user.ID)
	if err != nil {
		return evalEnv{}, err
	}
	roleSet, err := e.roles.PermissionIDs(ctx, *user.RoleID)
	if err != nil {
		return evalEnv{}, err
	}
	return evalEnv{
		user:      user,
		hierarchy: hierarchy,
		overrides: overrideMap,
		roleSet:   roleSet,
	}, nil
}
