package access

import (
	"context"
	"sort"

	"github.com/meridianhq/meridian/internal/catalog"
	"github.com/meridianhq/meridian/internal/roles"
)

// PermissionAccess is one permission's verdict inside a snapshot.
type PermissionAccess struct {
	PermissionID int64  `json:"permissionId"`
	Key          string `json:"key"`
	HasAccess    bool   `json:"hasAccess"`
}

// ModuleAccess is one module's entitlement verdict inside a snapshot.
type ModuleAccess struct {
	ModuleID  int64  `json:"moduleId"`
	Key       string `json:"key"`
	HasAccess bool   `json:"hasAccess"`
}

// UserSnapshot is the full per-user access picture: every active permission
// and module with its verdict. UI menu generation consumes this.
type UserSnapshot struct {
	Permissions []PermissionAccess `json:"permissions"`
	Modules     []ModuleAccess     `json:"modules"`
}

// Snapshot computes a verdict for every active permission and module. A
// super admin (role priority 0) is auto-granted free content without
// running the entitlement or role checks, but goes through the full chain
// for everything paid: super admin is not a blanket bypass.
func (e *Engine) Snapshot(ctx context.Context, userID int64) (UserSnapshot, error) {
	user, verdict, err := e.loadUser(ctx, userID)
	if err != nil {
		return UserSnapshot{}, err
	}

	modules, err := e.catalog.ListModules(ctx)
	if err != nil {
		return UserSnapshot{}, err
	}
	moduleByID := make(map[int64]catalog.Module, len(modules))
	for _, m := range modules {
		if m.Active() {
			moduleByID[m.ID] = m
		}
	}

	hierarchy, err := e.catalog.Hierarchy(ctx)
	if err != nil {
		return UserSnapshot{}, err
	}
	perms := hierarchy.Permissions()

	snapshot := UserSnapshot{
		Permissions: make([]PermissionAccess, 0, len(perms)),
		Modules:     make([]ModuleAccess, 0, len(moduleByID)),
	}

	if verdict != nil {
		// Precondition failures deny everything; the snapshot still lists
		// each entry so callers render a complete, uniformly denied menu.
		for _, p := range perms {
			snapshot.Permissions = append(snapshot.Permissions, PermissionAccess{PermissionID: p.ID, Key: p.Key})
		}
		for _, m := range moduleByID {
			snapshot.Modules = append(snapshot.Modules, ModuleAccess{ModuleID: m.ID, Key: m.Key})
		}
		sortSnapshot(&snapshot)
		return snapshot, nil
	}

	env, err := e.buildEnv(ctx, user)
	if err != nil {
		return UserSnapshot{}, err
	}
	entSnap, err := e.entitlements.Snapshot(ctx, *user.CompanyID)
	if err != nil {
		return UserSnapshot{}, err
	}
	env.entitled = func(_ context.Context, perm catalog.Permission) (bool, error) {
		return entSnap.HasModule(perm.ModuleID) || entSnap.HasPermission(perm.ID), nil
	}

	superAdmin := user.Role.Priority == roles.PrioritySuperAdmin

	for _, p := range perms {
		module, ok := moduleByID[p.ModuleID]
		if !ok {
			continue
		}
		if superAdmin && (p.IsFreeForAll || module.IsFreeForAll) {
			snapshot.Permissions = append(snapshot.Permissions, PermissionAccess{PermissionID: p.ID, Key: p.Key, HasAccess: true})
			continue
		}
		d, err := e.evaluate(ctx, env, p)
		if err != nil {
			return UserSnapshot{}, err
		}
		snapshot.Permissions = append(snapshot.Permissions, PermissionAccess{PermissionID: p.ID, Key: p.Key, HasAccess: d.HasAccess})
	}

	for _, m := range moduleByID {
		hasAccess := entSnap.HasModule(m.ID)
		if superAdmin && m.IsFreeForAll {
			hasAccess = true
		}
		snapshot.Modules = append(snapshot.Modules, ModuleAccess{ModuleID: m.ID, Key: m.Key, HasAccess: hasAccess})
	}

	sortSnapshot(&snapshot)
	return snapshot, nil
}

func sortSnapshot(s *UserSnapshot) {
	sort.Slice(s.Permissions, func(i, j int) bool { return s.Permissions[i].Key < s.Permissions[j].Key })
	sort.Slice(s.Modules, func(i, j int) bool { return s.Modules[i].Key < s.Modules[j].Key })
}
