package access

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/meridianhq/meridian/internal/billing"
	"github.com/meridianhq/meridian/internal/catalog"
	"github.com/meridianhq/meridian/internal/overrides"
	"github.com/meridianhq/meridian/internal/roles"
	"github.com/meridianhq/meridian/internal/shared"
	"github.com/meridianhq/meridian/internal/users"
)

type fakeDirectory struct {
	users map[int64]users.WithRole
}

func (f *fakeDirectory) GetWithRole(_ context.Context, id int64) (users.WithRole, error) {
	u, ok := f.users[id]
	if !ok {
		return users.WithRole{}, shared.NotFoundError("user %d not found", id)
	}
	return u, nil
}

type fakeCatalog struct {
	modules []catalog.Module
	perms   []catalog.Permission
}

func (f *fakeCatalog) Hierarchy(context.Context) (*catalog.Hierarchy, error) {
	return catalog.BuildHierarchy(f.perms), nil
}

func (f *fakeCatalog) ListModules(context.Context) ([]catalog.Module, error) {
	return f.modules, nil
}

// fakeEntitlements serves single checks and snapshots from the same two
// sets, so any batch/single divergence in a test points at the engine.
type fakeEntitlements struct {
	moduleIDs     map[int64]struct{}
	permissionIDs map[int64]struct{}
}

func (f *fakeEntitlements) HasModuleAccess(_ context.Context, _, moduleID int64) (bool, error) {
	_, ok := f.moduleIDs[moduleID]
	return ok, nil
}

func (f *fakeEntitlements) HasPermissionAccess(_ context.Context, _, permissionID int64) (bool, error) {
	_, ok := f.permissionIDs[permissionID]
	return ok, nil
}

func (f *fakeEntitlements) Snapshot(context.Context, int64) (billing.EntitlementSnapshot, error) {
	return billing.EntitlementSnapshot{ModuleIDs: f.moduleIDs, PermissionIDs: f.permissionIDs}, nil
}

type fakeOverrides struct {
	byUser map[int64]map[int64]overrides.Effect
}

func (f *fakeOverrides) ActiveForUser(_ context.Context, userID int64) (map[int64]overrides.Effect, error) {
	m := f.byUser[userID]
	if m == nil {
		m = map[int64]overrides.Effect{}
	}
	return m, nil
}

type fakeRoleGraph struct {
	grants map[int64]map[int64]struct{}
}

func (f *fakeRoleGraph) PermissionIDs(_ context.Context, roleID int64) (map[int64]struct{}, error) {
	m := f.grants[roleID]
	if m == nil {
		m = map[int64]struct{}{}
	}
	return m, nil
}

const (
	moduleUsers = int64(1)
	moduleCRM   = int64(2)
	moduleBill  = int64(3)

	permUsersView  = int64(10)
	permCrmView    = int64(11)
	permCrmCreate  = int64(12)
	permCrmManage  = int64(13)
	permBillManage = int64(14)

	userEmployee   = int64(1)
	userInactive   = int64(2)
	userRoleless   = int64(3)
	userFloating   = int64(4)
	userSuperAdmin = int64(5)

	roleEmployee   = int64(3)
	roleSuperAdmin = int64(1)
)

type engineFixture struct {
	engine       *Engine
	entitlements *fakeEntitlements
	overrides    *fakeOverrides
	graph        *fakeRoleGraph
}

func newEngineFixture() *engineFixture {
	companyID := int64(7)
	employeeRole := &roles.Role{ID: roleEmployee, Name: "Employee", Priority: 30}
	superRole := &roles.Role{ID: roleSuperAdmin, Name: "Super Admin", Priority: roles.PrioritySuperAdmin}
	employeeRoleID, superRoleID := employeeRole.ID, superRole.ID

	dir := &fakeDirectory{users: map[int64]users.WithRole{
		userEmployee:   {User: users.User{ID: userEmployee, RoleID: &employeeRoleID, CompanyID: &companyID, IsActive: true}, Role: employeeRole},
		userInactive:   {User: users.User{ID: userInactive, RoleID: &employeeRoleID, CompanyID: &companyID}, Role: employeeRole},
		userRoleless:   {User: users.User{ID: userRoleless, CompanyID: &companyID, IsActive: true}},
		userFloating:   {User: users.User{ID: userFloating, RoleID: &employeeRoleID, IsActive: true}, Role: employeeRole},
		userSuperAdmin: {User: users.User{ID: userSuperAdmin, RoleID: &superRoleID, CompanyID: &companyID, IsActive: true}, Role: superRole},
	}}

	cat := &fakeCatalog{
		modules: []catalog.Module{
			{ID: moduleUsers, Key: "users", Name: "Users", IsFreeForAll: true},
			{ID: moduleCRM, Key: "crm", Name: "CRM"},
			{ID: moduleBill, Key: "billing", Name: "Billing"},
		},
		perms: []catalog.Permission{
			{ID: permUsersView, ModuleID: moduleUsers, Key: "users:view", Action: "view", IsFreeForAll: true},
			{ID: permCrmView, ModuleID: moduleCRM, Key: "crm:view", Action: "view"},
			{ID: permCrmCreate, ModuleID: moduleCRM, Key: "crm:create", Action: "create"},
			{ID: permCrmManage, ModuleID: moduleCRM, Key: "crm:manage", Action: "manage"},
			{ID: permBillManage, ModuleID: moduleBill, Key: "billing:manage", Action: "manage", IsSubscriptionExempt: true},
		},
	}

	ent := &fakeEntitlements{
		moduleIDs:     map[int64]struct{}{moduleUsers: {}, moduleCRM: {}},
		permissionIDs: map[int64]struct{}{},
	}
	ovr := &fakeOverrides{byUser: map[int64]map[int64]overrides.Effect{}}
	graph := &fakeRoleGraph{grants: map[int64]map[int64]struct{}{}}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return &engineFixture{
		engine:       NewEngine(logger, dir, cat, ent, ovr, graph),
		entitlements: ent,
		overrides:    ovr,
		graph:        graph,
	}
}

func TestCheckPreconditions(t *testing.T) {
	fx := newEngineFixture()

	cases := []struct {
		name   string
		userID int64
		reason string
	}{
		{"unknown user", 999, ReasonUserNotFound},
		{"inactive user", userInactive, ReasonUserInactive},
		{"no role", userRoleless, ReasonNoRole},
		{"no company", userFloating, ReasonNoCompany},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d, err := fx.engine.Check(context.Background(), tc.userID, "crm:view")
			require.NoError(t, err, "precondition failures are verdicts, not errors")
			require.False(t, d.HasAccess)
			require.Equal(t, tc.reason, d.Reason)
		})
	}
}

func TestCheckUnknownPermission(t *testing.T) {
	fx := newEngineFixture()

	d, err := fx.engine.Check(context.Background(), userEmployee, "crm:teleport")
	require.NoError(t, err)
	require.False(t, d.HasAccess)
	require.Equal(t, ReasonPermissionNotFound, d.Reason)
}

func TestCheckEntitlementGateIsTerminal(t *testing.T) {
	fx := newEngineFixture()
	delete(fx.entitlements.moduleIDs, moduleCRM)

	// Neither an allow override nor a role grant reopens unpaid content.
	fx.overrides.byUser[userEmployee] = map[int64]overrides.Effect{permCrmView: overrides.EffectAllow}
	fx.graph.grants[roleEmployee] = map[int64]struct{}{permCrmView: {}}

	d, err := fx.engine.Check(context.Background(), userEmployee, "crm:view")
	require.NoError(t, err)
	require.False(t, d.HasAccess)
	require.Equal(t, ReasonNoEntitlement, d.Reason)
	require.True(t, d.NoEntitlement)
}

func TestCheckSubscriptionExemptSkipsGate(t *testing.T) {
	fx := newEngineFixture()
	fx.graph.grants[roleEmployee] = map[int64]struct{}{permBillManage: {}}

	// Module 3 is not entitled, but the permission is subscription exempt.
	d, err := fx.engine.Check(context.Background(), userEmployee, "billing:manage")
	require.NoError(t, err)
	require.True(t, d.HasAccess)
	require.Equal(t, ReasonGrantedByRole, d.Reason)
}

func TestCheckPermissionLevelEntitlement(t *testing.T) {
	fx := newEngineFixture()
	delete(fx.entitlements.moduleIDs, moduleCRM)
	fx.entitlements.permissionIDs[permCrmView] = struct{}{}
	fx.graph.grants[roleEmployee] = map[int64]struct{}{permCrmView: {}}

	// A direct permission entitlement passes the gate without the module.
	d, err := fx.engine.Check(context.Background(), userEmployee, "crm:view")
	require.NoError(t, err)
	require.True(t, d.HasAccess)

	d, err = fx.engine.Check(context.Background(), userEmployee, "crm:create")
	require.NoError(t, err)
	require.False(t, d.HasAccess)
	require.Equal(t, ReasonNoEntitlement, d.Reason)
}

func TestCheckDenyOverrideBeatsEverything(t *testing.T) {
	fx := newEngineFixture()
	fx.graph.grants[roleEmployee] = map[int64]struct{}{permCrmView: {}}
	fx.overrides.byUser[userEmployee] = map[int64]overrides.Effect{permCrmView: overrides.EffectDeny}

	d, err := fx.engine.Check(context.Background(), userEmployee, "crm:view")
	require.NoError(t, err)
	require.False(t, d.HasAccess)
	require.Equal(t, ReasonDeniedByOverride, d.Reason)
	require.Equal(t, MatchExact, d.MatchType)
}

func TestCheckHierarchicalDeny(t *testing.T) {
	fx := newEngineFixture()
	fx.graph.grants[roleEmployee] = map[int64]struct{}{permCrmView: {}}
	fx.overrides.byUser[userEmployee] = map[int64]overrides.Effect{
		permCrmManage: overrides.EffectDeny,
		// The exact allow on view loses: the hierarchical deny is checked
		// before any allow.
		permCrmView: overrides.EffectAllow,
	}

	d, err := fx.engine.Check(context.Background(), userEmployee, "crm:view")
	require.NoError(t, err)
	require.False(t, d.HasAccess)
	require.Equal(t, ReasonDeniedByOverride, d.Reason)
	require.Equal(t, MatchHierarchical, d.MatchType)
	require.Equal(t, "crm:manage", d.GrantedVia)
}

func TestCheckAllowOverride(t *testing.T) {
	fx := newEngineFixture()

	fx.overrides.byUser[userEmployee] = map[int64]overrides.Effect{permCrmView: overrides.EffectAllow}
	d, err := fx.engine.Check(context.Background(), userEmployee, "crm:view")
	require.NoError(t, err)
	require.True(t, d.HasAccess)
	require.Equal(t, ReasonGrantedByOverride, d.Reason)
	require.Equal(t, MatchExact, d.MatchType)

	// An allow on the broader action rides down the hierarchy.
	fx.overrides.byUser[userEmployee] = map[int64]overrides.Effect{permCrmManage: overrides.EffectAllow}
	d, err = fx.engine.Check(context.Background(), userEmployee, "crm:create")
	require.NoError(t, err)
	require.True(t, d.HasAccess)
	require.Equal(t, ReasonGrantedByOverride, d.Reason)
	require.Equal(t, MatchHierarchical, d.MatchType)
	require.Equal(t, "crm:manage", d.GrantedVia)
}

func TestCheckRoleGrant(t *testing.T) {
	fx := newEngineFixture()
	fx.graph.grants[roleEmployee] = map[int64]struct{}{permCrmManage: {}}

	d, err := fx.engine.Check(context.Background(), userEmployee, "crm:manage")
	require.NoError(t, err)
	require.True(t, d.HasAccess)
	require.Equal(t, ReasonGrantedByRole, d.Reason)
	require.Equal(t, MatchExact, d.MatchType)

	d, err = fx.engine.Check(context.Background(), userEmployee, "crm:view")
	require.NoError(t, err)
	require.True(t, d.HasAccess)
	require.Equal(t, ReasonGrantedByRole, d.Reason)
	require.Equal(t, MatchHierarchical, d.MatchType)
	require.Equal(t, "crm:manage", d.GrantedVia)
}

func TestCheckDefaultDeny(t *testing.T) {
	fx := newEngineFixture()

	d, err := fx.engine.Check(context.Background(), userEmployee, "crm:view")
	require.NoError(t, err)
	require.False(t, d.HasAccess)
	require.Equal(t, ReasonNotGrantedByRole, d.Reason)
}

func TestBatchCheckMatchesSingleChecks(t *testing.T) {
	fx := newEngineFixture()
	delete(fx.entitlements.moduleIDs, moduleCRM)
	fx.entitlements.permissionIDs[permCrmView] = struct{}{}
	fx.graph.grants[roleEmployee] = map[int64]struct{}{permCrmManage: {}}
	fx.overrides.byUser[userEmployee] = map[int64]overrides.Effect{permCrmCreate: overrides.EffectDeny}

	keys := []string{"users:view", "crm:view", "crm:create", "crm:manage", "billing:manage", "crm:teleport"}

	batch, err := fx.engine.BatchCheck(context.Background(), userEmployee, keys)
	require.NoError(t, err)
	require.Len(t, batch, len(keys))

	for _, key := range keys {
		if key == "crm:teleport" {
			require.False(t, batch[key])
			continue
		}
		single, err := fx.engine.Check(context.Background(), userEmployee, key)
		require.NoError(t, err)
		require.Equal(t, single.HasAccess, batch[key], "key %s", key)
	}
}

func TestBatchCheckPreconditionFailure(t *testing.T) {
	fx := newEngineFixture()

	keys := []string{"users:view", "crm:view"}
	batch, err := fx.engine.BatchCheck(context.Background(), userInactive, keys)
	require.NoError(t, err)
	require.Len(t, batch, len(keys))
	for _, key := range keys {
		require.False(t, batch[key])
	}
}

func TestSnapshotListsEverything(t *testing.T) {
	fx := newEngineFixture()
	fx.graph.grants[roleEmployee] = map[int64]struct{}{permCrmManage: {}}

	snap, err := fx.engine.Snapshot(context.Background(), userEmployee)
	require.NoError(t, err)
	require.Len(t, snap.Permissions, 5)
	require.Len(t, snap.Modules, 3)

	byKey := make(map[string]bool, len(snap.Permissions))
	for _, p := range snap.Permissions {
		byKey[p.Key] = p.HasAccess
	}
	require.True(t, byKey["crm:view"])
	require.True(t, byKey["crm:create"])
	require.True(t, byKey["crm:manage"])
	require.False(t, byKey["users:view"], "free content still needs a grant for a regular user")
	require.False(t, byKey["billing:manage"])

	moduleByKey := make(map[string]bool, len(snap.Modules))
	for _, m := range snap.Modules {
		moduleByKey[m.Key] = m.HasAccess
	}
	require.True(t, moduleByKey["users"])
	require.True(t, moduleByKey["crm"])
	require.False(t, moduleByKey["billing"])

	// Deterministic ordering by key.
	for i := 1; i < len(snap.Permissions); i++ {
		require.Less(t, snap.Permissions[i-1].Key, snap.Permissions[i].Key)
	}
}

func TestSnapshotSuperAdminFreeContent(t *testing.T) {
	fx := newEngineFixture()

	snap, err := fx.engine.Snapshot(context.Background(), userSuperAdmin)
	require.NoError(t, err)

	byKey := make(map[string]bool, len(snap.Permissions))
	for _, p := range snap.Permissions {
		byKey[p.Key] = p.HasAccess
	}
	// Free content is auto-granted; paid content still runs the chain and
	// denies without a role grant.
	require.True(t, byKey["users:view"])
	require.False(t, byKey["crm:manage"])
	require.False(t, byKey["billing:manage"])
}

// timedOverrides applies the real expiry filter, unlike fakeOverrides.
type timedOverrides struct {
	rows []overrides.Override
	now  time.Time
}

func (f *timedOverrides) ActiveForUser(_ context.Context, userID int64) (map[int64]overrides.Effect, error) {
	out := make(map[int64]overrides.Effect)
	for _, o := range f.rows {
		if o.UserID == userID && o.ActiveAt(f.now) {
			out[o.PermissionID] = o.Effect
		}
	}
	return out, nil
}

// TestUnentitledCompanyLifecycle walks an employee of a company with no
// subscription through add-on purchase and an expired override.
func TestUnentitledCompanyLifecycle(t *testing.T) {
	fx := newEngineFixture()
	delete(fx.entitlements.moduleIDs, moduleCRM)

	d, err := fx.engine.Check(context.Background(), userEmployee, "crm:view")
	require.NoError(t, err)
	require.False(t, d.HasAccess)
	require.Equal(t, "Feature not included in subscription", d.Reason)
	require.True(t, d.NoEntitlement)

	// The company buys CRM as an add-on: the gate opens, but the employee
	// role grants nothing.
	fx.entitlements.moduleIDs[moduleCRM] = struct{}{}
	d, err = fx.engine.Check(context.Background(), userEmployee, "crm:view")
	require.NoError(t, err)
	require.False(t, d.HasAccess)
	require.Equal(t, "Permission not granted by role", d.Reason)
}

func TestExpiredOverrideFallsThroughToRoleChain(t *testing.T) {
	fx := newEngineFixture()
	now := time.Now()
	yesterday := now.Add(-24 * time.Hour)
	tomorrow := now.Add(24 * time.Hour)

	ovr := &timedOverrides{now: now, rows: []overrides.Override{
		{UserID: userEmployee, PermissionID: permCrmView, Effect: overrides.EffectAllow, ExpiresAt: &yesterday},
	}}
	engine := NewEngine(slog.New(slog.NewTextHandler(io.Discard, nil)),
		fx.engine.users, fx.engine.catalog, fx.entitlements, ovr, fx.graph)

	d, err := engine.Check(context.Background(), userEmployee, "crm:view")
	require.NoError(t, err)
	require.False(t, d.HasAccess)
	require.Equal(t, ReasonNotGrantedByRole, d.Reason, "expired override is ignored, role chain decides")

	// The same override, unexpired, grants.
	ovr.rows[0].ExpiresAt = &tomorrow
	d, err = engine.Check(context.Background(), userEmployee, "crm:view")
	require.NoError(t, err)
	require.True(t, d.HasAccess)
	require.Equal(t, ReasonGrantedByOverride, d.Reason)
}

func TestSnapshotPreconditionFailureDeniesUniformly(t *testing.T) {
	fx := newEngineFixture()

	snap, err := fx.engine.Snapshot(context.Background(), userInactive)
	require.NoError(t, err)
	require.Len(t, snap.Permissions, 5)
	require.Len(t, snap.Modules, 3)
	for _, p := range snap.Permissions {
		require.False(t, p.HasAccess)
	}
	for _, m := range snap.Modules {
		require.False(t, m.HasAccess)
	}
}
