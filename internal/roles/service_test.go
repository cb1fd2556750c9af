package roles

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/meridianhq/meridian/internal/shared"
)

type grantKey struct {
	roleID       int64
	permissionID int64
}

// fakeRoleRepo keeps roles and their permission grants in memory.
type fakeRoleRepo struct {
	roles    map[int64]Role
	grants   map[grantKey]struct{}
	userRefs map[int64]int64
	nextID   int64
}

func newFakeRoleRepo() *fakeRoleRepo {
	return &fakeRoleRepo{
		roles:    make(map[int64]Role),
		grants:   make(map[grantKey]struct{}),
		userRefs: make(map[int64]int64),
	}
}

func (f *fakeRoleRepo) GetRole(_ context.Context, id int64) (Role, error) {
	r, ok := f.roles[id]
	if !ok || r.DeletedAt != nil {
		return Role{}, shared.NotFoundError("role %d not found", id)
	}
	return r, nil
}

func (f *fakeRoleRepo) ListRoles(_ context.Context, companyID *int64) ([]Role, error) {
	var out []Role
	for _, r := range f.roles {
		if r.DeletedAt != nil {
			continue
		}
		if r.Scope == ScopePlatform {
			out = append(out, r)
			continue
		}
		if companyID != nil && r.CompanyID != nil && *r.CompanyID == *companyID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeRoleRepo) CreateRole(_ context.Context, role Role) (Role, error) {
	f.nextID++
	role.ID = f.nextID
	f.roles[role.ID] = role
	return role, nil
}

func (f *fakeRoleRepo) UpdateRole(_ context.Context, id int64, name string, priority int) (Role, error) {
	r, ok := f.roles[id]
	if !ok {
		return Role{}, shared.NotFoundError("role %d not found", id)
	}
	r.Name = name
	r.Priority = priority
	f.roles[id] = r
	return r, nil
}

func (f *fakeRoleRepo) SoftDeleteRole(_ context.Context, id int64) error {
	r, ok := f.roles[id]
	if !ok {
		return shared.NotFoundError("role %d not found", id)
	}
	now := time.Now()
	r.DeletedAt = &now
	f.roles[id] = r
	return nil
}

func (f *fakeRoleRepo) CountUsersWithRole(_ context.Context, roleID int64) (int64, error) {
	return f.userRefs[roleID], nil
}

func (f *fakeRoleRepo) PermissionIDsForRole(_ context.Context, roleID int64) ([]int64, error) {
	var out []int64
	for key := range f.grants {
		if key.roleID == roleID {
			out = append(out, key.permissionID)
		}
	}
	return out, nil
}

func (f *fakeRoleRepo) GrantPermission(_ context.Context, roleID, permissionID int64) error {
	f.grants[grantKey{roleID, permissionID}] = struct{}{}
	return nil
}

func (f *fakeRoleRepo) RevokePermission(_ context.Context, roleID, permissionID int64) error {
	delete(f.grants, grantKey{roleID, permissionID})
	return nil
}

func (f *fakeRoleRepo) ReplacePermissions(_ context.Context, roleID int64, permissionIDs []int64) error {
	for key := range f.grants {
		if key.roleID == roleID {
			delete(f.grants, key)
		}
	}
	for _, permissionID := range permissionIDs {
		f.grants[grantKey{roleID, permissionID}] = struct{}{}
	}
	return nil
}

func (f *fakeRoleRepo) CloneRole(ctx context.Context, role Role, baseRoleID int64) (Role, error) {
	created, err := f.CreateRole(ctx, role)
	if err != nil {
		return Role{}, err
	}
	ids, _ := f.PermissionIDsForRole(ctx, baseRoleID)
	for _, permissionID := range ids {
		f.grants[grantKey{created.ID, permissionID}] = struct{}{}
	}
	return created, nil
}

func TestCreateRoleValidation(t *testing.T) {
	svc := NewService(newFakeRoleRepo())
	companyID := int64(7)

	_, err := svc.Create(context.Background(), Role{Name: " ", Scope: ScopeCompany, CompanyID: &companyID, Priority: 25})
	require.True(t, shared.IsKind(err, shared.KindValidation))

	_, err = svc.Create(context.Background(), Role{Name: "Ops", Scope: ScopePlatform, IsSystemRole: true})
	require.True(t, shared.IsKind(err, shared.KindAuthorization), "system role creation is seed-only")

	_, err = svc.Create(context.Background(), Role{Name: "Ops", Scope: ScopePlatform, Priority: 5})
	require.True(t, shared.IsKind(err, shared.KindValidation), "custom platform role below the priority floor")

	_, err = svc.Create(context.Background(), Role{Name: "Ops", Scope: ScopeCompany, CompanyID: &companyID, Priority: 15})
	require.True(t, shared.IsKind(err, shared.KindValidation), "company role below the priority floor")

	role, err := svc.Create(context.Background(), Role{Name: "Ops Lead", Scope: ScopeCompany, CompanyID: &companyID, Priority: 25})
	require.NoError(t, err)
	require.NotZero(t, role.ID)
}

func TestUpdateRoleSystemNameImmutable(t *testing.T) {
	repo := newFakeRoleRepo()
	svc := NewService(repo)
	repo.roles[1] = Role{ID: 1, Name: "Super Admin", Scope: ScopePlatform, Priority: PrioritySuperAdmin, IsSystemRole: true}

	_, err := svc.Update(context.Background(), 1, "Root", PrioritySuperAdmin)
	require.True(t, shared.IsKind(err, shared.KindAuthorization))

	// Same name, new priority is fine.
	updated, err := svc.Update(context.Background(), 1, "Super Admin", PrioritySuperAdmin)
	require.NoError(t, err)
	require.Equal(t, "Super Admin", updated.Name)
}

func TestDeleteRoleGuards(t *testing.T) {
	repo := newFakeRoleRepo()
	svc := NewService(repo)
	companyID := int64(7)
	repo.roles[1] = Role{ID: 1, Name: "Super Admin", Scope: ScopePlatform, IsSystemRole: true}
	repo.roles[2] = Role{ID: 2, Name: "Ops Lead", Scope: ScopeCompany, CompanyID: &companyID, Priority: 25}

	err := svc.Delete(context.Background(), 1)
	require.True(t, shared.IsKind(err, shared.KindAuthorization))

	repo.userRefs[2] = 3
	err = svc.Delete(context.Background(), 2)
	require.True(t, shared.IsKind(err, shared.KindConflict))

	repo.userRefs[2] = 0
	require.NoError(t, svc.Delete(context.Background(), 2))

	_, err = svc.Get(context.Background(), 2)
	require.True(t, shared.IsKind(err, shared.KindNotFound))
}

func TestCloneFromBase(t *testing.T) {
	repo := newFakeRoleRepo()
	svc := NewService(repo)
	companyID := int64(7)
	repo.roles[1] = Role{ID: 1, Name: "Manager", Scope: ScopePlatform, Priority: 10}
	repo.grants[grantKey{1, 100}] = struct{}{}
	repo.grants[grantKey{1, 101}] = struct{}{}
	repo.roles[2] = Role{ID: 2, Name: "Ops Lead", Scope: ScopeCompany, CompanyID: &companyID, Priority: 25}
	repo.nextID = 2

	_, err := svc.CloneFromBase(context.Background(), 2, companyID, "Team Lead", 25)
	require.True(t, shared.IsKind(err, shared.KindValidation), "base must be platform-scoped")

	clone, err := svc.CloneFromBase(context.Background(), 1, companyID, "Team Lead", 25)
	require.NoError(t, err)
	require.Equal(t, ScopeCompany, clone.Scope)
	require.NotNil(t, clone.BaseRoleID)
	require.Equal(t, int64(1), *clone.BaseRoleID)

	// Permission rows were copied once; later base edits do not propagate.
	set, err := svc.PermissionIDs(context.Background(), clone.ID)
	require.NoError(t, err)
	require.Len(t, set, 2)
	require.Contains(t, set, int64(100))

	require.NoError(t, svc.Grant(context.Background(), 1, 102))
	set, err = svc.PermissionIDs(context.Background(), clone.ID)
	require.NoError(t, err)
	require.Len(t, set, 2)
}

func TestGrantRevokePermission(t *testing.T) {
	repo := newFakeRoleRepo()
	svc := NewService(repo)
	companyID := int64(7)
	repo.roles[2] = Role{ID: 2, Name: "Ops Lead", Scope: ScopeCompany, CompanyID: &companyID, Priority: 25}

	err := svc.Grant(context.Background(), 99, 100)
	require.True(t, shared.IsKind(err, shared.KindNotFound))

	require.NoError(t, svc.Grant(context.Background(), 2, 100))
	set, err := svc.PermissionIDs(context.Background(), 2)
	require.NoError(t, err)
	require.Contains(t, set, int64(100))

	require.NoError(t, svc.Revoke(context.Background(), 2, 100))
	set, err = svc.PermissionIDs(context.Background(), 2)
	require.NoError(t, err)
	require.Empty(t, set)
}

func TestSetPermissions(t *testing.T) {
	repo := newFakeRoleRepo()
	svc := NewService(repo)
	companyID := int64(7)
	repo.roles[2] = Role{ID: 2, Name: "Ops Lead", Scope: ScopeCompany, CompanyID: &companyID, Priority: 25}
	repo.grants[grantKey{2, 100}] = struct{}{}
	repo.grants[grantKey{2, 101}] = struct{}{}

	err := svc.SetPermissions(context.Background(), 99, []int64{100})
	require.True(t, shared.IsKind(err, shared.KindNotFound))

	require.NoError(t, svc.SetPermissions(context.Background(), 2, []int64{101, 102}))
	set, err := svc.PermissionIDs(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, set, 2)
	require.Contains(t, set, int64(101))
	require.Contains(t, set, int64(102))
	require.NotContains(t, set, int64(100))
}
