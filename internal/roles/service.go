package roles

import (
	"context"
	"strings"

	"github.com/meridianhq/meridian/internal/shared"
)

// RepositoryPort defines data access methods for roles.
type RepositoryPort interface {
	GetRole(ctx context.Context, id int64) (Role, error)
	ListRoles(ctx context.Context, companyID *int64) ([]Role, error)
	CreateRole(ctx context.Context, role Role) (Role, error)
	UpdateRole(ctx context.Context, id int64, name string, priority int) (Role, error)
	SoftDeleteRole(ctx context.Context, id int64) error
	CountUsersWithRole(ctx context.Context, roleID int64) (int64, error)
	PermissionIDsForRole(ctx context.Context, roleID int64) ([]int64, error)
	GrantPermission(ctx context.Context, roleID, permissionID int64) error
	RevokePermission(ctx context.Context, roleID, permissionID int64) error
	ReplacePermissions(ctx context.Context, roleID int64, permissionIDs []int64) error
	CloneRole(ctx context.Context, role Role, baseRoleID int64) (Role, error)
}

// Service handles role business logic.
type Service struct {
	repo RepositoryPort
}

// NewService builds a Service instance.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

// Get fetches a role by id.
func (s *Service) Get(ctx context.Context, id int64) (Role, error) {
	return s.repo.GetRole(ctx, id)
}

// List returns platform roles plus the company's roles when companyID is set.
func (s *Service) List(ctx context.Context, companyID *int64) ([]Role, error) {
	return s.repo.ListRoles(ctx, companyID)
}

// Create validates and inserts a role. System roles are created only by
// the bootstrap seed, never through this path.
func (s *Service) Create(ctx context.Context, role Role) (Role, error) {
	role.Name = strings.TrimSpace(role.Name)
	if role.IsSystemRole {
		return Role{}, shared.AuthorizationError("system roles cannot be created through the API")
	}
	if err := validateRole(role); err != nil {
		return Role{}, err
	}
	return s.repo.CreateRole(ctx, role)
}

// Update renames or reprioritizes a role. System role names are immutable.
func (s *Service) Update(ctx context.Context, id int64, name string, priority int) (Role, error) {
	existing, err := s.repo.GetRole(ctx, id)
	if err != nil {
		return Role{}, err
	}
	name = strings.TrimSpace(name)
	if existing.IsSystemRole && name != existing.Name {
		return Role{}, shared.AuthorizationError("system role names are immutable")
	}
	candidate := existing
	candidate.Name = name
	candidate.Priority = priority
	if err := validateRole(candidate); err != nil {
		return Role{}, err
	}
	return s.repo.UpdateRole(ctx, id, name, priority)
}

// Delete soft-deletes a role. System roles and roles still referenced by
// users are not deletable.
func (s *Service) Delete(ctx context.Context, id int64) error {
	role, err := s.repo.GetRole(ctx, id)
	if err != nil {
		return err
	}
	if role.IsSystemRole {
		return shared.AuthorizationError("system roles cannot be deleted")
	}
	count, err := s.repo.CountUsersWithRole(ctx, id)
	if err != nil {
		return err
	}
	if count > 0 {
		return shared.ConflictError("role is assigned to %d user(s)", count)
	}
	return s.repo.SoftDeleteRole(ctx, id)
}

// CloneFromBase creates a company role from a platform role, copying its
// permission rows once. The lineage pointer is informational only.
func (s *Service) CloneFromBase(ctx context.Context, baseRoleID, companyID int64, name string, priority int) (Role, error) {
	base, err := s.repo.GetRole(ctx, baseRoleID)
	if err != nil {
		return Role{}, err
	}
	if base.Scope != ScopePlatform {
		return Role{}, shared.ValidationError("base role must be platform-scoped")
	}
	role := Role{
		Name:       strings.TrimSpace(name),
		Scope:      ScopeCompany,
		CompanyID:  &companyID,
		Priority:   priority,
		BaseRoleID: &baseRoleID,
	}
	if err := validateRole(role); err != nil {
		return Role{}, err
	}
	return s.repo.CloneRole(ctx, role, baseRoleID)
}

// PermissionIDs returns the role's directly granted permission id set.
func (s *Service) PermissionIDs(ctx context.Context, roleID int64) (map[int64]struct{}, error) {
	ids, err := s.repo.PermissionIDsForRole(ctx, roleID)
	if err != nil {
		return nil, err
	}
	set := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set, nil
}

// Grant attaches a permission to a role.
func (s *Service) Grant(ctx context.Context, roleID, permissionID int64) error {
	if _, err := s.repo.GetRole(ctx, roleID); err != nil {
		return err
	}
	return s.repo.GrantPermission(ctx, roleID, permissionID)
}

// Revoke detaches a permission from a role.
func (s *Service) Revoke(ctx context.Context, roleID, permissionID int64) error {
	if _, err := s.repo.GetRole(ctx, roleID); err != nil {
		return err
	}
	return s.repo.RevokePermission(ctx, roleID, permissionID)
}

// SetPermissions replaces the role's grant set wholesale.
func (s *Service) SetPermissions(ctx context.Context, roleID int64, permissionIDs []int64) error {
	if _, err := s.repo.GetRole(ctx, roleID); err != nil {
		return err
	}
	return s.repo.ReplacePermissions(ctx, roleID, permissionIDs)
}
