package users

import (
	"context"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/meridianhq/meridian/internal/roles"
	"github.com/meridianhq/meridian/internal/shared"
)

// RepositoryPort defines data access methods for users.
type RepositoryPort interface {
	GetUser(ctx context.Context, id int64) (User, error)
	GetUserWithRole(ctx context.Context, id int64) (WithRole, error)
	ListUsers(ctx context.Context, companyID *int64) ([]User, error)
	CreateUser(ctx context.Context, u User) (User, error)
	SetUserRole(ctx context.Context, userID int64, roleID *int64) error
	SetActive(ctx context.Context, userID int64, active bool) error
}

// RoleReader resolves roles for assignment validation.
type RoleReader interface {
	Get(ctx context.Context, id int64) (roles.Role, error)
}

// Service handles user business logic.
type Service struct {
	repo  RepositoryPort
	roles RoleReader
}

// NewService builds a Service instance.
func NewService(repo RepositoryPort, roleReader RoleReader) *Service {
	return &Service{repo: repo, roles: roleReader}
}

// Get fetches a user by id.
func (s *Service) Get(ctx context.Context, id int64) (User, error) {
	return s.repo.GetUser(ctx, id)
}

// GetWithRole fetches a user with its role joined.
func (s *Service) GetWithRole(ctx context.Context, id int64) (WithRole, error) {
	return s.repo.GetUserWithRole(ctx, id)
}

// List returns users, optionally scoped to a company.
func (s *Service) List(ctx context.Context, companyID *int64) ([]User, error) {
	return s.repo.ListUsers(ctx, companyID)
}

// Create registers a user with a hashed password.
func (s *Service) Create(ctx context.Context, u User, password string) (User, error) {
	u.Email = strings.TrimSpace(strings.ToLower(u.Email))
	if u.Email == "" {
		return User{}, shared.ValidationError("email required")
	}
	if strings.TrimSpace(u.Name) == "" {
		return User{}, shared.ValidationError("name required")
	}
	if len(password) < 8 {
		return User{}, shared.ValidationError("password must be at least 8 characters")
	}
	if u.RoleID != nil {
		if err := s.validateRoleAssignment(ctx, u, *u.RoleID); err != nil {
			return User{}, err
		}
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return User{}, err
	}
	u.PasswordHash = string(hash)
	u.IsActive = true
	return s.repo.CreateUser(ctx, u)
}

// AssignRole points the user at a role. Company-scoped roles must match the
// user's company; platform-internal users are excluded from that check and
// may only hold platform roles.
func (s *Service) AssignRole(ctx context.Context, userID, roleID int64) error {
	u, err := s.repo.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	if err := s.validateRoleAssignment(ctx, u, roleID); err != nil {
		return err
	}
	return s.repo.SetUserRole(ctx, userID, &roleID)
}

// ClearRole removes the user's role.
func (s *Service) ClearRole(ctx context.Context, userID int64) error {
	if _, err := s.repo.GetUser(ctx, userID); err != nil {
		return err
	}
	return s.repo.SetUserRole(ctx, userID, nil)
}

// SetActive toggles a user account.
func (s *Service) SetActive(ctx context.Context, userID int64, active bool) error {
	return s.repo.SetActive(ctx, userID, active)
}

func (s *Service) validateRoleAssignment(ctx context.Context, u User, roleID int64) error {
	role, err := s.roles.Get(ctx, roleID)
	if err != nil {
		return err
	}
	if role.Scope == roles.ScopeCompany {
		if u.PlatformInternal() {
			return shared.ValidationError("platform-internal users cannot hold company roles")
		}
		if role.CompanyID == nil || *role.CompanyID != *u.CompanyID {
			return shared.ValidationError("role belongs to a different company")
		}
	}
	return nil
}
