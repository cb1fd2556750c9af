package catalog

import (
	"context"
	"strings"
	"sync"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/meridianhq/meridian/internal/shared"
)

// RepositoryPort defines data access methods for the catalog.
type RepositoryPort interface {
	ListModules(ctx context.Context) ([]Module, error)
	GetModule(ctx context.Context, id int64) (Module, error)
	CreateModule(ctx context.Context, m Module) (Module, error)
	ListPermissions(ctx context.Context) ([]Permission, error)
	GetPermission(ctx context.Context, id int64) (Permission, error)
	GetPermissionByKey(ctx context.Context, key string) (Permission, error)
	CreatePermission(ctx context.Context, p Permission) (Permission, error)
}

var titleCaser = cases.Title(language.English)

// Service exposes the catalog and keeps the hierarchy index current.
type Service struct {
	repo RepositoryPort

	mu        sync.RWMutex
	hierarchy *Hierarchy
}

// NewService builds a Service instance.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

// ListModules returns all active modules.
func (s *Service) ListModules(ctx context.Context) ([]Module, error) {
	return s.repo.ListModules(ctx)
}

// GetModule fetches a module by id.
func (s *Service) GetModule(ctx context.Context, id int64) (Module, error) {
	return s.repo.GetModule(ctx, id)
}

// ListPermissions returns all active permissions.
func (s *Service) ListPermissions(ctx context.Context) ([]Permission, error) {
	return s.repo.ListPermissions(ctx)
}

// GetPermission fetches a permission by id.
func (s *Service) GetPermission(ctx context.Context, id int64) (Permission, error) {
	return s.repo.GetPermission(ctx, id)
}

// GetPermissionByKey resolves a "<module>:<action>" key.
func (s *Service) GetPermissionByKey(ctx context.Context, key string) (Permission, error) {
	key = strings.TrimSpace(strings.ToLower(key))
	if key == "" {
		return Permission{}, shared.ValidationError("permission key required")
	}
	return s.repo.GetPermissionByKey(ctx, key)
}

// CreateModule registers a module. Display names default to the title-cased key.
func (s *Service) CreateModule(ctx context.Context, m Module) (Module, error) {
	m.Key = strings.TrimSpace(strings.ToLower(m.Key))
	if m.Key == "" {
		return Module{}, shared.ValidationError("module key required")
	}
	if strings.TrimSpace(m.Name) == "" {
		m.Name = titleCaser.String(strings.ReplaceAll(m.Key, "_", " "))
	}
	created, err := s.repo.CreateModule(ctx, m)
	if err != nil {
		return Module{}, err
	}
	s.invalidateHierarchy()
	return created, nil
}

// CreatePermission registers a permission under a module. The key is derived
// from the module key and the action.
func (s *Service) CreatePermission(ctx context.Context, p Permission) (Permission, error) {
	p.Action = strings.TrimSpace(strings.ToLower(p.Action))
	if p.Action == "" {
		return Permission{}, shared.ValidationError("permission action required")
	}
	if _, ok := actionRank[p.Action]; !ok {
		return Permission{}, shared.ValidationError("unknown permission action %q", p.Action)
	}
	module, err := s.repo.GetModule(ctx, p.ModuleID)
	if err != nil {
		return Permission{}, err
	}
	p.Key = module.Key + ":" + p.Action
	if strings.TrimSpace(p.Name) == "" {
		p.Name = titleCaser.String(p.Action) + " " + module.Name
	}
	created, err := s.repo.CreatePermission(ctx, p)
	if err != nil {
		return Permission{}, err
	}
	s.invalidateHierarchy()
	return created, nil
}

// Hierarchy returns the hierarchy index, building it from the catalog on
// first use after an invalidation.
func (s *Service) Hierarchy(ctx context.Context) (*Hierarchy, error) {
	s.mu.RLock()
	h := s.hierarchy
	s.mu.RUnlock()
	if h != nil {
		return h, nil
	}

	perms, err := s.repo.ListPermissions(ctx)
	if err != nil {
		return nil, err
	}
	built := BuildHierarchy(perms)

	s.mu.Lock()
	s.hierarchy = built
	s.mu.Unlock()
	return built, nil
}

func (s *Service) invalidateHierarchy() {
	s.mu.Lock()
	s.hierarchy = nil
	s.mu.Unlock()
}
