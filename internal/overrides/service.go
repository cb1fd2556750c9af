package overrides

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/meridianhq/meridian/internal/catalog"
	"github.com/meridianhq/meridian/internal/roles"
	"github.com/meridianhq/meridian/internal/shared"
	"github.com/meridianhq/meridian/internal/users"
)

// RepositoryPort defines data access methods for overrides.
type RepositoryPort interface {
	GetActive(ctx context.Context, userID, permissionID int64) (Override, bool, error)
	Exists(ctx context.Context, userID, permissionID int64) (bool, error)
	ListActiveForUser(ctx context.Context, userID int64) ([]Override, error)
	CountActiveForUser(ctx context.Context, userID int64) (int, error)
	Upsert(ctx context.Context, o Override) (Override, error)
	BulkUpsert(ctx context.Context, os []Override) ([]Override, error)
	Delete(ctx context.Context, userID, permissionID int64) (bool, error)
	DeleteExpired(ctx context.Context) (int64, error)
}

// UserDirectory resolves users with their roles for the authorization gate.
type UserDirectory interface {
	GetWithRole(ctx context.Context, id int64) (users.WithRole, error)
}

// Catalog resolves permissions and the action hierarchy.
type Catalog interface {
	GetPermission(ctx context.Context, id int64) (catalog.Permission, error)
	Hierarchy(ctx context.Context) (*catalog.Hierarchy, error)
}

// RoleGraph reads a role's directly granted permission set.
type RoleGraph interface {
	PermissionIDs(ctx context.Context, roleID int64) (map[int64]struct{}, error)
}

// Service enforces the override grant policy and cascade semantics.
type Service struct {
	logger  *slog.Logger
	repo    RepositoryPort
	users   UserDirectory
	catalog Catalog
	roles   RoleGraph
	now     func() time.Time
}

// NewService builds a Service instance.
func NewService(logger *slog.Logger, repo RepositoryPort, dir UserDirectory, cat Catalog, graph RoleGraph) *Service {
	return &Service{logger: logger, repo: repo, users: dir, catalog: cat, roles: graph, now: time.Now}
}

// CreateRequest carries the inputs for one override.
type CreateRequest struct {
	UserID       int64
	PermissionID int64
	Effect       Effect
	Reason       string
	RequestedBy  int64
	ExpiresAt    *time.Time
}

// Create upserts a single override after the authorization gate passes.
// Creating an override for an existing (user, permission) pair updates it
// in place rather than erroring.
func (s *Service) Create(ctx context.Context, req CreateRequest) (Override, error) {
	perm, target, err := s.authorize(ctx, req)
	if err != nil {
		return Override{}, err
	}

	s.warnIfRedundantDeny(ctx, req, target, perm)

	if err := s.enforceCap(ctx, req.UserID, req.PermissionID); err != nil {
		return Override{}, err
	}

	reason := req.Reason
	if reason == "" {
		reason = defaultReason(req.Effect, perm.Key)
	}
	return s.repo.Upsert(ctx, Override{
		UserID:          req.UserID,
		PermissionID:    req.PermissionID,
		Effect:          req.Effect,
		Reason:          reason,
		GrantedByUserID: req.RequestedBy,
		ExpiresAt:       req.ExpiresAt,
	})
}

// BulkCreate applies a set of overrides for one user with cascade
// semantics: an allow on a coarser action cascades downward to the finer
// actions it subsumes, and a deny on a finer action cascades upward to the
// coarser actions that would otherwise still permit it. The closure is
// computed before persistence and the whole batch commits atomically.
func (s *Service) BulkCreate(ctx context.Context, userID int64, reqs []CreateRequest, requestedBy int64) ([]Override, error) {
	if len(reqs) == 0 {
		return nil, shared.ValidationError("at least one override required")
	}

	hierarchy, err := s.catalog.Hierarchy(ctx)
	if err != nil {
		return nil, err
	}

	// permission id -> materialized override; explicit requests win over
	// cascaded rows.
	closure := make(map[int64]Override)
	explicit := make(map[int64]struct{})

	for _, req := range reqs {
		req.UserID = userID
		req.RequestedBy = requestedBy
		perm, _, err := s.authorize(ctx, req)
		if err != nil {
			return nil, err
		}
		reason := req.Reason
		if reason == "" {
			reason = defaultReason(req.Effect, perm.Key)
		}
		closure[req.PermissionID] = Override{
			UserID:          userID,
			PermissionID:    req.PermissionID,
			Effect:          req.Effect,
			Reason:          reason,
			GrantedByUserID: requestedBy,
			ExpiresAt:       req.ExpiresAt,
		}
		explicit[req.PermissionID] = struct{}{}

		var related []int64
		switch req.Effect {
		case EffectAllow:
			related = hierarchy.NarrowerThan(req.PermissionID)
		case EffectDeny:
			related = hierarchy.BroaderThan(req.PermissionID)
		}
		for _, id := range related {
			if _, isExplicit := explicit[id]; isExplicit {
				continue
			}
			relatedPerm, ok := hierarchy.ByID(id)
			if !ok || relatedPerm.IsSystemPermission {
				// System permissions are never overridable, not even by cascade.
				continue
			}
			closure[id] = Override{
				UserID:          userID,
				PermissionID:    id,
				Effect:          req.Effect,
				Reason:          fmt.Sprintf("Cascaded %s from %s", req.Effect, perm.Key),
				GrantedByUserID: requestedBy,
				ExpiresAt:       req.ExpiresAt,
			}
		}
	}

	rows := make([]Override, 0, len(closure))
	creations := 0
	for _, o := range closure {
		exists, err := s.repo.Exists(ctx, userID, o.PermissionID)
		if err != nil {
			return nil, err
		}
		if !exists {
			creations++
		}
		rows = append(rows, o)
	}
	active, err := s.repo.CountActiveForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if active+creations > MaxActivePerUser {
		return nil, shared.ValidationError("user would exceed %d active overrides", MaxActivePerUser)
	}

	return s.repo.BulkUpsert(ctx, rows)
}

// GetEffective returns the active override effect for the exact pair.
func (s *Service) GetEffective(ctx context.Context, userID, permissionID int64) (Effect, error) {
	o, ok, err := s.repo.GetActive(ctx, userID, permissionID)
	if err != nil || !ok {
		return EffectNone, err
	}
	return o.Effect, nil
}

// ActiveForUser returns the user's unexpired overrides keyed by permission.
func (s *Service) ActiveForUser(ctx context.Context, userID int64) (map[int64]Effect, error) {
	list, err := s.repo.ListActiveForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make(map[int64]Effect, len(list))
	for _, o := range list {
		out[o.PermissionID] = o.Effect
	}
	return out, nil
}

// List returns the user's unexpired overrides.
func (s *Service) List(ctx context.Context, userID int64) ([]Override, error) {
	return s.repo.ListActiveForUser(ctx, userID)
}

// Remove deletes an override.
func (s *Service) Remove(ctx context.Context, userID, permissionID int64) error {
	removed, err := s.repo.Delete(ctx, userID, permissionID)
	if err != nil {
		return err
	}
	if !removed {
		return shared.NotFoundError("no override for user %d permission %d", userID, permissionID)
	}
	return nil
}

// CleanupExpired removes expired rows on demand.
func (s *Service) CleanupExpired(ctx context.Context) (int64, error) {
	removed, err := s.repo.DeleteExpired(ctx)
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		s.logger.Info("expired overrides removed", slog.Int64("count", removed))
	}
	return removed, nil
}

// authorize runs the gate that precedes any override write: the grantor
// must sit in the top three authority tiers, must not outrank-downward the
// target, and the permission must not be a system permission. Any failing
// clause aborts with an authorization error and no write happens.
func (s *Service) authorize(ctx context.Context, req CreateRequest) (catalog.Permission, users.WithRole, error) {
	if req.Effect != EffectAllow && req.Effect != EffectDeny {
		return catalog.Permission{}, users.WithRole{}, shared.ValidationError("override effect must be allow or deny")
	}
	if req.ExpiresAt != nil && !req.ExpiresAt.After(s.now()) {
		return catalog.Permission{}, users.WithRole{}, shared.ValidationError("override expiry must be in the future")
	}

	perm, err := s.catalog.GetPermission(ctx, req.PermissionID)
	if err != nil {
		return catalog.Permission{}, users.WithRole{}, err
	}
	if perm.IsSystemPermission {
		return catalog.Permission{}, users.WithRole{}, shared.AuthorizationError("permission %q is a system permission and cannot be overridden", perm.Key)
	}

	grantor, err := s.users.GetWithRole(ctx, req.RequestedBy)
	if err != nil {
		return catalog.Permission{}, users.WithRole{}, err
	}
	if grantor.Role == nil {
		return catalog.Permission{}, users.WithRole{}, shared.AuthorizationError("grantor has no role")
	}
	if grantor.Role.Priority > roles.MaxOverrideGrantorPriority {
		return catalog.Permission{}, users.WithRole{}, shared.AuthorizationError("role priority %d may not grant overrides", grantor.Role.Priority)
	}

	target, err := s.users.GetWithRole(ctx, req.UserID)
	if err != nil {
		return catalog.Permission{}, users.WithRole{}, err
	}
	if target.Role != nil && grantor.Role.Priority > target.Role.Priority {
		return catalog.Permission{}, users.WithRole{}, shared.AuthorizationError("cannot grant overrides affecting a more senior user")
	}

	return perm, target, nil
}

// warnIfRedundantDeny logs when a deny is redundant against the target's
// role. The row is persisted anyway: an explicit deny documents intent and
// blocks future role changes from silently re-granting.
func (s *Service) warnIfRedundantDeny(ctx context.Context, req CreateRequest, target users.WithRole, perm catalog.Permission) {
	if req.Effect != EffectDeny || target.Role == nil {
		return
	}
	granted, err := s.roles.PermissionIDs(ctx, target.Role.ID)
	if err != nil {
		return
	}
	if _, ok := granted[req.PermissionID]; !ok {
		s.logger.Warn("deny override is redundant: role does not grant permission",
			slog.Int64("user_id", req.UserID),
			slog.String("permission", perm.Key))
	}
}

func defaultReason(effect Effect, key string) string {
	if effect == EffectDeny {
		return fmt.Sprintf("Access to %s revoked", key)
	}
	return fmt.Sprintf("Access to %s granted", key)
}

func (s *Service) enforceCap(ctx context.Context, userID, permissionID int64) error {
	exists, err := s.repo.Exists(ctx, userID, permissionID)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	active, err := s.repo.CountActiveForUser(ctx, userID)
	if err != nil {
		return err
	}
	if active >= MaxActivePerUser {
		return shared.ValidationError("user already has %d active overrides", MaxActivePerUser)
	}
	return nil
}
