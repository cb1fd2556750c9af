package billing

import (
	"context"

	"golang.org/x/sync/singleflight"

	"github.com/meridianhq/meridian/internal/catalog"
)

// ModuleReader resolves catalog modules for the free-for-all short circuit.
type ModuleReader interface {
	GetModule(ctx context.Context, id int64) (catalog.Module, error)
	ListModules(ctx context.Context) ([]catalog.Module, error)
}

// Resolver computes what a company has paid for. Single checks hit the
// store directly with the cheapest test first; Snapshot precomputes the
// full set once per request so batch permission checks stay O(1) per key.
type Resolver struct {
	repo    Repository
	modules ModuleReader
	cache   *SnapshotCache
	group   singleflight.Group
}

// NewResolver builds a Resolver. cache may be nil to disable caching.
func NewResolver(repo Repository, modules ModuleReader, cache *SnapshotCache) *Resolver {
	return &Resolver{repo: repo, modules: modules, cache: cache}
}

// HasModuleAccess decides module entitlement, short-circuited cheapest
// first: free-for-all, then a live ledger row, then the current active
// subscription's plan grant.
func (r *Resolver) HasModuleAccess(ctx context.Context, companyID, moduleID int64) (bool, error) {
	module, err := r.modules.GetModule(ctx, moduleID)
	if err != nil {
		return false, err
	}
	if module.IsFreeForAll {
		return true, nil
	}
	if ok, err := r.repo.HasActiveCompanyModule(ctx, companyID, moduleID); err != nil || ok {
		return ok, err
	}
	return r.repo.CurrentPlanGrantsModule(ctx, companyID, moduleID)
}

// HasPermissionAccess decides permission-level entitlement. Used only as a
// fallback when module access fails: the permission may have been purchased
// directly or granted by the plan without the whole module.
func (r *Resolver) HasPermissionAccess(ctx context.Context, companyID, permissionID int64) (bool, error) {
	if ok, err := r.repo.CurrentPlanGrantsPermission(ctx, companyID, permissionID); err != nil || ok {
		return ok, err
	}
	return r.repo.HasActiveCompanyPermission(ctx, companyID, permissionID)
}

// ModuleIDsAccessibleToCompany returns the full accessible module id set,
// free-for-all modules included.
func (r *Resolver) ModuleIDsAccessibleToCompany(ctx context.Context, companyID int64) (map[int64]struct{}, error) {
	snap, err := r.Snapshot(ctx, companyID)
	if err != nil {
		return nil, err
	}
	return snap.ModuleIDs, nil
}

// Snapshot computes (or retrieves from cache) the company's entitlement
// snapshot. Concurrent computations for the same company collapse into one.
func (r *Resolver) Snapshot(ctx context.Context, companyID int64) (EntitlementSnapshot, error) {
	if r.cache != nil {
		if snap, ok, err := r.cache.Get(ctx, companyID); err == nil && ok {
			return snap, nil
		}
	}

	v, err, _ := r.group.Do(snapshotKey(companyID), func() (any, error) {
		snap, err := r.computeSnapshot(ctx, companyID)
		if err != nil {
			return EntitlementSnapshot{}, err
		}
		if r.cache != nil {
			// Cache put failures are not fatal; the snapshot is still valid.
			_ = r.cache.Set(ctx, companyID, snap)
		}
		return snap, nil
	})
	if err != nil {
		return EntitlementSnapshot{}, err
	}
	return v.(EntitlementSnapshot), nil
}

// Warm recomputes the snapshot and refreshes the cache, discarding any
// stale cached copy first.
func (r *Resolver) Warm(ctx context.Context, companyID int64) error {
	r.Invalidate(ctx, companyID)
	_, err := r.Snapshot(ctx, companyID)
	return err
}

// Invalidate drops the cached snapshot after an entitlement mutation.
func (r *Resolver) Invalidate(ctx context.Context, companyID int64) {
	if r.cache != nil {
		_ = r.cache.Invalidate(ctx, companyID)
	}
}

func (r *Resolver) computeSnapshot(ctx context.Context, companyID int64) (EntitlementSnapshot, error) {
	snap := EntitlementSnapshot{
		ModuleIDs:     make(map[int64]struct{}),
		PermissionIDs: make(map[int64]struct{}),
	}

	modules, err := r.modules.ListModules(ctx)
	if err != nil {
		return EntitlementSnapshot{}, err
	}
	for _, m := range modules {
		if m.IsFreeForAll {
			snap.ModuleIDs[m.ID] = struct{}{}
		}
	}

	moduleIDs, err := r.repo.EntitledModuleIDs(ctx, companyID)
	if err != nil {
		return EntitlementSnapshot{}, err
	}
	for _, id := range moduleIDs {
		snap.ModuleIDs[id] = struct{}{}
	}

	permissionIDs, err := r.repo.EntitledPermissionIDs(ctx, companyID)
	if err != nil {
		return EntitlementSnapshot{}, err
	}
	for _, id := range permissionIDs {
		snap.PermissionIDs[id] = struct{}{}
	}

	return snap, nil
}
