package billing

import (
	"context"
	"errors"
	"time"

	"github.com/meridianhq/meridian/internal/catalog"
	"github.com/meridianhq/meridian/internal/shared"
)

// fakeRepo is an in-memory Repository double. WithTx snapshots the whole
// store up front and restores it when the callback errors, so the tests
// can assert transactional all-or-nothing behavior.
type fakeRepo struct {
	plans      map[int64]SubscriptionPlan
	grants     map[int64]PlanGrants
	subs       []CompanySubscription
	nextSubID  int64
	moduleRows map[int64]map[int64]CompanyModule
	permRows   map[int64]map[int64]CompanyPermission

	failOn string
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		plans:      make(map[int64]SubscriptionPlan),
		grants:     make(map[int64]PlanGrants),
		moduleRows: make(map[int64]map[int64]CompanyModule),
		permRows:   make(map[int64]map[int64]CompanyPermission),
	}
}

var errForced = errors.New("forced failure")

func (f *fakeRepo) fail(op string) error {
	if f.failOn == op {
		return errForced
	}
	return nil
}

func (f *fakeRepo) GetPlan(_ context.Context, id int64) (SubscriptionPlan, error) {
	plan, ok := f.plans[id]
	if !ok {
		return SubscriptionPlan{}, shared.NotFoundError("plan %d not found", id)
	}
	return plan, nil
}

func (f *fakeRepo) ListPlans(context.Context) ([]SubscriptionPlan, error) {
	out := make([]SubscriptionPlan, 0, len(f.plans))
	for _, p := range f.plans {
		out = append(out, p)
	}
	return out, nil
}

func (f *fakeRepo) CreatePlan(_ context.Context, plan SubscriptionPlan) (SubscriptionPlan, error) {
	plan.ID = int64(len(f.plans) + 1)
	f.plans[plan.ID] = plan
	return plan, nil
}

func (f *fakeRepo) AddPlanModule(_ context.Context, planID, moduleID int64) error {
	g := f.grants[planID]
	g.ModuleIDs = append(g.ModuleIDs, moduleID)
	f.grants[planID] = g
	return nil
}

func (f *fakeRepo) AddPlanPermission(_ context.Context, planID, permissionID int64) error {
	g := f.grants[planID]
	g.PermissionIDs = append(g.PermissionIDs, permissionID)
	f.grants[planID] = g
	return nil
}

func (f *fakeRepo) PlanGrants(_ context.Context, planID int64) (PlanGrants, error) {
	if err := f.fail("PlanGrants"); err != nil {
		return PlanGrants{}, err
	}
	return f.grants[planID], nil
}

func (f *fakeRepo) CurrentSubscription(_ context.Context, companyID int64) (CompanySubscription, bool, error) {
	for _, s := range f.subs {
		if s.CompanyID == companyID && s.IsCurrent && s.DeletedAt == nil {
			return s, true, nil
		}
	}
	return CompanySubscription{}, false, nil
}

func (f *fakeRepo) ListSubscriptions(_ context.Context, companyID int64) ([]CompanySubscription, error) {
	var out []CompanySubscription
	for _, s := range f.subs {
		if s.CompanyID == companyID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeRepo) UpdateSubscriptionStatus(_ context.Context, subscriptionID int64, status SubscriptionStatus) error {
	for i := range f.subs {
		if f.subs[i].ID == subscriptionID {
			f.subs[i].Status = status
			return nil
		}
	}
	return shared.NotFoundError("subscription %d not found", subscriptionID)
}

func (f *fakeRepo) HasActiveCompanyModule(_ context.Context, companyID, moduleID int64) (bool, error) {
	row, ok := f.moduleRows[companyID][moduleID]
	return ok && row.DeletedAt == nil, nil
}

func (f *fakeRepo) HasActiveCompanyPermission(_ context.Context, companyID, permissionID int64) (bool, error) {
	row, ok := f.permRows[companyID][permissionID]
	return ok && row.DeletedAt == nil, nil
}

func (f *fakeRepo) currentActivePlan(companyID int64) (int64, bool) {
	for _, s := range f.subs {
		if s.CompanyID == companyID && s.IsCurrent && s.Status == SubscriptionActive && s.DeletedAt == nil {
			return s.PlanID, true
		}
	}
	return 0, false
}

func (f *fakeRepo) CurrentPlanGrantsModule(_ context.Context, companyID, moduleID int64) (bool, error) {
	planID, ok := f.currentActivePlan(companyID)
	if !ok {
		return false, nil
	}
	for _, id := range f.grants[planID].ModuleIDs {
		if id == moduleID {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeRepo) CurrentPlanGrantsPermission(_ context.Context, companyID, permissionID int64) (bool, error) {
	planID, ok := f.currentActivePlan(companyID)
	if !ok {
		return false, nil
	}
	for _, id := range f.grants[planID].PermissionIDs {
		if id == permissionID {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeRepo) EntitledModuleIDs(_ context.Context, companyID int64) ([]int64, error) {
	seen := make(map[int64]struct{})
	for id, row := range f.moduleRows[companyID] {
		if row.DeletedAt == nil {
			seen[id] = struct{}{}
		}
	}
	if planID, ok := f.currentActivePlan(companyID); ok {
		for _, id := range f.grants[planID].ModuleIDs {
			seen[id] = struct{}{}
		}
	}
	out := make([]int64, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	return out, nil
}

func (f *fakeRepo) EntitledPermissionIDs(_ context.Context, companyID int64) ([]int64, error) {
	seen := make(map[int64]struct{})
	for id, row := range f.permRows[companyID] {
		if row.DeletedAt == nil {
			seen[id] = struct{}{}
		}
	}
	if planID, ok := f.currentActivePlan(companyID); ok {
		for _, id := range f.grants[planID].PermissionIDs {
			seen[id] = struct{}{}
		}
	}
	out := make([]int64, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	return out, nil
}

func (f *fakeRepo) UpsertCompanyModule(_ context.Context, row CompanyModule) error {
	if err := f.fail("UpsertCompanyModule"); err != nil {
		return err
	}
	if f.moduleRows[row.CompanyID] == nil {
		f.moduleRows[row.CompanyID] = make(map[int64]CompanyModule)
	}
	f.moduleRows[row.CompanyID][row.ModuleID] = row
	return nil
}

func (f *fakeRepo) UpsertCompanyPermission(_ context.Context, row CompanyPermission) error {
	if err := f.fail("UpsertCompanyPermission"); err != nil {
		return err
	}
	if f.permRows[row.CompanyID] == nil {
		f.permRows[row.CompanyID] = make(map[int64]CompanyPermission)
	}
	f.permRows[row.CompanyID][row.PermissionID] = row
	return nil
}

func (f *fakeRepo) RemoveCompanyModule(_ context.Context, companyID, moduleID int64) error {
	delete(f.moduleRows[companyID], moduleID)
	return nil
}

func (f *fakeRepo) RemoveCompanyPermission(_ context.Context, companyID, permissionID int64) error {
	delete(f.permRows[companyID], permissionID)
	return nil
}

func (f *fakeRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	saved := f.clone()
	if err := fn(ctx, f); err != nil {
		*f = *saved
		return err
	}
	return nil
}

func (f *fakeRepo) clone() *fakeRepo {
	c := newFakeRepo()
	c.failOn = f.failOn
	c.nextSubID = f.nextSubID
	for id, p := range f.plans {
		c.plans[id] = p
	}
	for id, g := range f.grants {
		c.grants[id] = PlanGrants{
			ModuleIDs:     append([]int64(nil), g.ModuleIDs...),
			PermissionIDs: append([]int64(nil), g.PermissionIDs...),
		}
	}
	c.subs = append([]CompanySubscription(nil), f.subs...)
	for companyID, rows := range f.moduleRows {
		c.moduleRows[companyID] = make(map[int64]CompanyModule, len(rows))
		for id, row := range rows {
			c.moduleRows[companyID][id] = row
		}
	}
	for companyID, rows := range f.permRows {
		c.permRows[companyID] = make(map[int64]CompanyPermission, len(rows))
		for id, row := range rows {
			c.permRows[companyID][id] = row
		}
	}
	return c
}

func (f *fakeRepo) LockCurrentSubscription(ctx context.Context, companyID int64) (CompanySubscription, bool, error) {
	return f.CurrentSubscription(ctx, companyID)
}

func (f *fakeRepo) MarkSuperseded(_ context.Context, subscriptionID int64) error {
	for i := range f.subs {
		if f.subs[i].ID == subscriptionID {
			f.subs[i].Status = SubscriptionSuperseded
			f.subs[i].IsCurrent = false
			return nil
		}
	}
	return shared.NotFoundError("subscription %d not found", subscriptionID)
}

func (f *fakeRepo) SoftDeletePlanEntitlements(_ context.Context, companyID, subscriptionID int64) error {
	now := time.Now()
	for id, row := range f.moduleRows[companyID] {
		if row.Source == SourcePlan && row.SubscriptionID != nil && *row.SubscriptionID == subscriptionID {
			row.DeletedAt = &now
			f.moduleRows[companyID][id] = row
		}
	}
	for id, row := range f.permRows[companyID] {
		if row.Source == SourcePlan && row.SubscriptionID != nil && *row.SubscriptionID == subscriptionID {
			row.DeletedAt = &now
			f.permRows[companyID][id] = row
		}
	}
	return nil
}

func (f *fakeRepo) InsertSubscription(_ context.Context, sub CompanySubscription) (CompanySubscription, error) {
	if err := f.fail("InsertSubscription"); err != nil {
		return CompanySubscription{}, err
	}
	f.nextSubID++
	sub.ID = f.nextSubID
	sub.CreatedAt = time.Now()
	f.subs = append(f.subs, sub)
	return sub, nil
}

// fakeModules is an in-memory ModuleReader double.
type fakeModules struct {
	modules map[int64]catalog.Module
}

func newFakeModules(modules ...catalog.Module) *fakeModules {
	f := &fakeModules{modules: make(map[int64]catalog.Module, len(modules))}
	for _, m := range modules {
		f.modules[m.ID] = m
	}
	return f
}

func (f *fakeModules) GetModule(_ context.Context, id int64) (catalog.Module, error) {
	m, ok := f.modules[id]
	if !ok {
		return catalog.Module{}, shared.NotFoundError("module %d not found", id)
	}
	return m, nil
}

func (f *fakeModules) ListModules(context.Context) ([]catalog.Module, error) {
	out := make([]catalog.Module, 0, len(f.modules))
	for _, m := range f.modules {
		out = append(out, m)
	}
	return out, nil
}
