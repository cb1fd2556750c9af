package billing

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridianhq/meridian/internal/shared"
)

// Repository defines data access for billing. Multi-row mutations run
// through WithTx so a crash mid-sequence never leaves a company with a
// subscription but no ledger rows.
type Repository interface {
	GetPlan(ctx context.Context, id int64) (SubscriptionPlan, error)
	ListPlans(ctx context.Context) ([]SubscriptionPlan, error)
	CreatePlan(ctx context.Context, plan SubscriptionPlan) (SubscriptionPlan, error)
	AddPlanModule(ctx context.Context, planID, moduleID int64) error
	AddPlanPermission(ctx context.Context, planID, permissionID int64) error
	PlanGrants(ctx context.Context, planID int64) (PlanGrants, error)

	CurrentSubscription(ctx context.Context, companyID int64) (CompanySubscription, bool, error)
	ListSubscriptions(ctx context.Context, companyID int64) ([]CompanySubscription, error)
	UpdateSubscriptionStatus(ctx context.Context, subscriptionID int64, status SubscriptionStatus) error

	HasActiveCompanyModule(ctx context.Context, companyID, moduleID int64) (bool, error)
	HasActiveCompanyPermission(ctx context.Context, companyID, permissionID int64) (bool, error)
	CurrentPlanGrantsModule(ctx context.Context, companyID, moduleID int64) (bool, error)
	CurrentPlanGrantsPermission(ctx context.Context, companyID, permissionID int64) (bool, error)
	EntitledModuleIDs(ctx context.Context, companyID int64) ([]int64, error)
	EntitledPermissionIDs(ctx context.Context, companyID int64) ([]int64, error)

	UpsertCompanyModule(ctx context.Context, row CompanyModule) error
	UpsertCompanyPermission(ctx context.Context, row CompanyPermission) error
	RemoveCompanyModule(ctx context.Context, companyID, moduleID int64) error
	RemoveCompanyPermission(ctx context.Context, companyID, permissionID int64) error

	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes the mutations that must share one transaction.
type TxRepository interface {
	LockCurrentSubscription(ctx context.Context, companyID int64) (CompanySubscription, bool, error)
	MarkSuperseded(ctx context.Context, subscriptionID int64) error
	SoftDeletePlanEntitlements(ctx context.Context, companyID, subscriptionID int64) error
	InsertSubscription(ctx context.Context, sub CompanySubscription) (CompanySubscription, error)
	PlanGrants(ctx context.Context, planID int64) (PlanGrants, error)
	UpsertCompanyModule(ctx context.Context, row CompanyModule) error
	UpsertCompanyPermission(ctx context.Context, row CompanyPermission) error
}

// PgRepository provides the PostgreSQL implementation.
type PgRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

const planColumns = `id, name, base_price, price_per_user, min_users, max_users, is_active, created_at, updated_at, deleted_at`

const subscriptionColumns = `id, company_id, plan_id, status, is_current, user_count, base_price, addon_price, discount, total_price, starts_at, ends_at, created_at, updated_at, deleted_at`

// GetPlan fetches a non-deleted plan.
func (r *PgRepository) GetPlan(ctx context.Context, id int64) (SubscriptionPlan, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+planColumns+` FROM subscription_plans WHERE id = $1 AND deleted_at IS NULL`, id)
	plan, err := scanPlan(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return SubscriptionPlan{}, shared.NotFoundError("subscription plan %d not found", id)
	}
	return plan, err
}

// ListPlans returns all non-deleted plans.
func (r *PgRepository) ListPlans(ctx context.Context) ([]SubscriptionPlan, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+planColumns+` FROM subscription_plans WHERE deleted_at IS NULL ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var plans []SubscriptionPlan
	for rows.Next() {
		plan, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		plans = append(plans, plan)
	}
	return plans, rows.Err()
}

// CreatePlan inserts a plan.
func (r *PgRepository) CreatePlan(ctx context.Context, plan SubscriptionPlan) (SubscriptionPlan, error) {
	row := r.pool.QueryRow(ctx, `INSERT INTO subscription_plans (name, base_price, price_per_user, min_users, max_users, is_active)
VALUES ($1, $2, $3, $4, $5, $6) RETURNING `+planColumns,
		plan.Name, plan.BasePrice, plan.PricePerUser, plan.MinUsers, plan.MaxUsers, plan.IsActive)
	created, err := scanPlan(row)
	if isUniqueViolation(err) {
		return SubscriptionPlan{}, shared.ConflictError("plan %q already exists", plan.Name)
	}
	return created, err
}

// AddPlanModule attaches a module grant to a plan.
func (r *PgRepository) AddPlanModule(ctx context.Context, planID, moduleID int64) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO subscription_plan_modules (plan_id, module_id)
VALUES ($1, $2) ON CONFLICT (plan_id, module_id) DO NOTHING`, planID, moduleID)
	return err
}

// AddPlanPermission attaches a permission grant to a plan.
func (r *PgRepository) AddPlanPermission(ctx context.Context, planID, permissionID int64) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO subscription_plan_permissions (plan_id, permission_id)
VALUES ($1, $2) ON CONFLICT (plan_id, permission_id) DO NOTHING`, planID, permissionID)
	return err
}

// PlanGrants returns the plan's module/permission grant ids.
func (r *PgRepository) PlanGrants(ctx context.Context, planID int64) (PlanGrants, error) {
	return planGrants(ctx, r.pool, planID)
}

// CurrentSubscription returns the company's current subscription, if any.
func (r *PgRepository) CurrentSubscription(ctx context.Context, companyID int64) (CompanySubscription, bool, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+subscriptionColumns+` FROM company_subscriptions
WHERE company_id = $1 AND is_current AND deleted_at IS NULL`, companyID)
	sub, err := scanSubscription(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return CompanySubscription{}, false, nil
	}
	if err != nil {
		return CompanySubscription{}, false, err
	}
	return sub, true, nil
}

// ListSubscriptions returns the company's subscription history.
func (r *PgRepository) ListSubscriptions(ctx context.Context, companyID int64) ([]CompanySubscription, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+subscriptionColumns+` FROM company_subscriptions
WHERE company_id = $1 AND deleted_at IS NULL ORDER BY created_at DESC`, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var subs []CompanySubscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// UpdateSubscriptionStatus flips a subscription's status.
func (r *PgRepository) UpdateSubscriptionStatus(ctx context.Context, subscriptionID int64, status SubscriptionStatus) error {
	tag, err := r.pool.Exec(ctx, `UPDATE company_subscriptions SET status = $2, updated_at = NOW()
WHERE id = $1 AND deleted_at IS NULL`, subscriptionID, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.NotFoundError("subscription %d not found", subscriptionID)
	}
	return nil
}

// HasActiveCompanyModule reports whether an active ledger row exists.
func (r *PgRepository) HasActiveCompanyModule(ctx context.Context, companyID, moduleID int64) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM company_modules
WHERE company_id = $1 AND module_id = $2 AND deleted_at IS NULL)`, companyID, moduleID).Scan(&exists)
	return exists, err
}

// HasActiveCompanyPermission reports whether an active ledger row exists.
func (r *PgRepository) HasActiveCompanyPermission(ctx context.Context, companyID, permissionID int64) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM company_permissions
WHERE company_id = $1 AND permission_id = $2 AND deleted_at IS NULL)`, companyID, permissionID).Scan(&exists)
	return exists, err
}

// CurrentPlanGrantsModule reports whether the company's current active
// subscription's plan grants the module.
func (r *PgRepository) CurrentPlanGrantsModule(ctx context.Context, companyID, moduleID int64) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (
SELECT 1 FROM company_subscriptions cs
JOIN subscription_plan_modules spm ON spm.plan_id = cs.plan_id
WHERE cs.company_id = $1 AND cs.is_current AND cs.status = 'active' AND cs.deleted_at IS NULL
  AND spm.module_id = $2)`, companyID, moduleID).Scan(&exists)
	return exists, err
}

// CurrentPlanGrantsPermission reports whether the current active plan
// grants the permission directly.
func (r *PgRepository) CurrentPlanGrantsPermission(ctx context.Context, companyID, permissionID int64) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (
SELECT 1 FROM company_subscriptions cs
JOIN subscription_plan_permissions spp ON spp.plan_id = cs.plan_id
WHERE cs.company_id = $1 AND cs.is_current AND cs.status = 'active' AND cs.deleted_at IS NULL
  AND spp.permission_id = $2)`, companyID, permissionID).Scan(&exists)
	return exists, err
}

// EntitledModuleIDs returns the union of ledger rows and current-plan grants.
func (r *PgRepository) EntitledModuleIDs(ctx context.Context, companyID int64) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `
SELECT module_id FROM company_modules WHERE company_id = $1 AND deleted_at IS NULL
UNION
SELECT spm.module_id FROM company_subscriptions cs
JOIN subscription_plan_modules spm ON spm.plan_id = cs.plan_id
WHERE cs.company_id = $1 AND cs.is_current AND cs.status = 'active' AND cs.deleted_at IS NULL`, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanIDs(rows)
}

// EntitledPermissionIDs returns direct permission entitlements from the
// ledger and current-plan permission grants.
func (r *PgRepository) EntitledPermissionIDs(ctx context.Context, companyID int64) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `
SELECT permission_id FROM company_permissions WHERE company_id = $1 AND deleted_at IS NULL
UNION
SELECT spp.permission_id FROM company_subscriptions cs
JOIN subscription_plan_permissions spp ON spp.plan_id = cs.plan_id
WHERE cs.company_id = $1 AND cs.is_current AND cs.status = 'active' AND cs.deleted_at IS NULL`, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanIDs(rows)
}

// UpsertCompanyModule inserts a ledger row, updating in place when a live
// row already exists for (company, module).
func (r *PgRepository) UpsertCompanyModule(ctx context.Context, row CompanyModule) error {
	return upsertCompanyModule(ctx, r.pool, row)
}

// UpsertCompanyPermission inserts a ledger row, updating in place on conflict.
func (r *PgRepository) UpsertCompanyPermission(ctx context.Context, row CompanyPermission) error {
	return upsertCompanyPermission(ctx, r.pool, row)
}

// RemoveCompanyModule soft-deletes a ledger row.
func (r *PgRepository) RemoveCompanyModule(ctx context.Context, companyID, moduleID int64) error {
	tag, err := r.pool.Exec(ctx, `UPDATE company_modules SET deleted_at = NOW()
WHERE company_id = $1 AND module_id = $2 AND deleted_at IS NULL`, companyID, moduleID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.NotFoundError("company %d has no module %d entitlement", companyID, moduleID)
	}
	return nil
}

// RemoveCompanyPermission soft-deletes a ledger row.
func (r *PgRepository) RemoveCompanyPermission(ctx context.Context, companyID, permissionID int64) error {
	tag, err := r.pool.Exec(ctx, `UPDATE company_permissions SET deleted_at = NOW()
WHERE company_id = $1 AND permission_id = $2 AND deleted_at IS NULL`, companyID, permissionID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.NotFoundError("company %d has no permission %d entitlement", companyID, permissionID)
	}
	return nil
}

func scanPlan(row pgx.Row) (SubscriptionPlan, error) {
	var p SubscriptionPlan
	err := row.Scan(&p.ID, &p.Name, &p.BasePrice, &p.PricePerUser, &p.MinUsers, &p.MaxUsers, &p.IsActive, &p.CreatedAt, &p.UpdatedAt, &p.DeletedAt)
	return p, err
}

func scanSubscription(row pgx.Row) (CompanySubscription, error) {
	var s CompanySubscription
	err := row.Scan(&s.ID, &s.CompanyID, &s.PlanID, &s.Status, &s.IsCurrent, &s.UserCount,
		&s.Pricing.Base, &s.Pricing.Addon, &s.Pricing.Discount, &s.Pricing.Total,
		&s.StartsAt, &s.EndsAt, &s.CreatedAt, &s.UpdatedAt, &s.DeletedAt)
	return s, err
}

func scanIDs(rows pgx.Rows) ([]int64, error) {
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

type queryer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func planGrants(ctx context.Context, q queryer, planID int64) (PlanGrants, error) {
	var grants PlanGrants
	rows, err := q.Query(ctx, `SELECT module_id FROM subscription_plan_modules WHERE plan_id = $1`, planID)
	if err != nil {
		return PlanGrants{}, err
	}
	grants.ModuleIDs, err = scanIDs(rows)
	rows.Close()
	if err != nil {
		return PlanGrants{}, err
	}
	rows, err = q.Query(ctx, `SELECT permission_id FROM subscription_plan_permissions WHERE plan_id = $1`, planID)
	if err != nil {
		return PlanGrants{}, err
	}
	grants.PermissionIDs, err = scanIDs(rows)
	rows.Close()
	return grants, err
}

func upsertCompanyModule(ctx context.Context, q queryer, row CompanyModule) error {
	_, err := q.Exec(ctx, `INSERT INTO company_modules (company_id, module_id, source, subscription_id)
VALUES ($1, $2, $3, $4)
ON CONFLICT (company_id, module_id) WHERE deleted_at IS NULL
DO UPDATE SET source = EXCLUDED.source, subscription_id = EXCLUDED.subscription_id, updated_at = NOW()`,
		row.CompanyID, row.ModuleID, row.Source, row.SubscriptionID)
	return err
}

func upsertCompanyPermission(ctx context.Context, q queryer, row CompanyPermission) error {
	_, err := q.Exec(ctx, `INSERT INTO company_permissions (company_id, permission_id, source, subscription_id)
VALUES ($1, $2, $3, $4)
ON CONFLICT (company_id, permission_id) WHERE deleted_at IS NULL
DO UPDATE SET source = EXCLUDED.source, subscription_id = EXCLUDED.subscription_id, updated_at = NOW()`,
		row.CompanyID, row.PermissionID, row.Source, row.SubscriptionID)
	return err
}
