package billing

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/meridianhq/meridian/internal/platform/db"
	"github.com/meridianhq/meridian/internal/shared"
)

type txRepository struct {
	tx pgx.Tx
}

// WithTx runs fn against a transactional view of the repository.
func (r *PgRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

// LockCurrentSubscription reads the current subscription under FOR UPDATE so
// concurrent subscription creations for the same company serialize on the
// is_current flip.
func (t *txRepository) LockCurrentSubscription(ctx context.Context, companyID int64) (CompanySubscription, bool, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+subscriptionColumns+` FROM company_subscriptions
WHERE company_id = $1 AND is_current AND deleted_at IS NULL FOR UPDATE`, companyID)
	sub, err := scanSubscription(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return CompanySubscription{}, false, nil
	}
	if err != nil {
		return CompanySubscription{}, false, err
	}
	return sub, true, nil
}

// MarkSuperseded retires the given subscription.
func (t *txRepository) MarkSuperseded(ctx context.Context, subscriptionID int64) error {
	tag, err := t.tx.Exec(ctx, `UPDATE company_subscriptions
SET is_current = FALSE, status = $2, updated_at = NOW()
WHERE id = $1 AND deleted_at IS NULL`, subscriptionID, SubscriptionSuperseded)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.NotFoundError("subscription %d not found", subscriptionID)
	}
	return nil
}

// SoftDeletePlanEntitlements retires the plan-sourced ledger rows tied to a
// superseded subscription. Addon rows are untouched.
func (t *txRepository) SoftDeletePlanEntitlements(ctx context.Context, companyID, subscriptionID int64) error {
	if _, err := t.tx.Exec(ctx, `UPDATE company_modules SET deleted_at = NOW()
WHERE company_id = $1 AND source = 'plan' AND subscription_id = $2 AND deleted_at IS NULL`, companyID, subscriptionID); err != nil {
		return err
	}
	_, err := t.tx.Exec(ctx, `UPDATE company_permissions SET deleted_at = NOW()
WHERE company_id = $1 AND source = 'plan' AND subscription_id = $2 AND deleted_at IS NULL`, companyID, subscriptionID)
	return err
}

// InsertSubscription inserts the new current subscription.
func (t *txRepository) InsertSubscription(ctx context.Context, sub CompanySubscription) (CompanySubscription, error) {
	row := t.tx.QueryRow(ctx, `INSERT INTO company_subscriptions
(company_id, plan_id, status, is_current, user_count, base_price, addon_price, discount, total_price, starts_at, ends_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11) RETURNING `+subscriptionColumns,
		sub.CompanyID, sub.PlanID, sub.Status, sub.IsCurrent, sub.UserCount,
		sub.Pricing.Base, sub.Pricing.Addon, sub.Pricing.Discount, sub.Pricing.Total,
		sub.StartsAt, sub.EndsAt)
	return scanSubscription(row)
}

// PlanGrants returns the plan's grants inside the transaction.
func (t *txRepository) PlanGrants(ctx context.Context, planID int64) (PlanGrants, error) {
	return planGrants(ctx, t.tx, planID)
}

// UpsertCompanyModule writes a ledger row inside the transaction.
func (t *txRepository) UpsertCompanyModule(ctx context.Context, row CompanyModule) error {
	return upsertCompanyModule(ctx, t.tx, row)
}

// UpsertCompanyPermission writes a ledger row inside the transaction.
func (t *txRepository) UpsertCompanyPermission(ctx context.Context, row CompanyPermission) error {
	return upsertCompanyPermission(ctx, t.tx, row)
}
