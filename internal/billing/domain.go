// Package billing manages subscription plans, company subscriptions, and the
// entitlement ledger that records what each company has paid for.
package billing

import "time"

// SubscriptionStatus tracks a company subscription's lifecycle.
type SubscriptionStatus string

const (
	// SubscriptionActive is a live subscription.
	SubscriptionActive SubscriptionStatus = "active"
	// SubscriptionCancelled was ended by the company.
	SubscriptionCancelled SubscriptionStatus = "cancelled"
	// SubscriptionExpired lapsed without renewal.
	SubscriptionExpired SubscriptionStatus = "expired"
	// SubscriptionSuperseded was replaced by a newer subscription.
	SubscriptionSuperseded SubscriptionStatus = "superseded"
)

// EntitlementSource records how a ledger row came to exist. Plan-sourced
// rows die with their subscription; addon rows persist until removed.
type EntitlementSource string

const (
	// SourcePlan marks entitlements copied down from a subscription plan.
	SourcePlan EntitlementSource = "plan"
	// SourceAddon marks individually purchased entitlements.
	SourceAddon EntitlementSource = "addon"
)

// SubscriptionPlan is a pricing template owning a set of module and
// permission grants.
type SubscriptionPlan struct {
	ID           int64
	Name         string
	BasePrice    float64
	PricePerUser bool
	MinUsers     int
	MaxUsers     int
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
	DeletedAt    *time.Time
}

// PlanGrants holds the module and permission ids a plan grants.
type PlanGrants struct {
	ModuleIDs     []int64
	PermissionIDs []int64
}

// CompanySubscription is a company's subscription instance. Exactly one row
// per company is current at any time.
type CompanySubscription struct {
	ID        int64
	CompanyID int64
	PlanID    int64
	Status    SubscriptionStatus
	IsCurrent bool
	UserCount int
	Pricing   Pricing
	StartsAt  time.Time
	EndsAt    *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt *time.Time
}

// CompanyModule is a module entitlement ledger row.
type CompanyModule struct {
	ID             int64
	CompanyID      int64
	ModuleID       int64
	Source         EntitlementSource
	SubscriptionID *int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
	DeletedAt      *time.Time
}

// CompanyPermission is a permission entitlement ledger row, for feature
// add-ons purchased without full module access.
type CompanyPermission struct {
	ID             int64
	CompanyID      int64
	PermissionID   int64
	Source         EntitlementSource
	SubscriptionID *int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
	DeletedAt      *time.Time
}

// EntitlementSnapshot is the precomputed per-company entitlement set used by
// batch checks and user access snapshots. ModuleIDs includes free-for-all
// modules; PermissionIDs covers direct permission-level entitlements only.
type EntitlementSnapshot struct {
	ModuleIDs     map[int64]struct{} `json:"-"`
	PermissionIDs map[int64]struct{} `json:"-"`
}

// HasModule reports module membership.
func (s EntitlementSnapshot) HasModule(id int64) bool {
	_, ok := s.ModuleIDs[id]
	return ok
}

// HasPermission reports direct permission entitlement.
func (s EntitlementSnapshot) HasPermission(id int64) bool {
	_, ok := s.PermissionIDs[id]
	return ok
}
