// Package roles holds role management and the role permission graph.
package roles

import "time"

// Scope distinguishes platform-wide roles from company-local ones.
type Scope string

const (
	// ScopePlatform marks a role owned by the platform operator.
	ScopePlatform Scope = "platform"
	// ScopeCompany marks a role local to one tenant company.
	ScopeCompany Scope = "company"
)

// Priority tiers. Lower priority means higher authority.
const (
	// PrioritySuperAdmin is the top authority tier.
	PrioritySuperAdmin = 0
	// MinCustomPlatformPriority is the floor for non-system platform roles.
	MinCustomPlatformPriority = 10
	// MinCompanyPriority is the floor for company-scoped roles.
	MinCompanyPriority = 20
	// MaxOverrideGrantorPriority bounds who may grant permission overrides:
	// only the top three authority tiers (0, 10, 20) qualify.
	MaxOverrideGrantorPriority = 20
)

// Role groups permissions and ranks its holders' authority.
type Role struct {
	ID           int64
	Name         string
	Scope        Scope
	CompanyID    *int64
	Priority     int
	IsSystemRole bool
	// BaseRoleID records which platform role a company role was cloned
	// from. Lineage is informational only; there is no runtime inheritance.
	BaseRoleID *int64
	CreatedAt  time.Time
	UpdatedAt  time.Time
	DeletedAt  *time.Time
}

// Active reports whether the role is not soft-deleted.
func (r Role) Active() bool { return r.DeletedAt == nil }
