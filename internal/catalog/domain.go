// Package catalog holds the module/permission catalog and the action
// hierarchy used for hierarchical allow/deny matching.
package catalog

import "time"

// Module is a coarse feature area and the unit of full-access entitlement.
type Module struct {
	ID             int64
	Key            string
	Name           string
	ParentModuleID *int64
	IsFreeForAll   bool
	Price          float64
	CreatedAt      time.Time
	UpdatedAt      time.Time
	DeletedAt      *time.Time
}

// Permission is one fine-grained action within a module. Its Key follows
// the "<module>:<action>" convention, e.g. "crm:view".
type Permission struct {
	ID                   int64
	ModuleID             int64
	Key                  string
	Action               string
	Name                 string
	IsFreeForAll         bool
	IsSubscriptionExempt bool
	IsSystemPermission   bool
	Price                float64
	CreatedAt            time.Time
	UpdatedAt            time.Time
	DeletedAt            *time.Time
}

// Active reports whether the module is not soft-deleted.
func (m Module) Active() bool { return m.DeletedAt == nil }

// Active reports whether the permission is not soft-deleted.
func (p Permission) Active() bool { return p.DeletedAt == nil }
