// Package overrides holds per-user allow/deny permission directives that
// supersede role-based defaults within entitlement bounds.
package overrides

import "time"

// Effect is the direction of an override.
type Effect string

const (
	// EffectAllow grants the permission regardless of role.
	EffectAllow Effect = "allow"
	// EffectDeny blocks the permission regardless of role.
	EffectDeny Effect = "deny"
	// EffectNone means no active override exists.
	EffectNone Effect = ""
)

// MaxActivePerUser caps active overrides per user. Abuse prevention: the
// cap applies to creation only, never to updating an existing pair.
const MaxActivePerUser = 50

// Override is one (user, permission) directive. The pair is unique; a nil
// ExpiresAt never expires.
type Override struct {
	ID              int64
	UserID          int64
	PermissionID    int64
	Effect          Effect
	Reason          string
	GrantedByUserID int64
	ExpiresAt       *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// ActiveAt reports whether the override is in force at the given instant.
// An expired override behaves identically to no override existing.
func (o Override) ActiveAt(now time.Time) bool {
	return o.ExpiresAt == nil || o.ExpiresAt.After(now)
}
