// Package access implements the permission decision engine: a strict,
// non-reorderable chain combining company entitlements, per-user overrides
// and role grants into a single allow/deny verdict.
package access

// MatchType records whether a verdict came from an exact permission match
// or from a broader/narrower permission in the action hierarchy.
type MatchType string

const (
	MatchExact        MatchType = "exact"
	MatchHierarchical MatchType = "hierarchical"
)

// Reason strings returned by the decision chain. Support tooling renders
// them to end users, so they are part of the contract, not log text.
const (
	ReasonUserNotFound       = "User not found"
	ReasonUserInactive       = "User account is inactive"
	ReasonNoRole             = "User has no role assigned"
	ReasonNoCompany          = "User has no company assigned"
	ReasonPermissionNotFound = "Permission not found"
	ReasonNoEntitlement      = "Feature not included in subscription"
	ReasonDeniedByOverride   = "Denied by user override"
	ReasonGrantedByOverride  = "Granted by user override"
	ReasonGrantedByRole      = "Granted by role"
	ReasonNotGrantedByRole   = "Permission not granted by role"
	ReasonFreeContent        = "Free content granted to super admin"
)

// Decision is the structured verdict for one (user, permission) pair.
// GrantedVia names the permission key the verdict rode on when the match
// was hierarchical (for denies it names the broader denied permission).
type Decision struct {
	HasAccess     bool      `json:"hasAccess"`
	Reason        string    `json:"reason"`
	MatchType     MatchType `json:"matchType,omitempty"`
	GrantedVia    string    `json:"grantedVia,omitempty"`
	NoEntitlement bool      `json:"noEntitlement,omitempty"`
}

func allow(reason string, match MatchType, via string) Decision {
	return Decision{HasAccess: true, Reason: reason, MatchType: match, GrantedVia: via}
}

func deny(reason string) Decision {
	return Decision{HasAccess: false, Reason: reason}
}
