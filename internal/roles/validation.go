package roles

import (
	"strings"

	"github.com/meridianhq/meridian/internal/shared"
)

func validateRole(r Role) error {
	if strings.TrimSpace(r.Name) == "" {
		return shared.ValidationError("role name required")
	}
	if r.Scope != ScopePlatform && r.Scope != ScopeCompany {
		return shared.ValidationError("role scope must be platform or company")
	}
	if r.Priority < PrioritySuperAdmin {
		return shared.ValidationError("role priority must be non-negative")
	}
	if r.IsSystemRole && r.Scope != ScopePlatform {
		return shared.ValidationError("system roles must be platform-scoped")
	}
	switch r.Scope {
	case ScopePlatform:
		if r.CompanyID != nil {
			return shared.ValidationError("platform roles cannot belong to a company")
		}
		if !r.IsSystemRole && r.Priority < MinCustomPlatformPriority {
			return shared.ValidationError("custom platform roles require priority >= %d", MinCustomPlatformPriority)
		}
	case ScopeCompany:
		if r.CompanyID == nil {
			return shared.ValidationError("company roles require a company")
		}
		if r.Priority < MinCompanyPriority {
			return shared.ValidationError("company roles require priority >= %d", MinCompanyPriority)
		}
	}
	return nil
}
