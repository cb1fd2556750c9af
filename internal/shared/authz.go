package shared

// Permission keys guarding the back office's own administration surface.
// Keys follow the "<module>:<action>" convention used by the catalog.
const (
	PermUsersView   = "users:view"
	PermUsersManage = "users:manage"

	PermRolesView   = "roles:view"
	PermRolesManage = "roles:manage"

	PermCatalogView   = "catalog:view"
	PermCatalogManage = "catalog:manage"

	PermBillingView   = "billing:view"
	PermBillingManage = "billing:manage"

	PermOverridesView   = "overrides:view"
	PermOverridesManage = "overrides:manage"

	PermHandoverView   = "handover:view"
	PermHandoverManage = "handover:manage"
)

// CoreScopes lists the administration permissions seeded at bootstrap.
func CoreScopes() []string {
	return []string{
		PermUsersView,
		PermUsersManage,
		PermRolesView,
		PermRolesManage,
		PermCatalogView,
		PermCatalogManage,
		PermBillingView,
		PermBillingManage,
		PermOverridesView,
		PermOverridesManage,
		PermHandoverView,
		PermHandoverManage,
	}
}
