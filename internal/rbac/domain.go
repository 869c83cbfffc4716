package rbac

import "github.com/medcare-hms/medcare/internal/shared"

// Permissions checked by route groups.
const (
	PermBillingView      = "billing.view"
	PermBillingEdit      = "billing.edit"
	PermBillingPay       = "billing.pay"
	PermCatalogEdit      = "catalog.edit"
	PermInventoryView    = "inventory.view"
	PermInventoryEdit    = "inventory.edit"
	PermInventoryApprove = "inventory.approve"
)

// roleGrants maps the role claim carried by the bearer token to its permissions.
// Admins hold every permission and are not listed.
var roleGrants = map[string][]string{
	shared.RoleCashier: {
		PermBillingView, PermBillingEdit, PermBillingPay,
	},
	shared.RolePharmacist: {
		PermBillingView, PermBillingEdit, PermBillingPay,
		PermInventoryView, PermInventoryEdit,
	},
	shared.RoleLabTech: {
		PermInventoryView, PermInventoryEdit,
	},
}

// Grants returns the permissions held by a role.
func Grants(role string) []string {
	return roleGrants[role]
}
