package authz

import "invento/internal/models"

const (
	RoleSuperAdmin  = "super_admin"
	RoleAgency      = "agency"
	RoleAdmin       = "admin"
	RoleSalesman    = "salesman"
	RoleDeliveryBoy = "delivery_boy"
	RoleAccountant  = "accountant"
	RoleRetailer    = "retailer"
)

// DefaultRegistrationRole is assigned to self-registered accounts.
const DefaultRegistrationRole = RoleAgency

// Surface is the client family a login request comes from.
type Surface string

const (
	SurfaceWeb    Surface = "web"
	SurfaceMobile Surface = "mobile"
)

var surfaceRoles = map[Surface]map[string]struct{}{
	SurfaceWeb: {
		RoleAdmin:  {},
		RoleAgency: {},
	},
	SurfaceMobile: {
		RoleSalesman:    {},
		RoleDeliveryBoy: {},
		RoleRetailer:    {},
	},
}

// CanLogin reports whether role may authenticate through surface.
func CanLogin(s Surface, role string) bool {
	allowed, ok := surfaceRoles[s]
	if !ok {
		return false
	}
	_, ok = allowed[role]
	return ok
}

func IsAccountRoot(role string) bool {
	return role == RoleSuperAdmin || role == RoleAgency
}

// UserLookup loads a user by id; used to follow agency_id.
type UserLookup func(id int64) (*models.User, error)

// ActingAccount resolves the tenant account a user operates on behalf of:
// roots act as themselves, admins act as their parent agency, everyone else
// has no acting account.
func ActingAccount(u *models.User, lookup UserLookup) (*models.User, error) {
	if u == nil {
		return nil, nil
	}
	switch {
	case IsAccountRoot(u.Role):
		return u, nil
	case u.Role == RoleAdmin:
		if u.AgencyID == nil {
			return nil, nil
		}
		parent, err := lookup(*u.AgencyID)
		if err != nil {
			return nil, err
		}
		if parent == nil || parent.Role != RoleAgency {
			return nil, nil
		}
		return parent, nil
	}
	return nil, nil
}
