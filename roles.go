package alumni

import "strings"

const (
	RouteRoot               = "/"
	RouteLogin              = "/login"
	RouteLoginVerify        = "/login/verify"
	RouteRegistrationWait   = "/registration/pending"
	RouteOnboarding         = "/onboarding"
	RouteAlumniDashboard    = "/alumni/dashboard"
	RouteAdminDashboard     = "/admin/dashboard"
	RouteSuperAdminDashboad = "/superadmin/dashboard"
)

// IsValid checks if the role is one of the predefined roles
func (r Role) IsValid() bool {
	switch r {
	case RoleAlumni, RoleRegistrar, RoleAdmin, RoleSuperAdmin:
		return true
	default:
		return false
	}
}

// IsStaff reports whether the role bypasses the approval workflow.
func (r Role) IsStaff() bool {
	return r.IsValid() && r != RoleAlumni
}

// IsAtLeast checks if this role meets the minimum required level
func (r Role) IsAtLeast(minRole Role) bool {
	roleHierarchy := map[Role]int{
		RoleAlumni:     0,
		RoleRegistrar:  1,
		RoleAdmin:      2,
		RoleSuperAdmin: 3,
	}

	currentLevel, exists := roleHierarchy[r]
	if !exists {
		return false
	}

	minLevel, exists := roleHierarchy[minRole]
	if !exists {
		return false
	}

	return currentLevel >= minLevel
}

// Landing is the default route for the role.
func (r Role) Landing() string {
	return r.Navigation().Landing()
}

// In reports whether r is one of roles.
func (r Role) In(roles ...Role) bool {
	for _, role := range roles {
		if r == role {
			return true
		}
	}
	return false
}

// GetAllRoles returns all predefined roles in hierarchical order
func GetAllRoles() []Role {
	return []Role{
		RoleAlumni,
		RoleRegistrar,
		RoleAdmin,
		RoleSuperAdmin,
	}
}

// ParseRole safely parses a string into a Role
func ParseRole(raw string) (Role, bool) {
	role := Role(strings.TrimSpace(strings.ToLower(raw)))
	return role, role.IsValid()
}

// NavItem is a single sidebar entry.
type NavItem struct {
	Label string `json:"label"`
	Path  string `json:"path"`
}

// Navigation renders the role specific sidebar and landing route.
type Navigation interface {
	Role() Role
	Landing() string
	Items() []NavItem
}

// Navigation resolves the sidebar once for the role.
func (r Role) Navigation() Navigation {
	return NavigationFor(r)
}

// NavigationFor returns the navigation for role. Unknown roles get a
// navigation that lands on the site root.
func NavigationFor(r Role) Navigation {
	switch r {
	case RoleSuperAdmin:
		return superAdminNav{}
	case RoleAdmin:
		return staffNav{role: RoleAdmin}
	case RoleRegistrar:
		return staffNav{role: RoleRegistrar}
	case RoleAlumni:
		return alumniNav{}
	default:
		return publicNav{role: r}
	}
}

type alumniNav struct{}

func (alumniNav) Role() Role      { return RoleAlumni }
func (alumniNav) Landing() string { return RouteAlumniDashboard }
func (alumniNav) Items() []NavItem {
	return []NavItem{
		{Label: "Dashboard", Path: RouteAlumniDashboard},
		{Label: "My Profile", Path: "/alumni/profile"},
	}
}

type staffNav struct {
	role Role
}

func (n staffNav) Role() Role    { return n.role }
func (staffNav) Landing() string { return RouteAdminDashboard }
func (n staffNav) Items() []NavItem {
	items := []NavItem{
		{Label: "Dashboard", Path: RouteAdminDashboard},
		{Label: "Approvals", Path: "/admin/approvals"},
	}
	if n.role == RoleAdmin {
		items = append(items, NavItem{Label: "Master List", Path: "/admin/master-list"})
	}
	return items
}

type superAdminNav struct{}

func (superAdminNav) Role() Role      { return RoleSuperAdmin }
func (superAdminNav) Landing() string { return RouteSuperAdminDashboad }
func (superAdminNav) Items() []NavItem {
	return []NavItem{
		{Label: "Dashboard", Path: RouteSuperAdminDashboad},
		{Label: "Approvals", Path: "/admin/approvals"},
		{Label: "Master List", Path: "/admin/master-list"},
		{Label: "Staff Roles", Path: "/superadmin/users"},
	}
}

type publicNav struct {
	role Role
}

func (n publicNav) Role() Role     { return n.role }
func (publicNav) Landing() string  { return RouteRoot }
func (publicNav) Items() []NavItem { return nil }
