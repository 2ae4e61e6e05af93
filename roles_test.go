package alumni_test

import (
	"testing"

	alumni "github.com/goliatone/go-alumni"
	"github.com/stretchr/testify/assert"
)

func TestRoleHierarchy(t *testing.T) {
	assert.True(t, alumni.RoleSuperAdmin.IsAtLeast(alumni.RoleAdmin))
	assert.True(t, alumni.RoleAdmin.IsAtLeast(alumni.RoleRegistrar))
	assert.True(t, alumni.RoleRegistrar.IsAtLeast(alumni.RoleRegistrar))
	assert.False(t, alumni.RoleAlumni.IsAtLeast(alumni.RoleRegistrar))
	assert.False(t, alumni.Role("guest").IsAtLeast(alumni.RoleAlumni))
	assert.False(t, alumni.RoleAdmin.IsAtLeast(alumni.Role("owner")))
}

func TestRoleIsStaff(t *testing.T) {
	assert.False(t, alumni.RoleAlumni.IsStaff())
	assert.True(t, alumni.RoleRegistrar.IsStaff())
	assert.True(t, alumni.RoleAdmin.IsStaff())
	assert.True(t, alumni.RoleSuperAdmin.IsStaff())
	assert.False(t, alumni.Role("").IsStaff())
}

func TestParseRole(t *testing.T) {
	role, ok := alumni.ParseRole("  SuperAdmin ")
	assert.True(t, ok)
	assert.Equal(t, alumni.RoleSuperAdmin, role)

	_, ok = alumni.ParseRole("janitor")
	assert.False(t, ok)
}

func TestNavigationFor(t *testing.T) {
	tests := []struct {
		role    alumni.Role
		landing string
		items   []string
	}{
		{alumni.RoleAlumni, alumni.RouteAlumniDashboard, []string{"Dashboard", "My Profile"}},
		{alumni.RoleRegistrar, alumni.RouteAdminDashboard, []string{"Dashboard", "Approvals"}},
		{alumni.RoleAdmin, alumni.RouteAdminDashboard, []string{"Dashboard", "Approvals", "Master List"}},
		{alumni.RoleSuperAdmin, alumni.RouteSuperAdminDashboad, []string{"Dashboard", "Approvals", "Master List", "Staff Roles"}},
		{alumni.Role(""), alumni.RouteRoot, nil},
	}

	for _, tt := range tests {
		t.Run(string(tt.role), func(t *testing.T) {
			nav := alumni.NavigationFor(tt.role)
			assert.Equal(t, tt.role, nav.Role())
			assert.Equal(t, tt.landing, nav.Landing())
			assert.Equal(t, tt.landing, tt.role.Landing())

			var labels []string
			for _, item := range nav.Items() {
				labels = append(labels, item.Label)
			}
			assert.Equal(t, tt.items, labels)
		})
	}
}

func TestSessionUserNavigationNil(t *testing.T) {
	var user *alumni.SessionUser
	assert.Equal(t, alumni.RouteRoot, user.Navigation().Landing())
}
