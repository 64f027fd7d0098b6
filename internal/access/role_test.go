package access

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tetbloom/tetbloom/internal/platform/httpx"
)

func TestNormalizeRoleMapsLegacyLabels(t *testing.T) {
	cases := map[string]Role{
		"super_user":    RoleSuperUser,
		"SUPER_USER":    RoleSuperUser,
		"Super User":    RoleSuperUser,
		"superuser":     RoleSuperUser,
		"administrator": RoleAdministrator,
		"principal":     RoleAdministrator,
		"Principal":     RoleAdministrator,
		"school_leader": RoleAdministrator,
		"School Leader": RoleAdministrator,
		"school-leader": RoleAdministrator,
		"  teacher  ":   RoleTeacher,
		"Teacher":       RoleTeacher,
	}
	for raw, want := range cases {
		assert.Equal(t, want, NormalizeRole(raw), raw)
	}
}

func TestParseRoleRejectsUnknown(t *testing.T) {
	for _, raw := range []string{"", "   ", "student", "root", "teacher_admin"} {
		role, err := ParseRole(raw)
		require.Error(t, err, raw)
		assert.True(t, errors.Is(err, ErrUnknownRole))
		assert.True(t, errors.Is(err, httpx.ErrValidation))
		assert.Equal(t, Role(""), role)
	}
}

func TestRoleLabel(t *testing.T) {
	assert.Equal(t, "Super Admin", RoleSuperUser.Label())
	assert.Equal(t, "Administrator", Role("principal").Label())
	assert.Equal(t, "Teacher", RoleTeacher.Label())
	assert.Equal(t, "Unknown", Role("janitor").Label())
}

func TestRolesAreValid(t *testing.T) {
	for _, r := range Roles() {
		assert.True(t, r.IsValid(), r)
	}
	assert.False(t, Role("principal").IsValid())
}
