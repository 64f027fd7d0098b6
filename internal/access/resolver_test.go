package access

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func sessionFor(role Role) Session {
	return AuthenticatedSession(User{ID: "u-1", Email: "user@example.com", Role: role, FullName: "Test User"})
}

func TestHasPermissionDeniesByDefault(t *testing.T) {
	reg := DefaultRegistry()
	resolver := NewResolver(reg)
	for _, role := range Roles() {
		sess := sessionFor(role)
		for _, p := range AllPermissions() {
			assert.Equal(t, reg.Grants(role, p), resolver.HasPermission(sess, p), "%s/%s", role, p)
		}
		assert.False(t, resolver.HasPermission(sess, Permission("launch_rockets")))
	}
}

func TestHasPermissionWithoutUser(t *testing.T) {
	resolver := NewResolver(nil)
	for _, sess := range []Session{AnonymousSession(), LoadingSession(), {IsAuthenticated: true}} {
		for _, p := range AllPermissions() {
			assert.False(t, resolver.HasPermission(sess, p))
		}
	}
}

func TestUnknownRoleSessionDegrades(t *testing.T) {
	resolver := NewResolver(nil)
	sess := sessionFor("janitor")

	assert.Empty(t, resolver.Navigation(sess))
	assert.Empty(t, resolver.Permissions(sess))
	assert.False(t, resolver.HasPermission(sess, PermRequestReview))
	assert.True(t, resolver.IsRouteAllowed(sess, "/help"))
	assert.False(t, resolver.IsRouteAllowed(sess, "/teacher", RoleTeacher))
}

func TestAuthenticatedSessionNormalizesRole(t *testing.T) {
	sess := sessionFor("principal")
	assert.Equal(t, RoleAdministrator, sess.User.Role)
	assert.Equal(t, RoleAdministrator, sess.Role())
}

func TestIsRouteAllowed(t *testing.T) {
	resolver := NewResolver(nil)
	teacher := sessionFor(RoleTeacher)

	assert.True(t, resolver.IsRouteAllowed(teacher, "/teacher"))
	assert.True(t, resolver.IsRouteAllowed(teacher, "/teacher", RoleTeacher, RoleSuperUser))
	assert.False(t, resolver.IsRouteAllowed(teacher, "/super", RoleSuperUser))
	assert.True(t, resolver.IsRouteAllowed(sessionFor(RoleAdministrator), "/administrator", "principal"))
	assert.False(t, resolver.IsRouteAllowed(teacher, ""))
	assert.False(t, resolver.IsRouteAllowed(AnonymousSession(), "/teacher"))
	assert.False(t, resolver.IsRouteAllowed(LoadingSession(), "/teacher"))
}

func TestIsRouteAllowedIsIdempotent(t *testing.T) {
	resolver := NewResolver(nil)
	sess := sessionFor(RoleAdministrator)
	for i := 0; i < 3; i++ {
		assert.True(t, resolver.IsRouteAllowed(sess, "/administrator", RoleAdministrator))
		assert.False(t, resolver.IsRouteAllowed(sess, "/super", RoleSuperUser))
	}
}
