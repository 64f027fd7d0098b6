package access

import (
	"fmt"
	"slices"
	"strings"

	"github.com/tetbloom/tetbloom/internal/platform/httpx"
)

var (
	// ErrUnauthenticated indicates a request without a signed-in user.
	ErrUnauthenticated = fmt.Errorf("access: %w", httpx.ErrUnauthorized)
	// ErrForbidden indicates a signed-in user whose role is not allowed.
	ErrForbidden = fmt.Errorf("access: %w", httpx.ErrForbidden)
)

// User is the authenticated actor as seen by access checks.
type User struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	Role     Role   `json:"role"`
	FullName string `json:"fullName"`
}

// Session is the authentication state of one request.
type Session struct {
	User            *User `json:"user"`
	IsAuthenticated bool  `json:"isAuthenticated"`
	IsLoading       bool  `json:"isLoading"`
}

// LoadingSession is the state while the identity is still being resolved.
func LoadingSession() Session {
	return Session{IsLoading: true}
}

// AnonymousSession is the state of a visitor without a signed-in user.
func AnonymousSession() Session {
	return Session{}
}

// AuthenticatedSession wraps u in an authenticated session. The role is
// normalized so synonyms never leak past this point.
func AuthenticatedSession(u User) Session {
	u.Role = NormalizeRole(string(u.Role))
	return Session{User: &u, IsAuthenticated: true}
}

// Role returns the session's role or the zero Role.
func (s Session) Role() Role {
	if s.User == nil {
		return ""
	}
	return NormalizeRole(string(s.User.Role))
}

func (s Session) signedIn() bool {
	return s.IsAuthenticated && !s.IsLoading && s.User != nil
}

// Resolver answers authorization questions against a Registry.
type Resolver struct {
	registry *Registry
}

// NewResolver constructs a Resolver. A nil registry means DefaultRegistry.
func NewResolver(registry *Registry) *Resolver {
	if registry == nil {
		registry = DefaultRegistry()
	}
	return &Resolver{registry: registry}
}

// HasPermission reports whether the session's role grants perm.
func (r *Resolver) HasPermission(s Session, perm Permission) bool {
	if r == nil || !s.signedIn() {
		return false
	}
	return r.registry.Grants(s.Role(), perm)
}

// HasAnyPermission reports whether at least one of perms is granted.
func (r *Resolver) HasAnyPermission(s Session, perms ...Permission) bool {
	for _, p := range perms {
		if r.HasPermission(s, p) {
			return true
		}
	}
	return false
}

// IsRouteAllowed reports whether s may visit route. Without allowed roles any
// signed-in session passes; otherwise the role must be listed. An empty route
// is never allowed.
func (r *Resolver) IsRouteAllowed(s Session, route string, allowed ...Role) bool {
	if strings.TrimSpace(route) == "" || !s.signedIn() {
		return false
	}
	if len(allowed) == 0 {
		return true
	}
	role := s.Role()
	if role == "" {
		return false
	}
	return slices.ContainsFunc(allowed, func(candidate Role) bool {
		return NormalizeRole(string(candidate)) == role
	})
}

// Navigation returns the sidebar entries for the session.
func (r *Resolver) Navigation(s Session) []NavigationEntry {
	if r == nil || !s.signedIn() {
		return []NavigationEntry{}
	}
	return r.registry.NavigationFor(s.Role())
}

// Permissions returns the permissions granted to the session.
func (r *Resolver) Permissions(s Session) []Permission {
	if r == nil || !s.signedIn() {
		return []Permission{}
	}
	return r.registry.PermissionsFor(s.Role())
}
