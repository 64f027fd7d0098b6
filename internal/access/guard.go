package access

// State is the outcome of a route guard evaluation.
type State int

// Guard states.
const (
	StateLoading State = iota
	StateUnauthenticated
	StateForbidden
	StateAuthorized
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateUnauthenticated:
		return "unauthenticated"
	case StateForbidden:
		return "forbidden"
	case StateAuthorized:
		return "authorized"
	default:
		return "unknown"
	}
}

// SignInRoute is where unauthenticated visitors are sent.
const SignInRoute = "/login"

var defaultRoutes = map[Role]string{
	RoleSuperUser:     "/super",
	RoleAdministrator: "/administrator",
	RoleTeacher:       "/teacher",
}

// DefaultRoute returns the landing page for role, or SignInRoute when the
// role is unknown.
func DefaultRoute(role Role) string {
	if route, ok := defaultRoutes[NormalizeRole(string(role))]; ok {
		return route
	}
	return SignInRoute
}

// Decision is the guard result: a state plus where to send the visitor.
// RedirectTo is empty for StateLoading and StateAuthorized.
type Decision struct {
	State      State
	RedirectTo string
}

// Evaluate decides what to do with a request for route.
func (r *Resolver) Evaluate(s Session, route string, allowed ...Role) Decision {
	switch {
	case s.IsLoading:
		return Decision{State: StateLoading}
	case !s.IsAuthenticated || s.User == nil:
		return Decision{State: StateUnauthenticated, RedirectTo: SignInRoute}
	case !r.IsRouteAllowed(s, route, allowed...):
		return Decision{State: StateForbidden, RedirectTo: DefaultRoute(s.Role())}
	default:
		return Decision{State: StateAuthorized}
	}
}

// EvaluatePermission is Evaluate with a permission requirement instead of a
// role list: the session must hold at least one of perms.
func (r *Resolver) EvaluatePermission(s Session, route string, perms ...Permission) Decision {
	d := r.Evaluate(s, route)
	if d.State != StateAuthorized || len(perms) == 0 {
		return d
	}
	if r.HasAnyPermission(s, perms...) {
		return d
	}
	return Decision{State: StateForbidden, RedirectTo: DefaultRoute(s.Role())}
}
