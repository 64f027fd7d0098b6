package access

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/tetbloom/tetbloom/internal/platform/httpx"
)

// SessionSource resolves the access session for a request.
type SessionSource interface {
	CurrentSession(r *http.Request) Session
}

// DecisionRecorder observes guard outcomes, typically for metrics.
type DecisionRecorder interface {
	RecordDecision(state State)
}

// Middleware adapts the route guard to net/http.
type Middleware struct {
	Resolver *Resolver
	Sessions SessionSource
	Logger   *slog.Logger
	Recorder DecisionRecorder
	// Loading renders the page shown while the identity is unresolved.
	Loading http.Handler
}

type sessionContextKey struct{}

// ContextWithSession stores the resolved access session in ctx.
func ContextWithSession(ctx context.Context, s Session) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, s)
}

// SessionFromContext returns the access session stored by the middleware.
func SessionFromContext(ctx context.Context) (Session, bool) {
	s, ok := ctx.Value(sessionContextKey{}).(Session)
	return s, ok
}

// Attach resolves the session once per request and stores it in the context
// without enforcing anything.
func (m Middleware) Attach(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess := m.Current(r)
		next.ServeHTTP(w, r.WithContext(ContextWithSession(r.Context(), sess)))
	})
}

// Current returns the session for r, resolving it when not yet attached.
func (m Middleware) Current(r *http.Request) Session {
	if sess, ok := SessionFromContext(r.Context()); ok {
		return sess
	}
	if m.Sessions == nil {
		return AnonymousSession()
	}
	return m.Sessions.CurrentSession(r)
}

// Require lets the request through only for the given roles. With no roles
// any signed-in user passes.
func (m Middleware) Require(roles ...Role) func(http.Handler) http.Handler {
	return m.guard(func(s Session, route string) Decision {
		return m.resolver().Evaluate(s, route, roles...)
	})
}

// RequirePermission lets the request through when the session holds at
// least one of perms.
func (m Middleware) RequirePermission(perms ...Permission) func(http.Handler) http.Handler {
	return m.guard(func(s Session, route string) Decision {
		return m.resolver().EvaluatePermission(s, route, perms...)
	})
}

func (m Middleware) guard(decide func(Session, string) Decision) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess := m.Current(r)
			decision := decide(sess, r.URL.Path)
			if m.Recorder != nil {
				m.Recorder.RecordDecision(decision.State)
			}
			if r.Context().Err() != nil {
				// The client is gone; acting on the decision would be stale.
				return
			}
			switch decision.State {
			case StateAuthorized:
				next.ServeHTTP(w, r.WithContext(ContextWithSession(r.Context(), sess)))
			case StateLoading:
				m.ServeLoading(w, r)
			default:
				m.deny(w, r, sess, decision)
			}
		})
	}
}

func (m Middleware) resolver() *Resolver {
	if m.Resolver == nil {
		return NewResolver(nil)
	}
	return m.Resolver
}

// ServeLoading answers 503 with Retry-After while the identity is unresolved,
// through Loading when set.
func (m Middleware) ServeLoading(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Retry-After", "1")
	w.Header().Set("Cache-Control", "no-store")
	if wantsJSON(r) {
		httpx.Problem(w, http.StatusServiceUnavailable, "Loading", "session is still loading")
		return
	}
	if m.Loading != nil {
		m.Loading.ServeHTTP(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte(`<!doctype html><meta http-equiv="refresh" content="1"><p>Loading...</p>`))
}

func (m Middleware) deny(w http.ResponseWriter, r *http.Request, sess Session, decision Decision) {
	if m.Logger != nil {
		m.Logger.Debug("access denied",
			slog.String("path", r.URL.Path),
			slog.String("state", decision.State.String()),
			slog.String("role", sess.Role().String()),
			slog.String("redirect", decision.RedirectTo))
	}
	if wantsJSON(r) {
		if decision.State == StateUnauthenticated {
			httpx.RespondError(w, ErrUnauthenticated)
			return
		}
		httpx.RespondError(w, ErrForbidden)
		return
	}
	http.Redirect(w, r, decision.RedirectTo, http.StatusSeeOther)
}

func wantsJSON(r *http.Request) bool {
	if strings.HasPrefix(r.URL.Path, "/api/") {
		return true
	}
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}
