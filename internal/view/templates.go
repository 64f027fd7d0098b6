package view

import (
	"fmt"
	"html/template"
	"net/http"
	"strings"
	"time"

	"github.com/tetbloom/tetbloom/internal/access"
	"github.com/tetbloom/tetbloom/internal/shared"
	"github.com/tetbloom/tetbloom/web"
)

// Engine renders HTML templates.
type Engine struct {
	templates *template.Template
	resolver  *access.Resolver
}

// TemplateData contains values shared across templates.
type TemplateData struct {
	Title       string
	CSRFToken   string
	Flash       *shared.FlashMessage
	CurrentPath string
	User        *access.User
	Role        access.Role
	Home        string
	Nav         []access.NavigationEntry
	// Active is the path of the navigation entry matching CurrentPath.
	Active      string
	Data        any

	can func(access.Permission) bool
}

// Can reports whether the signed-in user holds perm.
func (d TemplateData) Can(perm string) bool {
	return d.can != nil && d.can(access.Permission(perm))
}

// NewEngine parses the embedded templates. A nil resolver uses the default
// role registry for navigation. Times render in loc, UTC when nil.
func NewEngine(resolver *access.Resolver, loc *time.Location) (*Engine, error) {
	if resolver == nil {
		resolver = access.NewResolver(nil)
	}
	if loc == nil {
		loc = time.UTC
	}
	funcMap := template.FuncMap{
		"formatDate": func(t time.Time) string {
			if t.IsZero() {
				return ""
			}
			return t.In(loc).Format("02 Jan 2006 15:04")
		},
		"formatDay": func(t time.Time) string {
			if t.IsZero() {
				return ""
			}
			return t.In(loc).Format("Mon 02 Jan 2006")
		},
		// DATE columns carry no zone, so calendar days are not converted.
		"formatCalendarDay": func(t time.Time) string {
			if t.IsZero() {
				return ""
			}
			return t.Format("Mon 02 Jan 2006")
		},
		"roleLabel": func(role access.Role) string {
			return role.Label()
		},
		"join": strings.Join,
		"add":  func(a, b int) int { return a + b },
		"sub":  func(a, b int) int { return a - b },
		"table": func(items any, base string) map[string]any {
			return map[string]any{"Items": items, "Base": base}
		},
	}
	tpl, err := template.New("root").Funcs(funcMap).ParseFS(web.Templates, "templates/layouts/*.html", "templates/partials/*.html", "templates/pages/*.html")
	if err != nil {
		return nil, err
	}
	return &Engine{templates: tpl, resolver: resolver}, nil
}

// Base fills the request scoped fields every page needs: CSRF token, flash,
// the signed-in user and their navigation.
func (e *Engine) Base(r *http.Request, csrf *shared.CSRFManager, title string) TemplateData {
	data := TemplateData{Title: title, CurrentPath: r.URL.Path}
	if sess := shared.SessionFromContext(r.Context()); sess != nil {
		if csrf != nil {
			data.CSRFToken, _ = csrf.EnsureToken(sess)
		}
		data.Flash = sess.PopFlash()
	}
	if accessSess, ok := access.SessionFromContext(r.Context()); ok && accessSess.User != nil {
		user := *accessSess.User
		data.User = &user
		data.Role = accessSess.Role()
		data.Home = access.DefaultRoute(data.Role)
		data.Nav = e.resolver.Navigation(accessSess)
		data.Active = activeEntry(data.Nav, data.CurrentPath)
		data.can = func(p access.Permission) bool { return e.resolver.HasPermission(accessSess, p) }
	}
	return data
}

// Render executes a named template with TemplateData.
func (e *Engine) Render(w http.ResponseWriter, name string, data TemplateData) error {
	if e == nil {
		return fmt.Errorf("template engine not initialised")
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	return e.templates.ExecuteTemplate(w, name, data)
}

// RenderStatus writes status before rendering.
func (e *Engine) RenderStatus(w http.ResponseWriter, status int, name string, data TemplateData) error {
	if e == nil {
		return fmt.Errorf("template engine not initialised")
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	return e.templates.ExecuteTemplate(w, name, data)
}

// activeEntry picks the most specific entry containing path. Role home
// entries only match exactly.
func activeEntry(nav []access.NavigationEntry, path string) string {
	best := ""
	for _, entry := range nav {
		nested := strings.Count(entry.Path, "/") > 1 && strings.HasPrefix(path, entry.Path+"/")
		if (entry.Path == path || nested) && len(entry.Path) > len(best) {
			best = entry.Path
		}
	}
	return best
}
