package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/tetbloom/tetbloom/internal/access"
	"github.com/tetbloom/tetbloom/internal/auth"
	"github.com/tetbloom/tetbloom/internal/dashboard"
	"github.com/tetbloom/tetbloom/internal/groups"
	"github.com/tetbloom/tetbloom/internal/lessonplans"
	"github.com/tetbloom/tetbloom/internal/observability"
	"github.com/tetbloom/tetbloom/internal/observations"
	"github.com/tetbloom/tetbloom/internal/shared"
	"github.com/tetbloom/tetbloom/internal/users"
	"github.com/tetbloom/tetbloom/internal/view"
	"github.com/tetbloom/tetbloom/jobs"
	"github.com/tetbloom/tetbloom/web"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger              *slog.Logger
	Config              *Config
	Templates           *view.Engine
	SessionManager      *shared.SessionManager
	CSRFManager         *shared.CSRFManager
	Access              access.Middleware
	AuthHandler         *auth.Handler
	DashboardHandler    *dashboard.Handler
	UsersHandler        *users.Handler
	GroupsHandler       *groups.Handler
	ObservationsHandler *observations.Handler
	LessonPlansHandler  *lessonplans.Handler
	JobHandler          *jobs.Handler
	Metrics             *observability.Metrics
}

// NewRouter constructs the chi.Router with TET Bloom defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	staticFS, err := web.Static()
	if err != nil {
		params.Logger.Error("create static sub filesystem", slog.Any("error", err))
	} else {
		// Assets skip the session, CSRF and rate-limit stack.
		fileServer := http.StripPrefix("/static/", http.FileServer(http.FS(staticFS)))
		r.Handle("/static/*", staticCacheHandler(fileServer))
	}

	r.Group(func(r chi.Router) {
		for _, mw := range MiddlewareStack(MiddlewareConfig{
			Logger:         params.Logger,
			Config:         params.Config,
			SessionManager: params.SessionManager,
			CSRFManager:    params.CSRFManager,
			Metrics:        params.Metrics,
			Access:         params.Access,
		}) {
			r.Use(mw)
		}
		r.Use(chimw.Logger)

		r.Get("/", home(params.Access))
		params.AuthHandler.MountRoutes(r)

		r.Route("/api", func(r chi.Router) {
			r.Use(cors.Handler(corsOptions(params.Config)))
			params.AuthHandler.MountAPI(r)
		})

		help := helpPage(params)
		guard := params.Access

		r.Route("/super", func(r chi.Router) {
			r.Use(guard.Require(access.RoleSuperUser))
			r.Get("/", params.DashboardHandler.Show)
			r.Get("/help", help)
			r.Route("/users", func(r chi.Router) {
				r.Use(guard.RequirePermission(access.PermManageUsers))
				params.UsersHandler.MountRoutes(r)
			})
			r.Route("/groups", func(r chi.Router) {
				r.Use(guard.RequirePermission(access.PermManageGroups))
				params.GroupsHandler.MountRoutes(r)
			})
			r.Route("/observations", func(r chi.Router) {
				r.Use(guard.RequirePermission(access.PermViewAllObservations))
				params.ObservationsHandler.MountRoutes(r)
			})
			r.Route("/lesson-plans", func(r chi.Router) {
				r.Use(guard.RequirePermission(access.PermReviewLessonPlans))
				params.LessonPlansHandler.MountRoutes(r)
			})
			if params.JobHandler != nil {
				r.Route("/jobs", params.JobHandler.MountRoutes)
			}
		})

		r.Route("/administrator", func(r chi.Router) {
			r.Use(guard.Require(access.RoleAdministrator))
			r.Get("/", params.DashboardHandler.Show)
			r.Get("/help", help)
			r.Route("/groups", func(r chi.Router) {
				r.Use(guard.RequirePermission(access.PermManageGroups))
				params.GroupsHandler.MountRoutes(r)
			})
			r.Route("/observations", func(r chi.Router) {
				r.Use(guard.RequirePermission(access.PermViewGroupObservations))
				params.ObservationsHandler.MountRoutes(r)
			})
			r.Route("/lesson-plans", func(r chi.Router) {
				r.Use(guard.RequirePermission(access.PermReviewLessonPlans))
				params.LessonPlansHandler.MountRoutes(r)
			})
		})

		r.Route("/teacher", func(r chi.Router) {
			r.Use(guard.Require(access.RoleTeacher))
			r.Get("/", params.DashboardHandler.Show)
			r.Get("/help", help)
			r.Route("/observations", func(r chi.Router) {
				r.Use(guard.RequirePermission(access.PermViewOwnObservations))
				params.ObservationsHandler.MountRoutes(r)
			})
			r.With(guard.RequirePermission(access.PermViewOwnObservations)).
				Get("/feedback", params.ObservationsHandler.FeedbackList)
			r.Route("/lesson-plans", func(r chi.Router) {
				r.Use(guard.RequirePermission(access.PermSubmitLessonPlans))
				params.LessonPlansHandler.MountRoutes(r)
			})
		})
	})

	return r
}

// home sends visitors to their role landing page.
func home(guard access.Middleware) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess := guard.Current(r)
		switch {
		case sess.IsLoading:
			guard.ServeLoading(w, r)
		case sess.IsAuthenticated:
			http.Redirect(w, r, access.DefaultRoute(sess.Role()), http.StatusSeeOther)
		default:
			http.Redirect(w, r, access.SignInRoute, http.StatusSeeOther)
		}
	}
}

func helpPage(params RouterParams) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data := params.Templates.Base(r, params.CSRFManager, "Help & Docs")
		if err := params.Templates.Render(w, "pages/help.html", data); err != nil {
			params.Logger.Error("render help", slog.Any("error", err))
		}
	}
}

// LoadingHandler renders the page shown while the identity lookup is slow.
func LoadingHandler(templates *view.Engine, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		data := view.TemplateData{Title: "Loading", CurrentPath: r.URL.Path}
		if err := templates.RenderStatus(w, http.StatusServiceUnavailable, "pages/loading.html", data); err != nil {
			logger.Error("render loading", slog.Any("error", err))
		}
	})
}

func corsOptions(cfg *Config) cors.Options {
	var origins []string
	if cfg != nil {
		origins = cfg.CORSAllowedOrigins
	}
	return cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type", shared.CSRFHeader},
		ExposedHeaders:   []string{shared.CSRFHeader},
		AllowCredentials: true,
		MaxAge:           300,
	}
}

// staticCacheHandler wraps a file server with Cache-Control headers.
// Static assets are cached for 1 hour in browser.
func staticCacheHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "public, max-age=3600")
		next.ServeHTTP(w, r)
	})
}
