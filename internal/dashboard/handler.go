package dashboard

import (
	"log/slog"
	"net/http"

	"github.com/tetbloom/tetbloom/internal/access"
	"github.com/tetbloom/tetbloom/internal/shared"
	"github.com/tetbloom/tetbloom/internal/view"
)

// Handler renders the role landing pages.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	templates *view.Engine
	csrf      *shared.CSRFManager
}

// NewHandler builds a Handler.
func NewHandler(logger *slog.Logger, service *Service, templates *view.Engine, csrf *shared.CSRFManager) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, templates: templates, csrf: csrf}
}

// Show renders the dashboard of the signed-in user.
func (h *Handler) Show(w http.ResponseWriter, r *http.Request) {
	sess, _ := access.SessionFromContext(r.Context())
	d, err := h.service.For(r.Context(), sess)
	if err != nil {
		h.logger.Error("load dashboard", slog.String("role", sess.Role().String()), slog.Any("error", err))
		http.Error(w, shared.UserSafeMessage(err), http.StatusInternalServerError)
		return
	}
	title := "Dashboard"
	if sess.Role() == access.RoleAdministrator {
		title = "Overview"
	}
	data := h.templates.Base(r, h.csrf, title)
	data.Data = d
	if err := h.templates.Render(w, "pages/dashboard.html", data); err != nil {
		h.logger.Error("render dashboard", slog.Any("error", err))
	}
}
