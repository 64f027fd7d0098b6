package groups

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tetbloom/tetbloom/internal/access"
	"github.com/tetbloom/tetbloom/internal/platform/httpx"
	"github.com/tetbloom/tetbloom/internal/shared"
	"github.com/tetbloom/tetbloom/internal/view"
)

// Handler serves the group pages under each role prefix.
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

// MountRoutes registers the group routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Get("/new", h.showCreate)
	r.Post("/", h.create)
	r.Get("/{id}", h.show)
	r.Post("/{id}/members", h.setMembers)
	r.Post("/{id}/delete", h.delete)
}

type listPageData struct {
	Groups   []Group
	BasePath string
}

type formPageData struct {
	Form      CreateInput
	Observers []Person
	Teachers  []Person
	Selected  map[string]bool
	BasePath  string
	Errors    map[string]string
}

type detailPageData struct {
	Group    *Group
	Teachers []Person
	Selected map[string]bool
	BasePath string
	Errors   map[string]string
}

// ViewerFrom returns the signed-in user as a Viewer.
func ViewerFrom(r *http.Request) Viewer {
	sess, ok := access.SessionFromContext(r.Context())
	if !ok || sess.User == nil {
		return Viewer{}
	}
	return Viewer{ID: sess.User.ID, Role: sess.Role()}
}

func basePath(v Viewer) string {
	return access.DefaultRoute(v.Role) + "/groups"
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	v := ViewerFrom(r)
	groups, err := h.service.List(r.Context(), v)
	if err != nil {
		h.fail(w, r, "list groups", err)
		return
	}
	h.render(w, r, "Observation Groups", "pages/groups_list.html", listPageData{Groups: groups, BasePath: basePath(v)}, http.StatusOK)
}

func (h *Handler) showCreate(w http.ResponseWriter, r *http.Request) {
	h.renderForm(w, r, CreateInput{}, nil, http.StatusOK)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	v := ViewerFrom(r)
	in := CreateInput{
		Name:        r.PostFormValue("name"),
		Description: r.PostFormValue("description"),
		AdminID:     r.PostFormValue("admin_id"),
		MemberIDs:   r.PostForm["member_ids"],
	}
	g, err := h.service.Create(r.Context(), v, in)
	if err != nil {
		status := httpx.StatusFor(err)
		if status == http.StatusInternalServerError {
			h.logger.Error("create group", slog.Any("error", err))
		}
		h.renderForm(w, r, in, shared.FormErrors(err), status)
		return
	}
	h.redirectWithFlash(w, r, basePath(v)+"/"+g.ID, "success", "Group "+g.Name+" created.")
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	v := ViewerFrom(r)
	g, err := h.service.Get(r.Context(), v, chi.URLParam(r, "id"))
	if err != nil {
		h.missing(w, r, v, err)
		return
	}
	_, teachers, err := h.service.Options(r.Context(), v)
	if err != nil {
		h.fail(w, r, "group options", err)
		return
	}
	selected := make(map[string]bool, len(g.Members))
	for _, m := range g.Members {
		selected[m.ID] = true
	}
	h.render(w, r, g.Name, "pages/group_detail.html", detailPageData{Group: g, Teachers: teachers, Selected: selected, BasePath: basePath(v)}, http.StatusOK)
}

func (h *Handler) setMembers(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	v := ViewerFrom(r)
	id := chi.URLParam(r, "id")
	if err := h.service.SetMembers(r.Context(), v, id, r.PostForm["member_ids"]); err != nil {
		if errors.Is(err, httpx.ErrNotFound) {
			h.missing(w, r, v, err)
			return
		}
		h.redirectWithFlash(w, r, basePath(v)+"/"+id, "danger", shared.UserSafeMessage(err))
		return
	}
	h.redirectWithFlash(w, r, basePath(v)+"/"+id, "success", "Members updated.")
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	v := ViewerFrom(r)
	if err := h.service.Delete(r.Context(), v, chi.URLParam(r, "id")); err != nil {
		h.redirectWithFlash(w, r, basePath(v), "danger", shared.UserSafeMessage(err))
		return
	}
	h.redirectWithFlash(w, r, basePath(v), "success", "Group deleted.")
}

func (h *Handler) renderForm(w http.ResponseWriter, r *http.Request, in CreateInput, errs map[string]string, status int) {
	v := ViewerFrom(r)
	observers, teachers, err := h.service.Options(r.Context(), v)
	if err != nil {
		h.fail(w, r, "group options", err)
		return
	}
	selected := make(map[string]bool, len(in.MemberIDs))
	for _, id := range in.MemberIDs {
		selected[id] = true
	}
	data := formPageData{Form: in, Observers: observers, Teachers: teachers, Selected: selected, BasePath: basePath(v), Errors: errs}
	h.render(w, r, "New group", "pages/group_form.html", data, status)
}

func (h *Handler) missing(w http.ResponseWriter, r *http.Request, v Viewer, err error) {
	if errors.Is(err, httpx.ErrNotFound) {
		h.redirectWithFlash(w, r, basePath(v), "warning", "That group does not exist.")
		return
	}
	h.fail(w, r, "load group", err)
}

func (h *Handler) fail(w http.ResponseWriter, _ *http.Request, msg string, err error) {
	h.logger.Error(msg, slog.Any("error", err))
	http.Error(w, shared.UserSafeMessage(err), httpx.StatusFor(err))
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request, title, name string, data any, status int) {
	viewData := h.templates.Base(r, h.csrf, title)
	viewData.Data = data
	if err := h.templates.RenderStatus(w, status, name, viewData); err != nil {
		h.logger.Error("render template", slog.String("template", name), slog.Any("error", err))
	}
}

func (h *Handler) redirectWithFlash(w http.ResponseWriter, r *http.Request, location, kind, message string) {
	if sess := shared.SessionFromContext(r.Context()); sess != nil {
		sess.AddFlash(shared.FlashMessage{Kind: kind, Message: message})
	}
	http.Redirect(w, r, location, http.StatusSeeOther)
}
