package users

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tetbloom/tetbloom/internal/access"
	"github.com/tetbloom/tetbloom/internal/platform/httpx"
	"github.com/tetbloom/tetbloom/internal/shared"
	"github.com/tetbloom/tetbloom/internal/view"
)

// ImportReportTTL bounds how long a failed-rows report can be downloaded.
const ImportReportTTL = time.Hour

// ReportStore keeps import error reports between the upload and download.
type ReportStore interface {
	Put(ctx context.Context, key string, v any, ttl time.Duration) error
	Get(ctx context.Context, key string, dst any) (bool, error)
}

// Handler manages user management endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	templates *view.Engine
	csrf      *shared.CSRFManager
	reports   ReportStore
	basePath  string
}

// NewHandler builds Handler instance. basePath is where MountRoutes is mounted.
func NewHandler(logger *slog.Logger, service *Service, templates *view.Engine, csrf *shared.CSRFManager, reports ReportStore, basePath string) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, templates: templates, csrf: csrf, reports: reports, basePath: strings.TrimRight(basePath, "/")}
}

// MountRoutes registers user routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Get("/new", h.showCreate)
	r.Post("/", h.create)
	r.Get("/import", h.showImport)
	r.Post("/import", h.upload)
	r.Get("/import/template.csv", h.templateCSV)
	r.Get("/import/template.xlsx", h.templateXLSX)
	r.Get("/import/{importID}/errors.csv", h.errorReport)
	r.Get("/{id}/edit", h.showEdit)
	r.Post("/{id}", h.update)
	r.Post("/{id}/delete", h.delete)
	r.Post("/{id}/invite", h.resendInvite)
}

type listPageData struct {
	Users      []User
	Pagination shared.Pagination
	Query      string
	Role       string
	Roles      []access.Role
	Errors     map[string]string
}

type formPageData struct {
	User   *User
	Form   formValues
	Roles  []access.Role
	Errors map[string]string
}

type formValues struct {
	Email    string
	FullName string
	Role     string
	Subject  string
	Grade    string
	IsActive bool
}

type importPageData struct {
	Result   *ImportResult
	ReportID string
	RoleHint string
	MaxRows  int
	Errors   map[string]string
}

func actorID(r *http.Request) string {
	if sess, ok := access.SessionFromContext(r.Context()); ok && sess.User != nil {
		return sess.User.ID
	}
	return ""
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ListFilter{
		Query:   strings.TrimSpace(q.Get("q")),
		Role:    access.NormalizeRole(q.Get("role")),
		Page:    shared.PageFromQuery(q),
		PerPage: shared.DefaultPerPage,
	}
	items, page, err := h.service.List(r.Context(), filter)
	data := listPageData{Users: items, Pagination: page, Query: filter.Query, Role: string(filter.Role), Roles: access.Roles()}
	if err != nil {
		h.logger.Error("list users", slog.Any("error", err))
		data.Errors = map[string]string{"general": shared.UserSafeMessage(err)}
		h.render(w, r, "User Management", "pages/users_list.html", data, http.StatusInternalServerError)
		return
	}
	h.render(w, r, "User Management", "pages/users_list.html", data, http.StatusOK)
}

func (h *Handler) showCreate(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, "Add user", "pages/user_form.html", formPageData{Form: formValues{Role: string(access.RoleTeacher), IsActive: true}, Roles: access.Roles()}, http.StatusOK)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	form := readForm(r)
	created, err := h.service.Create(r.Context(), actorID(r), CreateInput{
		Email:    form.Email,
		FullName: form.FullName,
		Role:     form.Role,
		Subject:  form.Subject,
		Grade:    form.Grade,
	})
	if err != nil {
		h.formFailure(w, r, "Add user", formPageData{Form: form, Roles: access.Roles()}, err)
		return
	}
	h.redirectWithFlash(w, r, h.basePath, "success", "Invitation sent to "+created.Email+".")
}

func (h *Handler) showEdit(w http.ResponseWriter, r *http.Request) {
	u, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.notFound(w, r, err)
		return
	}
	h.render(w, r, "Edit user", "pages/user_form.html", formPageData{User: u, Form: valuesOf(u), Roles: access.Roles()}, http.StatusOK)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	u, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.notFound(w, r, err)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	form := readForm(r)
	form.Email = u.Email
	updated, err := h.service.Update(r.Context(), actorID(r), id, UpdateInput{
		FullName: form.FullName,
		Role:     form.Role,
		Subject:  form.Subject,
		Grade:    form.Grade,
		IsActive: form.IsActive,
	})
	if err != nil {
		h.formFailure(w, r, "Edit user", formPageData{User: u, Form: form, Roles: access.Roles()}, err)
		return
	}
	h.redirectWithFlash(w, r, h.basePath, "success", updated.FullName+" was updated.")
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Delete(r.Context(), actorID(r), chi.URLParam(r, "id")); err != nil {
		h.redirectWithFlash(w, r, h.basePath, "danger", shared.UserSafeMessage(err))
		return
	}
	h.redirectWithFlash(w, r, h.basePath, "success", "User deleted.")
}

func (h *Handler) resendInvite(w http.ResponseWriter, r *http.Request) {
	if err := h.service.ResendInvite(r.Context(), actorID(r), chi.URLParam(r, "id")); err != nil {
		h.redirectWithFlash(w, r, h.basePath, "danger", shared.UserSafeMessage(err))
		return
	}
	h.redirectWithFlash(w, r, h.basePath, "success", "Invitation sent again.")
}

func (h *Handler) showImport(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, "Import users", "pages/users_import.html", h.importData(nil, ""), http.StatusOK)
}

func (h *Handler) upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxImportBytes+1<<20)
	if err := r.ParseMultipartForm(1 << 20); err != nil {
		h.importFailure(w, r, ErrFileTooLarge)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		h.importFailure(w, r, shared.Invalid("file", "Choose a file to upload."))
		return
	}
	defer file.Close()

	rows, err := ParseImport(header.Filename, file)
	if err != nil {
		h.importFailure(w, r, err)
		return
	}
	result, err := h.service.Import(r.Context(), actorID(r), rows)
	if err != nil {
		h.logger.Error("import users", slog.Any("error", err))
		h.importFailure(w, r, err)
		return
	}
	reportID := ""
	if len(result.Failed) > 0 && h.reports != nil {
		if err := h.reports.Put(r.Context(), result.ID, result.Failed, ImportReportTTL); err != nil {
			h.logger.Warn("store import report", slog.String("import_id", result.ID), slog.Any("error", err))
		} else {
			reportID = result.ID
		}
	}
	h.render(w, r, "Import users", "pages/users_import.html", h.importData(result, reportID), http.StatusOK)
}

func (h *Handler) errorReport(w http.ResponseWriter, r *http.Request) {
	var failed []RowError
	found := false
	if h.reports != nil {
		var err error
		found, err = h.reports.Get(r.Context(), chi.URLParam(r, "importID"), &failed)
		if err != nil {
			h.logger.Error("load import report", slog.Any("error", err))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}
	}
	if !found {
		http.Error(w, "This report has expired. Upload the file again.", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="user-import-errors.csv"`)
	if err := WriteErrorReport(w, failed); err != nil {
		h.logger.Error("write import report", slog.Any("error", err))
	}
}

func (h *Handler) templateCSV(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="user-import-template.csv"`)
	if err := WriteTemplateCSV(w); err != nil {
		h.logger.Error("write csv template", slog.Any("error", err))
	}
}

func (h *Handler) templateXLSX(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="user-import-template.xlsx"`)
	if err := WriteTemplateXLSX(w); err != nil {
		h.logger.Error("write xlsx template", slog.Any("error", err))
	}
}

func (h *Handler) importData(result *ImportResult, reportID string) importPageData {
	return importPageData{Result: result, ReportID: reportID, RoleHint: roleHint(), MaxRows: MaxImportRows}
}

func (h *Handler) importFailure(w http.ResponseWriter, r *http.Request, err error) {
	data := h.importData(nil, "")
	data.Errors = shared.FormErrors(err)
	h.render(w, r, "Import users", "pages/users_import.html", data, httpx.StatusFor(err))
}

func (h *Handler) formFailure(w http.ResponseWriter, r *http.Request, title string, data formPageData, err error) {
	status := httpx.StatusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("save user", slog.Any("error", err))
	}
	data.Errors = shared.FormErrors(err)
	h.render(w, r, title, "pages/user_form.html", data, status)
}

func (h *Handler) notFound(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, httpx.ErrNotFound) {
		h.redirectWithFlash(w, r, h.basePath, "warning", "That user no longer exists.")
		return
	}
	h.logger.Error("load user", slog.Any("error", err))
	http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
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

func readForm(r *http.Request) formValues {
	return formValues{
		Email:    r.PostFormValue("email"),
		FullName: r.PostFormValue("full_name"),
		Role:     r.PostFormValue("role"),
		Subject:  r.PostFormValue("subject"),
		Grade:    r.PostFormValue("grade"),
		IsActive: r.PostFormValue("is_active") != "",
	}
}

func valuesOf(u *User) formValues {
	return formValues{
		Email:    u.Email,
		FullName: u.FullName,
		Role:     string(u.Role),
		Subject:  u.Subject,
		Grade:    u.Grade,
		IsActive: u.IsActive,
	}
}
