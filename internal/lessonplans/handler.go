package lessonplans

import (
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/tetbloom/tetbloom/internal/access"
	"github.com/tetbloom/tetbloom/internal/platform/httpx"
	"github.com/tetbloom/tetbloom/internal/shared"
	"github.com/tetbloom/tetbloom/internal/view"
)

// Handler serves the lesson plan pages under each role prefix.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	templates *view.Engine
	csrf      *shared.CSRFManager
	guard     access.Middleware
}

// NewHandler builds a Handler. guard protects the action routes by permission.
func NewHandler(logger *slog.Logger, service *Service, templates *view.Engine, csrf *shared.CSRFManager, guard access.Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, templates: templates, csrf: csrf, guard: guard}
}

// MountRoutes registers the lesson plan routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Group(func(r chi.Router) {
		r.Use(h.guard.RequirePermission(access.PermSubmitLessonPlans))
		r.Get("/new", h.showCreate)
		r.Post("/new", h.create)
		r.Post("/{id}/submit", h.submit)
	})
	r.Get("/{id}", h.show)
	r.Get("/{id}/document", h.download)
	r.With(h.guard.RequirePermission(access.PermReviewLessonPlans)).Post("/{id}/review", h.review)
}

type listPageData struct {
	Plans      []planRow
	Pagination shared.Pagination
	Counts     Counts
	Status     string
	Search     string
	Statuses   []Status
	BasePath   string
}

type planRow struct {
	LessonPlan
	IsOverdue bool
}

type formPageData struct {
	Form     CreateInput
	Accept   string
	BasePath string
	Errors   map[string]string
}

type detailPageData struct {
	Plan      *LessonPlan
	IsOverdue bool
	IsOwner   bool
	Accept    string
	Decisions []Status
	BasePath  string
}

func session(r *http.Request) access.Session {
	sess, _ := access.SessionFromContext(r.Context())
	return sess
}

func basePath(sess access.Session) string {
	return access.DefaultRoute(sess.Role()) + "/lesson-plans"
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	sess := session(r)
	query := r.URL.Query()
	status, _ := ParseStatus(query.Get("status"))
	filter := ListFilter{Status: status, Search: query.Get("q"), Page: shared.PageFromQuery(query)}
	items, page, err := h.service.List(r.Context(), sess, filter)
	if err != nil {
		h.fail(w, "list lesson plans", err)
		return
	}
	counts, err := h.service.Counts(r.Context(), sess)
	if err != nil {
		h.fail(w, "count lesson plans", err)
		return
	}
	rows := make([]planRow, 0, len(items))
	for _, p := range items {
		rows = append(rows, planRow{LessonPlan: p, IsOverdue: h.service.Overdue(p)})
	}
	data := listPageData{
		Plans:      rows,
		Pagination: page,
		Counts:     counts,
		Status:     string(status),
		Search:     filter.Search,
		Statuses:   Statuses(),
		BasePath:   basePath(sess),
	}
	h.render(w, r, "Lesson Plans", "pages/lesson_plans_list.html", data, http.StatusOK)
}

func (h *Handler) showCreate(w http.ResponseWriter, r *http.Request) {
	h.renderForm(w, r, CreateInput{}, nil, http.StatusOK)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	doc, err := h.readDocument(w, r, false)
	in := CreateInput{
		Title:       r.PostFormValue("title"),
		Subject:     r.PostFormValue("subject"),
		Grade:       r.PostFormValue("grade"),
		DueDate:     r.PostFormValue("due_date"),
		Description: r.PostFormValue("description"),
	}
	if err != nil {
		h.renderForm(w, r, in, shared.FormErrors(err), httpx.StatusFor(err))
		return
	}
	sess := session(r)
	p, err := h.service.Create(r.Context(), sess, in, doc)
	if err != nil {
		status := httpx.StatusFor(err)
		if status == http.StatusInternalServerError {
			h.logger.Error("create lesson plan", slog.Any("error", err))
		}
		h.renderForm(w, r, in, shared.FormErrors(err), status)
		return
	}
	msg := "Lesson plan saved. Upload the document when it is ready."
	if p.Status == StatusSubmitted {
		msg = "Lesson plan submitted for review."
	}
	h.redirectWithFlash(w, r, basePath(sess)+"/"+p.ID, "success", msg)
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	sess := session(r)
	p, err := h.service.Get(r.Context(), sess, chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, httpx.ErrNotFound) {
			h.redirectWithFlash(w, r, basePath(sess), "warning", "That lesson plan does not exist.")
			return
		}
		h.fail(w, "load lesson plan", err)
		return
	}
	data := detailPageData{
		Plan:      p,
		IsOverdue: h.service.Overdue(*p),
		IsOwner:   sess.User != nil && p.TeacherID == sess.User.ID,
		Accept:    AllowedExtensions,
		Decisions: []Status{StatusApproved, StatusNeedsRevision},
		BasePath:  basePath(sess),
	}
	h.render(w, r, p.Title, "pages/lesson_plan_detail.html", data, http.StatusOK)
}

func (h *Handler) download(w http.ResponseWriter, r *http.Request) {
	doc, err := h.service.Document(r.Context(), session(r), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, "load lesson plan document", err)
		return
	}
	w.Header().Set("Content-Type", doc.ContentType)
	w.Header().Set("Content-Length", strconv.FormatInt(int64(len(doc.Data)), 10))
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": doc.Name}))
	w.Header().Set("Cache-Control", "private, no-store")
	if _, err := w.Write(doc.Data); err != nil {
		h.logger.Warn("write lesson plan document", slog.Any("error", err))
	}
}

func (h *Handler) submit(w http.ResponseWriter, r *http.Request) {
	sess := session(r)
	id := chi.URLParam(r, "id")
	target := basePath(sess) + "/" + id
	doc, err := h.readDocument(w, r, true)
	if err == nil {
		_, err = h.service.Submit(r.Context(), sess, id, doc)
	}
	if err != nil {
		if httpx.StatusFor(err) == http.StatusInternalServerError {
			h.logger.Error("submit lesson plan", slog.Any("error", err))
		}
		h.redirectWithFlash(w, r, target, "danger", shared.UserSafeMessage(err))
		return
	}
	h.redirectWithFlash(w, r, target, "success", "Lesson plan submitted for review.")
}

func (h *Handler) review(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	sess := session(r)
	id := chi.URLParam(r, "id")
	target := basePath(sess) + "/" + id
	decision, _ := ParseStatus(r.PostFormValue("decision"))
	if _, err := h.service.Review(r.Context(), sess, id, decision, r.PostFormValue("comment")); err != nil {
		if httpx.StatusFor(err) == http.StatusInternalServerError {
			h.logger.Error("review lesson plan", slog.Any("error", err))
		}
		h.redirectWithFlash(w, r, target, "danger", shared.UserSafeMessage(err))
		return
	}
	h.redirectWithFlash(w, r, target, "success", "Review saved. The teacher will be notified by e-mail.")
}

// readDocument parses the multipart form and reads the "file" field. A
// missing file is an error only when required.
func (h *Handler) readDocument(w http.ResponseWriter, r *http.Request, required bool) (*Document, error) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxFileBytes+1<<20)
	if err := r.ParseMultipartForm(1 << 20); err != nil {
		return nil, shared.Invalid("file", "Files must be at most 10 MB.")
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) && !required {
			return nil, nil
		}
		return nil, shared.Invalid("file", "Choose a file to upload.")
	}
	defer file.Close()
	data, err := io.ReadAll(io.LimitReader(file, MaxFileBytes+1))
	if err != nil {
		return nil, err
	}
	return NewDocument(header.Filename, data)
}

func (h *Handler) renderForm(w http.ResponseWriter, r *http.Request, in CreateInput, errs map[string]string, status int) {
	data := formPageData{Form: in, Accept: AllowedExtensions, BasePath: basePath(session(r)), Errors: errs}
	h.render(w, r, "New lesson plan", "pages/lesson_plan_form.html", data, status)
}

func (h *Handler) fail(w http.ResponseWriter, msg string, err error) {
	status := httpx.StatusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error(msg, slog.Any("error", err))
	}
	http.Error(w, shared.UserSafeMessage(err), status)
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
