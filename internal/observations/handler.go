package observations

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tetbloom/tetbloom/internal/access"
	"github.com/tetbloom/tetbloom/internal/groups"
	"github.com/tetbloom/tetbloom/internal/platform/httpx"
	"github.com/tetbloom/tetbloom/internal/shared"
	"github.com/tetbloom/tetbloom/internal/view"
)

// UpcomingDays is the window shown on the schedule page.
const UpcomingDays = 14

// Handler serves the observation pages under each role prefix.
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

// MountRoutes registers the observation routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Group(func(r chi.Router) {
		r.Use(h.guard.RequirePermission(access.PermCreateObservations))
		r.Get("/schedule", h.showSchedule)
		r.Post("/schedule", h.schedule)
		r.Post("/{id}/status", h.transition)
		r.Post("/{id}/feedback", h.feedback)
	})
	r.Get("/{id}", h.show)
	r.With(h.guard.RequirePermission(access.PermApproveObservations)).Post("/{id}/acknowledge", h.acknowledge)
	r.With(h.guard.RequirePermission(access.PermRequestReview)).Post("/{id}/review", h.requestReview)
	r.With(h.guard.RequirePermission(access.PermHandleReviewRequests)).Post("/{id}/review/resolve", h.resolveReview)
}

type listPageData struct {
	Observations []Observation
	Pagination   shared.Pagination
	Status       string
	Statuses     []Status
	BasePath     string
}

type schedulePageData struct {
	Form      ScheduleInput
	Kinds     []Kind
	Observers []groups.Person
	Teachers  []groups.Person
	Upcoming  []Observation
	BasePath  string
	Errors    map[string]string
}

type detailPageData struct {
	Observation *Observation
	BasePath    string
	IsObserver  bool
	IsTeacher   bool
}

type feedbackPageData struct {
	Observations []Observation
	Pagination   shared.Pagination
	BasePath     string
}

func session(r *http.Request) access.Session {
	sess, _ := access.SessionFromContext(r.Context())
	return sess
}

func basePath(sess access.Session) string {
	return access.DefaultRoute(sess.Role()) + "/observations"
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	sess := session(r)
	status, _ := ParseStatus(r.URL.Query().Get("status"))
	items, page, err := h.service.List(r.Context(), sess, ListFilter{Status: status, Page: shared.PageFromQuery(r.URL.Query())})
	if err != nil {
		h.fail(w, "list observations", err)
		return
	}
	data := listPageData{
		Observations: items,
		Pagination:   page,
		Status:       string(status),
		Statuses:     []Status{StatusScheduled, StatusInProgress, StatusCompleted, StatusCanceled},
		BasePath:     basePath(sess),
	}
	h.render(w, r, "Observations", "pages/observations_list.html", data, http.StatusOK)
}

// FeedbackList renders the feedback received by the signed-in teacher.
func (h *Handler) FeedbackList(w http.ResponseWriter, r *http.Request) {
	sess := session(r)
	items, page, err := h.service.WithFeedback(r.Context(), sess, shared.PageFromQuery(r.URL.Query()))
	if err != nil {
		h.fail(w, "list feedback", err)
		return
	}
	h.render(w, r, "Feedback", "pages/feedback_list.html", feedbackPageData{Observations: items, Pagination: page, BasePath: basePath(sess)}, http.StatusOK)
}

func (h *Handler) showSchedule(w http.ResponseWriter, r *http.Request) {
	h.renderSchedule(w, r, ScheduleInput{Kind: string(KindFormal)}, nil, http.StatusOK)
}

func (h *Handler) schedule(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	sess := session(r)
	in := ScheduleInput{
		TeacherID:  r.PostFormValue("teacher_id"),
		ObserverID: r.PostFormValue("observer_id"),
		Date:       r.PostFormValue("date"),
		Time:       r.PostFormValue("time"),
		Kind:       r.PostFormValue("kind"),
		Notes:      r.PostFormValue("notes"),
	}
	o, err := h.service.Schedule(r.Context(), sess, in)
	if err != nil {
		status := httpx.StatusFor(err)
		if status == http.StatusInternalServerError {
			h.logger.Error("schedule observation", slog.Any("error", err))
		}
		h.renderSchedule(w, r, in, shared.FormErrors(err), status)
		return
	}
	h.redirectWithFlash(w, r, basePath(sess)+"/"+o.ID, "success", "Observation scheduled. "+o.TeacherName+" will be notified by e-mail.")
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	sess := session(r)
	o, err := h.service.Get(r.Context(), sess, chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, httpx.ErrNotFound) {
			h.redirectWithFlash(w, r, basePath(sess), "warning", "That observation does not exist.")
			return
		}
		h.fail(w, "load observation", err)
		return
	}
	data := detailPageData{
		Observation: o,
		BasePath:    basePath(sess),
		IsObserver:  sess.User != nil && o.ObserverID == sess.User.ID,
		IsTeacher:   sess.User != nil && o.TeacherID == sess.User.ID,
	}
	h.render(w, r, "Observation", "pages/observation_detail.html", data, http.StatusOK)
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request) {
	h.act(w, r, "Status updated.", func(sess access.Session, id string) error {
		to, ok := ParseStatus(r.PostFormValue("to"))
		if !ok {
			return ErrInvalidTransition
		}
		_, err := h.service.Transition(r.Context(), sess, id, to)
		return err
	})
}

func (h *Handler) feedback(w http.ResponseWriter, r *http.Request) {
	h.act(w, r, "Feedback saved.", func(sess access.Session, id string) error {
		return h.service.RecordFeedback(r.Context(), sess, id, SplitLines(r.PostFormValue("glows")), SplitLines(r.PostFormValue("grows")))
	})
}

func (h *Handler) acknowledge(w http.ResponseWriter, r *http.Request) {
	h.act(w, r, "Feedback acknowledged.", func(sess access.Session, id string) error {
		return h.service.Acknowledge(r.Context(), sess, id)
	})
}

func (h *Handler) requestReview(w http.ResponseWriter, r *http.Request) {
	h.act(w, r, "Review requested.", func(sess access.Session, id string) error {
		return h.service.RequestReview(r.Context(), sess, id, r.PostFormValue("note"))
	})
}

func (h *Handler) resolveReview(w http.ResponseWriter, r *http.Request) {
	h.act(w, r, "Review resolved.", func(sess access.Session, id string) error {
		return h.service.ResolveReview(r.Context(), sess, id, r.PostFormValue("response"))
	})
}

// act runs a POST action on one observation and redirects back to it.
func (h *Handler) act(w http.ResponseWriter, r *http.Request, success string, fn func(access.Session, string) error) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	sess := session(r)
	id := chi.URLParam(r, "id")
	target := basePath(sess) + "/" + id
	if err := fn(sess, id); err != nil {
		if httpx.StatusFor(err) == http.StatusInternalServerError {
			h.logger.Error("observation action", slog.String("path", r.URL.Path), slog.Any("error", err))
		}
		h.redirectWithFlash(w, r, target, "danger", shared.UserSafeMessage(err))
		return
	}
	h.redirectWithFlash(w, r, target, "success", success)
}

func (h *Handler) renderSchedule(w http.ResponseWriter, r *http.Request, in ScheduleInput, errs map[string]string, status int) {
	sess := session(r)
	observers, teachers, err := h.service.Options(r.Context(), sess)
	if err != nil {
		h.fail(w, "schedule options", err)
		return
	}
	upcoming, err := h.service.Upcoming(r.Context(), sess, UpcomingDays)
	if err != nil {
		h.fail(w, "upcoming observations", err)
		return
	}
	data := schedulePageData{
		Form:      in,
		Kinds:     Kinds(),
		Observers: observers,
		Teachers:  teachers,
		Upcoming:  upcoming,
		BasePath:  basePath(sess),
		Errors:    errs,
	}
	h.render(w, r, "Schedule", "pages/observation_form.html", data, status)
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
