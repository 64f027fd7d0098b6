package auth

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/tetbloom/tetbloom/internal/access"
	"github.com/tetbloom/tetbloom/internal/shared"
	"github.com/tetbloom/tetbloom/internal/view"
)

// Handler wires HTTP endpoints for authentication flows.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	templates *view.Engine
	csrf      *shared.CSRFManager
	resolver  *access.Resolver
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, templates *view.Engine, csrf *shared.CSRFManager, resolver *access.Resolver) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if resolver == nil {
		resolver = access.NewResolver(nil)
	}
	return &Handler{
		logger:    logger,
		service:   service,
		templates: templates,
		csrf:      csrf,
		resolver:  resolver,
		validator: validator.New(),
	}
}

// MountRoutes registers the sign-in pages.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/login", h.showLogin)
	r.Post("/login", h.handleLogin)
	r.Post("/logout", h.handleLogout)
	r.Get("/auth/set-password", h.showSetPassword)
	r.Post("/auth/set-password", h.handleSetPassword)
}

type loginForm struct {
	Email    string `validate:"required,email"`
	Password string `validate:"required,min=8"`
}

type loginPageData struct {
	Form   loginForm
	Errors map[string]string
}

type setPasswordForm struct {
	Token    string `validate:"required"`
	Password string `validate:"required,min=8"`
	Confirm  string `validate:"required,eqfield=Password"`
}

type setPasswordPageData struct {
	Token  string
	Email  string
	Errors map[string]string
}

func (h *Handler) current(r *http.Request) access.Session {
	if sess, ok := access.SessionFromContext(r.Context()); ok {
		return sess
	}
	return h.service.CurrentSession(r)
}

func (h *Handler) showLogin(w http.ResponseWriter, r *http.Request) {
	if sess := h.current(r); sess.IsAuthenticated {
		if dest := access.DefaultRoute(sess.Role()); dest != access.SignInRoute {
			http.Redirect(w, r, dest, http.StatusSeeOther)
			return
		}
	}
	h.renderLogin(w, r, loginPageData{}, http.StatusOK)
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	form := loginForm{
		Email:    r.PostFormValue("email"),
		Password: r.PostFormValue("password"),
	}
	errs := validationErrors(h.validator.Struct(form))
	if len(errs) == 0 {
		sess := shared.SessionFromContext(r.Context())
		acct, err := h.service.SignIn(r.Context(), sess, form.Email, form.Password, r.RemoteAddr, r.UserAgent())
		if err == nil {
			h.logger.Info("signed in", slog.String("user_id", acct.ID), slog.String("role", acct.Role.String()))
			sess.AddFlash(shared.FlashMessage{Kind: "success", Message: "Welcome back, " + acct.FullName})
			http.Redirect(w, r, access.DefaultRoute(acct.Role), http.StatusSeeOther)
			return
		}
		errs["general"] = shared.UserSafeMessage(err)
	}
	form.Password = ""
	h.renderLogin(w, r, loginPageData{Form: form, Errors: errs}, http.StatusBadRequest)
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	h.service.SignOut(r.Context(), shared.SessionFromContext(r.Context()))
	http.Redirect(w, r, access.SignInRoute, http.StatusSeeOther)
}

func (h *Handler) showSetPassword(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	acct, err := h.service.AccountForInvite(r.Context(), token)
	if err != nil {
		h.renderSetPassword(w, r, setPasswordPageData{Errors: map[string]string{"general": shared.UserSafeMessage(invalidLink(err))}}, http.StatusBadRequest)
		return
	}
	h.renderSetPassword(w, r, setPasswordPageData{Token: token, Email: acct.Email}, http.StatusOK)
}

func (h *Handler) handleSetPassword(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	form := setPasswordForm{
		Token:    r.PostFormValue("token"),
		Password: r.PostFormValue("password"),
		Confirm:  r.PostFormValue("confirm"),
	}
	errs := validationErrors(h.validator.Struct(form))
	if len(errs) == 0 {
		acct, err := h.service.SetPassword(r.Context(), form.Token, form.Password)
		if err == nil {
			h.logger.Info("password set", slog.String("user_id", acct.ID))
			if sess := shared.SessionFromContext(r.Context()); sess != nil {
				sess.AddFlash(shared.FlashMessage{Kind: "success", Message: "Password saved. You can sign in now."})
			}
			http.Redirect(w, r, access.SignInRoute, http.StatusSeeOther)
			return
		}
		errs["general"] = shared.UserSafeMessage(invalidLink(err))
	}
	h.renderSetPassword(w, r, setPasswordPageData{Token: form.Token, Errors: errs}, http.StatusBadRequest)
}

func (h *Handler) renderLogin(w http.ResponseWriter, r *http.Request, data loginPageData, status int) {
	viewData := h.templates.Base(r, h.csrf, "Sign in")
	viewData.Data = data
	if err := h.templates.RenderStatus(w, status, "pages/login.html", viewData); err != nil {
		h.logger.Error("render login", slog.Any("error", err))
	}
}

func (h *Handler) renderSetPassword(w http.ResponseWriter, r *http.Request, data setPasswordPageData, status int) {
	viewData := h.templates.Base(r, h.csrf, "Set your password")
	viewData.Data = data
	if err := h.templates.RenderStatus(w, status, "pages/set_password.html", viewData); err != nil {
		h.logger.Error("render set password", slog.Any("error", err))
	}
}

func invalidLink(err error) error {
	if errors.Is(err, ErrInvalidToken) {
		return shared.Invalid("token", "This link is invalid or has expired. Ask an administrator for a new invitation.")
	}
	return err
}

func validationErrors(err error) map[string]string {
	errs := make(map[string]string)
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		for _, fieldErr := range verrs {
			errs[fieldErr.Field()] = fieldMessage(fieldErr)
		}
	} else if err != nil {
		errs["general"] = shared.UserSafeMessage(err)
	}
	return errs
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "This field is required."
	case "email":
		return "Enter a valid email address."
	case "min":
		return "Must be at least " + fe.Param() + " characters."
	case "eqfield":
		return "Passwords do not match."
	default:
		return "Invalid value."
	}
}
