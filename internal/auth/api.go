package auth

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tetbloom/tetbloom/internal/access"
	"github.com/tetbloom/tetbloom/internal/platform/httpx"
	"github.com/tetbloom/tetbloom/internal/shared"
)

// MountAPI registers the JSON session endpoints under /api.
func (h *Handler) MountAPI(r chi.Router) {
	r.Get("/session", h.apiSession)
	r.Post("/session", h.apiSignIn)
	r.Delete("/session", h.apiSignOut)
	r.Get("/navigation", h.apiNavigation)
}

type signInRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type signInResponse struct {
	Error   string          `json:"error,omitempty"`
	Session *access.Session `json:"session,omitempty"`
}

type navigationResponse struct {
	Role        access.Role              `json:"role"`
	Home        string                   `json:"home"`
	Navigation  []access.NavigationEntry `json:"navigation"`
	Permissions []access.Permission      `json:"permissions"`
}

// apiSession always answers 200 with the current session, loading included.
func (h *Handler) apiSession(w http.ResponseWriter, r *http.Request) {
	if sess := shared.SessionFromContext(r.Context()); sess != nil && h.csrf != nil {
		if token, err := h.csrf.EnsureToken(sess); err == nil {
			w.Header().Set(shared.CSRFHeader, token)
		}
	}
	w.Header().Set("Cache-Control", "no-store")
	httpx.JSON(w, http.StatusOK, h.current(r))
}

func (h *Handler) apiSignIn(w http.ResponseWriter, r *http.Request) {
	var req signInRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.JSON(w, http.StatusBadRequest, signInResponse{Error: "Email and password are required."})
		return
	}
	cookie := shared.SessionFromContext(r.Context())
	acct, err := h.service.SignIn(r.Context(), cookie, req.Email, req.Password, r.RemoteAddr, r.UserAgent())
	if err != nil {
		status := httpx.StatusFor(err)
		if status == http.StatusInternalServerError {
			h.logger.Error("api sign in", slog.Any("error", err))
		}
		httpx.JSON(w, status, signInResponse{Error: shared.UserSafeMessage(err)})
		return
	}
	if h.csrf != nil {
		if token, err := h.csrf.EnsureToken(cookie); err == nil {
			w.Header().Set(shared.CSRFHeader, token)
		}
	}
	sess := access.AuthenticatedSession(acct.AccessUser())
	httpx.JSON(w, http.StatusOK, signInResponse{Session: &sess})
}

func (h *Handler) apiSignOut(w http.ResponseWriter, r *http.Request) {
	h.service.SignOut(r.Context(), shared.SessionFromContext(r.Context()))
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) apiNavigation(w http.ResponseWriter, r *http.Request) {
	sess := h.current(r)
	if sess.IsLoading {
		w.Header().Set("Retry-After", "1")
		httpx.Problem(w, http.StatusServiceUnavailable, "Loading", "session is still loading")
		return
	}
	if !sess.IsAuthenticated {
		httpx.RespondError(w, access.ErrUnauthenticated)
		return
	}
	role := sess.Role()
	httpx.JSON(w, http.StatusOK, navigationResponse{
		Role:        role,
		Home:        access.DefaultRoute(role),
		Navigation:  h.resolver.Navigation(sess),
		Permissions: h.resolver.Permissions(sess),
	})
}
