package auth_test

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tetbloom/tetbloom/internal/auth"
)

func chiRouter(h *auth.Handler) http.Handler {
	r := chi.NewRouter()
	h.MountRoutes(r)
	r.Route("/api", h.MountAPI)
	return r
}
