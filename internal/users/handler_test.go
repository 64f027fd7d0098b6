package users

import (
	"bytes"
	"context"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tetbloom/tetbloom/internal/access"
	"github.com/tetbloom/tetbloom/internal/platform/cache"
	"github.com/tetbloom/tetbloom/internal/view"
)

func newTestHandler(t *testing.T) (http.Handler, *cache.Store) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	store := cache.NewStore(client, "test:import:")

	engine, err := view.NewEngine(nil, nil)
	require.NoError(t, err)
	svc, _, _, _ := newTestService(superUser())
	h := NewHandler(nil, svc, engine, nil, store, "/super/users")

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess := access.AuthenticatedSession(access.User{ID: superID, Email: "super@example.com", FullName: "Sue Per", Role: access.RoleSuperUser})
			next.ServeHTTP(w, r.WithContext(access.ContextWithSession(r.Context(), sess)))
		})
	})
	r.Route("/super/users", h.MountRoutes)
	return r, store
}

func TestTemplateDownloads(t *testing.T) {
	router, _ := newTestHandler(t)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/super/users/import/template.csv", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Disposition"), "user-import-template.csv")
	assert.Contains(t, rr.Body.String(), "email,name,role,subject,grade,notes")

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/super/users/import/template.xlsx", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, bytes.HasPrefix(rr.Body.Bytes(), []byte("PK")), "xlsx is a zip archive")
}

func TestUploadStoresErrorReport(t *testing.T) {
	router, store := newTestHandler(t)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "staff.csv")
	require.NoError(t, err)
	_, _ = part.Write([]byte("email,name,role\nok@example.com,Okay,teacher\nbad@example.com,Bad,janitor\n"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/super/users/import", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "errors.csv")

	// The rendered page links to the stored report; find it through the store.
	keys := storedKeys(t, store)
	require.Len(t, keys, 1)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/super/users/import/"+keys[0]+"/errors.csv", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "bad@example.com")
	assert.NotContains(t, rr.Body.String(), "ok@example.com")
}

func TestExpiredErrorReport(t *testing.T) {
	router, _ := newTestHandler(t)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/super/users/import/missing/errors.csv", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestUploadRejectsUnsupportedFile(t *testing.T) {
	router, _ := newTestHandler(t)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "staff.pdf")
	require.NoError(t, err)
	_, _ = part.Write([]byte("%PDF"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/super/users/import", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "Upload a .csv or .xlsx file.")
}

func TestListRendersUsers(t *testing.T) {
	router, _ := newTestHandler(t)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/super/users?q=sue", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "super@example.com")
}

func storedKeys(t *testing.T, store *cache.Store) []string {
	t.Helper()
	keys, err := store.Keys(context.Background())
	require.NoError(t, err)
	return keys
}
