package lessonplans

import (
	"bytes"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tetbloom/tetbloom/internal/access"
	"github.com/tetbloom/tetbloom/internal/view"
)

func newTestRouter(t *testing.T, sess access.Session) (http.Handler, *memRepo) {
	t.Helper()
	svc, repo, _ := newTestService()
	templates, err := view.NewEngine(nil, nil)
	require.NoError(t, err)
	h := NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), svc, templates, nil, access.Middleware{})
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(access.ContextWithSession(req.Context(), sess)))
		})
	})
	r.Route(access.DefaultRoute(sess.Role())+"/lesson-plans", h.MountRoutes)
	return r, repo
}

func multipartBody(t *testing.T, fields map[string]string, fileName string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if fileName != "" {
		fw, err := mw.CreateFormFile("file", fileName)
		require.NoError(t, err)
		_, err = fw.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestCreateUploadAndDownload(t *testing.T) {
	router, repo := newTestRouter(t, teacherSess)
	body, ctype := multipartBody(t, map[string]string{"title": "Poetry unit", "due_date": "2026-03-09"}, "poetry.pdf", []byte("%PDF-1.7 poems"))
	req := httptest.NewRequest(http.MethodPost, "/teacher/lesson-plans/new", body)
	req.Header.Set("Content-Type", ctype)
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusSeeOther, rr.Code)
	location := rr.Header().Get("Location")
	require.True(t, strings.HasPrefix(location, "/teacher/lesson-plans/"))
	id := strings.TrimPrefix(location, "/teacher/lesson-plans/")
	stored, err := repo.Get(req.Context(), id)
	require.NoError(t, err)
	assert.Equal(t, StatusSubmitted, stored.Status)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, location+"/document", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/pdf", rr.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename=poetry.pdf`, rr.Header().Get("Content-Disposition"))
	assert.Equal(t, "%PDF-1.7 poems", rr.Body.String())

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, location, nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "Poetry unit")
	assert.Contains(t, rr.Body.String(), "Mon 09 Mar 2026")
}

func TestCreateRejectsWrongFileType(t *testing.T) {
	router, repo := newTestRouter(t, teacherSess)
	body, ctype := multipartBody(t, map[string]string{"title": "Poetry unit"}, "poetry.exe", []byte("MZ"))
	req := httptest.NewRequest(http.MethodPost, "/teacher/lesson-plans/new", body)
	req.Header.Set("Content-Type", ctype)
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "Upload a PDF or Word document.")
	assert.Empty(t, repo.items)
}

func TestAdministratorCannotOpenNewForm(t *testing.T) {
	router, _ := newTestRouter(t, leaderSess)
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/administrator/lesson-plans/new", nil))

	assert.Equal(t, http.StatusSeeOther, rr.Code)
	assert.Equal(t, "/administrator", rr.Header().Get("Location"))
}
