package view

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tetbloom/tetbloom/internal/access"
	"github.com/tetbloom/tetbloom/internal/shared"
)

func TestNewEngine(t *testing.T) {
	engine, err := NewEngine(nil, nil)
	assert.NoError(t, err, "Templates should parse without error")
	assert.NotNil(t, engine)
}

func TestBaseCarriesNavigationForRole(t *testing.T) {
	engine, err := NewEngine(nil, nil)
	require.NoError(t, err)

	sess := access.AuthenticatedSession(access.User{ID: "u-1", Email: "leader@example.com", Role: "principal", FullName: "Lee Leader"})
	req := httptest.NewRequest(http.MethodGet, "/administrator/groups", nil)
	ctx := access.ContextWithSession(req.Context(), sess)
	ctx = shared.ContextWithSession(ctx, &shared.Session{ID: "s-1"})
	req = req.WithContext(ctx)

	data := engine.Base(req, shared.NewCSRFManager("secret"), "Groups")
	assert.Equal(t, access.RoleAdministrator, data.Role)
	assert.Equal(t, "/administrator", data.Home)
	assert.NotEmpty(t, data.CSRFToken)
	require.NotEmpty(t, data.Nav)
	assert.Equal(t, "/administrator", data.Nav[0].Path)
	assert.True(t, data.Can("manage_groups"))
	assert.False(t, data.Can("manage_users"))
}

func TestRenderLayoutMarksActiveEntry(t *testing.T) {
	engine, err := NewEngine(nil, nil)
	require.NoError(t, err)

	sess := access.AuthenticatedSession(access.User{ID: "u-1", Role: access.RoleTeacher, FullName: "Tia Teacher"})
	req := httptest.NewRequest(http.MethodGet, "/teacher/help", nil)
	req = req.WithContext(access.ContextWithSession(req.Context(), sess))

	rr := httptest.NewRecorder()
	require.NoError(t, engine.Render(rr, "pages/help.html", engine.Base(req, nil, "Help & Docs")))

	body := rr.Body.String()
	assert.Contains(t, body, "Tia Teacher")
	assert.Contains(t, body, `href="/teacher/observations"`)
	assert.NotContains(t, body, `href="/super/users"`)
	assert.Equal(t, 1, strings.Count(body, `aria-current="page"`))
}

func TestBaseAnonymous(t *testing.T) {
	engine, err := NewEngine(nil, nil)
	require.NoError(t, err)

	data := engine.Base(httptest.NewRequest(http.MethodGet, "/login", nil), nil, "Sign in")
	assert.Nil(t, data.User)
	assert.Empty(t, data.Nav)
	assert.False(t, data.Can("view_reports"))
}

func TestActiveEntryPrefersMostSpecific(t *testing.T) {
	nav := access.DefaultRegistry().NavigationFor(access.RoleAdministrator)
	cases := map[string]string{
		"/administrator":                       "/administrator",
		"/administrator/observations":          "/administrator/observations",
		"/administrator/observations/abc":      "/administrator/observations",
		"/administrator/observations/schedule": "/administrator/observations/schedule",
		"/administrator/groups/new":            "/administrator/groups",
		"/administrator/unknown":               "",
	}
	for path, want := range cases {
		assert.Equal(t, want, activeEntry(nav, path), path)
	}
}

func TestFormatDateUsesSchoolZone(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	engine, err := NewEngine(nil, loc)
	require.NoError(t, err)

	typed, err := time.ParseInLocation("2006-01-02 15:04", "2026-03-10 09:00", loc)
	require.NoError(t, err)
	stored := typed.UTC()

	tpl, err := engine.templates.New("zone").Parse(`{{formatDate .}}|{{formatDay .}}`)
	require.NoError(t, err)
	var b strings.Builder
	require.NoError(t, tpl.Execute(&b, stored))
	assert.Equal(t, "10 Mar 2026 09:00|Tue 10 Mar 2026", b.String())
}

func TestFormatCalendarDayKeepsStoredDate(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	engine, err := NewEngine(nil, loc)
	require.NoError(t, err)

	due := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	tpl, err := engine.templates.New("calendar").Parse(`{{formatCalendarDay .}}`)
	require.NoError(t, err)
	var b strings.Builder
	require.NoError(t, tpl.Execute(&b, due))
	assert.Equal(t, "Tue 10 Mar 2026", b.String())
}
