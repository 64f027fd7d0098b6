package auth_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/tetbloom/tetbloom/internal/access"
	"github.com/tetbloom/tetbloom/internal/auth"
	"github.com/tetbloom/tetbloom/internal/shared"
	"github.com/tetbloom/tetbloom/internal/view"
	_ "github.com/tetbloom/tetbloom/testing"
)

type stubRepo struct {
	mu        sync.Mutex
	accounts  map[string]*auth.Account
	sessions  map[string]string
	passwords map[string]string
	block     bool
}

func newStubRepo(accounts ...*auth.Account) *stubRepo {
	repo := &stubRepo{
		accounts:  make(map[string]*auth.Account),
		sessions:  make(map[string]string),
		passwords: make(map[string]string),
	}
	for _, a := range accounts {
		repo.accounts[a.ID] = a
	}
	return repo
}

func (s *stubRepo) FindByEmail(ctx context.Context, email string) (*auth.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.accounts {
		if strings.EqualFold(a.Email, email) {
			copied := *a
			return &copied, nil
		}
	}
	return nil, shared.ErrNotFound
}

func (s *stubRepo) FindByID(ctx context.Context, id string) (*auth.Account, error) {
	if s.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.accounts[id]; ok {
		copied := *a
		return &copied, nil
	}
	return nil, shared.ErrNotFound
}

func (s *stubRepo) CreateSession(ctx context.Context, id, userID string, expiresAt time.Time, ip, ua string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[id] = userID
	return nil
}

func (s *stubRepo) DeleteSession(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}

func (s *stubRepo) SetPassword(ctx context.Context, userID, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[userID]
	if !ok {
		return shared.ErrNotFound
	}
	a.PasswordHash = hash
	s.passwords[userID] = hash
	return nil
}

type fixture struct {
	handler  *auth.Handler
	service  *auth.Service
	sessions *shared.SessionManager
	tokens   *auth.InviteTokens
	repo     *stubRepo
}

func newFixture(t *testing.T, repo *stubRepo) fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	sessions := shared.NewSessionManager(client, "test_session", time.Hour, false)
	tokens := auth.NewInviteTokens("invite-secret", time.Hour)
	service := auth.NewService(auth.ServiceConfig{Repo: repo, Sessions: sessions, Tokens: tokens, LookupTimeout: 50 * time.Millisecond})
	templates, err := view.NewEngine(nil, nil)
	require.NoError(t, err)
	handler := auth.NewHandler(nil, service, templates, shared.NewCSRFManager("csrfsecret"), nil)
	return fixture{handler: handler, service: service, sessions: sessions, tokens: tokens, repo: repo}
}

// serve runs req through the auth routes with a loaded cookie session.
func (f fixture) serve(t *testing.T, req *http.Request, sess *shared.Session) (*httptest.ResponseRecorder, *shared.Session) {
	t.Helper()
	if sess == nil {
		var err error
		sess, err = f.sessions.Load(req.Context(), req)
		require.NoError(t, err)
	}
	req = req.WithContext(shared.ContextWithSession(req.Context(), sess))
	router := chiRouter(f.handler)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr, sess
}

func hashed(t *testing.T, password string) string {
	t.Helper()
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return string(h)
}

func leader(t *testing.T) *auth.Account {
	return &auth.Account{ID: "u-2", Email: "leader@example.com", FullName: "Lee Leader", Role: "principal", PasswordHash: hashed(t, "correct-horse"), IsActive: true}
}

func postForm(path string, values url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(values.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func TestLoginPage(t *testing.T) {
	f := newFixture(t, newStubRepo())

	rr, _ := f.serve(t, httptest.NewRequest(http.MethodGet, "/login", nil), nil)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "<form")
}

func TestLoginInvalidCredentials(t *testing.T) {
	f := newFixture(t, newStubRepo(leader(t)))

	rr, sess := f.serve(t, postForm("/login", url.Values{"email": {"leader@example.com"}, "password": {"wrong-password"}}), nil)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "Invalid email or password.")
	assert.Empty(t, sess.UserID())
}

func TestLoginRedirectsToRoleHome(t *testing.T) {
	f := newFixture(t, newStubRepo(leader(t)))
	req := postForm("/login", url.Values{"email": {"Leader@Example.com"}, "password": {"correct-horse"}})

	rr, sess := f.serve(t, req, nil)

	assert.Equal(t, http.StatusSeeOther, rr.Code)
	assert.Equal(t, "/administrator", rr.Header().Get("Location"))
	assert.Equal(t, "u-2", sess.UserID())
	assert.Equal(t, "u-2", f.repo.sessions[sess.ID])
}

func TestLoginPageRedirectsSignedInUser(t *testing.T) {
	f := newFixture(t, newStubRepo(leader(t)))
	sess := &shared.Session{ID: "s-1"}
	sess.SetUser("u-2")

	rr, _ := f.serve(t, httptest.NewRequest(http.MethodGet, "/login", nil), sess)

	assert.Equal(t, http.StatusSeeOther, rr.Code)
	assert.Equal(t, "/administrator", rr.Header().Get("Location"))
}

func TestLogoutClearsSession(t *testing.T) {
	f := newFixture(t, newStubRepo(leader(t)))
	sess := &shared.Session{ID: "s-1"}
	sess.SetUser("u-2")
	f.repo.sessions["s-1"] = "u-2"

	rr, _ := f.serve(t, httptest.NewRequest(http.MethodPost, "/logout", nil), sess)

	assert.Equal(t, http.StatusSeeOther, rr.Code)
	assert.Equal(t, "/login", rr.Header().Get("Location"))
	assert.Empty(t, sess.UserID())
	assert.NotContains(t, f.repo.sessions, "s-1")
}

func TestSetPasswordFlow(t *testing.T) {
	acct := &auth.Account{ID: "u-9", Email: "new@example.com", FullName: "New Teacher", Role: access.RoleTeacher, IsActive: true}
	f := newFixture(t, newStubRepo(acct))
	token, err := f.tokens.Issue("u-9")
	require.NoError(t, err)

	rr, _ := f.serve(t, httptest.NewRequest(http.MethodGet, "/auth/set-password?token="+url.QueryEscape(token), nil), nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "new@example.com")

	rr, _ = f.serve(t, postForm("/auth/set-password", url.Values{"token": {token}, "password": {"s3cret-pass"}, "confirm": {"other-pass"}}), nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "Passwords do not match.")

	rr, _ = f.serve(t, postForm("/auth/set-password", url.Values{"token": {token}, "password": {"s3cret-pass"}, "confirm": {"s3cret-pass"}}), nil)
	assert.Equal(t, http.StatusSeeOther, rr.Code)
	require.NotEmpty(t, f.repo.passwords["u-9"])

	_, err = f.service.Authenticate(context.Background(), "new@example.com", "s3cret-pass")
	assert.NoError(t, err)
}

func TestSetPasswordRejectsBadToken(t *testing.T) {
	f := newFixture(t, newStubRepo())

	rr, _ := f.serve(t, httptest.NewRequest(http.MethodGet, "/auth/set-password?token=garbage", nil), nil)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "invalid or has expired")
}

func TestAPISessionReportsState(t *testing.T) {
	f := newFixture(t, newStubRepo(leader(t)))

	rr, _ := f.serve(t, httptest.NewRequest(http.MethodGet, "/api/session", nil), nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var anon access.Session
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &anon))
	assert.False(t, anon.IsAuthenticated)
	assert.Nil(t, anon.User)
	assert.NotEmpty(t, rr.Header().Get(shared.CSRFHeader))

	sess := &shared.Session{ID: "s-2"}
	sess.SetUser("u-2")
	rr, _ = f.serve(t, httptest.NewRequest(http.MethodGet, "/api/session", nil), sess)
	var signedIn access.Session
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &signedIn))
	assert.True(t, signedIn.IsAuthenticated)
	require.NotNil(t, signedIn.User)
	assert.Equal(t, access.RoleAdministrator, signedIn.User.Role)
}

func TestAPISignInAndNavigation(t *testing.T) {
	f := newFixture(t, newStubRepo(leader(t)))

	req := httptest.NewRequest(http.MethodPost, "/api/session", strings.NewReader(`{"email":"leader@example.com","password":"nope-nope"}`))
	rr, _ := f.serve(t, req, nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Contains(t, rr.Body.String(), `"error"`)

	req = httptest.NewRequest(http.MethodPost, "/api/session", strings.NewReader(`{"email":"leader@example.com","password":"correct-horse"}`))
	rr, sess := f.serve(t, req, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "u-2", sess.UserID())
	token := rr.Header().Get(shared.CSRFHeader)
	require.NotEmpty(t, token)
	assert.Equal(t, token, sess.Get(shared.CSRFSessionKey))

	rr, _ = f.serve(t, httptest.NewRequest(http.MethodGet, "/api/navigation", nil), sess)
	require.Equal(t, http.StatusOK, rr.Code)
	var nav struct {
		Role        string                   `json:"role"`
		Home        string                   `json:"home"`
		Navigation  []access.NavigationEntry `json:"navigation"`
		Permissions []string                 `json:"permissions"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &nav))
	assert.Equal(t, "administrator", nav.Role)
	assert.Equal(t, "/administrator", nav.Home)
	assert.Len(t, nav.Navigation, 6)
	assert.Contains(t, nav.Permissions, "manage_groups")
	assert.NotContains(t, nav.Permissions, "manage_users")
}

func TestAPINavigationRequiresSignIn(t *testing.T) {
	f := newFixture(t, newStubRepo())

	rr, _ := f.serve(t, httptest.NewRequest(http.MethodGet, "/api/navigation", nil), nil)

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}
