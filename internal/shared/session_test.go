package shared

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSessions(t *testing.T) (*SessionManager, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewSessionManager(client, "tetbloom_session", time.Hour, false), mr
}

func requestWithCookie(name, value string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if value != "" {
		req.AddCookie(&http.Cookie{Name: name, Value: value})
	}
	return req
}

func TestSessionRoundTripThroughRedis(t *testing.T) {
	sm, mr := newTestSessions(t)
	ctx := context.Background()

	sess, err := sm.Load(ctx, requestWithCookie(sm.CookieName(), ""))
	require.NoError(t, err)
	sess.SetUser("user-1")
	sess.AddFlash(FlashMessage{Kind: "success", Message: "Welcome back"})

	rr := httptest.NewRecorder()
	require.NoError(t, sm.Commit(ctx, rr, sess))
	assert.True(t, mr.Exists(sessionKeyPrefix+sess.ID))
	assert.Contains(t, rr.Header().Get("Set-Cookie"), sess.ID)

	loaded, err := sm.Load(ctx, requestWithCookie(sm.CookieName(), sess.ID))
	require.NoError(t, err)
	assert.Equal(t, "user-1", loaded.UserID())
	assert.False(t, loaded.AuthenticatedAt().IsZero())
	flash := loaded.PopFlash()
	require.NotNil(t, flash)
	assert.Equal(t, "Welcome back", flash.Message)
	assert.Nil(t, loaded.PopFlash())
}

func TestSessionUnknownCookieStartsFresh(t *testing.T) {
	sm, _ := newTestSessions(t)

	sess, err := sm.Load(context.Background(), requestWithCookie(sm.CookieName(), "not-a-uuid"))
	require.NoError(t, err)
	assert.NotEqual(t, "not-a-uuid", sess.ID)
	assert.Empty(t, sess.UserID())

	sess, err = sm.Load(context.Background(), requestWithCookie(sm.CookieName(), "9b2f8f5e-3f57-4a43-9d7c-0d8f4f0a7c11"))
	require.NoError(t, err)
	assert.NotEqual(t, "9b2f8f5e-3f57-4a43-9d7c-0d8f4f0a7c11", sess.ID)
}

func TestSessionRenewDropsOldKey(t *testing.T) {
	sm, mr := newTestSessions(t)
	ctx := context.Background()

	sess, err := sm.Load(ctx, requestWithCookie(sm.CookieName(), ""))
	require.NoError(t, err)
	require.NoError(t, sm.Commit(ctx, httptest.NewRecorder(), sess))
	oldID := sess.ID

	loaded, err := sm.Load(ctx, requestWithCookie(sm.CookieName(), oldID))
	require.NoError(t, err)
	sm.Renew(loaded)
	loaded.SetUser("user-2")
	require.NoError(t, sm.Commit(ctx, httptest.NewRecorder(), loaded))

	assert.NotEqual(t, oldID, loaded.ID)
	assert.False(t, mr.Exists(sessionKeyPrefix+oldID))
	assert.True(t, mr.Exists(sessionKeyPrefix+loaded.ID))
}

func TestSessionDestroyExpiresCookie(t *testing.T) {
	sm, mr := newTestSessions(t)
	ctx := context.Background()

	sess, err := sm.Load(ctx, requestWithCookie(sm.CookieName(), ""))
	require.NoError(t, err)
	require.NoError(t, sm.Commit(ctx, httptest.NewRecorder(), sess))

	sm.Destroy(sess)
	rr := httptest.NewRecorder()
	require.NoError(t, sm.Commit(ctx, rr, sess))

	assert.False(t, mr.Exists(sessionKeyPrefix+sess.ID))
	assert.Contains(t, rr.Header().Get("Set-Cookie"), "Max-Age=0")
}

func TestSessionExpiresWithTTL(t *testing.T) {
	sm, mr := newTestSessions(t)
	ctx := context.Background()

	sess, err := sm.Load(ctx, requestWithCookie(sm.CookieName(), ""))
	require.NoError(t, err)
	sess.SetUser("user-3")
	require.NoError(t, sm.Commit(ctx, httptest.NewRecorder(), sess))

	mr.FastForward(2 * time.Hour)
	loaded, err := sm.Load(ctx, requestWithCookie(sm.CookieName(), sess.ID))
	require.NoError(t, err)
	assert.Empty(t, loaded.UserID())
}
