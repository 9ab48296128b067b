package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/desurestar/RSOD-project/internal/blogapi"
	"github.com/desurestar/RSOD-project/internal/config"
	"github.com/desurestar/RSOD-project/internal/domain"
	"github.com/desurestar/RSOD-project/internal/fakeapi"
	"github.com/desurestar/RSOD-project/pkg/health"
	"github.com/desurestar/RSOD-project/pkg/logger"
)

func testConfig(t *testing.T, srv *httptest.Server, environ map[string]string) *config.Config {
	t.Helper()
	if environ == nil {
		environ = map[string]string{}
	}
	environ["BLOG_API_BASE_URL"] = srv.URL + "/api/"
	environ["HTTP_MAX_RETRIES"] = "0"
	if _, ok := environ["TOKEN_STORE"]; !ok {
		environ["TOKEN_STORE"] = "memory"
	}
	cfg, err := config.LoadFrom(environ)
	require.NoError(t, err)
	return cfg
}

func newTestApp(t *testing.T, environ map[string]string) (*App, *fakeapi.Server) {
	t.Helper()
	api := fakeapi.New()
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)
	api.AddUser("alice", "secret-pass")

	a, err := New(context.Background(), testConfig(t, srv, environ), logger.Discard(), WithHTTPClient(srv.Client()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })
	return a, api
}

func TestApp_LoginRefreshAndLogout(t *testing.T) {
	a, api := newTestApp(t, nil)
	ctx := context.Background()
	api.AddPost(1, domain.Post{Title: "Soup"})

	_, err := a.Blog.Login(ctx, blogapi.Credentials{Username: "alice", Password: "secret-pass"})
	require.NoError(t, err)
	assert.True(t, a.Session.Authenticated())

	api.ExpireAccessTokens()
	require.NoError(t, a.Blog.Feed().Refresh(ctx))
	assert.Len(t, a.Blog.Feed().State().Items, 1)
	_, err = a.Blog.RefreshMe(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, api.Refreshes())

	require.NoError(t, a.Blog.Logout(ctx))
	stored, err := a.Store.Load(ctx)
	require.NoError(t, err)
	assert.True(t, stored.Empty())
}

func TestApp_ExpiredSessionResetsViews(t *testing.T) {
	a, api := newTestApp(t, nil)
	ctx := context.Background()

	_, err := a.Blog.Login(ctx, blogapi.Credentials{Username: "alice", Password: "secret-pass"})
	require.NoError(t, err)

	api.ExpireAccessTokens()
	api.RevokeRefreshTokens()
	_, err = a.Blog.RefreshMe(ctx)
	require.Error(t, err)

	_, ok := a.Blog.Me()
	assert.False(t, ok)
	assert.False(t, a.Session.Authenticated())
}

func TestApp_FileStoreRestoresSession(t *testing.T) {
	api := fakeapi.New()
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)
	api.AddUser("alice", "secret-pass")
	ctx := context.Background()

	environ := map[string]string{
		"TOKEN_STORE": "file",
		"TOKEN_FILE":  filepath.Join(t.TempDir(), "tokens.json"),
	}
	first, err := New(ctx, testConfig(t, srv, environ), logger.Discard(), WithHTTPClient(srv.Client()))
	require.NoError(t, err)
	_, err = first.Blog.Login(ctx, blogapi.Credentials{Username: "alice", Password: "secret-pass"})
	require.NoError(t, err)
	require.NoError(t, first.Shutdown(ctx))

	second, err := New(ctx, testConfig(t, srv, environ), logger.Discard(), WithHTTPClient(srv.Client()))
	require.NoError(t, err)
	defer func() { _ = second.Shutdown(ctx) }()
	assert.True(t, second.Session.Authenticated())

	me, err := second.Blog.RefreshMe(ctx)
	require.NoError(t, err)
	assert.Equal(t, "alice", me.Username)
}

func TestApp_RedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	api := fakeapi.New()
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)
	api.AddUser("alice", "secret-pass")
	ctx := context.Background()

	cfg := testConfig(t, srv, map[string]string{
		"TOKEN_STORE": "redis",
		"REDIS_HOST":  mr.Host(),
		"REDIS_PORT":  mr.Port(),
	})
	a, err := New(ctx, cfg, logger.Discard(), WithHTTPClient(srv.Client()))
	require.NoError(t, err)
	defer func() { _ = a.Shutdown(ctx) }()

	_, err = a.Blog.Login(ctx, blogapi.Credentials{Username: "alice", Password: "secret-pass"})
	require.NoError(t, err)
	assert.True(t, mr.Exists("blogsync:access_token"))
	assert.True(t, mr.Exists("blogsync:refresh_token"))

	assert.Equal(t, health.StatusUp, a.Health(ctx).Status)
	mr.Close()
	assert.Equal(t, health.StatusDown, a.Health(ctx).Status)
}

func TestApp_RedisUnreachable(t *testing.T) {
	api := fakeapi.New()
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	cfg := testConfig(t, srv, map[string]string{
		"TOKEN_STORE": "redis",
		"REDIS_HOST":  "127.0.0.1",
		"REDIS_PORT":  "1",
	})
	_, err := New(context.Background(), cfg, logger.Discard(), WithHTTPClient(srv.Client()))
	assert.Error(t, err)
}

func TestApp_OpsHandler(t *testing.T) {
	a, _ := newTestApp(t, nil)
	require.NoError(t, a.Blog.Feed().Refresh(context.Background()))
	h := a.OpsHandler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	var report health.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, health.StatusDegraded, report.Status, "anonymous session only degrades")
	assert.Contains(t, report.Checks, "session")
	assert.Contains(t, report.Checks, "blog_api")

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "blogsync_http_client_requests_total")
}

func TestApp_RunStopsOnCancel(t *testing.T) {
	a, _ := newTestApp(t, map[string]string{"METRICS_ADDR": "127.0.0.1:0"})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	cancel()
	assert.NoError(t, <-done)
}
