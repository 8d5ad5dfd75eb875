// Quartermaster - Home Lab Control Plane
// Copyright 2026 Quartermaster contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/homelab-tools/quartermaster

package api

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/homelab-tools/quartermaster/internal/auth"
	"github.com/homelab-tools/quartermaster/internal/config"
	"github.com/homelab-tools/quartermaster/internal/hub"
	"github.com/homelab-tools/quartermaster/internal/logging"
	"github.com/homelab-tools/quartermaster/internal/proxy"
	"github.com/homelab-tools/quartermaster/internal/store"
)

//nolint:gochecknoinits // keep test output clean
func init() {
	logging.Init(logging.Config{Level: "error", Format: "json", Output: io.Discard})
}

const (
	testSecret   = "0123456789abcdef0123456789abcdef"
	testPassword = "correct horse battery"
)

type testEnv struct {
	handler *Handler
	router  http.Handler
	jwt     *auth.JWTManager
	hub     *hub.Hub
	docs    *store.BadgerStore
}

func newTestEnv(t *testing.T, services ...config.ServiceConfig) *testEnv {
	t.Helper()

	hash, err := auth.HashPassword(testPassword)
	require.NoError(t, err)

	cfg := &config.Config{
		Security: config.SecurityConfig{
			JWTSecret:         testSecret,
			SessionTimeout:    time.Hour,
			AdminUsername:     "admin",
			AdminPasswordHash: hash,
			CORSOrigins:       []string{"*"},
		},
		WebSocket: config.WebSocketConfig{
			HeartbeatInterval: time.Minute,
			SendBufferSize:    16,
		},
		Services: services,
	}

	jwtManager, err := auth.NewJWTManager(&cfg.Security)
	require.NoError(t, err)
	creds, err := auth.NewCredentialVerifier(&cfg.Security)
	require.NoError(t, err)

	docs, err := store.Open(config.StoreConfig{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = docs.Close() })

	h := hub.New(cfg.WebSocket, jwtManager)
	facade := proxy.NewFacade(proxy.NewRegistry(services))

	handler := NewHandler(cfg, facade, h, jwtManager, creds, docs)
	return &testEnv{
		handler: handler,
		router:  handler.Router(),
		jwt:     jwtManager,
		hub:     h,
		docs:    docs,
	}
}

func (e *testEnv) token(t *testing.T) string {
	t.Helper()
	token, err := e.jwt.GenerateToken("admin", auth.RoleAdmin)
	require.NoError(t, err)
	return token
}

func (e *testEnv) request(t *testing.T, method, target, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, target, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func enabledService(name, baseURL string) config.ServiceConfig {
	return config.ServiceConfig{
		Name:     name,
		URL:      baseURL,
		Enabled:  true,
		Auth:     config.AuthNone,
		Timeout:  5 * time.Second,
		CacheTTL: time.Minute,
	}
}

func TestLoginIssuesUsableToken(t *testing.T) {
	env := newTestEnv(t)

	rec := env.request(t, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"username": "admin",
		"password": testPassword,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp["token"])
	require.NotEmpty(t, resp["expires_at"])

	services := env.request(t, http.MethodGet, "/api/v1/services", resp["token"], nil)
	assert.Equal(t, http.StatusOK, services.Code)
}

func TestLoginRejectsBadPassword(t *testing.T) {
	env := newTestEnv(t)

	rec := env.request(t, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"username": "admin",
		"password": "wrong",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	env := newTestEnv(t)

	for _, target := range []string{"/api/v1/services", "/api/v1/cache/stats", "/api/v1/downloads"} {
		rec := env.request(t, http.MethodGet, target, "", nil)
		assert.Equalf(t, http.StatusUnauthorized, rec.Code, "route %s must be protected", target)
	}
}

func TestHealthIsOpenAndAggregates(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	env := newTestEnv(t,
		enabledService(config.ServiceMedia, upstream.URL),
		config.ServiceConfig{Name: config.ServiceIndexer, Enabled: false},
	)

	rec := env.request(t, http.MethodGet, "/api/v1/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Status   string                        `json:"status"`
		Services map[string]proxy.HealthStatus `json:"services"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, proxy.StatusHealthy, resp.Services[config.ServiceMedia].Status)
	assert.Equal(t, proxy.StatusDisabled, resp.Services[config.ServiceIndexer].Status)
}

func TestListServicesRedactsCredentials(t *testing.T) {
	svc := enabledService(config.ServiceDownloader, "http://qbittorrent:8080")
	svc.Auth = config.AuthBasic
	svc.Username = "admin"
	svc.Password = "hunter2"
	env := newTestEnv(t, svc)

	rec := env.request(t, http.MethodGet, "/api/v1/services", env.token(t), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "hunter2")
	assert.Contains(t, rec.Body.String(), config.ServiceDownloader)
}

func TestPatchServicePersistsOverride(t *testing.T) {
	env := newTestEnv(t, enabledService(config.ServiceMedia, "http://jellyfin:8096"))

	rec := env.request(t, http.MethodPatch, "/api/v1/services/"+config.ServiceMedia, env.token(t), map[string]interface{}{
		"url": "http://jellyfin-new:8096",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var view serviceView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, "http://jellyfin-new:8096", view.URL)

	var stored config.ServiceConfig
	require.NoError(t, env.docs.Get(t.Context(), ServiceOverridesCollection, config.ServiceMedia, &stored))
	assert.Equal(t, "http://jellyfin-new:8096", stored.URL)
}

func TestPatchUnknownServiceIs404(t *testing.T) {
	env := newTestEnv(t)

	rec := env.request(t, http.MethodPatch, "/api/v1/services/unknown", env.token(t), map[string]interface{}{
		"enabled": false,
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDomainPassthroughAndErrorMapping(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v2/torrents/info":
			_, _ = w.Write([]byte(`[{"hash":"abc","progress":0.5}]`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer upstream.Close()

	env := newTestEnv(t, enabledService(config.ServiceDownloader, upstream.URL))
	token := env.token(t)

	t.Run("payload passes through unchanged", func(t *testing.T) {
		rec := env.request(t, http.MethodGet, "/api/v1/downloads", token, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `[{"hash":"abc","progress":0.5}]`, rec.Body.String())
	})

	t.Run("upstream client error passes through", func(t *testing.T) {
		rec := env.request(t, http.MethodPost, "/api/v1/downloads/abc/pause", token, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("unconfigured service maps to 404", func(t *testing.T) {
		rec := env.request(t, http.MethodGet, "/api/v1/containers", token, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestServerErrorMapsToBadGateway(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer upstream.Close()

	svc := enabledService(config.ServiceContainers, upstream.URL)
	svc.MaxRetries = 1
	svc.RetryBaseDelay = time.Millisecond
	env := newTestEnv(t, svc)

	rec := env.request(t, http.MethodGet, "/api/v1/containers", env.token(t), nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestCacheLifecycleEndpoints(t *testing.T) {
	var hits int
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		_, _ = w.Write([]byte(`{"results":[]}`))
	}))
	defer upstream.Close()

	env := newTestEnv(t, enabledService(config.ServiceMetadata, upstream.URL))
	token := env.token(t)

	// Two identical reads, one upstream hit.
	require.Equal(t, http.StatusOK, env.request(t, http.MethodGet, "/api/v1/media/trending", token, nil).Code)
	require.Equal(t, http.StatusOK, env.request(t, http.MethodGet, "/api/v1/media/trending", token, nil).Code)
	assert.Equal(t, 1, hits)

	stats := env.request(t, http.MethodGet, "/api/v1/cache/stats", token, nil)
	require.Equal(t, http.StatusOK, stats.Code)
	var parsed map[string]proxy.CacheStats
	require.NoError(t, json.Unmarshal(stats.Body.Bytes(), &parsed))
	assert.Equal(t, int64(1), parsed[config.ServiceMetadata].Hits)

	require.Equal(t, http.StatusNoContent, env.request(t, http.MethodDelete, "/api/v1/cache", token, nil).Code)

	require.Equal(t, http.StatusOK, env.request(t, http.MethodGet, "/api/v1/media/trending", token, nil).Code)
	assert.Equal(t, 2, hits, "cleared cache must refetch")
}

func TestRequestValidation(t *testing.T) {
	env := newTestEnv(t, enabledService(config.ServiceDownloader, "http://qbittorrent:8080"))
	token := env.token(t)

	t.Run("missing magnet", func(t *testing.T) {
		rec := env.request(t, http.MethodPost, "/api/v1/downloads", token, map[string]string{})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("missing search query", func(t *testing.T) {
		rec := env.request(t, http.MethodGet, "/api/v1/media/search", token, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown container action", func(t *testing.T) {
		rec := env.request(t, http.MethodPost, "/api/v1/containers/abc/teleport", token, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("bad tail parameter", func(t *testing.T) {
		rec := env.request(t, http.MethodGet, "/api/v1/containers/abc/logs?tail=-3", token, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestWebSocketUpgradeAndProtocol(t *testing.T) {
	env := newTestEnv(t)
	server := httptest.NewServer(env.router)
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	ws, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer func() { _ = ws.Close() }()
	defer resp.Body.Close()

	var connected hub.Envelope
	require.NoError(t, ws.ReadJSON(&connected))
	assert.Equal(t, hub.TypeSystem, connected.Type)
	assert.Equal(t, hub.EventConnected, connected.Event)

	// Authenticate in-protocol with a real token, then join a protected
	// channel.
	token := env.token(t)
	require.NoError(t, ws.WriteJSON(map[string]string{"type": "auth", "userId": "admin", "token": token}))

	var authed hub.Envelope
	require.NoError(t, ws.ReadJSON(&authed))
	assert.Equal(t, hub.TypeAuth, authed.Type)
	assert.Equal(t, hub.EventAuthenticated, authed.Event)

	require.NoError(t, ws.WriteJSON(map[string]string{"type": "subscribe", "channel": "downloads:admin"}))

	var subscribed hub.Envelope
	require.NoError(t, ws.ReadJSON(&subscribed))
	assert.Equal(t, hub.EventSubscribed, subscribed.Event)
}
