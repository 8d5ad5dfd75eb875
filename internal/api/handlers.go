// Quartermaster - Home Lab Control Plane
// Copyright 2026 Quartermaster contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/homelab-tools/quartermaster

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/homelab-tools/quartermaster/internal/auth"
	"github.com/homelab-tools/quartermaster/internal/config"
	"github.com/homelab-tools/quartermaster/internal/hub"
	"github.com/homelab-tools/quartermaster/internal/logging"
	"github.com/homelab-tools/quartermaster/internal/proxy"
	"github.com/homelab-tools/quartermaster/internal/store"
)

// ServiceOverridesCollection is the store collection holding runtime
// service config changes, keyed by service name. Applied on top of file
// config at startup.
const ServiceOverridesCollection = "service_overrides"

// Handler carries the dependencies of every route.
type Handler struct {
	cfg    *config.Config
	facade *proxy.Facade
	hub    *hub.Hub
	jwt    *auth.JWTManager
	creds  *auth.CredentialVerifier
	docs   store.Store
}

// NewHandler wires the handler. jwt and creds may be nil when the admin
// credentials are not configured, which leaves the API unauthenticated.
func NewHandler(cfg *config.Config, facade *proxy.Facade, h *hub.Hub, jwt *auth.JWTManager, creds *auth.CredentialVerifier, docs store.Store) *Handler {
	return &Handler{
		cfg:    cfg,
		facade: facade,
		hub:    h,
		jwt:    jwt,
		creds:  creds,
		docs:   docs,
	}
}

// Health reports reachability of every configured service, probed
// concurrently.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	results := h.facade.Registry().HealthCheckAll(r.Context())

	overall := "healthy"
	for _, s := range results {
		if s.Status == proxy.StatusUnhealthy {
			overall = "degraded"
			break
		}
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":   overall,
		"services": results,
	})
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Login verifies the admin credentials and issues a session token.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	if h.jwt == nil || h.creds == nil {
		respondError(w, http.StatusForbidden, "authentication is not configured")
		return
	}

	var req loginRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.creds.Verify(req.Username, req.Password); err != nil {
		logging.Warn().Str("username", req.Username).Msg("login failed")
		respondError(w, http.StatusUnauthorized, "invalid username or password")
		return
	}

	token, err := h.jwt.GenerateToken(req.Username, auth.RoleAdmin)
	if err != nil {
		logging.Error().Err(err).Msg("token generation failed")
		respondError(w, http.StatusInternalServerError, "failed to issue token")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"token":      token,
		"expires_at": time.Now().Add(h.jwt.SessionTimeout()).UTC().Format(time.RFC3339),
	})
}

// serviceView is the redacted service representation returned by the API.
// Credentials never leave the process.
type serviceView struct {
	Name       string `json:"name"`
	URL        string `json:"url"`
	Enabled    bool   `json:"enabled"`
	Auth       string `json:"auth"`
	MaxRetries int    `json:"max_retries"`
	CacheTTL   string `json:"cache_ttl"`
}

func viewOf(cfg config.ServiceConfig) serviceView {
	return serviceView{
		Name:       cfg.Name,
		URL:        cfg.URL,
		Enabled:    cfg.Enabled,
		Auth:       cfg.Auth,
		MaxRetries: cfg.MaxRetries,
		CacheTTL:   cfg.CacheTTL.String(),
	}
}

// ListServices returns the redacted config of every known service.
func (h *Handler) ListServices(w http.ResponseWriter, r *http.Request) {
	registry := h.facade.Registry()

	views := make([]serviceView, 0)
	for _, name := range registry.ServiceNames() {
		if cfg, ok := registry.Config(name); ok {
			views = append(views, viewOf(cfg))
		}
	}
	respondJSON(w, http.StatusOK, views)
}

// PatchService applies a partial config update to one service, swaps its
// client and persists the merged config so the change survives restarts.
func (h *Handler) PatchService(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	var patch proxy.ServicePatch
	if err := decodeBody(r, &patch); err != nil {
		respondError(w, http.StatusBadRequest, "invalid patch body")
		return
	}

	registry := h.facade.Registry()
	if err := registry.UpdateServiceConfig(name, patch); err != nil {
		respondProxyError(w, err)
		return
	}

	merged, _ := registry.Config(name)
	if err := h.docs.Put(r.Context(), ServiceOverridesCollection, name, merged); err != nil {
		logging.Error().Err(err).Str("service", name).Msg("failed to persist service override")
	}

	respondJSON(w, http.StatusOK, viewOf(merged))
}

// ClearCaches drops every service's response cache.
func (h *Handler) ClearCaches(w http.ResponseWriter, r *http.Request) {
	h.facade.Registry().ClearAllCaches()
	respondJSON(w, http.StatusNoContent, nil)
}

// CacheStats reports hit/miss/eviction counters per service.
func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.facade.Registry().CacheStatsAll())
}

// HubStats reports live WebSocket connection and channel counts.
func (h *Handler) HubStats(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"connections": h.hub.ConnectionCount(),
		"channels":    h.hub.ActiveChannels(),
	})
}

// WebSocket upgrades the request and hands the socket to the hub.
func (h *Handler) WebSocket(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		HandshakeTimeout: 10 * time.Second,
		CheckOrigin:      h.checkWebSocketOrigin,
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	h.hub.Accept(conn)
}

// checkWebSocketOrigin applies the CORS origin list to WebSocket
// handshakes. Requests without an Origin header are non-browser clients
// and are allowed; browsers always send one.
func (h *Handler) checkWebSocketOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.cfg.Security.CORSOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	logging.Warn().Str("origin", origin).Msg("websocket connection rejected from unauthorized origin")
	return false
}
