// Quartermaster - Home Lab Control Plane
// Copyright 2026 Quartermaster contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/homelab-tools/quartermaster

package proxy

import (
	"context"
	"sync"
	"time"

	"github.com/homelab-tools/quartermaster/internal/config"
	"github.com/homelab-tools/quartermaster/internal/logging"
)

// Health status values reported by HealthCheckAll.
const (
	StatusHealthy      = "healthy"
	StatusUnhealthy    = "unhealthy"
	StatusDisabled     = "disabled"
	StatusUnconfigured = "unconfigured"
)

// HealthStatus is one service's entry in the aggregate health report.
type HealthStatus struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// probeTimeout bounds each individual health probe so one slow service
// cannot delay the aggregate result.
const probeTimeout = 5 * time.Second

// Registry owns the set of configured upstream services and their clients.
// It is created once at the composition root and passed by reference to
// anything needing proxy access; there is no ambient global lookup.
type Registry struct {
	mu      sync.RWMutex
	configs map[string]config.ServiceConfig
	clients map[string]Caller
}

// NewRegistry builds clients for every enabled service config. Disabled or
// misconfigured entries are skipped and logged, never fatal.
func NewRegistry(configs []config.ServiceConfig) *Registry {
	r := &Registry{
		configs: make(map[string]config.ServiceConfig, len(configs)),
		clients: make(map[string]Caller, len(configs)),
	}

	for i := range configs {
		cfg := configs[i]
		r.configs[cfg.Name] = cfg

		if !cfg.Enabled {
			logging.Info().Str("service", cfg.Name).Msg("service disabled, skipping client")
			continue
		}
		if cfg.URL == "" {
			logging.Warn().Str("service", cfg.Name).Msg("service enabled but has no URL, skipping client")
			continue
		}

		r.clients[cfg.Name] = NewBreakerClient(NewClient(&cfg))
		logging.Info().
			Str("service", cfg.Name).
			Str("auth", cfg.Auth).
			Int("max_retries", cfg.MaxRetries).
			Dur("timeout", cfg.Timeout).
			Msg("registered upstream service")
	}

	return r
}

// Client returns the client for a service name. ErrServiceNotFound means
// the name was never configured; ErrServiceUnavailable means it is known
// but disabled or misconfigured.
func (r *Registry) Client(name string) (Caller, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if client, ok := r.clients[name]; ok {
		return client, nil
	}
	if _, known := r.configs[name]; known {
		return nil, ErrServiceUnavailable
	}
	return nil, ErrServiceNotFound
}

// ServiceNames returns the names of all configured services, enabled or not.
func (r *Registry) ServiceNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.configs))
	for name := range r.configs {
		names = append(names, name)
	}
	return names
}

// Config returns a copy of the stored config for a service.
func (r *Registry) Config(name string) (config.ServiceConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.configs[name]
	return cfg, ok
}

// ServicePatch is a partial service config update. Nil fields are left
// unchanged.
type ServicePatch struct {
	URL            *string        `json:"url,omitempty"`
	Enabled        *bool          `json:"enabled,omitempty"`
	Auth           *string        `json:"auth,omitempty"`
	Token          *string        `json:"token,omitempty"`
	Username       *string        `json:"username,omitempty"`
	Password       *string        `json:"password,omitempty"`
	APIKeyHeader   *string        `json:"api_key_header,omitempty"`
	APIKey         *string        `json:"api_key,omitempty"`
	Timeout        *time.Duration `json:"timeout,omitempty"`
	MaxRetries     *int           `json:"max_retries,omitempty"`
	RetryBaseDelay *time.Duration `json:"retry_base_delay,omitempty"`
	CacheTTL       *time.Duration `json:"cache_ttl,omitempty"`
	RateLimit      *float64       `json:"rate_limit,omitempty"`
}

// UpdateServiceConfig merges the patch into the stored config and rebuilds
// the client. The swap is atomic: in-flight requests finish on the old
// client, new requests see the new one. Disabling a service removes its
// client.
func (r *Registry) UpdateServiceConfig(name string, patch ServicePatch) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cfg, ok := r.configs[name]
	if !ok {
		return ErrServiceNotFound
	}

	applyPatch(&cfg, patch)
	r.configs[name] = cfg

	if cfg.Enabled && cfg.URL != "" {
		r.clients[name] = NewBreakerClient(NewClient(&cfg))
		logging.Info().Str("service", name).Msg("service config updated, client rebuilt")
	} else {
		delete(r.clients, name)
		logging.Info().Str("service", name).Msg("service config updated, client removed")
	}

	return nil
}

func applyPatch(cfg *config.ServiceConfig, patch ServicePatch) {
	if patch.URL != nil {
		cfg.URL = *patch.URL
	}
	if patch.Enabled != nil {
		cfg.Enabled = *patch.Enabled
	}
	if patch.Auth != nil {
		cfg.Auth = *patch.Auth
	}
	if patch.Token != nil {
		cfg.Token = *patch.Token
	}
	if patch.Username != nil {
		cfg.Username = *patch.Username
	}
	if patch.Password != nil {
		cfg.Password = *patch.Password
	}
	if patch.APIKeyHeader != nil {
		cfg.APIKeyHeader = *patch.APIKeyHeader
	}
	if patch.APIKey != nil {
		cfg.APIKey = *patch.APIKey
	}
	if patch.Timeout != nil {
		cfg.Timeout = *patch.Timeout
	}
	if patch.MaxRetries != nil {
		cfg.MaxRetries = *patch.MaxRetries
	}
	if patch.RetryBaseDelay != nil {
		cfg.RetryBaseDelay = *patch.RetryBaseDelay
	}
	if patch.CacheTTL != nil {
		cfg.CacheTTL = *patch.CacheTTL
	}
	if patch.RateLimit != nil {
		cfg.RateLimit = *patch.RateLimit
	}
}

// HealthCheckAll probes every enabled client concurrently and folds in
// disabled/unconfigured entries for the rest. Each probe runs under its own
// timeout; one broken service never delays or corrupts another's result.
func (r *Registry) HealthCheckAll(ctx context.Context) map[string]HealthStatus {
	r.mu.RLock()
	clients := make(map[string]Caller, len(r.clients))
	for name, client := range r.clients {
		clients[name] = client
	}
	configs := make(map[string]config.ServiceConfig, len(r.configs))
	for name, cfg := range r.configs {
		configs[name] = cfg
	}
	r.mu.RUnlock()

	results := make(map[string]HealthStatus, len(configs))
	var resultsMu sync.Mutex
	var wg sync.WaitGroup

	for name, client := range clients {
		wg.Add(1)
		go func(name string, client Caller) {
			defer wg.Done()

			probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
			defer cancel()

			status := HealthStatus{Status: StatusHealthy}
			if err := client.Probe(probeCtx); err != nil {
				status = HealthStatus{Status: StatusUnhealthy, Message: err.Error()}
			}

			resultsMu.Lock()
			results[name] = status
			resultsMu.Unlock()
		}(name, client)
	}

	wg.Wait()

	for name, cfg := range configs {
		if _, probed := clients[name]; probed {
			continue
		}
		if !cfg.Enabled {
			results[name] = HealthStatus{Status: StatusDisabled}
		} else {
			results[name] = HealthStatus{Status: StatusUnconfigured, Message: "no base URL configured"}
		}
	}

	return results
}

// ClearAllCaches drops every client's response cache.
func (r *Registry) ClearAllCaches() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, client := range r.clients {
		client.ClearCache()
	}
}

// CacheStatsAll returns per-service cache counters.
func (r *Registry) CacheStatsAll() map[string]CacheStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := make(map[string]CacheStats, len(r.clients))
	for name, client := range r.clients {
		stats[name] = client.CacheStats()
	}
	return stats
}
