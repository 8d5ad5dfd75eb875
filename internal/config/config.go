// Quartermaster - Home Lab Control Plane
// Copyright 2026 Quartermaster contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/homelab-tools/quartermaster

// Package config provides layered configuration loading for Quartermaster.
//
// Configuration is assembled from three sources, later layers overriding
// earlier ones:
//
//  1. Built-in defaults
//  2. Optional YAML config file (path via CONFIG_PATH or default search paths)
//  3. Environment variables prefixed with QM_ (QM_SERVER_PORT -> server.port)
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config is the root configuration for the Quartermaster server.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Security  SecurityConfig  `koanf:"security"`
	Store     StoreConfig     `koanf:"store"`
	WebSocket WebSocketConfig `koanf:"websocket"`
	Poller    PollerConfig    `koanf:"poller"`
	Logging   LoggingConfig   `koanf:"logging"`
	Services  []ServiceConfig `koanf:"services"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port" validate:"min=1,max=65535"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// SecurityConfig holds authentication and rate limiting settings.
// Leaving JWTSecret empty disables authentication entirely, which is
// only sensible on a trusted LAN.
type SecurityConfig struct {
	JWTSecret         string        `koanf:"jwt_secret" validate:"omitempty,min=32"`
	SessionTimeout    time.Duration `koanf:"session_timeout"`
	AdminUsername     string        `koanf:"admin_username"`
	AdminPasswordHash string        `koanf:"admin_password_hash"` // bcrypt hash
	RateLimitReqs     int           `koanf:"rate_limit_requests"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`
	CORSOrigins       []string      `koanf:"cors_origins"`
}

// StoreConfig holds document store settings.
type StoreConfig struct {
	Path     string `koanf:"path"`
	InMemory bool   `koanf:"in_memory"`
}

// WebSocketConfig holds broadcast hub settings.
type WebSocketConfig struct {
	// HeartbeatInterval is the liveness sweep period. A connection that
	// fails to answer a ping is dropped within two intervals.
	HeartbeatInterval time.Duration `koanf:"heartbeat_interval"`
	MaxMessageSize    int64         `koanf:"max_message_size"`
	WriteTimeout      time.Duration `koanf:"write_timeout"`
	SendBufferSize    int           `koanf:"send_buffer_size"`
}

// PollerConfig holds download-progress poller settings.
type PollerConfig struct {
	Enabled  bool          `koanf:"enabled"`
	Interval time.Duration `koanf:"interval"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"omitempty,oneof=trace debug info warn error fatal panic disabled"`
	Format string `koanf:"format" validate:"omitempty,oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// Auth strategy names accepted in service configs.
const (
	AuthNone   = "none"
	AuthBearer = "bearer"
	AuthBasic  = "basic"
	AuthAPIKey = "api_key"
)

// ServiceConfig describes one upstream service the proxy talks to.
// Entries are immutable after registry initialization except through the
// registry's explicit update operation.
type ServiceConfig struct {
	Name    string `koanf:"name" validate:"required"`
	URL     string `koanf:"url" validate:"omitempty,url"`
	Enabled bool   `koanf:"enabled"`

	// Auth selects the authentication strategy: none, bearer, basic, api_key.
	Auth         string `koanf:"auth" validate:"omitempty,oneof=none bearer basic api_key"`
	Token        string `koanf:"token"`           // bearer
	Username     string `koanf:"username"`        // basic
	Password     string `koanf:"password"`        // basic
	APIKeyHeader string `koanf:"api_key_header"`  // api_key: header name
	APIKey       string `koanf:"api_key"`         // api_key: header value

	Timeout        time.Duration `koanf:"timeout"`
	MaxRetries     int           `koanf:"max_retries" validate:"min=0,max=10"`
	RetryBaseDelay time.Duration `koanf:"retry_base_delay"`
	CacheTTL       time.Duration `koanf:"cache_ttl"`

	// RateLimit is the client-side requests-per-second ceiling for this
	// service. Zero disables client-side rate limiting.
	RateLimit float64 `koanf:"rate_limit"`
}

// Well-known service names used by the proxy facade. Additional services
// may be registered; the facade only binds domain methods to these.
const (
	ServiceMetadata   = "metadata"
	ServiceIndexer    = "indexer"
	ServiceDownloader = "qbittorrent"
	ServiceContainers = "portainer"
	ServiceMedia      = "jellyfin"
	ServiceFiles      = "filebrowser"
)

// Validate checks that required configuration is present and valid.
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	seen := make(map[string]bool, len(c.Services))
	for i := range c.Services {
		svc := &c.Services[i]
		if seen[svc.Name] {
			return fmt.Errorf("duplicate service name %q", svc.Name)
		}
		seen[svc.Name] = true

		if !svc.Enabled {
			continue
		}
		if svc.URL == "" {
			return fmt.Errorf("service %q is enabled but has no url", svc.Name)
		}
		switch svc.Auth {
		case AuthBearer:
			if svc.Token == "" {
				return fmt.Errorf("service %q uses bearer auth but has no token", svc.Name)
			}
		case AuthBasic:
			if svc.Username == "" {
				return fmt.Errorf("service %q uses basic auth but has no username", svc.Name)
			}
		case AuthAPIKey:
			if svc.APIKeyHeader == "" || svc.APIKey == "" {
				return fmt.Errorf("service %q uses api_key auth but is missing header name or key", svc.Name)
			}
		}
	}

	return nil
}
