// Quartermaster - Home Lab Control Plane
// Copyright 2026 Quartermaster contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/homelab-tools/quartermaster

// Package main is the Quartermaster server entry point.
//
// Quartermaster is the backend for a self-hosted home-lab dashboard PWA.
// It proxies a fleet of services (metadata, torrent indexer, download
// client, container manager, media server, file browser) behind one
// authenticated API with per-service retry, caching and circuit breaking,
// and pushes live download, file and notification events to the PWA over
// WebSocket.
//
// Startup order:
//
//  1. Configuration: koanf layering of defaults, YAML file and QM_* env
//  2. Logging: zerolog, configured from the logging section
//  3. Document store: BadgerDB for runtime service overrides
//  4. Proxy registry and facade for the configured services
//  5. WebSocket hub and download poller
//  6. HTTP server under a suture supervision tree
//
// Shutdown is signal-driven (SIGINT/SIGTERM): the supervision tree cancels
// every service, the HTTP server drains in-flight requests and the store
// closes last.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/goccy/go-json"

	"github.com/homelab-tools/quartermaster/internal/api"
	"github.com/homelab-tools/quartermaster/internal/auth"
	"github.com/homelab-tools/quartermaster/internal/config"
	"github.com/homelab-tools/quartermaster/internal/hub"
	"github.com/homelab-tools/quartermaster/internal/logging"
	"github.com/homelab-tools/quartermaster/internal/poller"
	"github.com/homelab-tools/quartermaster/internal/proxy"
	"github.com/homelab-tools/quartermaster/internal/store"
	"github.com/homelab-tools/quartermaster/internal/supervisor"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Int("services", len(cfg.Services)).
		Int("port", cfg.Server.Port).
		Msg("starting quartermaster")

	docs, err := store.Open(cfg.Store)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to open document store")
	}
	defer func() {
		if err := docs.Close(); err != nil {
			logging.Error().Err(err).Msg("store close failed")
		}
	}()

	applyStoredOverrides(cfg, docs)

	jwtManager, creds := setupAuth(cfg)
	registry := proxy.NewRegistry(cfg.Services)
	facade := proxy.NewFacade(registry)

	// The hub accepts the JWT manager directly; a nil manager leaves only
	// public channels reachable.
	var validator hub.TokenValidator
	if jwtManager != nil {
		validator = jwtManager
	}
	broadcastHub := hub.New(cfg.WebSocket, validator)

	handler := api.NewHandler(cfg, facade, broadcastHub, jwtManager, creds, docs)
	server := api.NewServer(cfg.Server, handler.Router())

	treeCfg := supervisor.DefaultTreeConfig()
	treeCfg.ShutdownTimeout = cfg.Server.ShutdownTimeout
	sutureLog := logging.Logger()
	tree := supervisor.NewTree(slog.New(slog.NewJSONHandler(&sutureLog, nil)), treeCfg)

	tree.AddStorageService(supervisor.NewService("store-gc", runnerFunc(docs.RunGC)))
	tree.AddMessagingService(supervisor.NewService("hub-heartbeat", broadcastHub))
	if cfg.Poller.Enabled {
		tree.AddMessagingService(supervisor.NewService("download-poller", poller.New(cfg.Poller, facade, broadcastHub)))
	}
	tree.AddAPIService(supervisor.NewService("http-server", server))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err = tree.Serve(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		if unstopped, reportErr := tree.UnstoppedServiceReport(); reportErr == nil && len(unstopped) > 0 {
			for _, svc := range unstopped {
				logging.Warn().Str("service", svc.Name).Msg("service did not stop in time")
			}
		}
		logging.Error().Err(err).Msg("supervisor tree exited")
		os.Exit(1)
	}

	logging.Info().Msg("quartermaster stopped")
}

// setupAuth builds the JWT manager and credential verifier when the
// security section is fully configured. Missing credentials disable
// authentication with a loud warning rather than failing startup, since a
// LAN-only deployment may genuinely not want it.
func setupAuth(cfg *config.Config) (*auth.JWTManager, *auth.CredentialVerifier) {
	if cfg.Security.JWTSecret == "" || cfg.Security.AdminUsername == "" || cfg.Security.AdminPasswordHash == "" {
		logging.Warn().Msg("authentication disabled: jwt_secret, admin_username and admin_password_hash are not all set")
		return nil, nil
	}

	jwtManager, err := auth.NewJWTManager(&cfg.Security)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to initialize jwt manager")
	}
	creds, err := auth.NewCredentialVerifier(&cfg.Security)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to initialize credential verifier")
	}
	return jwtManager, creds
}

// applyStoredOverrides layers persisted runtime service edits over the
// file configuration, so a URL changed through the API survives restarts.
func applyStoredOverrides(cfg *config.Config, docs store.Store) {
	overrides, err := docs.List(context.Background(), api.ServiceOverridesCollection)
	if err != nil {
		logging.Warn().Err(err).Msg("failed to load service overrides")
		return
	}

	for i, svc := range cfg.Services {
		raw, ok := overrides[svc.Name]
		if !ok {
			continue
		}
		var stored config.ServiceConfig
		if err := json.Unmarshal(raw, &stored); err != nil {
			logging.Warn().Err(err).Str("service", svc.Name).Msg("ignoring corrupt service override")
			continue
		}
		cfg.Services[i] = stored
		logging.Info().Str("service", svc.Name).Msg("applied stored service override")
	}
}

// runnerFunc adapts a bare run function to the supervisor's Runner.
type runnerFunc func(ctx context.Context) error

func (f runnerFunc) Run(ctx context.Context) error { return f(ctx) }
