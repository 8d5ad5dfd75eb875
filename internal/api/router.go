// Quartermaster - Home Lab Control Plane
// Copyright 2026 Quartermaster contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/homelab-tools/quartermaster

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/homelab-tools/quartermaster/internal/auth"
	"github.com/homelab-tools/quartermaster/internal/middleware"
)

// Router builds the HTTP routing tree.
//
// Route groups:
//   - /api/v1/health and /metrics are open, with a permissive rate limit
//     so monitoring can poll freely
//   - /api/v1/auth/login has a strict rate limit against brute force
//   - everything else under /api/v1 requires a valid Bearer token when
//     authentication is configured
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   h.cfg.Security.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	rateLimit := h.cfg.Security.RateLimitReqs
	if rateLimit <= 0 {
		rateLimit = 300
	}
	rateWindow := h.cfg.Security.RateLimitWindow
	if rateWindow <= 0 {
		rateWindow = time.Minute
	}

	r.Route("/api/v1/health", func(r chi.Router) {
		r.Use(httprate.Limit(1000, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP)))
		r.Get("/", h.Health)
	})

	r.Route("/api/v1/auth", func(r chi.Router) {
		r.With(httprate.Limit(5, 5*time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP))).
			Post("/login", h.Login)
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(httprate.Limit(rateLimit, rateWindow, httprate.WithKeyFuncs(httprate.KeyByIP)))
		r.Use(middleware.PrometheusMetrics)
		r.Use(auth.Middleware(h.jwt))

		r.Get("/services", h.ListServices)
		r.Patch("/services/{name}", h.PatchService)
		r.Delete("/cache", h.ClearCaches)
		r.Get("/cache/stats", h.CacheStats)
		r.Get("/hub", h.HubStats)

		r.Get("/media/trending", h.Trending)
		r.Get("/media/popular", h.Popular)
		r.Get("/media/search", h.SearchMetadata)
		r.Get("/media/sessions", h.MediaSessions)
		r.Post("/media/library/refresh", h.RefreshLibrary)

		r.Get("/torrents/search", h.SearchTorrents)
		r.Get("/downloads", h.Downloads)
		r.Post("/downloads", h.AddDownload)
		r.Post("/downloads/{hash}/pause", h.PauseDownload)
		r.Post("/downloads/{hash}/resume", h.ResumeDownload)
		r.Delete("/downloads/{hash}", h.DeleteDownload)

		r.Get("/containers", h.Containers)
		r.Post("/containers/{id}/{action}", h.ContainerAction)
		r.Get("/containers/{id}/logs", h.ContainerLogs)

		r.Get("/files", h.ListDir)
		r.Post("/files/dir", h.CreateDir)
		r.Delete("/files", h.DeleteFile)
		r.Post("/files/rename", h.RenameFile)
	})

	// WebSocket clients authenticate in-protocol, so the upgrade endpoint
	// sits outside the Bearer token group.
	r.Get("/ws", h.WebSocket)

	r.Handle("/metrics", promhttp.Handler())

	return r
}
