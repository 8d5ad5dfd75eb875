// Quartermaster - Home Lab Control Plane
// Copyright 2026 Quartermaster contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/homelab-tools/quartermaster

// Package api provides the HTTP surface: Chi routing, the REST handlers
// backing the PWA (service management, cache control, domain passthroughs
// to the proxy facade), the WebSocket upgrade endpoint and the Prometheus
// scrape endpoint.
package api
