// Quartermaster - Home Lab Control Plane
// Copyright 2026 Quartermaster contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/homelab-tools/quartermaster

// Package middleware holds HTTP middleware shared across routes: request
// id propagation and Prometheus instrumentation. Rate limiting, CORS and
// panic recovery come from go-chi packages and are wired in the router.
package middleware
