// Quartermaster - Home Lab Control Plane
// Copyright 2026 Quartermaster contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/homelab-tools/quartermaster

// Package supervisor builds the suture supervision tree that keeps the
// long-running components (HTTP server, hub heartbeat, download poller,
// store maintenance) alive with bounded restart backoff.
package supervisor
