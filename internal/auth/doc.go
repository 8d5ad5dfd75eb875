// Quartermaster - Home Lab Control Plane
// Copyright 2026 Quartermaster contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/homelab-tools/quartermaster

// Package auth provides session authentication for the REST API and the
// WebSocket hub: bcrypt admin credential verification, HMAC-SHA256 JWT
// issuance and validation, and HTTP middleware that gates protected
// routes on a valid Bearer token.
package auth
