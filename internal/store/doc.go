// Quartermaster - Home Lab Control Plane
// Copyright 2026 Quartermaster contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/homelab-tools/quartermaster

// Package store persists small JSON documents in an embedded BadgerDB:
// runtime service configuration overrides and notification history.
// Documents are addressed by (collection, key) and collections map to key
// prefixes in the underlying keyspace.
package store
