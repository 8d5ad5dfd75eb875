// Quartermaster - Home Lab Control Plane
// Copyright 2026 Quartermaster contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/homelab-tools/quartermaster

package store

import (
	"context"
	"errors"

	"github.com/goccy/go-json"
)

// ErrNotFound is returned when a document does not exist.
var ErrNotFound = errors.New("document not found")

// Store is a small JSON document store keyed by (collection, key). It
// persists state that must survive restarts: service config overrides
// applied at runtime and notification history.
type Store interface {
	// Put marshals value and writes it under (collection, key).
	Put(ctx context.Context, collection, key string, value interface{}) error

	// Get unmarshals the document at (collection, key) into out.
	// Returns ErrNotFound when it does not exist.
	Get(ctx context.Context, collection, key string, out interface{}) error

	// Delete removes a document. Deleting an absent document is a no-op.
	Delete(ctx context.Context, collection, key string) error

	// List returns every document in a collection, keyed by document key.
	List(ctx context.Context, collection string) (map[string]json.RawMessage, error)

	// QueryByField returns the documents in a collection whose top-level
	// field equals value. A collection scan; fine at document counts this
	// store is built for.
	QueryByField(ctx context.Context, collection, field, value string) (map[string]json.RawMessage, error)

	// Close flushes and closes the underlying database.
	Close() error
}
