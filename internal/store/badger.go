// Quartermaster - Home Lab Control Plane
// Copyright 2026 Quartermaster contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/homelab-tools/quartermaster

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/homelab-tools/quartermaster/internal/config"
	"github.com/homelab-tools/quartermaster/internal/logging"
)

// keySeparator joins collection and key. Collections must not contain it;
// callers use fixed collection names so this is not validated per call.
const keySeparator = ":"

const gcInterval = 5 * time.Minute

// BadgerStore implements Store on BadgerDB. Documents are stored as JSON
// under "<collection>:<key>" so a collection scan is a prefix iteration.
type BadgerStore struct {
	db *badger.DB
}

// Open opens (or creates) the store at the configured path. InMemory mode
// is for tests and ephemeral deployments.
func Open(cfg config.StoreConfig) (*BadgerStore, error) {
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Path == "" {
			return nil, fmt.Errorf("store path is required")
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	logging.Info().Str("path", cfg.Path).Bool("in_memory", cfg.InMemory).Msg("document store opened")
	return &BadgerStore{db: db}, nil
}

func documentKey(collection, key string) []byte {
	return []byte(collection + keySeparator + key)
}

// Put implements Store.
func (s *BadgerStore) Put(_ context.Context, collection, key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal document %s%s%s: %w", collection, keySeparator, key, err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(documentKey(collection, key), data)
	})
	if err != nil {
		return fmt.Errorf("write document %s%s%s: %w", collection, keySeparator, key, err)
	}
	return nil
}

// Get implements Store.
func (s *BadgerStore) Get(_ context.Context, collection, key string, out interface{}) error {
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(documentKey(collection, key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, out)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("read document %s%s%s: %w", collection, keySeparator, key, err)
	}
	return nil
}

// Delete implements Store.
func (s *BadgerStore) Delete(_ context.Context, collection, key string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(documentKey(collection, key))
	})
	if err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("delete document %s%s%s: %w", collection, keySeparator, key, err)
	}
	return nil
}

// List implements Store.
func (s *BadgerStore) List(_ context.Context, collection string) (map[string]json.RawMessage, error) {
	prefix := []byte(collection + keySeparator)
	docs := make(map[string]json.RawMessage)

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			key := string(item.Key()[len(prefix):])
			if err := item.Value(func(val []byte) error {
				doc := make(json.RawMessage, len(val))
				copy(doc, val)
				docs[key] = doc
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list collection %s: %w", collection, err)
	}
	return docs, nil
}

// QueryByField implements Store. Matching is string equality on the
// field's JSON value; numbers and booleans compare against their JSON
// text form.
func (s *BadgerStore) QueryByField(ctx context.Context, collection, field, value string) (map[string]json.RawMessage, error) {
	docs, err := s.List(ctx, collection)
	if err != nil {
		return nil, err
	}

	matches := make(map[string]json.RawMessage)
	for key, raw := range docs {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(raw, &fields); err != nil {
			continue // non-object document, cannot match a field
		}
		fieldRaw, ok := fields[field]
		if !ok {
			continue
		}

		var asString string
		if err := json.Unmarshal(fieldRaw, &asString); err != nil {
			asString = string(fieldRaw)
		}
		if asString == value {
			matches[key] = raw
		}
	}
	return matches, nil
}

// Close implements Store.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// RunGC runs Badger's value log garbage collection until the context is
// canceled. Designed for suture supervision; ErrNoRewrite just means
// there was nothing to reclaim.
func (s *BadgerStore) RunGC(ctx context.Context) error {
	ticker := time.NewTicker(gcInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			err := s.db.RunValueLogGC(0.5)
			if err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				logging.Warn().Err(err).Msg("store garbage collection failed")
			}
		}
	}
}
