// Copyright (C) 2026 Ashfox Project (hello@ashfox.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/ashfoxhq/ashfox/pkg/logging"
)

// BadgerConfig configures the on-disk repository.
type BadgerConfig struct {
	// Path is the badger directory. Required unless InMemory.
	Path string

	// InMemory keeps everything in RAM. For tests.
	InMemory bool

	// SyncWrites trades throughput for durability.
	SyncWrites bool

	Logger *logging.Logger
}

// DefaultBadgerConfig returns durable production settings.
func DefaultBadgerConfig(path string) BadgerConfig {
	return BadgerConfig{Path: path, SyncWrites: true}
}

// BadgerRepository persists documents in an embedded badger database.
// Revision checks run inside a single badger transaction, so guarded
// saves are atomic without an external lock.
type BadgerRepository struct {
	db *badger.DB
}

// NewBadgerRepository opens the database and returns the repository.
// Callers own Close.
func NewBadgerRepository(cfg BadgerConfig) (*BadgerRepository, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("badger repository requires a path")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create badger directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	return &BadgerRepository{db: db}, nil
}

// Close releases the database.
func (r *BadgerRepository) Close() error { return r.db.Close() }

func badgerKey(tenantID, projectID string) []byte {
	return []byte("doc/" + tenantID + "/" + projectID)
}

// Find reads and decodes one document.
func (r *BadgerRepository) Find(ctx context.Context, tenantID, projectID string) (*Document, error) {
	var doc Document
	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(badgerKey(tenantID, projectID))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &doc)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrDocumentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("badger find: %w", err)
	}
	return &doc, nil
}

// Save writes the document unconditionally.
func (r *BadgerRepository) Save(ctx context.Context, doc *Document) error {
	return r.db.Update(func(txn *badger.Txn) error {
		return writeDoc(txn, doc)
	})
}

// SaveIfRevision writes only when the stored revision matches the
// expectation. An empty expectation means create-only.
func (r *BadgerRepository) SaveIfRevision(ctx context.Context, doc *Document, expected string) error {
	err := r.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(badgerKey(doc.TenantID, doc.ProjectID))
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
			if expected != "" {
				return ErrRevisionConflict
			}
		case err != nil:
			return err
		default:
			if expected == "" {
				return ErrRevisionConflict
			}
			var current Document
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &current)
			}); err != nil {
				return err
			}
			if current.Revision != expected {
				return ErrRevisionConflict
			}
			doc.CreatedAt = current.CreatedAt
		}
		return writeDoc(txn, doc)
	})
	if errors.Is(err, ErrRevisionConflict) {
		return ErrRevisionConflict
	}
	if err != nil {
		return fmt.Errorf("badger guarded save: %w", err)
	}
	return nil
}

// Remove deletes the document.
func (r *BadgerRepository) Remove(ctx context.Context, tenantID, projectID string) error {
	err := r.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(badgerKey(tenantID, projectID))
	})
	if err != nil {
		return fmt.Errorf("badger remove: %w", err)
	}
	return nil
}

func writeDoc(txn *badger.Txn, doc *Document) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	if doc.CreatedAt == "" {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now
	encoded, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	return txn.Set(badgerKey(doc.TenantID, doc.ProjectID), encoded)
}

// badgerLogger adapts the project logger to badger's Logger interface.
type badgerLogger struct {
	logger *logging.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}
