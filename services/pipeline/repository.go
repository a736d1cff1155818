// Copyright (C) 2026 Ashfox Project (hello@ashfox.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrDocumentNotFound is returned for reads of absent documents.
	ErrDocumentNotFound = errors.New("document not found")

	// ErrRevisionConflict is returned when a guarded save loses the
	// race: the stored revision no longer matches the expectation.
	ErrRevisionConflict = errors.New("revision conflict")
)

// Document is one persisted record: the pipeline state and the global
// lock share this shape.
type Document struct {
	TenantID  string `json:"tenantId"`
	ProjectID string `json:"projectId"`
	Revision  string `json:"revision"`
	StateJSON string `json:"stateJson"`
	CreatedAt string `json:"createdAt"`
	UpdatedAt string `json:"updatedAt"`
}

// ProjectRepository stores documents keyed by tenant and project id.
//
// SaveIfRevision with an empty expected revision is a create: it fails
// with ErrRevisionConflict when the document already exists.
type ProjectRepository interface {
	Find(ctx context.Context, tenantID, projectID string) (*Document, error)
	Save(ctx context.Context, doc *Document) error
	SaveIfRevision(ctx context.Context, doc *Document, expected string) error
	Remove(ctx context.Context, tenantID, projectID string) error
}

// MemoryRepository keeps documents in process memory. The default for
// tests and single-node deployments.
type MemoryRepository struct {
	mu   sync.Mutex
	docs map[string]*Document
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{docs: make(map[string]*Document)}
}

func docKey(tenantID, projectID string) string {
	return tenantID + "/" + projectID
}

// Find returns a copy of the stored document.
func (r *MemoryRepository) Find(ctx context.Context, tenantID, projectID string) (*Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.docs[docKey(tenantID, projectID)]
	if !ok {
		return nil, ErrDocumentNotFound
	}
	out := *doc
	return &out, nil
}

// Save writes the document unconditionally.
func (r *MemoryRepository) Save(ctx context.Context, doc *Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.put(doc)
	return nil
}

// SaveIfRevision writes only when the stored revision matches.
func (r *MemoryRepository) SaveIfRevision(ctx context.Context, doc *Document, expected string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, exists := r.docs[docKey(doc.TenantID, doc.ProjectID)]
	if expected == "" {
		if exists {
			return ErrRevisionConflict
		}
	} else {
		if !exists || current.Revision != expected {
			return ErrRevisionConflict
		}
	}
	r.put(doc)
	return nil
}

// Remove deletes the document. Removing an absent document is a no-op.
func (r *MemoryRepository) Remove(ctx context.Context, tenantID, projectID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.docs, docKey(tenantID, projectID))
	return nil
}

func (r *MemoryRepository) put(doc *Document) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	stored := *doc
	if existing, ok := r.docs[docKey(doc.TenantID, doc.ProjectID)]; ok {
		stored.CreatedAt = existing.CreatedAt
	} else if stored.CreatedAt == "" {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now
	r.docs[docKey(doc.TenantID, doc.ProjectID)] = &stored
}
