// Copyright (C) 2026 Ashfox Project (hello@ashfox.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBadgerRepo(t *testing.T) *BadgerRepository {
	t.Helper()
	repo, err := NewBadgerRepository(BadgerConfig{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func TestBadgerRepositoryRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := newBadgerRepo(t)

	doc := &Document{
		TenantID:  TenantID,
		ProjectID: StateDocID,
		Revision:  "r1",
		StateJSON: `{"jobs":{}}`,
	}
	require.NoError(t, repo.Save(ctx, doc))

	found, err := repo.Find(ctx, TenantID, StateDocID)
	require.NoError(t, err)
	assert.Equal(t, "r1", found.Revision)
	assert.Equal(t, `{"jobs":{}}`, found.StateJSON)
	assert.NotEmpty(t, found.CreatedAt)

	t.Run("missing document", func(t *testing.T) {
		_, err := repo.Find(ctx, TenantID, "nope")
		assert.ErrorIs(t, err, ErrDocumentNotFound)
	})

	t.Run("remove", func(t *testing.T) {
		require.NoError(t, repo.Remove(ctx, TenantID, StateDocID))
		_, err := repo.Find(ctx, TenantID, StateDocID)
		assert.ErrorIs(t, err, ErrDocumentNotFound)
	})
}

func TestBadgerRepositoryGuardedSave(t *testing.T) {
	ctx := context.Background()
	repo := newBadgerRepo(t)

	base := &Document{TenantID: TenantID, ProjectID: StateDocID, Revision: "r1", StateJSON: "{}"}

	t.Run("create-only succeeds once", func(t *testing.T) {
		require.NoError(t, repo.SaveIfRevision(ctx, base, ""))
		dup := *base
		assert.ErrorIs(t, repo.SaveIfRevision(ctx, &dup, ""), ErrRevisionConflict)
	})

	t.Run("matching revision replaces", func(t *testing.T) {
		next := &Document{TenantID: TenantID, ProjectID: StateDocID, Revision: "r2", StateJSON: "{}"}
		require.NoError(t, repo.SaveIfRevision(ctx, next, "r1"))
	})

	t.Run("stale revision conflicts", func(t *testing.T) {
		next := &Document{TenantID: TenantID, ProjectID: StateDocID, Revision: "r3", StateJSON: "{}"}
		assert.ErrorIs(t, repo.SaveIfRevision(ctx, next, "r1"), ErrRevisionConflict)
	})
}

func TestStoreOverBadger(t *testing.T) {
	ctx := context.Background()
	repo := newBadgerRepo(t)
	store := NewStore(repo, quietLogger())

	job, err := store.SubmitJob(ctx, JobKindGLTFConvert, "", "p1", nil)
	require.NoError(t, err)

	claimed, err := store.ClaimNextJob(ctx, "worker-a")
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, job.ID, claimed.ID)

	require.NoError(t, store.CompleteJob(ctx, job.ID, map[string]any{"status": "ok"}))
	events, err := store.ProjectEventsSince(ctx, "p1", 0)
	require.NoError(t, err)
	assert.NotEmpty(t, events)
}
