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
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashfoxhq/ashfox/pkg/logging"
)

func quietLogger() *logging.Logger {
	return logging.New(logging.Config{Quiet: true})
}

func TestJobQueueFIFO(t *testing.T) {
	ctx := context.Background()
	store := NewStore(NewMemoryRepository(), quietLogger())

	first, err := store.SubmitJob(ctx, JobKindGLTFConvert, "", "p1", nil)
	require.NoError(t, err)
	second, err := store.SubmitJob(ctx, JobKindTexturePreflight, "", "p1", nil)
	require.NoError(t, err)

	claimed, err := store.ClaimNextJob(ctx, "worker-a")
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, first.ID, claimed.ID)
	assert.Equal(t, JobStatusRunning, claimed.Status)
	assert.Equal(t, "worker-a", claimed.WorkerID)
	assert.NotEmpty(t, claimed.StartedAt)

	claimed, err = store.ClaimNextJob(ctx, "worker-a")
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, second.ID, claimed.ID)

	t.Run("empty queue yields nil", func(t *testing.T) {
		claimed, err := store.ClaimNextJob(ctx, "worker-a")
		require.NoError(t, err)
		assert.Nil(t, claimed)
	})
}

func TestConcurrentClaimsNeverShareAJob(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	// Two stores over one repository model two worker processes.
	storeA := NewStore(repo, quietLogger())
	storeB := NewStore(repo, quietLogger())

	const jobs = 20
	for i := 0; i < jobs; i++ {
		_, err := storeA.SubmitJob(ctx, JobKindGLTFConvert, "", "p1", nil)
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	claims := make([][]string, 2)
	errs := make([]error, 2)
	claimAll := func(slot int, store *Store, worker string) {
		defer wg.Done()
		for {
			job, err := store.ClaimNextJob(ctx, worker)
			if err != nil {
				errs[slot] = err
				return
			}
			if job == nil {
				return
			}
			claims[slot] = append(claims[slot], job.ID)
		}
	}

	wg.Add(2)
	go claimAll(0, storeA, "worker-a")
	go claimAll(1, storeB, "worker-b")
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	seen := map[string]bool{}
	for _, ids := range claims {
		for _, id := range ids {
			assert.False(t, seen[id], "job %s claimed twice", id)
			seen[id] = true
		}
	}
	assert.Len(t, seen, jobs, "every job claimed exactly once")
}

func TestCompleteAndFailJob(t *testing.T) {
	ctx := context.Background()
	store := NewStore(NewMemoryRepository(), quietLogger())

	job, err := store.SubmitJob(ctx, JobKindTexturePreflight, "", "p1", map[string]any{"maxDimension": float64(64)})
	require.NoError(t, err)
	_, err = store.ClaimNextJob(ctx, "worker-a")
	require.NoError(t, err)

	require.NoError(t, store.CompleteJob(ctx, job.ID, map[string]any{"status": "ok"}))
	stored, err := store.Job(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStatusCompleted, stored.Status)
	assert.NotEmpty(t, stored.CompletedAt)

	t.Run("terminal transition appends a project event", func(t *testing.T) {
		events, err := store.ProjectEventsSince(ctx, "p1", 0)
		require.NoError(t, err)
		require.NotEmpty(t, events)
		assert.Equal(t, "job.completed", events[len(events)-1].Kind)
	})

	t.Run("fail stamps the error", func(t *testing.T) {
		job, err := store.SubmitJob(ctx, JobKindGLTFConvert, "", "p1", nil)
		require.NoError(t, err)
		_, err = store.ClaimNextJob(ctx, "worker-a")
		require.NoError(t, err)
		require.NoError(t, store.FailJob(ctx, job.ID, "export exploded"))

		stored, err := store.Job(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, JobStatusFailed, stored.Status)
		assert.Equal(t, "export exploded", stored.Error)
	})

	t.Run("unknown job id", func(t *testing.T) {
		assert.ErrorIs(t, store.CompleteJob(ctx, "missing", nil), ErrJobNotFound)
	})
}

func TestProjectEventSequencesAreGapFree(t *testing.T) {
	ctx := context.Background()
	store := NewStore(NewMemoryRepository(), quietLogger())

	for i := 0; i < 10; i++ {
		_, err := store.AppendProjectSnapshotEvent(ctx, "p1", map[string]any{"n": i})
		require.NoError(t, err)
	}
	_, err := store.AppendProjectSnapshotEvent(ctx, "p2", map[string]any{})
	require.NoError(t, err)

	events, err := store.ProjectEventsSince(ctx, "p1", 0)
	require.NoError(t, err)
	require.Len(t, events, 10)
	for i, event := range events {
		assert.Equal(t, uint64(i+1), event.Seq, "strictly increasing, no gaps")
	}

	t.Run("since filters by sequence", func(t *testing.T) {
		tail, err := store.ProjectEventsSince(ctx, "p1", 7)
		require.NoError(t, err)
		require.Len(t, tail, 3)
		assert.Equal(t, uint64(8), tail[0].Seq)
	})

	t.Run("per-project cursors are independent", func(t *testing.T) {
		other, err := store.ProjectEventsSince(ctx, "p2", 0)
		require.NoError(t, err)
		require.Len(t, other, 1)
		assert.Equal(t, uint64(1), other[0].Seq)
	})
}

// conflictRepo injects one out-of-band write between the store's read
// and its guarded save, forcing a revision conflict.
type conflictRepo struct {
	ProjectRepository
	mu       sync.Mutex
	injected bool
}

func (r *conflictRepo) SaveIfRevision(ctx context.Context, doc *Document, expected string) error {
	r.mu.Lock()
	inject := !r.injected && doc.ProjectID == StateDocID && expected != ""
	if inject {
		r.injected = true
	}
	r.mu.Unlock()
	if inject {
		intruder := *doc
		intruder.Revision = "intruder"
		if err := r.ProjectRepository.Save(ctx, &intruder); err != nil {
			return err
		}
	}
	return r.ProjectRepository.SaveIfRevision(ctx, doc, expected)
}

func TestMutationRetriesOnRevisionConflict(t *testing.T) {
	ctx := context.Background()
	repo := &conflictRepo{ProjectRepository: NewMemoryRepository()}
	store := NewStore(repo, quietLogger())

	// Seed so the guarded save runs with a non-empty expectation.
	_, err := store.SubmitJob(ctx, JobKindGLTFConvert, "", "p1", nil)
	require.NoError(t, err)

	job, err := store.SubmitJob(ctx, JobKindTexturePreflight, "", "p1", nil)
	require.NoError(t, err, "conflict is absorbed by the retry loop")

	stored, err := store.Job(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStatusQueued, stored.Status)
}

func TestExpiredGlobalLockIsReclaimed(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()

	stale, err := json.Marshal(lockPayload{
		Owner:     "dead-process",
		ExpiresAt: time.Now().Add(-time.Minute).UTC().Format(time.RFC3339Nano),
	})
	require.NoError(t, err)
	require.NoError(t, repo.Save(ctx, &Document{
		TenantID:  TenantID,
		ProjectID: LockDocID,
		Revision:  "dead-process",
		StateJSON: string(stale),
	}))

	store := NewStore(repo, quietLogger())
	_, err = store.SubmitJob(ctx, JobKindGLTFConvert, "", "p1", nil)
	require.NoError(t, err, "expired foreign lock does not block")
}

func TestForeignLockTimesOut(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()

	held, err := json.Marshal(lockPayload{
		Owner:     "live-peer",
		ExpiresAt: time.Now().Add(time.Hour).UTC().Format(time.RFC3339Nano),
	})
	require.NoError(t, err)
	require.NoError(t, repo.Save(ctx, &Document{
		TenantID:  TenantID,
		ProjectID: LockDocID,
		Revision:  "live-peer",
		StateJSON: string(held),
	}))

	store := NewStore(repo, quietLogger())
	store.lock.timeout = 50 * time.Millisecond
	store.lock.retry = 5 * time.Millisecond

	_, err = store.SubmitJob(ctx, JobKindGLTFConvert, "", "p1", nil)
	assert.ErrorIs(t, err, ErrLockTimeout)
}

func TestProjectLocks(t *testing.T) {
	ctx := context.Background()
	store := NewStore(NewMemoryRepository(), quietLogger())

	ok, err := store.AcquireProjectLock(ctx, "p1", "alice", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	t.Run("held lock blocks other owners", func(t *testing.T) {
		ok, err := store.AcquireProjectLock(ctx, "p1", "bob", time.Minute)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("owner can renew", func(t *testing.T) {
		ok, err := store.AcquireProjectLock(ctx, "p1", "alice", time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("release frees the lock", func(t *testing.T) {
		require.NoError(t, store.ReleaseProjectLock(ctx, "p1", "alice"))
		ok, err := store.AcquireProjectLock(ctx, "p1", "bob", time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("expired lock is collected lazily", func(t *testing.T) {
		ok, err := store.AcquireProjectLock(ctx, "p2", "alice", -time.Second)
		require.NoError(t, err)
		require.True(t, ok)

		ok, err = store.AcquireProjectLock(ctx, "p2", "bob", time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("reads hide lapsed locks", func(t *testing.T) {
		ok, err := store.AcquireProjectLock(ctx, "p3", "alice", -time.Second)
		require.NoError(t, err)
		require.True(t, ok)

		state, err := store.State(ctx)
		require.NoError(t, err)
		assert.NotContains(t, state.ProjectLocks, "p3", "lapsed lock invisible to readers")
		assert.Contains(t, state.ProjectLocks, "p2", "live lock still reported")
	})
}

func TestUpsertProjectBumpsRevisionMonotonically(t *testing.T) {
	ctx := context.Background()
	store := NewStore(NewMemoryRepository(), quietLogger())

	ws, err := store.EnsureWorkspace(ctx, "default")
	require.NoError(t, err)

	project, err := store.UpsertProject(ctx, ws.ID, "p1", "fox", map[string]any{"bones": 1})
	require.NoError(t, err)
	assert.Equal(t, 1, project.Revision)

	project, err = store.UpsertProject(ctx, ws.ID, "p1", "", map[string]any{"bones": 2})
	require.NoError(t, err)
	assert.Equal(t, 2, project.Revision)
	assert.Equal(t, "fox", project.Name, "name survives a model-only update")

	events, err := store.ProjectEventsSince(ctx, "p1", 0)
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestStateSurvivesReload(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()

	store := NewStore(repo, quietLogger())
	job, err := store.SubmitJob(ctx, JobKindGLTFConvert, "", "p1", nil)
	require.NoError(t, err)

	// A fresh store over the same repository sees the queued job.
	reloaded := NewStore(repo, quietLogger())
	stored, err := reloaded.Job(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStatusQueued, stored.Status)
}
