// Copyright (C) 2026 Ashfox Project (hello@ashfox.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ashfoxhq/ashfox/pkg/logging"
	"github.com/ashfoxhq/ashfox/services/gateway/telemetry"
)

// ErrJobNotFound is returned for transitions on unknown job ids.
var ErrJobNotFound = errors.New("job not found")

// Store is the native pipeline state machine. Every mutation runs under
// the global lock with an optimistic revision check; reads go through a
// revision-keyed cache.
//
// # Thread Safety
//
// All methods are safe for concurrent use, in-process and across
// processes sharing the repository.
type Store struct {
	repo    ProjectRepository
	lock    *globalLock
	logger  *logging.Logger
	metrics *telemetry.Metrics

	// mu serializes in-process mutations; the global lock is keyed by
	// a per-process owner and does not exclude sibling goroutines.
	mu    sync.Mutex
	cache *stateCache
}

// NewStore creates a store over the given repository.
func NewStore(repo ProjectRepository, logger *logging.Logger) *Store {
	if logger == nil {
		logger = logging.Default()
	}
	owner := fmt.Sprintf("%d-%s", os.Getpid(), uuid.New().String())
	return &Store{
		repo:   repo,
		lock:   newGlobalLock(repo, owner),
		logger: logger,
		cache:  newStateCache(),
	}
}

// WithMetrics attaches job transition counters.
func (s *Store) WithMetrics(m *telemetry.Metrics) *Store {
	s.metrics = m
	return s
}

// withMutation runs apply on the current state and persists the result.
// The whole cycle holds the global lock; the revision check still runs
// because an expired lock may have been reclaimed mid-flight.
func (s *Store) withMutation(ctx context.Context, apply func(state *NativePipelineState) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.lock.acquire(ctx); err != nil {
		return fmt.Errorf("pipeline mutation: %w", err)
	}
	defer s.lock.release(ctx)

	return mutate(ctx, defaultMutateAttempts, func(ctx context.Context) error {
		state, expected, err := s.loadState(ctx)
		if err != nil {
			return err
		}
		if err := apply(state); err != nil {
			return err
		}

		stateJSON, err := json.Marshal(state)
		if err != nil {
			return fmt.Errorf("encode pipeline state: %w", err)
		}
		revision := stateRevision(stateJSON)
		err = s.repo.SaveIfRevision(ctx, &Document{
			TenantID:  TenantID,
			ProjectID: StateDocID,
			Revision:  revision,
			StateJSON: string(stateJSON),
		}, expected)
		if errors.Is(err, ErrRevisionConflict) {
			s.cache.invalidate()
			return ErrRevisionConflict
		}
		if err != nil {
			return fmt.Errorf("save pipeline state: %w", err)
		}
		s.cache.put(revision, state)
		return nil
	})
}

// loadState reads and decodes the state document, seeding an empty
// state when absent. Expired project locks are collected here.
func (s *Store) loadState(ctx context.Context) (*NativePipelineState, string, error) {
	doc, err := s.repo.Find(ctx, TenantID, StateDocID)
	if errors.Is(err, ErrDocumentNotFound) {
		return newState(), "", nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("read pipeline state: %w", err)
	}

	state := newState()
	if err := json.Unmarshal([]byte(doc.StateJSON), state); err != nil {
		return nil, "", fmt.Errorf("decode pipeline state: %w", err)
	}
	state.normalize()
	pruneExpiredProjectLocks(state)
	return state, doc.Revision, nil
}

// State returns a read-only view of the current state. Callers must not
// mutate the result; mutations go through the store's operations.
func (s *Store) State(ctx context.Context) (*NativePipelineState, error) {
	doc, err := s.repo.Find(ctx, TenantID, StateDocID)
	if errors.Is(err, ErrDocumentNotFound) {
		// Seed defaults under the lock so peers agree on the document.
		if err := s.withMutation(ctx, func(*NativePipelineState) error { return nil }); err != nil {
			return nil, err
		}
		doc, err = s.repo.Find(ctx, TenantID, StateDocID)
	}
	if err != nil {
		return nil, fmt.Errorf("read pipeline state: %w", err)
	}

	if cached := s.cache.get(doc.Revision); cached != nil {
		return stateWithFreshLocks(cached), nil
	}
	state := newState()
	if err := json.Unmarshal([]byte(doc.StateJSON), state); err != nil {
		return nil, fmt.Errorf("decode pipeline state: %w", err)
	}
	state.normalize()
	s.cache.put(doc.Revision, state)
	return stateWithFreshLocks(state), nil
}

// stateWithFreshLocks hides lapsed project locks from readers. The
// cached state is shared, so expiry is applied to a shallow view
// rather than in place; mutations prune the stored document for real.
func stateWithFreshLocks(state *NativePipelineState) *NativePipelineState {
	lapsed := false
	for _, lock := range state.ProjectLocks {
		if projectLockExpired(lock) {
			lapsed = true
			break
		}
	}
	if !lapsed {
		return state
	}
	view := *state
	view.ProjectLocks = make(map[string]*ProjectLock, len(state.ProjectLocks))
	for id, lock := range state.ProjectLocks {
		if !projectLockExpired(lock) {
			view.ProjectLocks[id] = lock
		}
	}
	return &view
}

// EnsureWorkspace returns the workspace with the given name, creating
// it when absent.
func (s *Store) EnsureWorkspace(ctx context.Context, name string) (*NativeWorkspace, error) {
	var out *NativeWorkspace
	err := s.withMutation(ctx, func(state *NativePipelineState) error {
		for _, ws := range state.Workspaces {
			if ws.Name == name {
				out = ws
				return nil
			}
		}
		ws := &NativeWorkspace{
			ID:        uuid.New().String(),
			Name:      name,
			CreatedAt: nowStamp(),
		}
		state.Workspaces[ws.ID] = ws
		out = ws
		return nil
	})
	return out, err
}

// UpsertProject writes a project record, bumps its revision, and
// appends a snapshot event.
func (s *Store) UpsertProject(ctx context.Context, workspaceID, projectID, name string, model map[string]any) (*NativeProject, error) {
	var out *NativeProject
	err := s.withMutation(ctx, func(state *NativePipelineState) error {
		project := state.Projects[projectID]
		if project == nil {
			if projectID == "" {
				projectID = uuid.New().String()
			}
			project = &NativeProject{
				ID:          projectID,
				WorkspaceID: workspaceID,
				CreatedAt:   nowStamp(),
			}
			state.Projects[projectID] = project
		}
		if name != "" {
			project.Name = name
		}
		if model != nil {
			project.Model = model
		}
		project.Revision++
		project.UpdatedAt = nowStamp()
		appendEvent(state, project.ID, "project.snapshot", map[string]any{
			"revision": project.Revision,
			"name":     project.Name,
		})
		out = project
		return nil
	})
	return out, err
}

// SubmitJob queues a job. The id is assigned here.
func (s *Store) SubmitJob(ctx context.Context, kind, workspaceID, projectID string, payload map[string]any) (*NativeJob, error) {
	job := &NativeJob{
		ID:          uuid.New().String(),
		Kind:        kind,
		WorkspaceID: workspaceID,
		ProjectID:   projectID,
		Status:      JobStatusQueued,
		Payload:     payload,
		CreatedAt:   nowStamp(),
	}
	err := s.withMutation(ctx, func(state *NativePipelineState) error {
		state.Jobs[job.ID] = job
		state.QueuedJobIDs = append(state.QueuedJobIDs, job.ID)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.ObserveJob(kind, JobStatusQueued)
	}
	return job, nil
}

// ClaimNextJob pops the oldest queued job and marks it running. Returns
// nil when the queue is empty. The claim is atomic under the global
// lock: no two workers see the same job.
func (s *Store) ClaimNextJob(ctx context.Context, workerID string) (*NativeJob, error) {
	var claimed *NativeJob
	err := s.withMutation(ctx, func(state *NativePipelineState) error {
		for len(state.QueuedJobIDs) > 0 {
			id := state.QueuedJobIDs[0]
			state.QueuedJobIDs = state.QueuedJobIDs[1:]
			job := state.Jobs[id]
			if job == nil || job.Status != JobStatusQueued {
				// Stale queue entry; drop and keep scanning.
				continue
			}
			job.Status = JobStatusRunning
			job.WorkerID = workerID
			job.StartedAt = nowStamp()
			claimed = job
			return nil
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if claimed != nil && s.metrics != nil {
		s.metrics.ObserveJob(claimed.Kind, JobStatusRunning)
	}
	return claimed, nil
}

// RequeueJob returns a running job to the tail of the queue. Used when
// a worker claims a job it is not eligible to run.
func (s *Store) RequeueJob(ctx context.Context, jobID string) error {
	return s.withMutation(ctx, func(state *NativePipelineState) error {
		job := state.Jobs[jobID]
		if job == nil {
			return ErrJobNotFound
		}
		if job.Status != JobStatusRunning {
			return nil
		}
		job.Status = JobStatusQueued
		job.WorkerID = ""
		job.StartedAt = ""
		state.QueuedJobIDs = append(state.QueuedJobIDs, jobID)
		return nil
	})
}

// CompleteJob finishes a job with its result and appends a project
// event when the job targets a project.
func (s *Store) CompleteJob(ctx context.Context, jobID string, result map[string]any) error {
	return s.finishJob(ctx, jobID, JobStatusCompleted, result, "")
}

// FailJob finishes a job with an error message.
func (s *Store) FailJob(ctx context.Context, jobID, message string) error {
	return s.finishJob(ctx, jobID, JobStatusFailed, nil, message)
}

func (s *Store) finishJob(ctx context.Context, jobID, status string, result map[string]any, message string) error {
	var kind string
	err := s.withMutation(ctx, func(state *NativePipelineState) error {
		job := state.Jobs[jobID]
		if job == nil {
			return ErrJobNotFound
		}
		job.Status = status
		job.Result = result
		job.Error = message
		job.CompletedAt = nowStamp()
		kind = job.Kind
		if job.ProjectID != "" {
			appendEvent(state, job.ProjectID, "job."+status, map[string]any{
				"jobId": jobID,
				"kind":  job.Kind,
			})
		}
		return nil
	})
	if err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.ObserveJob(kind, status)
	}
	return nil
}

// Job returns one job by id.
func (s *Store) Job(ctx context.Context, jobID string) (*NativeJob, error) {
	state, err := s.State(ctx)
	if err != nil {
		return nil, err
	}
	job := state.Jobs[jobID]
	if job == nil {
		return nil, ErrJobNotFound
	}
	return job, nil
}

// AppendProjectSnapshotEvent records a project snapshot and returns the
// assigned sequence number.
func (s *Store) AppendProjectSnapshotEvent(ctx context.Context, projectID string, snapshot map[string]any) (uint64, error) {
	var seq uint64
	err := s.withMutation(ctx, func(state *NativePipelineState) error {
		seq = appendEvent(state, projectID, "project.snapshot", snapshot)
		return nil
	})
	return seq, err
}

// ProjectEventsSince returns events with seq > lastSeq, in order.
func (s *Store) ProjectEventsSince(ctx context.Context, projectID string, lastSeq uint64) ([]ProjectEvent, error) {
	state, err := s.State(ctx)
	if err != nil {
		return nil, err
	}
	events := state.Events[projectID]
	var out []ProjectEvent
	for _, event := range events {
		if event.Seq > lastSeq {
			out = append(out, event)
		}
	}
	return out, nil
}

// AcquireProjectLock takes the cooperative per-project lock. Returns
// false when another owner holds an unexpired lock. Re-acquiring an
// owned lock renews it.
func (s *Store) AcquireProjectLock(ctx context.Context, projectID, owner string, ttl time.Duration) (bool, error) {
	acquired := false
	err := s.withMutation(ctx, func(state *NativePipelineState) error {
		existing := state.ProjectLocks[projectID]
		if existing != nil && existing.Owner != owner && !projectLockExpired(existing) {
			return nil
		}
		state.ProjectLocks[projectID] = &ProjectLock{
			Owner:     owner,
			ExpiresAt: time.Now().Add(ttl).UTC().Format(time.RFC3339Nano),
		}
		acquired = true
		return nil
	})
	return acquired, err
}

// ReleaseProjectLock drops the per-project lock when owned.
func (s *Store) ReleaseProjectLock(ctx context.Context, projectID, owner string) error {
	return s.withMutation(ctx, func(state *NativePipelineState) error {
		existing := state.ProjectLocks[projectID]
		if existing != nil && existing.Owner == owner {
			delete(state.ProjectLocks, projectID)
		}
		return nil
	})
}

// appendEvent assigns the next per-project sequence number. Sequences
// are gap-free because assignment and storage are one mutation.
func appendEvent(state *NativePipelineState, projectID, kind string, data map[string]any) uint64 {
	state.ProjectEventCursor[projectID]++
	seq := state.ProjectEventCursor[projectID]
	state.Events[projectID] = append(state.Events[projectID], ProjectEvent{
		Seq:       seq,
		ProjectID: projectID,
		Kind:      kind,
		At:        nowStamp(),
		Data:      data,
	})
	return seq
}

func pruneExpiredProjectLocks(state *NativePipelineState) {
	for id, lock := range state.ProjectLocks {
		if projectLockExpired(lock) {
			delete(state.ProjectLocks, id)
		}
	}
}

func projectLockExpired(lock *ProjectLock) bool {
	at, err := time.Parse(time.RFC3339Nano, lock.ExpiresAt)
	if err != nil {
		return true
	}
	return time.Now().After(at)
}

func stateRevision(stateJSON []byte) string {
	sum := sha256.Sum256(stateJSON)
	return hex.EncodeToString(sum[:])
}

func nowStamp() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// stateCache keys one decoded state by its document revision.
type stateCache struct {
	mu       sync.Mutex
	revision string
	state    *NativePipelineState
}

func newStateCache() *stateCache {
	return &stateCache{}
}

func (c *stateCache) get(revision string) *NativePipelineState {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.revision == revision {
		return c.state
	}
	return nil
}

func (c *stateCache) put(revision string, state *NativePipelineState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.revision = revision
	c.state = state
}

func (c *stateCache) invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.revision = ""
	c.state = nil
}
