// Copyright (C) 2026 Ashfox Project (hello@ashfox.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package pipeline is the persistent native-pipeline store: one logical
// state document behind a ProjectRepository port, mutated under a
// distributed lock with optimistic revision checks.
package pipeline

// Job kinds the worker dispatches on.
const (
	JobKindGLTFConvert      = "gltf.convert"
	JobKindTexturePreflight = "texture.preflight"
)

// Job statuses. Queued and running are live; completed and failed are
// terminal.
const (
	JobStatusQueued    = "queued"
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
)

// NativeWorkspace groups projects for job eligibility filtering.
type NativeWorkspace struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedAt string `json:"createdAt"`
}

// NativeFolder is an organizational node inside a workspace.
type NativeFolder struct {
	ID          string `json:"id"`
	WorkspaceID string `json:"workspaceId"`
	Name        string `json:"name"`
	ParentID    string `json:"parentId,omitempty"`
}

// NativeProject is a pipeline-side project record. Revision is a
// monotonic counter, independent of the editor's content hashes.
type NativeProject struct {
	ID          string         `json:"id"`
	WorkspaceID string         `json:"workspaceId"`
	FolderID    string         `json:"folderId,omitempty"`
	Name        string         `json:"name"`
	Revision    int            `json:"revision"`
	Model       map[string]any `json:"model,omitempty"`
	CreatedAt   string         `json:"createdAt"`
	UpdatedAt   string         `json:"updatedAt"`
}

// NativeJob is one unit of background work.
type NativeJob struct {
	ID          string         `json:"id"`
	Kind        string         `json:"kind"`
	WorkspaceID string         `json:"workspaceId,omitempty"`
	ProjectID   string         `json:"projectId,omitempty"`
	Status      string         `json:"status"`
	Payload     map[string]any `json:"payload,omitempty"`
	Result      map[string]any `json:"result,omitempty"`
	Error       string         `json:"error,omitempty"`
	WorkerID    string         `json:"workerId,omitempty"`
	CreatedAt   string         `json:"createdAt"`
	StartedAt   string         `json:"startedAt,omitempty"`
	CompletedAt string         `json:"completedAt,omitempty"`
}

// ProjectEvent is one entry of a project's event log. Seq is strictly
// increasing and gap-free per project.
type ProjectEvent struct {
	Seq       uint64         `json:"seq"`
	ProjectID string         `json:"projectId"`
	Kind      string         `json:"kind"`
	At        string         `json:"at"`
	Data      map[string]any `json:"data,omitempty"`
}

// ProjectLock is the cooperative per-project lock. Distinct from the
// global state lock; expired entries are collected lazily.
type ProjectLock struct {
	Owner     string `json:"owner"`
	ExpiresAt string `json:"expiresAt"`
}

// NativePipelineState is the whole persisted document.
type NativePipelineState struct {
	Workspaces         map[string]*NativeWorkspace `json:"workspaces"`
	Projects           map[string]*NativeProject   `json:"projects"`
	Folders            map[string]*NativeFolder    `json:"folders"`
	Jobs               map[string]*NativeJob       `json:"jobs"`
	QueuedJobIDs       []string                    `json:"queuedJobIds"`
	Events             map[string][]ProjectEvent   `json:"events"`
	ProjectEventCursor map[string]uint64           `json:"projectEventCursor"`
	Counters           map[string]uint64           `json:"counters"`
	ProjectLocks       map[string]*ProjectLock     `json:"projectLocks,omitempty"`
}

// newState seeds an empty document.
func newState() *NativePipelineState {
	return &NativePipelineState{
		Workspaces:         make(map[string]*NativeWorkspace),
		Projects:           make(map[string]*NativeProject),
		Folders:            make(map[string]*NativeFolder),
		Jobs:               make(map[string]*NativeJob),
		Events:             make(map[string][]ProjectEvent),
		ProjectEventCursor: make(map[string]uint64),
		Counters:           make(map[string]uint64),
		ProjectLocks:       make(map[string]*ProjectLock),
	}
}

// normalize backfills nil maps after deserialization so mutators never
// write into a nil map.
func (s *NativePipelineState) normalize() {
	if s.Workspaces == nil {
		s.Workspaces = make(map[string]*NativeWorkspace)
	}
	if s.Projects == nil {
		s.Projects = make(map[string]*NativeProject)
	}
	if s.Folders == nil {
		s.Folders = make(map[string]*NativeFolder)
	}
	if s.Jobs == nil {
		s.Jobs = make(map[string]*NativeJob)
	}
	if s.Events == nil {
		s.Events = make(map[string][]ProjectEvent)
	}
	if s.ProjectEventCursor == nil {
		s.ProjectEventCursor = make(map[string]uint64)
	}
	if s.Counters == nil {
		s.Counters = make(map[string]uint64)
	}
	if s.ProjectLocks == nil {
		s.ProjectLocks = make(map[string]*ProjectLock)
	}
}
