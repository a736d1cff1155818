// Copyright (C) 2026 Ashfox Project (hello@ashfox.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package worker

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashfoxhq/ashfox/pkg/logging"
	"github.com/ashfoxhq/ashfox/services/editor/adapter"
	"github.com/ashfoxhq/ashfox/services/editor/tools"
	"github.com/ashfoxhq/ashfox/services/pipeline"
)

func quietLogger() *logging.Logger {
	return logging.New(logging.Config{Quiet: true})
}

func newFixture(t *testing.T) (*pipeline.Store, *tools.Service, *Worker) {
	t.Helper()
	store := pipeline.NewStore(pipeline.NewMemoryRepository(), quietLogger())
	backend := tools.NewService(adapter.Null{}, quietLogger(), tools.Options{})
	w := New(store, backend, "worker-test", quietLogger())
	return store, backend, w
}

func TestTickEmptyQueue(t *testing.T) {
	_, _, w := newFixture(t)
	processed, err := w.Tick(context.Background())
	require.NoError(t, err)
	assert.False(t, processed)
}

func TestGLTFConvertJob(t *testing.T) {
	ctx := context.Background()
	store, _, w := newFixture(t)

	job, err := store.SubmitJob(ctx, pipeline.JobKindGLTFConvert, "", "p1", map[string]any{
		"projectName": "fox",
		"format":      "geckolib",
		"bones": []any{
			map[string]any{"name": "root"},
			map[string]any{"name": "head", "parent": "root"},
		},
		"cubes": []any{
			map[string]any{
				"name": "skull", "bone": "head",
				"from": []any{0.0, 0.0, 0.0}, "to": []any{4.0, 4.0, 4.0},
			},
		},
		"animations": []any{
			map[string]any{"name": "idle", "fps": 20.0},
		},
	})
	require.NoError(t, err)

	processed, err := w.Tick(ctx)
	require.NoError(t, err)
	require.True(t, processed)

	stored, err := store.Job(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, pipeline.JobStatusCompleted, stored.Status, "error: %s", stored.Error)
	assert.Equal(t, "worker-test", stored.WorkerID)

	output, ok := stored.Result["output"].(map[string]any)
	require.True(t, ok)
	assert.NotEmpty(t, output["data"])
	assert.Equal(t, "geckolib_model", output["formatId"])

	t.Run("hierarchy nests by parent", func(t *testing.T) {
		hierarchy, ok := stored.Result["hierarchy"].([]any)
		require.True(t, ok)
		require.Len(t, hierarchy, 1)
		root := hierarchy[0].(map[string]any)
		assert.Equal(t, "root", root["name"])
		children := root["children"].([]any)
		require.Len(t, children, 1)
		head := children[0].(map[string]any)
		assert.Equal(t, "head", head["name"])
		assert.Equal(t, []any{"skull"}, head["cubes"])
	})

	t.Run("animations listed", func(t *testing.T) {
		assert.Equal(t, []any{"idle"}, stored.Result["animations"])
	})
}

func TestGLTFConvertToleratesBadGeometry(t *testing.T) {
	ctx := context.Background()
	store, _, w := newFixture(t)

	// A cube referencing a missing bone fails to materialize; the job
	// still completes because export works on what was built.
	job, err := store.SubmitJob(ctx, pipeline.JobKindGLTFConvert, "", "p1", map[string]any{
		"projectName": "fox",
		"format":      "geckolib",
		"bones":       []any{map[string]any{"name": "root"}},
		"cubes": []any{
			map[string]any{
				"name": "orphan", "bone": "ghost",
				"from": []any{0.0, 0.0, 0.0}, "to": []any{1.0, 1.0, 1.0},
			},
		},
	})
	require.NoError(t, err)

	_, err = w.Tick(ctx)
	require.NoError(t, err)

	stored, err := store.Job(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, pipeline.JobStatusCompleted, stored.Status)
}

func TestGLTFConvertFailsWithoutFormat(t *testing.T) {
	ctx := context.Background()
	store, _, w := newFixture(t)

	job, err := store.SubmitJob(ctx, pipeline.JobKindGLTFConvert, "", "p1", map[string]any{
		"projectName": "fox",
	})
	require.NoError(t, err)

	_, err = w.Tick(ctx)
	require.NoError(t, err)

	stored, err := store.Job(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, pipeline.JobStatusFailed, stored.Status)
	assert.Contains(t, stored.Error, "export")
}

func TestTexturePreflightJob(t *testing.T) {
	ctx := context.Background()
	store, backend, w := newFixture(t)

	// Seed the project the job will attach to.
	require.True(t, backend.CallTool(ctx, "ensure_project", map[string]any{"name": "fox"}).OK)
	require.True(t, backend.CallTool(ctx, "add_bone", map[string]any{"name": "root"}).OK)
	require.True(t, backend.CallTool(ctx, "import_texture", map[string]any{
		"name": "skin", "width": 64, "height": 64,
	}).OK)
	require.True(t, backend.CallTool(ctx, "import_texture", map[string]any{
		"name": "detail", "width": 48, "height": 48,
	}).OK)

	job, err := store.SubmitJob(ctx, pipeline.JobKindTexturePreflight, "", "p1", map[string]any{
		"projectName":        "fox",
		"maxDimension":       float64(32),
		"allowNonPowerOfTwo": false,
	})
	require.NoError(t, err)

	_, err = w.Tick(ctx)
	require.NoError(t, err)

	stored, err := store.Job(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, pipeline.JobStatusCompleted, stored.Status, "error: %s", stored.Error)

	assert.Equal(t, "fail", stored.Result["status"])
	assert.Len(t, stored.Result["checked"], 2)
	assert.Len(t, stored.Result["oversized"], 2, "both textures exceed 32px")
	assert.Len(t, stored.Result["nonPowerOfTwo"], 1, "48x48 is not a power of two")
	assert.NotEmpty(t, stored.Result["uvUsageId"])

	t.Run("relaxed constraints pass", func(t *testing.T) {
		job, err := store.SubmitJob(ctx, pipeline.JobKindTexturePreflight, "", "p1", map[string]any{
			"projectName":        "fox",
			"maxDimension":       float64(128),
			"allowNonPowerOfTwo": true,
		})
		require.NoError(t, err)
		_, err = w.Tick(ctx)
		require.NoError(t, err)

		stored, err := store.Job(ctx, job.ID)
		require.NoError(t, err)
		require.Equal(t, pipeline.JobStatusCompleted, stored.Status)
		assert.Equal(t, "ok", stored.Result["status"])
	})
}

func TestUnknownJobKindFails(t *testing.T) {
	ctx := context.Background()
	store, _, w := newFixture(t)

	job, err := store.SubmitJob(ctx, "mystery.kind", "", "", nil)
	require.NoError(t, err)

	processed, err := w.Tick(ctx)
	require.NoError(t, err)
	assert.True(t, processed)

	stored, err := store.Job(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, pipeline.JobStatusFailed, stored.Status)
	assert.Contains(t, stored.Error, "unknown job kind")
}

func TestWorkspaceFilterRequeues(t *testing.T) {
	ctx := context.Background()
	store, backend, _ := newFixture(t)

	filtered := New(store, backend, "picky", quietLogger()).
		WithWorkspaceFilter([]string{"ws-other"})
	anyWorker := New(store, backend, "greedy", quietLogger())

	job, err := store.SubmitJob(ctx, "mystery.kind", "ws-mine", "", nil)
	require.NoError(t, err)

	processed, err := filtered.Tick(ctx)
	require.NoError(t, err)
	assert.False(t, processed)

	stored, err := store.Job(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, pipeline.JobStatusQueued, stored.Status, "requeued for an eligible worker")

	processed, err = anyWorker.Tick(ctx)
	require.NoError(t, err)
	assert.True(t, processed)
}
