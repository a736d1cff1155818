// Copyright (C) 2026 Ashfox Project (hello@ashfox.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package worker drains the native pipeline job queue: one job per
// tick, dispatched by kind to a processor that drives the tool backend.
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ashfoxhq/ashfox/pkg/logging"
	"github.com/ashfoxhq/ashfox/services/editor/tools"
	"github.com/ashfoxhq/ashfox/services/pipeline"
)

// DefaultPollInterval spaces queue polls when the queue is empty.
const DefaultPollInterval = 500 * time.Millisecond

// processor runs one job kind and returns the job result.
type processor func(ctx context.Context, backend tools.Backend, job *pipeline.NativeJob) (map[string]any, error)

// Worker claims and executes pipeline jobs.
//
// # Thread Safety
//
// Run is single-flight: overlapping ticks are skipped, never stacked.
type Worker struct {
	store      *pipeline.Store
	backend    tools.Backend
	id         string
	poll       time.Duration
	workspaces map[string]bool
	logger     *logging.Logger

	processors map[string]processor
	mu         sync.Mutex
}

// New creates a worker. An empty id gets a generated one.
func New(store *pipeline.Store, backend tools.Backend, id string, logger *logging.Logger) *Worker {
	if id == "" {
		id = "worker-" + uuid.New().String()[:8]
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Worker{
		store:   store,
		backend: backend,
		id:      id,
		poll:    DefaultPollInterval,
		logger:  logger.With("worker", id),
		processors: map[string]processor{
			pipeline.JobKindGLTFConvert:      processGLTFConvert,
			pipeline.JobKindTexturePreflight: processTexturePreflight,
		},
	}
}

// WithPollInterval overrides the queue poll spacing.
func (w *Worker) WithPollInterval(d time.Duration) *Worker {
	if d > 0 {
		w.poll = d
	}
	return w
}

// WithWorkspaceFilter restricts the worker to jobs from the given
// workspace ids. Jobs without a workspace are always eligible.
func (w *Worker) WithWorkspaceFilter(ids []string) *Worker {
	if len(ids) > 0 {
		w.workspaces = make(map[string]bool, len(ids))
		for _, id := range ids {
			w.workspaces[id] = true
		}
	}
	return w
}

// ID returns the worker id stamped on claimed jobs.
func (w *Worker) ID() string { return w.id }

// Run polls the queue until the context ends.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := w.Tick(ctx); err != nil {
				w.logger.Error("tick failed", "error", err)
			}
		}
	}
}

// Tick claims at most one job and runs it to completion. Returns
// whether a job was processed. A tick that overlaps a running one is a
// no-op.
func (w *Worker) Tick(ctx context.Context) (bool, error) {
	if !w.mu.TryLock() {
		return false, nil
	}
	defer w.mu.Unlock()

	job, err := w.store.ClaimNextJob(ctx, w.id)
	if err != nil {
		return false, fmt.Errorf("claim job: %w", err)
	}
	if job == nil {
		return false, nil
	}
	if w.workspaces != nil && job.WorkspaceID != "" && !w.workspaces[job.WorkspaceID] {
		// Not ours; put it back for an eligible worker.
		if err := w.store.RequeueJob(ctx, job.ID); err != nil {
			w.logger.Error("requeue failed", "job", job.ID, "error", err)
		}
		return false, nil
	}

	w.logger.Info("job claimed", "job", job.ID, "kind", job.Kind)
	run, ok := w.processors[job.Kind]
	if !ok {
		w.finish(ctx, job, nil, fmt.Errorf("unknown job kind %q", job.Kind))
		return true, nil
	}

	result, procErr := w.runProcessor(ctx, run, job)
	w.finish(ctx, job, result, procErr)
	return true, nil
}

// runProcessor shields the worker loop from processor panics.
func (w *Worker) runProcessor(ctx context.Context, run processor, job *pipeline.NativeJob) (result map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("processor panic: %v", r)
		}
	}()
	return run(ctx, w.backend, job)
}

// finish records the terminal transition. A failing failJob is logged
// and swallowed so one bad job cannot stop the loop.
func (w *Worker) finish(ctx context.Context, job *pipeline.NativeJob, result map[string]any, procErr error) {
	if procErr == nil {
		if err := w.store.CompleteJob(ctx, job.ID, result); err != nil {
			w.logger.Error("complete job failed", "job", job.ID, "error", err)
		}
		w.logger.Info("job completed", "job", job.ID, "kind", job.Kind)
		return
	}
	w.logger.Warn("job failed", "job", job.ID, "kind", job.Kind, "error", procErr)
	if err := w.store.FailJob(ctx, job.ID, procErr.Error()); err != nil {
		w.logger.Error("fail job failed", "job", job.ID, "error", err)
	}
}

// call runs one backend tool and converts business failures to errors.
func call(ctx context.Context, backend tools.Backend, name string, args map[string]any) (tools.Result, error) {
	res := backend.CallTool(ctx, name, args)
	if !res.OK {
		message := "tool failed"
		if res.Error != nil {
			message = res.Error.Message
		}
		return res, fmt.Errorf("%s: %s", name, message)
	}
	return res, nil
}

// stringField reads a string out of a JSON-shaped payload.
func stringField(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}
