// Copyright (C) 2026 Ashfox Project (hello@ashfox.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package tools implements the revision-guarded tool service: every
// named tool the gateway exposes over tools/call, plus the guard chain
// that serializes mutations against a content-hash revision.
package tools

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ashfoxhq/ashfox/pkg/logging"
	"github.com/ashfoxhq/ashfox/pkg/schema"
	"github.com/ashfoxhq/ashfox/services/editor/adapter"
	"github.com/ashfoxhq/ashfox/services/editor/datatypes"
	"github.com/ashfoxhq/ashfox/services/editor/merge"
	"github.com/ashfoxhq/ashfox/services/editor/revision"
	"github.com/ashfoxhq/ashfox/services/editor/session"
)

// Options tune the guard behavior of the service.
type Options struct {
	// RequireRevision makes every mutating tool demand an ifRevision.
	RequireRevision bool

	// AutoAttachActiveProject attaches the live editor project when a
	// mutating tool arrives with no session project.
	AutoAttachActiveProject bool

	// MergePolicy selects how session and live snapshots are fused when
	// computing the canonical snapshot. Empty means hybrid.
	MergePolicy merge.Policy

	// FormatOverrides maps editor format ids to format kinds ahead of
	// the substring fallback.
	FormatOverrides map[string]datatypes.FormatKind
}

// Service executes tools against the project session and the editor
// adapter.
//
// # Thread Safety
//
// Service serializes all tool calls through one mutex; the session,
// the revision store, and the merger are single-owner behind it.
type Service struct {
	mu sync.Mutex

	opts    Options
	project *session.Project
	revs    *revision.Store
	merger  *merge.Merger
	editor  adapter.EditorPort
	reg     *Registry
	logger  *logging.Logger
}

// NewService builds a tool service over the given editor port.
func NewService(editor adapter.EditorPort, logger *logging.Logger, opts Options) *Service {
	if opts.MergePolicy == "" {
		opts.MergePolicy = merge.PolicyHybrid
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{
		opts:    opts,
		project: session.New(),
		revs:    revision.NewStore(),
		merger:  &merge.Merger{FormatOverrides: opts.FormatOverrides},
		editor:  editor,
		reg:     NewRegistry(),
		logger:  logger,
	}
}

// Registry exposes the immutable tool registry for tools/list.
func (s *Service) Registry() *Registry { return s.reg }

// CallTool validates, guards, and executes the named tool. It never
// panics and never returns a Go error: failures are Result values.
func (s *Service) CallTool(ctx context.Context, name string, args map[string]any) Result {
	desc, ok := s.reg.Lookup(name)
	if !ok {
		return Fail(InvalidPayload("unknown_tool", "no tool named "+name))
	}
	if args == nil {
		args = map[string]any{}
	}
	if !schema.IsValidated(args) {
		if v := schema.Validate(desc.Input, args); v != nil {
			return Fail(InvalidPayload(v.Reason, v.Message).WithDetail("path", v.Path))
		}
	}
	// The marker is identity-keyed; drop it before the map can be
	// garbage collected and its address reused.
	defer schema.ClearValidated(args)

	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	res := s.callLocked(ctx, desc, args)
	if res.OK {
		s.logger.Debug("tool call", "tool", name, "ok", true,
			"durationMs", time.Since(start).Milliseconds())
	} else {
		s.logger.Debug("tool call", "tool", name, "ok", false,
			"durationMs", time.Since(start).Milliseconds(),
			"code", res.Error.Code, "reason", res.Error.Reason())
	}
	return res
}

func (s *Service) callLocked(ctx context.Context, desc Descriptor, args map[string]any) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("tool panicked", "tool", desc.Name, "panic", r)
			res = Fail(Unknown("tool_panic", nil).WithDetail("tool", desc.Name))
		}
	}()

	if desc.NeedsProject {
		if fail, stop := s.guardLocked(ctx, args, desc.Mutating); stop {
			return fail
		}
	}
	res = desc.handler(ctx, s, args)
	if res.OK && desc.Mutating && res.Revision == "" {
		res.Revision = s.revs.Track(s.currentLocked(ctx))
	}
	return res
}

// guardLocked runs the precondition chain for tools that need an
// attached project: active-project (with optional auto-attach), then
// the revision guard for mutating tools.
func (s *Service) guardLocked(ctx context.Context, args map[string]any, mutating bool) (Result, bool) {
	if !s.project.Attached() {
		if s.opts.AutoAttachActiveProject {
			if live, err := s.editor.ReadSnapshot(ctx); err == nil && live != nil {
				s.project.Attach(s.merger.Merge(nil, live, s.opts.MergePolicy))
			}
		}
		if !s.project.Attached() {
			return Fail(InvalidState(ReasonNoActiveProject, "no project is attached").
				WithFix("call create_project or ensure_project first")), true
		}
	}
	if !mutating {
		return Result{}, false
	}
	if ifRev, ok := stringArg(args, "ifRevision"); ok && ifRev != "" {
		actual := revision.Hash(s.currentLocked(ctx))
		if actual != ifRev {
			return Fail(RevisionMismatch(ifRev, actual)), true
		}
	} else if s.opts.RequireRevision {
		return Fail(InvalidState(ReasonRevisionRequired, "this deployment requires ifRevision on mutations").
			WithFix("call get_project_state and pass its revision as ifRevision")), true
	}
	return Result{}, false
}

// currentLocked returns the canonical snapshot: the session state fused
// with a best-effort live editor read under the configured policy.
func (s *Service) currentLocked(ctx context.Context) *datatypes.ProjectSnapshot {
	var sess *datatypes.ProjectSnapshot
	if s.project.Attached() {
		sess = s.project.Snapshot()
	}
	live, err := s.editor.ReadSnapshot(ctx)
	if err != nil {
		live = nil
	}
	return s.merger.Merge(sess, live, s.opts.MergePolicy)
}

// CurrentSnapshot returns the canonical snapshot with its revision
// stamped, or nil when no project exists anywhere.
func (s *Service) CurrentSnapshot(ctx context.Context) *datatypes.ProjectSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := s.currentLocked(ctx)
	if snap == nil {
		return nil
	}
	snap.Revision = s.revs.Track(snap)
	return snap
}

// sessionError translates a session-layer error into the tool taxonomy.
func sessionError(err error, noChangeOK bool) *ToolError {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, session.ErrNoProject):
		return InvalidState(ReasonNoActiveProject, err.Error())
	case errors.Is(err, session.ErrNotFound):
		return InvalidPayload("entity_not_found", err.Error())
	case errors.Is(err, session.ErrOrphan):
		return InvalidPayload("reference_not_found", err.Error())
	case errors.Is(err, session.ErrDuplicate):
		if noChangeOK {
			return NoChange("already_exists", err.Error())
		}
		return InvalidPayload("duplicate_name", err.Error())
	default:
		return Unknown("session_error", err)
	}
}
