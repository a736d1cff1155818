// Copyright (C) 2026 Ashfox Project (hello@ashfox.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package proxy composes atomic tool calls into compound pipelines:
// one ifRevision boundary, a per-request cache keyed by the UV usage
// token, optional state/diff attachment, and UV auto-recovery.
package proxy

import (
	"context"

	"github.com/ashfoxhq/ashfox/pkg/logging"
	"github.com/ashfoxhq/ashfox/pkg/schema"
	"github.com/ashfoxhq/ashfox/services/editor/datatypes"
	"github.com/ashfoxhq/ashfox/services/editor/tools"
)

// Router fronts the tool service: compound tools are handled here,
// everything else is delegated unchanged.
type Router struct {
	backend tools.Backend
	logger  *logging.Logger
	reg     map[string]compound
	names   []string
}

type compound struct {
	Name        string
	Title       string
	Description string
	Input       schema.Object
	run         func(ctx context.Context, r *request) tools.Result
}

// New builds a proxy router over the given backend.
func New(backend tools.Backend, logger *logging.Logger) *Router {
	if logger == nil {
		logger = logging.Default()
	}
	r := &Router{backend: backend, logger: logger, reg: map[string]compound{}}
	for _, c := range compounds() {
		r.reg[c.Name] = c
		r.names = append(r.names, c.Name)
	}
	return r
}

// Names returns the compound tool names.
func (r *Router) Names() []string { return append([]string(nil), r.names...) }

// Describe returns the registry entry for a compound tool.
func (r *Router) Describe(name string) (schema.Object, string, string, bool) {
	c, ok := r.reg[name]
	return c.Input, c.Title, c.Description, ok
}

// CallTool dispatches a compound tool, or falls through to the atomic
// backend. Implements tools.Backend, so the MCP router and the worker
// see one surface.
func (r *Router) CallTool(ctx context.Context, name string, args map[string]any) tools.Result {
	c, ok := r.reg[name]
	if !ok {
		return r.backend.CallTool(ctx, name, args)
	}
	if args == nil {
		args = map[string]any{}
	}
	if !schema.IsValidated(args) {
		if v := schema.Validate(c.Input, args); v != nil {
			return tools.Fail(tools.InvalidPayload(v.Reason, v.Message).
				WithDetail("path", v.Path))
		}
	}
	// Compound argument maps never reach the atomic service, so their
	// validation marker is released here.
	defer schema.ClearValidated(args)
	req := &request{router: r, tool: name, args: args}
	req.decodeCommon()

	res := r.guarded(ctx, c, req)
	if req.attachState || req.attachDiff {
		r.attach(ctx, req, &res)
	}
	return res
}

// guarded runs the compound body behind the panic boundary.
func (r *Router) guarded(ctx context.Context, c compound, req *request) (res tools.Result) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("proxy pipeline panicked", "tool", c.Name, "panic", rec)
			res = tools.Fail(tools.Unknown(tools.ReasonProxyException, nil).
				WithDetail("tool", c.Name))
		}
	}()
	return c.run(ctx, req)
}

// attach appends the current project state and a diff against the
// pre-call snapshot. Failures surface as stateError/diffError fields,
// never as a failed result.
func (r *Router) attach(ctx context.Context, req *request, res *tools.Result) {
	state := r.backend.CallTool(ctx, "get_project_state", map[string]any{})
	if !state.OK {
		if res.Data == nil {
			res.Data = map[string]any{}
		}
		res.Data["stateError"] = state.Error
		return
	}
	snap, ok := state.Data["project"].(*datatypes.ProjectSnapshot)
	if !ok {
		if res.Data == nil {
			res.Data = map[string]any{}
		}
		res.Data["stateError"] = "project state has an unexpected shape"
		return
	}
	if req.attachState {
		res.State = snap
	}
	if req.attachDiff {
		if req.preState == nil {
			if res.Data == nil {
				res.Data = map[string]any{}
			}
			res.Data["diffError"] = "no pre-call snapshot available"
		} else {
			res.Diff = diffSnapshots(req.preState, snap)
		}
	}
}

// request carries the shared context of one compound call.
type request struct {
	router *Router
	tool   string
	args   map[string]any

	ifRevision  string
	autoRecover bool
	attachState bool
	attachDiff  bool

	preState *datatypes.ProjectSnapshot

	// Per-request memoization, valid while the UV layout is unchanged.
	cachedUsageID   string
	cachedPreflight *tools.Result

	recovery map[string]any
}

func (q *request) decodeCommon() {
	if v, ok := q.args["ifRevision"].(string); ok {
		q.ifRevision = v
	}
	if v, ok := q.args["autoRecover"].(bool); ok {
		q.autoRecover = v
	}
	if v, ok := q.args["attachState"].(bool); ok {
		q.attachState = v
	}
	if v, ok := q.args["attachDiff"].(bool); ok {
		q.attachDiff = v
	}
}

// call invokes an atomic tool. The first mutating call of the pipeline
// carries the compound's ifRevision; later calls run against the moved
// revision on purpose, that is the single-boundary contract.
func (q *request) call(ctx context.Context, name string, args map[string]any) tools.Result {
	if args == nil {
		args = map[string]any{}
	}
	return q.router.backend.CallTool(ctx, name, args)
}

// callGuarded is call with the pipeline's ifRevision applied.
func (q *request) callGuarded(ctx context.Context, name string, args map[string]any) tools.Result {
	if args == nil {
		args = map[string]any{}
	}
	if q.ifRevision != "" {
		args["ifRevision"] = q.ifRevision
	}
	res := q.call(ctx, name, args)
	if res.OK && res.Revision != "" {
		// The boundary moves with the pipeline's own writes.
		q.ifRevision = res.Revision
		q.invalidateUsage()
	}
	return res
}

func (q *request) invalidateUsage() {
	q.cachedUsageID = ""
	q.cachedPreflight = nil
}

// preflight returns the memoized preflight result, refreshing it when
// the layout token is unknown.
func (q *request) preflight(ctx context.Context) tools.Result {
	if q.cachedPreflight != nil {
		return *q.cachedPreflight
	}
	res := q.call(ctx, "preflight_texture", map[string]any{"includeUsage": true})
	if res.OK {
		q.cachedUsageID, _ = res.Data["uvUsageId"].(string)
		q.cachedPreflight = &res
	}
	return res
}

// snapshotPre captures the pre-call state once, for diff attachment.
func (q *request) snapshotPre(ctx context.Context) {
	if q.preState != nil || !q.attachDiff {
		return
	}
	state := q.call(ctx, "get_project_state", map[string]any{})
	if state.OK {
		if snap, ok := state.Data["project"].(*datatypes.ProjectSnapshot); ok {
			q.preState = snap
		}
	}
}

// recover runs the UV recovery sequence: re-atlas, re-preflight, and
// hand the fresh token back. Returns false when recovery itself failed.
func (q *request) recover(ctx context.Context, reason string) bool {
	atlas := q.callGuarded(ctx, "auto_uv_atlas", map[string]any{"apply": true})
	if !atlas.OK {
		return false
	}
	q.invalidateUsage()
	pre := q.preflight(ctx)
	if !pre.OK {
		return false
	}
	q.recovery = map[string]any{
		"reason":      reason,
		"autoUvAtlas": true,
		"uvUsageId":   q.cachedUsageID,
	}
	return true
}

// uvFailure reports whether a tool error is one auto-recovery can fix.
func uvFailure(err *tools.ToolError) bool {
	if err == nil {
		return false
	}
	switch err.Reason() {
	case tools.ReasonUVUsageChanged, "face_unmapped", "no_mapped_faces":
		return true
	}
	return false
}
