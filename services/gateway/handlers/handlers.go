// Copyright (C) 2026 Ashfox Project (hello@ashfox.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package handlers implements the MCP endpoint: JSON-RPC dispatch over
// POST, the SSE stream over GET, and session teardown over DELETE.
package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ashfoxhq/ashfox/pkg/logging"
	"github.com/ashfoxhq/ashfox/pkg/schema"
	"github.com/ashfoxhq/ashfox/services/editor/proxy"
	"github.com/ashfoxhq/ashfox/services/editor/tools"
	"github.com/ashfoxhq/ashfox/services/gateway/jsonrpc"
	"github.com/ashfoxhq/ashfox/services/gateway/mcpsession"
	"github.com/ashfoxhq/ashfox/services/gateway/telemetry"
	"github.com/ashfoxhq/ashfox/services/gateway/tracelog"
)

// Wire headers of the MCP transport.
const (
	HeaderSessionID       = "Mcp-Session-Id"
	HeaderProtocolVersion = "Mcp-Protocol-Version"
	HeaderLastEventID     = "Last-Event-ID"
)

// ServerInfo identifies this gateway in initialize responses.
var ServerInfo = map[string]any{
	"name":    "ashfox",
	"version": "2.1.0",
}

// implicitSessionMethods may be called without a session header; the
// gateway creates a short-lived initialized session on the fly so
// stateless clients can probe the server.
var implicitSessionMethods = map[string]bool{
	"ping":                     true,
	"tools/list":               true,
	"tools/call":               true,
	"resources/list":           true,
	"resources/read":           true,
	"resources/templates/list": true,
}

// Handlers carries the dependencies of the MCP endpoint.
type Handlers struct {
	sessions  *mcpsession.Store
	router    *proxy.Router
	registry  *tools.Registry
	limits    Limits
	protocols []string

	metrics  *telemetry.Metrics
	recorder *tracelog.Recorder
	upstream *upstreamClient
	ring     *eventRing
	logger   *logging.Logger
}

// Limits bounds a single POST message.
type Limits struct {
	MaxBodyBytes   int64
	MaxHeaderBytes int
}

// NewHandlers creates the handler set. The router dispatches both
// atomic and compound tools; the registry supplies atomic schemas for
// tools/list.
func NewHandlers(router *proxy.Router, registry *tools.Registry, sessions *mcpsession.Store, logger *logging.Logger) *Handlers {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handlers{
		sessions:  sessions,
		router:    router,
		registry:  registry,
		limits:    Limits{MaxBodyBytes: 5_000_000, MaxHeaderBytes: 16 * 1024},
		protocols: []string{"2025-06-18", "2025-03-26"},
		ring:      newEventRing(256),
		logger:    logger,
	}
}

// WithMetrics attaches the prometheus metric set.
func (h *Handlers) WithMetrics(m *telemetry.Metrics) *Handlers {
	h.metrics = m
	return h
}

// WithRecorder attaches a trace recorder; every tool call is appended.
func (h *Handlers) WithRecorder(r *tracelog.Recorder) *Handlers {
	h.recorder = r
	return h
}

// WithUpstream forwards tools/call to another gateway instead of the
// local backend. Used when this process fronts a remote editor host.
func (h *Handlers) WithUpstream(url string) *Handlers {
	if url != "" {
		h.upstream = newUpstreamClient(url)
	}
	return h
}

// WithLimits overrides the request size caps. Intended for tests.
func (h *Handlers) WithLimits(limits Limits) *Handlers {
	h.limits = limits
	return h
}

// WithProtocols overrides the supported protocol versions; the first
// entry is the negotiation default.
func (h *Handlers) WithProtocols(versions []string) *Handlers {
	if len(versions) > 0 {
		h.protocols = versions
	}
	return h
}

// HandleMCPPost processes one JSON-RPC message.
//
// Dispatch order: size caps, parse, initialize handling, session
// resolution, protocol check, then the method table. Notifications get
// 202 with an empty body even on failure; only requests carry error
// responses.
func (h *Handlers) HandleMCPPost(c *gin.Context) {
	setCORS(c)

	if headerBytes(c.Request) > h.limits.MaxHeaderBytes {
		h.transportError(c, http.StatusRequestHeaderFieldsTooLarge, nil,
			jsonrpc.CodeInvalidRequest, "header block too large", jsonrpc.ReasonInvalidRequest)
		return
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, h.limits.MaxBodyBytes+1))
	if err != nil {
		h.transportError(c, http.StatusBadRequest, nil,
			jsonrpc.CodeInvalidRequest, "unreadable request body", jsonrpc.ReasonInvalidRequest)
		return
	}
	if int64(len(body)) > h.limits.MaxBodyBytes {
		h.transportError(c, http.StatusRequestEntityTooLarge, nil,
			jsonrpc.CodeInvalidRequest, "request body too large", jsonrpc.ReasonPayloadTooLarge)
		return
	}

	var req jsonrpc.Request
	if err := json.Unmarshal(body, &req); err != nil {
		h.transportError(c, http.StatusOK, nil,
			jsonrpc.CodeParseError, "invalid JSON", jsonrpc.ReasonParseError)
		return
	}
	if req.JSONRPC != jsonrpc.Version || req.Method == "" {
		h.transportError(c, http.StatusOK, req.ID,
			jsonrpc.CodeInvalidRequest, "not a JSON-RPC 2.0 request", jsonrpc.ReasonInvalidRequest)
		return
	}

	if req.Method == "initialize" {
		h.handleInitialize(c, &req)
		return
	}

	sess, errResp := h.resolveSession(c, &req)
	if errResp != nil {
		if req.IsNotification() {
			c.Status(http.StatusAccepted)
			return
		}
		c.JSON(http.StatusOK, *errResp)
		return
	}
	h.sessions.Touch(sess)

	if v := c.GetHeader(HeaderProtocolVersion); v != "" && sess.ProtocolVersion != "" && v != sess.ProtocolVersion {
		h.transportError(c, http.StatusOK, req.ID,
			jsonrpc.CodeInvalidRequest, "protocol version does not match session", jsonrpc.ReasonProtocolMismatch)
		return
	}

	if strings.HasPrefix(req.Method, "notifications/") {
		if req.Method == "notifications/initialized" {
			h.sessions.MarkInitialized(sess)
		}
		c.Status(http.StatusAccepted)
		return
	}

	// A created session accepts nothing but notifications until the
	// initialized handshake completes.
	if !sess.Initialized {
		h.transportError(c, http.StatusOK, req.ID,
			jsonrpc.CodeServerError, "call notifications/initialized first", jsonrpc.ReasonServerNotInitialized)
		return
	}

	switch req.Method {
	case "ping":
		c.JSON(http.StatusOK, jsonrpc.NewResult(req.ID, map[string]any{}))
	case "tools/list":
		c.JSON(http.StatusOK, jsonrpc.NewResult(req.ID, h.toolCatalog()))
	case "tools/call":
		h.handleToolsCall(c, sess, &req, body)
	case "resources/list":
		c.JSON(http.StatusOK, jsonrpc.NewResult(req.ID, h.resourceCatalog()))
	case "resources/read":
		h.handleResourcesRead(c, &req)
	case "resources/templates/list":
		c.JSON(http.StatusOK, jsonrpc.NewResult(req.ID, map[string]any{
			"resourceTemplates": []any{},
		}))
	default:
		h.transportError(c, http.StatusOK, req.ID,
			jsonrpc.CodeMethodNotFound, "unknown method "+req.Method, jsonrpc.ReasonMethodNotFound)
	}
}

// handleInitialize negotiates a protocol version and opens a session.
// An initialize without an id is unanswerable, so it is rejected
// outright instead of being treated as a notification.
func (h *Handlers) handleInitialize(c *gin.Context, req *jsonrpc.Request) {
	if req.IsNotification() {
		h.transportError(c, http.StatusOK, nil,
			jsonrpc.CodeInvalidRequest, "initialize requires an id", jsonrpc.ReasonInitializeRequiresID)
		return
	}

	var params struct {
		ProtocolVersion string `json:"protocolVersion"`
	}
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			h.transportError(c, http.StatusOK, req.ID,
				jsonrpc.CodeInvalidParams, "malformed initialize params", jsonrpc.ReasonInvalidRequest)
			return
		}
	}

	version := h.negotiate(params.ProtocolVersion)
	sess := h.sessions.Create(version)
	h.syncGauges()

	c.Header(HeaderSessionID, sess.ID)
	c.JSON(http.StatusOK, jsonrpc.NewResult(req.ID, map[string]any{
		"protocolVersion": version,
		"capabilities": map[string]any{
			"tools":     map[string]any{"listChanged": false},
			"resources": map[string]any{},
		},
		"serverInfo": ServerInfo,
		"sessionId":  sess.ID,
	}))
}

// negotiate returns the requested version when supported, otherwise the
// server default.
func (h *Handlers) negotiate(requested string) string {
	for _, v := range h.protocols {
		if v == requested {
			return v
		}
	}
	return h.protocols[0]
}

// resolveSession maps the session header to a live session. Methods on
// the implicit whitelist get a fresh initialized session when the
// header is absent.
func (h *Handlers) resolveSession(c *gin.Context, req *jsonrpc.Request) (*mcpsession.Session, *jsonrpc.Response) {
	id := c.GetHeader(HeaderSessionID)
	if id == "" {
		if implicitSessionMethods[req.Method] {
			sess := h.sessions.Create(h.protocols[0])
			h.sessions.MarkInitialized(sess)
			h.syncGauges()
			c.Header(HeaderSessionID, sess.ID)
			return sess, nil
		}
		h.observeTransportError(jsonrpc.ReasonSessionIDRequired)
		resp := jsonrpc.NewError(req.ID, jsonrpc.CodeServerError,
			"Mcp-Session-Id header required", jsonrpc.ReasonSessionIDRequired)
		return nil, &resp
	}
	sess := h.sessions.Get(id)
	if sess == nil {
		h.observeTransportError(jsonrpc.ReasonSessionUnavailable)
		resp := jsonrpc.NewError(req.ID, jsonrpc.CodeServerError,
			"unknown or expired session", jsonrpc.ReasonSessionUnavailable)
		return nil, &resp
	}
	return sess, nil
}

// handleToolsCall runs one tool and wraps the result in the MCP tool
// envelope. Business failures are results with isError, not transport
// errors; the transport layer only rejects what it cannot dispatch.
func (h *Handlers) handleToolsCall(c *gin.Context, sess *mcpsession.Session, req *jsonrpc.Request, rawBody []byte) {
	var params struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	}
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			h.transportError(c, http.StatusOK, req.ID,
				jsonrpc.CodeInvalidParams, "malformed tools/call params", jsonrpc.ReasonInvalidRequest)
			return
		}
	}
	if params.Name == "" {
		h.transportError(c, http.StatusOK, req.ID,
			jsonrpc.CodeInvalidParams, "tool name is required", jsonrpc.ReasonMissingToolName)
		return
	}
	if params.Arguments == nil {
		params.Arguments = map[string]any{}
	}

	if h.upstream != nil {
		h.forwardToolsCall(c, req, rawBody)
		return
	}

	input, known := h.toolInput(params.Name)
	if !known {
		h.transportError(c, http.StatusOK, req.ID,
			jsonrpc.CodeInvalidParams, "unknown tool "+params.Name, jsonrpc.ReasonUnknownTool)
		return
	}
	if v := schema.Validate(input, params.Arguments); v != nil {
		h.observeTransportError(jsonrpc.ReasonSchemaValidation)
		resp := jsonrpc.NewError(req.ID, jsonrpc.CodeInvalidParams, v.Message, jsonrpc.ReasonSchemaValidation)
		resp.Error.Data = map[string]any{
			"reason": jsonrpc.ReasonSchemaValidation,
			"path":   v.Path,
		}
		c.JSON(http.StatusOK, resp)
		return
	}

	started := time.Now()
	res := h.router.CallTool(c.Request.Context(), params.Name, params.Arguments)
	elapsed := time.Since(started).Seconds()

	if h.metrics != nil {
		h.metrics.ObserveToolCall(params.Name, res.OK, elapsed)
	}
	structured := resultPayload(res)
	if h.recorder != nil {
		if err := h.recorder.RecordFull(tracelog.Step{
			Op:       params.Name,
			Payload:  params.Arguments,
			Response: structured,
			State:    res.State,
			Diff:     res.Diff,
		}); err != nil {
			h.logger.Warn("trace record failed", "tool", params.Name, "error", err)
		}
	}
	h.logger.Info("tool call", "tool", params.Name, "ok", res.OK, "seconds", elapsed)

	c.JSON(http.StatusOK, jsonrpc.NewResult(req.ID, toolEnvelope(res, structured)))
}

// forwardToolsCall relays the raw message to the upstream gateway.
func (h *Handlers) forwardToolsCall(c *gin.Context, req *jsonrpc.Request, rawBody []byte) {
	resp, err := h.upstream.relay(c.Request.Context(), rawBody)
	if err != nil {
		h.observeTransportError(jsonrpc.ReasonGatewayUnreachable)
		h.logger.Error("upstream gateway unreachable", "error", err)
		h.transportError(c, http.StatusOK, req.ID,
			jsonrpc.CodeUpstreamGateway, "upstream gateway unreachable", jsonrpc.ReasonGatewayUnreachable)
		return
	}
	c.Data(http.StatusOK, "application/json", resp)
}

// toolInput resolves the input schema for an atomic or compound tool.
func (h *Handlers) toolInput(name string) (schema.Object, bool) {
	if desc, ok := h.registry.Lookup(name); ok {
		return desc.Input, true
	}
	if input, _, _, ok := h.router.Describe(name); ok {
		return input, true
	}
	return schema.Object{}, false
}

// toolCatalog lists every atomic and compound tool with its schema.
func (h *Handlers) toolCatalog() map[string]any {
	var listed []map[string]any
	for _, desc := range h.registry.List() {
		listed = append(listed, map[string]any{
			"name":        desc.Name,
			"title":       desc.Title,
			"description": desc.Description,
			"inputSchema": desc.Input.JSONSchema(),
		})
	}
	for _, name := range h.router.Names() {
		input, title, description, ok := h.router.Describe(name)
		if !ok {
			continue
		}
		listed = append(listed, map[string]any{
			"name":        name,
			"title":       title,
			"description": description,
			"inputSchema": input.JSONSchema(),
		})
	}
	return map[string]any{"tools": listed}
}

// PublishEvent broadcasts a named event to every SSE stream and keeps
// it in the replay ring.
func (h *Handlers) PublishEvent(name string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.logger.Warn("event payload not serializable", "event", name, "error", err)
		return
	}
	event := h.ring.publish(name, data)
	h.sessions.Broadcast(event)
}

// transportError writes a JSON-RPC error response and counts it.
func (h *Handlers) transportError(c *gin.Context, status int, id *json.RawMessage, code int, message, reason string) {
	h.observeTransportError(reason)
	c.JSON(status, jsonrpc.NewError(id, code, message, reason))
}

func (h *Handlers) observeTransportError(reason string) {
	if h.metrics != nil {
		h.metrics.ObserveTransportError(reason)
	}
}

func (h *Handlers) syncGauges() {
	if h.metrics == nil {
		return
	}
	sessions, streams := h.sessions.Counts()
	h.metrics.SetSessionCounts(sessions, streams)
}

// toolEnvelope shapes a tool result as an MCP tools/call result: the
// JSON text block for plain-text clients plus the structured payload.
func toolEnvelope(res tools.Result, structured map[string]any) map[string]any {
	text, err := json.Marshal(structured)
	if err != nil {
		text = []byte(`{"ok":false}`)
	}
	return map[string]any{
		"content": []map[string]any{
			{"type": "text", "text": string(text)},
		},
		"structuredContent": structured,
		"isError":           !res.OK,
	}
}

// resultPayload flattens a tool result into its wire form.
func resultPayload(res tools.Result) map[string]any {
	payload := map[string]any{"ok": res.OK}
	if len(res.Data) > 0 {
		payload["data"] = res.Data
	}
	if res.Revision != "" {
		payload["revision"] = res.Revision
	}
	if res.Error != nil {
		errPayload := map[string]any{
			"code":    res.Error.Code,
			"message": res.Error.Message,
		}
		if res.Error.Fix != "" {
			errPayload["fix"] = res.Error.Fix
		}
		if len(res.Error.Details) > 0 {
			errPayload["details"] = res.Error.Details
		}
		payload["error"] = errPayload
	}
	if res.State != nil {
		payload["state"] = res.State
	}
	if res.Diff != nil {
		payload["diff"] = res.Diff
	}
	if len(res.Recovery) > 0 {
		payload["recovery"] = res.Recovery
	}
	return payload
}

// headerBytes approximates the size of the request header block.
func headerBytes(r *http.Request) int {
	total := len(r.Method) + len(r.RequestURI) + len(r.Proto)
	for name, values := range r.Header {
		for _, v := range values {
			total += len(name) + len(v) + 4
		}
	}
	return total
}

// setCORS applies the fixed cross-origin policy of the MCP endpoint.
func setCORS(c *gin.Context) {
	c.Header("Access-Control-Allow-Origin", "*")
	c.Header("Access-Control-Expose-Headers", "Mcp-Session-Id")
}
