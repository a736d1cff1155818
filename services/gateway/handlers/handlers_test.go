// Copyright (C) 2026 Ashfox Project (hello@ashfox.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashfoxhq/ashfox/pkg/logging"
	"github.com/ashfoxhq/ashfox/services/editor/adapter"
	"github.com/ashfoxhq/ashfox/services/editor/proxy"
	"github.com/ashfoxhq/ashfox/services/editor/tools"
	"github.com/ashfoxhq/ashfox/services/gateway/jsonrpc"
	"github.com/ashfoxhq/ashfox/services/gateway/mcpsession"
	"github.com/ashfoxhq/ashfox/services/gateway/telemetry"
)

type testStack struct {
	engine   *gin.Engine
	handlers *Handlers
	sessions *mcpsession.Store
}

func newTestStack(t *testing.T) *testStack {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := logging.New(logging.Config{Quiet: true})
	service := tools.NewService(adapter.Null{}, logger, tools.Options{})
	router := proxy.New(service, logger)
	sessions := mcpsession.NewStore(0, logger)

	h := NewHandlers(router, service.Registry(), sessions, logger).
		WithMetrics(telemetry.New())

	engine := gin.New()
	RegisterRoutes(engine.Group("/mcp"), h)
	return &testStack{engine: engine, handlers: h, sessions: sessions}
}

type rpcResponse struct {
	JSONRPC string         `json:"jsonrpc"`
	Result  map[string]any `json:"result"`
	Error   *struct {
		Code    int            `json:"code"`
		Message string         `json:"message"`
		Data    map[string]any `json:"data"`
	} `json:"error"`
}

func rpcBody(t *testing.T, id any, method string, params map[string]any) []byte {
	t.Helper()
	msg := map[string]any{"jsonrpc": "2.0", "method": method}
	if id != nil {
		msg["id"] = id
	}
	if params != nil {
		msg["params"] = params
	}
	body, err := json.Marshal(msg)
	require.NoError(t, err)
	return body
}

func (s *testStack) post(t *testing.T, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/mcp", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.engine.ServeHTTP(rec, req)
	return rec
}

func (s *testStack) rpc(t *testing.T, rec *httptest.ResponseRecorder) rpcResponse {
	t.Helper()
	var resp rpcResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

// initialize opens a session and completes the handshake.
func (s *testStack) initialize(t *testing.T) string {
	t.Helper()
	rec := s.post(t, rpcBody(t, 1, "initialize", map[string]any{"protocolVersion": "2025-06-18"}), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	sessionID := rec.Header().Get(HeaderSessionID)
	require.NotEmpty(t, sessionID)

	rec = s.post(t, rpcBody(t, nil, "notifications/initialized", nil),
		map[string]string{HeaderSessionID: sessionID})
	require.Equal(t, http.StatusAccepted, rec.Code)
	return sessionID
}

func TestInitializeHandshake(t *testing.T) {
	s := newTestStack(t)

	rec := s.post(t, rpcBody(t, 1, "initialize", map[string]any{"protocolVersion": "2025-06-18"}), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	sessionID := rec.Header().Get(HeaderSessionID)
	require.NotEmpty(t, sessionID)

	resp := s.rpc(t, rec)
	require.Nil(t, resp.Error)
	assert.Equal(t, "2025-06-18", resp.Result["protocolVersion"])
	assert.Equal(t, sessionID, resp.Result["sessionId"])
	assert.NotNil(t, resp.Result["serverInfo"])

	t.Run("unsupported version falls back to default", func(t *testing.T) {
		rec := s.post(t, rpcBody(t, 2, "initialize", map[string]any{"protocolVersion": "1999-01-01"}), nil)
		resp := s.rpc(t, rec)
		assert.Equal(t, "2025-06-18", resp.Result["protocolVersion"])
	})
}

func TestInitializeRequiresID(t *testing.T) {
	s := newTestStack(t)
	rec := s.post(t, rpcBody(t, nil, "initialize", nil), nil)
	resp := s.rpc(t, rec)
	require.NotNil(t, resp.Error)
	assert.Equal(t, jsonrpc.CodeInvalidRequest, resp.Error.Code)
	assert.Equal(t, jsonrpc.ReasonInitializeRequiresID, resp.Error.Data["reason"])
}

func TestCallBeforeInitializedNotification(t *testing.T) {
	s := newTestStack(t)
	rec := s.post(t, rpcBody(t, 1, "initialize", nil), nil)
	sessionID := rec.Header().Get(HeaderSessionID)
	require.NotEmpty(t, sessionID)

	rec = s.post(t, rpcBody(t, 2, "tools/call", map[string]any{
		"name":      "create_project",
		"arguments": map[string]any{"name": "fox"},
	}), map[string]string{HeaderSessionID: sessionID})
	resp := s.rpc(t, rec)
	require.NotNil(t, resp.Error)
	assert.Equal(t, jsonrpc.CodeServerError, resp.Error.Code)
	assert.Equal(t, jsonrpc.ReasonServerNotInitialized, resp.Error.Data["reason"])

	t.Run("every non-notification method is gated", func(t *testing.T) {
		for id, method := range map[int]string{3: "ping", 4: "tools/list", 5: "resources/list"} {
			rec := s.post(t, rpcBody(t, id, method, nil),
				map[string]string{HeaderSessionID: sessionID})
			resp := s.rpc(t, rec)
			require.NotNil(t, resp.Error, method)
			assert.Equal(t, jsonrpc.ReasonServerNotInitialized, resp.Error.Data["reason"], method)
		}
	})

	t.Run("handshake unlocks the session", func(t *testing.T) {
		rec := s.post(t, rpcBody(t, nil, "notifications/initialized", nil),
			map[string]string{HeaderSessionID: sessionID})
		require.Equal(t, http.StatusAccepted, rec.Code)

		rec = s.post(t, rpcBody(t, 6, "ping", nil),
			map[string]string{HeaderSessionID: sessionID})
		resp := s.rpc(t, rec)
		assert.Nil(t, resp.Error)
	})
}

func TestToolCallLifecycle(t *testing.T) {
	s := newTestStack(t)
	sessionID := s.initialize(t)

	rec := s.post(t, rpcBody(t, 2, "tools/call", map[string]any{
		"name":      "create_project",
		"arguments": map[string]any{"name": "fox", "format": "geckolib"},
	}), map[string]string{HeaderSessionID: sessionID})
	resp := s.rpc(t, rec)
	require.Nil(t, resp.Error)

	assert.Equal(t, false, resp.Result["isError"])
	structured, ok := resp.Result["structuredContent"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, structured["ok"])
	assert.NotEmpty(t, structured["revision"])

	content, ok := resp.Result["content"].([]any)
	require.True(t, ok)
	require.Len(t, content, 1)
	block := content[0].(map[string]any)
	assert.Equal(t, "text", block["type"])
	assert.Contains(t, block["text"], `"ok":true`)

	t.Run("business failure is a result with isError", func(t *testing.T) {
		rec := s.post(t, rpcBody(t, 3, "tools/call", map[string]any{
			"name":      "create_project",
			"arguments": map[string]any{"name": "fox2"},
		}), map[string]string{HeaderSessionID: sessionID})
		resp := s.rpc(t, rec)
		require.Nil(t, resp.Error)
		assert.Equal(t, true, resp.Result["isError"])
		structured := resp.Result["structuredContent"].(map[string]any)
		errPayload := structured["error"].(map[string]any)
		assert.Equal(t, "invalid_state", errPayload["code"])
	})
}

func TestUnknownToolAndMissingName(t *testing.T) {
	s := newTestStack(t)
	sessionID := s.initialize(t)

	t.Run("unknown tool", func(t *testing.T) {
		rec := s.post(t, rpcBody(t, 2, "tools/call", map[string]any{
			"name": "summon_dragon", "arguments": map[string]any{},
		}), map[string]string{HeaderSessionID: sessionID})
		resp := s.rpc(t, rec)
		require.NotNil(t, resp.Error)
		assert.Equal(t, jsonrpc.CodeInvalidParams, resp.Error.Code)
		assert.Equal(t, jsonrpc.ReasonUnknownTool, resp.Error.Data["reason"])
	})

	t.Run("missing name", func(t *testing.T) {
		rec := s.post(t, rpcBody(t, 3, "tools/call", map[string]any{
			"arguments": map[string]any{},
		}), map[string]string{HeaderSessionID: sessionID})
		resp := s.rpc(t, rec)
		require.NotNil(t, resp.Error)
		assert.Equal(t, jsonrpc.CodeInvalidParams, resp.Error.Code)
		assert.Equal(t, jsonrpc.ReasonMissingToolName, resp.Error.Data["reason"])
	})

	t.Run("schema violation", func(t *testing.T) {
		rec := s.post(t, rpcBody(t, 4, "tools/call", map[string]any{
			"name":      "create_project",
			"arguments": map[string]any{"name": 42},
		}), map[string]string{HeaderSessionID: sessionID})
		resp := s.rpc(t, rec)
		require.NotNil(t, resp.Error)
		assert.Equal(t, jsonrpc.CodeInvalidParams, resp.Error.Code)
		assert.Equal(t, jsonrpc.ReasonSchemaValidation, resp.Error.Data["reason"])
		assert.Equal(t, "name", resp.Error.Data["path"])
	})
}

func TestProtocolVersionMismatch(t *testing.T) {
	s := newTestStack(t)
	sessionID := s.initialize(t)

	rec := s.post(t, rpcBody(t, 2, "ping", nil), map[string]string{
		HeaderSessionID:       sessionID,
		HeaderProtocolVersion: "2024-01-01",
	})
	resp := s.rpc(t, rec)
	require.NotNil(t, resp.Error)
	assert.Equal(t, jsonrpc.CodeInvalidRequest, resp.Error.Code)
	assert.Equal(t, jsonrpc.ReasonProtocolMismatch, resp.Error.Data["reason"])
}

func TestParseAndRequestErrors(t *testing.T) {
	s := newTestStack(t)

	t.Run("invalid JSON", func(t *testing.T) {
		rec := s.post(t, []byte("{not json"), nil)
		resp := s.rpc(t, rec)
		require.NotNil(t, resp.Error)
		assert.Equal(t, jsonrpc.CodeParseError, resp.Error.Code)
	})

	t.Run("missing jsonrpc version", func(t *testing.T) {
		rec := s.post(t, []byte(`{"id":1,"method":"ping"}`), nil)
		resp := s.rpc(t, rec)
		require.NotNil(t, resp.Error)
		assert.Equal(t, jsonrpc.CodeInvalidRequest, resp.Error.Code)
	})

	t.Run("unknown method", func(t *testing.T) {
		sessionID := s.initialize(t)
		rec := s.post(t, rpcBody(t, 2, "prompts/list", nil),
			map[string]string{HeaderSessionID: sessionID})
		resp := s.rpc(t, rec)
		require.NotNil(t, resp.Error)
		assert.Equal(t, jsonrpc.CodeMethodNotFound, resp.Error.Code)
	})
}

func TestSessionResolution(t *testing.T) {
	s := newTestStack(t)

	t.Run("non-whitelist method without session id", func(t *testing.T) {
		rec := s.post(t, rpcBody(t, 1, "roots/list", nil), nil)
		resp := s.rpc(t, rec)
		require.NotNil(t, resp.Error)
		assert.Equal(t, jsonrpc.CodeServerError, resp.Error.Code)
		assert.Equal(t, jsonrpc.ReasonSessionIDRequired, resp.Error.Data["reason"])
	})

	t.Run("unknown session id", func(t *testing.T) {
		rec := s.post(t, rpcBody(t, 1, "ping", nil),
			map[string]string{HeaderSessionID: "nope"})
		resp := s.rpc(t, rec)
		require.NotNil(t, resp.Error)
		assert.Equal(t, jsonrpc.ReasonSessionUnavailable, resp.Error.Data["reason"])
	})

	t.Run("ping without session gets an implicit one", func(t *testing.T) {
		rec := s.post(t, rpcBody(t, 1, "ping", nil), nil)
		resp := s.rpc(t, rec)
		require.Nil(t, resp.Error)
		assert.NotEmpty(t, rec.Header().Get(HeaderSessionID))
	})
}

func TestBodySizeCap(t *testing.T) {
	s := newTestStack(t)
	s.handlers.WithLimits(Limits{MaxBodyBytes: 512, MaxHeaderBytes: 16 * 1024})
	sessionID := s.initialize(t)

	pad := func(total int) []byte {
		base := rpcBody(t, 1, "ping", map[string]any{"pad": ""})
		// Grow the pad field until the message hits the exact size.
		filler := strings.Repeat("x", total-len(base))
		return bytes.Replace(base, []byte(`"pad":""`), []byte(`"pad":"`+filler+`"`), 1)
	}

	t.Run("at the cap is accepted", func(t *testing.T) {
		body := pad(512)
		require.Len(t, body, 512)
		rec := s.post(t, body, map[string]string{HeaderSessionID: sessionID})
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("one byte over is rejected", func(t *testing.T) {
		body := pad(513)
		require.Len(t, body, 513)
		rec := s.post(t, body, map[string]string{HeaderSessionID: sessionID})
		assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
		resp := s.rpc(t, rec)
		require.NotNil(t, resp.Error)
		assert.Equal(t, jsonrpc.ReasonPayloadTooLarge, resp.Error.Data["reason"])
	})
}

func TestHeaderBlockCap(t *testing.T) {
	s := newTestStack(t)
	s.handlers.WithLimits(Limits{MaxBodyBytes: 5_000_000, MaxHeaderBytes: 128})

	rec := s.post(t, rpcBody(t, 1, "ping", nil), map[string]string{
		"X-Big-Header": strings.Repeat("y", 256),
	})
	assert.Equal(t, http.StatusRequestHeaderFieldsTooLarge, rec.Code)
}

func TestToolsListCatalog(t *testing.T) {
	s := newTestStack(t)
	sessionID := s.initialize(t)

	rec := s.post(t, rpcBody(t, 2, "tools/list", nil),
		map[string]string{HeaderSessionID: sessionID})
	resp := s.rpc(t, rec)
	require.Nil(t, resp.Error)

	listed, ok := resp.Result["tools"].([]any)
	require.True(t, ok)
	names := map[string]bool{}
	for _, item := range listed {
		entry := item.(map[string]any)
		names[entry["name"].(string)] = true
		assert.NotNil(t, entry["inputSchema"], "every tool carries a schema")
	}
	assert.True(t, names["create_project"], "atomic tools listed")
	assert.True(t, names["entity_pipeline"], "compound tools listed")
}

func TestResourcesReadFingerprint(t *testing.T) {
	s := newTestStack(t)
	sessionID := s.initialize(t)

	rec := s.post(t, rpcBody(t, 2, "resources/read", map[string]any{
		"uri": ResourceToolFingerprint,
	}), map[string]string{HeaderSessionID: sessionID})
	resp := s.rpc(t, rec)
	require.Nil(t, resp.Error)

	contents := resp.Result["contents"].([]any)
	require.Len(t, contents, 1)
	entry := contents[0].(map[string]any)
	assert.Equal(t, ResourceToolFingerprint, entry["uri"])
	assert.Contains(t, entry["text"], "fingerprint")

	t.Run("unknown uri is rejected", func(t *testing.T) {
		rec := s.post(t, rpcBody(t, 3, "resources/read", map[string]any{
			"uri": "ashfox://nope",
		}), map[string]string{HeaderSessionID: sessionID})
		resp := s.rpc(t, rec)
		require.NotNil(t, resp.Error)
		assert.Equal(t, jsonrpc.CodeInvalidParams, resp.Error.Code)
	})
}

func TestSSEGuards(t *testing.T) {
	s := newTestStack(t)
	sessionID := s.initialize(t)

	get := func(headers map[string]string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/mcp", nil)
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		rec := httptest.NewRecorder()
		s.engine.ServeHTTP(rec, req)
		return rec
	}

	t.Run("requires event-stream accept", func(t *testing.T) {
		rec := get(map[string]string{HeaderSessionID: sessionID})
		assert.Equal(t, http.StatusNotAcceptable, rec.Code)
	})

	t.Run("requires session id", func(t *testing.T) {
		rec := get(map[string]string{"Accept": "text/event-stream"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown session", func(t *testing.T) {
		rec := get(map[string]string{"Accept": "text/event-stream", HeaderSessionID: "nope"})
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("fourth stream is refused", func(t *testing.T) {
		sess := s.sessions.Get(sessionID)
		require.NotNil(t, sess)
		for i := 0; i < mcpsession.MaxSSEConnections; i++ {
			require.NoError(t, s.sessions.AttachSSE(sess, newSSEConn()))
		}
		rec := get(map[string]string{"Accept": "text/event-stream", HeaderSessionID: sessionID})
		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	})
}

func TestDeleteClosesSession(t *testing.T) {
	s := newTestStack(t)
	sessionID := s.initialize(t)

	req := httptest.NewRequest(http.MethodDelete, "/mcp", nil)
	req.Header.Set(HeaderSessionID, sessionID)
	rec := httptest.NewRecorder()
	s.engine.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)

	t.Run("closed session is unavailable", func(t *testing.T) {
		rec := s.post(t, rpcBody(t, 2, "ping", nil),
			map[string]string{HeaderSessionID: sessionID})
		resp := s.rpc(t, rec)
		require.NotNil(t, resp.Error)
		assert.Equal(t, jsonrpc.ReasonSessionUnavailable, resp.Error.Data["reason"])
	})
}

func TestUpstreamForwarding(t *testing.T) {
	t.Run("relays the raw message", func(t *testing.T) {
		upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `{"jsonrpc":"2.0","id":2,"result":{"forwarded":true}}`)
		}))
		defer upstream.Close()

		s := newTestStack(t)
		s.handlers.WithUpstream(upstream.URL)
		sessionID := s.initialize(t)

		rec := s.post(t, rpcBody(t, 2, "tools/call", map[string]any{
			"name": "create_project", "arguments": map[string]any{"name": "fox"},
		}), map[string]string{HeaderSessionID: sessionID})
		resp := s.rpc(t, rec)
		require.Nil(t, resp.Error)
		assert.Equal(t, true, resp.Result["forwarded"])
	})

	t.Run("unreachable upstream maps to the gateway code", func(t *testing.T) {
		s := newTestStack(t)
		s.handlers.WithUpstream("http://127.0.0.1:1/mcp")
		sessionID := s.initialize(t)

		rec := s.post(t, rpcBody(t, 2, "tools/call", map[string]any{
			"name": "create_project", "arguments": map[string]any{"name": "fox"},
		}), map[string]string{HeaderSessionID: sessionID})
		resp := s.rpc(t, rec)
		require.NotNil(t, resp.Error)
		assert.Equal(t, jsonrpc.CodeUpstreamGateway, resp.Error.Code)
		assert.Equal(t, jsonrpc.ReasonGatewayUnreachable, resp.Error.Data["reason"])
	})
}

func TestEventRingReplay(t *testing.T) {
	ring := newEventRing(3)
	for i := 0; i < 5; i++ {
		ring.publish("project.snapshot", []byte(fmt.Sprintf(`{"n":%d}`, i)))
	}

	replay := ring.since(2)
	require.Len(t, replay, 3, "ring keeps the newest three")
	assert.Equal(t, uint64(3), replay[0].ID)
	assert.Equal(t, uint64(5), replay[2].ID)

	t.Run("fresh client gets everything retained", func(t *testing.T) {
		assert.Len(t, ring.since(0), 3)
	})
}
