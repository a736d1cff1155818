// Copyright (C) 2026 Ashfox Project (hello@ashfox.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ashfoxhq/ashfox/services/gateway/jsonrpc"
	"github.com/ashfoxhq/ashfox/services/gateway/mcpsession"
)

// Resource URIs served by the gateway.
const (
	ResourceProjectState    = "ashfox://project/state"
	ResourceToolFingerprint = "ashfox://tools/fingerprint"
	ResourceServerInfo      = "ashfox://server/info"
)

// resourceCatalog lists the readable resources.
func (h *Handlers) resourceCatalog() map[string]any {
	return map[string]any{
		"resources": []map[string]any{
			{
				"uri":         ResourceProjectState,
				"name":        "Active project state",
				"description": "Snapshot of the active project, including the current revision",
				"mimeType":    "application/json",
			},
			{
				"uri":         ResourceToolFingerprint,
				"name":        "Tool surface fingerprint",
				"description": "Stable hash of the atomic tool names and schemas",
				"mimeType":    "application/json",
			},
			{
				"uri":         ResourceServerInfo,
				"name":        "Server info",
				"description": "Gateway name, version, and supported protocol versions",
				"mimeType":    "application/json",
			},
		},
	}
}

// handleResourcesRead serves one resource by uri.
func (h *Handlers) handleResourcesRead(c *gin.Context, req *jsonrpc.Request) {
	var params struct {
		URI string `json:"uri"`
	}
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			h.transportError(c, http.StatusOK, req.ID,
				jsonrpc.CodeInvalidParams, "malformed resources/read params", jsonrpc.ReasonInvalidRequest)
			return
		}
	}

	var payload any
	switch params.URI {
	case ResourceProjectState:
		res := h.router.CallTool(c.Request.Context(), "get_project_state", map[string]any{})
		payload = resultPayload(res)
	case ResourceToolFingerprint:
		payload = map[string]any{"fingerprint": h.registry.Fingerprint()}
	case ResourceServerInfo:
		payload = map[string]any{
			"serverInfo":        ServerInfo,
			"protocolVersions":  h.protocols,
			"maxBodyBytes":      h.limits.MaxBodyBytes,
			"maxSSEConnections": mcpsession.MaxSSEConnections,
		}
	default:
		h.transportError(c, http.StatusOK, req.ID,
			jsonrpc.CodeInvalidParams, "unknown resource "+params.URI, jsonrpc.ReasonInvalidRequest)
		return
	}

	text, err := json.Marshal(payload)
	if err != nil {
		h.transportError(c, http.StatusOK, req.ID,
			jsonrpc.CodeServerError, "resource not serializable", jsonrpc.ReasonInvalidRequest)
		return
	}
	c.JSON(http.StatusOK, jsonrpc.NewResult(req.ID, map[string]any{
		"contents": []map[string]any{
			{"uri": params.URI, "mimeType": "application/json", "text": string(text)},
		},
	}))
}
