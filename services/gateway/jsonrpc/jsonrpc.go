// Copyright (C) 2026 Ashfox Project (hello@ashfox.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package jsonrpc holds the JSON-RPC 2.0 wire types and the transport
// error codes of the MCP endpoint.
package jsonrpc

import "encoding/json"

// Version is the fixed jsonrpc field value.
const Version = "2.0"

// Transport error codes. −32000 and −32004 are the implementation
// range: session and upstream errors.
const (
	CodeParseError        = -32700
	CodeInvalidRequest    = -32600
	CodeMethodNotFound    = -32601
	CodeInvalidParams     = -32602
	CodeServerError       = -32000
	CodeUpstreamGateway   = -32004
)

// Machine-readable reasons carried in Error.Data.
const (
	ReasonParseError             = "parse_error"
	ReasonInvalidRequest         = "invalid_request"
	ReasonPayloadTooLarge        = "payload_too_large"
	ReasonInitializeRequiresID   = "initialize_requires_id"
	ReasonProtocolMismatch       = "protocol_version_mismatch"
	ReasonMethodNotFound         = "method_not_found"
	ReasonMissingToolName        = "missing_tool_name"
	ReasonUnknownTool            = "unknown_tool"
	ReasonSchemaValidation       = "schema_validation_failed"
	ReasonSessionIDRequired      = "session_id_required"
	ReasonSessionUnavailable     = "session_unavailable"
	ReasonServerNotInitialized   = "server_not_initialized"
	ReasonGatewayUnreachable     = "gateway_unreachable"
)

// Request is a single JSON-RPC request or notification. A nil ID marks
// a notification.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// IsNotification reports whether the request carries no id.
func (r *Request) IsNotification() bool { return r.ID == nil }

// Response is a JSON-RPC response: exactly one of Result or Error set.
type Response struct {
	JSONRPC string           `json:"jsonrpc"`
	ID      *json.RawMessage `json:"id"`
	Result  any              `json:"result,omitempty"`
	Error   *Error           `json:"error,omitempty"`
}

// Error is the JSON-RPC error member.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// NewResult builds a success response for the given request id.
func NewResult(id *json.RawMessage, result any) Response {
	return Response{JSONRPC: Version, ID: id, Result: result}
}

// NewError builds an error response. The reason lands in Error.Data so
// clients can branch without parsing messages.
func NewError(id *json.RawMessage, code int, message, reason string) Response {
	var data any
	if reason != "" {
		data = map[string]string{"reason": reason}
	}
	return Response{
		JSONRPC: Version,
		ID:      id,
		Error:   &Error{Code: code, Message: message, Data: data},
	}
}
