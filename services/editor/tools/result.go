// Copyright (C) 2026 Ashfox Project (hello@ashfox.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package tools

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/ashfoxhq/ashfox/services/editor/datatypes"
)

// Result is the outcome of one tool call: either OK with data and the
// post-call revision, or a ToolError. State, Diff, and Recovery are
// filled by the proxy layer when the caller asked for them.
type Result struct {
	OK       bool           `json:"ok"`
	Data     map[string]any `json:"data,omitempty"`
	Revision string         `json:"revision,omitempty"`
	Error    *ToolError     `json:"error,omitempty"`

	State    *datatypes.ProjectSnapshot `json:"state,omitempty"`
	Diff     map[string]any             `json:"diff,omitempty"`
	Recovery map[string]any             `json:"recovery,omitempty"`
}

// Ok builds a successful result.
func Ok(data map[string]any) Result {
	return Result{OK: true, Data: data}
}

// Fail builds a failed result.
func Fail(err *ToolError) Result {
	return Result{OK: false, Error: err}
}

// Backend is the tool invocation capability handed to the MCP router,
// the proxy layer, and the pipeline worker.
type Backend interface {
	CallTool(ctx context.Context, name string, args map[string]any) Result
}

// decode maps loosely-typed JSON arguments onto a typed payload struct.
// Unknown fields are tolerated: the schema already rejected anything the
// tool does not understand.
func decode(args map[string]any, dst any) *ToolError {
	raw, err := json.Marshal(args)
	if err != nil {
		return InvalidPayload("malformed_arguments", err.Error())
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	if err := dec.Decode(dst); err != nil {
		return InvalidPayload("malformed_arguments", err.Error())
	}
	return nil
}

// stringArg reads a top-level string argument without a full decode.
func stringArg(args map[string]any, key string) (string, bool) {
	v, ok := args[key].(string)
	return v, ok
}
