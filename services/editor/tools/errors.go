// Copyright (C) 2026 Ashfox Project (hello@ashfox.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package tools

import "fmt"

// Error codes for tool failures. These are wire values: clients branch
// on them, so they never change between releases.
const (
	CodeInvalidPayload    = "invalid_payload"
	CodeInvalidState      = "invalid_state"
	CodeUnsupportedFormat = "unsupported_format"
	CodeNoChange          = "no_change"
	CodeIOError           = "io_error"
	CodeNotImplemented    = "not_implemented"
	CodeUnknown           = "unknown"
)

// Machine-readable reasons carried in Details["reason"].
const (
	ReasonRevisionMismatch = "revision_mismatch"
	ReasonRevisionRequired = "revision_required"
	ReasonNoActiveProject  = "no_active_project"
	ReasonUVUsageChanged   = "uv_usage_changed"
	ReasonProxyException   = "proxy_exception"
)

// ToolError is the failure value every usecase returns instead of
// throwing. Message is human-readable; Fix suggests the next action;
// Details carries machine-readable context, always including "reason".
type ToolError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Fix     string         `json:"fix,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *ToolError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Reason returns Details["reason"], or "" when absent.
func (e *ToolError) Reason() string {
	if e == nil || e.Details == nil {
		return ""
	}
	if r, ok := e.Details["reason"].(string); ok {
		return r
	}
	return ""
}

// WithFix returns the error with its suggested next action set.
func (e *ToolError) WithFix(fix string) *ToolError {
	e.Fix = fix
	return e
}

// WithDetail returns the error with an extra detail entry set.
func (e *ToolError) WithDetail(key string, value any) *ToolError {
	if e.Details == nil {
		e.Details = map[string]any{}
	}
	e.Details[key] = value
	return e
}

// InvalidPayload reports caller-supplied data that failed validation.
func InvalidPayload(reason, message string) *ToolError {
	return &ToolError{
		Code:    CodeInvalidPayload,
		Message: message,
		Details: map[string]any{"reason": reason},
	}
}

// InvalidState reports an operation refused because preconditions do
// not hold.
func InvalidState(reason, message string) *ToolError {
	return &ToolError{
		Code:    CodeInvalidState,
		Message: message,
		Details: map[string]any{"reason": reason},
	}
}

// UnsupportedFormat reports an unknown or disabled format kind.
func UnsupportedFormat(format string) *ToolError {
	return &ToolError{
		Code:    CodeUnsupportedFormat,
		Message: fmt.Sprintf("format %q is not supported", format),
		Details: map[string]any{"reason": "unknown_format", "format": format},
	}
}

// NoChange reports a mutation that would have been a no-op.
func NoChange(reason, message string) *ToolError {
	return &ToolError{
		Code:    CodeNoChange,
		Message: message,
		Details: map[string]any{"reason": reason},
	}
}

// IOError reports failed external I/O.
func IOError(reason string, err error) *ToolError {
	return &ToolError{
		Code:    CodeIOError,
		Message: err.Error(),
		Details: map[string]any{"reason": reason},
	}
}

// NotImplemented reports a missing adapter capability.
func NotImplemented(reason, message string) *ToolError {
	return &ToolError{
		Code:    CodeNotImplemented,
		Message: message,
		Details: map[string]any{"reason": reason},
	}
}

// Unknown wraps an unexpected failure. The reason identifies the code
// path that caught it.
func Unknown(reason string, err error) *ToolError {
	msg := "unexpected error"
	if err != nil {
		msg = err.Error()
	}
	return &ToolError{
		Code:    CodeUnknown,
		Message: msg,
		Details: map[string]any{"reason": reason},
	}
}

// RevisionMismatch builds the guard failure for a stale ifRevision.
func RevisionMismatch(expected, actual string) *ToolError {
	return &ToolError{
		Code:    CodeInvalidState,
		Message: "project changed since the revision you supplied",
		Fix:     "call get_project_state and retry with the fresh revision",
		Details: map[string]any{
			"reason":   ReasonRevisionMismatch,
			"expected": expected,
			"actual":   actual,
			"nextActions": []string{
				"get_project_state",
			},
		},
	}
}
