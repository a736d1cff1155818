// Copyright (C) 2026 Ashfox Project (hello@ashfox.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package adapter defines the port to the 3D editor host. The concrete
// binding (Blockbench-style globals, sidecar process) lives outside this
// repository; the gateway only depends on this interface.
package adapter

import (
	"context"
	"errors"
	"sync"

	"github.com/ashfoxhq/ashfox/services/editor/datatypes"
)

var (
	// ErrUnavailable is returned when no live editor is connected.
	ErrUnavailable = errors.New("editor unavailable")

	// ErrNotImplemented is returned when the connected editor lacks a
	// required capability (e.g. a native exporter for the format).
	ErrNotImplemented = errors.New("editor capability not implemented")
)

// EditorPort is the capability surface the tool service needs from an
// editor host. All methods honor context cancellation.
type EditorPort interface {
	// ReadSnapshot reads the project currently open in the editor.
	// Returns ErrUnavailable when no editor or no open project exists.
	ReadSnapshot(ctx context.Context) (*datatypes.ProjectSnapshot, error)

	// ExportNative runs the editor's own exporter for the given format
	// id against the snapshot. Returns ErrNotImplemented when the
	// editor has no exporter for the format.
	ExportNative(ctx context.Context, formatID string, snap *datatypes.ProjectSnapshot) ([]byte, error)
}

// Null is an EditorPort with no editor behind it. Every read reports
// ErrUnavailable and every export reports ErrNotImplemented.
type Null struct{}

func (Null) ReadSnapshot(context.Context) (*datatypes.ProjectSnapshot, error) {
	return nil, ErrUnavailable
}

func (Null) ExportNative(context.Context, string, *datatypes.ProjectSnapshot) ([]byte, error) {
	return nil, ErrNotImplemented
}

// Memory is an in-process EditorPort used by tests and by the worker's
// headless pipeline. Live holds the snapshot a read returns; Exports
// records every native export request.
type Memory struct {
	mu      sync.Mutex
	live    *datatypes.ProjectSnapshot
	exports []string

	// ExportPayload, when set, is returned by ExportNative. When nil,
	// ExportNative reports ErrNotImplemented so callers exercise their
	// serializer fallback.
	ExportPayload []byte
}

// NewMemory creates a Memory adapter with an optional live snapshot.
func NewMemory(live *datatypes.ProjectSnapshot) *Memory {
	return &Memory{live: live}
}

// SetLive replaces the snapshot returned by ReadSnapshot.
func (m *Memory) SetLive(snap *datatypes.ProjectSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.live = snap
}

func (m *Memory) ReadSnapshot(ctx context.Context) (*datatypes.ProjectSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.live == nil {
		return nil, ErrUnavailable
	}
	return m.live.Clone(), nil
}

func (m *Memory) ExportNative(ctx context.Context, formatID string, _ *datatypes.ProjectSnapshot) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.exports = append(m.exports, formatID)
	if m.ExportPayload == nil {
		return nil, ErrNotImplemented
	}
	return m.ExportPayload, nil
}

// Exports returns the format ids passed to ExportNative, in order.
func (m *Memory) Exports() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.exports...)
}

var (
	_ EditorPort = Null{}
	_ EditorPort = (*Memory)(nil)
)
