// Copyright (C) 2026 Ashfox Project (hello@ashfox.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package tracelog records tool traffic as newline-delimited JSON: one
// header record, then one step record per tool call. The format round-
// trips, a parsed file reproduces the recorded set.
package tracelog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"
)

// SchemaVersion is bumped when the record layout changes.
const SchemaVersion = 2

// Record kinds.
const (
	KindHeader = "header"
	KindStep   = "step"
)

// Header is the first record of every trace file.
type Header struct {
	Kind          string   `json:"kind"`
	SchemaVersion int      `json:"schemaVersion"`
	CreatedAt     string   `json:"createdAt"`
	PluginVersion string   `json:"pluginVersion,omitempty"`
	EditorVersion string   `json:"editorVersion,omitempty"`
	Notes         []string `json:"notes,omitempty"`
}

// Step is one recorded tool call.
type Step struct {
	Kind       string         `json:"kind"`
	Seq        uint64         `json:"seq"`
	TS         string         `json:"ts"`
	Route      string         `json:"route"`
	Op         string         `json:"op"`
	Payload    map[string]any `json:"payload,omitempty"`
	Response   map[string]any `json:"response"`
	State      any            `json:"state,omitempty"`
	Diff       any            `json:"diff,omitempty"`
	StateError string         `json:"stateError,omitempty"`
	DiffError  string         `json:"diffError,omitempty"`
}

// Recorder appends records to a writer.
//
// # Thread Safety
//
// Record is safe for concurrent use; the sequence is assigned under the
// recorder's mutex.
type Recorder struct {
	mu  sync.Mutex
	w   io.Writer
	enc *json.Encoder
	seq uint64
}

// NewRecorder writes the header and returns a recorder. The writer is
// typically an append-only file.
func NewRecorder(w io.Writer, pluginVersion string, notes []string) (*Recorder, error) {
	r := &Recorder{w: w, enc: json.NewEncoder(w)}
	header := Header{
		Kind:          KindHeader,
		SchemaVersion: SchemaVersion,
		CreatedAt:     time.Now().UTC().Format(time.RFC3339),
		PluginVersion: pluginVersion,
		Notes:         notes,
	}
	if err := r.enc.Encode(header); err != nil {
		return nil, fmt.Errorf("tracelog header: %w", err)
	}
	return r, nil
}

// Record appends one step. Seq and TS are assigned here.
func (r *Recorder) Record(op string, payload, response map[string]any) error {
	return r.RecordFull(Step{Op: op, Payload: payload, Response: response})
}

// RecordFull appends a step with state/diff attachments already set.
func (r *Recorder) RecordFull(step Step) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	step.Kind = KindStep
	step.Seq = r.seq
	step.TS = time.Now().UTC().Format(time.RFC3339Nano)
	if step.Route == "" {
		step.Route = "tool"
	}
	if err := r.enc.Encode(step); err != nil {
		return fmt.Errorf("tracelog step: %w", err)
	}
	return nil
}

// Trace is a parsed trace file.
type Trace struct {
	Header Header
	Steps  []Step
}

// Parse reads a trace back. Blank lines are skipped; the first record
// must be a header.
func Parse(r io.Reader) (*Trace, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var trace Trace
	seenHeader := false
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var probe struct {
			Kind string `json:"kind"`
		}
		if err := json.Unmarshal(raw, &probe); err != nil {
			return nil, fmt.Errorf("tracelog line %d: %w", line, err)
		}
		switch probe.Kind {
		case KindHeader:
			if seenHeader {
				return nil, fmt.Errorf("tracelog line %d: duplicate header", line)
			}
			if err := json.Unmarshal(raw, &trace.Header); err != nil {
				return nil, fmt.Errorf("tracelog line %d: %w", line, err)
			}
			seenHeader = true
		case KindStep:
			if !seenHeader {
				return nil, fmt.Errorf("tracelog line %d: step before header", line)
			}
			var step Step
			if err := json.Unmarshal(raw, &step); err != nil {
				return nil, fmt.Errorf("tracelog line %d: %w", line, err)
			}
			trace.Steps = append(trace.Steps, step)
		default:
			return nil, fmt.Errorf("tracelog line %d: unknown kind %q", line, probe.Kind)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("tracelog read: %w", err)
	}
	if !seenHeader {
		return nil, fmt.Errorf("tracelog: missing header record")
	}
	return &trace, nil
}
