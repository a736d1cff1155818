// Copyright (C) 2026 Ashfox Project (hello@ashfox.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package tools

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"

	"github.com/ashfoxhq/ashfox/pkg/schema"
)

// Handler executes one tool against the service. The service mutex is
// already held when a handler runs.
type Handler func(ctx context.Context, s *Service, args map[string]any) Result

// Descriptor is one entry of the immutable tool registry.
type Descriptor struct {
	Name        string
	Title       string
	Description string
	Input       schema.Object

	// NeedsProject runs the active-project guard before the handler.
	NeedsProject bool

	// Mutating additionally runs the revision guard and tracks the
	// post-call snapshot. Mutating implies NeedsProject.
	Mutating bool

	handler Handler
}

// Registry is the immutable name → descriptor table built at startup.
type Registry struct {
	byName map[string]Descriptor
	names  []string
}

// NewRegistry builds the registry of every atomic tool.
func NewRegistry() *Registry {
	r := &Registry{byName: map[string]Descriptor{}}
	for _, d := range allDescriptors() {
		if d.Mutating {
			d.NeedsProject = true
		}
		r.byName[d.Name] = d
		r.names = append(r.names, d.Name)
	}
	sort.Strings(r.names)
	return r
}

// Lookup returns the descriptor for a tool name.
func (r *Registry) Lookup(name string) (Descriptor, bool) {
	d, ok := r.byName[name]
	return d, ok
}

// Names returns the registered tool names in sorted order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.names...)
}

// List returns every descriptor in name order.
func (r *Registry) List() []Descriptor {
	out := make([]Descriptor, 0, len(r.names))
	for _, name := range r.names {
		out = append(out, r.byName[name])
	}
	return out
}

// Fingerprint is a stable digest over the sorted tool names and their
// input schemas. Contract tests pin it to catch accidental surface
// changes.
func (r *Registry) Fingerprint() string {
	h := sha256.New()
	for _, name := range r.names {
		d := r.byName[name]
		h.Write([]byte(name))
		h.Write([]byte{0})
		raw, _ := json.Marshal(d.Input.JSONSchema())
		h.Write(raw)
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}

func allDescriptors() []Descriptor {
	return concat(
		projectDescriptors(),
		modelDescriptors(),
		textureDescriptors(),
		animationDescriptors(),
		exportDescriptors(),
		validateDescriptors(),
		preflightDescriptors(),
	)
}

func concat(groups ...[]Descriptor) []Descriptor {
	var out []Descriptor
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}

// Shared schema fragments.

func minf(v float64) *float64 { return &v }

func ifRevisionRule() schema.Rule {
	return schema.Rule{Name: "ifRevision", Type: schema.TypeString,
		Description: "optimistic concurrency token from get_project_state"}
}

func vec3Rule(name, desc string) schema.Rule {
	return schema.Rule{Name: name, Type: schema.TypeArray, MinItems: 3,
		Items: &schema.Rule{Type: schema.TypeNumber}, Description: desc}
}

func uvRectRule(name string) schema.Rule {
	return schema.Rule{Name: name, Type: schema.TypeArray, MinItems: 4,
		Items: &schema.Rule{Type: schema.TypeNumber},
		Description: "[x1, y1, x2, y2] with x1<=x2 and y1<=y2"}
}

func faceEnum() []string {
	return []string{"north", "south", "east", "west", "up", "down"}
}
