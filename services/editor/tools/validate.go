// Copyright (C) 2026 Ashfox Project (hello@ashfox.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package tools

import (
	"context"
	"fmt"

	"github.com/ashfoxhq/ashfox/pkg/schema"
	"github.com/ashfoxhq/ashfox/services/editor/datatypes"
)

// Default limits applied when the payload does not override them.
const (
	defaultMaxCubes       = 1024
	defaultMaxTextureSide = 4096
)

func validateDescriptors() []Descriptor {
	return []Descriptor{
		{
			Name:  "validate_project",
			Title: "Validate project",
			Description: "Cross-check the snapshot against limits: cube count, " +
				"duplicate names, orphan references, oversize textures, " +
				"out-of-bounds UVs, and animation timing.",
			Input: schema.Object{Fields: []schema.Rule{
				{Name: "maxCubes", Type: schema.TypeInteger, Min: minf(1)},
				{Name: "maxTextureSide", Type: schema.TypeInteger, Min: minf(1)},
			}},
			NeedsProject: true,
			handler:      validateProject,
		},
	}
}

type validatePayload struct {
	MaxCubes       int `json:"maxCubes"`
	MaxTextureSide int `json:"maxTextureSide"`
}

// finding is one validation failure or warning.
type finding struct {
	Severity string `json:"severity"`
	Check    string `json:"check"`
	Subject  string `json:"subject,omitempty"`
	Message  string `json:"message"`
}

func validateProject(ctx context.Context, s *Service, args map[string]any) Result {
	var p validatePayload
	if terr := decode(args, &p); terr != nil {
		return Fail(terr)
	}
	if p.MaxCubes == 0 {
		p.MaxCubes = defaultMaxCubes
	}
	if p.MaxTextureSide == 0 {
		p.MaxTextureSide = defaultMaxTextureSide
	}

	snap := s.currentLocked(ctx)
	var findings []finding
	add := func(severity, check, subject, message string) {
		findings = append(findings, finding{severity, check, subject, message})
	}

	if len(snap.Cubes) > p.MaxCubes {
		add("error", "max_cubes", "",
			fmt.Sprintf("%d cubes exceed the limit of %d", len(snap.Cubes), p.MaxCubes))
	}

	boneNames := map[string]bool{}
	for _, b := range snap.Bones {
		if boneNames[b.Name] {
			add("error", "duplicate_name", b.Name, "duplicate bone name")
		}
		boneNames[b.Name] = true
	}
	for _, b := range snap.Bones {
		if b.Parent != "" && !boneNames[b.Parent] {
			add("error", "orphan_reference", b.Name,
				"parent bone "+b.Parent+" does not exist")
		}
	}

	cubeNames := map[string]bool{}
	for _, c := range snap.Cubes {
		if cubeNames[c.Name] {
			add("error", "duplicate_name", c.Name, "duplicate cube name")
		}
		cubeNames[c.Name] = true
		if !boneNames[c.Bone] {
			add("error", "orphan_reference", c.Name,
				"bone "+c.Bone+" does not exist")
		}
		for i := 0; i < 3; i++ {
			if c.From[i] > c.To[i] {
				add("error", "inverted_cube", c.Name,
					"cube 'from' exceeds 'to' on an axis")
				break
			}
		}
	}

	texNames := map[string]bool{}
	texIDs := map[string]bool{}
	for _, t := range snap.Textures {
		if texNames[t.Name] {
			add("error", "duplicate_name", t.Name, "duplicate texture name")
		}
		texNames[t.Name] = true
		if t.ID != "" && texIDs[t.ID] {
			add("error", "duplicate_id", t.ID, "duplicate texture id")
		}
		texIDs[t.ID] = true
		if t.Width <= 0 || t.Height <= 0 {
			add("error", "texture_dimensions", t.Name, "texture dimensions must be positive")
		}
		if t.Width > p.MaxTextureSide || t.Height > p.MaxTextureSide {
			add("warning", "oversize_texture", t.Name,
				fmt.Sprintf("texture exceeds %d pixels on a side", p.MaxTextureSide))
		}
	}

	usage := collectUsage(snap, nil)
	for _, d := range diagnose(snap, usage) {
		severity := "warning"
		if d.Kind == DiagOutOfBounds || d.Kind == DiagSkewedRect {
			severity = "error"
		}
		add(severity, "uv_"+d.Kind, d.Cube+"."+d.Face, d.Message)
	}

	animNames := map[string]bool{}
	for _, a := range snap.Anims {
		if animNames[a.Name] {
			add("error", "duplicate_name", a.Name, "duplicate animation name")
		}
		animNames[a.Name] = true
		if a.Length < 0 {
			add("error", "animation_length", a.Name, "length must be >= 0")
		}
		if a.FPS <= 0 {
			add("error", "animation_fps", a.Name, "fps must be > 0")
		}
		for bone := range a.Channels {
			if !boneNames[bone] {
				add("error", "orphan_reference", a.Name,
					"animated bone "+bone+" does not exist")
			}
		}
		for _, ch := range a.Channels {
			for _, k := range append(append(append([]datatypes.Keyframe{}, ch.Rotation...), ch.Position...), ch.Scale...) {
				if k.Time > a.Length {
					add("warning", "keyframe_beyond_length", a.Name,
						"keyframe lies past the clip length")
				}
			}
		}
	}

	errs, warns := 0, 0
	for _, f := range findings {
		if f.Severity == "error" {
			errs++
		} else {
			warns++
		}
	}
	status := "ok"
	if warns > 0 {
		status = "warn"
	}
	if errs > 0 {
		status = "error"
	}

	res := Ok(map[string]any{
		"status":   status,
		"errors":   errs,
		"warnings": warns,
		"findings": findings,
	})
	res.Revision = s.revs.Track(snap)
	return res
}
