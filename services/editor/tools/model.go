// Copyright (C) 2026 Ashfox Project (hello@ashfox.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package tools

import (
	"context"
	"reflect"

	"github.com/ashfoxhq/ashfox/pkg/schema"
	"github.com/ashfoxhq/ashfox/services/editor/datatypes"
)

func modelDescriptors() []Descriptor {
	return []Descriptor{
		{
			Name:        "add_bone",
			Title:       "Add bone",
			Description: "Append a bone to the outliner hierarchy.",
			Input: schema.Object{Fields: []schema.Rule{
				{Name: "name", Type: schema.TypeString, Required: true},
				{Name: "parent", Type: schema.TypeString},
				vec3Rule("pivot", "pivot point (x, y, z)"),
				vec3Rule("rotation", "rotation in degrees"),
				{Name: "visible", Type: schema.TypeBoolean},
				ifRevisionRule(),
			}},
			Mutating: true,
			handler:  addBone,
		},
		{
			Name:        "update_bone",
			Title:       "Update bone",
			Description: "Modify fields of an existing bone; rename keeps references consistent.",
			Input: schema.Object{Fields: []schema.Rule{
				{Name: "name", Type: schema.TypeString, Required: true},
				{Name: "rename", Type: schema.TypeString},
				{Name: "parent", Type: schema.TypeString},
				vec3Rule("pivot", ""),
				vec3Rule("rotation", ""),
				{Name: "scale", Type: schema.TypeNumber, Min: minf(0.001)},
				{Name: "visible", Type: schema.TypeBoolean},
				ifRevisionRule(),
			}},
			Mutating: true,
			handler:  updateBone,
		},
		{
			Name:        "delete_bone",
			Title:       "Delete bone",
			Description: "Remove a bone, its descendants, and cubes attached to them.",
			Input: schema.Object{Fields: []schema.Rule{
				{Name: "name", Type: schema.TypeString, Required: true},
				ifRevisionRule(),
			}},
			Mutating: true,
			handler:  deleteBone,
		},
		{
			Name:        "add_cube",
			Title:       "Add cube",
			Description: "Append a cube element to a bone.",
			Input: schema.Object{Fields: []schema.Rule{
				{Name: "name", Type: schema.TypeString, Required: true},
				{Name: "bone", Type: schema.TypeString, Required: true},
				vec3Rule("from", "lower corner"),
				vec3Rule("to", "upper corner"),
				vec3Rule("origin", "rotation origin"),
				vec3Rule("rotation", ""),
				{Name: "uv_offset", Type: schema.TypeArray, MinItems: 2,
					Items: &schema.Rule{Type: schema.TypeNumber}},
				{Name: "box_uv", Type: schema.TypeBoolean},
				{Name: "inflate", Type: schema.TypeNumber},
				{Name: "mirror", Type: schema.TypeBoolean},
				ifRevisionRule(),
			}},
			Mutating: true,
			handler:  addCube,
		},
		{
			Name:        "update_cube",
			Title:       "Update cube",
			Description: "Modify fields of an existing cube.",
			Input: schema.Object{Fields: []schema.Rule{
				{Name: "name", Type: schema.TypeString, Required: true},
				{Name: "rename", Type: schema.TypeString},
				{Name: "bone", Type: schema.TypeString},
				vec3Rule("from", ""),
				vec3Rule("to", ""),
				vec3Rule("origin", ""),
				vec3Rule("rotation", ""),
				{Name: "inflate", Type: schema.TypeNumber},
				{Name: "mirror", Type: schema.TypeBoolean},
				ifRevisionRule(),
			}},
			Mutating: true,
			handler:  updateCube,
		},
		{
			Name:        "delete_cube",
			Title:       "Delete cube",
			Description: "Remove a cube element.",
			Input: schema.Object{Fields: []schema.Rule{
				{Name: "name", Type: schema.TypeString, Required: true},
				ifRevisionRule(),
			}},
			Mutating: true,
			handler:  deleteCube,
		},
		{
			Name:        "add_mesh",
			Title:       "Add mesh",
			Description: "Free-form mesh elements are not part of the cube model.",
			Input: schema.Object{Fields: []schema.Rule{
				{Name: "name", Type: schema.TypeString, Required: true},
			}},
			NeedsProject: true,
			handler:      meshNotImplemented,
		},
		{
			Name:        "update_mesh",
			Title:       "Update mesh",
			Description: "Free-form mesh elements are not part of the cube model.",
			Input: schema.Object{Fields: []schema.Rule{
				{Name: "name", Type: schema.TypeString, Required: true},
			}},
			NeedsProject: true,
			handler:      meshNotImplemented,
		},
		{
			Name:        "delete_mesh",
			Title:       "Delete mesh",
			Description: "Free-form mesh elements are not part of the cube model.",
			Input: schema.Object{Fields: []schema.Rule{
				{Name: "name", Type: schema.TypeString, Required: true},
			}},
			NeedsProject: true,
			handler:      meshNotImplemented,
		},
	}
}

type bonePayload struct {
	Name     string     `json:"name"`
	Rename   string     `json:"rename"`
	Parent   *string    `json:"parent"`
	Pivot    *[3]float64 `json:"pivot"`
	Rotation *[3]float64 `json:"rotation"`
	Scale    *float64   `json:"scale"`
	Visible  *bool      `json:"visible"`
}

func addBone(_ context.Context, s *Service, args map[string]any) Result {
	var p bonePayload
	if terr := decode(args, &p); terr != nil {
		return Fail(terr)
	}
	bone := datatypes.Bone{Name: p.Name, Visible: true}
	if p.Parent != nil {
		bone.Parent = *p.Parent
	}
	if p.Pivot != nil {
		bone.Pivot = datatypes.Vec3(*p.Pivot)
	}
	if p.Rotation != nil {
		rot := datatypes.Vec3(*p.Rotation)
		bone.Rotation = &rot
	}
	if p.Visible != nil {
		bone.Visible = *p.Visible
	}
	if err := s.project.AddBone(bone); err != nil {
		noChange := false
		if existing := s.project.Snapshot().FindBone(p.Name); existing != nil {
			probe := bone
			probe.ID = existing.ID
			noChange = reflect.DeepEqual(probe, *existing)
		}
		return Fail(sessionError(err, noChange))
	}
	return Ok(map[string]any{"bone": p.Name})
}

func updateBone(_ context.Context, s *Service, args map[string]any) Result {
	var p bonePayload
	if terr := decode(args, &p); terr != nil {
		return Fail(terr)
	}
	if p.Parent != nil && *p.Parent != "" {
		if s.project.Snapshot().FindBone(*p.Parent) == nil {
			return Fail(InvalidPayload("reference_not_found",
				"parent bone "+*p.Parent+" does not exist"))
		}
	}
	err := s.project.UpdateBone(p.Name, func(b *datatypes.Bone) {
		if p.Rename != "" {
			b.Name = p.Rename
		}
		if p.Parent != nil {
			b.Parent = *p.Parent
		}
		if p.Pivot != nil {
			b.Pivot = datatypes.Vec3(*p.Pivot)
		}
		if p.Rotation != nil {
			rot := datatypes.Vec3(*p.Rotation)
			b.Rotation = &rot
		}
		if p.Scale != nil {
			b.Scale = p.Scale
		}
		if p.Visible != nil {
			b.Visible = *p.Visible
		}
	})
	if terr := sessionError(err, false); terr != nil {
		return Fail(terr)
	}
	name := p.Name
	if p.Rename != "" {
		name = p.Rename
	}
	return Ok(map[string]any{"bone": name})
}

func deleteBone(_ context.Context, s *Service, args map[string]any) Result {
	name, _ := stringArg(args, "name")
	if terr := sessionError(s.project.DeleteBone(name), false); terr != nil {
		return Fail(terr)
	}
	return Ok(map[string]any{"deleted": name})
}

type cubePayload struct {
	Name     string      `json:"name"`
	Rename   string      `json:"rename"`
	Bone     string      `json:"bone"`
	From     *[3]float64 `json:"from"`
	To       *[3]float64 `json:"to"`
	Origin   *[3]float64 `json:"origin"`
	Rotation *[3]float64 `json:"rotation"`
	UVOffset *[2]float64 `json:"uv_offset"`
	BoxUV    *bool       `json:"box_uv"`
	Inflate  *float64    `json:"inflate"`
	Mirror   *bool       `json:"mirror"`
}

func (p *cubePayload) corners() *ToolError {
	if p.From != nil && p.To != nil {
		for i := 0; i < 3; i++ {
			if p.From[i] > p.To[i] {
				return InvalidPayload("inverted_corners",
					"cube 'from' must not exceed 'to' on any axis")
			}
		}
	}
	return nil
}

func addCube(_ context.Context, s *Service, args map[string]any) Result {
	var p cubePayload
	if terr := decode(args, &p); terr != nil {
		return Fail(terr)
	}
	if terr := p.corners(); terr != nil {
		return Fail(terr)
	}
	cube := datatypes.Cube{Name: p.Name, Bone: p.Bone}
	if p.From != nil {
		cube.From = datatypes.Vec3(*p.From)
	}
	if p.To != nil {
		cube.To = datatypes.Vec3(*p.To)
	}
	if p.Origin != nil {
		cube.Origin = datatypes.Vec3(*p.Origin)
	}
	if p.Rotation != nil {
		rot := datatypes.Vec3(*p.Rotation)
		cube.Rotation = &rot
	}
	if p.UVOffset != nil {
		cube.UVOffset = *p.UVOffset
	}
	if p.BoxUV != nil {
		cube.BoxUV = *p.BoxUV
	}
	if p.Inflate != nil {
		cube.Inflate = *p.Inflate
	}
	if p.Mirror != nil {
		cube.Mirror = *p.Mirror
	}
	if err := s.project.AddCube(cube); err != nil {
		noChange := false
		if existing := s.project.Snapshot().FindCube(p.Name); existing != nil {
			probe := cube
			probe.ID = existing.ID
			noChange = reflect.DeepEqual(probe, *existing)
		}
		return Fail(sessionError(err, noChange))
	}
	return Ok(map[string]any{"cube": p.Name})
}

func updateCube(_ context.Context, s *Service, args map[string]any) Result {
	var p cubePayload
	if terr := decode(args, &p); terr != nil {
		return Fail(terr)
	}
	if terr := p.corners(); terr != nil {
		return Fail(terr)
	}
	err := s.project.UpdateCube(p.Name, func(c *datatypes.Cube) {
		if p.Rename != "" {
			c.Name = p.Rename
		}
		if p.Bone != "" {
			c.Bone = p.Bone
		}
		if p.From != nil {
			c.From = datatypes.Vec3(*p.From)
		}
		if p.To != nil {
			c.To = datatypes.Vec3(*p.To)
		}
		if p.Origin != nil {
			c.Origin = datatypes.Vec3(*p.Origin)
		}
		if p.Rotation != nil {
			rot := datatypes.Vec3(*p.Rotation)
			c.Rotation = &rot
		}
		if p.Inflate != nil {
			c.Inflate = *p.Inflate
		}
		if p.Mirror != nil {
			c.Mirror = *p.Mirror
		}
	})
	if terr := sessionError(err, false); terr != nil {
		return Fail(terr)
	}
	name := p.Name
	if p.Rename != "" {
		name = p.Rename
	}
	return Ok(map[string]any{"cube": name})
}

func deleteCube(_ context.Context, s *Service, args map[string]any) Result {
	name, _ := stringArg(args, "name")
	if terr := sessionError(s.project.DeleteCube(name), false); terr != nil {
		return Fail(terr)
	}
	return Ok(map[string]any{"deleted": name})
}

func meshNotImplemented(_ context.Context, _ *Service, _ map[string]any) Result {
	return Fail(NotImplemented("mesh_unsupported",
		"mesh elements are not supported by this gateway").
		WithFix("model the shape with cubes instead"))
}
