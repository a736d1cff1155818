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
	"fmt"

	"github.com/ashfoxhq/ashfox/pkg/schema"
	"github.com/ashfoxhq/ashfox/services/editor/datatypes"
)

func textureDescriptors() []Descriptor {
	return []Descriptor{
		{
			Name:        "import_texture",
			Title:       "Import texture",
			Description: "Add a texture slot, optionally with pixel data.",
			Input: schema.Object{Fields: []schema.Rule{
				{Name: "name", Type: schema.TypeString, Required: true},
				{Name: "width", Type: schema.TypeInteger, Required: true, Min: minf(1)},
				{Name: "height", Type: schema.TypeInteger, Required: true, Min: minf(1)},
				{Name: "path", Type: schema.TypeString},
				{Name: "data", Type: schema.TypeString, Description: "data URI with pixel payload"},
				ifRevisionRule(),
			}},
			Mutating: true,
			handler:  importTexture,
		},
		{
			Name:        "update_texture",
			Title:       "Update texture",
			Description: "Modify a texture slot matched by id or name.",
			Input: schema.Object{Fields: []schema.Rule{
				{Name: "texture", Type: schema.TypeString, Required: true},
				{Name: "rename", Type: schema.TypeString},
				{Name: "width", Type: schema.TypeInteger, Min: minf(1)},
				{Name: "height", Type: schema.TypeInteger, Min: minf(1)},
				{Name: "path", Type: schema.TypeString},
				{Name: "data", Type: schema.TypeString},
				ifRevisionRule(),
			}},
			Mutating: true,
			handler:  updateTexture,
		},
		{
			Name:        "delete_texture",
			Title:       "Delete texture",
			Description: "Remove a texture slot matched by id or name.",
			Input: schema.Object{Fields: []schema.Rule{
				{Name: "texture", Type: schema.TypeString, Required: true},
				ifRevisionRule(),
			}},
			Mutating: true,
			handler:  deleteTexture,
		},
		{
			Name:        "assign_texture",
			Title:       "Assign texture",
			Description: "Assign a texture to cube faces.",
			Input: schema.Object{Fields: []schema.Rule{
				{Name: "texture", Type: schema.TypeString, Required: true},
				{Name: "cubes", Type: schema.TypeArray,
					Items: &schema.Rule{Type: schema.TypeString},
					Description: "cube names; empty means every cube"},
				{Name: "faces", Type: schema.TypeArray,
					Items: &schema.Rule{Type: schema.TypeString, Enum: faceEnum()},
					Description: "faces; empty means all six"},
				ifRevisionRule(),
			}},
			Mutating: true,
			handler:  assignTexture,
		},
		{
			Name:        "set_face_uv",
			Title:       "Set face UV",
			Description: "Set the UV rectangle of one cube face.",
			Input: schema.Object{Fields: []schema.Rule{
				{Name: "cube", Type: schema.TypeString, Required: true},
				{Name: "face", Type: schema.TypeString, Required: true, Enum: faceEnum()},
				uvRectRule("uv"),
				ifRevisionRule(),
			}},
			Mutating: true,
			handler:  setFaceUV,
		},
		{
			Name:        "paint_faces",
			Title:       "Paint faces",
			Description: "Apply pixel operations to the UV regions of cube faces.",
			Input: schema.Object{Fields: []schema.Rule{
				{Name: "uvUsageId", Type: schema.TypeString,
					Description: "layout token from preflight_texture"},
				{Name: "texture", Type: schema.TypeString},
				{Name: "ops", Type: schema.TypeArray, Required: true, MinItems: 1,
					Items: &schema.Rule{Type: schema.TypeObject, Fields: []schema.Rule{
						{Name: "cube", Type: schema.TypeString, Required: true},
						{Name: "face", Type: schema.TypeString, Required: true, Enum: faceEnum()},
						{Name: "color", Type: schema.TypeString, Required: true},
						uvRectRule("rect"),
					}}},
				ifRevisionRule(),
			}},
			Mutating: true,
			handler:  paintFaces,
		},
		{
			Name:        "auto_uv_atlas",
			Title:       "Auto UV atlas",
			Description: "Compute a non-overlapping UV layout for every used face.",
			Input: schema.Object{Fields: []schema.Rule{
				{Name: "apply", Type: schema.TypeBoolean,
					Description: "write the layout back; false returns a proposal"},
				{Name: "width", Type: schema.TypeInteger, Min: minf(1)},
				{Name: "padding", Type: schema.TypeNumber, Min: minf(0)},
				ifRevisionRule(),
			}},
			Mutating: true,
			handler:  autoUVAtlas,
		},
	}
}

type texturePayload struct {
	Texture string `json:"texture"`
	Name    string `json:"name"`
	Rename  string `json:"rename"`
	Width   int    `json:"width"`
	Height  int    `json:"height"`
	Path    *string `json:"path"`
	Data    *string `json:"data"`
}

func importTexture(_ context.Context, s *Service, args map[string]any) Result {
	var p texturePayload
	if terr := decode(args, &p); terr != nil {
		return Fail(terr)
	}
	tex := datatypes.Texture{Name: p.Name, Width: p.Width, Height: p.Height}
	if p.Path != nil {
		tex.Path = *p.Path
	}
	if p.Data != nil {
		tex.Data = *p.Data
		tex.ContentHash = contentHash(*p.Data)
	}
	if err := s.project.AddTexture(tex); err != nil {
		return Fail(sessionError(err, false))
	}
	added := s.project.Snapshot().FindTexture(p.Name)
	return Ok(map[string]any{"textureId": added.ID, "name": p.Name})
}

func updateTexture(_ context.Context, s *Service, args map[string]any) Result {
	var p texturePayload
	if terr := decode(args, &p); terr != nil {
		return Fail(terr)
	}
	err := s.project.UpdateTexture(p.Texture, func(t *datatypes.Texture) {
		if p.Rename != "" {
			t.Name = p.Rename
		}
		if p.Width > 0 {
			t.Width = p.Width
		}
		if p.Height > 0 {
			t.Height = p.Height
		}
		if p.Path != nil {
			t.Path = *p.Path
		}
		if p.Data != nil {
			t.Data = *p.Data
			t.ContentHash = contentHash(*p.Data)
		}
	})
	if terr := sessionError(err, false); terr != nil {
		return Fail(terr)
	}
	return Ok(map[string]any{"texture": p.Texture})
}

func deleteTexture(_ context.Context, s *Service, args map[string]any) Result {
	name, _ := stringArg(args, "texture")
	if terr := sessionError(s.project.DeleteTexture(name), false); terr != nil {
		return Fail(terr)
	}
	return Ok(map[string]any{"deleted": name})
}

type assignTexturePayload struct {
	Texture string   `json:"texture"`
	Cubes   []string `json:"cubes"`
	Faces   []string `json:"faces"`
}

func assignTexture(_ context.Context, s *Service, args map[string]any) Result {
	var p assignTexturePayload
	if terr := decode(args, &p); terr != nil {
		return Fail(terr)
	}
	snap := s.project.Snapshot()
	tex := snap.FindTexture(p.Texture)
	if tex == nil {
		return Fail(InvalidPayload("entity_not_found", "texture "+p.Texture+" does not exist"))
	}
	faces := p.Faces
	if len(faces) == 0 {
		faces = datatypes.FaceNames
	}
	targets := p.Cubes
	if len(targets) == 0 {
		for _, c := range snap.Cubes {
			targets = append(targets, c.Name)
		}
	}
	assigned := 0
	for _, name := range targets {
		err := s.project.UpdateCube(name, func(c *datatypes.Cube) {
			if c.FaceTextures == nil {
				c.FaceTextures = map[string]string{}
			}
			for _, face := range faces {
				c.FaceTextures[face] = tex.ID
			}
		})
		if terr := sessionError(err, false); terr != nil {
			return Fail(terr)
		}
		assigned++
	}
	if assigned == 0 {
		return Fail(NoChange("no_targets", "no cubes matched the assignment"))
	}
	return Ok(map[string]any{"textureId": tex.ID, "cubes": assigned})
}

type setFaceUVPayload struct {
	Cube string      `json:"cube"`
	Face string      `json:"face"`
	UV   *[4]float64 `json:"uv"`
}

func setFaceUV(_ context.Context, s *Service, args map[string]any) Result {
	var p setFaceUVPayload
	if terr := decode(args, &p); terr != nil {
		return Fail(terr)
	}
	if p.UV == nil {
		return Fail(InvalidPayload("missing_required", "field uv is required"))
	}
	if p.UV[0] > p.UV[2] || p.UV[1] > p.UV[3] {
		return Fail(InvalidPayload("inverted_rect", "UV rectangle must be ordered"))
	}
	err := s.project.UpdateCube(p.Cube, func(c *datatypes.Cube) {
		if c.FaceUVs == nil {
			c.FaceUVs = map[string]datatypes.FaceUV{}
		}
		c.FaceUVs[p.Face] = datatypes.FaceUV(*p.UV)
	})
	if terr := sessionError(err, false); terr != nil {
		return Fail(terr)
	}
	return Ok(map[string]any{"cube": p.Cube, "face": p.Face})
}

type paintOp struct {
	Cube  string      `json:"cube"`
	Face  string      `json:"face"`
	Color string      `json:"color"`
	Rect  *[4]float64 `json:"rect"`
}

type paintFacesPayload struct {
	UVUsageID string    `json:"uvUsageId"`
	Texture   string    `json:"texture"`
	Ops       []paintOp `json:"ops"`
}

func paintFaces(_ context.Context, s *Service, args map[string]any) Result {
	var p paintFacesPayload
	if terr := decode(args, &p); terr != nil {
		return Fail(terr)
	}
	snap := s.project.Snapshot()
	if p.UVUsageID != "" {
		current := usageID(collectUsage(snap, nil))
		if current != p.UVUsageID {
			return Fail(InvalidState(ReasonUVUsageChanged,
				"UV layout changed since preflight").
				WithFix("call preflight_texture again and retry with the fresh uvUsageId").
				WithDetail("expected", p.UVUsageID).
				WithDetail("actual", current))
		}
	}

	painted := map[string]bool{}
	for _, op := range p.Ops {
		cube := snap.FindCube(op.Cube)
		if cube == nil {
			return Fail(InvalidPayload("entity_not_found", "cube "+op.Cube+" does not exist"))
		}
		if _, ok := cube.FaceUVs[op.Face]; !ok {
			return Fail(InvalidPayload("face_unmapped",
				fmt.Sprintf("face %s of cube %s has no UV rectangle", op.Face, op.Cube)))
		}
		texID := p.Texture
		if texID == "" {
			texID = cube.FaceTextures[op.Face]
		}
		if texID == "" && len(snap.Textures) > 0 {
			texID = snap.Textures[0].ID
		}
		if snap.FindTexture(texID) == nil {
			return Fail(InvalidState("no_texture", "no texture available to paint"))
		}
		// Pixel codecs live outside the gateway; painting advances the
		// content hash so revisions and preflight see the change.
		err := s.project.UpdateTexture(texID, func(t *datatypes.Texture) {
			t.ContentHash = contentHash(t.ContentHash + "|" + op.Cube + "." + op.Face + "=" + op.Color)
		})
		if terr := sessionError(err, false); terr != nil {
			return Fail(terr)
		}
		painted[texID] = true
	}
	return Ok(map[string]any{"ops": len(p.Ops), "textures": len(painted)})
}

type autoUVAtlasPayload struct {
	Apply   bool    `json:"apply"`
	Width   int     `json:"width"`
	Padding float64 `json:"padding"`
}

func autoUVAtlas(_ context.Context, s *Service, args map[string]any) Result {
	var p autoUVAtlasPayload
	if terr := decode(args, &p); terr != nil {
		return Fail(terr)
	}
	snap := s.project.Snapshot()
	layout := atlasLayout(snap, p.Width, p.Padding)
	if len(layout) == 0 {
		return Fail(NoChange("no_mapped_faces", "no cube faces carry UV rectangles"))
	}

	if p.Apply {
		for cubeName, faces := range layout {
			err := s.project.UpdateCube(cubeName, func(c *datatypes.Cube) {
				for face, uv := range faces {
					c.FaceUVs[face] = uv
				}
			})
			if terr := sessionError(err, false); terr != nil {
				return Fail(terr)
			}
		}
		snap = s.project.Snapshot()
	}
	return Ok(map[string]any{
		"applied":   p.Apply,
		"layout":    layout,
		"uvUsageId": usageID(collectUsage(snap, nil)),
	})
}

func contentHash(payload string) string {
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])[:16]
}
