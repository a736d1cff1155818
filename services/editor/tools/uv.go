// Copyright (C) 2026 Ashfox Project (hello@ashfox.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package tools

import (
	"math"
	"strconv"
	"strings"

	"github.com/ashfoxhq/ashfox/services/editor/datatypes"
)

// FaceUsage is one cube face's claim on texture space.
type FaceUsage struct {
	TextureID string           `json:"textureId,omitempty"`
	Cube      string           `json:"cube"`
	Face      string           `json:"face"`
	UV        datatypes.FaceUV `json:"uv"`
}

// Diagnostic flags a suspicious UV layout finding.
type Diagnostic struct {
	Kind    string `json:"kind"`
	Cube    string `json:"cube,omitempty"`
	Face    string `json:"face,omitempty"`
	Other   string `json:"other,omitempty"`
	Message string `json:"message"`
}

// Diagnostic kinds.
const (
	DiagOverlap       = "overlap"
	DiagScaleMismatch = "scale_mismatch"
	DiagTinyRect      = "tiny_rect"
	DiagSkewedRect    = "skewed_rect"
	DiagOutOfBounds   = "out_of_bounds"
)

// collectUsage walks cubes in snapshot order and faces in canonical
// order, resolving each face's texture. When a cube face has no
// explicit assignment the project's first texture is assumed. The
// filter, when non-empty, restricts output to the named texture ids.
func collectUsage(snap *datatypes.ProjectSnapshot, filter []string) []FaceUsage {
	keep := map[string]bool{}
	for _, id := range filter {
		if tex := snap.FindTexture(id); tex != nil {
			keep[tex.ID] = true
		} else {
			keep[id] = true
		}
	}
	defaultTex := ""
	if len(snap.Textures) > 0 {
		defaultTex = snap.Textures[0].ID
	}

	var out []FaceUsage
	for _, cube := range snap.Cubes {
		for _, face := range datatypes.FaceNames {
			uv, ok := cube.FaceUVs[face]
			if !ok {
				continue
			}
			texID := cube.FaceTextures[face]
			if texID == "" {
				texID = defaultTex
			}
			if len(keep) > 0 && !keep[texID] {
				continue
			}
			out = append(out, FaceUsage{
				TextureID: texID,
				Cube:      cube.Name,
				Face:      face,
				UV:        uv,
			})
		}
	}
	return out
}

// usageID hashes the usage list into a stable token. Paint tools carry
// it back so a changed layout is detected before pixels are touched.
// Same rolling hash family as the snapshot revision so tokens look
// uniform on the wire.
func usageID(usage []FaceUsage) string {
	var b strings.Builder
	for _, u := range usage {
		b.WriteString(u.TextureID)
		b.WriteString("|")
		b.WriteString(u.Cube)
		b.WriteString("|")
		b.WriteString(u.Face)
		b.WriteString("|")
		for i, v := range u.UV {
			if i > 0 {
				b.WriteString(",")
			}
			b.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
		}
		b.WriteString(";")
	}
	canonical := b.String()
	var h uint32 = 5381
	for i := 0; i < len(canonical); i++ {
		h = h*33 + uint32(canonical[i])
	}
	return "uv-" + strconv.FormatUint(uint64(h), 16)
}

// faceDims returns the world-space width and height a face projects to.
func faceDims(cube datatypes.Cube, face string) (w, h float64) {
	dx := math.Abs(cube.To[0] - cube.From[0])
	dy := math.Abs(cube.To[1] - cube.From[1])
	dz := math.Abs(cube.To[2] - cube.From[2])
	switch face {
	case datatypes.FaceNorth, datatypes.FaceSouth:
		return dx, dy
	case datatypes.FaceEast, datatypes.FaceWest:
		return dz, dy
	default: // up, down
		return dx, dz
	}
}

// diagnose inspects a usage list for layout problems. Output order is
// deterministic: findings follow usage order, overlaps report the
// earlier face as Other.
func diagnose(snap *datatypes.ProjectSnapshot, usage []FaceUsage) []Diagnostic {
	var out []Diagnostic

	texByID := map[string]datatypes.Texture{}
	for _, t := range snap.Textures {
		texByID[t.ID] = t
	}
	cubeByName := map[string]datatypes.Cube{}
	for _, c := range snap.Cubes {
		cubeByName[c.Name] = c
	}

	for i, u := range usage {
		x1, y1, x2, y2 := u.UV[0], u.UV[1], u.UV[2], u.UV[3]

		if x1 > x2 || y1 > y2 {
			out = append(out, Diagnostic{Kind: DiagSkewedRect, Cube: u.Cube, Face: u.Face,
				Message: "UV rectangle has inverted corners"})
			continue
		}
		if (x2-x1)*(y2-y1) < 1 {
			out = append(out, Diagnostic{Kind: DiagTinyRect, Cube: u.Cube, Face: u.Face,
				Message: "UV rectangle covers less than one pixel"})
		}

		if tex, ok := texByID[u.TextureID]; ok && tex.Width > 0 && tex.Height > 0 {
			if x2 > float64(tex.Width) || y2 > float64(tex.Height) || x1 < 0 || y1 < 0 {
				out = append(out, Diagnostic{Kind: DiagOutOfBounds, Cube: u.Cube, Face: u.Face,
					Message: "UV rectangle exceeds texture bounds"})
			}
		}

		if cube, ok := cubeByName[u.Cube]; ok {
			fw, fh := faceDims(cube, u.Face)
			uw, uh := x2-x1, y2-y1
			if fw > 0 && fh > 0 && uw > 0 && uh > 0 {
				rw, rh := uw/fw, uh/fh
				if rw > 0 && rh > 0 {
					ratio := rw / rh
					if ratio > 1.25 || ratio < 0.8 {
						out = append(out, Diagnostic{Kind: DiagScaleMismatch, Cube: u.Cube, Face: u.Face,
							Message: "UV density differs between axes"})
					}
				}
			}
		}

		for j := 0; j < i; j++ {
			prev := usage[j]
			if prev.TextureID != u.TextureID {
				continue
			}
			if rectsOverlap(prev.UV, u.UV) {
				out = append(out, Diagnostic{Kind: DiagOverlap, Cube: u.Cube, Face: u.Face,
					Other:   prev.Cube + "." + prev.Face,
					Message: "UV rectangle overlaps another face"})
				break
			}
		}
	}
	return out
}

func rectsOverlap(a, b datatypes.FaceUV) bool {
	return a[0] < b[2] && b[0] < a[2] && a[1] < b[3] && b[1] < a[3]
}

// atlasLayout packs every used face into non-overlapping rows of the
// given texture width. Shelf packing in usage order keeps the result
// stable across calls.
func atlasLayout(snap *datatypes.ProjectSnapshot, width int, padding float64) map[string]map[string]datatypes.FaceUV {
	if width <= 0 {
		width = 64
		if snap.ResolutionWidth > 0 {
			width = snap.ResolutionWidth
		}
	}
	ppb := snap.PixelsPerBlock
	if ppb <= 0 {
		ppb = 1
	}

	out := map[string]map[string]datatypes.FaceUV{}
	var x, y, rowH float64
	for _, cube := range snap.Cubes {
		for _, face := range datatypes.FaceNames {
			if _, used := cube.FaceUVs[face]; !used {
				continue
			}
			fw, fh := faceDims(cube, face)
			w := math.Max(1, math.Ceil(fw*ppb))
			h := math.Max(1, math.Ceil(fh*ppb))
			if x+w > float64(width) && x > 0 {
				x = 0
				y += rowH + padding
				rowH = 0
			}
			if out[cube.Name] == nil {
				out[cube.Name] = map[string]datatypes.FaceUV{}
			}
			out[cube.Name][face] = datatypes.FaceUV{x, y, x + w, y + h}
			x += w + padding
			if h > rowH {
				rowH = h
			}
		}
	}
	return out
}
