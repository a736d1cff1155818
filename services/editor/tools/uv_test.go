// Copyright (C) 2026 Ashfox Project (hello@ashfox.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package tools

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashfoxhq/ashfox/services/editor/datatypes"
)

// texturedService builds a project with one texture and two mapped
// cube faces.
func texturedService(t *testing.T) *Service {
	t.Helper()
	s := newAttachedService(t)
	require.True(t, call(t, s, "add_bone", map[string]any{"name": "root"}).OK)
	require.True(t, call(t, s, "import_texture", map[string]any{
		"name": "skin", "width": 64, "height": 64,
	}).OK)
	require.True(t, call(t, s, "add_cube", map[string]any{
		"name": "body", "bone": "root",
		"from": []any{0.0, 0.0, 0.0}, "to": []any{4.0, 4.0, 4.0},
	}).OK)
	require.True(t, call(t, s, "set_face_uv", map[string]any{
		"cube": "body", "face": "north", "uv": []any{0.0, 0.0, 4.0, 4.0},
	}).OK)
	require.True(t, call(t, s, "set_face_uv", map[string]any{
		"cube": "body", "face": "south", "uv": []any{8.0, 0.0, 12.0, 4.0},
	}).OK)
	return s
}

func TestPreflightIdempotent(t *testing.T) {
	s := texturedService(t)

	first := call(t, s, "preflight_texture", nil)
	require.True(t, first.OK)
	second := call(t, s, "preflight_texture", nil)
	require.True(t, second.OK)

	assert.Equal(t, first.Data["uvUsageId"], second.Data["uvUsageId"])
	assert.Equal(t, 2, first.Data["faces"])
}

func TestPreflightDetectsOverlap(t *testing.T) {
	s := texturedService(t)
	require.True(t, call(t, s, "set_face_uv", map[string]any{
		"cube": "body", "face": "south", "uv": []any{2.0, 2.0, 6.0, 6.0},
	}).OK)

	res := call(t, s, "preflight_texture", nil)
	require.True(t, res.OK)
	counts := res.Data["counts"].(map[string]int)
	assert.Equal(t, 1, counts[DiagOverlap])
}

func TestPaintRejectsStaleUsageToken(t *testing.T) {
	s := texturedService(t)

	pre := call(t, s, "preflight_texture", nil)
	require.True(t, pre.OK)
	token := pre.Data["uvUsageId"].(string)

	paint := map[string]any{
		"uvUsageId": token,
		"ops": []any{map[string]any{
			"cube": "body", "face": "north", "color": "#ff0000",
		}},
	}
	require.True(t, call(t, s, "paint_faces", paint).OK, "fresh token paints")

	// Move the layout, then reuse the old token.
	require.True(t, call(t, s, "set_face_uv", map[string]any{
		"cube": "body", "face": "north", "uv": []any{16.0, 0.0, 20.0, 4.0},
	}).OK)

	res := call(t, s, "paint_faces", paint)
	require.False(t, res.OK)
	assert.Equal(t, CodeInvalidState, res.Error.Code)
	assert.Equal(t, ReasonUVUsageChanged, res.Error.Reason())
}

func TestPaintAdvancesTextureHash(t *testing.T) {
	s := texturedService(t)
	before := call(t, s, "get_project_state", nil)
	tex := before.Data["project"].(*datatypes.ProjectSnapshot).Textures[0]

	require.True(t, call(t, s, "paint_faces", map[string]any{
		"ops": []any{map[string]any{
			"cube": "body", "face": "north", "color": "#00ff00",
		}},
	}).OK)

	after := call(t, s, "get_project_state", nil)
	assert.NotEqual(t, tex.ContentHash,
		after.Data["project"].(*datatypes.ProjectSnapshot).Textures[0].ContentHash)
	assert.NotEqual(t, before.Revision, after.Revision)
}

func TestAutoUVAtlasResolvesOverlaps(t *testing.T) {
	s := texturedService(t)
	require.True(t, call(t, s, "set_face_uv", map[string]any{
		"cube": "body", "face": "south", "uv": []any{0.0, 0.0, 4.0, 4.0},
	}).OK, "force an overlap")

	res := call(t, s, "auto_uv_atlas", map[string]any{"apply": true})
	require.True(t, res.OK)
	assert.Equal(t, true, res.Data["applied"])

	pre := call(t, s, "preflight_texture", nil)
	require.True(t, pre.OK)
	counts := pre.Data["counts"].(map[string]int)
	assert.Zero(t, counts[DiagOverlap], "atlas layout must not overlap")
	assert.Equal(t, res.Data["uvUsageId"], pre.Data["uvUsageId"],
		"atlas reports the post-apply token")
}

func TestAutoUVAtlasProposalDoesNotWrite(t *testing.T) {
	s := texturedService(t)
	before := call(t, s, "preflight_texture", nil).Data["uvUsageId"]

	res := call(t, s, "auto_uv_atlas", map[string]any{"apply": false})
	require.True(t, res.OK)
	assert.NotEmpty(t, res.Data["layout"])

	after := call(t, s, "preflight_texture", nil).Data["uvUsageId"]
	assert.Equal(t, before, after, "proposal must leave the layout untouched")
}

func TestAssignTexture(t *testing.T) {
	s := texturedService(t)
	res := call(t, s, "assign_texture", map[string]any{
		"texture": "skin", "cubes": []any{"body"}, "faces": []any{"north"},
	})
	require.True(t, res.OK)

	state := call(t, s, "get_project_state", nil)
	cube := state.Data["project"].(*datatypes.ProjectSnapshot).Cubes[0]
	assert.NotEmpty(t, cube.FaceTextures["north"])

	t.Run("missing texture rejected", func(t *testing.T) {
		res := call(t, s, "assign_texture", map[string]any{"texture": "nope"})
		require.False(t, res.OK)
		assert.Equal(t, "entity_not_found", res.Error.Reason())
	})
}

func TestValidateProjectFindings(t *testing.T) {
	s := texturedService(t)
	// Orphan channel reference plus an out-of-bounds UV.
	require.True(t, call(t, s, "add_animation", map[string]any{"name": "idle", "fps": 20.0}).OK)
	require.True(t, call(t, s, "set_face_uv", map[string]any{
		"cube": "body", "face": "up", "uv": []any{60.0, 60.0, 70.0, 70.0},
	}).OK)

	res := call(t, s, "validate_project", nil)
	require.True(t, res.OK)
	assert.Equal(t, "error", res.Data["status"])

	findings := res.Data["findings"].([]finding)
	var checks []string
	for _, f := range findings {
		checks = append(checks, f.Check)
	}
	assert.Contains(t, checks, "uv_"+DiagOutOfBounds)
}

func TestValidateCleanProject(t *testing.T) {
	s := newAttachedService(t)
	require.True(t, call(t, s, "add_bone", map[string]any{"name": "root"}).OK)

	res := call(t, s, "validate_project", nil)
	require.True(t, res.OK)
	assert.Equal(t, "ok", res.Data["status"])
	assert.Zero(t, res.Data["errors"])
}

func TestUsageIDDeterministic(t *testing.T) {
	usage := []FaceUsage{
		{TextureID: "t1", Cube: "body", Face: "north", UV: datatypes.FaceUV{0, 0, 4, 4}},
		{TextureID: "t1", Cube: "body", Face: "south", UV: datatypes.FaceUV{8, 0, 12, 4}},
	}
	assert.Equal(t, usageID(usage), usageID(usage))
	assert.NotEqual(t, usageID(usage), usageID(usage[:1]))
}
