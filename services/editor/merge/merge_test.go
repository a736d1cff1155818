// Copyright (C) 2026 Ashfox Project (hello@ashfox.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package merge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashfoxhq/ashfox/services/editor/datatypes"
)

func sessionSnap() *datatypes.ProjectSnapshot {
	return &datatypes.ProjectSnapshot{
		ID:       "p1",
		Name:     "fox",
		FormatID: "geckolib_v4",
		Bones:    []datatypes.Bone{{ID: "b1", Name: "root", Visible: true}},
		Textures: []datatypes.Texture{
			{ID: "t1", Name: "skin", Width: 64, Height: 64, Path: "/tex/skin.png", ContentHash: "abc"},
		},
		Anims: []datatypes.Animation{
			{ID: "a1", Name: "idle", Length: 1, FPS: 20,
				Channels: map[string]datatypes.BoneChannels{"root": {}}},
		},
	}
}

func TestMergeNilLiveReturnsSession(t *testing.T) {
	m := &Merger{}
	s := sessionSnap()
	out := m.Merge(s, nil, PolicyHybrid)
	require.NotNil(t, out)
	assert.Equal(t, s.Name, out.Name)
	assert.Equal(t, s.Textures, out.Textures)
	assert.Equal(t, s.Anims, out.Anims)

	// Merge returns a copy, never the session itself.
	out.Name = "mutated"
	assert.Equal(t, "fox", s.Name)
}

func TestMergeSessionPolicyIgnoresLive(t *testing.T) {
	m := &Merger{}
	live := &datatypes.ProjectSnapshot{Name: "live-name"}
	out := m.Merge(sessionSnap(), live, PolicySession)
	assert.Equal(t, "fox", out.Name)
}

func TestMergeLivePolicyFallsBackForIdentity(t *testing.T) {
	m := &Merger{}
	live := &datatypes.ProjectSnapshot{
		Bones: []datatypes.Bone{{ID: "b9", Name: "live-root"}},
	}
	out := m.Merge(sessionSnap(), live, PolicyLive)
	assert.Equal(t, "fox", out.Name, "name backfilled from session")
	assert.Equal(t, "geckolib_v4", out.FormatID)
	assert.Equal(t, "live-root", out.Bones[0].Name, "geometry comes from live")
}

func TestHybridPrefersLiveGeometryAndMergesTextures(t *testing.T) {
	m := &Merger{}
	live := &datatypes.ProjectSnapshot{
		Name:  "fox-live",
		Bones: []datatypes.Bone{{ID: "b1", Name: "root"}, {ID: "b2", Name: "tail"}},
		Textures: []datatypes.Texture{
			{ID: "t1", Name: "skin", Width: 64, Height: 64}, // path/hash omitted by live read
			{ID: "t2", Name: "eyes", Width: 16, Height: 16},
		},
		AnimationsStatus: datatypes.AnimationsAvailable,
		Anims: []datatypes.Animation{
			{ID: "a1", Name: "idle", Length: 1}, // fps/channels omitted
		},
	}

	out := m.Merge(sessionSnap(), live, PolicyHybrid)
	assert.Equal(t, "fox-live", out.Name)
	assert.Len(t, out.Bones, 2)

	skin := out.FindTexture("t1")
	require.NotNil(t, skin)
	assert.Equal(t, "/tex/skin.png", skin.Path, "session path preserved")
	assert.Equal(t, "abc", skin.ContentHash)
	require.NotNil(t, out.FindTexture("t2"))

	idle := out.FindAnimation("idle")
	require.NotNil(t, idle)
	assert.Equal(t, 20.0, idle.FPS, "fps backfilled from session")
	assert.Contains(t, idle.Channels, "root")
}

func TestHybridKeepsSessionAnimationsWhenLiveUnavailable(t *testing.T) {
	m := &Merger{}
	live := &datatypes.ProjectSnapshot{
		Name:             "fox-live",
		AnimationsStatus: datatypes.AnimationsUnavailable,
		Anims:            nil,
	}
	out := m.Merge(sessionSnap(), live, PolicyHybrid)
	require.Len(t, out.Anims, 1)
	assert.Equal(t, "idle", out.Anims[0].Name)
}

func TestHybridKeepsSessionOnlyTextures(t *testing.T) {
	m := &Merger{}
	live := &datatypes.ProjectSnapshot{
		Name:     "fox-live",
		Textures: []datatypes.Texture{{ID: "t2", Name: "eyes"}},
	}
	out := m.Merge(sessionSnap(), live, PolicyHybrid)
	assert.NotNil(t, out.FindTexture("t1"), "session texture survives a partial live read")
	assert.NotNil(t, out.FindTexture("t2"))
}

func TestNormalizeDerivesFormatKind(t *testing.T) {
	t.Run("substring match", func(t *testing.T) {
		m := &Merger{}
		out := m.Merge(sessionSnap(), nil, PolicySession)
		assert.Equal(t, datatypes.FormatGeckolib, out.Format)
	})

	t.Run("override table wins", func(t *testing.T) {
		m := &Merger{FormatOverrides: map[string]datatypes.FormatKind{
			"custom_fmt": datatypes.FormatAnimatedJava,
		}}
		s := sessionSnap()
		s.FormatID = "custom_fmt"
		out := m.Merge(s, nil, PolicySession)
		assert.Equal(t, datatypes.FormatAnimatedJava, out.Format)
	})

	t.Run("unknown id stays blank", func(t *testing.T) {
		m := &Merger{}
		s := sessionSnap()
		s.FormatID = "mystery"
		out := m.Merge(s, nil, PolicySession)
		assert.Equal(t, datatypes.FormatKind(""), out.Format)
	})
}
