// Copyright (C) 2026 Ashfox Project (hello@ashfox.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package revision

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashfoxhq/ashfox/services/editor/datatypes"
)

func sampleSnapshot() *datatypes.ProjectSnapshot {
	rot := datatypes.Vec3{0, 45, 0}
	return &datatypes.ProjectSnapshot{
		ID:   "proj-1",
		Name: "fox",
		Bones: []datatypes.Bone{
			{ID: "b1", Name: "root", Pivot: datatypes.Vec3{0, 0, 0}, Visible: true},
			{ID: "b2", Name: "head", Parent: "root", Pivot: datatypes.Vec3{0, 6, 0}, Rotation: &rot, Visible: true},
		},
		Cubes: []datatypes.Cube{
			{
				ID: "c1", Name: "body", Bone: "root",
				From: datatypes.Vec3{-2, 0, -2}, To: datatypes.Vec3{2, 4, 2},
				FaceUVs: map[string]datatypes.FaceUV{
					datatypes.FaceNorth: {0, 0, 4, 4},
				},
			},
		},
		Textures: []datatypes.Texture{
			{ID: "t1", Name: "skin", Width: 64, Height: 64},
		},
		Anims: []datatypes.Animation{
			{
				ID: "a1", Name: "idle", Length: 1.5, Loop: true, FPS: 20,
				Channels: map[string]datatypes.BoneChannels{
					"head": {Rotation: []datatypes.Keyframe{{Time: 0, Values: datatypes.Vec3{0, 0, 0}}}},
				},
			},
		},
	}
}

func TestHashPurity(t *testing.T) {
	s := sampleSnapshot()
	assert.Equal(t, Hash(s), Hash(s.Clone()), "hash of a clone must equal hash of the original")
}

func TestHashMutateThenUndo(t *testing.T) {
	s := sampleSnapshot()
	before := Hash(s)

	s.Bones[0].Name = "renamed"
	assert.NotEqual(t, before, Hash(s))

	s.Bones[0].Name = "root"
	assert.Equal(t, before, Hash(s))
}

func TestHashIgnoresVolatileFields(t *testing.T) {
	s := sampleSnapshot()
	before := Hash(s)

	s.Revision = "stale"
	s.Dirty = true
	s.AnimationsStatus = datatypes.AnimationsUnavailable
	assert.Equal(t, before, Hash(s), "revision, dirty, and live-read status are not semantic")
}

func TestHashChannelOrderStable(t *testing.T) {
	s := sampleSnapshot()
	s.Anims[0].Channels["aardvark"] = datatypes.BoneChannels{}
	s.Anims[0].Channels["zebra"] = datatypes.BoneChannels{}
	first := Hash(s)
	// Rebuild the map to vary insertion order.
	rebuilt := s.Clone()
	second := Hash(rebuilt)
	assert.Equal(t, first, second)
}

func TestTrackReturnsGettableClone(t *testing.T) {
	store := NewStore()
	s := sampleSnapshot()
	rev := store.Track(s)
	require.NotEmpty(t, rev)

	got := store.Get(rev)
	require.NotNil(t, got)
	assert.Equal(t, s.Name, got.Name)

	// The stored snapshot must not alias the caller's.
	s.Bones[0].Name = "mutated"
	again := store.Get(rev)
	assert.Equal(t, "root", again.Bones[0].Name)

	// And the returned clone must not alias the stored one.
	got.Bones[0].Name = "also-mutated"
	assert.Equal(t, "root", store.Get(rev).Bones[0].Name)
}

func TestStoreBound(t *testing.T) {
	store := NewStore()
	var revs []string
	for i := 0; i < Capacity+3; i++ {
		s := sampleSnapshot()
		s.Name = fmt.Sprintf("fox-%d", i)
		revs = append(revs, store.Track(s))
	}

	assert.Equal(t, Capacity, store.Len(), "store never exceeds capacity")
	assert.Nil(t, store.Get(revs[0]), "oldest revision evicted")
	assert.Nil(t, store.Get(revs[2]))
	assert.NotNil(t, store.Get(revs[len(revs)-1]), "newest revision retained")
}

func TestGetUnknownRevision(t *testing.T) {
	store := NewStore()
	assert.Nil(t, store.Get("deadbeef"))
}
