// Copyright (C) 2026 Ashfox Project (hello@ashfox.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package revision implements the bounded revision cache and the content
// hash behind optimistic concurrency (`ifRevision`).
//
// The hash is part of the wire contract: clients compare revisions across
// processes, so the canonical serialization and the rolling hash must not
// change between releases. Equal snapshots always produce equal revisions.
package revision

import (
	"sort"
	"strconv"
	"strings"

	"github.com/ashfoxhq/ashfox/services/editor/datatypes"
)

// Capacity is the maximum number of (revision, snapshot) pairs retained.
const Capacity = 5

// Store is a bounded map of revision → cloned snapshot, evicted in
// first-insert order once Capacity is exceeded.
//
// # Thread Safety
//
// Store is NOT safe for concurrent use on its own; the tool service owns
// one Store and serializes access through its own mutex.
type Store struct {
	entries map[string]*datatypes.ProjectSnapshot
	order   []string
}

// NewStore creates an empty revision store.
func NewStore() *Store {
	return &Store{entries: make(map[string]*datatypes.ProjectSnapshot)}
}

// Track hashes the snapshot, stores a deep clone under the resulting
// revision, and returns the revision. Re-tracking a known revision
// refreshes the stored clone without changing eviction order.
func (s *Store) Track(snapshot *datatypes.ProjectSnapshot) string {
	rev := Hash(snapshot)
	if _, exists := s.entries[rev]; !exists {
		s.order = append(s.order, rev)
		if len(s.order) > Capacity {
			oldest := s.order[0]
			s.order = s.order[1:]
			delete(s.entries, oldest)
		}
	}
	s.entries[rev] = snapshot.Clone()
	return rev
}

// Get returns a deep clone of the snapshot stored under the revision,
// or nil if the revision is unknown or already evicted.
func (s *Store) Get(rev string) *datatypes.ProjectSnapshot {
	snap, ok := s.entries[rev]
	if !ok {
		return nil
	}
	return snap.Clone()
}

// Len reports the number of retained revisions.
func (s *Store) Len() int { return len(s.entries) }

// Hash computes the revision of a snapshot. Pure: no side effects, no
// store required.
//
// The canonical form serializes the semantic fields of every entity with
// a fixed key order, arrays in input order, missing optionals as the
// empty string, and floats in their shortest round-trip form. The hash
// itself is a DJB2-style 32-bit rolling hash over that string, rendered
// as lowercase hex.
func Hash(snapshot *datatypes.ProjectSnapshot) string {
	var b strings.Builder
	writeCanonical(&b, snapshot)
	canonical := b.String()
	var h uint32 = 5381
	for i := 0; i < len(canonical); i++ {
		h = h*33 + uint32(canonical[i])
	}
	return strconv.FormatUint(uint64(h), 16)
}

func writeCanonical(b *strings.Builder, s *datatypes.ProjectSnapshot) {
	b.WriteString("project{")
	field(b, "id", s.ID)
	field(b, "name", s.Name)
	field(b, "format", string(s.Format))
	field(b, "formatId", s.FormatID)
	field(b, "resW", strconv.Itoa(s.ResolutionWidth))
	field(b, "resH", strconv.Itoa(s.ResolutionHeight))
	field(b, "ppb", num(s.PixelsPerBlock))

	b.WriteString("bones[")
	for _, bone := range s.Bones {
		b.WriteString("{")
		field(b, "id", bone.ID)
		field(b, "name", bone.Name)
		field(b, "parent", bone.Parent)
		vec(b, "pivot", bone.Pivot)
		if bone.Rotation != nil {
			vec(b, "rotation", *bone.Rotation)
		} else {
			field(b, "rotation", "")
		}
		if bone.Scale != nil {
			field(b, "scale", num(*bone.Scale))
		} else {
			field(b, "scale", "")
		}
		field(b, "visible", boolStr(bone.Visible))
		b.WriteString("}")
	}
	b.WriteString("]")

	b.WriteString("cubes[")
	for _, cube := range s.Cubes {
		b.WriteString("{")
		field(b, "id", cube.ID)
		field(b, "name", cube.Name)
		field(b, "bone", cube.Bone)
		vec(b, "from", cube.From)
		vec(b, "to", cube.To)
		vec(b, "origin", cube.Origin)
		if cube.Rotation != nil {
			vec(b, "rotation", *cube.Rotation)
		} else {
			field(b, "rotation", "")
		}
		field(b, "uv", num(cube.UVOffset[0])+","+num(cube.UVOffset[1]))
		field(b, "boxUv", boolStr(cube.BoxUV))
		field(b, "inflate", num(cube.Inflate))
		field(b, "mirror", boolStr(cube.Mirror))
		b.WriteString("faces[")
		for _, face := range datatypes.FaceNames {
			uv, ok := cube.FaceUVs[face]
			if !ok {
				field(b, face, "")
			} else {
				field(b, face, num(uv[0])+","+num(uv[1])+","+num(uv[2])+","+num(uv[3]))
			}
			field(b, face+"Tex", cube.FaceTextures[face])
		}
		b.WriteString("]")
		b.WriteString("}")
	}
	b.WriteString("]")

	b.WriteString("textures[")
	for _, tex := range s.Textures {
		b.WriteString("{")
		field(b, "id", tex.ID)
		field(b, "name", tex.Name)
		field(b, "width", strconv.Itoa(tex.Width))
		field(b, "height", strconv.Itoa(tex.Height))
		field(b, "path", tex.Path)
		field(b, "contentHash", tex.ContentHash)
		b.WriteString("}")
	}
	b.WriteString("]")

	b.WriteString("animations[")
	for _, anim := range s.Anims {
		b.WriteString("{")
		field(b, "id", anim.ID)
		field(b, "name", anim.Name)
		field(b, "length", num(anim.Length))
		field(b, "loop", boolStr(anim.Loop))
		field(b, "fps", num(anim.FPS))
		b.WriteString("channels[")
		for _, bone := range sortedKeys(anim.Channels) {
			ch := anim.Channels[bone]
			b.WriteString(bone + "{")
			keys(b, "rot", ch.Rotation)
			keys(b, "pos", ch.Position)
			keys(b, "scale", ch.Scale)
			b.WriteString("}")
		}
		b.WriteString("]")
		b.WriteString("triggers[")
		for _, ch := range sortedKeys(anim.Triggers) {
			b.WriteString(ch + "{")
			for _, k := range anim.Triggers[ch] {
				b.WriteString(num(k.Time) + "=" + k.Value + ";")
			}
			b.WriteString("}")
		}
		b.WriteString("]")
		b.WriteString("}")
	}
	b.WriteString("]")
	b.WriteString("}")
}

func field(b *strings.Builder, key, value string) {
	b.WriteString(key)
	b.WriteString(":")
	b.WriteString(value)
	b.WriteString(";")
}

func vec(b *strings.Builder, key string, v datatypes.Vec3) {
	field(b, key, num(v[0])+","+num(v[1])+","+num(v[2]))
}

func keys(b *strings.Builder, key string, frames []datatypes.Keyframe) {
	b.WriteString(key + "(")
	for _, f := range frames {
		b.WriteString(num(f.Time) + "=" + num(f.Values[0]) + "," + num(f.Values[1]) + "," + num(f.Values[2]))
		if f.Interp != "" {
			b.WriteString("@" + f.Interp)
		}
		b.WriteString(";")
	}
	b.WriteString(")")
}

// num renders a float in its shortest round-trip representation.
func num(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func boolStr(v bool) string {
	if v {
		return "1"
	}
	return "0"
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
