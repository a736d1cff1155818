// Copyright (C) 2026 Ashfox Project (hello@ashfox.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package datatypes defines the canonical editor model shared by the
// revision store, the snapshot merger, the project session, and the tool
// service.
//
// A ProjectSnapshot is a value: entities reference each other by name
// (cube.Bone, bone.Parent) instead of pointers, so snapshots clone and
// serialize without cycles. Lookup indexes are rebuilt from the snapshot
// where needed (see services/editor/session).
package datatypes

// Vec3 is an (x, y, z) triple. Used for pivots, cube corners, origins,
// rotations, and scales.
type Vec3 [3]float64

// FaceUV is a UV rectangle [x1, y1, x2, y2] with x1 <= x2 and y1 <= y2.
type FaceUV [4]float64

// Face names for per-face UV maps.
const (
	FaceNorth = "north"
	FaceSouth = "south"
	FaceEast  = "east"
	FaceWest  = "west"
	FaceUp    = "up"
	FaceDown  = "down"
)

// FaceNames lists the cube faces in canonical order. Hashing and
// preflight iterate in this order so output is deterministic.
var FaceNames = []string{FaceNorth, FaceSouth, FaceEast, FaceWest, FaceUp, FaceDown}

// FormatKind identifies a known model format family.
type FormatKind string

const (
	FormatAnimatedJava FormatKind = "animated_java"
	FormatGeckolib     FormatKind = "geckolib"
	FormatVanilla      FormatKind = "vanilla"
)

// KnownFormatKinds lists the format kinds the gateway understands.
var KnownFormatKinds = []FormatKind{FormatAnimatedJava, FormatGeckolib, FormatVanilla}

// Bone is a node in the outliner hierarchy. Parent refers to another
// bone by name; the empty string means the bone is a root.
type Bone struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Parent   string   `json:"parent,omitempty"`
	Pivot    Vec3     `json:"pivot"`
	Rotation *Vec3    `json:"rotation,omitempty"`
	Scale    *float64 `json:"scale,omitempty"`
	Visible  bool     `json:"visible"`
}

// Cube is a box element attached to a bone. From and To are inclusive
// corner coordinates. FaceUVs maps face name to its UV rectangle.
type Cube struct {
	ID       string            `json:"id"`
	Name     string            `json:"name"`
	Bone     string            `json:"bone"`
	From     Vec3              `json:"from"`
	To       Vec3              `json:"to"`
	Origin   Vec3              `json:"origin"`
	Rotation *Vec3             `json:"rotation,omitempty"`
	UVOffset [2]float64        `json:"uv_offset"`
	BoxUV    bool              `json:"box_uv"`
	Inflate  float64           `json:"inflate,omitempty"`
	Mirror   bool              `json:"mirror,omitempty"`
	FaceUVs  map[string]FaceUV `json:"face_uvs,omitempty"`

	// FaceTextures maps face name to the id of the texture assigned to
	// that face. Faces absent from the map use the project default.
	FaceTextures map[string]string `json:"face_textures,omitempty"`
}

// Texture is an image slot. Data, when present, is a data URI with the
// pixel payload; ContentHash is a stable digest of that payload.
type Texture struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	Path        string `json:"path,omitempty"`
	ContentHash string `json:"content_hash,omitempty"`
	Data        string `json:"data,omitempty"`
}

// Keyframe is a single key on an animation channel.
type Keyframe struct {
	Time   float64 `json:"time"`
	Values Vec3    `json:"values"`
	Interp string  `json:"interp,omitempty"`
}

// BoneChannels holds the keyframes of one animated bone.
type BoneChannels struct {
	Rotation []Keyframe `json:"rotation,omitempty"`
	Position []Keyframe `json:"position,omitempty"`
	Scale    []Keyframe `json:"scale,omitempty"`
}

// TriggerKey is a timed non-transform key (sound, particle, script).
type TriggerKey struct {
	Time  float64 `json:"time"`
	Value string  `json:"value"`
}

// Animation is a named clip. Channels maps bone name to its transform
// keys; Triggers maps a trigger channel name to its keys.
type Animation struct {
	ID       string                  `json:"id"`
	Name     string                  `json:"name"`
	Length   float64                 `json:"length"`
	Loop     bool                    `json:"loop"`
	FPS      float64                 `json:"fps"`
	Channels map[string]BoneChannels `json:"channels,omitempty"`
	Triggers map[string][]TriggerKey `json:"triggers,omitempty"`
}

// AnimationsStatus values reported by live editor reads.
const (
	AnimationsAvailable   = "available"
	AnimationsUnavailable = "unavailable"
)

// ProjectSnapshot is the full serializable state of an editor project.
//
// Revision is a stable content hash of the semantic fields (see
// services/editor/revision); it is recomputed rather than trusted when a
// snapshot crosses a process boundary.
type ProjectSnapshot struct {
	ID       string      `json:"id"`
	Name     string      `json:"name"`
	Format   FormatKind  `json:"format,omitempty"`
	FormatID string      `json:"format_id,omitempty"`
	Revision string      `json:"revision,omitempty"`
	Dirty    bool        `json:"dirty,omitempty"`
	Bones    []Bone      `json:"bones"`
	Cubes    []Cube      `json:"cubes"`
	Textures []Texture   `json:"textures"`
	Anims    []Animation `json:"animations"`

	// ResolutionWidth and ResolutionHeight are the project-level UV
	// space dimensions. Zero means the project never set them.
	ResolutionWidth  int `json:"resolution_width,omitempty"`
	ResolutionHeight int `json:"resolution_height,omitempty"`

	// PixelsPerBlock is the UV density used when auto-laying-out
	// texture space. Zero means the editor default.
	PixelsPerBlock float64 `json:"pixels_per_block,omitempty"`

	// AnimationsStatus reports whether a live read could see clips.
	// Only meaningful on snapshots read from the editor adapter.
	AnimationsStatus string `json:"animations_status,omitempty"`
}

// Clone returns a deep copy of the snapshot. Mutating the copy never
// aliases the original.
func (s *ProjectSnapshot) Clone() *ProjectSnapshot {
	if s == nil {
		return nil
	}
	out := *s
	out.Bones = cloneBones(s.Bones)
	out.Cubes = cloneCubes(s.Cubes)
	out.Textures = append([]Texture(nil), s.Textures...)
	out.Anims = cloneAnimations(s.Anims)
	return &out
}

func cloneBones(bones []Bone) []Bone {
	if bones == nil {
		return nil
	}
	out := make([]Bone, len(bones))
	for i, b := range bones {
		if b.Rotation != nil {
			r := *b.Rotation
			b.Rotation = &r
		}
		if b.Scale != nil {
			sc := *b.Scale
			b.Scale = &sc
		}
		out[i] = b
	}
	return out
}

// Clone returns a deep copy of the cube.
func (c Cube) Clone() Cube {
	if c.Rotation != nil {
		r := *c.Rotation
		c.Rotation = &r
	}
	if c.FaceUVs != nil {
		faces := make(map[string]FaceUV, len(c.FaceUVs))
		for k, v := range c.FaceUVs {
			faces[k] = v
		}
		c.FaceUVs = faces
	}
	if c.FaceTextures != nil {
		assigned := make(map[string]string, len(c.FaceTextures))
		for k, v := range c.FaceTextures {
			assigned[k] = v
		}
		c.FaceTextures = assigned
	}
	return c
}

func cloneCubes(cubes []Cube) []Cube {
	if cubes == nil {
		return nil
	}
	out := make([]Cube, len(cubes))
	for i, c := range cubes {
		out[i] = c.Clone()
	}
	return out
}

func cloneAnimations(anims []Animation) []Animation {
	if anims == nil {
		return nil
	}
	out := make([]Animation, len(anims))
	for i, a := range anims {
		if a.Channels != nil {
			channels := make(map[string]BoneChannels, len(a.Channels))
			for bone, ch := range a.Channels {
				ch.Rotation = append([]Keyframe(nil), ch.Rotation...)
				ch.Position = append([]Keyframe(nil), ch.Position...)
				ch.Scale = append([]Keyframe(nil), ch.Scale...)
				channels[bone] = ch
			}
			a.Channels = channels
		}
		if a.Triggers != nil {
			triggers := make(map[string][]TriggerKey, len(a.Triggers))
			for ch, keys := range a.Triggers {
				triggers[ch] = append([]TriggerKey(nil), keys...)
			}
			a.Triggers = triggers
		}
		out[i] = a
	}
	return out
}

// FindBone returns the bone with the given name, or nil.
func (s *ProjectSnapshot) FindBone(name string) *Bone {
	for i := range s.Bones {
		if s.Bones[i].Name == name {
			return &s.Bones[i]
		}
	}
	return nil
}

// FindCube returns the cube with the given name, or nil.
func (s *ProjectSnapshot) FindCube(name string) *Cube {
	for i := range s.Cubes {
		if s.Cubes[i].Name == name {
			return &s.Cubes[i]
		}
	}
	return nil
}

// FindTexture returns the texture matching by id, falling back to name.
func (s *ProjectSnapshot) FindTexture(idOrName string) *Texture {
	for i := range s.Textures {
		if s.Textures[i].ID == idOrName {
			return &s.Textures[i]
		}
	}
	for i := range s.Textures {
		if s.Textures[i].Name == idOrName {
			return &s.Textures[i]
		}
	}
	return nil
}

// FindAnimation returns the animation with the given name, or nil.
func (s *ProjectSnapshot) FindAnimation(name string) *Animation {
	for i := range s.Anims {
		if s.Anims[i].Name == name {
			return &s.Anims[i]
		}
	}
	return nil
}
