// Copyright (C) 2026 Ashfox Project (hello@ashfox.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package session holds the in-memory mutable project model the tool
// service operates on.
//
// A Project owns exactly one snapshot. Entities reference each other by
// name; the lookup indexes are rebuilt after every structural mutation
// instead of maintaining back-pointers (keeps the snapshot cycle-free
// and trivially cloneable).
//
// # Thread Safety
//
// Project is single-owner state: all access goes through the tool
// service, which serializes calls with its own mutex. Project itself is
// not synchronized.
package session

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/ashfoxhq/ashfox/services/editor/datatypes"
)

var (
	// ErrNoProject is returned when no project is attached.
	ErrNoProject = errors.New("no active project")

	// ErrNotFound is returned when a named entity does not exist.
	ErrNotFound = errors.New("entity not found")

	// ErrDuplicate is returned when a name or id collides within a kind.
	ErrDuplicate = errors.New("duplicate entity")

	// ErrOrphan is returned when a reference target does not exist.
	ErrOrphan = errors.New("reference target not found")
)

// Project is the mutable model for one attached editor project.
type Project struct {
	snap *datatypes.ProjectSnapshot

	boneByName map[string]int
	cubeByName map[string]int
	texByID    map[string]int
	animByName map[string]int
}

// New creates an empty, unattached project session.
func New() *Project {
	return &Project{}
}

// Attached reports whether a project snapshot is loaded.
func (p *Project) Attached() bool { return p.snap != nil }

// Attach replaces the session state with a clone of the given snapshot.
func (p *Project) Attach(snap *datatypes.ProjectSnapshot) {
	p.snap = snap.Clone()
	p.reindex()
}

// Detach drops the current project.
func (p *Project) Detach() { p.snap = nil }

// Snapshot returns a deep clone of the current state, or nil when
// nothing is attached.
func (p *Project) Snapshot() *datatypes.ProjectSnapshot {
	return p.snap.Clone()
}

// UpdateProject applies fn to the project-level fields of the snapshot.
func (p *Project) UpdateProject(fn func(*datatypes.ProjectSnapshot)) error {
	if err := p.requireAttached(); err != nil {
		return err
	}
	fn(p.snap)
	p.snap.Dirty = true
	p.reindex()
	return nil
}

// MarkDirty flags the project as having unsaved editor changes.
func (p *Project) MarkDirty() {
	if p.snap != nil {
		p.snap.Dirty = true
	}
}

func (p *Project) reindex() {
	p.boneByName = make(map[string]int, len(p.snap.Bones))
	for i, b := range p.snap.Bones {
		p.boneByName[b.Name] = i
	}
	p.cubeByName = make(map[string]int, len(p.snap.Cubes))
	for i, c := range p.snap.Cubes {
		p.cubeByName[c.Name] = i
	}
	p.texByID = make(map[string]int, len(p.snap.Textures))
	for i, t := range p.snap.Textures {
		p.texByID[t.ID] = i
	}
	p.animByName = make(map[string]int, len(p.snap.Anims))
	for i, a := range p.snap.Anims {
		p.animByName[a.Name] = i
	}
}

func (p *Project) requireAttached() error {
	if p.snap == nil {
		return ErrNoProject
	}
	return nil
}

// ---------------------------------------------------------------------
// Bones
// ---------------------------------------------------------------------

// AddBone appends a bone. Parent, when set, must name an existing bone.
func (p *Project) AddBone(bone datatypes.Bone) error {
	if err := p.requireAttached(); err != nil {
		return err
	}
	if _, exists := p.boneByName[bone.Name]; exists {
		return fmt.Errorf("%w: bone %q", ErrDuplicate, bone.Name)
	}
	if bone.Parent != "" {
		if _, ok := p.boneByName[bone.Parent]; !ok {
			return fmt.Errorf("%w: parent bone %q", ErrOrphan, bone.Parent)
		}
	}
	if bone.ID == "" {
		bone.ID = uuid.New().String()
	}
	p.snap.Bones = append(p.snap.Bones, bone)
	p.snap.Dirty = true
	p.reindex()
	return nil
}

// UpdateBone applies fn to the named bone. Renames keep referencing
// cubes and child bones consistent.
func (p *Project) UpdateBone(name string, fn func(*datatypes.Bone)) error {
	if err := p.requireAttached(); err != nil {
		return err
	}
	idx, ok := p.boneByName[name]
	if !ok {
		return fmt.Errorf("%w: bone %q", ErrNotFound, name)
	}
	before := p.snap.Bones[idx].Name
	fn(&p.snap.Bones[idx])
	after := p.snap.Bones[idx].Name
	if before != after {
		if _, clash := p.boneByName[after]; clash {
			p.snap.Bones[idx].Name = before
			return fmt.Errorf("%w: bone %q", ErrDuplicate, after)
		}
		for i := range p.snap.Cubes {
			if p.snap.Cubes[i].Bone == before {
				p.snap.Cubes[i].Bone = after
			}
		}
		for i := range p.snap.Bones {
			if p.snap.Bones[i].Parent == before {
				p.snap.Bones[i].Parent = after
			}
		}
	}
	p.snap.Dirty = true
	p.reindex()
	return nil
}

// DeleteBone removes the named bone, its child bones, and every cube
// attached to any removed bone.
func (p *Project) DeleteBone(name string) error {
	if err := p.requireAttached(); err != nil {
		return err
	}
	if _, ok := p.boneByName[name]; !ok {
		return fmt.Errorf("%w: bone %q", ErrNotFound, name)
	}

	doomed := map[string]bool{name: true}
	// Children are discovered iteratively; the hierarchy is a forest
	// keyed by parent name, not a pointer graph.
	for changed := true; changed; {
		changed = false
		for _, b := range p.snap.Bones {
			if !doomed[b.Name] && b.Parent != "" && doomed[b.Parent] {
				doomed[b.Name] = true
				changed = true
			}
		}
	}

	bones := p.snap.Bones[:0]
	for _, b := range p.snap.Bones {
		if !doomed[b.Name] {
			bones = append(bones, b)
		}
	}
	p.snap.Bones = bones

	cubes := p.snap.Cubes[:0]
	for _, c := range p.snap.Cubes {
		if !doomed[c.Bone] {
			cubes = append(cubes, c)
		}
	}
	p.snap.Cubes = cubes

	for i := range p.snap.Anims {
		for bone := range p.snap.Anims[i].Channels {
			if doomed[bone] {
				delete(p.snap.Anims[i].Channels, bone)
			}
		}
	}

	p.snap.Dirty = true
	p.reindex()
	return nil
}

// ---------------------------------------------------------------------
// Cubes
// ---------------------------------------------------------------------

// AddCube appends a cube. Bone must name an existing bone.
func (p *Project) AddCube(cube datatypes.Cube) error {
	if err := p.requireAttached(); err != nil {
		return err
	}
	if _, exists := p.cubeByName[cube.Name]; exists {
		return fmt.Errorf("%w: cube %q", ErrDuplicate, cube.Name)
	}
	if _, ok := p.boneByName[cube.Bone]; !ok {
		return fmt.Errorf("%w: bone %q", ErrOrphan, cube.Bone)
	}
	if cube.ID == "" {
		cube.ID = uuid.New().String()
	}
	p.snap.Cubes = append(p.snap.Cubes, cube)
	p.snap.Dirty = true
	p.reindex()
	return nil
}

// UpdateCube applies fn to the named cube. A failed update restores
// the cube: name clashes and orphaned bone references never leave
// partial edits behind.
func (p *Project) UpdateCube(name string, fn func(*datatypes.Cube)) error {
	if err := p.requireAttached(); err != nil {
		return err
	}
	idx, ok := p.cubeByName[name]
	if !ok {
		return fmt.Errorf("%w: cube %q", ErrNotFound, name)
	}
	saved := p.snap.Cubes[idx].Clone()
	fn(&p.snap.Cubes[idx])
	if after := p.snap.Cubes[idx].Name; after != saved.Name {
		if _, clash := p.cubeByName[after]; clash {
			p.snap.Cubes[idx] = saved
			return fmt.Errorf("%w: cube %q", ErrDuplicate, after)
		}
	}
	if bone := p.snap.Cubes[idx].Bone; bone != "" {
		if _, ok := p.boneByName[bone]; !ok {
			p.snap.Cubes[idx] = saved
			return fmt.Errorf("%w: bone %q", ErrOrphan, bone)
		}
	}
	p.snap.Dirty = true
	p.reindex()
	return nil
}

// DeleteCube removes the named cube.
func (p *Project) DeleteCube(name string) error {
	if err := p.requireAttached(); err != nil {
		return err
	}
	idx, ok := p.cubeByName[name]
	if !ok {
		return fmt.Errorf("%w: cube %q", ErrNotFound, name)
	}
	p.snap.Cubes = append(p.snap.Cubes[:idx], p.snap.Cubes[idx+1:]...)
	p.snap.Dirty = true
	p.reindex()
	return nil
}

// ---------------------------------------------------------------------
// Textures
// ---------------------------------------------------------------------

// AddTexture appends a texture slot.
func (p *Project) AddTexture(tex datatypes.Texture) error {
	if err := p.requireAttached(); err != nil {
		return err
	}
	for _, t := range p.snap.Textures {
		if t.Name == tex.Name || (tex.ID != "" && t.ID == tex.ID) {
			return fmt.Errorf("%w: texture %q", ErrDuplicate, tex.Name)
		}
	}
	if tex.ID == "" {
		tex.ID = uuid.New().String()
	}
	p.snap.Textures = append(p.snap.Textures, tex)
	p.snap.Dirty = true
	p.reindex()
	return nil
}

// UpdateTexture applies fn to the texture matched by id or name.
func (p *Project) UpdateTexture(idOrName string, fn func(*datatypes.Texture)) error {
	if err := p.requireAttached(); err != nil {
		return err
	}
	tex := p.snap.FindTexture(idOrName)
	if tex == nil {
		return fmt.Errorf("%w: texture %q", ErrNotFound, idOrName)
	}
	fn(tex)
	p.snap.Dirty = true
	p.reindex()
	return nil
}

// DeleteTexture removes the texture matched by id or name.
func (p *Project) DeleteTexture(idOrName string) error {
	if err := p.requireAttached(); err != nil {
		return err
	}
	for i, t := range p.snap.Textures {
		if t.ID == idOrName || t.Name == idOrName {
			p.snap.Textures = append(p.snap.Textures[:i], p.snap.Textures[i+1:]...)
			p.snap.Dirty = true
			p.reindex()
			return nil
		}
	}
	return fmt.Errorf("%w: texture %q", ErrNotFound, idOrName)
}

// ---------------------------------------------------------------------
// Animations
// ---------------------------------------------------------------------

// AddAnimation appends a clip.
func (p *Project) AddAnimation(anim datatypes.Animation) error {
	if err := p.requireAttached(); err != nil {
		return err
	}
	if _, exists := p.animByName[anim.Name]; exists {
		return fmt.Errorf("%w: animation %q", ErrDuplicate, anim.Name)
	}
	if anim.ID == "" {
		anim.ID = uuid.New().String()
	}
	p.snap.Anims = append(p.snap.Anims, anim)
	p.snap.Dirty = true
	p.reindex()
	return nil
}

// UpdateAnimation applies fn to the named clip.
func (p *Project) UpdateAnimation(name string, fn func(*datatypes.Animation)) error {
	if err := p.requireAttached(); err != nil {
		return err
	}
	idx, ok := p.animByName[name]
	if !ok {
		return fmt.Errorf("%w: animation %q", ErrNotFound, name)
	}
	before := p.snap.Anims[idx].Name
	fn(&p.snap.Anims[idx])
	after := p.snap.Anims[idx].Name
	if before != after {
		if _, clash := p.animByName[after]; clash {
			p.snap.Anims[idx].Name = before
			return fmt.Errorf("%w: animation %q", ErrDuplicate, after)
		}
	}
	p.snap.Dirty = true
	p.reindex()
	return nil
}

// DeleteAnimation removes the named clip.
func (p *Project) DeleteAnimation(name string) error {
	if err := p.requireAttached(); err != nil {
		return err
	}
	idx, ok := p.animByName[name]
	if !ok {
		return fmt.Errorf("%w: animation %q", ErrNotFound, name)
	}
	p.snap.Anims = append(p.snap.Anims[:idx], p.snap.Anims[idx+1:]...)
	p.snap.Dirty = true
	p.reindex()
	return nil
}
