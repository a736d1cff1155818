// Copyright (C) 2026 Ashfox Project (hello@ashfox.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package proxy

import (
	"github.com/ashfoxhq/ashfox/services/editor/datatypes"
)

// diffSnapshots summarizes what changed between two snapshots: added
// and removed entities per kind, plus the revision movement. Entity
// field edits surface as a changed count from the revision comparison
// done by callers; the diff lists membership changes only.
func diffSnapshots(before, after *datatypes.ProjectSnapshot) map[string]any {
	out := map[string]any{
		"fromRevision": before.Revision,
		"toRevision":   after.Revision,
	}
	if added, removed := diffNames(boneNames(before), boneNames(after)); len(added)+len(removed) > 0 {
		out["bones"] = map[string]any{"added": added, "removed": removed}
	}
	if added, removed := diffNames(cubeNames(before), cubeNames(after)); len(added)+len(removed) > 0 {
		out["cubes"] = map[string]any{"added": added, "removed": removed}
	}
	if added, removed := diffNames(textureNames(before), textureNames(after)); len(added)+len(removed) > 0 {
		out["textures"] = map[string]any{"added": added, "removed": removed}
	}
	if added, removed := diffNames(animationNames(before), animationNames(after)); len(added)+len(removed) > 0 {
		out["animations"] = map[string]any{"added": added, "removed": removed}
	}
	return out
}

func diffNames(before, after []string) (added, removed []string) {
	was := map[string]bool{}
	for _, n := range before {
		was[n] = true
	}
	is := map[string]bool{}
	for _, n := range after {
		is[n] = true
		if !was[n] {
			added = append(added, n)
		}
	}
	for _, n := range before {
		if !is[n] {
			removed = append(removed, n)
		}
	}
	return added, removed
}

func boneNames(s *datatypes.ProjectSnapshot) []string {
	out := make([]string, 0, len(s.Bones))
	for _, b := range s.Bones {
		out = append(out, b.Name)
	}
	return out
}

func cubeNames(s *datatypes.ProjectSnapshot) []string {
	out := make([]string, 0, len(s.Cubes))
	for _, c := range s.Cubes {
		out = append(out, c.Name)
	}
	return out
}

func textureNames(s *datatypes.ProjectSnapshot) []string {
	out := make([]string, 0, len(s.Textures))
	for _, t := range s.Textures {
		out = append(out, t.Name)
	}
	return out
}

func animationNames(s *datatypes.ProjectSnapshot) []string {
	out := make([]string, 0, len(s.Anims))
	for _, a := range s.Anims {
		out = append(out, a.Name)
	}
	return out
}
