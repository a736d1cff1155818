// Copyright (C) 2026 Ashfox Project (hello@ashfox.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package worker

import (
	"context"

	"github.com/ashfoxhq/ashfox/services/editor/datatypes"
	"github.com/ashfoxhq/ashfox/services/editor/tools"
	"github.com/ashfoxhq/ashfox/services/pipeline"
)

// processGLTFConvert materializes the job's model into the editor and
// exports it. Geometry, animation, and texture materialization are
// best-effort per section; only the export step fails the job.
func processGLTFConvert(ctx context.Context, backend tools.Backend, job *pipeline.NativeJob) (map[string]any, error) {
	name := stringField(job.Payload, "projectName")
	if name == "" {
		name = job.ProjectID
	}
	ensureArgs := map[string]any{"name": name}
	if format := stringField(job.Payload, "format"); format != "" {
		ensureArgs["format"] = format
	}
	if _, err := call(ctx, backend, "ensure_project", ensureArgs); err != nil {
		return nil, err
	}

	materializeSection(ctx, backend, job.Payload, "bones", "add_bone")
	materializeSection(ctx, backend, job.Payload, "cubes", "add_cube")
	materializeSection(ctx, backend, job.Payload, "textures", "import_texture")
	materializeSection(ctx, backend, job.Payload, "animations", "add_animation")

	exportArgs := map[string]any{}
	if format := stringField(job.Payload, "format"); format != "" {
		exportArgs["format"] = format
	}
	if formatID := stringField(job.Payload, "formatId"); formatID != "" {
		exportArgs["formatId"] = formatID
	}
	exported, err := call(ctx, backend, "export", exportArgs)
	if err != nil {
		return nil, err
	}

	result := map[string]any{
		"output": map[string]any{
			"formatId": exported.Data["formatId"],
			"data":     exported.Data["data"],
			"size":     exported.Data["size"],
			"fallback": exported.Data["fallback"],
		},
		"textureSources": job.Payload["textures"],
	}

	state, err := call(ctx, backend, "get_project_state", map[string]any{})
	if err != nil {
		// The export already succeeded; report what we have.
		result["stateError"] = err.Error()
		return result, nil
	}
	if snap, ok := state.Data["project"].(*datatypes.ProjectSnapshot); ok {
		result["hierarchy"] = boneHierarchy(snap)
		result["animations"] = animationNames(snap)
		result["textures"] = textureNames(snap)
	}
	return result, nil
}

// materializeSection replays one payload list through a tool, ignoring
// per-item failures. Duplicate entries are expected on job retries.
func materializeSection(ctx context.Context, backend tools.Backend, payload map[string]any, key, tool string) {
	items, _ := payload[key].([]any)
	for _, item := range items {
		args, ok := item.(map[string]any)
		if !ok {
			continue
		}
		backend.CallTool(ctx, tool, cloneArgs(args))
	}
}

func cloneArgs(args map[string]any) map[string]any {
	out := make(map[string]any, len(args))
	for k, v := range args {
		out[k] = v
	}
	return out
}

// boneHierarchy nests bones by parent; cubes attach to their bone node.
func boneHierarchy(snap *datatypes.ProjectSnapshot) []map[string]any {
	children := map[string][]string{}
	byName := map[string]datatypes.Bone{}
	for _, bone := range snap.Bones {
		byName[bone.Name] = bone
		children[bone.Parent] = append(children[bone.Parent], bone.Name)
	}
	cubesByBone := map[string][]string{}
	for _, cube := range snap.Cubes {
		cubesByBone[cube.Bone] = append(cubesByBone[cube.Bone], cube.Name)
	}

	var build func(name string) map[string]any
	build = func(name string) map[string]any {
		node := map[string]any{"name": name}
		if cubes := cubesByBone[name]; len(cubes) > 0 {
			node["cubes"] = cubes
		}
		var kids []map[string]any
		for _, child := range children[name] {
			kids = append(kids, build(child))
		}
		if len(kids) > 0 {
			node["children"] = kids
		}
		return node
	}

	var roots []map[string]any
	for _, name := range children[""] {
		roots = append(roots, build(name))
	}
	return roots
}

func animationNames(snap *datatypes.ProjectSnapshot) []string {
	names := make([]string, 0, len(snap.Anims))
	for _, anim := range snap.Anims {
		names = append(names, anim.Name)
	}
	return names
}

func textureNames(snap *datatypes.ProjectSnapshot) []string {
	names := make([]string, 0, len(snap.Textures))
	for _, texture := range snap.Textures {
		names = append(names, texture.Name)
	}
	return names
}
