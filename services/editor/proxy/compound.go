// Copyright (C) 2026 Ashfox Project (hello@ashfox.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package proxy

import (
	"context"

	"github.com/ashfoxhq/ashfox/pkg/schema"
	"github.com/ashfoxhq/ashfox/services/editor/datatypes"
	"github.com/ashfoxhq/ashfox/services/editor/tools"
)

func compounds() []compound {
	common := []schema.Rule{
		{Name: "ifRevision", Type: schema.TypeString},
		{Name: "autoRecover", Type: schema.TypeBoolean},
		{Name: "attachState", Type: schema.TypeBoolean},
		{Name: "attachDiff", Type: schema.TypeBoolean},
	}
	withCommon := func(rules ...schema.Rule) schema.Object {
		return schema.Object{Fields: append(rules, common...)}
	}

	return []compound{
		{
			Name:        "apply_texture_spec",
			Title:       "Apply texture spec",
			Description: "Import, assign, and paint a texture in one revision boundary.",
			Input: withCommon(
				schema.Rule{Name: "texture", Type: schema.TypeObject, Required: true, Fields: []schema.Rule{
					{Name: "name", Type: schema.TypeString, Required: true},
					{Name: "width", Type: schema.TypeInteger, Min: minf(1)},
					{Name: "height", Type: schema.TypeInteger, Min: minf(1)},
					{Name: "data", Type: schema.TypeString},
				}},
				schema.Rule{Name: "assign", Type: schema.TypeObject, Fields: []schema.Rule{
					{Name: "cubes", Type: schema.TypeArray, Items: &schema.Rule{Type: schema.TypeString}},
					{Name: "faces", Type: schema.TypeArray, Items: &schema.Rule{Type: schema.TypeString}},
				}},
				schema.Rule{Name: "paint", Type: schema.TypeArray,
					Items: &schema.Rule{Type: schema.TypeObject}},
			),
			run: applyTextureSpec,
		},
		{
			Name:        "apply_uv_spec",
			Title:       "Apply UV spec",
			Description: "Write a batch of face UV rectangles and verify the layout.",
			Input: withCommon(
				schema.Rule{Name: "faces", Type: schema.TypeArray, Required: true, MinItems: 1,
					Items: &schema.Rule{Type: schema.TypeObject}},
			),
			run: applyUVSpec,
		},
		{
			Name:        "model_pipeline",
			Title:       "Model pipeline",
			Description: "Create a batch of bones and cubes in one revision boundary.",
			Input: withCommon(
				schema.Rule{Name: "bones", Type: schema.TypeArray,
					Items: &schema.Rule{Type: schema.TypeObject}},
				schema.Rule{Name: "cubes", Type: schema.TypeArray,
					Items: &schema.Rule{Type: schema.TypeObject}},
			),
			run: modelPipeline,
		},
		{
			Name:        "texture_pipeline",
			Title:       "Texture pipeline",
			Description: "Import a batch of textures, optionally re-atlas the layout.",
			Input: withCommon(
				schema.Rule{Name: "textures", Type: schema.TypeArray, Required: true, MinItems: 1,
					Items: &schema.Rule{Type: schema.TypeObject}},
				schema.Rule{Name: "atlas", Type: schema.TypeBoolean},
			),
			run: texturePipeline,
		},
		{
			Name:        "entity_pipeline",
			Title:       "Entity pipeline",
			Description: "Build a complete entity: project, model, textures, animations.",
			Input: withCommon(
				schema.Rule{Name: "name", Type: schema.TypeString},
				schema.Rule{Name: "format", Type: schema.TypeString},
				schema.Rule{Name: "bones", Type: schema.TypeArray,
					Items: &schema.Rule{Type: schema.TypeObject}},
				schema.Rule{Name: "cubes", Type: schema.TypeArray,
					Items: &schema.Rule{Type: schema.TypeObject}},
				schema.Rule{Name: "textures", Type: schema.TypeArray,
					Items: &schema.Rule{Type: schema.TypeObject}},
				schema.Rule{Name: "animations", Type: schema.TypeArray,
					Items: &schema.Rule{Type: schema.TypeObject}},
			),
			run: entityPipeline,
		},
		{
			Name:        "render_preview",
			Title:       "Render preview",
			Description: "Return a structural preview: hierarchy, bounds, and counts.",
			Input:       withCommon(),
			run:         renderPreview,
		},
		{
			Name:        "validate",
			Title:       "Validate",
			Description: "Run project validation and a UV preflight in one call.",
			Input: withCommon(
				schema.Rule{Name: "maxCubes", Type: schema.TypeInteger, Min: minf(1)},
			),
			run: validateCompound,
		},
	}
}

func minf(v float64) *float64 { return &v }

func objects(v any) []map[string]any {
	items, _ := v.([]any)
	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		if m, ok := item.(map[string]any); ok {
			out = append(out, cloneArgs(m))
		}
	}
	return out
}

func cloneArgs(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func applyTextureSpec(ctx context.Context, q *request) tools.Result {
	q.snapshotPre(ctx)

	spec, _ := q.args["texture"].(map[string]any)
	name, _ := spec["name"].(string)

	// Import only when the texture is new; painting an existing slot is
	// the common repeat case.
	state := q.call(ctx, "get_project_state", map[string]any{})
	if !state.OK {
		return state
	}
	snap := state.Data["project"].(*datatypes.ProjectSnapshot)
	imported := false
	if snap.FindTexture(name) == nil {
		res := q.callGuarded(ctx, "import_texture", cloneArgs(spec))
		if !res.OK {
			return res
		}
		imported = true
	}

	if assign, ok := q.args["assign"].(map[string]any); ok {
		args := cloneArgs(assign)
		args["texture"] = name
		if res := q.callGuarded(ctx, "assign_texture", args); !res.OK {
			if res.Error.Code != tools.CodeNoChange {
				return res
			}
		}
	}

	ops, hasOps := q.args["paint"].([]any)
	painted := 0
	if hasOps && len(ops) > 0 {
		pre := q.preflight(ctx)
		if !pre.OK {
			return pre
		}
		res := q.callGuarded(ctx, "paint_faces", map[string]any{
			"uvUsageId": q.cachedUsageID,
			"texture":   name,
			"ops":       ops,
		})
		if !res.OK && q.autoRecover && uvFailure(res.Error) {
			if !q.recover(ctx, res.Error.Reason()) {
				return res
			}
			res = q.callGuarded(ctx, "paint_faces", map[string]any{
				"uvUsageId": q.cachedUsageID,
				"texture":   name,
				"ops":       ops,
			})
		}
		if !res.OK {
			return res
		}
		painted = len(ops)
	}

	out := tools.Ok(map[string]any{
		"texture":   name,
		"imported":  imported,
		"painted":   painted,
		"uvUsageId": q.cachedUsageID,
	})
	out.Revision = q.ifRevision
	out.Recovery = q.recovery
	return out
}

func applyUVSpec(ctx context.Context, q *request) tools.Result {
	q.snapshotPre(ctx)

	applied := 0
	for _, face := range objects(q.args["faces"]) {
		res := q.callGuarded(ctx, "set_face_uv", face)
		if !res.OK {
			if res.Error.Code == tools.CodeNoChange {
				continue
			}
			return res
		}
		applied++
	}

	pre := q.preflight(ctx)
	if !pre.OK {
		return pre
	}
	counts, _ := pre.Data["counts"].(map[string]int)
	if counts[tools.DiagOverlap] > 0 && q.autoRecover {
		if q.recover(ctx, "uv_overlap") {
			pre = q.preflight(ctx)
			counts, _ = pre.Data["counts"].(map[string]int)
		}
	}

	out := tools.Ok(map[string]any{
		"applied":   applied,
		"uvUsageId": q.cachedUsageID,
		"counts":    counts,
	})
	out.Revision = q.ifRevision
	out.Recovery = q.recovery
	return out
}

func modelPipeline(ctx context.Context, q *request) tools.Result {
	q.snapshotPre(ctx)

	bonesAdded, cubesAdded, skipped := 0, 0, 0
	for _, bone := range objects(q.args["bones"]) {
		res := q.callGuarded(ctx, "add_bone", bone)
		switch {
		case res.OK:
			bonesAdded++
		case res.Error.Code == tools.CodeNoChange:
			skipped++
		default:
			return res
		}
	}
	for _, cube := range objects(q.args["cubes"]) {
		res := q.callGuarded(ctx, "add_cube", cube)
		switch {
		case res.OK:
			cubesAdded++
		case res.Error.Code == tools.CodeNoChange:
			skipped++
		default:
			return res
		}
	}

	out := tools.Ok(map[string]any{
		"bonesAdded": bonesAdded,
		"cubesAdded": cubesAdded,
		"skipped":    skipped,
	})
	out.Revision = q.ifRevision
	return out
}

func texturePipeline(ctx context.Context, q *request) tools.Result {
	q.snapshotPre(ctx)

	imported := 0
	for _, tex := range objects(q.args["textures"]) {
		res := q.callGuarded(ctx, "import_texture", tex)
		switch {
		case res.OK:
			imported++
		case res.Error.Code == tools.CodeNoChange:
		case res.Error.Reason() == "duplicate_name":
		default:
			return res
		}
	}

	if atlas, _ := q.args["atlas"].(bool); atlas {
		res := q.callGuarded(ctx, "auto_uv_atlas", map[string]any{"apply": true})
		if !res.OK && res.Error.Code != tools.CodeNoChange {
			return res
		}
		q.invalidateUsage()
	}

	pre := q.preflight(ctx)
	data := map[string]any{"imported": imported}
	if pre.OK {
		data["uvUsageId"] = q.cachedUsageID
		data["counts"] = pre.Data["counts"]
	}
	out := tools.Ok(data)
	out.Revision = q.ifRevision
	return out
}

func entityPipeline(ctx context.Context, q *request) tools.Result {
	q.snapshotPre(ctx)

	ensure := map[string]any{}
	if name, ok := q.args["name"].(string); ok {
		ensure["name"] = name
	}
	if format, ok := q.args["format"].(string); ok {
		ensure["format"] = format
	}
	if res := q.call(ctx, "ensure_project", ensure); !res.OK {
		return res
	}

	model := modelPipeline(ctx, q)
	if !model.OK {
		return model
	}

	imported := 0
	for _, tex := range objects(q.args["textures"]) {
		res := q.callGuarded(ctx, "import_texture", tex)
		switch {
		case res.OK:
			imported++
		case res.Error.Reason() == "duplicate_name":
		default:
			return res
		}
	}

	animations := 0
	for _, anim := range objects(q.args["animations"]) {
		res := q.callGuarded(ctx, "add_animation", anim)
		switch {
		case res.OK:
			animations++
		case res.Error.Code == tools.CodeNoChange:
		case res.Error.Reason() == "duplicate_name":
		default:
			return res
		}
	}

	validation := q.call(ctx, "validate_project", map[string]any{})
	data := map[string]any{
		"bonesAdded":   model.Data["bonesAdded"],
		"cubesAdded":   model.Data["cubesAdded"],
		"textures":     imported,
		"animations":   animations,
	}
	if validation.OK {
		data["validation"] = validation.Data
	}
	out := tools.Ok(data)
	out.Revision = q.ifRevision
	return out
}

func renderPreview(ctx context.Context, q *request) tools.Result {
	state := q.call(ctx, "get_project_state", map[string]any{})
	if !state.OK {
		return state
	}
	snap := state.Data["project"].(*datatypes.ProjectSnapshot)

	out := tools.Ok(map[string]any{
		"preview": map[string]any{
			"name":      snap.Name,
			"format":    snap.Format,
			"hierarchy": hierarchyTree(snap),
			"bounds":    modelBounds(snap),
			"counts": map[string]int{
				"bones":      len(snap.Bones),
				"cubes":      len(snap.Cubes),
				"textures":   len(snap.Textures),
				"animations": len(snap.Anims),
			},
		},
	})
	out.Revision = state.Revision
	return out
}

func validateCompound(ctx context.Context, q *request) tools.Result {
	q.snapshotPre(ctx)

	args := map[string]any{}
	if v, ok := q.args["maxCubes"]; ok {
		args["maxCubes"] = v
	}
	validation := q.call(ctx, "validate_project", args)
	if !validation.OK {
		return validation
	}
	pre := q.preflight(ctx)

	data := map[string]any{"validation": validation.Data}
	if pre.OK {
		data["uvUsageId"] = q.cachedUsageID
		data["preflight"] = map[string]any{
			"faces":  pre.Data["faces"],
			"counts": pre.Data["counts"],
		}
	}
	out := tools.Ok(data)
	out.Revision = validation.Revision
	return out
}

// hierarchyTree renders the bone forest as nested nodes with cube
// leaves, in snapshot order.
func hierarchyTree(snap *datatypes.ProjectSnapshot) []map[string]any {
	cubesByBone := map[string][]string{}
	for _, c := range snap.Cubes {
		cubesByBone[c.Bone] = append(cubesByBone[c.Bone], c.Name)
	}
	var build func(parent string) []map[string]any
	build = func(parent string) []map[string]any {
		var nodes []map[string]any
		for _, b := range snap.Bones {
			if b.Parent != parent {
				continue
			}
			node := map[string]any{"bone": b.Name}
			if cubes := cubesByBone[b.Name]; len(cubes) > 0 {
				node["cubes"] = cubes
			}
			if children := build(b.Name); len(children) > 0 {
				node["children"] = children
			}
			nodes = append(nodes, node)
		}
		return nodes
	}
	return build("")
}

// modelBounds is the axis-aligned box containing every cube.
func modelBounds(snap *datatypes.ProjectSnapshot) map[string]any {
	if len(snap.Cubes) == 0 {
		return nil
	}
	min := snap.Cubes[0].From
	max := snap.Cubes[0].To
	for _, c := range snap.Cubes[1:] {
		for i := 0; i < 3; i++ {
			if c.From[i] < min[i] {
				min[i] = c.From[i]
			}
			if c.To[i] > max[i] {
				max[i] = c.To[i]
			}
		}
	}
	return map[string]any{"min": min, "max": max}
}
