// Copyright (C) 2026 Ashfox Project (hello@ashfox.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package tools

import (
	"context"

	"github.com/google/uuid"

	"github.com/ashfoxhq/ashfox/pkg/schema"
	"github.com/ashfoxhq/ashfox/services/editor/datatypes"
	"github.com/ashfoxhq/ashfox/services/editor/revision"
)

func projectDescriptors() []Descriptor {
	return []Descriptor{
		{
			Name:        "create_project",
			Title:       "Create project",
			Description: "Create a new empty project and make it active.",
			Input: schema.Object{Fields: []schema.Rule{
				{Name: "name", Type: schema.TypeString, Required: true},
				{Name: "format", Type: schema.TypeString,
					Enum: []string{"animated_java", "geckolib", "vanilla"}},
				{Name: "formatId", Type: schema.TypeString},
			}},
			handler: createProject,
		},
		{
			Name:        "ensure_project",
			Title:       "Ensure project",
			Description: "Attach the live editor project, or create one when none exists.",
			Input: schema.Object{Fields: []schema.Rule{
				{Name: "name", Type: schema.TypeString},
				{Name: "format", Type: schema.TypeString,
					Enum: []string{"animated_java", "geckolib", "vanilla"}},
			}},
			handler: ensureProject,
		},
		{
			Name:         "get_project_state",
			Title:        "Get project state",
			Description:  "Return the canonical project snapshot and its revision.",
			Input:        schema.Object{},
			NeedsProject: true,
			handler:      getProjectState,
		},
		{
			Name:         "close_project",
			Title:        "Close project",
			Description:  "Detach the active project without deleting anything.",
			Input:        schema.Object{},
			NeedsProject: true,
			handler:      closeProject,
		},
		{
			Name:         "delete_project",
			Title:        "Delete project",
			Description:  "Detach and forget the active project and its cached revisions.",
			Input:        schema.Object{},
			NeedsProject: true,
			handler:      deleteProject,
		},
		{
			Name:        "set_texture_resolution",
			Title:       "Set texture resolution",
			Description: "Set the project-level UV space dimensions.",
			Input: schema.Object{Fields: []schema.Rule{
				{Name: "width", Type: schema.TypeInteger, Required: true, Min: minf(1)},
				{Name: "height", Type: schema.TypeInteger, Required: true, Min: minf(1)},
				ifRevisionRule(),
			}},
			Mutating: true,
			handler:  setTextureResolution,
		},
		{
			Name:        "set_uv_pixels_per_block",
			Title:       "Set UV pixels per block",
			Description: "Set the UV density used by automatic texture layout.",
			Input: schema.Object{Fields: []schema.Rule{
				{Name: "value", Type: schema.TypeNumber, Required: true, Min: minf(0.001)},
				ifRevisionRule(),
			}},
			Mutating: true,
			handler:  setUVPixelsPerBlock,
		},
	}
}

type createProjectPayload struct {
	Name     string `json:"name"`
	Format   string `json:"format"`
	FormatID string `json:"formatId"`
}

func createProject(ctx context.Context, s *Service, args map[string]any) Result {
	var p createProjectPayload
	if terr := decode(args, &p); terr != nil {
		return Fail(terr)
	}
	if s.project.Attached() {
		return Fail(InvalidState("project_already_open",
			"a project is already attached").WithFix("call close_project first"))
	}
	snap := &datatypes.ProjectSnapshot{
		ID:       uuid.New().String(),
		Name:     p.Name,
		Format:   datatypes.FormatKind(p.Format),
		FormatID: p.FormatID,
	}
	if p.Format != "" && !knownFormat(p.Format) {
		return Fail(UnsupportedFormat(p.Format))
	}
	s.project.Attach(snap)
	rev := s.revs.Track(s.currentLocked(ctx))
	res := Ok(map[string]any{"projectId": snap.ID, "name": snap.Name})
	res.Revision = rev
	return res
}

type ensureProjectPayload struct {
	Name   string `json:"name"`
	Format string `json:"format"`
}

func ensureProject(ctx context.Context, s *Service, args map[string]any) Result {
	var p ensureProjectPayload
	if terr := decode(args, &p); terr != nil {
		return Fail(terr)
	}
	created := false
	if !s.project.Attached() {
		if live, err := s.editor.ReadSnapshot(ctx); err == nil && live != nil {
			s.project.Attach(s.merger.Merge(nil, live, s.opts.MergePolicy))
		} else {
			if p.Format != "" && !knownFormat(p.Format) {
				return Fail(UnsupportedFormat(p.Format))
			}
			s.project.Attach(&datatypes.ProjectSnapshot{
				ID:     uuid.New().String(),
				Name:   p.Name,
				Format: datatypes.FormatKind(p.Format),
			})
			created = true
		}
	}
	snap := s.currentLocked(ctx)
	res := Ok(map[string]any{
		"projectId": snap.ID,
		"name":      snap.Name,
		"created":   created,
	})
	res.Revision = s.revs.Track(snap)
	return res
}

func getProjectState(ctx context.Context, s *Service, _ map[string]any) Result {
	snap := s.currentLocked(ctx)
	rev := s.revs.Track(snap)
	snap.Revision = rev
	res := Ok(map[string]any{"project": snap})
	res.Revision = rev
	return res
}

func closeProject(_ context.Context, s *Service, _ map[string]any) Result {
	s.project.Detach()
	return Ok(map[string]any{"closed": true})
}

func deleteProject(_ context.Context, s *Service, _ map[string]any) Result {
	id := ""
	if snap := s.project.Snapshot(); snap != nil {
		id = snap.ID
	}
	s.project.Detach()
	s.revs = revision.NewStore()
	return Ok(map[string]any{"deleted": true, "projectId": id})
}

type textureResolutionPayload struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

func setTextureResolution(_ context.Context, s *Service, args map[string]any) Result {
	var p textureResolutionPayload
	if terr := decode(args, &p); terr != nil {
		return Fail(terr)
	}
	snap := s.project.Snapshot()
	if snap.ResolutionWidth == p.Width && snap.ResolutionHeight == p.Height {
		return Fail(NoChange("resolution_unchanged", "texture resolution already set"))
	}
	err := s.project.UpdateProject(func(ps *datatypes.ProjectSnapshot) {
		ps.ResolutionWidth = p.Width
		ps.ResolutionHeight = p.Height
	})
	if terr := sessionError(err, false); terr != nil {
		return Fail(terr)
	}
	return Ok(map[string]any{"width": p.Width, "height": p.Height})
}

type pixelsPerBlockPayload struct {
	Value float64 `json:"value"`
}

func setUVPixelsPerBlock(_ context.Context, s *Service, args map[string]any) Result {
	var p pixelsPerBlockPayload
	if terr := decode(args, &p); terr != nil {
		return Fail(terr)
	}
	if snap := s.project.Snapshot(); snap.PixelsPerBlock == p.Value {
		return Fail(NoChange("density_unchanged", "pixels-per-block already set"))
	}
	err := s.project.UpdateProject(func(ps *datatypes.ProjectSnapshot) {
		ps.PixelsPerBlock = p.Value
	})
	if terr := sessionError(err, false); terr != nil {
		return Fail(terr)
	}
	return Ok(map[string]any{"value": p.Value})
}

func knownFormat(kind string) bool {
	for _, k := range datatypes.KnownFormatKinds {
		if string(k) == kind {
			return true
		}
	}
	return false
}
