// Copyright (C) 2026 Ashfox Project (hello@ashfox.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package tools

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"

	"github.com/ashfoxhq/ashfox/pkg/schema"
	"github.com/ashfoxhq/ashfox/services/editor/adapter"
	"github.com/ashfoxhq/ashfox/services/editor/datatypes"
)

// defaultFormatIDs maps a format kind to the editor exporter id used
// when the payload names only the kind.
var defaultFormatIDs = map[datatypes.FormatKind]string{
	datatypes.FormatAnimatedJava: "animated_java:rig",
	datatypes.FormatGeckolib:     "geckolib_model",
	datatypes.FormatVanilla:      "vanilla_block",
}

func exportDescriptors() []Descriptor {
	return []Descriptor{
		{
			Name:  "export",
			Title: "Export project",
			Description: "Export the project through the editor's native exporter, " +
				"falling back to the internal serializer when none exists.",
			Input: schema.Object{Fields: []schema.Rule{
				{Name: "format", Type: schema.TypeString,
					Enum: []string{"animated_java", "geckolib", "vanilla"}},
				{Name: "formatId", Type: schema.TypeString},
				{Name: "path", Type: schema.TypeString,
					Description: "destination hint passed through to the caller"},
			}},
			NeedsProject: true,
			handler:      exportProject,
		},
	}
}

type exportPayload struct {
	Format   string `json:"format"`
	FormatID string `json:"formatId"`
	Path     string `json:"path"`
}

func exportProject(ctx context.Context, s *Service, args map[string]any) Result {
	var p exportPayload
	if terr := decode(args, &p); terr != nil {
		return Fail(terr)
	}
	snap := s.currentLocked(ctx)

	formatID := p.FormatID
	kind := datatypes.FormatKind(p.Format)
	if formatID == "" {
		if kind == "" {
			kind = snap.Format
		}
		if kind == "" {
			return Fail(InvalidPayload("missing_format",
				"neither format nor formatId supplied and the project has no format"))
		}
		id, ok := defaultFormatIDs[kind]
		if !ok {
			return Fail(UnsupportedFormat(string(kind)))
		}
		formatID = id
	}

	payload, err := s.editor.ExportNative(ctx, formatID, snap)
	fallback := false
	switch {
	case err == nil:
	case errors.Is(err, adapter.ErrNotImplemented), errors.Is(err, adapter.ErrUnavailable):
		// Best-effort fallback: serialize the canonical snapshot.
		payload, err = json.Marshal(snap)
		if err != nil {
			return Fail(Unknown("serialize_failed", err))
		}
		fallback = true
	default:
		return Fail(IOError("export_failed", err))
	}

	rev := s.revs.Track(snap)
	res := Ok(map[string]any{
		"formatId": formatID,
		"fallback": fallback,
		"size":     len(payload),
		"data":     base64.StdEncoding.EncodeToString(payload),
		"path":     p.Path,
	})
	res.Revision = rev
	return res
}
