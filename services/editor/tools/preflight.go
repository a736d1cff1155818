// Copyright (C) 2026 Ashfox Project (hello@ashfox.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package tools

import (
	"context"

	"github.com/ashfoxhq/ashfox/pkg/schema"
)

func preflightDescriptors() []Descriptor {
	return []Descriptor{
		{
			Name:  "preflight_texture",
			Title: "Preflight texture",
			Description: "Inspect the UV layout: compute the uvUsageId token and " +
				"report overlaps, scale mismatches, tiny and skewed rectangles.",
			Input: schema.Object{Fields: []schema.Rule{
				{Name: "textures", Type: schema.TypeArray,
					Items: &schema.Rule{Type: schema.TypeString},
					Description: "texture ids or names; empty means all"},
				{Name: "includeUsage", Type: schema.TypeBoolean},
			}},
			NeedsProject: true,
			handler:      preflightTexture,
		},
	}
}

type preflightPayload struct {
	Textures     []string `json:"textures"`
	IncludeUsage bool     `json:"includeUsage"`
}

// preflightTexture is read-only and idempotent: two calls with no
// intervening mutation return the same uvUsageId.
func preflightTexture(ctx context.Context, s *Service, args map[string]any) Result {
	var p preflightPayload
	if terr := decode(args, &p); terr != nil {
		return Fail(terr)
	}
	snap := s.currentLocked(ctx)
	usage := collectUsage(snap, p.Textures)
	diags := diagnose(snap, usage)

	counts := map[string]int{}
	for _, d := range diags {
		counts[d.Kind]++
	}
	// The token always covers the full layout so paint_faces can verify
	// it without knowing the preflight filter.
	data := map[string]any{
		"uvUsageId":   usageID(collectUsage(snap, nil)),
		"faces":       len(usage),
		"diagnostics": diags,
		"counts":      counts,
	}
	if p.IncludeUsage {
		data["usage"] = usage
	}
	res := Ok(data)
	res.Revision = s.revs.Track(snap)
	return res
}
