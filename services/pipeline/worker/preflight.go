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

// processTexturePreflight runs the UV preflight and evaluates the job's
// texture constraints against the project's textures.
func processTexturePreflight(ctx context.Context, backend tools.Backend, job *pipeline.NativeJob) (map[string]any, error) {
	name := stringField(job.Payload, "projectName")
	if name == "" {
		name = job.ProjectID
	}
	if _, err := call(ctx, backend, "ensure_project", map[string]any{"name": name}); err != nil {
		return nil, err
	}

	preflightArgs := map[string]any{"includeUsage": true}
	if ids, ok := job.Payload["textureIds"].([]any); ok && len(ids) > 0 {
		preflightArgs["textures"] = ids
	}
	preflight, err := call(ctx, backend, "preflight_texture", preflightArgs)
	if err != nil {
		return nil, err
	}

	state, err := call(ctx, backend, "get_project_state", map[string]any{})
	if err != nil {
		return nil, err
	}
	snap, _ := state.Data["project"].(*datatypes.ProjectSnapshot)

	maxDimension := 0
	if v, ok := job.Payload["maxDimension"].(float64); ok {
		maxDimension = int(v)
	}
	allowNPOT, _ := job.Payload["allowNonPowerOfTwo"].(bool)
	filter := map[string]bool{}
	if ids, ok := job.Payload["textureIds"].([]any); ok {
		for _, id := range ids {
			if s, ok := id.(string); ok {
				filter[s] = true
			}
		}
	}

	var checked, oversized, nonPowerOfTwo []string
	if snap != nil {
		for _, texture := range snap.Textures {
			if len(filter) > 0 && !filter[texture.ID] && !filter[texture.Name] {
				continue
			}
			checked = append(checked, texture.ID)
			if maxDimension > 0 && (texture.Width > maxDimension || texture.Height > maxDimension) {
				oversized = append(oversized, texture.ID)
			}
			if !powerOfTwo(texture.Width) || !powerOfTwo(texture.Height) {
				nonPowerOfTwo = append(nonPowerOfTwo, texture.ID)
			}
		}
	}

	status := "ok"
	if diagCount(preflight) > 0 {
		status = "warn"
	}
	if len(oversized) > 0 || (len(nonPowerOfTwo) > 0 && !allowNPOT) {
		status = "fail"
	}

	return map[string]any{
		"checked":       checked,
		"oversized":     oversized,
		"nonPowerOfTwo": nonPowerOfTwo,
		"diagnostics":   preflight.Data["diagnostics"],
		"uvUsageId":     preflight.Data["uvUsageId"],
		"status":        status,
	}, nil
}

func diagCount(res tools.Result) int {
	switch diags := res.Data["diagnostics"].(type) {
	case []tools.Diagnostic:
		return len(diags)
	case []any:
		return len(diags)
	default:
		return 0
	}
}

func powerOfTwo(n int) bool {
	return n > 0 && n&(n-1) == 0
}
