// Copyright (C) 2026 Ashfox Project (hello@ashfox.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package tools

import (
	"context"
	"sort"

	"github.com/ashfoxhq/ashfox/pkg/schema"
	"github.com/ashfoxhq/ashfox/services/editor/datatypes"
)

func animationDescriptors() []Descriptor {
	return []Descriptor{
		{
			Name:        "add_animation",
			Title:       "Add animation",
			Description: "Create a named animation clip.",
			Input: schema.Object{Fields: []schema.Rule{
				{Name: "name", Type: schema.TypeString, Required: true},
				{Name: "length", Type: schema.TypeNumber, Min: minf(0)},
				{Name: "loop", Type: schema.TypeBoolean},
				{Name: "fps", Type: schema.TypeNumber, Min: minf(0.001)},
				ifRevisionRule(),
			}},
			Mutating: true,
			handler:  addAnimation,
		},
		{
			Name:        "update_animation",
			Title:       "Update animation",
			Description: "Modify clip-level fields of an animation.",
			Input: schema.Object{Fields: []schema.Rule{
				{Name: "name", Type: schema.TypeString, Required: true},
				{Name: "rename", Type: schema.TypeString},
				{Name: "length", Type: schema.TypeNumber, Min: minf(0)},
				{Name: "loop", Type: schema.TypeBoolean},
				{Name: "fps", Type: schema.TypeNumber, Min: minf(0.001)},
				ifRevisionRule(),
			}},
			Mutating: true,
			handler:  updateAnimation,
		},
		{
			Name:        "delete_animation",
			Title:       "Delete animation",
			Description: "Remove an animation clip.",
			Input: schema.Object{Fields: []schema.Rule{
				{Name: "name", Type: schema.TypeString, Required: true},
				ifRevisionRule(),
			}},
			Mutating: true,
			handler:  deleteAnimation,
		},
		{
			Name:        "set_frame_pose",
			Title:       "Set frame pose",
			Description: "Write rotation/position/scale keyframes for bones at one time.",
			Input: schema.Object{Fields: []schema.Rule{
				{Name: "animation", Type: schema.TypeString, Required: true},
				{Name: "time", Type: schema.TypeNumber, Required: true, Min: minf(0)},
				{Name: "bones", Type: schema.TypeObject, Required: true},
				{Name: "interp", Type: schema.TypeString,
					Enum: []string{"linear", "catmullrom", "step"}},
				ifRevisionRule(),
			}},
			Mutating: true,
			handler:  setFramePose,
		},
		{
			Name:        "set_trigger_keyframes",
			Title:       "Set trigger keyframes",
			Description: "Replace the keys of one trigger channel of a clip.",
			Input: schema.Object{Fields: []schema.Rule{
				{Name: "animation", Type: schema.TypeString, Required: true},
				{Name: "channel", Type: schema.TypeString, Required: true},
				{Name: "keys", Type: schema.TypeArray, Required: true,
					Items: &schema.Rule{Type: schema.TypeObject, Fields: []schema.Rule{
						{Name: "time", Type: schema.TypeNumber, Required: true, Min: minf(0)},
						{Name: "value", Type: schema.TypeString, Required: true},
					}}},
				ifRevisionRule(),
			}},
			Mutating: true,
			handler:  setTriggerKeyframes,
		},
	}
}

type animationPayload struct {
	Name   string   `json:"name"`
	Rename string   `json:"rename"`
	Length *float64 `json:"length"`
	Loop   *bool    `json:"loop"`
	FPS    *float64 `json:"fps"`
}

func addAnimation(_ context.Context, s *Service, args map[string]any) Result {
	var p animationPayload
	if terr := decode(args, &p); terr != nil {
		return Fail(terr)
	}
	anim := datatypes.Animation{Name: p.Name, FPS: 20}
	if p.Length != nil {
		anim.Length = *p.Length
	}
	if p.Loop != nil {
		anim.Loop = *p.Loop
	}
	if p.FPS != nil {
		anim.FPS = *p.FPS
	}
	if err := s.project.AddAnimation(anim); err != nil {
		return Fail(sessionError(err, false))
	}
	return Ok(map[string]any{"animation": p.Name})
}

func updateAnimation(_ context.Context, s *Service, args map[string]any) Result {
	var p animationPayload
	if terr := decode(args, &p); terr != nil {
		return Fail(terr)
	}
	err := s.project.UpdateAnimation(p.Name, func(a *datatypes.Animation) {
		if p.Rename != "" {
			a.Name = p.Rename
		}
		if p.Length != nil {
			a.Length = *p.Length
		}
		if p.Loop != nil {
			a.Loop = *p.Loop
		}
		if p.FPS != nil {
			a.FPS = *p.FPS
		}
	})
	if terr := sessionError(err, false); terr != nil {
		return Fail(terr)
	}
	name := p.Name
	if p.Rename != "" {
		name = p.Rename
	}
	return Ok(map[string]any{"animation": name})
}

func deleteAnimation(_ context.Context, s *Service, args map[string]any) Result {
	name, _ := stringArg(args, "name")
	if terr := sessionError(s.project.DeleteAnimation(name), false); terr != nil {
		return Fail(terr)
	}
	return Ok(map[string]any{"deleted": name})
}

type framePosePayload struct {
	Animation string `json:"animation"`
	Time      float64 `json:"time"`
	Interp    string  `json:"interp"`
	Bones     map[string]struct {
		Rotation *[3]float64 `json:"rotation"`
		Position *[3]float64 `json:"position"`
		Scale    *[3]float64 `json:"scale"`
	} `json:"bones"`
}

func setFramePose(_ context.Context, s *Service, args map[string]any) Result {
	var p framePosePayload
	if terr := decode(args, &p); terr != nil {
		return Fail(terr)
	}
	if len(p.Bones) == 0 {
		return Fail(InvalidPayload("empty_pose", "bones must name at least one bone"))
	}
	snap := s.project.Snapshot()
	for bone := range p.Bones {
		if snap.FindBone(bone) == nil {
			return Fail(InvalidPayload("reference_not_found", "bone "+bone+" does not exist"))
		}
	}

	err := s.project.UpdateAnimation(p.Animation, func(a *datatypes.Animation) {
		if a.Channels == nil {
			a.Channels = map[string]datatypes.BoneChannels{}
		}
		// Deterministic application order so repeated poses are stable.
		names := make([]string, 0, len(p.Bones))
		for bone := range p.Bones {
			names = append(names, bone)
		}
		sort.Strings(names)
		for _, bone := range names {
			pose := p.Bones[bone]
			ch := a.Channels[bone]
			if pose.Rotation != nil {
				ch.Rotation = upsertKey(ch.Rotation, p.Time, datatypes.Vec3(*pose.Rotation), p.Interp)
			}
			if pose.Position != nil {
				ch.Position = upsertKey(ch.Position, p.Time, datatypes.Vec3(*pose.Position), p.Interp)
			}
			if pose.Scale != nil {
				ch.Scale = upsertKey(ch.Scale, p.Time, datatypes.Vec3(*pose.Scale), p.Interp)
			}
			a.Channels[bone] = ch
		}
		if p.Time > a.Length {
			a.Length = p.Time
		}
	})
	if terr := sessionError(err, false); terr != nil {
		return Fail(terr)
	}
	return Ok(map[string]any{"animation": p.Animation, "time": p.Time, "bones": len(p.Bones)})
}

// upsertKey replaces the key at the exact time or inserts keeping the
// channel sorted by time.
func upsertKey(keys []datatypes.Keyframe, t float64, v datatypes.Vec3, interp string) []datatypes.Keyframe {
	for i := range keys {
		if keys[i].Time == t {
			keys[i].Values = v
			keys[i].Interp = interp
			return keys
		}
	}
	keys = append(keys, datatypes.Keyframe{Time: t, Values: v, Interp: interp})
	sort.Slice(keys, func(i, j int) bool { return keys[i].Time < keys[j].Time })
	return keys
}

type triggerKeysPayload struct {
	Animation string `json:"animation"`
	Channel   string `json:"channel"`
	Keys      []struct {
		Time  float64 `json:"time"`
		Value string  `json:"value"`
	} `json:"keys"`
}

func setTriggerKeyframes(_ context.Context, s *Service, args map[string]any) Result {
	var p triggerKeysPayload
	if terr := decode(args, &p); terr != nil {
		return Fail(terr)
	}
	err := s.project.UpdateAnimation(p.Animation, func(a *datatypes.Animation) {
		if a.Triggers == nil {
			a.Triggers = map[string][]datatypes.TriggerKey{}
		}
		keys := make([]datatypes.TriggerKey, 0, len(p.Keys))
		for _, k := range p.Keys {
			keys = append(keys, datatypes.TriggerKey{Time: k.Time, Value: k.Value})
		}
		sort.Slice(keys, func(i, j int) bool { return keys[i].Time < keys[j].Time })
		if len(keys) == 0 {
			delete(a.Triggers, p.Channel)
		} else {
			a.Triggers[p.Channel] = keys
		}
	})
	if terr := sessionError(err, false); terr != nil {
		return Fail(terr)
	}
	return Ok(map[string]any{"animation": p.Animation, "channel": p.Channel, "keys": len(p.Keys)})
}
