// Copyright (C) 2026 Ashfox Project (hello@ashfox.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package merge fuses the session-owned snapshot with an optional live
// read from the editor adapter into one normalized snapshot.
//
// The session snapshot is authoritative mutable state; the live snapshot
// reflects whatever the editor host currently shows. Hybrid merging
// prefers live data but backfills fields a live read commonly omits
// (texture paths, animation channel detail, format identity).
package merge

import (
	"strings"

	"github.com/ashfoxhq/ashfox/services/editor/datatypes"
)

// Policy selects the merge strategy.
type Policy string

const (
	// PolicySession returns the normalized session snapshot untouched.
	PolicySession Policy = "session"

	// PolicyLive uses the live snapshot, falling back to the session
	// only for missing identity fields (name, format, formatId).
	PolicyLive Policy = "live"

	// PolicyHybrid prefers live geometry and identity but merges
	// textures and animations field-by-field. Default.
	PolicyHybrid Policy = "hybrid"
)

// Merger normalizes and merges snapshots. FormatOverrides maps a
// formatId to its kind when the id alone is not recognizable by
// substring matching.
type Merger struct {
	FormatOverrides map[string]datatypes.FormatKind
}

// Merge produces the canonical snapshot for the given policy. The
// returned snapshot is always a fresh value; neither input is mutated.
// A nil live snapshot degrades every policy to the session snapshot.
func (m *Merger) Merge(session, live *datatypes.ProjectSnapshot, policy Policy) *datatypes.ProjectSnapshot {
	if session == nil && live == nil {
		return nil
	}
	if live == nil {
		return m.normalize(session.Clone())
	}
	if session == nil {
		return m.normalize(live.Clone())
	}

	switch policy {
	case PolicySession:
		return m.normalize(session.Clone())
	case PolicyLive:
		out := live.Clone()
		if out.Name == "" {
			out.Name = session.Name
		}
		if out.Format == "" {
			out.Format = session.Format
		}
		if out.FormatID == "" {
			out.FormatID = session.FormatID
		}
		return m.normalize(out)
	default:
		return m.normalize(m.hybrid(session, live))
	}
}

// hybrid prefers live identifiers, bones, and cubes; textures merge by
// id-or-name with live winning; animations come from live only when the
// live read actually saw them.
func (m *Merger) hybrid(session, live *datatypes.ProjectSnapshot) *datatypes.ProjectSnapshot {
	out := live.Clone()
	if out.ID == "" {
		out.ID = session.ID
	}
	if out.Name == "" {
		out.Name = session.Name
	}
	if out.Format == "" {
		out.Format = session.Format
	}
	if out.FormatID == "" {
		out.FormatID = session.FormatID
	}

	out.Textures = mergeTextures(session.Textures, live.Textures)

	if live.AnimationsStatus == datatypes.AnimationsUnavailable {
		out.Anims = session.Clone().Anims
	} else {
		out.Anims = mergeAnimations(session.Anims, out.Anims)
	}
	return out
}

// mergeTextures keys on texture id, falling back to name. Live entries
// win, but session-only metadata (path, dimensions, content hash)
// survives when the live read omits it.
func mergeTextures(session, live []datatypes.Texture) []datatypes.Texture {
	bySession := make(map[string]datatypes.Texture, len(session))
	for _, t := range session {
		key := t.ID
		if key == "" {
			key = t.Name
		}
		bySession[key] = t
	}

	out := make([]datatypes.Texture, 0, len(live))
	seen := make(map[string]bool, len(live))
	for _, t := range live {
		key := t.ID
		if key == "" {
			key = t.Name
		}
		if prev, ok := bySession[key]; ok {
			if t.Path == "" {
				t.Path = prev.Path
			}
			if t.Width == 0 {
				t.Width = prev.Width
			}
			if t.Height == 0 {
				t.Height = prev.Height
			}
			if t.ContentHash == "" {
				t.ContentHash = prev.ContentHash
			}
		}
		seen[key] = true
		out = append(out, t)
	}

	// Session textures absent from the live read are kept; deleting a
	// texture goes through a tool call, not a merge.
	for _, t := range session {
		key := t.ID
		if key == "" {
			key = t.Name
		}
		if !seen[key] {
			out = append(out, t)
		}
	}
	return out
}

// mergeAnimations keeps live clips but backfills fps, channels, and
// triggers from the session clip of the same name when live omits them.
func mergeAnimations(session, live []datatypes.Animation) []datatypes.Animation {
	byName := make(map[string]datatypes.Animation, len(session))
	for _, a := range session {
		byName[a.Name] = a
	}
	out := make([]datatypes.Animation, len(live))
	for i, a := range live {
		if prev, ok := byName[a.Name]; ok {
			if a.FPS == 0 {
				a.FPS = prev.FPS
			}
			if len(a.Channels) == 0 {
				a.Channels = prev.Channels
			}
			if len(a.Triggers) == 0 {
				a.Triggers = prev.Triggers
			}
		}
		out[i] = a
	}
	return out
}

// normalize derives the format kind when only a formatId is present.
func (m *Merger) normalize(s *datatypes.ProjectSnapshot) *datatypes.ProjectSnapshot {
	if s == nil {
		return nil
	}
	if s.Format == "" && s.FormatID != "" {
		s.Format = m.deriveKind(s.FormatID)
	}
	return s
}

// deriveKind resolves a formatId to a kind via the override table first,
// then by substring match against the known kinds.
func (m *Merger) deriveKind(formatID string) datatypes.FormatKind {
	if kind, ok := m.FormatOverrides[formatID]; ok {
		return kind
	}
	lower := strings.ToLower(formatID)
	for _, kind := range datatypes.KnownFormatKinds {
		if strings.Contains(lower, string(kind)) {
			return kind
		}
	}
	return ""
}
