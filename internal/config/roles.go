// SPDX-License-Identifier: MIT

package config

import (
	"github.com/clipmux/clipmux/internal/identity"
)

// Range bounds an integer generation parameter. Requested values are clamped
// into [Min, Max]; absent values resolve to Default.
type Range struct {
	Min     int
	Default int
	Max     int
}

// Resolve clamps requested into the range. ok reports whether the caller
// supplied a value at all.
func (r Range) Resolve(requested int, ok bool) int {
	if !ok {
		return r.Default
	}
	if requested < r.Min {
		return r.Min
	}
	if requested > r.Max {
		return r.Max
	}
	return requested
}

// FloatRange is Range for float-valued parameters.
type FloatRange struct {
	Min     float64
	Default float64
	Max     float64
}

// Resolve clamps requested into the range. ok reports whether the caller
// supplied a value at all.
func (r FloatRange) Resolve(requested float64, ok bool) float64 {
	if !ok {
		return r.Default
	}
	if requested < r.Min {
		return r.Min
	}
	if requested > r.Max {
		return r.Max
	}
	return requested
}

// Limits is the generation envelope enforced for one role.
type Limits struct {
	// MaxRenderingSeconds caps how long a client may keep rendering one video.
	MaxRenderingSeconds int

	InferenceSteps Range
	NumFrames      Range
	ClipDuration   Range
	PlaybackSpeed  FloatRange
	ClipFramerate  Range
	ClipWidth      Range
	ClipHeight     Range
}

// Anonymous visitors suffer from regular abuse, so their envelope is strict:
// short clips, low resolution and only two minutes of rendering per video.
var anonymousLimits = Limits{
	MaxRenderingSeconds: 2 * 60,

	InferenceSteps: Range{Min: 2, Default: 4, Max: 4},
	NumFrames:      Range{Min: 9, Default: 65, Max: 65}, // 8*8 + 1
	ClipDuration:   Range{Min: 1, Default: 2, Max: 2},
	PlaybackSpeed:  FloatRange{Min: 0.7, Default: 0.7, Max: 0.7},
	ClipFramerate:  Range{Min: 8, Default: 16, Max: 16},
	ClipWidth:      Range{Min: 544, Default: 640, Max: 640},
	ClipHeight:     Range{Min: 320, Default: 352, Max: 352},
}

// Authenticated users get the calibrated default experience.
var standardLimits = Limits{
	MaxRenderingSeconds: 15 * 60,

	InferenceSteps: Range{Min: 2, Default: 4, Max: 4},
	NumFrames:      Range{Min: 9, Default: 81, Max: 81}, // 8*10 + 1
	ClipDuration:   Range{Min: 1, Default: 3, Max: 3},
	PlaybackSpeed:  FloatRange{Min: 0.7, Default: 0.7, Max: 0.7},
	ClipFramerate:  Range{Min: 8, Default: 25, Max: 25},
	ClipWidth:      Range{Min: 544, Default: 1152, Max: 1152},
	ClipHeight:     Range{Min: 320, Default: 640, Max: 640},
}

// Pro subscribers keep the standard envelope but may render longer.
var proLimits = Limits{
	MaxRenderingSeconds: 20 * 60,

	InferenceSteps: Range{Min: 2, Default: 4, Max: 4},
	NumFrames:      Range{Min: 9, Default: 81, Max: 81},
	ClipDuration:   Range{Min: 1, Default: 3, Max: 3},
	PlaybackSpeed:  FloatRange{Min: 0.7, Default: 0.7, Max: 0.7},
	ClipFramerate:  Range{Min: 8, Default: 25, Max: 25},
	ClipWidth:      Range{Min: 544, Default: 1152, Max: 1152},
	ClipHeight:     Range{Min: 320, Default: 640, Max: 640},
}

// LimitsFor returns the envelope for the given role. Admins share the pro
// envelope; unknown roles fall back to the anonymous one.
func LimitsFor(role identity.Role) Limits {
	switch role {
	case identity.RoleAdmin, identity.RolePro:
		return proLimits
	case identity.RoleNormal:
		return standardLimits
	default:
		return anonymousLimits
	}
}
