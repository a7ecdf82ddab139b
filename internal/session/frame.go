// SPDX-License-Identifier: MIT

// Package session owns the per-connection request machinery: inbound frames
// are classified into four typed queues (chat, video, search, simulation),
// each drained by its own worker goroutine, while trivial actions are
// answered inline. Replies within one queue keep arrival order; video
// replies are unordered and correlate via requestId.
package session

import (
	"encoding/json"
	"fmt"

	"github.com/clipmux/clipmux/internal/metrics"
	"github.com/clipmux/clipmux/internal/videogen"
)

// Wire actions understood by the router.
const (
	ActionHeartbeat              = "heartbeat"
	ActionGetUserRole            = "get_user_role"
	ActionSearch                 = "search"
	ActionGenerateVideo          = "generate_video"
	ActionGenerateCaption        = "generate_caption"
	ActionGenerateVideoThumbnail = "generate_video_thumbnail"
	ActionGenerateThumbnail      = "generate_thumbnail"     // deprecated alias
	ActionOldGenerateThumbnail   = "old_generate_thumbnail" // deprecated alias
	ActionSimulate               = "simulate"
	ActionJoinChat               = "join_chat"
	ActionLeaveChat              = "leave_chat"
	ActionChatMessage            = "chat_message"
)

// Frame is one decoded client request. Fields cover every action; handlers
// ignore the zero values of fields their action does not use. The raw JSON
// object is retained so the chat relay can forward a frame verbatim.
type Frame struct {
	Action    string `json:"action"`
	RequestID string `json:"requestId"`

	// Chat actions address rooms by videoId.
	VideoID  string `json:"videoId"`
	Username string `json:"username"`
	Content  string `json:"content"`

	// Search.
	Query        string `json:"query"`
	AttemptCount int    `json:"attemptCount"`

	// Generation fields arrive top level; thumbnail requests may nest them
	// under params instead. ClipID is the snake_case video_id variant used
	// by generation and simulation frames.
	Title        string                    `json:"title"`
	Description  string                    `json:"description"`
	PromptPrefix string                    `json:"video_prompt_prefix"`
	Options      *videogen.GenerateOptions `json:"options"`
	Params       *FrameParams              `json:"params"`
	ClipID       string                    `json:"video_id"`

	// Simulation.
	OriginalTitle       string `json:"original_title"`
	OriginalDescription string `json:"original_description"`
	CurrentDescription  string `json:"current_description"`
	CondensedHistory    string `json:"condensed_history"`
	EvolutionCount      int    `json:"evolution_count"`
	ChatMessages        string `json:"chat_messages"`

	raw map[string]any
}

// FrameParams is the nested shape used by caption and thumbnail requests.
type FrameParams struct {
	Title        string                    `json:"title"`
	Description  string                    `json:"description"`
	PromptPrefix string                    `json:"video_prompt_prefix"`
	Options      *videogen.GenerateOptions `json:"options"`
}

// ParseFrame decodes one text frame. The raw object is kept alongside the
// typed view so chat messages can be relayed without re-encoding loss.
func ParseFrame(data []byte) (*Frame, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	f.raw = raw
	return &f, nil
}

// ActionOf recovers the action from an undecodable frame so the error reply
// can still name it. Returns "unknown" when nothing is recoverable.
func ActionOf(data []byte) string {
	var probe struct {
		Action string `json:"action"`
	}
	if err := json.Unmarshal(data, &probe); err != nil || probe.Action == "" {
		return "unknown"
	}
	return probe.Action
}

// Class buckets the action for queue routing and the per-minute limiter.
func (f *Frame) Class() metrics.Class {
	switch f.Action {
	case ActionJoinChat, ActionLeaveChat, ActionChatMessage:
		return metrics.ClassChat
	case ActionGenerateVideo:
		return metrics.ClassVideo
	case ActionSearch:
		return metrics.ClassSearch
	case ActionSimulate:
		return metrics.ClassSimulation
	default:
		return metrics.ClassOther
	}
}

// Fields returns the frame as the loose map the chat relay broadcasts.
func (f *Frame) Fields() map[string]any {
	if f.raw != nil {
		return f.raw
	}
	return map[string]any{"action": f.Action, "requestId": f.RequestID}
}

// generation returns the thumbnail freight, preferring top-level fields and
// falling back to params, since clients send either shape.
func (f *Frame) generation() (title, description, prefix string, opts videogen.GenerateOptions) {
	title, description, prefix = f.Title, f.Description, f.PromptPrefix
	if f.Options != nil {
		opts = *f.Options
	}
	p := f.Params
	if p == nil {
		return title, description, prefix, opts
	}
	if title == "" {
		title = p.Title
	}
	if description == "" {
		description = p.Description
	}
	if prefix == "" {
		prefix = p.PromptPrefix
	}
	if f.Options == nil && p.Options != nil {
		opts = *p.Options
	}
	return title, description, prefix, opts
}

// wantsLegacyKey reports whether the client asked for the pre-rename reply
// shape by sending a thumbnailUrl field, top level or under params.
func (f *Frame) wantsLegacyKey() bool {
	if _, ok := f.raw["thumbnailUrl"]; ok {
		return true
	}
	params, ok := f.raw["params"].(map[string]any)
	if !ok {
		return false
	}
	_, ok = params["thumbnailUrl"]
	return ok
}
