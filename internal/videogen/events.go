// SPDX-License-Identifier: MIT

package videogen

import (
	"sync"
	"time"
)

// Event kinds recorded against a video id.
const (
	EventNewStreamClip       = "new_stream_clip"
	EventThumbnailGeneration = "thumbnail_generation"
	EventNewChatMessage      = "new_chat_message"
)

// eventHistoryLimit caps how many events are retained per video id.
const eventHistoryLimit = 50

// Event is one entry in a video's activity history. Only the fields
// relevant to the kind are set; the rest marshal away.
type Event struct {
	Time      string `json:"time"`
	Kind      string `json:"event"`
	Caption   string `json:"caption,omitempty"`
	Seed      uint32 `json:"seed,omitempty"`
	RequestID string `json:"request_id,omitempty"`
	Username  string `json:"username,omitempty"`
	Data      string `json:"data,omitempty"`
}

// History keeps a bounded per-video trail of generation and chat activity.
// Operators read it from the detailed metrics payload to reconstruct what a
// stream was doing when an endpoint misbehaved.
type History struct {
	now func() time.Time

	mu     sync.Mutex
	events map[string][]Event
}

// NewHistory builds an empty History. now overrides time.Now, used by tests.
func NewHistory(now func() time.Time) *History {
	if now == nil {
		now = time.Now
	}
	return &History{
		now:    now,
		events: make(map[string][]Event),
	}
}

// Record appends ev to videoID's trail, stamping it and evicting the oldest
// entry beyond the per-video limit.
func (h *History) Record(videoID string, ev Event) {
	if videoID == "" {
		return
	}
	ev.Time = h.now().UTC().Format(time.RFC3339Nano)

	h.mu.Lock()
	defer h.mu.Unlock()
	trail := append(h.events[videoID], ev)
	if len(trail) > eventHistoryLimit {
		trail = trail[len(trail)-eventHistoryLimit:]
	}
	h.events[videoID] = trail
}

// Events returns a copy of videoID's trail, oldest first.
func (h *History) Events(videoID string) []Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	trail := h.events[videoID]
	out := make([]Event, len(trail))
	copy(out, trail)
	return out
}

// Snapshot copies every trail, keyed by video id.
func (h *History) Snapshot() map[string][]Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make(map[string][]Event, len(h.events))
	for id, trail := range h.events {
		events := make([]Event, len(trail))
		copy(events, trail)
		out[id] = events
	}
	return out
}
