// SPDX-License-Identifier: MIT

// Package chat keeps the per-video chat rooms: who is subscribed and a
// bounded slice of recent messages. Rooms exist only in memory and vanish
// with the process.
package chat

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/clipmux/clipmux/internal/log"
)

var (
	messagesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "clipmux",
		Name:      "chat_messages_total",
		Help:      "Chat messages posted across all rooms",
	})
	roomsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "clipmux",
		Name:      "chat_rooms_active",
		Help:      "Rooms with at least one subscriber",
	})
	broadcastDrops = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "clipmux",
		Name:      "chat_broadcast_drops_total",
		Help:      "Subscribers removed after a failed broadcast send",
	})
)

const (
	// maxHistory bounds the messages retained per room.
	maxHistory = 100
	// joinReplay is how many recent messages a new subscriber receives.
	joinReplay = 50
)

// Message is one chat frame as received from a client, minus any fields the
// server adds for its own bookkeeping.
type Message map[string]any

// Subscriber is the send side of a connected client. Send must be safe for
// concurrent use; a non-nil error marks the subscriber as dead.
type Subscriber interface {
	Send(v any) error
}

// room is the state for one videoId.
type room struct {
	messages    []Message
	subscribers map[Subscriber]struct{}
}

func (r *room) append(msg Message) {
	r.messages = append(r.messages, msg)
	if len(r.messages) > maxHistory {
		r.messages = r.messages[1:]
	}
}

func (r *room) recent(limit int) []Message {
	start := len(r.messages) - limit
	if start < 0 {
		start = 0
	}
	out := make([]Message, len(r.messages)-start)
	copy(out, r.messages[start:])
	return out
}

// Registry maps videoIds to rooms. One Registry is shared by all sessions;
// all room state is guarded by its mutex.
type Registry struct {
	logger zerolog.Logger

	mu    sync.Mutex
	rooms map[string]*room
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		logger: log.WithComponent("chat"),
		rooms:  make(map[string]*room),
	}
}

// roomLocked returns the room for videoID, creating it on first reference.
// The caller holds the mutex.
func (reg *Registry) roomLocked(videoID string) *room {
	rm, ok := reg.rooms[videoID]
	if !ok {
		rm = &room{subscribers: make(map[Subscriber]struct{})}
		reg.rooms[videoID] = rm
	}
	return rm
}

// Join subscribes sub to the room and returns up to the last 50 messages so
// a late joiner can catch up.
func (reg *Registry) Join(videoID string, sub Subscriber) []Message {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	rm := reg.roomLocked(videoID)
	if len(rm.subscribers) == 0 {
		roomsActive.Inc()
	}
	rm.subscribers[sub] = struct{}{}

	reg.logger.Debug().
		Str(log.FieldVideoID, videoID).
		Int("subscribers", len(rm.subscribers)).
		Str(log.FieldEvent, "chat.joined").
		Msg("subscriber joined room")

	return rm.recent(joinReplay)
}

// Leave removes sub from the room. Leaving a room never joined is a no-op.
func (reg *Registry) Leave(videoID string, sub Subscriber) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	rm, ok := reg.rooms[videoID]
	if !ok {
		return
	}
	if _, ok := rm.subscribers[sub]; !ok {
		return
	}
	delete(rm.subscribers, sub)
	if len(rm.subscribers) == 0 {
		roomsActive.Dec()
	}
}

// Post appends msg to the room history and fans it out to every subscriber
// except the sender. The broadcast is best-effort: the subscriber set is
// snapshotted under the lock, sends happen without it, and any subscriber
// whose send fails is pruned afterwards. The message itself is never rolled
// back.
func (reg *Registry) Post(videoID string, msg Message, sender Subscriber) {
	reg.mu.Lock()
	rm := reg.roomLocked(videoID)
	rm.append(msg)
	targets := make([]Subscriber, 0, len(rm.subscribers))
	for sub := range rm.subscribers {
		if sub != sender {
			targets = append(targets, sub)
		}
	}
	reg.mu.Unlock()

	messagesTotal.Inc()

	broadcast := Message{"action": "chat_message", "broadcast": true}
	for k, v := range msg {
		broadcast[k] = v
	}

	var failed []Subscriber
	for _, sub := range targets {
		if err := sub.Send(broadcast); err != nil {
			reg.logger.Warn().
				Err(err).
				Str(log.FieldVideoID, videoID).
				Str(log.FieldEvent, "chat.broadcast.failed").
				Msg("dropping subscriber after failed send")
			failed = append(failed, sub)
		}
	}
	if len(failed) == 0 {
		return
	}

	reg.mu.Lock()
	defer reg.mu.Unlock()
	rm, ok := reg.rooms[videoID]
	if !ok {
		return
	}
	for _, sub := range failed {
		if _, ok := rm.subscribers[sub]; ok {
			delete(rm.subscribers, sub)
			broadcastDrops.Inc()
			if len(rm.subscribers) == 0 {
				roomsActive.Dec()
			}
		}
	}
}

// Drop removes sub from every room it is subscribed to. Called when a
// connection closes without explicit leave_chat frames.
func (reg *Registry) Drop(sub Subscriber) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	for _, rm := range reg.rooms {
		if _, ok := rm.subscribers[sub]; ok {
			delete(rm.subscribers, sub)
			if len(rm.subscribers) == 0 {
				roomsActive.Dec()
			}
		}
	}
}

// RoomSize reports the current subscriber count for a videoId.
func (reg *Registry) RoomSize(videoID string) int {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	rm, ok := reg.rooms[videoID]
	if !ok {
		return 0
	}
	return len(rm.subscribers)
}

// HistorySize reports how many messages a room currently retains.
func (reg *Registry) HistorySize(videoID string) int {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	rm, ok := reg.rooms[videoID]
	if !ok {
		return 0
	}
	return len(rm.messages)
}
