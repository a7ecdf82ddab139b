// SPDX-License-Identifier: MIT

package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/clipmux/clipmux/internal/chat"
	"github.com/clipmux/clipmux/internal/identity"
	"github.com/clipmux/clipmux/internal/llm"
	"github.com/clipmux/clipmux/internal/log"
	"github.com/clipmux/clipmux/internal/metrics"
	"github.com/clipmux/clipmux/internal/videogen"
)

var (
	// ErrNotRunning reports a frame handed to a session that is not
	// accepting work, either not started yet or already draining.
	ErrNotRunning = errors.New("session: not accepting frames")
	// ErrStarted reports a second Start on the same session.
	ErrStarted = errors.New("session: already started")
)

const (
	// defaultQueueDepth sizes each typed queue.
	defaultQueueDepth = 64

	// Per-session parallel render caps by role; pro and admin may saturate
	// the endpoint pool.
	anonVideoSlots   = 2
	normalVideoSlots = 4
)

// VideoSlots returns the parallel render cap for one session: the endpoint
// pool size, reduced for anonymous and normal users. Always at least 1 so
// an empty pool still fails per request instead of wedging the worker.
func VideoSlots(role identity.Role, poolSize int) int {
	slots := poolSize
	switch role {
	case identity.RoleAnonymous:
		slots = min(anonVideoSlots, poolSize)
	case identity.RoleNormal:
		slots = min(normalVideoSlots, poolSize)
	}
	if slots < 1 {
		slots = 1
	}
	return slots
}

// Studio is the text-generation surface the workers call for search,
// captioning and simulation.
type Studio interface {
	Search(ctx context.Context, query string, attemptCount int) llm.VideoStub
	Caption(ctx context.Context, title, description string) (string, error)
	Simulate(ctx context.Context, in llm.SimulationInput) llm.Simulation
}

// Renderer is the clip surface behind generate_video and the thumbnail
// actions, plus the event trail chat messages land in.
type Renderer interface {
	GenerateVideo(ctx context.Context, in videogen.GenerateInput, role identity.Role) (string, error)
	GenerateThumbnail(ctx context.Context, in videogen.GenerateInput, role identity.Role) (string, error)
	RecordChatMessage(videoID, username, content string)
}

// State tracks the session lifecycle.
type State int32

const (
	StateInit State = iota
	StateRunning
	StateDraining
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Options configures a Session. Conn, Chat, Studio and Video are required.
type Options struct {
	UserID   string
	Role     identity.Role
	ClientIP string
	Conn     Conn
	Chat     *chat.Registry
	Studio   Studio
	Video    Renderer
	// VideoSlots caps parallel renders; values below 1 become 1.
	VideoSlots int
	// QueueDepth sizes each typed queue; values below 1 use the default.
	QueueDepth int
	// Logger overrides the default component logger.
	Logger *zerolog.Logger
}

// Session pins one connected user: four typed queues, four workers, and the
// request counters the registry aggregates. Every reply goes through the
// session's Conn; a failed send drains the whole session.
type Session struct {
	userID    string
	role      identity.Role
	clientIP  string
	createdAt time.Time

	conn   Conn
	chat   *chat.Registry
	studio Studio
	video  Renderer
	logger zerolog.Logger

	chatQ   chan *Frame
	videoQ  chan *Frame
	searchQ chan *Frame
	simQ    chan *Frame

	videoSlots int

	mu     sync.Mutex
	state  atomic.Int32
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	counts struct {
		chat       atomic.Int64
		video      atomic.Int64
		search     atomic.Int64
		simulation atomic.Int64
	}
}

// New builds a Session in the INIT state; Start launches its workers.
func New(opts Options) *Session {
	logger := log.WithComponent("session")
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	logger = logger.With().
		Str(log.FieldUserID, opts.UserID).
		Str(log.FieldRole, string(opts.Role)).
		Logger()

	depth := opts.QueueDepth
	if depth < 1 {
		depth = defaultQueueDepth
	}
	slots := opts.VideoSlots
	if slots < 1 {
		slots = 1
	}

	s := &Session{
		userID:     opts.UserID,
		role:       opts.Role,
		clientIP:   opts.ClientIP,
		createdAt:  time.Now(),
		conn:       opts.Conn,
		chat:       opts.Chat,
		studio:     opts.Studio,
		video:      opts.Video,
		logger:     logger,
		chatQ:      make(chan *Frame, depth),
		videoQ:     make(chan *Frame, depth),
		searchQ:    make(chan *Frame, depth),
		simQ:       make(chan *Frame, depth),
		videoSlots: slots,
	}
	s.state.Store(int32(StateInit))
	return s
}

// UserID identifies the session; one fresh uuid per connection.
func (s *Session) UserID() string { return s.userID }

// Role is the role resolved during the handshake.
func (s *Session) Role() identity.Role { return s.role }

// ClientIP is the peer address recorded at connect time.
func (s *Session) ClientIP() string { return s.clientIP }

// State returns the current lifecycle state.
func (s *Session) State() State { return State(s.state.Load()) }

// Start launches the four queue workers. It may be called once.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if State(s.state.Load()) != StateInit {
		return ErrStarted
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.state.Store(int32(StateRunning))

	s.wg.Add(4)
	go s.chatWorker(s.ctx)
	go s.videoWorker(s.ctx)
	go s.searchWorker(s.ctx)
	go s.simulationWorker(s.ctx)

	s.logger.Info().
		Str(log.FieldEvent, "session.start").
		Int("video_slots", s.videoSlots).
		Msg("session started")
	return nil
}

// Stop drains the session: cancels the workers, detaches the connection
// from every chat room, closes the transport and waits for in-flight work
// within ctx. Safe to call more than once.
func (s *Session) Stop(ctx context.Context) error {
	s.mu.Lock()
	switch State(s.state.Load()) {
	case StateInit:
		s.state.Store(int32(StateClosed))
		s.mu.Unlock()
		return nil
	case StateRunning:
		s.state.Store(int32(StateDraining))
	}
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if s.chat != nil {
		s.chat.Drop(s.conn)
	}
	_ = s.conn.Close()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.state.Store(int32(StateClosed))
		s.logger.Info().Str(log.FieldEvent, "session.stop").Msg("session stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("session drain: %w", ctx.Err())
	}
}

// Handle routes one inbound frame: queued classes hand off to their worker,
// anything else is answered inline on the caller's goroutine. Enqueueing
// blocks while a queue is full; a draining session refuses new frames.
func (s *Session) Handle(ctx context.Context, f *Frame) error {
	if s.State() != StateRunning {
		return ErrNotRunning
	}

	var q chan *Frame
	switch f.Class() {
	case metrics.ClassChat:
		q = s.chatQ
	case metrics.ClassVideo:
		q = s.videoQ
	case metrics.ClassSearch:
		q = s.searchQ
	case metrics.ClassSimulation:
		q = s.simQ
	default:
		s.handleGeneric(ctx, f)
		return nil
	}

	select {
	case q <- f:
		return nil
	case <-s.ctx.Done():
		return ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}
}

// send writes one reply envelope. A failed send means the peer is gone:
// the session flips to draining and the caller gets false.
func (s *Session) send(env map[string]any) bool {
	if err := s.conn.Send(env); err != nil {
		s.fail(err)
		return false
	}
	return true
}

// fail drains the session after an unrecoverable connection error. Workers
// observe the cancelled context and drop their in-flight items.
func (s *Session) fail(err error) {
	s.mu.Lock()
	if State(s.state.Load()) == StateRunning {
		s.state.Store(int32(StateDraining))
		s.logger.Warn().
			Err(err).
			Str(log.FieldEvent, "session.send.failed").
			Msg("peer unreachable, draining session")
	}
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	_ = s.conn.Close()
}

// requestCounts snapshots the served-request counters.
func (s *Session) requestCounts() RequestCounts {
	return RequestCounts{
		Chat:       s.counts.chat.Load(),
		Video:      s.counts.video.Load(),
		Search:     s.counts.search.Load(),
		Simulation: s.counts.simulation.Load(),
	}
}

// reply builds the success envelope every handler decorates.
func reply(action, requestID string) map[string]any {
	return map[string]any{
		"action":    action,
		"requestId": requestID,
		"success":   true,
	}
}

// errorReply mirrors reply for failures.
func errorReply(action, requestID, message string) map[string]any {
	return map[string]any{
		"action":    action,
		"requestId": requestID,
		"success":   false,
		"error":     message,
	}
}
