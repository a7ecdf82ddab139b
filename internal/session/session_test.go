// SPDX-License-Identifier: MIT

package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/clipmux/clipmux/internal/chat"
	"github.com/clipmux/clipmux/internal/identity"
	"github.com/clipmux/clipmux/internal/llm"
	"github.com/clipmux/clipmux/internal/videogen"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeConn records every outbound frame as the JSON object a client would
// decode, so assertions see exactly the wire shape.
type fakeConn struct {
	mu     sync.Mutex
	sent   []map[string]any
	err    error
	closed bool
}

func (c *fakeConn) Send(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var env map[string]any
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	c.sent = append(c.sent, env)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) failWith(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.err = err
}

func (c *fakeConn) wasClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) replies() []map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]map[string]any, len(c.sent))
	copy(out, c.sent)
	return out
}

func (c *fakeConn) waitReplies(t *testing.T, n int) []map[string]any {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		got := c.replies()
		if len(got) >= n {
			return got
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d replies, got %d: %v", n, len(got), got)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

type fakeStudio struct {
	mu       sync.Mutex
	searched []string
	simmed   []llm.SimulationInput

	stub       llm.VideoStub
	caption    string
	captionErr error
	sim        llm.Simulation
}

func (f *fakeStudio) Search(_ context.Context, query string, _ int) llm.VideoStub {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searched = append(f.searched, query)
	return f.stub
}

func (f *fakeStudio) Caption(_ context.Context, _, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.captionErr != nil {
		return "", f.captionErr
	}
	return f.caption, nil
}

func (f *fakeStudio) Simulate(_ context.Context, in llm.SimulationInput) llm.Simulation {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.simmed = append(f.simmed, in)
	return f.sim
}

func (f *fakeStudio) simInputs() []llm.SimulationInput {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]llm.SimulationInput, len(f.simmed))
	copy(out, f.simmed)
	return out
}

// fakeRenderer stands in for the videogen service and tracks the render
// high-water mark so tests can assert the parallelism cap.
type fakeRenderer struct {
	mu         sync.Mutex
	videoIn    []videogen.GenerateInput
	thumbIn    []videogen.GenerateInput
	chatEvents []string

	video    string
	videoErr error
	thumb    string
	thumbErr error

	gate chan struct{} // non-nil: video renders block until closed

	inflight    atomic.Int32
	maxInflight atomic.Int32
}

func (r *fakeRenderer) GenerateVideo(ctx context.Context, in videogen.GenerateInput, _ identity.Role) (string, error) {
	cur := r.inflight.Add(1)
	defer r.inflight.Add(-1)
	for {
		peak := r.maxInflight.Load()
		if cur <= peak || r.maxInflight.CompareAndSwap(peak, cur) {
			break
		}
	}

	r.mu.Lock()
	r.videoIn = append(r.videoIn, in)
	gate := r.gate
	video, err := r.video, r.videoErr
	r.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return video, err
}

func (r *fakeRenderer) GenerateThumbnail(_ context.Context, in videogen.GenerateInput, _ identity.Role) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.thumbIn = append(r.thumbIn, in)
	if r.thumbErr != nil {
		return "", r.thumbErr
	}
	return r.thumb, nil
}

func (r *fakeRenderer) RecordChatMessage(videoID, username, content string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chatEvents = append(r.chatEvents, videoID+"|"+username+"|"+content)
}

func (r *fakeRenderer) setGate(gate chan struct{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gate = gate
}

func (r *fakeRenderer) setVideoErr(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.videoErr = err
}

func (r *fakeRenderer) setThumbErr(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.thumbErr = err
}

func (r *fakeRenderer) videoInputs() []videogen.GenerateInput {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]videogen.GenerateInput, len(r.videoIn))
	copy(out, r.videoIn)
	return out
}

func (r *fakeRenderer) thumbInputs() []videogen.GenerateInput {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]videogen.GenerateInput, len(r.thumbIn))
	copy(out, r.thumbIn)
	return out
}

func (r *fakeRenderer) chatEventsCopy() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.chatEvents))
	copy(out, r.chatEvents)
	return out
}

type testSession struct {
	sess   *Session
	conn   *fakeConn
	studio *fakeStudio
	render *fakeRenderer
	rooms  *chat.Registry
}

func newTestSession(t *testing.T, mutate func(*Options)) *testSession {
	t.Helper()
	ts := &testSession{
		conn:   &fakeConn{},
		studio: &fakeStudio{},
		render: &fakeRenderer{
			video: "data:video/mp4;base64,AAAA",
			thumb: "data:video/mp4;base64,BBBB",
		},
		rooms: chat.NewRegistry(),
	}
	opts := Options{
		UserID: "user-1",
		Role:   identity.RoleNormal,
		Conn:   ts.conn,
		Chat:   ts.rooms,
		Studio: ts.studio,
		Video:  ts.render,
	}
	if mutate != nil {
		mutate(&opts)
	}
	if opts.Chat != nil {
		ts.rooms = opts.Chat
	}
	ts.sess = New(opts)
	require.NoError(t, ts.sess.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = ts.sess.Stop(ctx)
	})
	return ts
}

func (ts *testSession) handle(t *testing.T, frame string) {
	t.Helper()
	f, err := ParseFrame([]byte(frame))
	require.NoError(t, err)
	require.NoError(t, ts.sess.Handle(context.Background(), f))
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition never became true")
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestHeartbeat_RepliesInlineWithRole(t *testing.T) {
	ts := newTestSession(t, func(o *Options) { o.Role = identity.RolePro })
	ts.handle(t, `{"action": "heartbeat", "requestId": "hb-1"}`)

	got := ts.conn.waitReplies(t, 1)[0]
	assert.Equal(t, "heartbeat", got["action"])
	assert.Equal(t, "hb-1", got["requestId"])
	assert.Equal(t, true, got["success"])
	assert.Equal(t, "pro", got["user_role"])
}

func TestGetUserRole_AnonymousDefault(t *testing.T) {
	ts := newTestSession(t, func(o *Options) { o.Role = identity.RoleAnonymous })
	ts.handle(t, `{"action": "get_user_role", "requestId": "r-1"}`)

	got := ts.conn.waitReplies(t, 1)[0]
	assert.Equal(t, true, got["success"])
	assert.Equal(t, "anon", got["user_role"])
}

func TestUnknownAction_Replies(t *testing.T) {
	ts := newTestSession(t, nil)
	ts.handle(t, `{"action": "warp", "requestId": "r-1"}`)

	got := ts.conn.waitReplies(t, 1)[0]
	assert.Equal(t, false, got["success"])
	assert.Equal(t, "Unknown action: warp", got["error"])
}

func TestChat_JoinPostLeave(t *testing.T) {
	rooms := chat.NewRegistry()
	a := newTestSession(t, func(o *Options) { o.UserID = "user-a"; o.Chat = rooms })
	b := newTestSession(t, func(o *Options) { o.UserID = "user-b"; o.Chat = rooms })

	a.handle(t, `{"action": "join_chat", "requestId": "ja", "videoId": "vid-1"}`)
	b.handle(t, `{"action": "join_chat", "requestId": "jb", "videoId": "vid-1"}`)
	joinA := a.conn.waitReplies(t, 1)[0]
	assert.Equal(t, true, joinA["success"])
	assert.Equal(t, []any{}, joinA["messages"])
	b.conn.waitReplies(t, 1)

	a.handle(t, `{"action": "chat_message", "requestId": "m1", "videoId": "vid-1", "username": "ada", "content": "hello"}`)

	// The sender gets an acknowledgement carrying the message.
	gotA := a.conn.waitReplies(t, 2)[1]
	assert.Equal(t, "chat_message", gotA["action"])
	assert.Equal(t, true, gotA["success"])
	msg, ok := gotA["message"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "hello", msg["content"])

	// The other subscriber gets the broadcast, flagged as such.
	gotB := b.conn.waitReplies(t, 2)[1]
	assert.Equal(t, "chat_message", gotB["action"])
	assert.Equal(t, true, gotB["broadcast"])
	assert.Equal(t, "hello", gotB["content"])
	assert.Equal(t, "ada", gotB["username"])

	// The event trail recorded the message.
	assert.Equal(t, []string{"vid-1|ada|hello"}, a.render.chatEventsCopy())

	// The sender never hears its own broadcast.
	assert.Len(t, a.conn.replies(), 2)

	b.handle(t, `{"action": "leave_chat", "requestId": "lb", "videoId": "vid-1"}`)
	leave := b.conn.waitReplies(t, 3)[2]
	assert.Equal(t, true, leave["success"])

	a.handle(t, `{"action": "chat_message", "requestId": "m2", "videoId": "vid-1", "username": "ada", "content": "anyone?"}`)
	a.conn.waitReplies(t, 3)
	// B left the room: no more broadcasts.
	assert.Len(t, b.conn.replies(), 3)
}

func TestChat_MissingVideoID(t *testing.T) {
	ts := newTestSession(t, nil)
	ts.handle(t, `{"action": "chat_message", "requestId": "m1", "content": "hi"}`)

	got := ts.conn.waitReplies(t, 1)[0]
	assert.Equal(t, false, got["success"])
	assert.Equal(t, "No video ID provided", got["error"])
}

func TestGenerateVideo_RepliesWithClip(t *testing.T) {
	ts := newTestSession(t, nil)
	ts.handle(t, `{
		"action": "generate_video",
		"requestId": "v-1",
		"title": "Neon City",
		"description": "rain",
		"video_prompt_prefix": "cinematic",
		"options": {"width": 768}
	}`)

	got := ts.conn.waitReplies(t, 1)[0]
	assert.Equal(t, "generate_video", got["action"])
	assert.Equal(t, "v-1", got["requestId"])
	assert.Equal(t, true, got["success"])
	assert.Equal(t, "data:video/mp4;base64,AAAA", got["video"])

	in := ts.render.videoInputs()
	require.Len(t, in, 1)
	assert.Equal(t, "Neon City", in[0].Title)
	assert.Equal(t, "rain", in[0].Description)
	assert.Equal(t, "cinematic", in[0].PromptPrefix)
	require.NotNil(t, in[0].Options.Width)
	assert.Equal(t, 768, *in[0].Options.Width)
}

func TestGenerateVideo_FailureRepliesAndWorkerSurvives(t *testing.T) {
	ts := newTestSession(t, nil)
	ts.render.setVideoErr(errors.New("render exploded"))

	ts.handle(t, `{"action": "generate_video", "requestId": "v-err", "title": "x"}`)
	got := ts.conn.waitReplies(t, 1)[0]
	assert.Equal(t, false, got["success"])
	assert.Equal(t, "Video generation error: render exploded", got["error"])

	ts.render.setVideoErr(nil)
	ts.handle(t, `{"action": "generate_video", "requestId": "v-2", "title": "y"}`)
	got = ts.conn.waitReplies(t, 2)[1]
	assert.Equal(t, true, got["success"])
}

func TestVideoWorker_BoundsParallelRenders(t *testing.T) {
	gate := make(chan struct{})
	ts := newTestSession(t, func(o *Options) { o.VideoSlots = 2 })
	ts.render.setGate(gate)

	for i := 0; i < 5; i++ {
		ts.handle(t, fmt.Sprintf(`{"action": "generate_video", "requestId": "v-%d", "title": "t"}`, i))
	}

	waitFor(t, func() bool { return ts.render.inflight.Load() == 2 })
	// Give the worker a chance to overshoot if it ever would.
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(2), ts.render.inflight.Load())

	close(gate)
	replies := ts.conn.waitReplies(t, 5)

	assert.Equal(t, int32(2), ts.render.maxInflight.Load())
	ids := map[string]bool{}
	for _, env := range replies {
		assert.Equal(t, true, env["success"])
		ids[env["requestId"].(string)] = true
	}
	assert.Len(t, ids, 5)
}

func TestStop_DropsInFlightRendersWithoutReply(t *testing.T) {
	gate := make(chan struct{})
	defer close(gate)
	ts := newTestSession(t, nil)
	ts.render.setGate(gate)

	ts.handle(t, `{"action": "generate_video", "requestId": "v-1", "title": "t"}`)
	waitFor(t, func() bool { return ts.render.inflight.Load() == 1 })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, ts.sess.Stop(ctx))

	assert.Equal(t, StateClosed, ts.sess.State())
	assert.Empty(t, ts.conn.replies())

	f, err := ParseFrame([]byte(`{"action": "heartbeat", "requestId": "hb"}`))
	require.NoError(t, err)
	assert.ErrorIs(t, ts.sess.Handle(context.Background(), f), ErrNotRunning)
}

func TestSearchWorker_KeepsArrivalOrder(t *testing.T) {
	ts := newTestSession(t, nil)
	ts.studio.stub = llm.VideoStub{Title: "found"}

	for i := 0; i < 5; i++ {
		ts.handle(t, fmt.Sprintf(`{"action": "search", "requestId": "s-%d", "query": "q%d"}`, i, i))
	}

	replies := ts.conn.waitReplies(t, 5)
	for i, env := range replies {
		assert.Equal(t, fmt.Sprintf("s-%d", i), env["requestId"])
		result, ok := env["result"].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "found", result["title"])
	}
}

func TestSearch_EmptyQueryReplies(t *testing.T) {
	ts := newTestSession(t, nil)
	ts.handle(t, `{"action": "search", "requestId": "s-1", "query": "   "}`)

	got := ts.conn.waitReplies(t, 1)[0]
	assert.Equal(t, false, got["success"])
	assert.Equal(t, "No search query provided", got["error"])
}

func TestSimulate_RepliesWithEvolution(t *testing.T) {
	ts := newTestSession(t, nil)
	ts.studio.sim = llm.Simulation{EvolvedDescription: "next scene", CondensedHistory: "so far"}

	ts.handle(t, `{
		"action": "simulate",
		"requestId": "sim-1",
		"video_id": "vid-1",
		"original_title": "Harbor",
		"original_description": "boats",
		"current_description": "boats at dusk",
		"condensed_history": "day one",
		"evolution_count": 2,
		"chat_messages": "viewer: storm please"
	}`)

	got := ts.conn.waitReplies(t, 1)[0]
	assert.Equal(t, "simulate", got["action"])
	assert.Equal(t, true, got["success"])
	assert.Equal(t, "next scene", got["evolved_description"])
	assert.Equal(t, "so far", got["condensed_history"])

	in := ts.studio.simInputs()
	require.Len(t, in, 1)
	assert.Equal(t, "Harbor", in[0].OriginalTitle)
	assert.Equal(t, "boats at dusk", in[0].CurrentDescription)
	assert.Equal(t, 2, in[0].EvolutionCount)
	assert.Equal(t, "viewer: storm please", in[0].ChatMessages)
}

func TestSimulate_MissingParameters(t *testing.T) {
	ts := newTestSession(t, nil)
	ts.handle(t, `{"action": "simulate", "requestId": "sim-1", "original_title": "Harbor"}`)

	got := ts.conn.waitReplies(t, 1)[0]
	assert.Equal(t, false, got["success"])
	assert.Equal(t, "Missing required parameters", got["error"])
}

func TestCaption_RepliesInline(t *testing.T) {
	ts := newTestSession(t, nil)
	ts.studio.caption = "a noir alley at night"

	ts.handle(t, `{"action": "generate_caption", "requestId": "c-1", "params": {"title": "Alley", "description": "noir"}}`)

	got := ts.conn.waitReplies(t, 1)[0]
	assert.Equal(t, true, got["success"])
	assert.Equal(t, "a noir alley at night", got["caption"])
}

func TestCaption_MissingParams(t *testing.T) {
	ts := newTestSession(t, nil)
	ts.handle(t, `{"action": "generate_caption", "requestId": "c-1", "params": {"title": "Alley"}}`)

	got := ts.conn.waitReplies(t, 1)[0]
	assert.Equal(t, false, got["success"])
	assert.Equal(t, "Missing title or description", got["error"])
}

func TestCaption_ModelFailureDegradesToEmpty(t *testing.T) {
	ts := newTestSession(t, nil)
	ts.studio.captionErr = errors.New("model offline")

	ts.handle(t, `{"action": "generate_caption", "requestId": "c-1", "params": {"title": "Alley", "description": "noir"}}`)

	got := ts.conn.waitReplies(t, 1)[0]
	assert.Equal(t, true, got["success"])
	assert.Equal(t, "", got["caption"])
}

func TestThumbnail_RendersInline(t *testing.T) {
	ts := newTestSession(t, nil)
	ts.handle(t, `{
		"action": "generate_video_thumbnail",
		"requestId": "t-1",
		"video_id": "vid-42",
		"title": "Neon City",
		"description": "rain",
		"options": {"num_frames": 30}
	}`)

	got := ts.conn.waitReplies(t, 1)[0]
	assert.Equal(t, true, got["success"])
	assert.Equal(t, "data:video/mp4;base64,BBBB", got["thumbnail"])
	_, hasLegacy := got["thumbnailUrl"]
	assert.False(t, hasLegacy)

	in := ts.render.thumbInputs()
	require.Len(t, in, 1)
	assert.Equal(t, "vid-42", in[0].Options.VideoID)
	require.NotNil(t, in[0].Options.NumFrames)
	assert.Equal(t, 30, *in[0].Options.NumFrames)
}

func TestThumbnail_SyntheticVideoIDFallback(t *testing.T) {
	ts := newTestSession(t, nil)
	ts.handle(t, `{"action": "generate_video_thumbnail", "requestId": "t-9", "title": "T"}`)
	ts.conn.waitReplies(t, 1)

	in := ts.render.thumbInputs()
	require.Len(t, in, 1)
	assert.Equal(t, "thumbnail-t-9", in[0].Options.VideoID)
}

func TestThumbnail_LegacyReplyKey(t *testing.T) {
	ts := newTestSession(t, nil)
	ts.handle(t, `{"action": "generate_video_thumbnail", "requestId": "t-1", "title": "T", "thumbnailUrl": ""}`)

	got := ts.conn.waitReplies(t, 1)[0]
	assert.Equal(t, "data:video/mp4;base64,BBBB", got["thumbnailUrl"])
	_, hasNew := got["thumbnail"]
	assert.False(t, hasNew)
}

func TestThumbnail_MissingTitle(t *testing.T) {
	ts := newTestSession(t, nil)
	ts.handle(t, `{"action": "generate_video_thumbnail", "requestId": "t-1", "description": "d"}`)

	got := ts.conn.waitReplies(t, 1)[0]
	assert.Equal(t, false, got["success"])
	assert.Equal(t, "Missing title for thumbnail generation", got["error"])
}

func TestThumbnail_RenderFailureReplies(t *testing.T) {
	ts := newTestSession(t, nil)
	ts.render.setThumbErr(errors.New("no endpoints"))

	ts.handle(t, `{"action": "generate_video_thumbnail", "requestId": "t-1", "title": "T"}`)

	got := ts.conn.waitReplies(t, 1)[0]
	assert.Equal(t, false, got["success"])
	assert.Equal(t, "Thumbnail generation failed: no endpoints", got["error"])
}

func TestDeprecatedThumbnail_RedirectsWithDefaults(t *testing.T) {
	ts := newTestSession(t, nil)
	ts.handle(t, `{"action": "generate_thumbnail", "requestId": "t-1", "title": "T", "description": "D"}`)

	got := ts.conn.waitReplies(t, 1)[0]
	// The reply carries the current action name.
	assert.Equal(t, "generate_video_thumbnail", got["action"])
	assert.Equal(t, true, got["success"])
	assert.Equal(t, "data:video/mp4;base64,BBBB", got["thumbnail"])

	in := ts.render.thumbInputs()
	require.Len(t, in, 1)
	require.NotNil(t, in[0].Options.Width)
	assert.Equal(t, 512, *in[0].Options.Width)
	require.NotNil(t, in[0].Options.Height)
	assert.Equal(t, 288, *in[0].Options.Height)
	assert.Equal(t, "thumbnail-t-1", in[0].Options.VideoID)
}

func TestDeprecatedThumbnail_MissingDescription(t *testing.T) {
	ts := newTestSession(t, nil)
	ts.handle(t, `{"action": "old_generate_thumbnail", "requestId": "t-1", "title": "T"}`)

	got := ts.conn.waitReplies(t, 1)[0]
	assert.Equal(t, "old_generate_thumbnail", got["action"])
	assert.Equal(t, false, got["success"])
	assert.Equal(t, "Missing title or description", got["error"])
}

func TestSendFailure_DrainsSession(t *testing.T) {
	ts := newTestSession(t, nil)
	ts.conn.failWith(errors.New("broken pipe"))

	f, err := ParseFrame([]byte(`{"action": "heartbeat", "requestId": "hb"}`))
	require.NoError(t, err)
	require.NoError(t, ts.sess.Handle(context.Background(), f))

	waitFor(t, func() bool { return ts.sess.State() == StateDraining })
	assert.ErrorIs(t, ts.sess.Handle(context.Background(), f), ErrNotRunning)
	assert.True(t, ts.conn.wasClosed())
}

func TestStop_DetachesFromChatRooms(t *testing.T) {
	ts := newTestSession(t, nil)
	ts.handle(t, `{"action": "join_chat", "requestId": "j", "videoId": "vid-1"}`)
	ts.conn.waitReplies(t, 1)
	require.Equal(t, 1, ts.rooms.RoomSize("vid-1"))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, ts.sess.Stop(ctx))

	assert.Equal(t, StateClosed, ts.sess.State())
	assert.Equal(t, 0, ts.rooms.RoomSize("vid-1"))
}

func TestStart_SecondCallFails(t *testing.T) {
	ts := newTestSession(t, nil)
	assert.ErrorIs(t, ts.sess.Start(context.Background()), ErrStarted)
}

func TestVideoSlots(t *testing.T) {
	cases := []struct {
		role identity.Role
		pool int
		want int
	}{
		{identity.RoleAnonymous, 8, 2},
		{identity.RoleNormal, 8, 4},
		{identity.RolePro, 8, 8},
		{identity.RoleAdmin, 3, 3},
		{identity.RoleAnonymous, 1, 1},
		{identity.RoleNormal, 3, 3},
		{identity.RolePro, 0, 1},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, VideoSlots(tc.role, tc.pool), "%s with %d endpoints", tc.role, tc.pool)
	}
}
