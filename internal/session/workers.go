// SPDX-License-Identifier: MIT

package session

import (
	"context"
	"strings"
	"sync"

	"github.com/clipmux/clipmux/internal/chat"
	"github.com/clipmux/clipmux/internal/llm"
	"github.com/clipmux/clipmux/internal/log"
	"github.com/clipmux/clipmux/internal/videogen"
)

// chatWorker serves chat frames strictly in arrival order.
func (s *Session) chatWorker(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case f := <-s.chatQ:
			s.handleChat(f)
		}
	}
}

// handleChat joins, posts or leaves a room. Validation failures reply in
// place and still count as served; only a dead peer aborts.
func (s *Session) handleChat(f *Frame) {
	var env map[string]any
	if f.VideoID == "" {
		env = errorReply(f.Action, f.RequestID, "No video ID provided")
	} else {
		env = reply(f.Action, f.RequestID)
		switch f.Action {
		case ActionJoinChat:
			env["messages"] = s.chat.Join(f.VideoID, s.conn)
		case ActionChatMessage:
			s.video.RecordChatMessage(f.VideoID, f.Username, f.Content)
			msg := chat.Message(f.Fields())
			s.chat.Post(f.VideoID, msg, s.conn)
			env["message"] = msg
		case ActionLeaveChat:
			s.chat.Leave(f.VideoID, s.conn)
		}
	}
	if s.send(env) {
		s.counts.chat.Add(1)
	}
}

// videoWorker renders clips with bounded parallelism: frames dequeue in
// FIFO order, each runs in its own goroutine, and a semaphore holds the
// in-flight count at the session's slot cap. Replies land in completion
// order; clients correlate via requestId.
func (s *Session) videoWorker(ctx context.Context) {
	defer s.wg.Done()

	sem := make(chan struct{}, s.videoSlots)
	var tasks sync.WaitGroup
	defer tasks.Wait()

	for {
		var f *Frame
		select {
		case <-ctx.Done():
			return
		case f = <-s.videoQ:
		}

		select {
		case <-ctx.Done():
			return
		case sem <- struct{}{}:
		}

		tasks.Add(1)
		go func(f *Frame) {
			defer tasks.Done()
			defer func() { <-sem }()
			s.handleVideo(ctx, f)
		}(f)
	}
}

// handleVideo renders one clip. A cancelled context means the session is
// draining: the item is dropped without a reply.
func (s *Session) handleVideo(ctx context.Context, f *Frame) {
	in := videogen.GenerateInput{
		Title:        f.Title,
		Description:  f.Description,
		PromptPrefix: f.PromptPrefix,
	}
	if f.Options != nil {
		in.Options = *f.Options
	}

	video, err := s.video.GenerateVideo(ctx, in, s.role)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.logger.Error().
			Err(err).
			Str(log.FieldEvent, "session.video.failed").
			Str(log.FieldRequestID, f.RequestID).
			Msg("video generation failed")
		s.send(errorReply(ActionGenerateVideo, f.RequestID, "Video generation error: "+err.Error()))
		return
	}

	env := reply(ActionGenerateVideo, f.RequestID)
	env["video"] = video
	if s.send(env) {
		s.counts.video.Add(1)
	}
}

// searchWorker serves search frames strictly in arrival order.
func (s *Session) searchWorker(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case f := <-s.searchQ:
			s.handleSearch(ctx, f)
		}
	}
}

func (s *Session) handleSearch(ctx context.Context, f *Frame) {
	query := strings.TrimSpace(f.Query)
	if query == "" {
		s.logger.Warn().
			Str(log.FieldEvent, "session.search.empty").
			Str(log.FieldRequestID, f.RequestID).
			Msg("empty search query")
		if s.send(errorReply(ActionSearch, f.RequestID, "No search query provided")) {
			s.counts.search.Add(1)
		}
		return
	}

	stub := s.studio.Search(ctx, query, f.AttemptCount)
	if ctx.Err() != nil {
		return
	}

	env := reply(ActionSearch, f.RequestID)
	env["result"] = stub
	if s.send(env) {
		s.counts.search.Add(1)
	}
}

// simulationWorker evolves video descriptions strictly in arrival order.
func (s *Session) simulationWorker(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case f := <-s.simQ:
			s.handleSimulation(ctx, f)
		}
	}
}

func (s *Session) handleSimulation(ctx context.Context, f *Frame) {
	if f.OriginalTitle == "" || f.OriginalDescription == "" || f.CurrentDescription == "" {
		if s.send(errorReply(ActionSimulate, f.RequestID, "Missing required parameters")) {
			s.counts.simulation.Add(1)
		}
		return
	}

	sim := s.studio.Simulate(ctx, llm.SimulationInput{
		OriginalTitle:       f.OriginalTitle,
		OriginalDescription: f.OriginalDescription,
		CurrentDescription:  f.CurrentDescription,
		CondensedHistory:    f.CondensedHistory,
		EvolutionCount:      f.EvolutionCount,
		ChatMessages:        f.ChatMessages,
	})
	if ctx.Err() != nil {
		return
	}

	env := reply(ActionSimulate, f.RequestID)
	env["evolved_description"] = sim.EvolvedDescription
	env["condensed_history"] = sim.CondensedHistory
	if s.send(env) {
		s.counts.simulation.Add(1)
	}
}

// handleGeneric answers the actions that never queue: identity probes,
// captioning and the thumbnail family.
func (s *Session) handleGeneric(ctx context.Context, f *Frame) {
	switch f.Action {
	case ActionHeartbeat, ActionGetUserRole:
		env := reply(f.Action, f.RequestID)
		env["user_role"] = string(s.role)
		s.send(env)

	case ActionGenerateCaption:
		s.handleCaption(ctx, f)

	case ActionGenerateVideoThumbnail:
		s.handleThumbnail(ctx, f)

	case ActionGenerateThumbnail, ActionOldGenerateThumbnail:
		s.handleDeprecatedThumbnail(ctx, f)

	default:
		s.send(errorReply(f.Action, f.RequestID, "Unknown action: "+f.Action))
	}
}

// handleCaption expands params.title/description into a caption. A model
// failure degrades to an empty caption rather than an error reply.
func (s *Session) handleCaption(ctx context.Context, f *Frame) {
	var title, description string
	if f.Params != nil {
		title, description = f.Params.Title, f.Params.Description
	}
	if title == "" || description == "" {
		s.send(errorReply(f.Action, f.RequestID, "Missing title or description"))
		return
	}

	caption, err := s.studio.Caption(ctx, title, description)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.logger.Error().
			Err(err).
			Str(log.FieldEvent, "session.caption.failed").
			Str(log.FieldRequestID, f.RequestID).
			Msg("caption generation failed")
		caption = ""
	}

	env := reply(f.Action, f.RequestID)
	env["caption"] = caption
	s.send(env)
}

// handleThumbnail renders a preview clip inline. The target video id comes
// from the frame's video_id, falling back to a synthetic thumbnail id, and
// the reply key follows whichever shape the client sent.
func (s *Session) handleThumbnail(ctx context.Context, f *Frame) {
	title, description, prefix, opts := f.generation()
	if title == "" {
		s.send(errorReply(f.Action, f.RequestID, "Missing title for thumbnail generation"))
		return
	}

	opts.VideoID = f.ClipID
	if opts.VideoID == "" {
		opts.VideoID = "thumbnail-" + f.RequestID
	}

	s.logger.Info().
		Str(log.FieldEvent, "session.thumbnail.start").
		Str(log.FieldVideoID, opts.VideoID).
		Str(log.FieldRequestID, f.RequestID).
		Msg("generating thumbnail")

	thumbnail, err := s.video.GenerateThumbnail(ctx, videogen.GenerateInput{
		Title:        title,
		Description:  description,
		PromptPrefix: prefix,
		Options:      opts,
	}, s.role)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.send(errorReply(f.Action, f.RequestID, "Thumbnail generation failed: "+err.Error()))
		return
	}

	env := reply(f.Action, f.RequestID)
	if f.wantsLegacyKey() {
		env["thumbnailUrl"] = thumbnail
	} else {
		env["thumbnail"] = thumbnail
	}
	s.send(env)
}

// handleDeprecatedThumbnail redirects the retired thumbnail actions to the
// current handler with the preview defaults those clients assumed. The
// reply carries the current action name, as it always has.
func (s *Session) handleDeprecatedThumbnail(ctx context.Context, f *Frame) {
	title, description, _, _ := f.generation()
	if title == "" || description == "" {
		s.send(errorReply(f.Action, f.RequestID, "Missing title or description"))
		return
	}

	s.logger.Warn().
		Str(log.FieldEvent, "session.thumbnail.deprecated").
		Str(log.FieldAction, f.Action).
		Msg("deprecated thumbnail action redirected")

	width, height := 512, 288
	redirect := &Frame{
		Action:      ActionGenerateVideoThumbnail,
		RequestID:   f.RequestID,
		Title:       title,
		Description: description,
		Options:     &videogen.GenerateOptions{Width: &width, Height: &height},
	}
	s.handleThumbnail(ctx, redirect)
}
