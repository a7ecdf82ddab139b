// SPDX-License-Identifier: MIT

package videogen

import (
	"context"
	"fmt"
	"math/rand"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clipmux/clipmux/internal/config"
	"github.com/clipmux/clipmux/internal/identity"
	"github.com/clipmux/clipmux/internal/log"
	"github.com/clipmux/clipmux/internal/pool"
)

const (
	// positivePromptSuffix is appended to every render prompt.
	positivePromptSuffix = "high quality, cinematic, 4K, intricate details"

	// defaultNegativePrompt steers renders away from the usual diffusion
	// artifacts when the caller supplies none.
	defaultNegativePrompt = "low quality, worst quality, deformed, distorted, disfigured, blurry, text, watermark"

	defaultGuidanceScale = 1.0

	// defaultClipSeed keeps successive clips of one stream visually
	// consistent unless the caller asks for variety.
	defaultClipSeed = 42

	thumbnailWidth     = 512
	thumbnailHeight    = 288
	thumbnailFrames    = 65
	thumbnailSteps     = 4
	thumbnailFrameRate = 25
)

// Orientation values recognized in render options. Anything else leaves
// the dimensions as resolved.
const (
	orientationPortrait  = "PORTRAIT"
	orientationLandscape = "LANDSCAPE"
)

// Generator renders one clip on a leased endpoint.
type Generator interface {
	Generate(ctx context.Context, lease *pool.Lease, req Request) (string, error)
}

// GenerateOptions is the per-request options object from the wire. Pointer
// fields distinguish "absent" from zero so role defaults apply only when
// the caller stayed silent.
type GenerateOptions struct {
	VideoID        string   `json:"video_id,omitempty"`
	Seed           *uint32  `json:"seed,omitempty"`
	Orientation    string   `json:"orientation,omitempty"`
	Width          *int     `json:"width,omitempty"`
	Height         *int     `json:"height,omitempty"`
	NumFrames      *int     `json:"num_frames,omitempty"`
	InferenceSteps *int     `json:"num_inference_steps,omitempty"`
	ClipFramerate  *int     `json:"clip_framerate,omitempty"`
	FrameRate      *int     `json:"frame_rate,omitempty"`
	NegativePrompt string   `json:"negative_prompt,omitempty"`
	GuidanceScale  *float64 `json:"guidance_scale,omitempty"`
}

// GenerateInput is the caller-facing description of what to render.
type GenerateInput struct {
	Title        string
	Description  string
	PromptPrefix string
	Options      GenerateOptions
}

// ServiceOptions configures a Service.
type ServiceOptions struct {
	Pool      *pool.Pool
	Generator Generator
	// History receives generation events; a fresh one is created when nil.
	History *History
	// Logger overrides the default component logger.
	Logger *zerolog.Logger
}

// Service turns render requests into clamped worker calls: it resolves the
// role envelope, builds the prompt, leases an endpoint and records the
// attempt in the video's event history.
type Service struct {
	pool    *pool.Pool
	gen     Generator
	history *History
	logger  zerolog.Logger
}

// NewService builds a Service from opts.
func NewService(opts ServiceOptions) *Service {
	if opts.History == nil {
		opts.History = NewHistory(nil)
	}
	logger := log.WithComponent("videogen")
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	return &Service{
		pool:    opts.Pool,
		gen:     opts.Generator,
		history: opts.History,
		logger:  logger,
	}
}

// History exposes the event trail for the status payloads.
func (s *Service) History() *History {
	return s.history
}

// RecordChatMessage notes a chat message in the video's event trail.
func (s *Service) RecordChatMessage(videoID, username, content string) {
	if username == "" {
		username = "Anonymous"
	}
	s.history.Record(videoID, Event{
		Kind:     EventNewChatMessage,
		Username: username,
		Data:     content,
	})
}

// GenerateVideo renders one full clip. Parameters outside the role envelope
// are clamped, never rejected; the video id defaults to a fresh uuid.
func (s *Service) GenerateVideo(ctx context.Context, in GenerateInput, role identity.Role) (string, error) {
	opts := in.Options
	videoID := opts.VideoID
	if videoID == "" {
		videoID = uuid.NewString()
	}

	caption := fmt.Sprintf("%s - %s - %s", in.PromptPrefix, strings.TrimSpace(in.Title), strings.TrimSpace(in.Description))
	s.history.Record(videoID, Event{
		Kind:    EventNewStreamClip,
		Caption: caption,
	})

	limits := config.LimitsFor(role)
	width := limits.ClipWidth.Resolve(intValue(opts.Width))
	height := limits.ClipHeight.Resolve(intValue(opts.Height))
	numFrames := limits.NumFrames.Resolve(intValue(opts.NumFrames))
	steps := limits.InferenceSteps.Resolve(intValue(opts.InferenceSteps))
	frameRate := limits.ClipFramerate.Resolve(intValue(opts.ClipFramerate))

	width, height = orient(opts.Orientation, width, height)

	seed := uint32(defaultClipSeed)
	if opts.Seed != nil {
		seed = *opts.Seed
	}

	req := Request{
		Prompt:         caption + ", " + positivePromptSuffix,
		NegativePrompt: negativePrompt(opts),
		Width:          width,
		Height:         height,
		NumFrames:      numFrames,
		InferenceSteps: steps,
		GuidanceScale:  guidanceScale(opts),
		Seed:           seed,
		FPS:            frameRate,
		RequestID:      shortRequestID(),
	}

	s.logger.Debug().
		Str(log.FieldVideoID, videoID).
		Str(log.FieldRequestID, req.RequestID).
		Str(log.FieldRole, string(role)).
		Int("width", width).
		Int("height", height).
		Int("num_frames", numFrames).
		Str(log.FieldEvent, "videogen.clip.start").
		Msg("rendering clip")

	return s.render(ctx, req)
}

// GenerateThumbnail renders a small preview clip. Thumbnails are best
// effort: when no endpoint is free right now, or the render fails, the
// result is an empty string rather than an error.
func (s *Service) GenerateThumbnail(ctx context.Context, in GenerateInput, role identity.Role) (string, error) {
	opts := in.Options
	videoID := opts.VideoID
	if videoID == "" {
		videoID = uuid.NewString()
	}
	requestID := shortRequestID()

	seed := randomSeed()
	if opts.Seed != nil {
		seed = *opts.Seed
	}

	caption := fmt.Sprintf("%s - %s", in.PromptPrefix, strings.TrimSpace(in.Title))
	s.history.Record(videoID, Event{
		Kind:      EventThumbnailGeneration,
		Caption:   caption,
		Seed:      seed,
		RequestID: requestID,
	})

	if s.pool.FreeCount() == 0 {
		s.logger.Warn().
			Str(log.FieldVideoID, videoID).
			Str(log.FieldRequestID, requestID).
			Str(log.FieldEvent, "videogen.thumbnail.skipped").
			Msg("no free endpoint, skipping thumbnail")
		return "", nil
	}

	req := Request{
		Prompt:         caption + ", " + positivePromptSuffix,
		NegativePrompt: negativePrompt(opts),
		Width:          intOrDefault(opts.Width, thumbnailWidth),
		Height:         intOrDefault(opts.Height, thumbnailHeight),
		NumFrames:      intOrDefault(opts.NumFrames, thumbnailFrames),
		InferenceSteps: intOrDefault(opts.InferenceSteps, thumbnailSteps),
		GuidanceScale:  guidanceScale(opts),
		Seed:           seed,
		FPS:            intOrDefault(opts.FrameRate, thumbnailFrameRate),
		Thumbnail:      true,
		RequestID:      requestID,
	}

	video, err := s.render(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		s.logger.Warn().
			Err(err).
			Str(log.FieldVideoID, videoID).
			Str(log.FieldRequestID, requestID).
			Str(log.FieldEvent, "videogen.thumbnail.failed").
			Msg("thumbnail render failed")
		return "", nil
	}
	return video, nil
}

// render leases an endpoint within the default wait budget and hands the
// request to the generator. The lease is always released.
func (s *Service) render(ctx context.Context, req Request) (string, error) {
	lease, err := s.pool.AcquireWithin(ctx, pool.DefaultMaxWait)
	if err != nil {
		return "", err
	}
	defer lease.Release()

	return s.gen.Generate(ctx, lease, req)
}

// orient swaps dimensions so the longer edge matches the requested
// orientation. Unknown orientations leave the dimensions alone.
func orient(orientation string, width, height int) (int, int) {
	if orientation == "" {
		orientation = orientationLandscape
	}
	switch {
	case orientation == orientationPortrait && width > height:
		return height, width
	case orientation == orientationLandscape && height > width:
		return height, width
	default:
		return width, height
	}
}

func negativePrompt(opts GenerateOptions) string {
	if opts.NegativePrompt != "" {
		return opts.NegativePrompt
	}
	return defaultNegativePrompt
}

func guidanceScale(opts GenerateOptions) float64 {
	if opts.GuidanceScale != nil {
		return *opts.GuidanceScale
	}
	return defaultGuidanceScale
}

// intValue unpacks an optional int into the (value, present) pair the role
// envelope resolver expects.
func intValue(v *int) (int, bool) {
	if v == nil {
		return 0, false
	}
	return *v, true
}

func intOrDefault(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}

// shortRequestID is the 8-char correlation id used in worker headers and
// logs. Full uuids are overkill for log grepping.
func shortRequestID() string {
	return uuid.NewString()[:8]
}

// randomSeed picks a random 32-bit seed for renders that want variety.
// #nosec G404 -- seeds steer diffusion output, not security decisions.
func randomSeed() uint32 {
	return rand.Uint32()
}
