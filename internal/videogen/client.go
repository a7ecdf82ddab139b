// SPDX-License-Identifier: MIT

// Package videogen renders clips and thumbnails on the leased upstream
// workers and keeps a per-video trail of generation activity.
package videogen

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/clipmux/clipmux/internal/log"
	"github.com/clipmux/clipmux/internal/pool"
)

var generationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "clipmux",
	Name:      "generation_duration_seconds",
	Help:      "Upstream render time per request kind and outcome",
	Buckets:   []float64{0.5, 1, 2, 3, 5, 8, 12, 20},
}, []string{"kind", "outcome"})

const (
	// generateTimeout bounds one upstream render. Workers that have not
	// answered by then are almost always wedged.
	generateTimeout = 12 * time.Second

	// maxResponseBytes caps the response body. Data URIs for full clips
	// run to a few MiB; anything past this is garbage.
	maxResponseBytes = 32 << 20
)

var (
	// ErrGenerationFailed is returned when the worker answered but did not
	// produce a video.
	ErrGenerationFailed = errors.New("videogen: generation failed")

	// ErrTimeout is returned when the worker did not answer within the
	// render deadline.
	ErrTimeout = errors.New("videogen: generation timed out")
)

// Request carries the full parameter set for one render.
type Request struct {
	Prompt         string
	NegativePrompt string
	Width          int
	Height         int
	NumFrames      int
	InferenceSteps int
	GuidanceScale  float64
	Seed           uint32
	FPS            int

	// Thumbnail attaches the thumbnail metadata block so workers can
	// deprioritize these renders.
	Thumbnail bool
	// RequestID correlates worker-side traces with our logs.
	RequestID string
}

type workerRequest struct {
	Inputs     workerInputs     `json:"inputs"`
	Parameters workerParameters `json:"parameters"`
	Metadata   *workerMetadata  `json:"metadata,omitempty"`
}

type workerInputs struct {
	Prompt string `json:"prompt"`
}

type workerParameters struct {
	NegativePrompt    string  `json:"negative_prompt"`
	Width             int     `json:"width"`
	Height            int     `json:"height"`
	NumFrames         int     `json:"num_frames"`
	NumInferenceSteps int     `json:"num_inference_steps"`
	GuidanceScale     float64 `json:"guidance_scale"`
	Seed              uint32  `json:"seed"`
	DoubleNumFrames   bool    `json:"double_num_frames"`
	FPS               int     `json:"fps"`
	SuperResolution   bool    `json:"super_resolution"`
	GrainAmount       int     `json:"grain_amount"`
}

type workerMetadata struct {
	IsThumbnail      bool   `json:"is_thumbnail"`
	ThumbnailVersion string `json:"thumbnail_version"`
	RequestID        string `json:"request_id"`
}

type workerResponse struct {
	Video string `json:"video"`
	Error string `json:"error"`
}

// ClientOptions configures a Client.
type ClientOptions struct {
	// Token authenticates against the workers; sent as a bearer header.
	Token string
	// HTTPClient overrides the underlying client, used by tests.
	HTTPClient *http.Client
	// Logger overrides the default component logger.
	Logger *zerolog.Logger
}

// Client speaks the worker render protocol over one leased endpoint at a
// time and feeds the outcome back into the lease so the pool's backoff
// stays honest.
type Client struct {
	token  string
	client *http.Client
	logger zerolog.Logger
}

// NewClient builds a Client from opts.
func NewClient(opts ClientOptions) *Client {
	if opts.HTTPClient == nil {
		// The render deadline is enforced per call; the client itself
		// stays unbounded so the context is the single authority.
		opts.HTTPClient = &http.Client{}
	}
	logger := log.WithComponent("videogen")
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	return &Client{
		token:  opts.Token,
		client: opts.HTTPClient,
		logger: logger,
	}
}

// Generate renders one clip on the leased endpoint and reports the outcome
// to the lease. Paused workers yield ("", nil) so callers degrade without
// surfacing an error to the user; cancellation of ctx is passed through
// without punishing the endpoint.
func (c *Client) Generate(ctx context.Context, lease *pool.Lease, req Request) (string, error) {
	payload := workerRequest{
		Inputs: workerInputs{Prompt: req.Prompt},
		Parameters: workerParameters{
			NegativePrompt:    req.NegativePrompt,
			Width:             req.Width,
			Height:            req.Height,
			NumFrames:         req.NumFrames,
			NumInferenceSteps: req.InferenceSteps,
			GuidanceScale:     req.GuidanceScale,
			Seed:              req.Seed,
			DoubleNumFrames:   false,
			FPS:               req.FPS,
			SuperResolution:   false,
			GrainAmount:       0,
		},
	}
	if req.Thumbnail {
		payload.Metadata = &workerMetadata{
			IsThumbnail:      true,
			ThumbnailVersion: "1.0",
			RequestID:        req.RequestID,
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("videogen: encode request: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, generateTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(callCtx, http.MethodPost, lease.URL(), bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("videogen: build request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}
	httpReq.Header.Set("X-Request-ID", req.RequestID)

	start := time.Now()
	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", c.transportFailure(lease, req, err, time.Since(start))
	}
	defer resp.Body.Close() //nolint:errcheck

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", c.transportFailure(lease, req, err, time.Since(start))
	}
	elapsed := time.Since(start)

	if resp.StatusCode != http.StatusOK {
		lease.ReportFailure(false)
		if isPaused(string(raw)) {
			c.observe(req, "paused", elapsed)
			c.logPaused(lease, req, resp.StatusCode)
			return "", nil
		}
		c.observe(req, "failed", elapsed)
		return "", fmt.Errorf("%w: HTTP %d from endpoint %d: %s",
			ErrGenerationFailed, resp.StatusCode, lease.EndpointID(), snippet(raw))
	}

	var result workerResponse
	if err := json.Unmarshal(raw, &result); err != nil {
		lease.ReportFailure(false)
		c.observe(req, "failed", elapsed)
		return "", fmt.Errorf("%w: undecodable response from endpoint %d: %v",
			ErrGenerationFailed, lease.EndpointID(), err)
	}

	if result.Error != "" {
		lease.ReportFailure(false)
		if isPaused(result.Error) {
			c.observe(req, "paused", elapsed)
			c.logPaused(lease, req, resp.StatusCode)
			return "", nil
		}
		c.observe(req, "failed", elapsed)
		return "", fmt.Errorf("%w: %s", ErrGenerationFailed, result.Error)
	}

	if result.Video == "" {
		lease.ReportFailure(false)
		c.observe(req, "failed", elapsed)
		return "", fmt.Errorf("%w: no video data in response", ErrGenerationFailed)
	}

	lease.ReportSuccess()
	c.observe(req, "success", elapsed)
	c.logger.Debug().
		Str(log.FieldRequestID, req.RequestID).
		Int(log.FieldEndpointID, lease.EndpointID()).
		Dur("elapsed", elapsed).
		Int("bytes", len(result.Video)).
		Str(log.FieldEvent, "videogen.render.ok").
		Msg("render finished")
	return result.Video, nil
}

// transportFailure classifies a failed round-trip. Render deadlines mark
// the endpoint with the doubled timeout backoff; caller cancellation leaves
// the endpoint's record untouched.
func (c *Client) transportFailure(lease *pool.Lease, req Request, err error, elapsed time.Duration) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		lease.ReportFailure(true)
		c.observe(req, "timeout", elapsed)
		c.logger.Warn().
			Str(log.FieldRequestID, req.RequestID).
			Int(log.FieldEndpointID, lease.EndpointID()).
			Dur("elapsed", elapsed).
			Str(log.FieldEvent, "videogen.render.timeout").
			Msg("worker did not answer within the render deadline")
		return fmt.Errorf("%w: endpoint %d after %s", ErrTimeout, lease.EndpointID(), elapsed.Round(time.Millisecond))
	case errors.Is(err, context.Canceled):
		return err
	default:
		lease.ReportFailure(false)
		c.observe(req, "failed", elapsed)
		return fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}
}

func (c *Client) observe(req Request, outcome string, elapsed time.Duration) {
	kind := "clip"
	if req.Thumbnail {
		kind = "thumbnail"
	}
	generationDuration.WithLabelValues(kind, outcome).Observe(elapsed.Seconds())
}

func (c *Client) logPaused(lease *pool.Lease, req Request, status int) {
	c.logger.Warn().
		Str(log.FieldRequestID, req.RequestID).
		Int(log.FieldEndpointID, lease.EndpointID()).
		Int("status", status).
		Str(log.FieldEvent, "videogen.render.paused").
		Msg("endpoint reports itself paused")
}

// isPaused matches the advisory message scaled-to-zero workers return.
func isPaused(s string) bool {
	return strings.Contains(strings.ToLower(s), "paused")
}

// snippet truncates a response body for error messages.
func snippet(raw []byte) string {
	const max = 200
	s := string(raw)
	if len(s) > max {
		s = s[:max]
	}
	return s
}
