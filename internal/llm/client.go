// SPDX-License-Identifier: MIT

// Package llm talks to the hosted text-generation service and turns its
// output into the structured pieces the rest of the daemon needs: search
// stubs, captions and evolving scene descriptions.
package llm

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

	"github.com/rs/zerolog"

	"github.com/clipmux/clipmux/internal/log"
)

const (
	defaultBaseURL = "https://api-inference.huggingface.co"
	clientTimeout  = 30 * time.Second
)

// ErrEmptyCompletion is returned when the provider answered 200 with no
// usable text.
var ErrEmptyCompletion = errors.New("llm: empty completion")

// APIError is a non-200 answer from the provider, kept structured so the
// task-mismatch fallback can inspect the provider's own message.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("llm: provider returned %d: %s", e.Status, e.Message)
}

// Options configures a Client.
type Options struct {
	// BaseURL is the inference router root (default: the hosted HF router).
	BaseURL string
	// Token authenticates requests; sent as a bearer header when non-empty.
	Token string
	// Model is the default text model for requests that do not override it.
	Model string
	// HTTPClient overrides the underlying client, used by tests.
	HTTPClient *http.Client
}

// GenOptions tune a single generation call.
type GenOptions struct {
	// Model overrides the client default for this call only.
	Model string
	// MaxNewTokens bounds the completion length.
	MaxNewTokens int
	// Temperature controls sampling randomness.
	Temperature float64
}

// Client generates text via the provider's chat-completions API, falling
// back to the legacy text-generation API for models that only serve that
// task.
type Client struct {
	baseURL string
	token   string
	model   string
	client  *http.Client
	logger  zerolog.Logger
}

// NewClient builds a Client from opts, applying defaults for unset fields.
func NewClient(opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = defaultBaseURL
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: clientTimeout}
	}
	return &Client{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		token:   opts.Token,
		model:   opts.Model,
		client:  opts.HTTPClient,
		logger:  log.WithComponent("llm"),
	}
}

type chatCompletionRequest struct {
	Model       string        `json:"model,omitempty"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

type textGenerationRequest struct {
	Inputs     string                   `json:"inputs"`
	Parameters textGenerationParameters `json:"parameters"`
}

type textGenerationParameters struct {
	MaxNewTokens   int     `json:"max_new_tokens,omitempty"`
	Temperature    float64 `json:"temperature,omitempty"`
	ReturnFullText bool    `json:"return_full_text"`
}

type textGenerationResponse []struct {
	GeneratedText string `json:"generated_text"`
}

// GenerateText sends prompt to the provider and returns the completion. The
// chat-completions API is tried first; when the model rejects the task the
// legacy text-generation API is used instead.
func (c *Client) GenerateText(ctx context.Context, prompt string, opts GenOptions) (string, error) {
	model := opts.Model
	if model == "" {
		model = c.model
	}

	text, err := c.chatCompletion(ctx, model, prompt, opts)
	if err == nil {
		return text, nil
	}
	if !isTaskMismatch(err) {
		return "", err
	}

	c.logger.Debug().
		Err(err).
		Str("model", model).
		Str(log.FieldEvent, "llm.fallback.text_generation").
		Msg("chat completion unsupported, using text generation")

	return c.textGeneration(ctx, model, prompt, opts)
}

// isTaskMismatch reports whether the provider rejected the chat-completions
// task for this model, in which case the legacy API is worth trying.
func isTaskMismatch(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	msg := strings.ToLower(apiErr.Message)
	return strings.Contains(msg, "not supported for task") ||
		strings.Contains(msg, "conversational") ||
		strings.Contains(msg, "chat")
}

func (c *Client) chatCompletion(ctx context.Context, model, prompt string, opts GenOptions) (string, error) {
	body := chatCompletionRequest{
		Model:       model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		MaxTokens:   opts.MaxNewTokens,
		Temperature: opts.Temperature,
	}

	url := c.baseURL + "/models/" + model + "/v1/chat/completions"
	raw, err := c.post(ctx, url, body)
	if err != nil {
		return "", err
	}

	var completion chatCompletionResponse
	if err := json.Unmarshal(raw, &completion); err != nil {
		return "", fmt.Errorf("llm: decode chat completion: %w", err)
	}
	if len(completion.Choices) == 0 || completion.Choices[0].Message.Content == "" {
		return "", ErrEmptyCompletion
	}
	return completion.Choices[0].Message.Content, nil
}

func (c *Client) textGeneration(ctx context.Context, model, prompt string, opts GenOptions) (string, error) {
	body := textGenerationRequest{
		Inputs: prompt,
		Parameters: textGenerationParameters{
			MaxNewTokens:   opts.MaxNewTokens,
			Temperature:    opts.Temperature,
			ReturnFullText: false,
		},
	}

	url := c.baseURL + "/models/" + model
	raw, err := c.post(ctx, url, body)
	if err != nil {
		return "", err
	}

	var generated textGenerationResponse
	if err := json.Unmarshal(raw, &generated); err != nil {
		return "", fmt.Errorf("llm: decode text generation: %w", err)
	}
	if len(generated) == 0 || generated[0].GeneratedText == "" {
		return "", ErrEmptyCompletion
	}
	return generated[0].GeneratedText, nil
}

// post performs one JSON round-trip. Non-200 responses become errors that
// carry the provider's message so callers can classify them.
func (c *Client) post(ctx context.Context, url string, body any) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("llm: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("llm: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("llm: request failed: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("llm: read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{Status: resp.StatusCode, Message: providerMessage(raw)}
	}
	return raw, nil
}

// providerMessage extracts the error message from a provider failure body,
// falling back to the raw body when it is not the usual JSON shape.
func providerMessage(raw []byte) string {
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &body); err == nil && body.Error != "" {
		return body.Error
	}
	const max = 200
	s := string(raw)
	if len(s) > max {
		s = s[:max]
	}
	return s
}
