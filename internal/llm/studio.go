// SPDX-License-Identifier: MIT

package llm

import (
	"context"
	"fmt"
	"math/rand"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/clipmux/clipmux/internal/log"
)

const (
	searchMaxAttempts    = 2
	searchMaxNewTokens   = 200
	captionMaxNewTokens  = 180
	captionTemperature   = 0.7
	simulateMaxNewTokens = 240
	simulateTemperature  = 0.60
)

// placeholderPattern finds template tags like <LOCATION> the model was
// supposed to replace.
var placeholderPattern = regexp.MustCompile(`<[A-Z_]+>`)

// fallbackVideoTypes theme the stub returned when every search attempt fails.
var fallbackVideoTypes = []string{
	"documentary",
	"movie screencap, movie scene",
	"POV, gopro footage",
	"music video",
	"videogame gameplay",
	"creepy found footage",
}

// VideoStub is a search result: a virtual video that exists only as a title
// and description until clips are generated for it.
type VideoStub struct {
	ID           string   `json:"id"`
	Title        string   `json:"title"`
	Description  string   `json:"description"`
	ThumbnailURL string   `json:"thumbnailUrl"`
	VideoURL     string   `json:"videoUrl"`
	IsLatent     bool     `json:"isLatent"`
	UseFixedSeed bool     `json:"useFixedSeed"`
	Seed         uint32   `json:"seed"`
	Views        int      `json:"views"`
	Tags         []string `json:"tags"`
}

// SimulationInput carries everything a narrative evolution step needs.
type SimulationInput struct {
	OriginalTitle       string
	OriginalDescription string
	CurrentDescription  string
	CondensedHistory    string
	EvolutionCount      int
	ChatMessages        string
}

// Simulation is one evolution step. CondensedHistory passes through
// unchanged; clients maintain it.
type Simulation struct {
	EvolvedDescription string
	CondensedHistory   string
}

// TextGenerator is the single-call surface Studio needs from Client.
type TextGenerator interface {
	GenerateText(ctx context.Context, prompt string, opts GenOptions) (string, error)
}

// Studio orchestrates the model flows behind search, captioning and
// narrative simulation. All three degrade instead of failing hard: a caller
// always gets something usable to send to the client.
type Studio struct {
	gen    TextGenerator
	logger zerolog.Logger
}

// NewStudio builds a Studio on top of gen.
func NewStudio(gen TextGenerator) *Studio {
	return &Studio{
		gen:    gen,
		logger: log.WithComponent("llm"),
	}
}

// Search asks the model for a title and description matching query and
// wraps them in a fresh VideoStub. Unparseable output or leftover
// placeholder tags trigger a retry with a fresh temperature, up to two
// retries; the final attempt downgrades the description to the title, and
// total failure returns a themed stub built from the query itself.
func (s *Studio) Search(ctx context.Context, query string, attemptCount int) VideoStub {
	for attempt := attemptCount; attempt <= searchMaxAttempts; attempt++ {
		raw, err := s.gen.GenerateText(ctx, searchPrompt(query, attempt), GenOptions{
			MaxNewTokens: searchMaxNewTokens,
			Temperature:  searchTemperature(),
		})
		if err != nil {
			s.logger.Warn().
				Err(err).
				Int("attempt", attempt).
				Str(log.FieldEvent, "llm.search.failed").
				Msg("search generation failed")
			continue
		}

		var doc struct {
			Title       string `yaml:"title"`
			Description string `yaml:"description"`
		}
		sanitized := sanitizeYAMLResponse(strings.TrimSpace(raw))
		if err := yaml.Unmarshal([]byte(sanitized), &doc); err != nil {
			s.logger.Warn().
				Err(err).
				Int("attempt", attempt).
				Str(log.FieldEvent, "llm.search.unparseable").
				Msg("sanitized search response did not parse")
			continue
		}

		title := strings.TrimSpace(doc.Title)
		if title == "" {
			title = "Untitled Video"
		}
		description := strings.TrimSpace(doc.Description)
		if description == "" {
			description = "No description available"
		}

		if placeholderPattern.MatchString(description) {
			if attempt < searchMaxAttempts {
				continue
			}
			// Out of retries; the title is at least tag-free.
			description = title
		}

		return newStub(title, description)
	}

	return s.fallbackStub(query)
}

// fallbackStub themes a stub from the query when the model never produced a
// usable result.
func (s *Studio) fallbackStub(query string) VideoStub {
	videoType := fallbackVideoTypes[rand.Intn(len(fallbackVideoTypes))] // #nosec G404 -- content variety, not security sensitive
	s.logger.Warn().
		Str("query", query).
		Str("video_type", videoType).
		Str(log.FieldEvent, "llm.search.fallback").
		Msg("all search attempts failed, returning themed stub")
	return newStub(
		fmt.Sprintf("%s (%s)", query, videoType),
		fmt.Sprintf("%s, %s, engaging, detailed, dynamic, high quality, 4K, intricate details", videoType, query),
	)
}

func newStub(title, description string) VideoStub {
	return VideoStub{
		ID:           uuid.NewString(),
		Title:        title,
		Description:  description,
		IsLatent:     true,
		UseFixedSeed: strings.Contains(strings.ToLower(description), "webcam"),
		Seed:         randomSeed(),
		Tags:         []string{},
	}
}

// Caption expands a title and visual description into a story summary. The
// trailing chunk is dropped when the model stopped mid-sentence.
func (s *Studio) Caption(ctx context.Context, title, description string) (string, error) {
	response, err := s.gen.GenerateText(ctx, captionPrompt(title, description), GenOptions{
		MaxNewTokens: captionMaxNewTokens,
		Temperature:  captionTemperature,
	})
	if err != nil {
		return "", fmt.Errorf("caption generation: %w", err)
	}

	response = strings.ReplaceAll(response, "Caption: ", "")

	chunks := strings.Split(" "+response+" ", ". ")
	text := response
	if len(chunks) > 1 {
		text = strings.Join(chunks[:len(chunks)-1], ". ")
	}
	return strings.TrimSpace(text), nil
}

// Simulate evolves a video's description one scene forward. The first
// evolution (count zero or no history yet) uses the bootstrap prompt; later
// ones also feed the condensed history and the current scene. A failed or
// empty generation keeps the current description so the narrative never
// goes blank.
func (s *Studio) Simulate(ctx context.Context, in SimulationInput) Simulation {
	out := Simulation{
		EvolvedDescription: in.CurrentDescription,
		CondensedHistory:   in.CondensedHistory,
	}

	section := chatSection(in.ChatMessages)
	var prompt string
	if in.EvolutionCount == 0 || in.CondensedHistory == "" {
		prompt = simulateFirstPrompt(in.OriginalTitle, in.OriginalDescription, section)
	} else {
		prompt = simulateContinuePrompt(in.OriginalTitle, in.OriginalDescription, in.CondensedHistory, in.CurrentDescription, section)
	}

	response, err := s.gen.GenerateText(ctx, prompt, GenOptions{
		MaxNewTokens: simulateMaxNewTokens,
		Temperature:  simulateTemperature,
	})
	if err != nil {
		s.logger.Warn().
			Err(err).
			Str(log.FieldEvent, "llm.simulate.failed").
			Msg("simulation failed, keeping current description")
		return out
	}

	if evolved := strings.TrimSpace(response); evolved != "" {
		out.EvolvedDescription = evolved
	} else {
		s.logger.Warn().
			Str(log.FieldEvent, "llm.simulate.empty").
			Msg("empty simulation response, keeping current description")
	}
	return out
}

// searchTemperature jitters sampling so repeated searches for the same query
// diverge.
func searchTemperature() float64 {
	return 0.68 + rand.Float64()*0.04 // #nosec G404 -- sampling jitter, not security sensitive
}

// randomSeed picks a random 32-bit generation seed.
func randomSeed() uint32 {
	return rand.Uint32() // #nosec G404 -- generation seed, not security sensitive
}
