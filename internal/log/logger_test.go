// SPDX-License-Identifier: MIT

package log

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
)

// captureLogger swaps the package logger for one writing into a buffer so
// tests can inspect emitted fields. The original logger is restored on cleanup.
func captureLogger(t *testing.T) *bytes.Buffer {
	t.Helper()
	Configure(Config{})
	prev := base
	var buf bytes.Buffer
	base = zerolog.New(&buf)
	t.Cleanup(func() { base = prev })
	return &buf
}

func parseEntry(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse log output %q: %v", buf.String(), err)
	}
	return entry
}

func TestBase(t *testing.T) {
	baseLogger := Base()
	if baseLogger.GetLevel() > zerolog.PanicLevel {
		t.Error("expected valid base logger with reasonable log level")
	}
}

func TestWithComponent(t *testing.T) {
	buf := captureLogger(t)

	logger := WithComponent("pool")
	logger.Info().Msg("endpoint leased")

	entry := parseEntry(t, buf)
	if got, ok := entry["component"].(string); !ok || got != "pool" {
		t.Errorf("component = %v, want %q", entry["component"], "pool")
	}
	if got, ok := entry["message"].(string); !ok || got != "endpoint leased" {
		t.Errorf("message = %v, want %q", entry["message"], "endpoint leased")
	}
}

func TestDerive(t *testing.T) {
	t.Run("NilBuilder", func(t *testing.T) {
		logger := Derive(nil)
		if logger.GetLevel() > zerolog.PanicLevel {
			t.Error("expected valid logger from Derive with nil builder")
		}
	})

	t.Run("CustomFields", func(t *testing.T) {
		buf := captureLogger(t)

		logger := Derive(func(ctx *zerolog.Context) {
			*ctx = ctx.Str(FieldVideoID, "vid-42").Int(FieldSeed, 42)
		})
		logger.Info().Msg("generation started")

		entry := parseEntry(t, buf)
		if got, ok := entry[FieldVideoID].(string); !ok || got != "vid-42" {
			t.Errorf("video_id = %v, want %q", entry[FieldVideoID], "vid-42")
		}
		if got, ok := entry[FieldSeed].(float64); !ok || got != 42 {
			t.Errorf("seed = %v, want 42", entry[FieldSeed])
		}
	})
}

func TestConfigureIsIdempotent(t *testing.T) {
	Configure(Config{})
	first := Base()

	// A second Configure must not replace the already initialised logger.
	Configure(Config{Service: "other-service", Level: "trace"})
	second := Base()

	if first.GetLevel() != second.GetLevel() {
		t.Error("Configure reconfigured the logger on second call")
	}
}
