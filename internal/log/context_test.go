// SPDX-License-Identifier: MIT

package log

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
)

func TestContextWithRequestID(t *testing.T) {
	tests := []struct {
		name      string
		ctx       context.Context
		requestID string
		want      string
	}{
		{
			name:      "nil context",
			ctx:       nil,
			requestID: "test-id-123",
			want:      "test-id-123",
		},
		{
			name:      "background context",
			ctx:       context.Background(),
			requestID: "req-456",
			want:      "req-456",
		},
		{
			name:      "empty request ID",
			ctx:       context.Background(),
			requestID: "",
			want:      "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := ContextWithRequestID(tt.ctx, tt.requestID)
			got := RequestIDFromContext(ctx)
			if got != tt.want {
				t.Errorf("RequestIDFromContext() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestContextWithSessionID(t *testing.T) {
	tests := []struct {
		name      string
		ctx       context.Context
		sessionID string
		want      string
	}{
		{
			name:      "nil context",
			ctx:       nil,
			sessionID: "sess-123",
			want:      "sess-123",
		},
		{
			name:      "background context",
			ctx:       context.Background(),
			sessionID: "sess-456",
			want:      "sess-456",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := ContextWithSessionID(tt.ctx, tt.sessionID)
			got := SessionIDFromContext(ctx)
			if got != tt.want {
				t.Errorf("SessionIDFromContext() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRequestIDFromContextEmpty(t *testing.T) {
	tests := []struct {
		name string
		ctx  context.Context
		want string
	}{
		{
			name: "nil context",
			ctx:  nil,
			want: "",
		},
		{
			name: "context without request ID",
			ctx:  context.Background(),
			want: "",
		},
		{
			name: "context with wrong type",
			ctx:  context.WithValue(context.Background(), requestIDKey, 123),
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RequestIDFromContext(tt.ctx)
			if got != tt.want {
				t.Errorf("RequestIDFromContext() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestWithContext(t *testing.T) {
	buf := captureLogger(t)

	ctx := ContextWithRequestID(context.Background(), "req-123")
	ctx = ContextWithSessionID(ctx, "sess-789")

	logger := WithContext(ctx, Base())
	logger.Info().Msg("frame received")

	entry := parseEntry(t, buf)
	if got, ok := entry[FieldRequestID].(string); !ok || got != "req-123" {
		t.Errorf("request_id = %v, want %q", entry[FieldRequestID], "req-123")
	}
	if got, ok := entry[FieldSessionID].(string); !ok || got != "sess-789" {
		t.Errorf("session_id = %v, want %q", entry[FieldSessionID], "sess-789")
	}
}

func TestWithContextEmpty(t *testing.T) {
	parent := WithComponent("gateway")

	// An empty context must hand back the logger unchanged.
	logger := WithContext(context.Background(), parent)
	if logger.GetLevel() != parent.GetLevel() {
		t.Error("logger level should be preserved")
	}

	logger = WithContext(nil, parent) //nolint:staticcheck // nil context tolerated on purpose
	if logger.GetLevel() != parent.GetLevel() {
		t.Error("logger level should be preserved for nil context")
	}
}

func TestWithComponentFromContext(t *testing.T) {
	buf := captureLogger(t)

	ctx := ContextWithSessionID(context.Background(), "sess-42")
	logger := WithComponentFromContext(ctx, "session")
	logger.Info().Msg("worker started")

	entry := parseEntry(t, buf)
	if got, ok := entry[FieldComponent].(string); !ok || got != "session" {
		t.Errorf("component = %v, want %q", entry[FieldComponent], "session")
	}
	if got, ok := entry[FieldSessionID].(string); !ok || got != "sess-42" {
		t.Errorf("session_id = %v, want %q", entry[FieldSessionID], "sess-42")
	}
}

func TestFromContext(t *testing.T) {
	t.Run("NilContext", func(t *testing.T) {
		logger := FromContext(nil) //nolint:staticcheck // nil context tolerated on purpose
		if logger.GetLevel() > zerolog.PanicLevel {
			t.Error("expected valid logger for nil context")
		}
	})

	t.Run("ContextLogger", func(t *testing.T) {
		embedded := zerolog.New(nil).Level(zerolog.WarnLevel)
		ctx := embedded.WithContext(context.Background())

		logger := FromContext(ctx)
		if logger.GetLevel() != zerolog.WarnLevel {
			t.Errorf("level = %v, want %v", logger.GetLevel(), zerolog.WarnLevel)
		}
	})
}
