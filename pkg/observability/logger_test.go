package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
)

type logLine map[string]any

func decodeLine(t *testing.T, buf *bytes.Buffer) logLine {
	t.Helper()
	var line logLine
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("Failed to unmarshal log line %q: %v", buf.String(), err)
	}
	return line
}

func TestLogger_Levels(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	t.Run("debug suppressed at info level", func(t *testing.T) {
		buf.Reset()
		logger.Debug("debug message")
		if buf.Len() > 0 {
			t.Error("Debug message should not be logged at Info level")
		}
	})

	t.Run("info emitted", func(t *testing.T) {
		buf.Reset()
		logger.Infof("appended %d entries", 3)
		line := decodeLine(t, &buf)
		if line["level"] != "INFO" {
			t.Errorf("Expected level INFO, got %v", line["level"])
		}
		if line["msg"] != "appended 3 entries" {
			t.Errorf("Unexpected message %v", line["msg"])
		}
	})
}

func TestParseLogLevel(t *testing.T) {
	tests := map[string]LogLevel{
		"debug":   DebugLevel,
		"INFO":    InfoLevel,
		"warning": WarnLevel,
		"error":   ErrorLevel,
		"bogus":   InfoLevel,
	}
	for input, want := range tests {
		if got := ParseLogLevel(input); got != want {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", input, got, want)
		}
	}
}

func TestLogger_Fields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(DebugLevel, &buf)

	logger.WithField("task_id", 7).
		WithFields(map[string]any{"operation": "STATUS_CHANGE"}).
		WithError(errors.New("boom")).
		Warn("append failed")

	line := decodeLine(t, &buf)
	if line["task_id"] != float64(7) {
		t.Errorf("Expected task_id 7, got %v", line["task_id"])
	}
	if line["operation"] != "STATUS_CHANGE" {
		t.Errorf("Expected operation field, got %v", line["operation"])
	}
	if line["error"] != "boom" {
		t.Errorf("Expected error field, got %v", line["error"])
	}
}

func TestFromContext(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	ctx := WithLogger(context.Background(), logger)
	ctx = WithRequestID(ctx, "req-1")
	ctx = WithActorID(ctx, 42)

	FromContext(ctx).Info("hello")

	line := decodeLine(t, &buf)
	if line["request_id"] != "req-1" {
		t.Errorf("Expected request_id req-1, got %v", line["request_id"])
	}
	if line["actor_id"] != float64(42) {
		t.Errorf("Expected actor_id 42, got %v", line["actor_id"])
	}
}

func TestContextGettersOnEmptyContext(t *testing.T) {
	ctx := context.Background()
	if GetRequestID(ctx) != "" {
		t.Error("Expected empty request ID")
	}
	if _, ok := GetActorID(ctx); ok {
		t.Error("Expected no actor ID")
	}
	if GetLogger(ctx) == nil {
		t.Error("Expected default logger")
	}
}
