package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("Failed to unmarshal log entry %q: %v", buf.String(), err)
	}
	return entry
}

func TestLogger_Levels(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	logger.Debug("debug message")
	if buf.Len() > 0 {
		t.Error("Debug message should not be logged at Info level")
	}

	logger.Infof("hello %s", "world")
	entry := decodeLine(t, &buf)
	if entry["level"] != "INFO" {
		t.Errorf("Expected level INFO, got %v", entry["level"])
	}
	if entry["msg"] != "hello world" {
		t.Errorf("Expected message 'hello world', got %v", entry["msg"])
	}
}

func TestLogger_SetLevelReachesDerivedLoggers(t *testing.T) {
	var buf bytes.Buffer
	root := NewLogger(WarnLevel, &buf)
	child := root.WithField("component", "rbac")

	child.Info("hidden")
	if buf.Len() > 0 {
		t.Fatal("Info should not be logged at Warn level")
	}

	root.SetLevel(DebugLevel)
	if child.Level() != DebugLevel {
		t.Errorf("Expected child level DEBUG, got %s", child.Level())
	}
	child.Debug("visible")
	entry := decodeLine(t, &buf)
	if entry["msg"] != "visible" || entry["component"] != "rbac" {
		t.Errorf("Unexpected entry: %v", entry)
	}
}

func TestLogger_WithFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(DebugLevel, &buf).
		WithField("component", "membership").
		WithFields(map[string]interface{}{"community_id": "c1"})

	logger.Debug("added")
	entry := decodeLine(t, &buf)
	if entry["component"] != "membership" || entry["community_id"] != "c1" {
		t.Errorf("Expected fields to be carried, got %v", entry)
	}
}

func TestLogger_WithNilError(t *testing.T) {
	logger := NewLogger(InfoLevel, &bytes.Buffer{})
	if logger.WithError(nil) != logger {
		t.Error("WithError(nil) should return the same logger")
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]LogLevel{
		"debug":   DebugLevel,
		"WARN":    WarnLevel,
		"warning": WarnLevel,
		"error":   ErrorLevel,
		"":        InfoLevel,
		"bogus":   InfoLevel,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestFromContext(t *testing.T) {
	var buf bytes.Buffer
	ctx := WithLogger(context.Background(), NewLogger(InfoLevel, &buf))
	ctx = WithRequestID(ctx, "req-1")
	ctx = WithTenantID(ctx, "tenant-1")
	ctx = WithUserID(ctx, "user-1")

	FromContext(ctx).Info("scoped")
	entry := decodeLine(t, &buf)
	for key, want := range map[string]string{
		"request_id": "req-1",
		"tenant_id":  "tenant-1",
		"user_id":    "user-1",
	} {
		if entry[key] != want {
			t.Errorf("Expected %s=%s, got %v", key, want, entry[key])
		}
	}
}
