package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func lastEntry(t *testing.T, buf *bytes.Buffer) LogEntry {
	t.Helper()
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	var entry LogEntry
	if err := json.Unmarshal([]byte(lines[len(lines)-1]), &entry); err != nil {
		t.Fatalf("Failed to decode log line %q: %v", lines[len(lines)-1], err)
	}
	return entry
}

// TestInfoProducesJSONEntry tests the entry shape.
func TestInfoProducesJSONEntry(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, LevelDebug)

	logger.Info("sync round completed", map[string]interface{}{
		"device_id": "device-1",
		"pushed":    3,
	})

	entry := lastEntry(t, &buf)
	if entry.Level != "INFO" {
		t.Errorf("Expected INFO level, got %s", entry.Level)
	}
	if entry.Message != "sync round completed" {
		t.Errorf("Unexpected message: %s", entry.Message)
	}
	if entry.Context["device_id"] != "device-1" {
		t.Errorf("Expected device_id in context, got %v", entry.Context)
	}
	if entry.Timestamp == "" {
		t.Error("Expected a timestamp")
	}
}

// TestErrorIncludesErrorField tests error serialization.
func TestErrorIncludesErrorField(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, LevelDebug)

	logger.Error("push failed", errors.New("connection refused"))

	entry := lastEntry(t, &buf)
	if entry.Error != "connection refused" {
		t.Errorf("Expected the error string, got %q", entry.Error)
	}
}

// TestLevelFiltering tests that entries below the minimum level are dropped.
func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, LevelWarn)

	logger.Debug("dropped")
	logger.Info("also dropped")
	logger.Warn("kept")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("Expected exactly one line, got %d", len(lines))
	}
	if !strings.Contains(lines[0], "kept") {
		t.Errorf("Expected the warning to survive, got %q", lines[0])
	}
}

// TestContextMerging tests that multiple context maps merge into one.
func TestContextMerging(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, LevelDebug)

	logger.Info("merged",
		map[string]interface{}{"a": "1"},
		map[string]interface{}{"b": "2"},
	)

	entry := lastEntry(t, &buf)
	if entry.Context["a"] != "1" || entry.Context["b"] != "2" {
		t.Errorf("Expected both keys in context, got %v", entry.Context)
	}
}

// TestNoContextOmitsField tests that an entry without context has none.
func TestNoContextOmitsField(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, LevelDebug)

	logger.Info("bare")

	if strings.Contains(buf.String(), `"context"`) {
		t.Errorf("Expected context omitted, got %s", buf.String())
	}
}
