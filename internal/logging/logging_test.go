package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestNewWithWriterJSONFormat(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "info", "json")
	logger.Info("startup", "component", "app")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("expected a JSON record, got %q: %v", buf.String(), err)
	}
	if record["msg"] != "startup" {
		t.Errorf("msg = %v, want startup", record["msg"])
	}
	if record["component"] != "app" {
		t.Errorf("component = %v, want app", record["component"])
	}
}

func TestNewWithWriterTextIsDefault(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "info", "not-a-format")
	logger.Info("startup")

	out := buf.String()
	if strings.HasPrefix(strings.TrimSpace(out), "{") {
		t.Errorf("expected text output for unknown format, got %q", out)
	}
	if !strings.Contains(out, "msg=startup") {
		t.Errorf("output %q missing msg=startup", out)
	}
}

func TestNewWithWriterLevelFilter(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "warn", "text")

	logger.Info("quiet")
	if buf.Len() != 0 {
		t.Fatalf("info record leaked through warn level: %q", buf.String())
	}
	logger.Warn("loud")
	if !strings.Contains(buf.String(), "msg=loud") {
		t.Errorf("warn record missing: %q", buf.String())
	}
}
