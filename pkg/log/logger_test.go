package log

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func newTestLogger(buf *bytes.Buffer) *Logger {
	l := New("test")
	l.SetWriter(buf)
	l.SetColorize(false)
	return l
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(&buf)
	l.SetLevel(WARN)

	l.Debug("debug message")
	l.Info("info message")
	l.Warn("warn message")
	l.Error("error message")

	out := buf.String()
	if strings.Contains(out, "debug message") || strings.Contains(out, "info message") {
		t.Errorf("messages below WARN were emitted: %q", out)
	}
	if !strings.Contains(out, "warn message") || !strings.Contains(out, "error message") {
		t.Errorf("WARN/ERROR messages missing: %q", out)
	}
}

func TestTextFields(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(&buf)

	l.WithFields(Fields{"voltage": 7.4, "state": "superposition"}).Info("telemetry")

	out := buf.String()
	if !strings.Contains(out, "state=superposition") {
		t.Errorf("field missing from output: %q", out)
	}
	if !strings.Contains(out, "[INFO ]") {
		t.Errorf("level tag missing: %q", out)
	}
}

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(&buf)
	l.SetFormat(FormatJSON)

	l.WithField("seq", 42).Warn("collapse skipped")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not valid JSON: %v (%q)", err, buf.String())
	}
	if entry["level"] != "WARN" {
		t.Errorf("level = %v, want WARN", entry["level"])
	}
	if entry["message"] != "collapse skipped" {
		t.Errorf("message = %v", entry["message"])
	}
	fields, ok := entry["fields"].(map[string]interface{})
	if !ok || fields["seq"] != float64(42) {
		t.Errorf("fields = %v", entry["fields"])
	}
}

func TestWithPrefix(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(&buf)

	l.WithPrefix("engine").Info("tick")
	if !strings.Contains(buf.String(), "engine: tick") {
		t.Errorf("prefix not applied: %q", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]LogLevel{
		"debug":   DEBUG,
		"INFO":    INFO,
		"Warning": WARN,
		"error":   ERROR,
		"bogus":   INFO,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
