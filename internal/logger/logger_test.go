package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func decodeEntry(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected JSON log line: %v\nraw: %s", err, buf.String())
	}
	return entry
}

func TestNew_JSONFields(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, Options{Service: "clearbill"})

	l.Warn("invoice exported",
		slog.String("invoice_id", "inv-456"),
		slog.Int("http_status", 200),
	)

	entry := decodeEntry(t, &buf)
	want := map[string]any{
		"msg":         "invoice exported",
		"level":       "WARN",
		"service":     "clearbill",
		"invoice_id":  "inv-456",
		"http_status": float64(200),
	}
	for k, v := range want {
		if entry[k] != v {
			t.Errorf("%s = %v, want %v", k, entry[k], v)
		}
	}
	if _, ok := entry["time"]; !ok {
		t.Error("time field missing")
	}
}

func TestNew_NoServiceAttrByDefault(t *testing.T) {
	var buf bytes.Buffer
	New(&buf, Options{}).Info("hello")

	if _, ok := decodeEntry(t, &buf)["service"]; ok {
		t.Error("service attribute should be omitted when Service is empty")
	}
}

func TestNew_RedactsSensitiveAttrs(t *testing.T) {
	tests := []struct {
		name string
		attr slog.Attr
	}{
		{name: "session_id", attr: slog.String("session_id", "sess-secret")},
		{name: "大文字のキー", attr: slog.String("Authorization", "Bearer xyz")},
		{name: "csrf_token", attr: slog.String("csrf_token", "abc123")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			New(&buf, Options{}).Info("request", tt.attr, slog.String("user_id", "user-1"))

			entry := decodeEntry(t, &buf)
			if entry[tt.attr.Key] != redacted {
				t.Errorf("%s = %v, want %q", tt.attr.Key, entry[tt.attr.Key], redacted)
			}
			if entry["user_id"] != "user-1" {
				t.Errorf("user_id = %v, want %q", entry["user_id"], "user-1")
			}
		})
	}
}

func TestNew_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	New(&buf, Options{Format: "TEXT"}).Info("hello", slog.String("session_id", "sess-secret"))

	out := buf.String()
	if !strings.Contains(out, "hello") {
		t.Errorf("output %q does not contain message", out)
	}
	if strings.Contains(out, "sess-secret") {
		t.Errorf("text output leaked session id: %q", out)
	}
	if json.Valid(bytes.TrimSpace(buf.Bytes())) {
		t.Errorf("text format should not produce JSON: %q", out)
	}
}

func TestNew_LevelFiltersBelowThreshold(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, Options{Level: "warn"})

	l.Info("hidden")
	if buf.Len() != 0 {
		t.Errorf("info log should be suppressed at warn level, got %q", buf.String())
	}

	l.Warn("shown")
	if buf.Len() == 0 {
		t.Error("warn log should be written at warn level")
	}
}

func TestSetupDefault_SetsGlobalLogger(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	SetupDefault(&buf)
	slog.Info("global test", slog.String("test_key", "test_val"))

	entry := decodeEntry(t, &buf)
	if entry["msg"] != "global test" {
		t.Errorf("msg = %v, want %q", entry["msg"], "global test")
	}
	if entry["test_key"] != "test_val" {
		t.Errorf("test_key = %v, want %q", entry["test_key"], "test_val")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{" error ", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := ParseLevel(tt.in); got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}
