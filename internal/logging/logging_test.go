package logging

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestNewWritesJSONWithService(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New("api", "debug", "json", &buf)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	logger.Info().Str("key", "a.png").Msg("stored")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log line is not json: %v (%s)", err, buf.String())
	}
	if entry["service"] != "api" || entry["key"] != "a.png" || entry["message"] != "stored" {
		t.Fatalf("unexpected entry %v", entry)
	}
}

func TestNewFiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New("worker", "warn", "json", &buf)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	logger.Info().Msg("hidden")
	AsynqLogger{Logger: logger}.Info("also hidden")
	if buf.Len() != 0 {
		t.Fatalf("expected no output, got %s", buf.String())
	}
	AsynqLogger{Logger: logger}.Warn("shown ", 1)
	if !bytes.Contains(buf.Bytes(), []byte("shown 1")) {
		t.Fatalf("expected warn line, got %s", buf.String())
	}
}

func TestNewRejectsUnknownSettings(t *testing.T) {
	if _, err := New("api", "loud", "json", nil); err == nil {
		t.Fatal("expected error for unknown level")
	}
	if _, err := New("api", "info", "xml", nil); err == nil {
		t.Fatal("expected error for unknown format")
	}
}
