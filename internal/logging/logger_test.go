package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name string
		want zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"info", zerolog.InfoLevel},
		{"warn", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"fatal", zerolog.FatalLevel},
		{"disabled", zerolog.Disabled},
		{"", zerolog.InfoLevel},
		{"verbose", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		if got := ParseLevel(tt.name); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: "info", Format: "json", Output: &buf})

	logger.WithComponent("analyzer").WithField("lines", 42).Info().Msg("run complete")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log output is not JSON: %v (%q)", err, buf.String())
	}
	if entry["component"] != "analyzer" {
		t.Errorf("component = %v, want analyzer", entry["component"])
	}
	if entry["lines"] != float64(42) {
		t.Errorf("lines = %v, want 42", entry["lines"])
	}
	if entry["message"] != "run complete" {
		t.Errorf("message = %v", entry["message"])
	}
}

func TestNew_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: "warn", Format: "json", Output: &buf})

	logger.Info().Msg("hidden")
	logger.Warn().Msg("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("info message logged at warn level")
	}
	if !strings.Contains(out, "shown") {
		t.Error("warn message missing")
	}
}

func TestNew_Console(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: "debug", Format: "console", Output: &buf, NoColor: true})

	logger.Debug().Str("source", "auth.log").Msg("opened input")

	out := buf.String()
	if !strings.Contains(out, "opened input") || !strings.Contains(out, "source=auth.log") {
		t.Errorf("unexpected console output: %q", out)
	}
}

func TestNop(t *testing.T) {
	// must not panic
	Nop().Error().Msg("discarded")
}
