package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Level != LevelInfo {
		t.Errorf("Expected default level %s, got %s", LevelInfo, cfg.Level)
	}
	if cfg.Format != FormatText {
		t.Errorf("Expected default format %s, got %s", FormatText, cfg.Format)
	}
	if cfg.Output != "stderr" {
		t.Errorf("Expected default output 'stderr', got '%s'", cfg.Output)
	}
	if cfg.AddSource {
		t.Error("Expected AddSource to be false by default")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"bogus", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := ParseLevel(tt.input); got != tt.expected {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestNewWithWriter(t *testing.T) {
	t.Run("json output", func(t *testing.T) {
		var buf bytes.Buffer
		logger := NewWithWriter(Config{Level: LevelDebug, Format: FormatJSON}, &buf)

		logger.WithSession("abc").Info("scan started", "threads", 50)

		var entry map[string]any
		if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
			t.Fatalf("Expected JSON output, got %q: %v", buf.String(), err)
		}
		if entry["msg"] != "scan started" {
			t.Errorf("Expected msg 'scan started', got %v", entry["msg"])
		}
		if entry["session_id"] != "abc" {
			t.Errorf("Expected session_id 'abc', got %v", entry["session_id"])
		}
	})

	t.Run("level filtering", func(t *testing.T) {
		var buf bytes.Buffer
		logger := NewWithWriter(Config{Level: LevelWarn, Format: FormatText}, &buf)

		logger.Info("hidden")
		logger.Warn("shown")

		out := buf.String()
		if strings.Contains(out, "hidden") {
			t.Error("Info message should be filtered at warn level")
		}
		if !strings.Contains(out, "shown") {
			t.Error("Warn message should be written")
		}
	})
}

func TestNewFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "livescan.log")

	logger, err := New(Config{Level: LevelInfo, Format: FormatText, Output: path})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	logger.Info("written to file")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}
	if !strings.Contains(string(data), "written to file") {
		t.Errorf("Expected message in log file, got %q", string(data))
	}
}

func TestHelpers(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(Config{Level: LevelDebug, Format: FormatText}, &buf)

	logger.InfoProcess("spawned", 99)
	logger.WarnProcess("signal swallowed", 99, errors.New("esrch"))
	logger.ErrorSession("session failed", "s1", errors.New("boom"))
	logger.ErrorDatabase("insert failed", errors.New("down"))
	logger.WithComponent("reader").WithError(errors.New("x")).Info("closed", "pid", 7)

	out := buf.String()
	for _, want := range []string{
		"component=supervisor", "pid=99", "error=esrch",
		"session_id=s1", "component=database", "component=reader", "pid=7",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected %q in output:\n%s", want, out)
		}
	}
}

func TestDefaultLogger(t *testing.T) {
	original := Default()
	defer SetDefault(original)

	var buf bytes.Buffer
	SetDefault(NewWithWriter(Config{Level: LevelDebug, Format: FormatText}, &buf))

	Debug("d")
	Info("i")
	Warn("w")
	Error("e")
	InfoSession("started", "s2")

	out := buf.String()
	for _, want := range []string{"msg=d", "msg=i", "msg=w", "msg=e", "session_id=s2"} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected %q in output:\n%s", want, out)
		}
	}
}
