package logging

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"":        slog.LevelInfo,
		"debug":   slog.LevelDebug,
		" INFO ":  slog.LevelInfo,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		if err != nil {
			t.Fatalf("ParseLevel(%q) returned error: %v", in, err)
		}
		if got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Fatalf("expected error for unknown level")
	}
}

func TestNewFiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, slog.LevelWarn)
	logger.Info("hidden")
	logger.Warn("shown", "version", 205)
	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info line leaked: %s", out)
	}
	if !strings.Contains(out, "shown") || !strings.Contains(out, "version=205") {
		t.Fatalf("warn line missing: %s", out)
	}
}

func TestDiscardDropsEverything(t *testing.T) {
	logger := Discard()
	if logger == nil {
		t.Fatalf("Discard returned nil")
	}
	logger.Error("dropped", "version", 205)
}

func TestOpenFileAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "bedtime.log")
	for _, msg := range []string{"first", "second"} {
		f, err := OpenFile(path, slog.LevelInfo)
		if err != nil {
			t.Fatalf("OpenFile: %v", err)
		}
		if f.Path() != path {
			t.Fatalf("expected path %s, got %s", path, f.Path())
		}
		f.Logger.Info(msg)
		if err := f.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "msg=first") || !strings.Contains(string(data), "msg=second") {
		t.Fatalf("expected both lines, got %s", data)
	}
}
