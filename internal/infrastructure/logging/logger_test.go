package logging

import (
	"log/slog"
	"testing"

	"github.com/ironvale/fleetcore/internal/infrastructure/config"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"ERROR", slog.LevelError},
		{"", slog.LevelInfo},
		{"nonsense", slog.LevelInfo},
	}

	for _, tt := range tests {
		if got := parseLevel(tt.input); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestNew(t *testing.T) {
	t.Run("creates logger with json format", func(t *testing.T) {
		log := New(config.LoggingConfig{Level: "debug", Format: "json", Output: "stdout"}, "test")
		if log == nil || log.Logger == nil {
			t.Fatal("New() returned nil logger")
		}
	})

	t.Run("creates logger with text format", func(t *testing.T) {
		log := New(config.LoggingConfig{Level: "info", Format: "text", Output: "stderr"}, "test")
		if log == nil || log.Logger == nil {
			t.Fatal("New() returned nil logger")
		}
	})
}

func TestWith(t *testing.T) {
	log := Default()
	child := log.With("component", "test")
	if child == nil || child.Logger == nil {
		t.Fatal("With() returned nil logger")
	}
	if child == log {
		t.Error("With() should return a new logger instance")
	}
}
