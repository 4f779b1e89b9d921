package logger

import (
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"bogus", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestSimpleTextHandlerFormat(t *testing.T) {
	var buf strings.Builder
	inner := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})
	h := &simpleTextHandler{handler: inner, writer: &buf}
	buf.Reset()

	rec := slog.NewRecord(time.Time{}, slog.LevelInfo, "indexed file", 0)
	rec.AddAttrs(slog.String("file_id", "f1"), slog.Int("chunks", 3))
	if err := h.Handle(context.Background(), rec); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := buf.String()
	if !strings.HasPrefix(got, "INFO indexed file") {
		t.Errorf("unexpected prefix: %q", got)
	}
	if !strings.Contains(got, "file_id=f1") || !strings.Contains(got, "chunks=3") {
		t.Errorf("missing attrs: %q", got)
	}
}
