package qlog

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestLoggerFormatsAttrs(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(slog.LevelInfo, &buf)

	l.With("job_id", "wi-1").Info("polled", "status", "inprogress")

	got := buf.String()
	if !strings.Contains(got, "polled job_id=wi-1, status=inprogress") {
		t.Fatalf("unexpected output %q", got)
	}
}

func TestLoggerRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(slog.LevelWarn, &buf)

	l.Info("hidden")
	l.Debug("hidden")
	if buf.Len() != 0 {
		t.Fatalf("expected no output, got %q", buf.String())
	}

	l.Warn("shown")
	if !strings.Contains(buf.String(), "shown") {
		t.Fatalf("expected warn line, got %q", buf.String())
	}
}

func TestFromContext(t *testing.T) {
	l := Discard()
	ctx := WithLogger(context.Background(), l)
	if FromContext(ctx) != l {
		t.Fatal("expected stored logger")
	}
	if FromContext(context.Background()) == nil {
		t.Fatal("expected default logger")
	}
}
