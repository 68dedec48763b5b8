package telemetry

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestSlogHandlerWritesText(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewSlogHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	logger.Info("upgrade:started", slog.Int("bytes", 512))

	out := buf.String()
	if !strings.Contains(out, "upgrade:started") {
		t.Fatalf("expected message in output, got %q", out)
	}
	if !strings.Contains(out, "bytes=512") {
		t.Fatalf("expected attr in output, got %q", out)
	}
}

func TestSlogHandlerRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewSlogHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))

	logger.Debug("should not appear")
	logger.Warn("should appear")

	out := buf.String()
	if strings.Contains(out, "should not appear") {
		t.Fatalf("debug record leaked through: %q", out)
	}
	if !strings.Contains(out, "should appear") {
		t.Fatalf("warn record missing: %q", out)
	}
}

func TestSlogHandlerWithGroupPrefixesNestedAttrs(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewSlogHandler(&buf, nil)).WithGroup("bootctl")

	logger.Info("verify:ok", slog.String("stage", "signature"))

	out := buf.String()
	if !strings.Contains(out, "bootctl.stage=signature") {
		t.Fatalf("expected grouped attr, got %q", out)
	}
}
