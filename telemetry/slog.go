// Package telemetry provides the structured logging handler shared by the
// firmware entrypoint and the host CLI.
package telemetry

import (
	"context"
	"io"
	"log/slog"
)

// SlogHandler is a slog.Handler that writes text-formatted records to w and
// tags them with an optional group prefix, for targets where bringing in a
// larger structured-logging backend isn't worth the footprint.
type SlogHandler struct {
	textHandler slog.Handler
	level       slog.Leveler
	attrs       []slog.Attr
	group       string
}

// NewSlogHandler creates a handler writing to w (machine.Serial on the
// firmware target, os.Stderr on the host).
func NewSlogHandler(w io.Writer, opts *slog.HandlerOptions) *SlogHandler {
	if opts == nil {
		opts = &slog.HandlerOptions{}
	}
	return &SlogHandler{
		textHandler: slog.NewTextHandler(w, opts),
		level:       opts.Level,
	}
}

// Enabled reports whether the handler handles records at the given level.
func (h *SlogHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.textHandler.Enabled(ctx, level)
}

// Handle writes the record through the underlying text handler.
func (h *SlogHandler) Handle(ctx context.Context, r slog.Record) error {
	return h.textHandler.Handle(ctx, r)
}

// WithAttrs returns a new Handler with the given attributes added.
func (h *SlogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	copy(newAttrs[len(h.attrs):], attrs)

	return &SlogHandler{
		textHandler: h.textHandler.WithAttrs(attrs),
		level:       h.level,
		attrs:       newAttrs,
		group:       h.group,
	}
}

// WithGroup returns a new Handler with the given group name.
func (h *SlogHandler) WithGroup(name string) slog.Handler {
	newGroup := name
	if h.group != "" {
		newGroup = h.group + "." + name
	}

	return &SlogHandler{
		textHandler: h.textHandler.WithGroup(name),
		level:       h.level,
		attrs:       h.attrs,
		group:       newGroup,
	}
}
