// Package qlog provides the structured logging handler used by the query
// engine's executor: a compact, single-line "LEVEL MESSAGE
// key=value" text layout, namespaced for this module so library users who
// embed gocbanalytics in a larger program don't collide with its root
// logger configuration.
package qlog

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"
)

// TextHandler extends the standard slog.TextHandler with compact,
// single-line output: a right-padded level and message prefix, followed by
// the structured key=value attributes, with the default time/level/message
// attributes suppressed from that trailing attribute list.
type TextHandler struct {
	*slog.TextHandler
	mu sync.Mutex
	w  io.Writer
}

// NewTextHandler builds a TextHandler writing to w at the given options.
func NewTextHandler(w io.Writer, opts *slog.HandlerOptions) *TextHandler {
	if opts == nil {
		opts = &slog.HandlerOptions{}
	}

	opts.ReplaceAttr = func(groups []string, a slog.Attr) slog.Attr {
		if a.Key == slog.TimeKey || a.Key == slog.LevelKey || a.Key == slog.MessageKey {
			return slog.Attr{}
		}

		return a
	}

	return &TextHandler{
		TextHandler: slog.NewTextHandler(w, opts),
		w:           w,
	}
}

func (h *TextHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.TextHandler.Enabled(ctx, level)
}

func (h *TextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &TextHandler{TextHandler: h.TextHandler.WithAttrs(attrs).(*slog.TextHandler), w: h.w}
}

func (h *TextHandler) WithGroup(name string) slog.Handler {
	return &TextHandler{TextHandler: h.TextHandler.WithGroup(name).(*slog.TextHandler), w: h.w}
}

func (h *TextHandler) Handle(ctx context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	prefix := fmt.Sprintf("%-5s %s ", r.Level.String(), r.Message)
	if _, err := h.w.Write([]byte(prefix)); err != nil {
		return err
	}

	return h.TextHandler.Handle(ctx, r)
}

// NewFromEnv builds a *slog.Logger from the GOCBANALYTICS_DEBUG
// environment variable: any of "1", "true", "yes" (case-insensitive)
// enables slog.LevelDebug on this handler; otherwise nil is returned so
// callers fall back to their own default logger.
func NewFromEnv(lookup func(string) (string, bool), w io.Writer) *slog.Logger {
	val, ok := lookup("GOCBANALYTICS_DEBUG")
	if !ok {
		return nil
	}

	debugValues := []string{"1", "true", "yes"}
	if slices.Contains(debugValues, strings.ToLower(val)) {
		return slog.New(NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}

	return nil
}
