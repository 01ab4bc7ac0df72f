package method

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// ProtocolHandler is a slog.Handler that turns log records into 101 Log
// and 104 Warning protocol messages, so structured logging inside a
// method and the wire protocol are one stream.
type ProtocolHandler struct {
	m     *Method
	level slog.Level
	attrs []slog.Attr
}

var _ slog.Handler = (*ProtocolHandler)(nil)

// NewProtocolHandler builds a handler emitting through m at or above
// the given level.
func NewProtocolHandler(m *Method, level slog.Level) *ProtocolHandler {
	return &ProtocolHandler{m: m, level: level}
}

// Enabled implements slog.Handler.
func (h *ProtocolHandler) Enabled(_ context.Context, l slog.Level) bool {
	return l >= h.level
}

// Handle implements slog.Handler.
func (h *ProtocolHandler) Handle(_ context.Context, rec slog.Record) error {
	var b strings.Builder
	b.WriteString(rec.Message)
	emit := func(a slog.Attr) bool {
		fmt.Fprintf(&b, " %s=%v", a.Key, a.Value)
		return true
	}
	for _, a := range h.attrs {
		emit(a)
	}
	rec.Attrs(emit)
	if rec.Level >= slog.LevelWarn {
		h.m.Warning("%s", b.String())
	} else {
		h.m.Log("%s", b.String())
	}
	return nil
}

// WithAttrs implements slog.Handler.
func (h *ProtocolHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	n := *h
	n.attrs = append(append([]slog.Attr(nil), h.attrs...), attrs...)
	return &n
}

// WithGroup implements slog.Handler. Groups are ignored: attributes
// keep their bare keys on the protocol surface.
func (h *ProtocolHandler) WithGroup(string) slog.Handler { return h }
