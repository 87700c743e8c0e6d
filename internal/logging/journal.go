package logging

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/coreos/go-systemd/v22/journal"
)

const syslogIdentifier = "hdmistream"

// JournalHandler is a slog.Handler that forwards records to systemd-journald.
type JournalHandler struct {
	level *slog.LevelVar
	attrs []slog.Attr
}

// NewJournalHandler creates a journald handler.
func NewJournalHandler(level *slog.LevelVar) *JournalHandler {
	return &JournalHandler{level: level}
}

// Enabled implements slog.Handler.
func (h *JournalHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

// Handle implements slog.Handler.
func (h *JournalHandler) Handle(_ context.Context, r slog.Record) error {
	priority := levelPriority(r.Level)
	fields := map[string]string{
		"SYSLOG_IDENTIFIER": syslogIdentifier,
	}
	for _, a := range h.attrs {
		addField(fields, a)
	}
	r.Attrs(func(a slog.Attr) bool {
		addField(fields, a)
		return true
	})
	return journal.Send(r.Message, priority, fields)
}

// WithAttrs implements slog.Handler.
func (h *JournalHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &JournalHandler{level: h.level, attrs: merged}
}

// WithGroup implements slog.Handler.
func (h *JournalHandler) WithGroup(string) slog.Handler { return h }

func addField(fields map[string]string, a slog.Attr) {
	if a.Equal(slog.Attr{}) {
		return
	}
	key := strings.ToUpper(strings.ReplaceAll(a.Key, "-", "_"))
	fields[key] = fmt.Sprint(a.Value.Any())
}

func levelPriority(level slog.Level) journal.Priority {
	switch {
	case level >= slog.LevelError:
		return journal.PriErr
	case level >= slog.LevelWarn:
		return journal.PriWarning
	case level >= slog.LevelInfo:
		return journal.PriInfo
	default:
		return journal.PriDebug
	}
}

func journalAvailable() bool {
	return journal.Enabled()
}
