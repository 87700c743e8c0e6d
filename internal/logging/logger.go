package logging

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"sync"
)

const bufferSize = 500

var (
	mu            sync.RWMutex
	moduleLoggers = make(map[string]*slog.Logger)
	moduleLevels  = make(map[string]*slog.LevelVar)
	globalLevel   = &slog.LevelVar{}
	globalConfig  Config
	initialized   bool
	buffer        *RingBuffer
)

// Config controls log output for the whole process.
type Config struct {
	Level   string            `toml:"level"`
	Format  string            `toml:"format"`
	Modules map[string]string `toml:"modules"`
}

// Initialize sets up the logging system. Loggers created before Initialize
// are rebuilt so they pick up the ring buffer and journald handlers.
func Initialize(cfg Config) {
	mu.Lock()
	defer mu.Unlock()

	globalConfig = cfg
	initialized = true
	buffer = NewRingBuffer(bufferSize)

	globalLevel.Set(parseLevel(cfg.Level, slog.LevelInfo))

	for module, lv := range moduleLevels {
		lv.Set(moduleLevel(cfg, module))
		moduleLoggers[module] = slog.New(buildHandler(cfg.Format, lv)).With("module", module)
	}

	slog.SetDefault(slog.New(buildHandler(cfg.Format, globalLevel)))
}

// GetLogger returns the logger for a module, creating it on first use.
func GetLogger(module string) *slog.Logger {
	mu.RLock()
	if logger, ok := moduleLoggers[module]; ok {
		mu.RUnlock()
		return logger
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if logger, ok := moduleLoggers[module]; ok {
		return logger
	}

	lv := &slog.LevelVar{}
	if initialized {
		lv.Set(moduleLevel(globalConfig, module))
	} else {
		lv.Set(slog.LevelInfo)
	}
	moduleLevels[module] = lv

	logger := slog.New(buildHandler(globalConfig.Format, lv)).With("module", module)
	moduleLoggers[module] = logger
	return logger
}

// GetBuffer returns the ring buffer of recent log entries, or nil before
// Initialize has run.
func GetBuffer() *RingBuffer {
	mu.RLock()
	defer mu.RUnlock()
	return buffer
}

func moduleLevel(cfg Config, module string) slog.Level {
	fallback := parseLevel(cfg.Level, slog.LevelInfo)
	if s, ok := cfg.Modules[module]; ok {
		return parseLevel(s, fallback)
	}
	return fallback
}

func parseLevel(s string, fallback slog.Level) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return fallback
	}
}

// buildHandler assembles the handler chain: stdout (text or json), the ring
// buffer when available, and journald when running under systemd.
func buildHandler(format string, level *slog.LevelVar) slog.Handler {
	var stdout slog.Handler
	opts := &slog.HandlerOptions{Level: level}
	if format == "json" {
		stdout = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		stdout = slog.NewTextHandler(os.Stdout, opts)
	}

	handlers := []slog.Handler{stdout}
	if buffer != nil {
		handlers = append(handlers, NewBufferHandler(buffer, level))
	}
	if journalAvailable() {
		handlers = append(handlers, NewJournalHandler(level))
	}
	if len(handlers) == 1 {
		return stdout
	}
	return fanout(handlers)
}

// fanout duplicates every record to each sink. A record is cloned per sink
// because slog.Record is single-consumer.
type fanout []slog.Handler

func (f fanout) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f fanout) Handle(ctx context.Context, r slog.Record) error {
	for _, h := range f {
		if h.Enabled(ctx, r.Level) {
			_ = h.Handle(ctx, r.Clone())
		}
	}
	return nil
}

func (f fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make(fanout, len(f))
	for i, h := range f {
		next[i] = h.WithAttrs(attrs)
	}
	return next
}

func (f fanout) WithGroup(name string) slog.Handler {
	next := make(fanout, len(f))
	for i, h := range f {
		next[i] = h.WithGroup(name)
	}
	return next
}
