// Package obslog configures structured logging for the simulation core,
// following the filtering-handler idiom in the teacher's pkg/logger: in
// non-debug modes, log records originating outside this module are
// suppressed so a noisy dependency can't drown out simulation events.
package obslog

import (
	"context"
	"log/slog"
	"os"
	"runtime"
	"strings"
)

const modulePrefix = "github.com/emotionsim/engine"

// ParseLevel converts a CLI/config log-level string to a slog.Level.
// Unknown values fall back to warn, matching the teacher's conservative default.
func ParseLevel(levelStr string) (slog.Level, error) {
	switch strings.ToLower(levelStr) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelWarn, nil
	}
}

// filteringHandler suppresses third-party log records below debug level.
type filteringHandler struct {
	handler  slog.Handler
	minLevel slog.Level
}

func (h *filteringHandler) Enabled(ctx context.Context, level slog.Level) bool {
	if level < h.minLevel {
		return false
	}
	return h.handler.Enabled(ctx, level)
}

func (h *filteringHandler) Handle(ctx context.Context, record slog.Record) error {
	if h.minLevel <= slog.LevelDebug {
		return h.handler.Handle(ctx, record)
	}
	if h.isOwnPackage(record.PC) {
		return h.handler.Handle(ctx, record)
	}
	return nil
}

func (h *filteringHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &filteringHandler{handler: h.handler.WithAttrs(attrs), minLevel: h.minLevel}
}

func (h *filteringHandler) WithGroup(name string) slog.Handler {
	return &filteringHandler{handler: h.handler.WithGroup(name), minLevel: h.minLevel}
}

func (h *filteringHandler) isOwnPackage(pc uintptr) bool {
	if pc == 0 {
		return false
	}
	fn := runtime.FuncForPC(pc)
	if fn == nil {
		return false
	}
	fullName := fn.Name()
	file, _ := fn.FileLine(pc)
	return strings.Contains(fullName, modulePrefix) || strings.Contains(file, "/engine/")
}

// Options configures Init.
type Options struct {
	Level  slog.Level
	JSON   bool // JSON handler for production; text handler for local dev
	Writer *os.File
}

// Init builds and installs the process-wide default logger.
func Init(opts Options) *slog.Logger {
	w := opts.Writer
	if w == nil {
		w = os.Stderr
	}

	handlerOpts := &slog.HandlerOptions{Level: opts.Level}

	var base slog.Handler
	if opts.JSON {
		base = slog.NewJSONHandler(w, handlerOpts)
	} else {
		base = slog.NewTextHandler(w, handlerOpts)
	}

	logger := slog.New(&filteringHandler{handler: base, minLevel: opts.Level})
	slog.SetDefault(logger)
	return logger
}

// ForRun returns a logger tagged with the run's identifier, following the
// teacher's practice of attaching request-scoped attributes once per call
// site rather than threading context everywhere.
func ForRun(runID string) *slog.Logger {
	return slog.Default().With("run_id", runID)
}

// ForStep returns a logger tagged with run and step, used inside the tick loop.
func ForStep(runID string, step int) *slog.Logger {
	return slog.Default().With("run_id", runID, "step", step)
}
