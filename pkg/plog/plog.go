package plog

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Level is the severity of a log record.
type Level = slog.Level

// LevelNotice sits between DEBUG and INFO and is used for per-item progress
// lines that are too chatty for INFO but useful when watching a sync.
const (
	LevelDebug  Level = slog.LevelDebug
	LevelNotice Level = slog.LevelInfo - 2
	LevelInfo   Level = slog.LevelInfo
	LevelWarn   Level = slog.LevelWarn
	LevelError  Level = slog.LevelError
)

var levelNames = map[Level]string{
	LevelDebug:  "DEBUG",
	LevelNotice: "NOTICE",
	LevelInfo:   "INFO",
	LevelWarn:   "WARN",
	LevelError:  "ERROR",
}

// LevelDispatchHandler is a slog.Handler that writes log records to different
// handlers based on the record's level. INFO and below go to one handler,
// while WARNING and above go to another. When a file handler is attached,
// every enabled record is also written there.
type LevelDispatchHandler struct {
	stdoutHandler slog.Handler
	stderrHandler slog.Handler
	fileHandler   slog.Handler
}

// Enabled checks if the level is enabled for either of the underlying handlers.
func (h *LevelDispatchHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.stdoutHandler.Enabled(ctx, level) || h.stderrHandler.Enabled(ctx, level)
}

// Handle dispatches the record to the appropriate handler.
func (h *LevelDispatchHandler) Handle(ctx context.Context, r slog.Record) error {
	if h.fileHandler != nil && h.fileHandler.Enabled(ctx, r.Level) {
		// A broken log file must not hide the console output.
		_ = h.fileHandler.Handle(ctx, r.Clone())
	}
	if r.Level >= slog.LevelWarn {
		return h.stderrHandler.Handle(ctx, r)
	}
	return h.stdoutHandler.Handle(ctx, r)
}

// WithAttrs returns a new LevelDispatchHandler with the given attributes added.
func (h *LevelDispatchHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	n := &LevelDispatchHandler{
		stdoutHandler: h.stdoutHandler.WithAttrs(attrs),
		stderrHandler: h.stderrHandler.WithAttrs(attrs),
	}
	if h.fileHandler != nil {
		n.fileHandler = h.fileHandler.WithAttrs(attrs)
	}
	return n
}

// WithGroup returns a new LevelDispatchHandler with the given group.
func (h *LevelDispatchHandler) WithGroup(name string) slog.Handler {
	n := &LevelDispatchHandler{
		stdoutHandler: h.stdoutHandler.WithGroup(name),
		stderrHandler: h.stderrHandler.WithGroup(name),
	}
	if h.fileHandler != nil {
		n.fileHandler = h.fileHandler.WithGroup(name)
	}
	return n
}

var (
	mu            sync.RWMutex
	defaultLogger *slog.Logger
	level         = new(slog.LevelVar)
	logFile       io.WriteCloser
)

// replaceLevelName renders the custom NOTICE level by name instead of "DEBUG+2".
func replaceLevelName(_ []string, a slog.Attr) slog.Attr {
	if a.Key != slog.LevelKey {
		return a
	}
	if lvl, ok := a.Value.Any().(slog.Level); ok {
		if name, ok := levelNames[lvl]; ok {
			a.Value = slog.StringValue(name)
		}
	}
	return a
}

func newConsoleHandler(fileHandler slog.Handler) slog.Handler {
	return &LevelDispatchHandler{
		stdoutHandler: slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level, ReplaceAttr: replaceLevelName}),
		stderrHandler: slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level, ReplaceAttr: replaceLevelName}),
		fileHandler:   fileHandler,
	}
}

func init() {
	level.Set(LevelInfo)
	defaultLogger = slog.New(newConsoleHandler(nil))
}

func logger() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return defaultLogger
}

// Default returns the process-wide logger.
func Default() *slog.Logger { return logger() }

// SetOutput allows redirecting the logger's output, primarily for testing.
// All levels are written to w.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	defaultLogger = slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level, ReplaceAttr: replaceLevelName}))
}

// SetLevel sets the minimum level that is logged.
func SetLevel(l Level) {
	level.Set(l)
}

// LevelFromString maps a config value such as "debug" or "warn" to a Level.
// Unknown values fall back to INFO.
func LevelFromString(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "notice":
		return LevelNotice
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// IsValidLevel reports whether s names a known level.
func IsValidLevel(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug", "notice", "info", "warn", "warning", "error":
		return true
	}
	return false
}

// EnableFileLogging tees all records into a size-rotated log file in
// addition to the console. Calling it again replaces the previous file.
func EnableFileLogging(path string, maxSizeMB, maxBackups int) error {
	if path == "" {
		return fmt.Errorf("log file path must not be empty")
	}
	lj := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSizeMB,
		MaxBackups: maxBackups,
		Compress:   true,
	}
	fileHandler := slog.NewTextHandler(lj, &slog.HandlerOptions{Level: level, ReplaceAttr: replaceLevelName})

	mu.Lock()
	defer mu.Unlock()
	if logFile != nil {
		logFile.Close()
	}
	logFile = lj
	defaultLogger = slog.New(newConsoleHandler(fileHandler))
	return nil
}

// CloseFileLogging detaches and closes the log file, if any.
func CloseFileLogging() error {
	mu.Lock()
	defer mu.Unlock()
	if logFile == nil {
		return nil
	}
	err := logFile.Close()
	logFile = nil
	defaultLogger = slog.New(newConsoleHandler(nil))
	return err
}

// Debug logs a debug message.
func Debug(msg string, args ...any) {
	logger().Debug(msg, args...)
}

// Notice logs a per-item progress message.
func Notice(msg string, args ...any) {
	logger().Log(context.Background(), LevelNotice, msg, args...)
}

// Info logs an informational message.
func Info(msg string, args ...any) {
	logger().Info(msg, args...)
}

// Warn logs a warning message.
func Warn(msg string, args ...any) {
	logger().Warn(msg, args...)
}

// Error logs an error message.
func Error(msg string, args ...any) {
	logger().Error(msg, args...)
}
