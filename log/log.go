// Package log is the logging surface of the workflow state components.
// Components take a Logger and scope it with Component; the default for a
// component built without one is Discard.
package log

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
)

// Logger is the structured logging interface accepted across the module.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)

	// With returns a Logger that adds args to every record.
	With(args ...any) Logger
}

// Level is a minimum severity. LevelNone disables output entirely.
type Level int

const (
	LevelDebug Level = Level(slog.LevelDebug)
	LevelInfo  Level = Level(slog.LevelInfo)
	LevelWarn  Level = Level(slog.LevelWarn)
	LevelError Level = Level(slog.LevelError)
	LevelNone  Level = 1 << 10
)

// ParseLevel maps a configured level name to a Level. The empty string is
// LevelWarn.
func ParseLevel(name string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return LevelDebug, nil
	case "info":
		return LevelInfo, nil
	case "", "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	case "none", "off":
		return LevelNone, nil
	}
	return LevelWarn, fmt.Errorf("unknown log level %q", name)
}

func (l Level) String() string {
	if l == LevelNone {
		return "none"
	}
	return strings.ToLower(slog.Level(l).String())
}

// Output formats.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// Options configures New.
type Options struct {
	Level  Level
	Format string    // FormatText (default) or FormatJSON
	Writer io.Writer // Defaults to stderr; stdout is left to command output

	// Source adds the calling file and line to each record.
	Source bool
}

// New builds a Logger. Text output is colored only when the writer is a
// terminal.
func New(opts Options) Logger {
	if opts.Level == LevelNone {
		return Discard
	}
	w := opts.Writer
	if w == nil {
		w = os.Stderr
	}
	var handler slog.Handler
	switch opts.Format {
	case FormatJSON:
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{
			Level:     slog.Level(opts.Level),
			AddSource: opts.Source,
		})
	default:
		noColor := true
		if f, ok := w.(*os.File); ok {
			noColor = !isatty.IsTerminal(f.Fd())
		}
		handler = tint.NewHandler(w, &tint.Options{
			Level:      slog.Level(opts.Level),
			AddSource:  opts.Source,
			NoColor:    noColor,
			TimeFormat: time.Kitchen,
		})
	}
	return &slogLogger{logger: slog.New(handler)}
}

// Component scopes logger to a named component. A nil logger yields
// Discard.
func Component(logger Logger, name string) Logger {
	if logger == nil {
		return Discard
	}
	return logger.With("component", name)
}

type slogLogger struct {
	logger *slog.Logger
}

func (l *slogLogger) Debug(msg string, args ...any) { l.log(slog.LevelDebug, msg, args) }
func (l *slogLogger) Info(msg string, args ...any)  { l.log(slog.LevelInfo, msg, args) }
func (l *slogLogger) Warn(msg string, args ...any)  { l.log(slog.LevelWarn, msg, args) }
func (l *slogLogger) Error(msg string, args ...any) { l.log(slog.LevelError, msg, args) }

// log records the caller of the level method rather than this wrapper.
func (l *slogLogger) log(level slog.Level, msg string, args []any) {
	ctx := context.Background()
	if !l.logger.Enabled(ctx, level) {
		return
	}
	var pcs [1]uintptr
	runtime.Callers(3, pcs[:]) // skip Callers, log and the level method
	r := slog.NewRecord(time.Now(), level, msg, pcs[0])
	r.Add(args...)
	_ = l.logger.Handler().Handle(ctx, r)
}

func (l *slogLogger) With(args ...any) Logger {
	return &slogLogger{logger: l.logger.With(args...)}
}

// Discard drops every record.
var Discard Logger = discard{}

type discard struct{}

func (discard) Debug(string, ...any) {}
func (discard) Info(string, ...any)  {}
func (discard) Warn(string, ...any)  {}
func (discard) Error(string, ...any) {}
func (d discard) With(...any) Logger { return d }
