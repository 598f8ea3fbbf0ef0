package logging

import (
	"io"
	"log"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// FileOptions configures an optional rotating log file written alongside
// stdout. An empty Path disables the file sink.
type FileOptions struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// Output returns the writer log lines are sent to and a closer for the file
// sink, if any.
func Output(opts FileOptions) (io.Writer, io.Closer) {
	path := strings.TrimSpace(opts.Path)
	if path == "" {
		return os.Stdout, nopCloser{}
	}
	file := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAgeDays,
		Compress:   opts.Compress,
	}
	return io.MultiWriter(os.Stdout, file), file
}

// ParseLevel maps a configuration string onto a slog level. Unknown values
// fall back to info.
func ParseLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New builds a JSON logger writing to w. Every line carries the service name
// and, when provided, the environment.
func New(w io.Writer, service, env string, level slog.Level) *slog.Logger {
	return slog.New(newHandler(w, level)).With(baseArgs(service, env)...)
}

// Setup configures the process-wide logger to emit structured JSON on stdout
// and bridges the standard library logger onto it.
func Setup(service, env, level string) *slog.Logger {
	return SetupTo(os.Stdout, service, env, level)
}

// SetupTo is Setup with an explicit destination.
func SetupTo(w io.Writer, service, env, level string) *slog.Logger {
	handler := newHandler(w, ParseLevel(level))
	args := baseArgs(service, env)
	base := slog.New(handler).With(args...)
	slog.SetDefault(base)

	attrs := make([]slog.Attr, 0, len(args))
	for _, arg := range args {
		attrs = append(attrs, arg.(slog.Attr))
	}
	stdBridge := slog.NewLogLogger(handler.WithAttrs(attrs), slog.LevelInfo)
	stdBridge.SetFlags(0)
	log.SetOutput(stdBridge.Writer())
	log.SetFlags(0)
	log.SetPrefix("")

	return base
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func newHandler(w io.Writer, level slog.Level) slog.Handler {
	return slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, attr slog.Attr) slog.Attr {
			switch attr.Key {
			case slog.TimeKey:
				return slog.Attr{Key: "timestamp", Value: attr.Value}
			case slog.LevelKey:
				return slog.String("severity", strings.ToUpper(attr.Value.String()))
			case slog.MessageKey:
				return slog.Attr{Key: "message", Value: attr.Value}
			}
			return attr
		},
	})
}

func baseArgs(service, env string) []any {
	args := []any{slog.String("service", strings.TrimSpace(service))}
	if env = strings.TrimSpace(env); env != "" {
		args = append(args, slog.String("env", env))
	}
	return args
}
