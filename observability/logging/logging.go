package logging

import (
	"io"
	"log"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// FileConfig rotates log output to disk in addition to stdout.
type FileConfig struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

type options struct {
	level  slog.Level
	file   *FileConfig
	output io.Writer
}

// Option customises Setup.
type Option func(*options)

// WithLevel sets the minimum level. Unknown names fall back to info.
func WithLevel(level string) Option {
	return func(o *options) { o.level = ParseLevel(level) }
}

// WithFile tees output into a rotated file.
func WithFile(cfg FileConfig) Option {
	return func(o *options) {
		if strings.TrimSpace(cfg.Path) != "" {
			o.file = &cfg
		}
	}
}

// WithOutput replaces stdout. Used by tests.
func WithOutput(w io.Writer) Option {
	return func(o *options) {
		if w != nil {
			o.output = w
		}
	}
}

// ParseLevel maps debug/info/warn/error onto slog levels.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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

// Setup configures the standard library logger to emit structured JSON and returns
// the underlying slog.Logger for richer logging within the service. All log lines
// include the service name and environment when provided.
func Setup(service, env string, opts ...Option) *slog.Logger {
	cfg := options{level: slog.LevelInfo, output: os.Stdout}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	out := cfg.output
	if cfg.file != nil {
		out = io.MultiWriter(out, &lumberjack.Logger{
			Filename:   cfg.file.Path,
			MaxSize:    cfg.file.MaxSizeMB,
			MaxBackups: cfg.file.MaxBackups,
			MaxAge:     cfg.file.MaxAgeDays,
			Compress:   cfg.file.Compress,
		})
	}

	handler := slog.NewJSONHandler(out, &slog.HandlerOptions{
		Level: cfg.level,
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

	attrs := []slog.Attr{slog.String("service", strings.TrimSpace(service))}
	if env = strings.TrimSpace(env); env != "" {
		attrs = append(attrs, slog.String("env", env))
	}
	withArgs := make([]any, 0, len(attrs))
	for _, attr := range attrs {
		withArgs = append(withArgs, attr)
	}

	base := slog.New(handler).With(withArgs...)
	slog.SetDefault(base)

	// Bridge the standard library logger so existing packages continue to work.
	stdBridge := slog.NewLogLogger(handler.WithAttrs(attrs), slog.LevelInfo)
	stdBridge.SetFlags(0)
	log.SetOutput(stdBridge.Writer())
	log.SetFlags(0)
	log.SetPrefix("")

	return base
}
