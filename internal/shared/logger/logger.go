package logger

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"maps"
	"os"
	"slices"
	"time"

	"github.com/lmittmann/tint"

	sharedErrors "github.com/willagc/dn42-peering/internal/shared/errors"
)

// Logger is a slog.Logger that knows about run context and domain errors.
type Logger struct {
	*slog.Logger
}

// LogLevel is a level name as written in configuration.
type LogLevel string

const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

// OutputFormat selects the handler.
type OutputFormat string

const (
	FormatJSON OutputFormat = "json"
	FormatText OutputFormat = "text"
)

// LoggerConfig configures New.
type LoggerConfig struct {
	Level   LogLevel
	Format  OutputFormat // anything but FormatText logs JSON
	NoColor bool

	// Output defaults to stderr so rendered documents on stdout stay clean.
	Output io.Writer
}

// New creates a logger. Unknown levels fall back to info.
func New(cfg LoggerConfig) *Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	level := cfg.Level.slogLevel()

	var handler slog.Handler
	if cfg.Format == FormatText {
		handler = tint.NewHandler(out, &tint.Options{
			Level:      level,
			TimeFormat: time.DateTime,
			NoColor:    cfg.NoColor,
		})
	} else {
		handler = slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level})
	}
	return &Logger{Logger: slog.New(handler)}
}

// NewNop returns a logger that discards everything.
func NewNop() *Logger {
	return New(LoggerConfig{Level: LevelError, Output: io.Discard})
}

func (lvl LogLevel) slogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(lvl)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// With returns a logger that adds args to every record.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// WithComponent tags records with the emitting part of the generator.
func (l *Logger) WithComponent(name string) *Logger {
	return l.With(slog.String("component", name))
}

type ctxKey int

const (
	runIDKey ctxKey = iota
	operationKey
	peerKey
)

var ctxAttrNames = [...]string{
	runIDKey:     "run_id",
	operationKey: "operation",
	peerKey:      "peer",
}

// WithRunID tags ctx with the id of the current generation run.
func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runIDKey, id)
}

// WithPeer tags ctx with the descriptor being worked on.
func WithPeer(ctx context.Context, source string) context.Context {
	return context.WithValue(ctx, peerKey, source)
}

func withOperation(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, operationKey, name)
}

// WithContext returns a logger carrying the run id, operation and peer
// stored in ctx.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	var args []any
	for key, name := range ctxAttrNames {
		if v, ok := ctx.Value(ctxKey(key)).(string); ok && v != "" {
			args = append(args, slog.String(name, v))
		}
	}
	if len(args) == 0 {
		return l
	}
	return l.With(args...)
}

// ErrorCtx logs err at error level. A failed stage and the domain, code and
// metadata of a domain error become attributes.
func (l *Logger) ErrorCtx(ctx context.Context, msg string, err error, args ...any) {
	attrs := []any{slog.String("error", err.Error())}

	var stageErr *sharedErrors.StageError
	if errors.As(err, &stageErr) {
		attrs = append(attrs, slog.String("stage", stageErr.Stage))
	}

	if domainErr, ok := sharedErrors.AsDomainError(err); ok {
		attrs = append(attrs,
			slog.String("error_domain", domainErr.Domain()),
			slog.String("error_code", domainErr.Code()),
		)
		meta := domainErr.Metadata()
		for _, k := range slices.Sorted(maps.Keys(meta)) {
			attrs = append(attrs, slog.Any(k, meta[k]))
		}
	}

	l.WithContext(ctx).Error(msg, append(attrs, args...)...)
}
