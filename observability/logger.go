package observability

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
)

// ParseLevel converts a level name to a slog.Level, defaulting to info.
func ParseLevel(value string) slog.Level {
	switch strings.ToLower(value) {
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

// NewLogger returns a tint-formatted slog.Logger writing to w. Colour is only
// used when w is a terminal.
func NewLogger(w io.Writer, level string) *slog.Logger {
	noColor := true
	if f, ok := w.(*os.File); ok {
		noColor = !isatty.IsTerminal(f.Fd())
	}
	return slog.New(tint.NewHandler(w, &tint.Options{
		Level:      ParseLevel(level),
		NoColor:    noColor,
		TimeFormat: time.Kitchen,
	}))
}

// LogHooks returns Hooks whose Logf writes to logger and whose lifecycle
// callbacks log at debug or warn level.
func LogHooks(logger *slog.Logger) Hooks {
	return Hooks{
		Logf: func(ctx context.Context, level string, msg string, fields map[string]any) {
			attrs := make([]any, 0, len(fields)*2)
			for k, v := range fields {
				attrs = append(attrs, k, v)
			}
			logger.Log(ctx, ParseLevel(level), msg, attrs...)
		},
		OnHistoryFetched: func(ctx context.Context, arn string, events int, latency time.Duration) {
			logger.DebugContext(ctx, "history fetched", "execution", arn, "events", events, "latency", latency)
		},
		OnResolved: func(ctx context.Context, arn string, resumeState string) {
			logger.InfoContext(ctx, "resume state resolved", "execution", arn, "resume_state", resumeState)
		},
		OnResolveError: func(ctx context.Context, arn string, err error) {
			logger.WarnContext(ctx, "resolve failed", "execution", arn, "error", err)
		},
		OnEnqueued: func(ctx context.Context, arn string, delaySeconds int) {
			logger.InfoContext(ctx, "resume enqueued", "execution", arn, "delay_seconds", delaySeconds)
		},
		OnResumed: func(ctx context.Context, arn string, err error) {
			if err != nil {
				logger.WarnContext(ctx, "resume start failed", "execution", arn, "error", err)
				return
			}
			logger.InfoContext(ctx, "resumed execution started", "execution", arn)
		},
	}
}
