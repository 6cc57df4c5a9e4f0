// Package obs builds the service logger and small timing helpers.
package obs

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"time"
)

type ctxKey string

// RequestIDKey carries the request id set by the HTTP middleware.
const RequestIDKey ctxKey = "req_id"

// NewLogger returns a slog logger writing to w. format is "json" or "text";
// level is one of debug, info, warn, error.
func NewLogger(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	if strings.EqualFold(format, "text") {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// Time starts timing op and returns a func that logs its duration and the
// error pointed to by errp. Use with defer and a named error result.
func Time(ctx context.Context, log *slog.Logger, op string) func(errp *error) {
	start := time.Now()
	reqID, _ := ctx.Value(RequestIDKey).(string)
	return func(errp *error) {
		attrs := []any{"op", op, "dur_ms", time.Since(start).Milliseconds()}
		if reqID != "" {
			attrs = append(attrs, "req_id", reqID)
		}
		if errp != nil && *errp != nil {
			log.InfoContext(ctx, "op failed", append(attrs, "err", *errp)...)
			return
		}
		log.DebugContext(ctx, "op done", attrs...)
	}
}
