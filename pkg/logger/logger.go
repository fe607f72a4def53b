// Package logger provides the application's structured logging conventions
// on top of log/slog: environment-driven level selection and a couple of
// small slog.Attr helpers used at every call site.
package logger

import (
	"log/slog"
	"os"
	"strings"
	"time"
)

// Scope tags a log line with the subsystem that emitted it, e.g.
// log.With(logger.Scope("agents.worklock")).
func Scope(scope string) slog.Attr {
	return slog.String("scope", scope)
}

// Error attaches an error to a log line under a consistent key.
func Error(err error) slog.Attr {
	return slog.Any("error", err)
}

// NewLogger builds the process-wide slog.Logger. Level is read from
// LOG_LEVEL (debug|info|warn|warning|error, case-insensitive, default info).
// Handler format is JSON when GO_ENV=production, text otherwise.
func NewLogger() *slog.Logger {
	level := parseLevel(os.Getenv("LOG_LEVEL"))

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if strings.EqualFold(os.Getenv("GO_ENV"), "production") {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

func parseLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	case "info", "":
		return slog.LevelInfo
	default:
		return slog.LevelInfo
	}
}

// HTTPLogger is a minimal structured access-log sink, kept separate from the
// main slog.Logger so request-level audit lines can be routed or retained
// differently than application logs.
type HTTPLogger struct {
	log *slog.Logger
}

// NewHTTPLogger builds an HTTPLogger over the given base logger.
func NewHTTPLogger(base *slog.Logger) *HTTPLogger {
	return &HTTPLogger{log: base.With(Scope("http.access"))}
}

// LogRequest records one completed HTTP request.
func (h *HTTPLogger) LogRequest(remoteIP, method, uri string, status int, latency time.Duration, userAgent, requestID string) {
	h.log.Info("access",
		slog.String("remote_ip", remoteIP),
		slog.String("method", method),
		slog.String("uri", uri),
		slog.Int("status", status),
		slog.Duration("latency", latency),
		slog.String("user_agent", userAgent),
		slog.String("request_id", requestID),
	)
}
