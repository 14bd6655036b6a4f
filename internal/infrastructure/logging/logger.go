package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/nerrad567/vcontrold-bridge/internal/infrastructure/config"
)

const serviceName = "vcontrold-bridge"

const redacted = "[redacted]"

// sensitiveKeys are attribute keys whose values never reach the output.
var sensitiveKeys = []string{"password", "token", "secret"}

// Logger is a slog.Logger carrying the service and version fields.
//
// It satisfies the small Logger interfaces declared by the vcontrold,
// mqtt, bridge and process packages.
type Logger struct {
	*slog.Logger
}

// New builds a logger from the logging section of the config.
func New(cfg config.LoggingConfig, version string) *Logger {
	return newWithWriter(cfg, version, writerFor(cfg.Output))
}

func writerFor(output string) io.Writer {
	if strings.EqualFold(output, "stderr") {
		return os.Stderr
	}
	return os.Stdout
}

func newWithWriter(cfg config.LoggingConfig, version string, w io.Writer) *Logger {
	opts := &slog.HandlerOptions{
		Level:       parseLevel(cfg.Level),
		ReplaceAttr: redact,
	}

	var h slog.Handler = slog.NewJSONHandler(w, opts)
	if strings.EqualFold(cfg.Format, "text") {
		h = slog.NewTextHandler(w, opts)
	}

	base := slog.New(h).With("service", serviceName, "version", version)
	return &Logger{Logger: base}
}

// redact masks values logged under credential-like keys, for example a
// broker password echoed by a config dump.
func redact(_ []string, a slog.Attr) slog.Attr {
	key := strings.ToLower(a.Key)
	for _, s := range sensitiveKeys {
		if strings.Contains(key, s) {
			return slog.String(a.Key, redacted)
		}
	}
	return a
}

// parseLevel maps debug, warn/warning and error; anything else is info.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// With returns a child logger, typically tagged with a component:
//
//	log.With("component", "vcontrold").Info("connected")
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// Default is the logger used until the config file has been read.
func Default() *Logger {
	return New(config.LoggingConfig{Level: "info", Format: "json"}, "dev")
}

// Discard drops everything.
func Discard() *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}
