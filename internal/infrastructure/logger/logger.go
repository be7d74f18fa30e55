package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"jan-server/services/visual-api/internal/config"
)

// New creates the visual service logger. Every entry carries the service, the environment and
// the storage backends it writes to, so log lines from mixed Azure and S3 deployments can be told
// apart.
func New(cfg *config.Config) zerolog.Logger {
	return newLogger(os.Stdout, cfg)
}

func newLogger(out io.Writer, cfg *config.Config) zerolog.Logger {
	level := parseLevel(cfg.LogLevel)

	var w io.Writer = out
	if cfg.LogFormat != "json" {
		w = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	ctx := zerolog.New(w).
		With().
		Timestamp().
		Str("service", cfg.ServiceName).
		Str("environment", cfg.Environment).
		Str("image_backend", cfg.ImageDefaultBackend).
		Str("repository", cfg.RepositoryBackend)
	if level <= zerolog.DebugLevel {
		ctx = ctx.Caller()
	}
	return ctx.Logger().Level(level)
}

func parseLevel(raw string) zerolog.Level {
	if raw == "" {
		return zerolog.InfoLevel
	}
	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(raw)))
	if err != nil || level == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return level
}
