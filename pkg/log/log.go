// Package log sets up zerolog and carries a logger through contexts.
package log

import (
	"context"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// Config selects the logger level and output format.
type Config struct {
	Level  string // debug, info, warn, error
	Format string // "console" or "json"
	Output io.Writer
}

func init() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
}

// New builds a logger from cfg. Unknown levels fall back to info.
func New(cfg Config) zerolog.Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	if strings.EqualFold(cfg.Format, "console") {
		out = zerolog.ConsoleWriter{Out: out}
	}

	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}

type loggerKey struct{}

// Set returns a context carrying lg.
func Set(ctx context.Context, lg *zerolog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, lg)
}

var disabled = zerolog.Nop()

// Get returns the logger stored in ctx, or a disabled logger.
func Get(ctx context.Context) *zerolog.Logger {
	if lg, ok := ctx.Value(loggerKey{}).(*zerolog.Logger); ok && lg != nil {
		return lg
	}
	return &disabled
}
