package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/stockroom-labs/stockroom/internal/config"
)

// Setup configures the global zerolog logger and returns it.
func Setup(cfg config.LogConfig, service string) zerolog.Logger {
	return setup(cfg, service, os.Stdout)
}

func setup(cfg config.LogConfig, service string, out io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339Nano

	if cfg.Format == "console" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen}
	}

	logger := zerolog.New(out).With().Timestamp().Str("service", service).Logger()
	zlog.Logger = logger
	zerolog.DefaultContextLogger = &zlog.Logger
	return logger
}
