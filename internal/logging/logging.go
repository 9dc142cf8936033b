// Package logging builds the process-wide zerolog logger: console
// output for interactive use, a rotated file when configured.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/citytransit/transitq/config"
)

// New builds a logger from the log configuration. With neither console
// nor file enabled it logs to stderr.
func New(cfg config.LogConfig) zerolog.Logger {
	var writers []io.Writer
	if cfg.Console {
		writers = append(writers, zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	}
	if cfg.File != "" {
		writers = append(writers, &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   true,
		})
	}
	if len(writers) == 0 {
		writers = append(writers, os.Stderr)
	}
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	return zerolog.New(io.MultiWriter(writers...)).With().Timestamp().Logger().Level(level)
}
