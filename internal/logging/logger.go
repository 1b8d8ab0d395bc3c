// Package logging configures the process-wide logrus logger: JSON output
// in production, human-readable text in development, level driven by
// configuration.
package logging

import (
	"os"

	"github.com/sirupsen/logrus"

	"github.com/ebrland/orchestrator/internal/config"
)

// New builds a logrus.Logger from the loaded LoggingConfig. An empty or
// unrecognized level falls back to info; an empty or unrecognized format
// falls back to text.
func New(cfg config.LoggingConfig) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stdout)

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	switch cfg.Format {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	default:
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	return logger
}
