package app

import (
	"strings"

	"github.com/visera/backend/pkg/logger"
)

// ConfigureLogging initialises the global logger with the provided level, defaulting to info.
// Outside production the human readable development encoder is used.
func ConfigureLogging(level string, production bool) error {
	level = strings.TrimSpace(level)
	if level == "" {
		level = "info"
	}
	return logger.Init(level, logger.WithDevelopment(!production))
}
