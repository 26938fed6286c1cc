// Package logger provides the configured zerolog logger.
package logger

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// New returns a JSON logger tagged with the service name.
func New(serviceName, level string) zerolog.Logger {
	return NewWithWriter(os.Stdout, serviceName, level)
}

func NewWithWriter(w io.Writer, serviceName, level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(w).Level(lvl).With().
		Str("service", serviceName).
		Timestamp().
		Logger()
}
