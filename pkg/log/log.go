package log

import (
	"io"
	"os"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/zerologr"
	"github.com/rs/zerolog"
)

// New builds the process logger. Plain JSON when NO_COLOR is set or stdout
// is redirected into structured-log collection, console output otherwise.
func New() *zerolog.Logger {
	var output io.Writer
	if os.Getenv("NO_COLOR") != "" {
		output = os.Stderr
	} else {
		output = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "2006-01-02T15:04:05.999Z07:00"}
	}

	zerolog.TimeFieldFormat = time.RFC3339Nano

	logger := zerolog.New(output).With().Timestamp().Logger()
	return &logger
}

// NewLogr wraps the process logger for APIs that accept a logr.Logger.
func NewLogr() logr.Logger {
	return zerologr.New(New())
}
