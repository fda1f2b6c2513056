// Package logging configures zerolog for the CLIs and the worker.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

var output io.Writer = os.Stderr

// Setup sets the global level and output format. format is "json" or
// "console"; anything else is treated as json.
func Setup(level, format string) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	if strings.EqualFold(format, "console") {
		output = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}
	} else {
		output = os.Stderr
	}
}

// New returns a logger tagged with the component name.
func New(component string) zerolog.Logger {
	return zerolog.New(output).With().Timestamp().Str("component", component).Logger()
}
