// Package logger provides a configurable logger across volta components
//
// The root logger defined by default uses github.com/rs/zerolog with a console writer.
// The VOLTA_LOG environment variable, when set to a zerolog level name, bounds
// the level of the root logger.
package logger

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/volta-zk/volta/debug"
)

var logger zerolog.Logger

func init() {
	output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05"}
	logger = zerolog.New(output).With().Timestamp().Logger()

	if lvl := os.Getenv("VOLTA_LOG"); lvl != "" {
		if level, err := zerolog.ParseLevel(lvl); err == nil {
			logger = logger.Level(level)
		}
	}

	if !debug.Debug && strings.HasSuffix(os.Args[0], ".test") {
		logger = zerolog.Nop()
	}

}

// SetOutput changes the output of the global logger
func SetOutput(w io.Writer) {
	logger = logger.Output(w)
}

// Set allow a volta user to override the global logger
func Set(l zerolog.Logger) {
	logger = l
}

// Disable disables logging
func Disable() {
	logger = zerolog.Nop()
}

// Logger returns a sublogger for a component
func Logger() zerolog.Logger {
	return logger
}
