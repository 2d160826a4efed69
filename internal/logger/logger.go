// Package logger wraps zerolog behind a small package-level API so the
// rest of the codebase never touches the logging backend directly.
package logger

import (
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

var (
	defaultLogger zerolog.Logger
	once          sync.Once
)

// Init initializes the default logger. Level is one of debug, info,
// warn, error; anything else falls back to info. Safe to call more than
// once; only the first call wins.
func Init(level string) {
	once.Do(func() {
		lvl := zerolog.InfoLevel
		switch strings.ToLower(level) {
		case "debug":
			lvl = zerolog.DebugLevel
		case "warn":
			lvl = zerolog.WarnLevel
		case "error":
			lvl = zerolog.ErrorLevel
		}
		defaultLogger = zerolog.New(os.Stderr).With().Timestamp().Logger().Level(lvl)
	})
}

// Get returns the initialized default logger, initializing it at info
// level if Init was never called.
func Get() *zerolog.Logger {
	Init("info")
	return &defaultLogger
}

// Debug starts a debug-level event on the default logger.
func Debug() *zerolog.Event {
	return Get().Debug()
}

// Info starts an info-level event on the default logger.
func Info() *zerolog.Event {
	return Get().Info()
}

// Warn starts a warn-level event on the default logger.
func Warn() *zerolog.Event {
	return Get().Warn()
}

// Error starts an error-level event on the default logger.
func Error() *zerolog.Event {
	return Get().Error()
}
