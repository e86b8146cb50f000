package logging

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	globalMu     sync.RWMutex
	globalLogger *Logger
)

// InitGlobalLogger installs the process-wide logger. Format "json" writes
// JSON lines to stdout; anything else writes a console format to stderr.
func InitGlobalLogger(level LogLevel, format string) *Logger {
	var l *Logger
	if format == "json" {
		l = NewLogger(level, os.Stdout)
	} else {
		l = NewLogger(level, zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.DateTime})
	}

	globalMu.Lock()
	globalLogger = l
	globalMu.Unlock()
	return l
}

// GetGlobalLogger returns the process-wide logger, an info-level stdout
// logger until InitGlobalLogger runs.
func GetGlobalLogger() *Logger {
	globalMu.RLock()
	l := globalLogger
	globalMu.RUnlock()
	if l != nil {
		return l
	}

	globalMu.Lock()
	defer globalMu.Unlock()
	if globalLogger == nil {
		globalLogger = NewLogger(InfoLevel, os.Stdout)
	}
	return globalLogger
}

func Info(msg string) {
	GetGlobalLogger().logger.Info().Msg(msg)
}

// Fatal logs err and exits.
func Fatal(msg string, err error) {
	GetGlobalLogger().logger.Fatal().Err(err).Msg(msg)
}

// WithContext is Logger.WithContext on the global logger.
func WithContext(ctx context.Context) *zerolog.Logger {
	return GetGlobalLogger().WithContext(ctx)
}

// WithModule returns the global logger tagged with a module name.
func WithModule(module string) zerolog.Logger {
	return GetGlobalLogger().logger.With().Str("module", module).Logger()
}
