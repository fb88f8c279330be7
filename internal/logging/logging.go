// Package logging provides the process-wide structured logger used by every
// other package. It wraps go.uber.org/zap the way the rest of the tunnel
// stack expects: a package-level logger swapped in at startup, and thin
// helpers so call sites read as logging.Info(msg, zap.String(...)).
package logging

import (
	"sync"

	"go.uber.org/zap"
)

var (
	mu  sync.RWMutex
	log = zap.NewNop()
)

// Init installs the process-wide logger. debug selects a development
// encoder (console, caller info, debug level); otherwise a production
// JSON encoder is used.
func Init(debug bool) error {
	var (
		logger *zap.Logger
		err    error
	)

	if debug {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return err
	}

	mu.Lock()
	log = logger
	mu.Unlock()
	return nil
}

// Sync flushes any buffered log entries. Call on shutdown.
func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	_ = log.Sync()
}

func current() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return log
}

func Debug(msg string, fields ...zap.Field) { current().Debug(msg, fields...) }
func Info(msg string, fields ...zap.Field)  { current().Info(msg, fields...) }
func Warn(msg string, fields ...zap.Field)  { current().Warn(msg, fields...) }
func Error(msg string, fields ...zap.Field) { current().Error(msg, fields...) }

// Named returns a child logger with the given scope, for use where a
// component wants every line tagged consistently (e.g. "session", "proxy").
func Named(scope string) *zap.Logger {
	return current().Named(scope)
}
