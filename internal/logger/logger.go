// Package logger provides process-wide logging with a service prefix.
// Call sites use Infof/Errorf; slow paths are measured with DeferLogDuration.
// Backed by zap so output is structured in production and readable in dev.
package logger

import (
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	mu       sync.RWMutex
	base     *zap.SugaredLogger
	logLevel = levelInfo
)

type level int

const (
	levelDebug level = iota
	levelInfo
)

func init() {
	switch os.Getenv("LOG_LEVEL") {
	case "debug", "trace":
		logLevel = levelDebug
	}
	var l *zap.Logger
	var err error
	if os.Getenv("APP_ENV") == "production" {
		l, err = zap.NewProduction()
	} else {
		l, err = zap.NewDevelopment()
	}
	if err != nil {
		l = zap.NewNop()
	}
	base = l.Sugar()
}

// SetPrefix tags all subsequent logs with a service name (e.g. "history", "chat").
func SetPrefix(p string) {
	mu.Lock()
	defer mu.Unlock()
	base = base.Named(p)
}

func current() *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	return base
}

// Info logs at info level.
func Info(v ...any) {
	current().Info(v...)
}

// Infof formats and logs at info level.
func Infof(format string, v ...any) {
	current().Infof(format, v...)
}

// Error logs at error level.
func Error(v ...any) {
	current().Error(v...)
}

// Errorf formats and logs at error level.
func Errorf(format string, v ...any) {
	current().Errorf(format, v...)
}

// LogDuration logs a function name and elapsed time in milliseconds.
// With LOG_LEVEL=info only calls slower than 100ms are logged; with
// LOG_LEVEL=debug all of them.
func LogDuration(fn string, start time.Time) {
	elapsed := time.Since(start)
	if logLevel == levelDebug || elapsed >= 100*time.Millisecond {
		current().Infof("fn=%s duration_ms=%d", fn, elapsed.Milliseconds())
	}
}

// DeferLogDuration returns a function for use in defer: defer logger.DeferLogDuration("HandlerName", time.Now())().
func DeferLogDuration(fn string, start time.Time) func() {
	return func() { LogDuration(fn, start) }
}

// Sync flushes buffered entries; call before process exit.
func Sync() {
	_ = current().Sync()
}
