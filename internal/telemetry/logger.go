// Package telemetry wraps the structured logger shared by every package in
// this module. The teacher traced buffer-pool and WAL activity with
// fmt.Printf; here the same events go through zap so they carry structured
// fields instead of formatted strings.
package telemetry

import "go.uber.org/zap"

// Logger is the structured logger used throughout the engine. Tests and
// embedders may replace it with zap.NewDevelopment() or zaptest loggers.
var Logger = newDefault()

func newDefault() *zap.Logger {
	l, err := zap.NewProduction()
	if err != nil {
		return zap.NewNop()
	}
	return l
}

// SetLogger replaces the package-level logger. Call once at process startup.
func SetLogger(l *zap.Logger) {
	if l != nil {
		Logger = l
	}
}

// Sync flushes buffered log entries; callers should defer this at shutdown.
func Sync() {
	_ = Logger.Sync()
}
