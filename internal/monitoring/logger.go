// Package monitoring holds the process-wide diagnostic logger used by the
// telemetry ingestion pipeline.
package monitoring

import "log"

const (
	colorWarn  = "\033[93m"
	colorReset = "\033[0m"
)

// Logf is the package-level diagnostic logger. It defaults to log.Printf but may
// be replaced by SetLogger. Tests can redirect or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// Warnf logs through Logf, highlighted for the console.
func Warnf(format string, v ...interface{}) {
	Logf(colorWarn+format+colorReset, v...)
}
