// Package monitoring holds the diagnostic logger shared by the sampler
// packages and the command-line harness.
package monitoring

import "log"

// Logf is the package-level diagnostic logger. It defaults to log.Printf and
// is replaced through SetLogger, e.g. to mute long runs in tests.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil installs a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// Warnf logs through Logf with a WARNING prefix.
func Warnf(format string, v ...interface{}) {
	Logf("WARNING: "+format, v...)
}

// Mute silences Logf and returns a function restoring the previous logger.
func Mute() (restore func()) {
	prev := Logf
	SetLogger(nil)
	return func() { Logf = prev }
}
