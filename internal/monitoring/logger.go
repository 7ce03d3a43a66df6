package monitoring

import "log"

// Logf is the package-level diagnostic logger used by the acquisition,
// transmit and storage packages. It defaults to log.Printf.
var Logf func(format string, v ...interface{}) = log.Printf

// Debugf carries per-packet and per-batch detail. It is a no-op until
// SetVerbose(true).
var Debugf func(format string, v ...interface{}) = func(string, ...interface{}) {}

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// SetVerbose routes Debugf through Logf when on, and mutes it otherwise.
func SetVerbose(on bool) {
	if !on {
		Debugf = func(string, ...interface{}) {}
		return
	}
	Debugf = func(format string, v ...interface{}) { Logf(format, v...) }
}

// Func returns f, or Logf when f is nil. Components that accept an
// optional logger call it once at construction.
func Func(f func(format string, v ...interface{})) func(format string, v ...interface{}) {
	if f != nil {
		return f
	}
	return func(format string, v ...interface{}) { Logf(format, v...) }
}
