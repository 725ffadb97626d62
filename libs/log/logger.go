package log

import (
	"fmt"
)

const (
	// LogFormatPlain defines a logging format used for human-readable output.
	LogFormatPlain = "plain"
	// LogFormatText defines a logging format used for human-readable output.
	LogFormatText = "text"
	// LogFormatJSON defines a logging format for structured output.
	LogFormatJSON = "json"

	// Supported loging levels
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

// Logger defines a generic structured logging interface.
type Logger interface {
	Debug(msg string, keyVals ...interface{})
	Info(msg string, keyVals ...interface{})
	Error(msg string, keyVals ...interface{})

	With(keyVals ...interface{}) Logger
}

// Hexadecimal is intended to convert a []byte
// type to a value that is hexadecimal (uppercase).
type Hexadecimal struct {
	b []byte
}

// Hex constructs a Hexadecimal wrapper for bz.
func Hex(bz []byte) Hexadecimal {
	return Hexadecimal{b: bz}
}

// String fulfills the Stringer interface within the
// fmt package.
func (s Hexadecimal) String() string {
	return fmt.Sprintf("%X", s.b)
}
