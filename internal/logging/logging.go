// Package logging is a thin wrapper around the standard library's log
// package: bare log.Printf calls with short bracketed component prefixes,
// rather than a structured logging library.
package logging

import (
	"log"
	"os"
)

// Logger prefixes every line with a component tag, e.g. "[go] " or
// "[manager] ".
type Logger struct {
	*log.Logger
}

// New returns a Logger writing to stderr with the given component prefix.
func New(prefix string) *Logger {
	return &Logger{Logger: log.New(os.Stderr, "["+prefix+"] ", log.LstdFlags)}
}

// ForLanguage returns a Logger scoped to one LSP client, so every line it
// emits is already attributed the way §7 requires for user-facing errors.
func ForLanguage(language string) *Logger {
	return New(language)
}

var core = New("catenary")

// Core is the process-wide logger for messages that don't originate from a
// specific LSP client (manager, dispatcher, path validator, file lock).
func Core() *Logger { return core }
