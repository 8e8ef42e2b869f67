// Package vlog builds the prefixed loggers used across the vector
// primitive, so every subsystem tags its lines the same way.
package vlog

import (
	"log"
	"os"
)

// New returns a logger writing to stderr with the given subsystem prefix.
func New(prefix string) *log.Logger {
	return log.New(os.Stderr, "["+prefix+"] ", log.LstdFlags)
}
