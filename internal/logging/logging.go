// Package logging provides prefixed loggers for usagevault components.
//
// Every component logs through a stdlib *log.Logger with a "[component] "
// prefix. When a log directory is configured, output is additionally teed
// into a size-rotated file so long-running watch daemons don't grow an
// unbounded log.
package logging

import (
	"io"
	"log"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

// New returns a logger writing to stderr with the given component prefix.
func New(component string) *log.Logger {
	return log.New(os.Stderr, "["+component+"] ", log.LstdFlags)
}

// NewWithFile returns a logger writing to stderr and to a rotating log file
// under dir. If dir is empty, it behaves exactly like New.
func NewWithFile(component, dir string) *log.Logger {
	if dir == "" {
		return New(component)
	}

	rotator := &lumberjack.Logger{
		Filename:   filepath.Join(dir, "uvd.log"),
		MaxSize:    10, // megabytes
		MaxBackups: 3,
		MaxAge:     28, // days
	}

	return log.New(io.MultiWriter(os.Stderr, rotator), "["+component+"] ", log.LstdFlags)
}
