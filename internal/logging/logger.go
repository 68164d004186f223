// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package logging carries diagnostic messages from harness helpers to the
// reporting API.
//
// Resource helpers (device, mount, cgroup, ...) never print directly. They log
// through the context they are given:
//
//	logging.Infof(ctx, "Attaching %s to %s", file, dev)
//
// and the harness attaches a Logger that turns those logs into TINFO/TDEBUG
// result lines carrying the helper's file:line.
package logging

import (
	"sync"
	"time"

	"github.com/linux-test-project/ltp-sub005/errors/stack"
)

// Level indicates a logging level. A larger level value means a log is more
// important.
type Level int

const (
	// LevelDebug represents the DEBUG level.
	LevelDebug Level = iota
	// LevelInfo represents the INFO level.
	LevelInfo
)

// String returns the level name.
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	default:
		return "UNKNOWN"
	}
}

// Logger defines the interface for loggers that consume logs sent via
// context.Context.
type Logger interface {
	// Log gets called for a log entry. loc is the source location of the
	// logging call.
	Log(level Level, ts time.Time, loc stack.Location, msg string)
}

// MultiLogger is a Logger that copies logs to multiple underlying loggers.
// A logger can be added and removed from MultiLogger at any time.
type MultiLogger struct {
	mu      sync.Mutex
	loggers []Logger
}

// NewMultiLogger creates a new MultiLogger with a specified initial set of
// underlying loggers.
func NewMultiLogger(loggers ...Logger) *MultiLogger {
	return &MultiLogger{loggers: loggers}
}

// Log copies a log to the current underlying loggers.
func (ml *MultiLogger) Log(level Level, ts time.Time, loc stack.Location, msg string) {
	ml.mu.Lock()
	defer ml.mu.Unlock()
	for _, logger := range ml.loggers {
		logger.Log(level, ts, loc, msg)
	}
}

// AddLogger adds a logger to the set of underlying loggers.
func (ml *MultiLogger) AddLogger(logger Logger) {
	ml.mu.Lock()
	defer ml.mu.Unlock()
	ml.loggers = append(ml.loggers, logger)
}

// RemoveLogger removes a logger from the set of underlying loggers.
func (ml *MultiLogger) RemoveLogger(logger Logger) {
	ml.mu.Lock()
	defer ml.mu.Unlock()
	j := 0
	for i, l := range ml.loggers {
		if l == logger {
			continue
		}
		ml.loggers[j] = ml.loggers[i]
		j++
	}
	ml.loggers = ml.loggers[:j]
}

// FuncLogger is a Logger that calls a function.
//
// All calls to the underlying function are synchronized.
type FuncLogger struct {
	f  func(level Level, ts time.Time, loc stack.Location, msg string)
	mu sync.Mutex
}

// NewFuncLogger creates a new FuncLogger.
func NewFuncLogger(f func(level Level, ts time.Time, loc stack.Location, msg string)) *FuncLogger {
	return &FuncLogger{f: f}
}

// Log calls the underlying function.
func (l *FuncLogger) Log(level Level, ts time.Time, loc stack.Location, msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.f(level, ts, loc, msg)
}
