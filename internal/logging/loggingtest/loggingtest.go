// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package loggingtest provides logging utilities for unit tests.
package loggingtest

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/linux-test-project/ltp-sub005/errors/stack"
	"github.com/linux-test-project/ltp-sub005/internal/logging"
)

// Logger is a logging.Logger that accumulates logs to an in-memory buffer,
// as well as emitting them as unit test logs.
type Logger struct {
	t     *testing.T
	level logging.Level

	mu   sync.Mutex
	logs []string
}

// NewLogger creates a new Logger.
func NewLogger(t *testing.T, level logging.Level) *Logger {
	return &Logger{t: t, level: level}
}

// Log gets called for a log event.
func (l *Logger) Log(level logging.Level, ts time.Time, loc stack.Location, msg string) {
	l.t.Helper()
	l.mu.Lock()
	defer l.mu.Unlock()

	l.t.Logf("%v: %s", loc, msg)
	if level >= l.level {
		l.logs = append(l.logs, msg)
	}
}

// Logs returns a list of logs received so far.
func (l *Logger) Logs() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.logs...)
}

// String returns received logs as a newline-separated string.
func (l *Logger) String() string {
	return strings.Join(l.Logs(), "\n")
}

// Context returns a background context with a new Logger attached.
func Context(t *testing.T) (context.Context, *Logger) {
	l := NewLogger(t, logging.LevelDebug)
	return logging.AttachLogger(context.Background(), l), l
}
