// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package logging

import (
	"fmt"
	"io"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/linux-test-project/ltp-sub005/errors/stack"
)

// SinkLogger is a Logger that processes logs by a Sink.
type SinkLogger struct {
	level     Level
	timestamp bool
	sink      Sink
}

// NewSinkLogger creates a new SinkLogger.
//
// level specifies the minimum level of logs the sink should get notified of.
// If timestamp is true, a timestamp is prepended to a log before it is sent to
// the sink.
func NewSinkLogger(level Level, timestamp bool, sink Sink) *SinkLogger {
	return &SinkLogger{
		level:     level,
		timestamp: timestamp,
		sink:      sink,
	}
}

// Log sends a log to the associated sink.
func (l *SinkLogger) Log(level Level, ts time.Time, loc stack.Location, msg string) {
	if level < l.level {
		return
	}
	if l.timestamp {
		msg = ts.UTC().Format("2006-01-02T15:04:05.000000Z ") + msg
	}
	l.sink.Log(msg)
}

// Sink represents a destination of logs, e.g. a log file or console.
type Sink interface {
	// Log gets called for a log entry.
	Log(msg string)
}

// FuncSink is a Sink that calls a function.
//
// All calls to the underlying function are synchronized.
type FuncSink struct {
	f  func(msg string)
	mu sync.Mutex
}

// NewFuncSink creates a new FuncSink from a function.
func NewFuncSink(f func(msg string)) *FuncSink {
	return &FuncSink{f: f}
}

// Log consumes a log as a function call.
func (s *FuncSink) Log(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.f(msg)
}

// WriterSink is a Sink that writes logs to io.Writer.
//
// All writes to io.Writer are synchronized.
type WriterSink struct {
	w  io.Writer
	mu sync.Mutex
}

// NewWriterSink creates a new WriterSink from io.Writer.
func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{w: w}
}

// Log writes a log to the underlying io.Writer.
func (s *WriterSink) Log(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintln(s.w, msg)
}

// FDSink is a Sink that emits every message with a single write(2) on a raw
// file descriptor. Messages from concurrent processes sharing the descriptor
// therefore never interleave within a line, and no Go-level buffering or
// locking is involved.
type FDSink struct {
	fd int
}

// NewFDSink creates a new FDSink writing to fd.
func NewFDSink(fd int) *FDSink {
	return &FDSink{fd: fd}
}

// Log writes msg followed by a newline.
func (s *FDSink) Log(msg string) {
	b := make([]byte, 0, len(msg)+1)
	b = append(b, msg...)
	b = append(b, '\n')
	for len(b) > 0 {
		n, err := unix.Write(s.fd, b)
		if err == unix.EINTR {
			continue
		}
		if err != nil || n <= 0 {
			return
		}
		b = b[n:]
	}
}
