// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package stack captures call sites and stack traces. It backs the errors
// package and the file:line provenance printed by the reporting API.
package stack

import (
	"fmt"
	"path/filepath"
	"runtime"
	"strings"
)

const (
	maxDepth = 8 // maximum number of stack frames to record

	ellipsis = "\t..." // trailing marker line added if stack trace is too long
)

// Stack holds a snapshot of program counters.
type Stack []uintptr

// New captures a stack trace. skip specifies the number of frames to skip from
// a stack trace. skip=0 records stack.New call as the innermost frame.
func New(skip int) Stack {
	pc := make([]uintptr, maxDepth+1)
	pc = pc[:runtime.Callers(skip+2, pc)]
	return Stack(pc)
}

// String formats a stack trace to a human-friendly text.
func (s Stack) String() string {
	var lines []string

	// runtime.CallersFrames handles inlined frames that a raw PC walk would miss.
	cf := runtime.CallersFrames(s)
	for {
		f, more := cf.Next()
		line := fmt.Sprintf("\tat %s (%s:%d)", f.Function, filepath.Base(f.File), f.Line)
		lines = append(lines, line)
		if !more {
			break
		} else if len(lines) >= maxDepth {
			lines = append(lines, ellipsis)
			break
		}
	}
	return strings.Join(lines, "\n")
}

// Location is a source position reported next to a result line.
type Location struct {
	File string // base name of the source file
	Line int
}

// String returns "file:line".
func (l Location) String() string {
	return fmt.Sprintf("%s:%d", l.File, l.Line)
}

// Caller returns the location of a caller. skip=0 is the function calling
// Caller.
func Caller(skip int) Location {
	_, file, line, ok := runtime.Caller(skip + 1)
	if !ok {
		return Location{File: "???", Line: 0}
	}
	return Location{File: filepath.Base(file), Line: line}
}
