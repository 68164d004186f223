// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package errors provides basic utilities to construct errors.
//
// Harness code constructs and wraps errors with this package rather than with
// the standard errors.New or fmt.Errorf. It records stack traces and chained
// errors so that a BROKEN result can be traced back to the failing helper.
//
//  errors.New("device not found")
//  errors.Errorf("loop device %d busy", n)
//  errors.Wrap(err, "failed to attach backing file")
//  errors.Wrapf(err, "failed to mount %s", dev)
//
// A stack trace can be printed by formatting an error with the "%+v" verb.
// Errors created here unwrap to their causes, so errors.Is(err, unix.EBUSY)
// works across wrapping layers, and Errno extracts the underlying errno.
package errors

import (
	stderrors "errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/linux-test-project/ltp-sub005/errors/stack"
)

// impl is the error implementation used by this package.
type impl struct {
	msg   string      // error message to be prepended to cause
	stk   stack.Stack // stack trace where this error was created
	cause error       // original error that caused this error if non-nil
}

// Error implements the error interface.
func (e *impl) Error() string {
	if e.cause == nil {
		return e.msg
	}
	return fmt.Sprintf("%s: %s", e.msg, e.cause.Error())
}

// Unwrap returns the wrapped cause.
func (e *impl) Unwrap() error {
	return e.cause
}

// formatChain formats an error chain.
func formatChain(err error) string {
	var chain []string
	for err != nil {
		if e, ok := err.(*impl); !ok {
			chain = append(chain, fmt.Sprintf("%s\n\tat ???", err.Error()))
			err = nil
		} else {
			chain = append(chain, fmt.Sprintf("%s\n%v", e.msg, e.stk))
			err = e.cause
		}
	}
	return strings.Join(chain, "\n")
}

// Format implements the fmt.Formatter interface.
// In particular, it is supported to format an error chain by "%+v" verb.
func (e *impl) Format(s fmt.State, verb rune) {
	if verb == 'v' && s.Flag('+') {
		io.WriteString(s, formatChain(e))
	} else {
		io.WriteString(s, e.Error())
	}
}

// New creates a new error with the given message.
// This is similar to the standard errors.New, but also records the location
// where it was called.
func New(msg string) error {
	s := stack.New(1)
	return &impl{msg, s, nil}
}

// Errorf creates a new error with the given message.
// This is similar to the standard fmt.Errorf, but also records the location
// where it was called.
func Errorf(format string, args ...interface{}) error {
	s := stack.New(1)
	msg := fmt.Sprintf(format, args...)
	return &impl{msg, s, nil}
}

// Wrap creates a new error with the given message, wrapping another error.
// This function also records the location where it was called.
// If cause is nil, this is the same as New.
func Wrap(cause error, msg string) error {
	s := stack.New(1)
	return &impl{msg, s, cause}
}

// Wrapf creates a new error with the given message, wrapping another error.
// This function also records the location where it was called.
// If cause is nil, this is the same as Errorf.
func Wrapf(cause error, format string, args ...interface{}) error {
	s := stack.New(1)
	msg := fmt.Sprintf(format, args...)
	return &impl{msg, s, cause}
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return stderrors.As(err, target)
}

// Errno returns the errno carried by err's chain, or 0 if there is none.
func Errno(err error) unix.Errno {
	var errno unix.Errno
	if As(err, &errno) {
		return errno
	}
	return 0
}
