// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package command contains code shared by executables (test binaries built on
// the harness and tstctl).
package command

import (
	"fmt"
	"io"
	"strings"

	"github.com/linux-test-project/ltp-sub005/errors"
)

// StatusError is an error carrying the exit status of a command.
type StatusError struct {
	msg    string
	status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s (exit %d)", e.msg, e.status)
}

// NewStatusErrorf returns a StatusError exiting with status.
func NewStatusErrorf(status int, format string, args ...interface{}) *StatusError {
	return &StatusError{msg: fmt.Sprintf(format, args...), status: status}
}

// WriteError prints err on its own line to w and returns the exit status:
// the one of the first StatusError in err's chain, or 1.
func WriteError(w io.Writer, err error) int {
	msg, status := err.Error(), 1
	var se *StatusError
	if errors.As(err, &se) {
		msg, status = se.msg, se.status
	}
	if !strings.HasSuffix(msg, "\n") {
		msg += "\n"
	}
	io.WriteString(w, msg)
	return status
}
