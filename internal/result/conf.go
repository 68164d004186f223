// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package result

import (
	"fmt"

	"github.com/linux-test-project/ltp-sub005/errors"
)

// ConfError is returned by resource helpers when the environment cannot
// provide what a test asked for. It is reported as TCONF rather than TBROK.
type ConfError struct {
	msg string
}

func (e *ConfError) Error() string { return e.msg }

// Conff returns a ConfError with a formatted message.
func Conff(format string, args ...interface{}) error {
	return &ConfError{fmt.Sprintf(format, args...)}
}

// IsConf reports whether err's chain contains a ConfError.
func IsConf(err error) bool {
	var ce *ConfError
	return errors.As(err, &ce)
}

// KindOf returns TCONF for a ConfError and TBROK for any other error.
func KindOf(err error) Kind {
	if IsConf(err) {
		return TCONF
	}
	return TBROK
}
