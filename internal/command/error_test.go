// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package command_test

import (
	"bytes"
	"testing"

	"github.com/linux-test-project/ltp-sub005/errors"
	"github.com/linux-test-project/ltp-sub005/internal/command"
)

func TestWriteError(t *testing.T) {
	for _, tc := range []struct {
		name       string
		err        error
		wantStatus int
		wantOut    string
	}{
		{"status", command.NewStatusErrorf(32, "no supported filesystems"), 32, "no supported filesystems\n"},
		{"wrapped", errors.Wrap(command.NewStatusErrorf(2, "inner"), "outer"), 2, "inner\n"},
		{"generic", errors.New("bad runfile"), 1, "bad runfile\n"},
		{"newline", errors.New("already terminated\n"), 1, "already terminated\n"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			var b bytes.Buffer
			if got := command.WriteError(&b, tc.err); got != tc.wantStatus {
				t.Errorf("WriteError(%v) = %d; want %d", tc.err, got, tc.wantStatus)
			}
			if b.String() != tc.wantOut {
				t.Errorf("WriteError(%v) wrote %q; want %q", tc.err, b.String(), tc.wantOut)
			}
		})
	}
}
