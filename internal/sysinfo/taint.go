// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package sysinfo

import (
	"os"
	"strconv"
	"strings"

	"github.com/linux-test-project/ltp-sub005/errors"
	"github.com/linux-test-project/ltp-sub005/internal/result"
)

// TaintPath exposes the kernel taint bitmask.
const TaintPath = "/proc/sys/kernel/tainted"

// Taint flags, see Documentation/admin-guide/tainted-kernels.rst.
const (
	TaintG uint64 = 1 << 0  // proprietary module
	TaintF uint64 = 1 << 1  // forced module load
	TaintS uint64 = 1 << 2  // unsafe SMP
	TaintR uint64 = 1 << 3  // forced module unload
	TaintM uint64 = 1 << 4  // machine check
	TaintB uint64 = 1 << 5  // bad page
	TaintU uint64 = 1 << 6  // user request
	TaintD uint64 = 1 << 7  // kernel died
	TaintA uint64 = 1 << 8  // ACPI overridden
	TaintW uint64 = 1 << 9  // warning
	TaintC uint64 = 1 << 10 // staging driver
	TaintI uint64 = 1 << 11 // firmware workaround
	TaintO uint64 = 1 << 12 // out-of-tree module
	TaintE uint64 = 1 << 13 // unsigned module
	TaintL uint64 = 1 << 14 // soft lockup
	TaintK uint64 = 1 << 15 // live patched
	TaintX uint64 = 1 << 16 // auxiliary
	TaintT uint64 = 1 << 17 // struct randomization
)

// TaintChecker detects taint flags raised while a test runs.
type TaintChecker struct {
	path string
	mask uint64
}

func readTaint(path string) (uint64, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to read %s", path)
	}
	v, err := strconv.ParseUint(strings.TrimSpace(string(b)), 10, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid taint value in %s", path)
	}
	return v, nil
}

// NewTaintChecker watches the flags in mask. TaintW and TaintD are always
// watched. A kernel already carrying a watched flag is a ConfError.
func NewTaintChecker(path string, mask uint64) (*TaintChecker, error) {
	mask |= TaintW | TaintD
	v, err := readTaint(path)
	if err != nil {
		return nil, err
	}
	if v&mask != 0 {
		return nil, result.Conff("Kernel is already tainted: %d", v)
	}
	return &TaintChecker{path: path, mask: mask}, nil
}

// Mask returns the watched flags.
func (t *TaintChecker) Mask() uint64 { return t.mask }

// Check returns the watched flags that are now set.
func (t *TaintChecker) Check() (uint64, error) {
	v, err := readTaint(t.path)
	if err != nil {
		return 0, err
	}
	return v & t.mask, nil
}
