// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package tst is the API for writing kernel tests.
//
// A test binary describes itself with a Test and hands it to Main:
//
//	func main() {
//		tst.Main(&tst.Test{
//			NeedsTmpdir: true,
//			Run: func(s *tst.State) {
//				if err := os.WriteFile("file", nil, 0644); err != nil {
//					s.Brkf(tst.TBROK|tst.TERRNO, "write failed")
//				}
//				s.Res(tst.TPASS, "file written")
//			},
//		})
//	}
//
// Main validates the descriptor, checks requirements, prepares the requested
// resources, runs the callbacks in a supervised process, releases the
// resources and exits with a status summarizing every reported result.
package tst

import (
	"github.com/linux-test-project/ltp-sub005/internal/harness"
	"github.com/linux-test-project/ltp-sub005/internal/options"
	"github.com/linux-test-project/ltp-sub005/internal/report"
	"github.com/linux-test-project/ltp-sub005/internal/result"
	"github.com/linux-test-project/ltp-sub005/internal/sysctl"
	"github.com/linux-test-project/ltp-sub005/internal/sysinfo"
)

type (
	// Test describes a test.
	Test = harness.Test
	// State is passed to test callbacks.
	State = harness.State
	// ChildFunc is the body of a process started with State.Fork.
	ChildFunc = harness.ChildFunc
	// Filesystem customizes the preparation of one filesystem.
	Filesystem = harness.Filesystem
	// Hugepages requests huge pages.
	Hugepages = harness.Hugepages
	// Option is a test-specific command line option.
	Option = options.Option
	// Tag carries triage information printed on failure.
	Tag = report.Tag
	// Cap is a capability requirement.
	Cap = sysinfo.Cap
	// Ulimit is a resource limit applied to the test.
	Ulimit = sysinfo.Ulimit
	// SysctlEntry is a /proc/sys value saved before and restored after the
	// test.
	SysctlEntry = sysctl.Entry
	// Kind is a result kind, optionally with an errno modifier.
	Kind = result.Kind
)

// Result kinds and modifiers.
const (
	TPASS   = result.TPASS
	TFAIL   = result.TFAIL
	TBROK   = result.TBROK
	TWARN   = result.TWARN
	TDEBUG  = result.TDEBUG
	TINFO   = result.TINFO
	TCONF   = result.TCONF
	TERRNO  = result.TERRNO
	TTERRNO = result.TTERRNO
	TRERRNO = result.TRERRNO
)

// Capability actions.
const (
	CapRequire = sysinfo.CapRequire
	CapDrop    = sysinfo.CapDrop
)

// Sysctl policies for missing paths.
const (
	ConfIfMissing = sysctl.ConfIfMissing
	BrokIfMissing = sysctl.BrokIfMissing
	IgnoreMissing = sysctl.IgnoreMissing
)

// Taint flags checked by Test.TaintCheck.
const (
	TaintW = sysinfo.TaintW
	TaintD = sysinfo.TaintD
)

const (
	// DefaultTimeout bounds a run when Test.Timeout is zero.
	DefaultTimeout = harness.DefaultTimeout
	// TimeoutUnlimited disables the watchdog.
	TimeoutUnlimited = harness.TimeoutUnlimited
)

// Main runs t. It does not return.
func Main(t *Test) {
	harness.Main(t)
}

// Conff returns an error reported as TCONF when it aborts a test through
// State.BrkErr.
func Conff(format string, args ...interface{}) error {
	return result.Conff(format, args...)
}

// ParseInt parses an option argument as an integer in [min, max].
func ParseInt(s string, min, max int) (int, error) {
	return options.ParseInt(s, min, max)
}

// ParseFloat parses an option argument as a float in [min, max].
func ParseFloat(s string, min, max float64) (float64, error) {
	return options.ParseFloat(s, min, max)
}

// ParseFilesize parses an option argument such as "10M" into bytes in
// [min, max].
func ParseFilesize(s string, min, max int64) (int64, error) {
	return options.ParseFilesize(s, min, max)
}
