// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package harness

import (
	"time"

	"github.com/linux-test-project/ltp-sub005/errors"
	"github.com/linux-test-project/ltp-sub005/internal/options"
	"github.com/linux-test-project/ltp-sub005/internal/report"
	"github.com/linux-test-project/ltp-sub005/internal/sysctl"
	"github.com/linux-test-project/ltp-sub005/internal/sysinfo"
)

const (
	// DefaultTimeout bounds one run when Test.Timeout is zero.
	DefaultTimeout = 30 * time.Second
	// TimeoutUnlimited disables the watchdog.
	TimeoutUnlimited time.Duration = -1
)

// ChildFunc is the body of a process started with State.Fork.
type ChildFunc func(s *State, args []string)

// Filesystem customizes how a filesystem is prepared.
type Filesystem struct {
	// Type is the filesystem name, e.g. "ext4".
	Type string
	// MkfsOpts are passed to mkfs before the device.
	MkfsOpts []string
	// MkfsExtra is passed to mkfs after the device.
	MkfsExtra string
	// MkfsVer is a requirement such as "mkfs.ext4 >= 1.43.0".
	MkfsVer string
	// MinKver is the oldest kernel able to run the test on Type.
	MinKver string
	// MntFlags and MntData override the test-wide mount settings.
	MntFlags uintptr
	MntData  string
}

// Hugepages requests huge pages before the test starts.
type Hugepages struct {
	Number int
	// Required skips the test when fewer pages could be reserved.
	Required bool
}

// Test describes a test. It must not be modified after Main is called.
type Test struct {
	// Exactly one of Run, RunCase and Sample is set.
	Run     func(s *State)
	RunCase func(s *State, n int)
	Cases   int
	Sample  func(s *State, n int)
	Samples int

	Setup   func(s *State)
	Cleanup func(s *State)

	// Variants runs the whole test this many times, see State.Variant.
	Variants int
	// Timeout bounds one run, excluding Runtime. Zero means
	// DefaultTimeout.
	Timeout time.Duration
	// Runtime is the time the test body may spend iterating.
	Runtime time.Duration

	NeedsRoot      bool
	MinKver        string
	MinCPUs        int
	MinMemAvailMB  uint64
	MinSwapAvailMB uint64
	NeedsCmds      []string
	NeedsDrivers   []string
	NeedsKconfigs  []string
	Caps           []sysinfo.Cap
	Ulimits        []sysinfo.Ulimit

	NeedsTmpdir    bool
	NeedsDevice    bool
	DevMinSizeMB   uint64
	DevFsType      string
	FormatDevice   bool
	MountDevice    bool
	NeedsRofs      bool
	NeedsDevfs     bool
	NeedsHugetlbfs bool
	NeedsOverlay   bool
	MntPoint       string
	MntFlags       uintptr
	MntData        string

	AllFilesystems  bool
	SkipFilesystems []string
	Filesystems     []Filesystem

	SaveRestore      []sysctl.Entry
	Hugepages        Hugepages
	ResourceFiles    []string
	RestoreWallclock bool
	TaintCheck       uint64
	NeedsCgroupCtrls []string
	NeedsCheckpoints bool

	ForksChild bool
	Children   map[string]ChildFunc

	Options []options.Option
	Tags    []report.Tag
}

func (t *Test) needsDevice() bool {
	return t.NeedsDevice || t.FormatDevice || t.MountDevice || t.AllFilesystems
}

func (t *Test) mounts() bool {
	return t.MountDevice || t.NeedsRofs || t.NeedsDevfs || t.NeedsHugetlbfs
}

func (t *Test) needsTmpdir() bool {
	return t.NeedsTmpdir || t.needsDevice() || t.mounts() || t.NeedsOverlay ||
		t.MntPoint != "" || len(t.ResourceFiles) > 0
}

// keepRegionPath reports whether arbitrary descendants must attach to the
// results region by path.
func (t *Test) keepRegionPath() bool {
	return t.ForksChild || t.NeedsCheckpoints
}

// filesystem returns the customization for fs, if any.
func (t *Test) filesystem(fs string) Filesystem {
	for _, f := range t.Filesystems {
		if f.Type == fs {
			return f
		}
	}
	// An untyped entry applies to every filesystem.
	for _, f := range t.Filesystems {
		if f.Type == "" {
			f.Type = fs
			return f
		}
	}
	return Filesystem{Type: fs}
}

// Validate checks t for inconsistencies.
func Validate(t *Test) error {
	n := 0
	for _, set := range []bool{t.Run != nil, t.RunCase != nil, t.Sample != nil} {
		if set {
			n++
		}
	}
	switch {
	case n == 0:
		return errors.New("No test function specified")
	case n > 1:
		return errors.New("Only one of Run, RunCase and Sample can be set")
	}
	if t.RunCase != nil && t.Cases <= 0 {
		return errors.New("RunCase requires Cases > 0")
	}
	if t.RunCase == nil && t.Cases != 0 {
		return errors.New("Cases can be set only with RunCase")
	}
	if t.Sample != nil && t.Samples <= 0 {
		return errors.New("Sample requires Samples > 0")
	}
	if t.Sample == nil && t.Samples != 0 {
		return errors.New("Samples can be set only with Sample")
	}
	if t.Variants < 0 {
		return errors.Errorf("Invalid number of variants %d", t.Variants)
	}
	if t.Timeout < TimeoutUnlimited || t.Runtime < 0 {
		return errors.New("Invalid timeout or runtime")
	}
	if t.Hugepages.Number < 0 {
		return errors.New("Invalid number of hugepages")
	}

	strategies := 0
	for _, set := range []bool{t.NeedsRofs, t.NeedsDevfs, t.needsDevice(), t.NeedsHugetlbfs} {
		if set {
			strategies++
		}
	}
	if strategies > 1 {
		return errors.New("Two or more of NeedsRofs, NeedsDevfs, NeedsDevice and NeedsHugetlbfs are set")
	}
	if t.mounts() && t.MntPoint == "" {
		return errors.New("MntPoint must be set")
	}
	if t.NeedsOverlay && !t.MountDevice {
		return errors.New("NeedsOverlay requires MountDevice")
	}
	if len(t.Children) > 0 && !t.ForksChild {
		return errors.New("Children require ForksChild")
	}
	return options.Validate(t.Options)
}
