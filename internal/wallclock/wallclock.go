// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package wallclock lets tests that change the system time put it back.
package wallclock

import (
	"context"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/linux-test-project/ltp-sub005/errors"
	"github.com/linux-test-project/ltp-sub005/internal/logging"
)

// Clocks reads and sets kernel clocks.
type Clocks interface {
	Get(id int32) (unix.Timespec, error)
	Set(id int32, ts unix.Timespec) error
}

type kernelClocks struct{}

func (kernelClocks) Get(id int32) (unix.Timespec, error) {
	var ts unix.Timespec
	err := unix.ClockGettime(id, &ts)
	return ts, err
}

func (kernelClocks) Set(id int32, ts unix.Timespec) error {
	if _, _, errno := unix.Syscall(unix.SYS_CLOCK_SETTIME, uintptr(id), uintptr(unsafe.Pointer(&ts)), 0); errno != 0 {
		return errno
	}
	return nil
}

// Snapshot is a saved wall-clock time paired with a monotonic reading.
type Snapshot struct {
	clk      Clocks
	real     unix.Timespec
	mono     unix.Timespec
	restored bool
}

// Save records the current time.
func Save(ctx context.Context) (*Snapshot, error) {
	return SaveWith(ctx, kernelClocks{})
}

// SaveWith records the current time read from clk.
func SaveWith(ctx context.Context, clk Clocks) (*Snapshot, error) {
	mono, err := clk.Get(unix.CLOCK_MONOTONIC_RAW)
	if err != nil {
		return nil, errors.Wrap(err, "clock_gettime(CLOCK_MONOTONIC_RAW) failed")
	}
	real, err := clk.Get(unix.CLOCK_REALTIME)
	if err != nil {
		return nil, errors.Wrap(err, "clock_gettime(CLOCK_REALTIME) failed")
	}
	logging.Debugf(ctx, "Saved wall clock %d.%09d", real.Sec, real.Nsec)
	return &Snapshot{clk: clk, real: real, mono: mono}, nil
}

// Restore sets the wall clock to the saved time advanced by the monotonic
// time elapsed since Save. Only the first call has any effect.
func (s *Snapshot) Restore(ctx context.Context) error {
	if s.restored {
		return nil
	}
	s.restored = true

	now, err := s.clk.Get(unix.CLOCK_MONOTONIC_RAW)
	if err != nil {
		return errors.Wrap(err, "clock_gettime(CLOCK_MONOTONIC_RAW) failed")
	}
	elapsed := now.Nano() - s.mono.Nano()
	target := unix.NsecToTimespec(s.real.Nano() + elapsed)
	if err := s.clk.Set(unix.CLOCK_REALTIME, target); err != nil {
		return errors.Wrap(err, "clock_settime(CLOCK_REALTIME) failed")
	}
	logging.Debugf(ctx, "Restored wall clock to %d.%09d", target.Sec, target.Nsec)
	return nil
}
