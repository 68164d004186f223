// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package wallclock

import (
	"testing"

	"golang.org/x/sys/unix"

	"github.com/linux-test-project/ltp-sub005/internal/logging/loggingtest"
)

type fakeClocks struct {
	now  map[int32]int64
	sets int
}

func (f *fakeClocks) Get(id int32) (unix.Timespec, error) {
	return unix.NsecToTimespec(f.now[id]), nil
}

func (f *fakeClocks) Set(id int32, ts unix.Timespec) error {
	f.sets++
	f.now[id] = ts.Nano()
	return nil
}

func TestRestoreAdvancesByElapsed(t *testing.T) {
	ctx, _ := loggingtest.Context(t)
	f := &fakeClocks{now: map[int32]int64{
		unix.CLOCK_REALTIME:      1_700_000_000_000_000_000,
		unix.CLOCK_MONOTONIC_RAW: 5_000_000_000,
	}}
	s, err := SaveWith(ctx, f)
	if err != nil {
		t.Fatal("SaveWith: ", err)
	}

	// The test moves the wall clock back a day while 3s pass.
	f.now[unix.CLOCK_REALTIME] -= 86400 * 1_000_000_000
	f.now[unix.CLOCK_MONOTONIC_RAW] += 3_000_000_000

	if err := s.Restore(ctx); err != nil {
		t.Fatal("Restore: ", err)
	}
	if got, want := f.now[unix.CLOCK_REALTIME], int64(1_700_000_003_000_000_000); got != want {
		t.Errorf("CLOCK_REALTIME = %d after Restore; want %d", got, want)
	}
	if err := s.Restore(ctx); err != nil {
		t.Fatal("second Restore: ", err)
	}
	if f.sets != 1 {
		t.Errorf("clock set %d times; want 1", f.sets)
	}
}

func TestKernelClocksSetInvalid(t *testing.T) {
	const badClock = 1000
	var k kernelClocks
	ts, err := k.Get(unix.CLOCK_REALTIME)
	if err != nil {
		t.Fatal("Get: ", err)
	}
	if err := k.Set(badClock, ts); err != unix.EINVAL {
		t.Errorf("Set(%d) = %v; want %v", badClock, err, unix.EINVAL)
	}
}
