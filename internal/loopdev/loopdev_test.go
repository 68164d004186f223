// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package loopdev

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"code.cloudfoundry.org/clock/fakeclock"
	"github.com/google/go-cmp/cmp"
	"golang.org/x/sys/unix"

	"github.com/linux-test-project/ltp-sub005/internal/logging/loggingtest"
	"github.com/linux-test-project/ltp-sub005/internal/testutil"
)

type fakeOps struct {
	mu       sync.Mutex
	freeIdx  int
	freeErr  error
	status   map[string]error
	clearErr []error // consumed one per ClearFD call
	clears   int
	attached map[string]string
}

func (o *fakeOps) GetFree() (int, error) { return o.freeIdx, o.freeErr }

func (o *fakeOps) Status(path string) error {
	if err, ok := o.status[filepath.Base(path)]; ok {
		return err
	}
	return nil
}

func (o *fakeOps) SetFD(path, file string) error {
	if o.attached == nil {
		o.attached = make(map[string]string)
	}
	o.attached[path] = file
	return nil
}

func (o *fakeOps) ClearFD(path string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.clears++
	if len(o.clearErr) == 0 {
		return nil
	}
	err := o.clearErr[0]
	o.clearErr = o.clearErr[1:]
	return err
}

func (o *fakeOps) clearCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.clears
}

func nodeDir(t *testing.T, n int) string {
	dir := testutil.TempDir(t)
	files := make(map[string]string)
	for i := 0; i < n; i++ {
		files["loop"+string(rune('0'+i))] = ""
	}
	testutil.WriteFiles(t, dir, files)
	return dir
}

func TestFindFreeControl(t *testing.T) {
	ctx, _ := loggingtest.Context(t)
	dir := nodeDir(t, 4)
	m := NewManagerForTest(&fakeOps{freeIdx: 3}, fakeclock.NewFakeClock(time.Unix(0, 0)), []string{dir})

	got, err := m.FindFree(ctx)
	if err != nil {
		t.Fatal("FindFree: ", err)
	}
	if want := filepath.Join(dir, "loop3"); got != want {
		t.Errorf("FindFree() = %s; want %s", got, want)
	}
}

func TestFindFreeScan(t *testing.T) {
	ctx, _ := loggingtest.Context(t)
	dir := nodeDir(t, 4)
	ops := &fakeOps{
		freeErr: unix.EACCES,
		status: map[string]error{
			"loop0": nil, // in use
			"loop1": unix.EBUSY,
			"loop2": unix.ENXIO,
		},
	}
	m := NewManagerForTest(ops, fakeclock.NewFakeClock(time.Unix(0, 0)), []string{"/nonexistent", dir})

	got, err := m.FindFree(ctx)
	if err != nil {
		t.Fatal("FindFree: ", err)
	}
	if want := filepath.Join(dir, "loop2"); got != want {
		t.Errorf("FindFree() = %s; want %s", got, want)
	}
}

func TestFindFreeNone(t *testing.T) {
	ctx, _ := loggingtest.Context(t)
	m := NewManagerForTest(&fakeOps{freeErr: unix.ENOENT}, fakeclock.NewFakeClock(time.Unix(0, 0)), []string{nodeDir(t, 2)})
	if dev, err := m.FindFree(ctx); err == nil {
		t.Errorf("FindFree() = %s; want error", dev)
	}
}

func TestAttach(t *testing.T) {
	ctx, _ := loggingtest.Context(t)
	ops := &fakeOps{}
	m := NewManagerForTest(ops, fakeclock.NewFakeClock(time.Unix(0, 0)), nil)
	if err := m.Attach(ctx, "/dev/loop0", "test_dev.img"); err != nil {
		t.Fatal("Attach: ", err)
	}
	if diff := cmp.Diff(ops.attached, map[string]string{"/dev/loop0": "test_dev.img"}); diff != "" {
		t.Errorf("attached mismatch (-got +want):\n%s", diff)
	}
}

// detach runs Detach while advancing the fake clock through every retry sleep.
func detach(t *testing.T, ops *fakeOps, sleeps int) error {
	t.Helper()
	fc := fakeclock.NewFakeClock(time.Unix(0, 0))
	m := NewManagerForTest(ops, fc, nil)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() { done <- m.Detach(ctx, "/dev/loop0") }()
	for i := 0; i < sleeps; i++ {
		fc.WaitForWatcherAndIncrement(DetachInterval)
	}
	select {
	case err := <-done:
		return err
	case <-time.After(10 * time.Second):
		t.Fatal("Detach did not return")
		return nil
	}
}

func TestDetachRetries(t *testing.T) {
	ops := &fakeOps{clearErr: []error{unix.EBUSY, unix.EBUSY, unix.EBUSY}}
	if err := detach(t, ops, 3); err != nil {
		t.Error("Detach: ", err)
	}
	if got := ops.clearCount(); got != 4 {
		t.Errorf("ClearFD called %d times; want 4", got)
	}
}

func TestDetachGivesUp(t *testing.T) {
	var errs []error
	for i := 0; i < DetachRetries; i++ {
		errs = append(errs, unix.EBUSY)
	}
	ops := &fakeOps{clearErr: errs}
	if err := detach(t, ops, DetachRetries); err == nil {
		t.Error("Detach succeeded on a permanently busy device")
	}
	if got := ops.clearCount(); got != DetachRetries {
		t.Errorf("ClearFD called %d times; want %d", got, DetachRetries)
	}
}

func TestDetachOtherError(t *testing.T) {
	ops := &fakeOps{clearErr: []error{unix.EPERM}}
	if err := detach(t, ops, 0); err == nil {
		t.Error("Detach succeeded despite EPERM")
	}
	ops = &fakeOps{clearErr: []error{unix.ENXIO}}
	if err := detach(t, ops, 0); err != nil {
		t.Error("Detach of an unattached device failed: ", err)
	}
}
