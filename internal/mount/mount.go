// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package mount mounts and unmounts the filesystems a test runs on.
package mount

import (
	"context"
	"fmt"
	"time"

	"code.cloudfoundry.org/clock"
	"golang.org/x/sys/unix"

	"github.com/linux-test-project/ltp-sub005/errors"
	"github.com/linux-test-project/ltp-sub005/internal/logging"
	"github.com/linux-test-project/ltp-sub005/internal/result"
)

const (
	// UmountRetries is the number of umount attempts on EBUSY.
	UmountRetries = 50
	// UmountInterval is the sleep between umount attempts.
	UmountInterval = 100 * time.Millisecond
)

// Syscalls are the kernel entry points used by Manager.
type Syscalls struct {
	Mount   func(source, target, fstype string, flags uintptr, data string) error
	Unmount func(target string, flags int) error
}

// WarnFunc reports a TWARN result.
type WarnFunc func(ctx context.Context, msg string)

// Manager mounts and unmounts filesystems.
type Manager struct {
	sys   Syscalls
	clock clock.Clock
	warn  WarnFunc
}

// NewManager returns a Manager using the kernel. warn receives the warnings
// raised while unmounting.
func NewManager(warn WarnFunc) *Manager {
	return NewManagerForTest(Syscalls{Mount: unix.Mount, Unmount: unix.Unmount}, clock.NewClock(), warn)
}

// NewManagerForTest returns a Manager with substituted dependencies.
func NewManagerForTest(sys Syscalls, clk clock.Clock, warn WarnFunc) *Manager {
	if warn == nil {
		warn = func(ctx context.Context, msg string) { logging.Info(ctx, msg) }
	}
	return &Manager{sys: sys, clock: clk, warn: warn}
}

// Mount mounts source on target. A filesystem unknown to the kernel is
// reported as a ConfError.
func (m *Manager) Mount(ctx context.Context, source, target, fstype string, flags uintptr, data string) error {
	logging.Infof(ctx, "Mounting %s to %s fstype=%s flags=%x", source, target, fstype, flags)
	err := m.sys.Mount(source, target, fstype, flags, data)
	if err == nil {
		return nil
	}
	if errors.Errno(err) == unix.ENODEV {
		return result.Conff("%s not supported by kernel", fstype)
	}
	return errors.Wrapf(err, "mount(%s, %s, %s, %d, %q) failed", source, target, fstype, flags, data)
}

// Umount unmounts target. EBUSY is retried UmountRetries times,
// UmountInterval apart, since desktop services tend to probe fresh mounts;
// when the budget is exhausted a warning is raised and an error returned.
// Other errors are returned immediately.
func (m *Manager) Umount(ctx context.Context, target string) error {
	for i := 0; i < UmountRetries; i++ {
		err := m.sys.Unmount(target, 0)
		if err == nil {
			return nil
		}
		if errors.Errno(err) != unix.EBUSY {
			m.warn(ctx, fmt.Sprintf("umount('%s') failed with %v", target, err))
			return errors.Wrapf(err, "umount(%s) failed", target)
		}
		logging.Infof(ctx, "umount('%s') failed with EBUSY, try %2d...", target, i+1)
		if i == 0 {
			logging.Info(ctx, "Likely gvfsd-trash is probing newly mounted fs, kill it to speed up tests.")
		}
		m.clock.Sleep(UmountInterval)
	}
	m.warn(ctx, fmt.Sprintf("Failed to umount('%s') after %d retries", target, UmountRetries))
	return errors.Wrapf(unix.EBUSY, "umount(%s) failed", target)
}
