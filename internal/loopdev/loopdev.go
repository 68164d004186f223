// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package loopdev finds, attaches and detaches loop devices.
package loopdev

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"
	"unsafe"

	"code.cloudfoundry.org/clock"
	"golang.org/x/sys/unix"

	"github.com/linux-test-project/ltp-sub005/errors"
	"github.com/linux-test-project/ltp-sub005/internal/logging"
)

const (
	controlPath = "/dev/loop-control"
	// maxScan is the number of device nodes probed when the control
	// interface is unusable.
	maxScan = 256

	// DetachRetries is the number of LOOP_CLR_FD attempts.
	DetachRetries = 40
	// DetachInterval is the sleep between LOOP_CLR_FD attempts.
	DetachInterval = 50 * time.Millisecond
)

// Ops is the kernel interface used by the package. Tests substitute it.
type Ops interface {
	// GetFree returns the index of a free loop device via the control node.
	GetFree() (int, error)
	// Status probes the device node at path with LOOP_GET_STATUS64.
	Status(path string) error
	// SetFD attaches file to the device at path and sets its name.
	SetFD(path, file string) error
	// ClearFD detaches the device at path.
	ClearFD(path string) error
}

// Manager acquires loop devices.
type Manager struct {
	ops   Ops
	clock clock.Clock
	// nodeDirs are the directories searched for loop%d nodes.
	nodeDirs []string
}

// NewManager returns a Manager backed by the kernel.
func NewManager() *Manager {
	return NewManagerForTest(kernelOps{}, clock.NewClock(), []string{"/dev", "/dev/block"})
}

// NewManagerForTest returns a Manager with substituted dependencies.
func NewManagerForTest(ops Ops, clk clock.Clock, nodeDirs []string) *Manager {
	return &Manager{ops: ops, clock: clk, nodeDirs: nodeDirs}
}

func (m *Manager) nodePath(i int) (string, bool) {
	for _, dir := range m.nodeDirs {
		p := filepath.Join(dir, fmt.Sprintf("loop%d", i))
		if _, err := os.Stat(p); err == nil {
			return p, true
		}
	}
	return "", false
}

// FindFree returns the path of an unused loop device. The control interface
// is preferred; if it is missing or not permitted, device nodes are probed
// one by one and a device reporting ENXIO is considered free.
func (m *Manager) FindFree(ctx context.Context) (string, error) {
	i, err := m.ops.GetFree()
	if err == nil {
		if p, ok := m.nodePath(i); ok {
			logging.Debugf(ctx, "Found free device %d '%s'", i, p)
			return p, nil
		}
		logging.Infof(ctx, "Couldn't find free loop device node %d, scanning", i)
	} else {
		logging.Debugf(ctx, "Couldn't use %s (%v), scanning device nodes", controlPath, err)
	}

	for i := 0; i < maxScan; i++ {
		p, ok := m.nodePath(i)
		if !ok {
			continue
		}
		if err := m.ops.Status(p); errors.Errno(err) == unix.ENXIO {
			logging.Debugf(ctx, "Found free device %d '%s'", i, p)
			return p, nil
		}
	}
	return "", errors.New("no free loop device found")
}

// Attach attaches file to the loop device at dev.
func (m *Manager) Attach(ctx context.Context, dev, file string) error {
	if err := m.ops.SetFD(dev, file); err != nil {
		return errors.Wrapf(err, "failed to attach %s to %s", file, dev)
	}
	logging.Debugf(ctx, "Attached %s to %s", file, dev)
	return nil
}

// Detach detaches the loop device at dev, retrying while the device is busy.
func (m *Manager) Detach(ctx context.Context, dev string) error {
	var err error
	for i := 0; i < DetachRetries; i++ {
		err = m.ops.ClearFD(dev)
		switch errors.Errno(err) {
		case 0:
			return nil
		case unix.ENXIO:
			// Already detached.
			return nil
		case unix.EBUSY:
			m.clock.Sleep(DetachInterval)
			continue
		}
		return errors.Wrapf(err, "failed to detach %s", dev)
	}
	logging.Infof(ctx, "Device %s still busy after %d attempts", dev, DetachRetries)
	return errors.Wrapf(err, "failed to detach %s", dev)
}

// Size returns the size of the block device at path in bytes.
func Size(path string) (uint64, error) {
	fd, err := unix.Open(path, unix.O_RDONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to open %s", path)
	}
	defer unix.Close(fd)
	var size uint64
	if _, _, e := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), unix.BLKGETSIZE64, uintptr(unsafe.Pointer(&size))); e != 0 {
		return 0, errors.Wrapf(e, "BLKGETSIZE64 on %s failed", path)
	}
	return size, nil
}

type kernelOps struct{}

func (kernelOps) GetFree() (int, error) {
	fd, err := unix.Open(controlPath, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return 0, err
	}
	defer unix.Close(fd)
	return unix.IoctlRetInt(fd, unix.LOOP_CTL_GET_FREE)
}

func (kernelOps) Status(path string) error {
	fd, err := unix.Open(path, unix.O_RDONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		return err
	}
	defer unix.Close(fd)
	_, err = unix.IoctlLoopGetStatus64(fd)
	return err
}

func (kernelOps) SetFD(path, file string) error {
	dev, err := unix.Open(path, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return err
	}
	defer unix.Close(dev)
	f, err := unix.Open(file, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return err
	}
	defer unix.Close(f)

	if err := unix.IoctlSetInt(dev, unix.LOOP_SET_FD, f); err != nil {
		return errors.Wrap(err, "LOOP_SET_FD failed")
	}
	info := &unix.LoopInfo64{}
	copy(info.File_name[:len(info.File_name)-1], file)
	if err := unix.IoctlLoopSetStatus64(dev, info); err != nil {
		unix.IoctlSetInt(dev, unix.LOOP_CLR_FD, 0)
		return errors.Wrap(err, "LOOP_SET_STATUS64 failed")
	}
	return nil
}

func (kernelOps) ClearFD(path string) error {
	fd, err := unix.Open(path, unix.O_RDONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		return err
	}
	defer unix.Close(fd)
	return unix.IoctlSetInt(fd, unix.LOOP_CLR_FD, 0)
}
