// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package device provides the block device a test formats and mounts: either
// a device supplied by the operator or a loop device over an image file.
package device

import (
	"context"
	"os"
	"path/filepath"

	"github.com/shirou/gopsutil/v3/disk"
	"golang.org/x/sys/unix"

	"github.com/linux-test-project/ltp-sub005/errors"
	"github.com/linux-test-project/ltp-sub005/internal/logging"
	"github.com/linux-test-project/ltp-sub005/internal/loopdev"
	"github.com/linux-test-project/ltp-sub005/internal/result"
)

const (
	// DefaultSizeMB is the size of a loop device when the test does not ask
	// for more.
	DefaultSizeMB = 300
	// DefaultFsType is used when LTP_DEV_FS_TYPE is unset.
	DefaultFsType = "ext2"
	// ImageName is the backing file of loop devices.
	ImageName = "test_dev.img"

	clearSize = 512 * 1024
)

// State is the lifecycle state of a Device.
type State int

const (
	// Unacquired means no device was acquired yet.
	Unacquired State = iota
	// Acquired means the device is held by the test.
	Acquired
	// Released means the device was given back.
	Released
)

func (s State) String() string {
	switch s {
	case Unacquired:
		return "unacquired"
	case Acquired:
		return "acquired"
	case Released:
		return "released"
	default:
		return "unknown"
	}
}

// Config describes the device to acquire.
type Config struct {
	// Dev is a device supplied by the operator (LTP_DEV). If empty, a loop
	// device is set up.
	Dev string
	// FsType is the default filesystem (LTP_DEV_FS_TYPE).
	FsType string
	// MinSizeMB is the minimal size; zero means DefaultSizeMB.
	MinSizeMB uint64
	// Dir holds the loop device image, normally the test temporary
	// directory.
	Dir string
}

// Device is the block device of one test run. At most one device is held at
// a time.
type Device struct {
	loops *loopdev.Manager
	// sizeOf returns the size of a block device in bytes.
	sizeOf func(path string) (uint64, error)
	// freeSpace returns the free bytes of the filesystem holding dir.
	freeSpace func(dir string) (uint64, error)

	state  State
	path   string
	fsType string
	sizeMB uint64
	image  string // backing file of a loop device; empty otherwise
}

// New returns an unacquired Device using loops for loop devices.
func New(loops *loopdev.Manager) *Device {
	return &Device{
		loops:     loops,
		sizeOf:    loopdev.Size,
		freeSpace: diskFree,
	}
}

func diskFree(dir string) (uint64, error) {
	u, err := disk.Usage(dir)
	if err != nil {
		return 0, err
	}
	return u.Free, nil
}

// State returns the lifecycle state.
func (d *Device) State() State { return d.state }

// Path returns the device node path.
func (d *Device) Path() string { return d.path }

// FsType returns the filesystem type the device is (to be) formatted with.
func (d *Device) FsType() string { return d.fsType }

// SetFsType overrides the filesystem type, e.g. per all-filesystems iteration.
func (d *Device) SetFsType(fs string) { d.fsType = fs }

// SizeMB returns the device size in MiB.
func (d *Device) SizeMB() uint64 { return d.sizeMB }

// Acquire obtains a device according to cfg. Acquiring while a device is
// already held fails without touching any device.
func (d *Device) Acquire(ctx context.Context, cfg Config) error {
	if d.state == Acquired {
		return errors.New("Device already acquired")
	}
	size := cfg.MinSizeMB
	if size == 0 {
		size = DefaultSizeMB
	}
	d.fsType = cfg.FsType
	if d.fsType == "" {
		d.fsType = DefaultFsType
	}

	if cfg.Dev != "" {
		if err := d.acquireExisting(ctx, cfg.Dev, size); err != nil {
			return err
		}
	} else if err := d.acquireLoop(ctx, cfg.Dir, size); err != nil {
		return err
	}
	d.state = Acquired
	return nil
}

func (d *Device) acquireExisting(ctx context.Context, dev string, size uint64) error {
	bytes, err := d.sizeOf(dev)
	if err != nil {
		return err
	}
	mb := bytes >> 20
	if mb < size {
		return result.Conff("Skipping $LTP_DEV size %dMB, requested size %dMB", mb, size)
	}
	if err := Clear(dev); err != nil {
		return err
	}
	logging.Infof(ctx, "Using test device LTP_DEV='%s'", dev)
	d.path, d.sizeMB, d.image = dev, mb, ""
	return nil
}

func (d *Device) acquireLoop(ctx context.Context, dir string, size uint64) error {
	if dir == "" {
		return errors.New("loop device needs a temporary directory")
	}
	free, err := d.freeSpace(dir)
	if err != nil {
		return errors.Wrapf(err, "failed to query free space of %s", dir)
	}
	if free < size<<20 {
		return result.Conff("Not enough free space on %s: need %dMB", dir, size)
	}

	dev, err := d.loops.FindFree(ctx)
	if err != nil {
		return result.Conff("Failed to acquire device: %v", err)
	}
	image := filepath.Join(dir, ImageName)
	if err := preallocate(image, size<<20); err != nil {
		return err
	}
	if err := d.loops.Attach(ctx, dev, image); err != nil {
		os.Remove(image)
		return err
	}
	logging.Infof(ctx, "Using test device %s size %dMB", dev, size)
	d.path, d.sizeMB, d.image = dev, size, image
	return nil
}

func preallocate(path string, size uint64) error {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return errors.Wrapf(err, "failed to create %s", path)
	}
	defer f.Close()
	if err := unix.Fallocate(int(f.Fd()), 0, 0, int64(size)); err == nil {
		return nil
	}
	if err := f.Truncate(int64(size)); err != nil {
		return errors.Wrapf(err, "failed to size %s", path)
	}
	return nil
}

// Clear zeroes the start of a device so that mkfs tools do not trip over a
// stale signature.
func Clear(path string) error {
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return errors.Wrapf(err, "failed to open %s", path)
	}
	defer f.Close()
	if _, err := f.Write(make([]byte, clearSize)); err != nil {
		return errors.Wrapf(err, "failed to clear %s", path)
	}
	return f.Sync()
}

// Release gives the device back. Loop devices are detached and their image
// removed. Releasing an unacquired device does nothing.
func (d *Device) Release(ctx context.Context) error {
	if d.state != Acquired {
		return nil
	}
	d.state = Released
	if d.image == "" {
		return nil
	}
	if err := d.loops.Detach(ctx, d.path); err != nil {
		return err
	}
	if err := os.Remove(d.image); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "failed to remove %s", d.image)
	}
	return nil
}
