// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package harness

import (
	"os"
	"path/filepath"

	"golang.org/x/exp/slices"

	"github.com/linux-test-project/ltp-sub005/errors"
	"github.com/linux-test-project/ltp-sub005/errors/stack"
	"github.com/linux-test-project/ltp-sub005/internal/device"
	"github.com/linux-test-project/ltp-sub005/internal/fsutil"
	"github.com/linux-test-project/ltp-sub005/internal/ipc"
	"github.com/linux-test-project/ltp-sub005/internal/loopdev"
	"github.com/linux-test-project/ltp-sub005/internal/mount"
	"github.com/linux-test-project/ltp-sub005/internal/result"
	"github.com/linux-test-project/ltp-sub005/internal/sysctl"
	"github.com/linux-test-project/ltp-sub005/internal/sysinfo"
	"github.com/linux-test-project/ltp-sub005/internal/tmpdir"
	"github.com/linux-test-project/ltp-sub005/internal/wallclock"
)

// overlayDir is the merged overlay directory below the temporary directory.
const overlayDir = "ovl"

// resources are what the library prepared for the test.
type resources struct {
	sysctl    sysctl.Store
	hugepages int
	tmp       *tmpdir.Dir
	mntpoint  string
	mounts    []string // special filesystems, in mount order
	fsMounts  []string // device and overlay mounts of the current filesystem
	overlay   string
	dev       *device.Device
	fsType    string
	clock     *wallclock.Snapshot
	taint     *sysinfo.TaintChecker
	cgroups   map[string]string // controller to private directory
	cgDirs    []string
}

// setup acquires the resources of the test in order. On error the caller
// aborts and cleanup releases what was acquired.
func (l *library) setup() error {
	ctx, t := l.ctx, l.t

	if t.Hugepages.Number > 0 {
		n, err := sysctl.ReserveHugepages(ctx, &l.res.sysctl, sysctl.DefaultHugepagePaths,
			t.Hugepages.Number, t.Hugepages.Required)
		if err != nil {
			return err
		}
		l.res.hugepages = n
	}

	if t.needsTmpdir() {
		root, err := tmpdir.Root(l.env.TmpDir)
		if err != nil {
			return err
		}
		d, err := tmpdir.Create(ctx, root, l.name)
		if err != nil {
			return err
		}
		l.res.tmp = d
	}

	for _, e := range t.SaveRestore {
		if err := l.res.sysctl.Save(ctx, e); err != nil {
			return err
		}
	}

	if t.MntPoint != "" {
		mnt := t.MntPoint
		if !filepath.IsAbs(mnt) {
			mnt = filepath.Join(l.res.tmp.Path(), mnt)
		}
		if err := os.MkdirAll(mnt, 0777); err != nil {
			return errors.Wrapf(err, "failed to create mountpoint %s", mnt)
		}
		l.res.mntpoint = mnt
	}
	if err := l.mountSpecial(); err != nil {
		return err
	}

	if t.needsDevice() {
		fsType := t.DevFsType
		if fsType == "" {
			fsType = l.env.DevFsType
		}
		dev := device.New(loopdev.NewManager())
		if err := dev.Acquire(ctx, device.Config{
			Dev:       l.env.Dev,
			FsType:    fsType,
			MinSizeMB: t.DevMinSizeMB,
			Dir:       l.res.tmp.Path(),
		}); err != nil {
			return err
		}
		l.res.dev = dev
		l.res.fsType = dev.FsType()
		if !t.AllFilesystems && (t.FormatDevice || t.MountDevice) {
			f := t.filesystem(l.res.fsType)
			if reason, err := l.fsUnusable(f); err != nil {
				return err
			} else if reason != "" {
				return result.Conff("%s", reason)
			}
			if err := l.prepareFs(f); err != nil {
				return err
			}
		}
	}

	if len(t.ResourceFiles) > 0 {
		exe, err := os.Executable()
		if err != nil {
			return errors.Wrap(err, "failed to locate test binary")
		}
		dirs := fsutil.ResourceDirs(l.startDir, l.env.LTPRoot, l.name, filepath.Dir(exe))
		if err := fsutil.CopyResources(ctx, t.ResourceFiles, dirs, l.res.tmp.Path()); err != nil {
			return err
		}
	}

	if t.RestoreWallclock {
		s, err := wallclock.Save(ctx)
		if err != nil {
			return err
		}
		l.res.clock = s
	}

	if t.TaintCheck != 0 {
		tc, err := sysinfo.NewTaintChecker(sysinfo.TaintPath, t.TaintCheck)
		if err != nil {
			return err
		}
		l.res.taint = tc
	}

	if len(t.NeedsCgroupCtrls) > 0 {
		if err := l.setupCgroups(); err != nil {
			return err
		}
	}
	return nil
}

// mountSpecial mounts the pseudo filesystem requested on the mountpoint.
func (l *library) mountSpecial() error {
	ctx, t, mnt := l.ctx, l.t, l.res.mntpoint
	var err error
	switch {
	case t.NeedsDevfs:
		err = l.mnt.MountDevfs(ctx, mnt)
	case t.NeedsRofs:
		err = l.mnt.MountRofs(ctx, mnt)
	case t.NeedsHugetlbfs:
		err = l.mnt.MountHugetlbfs(ctx, mnt)
	default:
		return nil
	}
	if err != nil {
		return err
	}
	l.res.mounts = append(l.res.mounts, mnt)
	l.region.SetFlag(ipc.FlagMntpointMounted, true)
	return nil
}

// prepareFs formats the device with f and mounts it when the test asks.
// tmpfs is mounted without a device.
func (l *library) prepareFs(f Filesystem) error {
	ctx, t := l.ctx, l.t
	flags := t.MntFlags | f.MntFlags
	data := f.MntData
	if data == "" {
		data = t.MntData
	}
	l.res.fsType = f.Type

	if f.Type == "tmpfs" {
		if err := l.mnt.Mount(ctx, "ltp-tmpfs", l.res.mntpoint, "tmpfs", flags, data); err != nil {
			return err
		}
		l.res.fsMounts = append(l.res.fsMounts, l.res.mntpoint)
		l.region.SetFlag(ipc.FlagMntpointMounted, true)
		return nil
	}

	dev := l.res.dev
	if err := l.formatter.Format(ctx, dev.Path(), f.Type, f.MkfsOpts, f.MkfsExtra); err != nil {
		return err
	}
	dev.SetFsType(f.Type)
	if !t.MountDevice {
		return nil
	}
	if err := l.mnt.Mount(ctx, dev.Path(), l.res.mntpoint, f.Type, flags, data); err != nil {
		return err
	}
	l.res.fsMounts = append(l.res.fsMounts, l.res.mntpoint)
	l.region.SetFlag(ipc.FlagMntpointMounted, true)

	if t.NeedsOverlay {
		o := mount.NewOverlay(l.res.mntpoint, filepath.Join(l.res.tmp.Path(), overlayDir))
		if err := l.mnt.MountOverlay(ctx, o); err != nil {
			return err
		}
		l.res.fsMounts = append(l.res.fsMounts, o.Merged)
		l.res.overlay = o.Merged
		l.region.SetFlag(ipc.FlagOverlayMounted, true)
	}
	return nil
}

// releaseFs unmounts what prepareFs mounted.
func (l *library) releaseFs() {
	for i := len(l.res.fsMounts) - 1; i >= 0; i-- {
		l.warn(l.mnt.Umount(l.ctx, l.res.fsMounts[i]))
	}
	l.res.fsMounts = nil
	l.res.overlay = ""
	l.region.SetFlag(ipc.FlagOverlayMounted, false)
	if len(l.res.mounts) == 0 {
		l.region.SetFlag(ipc.FlagMntpointMounted, false)
	}
}

// setupCgroups mounts the requested controllers and moves the library, and
// so every runner it starts, into the private directories.
func (l *library) setupCgroups() error {
	base, err := tmpdir.Root(l.env.TmpDir)
	if err != nil {
		return err
	}
	l.res.cgroups = make(map[string]string)
	for _, ctrl := range l.t.NeedsCgroupCtrls {
		dir, err := l.cg.MountDir(ctrl, base)
		if err != nil {
			return err
		}
		private, err := l.cg.Mount(l.ctx, ctrl, dir)
		if err != nil {
			return err
		}
		l.res.cgroups[ctrl] = private
		if !slices.Contains(l.res.cgDirs, dir) {
			l.res.cgDirs = append(l.res.cgDirs, dir)
		}
	}
	for _, dir := range l.res.cgDirs {
		if err := l.cg.MoveCurrent(dir); err != nil {
			return errors.Wrapf(err, "failed to join cgroup %s", dir)
		}
	}
	return nil
}

// warn reports a cleanup failure.
func (l *library) warn(err error) {
	if err != nil {
		l.rep.Report(stack.Caller(1), result.TWARN, err.Error())
	}
}

// cleanup releases the resources in reverse order of acquisition. It runs
// once; failures are warnings.
func (l *library) cleanup() {
	l.mu.Lock()
	if l.cleaned {
		l.mu.Unlock()
		return
	}
	l.cleaned = true
	l.mu.Unlock()

	l.rep.Soften(func() {
		ctx := l.ctx
		if len(l.res.cgDirs) > 0 {
			l.warn(l.cg.UmountAll(ctx))
		}
		if l.res.clock != nil {
			l.warn(l.res.clock.Restore(ctx))
		}
		if l.region != nil {
			l.releaseFs()
			for i := len(l.res.mounts) - 1; i >= 0; i-- {
				l.warn(l.mnt.Umount(ctx, l.res.mounts[i]))
			}
			l.res.mounts = nil
			l.region.SetFlag(ipc.FlagMntpointMounted, false)
		}
		if l.res.dev != nil {
			l.warn(l.res.dev.Release(ctx))
		}
		if l.res.tmp != nil {
			l.warn(l.res.tmp.Remove(ctx))
		}
		l.warn(l.res.sysctl.Restore(ctx))
	})
}
