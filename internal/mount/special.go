// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package mount

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	"github.com/linux-test-project/ltp-sub005/errors"
	"github.com/linux-test-project/ltp-sub005/internal/result"
)

// Overlay describes an overlay mounted on top of a base mountpoint.
type Overlay struct {
	Lower, Upper, Work, Merged string
}

// NewOverlay lays out an overlay below base (lower, upper and work) merged
// at merged.
func NewOverlay(base, merged string) Overlay {
	return Overlay{
		Lower:  filepath.Join(base, "lower"),
		Upper:  filepath.Join(base, "upper"),
		Work:   filepath.Join(base, "work"),
		Merged: merged,
	}
}

// Options returns the overlay mount data.
func (o Overlay) Options() string {
	return fmt.Sprintf("lowerdir=%s,upperdir=%s,workdir=%s", o.Lower, o.Upper, o.Work)
}

// MountOverlay creates the overlay directories and mounts the overlay.
func (m *Manager) MountOverlay(ctx context.Context, o Overlay) error {
	for _, d := range []string{o.Lower, o.Upper, o.Work, o.Merged} {
		if err := os.MkdirAll(d, 0777); err != nil {
			return errors.Wrapf(err, "failed to create %s", d)
		}
	}
	err := m.Mount(ctx, "overlay", o.Merged, "overlay", 0, o.Options())
	if result.IsConf(err) {
		return result.Conff("overlayfs is not configured in this kernel")
	}
	return err
}

// MountDevfs mounts a tmpfs that allows device nodes at target.
func (m *Manager) MountDevfs(ctx context.Context, target string) error {
	return m.Mount(ctx, "ltp-devfs", target, "tmpfs", 0, "")
}

// MountHugetlbfs mounts hugetlbfs at target.
func (m *Manager) MountHugetlbfs(ctx context.Context, target string) error {
	return m.Mount(ctx, "none", target, "hugetlbfs", 0, "")
}

// MountRofs mounts a read-only tmpfs at target. A directory and a file are
// created before the remount so that tests have something to fail to modify.
func (m *Manager) MountRofs(ctx context.Context, target string) error {
	if err := m.Mount(ctx, "ltp-rofs", target, "tmpfs", 0, ""); err != nil {
		return err
	}
	dir := filepath.Join(target, "dir")
	if err := os.Mkdir(dir, 0777); err != nil {
		return errors.Wrapf(err, "failed to create %s", dir)
	}
	if err := os.WriteFile(filepath.Join(dir, "file"), nil, 0666); err != nil {
		return errors.Wrap(err, "failed to populate read-only fs")
	}
	return m.Mount(ctx, "ltp-rofs", target, "tmpfs", unix.MS_REMOUNT|unix.MS_RDONLY, "")
}
