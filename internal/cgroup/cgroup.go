// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package cgroup mounts cgroup controllers for a test and gives the test a
// private directory below each of them.
package cgroup

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"github.com/linux-test-project/ltp-sub005/errors"
	"github.com/linux-test-project/ltp-sub005/internal/logging"
	"github.com/linux-test-project/ltp-sub005/internal/mount"
	"github.com/linux-test-project/ltp-sub005/internal/result"
)

// Version is a cgroup hierarchy version.
type Version int

const (
	// V1 is the legacy per-controller hierarchy.
	V1 Version = 1
	// V2 is the unified hierarchy.
	V2 Version = 2
)

func (v Version) String() string {
	return "v" + strconv.Itoa(int(v))
}

// Mounter is the subset of mount.Manager used here.
type Mounter interface {
	Mount(ctx context.Context, source, target, fstype string, flags uintptr, data string) error
	Umount(ctx context.Context, target string) error
}

// Paths locates the kernel tables consulted for detection.
type Paths struct {
	Filesystems string // normally /proc/filesystems
	Mounts      string // normally /proc/mounts
}

// DefaultPaths are the kernel's tables.
var DefaultPaths = Paths{Filesystems: "/proc/filesystems", Mounts: mount.ProcMounts}

// Manager mounts controllers and tracks the private directories.
type Manager struct {
	m     Mounter
	paths Paths
	reg   Registry
	ver   Version
	newID func() string
	rmdir func(path string) error
}

// NewManager returns a Manager using m for mounting.
func NewManager(m Mounter, paths Paths) *Manager {
	return &Manager{m: m, paths: paths, newID: uuid.NewString, rmdir: unix.Rmdir}
}

// Registry returns the registry of mounted controllers.
func (g *Manager) Registry() *Registry {
	return &g.reg
}

func readFilesystems(path string) (map[string]bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s", path)
	}
	defer f.Close()
	fss := make(map[string]bool)
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) > 0 {
			fss[fields[len(fields)-1]] = true
		}
	}
	return fss, sc.Err()
}

// DetectVersion decides which hierarchy to use. The unified hierarchy is
// preferred, unless it is supported but unmounted while a legacy hierarchy
// is mounted.
func (g *Manager) DetectVersion() (Version, error) {
	fss, err := readFilesystems(g.paths.Filesystems)
	if err != nil {
		return 0, err
	}
	tbl, err := mount.ReadTable(g.paths.Mounts)
	if err != nil {
		return 0, err
	}
	switch {
	case fss["cgroup2"]:
		if len(tbl.ByType("cgroup2")) == 0 && len(tbl.ByType("cgroup")) > 0 {
			return V1, nil
		}
		return V2, nil
	case fss["cgroup"]:
		return V1, nil
	}
	return 0, result.Conff("Cgroup is not configured")
}

// MountDir returns where ctrl should be set up: an existing mount of its
// hierarchy, or a new directory below base.
func (g *Manager) MountDir(ctrl, base string) (string, error) {
	if g.ver == 0 {
		v, err := g.DetectVersion()
		if err != nil {
			return "", err
		}
		g.ver = v
	}
	tbl, err := mount.ReadTable(g.paths.Mounts)
	if err != nil {
		return "", err
	}
	if g.ver == V2 {
		if es := tbl.ByType("cgroup2"); len(es) > 0 {
			return es[0].Mountpoint, nil
		}
		return filepath.Join(base, "cgroup_unified"), nil
	}
	for _, e := range tbl.ByType("cgroup") {
		if e.HasOption(ctrl) {
			return e.Mountpoint, nil
		}
	}
	return filepath.Join(base, "cgroup_"+ctrl), nil
}

// Version returns the version detected by the first Mount.
func (g *Manager) Version() Version {
	return g.ver
}

// Mount mounts controller ctrl at dir, unless something is already mounted
// there, and creates the private directory below it.
func (g *Manager) Mount(ctx context.Context, ctrl, dir string) (private string, err error) {
	if g.ver == 0 {
		if g.ver, err = g.DetectVersion(); err != nil {
			return "", err
		}
		logging.Infof(ctx, "Using cgroup %v", g.ver)
	}
	if e := g.reg.lookup(dir); e != nil {
		// Controllers share the unified hierarchy.
		if g.ver != V2 {
			return "", errors.Errorf("%s is already set up", dir)
		}
		if err := writeFile(filepath.Join(dir, "cgroup.subtree_control"), "+"+ctrl); err != nil {
			return "", errors.Wrapf(err, "failed to enable %s controller", ctrl)
		}
		return e.private, nil
	}

	e := &entry{mnt: dir, ctrl: ctrl}
	tbl, err := mount.ReadTable(g.paths.Mounts)
	if err != nil {
		return "", err
	}
	if tbl.Find(dir) == nil {
		if err := os.MkdirAll(dir, 0777); err != nil {
			return "", errors.Wrapf(err, "failed to create %s", dir)
		}
		if g.ver == V2 {
			err = g.m.Mount(ctx, "cgroup2", dir, "cgroup2", 0, "")
		} else {
			err = g.m.Mount(ctx, ctrl, dir, "cgroup", 0, ctrl)
		}
		if err != nil {
			os.Remove(dir)
			return "", err
		}
		e.mounted = true
	}

	switch {
	case g.ver == V2:
		if err := writeFile(filepath.Join(dir, "cgroup.subtree_control"), "+"+ctrl); err != nil {
			g.undoMount(ctx, e)
			return "", errors.Wrapf(err, "failed to enable %s controller", ctrl)
		}
	case ctrl == "cpuset":
		// Without this, children start with empty cpu and memory node
		// masks and every task move fails with ENOSPC.
		path := filepath.Join(dir, "cgroup.clone_children")
		b, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			g.undoMount(ctx, e)
			return "", errors.Wrap(err, "failed to read cpuset cgroup.clone_children")
		}
		e.cloneChildren = strings.TrimSpace(string(b))
		if err := writeFile(path, "1"); err != nil {
			g.undoMount(ctx, e)
			return "", errors.Wrap(err, "failed to set cpuset cgroup.clone_children")
		}
	}

	e.private = filepath.Join(dir, "ltp_"+g.newID())
	if err := os.Mkdir(e.private, 0777); err != nil {
		g.undoMount(ctx, e)
		return "", errors.Wrapf(err, "failed to create %s", e.private)
	}
	g.reg.add(e)
	return e.private, nil
}

func (g *Manager) undoMount(ctx context.Context, e *entry) {
	if e.mounted {
		g.m.Umount(ctx, e.mnt)
		g.rmdir(e.mnt)
	}
}

func (g *Manager) procsFile() string {
	if g.ver == V2 {
		return "cgroup.procs"
	}
	return "tasks"
}

// MoveCurrent moves the calling process into the private directory of dir.
func (g *Manager) MoveCurrent(dir string) error {
	return g.Move(dir, os.Getpid())
}

// Move moves process pid into the private directory of dir.
func (g *Manager) Move(dir string, pid int) error {
	e := g.reg.lookup(dir)
	if e == nil {
		return errors.Errorf("%s is not set up", dir)
	}
	return writeFile(filepath.Join(e.private, g.procsFile()), strconv.Itoa(pid))
}

// Set writes value to the control file name in the private directory of dir.
func (g *Manager) Set(dir, name, value string) error {
	e := g.reg.lookup(dir)
	if e == nil {
		return errors.Errorf("%s is not set up", dir)
	}
	return writeFile(filepath.Join(e.private, name), value)
}

// Umount migrates the tasks of the private directory of dir to its parent,
// removes the directory and unmounts dir if Mount mounted it.
func (g *Manager) Umount(ctx context.Context, dir string) error {
	e := g.reg.lookup(dir)
	if e == nil {
		return nil
	}
	procs := g.procsFile()
	b, err := os.ReadFile(filepath.Join(e.private, procs))
	if err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "failed to read tasks of %s", e.private)
	}
	for _, pid := range strings.Fields(string(b)) {
		if err := writeFile(filepath.Join(e.mnt, procs), pid); err != nil {
			logging.Infof(ctx, "Failed to move %s to %s: %v", pid, e.mnt, err)
		}
	}
	if err := g.rmdir(e.private); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "failed to remove %s", e.private)
	}
	g.reg.remove(dir)
	if e.cloneChildren != "" && e.cloneChildren != "1" {
		if err := writeFile(filepath.Join(dir, "cgroup.clone_children"), e.cloneChildren); err != nil {
			logging.Infof(ctx, "Failed to restore cpuset cgroup.clone_children: %v", err)
		}
	}
	if !e.mounted {
		return nil
	}
	if err := g.m.Umount(ctx, dir); err != nil {
		return err
	}
	if err := g.rmdir(dir); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "failed to remove %s", dir)
	}
	return nil
}

// UmountAll tears down every registered controller, most recent first.
func (g *Manager) UmountAll(ctx context.Context) error {
	var firstErr error
	for _, mnt := range g.reg.Mountpoints() {
		if err := g.Umount(ctx, mnt); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func writeFile(path, value string) error {
	return os.WriteFile(path, []byte(value), 0644)
}
