// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package fstype discovers the filesystems a test can be run on.
package fstype

import (
	"bufio"
	"context"
	"os"
	"os/exec"
	"strings"

	"golang.org/x/exp/slices"

	"github.com/linux-test-project/ltp-sub005/errors"
	"github.com/linux-test-project/ltp-sub005/internal/logging"
)

// Known lists the filesystems tried in all-filesystems mode, in order.
var Known = []string{
	"ext2",
	"ext3",
	"ext4",
	"xfs",
	"btrfs",
	"bcachefs",
	"vfat",
	"exfat",
	"ntfs",
	"tmpfs",
}

// ProcFilesystems lists the filesystems known to the kernel.
const ProcFilesystems = "/proc/filesystems"

// RunFunc runs a command and returns its combined output.
type RunFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

// Prober answers questions about filesystem support.
type Prober struct {
	procFilesystems string
	lookPath        func(string) (string, error)
	run             RunFunc
}

// NewProber returns a Prober looking at the running system.
func NewProber() *Prober {
	return &Prober{
		procFilesystems: ProcFilesystems,
		lookPath:        exec.LookPath,
		run: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			return exec.CommandContext(ctx, name, args...).CombinedOutput()
		},
	}
}

// NewProberForTest returns a Prober with injected system access.
func NewProberForTest(procFilesystems string, lookPath func(string) (string, error), run RunFunc) *Prober {
	return &Prober{procFilesystems: procFilesystems, lookPath: lookPath, run: run}
}

func (p *Prober) kernelFilesystems() (map[string]bool, error) {
	f, err := os.Open(p.procFilesystems)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	fss := make(map[string]bool)
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		fss[fields[len(fields)-1]] = true
	}
	return fss, sc.Err()
}

// KernelSupports reports whether fs can be mounted, natively or through a
// FUSE helper.
func (p *Prober) KernelSupports(ctx context.Context, fs string) bool {
	fss, err := p.kernelFilesystems()
	if err != nil {
		logging.Infof(ctx, "Failed to read %s: %v", p.procFilesystems, err)
		return false
	}
	if fss[fs] {
		logging.Debugf(ctx, "Kernel supports %s", fs)
		return true
	}
	if fss["fuse"] {
		if _, err := p.lookPath("mount." + fs); err == nil {
			logging.Debugf(ctx, "FUSE supports %s", fs)
			return true
		}
	}
	logging.Debugf(ctx, "%s is not supported by kernel", fs)
	return false
}

// HasMkfs reports whether a mkfs tool exists for fs. tmpfs needs none.
func (p *Prober) HasMkfs(ctx context.Context, fs string) bool {
	if fs == "tmpfs" {
		return true
	}
	if _, err := p.lookPath("mkfs." + fs); err != nil {
		logging.Debugf(ctx, "mkfs.%s does not exist", fs)
		return false
	}
	return true
}

// IsSupported reports whether a test can run on fs.
func (p *Prober) IsSupported(ctx context.Context, fs string) bool {
	return p.KernelSupports(ctx, fs) && p.HasMkfs(ctx, fs)
}

// Supported returns the filesystems of Known that are usable and not in
// skip. If single is set, only that filesystem is considered.
func (p *Prober) Supported(ctx context.Context, skip []string, single string) []string {
	if single != "" {
		logging.Infof(ctx, "WARNING: testing only %s", single)
		if p.IsSupported(ctx, single) {
			return []string{single}
		}
		return nil
	}
	var fss []string
	for _, fs := range Known {
		if slices.Contains(skip, fs) {
			logging.Infof(ctx, "Skipping %s as requested by the test", fs)
			continue
		}
		if p.IsSupported(ctx, fs) {
			fss = append(fss, fs)
		}
	}
	return fss
}

// CommandVersion runs "name -V" and extracts the first version number from
// its output.
func (p *Prober) CommandVersion(ctx context.Context, name string) (Version, error) {
	out, err := p.run(ctx, name, "-V")
	if err != nil && len(out) == 0 {
		return nil, errors.Wrapf(err, "failed to run %s -V", name)
	}
	v, ok := FindVersion(string(out))
	if !ok {
		return nil, errors.Errorf("no version in %s output %q", name, strings.TrimSpace(string(out)))
	}
	return v, nil
}

// CheckCommand checks a requirement such as "mkfs.ext4 >= 1.43.0". A bare
// command name only requires the command to exist. It returns false with a
// reason if the requirement is unmet.
func (p *Prober) CheckCommand(ctx context.Context, req string) (bool, string, error) {
	r, err := ParseRequirement(req)
	if err != nil {
		return false, "", err
	}
	if _, err := p.lookPath(r.Command); err != nil {
		return false, "Couldn't find '" + r.Command + "' in $PATH", nil
	}
	if r.Op == "" {
		return true, "", nil
	}
	have, err := p.CommandVersion(ctx, r.Command)
	if err != nil {
		return false, "", err
	}
	if !r.Satisfied(have) {
		return false, r.Command + " required " + r.Op + " " + r.Version.String() + " but " + have.String() + " found", nil
	}
	return true, "", nil
}
