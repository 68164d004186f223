// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package device

import (
	"context"
	"os/exec"
	"strings"

	"github.com/linux-test-project/ltp-sub005/errors"
	"github.com/linux-test-project/ltp-sub005/internal/logging"
	"github.com/linux-test-project/ltp-sub005/internal/result"
	"github.com/linux-test-project/ltp-sub005/internal/shell"
)

// Formatter creates a filesystem on a device.
type Formatter interface {
	Format(ctx context.Context, dev, fsType string, opts []string, extra string) error
}

// RunFunc runs a command and returns its combined output.
type RunFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// Mkfs is a Formatter running mkfs.<fs>.
type Mkfs struct {
	run RunFunc
}

// NewMkfs returns a Formatter executing the system mkfs tools.
func NewMkfs() *Mkfs {
	return &Mkfs{run: runCommand}
}

// NewMkfsForTest returns a Mkfs running commands through run.
func NewMkfsForTest(run RunFunc) *Mkfs {
	return &Mkfs{run: run}
}

// MkfsArgs returns the mkfs command line for the given filesystem.
func MkfsArgs(dev, fsType string, opts []string, extra string) []string {
	args := []string{"mkfs." + fsType}
	switch fsType {
	case "ext2", "ext3", "ext4", "ntfs":
		args = append(args, "-F")
	case "xfs", "btrfs", "bcachefs":
		args = append(args, "-f")
	case "vfat":
		args = append(args, "-I")
	}
	args = append(args, opts...)
	args = append(args, dev)
	if extra != "" {
		args = append(args, extra)
	}
	return args
}

// Format formats dev. A missing mkfs tool is reported as a ConfError.
func (m *Mkfs) Format(ctx context.Context, dev, fsType string, opts []string, extra string) error {
	args := MkfsArgs(dev, fsType, opts, extra)
	logging.Infof(ctx, "Formatting %s with %s opts='%s' extra opts='%s'",
		dev, fsType, strings.Join(opts, " "), extra)
	logging.Debugf(ctx, "Running %s", shell.Join(args...))

	out, err := m.run(ctx, args[0], args[1:]...)
	if err != nil {
		var ee *exec.Error
		if errors.As(err, &ee) {
			return result.Conff("%s not found in $PATH", args[0])
		}
		return errors.Wrapf(err, "%s failed: %s", args[0], strings.TrimSpace(string(out)))
	}
	return nil
}
