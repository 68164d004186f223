// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package fsutil copies resource files into a test's working directory.
package fsutil

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"syscall"

	"github.com/linux-test-project/ltp-sub005/errors"
	"github.com/linux-test-project/ltp-sub005/internal/logging"
)

// CopyFile copies the regular file at path src to dst.
// dst is atomically replaced if it already exists and inherits src's mode.
// Ownership is preserved when running as root.
func CopyFile(src, dst string) error {
	sf, err := os.Open(src)
	if err != nil {
		return errors.Wrap(err, "failed to open src file")
	}
	defer sf.Close()

	fi, err := sf.Stat()
	if err != nil {
		return errors.Wrap(err, "failed to stat src file")
	} else if !fi.Mode().IsRegular() {
		return errors.Errorf("source not regular file (mode %s)", fi.Mode())
	}

	df, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".")
	if err != nil {
		return errors.Wrap(err, "failed to create tmp file")
	}
	// Plain read/write; copy_file_range misbehaves on zero-sized sysfs files.
	if _, err := io.Copy(struct{ io.Writer }{df}, struct{ io.Reader }{sf}); err != nil {
		df.Close()
		os.Remove(df.Name())
		return errors.Wrap(err, "failed to copy data from src file to tmp file")
	}
	if err := df.Close(); err != nil {
		os.Remove(df.Name())
		return errors.Wrap(err, "failed to close tmp file")
	}

	if err := os.Chmod(df.Name(), fi.Mode()); err != nil {
		os.Remove(df.Name())
		return errors.Wrap(err, "failed to change permissions of tmp file")
	}
	if os.Geteuid() == 0 {
		st := fi.Sys().(*syscall.Stat_t)
		if err := os.Chown(df.Name(), int(st.Uid), int(st.Gid)); err != nil {
			os.Remove(df.Name())
			return errors.Wrap(err, "failed to change owner of tmp file")
		}
	}
	if err := os.Rename(df.Name(), dst); err != nil {
		os.Remove(df.Name())
		return errors.Wrap(err, "failed to rename tmp file to dst file")
	}
	return nil
}

// ResourceDirs returns the directories searched for a test's resource
// files, in order: the directory the test was started from, the data
// directory under ltproot and the directory holding the test binary.
func ResourceDirs(startDir, ltproot, testName, exeDir string) []string {
	var dirs []string
	if startDir != "" {
		dirs = append(dirs, startDir)
	}
	if ltproot != "" {
		dirs = append(dirs, filepath.Join(ltproot, "testcases", "data", testName))
	}
	if exeDir != "" && exeDir != startDir {
		dirs = append(dirs, exeDir)
	}
	return dirs
}

// CopyResources copies each named file from the first of dirs that holds it
// into dst.
func CopyResources(ctx context.Context, names, dirs []string, dst string) error {
	for _, name := range names {
		if err := copyResource(ctx, name, dirs, dst); err != nil {
			return err
		}
	}
	return nil
}

func copyResource(ctx context.Context, name string, dirs []string, dst string) error {
	if filepath.IsAbs(name) {
		return errors.Errorf("resource file %q must be relative", name)
	}
	for _, dir := range dirs {
		src := filepath.Join(dir, name)
		if _, err := os.Stat(src); err != nil {
			continue
		}
		target := filepath.Join(dst, filepath.Base(name))
		if err := CopyFile(src, target); err != nil {
			return errors.Wrapf(err, "failed to copy resource %s", src)
		}
		logging.Debugf(ctx, "Copied resource %s to %s", src, target)
		return nil
	}
	return errors.Errorf("failed to copy resource '%s'", name)
}
