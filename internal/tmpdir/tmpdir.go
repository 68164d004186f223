// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package tmpdir manages the per-test temporary working directory.
package tmpdir

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/linux-test-project/ltp-sub005/errors"
	"github.com/linux-test-project/ltp-sub005/internal/logging"
)

// DefaultRoot is used when TMPDIR is unset or empty.
const DefaultRoot = "/tmp"

// Dir is a created temporary directory the process has changed into.
type Dir struct {
	path string
	prev string
}

// Root returns the root for temporary directories given the value of
// TMPDIR. The root must be an absolute path.
func Root(env string) (string, error) {
	if env == "" {
		return DefaultRoot, nil
	}
	if !filepath.IsAbs(env) {
		return "", errors.Errorf("TMPDIR must be an absolute pathname, got %q", env)
	}
	return filepath.Clean(env), nil
}

// Prefix returns the directory name prefix for a test: "LTP_" followed by the
// first three characters of the test name.
func Prefix(testName string) string {
	name := filepath.Base(testName)
	if len(name) > 3 {
		name = name[:3]
	}
	return "LTP_" + name
}

// Create creates a unique directory under root for testName, makes it
// world-writable and changes the working directory into it. On failure
// nothing is left behind.
func Create(ctx context.Context, root, testName string) (*Dir, error) {
	prev, err := os.Getwd()
	if err != nil {
		return nil, errors.Wrap(err, "failed to get working directory")
	}
	path, err := os.MkdirTemp(root, Prefix(testName)+"*")
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create temporary directory under %s", root)
	}
	d := &Dir{path: path, prev: prev}
	// Children may drop privileges and still need to write here.
	if err := os.Chmod(path, 0777); err != nil {
		d.removeTree()
		return nil, errors.Wrapf(err, "failed to chmod %s", path)
	}
	if err := os.Chdir(path); err != nil {
		d.removeTree()
		return nil, errors.Wrapf(err, "failed to chdir to %s", path)
	}
	logging.Debugf(ctx, "Using temporary directory %s", path)
	return d, nil
}

// Path returns the absolute path of the directory.
func (d *Dir) Path() string {
	return d.path
}

// Remove changes back to the previous working directory and removes the tree,
// fixing directory permissions that would prevent removal first.
func (d *Dir) Remove(ctx context.Context) error {
	if err := os.Chdir(d.prev); err != nil {
		// The previous directory may be gone; the root of the tree
		// never is while we are still inside it.
		if err := os.Chdir(filepath.Dir(d.path)); err != nil {
			return errors.Wrap(err, "failed to leave temporary directory")
		}
	}
	if err := d.removeTree(); err != nil {
		return err
	}
	logging.Debugf(ctx, "Removed temporary directory %s", d.path)
	return nil
}

func (d *Dir) removeTree() error {
	filepath.WalkDir(d.path, func(p string, e fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if e.IsDir() {
			os.Chmod(p, 0700)
		}
		return nil
	})
	if err := os.RemoveAll(d.path); err != nil {
		return errors.Wrapf(err, "failed to remove %s", d.path)
	}
	return nil
}

// IsInside reports whether path is inside the directory.
func (d *Dir) IsInside(path string) bool {
	rel, err := filepath.Rel(d.path, path)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, "../")
}
