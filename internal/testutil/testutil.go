// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package testutil provides support code for unit tests.
package testutil

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"golang.org/x/sys/unix"
)

// TempDir creates a temporary directory prefixed by "ltp_unittest_[TestName]." and returns its path.
// The directory is removed when the test finishes, even if the test made
// parts of it unwritable. If the directory cannot be created, a fatal error is
// reported to t.
func TempDir(t *testing.T) string {
	t.Helper()
	// Subtests have slashes in their name.
	name := strings.Replace(t.Name(), "/", "_", -1)
	td, err := os.MkdirTemp("", "ltp_unittest_"+name+".")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		filepath.Walk(td, func(p string, info os.FileInfo, err error) error {
			if err == nil && info.IsDir() {
				os.Chmod(p, 0755)
			}
			return nil
		})
		os.RemoveAll(td)
	})
	return td
}

// WriteFiles creates and writes files (keys are relative filenames,
// values are contents) within dir.
func WriteFiles(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for fn, c := range files {
		p := filepath.Join(dir, fn)
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(c), 0644); err != nil {
			t.Fatal(err)
		}
	}
}

// ReadFiles reads all regular files under dir and returns their
// relative paths and contents.
func ReadFiles(t *testing.T, dir string) map[string]string {
	t.Helper()
	files := make(map[string]string)
	wf := func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		b, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		// Remove base dir plus joining slash.
		files[p[len(dir)+1:]] = string(b)
		return nil
	}
	if err := filepath.Walk(dir, wf); err != nil {
		t.Fatal(err)
	}
	return files
}

// RequireRoot skips the test unless it runs with an effective uid of 0.
func RequireRoot(t *testing.T) {
	t.Helper()
	if unix.Geteuid() != 0 {
		t.Skip("Test requires root")
	}
}

// RequirePath skips the test unless path exists.
func RequirePath(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); err != nil {
		t.Skipf("Test requires %s: %v", path, err)
	}
}
