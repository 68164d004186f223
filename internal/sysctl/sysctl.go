// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package sysctl saves kernel tunables before a test changes them and
// restores them afterwards.
package sysctl

import (
	"context"
	"os"
	"strconv"
	"strings"

	"github.com/linux-test-project/ltp-sub005/errors"
	"github.com/linux-test-project/ltp-sub005/internal/logging"
	"github.com/linux-test-project/ltp-sub005/internal/result"
)

// Policy selects what happens when a tunable cannot be saved.
type Policy int

const (
	// ConfIfMissing skips the test (TCONF) if the path does not exist.
	ConfIfMissing Policy = iota
	// BrokIfMissing aborts the test (TBROK) if the path does not exist.
	BrokIfMissing
	// IgnoreMissing silently ignores a missing path.
	IgnoreMissing
)

// Entry is one tunable to save.
type Entry struct {
	// Path is the file under /proc or /sys.
	Path string
	// Value, if non-empty, is written after saving.
	Value string
	// Missing is the policy for a missing path.
	Missing Policy
	// IgnoreReadOnly skips the write of Value when the path is read-only.
	IgnoreReadOnly bool
}

type saved struct {
	path  string
	value string
}

// Store remembers saved values. Restore writes each of them back exactly
// once.
type Store struct {
	saved    []saved
	restored bool
}

// Save reads the current value of e.Path and writes e.Value if set.
func (s *Store) Save(ctx context.Context, e Entry) error {
	b, err := os.ReadFile(e.Path)
	if err != nil {
		if !os.IsNotExist(err) {
			return errors.Wrapf(err, "failed to read %s", e.Path)
		}
		switch e.Missing {
		case ConfIfMissing:
			return result.Conff("Path not found: '%s'", e.Path)
		case BrokIfMissing:
			return errors.Wrapf(err, "Path not found: '%s'", e.Path)
		default:
			logging.Debugf(ctx, "Path not found: '%s'", e.Path)
			return nil
		}
	}
	s.saved = append(s.saved, saved{path: e.Path, value: strings.TrimRight(string(b), "\n")})
	s.restored = false

	if e.Value == "" {
		return nil
	}
	if err := os.WriteFile(e.Path, []byte(e.Value), 0644); err != nil {
		if e.IgnoreReadOnly && (os.IsPermission(err) || isReadOnly(err)) {
			logging.Infof(ctx, "Cannot set %s to %s (read-only), skipping", e.Path, e.Value)
			return nil
		}
		return errors.Wrapf(err, "failed to write %s to %s", e.Value, e.Path)
	}
	logging.Debugf(ctx, "Set %s to %s", e.Path, e.Value)
	return nil
}

func isReadOnly(err error) bool {
	return strings.Contains(err.Error(), "read-only file system")
}

// Value returns the value saved for path.
func (s *Store) Value(path string) (string, bool) {
	for _, sv := range s.saved {
		if sv.path == path {
			return sv.value, true
		}
	}
	return "", false
}

// Restore writes the saved values back in reverse order. Later calls do
// nothing until something is saved again. All entries are attempted; the
// first error is returned.
func (s *Store) Restore(ctx context.Context) error {
	if s.restored {
		return nil
	}
	s.restored = true
	var firstErr error
	for i := len(s.saved) - 1; i >= 0; i-- {
		sv := s.saved[i]
		if err := os.WriteFile(sv.path, []byte(sv.value), 0644); err != nil {
			if firstErr == nil {
				firstErr = errors.Wrapf(err, "failed to restore %s to %s", sv.path, sv.value)
			}
			continue
		}
		logging.Debugf(ctx, "Restored %s to %s", sv.path, sv.value)
	}
	s.saved = nil
	return firstErr
}

// Hugepage tunables.
const (
	NrHugepages  = "/proc/sys/vm/nr_hugepages"
	DropCaches   = "/proc/sys/vm/drop_caches"
	HugepagesDir = "/sys/kernel/mm/hugepages"
)

// HugepagePaths locates the tunables used by ReserveHugepages.
type HugepagePaths struct {
	NrHugepages, DropCaches, HugepagesDir string
}

// DefaultHugepagePaths are the kernel's tunables.
var DefaultHugepagePaths = HugepagePaths{NrHugepages, DropCaches, HugepagesDir}

// ReserveHugepages asks the kernel for n huge pages, saving the previous
// setting in s. It returns the number actually reserved. If required is set,
// getting fewer is a ConfError.
func ReserveHugepages(ctx context.Context, s *Store, p HugepagePaths, n int, required bool) (int, error) {
	if _, err := os.Stat(p.HugepagesDir); err != nil {
		return 0, result.Conff("hugetlbfs is not supported")
	}
	// Free page cache so the allocation has a chance to succeed.
	os.WriteFile(p.DropCaches, []byte("3"), 0644)

	if err := s.Save(ctx, Entry{Path: p.NrHugepages, Value: strconv.Itoa(n), Missing: BrokIfMissing}); err != nil {
		return 0, err
	}
	b, err := os.ReadFile(p.NrHugepages)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to read %s", p.NrHugepages)
	}
	got, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil {
		return 0, errors.Wrapf(err, "bad value in %s", p.NrHugepages)
	}
	if got < n && required {
		return got, result.Conff("No enough hugepages for testing.")
	}
	logging.Infof(ctx, "%d hugepage(s) reserved", got)
	return got, nil
}
