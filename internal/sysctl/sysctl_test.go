// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package sysctl

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/linux-test-project/ltp-sub005/internal/logging/loggingtest"
	"github.com/linux-test-project/ltp-sub005/internal/result"
	"github.com/linux-test-project/ltp-sub005/internal/testutil"
)

func TestSaveRestoreRoundTrip(t *testing.T) {
	ctx, _ := loggingtest.Context(t)
	dir := testutil.TempDir(t)
	testutil.WriteFiles(t, dir, map[string]string{
		"kernel/pid_max":   "32768\n",
		"vm/overcommit":    "0\n",
		"vm/untouched_val": "7\n",
	})

	var s Store
	for _, e := range []Entry{
		{Path: filepath.Join(dir, "kernel/pid_max"), Value: "4096"},
		{Path: filepath.Join(dir, "vm/overcommit"), Value: "1"},
		{Path: filepath.Join(dir, "vm/untouched_val")},
	} {
		if err := s.Save(ctx, e); err != nil {
			t.Fatalf("Save(%s): %v", e.Path, err)
		}
	}
	if v, ok := s.Value(filepath.Join(dir, "kernel/pid_max")); !ok || v != "32768" {
		t.Errorf("Value(pid_max) = %q, %v; want 32768, true", v, ok)
	}
	changed := testutil.ReadFiles(t, dir)
	if changed["kernel/pid_max"] != "4096" || changed["vm/overcommit"] != "1" {
		t.Errorf("values not applied: %v", changed)
	}

	if err := s.Restore(ctx); err != nil {
		t.Fatal("Restore: ", err)
	}
	want := map[string]string{
		"kernel/pid_max":   "32768",
		"vm/overcommit":    "0",
		"vm/untouched_val": "7",
	}
	if diff := cmp.Diff(testutil.ReadFiles(t, dir), want); diff != "" {
		t.Errorf("restored values mismatch (-got +want):\n%s", diff)
	}
}

func TestRestoreOnce(t *testing.T) {
	ctx, _ := loggingtest.Context(t)
	dir := testutil.TempDir(t)
	path := filepath.Join(dir, "knob")
	testutil.WriteFiles(t, dir, map[string]string{"knob": "orig"})

	var s Store
	if err := s.Save(ctx, Entry{Path: path, Value: "new"}); err != nil {
		t.Fatal("Save: ", err)
	}
	if err := s.Restore(ctx); err != nil {
		t.Fatal("Restore: ", err)
	}
	// Something changes the knob after the restore; a second restore, e.g.
	// from an aborting cleanup, must not touch it again.
	if err := os.WriteFile(path, []byte("later"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := s.Restore(ctx); err != nil {
		t.Fatal("second Restore: ", err)
	}
	if b, _ := os.ReadFile(path); string(b) != "later" {
		t.Errorf("knob = %q after second Restore; want unchanged %q", b, "later")
	}
}

func TestRestoreContinuesAfterError(t *testing.T) {
	ctx, _ := loggingtest.Context(t)
	dir := testutil.TempDir(t)
	testutil.WriteFiles(t, dir, map[string]string{"a": "1", "b": "2"})

	var s Store
	s.Save(ctx, Entry{Path: filepath.Join(dir, "a"), Value: "10"})
	s.Save(ctx, Entry{Path: filepath.Join(dir, "b"), Value: "20"})
	// Make b unrestorable by replacing it with a directory.
	os.Remove(filepath.Join(dir, "b"))
	os.Mkdir(filepath.Join(dir, "b"), 0755)

	if err := s.Restore(ctx); err == nil {
		t.Error("Restore succeeded unexpectedly")
	}
	if b, _ := os.ReadFile(filepath.Join(dir, "a")); string(b) != "1" {
		t.Errorf("a = %q; want 1", b)
	}
}

func TestMissingPolicies(t *testing.T) {
	ctx, _ := loggingtest.Context(t)
	missing := filepath.Join(testutil.TempDir(t), "missing")
	var s Store

	if err := s.Save(ctx, Entry{Path: missing, Missing: ConfIfMissing}); !result.IsConf(err) {
		t.Errorf("ConfIfMissing returned %v; want a ConfError", err)
	}
	if err := s.Save(ctx, Entry{Path: missing, Missing: BrokIfMissing}); err == nil || result.IsConf(err) {
		t.Errorf("BrokIfMissing returned %v; want a plain error", err)
	}
	if err := s.Save(ctx, Entry{Path: missing, Missing: IgnoreMissing}); err != nil {
		t.Errorf("IgnoreMissing returned %v", err)
	}
	if _, ok := s.Value(missing); ok {
		t.Error("missing path was saved")
	}
}

func TestReserveHugepages(t *testing.T) {
	ctx, _ := loggingtest.Context(t)
	dir := testutil.TempDir(t)
	testutil.WriteFiles(t, dir, map[string]string{
		"nr_hugepages":       "0\n",
		"drop_caches":        "",
		"hugepages/.present": "",
	})
	p := HugepagePaths{
		NrHugepages:  filepath.Join(dir, "nr_hugepages"),
		DropCaches:   filepath.Join(dir, "drop_caches"),
		HugepagesDir: filepath.Join(dir, "hugepages"),
	}

	var s Store
	got, err := ReserveHugepages(ctx, &s, p, 2, true)
	if err != nil {
		t.Fatal("ReserveHugepages: ", err)
	}
	if got != 2 {
		t.Errorf("ReserveHugepages() = %d; want 2", got)
	}
	if err := s.Restore(ctx); err != nil {
		t.Fatal("Restore: ", err)
	}
	if b, _ := os.ReadFile(p.NrHugepages); string(b) != "0" {
		t.Errorf("nr_hugepages = %q after restore; want 0", b)
	}

	p.HugepagesDir = filepath.Join(dir, "nonexistent")
	if _, err := ReserveHugepages(ctx, &s, p, 2, false); !result.IsConf(err) {
		t.Errorf("ReserveHugepages without hugetlb returned %v; want a ConfError", err)
	}
}
