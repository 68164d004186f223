// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package harness

import (
	"bytes"
	"testing"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/exp/slices"
	"golang.org/x/sys/unix"

	"github.com/linux-test-project/ltp-sub005/internal/result"
)

func TestReported(t *testing.T) {
	base := result.Counts{Passed: 1, Warnings: 1}
	for _, tc := range []struct {
		after result.Counts
		want  bool
	}{
		{base, false},
		{result.Counts{Passed: 1, Warnings: 2}, false},
		{result.Counts{Passed: 2, Warnings: 1}, true},
		{result.Counts{Passed: 1, Skipped: 1, Warnings: 1}, true},
		{result.Counts{Passed: 1, Broken: 1, Warnings: 1}, true},
	} {
		if got := reported(base, tc.after); got != tc.want {
			t.Errorf("reported(%+v, %+v) = %v; want %v", base, tc.after, got, tc.want)
		}
	}
}

func TestChildProblem(t *testing.T) {
	for _, tc := range []struct {
		ws   unix.WaitStatus
		want string
	}{
		{exited(0), ""},
		{exited(3), "Invalid child (42) exit value 3"},
		{signaled(unix.SIGTERM), "Child (42) killed by signal SIGTERM"},
	} {
		if got := childProblem(42, tc.ws); got != tc.want {
			t.Errorf("childProblem(42, %#x) = %q; want %q", uint32(tc.ws), got, tc.want)
		}
	}
}

func TestRunArgsRoundTrip(t *testing.T) {
	in := &RunArgs{
		Variant:  1,
		FsType:   "ext4",
		Device:   "/dev/loop0",
		MntPoint: "/tmp/LTP_fooXYZ/mnt",
		Cgroups:  map[string]string{"memory": "/sys/fs/cgroup/ltp_1"},
		Child:    "writer",
	}
	cmd, err := newCommand(RoleChild, newTestRegion(t), in)
	if err != nil {
		t.Fatal("newCommand failed: ", err)
	}
	out, err := readRunArgs(cmd.Stdin)
	if err != nil {
		t.Fatal("readRunArgs failed: ", err)
	}
	if diff := cmp.Diff(out, in); diff != "" {
		t.Errorf("Run arguments changed in transit (-got +want):\n%s", diff)
	}
	if !slices.Contains(cmd.Env, EnvRole+"="+RoleChild) {
		t.Errorf("Command environment lacks %s=%s", EnvRole, RoleChild)
	}
}

func TestReadRunArgsInvalid(t *testing.T) {
	if _, err := readRunArgs(bytes.NewBufferString("{")); err == nil {
		t.Error("readRunArgs succeeded for truncated input")
	}
}
