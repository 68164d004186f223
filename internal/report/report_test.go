// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package report

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/sys/unix"

	"github.com/linux-test-project/ltp-sub005/errors/stack"
	"github.com/linux-test-project/ltp-sub005/internal/ipc"
	"github.com/linux-test-project/ltp-sub005/internal/logging"
	"github.com/linux-test-project/ltp-sub005/internal/result"
	"github.com/linux-test-project/ltp-sub005/internal/testutil"
)

var loc = stack.Location{File: "foo.c", Line: 12}

// fakeProcess records the side effects a Reporter would have on the process.
type fakeProcess struct {
	lines  []string
	stdout bytes.Buffer
	exits  []int
	kills  []int
}

func (p *fakeProcess) options() Options {
	return Options{
		Sink:   logging.NewFuncSink(func(msg string) { p.lines = append(p.lines, msg) }),
		Stdout: &p.stdout,
		Exit:   func(code int) { p.exits = append(p.exits, code) },
		Kill: func(pid int, sig unix.Signal) error {
			if sig == unix.SIGKILL {
				p.kills = append(p.kills, pid)
			}
			return nil
		},
	}
}

func newRegion(t *testing.T, libPID int) *ipc.Region {
	t.Helper()
	r, err := ipc.Create(ipc.CreateOptions{
		Name:        "report_test",
		FallbackDir: testutil.TempDir(t),
		KeepPath:    true,
		LibPID:      libPID,
	})
	if err != nil {
		t.Fatal("ipc.Create: ", err)
	}
	t.Cleanup(func() { r.Destroy() })
	return r
}

func TestFormat(t *testing.T) {
	r := New(nil, Options{})
	r.SetErrno(unix.ENOENT)
	r.SetTest(-int64(unix.EBUSY), unix.EPERM)

	for _, tc := range []struct {
		kind result.Kind
		want string
	}{
		{result.TPASS, "foo.c:12: TPASS: hello"},
		{result.TFAIL | result.TERRNO, "foo.c:12: TFAIL: hello: ENOENT (2)"},
		{result.TBROK | result.TTERRNO, "foo.c:12: TBROK: hello: EPERM (1)"},
		{result.TWARN | result.TRERRNO, "foo.c:12: TWARN: hello: EBUSY (16)"},
		{result.TCONF, "foo.c:12: TCONF: hello"},
	} {
		if got := r.Format(loc, tc.kind, "hello"); got != tc.want {
			t.Errorf("Format(%v) = %q; want %q", tc.kind, got, tc.want)
		}
	}

	r.SetTest(3, 0)
	if got, want := r.Format(loc, result.TINFO|result.TRERRNO, "x"), "foo.c:12: TINFO: x: SUCCESS (0)"; got != want {
		t.Errorf("Format with non-negative saved return = %q; want %q", got, want)
	}
}

func TestFormatReproducibleAndColor(t *testing.T) {
	r := New(nil, Options{Reproducible: true})
	r.SetErrno(unix.EINVAL)
	if got, want := r.Format(loc, result.TFAIL|result.TERRNO, "pid 1234"), "foo.c:12: TFAIL"; got != want {
		t.Errorf("reproducible Format = %q; want %q", got, want)
	}

	r = New(nil, Options{Color: true})
	if got, want := r.Format(loc, result.TPASS, "ok"), "foo.c:12: \033[1;32mTPASS\033[0m: ok"; got != want {
		t.Errorf("colored Format = %q; want %q", got, want)
	}
}

func TestQuietAndDebug(t *testing.T) {
	var p fakeProcess
	opts := p.options()
	opts.Quiet = true
	r := New(nil, opts)
	for _, k := range []result.Kind{result.TINFO, result.TCONF, result.TDEBUG, result.TPASS, result.TWARN} {
		r.Report(loc, k, "m")
	}
	want := []string{"foo.c:12: TPASS: m", "foo.c:12: TWARN: m"}
	if diff := cmp.Diff(p.lines, want); diff != "" {
		t.Errorf("quiet lines mismatch (-got +want):\n%s", diff)
	}

	p = fakeProcess{}
	r = New(nil, p.options())
	r.Report(loc, result.TDEBUG, "hidden")
	r.SetDebug(true)
	r.Report(loc, result.TDEBUG, "shown")
	if diff := cmp.Diff(p.lines, []string{"foo.c:12: TDEBUG: shown"}); diff != "" {
		t.Errorf("debug lines mismatch (-got +want):\n%s", diff)
	}
}

func TestReportRecords(t *testing.T) {
	reg := newRegion(t, 1)
	var p fakeProcess
	r := New(reg, p.options())
	r.Resf(result.TPASS, "a")
	r.Resf(result.TFAIL|result.TERRNO, "b")
	r.Resf(result.TINFO, "c")
	r.Resf(result.TDEBUG, "d")
	r.Resf(result.TCONF, "e")

	want := result.Counts{Passed: 1, Failed: 1, Skipped: 1}
	if diff := cmp.Diff(reg.Results(), want); diff != "" {
		t.Errorf("Results() mismatch (-got +want):\n%s", diff)
	}
	if len(p.lines) == 0 || !strings.HasPrefix(p.lines[0], "report_test.go:") {
		t.Errorf("first line = %q; want caller location report_test.go", p.lines)
	}
}

func TestBrkWithoutRegion(t *testing.T) {
	var p fakeProcess
	r := New(nil, p.options())
	r.Brk(loc, result.TCONF, "unsupported")
	if diff := cmp.Diff(p.exits, []int{int(result.TCONF)}); diff != "" {
		t.Errorf("exits mismatch (-got +want):\n%s", diff)
	}
}

func TestBrkMain(t *testing.T) {
	reg := newRegion(t, 1)
	var p fakeProcess
	opts := p.options()
	opts.PID = 100
	reg.SetMainPID(100)
	r := New(reg, opts)

	cleanups := 0
	r.SetTestCleanup(func() {
		cleanups++
		// A second abort from cleanup is softened and returns.
		r.Brk(loc, result.TBROK, "cleanup failed")
	})
	r.Brk(loc, result.TBROK, "setup failed")

	if cleanups != 1 {
		t.Errorf("test cleanup ran %d times; want 1", cleanups)
	}
	if diff := cmp.Diff(p.exits, []int{0}); diff != "" {
		t.Errorf("exits mismatch (-got +want):\n%s", diff)
	}
	want := []string{"foo.c:12: TBROK: setup failed", "foo.c:12: TWARN: cleanup failed"}
	if diff := cmp.Diff(p.lines, want); diff != "" {
		t.Errorf("lines mismatch (-got +want):\n%s", diff)
	}
	if diff := cmp.Diff(reg.Results(), result.Counts{Broken: 1, Warnings: 1}); diff != "" {
		t.Errorf("Results() mismatch (-got +want):\n%s", diff)
	}
	if r.Softened() {
		t.Error("Softened() = true after Brk returned")
	}
	if !reg.Aborted() {
		t.Error("abort flag not set after TBROK in the main test process")
	}
}

func TestBrkMainConfDoesNotAbort(t *testing.T) {
	reg := newRegion(t, 1)
	var p fakeProcess
	opts := p.options()
	opts.PID = 100
	reg.SetMainPID(100)
	r := New(reg, opts)

	r.Brk(loc, result.TCONF, "not supported")
	if reg.Aborted() {
		t.Error("abort flag set after TCONF in the main test process")
	}
	if diff := cmp.Diff(p.exits, []int{0}); diff != "" {
		t.Errorf("exits mismatch (-got +want):\n%s", diff)
	}
}

func TestBrkMainConcurrentCleanupRegistration(t *testing.T) {
	reg := newRegion(t, 1)
	var p fakeProcess
	opts := p.options()
	opts.PID = 100
	reg.SetMainPID(100)
	r := New(reg, opts)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			r.SetTestCleanup(func() {})
		}
	}()
	r.Brk(loc, result.TBROK, "setup failed")
	<-done

	if diff := cmp.Diff(p.exits, []int{0}); diff != "" {
		t.Errorf("exits mismatch (-got +want):\n%s", diff)
	}
}

func TestBrkLibrary(t *testing.T) {
	reg := newRegion(t, 200)
	var p fakeProcess
	opts := p.options()
	opts.PID = 200
	opts.Tags = []Tag{{"linux-git", "abcdef"}, {"CVE", "2024-0001"}}
	r := New(reg, opts)

	var order []string
	r.SetLibraryCleanup(func() { order = append(order, "cleanup") })
	r.SetOnExit(func() { order = append(order, "exit") })
	reg.Record(result.TPASS)
	r.Brk(loc, result.TBROK, "Test killed! (timeout?)")

	if diff := cmp.Diff(order, []string{"cleanup", "exit"}); diff != "" {
		t.Errorf("hook order mismatch (-got +want):\n%s", diff)
	}
	if diff := cmp.Diff(p.exits, []int{int(result.TBROK)}); diff != "" {
		t.Errorf("exits mismatch (-got +want):\n%s", diff)
	}
	out := p.stdout.String()
	for _, s := range []string{
		"HINT: You _MAY_ be missing kernel fixes",
		"linux.git/commit/?id=abcdef",
		"cvename.cgi?name=CVE-2024-0001",
		"\nSummary:\npassed   1\nfailed   0\nbroken   1\nskipped  0\nwarnings 0\n",
	} {
		if !strings.Contains(out, s) {
			t.Errorf("stdout %q does not contain %q", out, s)
		}
	}
}

func TestBrkLibraryConf(t *testing.T) {
	reg := newRegion(t, 200)
	var p fakeProcess
	opts := p.options()
	opts.PID = 200
	r := New(reg, opts)

	r.Brk(loc, result.TCONF, "no fs")
	if diff := cmp.Diff(p.exits, []int{int(result.TCONF)}); diff != "" {
		t.Errorf("exits mismatch (-got +want):\n%s", diff)
	}
	if strings.Contains(p.stdout.String(), "HINT") {
		t.Error("hints printed for a skipped run")
	}
}

func TestBrkOtherDescendant(t *testing.T) {
	reg := newRegion(t, 1)
	reg.SetMainPID(2)
	var p fakeProcess
	opts := p.options()
	opts.PID = 3
	r := New(reg, opts)
	r.SetTestCleanup(func() { t.Error("test cleanup ran in a non-main process") })

	r.Brk(loc, result.TBROK, "child broke")

	if !reg.Aborted() {
		t.Error("abort flag not set")
	}
	if diff := cmp.Diff(p.kills, []int{2}); diff != "" {
		t.Errorf("kills mismatch (-got +want):\n%s", diff)
	}
	if diff := cmp.Diff(p.exits, []int{0}); diff != "" {
		t.Errorf("exits mismatch (-got +want):\n%s", diff)
	}
	if got := reg.Results().Broken; got != 1 {
		t.Errorf("Broken = %d; want 1", got)
	}

	// TCONF from a descendant neither aborts nor kills.
	reg.ClearAbort()
	p.kills = nil
	r.Brk(loc, result.TCONF, "child skipped")
	if reg.Aborted() || len(p.kills) != 0 {
		t.Errorf("TCONF aborted=%v kills=%v; want no abort", reg.Aborted(), p.kills)
	}
}

func TestLogger(t *testing.T) {
	var p fakeProcess
	r := New(nil, p.options())
	r.SetDebug(true)
	ctx := logging.AttachLogger(context.Background(), r)
	logging.Info(ctx, "info")
	logging.Debug(ctx, "debug")
	if len(p.lines) != 2 {
		t.Fatalf("got %d lines; want 2: %q", len(p.lines), p.lines)
	}
	if !strings.HasPrefix(p.lines[0], "report_test.go:") || !strings.HasSuffix(p.lines[0], "TINFO: info") {
		t.Errorf("info line = %q", p.lines[0])
	}
	if !strings.HasSuffix(p.lines[1], "TDEBUG: debug") {
		t.Errorf("debug line = %q", p.lines[1])
	}
}

func TestPrintHintsKnownFail(t *testing.T) {
	var b bytes.Buffer
	PrintHints(&b, []Tag{{"known-fail", "broken on ext2"}, {"unknown", "x"}})
	want := "\nHINT: This is a problem with the test itself:\n\nbroken on ext2\n"
	if got := b.String(); got != want {
		t.Errorf("PrintHints = %q; want %q", got, want)
	}
}
