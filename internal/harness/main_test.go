// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package harness

import (
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/linux-test-project/ltp-sub005/internal/ipc"
	"github.com/linux-test-project/ltp-sub005/internal/result"
	"github.com/linux-test-project/ltp-sub005/internal/testutil"
)

// envCase names the entry of testBinaries the test binary runs instead of
// the unit tests.
const envCase = "HARNESS_TEST_CASE"

var testBinaries = map[string]*Test{
	"pass": {Run: func(s *State) { s.Res(result.TPASS, "ok") }},
	"fail": {Run: func(s *State) { s.Res(result.TFAIL, "wrong answer") }},
	"conf": {Run: func(s *State) { s.Res(result.TCONF, "not here") }},
	"noreport": {Run: func(s *State) {}},
	"cases": {
		RunCase: func(s *State, n int) { s.Resf(result.TPASS, "case %d", n) },
		Cases:   3,
	},
	"panic": {Run: func(s *State) { panic("boom") }},
	"brk-cleanup": {
		Run:     func(s *State) { s.Brk(result.TBROK, "stop") },
		Cleanup: func(s *State) { s.Res(result.TINFO, "cleanup ran") },
	},
	"brk-variants": {
		Run: func(s *State) {
			if s.Variant() == 0 {
				s.Brk(result.TBROK, "variant 0 broke")
			}
			s.Res(result.TPASS, "variant 1 ran")
		},
		Variants: 2,
	},
	"child-pass": {
		Run:        func(s *State) { s.Fork("pass") },
		ForksChild: true,
		Children: map[string]ChildFunc{
			"pass": func(s *State, args []string) { s.Res(result.TPASS, "child ok") },
		},
	},
	"child-brk": {
		Run: func(s *State) {
			s.WaitChild(s.Fork("brk"))
			s.Res(result.TPASS, "unreachable")
		},
		ForksChild: true,
		Children: map[string]ChildFunc{
			"brk": func(s *State, args []string) { s.Brk(result.TBROK, "child broke") },
		},
	},
	"timeout": {
		Run:     func(s *State) { time.Sleep(time.Minute) },
		Timeout: time.Second,
	},
	"tmpdir": {
		Run: func(s *State) {
			if _, err := os.Stat(s.TmpDir()); err != nil {
				s.Resf(result.TFAIL, "%v", err)
				return
			}
			s.Res(result.TPASS, "in tmpdir")
		},
		NeedsTmpdir: true,
	},
}

func TestMain(m *testing.M) {
	if name := os.Getenv(envCase); name != "" {
		Main(testBinaries[name])
	}
	os.Exit(m.Run())
}

func newTestRegion(t *testing.T) *ipc.Region {
	t.Helper()
	r, err := ipc.Create(ipc.CreateOptions{Name: "harness_test", FallbackDir: testutil.TempDir(t)})
	if err != nil {
		t.Fatal("Create: ", err)
	}
	t.Cleanup(func() { r.Destroy() })
	return r
}

// runTestBinary runs the test binary as the test name and returns its
// combined output and exit status.
func runTestBinary(t *testing.T, name string) (string, int) {
	t.Helper()
	cmd := exec.Command(os.Args[0])
	cmd.Env = append(os.Environ(),
		envCase+"="+name,
		"TMPDIR="+testutil.TempDir(t),
		"LTP_COLORIZE_OUTPUT=n",
		"KCONFIG_SKIP_CHECK=1")
	out, err := cmd.CombinedOutput()
	if err == nil {
		return string(out), 0
	}
	ee, ok := err.(*exec.ExitError)
	if !ok {
		t.Fatalf("Failed to run %s: %v", name, err)
	}
	return string(out), ee.ExitCode()
}

func TestEndToEnd(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping process tests in short mode")
	}
	for _, tc := range []struct {
		name     string
		status   int
		contains []string
	}{
		{"pass", 0, []string{"TPASS: ok", "passed   1"}},
		{"fail", int(result.TFAIL), []string{"TFAIL: wrong answer", "failed   1"}},
		{"conf", int(result.TCONF), []string{"TCONF: not here", "skipped  1"}},
		{"noreport", int(result.TBROK), []string{"Test haven't reported results!", "broken   1"}},
		{"cases", 0, []string{"case 0", "case 2", "passed   3"}},
		{"panic", int(result.TBROK), []string{"Panic: boom"}},
		{"brk-cleanup", int(result.TBROK), []string{"TBROK: stop", "cleanup ran"}},
		{"brk-variants", int(result.TBROK), []string{"variant 0 broke", "aborted after a BROKEN result", "passed   0", "broken   1"}},
		{"child-pass", 0, []string{"child ok", "passed   1"}},
		{"child-brk", int(result.TBROK), []string{"child broke", "broken   1"}},
		{"timeout", int(result.TBROK), []string{"Test killed! (timeout?)", "LTP_TIMEOUT_MUL"}},
		{"tmpdir", 0, []string{"in tmpdir"}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			out, status := runTestBinary(t, tc.name)
			if status != tc.status {
				t.Errorf("Exit status = %d; want %d; output:\n%s", status, tc.status, out)
			}
			for _, s := range tc.contains {
				if !strings.Contains(out, s) {
					t.Errorf("Output lacks %q:\n%s", s, out)
				}
			}
		})
	}
}

func TestEndToEndChildBrkSkipsPass(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping process tests in short mode")
	}
	out, _ := runTestBinary(t, "child-brk")
	if strings.Contains(out, "unreachable") {
		t.Errorf("Main test process continued after a child broke:\n%s", out)
	}
}

func TestEndToEndBrkStopsVariants(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping process tests in short mode")
	}
	out, _ := runTestBinary(t, "brk-variants")
	if strings.Contains(out, "variant 1 ran") {
		t.Errorf("Variant 1 ran after variant 0 broke:\n%s", out)
	}
}
