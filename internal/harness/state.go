// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package harness

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/linux-test-project/ltp-sub005/errors"
	"github.com/linux-test-project/ltp-sub005/errors/stack"
	"github.com/linux-test-project/ltp-sub005/internal/ipc"
	"github.com/linux-test-project/ltp-sub005/internal/options"
	"github.com/linux-test-project/ltp-sub005/internal/report"
	"github.com/linux-test-project/ltp-sub005/internal/result"
)

// State is passed to test callbacks. It reports results and gives access to
// the resources prepared for the test.
type State struct {
	ctx    context.Context
	t      *Test
	rep    *report.Reporter
	region *ipc.Region
	args   *RunArgs
	cfg    *options.Config

	mu       sync.Mutex
	children map[int]*exec.Cmd
}

func newState(ctx context.Context, t *Test, rep *report.Reporter, args *RunArgs, cfg *options.Config) *State {
	return &State{
		ctx:      ctx,
		t:        t,
		rep:      rep,
		region:   rep.Region(),
		args:     args,
		cfg:      cfg,
		children: make(map[int]*exec.Cmd),
	}
}

// Context returns a context whose logger prints TINFO and TDEBUG lines.
func (s *State) Context() context.Context { return s.ctx }

// Res reports a result.
func (s *State) Res(k result.Kind, args ...interface{}) {
	s.rep.Report(stack.Caller(1), k, fmt.Sprint(args...))
}

// Resf reports a result with a formatted message.
func (s *State) Resf(k result.Kind, format string, args ...interface{}) {
	s.rep.Report(stack.Caller(1), k, fmt.Sprintf(format, args...))
}

// Brk reports an aborting result and does not return, except during
// cleanup where TBROK is downgraded to TWARN.
func (s *State) Brk(k result.Kind, args ...interface{}) {
	s.rep.Brk(stack.Caller(1), k, fmt.Sprint(args...))
}

// Brkf is Brk with a formatted message.
func (s *State) Brkf(k result.Kind, format string, args ...interface{}) {
	s.rep.Brk(stack.Caller(1), k, fmt.Sprintf(format, args...))
}

// BrkErr aborts the test with err, as TCONF if err is a result.ConfError
// and TBROK otherwise.
func (s *State) BrkErr(err error) {
	s.rep.Brk(stack.Caller(1), result.KindOf(err), err.Error())
}

// SetErrno sets the errno printed by TERRNO.
func (s *State) SetErrno(e unix.Errno) { s.rep.SetErrno(e) }

// Test saves the outcome of a checked call for TTERRNO and TRERRNO and
// returns ret.
//
//	fd := s.Test(unix.Open(path, unix.O_RDONLY, 0))
func (s *State) Test(ret int, err error) int {
	s.rep.SetTest(int64(ret), errors.Errno(err))
	return ret
}

// TestResult returns the values saved by Test.
func (s *State) TestResult() (ret int64, errno unix.Errno) { return s.rep.Test() }

// Variant returns the variant being run, from 0 to Test.Variants-1.
func (s *State) Variant() int { return s.args.Variant }

// FsType returns the filesystem of the device.
func (s *State) FsType() string { return s.args.FsType }

// Device returns the path of the block device, if one was acquired.
func (s *State) Device() string { return s.args.Device }

// DeviceSizeMB returns the size of the block device.
func (s *State) DeviceSizeMB() uint64 { return s.args.DeviceSizeMB }

// MntPoint returns the absolute path of the mountpoint.
func (s *State) MntPoint() string { return s.args.MntPoint }

// OverlayDir returns the merged directory of the overlay mounted on top of
// the device when Test.NeedsOverlay is set.
func (s *State) OverlayDir() string { return s.args.Overlay }

// TmpDir returns the temporary working directory.
func (s *State) TmpDir() string { return s.args.WorkDir }

// Hugepages returns the number of huge pages reserved.
func (s *State) Hugepages() int { return s.args.Hugepages }

// CgroupDir returns the private cgroup directory for a controller listed in
// Test.NeedsCgroupCtrls.
func (s *State) CgroupDir(ctrl string) string { return s.args.Cgroups[ctrl] }

// Args returns the positional command line arguments.
func (s *State) Args() []string { return s.cfg.Args }

// Iterations returns the -i value.
func (s *State) Iterations() int { return s.cfg.Iterations }

// Heartbeat tells the library process that the test is making progress,
// pushing the timeout back.
func (s *State) Heartbeat() {
	if err := unix.Kill(s.region.LibPID(), unix.SIGUSR1); err != nil {
		s.Brkf(result.TBROK, "Failed to send heartbeat: %v", err)
	}
}

// RemainingRuntime returns the part of Test.Runtime left for this run.
func (s *State) RemainingRuntime() time.Duration {
	runtime := s.region.Runtime()
	if runtime == 0 {
		s.Brkf(result.TBROK, "Runtime is not set")
		return 0
	}
	left := runtime - time.Since(s.region.StartTime())
	if left < 0 {
		return 0
	}
	return left
}

// Fork starts the ChildFunc registered under name in a new process and
// returns its pid. Children are reaped after every test callback.
func (s *State) Fork(name string, args ...string) int {
	if !s.t.ForksChild {
		s.Brkf(result.TBROK, "ForksChild must be set to fork children")
		return -1
	}
	if _, ok := s.t.Children[name]; !ok {
		s.Brkf(result.TBROK, "Unknown child %q", name)
		return -1
	}
	if s.region.Aborted() {
		// The tree is being torn down.
		os.Exit(0)
	}
	ra := *s.args
	ra.Child = name
	ra.ChildArgs = args
	cmd, err := newCommand(RoleChild, s.region, &ra)
	if err != nil {
		s.Brkf(result.TBROK, "%v", err)
		return -1
	}
	if err := cmd.Start(); err != nil {
		s.SetErrno(errors.Errno(err))
		s.Brkf(result.TBROK|result.TERRNO, "Failed to start child %s", name)
		return -1
	}
	pid := cmd.Process.Pid
	s.mu.Lock()
	s.children[pid] = cmd
	s.mu.Unlock()
	return pid
}

// WaitChild waits for a forked child and returns its status. The caller
// judges the status; Reap does not see the child anymore.
func (s *State) WaitChild(pid int) unix.WaitStatus {
	s.mu.Lock()
	cmd, ok := s.children[pid]
	delete(s.children, pid)
	s.mu.Unlock()
	if !ok {
		s.Brkf(result.TBROK, "No child with pid %d", pid)
		return 0
	}
	return wait(cmd)
}

func wait(cmd *exec.Cmd) unix.WaitStatus {
	cmd.Wait()
	if cmd.ProcessState == nil {
		return 0
	}
	return unix.WaitStatus(cmd.ProcessState.Sys().(syscall.WaitStatus))
}

// Reap waits for every forked child. A child exiting with a non-zero status
// or killed by a signal is a TBROK.
func (s *State) Reap() {
	s.mu.Lock()
	children := s.children
	s.children = make(map[int]*exec.Cmd)
	s.mu.Unlock()

	for pid, cmd := range children {
		if msg := childProblem(pid, wait(cmd)); msg != "" {
			s.Brkf(result.TBROK, "%s", msg)
		}
	}
}

// childProblem describes an abnormal child status, or returns "".
func childProblem(pid int, ws unix.WaitStatus) string {
	switch {
	case ws.Signaled():
		return fmt.Sprintf("Child (%d) killed by signal %s", pid, unix.SignalName(ws.Signal()))
	case ws.Exited() && ws.ExitStatus() != 0:
		return fmt.Sprintf("Invalid child (%d) exit value %d", pid, ws.ExitStatus())
	}
	return ""
}
