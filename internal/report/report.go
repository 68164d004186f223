// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package report implements the result reporting API shared by every process
// of a test tree.
//
// Every result line is formatted as
//
//	<file>:<line>: <KIND>: <message>[: <ERRNAME> (<errno>)]
//
// and emitted with a single write(2). Counted kinds are then recorded in the
// results region, if one is attached.
package report

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/linux-test-project/ltp-sub005/errors/stack"
	"github.com/linux-test-project/ltp-sub005/internal/ipc"
	"github.com/linux-test-project/ltp-sub005/internal/logging"
	"github.com/linux-test-project/ltp-sub005/internal/result"
)

// ANSI colors used for kinds when colored output is enabled.
const (
	colorRed     = "\033[1;31m"
	colorGreen   = "\033[1;32m"
	colorYellow  = "\033[1;33m"
	colorBlue    = "\033[1;34m"
	colorMagenta = "\033[1;35m"
	colorWhite   = "\033[1;37m"
	colorReset   = "\033[0m"
)

func kindColor(k result.Kind) string {
	switch k.Type() {
	case result.TPASS:
		return colorGreen
	case result.TFAIL, result.TBROK:
		return colorRed
	case result.TWARN:
		return colorMagenta
	case result.TINFO:
		return colorBlue
	case result.TCONF:
		return colorYellow
	default:
		return colorWhite
	}
}

// Options configures a Reporter.
type Options struct {
	// Quiet suppresses printing of TCONF, TINFO and TDEBUG lines.
	Quiet bool
	// Debug enables TDEBUG lines.
	Debug bool
	// Reproducible drops message text and errno from result lines.
	Reproducible bool
	// Color wraps kind names in ANSI colors.
	Color bool
	// Tags are printed as hints when the run failed or broke.
	Tags []Tag

	// Sink receives result lines. Defaults to a raw write(2) on stderr.
	Sink logging.Sink
	// Stdout receives the summary block. Defaults to os.Stdout.
	Stdout io.Writer
	// Exit terminates the process. Defaults to os.Exit.
	Exit func(code int)
	// Kill sends a signal to a process. Defaults to unix.Kill.
	Kill func(pid int, sig unix.Signal) error
	// PID is the pid of the calling process. Defaults to os.Getpid().
	PID int
}

// Reporter is the reporting API of one process.
type Reporter struct {
	opts   Options
	region *ipc.Region

	softened int32 // atomic; >0 while cleanup runs
	aborting int32 // atomic; set once Brk started unwinding

	hookMu         sync.Mutex
	testCleanup    func()
	libraryCleanup func()
	onExit         func()

	errMu     sync.Mutex
	errno     unix.Errno
	testRet   int64
	testErrno unix.Errno
}

// New creates a Reporter. region may be nil until the results region exists.
func New(region *ipc.Region, opts Options) *Reporter {
	if opts.Sink == nil {
		opts.Sink = logging.NewFDSink(int(os.Stderr.Fd()))
	}
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Exit == nil {
		opts.Exit = os.Exit
	}
	if opts.Kill == nil {
		opts.Kill = unix.Kill
	}
	if opts.PID == 0 {
		opts.PID = os.Getpid()
	}
	return &Reporter{opts: opts, region: region}
}

// SetRegion attaches the results region.
func (r *Reporter) SetRegion(region *ipc.Region) {
	r.region = region
}

// Region returns the attached results region, or nil.
func (r *Reporter) Region() *ipc.Region {
	return r.region
}

// SetTestCleanup registers the test cleanup run by the main test process
// when it aborts.
func (r *Reporter) SetTestCleanup(f func()) {
	r.hookMu.Lock()
	defer r.hookMu.Unlock()
	r.testCleanup = f
}

// SetLibraryCleanup registers the harness cleanup run by the library
// process when it aborts.
func (r *Reporter) SetLibraryCleanup(f func()) {
	r.hookMu.Lock()
	defer r.hookMu.Unlock()
	r.libraryCleanup = f
}

// SetOnExit registers a function run by Finish right before the process
// exits, after the summary was printed.
func (r *Reporter) SetOnExit(f func()) {
	r.hookMu.Lock()
	defer r.hookMu.Unlock()
	r.onExit = f
}

// SetDebug enables or disables TDEBUG lines.
func (r *Reporter) SetDebug(on bool) {
	r.opts.Debug = on
	if r.region != nil {
		r.region.SetFlag(ipc.FlagDebug, on)
	}
}

func (r *Reporter) debug() bool {
	return r.opts.Debug || (r.region != nil && r.region.Flag(ipc.FlagDebug))
}

// SetErrno sets the current errno appended by TERRNO.
func (r *Reporter) SetErrno(e unix.Errno) {
	r.errMu.Lock()
	defer r.errMu.Unlock()
	r.errno = e
}

// SetTest saves the return value and errno of a checked call, appended by
// TTERRNO and TRERRNO.
func (r *Reporter) SetTest(ret int64, e unix.Errno) {
	r.errMu.Lock()
	defer r.errMu.Unlock()
	r.testRet = ret
	r.testErrno = e
}

// Test returns the values saved by SetTest.
func (r *Reporter) Test() (ret int64, e unix.Errno) {
	r.errMu.Lock()
	defer r.errMu.Unlock()
	return r.testRet, r.testErrno
}

// ErrnoName returns the symbolic name of e.
func ErrnoName(e unix.Errno) string {
	if e == 0 {
		return "SUCCESS"
	}
	if n := unix.ErrnoName(e); n != "" {
		return n
	}
	return "???"
}

func (r *Reporter) errnoSuffix(k result.Kind) (unix.Errno, bool) {
	r.errMu.Lock()
	defer r.errMu.Unlock()
	switch {
	case k&result.TERRNO != 0:
		return r.errno, true
	case k&result.TTERRNO != 0:
		return r.testErrno, true
	case k&result.TRERRNO != 0:
		if r.testRet < 0 {
			return unix.Errno(-r.testRet), true
		}
		return 0, true
	}
	return 0, false
}

// Format builds a result line without the trailing newline.
func (r *Reporter) Format(loc stack.Location, k result.Kind, msg string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: ", loc)
	if r.opts.Color {
		fmt.Fprintf(&b, "%s%s%s", kindColor(k), k, colorReset)
	} else {
		b.WriteString(k.String())
	}
	if r.opts.Reproducible {
		return b.String()
	}
	b.WriteString(": ")
	b.WriteString(msg)
	if e, ok := r.errnoSuffix(k); ok {
		fmt.Fprintf(&b, ": %s (%d)", ErrnoName(e), int(e))
	}
	return b.String()
}

func (r *Reporter) print(loc stack.Location, k result.Kind, msg string) {
	switch k.Type() {
	case result.TDEBUG:
		if !r.debug() || r.opts.Quiet {
			return
		}
	case result.TINFO, result.TCONF:
		if r.opts.Quiet {
			return
		}
	}
	r.opts.Sink.Log(r.Format(loc, k, msg))
}

func (r *Reporter) record(k result.Kind) {
	if r.region != nil && k.Counted() {
		r.region.Record(k)
	}
}

// Report prints a result line and records counted kinds. While the reporter
// is softened a TBROK is downgraded to TWARN.
func (r *Reporter) Report(loc stack.Location, k result.Kind, msg string) {
	if k.Type() == result.TBROK && r.Softened() {
		k = (k &^ result.TBROK) | result.TWARN
	}
	r.print(loc, k, msg)
	r.record(k)
}

// Resf reports a result attributed to the caller.
func (r *Reporter) Resf(k result.Kind, format string, args ...interface{}) {
	r.Report(stack.Caller(1), k, fmt.Sprintf(format, args...))
}

// Log implements logging.Logger, turning harness diagnostics into TINFO and
// TDEBUG lines.
func (r *Reporter) Log(level logging.Level, ts time.Time, loc stack.Location, msg string) {
	k := result.TINFO
	if level < logging.LevelInfo {
		k = result.TDEBUG
	}
	r.Report(loc, k, msg)
}

// Softened reports whether TBROK is currently downgraded.
func (r *Reporter) Softened() bool {
	return atomic.LoadInt32(&r.softened) > 0
}

// Soften runs f with TBROK downgraded to TWARN and Brk returning instead of
// terminating the process.
func (r *Reporter) Soften(f func()) {
	atomic.AddInt32(&r.softened, 1)
	defer atomic.AddInt32(&r.softened, -1)
	f()
}

// Role is the role of the calling process relative to the results region.
type Role int

const (
	// RoleNone means no results region is attached.
	RoleNone Role = iota
	// RoleLibrary is the process that created the results region.
	RoleLibrary
	// RoleMain is the main test process.
	RoleMain
	// RoleOther is any other descendant.
	RoleOther
)

// Role returns the role of the calling process.
func (r *Reporter) Role() Role {
	switch {
	case r.region == nil:
		return RoleNone
	case r.opts.PID == r.region.LibPID():
		return RoleLibrary
	case r.opts.PID == r.region.MainPID():
		return RoleMain
	default:
		return RoleOther
	}
}

// Brk reports an aborting result and terminates the calling process
// according to its role:
//
//   - without a results region, the process exits with the kind as status;
//   - the main test process raises the abort flag on TBROK, runs the test
//     cleanup, then exits 0;
//   - the library process runs the harness cleanup, prints the summary and
//     exits with the aggregated status;
//   - any other process raises the abort flag on TBROK, kills the main test
//     process and exits 0.
//
// While softened, Brk only reports (TBROK as TWARN) and returns.
func (r *Reporter) Brk(loc stack.Location, k result.Kind, msg string) {
	if r.Softened() {
		r.Report(loc, k, msg)
		return
	}
	r.print(loc, k, msg)

	kind := k.Type()
	role := r.Role()
	if role == RoleNone {
		r.opts.Exit(int(kind))
		return
	}
	r.record(k)

	first := atomic.CompareAndSwapInt32(&r.aborting, 0, 1)
	switch role {
	case RoleMain:
		if kind == result.TBROK {
			r.region.SetAbort()
		}
		if first {
			r.runHook(func(r *Reporter) func() { return r.testCleanup })
		}
		r.opts.Exit(0)
	case RoleLibrary:
		if first {
			r.runHook(func(r *Reporter) func() { return r.libraryCleanup })
		}
		r.Finish(int(kind))
	default:
		if kind == result.TBROK {
			r.region.SetAbort()
			if main := r.region.MainPID(); main > 0 && main != r.opts.PID {
				r.opts.Kill(main, unix.SIGKILL)
			}
		}
		r.opts.Exit(0)
	}
}

// Brkf is Brk attributed to the caller with a formatted message.
func (r *Reporter) Brkf(k result.Kind, format string, args ...interface{}) {
	r.Brk(stack.Caller(1), k, fmt.Sprintf(format, args...))
}

// runHook runs the hook selected by hook, read under hookMu, softened.
func (r *Reporter) runHook(hook func(r *Reporter) func()) {
	r.hookMu.Lock()
	h := hook(r)
	r.hookMu.Unlock()
	if h != nil {
		r.Soften(h)
	}
}

// Finish prints failure hints and the summary, runs the exit hook and exits
// with the status aggregated from the results region and prev.
func (r *Reporter) Finish(prev int) {
	status := prev
	if r.region != nil {
		c := r.region.Results()
		status = c.ExitStatus(prev)
		if c.Failed > 0 || c.Broken > 0 {
			PrintHints(r.opts.Stdout, r.opts.Tags)
		}
		io.WriteString(r.opts.Stdout, c.Summary())
	}
	r.hookMu.Lock()
	h := r.onExit
	r.hookMu.Unlock()
	if h != nil {
		h()
	}
	r.opts.Exit(status)
}
