// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package harness

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"golang.org/x/exp/slices"
	"golang.org/x/sys/unix"

	"github.com/linux-test-project/ltp-sub005/errors/stack"
	"github.com/linux-test-project/ltp-sub005/internal/cgroup"
	"github.com/linux-test-project/ltp-sub005/internal/command"
	"github.com/linux-test-project/ltp-sub005/internal/device"
	"github.com/linux-test-project/ltp-sub005/internal/fstype"
	"github.com/linux-test-project/ltp-sub005/internal/ipc"
	"github.com/linux-test-project/ltp-sub005/internal/logging"
	"github.com/linux-test-project/ltp-sub005/internal/mount"
	"github.com/linux-test-project/ltp-sub005/internal/options"
	"github.com/linux-test-project/ltp-sub005/internal/report"
	"github.com/linux-test-project/ltp-sub005/internal/result"
	"github.com/linux-test-project/ltp-sub005/internal/sysinfo"
	"github.com/linux-test-project/ltp-sub005/internal/tmpdir"
	"github.com/linux-test-project/ltp-sub005/internal/watchdog"
)

// library is the supervising process of a test binary.
type library struct {
	ctx  context.Context
	t    *Test
	env  *Env
	name string
	cfg  *options.Config
	rep  *report.Reporter

	region    *ipc.Region
	prober    *fstype.Prober
	host      sysinfo.Host
	kconfig   sysinfo.Kconfig
	mnt       *mount.Manager
	cg        *cgroup.Manager
	formatter device.Formatter
	wd        *watchdog.Watchdog
	run       func(args *RunArgs) int // starts one run; runOnce outside tests

	timeout  time.Duration // zero means unlimited
	runtime  time.Duration
	startDir string
	res      resources

	mu          sync.Mutex
	pgid        int
	interrupted bool
	cleaned     bool
}

func runLibrary(t *Test, env *Env) {
	rep := report.New(nil, env.reportOptions(t.Tags))
	ctx := logging.AttachLogger(context.Background(), rep)
	l := &library{
		ctx:       ctx,
		t:         t,
		env:       env,
		name:      programName(),
		rep:       rep,
		prober:    fstype.NewProber(),
		host:      sysinfo.NewHost(),
		formatter: device.NewMkfs(),
	}
	l.run = l.runOnce
	l.mnt = mount.NewManager(func(ctx context.Context, msg string) {
		rep.Report(stack.Caller(2), result.TWARN, msg)
	})
	l.cg = cgroup.NewManager(l.mnt, cgroup.DefaultPaths)

	if err := Validate(t); err != nil {
		rep.Brkf(result.TBROK, "%v", err)
	}
	cfg, err := options.Parse(l.name, os.Args[1:], t.Options)
	if err != nil {
		l.usage(os.Stderr)
		rep.Brkf(result.TBROK, "%v", err)
	}
	l.cfg = cfg
	if cfg.Help {
		l.usage(os.Stdout)
		os.Exit(0)
	}
	if cfg.Version {
		fmt.Fprintf(os.Stdout, "LTP version: %s\n", Version)
		os.Exit(0)
	}
	if cfg.Debug {
		rep.SetDebug(true)
	}
	rep.Resf(result.TINFO, "LTP version: %s", Version)

	if l.startDir, err = os.Getwd(); err != nil {
		rep.Brkf(result.TBROK, "Failed to get working directory: %v", err)
	}

	region, err := ipc.Create(ipc.CreateOptions{
		Name:        l.name,
		FallbackDir: tmpdir.DefaultRoot,
		KeepPath:    t.keepRegionPath(),
	})
	if err != nil {
		rep.Brkf(result.TBROK, "%v", err)
	}
	l.region = region
	rep.SetRegion(region)
	rep.SetLibraryCleanup(l.cleanup)
	rep.SetOnExit(func() { region.Destroy() })
	if cfg.Debug || env.Debug {
		rep.SetDebug(true)
	}

	if err := l.checkRequirements(); err != nil {
		l.fail(err)
	}
	slow := l.kconfig != nil && sysinfo.IsSlow(ctx, l.kconfig)
	l.timeout, l.runtime = runBudget(t, cfg, env, slow)
	region.SetTimeout(l.timeout)
	region.SetRuntime(l.runtime)

	if err := unix.Prctl(unix.PR_SET_CHILD_SUBREAPER, 1, 0, 0, 0); err != nil {
		logging.Debugf(ctx, "Failed to become a child subreaper: %v", err)
	}
	l.wd = watchdog.New(watchdog.Config{Kill: l.killRunner})
	stopSignals := command.InstallSignalHandler(l.interrupt)
	stopHeartbeat := l.handleHeartbeat()
	logTimeout(ctx, l.timeout)

	if err := l.setup(); err != nil {
		l.fail(err)
	}
	prev := l.runAll()

	stopHeartbeat()
	stopSignals()
	l.cleanup()
	rep.Finish(prev)
}

func (l *library) usage(w *os.File) {
	timeout := "unlimited"
	if l.t.Timeout != TimeoutUnlimited {
		timeout = formatDuration(l.t.Timeout)
		if l.t.Timeout == 0 {
			timeout = formatDuration(DefaultTimeout)
		}
	}
	runtime := ""
	if l.t.Runtime > 0 {
		runtime = formatDuration(l.t.Runtime)
	}
	options.Usage(w, l.t.Options, timeout, runtime)
}

// fail aborts the test with the kind err maps to.
func (l *library) fail(err error) {
	l.rep.Brk(stack.Caller(1), result.KindOf(err), err.Error())
}

// checkRequirements verifies the host, kernel configuration, commands and
// drivers the test asks for.
func (l *library) checkRequirements() error {
	ctx, t := l.ctx, l.t
	if err := sysinfo.Check(ctx, l.host, sysinfo.Requirements{
		NeedsRoot:      t.NeedsRoot,
		MinKver:        t.MinKver,
		MinCPUs:        t.MinCPUs,
		MinMemAvailMB:  t.MinMemAvailMB,
		MinSwapAvailMB: t.MinSwapAvailMB,
	}); err != nil {
		return err
	}

	release, err := l.host.KernelRelease()
	if err != nil {
		return err
	}
	if l.env.KconfigSkip {
		if len(t.NeedsKconfigs) > 0 {
			logging.Info(ctx, "Skipping kernel config check as requested")
		}
	} else {
		k, err := sysinfo.LoadKconfig(ctx, sysinfo.KconfigPaths(l.env.KconfigPath, release))
		if err == nil {
			l.kconfig = k
		}
		if len(t.NeedsKconfigs) > 0 {
			if err != nil {
				return err
			}
			if err := sysinfo.CheckKconfigs(ctx, k, t.NeedsKconfigs); err != nil {
				return err
			}
		}
	}

	if err := sysinfo.CheckCommands(ctx, l.prober, t.NeedsCmds); err != nil {
		return err
	}
	if len(t.NeedsDrivers) > 0 {
		if err := sysinfo.CheckDrivers(ctx, sysinfo.ModulesDir(release), t.NeedsDrivers); err != nil {
			return err
		}
	}
	return nil
}

// runBudget computes the watchdog timeout of one run and the test runtime.
// A zero timeout disables the watchdog.
func runBudget(t *Test, cfg *options.Config, env *Env, slow bool) (timeout, runtime time.Duration) {
	runtime = time.Duration(float64(t.Runtime) * env.RuntimeMul)
	if t.Runtime > 0 && cfg.DurationSet {
		runtime = cfg.Duration
	}
	if t.Timeout == TimeoutUnlimited {
		return 0, runtime
	}
	timeout = t.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	if slow {
		timeout *= sysinfo.SlowKconfigFactor
	}
	total := timeout + runtime
	if cfg.DurationSet && t.Runtime == 0 {
		total += cfg.Duration
	}
	return time.Duration(float64(total) * env.TimeoutMul), runtime
}

func formatDuration(d time.Duration) string {
	s := int64(d / time.Second)
	return fmt.Sprintf("%dh %02dm %02ds", s/3600, s/60%60, s%60)
}

func logTimeout(ctx context.Context, d time.Duration) {
	if d == 0 {
		logging.Info(ctx, "Timeout per run is disabled")
		return
	}
	logging.Infof(ctx, "Timeout per run is %s", formatDuration(d))
}

func (l *library) setPgid(pgid int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pgid = pgid
}

// killRunner kills the process group of the running test.
func (l *library) killRunner() {
	l.mu.Lock()
	pgid := l.pgid
	l.mu.Unlock()
	if pgid > 0 {
		unix.Kill(-pgid, unix.SIGKILL)
	}
}

func (l *library) interrupt(sig os.Signal) {
	l.mu.Lock()
	l.interrupted = true
	l.mu.Unlock()
	logging.Infof(l.ctx, "Received %v, killing the test", sig)
	l.killRunner()
}

func (l *library) isInterrupted() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.interrupted
}

// handleHeartbeat rearms the watchdog on SIGUSR1.
func (l *library) handleHeartbeat() (stop func()) {
	ch := make(chan os.Signal, 1)
	done := make(chan struct{})
	signal.Notify(ch, unix.SIGUSR1)
	go func() {
		for {
			select {
			case <-ch:
				l.wd.Rearm()
			case <-done:
				return
			}
		}
	}()
	return func() {
		signal.Stop(ch)
		close(done)
	}
}

// runAll runs every variant, on every filesystem if requested, and returns
// the status carried into the summary.
func (l *library) runAll() int {
	variants := l.t.Variants
	if variants < 1 {
		variants = 1
	}
	prev := 0
	for v := 0; v < variants; v++ {
		if l.t.AllFilesystems {
			prev = l.runPerFs(v)
		} else {
			prev = l.run(l.runArgs(v))
		}
	}
	return prev
}

// runPerFs runs variant v once per supported filesystem.
func (l *library) runPerFs(v int) int {
	fss := l.prober.Supported(l.ctx, l.t.SkipFilesystems, l.env.SingleFsType)
	if !l.t.MountDevice {
		fss = slices.DeleteFunc(fss, func(fs string) bool { return fs == "tmpfs" })
	}
	if len(fss) == 0 {
		l.fail(result.Conff("There are no supported filesystems"))
	}

	ret := 0
	found := false
	for _, fs := range fss {
		f := l.t.filesystem(fs)
		if reason, err := l.fsUnusable(f); err != nil {
			l.fail(err)
		} else if reason != "" {
			l.rep.Resf(result.TCONF, "Skipping %s: %s", fs, reason)
			continue
		}
		found = true
		l.rep.Resf(result.TINFO, "=== Testing on %s ===", fs)
		if err := l.prepareFs(f); err != nil {
			if !result.IsConf(err) {
				l.fail(err)
			}
			l.rep.Resf(result.TCONF, "%v", err)
			l.releaseFs()
			continue
		}
		ret = l.run(l.runArgs(v))
		l.releaseFs()
	}
	if !found {
		l.fail(result.Conff("No required filesystems are available"))
	}
	return ret
}

// fsUnusable checks the per-filesystem requirements of f. It returns the
// reason f cannot be tested, or "".
func (l *library) fsUnusable(f Filesystem) (string, error) {
	if f.MkfsVer != "" {
		ok, reason, err := l.prober.CheckCommand(l.ctx, f.MkfsVer)
		if err != nil {
			return "", err
		}
		if !ok {
			return reason, nil
		}
	}
	if f.MinKver != "" {
		if err := sysinfo.CheckKernel(l.host, f.MinKver); err != nil {
			if !result.IsConf(err) {
				return "", err
			}
			return err.Error(), nil
		}
	}
	return "", nil
}

// runArgs describes the current resources to a runner of variant v.
func (l *library) runArgs(v int) *RunArgs {
	a := &RunArgs{
		Variant:   v,
		FsType:    l.res.fsType,
		MntPoint:  l.res.mntpoint,
		Overlay:   l.res.overlay,
		Hugepages: l.res.hugepages,
		Cgroups:   l.res.cgroups,
	}
	if l.res.dev != nil {
		a.Device = l.res.dev.Path()
		a.DeviceSizeMB = l.res.dev.SizeMB()
	}
	if l.res.tmp != nil {
		a.WorkDir = l.res.tmp.Path()
	}
	return a
}

// runOnce starts the main test process, supervises it and interprets its
// exit. It returns TCONF if the run only skipped.
func (l *library) runOnce(args *RunArgs) int {
	before := l.region.Results()
	l.region.SetStartTime(time.Now())

	cmd, err := newCommand(RoleRunner, l.region, args)
	if err != nil {
		l.fail(err)
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true, Pdeathsig: syscall.SIGKILL}
	if err := cmd.Start(); err != nil {
		l.rep.Brkf(result.TBROK, "Failed to start test process: %v", err)
	}
	pid := cmd.Process.Pid
	l.region.SetMainPID(pid)
	l.setPgid(pid)
	if l.timeout > 0 {
		l.wd.Arm(l.timeout)
	}
	ws := wait(cmd)
	l.wd.Stop()
	l.setPgid(0)
	l.sweep(pid)

	if l.region.Aborted() {
		l.rep.Resf(result.TINFO, "Test process tree aborted after a BROKEN result")
		l.cleanup()
		l.rep.Finish(int(result.TBROK))
	}
	if msg := runnerProblem(ws, l.isInterrupted()); msg != "" {
		if ws.Signaled() && ws.Signal() == unix.SIGKILL && !l.isInterrupted() {
			l.rep.Resf(result.TINFO, "If you are running on slow machine, try exporting LTP_TIMEOUT_MUL > 1")
		}
		l.rep.Brkf(result.TBROK, "%s", msg)
	}
	l.checkTaint()

	after := l.region.Results()
	if after.Skipped > before.Skipped && after.Passed == before.Passed &&
		after.Failed == before.Failed {
		return int(result.TCONF)
	}
	return 0
}

// runnerProblem describes an abnormal exit of the main test process, or
// returns "".
func runnerProblem(ws unix.WaitStatus, interrupted bool) string {
	switch {
	case ws.Signaled() && ws.Signal() == unix.SIGKILL && interrupted:
		return "Test interrupted!"
	case ws.Signaled() && ws.Signal() == unix.SIGKILL:
		return "Test killed! (timeout?)"
	case ws.Signaled():
		return fmt.Sprintf("Test killed by %s!", unix.SignalName(ws.Signal()))
	case ws.Exited() && ws.ExitStatus() != 0:
		return fmt.Sprintf("Test process returned with %d", ws.ExitStatus())
	}
	return ""
}

// sweep kills what is left of the process tree of the runner pid.
func (l *library) sweep(pid int) {
	if l.t.ForksChild {
		unix.Kill(-pid, unix.SIGKILL)
	}
	pids, err := command.KillChildren()
	if err != nil {
		logging.Debugf(l.ctx, "Failed to list leftover processes: %v", err)
		return
	}
	for _, p := range pids {
		var ws unix.WaitStatus
		unix.Wait4(p, &ws, 0, nil)
	}
	if len(pids) > 0 {
		logging.Infof(l.ctx, "Killed %d leftover process(es)", len(pids))
	}
}

func (l *library) checkTaint() {
	if l.res.taint == nil {
		return
	}
	flags, err := l.res.taint.Check()
	if err != nil {
		l.rep.Resf(result.TWARN, "%v", err)
		return
	}
	if flags != 0 {
		l.rep.Resf(result.TFAIL, "Kernel is now tainted")
	}
}
