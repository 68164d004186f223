// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package harness

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/linux-test-project/ltp-sub005/errors/stack"
	"github.com/linux-test-project/ltp-sub005/internal/ipc"
	"github.com/linux-test-project/ltp-sub005/internal/logging"
	"github.com/linux-test-project/ltp-sub005/internal/options"
	"github.com/linux-test-project/ltp-sub005/internal/report"
	"github.com/linux-test-project/ltp-sub005/internal/result"
	"github.com/linux-test-project/ltp-sub005/internal/sysinfo"
	"github.com/linux-test-project/ltp-sub005/internal/usercode"
)

// attach sets up a re-executed process: it reads the run arguments, maps
// the results region and creates a reporter. Failures exit with TBROK.
func attach(t *Test, env *Env) (*report.Reporter, *RunArgs, context.Context) {
	rep := report.New(nil, env.reportOptions(t.Tags))
	args, err := readRunArgs(os.Stdin)
	if err != nil {
		rep.Brkf(result.TBROK, "%v", err)
	}
	region, err := ipc.Attach()
	if err != nil {
		rep.Brkf(result.TBROK, "%v", err)
	}
	rep.SetRegion(region)
	return rep, args, logging.AttachLogger(context.Background(), rep)
}

// call runs a test callback. A panic is a TBROK.
func call(ctx context.Context, rep *report.Reporter, f func()) {
	usercode.SafeCall(ctx, func(val interface{}, st []byte) {
		logging.Debugf(ctx, "Panic stack:\n%s", st)
		rep.Brk(stack.Caller(0), result.TBROK, fmt.Sprintf("Panic: %v", val))
	}, func(ctx context.Context) {
		f()
	})
}

// reported reports whether after holds results missing from before.
// Warnings alone do not count.
func reported(before, after result.Counts) bool {
	return before.Passed != after.Passed || before.Failed != after.Failed ||
		before.Broken != after.Broken || before.Skipped != after.Skipped
}

// runner is the main test process.
type runner struct {
	ctx    context.Context
	t      *Test
	rep    *report.Reporter
	region *ipc.Region
	cfg    *options.Config
	s      *State

	cleanupOnce sync.Once
}

func runRunner(t *Test, env *Env) {
	rep, args, ctx := attach(t, env)
	region := rep.Region()
	region.SetMainPID(os.Getpid())

	cfg, err := options.Parse(programName(), os.Args[1:], t.Options)
	if err != nil {
		rep.Brkf(result.TBROK, "%v", err)
	}
	if args.WorkDir != "" {
		if err := os.Chdir(args.WorkDir); err != nil {
			rep.Brkf(result.TBROK, "Failed to enter %s: %v", args.WorkDir, err)
		}
	}

	r := &runner{ctx: ctx, t: t, rep: rep, region: region, cfg: cfg}
	r.s = newState(ctx, t, rep, args, cfg)
	rep.SetTestCleanup(r.cleanup)

	if err := sysinfo.ApplyUlimits(ctx, t.Ulimits); err != nil {
		rep.Brk(stack.Caller(0), result.KindOf(err), err.Error())
	}
	if err := sysinfo.ApplyCaps(ctx, t.Caps); err != nil {
		rep.Brk(stack.Caller(0), result.KindOf(err), err.Error())
	}

	r.run()
	r.cleanup()
	// The library prints the summary.
	os.Exit(0)
}

func (r *runner) run() {
	if r.t.Setup != nil {
		call(r.ctx, r.rep, func() { r.t.Setup(r.s) })
	}

	if r.cfg.DurationSet && r.t.Runtime == 0 {
		start := time.Now()
		n := 0
		for time.Since(start) < r.cfg.Duration {
			r.iterate()
			n++
		}
		logging.Infof(r.ctx, "Ran %d iteration(s) in %v", n, r.cfg.Duration)
		return
	}
	for i := 0; i < r.cfg.Iterations; i++ {
		r.iterate()
	}
}

func (r *runner) iterate() {
	t := r.t
	switch {
	case t.Run != nil:
		r.callback(func() { t.Run(r.s) })
	case t.RunCase != nil:
		for n := 0; n < t.Cases; n++ {
			n := n
			r.callback(func() { t.RunCase(r.s, n) })
		}
	case t.Sample != nil:
		for n := 0; n < t.Samples; n++ {
			n := n
			r.callback(func() { t.Sample(r.s, n) })
		}
	}
}

// callback runs one test callback, reaps its children and requires that
// something was reported.
func (r *runner) callback(f func()) {
	before := r.region.Results()
	call(r.ctx, r.rep, f)
	r.s.Reap()
	if !reported(before, r.region.Results()) {
		r.rep.Brkf(result.TBROK, "Test haven't reported results!")
	}
}

// cleanup runs the test cleanup once, with TBROK softened.
func (r *runner) cleanup() {
	r.cleanupOnce.Do(func() {
		if r.t.Cleanup == nil {
			return
		}
		r.rep.Soften(func() {
			call(r.ctx, r.rep, func() { r.t.Cleanup(r.s) })
		})
	})
}

func runChild(t *Test, env *Env) {
	rep, args, ctx := attach(t, env)
	f, ok := t.Children[args.Child]
	if !ok {
		rep.Brkf(result.TBROK, "Unknown child %q", args.Child)
	}
	cfg, err := options.Parse(programName(), os.Args[1:], t.Options)
	if err != nil {
		rep.Brkf(result.TBROK, "%v", err)
	}
	s := newState(ctx, t, rep, args, cfg)
	call(ctx, rep, func() { f(s, args.ChildArgs) })
	s.Reap()
	// Only the main test process runs cleanup.
	os.Exit(0)
}
