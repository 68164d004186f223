// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package runfile runs lists of test binaries and reports their outcome in
// TAP.
//
// A runfile is YAML:
//
//	env:
//	  LTP_TIMEOUT_MUL: "2"
//	tests:
//	  - name: read01
//	    cmd: read01 -i 3
//	  - name: fs_fill
//	    cmd: fs_fill
//	    env:
//	      LTP_SINGLE_FS_TYPE: ext4
//	    timeout: 10m
package runfile

import (
	"bytes"
	"context"
	"io"
	"os"
	"os/exec"
	"sort"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"
	"gopkg.in/yaml.v2"

	"github.com/linux-test-project/ltp-sub005/errors"
	"github.com/linux-test-project/ltp-sub005/internal/logging"
	"github.com/linux-test-project/ltp-sub005/internal/result"
	"github.com/linux-test-project/ltp-sub005/internal/shell"
)

// Entry is one test binary invocation.
type Entry struct {
	Name    string            `yaml:"name"`
	Command string            `yaml:"cmd"`
	Env     map[string]string `yaml:"env,omitempty"`
	// Timeout kills the test from outside; zero leaves it to the harness
	// watchdog.
	Timeout time.Duration `yaml:"timeout,omitempty"`
}

// Runfile is a list of tests sharing an environment.
type Runfile struct {
	Env   map[string]string `yaml:"env,omitempty"`
	Tests []Entry           `yaml:"tests"`
}

// Parse reads a runfile and validates it.
func Parse(r io.Reader) (*Runfile, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read runfile")
	}
	var rf Runfile
	if err := yaml.UnmarshalStrict(b, &rf); err != nil {
		return nil, errors.Wrap(err, "failed to parse runfile")
	}
	seen := make(map[string]bool)
	for i, e := range rf.Tests {
		if e.Name == "" {
			return nil, errors.Errorf("test #%d has no name", i+1)
		}
		if seen[e.Name] {
			return nil, errors.Errorf("duplicate test %s", e.Name)
		}
		seen[e.Name] = true
		args, err := shell.Split(e.Command)
		if err != nil {
			return nil, errors.Wrapf(err, "bad command of %s", e.Name)
		}
		if len(args) == 0 {
			return nil, errors.Errorf("test %s has no command", e.Name)
		}
	}
	return &rf, nil
}

// Load parses the runfile at path.
func Load(path string) (*Runfile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Parse(f)
}

// Result is the outcome of one Entry.
type Result struct {
	Name string
	// Status is the exit status, or -1 if the test did not exit normally.
	Status int
	// Signal names the signal that killed the test.
	Signal  string
	Output  string
	Elapsed time.Duration
	// Err is set if the test could not be started.
	Err error
}

// Skipped reports whether the test only skipped.
func (r *Result) Skipped() bool {
	return r.Err == nil && r.Status == int(result.TCONF)
}

// Passed reports whether the test exited successfully.
func (r *Result) Passed() bool {
	return r.Err == nil && r.Status == 0
}

// Kinds lists the result kinds folded into the exit status.
func (r *Result) Kinds() []string {
	if r.Status <= 0 {
		return nil
	}
	var kinds []string
	for _, k := range []result.Kind{result.TFAIL, result.TBROK, result.TWARN, result.TCONF} {
		if r.Status&int(k) != 0 {
			kinds = append(kinds, k.String())
		}
	}
	return kinds
}

// Run runs the tests of rf with at most jobs in parallel and returns their
// results in runfile order. jobs <= 0 means no limit.
func Run(ctx context.Context, rf *Runfile, jobs int) []Result {
	results := make([]Result, len(rf.Tests))
	g, ctx := errgroup.WithContext(ctx)
	if jobs > 0 {
		g.SetLimit(jobs)
	}
	for i, e := range rf.Tests {
		i, e := i, e
		g.Go(func() error {
			results[i] = runEntry(ctx, rf.Env, e)
			return nil
		})
	}
	g.Wait()
	return results
}

func environ(common, own map[string]string) []string {
	env := os.Environ()
	for _, m := range []map[string]string{common, own} {
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			env = append(env, k+"="+m[k])
		}
	}
	return env
}

func runEntry(ctx context.Context, common map[string]string, e Entry) Result {
	res := Result{Name: e.Name, Status: -1}
	args, err := shell.Split(e.Command)
	if err != nil {
		res.Err = err
		return res
	}
	if e.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}

	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Env = environ(common, e.Env)
	cmd.Stdout = &out
	cmd.Stderr = &out

	logging.Infof(ctx, "Starting %s", e.Name)
	start := time.Now()
	err = cmd.Run()
	res.Elapsed = time.Since(start)
	res.Output = out.String()

	var ee *exec.ExitError
	switch {
	case err == nil:
		res.Status = 0
	case errors.As(err, &ee):
		ws := ee.Sys().(syscall.WaitStatus)
		if ws.Signaled() {
			res.Signal = unix.SignalName(ws.Signal())
		} else {
			res.Status = ws.ExitStatus()
		}
	default:
		res.Err = err
	}
	logging.Infof(ctx, "%s finished with status %d in %v", e.Name, res.Status, res.Elapsed.Round(time.Millisecond))
	return res
}
