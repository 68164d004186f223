// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package main

import (
	"context"
	"flag"
	"io"
	"os"

	"github.com/google/subcommands"

	"github.com/linux-test-project/ltp-sub005/internal/command"
	"github.com/linux-test-project/ltp-sub005/internal/logging"
	"github.com/linux-test-project/ltp-sub005/internal/runfile"
)

// runCmd implements subcommands.Command to run the tests of a runfile.
type runCmd struct {
	jobs   int
	stdout io.Writer
}

var _ = subcommands.Command(&runCmd{})

func newRunCmd(stdout io.Writer) *runCmd {
	return &runCmd{stdout: stdout}
}

func (*runCmd) Name() string     { return "run" }
func (*runCmd) Synopsis() string { return "run tests listed in a runfile" }
func (*runCmd) Usage() string {
	return `Usage: run [flag]... <runfile>

Description:
    Run the test binaries listed in a YAML runfile and print the outcome
    as TAP on stdout. Test output is attached to failed tests.

Flag:
`
}

func (rc *runCmd) SetFlags(f *flag.FlagSet) {
	f.IntVar(&rc.jobs, "j", 1, "number of tests to run in parallel (0 for no limit)")
}

func (rc *runCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	rf, err := runfile.Load(f.Arg(0))
	if err != nil {
		return subcommands.ExitStatus(command.WriteError(os.Stderr, err))
	}
	logging.Infof(ctx, "Running %d test(s) from %s", len(rf.Tests), f.Arg(0))
	results := runfile.Run(ctx, rf, rc.jobs)
	if failed := runfile.WriteTAP(rc.stdout, results); failed > 0 {
		logging.Infof(ctx, "%d of %d test(s) failed", failed, len(results))
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}
