// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/google/subcommands"

	"github.com/linux-test-project/ltp-sub005/internal/command"
	"github.com/linux-test-project/ltp-sub005/internal/fstype"
)

// fsCmd implements subcommands.Command to list the filesystems a test in
// all-filesystems mode would run on.
type fsCmd struct {
	skip     []string
	single   string
	versions bool
	prober   *fstype.Prober
	stdout   io.Writer
}

var _ = subcommands.Command(&fsCmd{})

func newFsCmd(stdout io.Writer) *fsCmd {
	return &fsCmd{prober: fstype.NewProber(), stdout: stdout}
}

func (*fsCmd) Name() string     { return "fs" }
func (*fsCmd) Synopsis() string { return "list supported filesystems" }
func (*fsCmd) Usage() string {
	return `Usage: fs [flag]...

Description:
    List the filesystems supported by the kernel and the installed mkfs
    tools, in the order tests iterate them.

Flag:
`
}

func (fc *fsCmd) SetFlags(f *flag.FlagSet) {
	f.Var(command.NewListFlag(",", func(v []string) { fc.skip = v }, nil), "skip",
		"comma-separated filesystems to leave out")
	f.StringVar(&fc.single, "single", os.Getenv("LTP_SINGLE_FS_TYPE"), "only consider this filesystem")
	f.BoolVar(&fc.versions, "versions", false, "print mkfs versions")
}

func (fc *fsCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	fss := fc.prober.Supported(ctx, fc.skip, fc.single)
	if len(fss) == 0 {
		return subcommands.ExitStatus(command.WriteError(os.Stderr,
			command.NewStatusErrorf(int(subcommands.ExitFailure), "no supported filesystems")))
	}
	for _, fs := range fss {
		if !fc.versions || fs == "tmpfs" {
			fmt.Fprintln(fc.stdout, fs)
			continue
		}
		v, err := fc.prober.CommandVersion(ctx, "mkfs."+fs)
		if err != nil {
			fmt.Fprintf(fc.stdout, "%s\tunknown\n", fs)
			continue
		}
		fmt.Fprintf(fc.stdout, "%s\t%v\n", fs, v)
	}
	return subcommands.ExitSuccess
}
