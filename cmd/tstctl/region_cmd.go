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
	"time"

	"github.com/google/subcommands"
	"gopkg.in/yaml.v2"

	"github.com/linux-test-project/ltp-sub005/internal/command"
	"github.com/linux-test-project/ltp-sub005/internal/ipc"
	"github.com/linux-test-project/ltp-sub005/internal/result"
)

type regionFormat int

const (
	regionYAML regionFormat = iota
	regionSummary
)

// regionCmd implements subcommands.Command to inspect the results region of
// a running test.
type regionCmd struct {
	format regionFormat
	stdout io.Writer
}

var _ = subcommands.Command(&regionCmd{})

func newRegionCmd(stdout io.Writer) *regionCmd {
	return &regionCmd{stdout: stdout}
}

func (*regionCmd) Name() string     { return "region" }
func (*regionCmd) Synopsis() string { return "dump a test results region" }
func (*regionCmd) Usage() string {
	return `Usage: region [flag]... <path>

Description:
    Print the context and result counters of a results region, normally
    /dev/shm/ltp_<test>_<pid> of a test started with a forking descriptor.

Flag:
`
}

func (rc *regionCmd) SetFlags(f *flag.FlagSet) {
	vals := map[string]int{"yaml": int(regionYAML), "summary": int(regionSummary)}
	fv := command.NewEnumFlag(vals, func(v int) { rc.format = regionFormat(v) }, "yaml")
	f.Var(fv, "format", fmt.Sprintf("output format (%s)", fv.QuotedValues()))
}

// regionInfo is the YAML form of a region.
type regionInfo struct {
	Path      string        `yaml:"path"`
	LibPID    int           `yaml:"lib_pid"`
	MainPID   int           `yaml:"main_pid"`
	Aborted   bool          `yaml:"aborted"`
	StartTime string        `yaml:"start_time"`
	Timeout   string        `yaml:"timeout"`
	Runtime   string        `yaml:"runtime"`
	Flags     []string      `yaml:"flags,omitempty"`
	Results   result.Counts `yaml:"results"`
}

func describeRegion(path string, r *ipc.Region) regionInfo {
	info := regionInfo{
		Path:      path,
		LibPID:    r.LibPID(),
		MainPID:   r.MainPID(),
		Aborted:   r.Aborted(),
		StartTime: r.StartTime().Format(time.RFC3339),
		Timeout:   r.Timeout().String(),
		Runtime:   r.Runtime().String(),
		Results:   r.Results(),
	}
	for _, f := range []struct {
		flag ipc.Flag
		name string
	}{
		{ipc.FlagMntpointMounted, "mntpoint_mounted"},
		{ipc.FlagOverlayMounted, "overlay_mounted"},
		{ipc.FlagDebug, "debug"},
	} {
		if r.Flag(f.flag) {
			info.Flags = append(info.Flags, f.name)
		}
	}
	return info
}

func (rc *regionCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	path := f.Arg(0)
	r, err := ipc.AttachPath(path)
	if err != nil {
		return subcommands.ExitStatus(command.WriteError(os.Stderr, err))
	}
	defer r.Destroy()

	info := describeRegion(path, r)
	if rc.format == regionSummary {
		io.WriteString(rc.stdout, info.Results.Summary())
		return subcommands.ExitSuccess
	}
	b, err := yaml.Marshal(&info)
	if err != nil {
		return subcommands.ExitStatus(command.WriteError(os.Stderr, err))
	}
	rc.stdout.Write(b)
	return subcommands.ExitSuccess
}
