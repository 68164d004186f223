// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package harness

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"os/exec"

	"github.com/linux-test-project/ltp-sub005/errors"
	"github.com/linux-test-project/ltp-sub005/internal/ipc"
)

// EnvRole selects the code path of a re-executed test binary.
const EnvRole = "LTP_HARNESS_ROLE"

// Process roles.
const (
	RoleRunner = "runner"
	RoleChild  = "child"
)

const selfExe = "/proc/self/exe"

// RunArgs is passed on stdin to re-executed processes. It carries the
// resources the library process acquired.
type RunArgs struct {
	Variant      int               `json:"variant"`
	FsType       string            `json:"fsType,omitempty"`
	Device       string            `json:"device,omitempty"`
	DeviceSizeMB uint64            `json:"deviceSizeMB,omitempty"`
	MntPoint     string            `json:"mntPoint,omitempty"`
	Overlay      string            `json:"overlay,omitempty"`
	WorkDir      string            `json:"workDir,omitempty"`
	Hugepages    int               `json:"hugepages,omitempty"`
	Cgroups      map[string]string `json:"cgroups,omitempty"`

	// Child names the ChildFunc run by a child process.
	Child     string   `json:"child,omitempty"`
	ChildArgs []string `json:"childArgs,omitempty"`
}

func readRunArgs(r io.Reader) (*RunArgs, error) {
	var args RunArgs
	if err := json.NewDecoder(r).Decode(&args); err != nil {
		return nil, errors.Wrap(err, "failed to decode run arguments")
	}
	return &args, nil
}

// newCommand prepares a re-execution of the test binary with the same
// command line in the given role.
func newCommand(role string, region *ipc.Region, args *RunArgs) (*exec.Cmd, error) {
	b, err := json.Marshal(args)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode run arguments")
	}
	cmd := exec.Command(selfExe, os.Args[1:]...)
	cmd.Args[0] = os.Args[0]
	cmd.Env = append(os.Environ(), EnvRole+"="+role, ipc.EnvPath+"="+region.EnvValue())
	cmd.Stdin = bytes.NewReader(b)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if region.Path() == "" {
		// The region file is unlinked; hand over the descriptor.
		cmd.ExtraFiles = []*os.File{region.File()}
	}
	return cmd, nil
}
