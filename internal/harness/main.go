// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package harness runs kernel tests.
//
// A test binary calls Main once. The first process, the library process,
// validates the test, checks its requirements, prepares resources and then
// re-executes the binary as the main test process (the runner) once per
// variant and filesystem, supervising each run with a watchdog. The runner
// calls the test callbacks; processes started with State.Fork run named
// child functions. All processes account results in a shared memory region
// so the library can compute the exit status.
package harness

import (
	"os"
	"path/filepath"

	"github.com/linux-test-project/ltp-sub005/internal/report"
	"github.com/linux-test-project/ltp-sub005/internal/result"
)

// Version is printed by -V.
var Version = "20240129"

func programName() string {
	return filepath.Base(os.Args[0])
}

// Main runs t in the role of the calling process. It does not return.
func Main(t *Test) {
	env, err := ParseEnv(os.LookupEnv)
	if err != nil {
		report.New(nil, report.Options{}).Brkf(result.TBROK, "%v", err)
	}
	switch env.Role {
	case RoleRunner:
		runRunner(t, env)
	case RoleChild:
		runChild(t, env)
	default:
		runLibrary(t, env)
	}
}
