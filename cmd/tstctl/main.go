// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package main implements tstctl, an operator tool for harness-based tests.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"

	"github.com/linux-test-project/ltp-sub005/internal/command"
	"github.com/linux-test-project/ltp-sub005/internal/harness"
	"github.com/linux-test-project/ltp-sub005/internal/logging"
)

// doMain implements the main body of the program. It's a separate function so
// that its deferred functions will run before os.Exit makes the program exit
// immediately.
func doMain() int {
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(subcommands.CommandsCommand(), "")
	subcommands.Register(newFsCmd(os.Stdout), "")
	subcommands.Register(newRegionCmd(os.Stdout), "")
	subcommands.Register(newRunCmd(os.Stdout), "")

	version := flag.Bool("version", false, "print version and exit")
	verbose := flag.Bool("verbose", false, "use verbose logging")
	logTime := flag.Bool("logtime", false, "include date/time headers in logs")
	flag.Parse()

	if *version {
		fmt.Printf("tstctl version %s\n", harness.Version)
		return 0
	}

	level := logging.LevelInfo
	if *verbose {
		level = logging.LevelDebug
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ctx = logging.AttachLogger(ctx, logging.NewSinkLogger(level, *logTime, logging.NewWriterSink(os.Stderr)))

	stop := command.InstallSignalHandler(func(sig os.Signal) {
		logging.Infof(ctx, "Caught %v signal; stopping", sig)
		cancel()
	})
	defer stop()

	return int(subcommands.Execute(ctx))
}

func main() {
	os.Exit(doMain())
}
