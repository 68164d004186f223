// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package command

import (
	"os"
	"os/signal"

	"github.com/shirou/gopsutil/v3/process"
	"golang.org/x/sys/unix"
)

// InstallSignalHandler calls callback for every SIGINT or SIGTERM the
// process receives. The returned function uninstalls the handler.
func InstallSignalHandler(callback func(sig os.Signal)) (stop func()) {
	ch := make(chan os.Signal, 1)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case sig := <-ch:
				callback(sig)
			case <-done:
				return
			}
		}
	}()
	signal.Notify(ch, unix.SIGINT, unix.SIGTERM)
	return func() {
		signal.Stop(ch)
		close(done)
	}
}

// KillChildren sends SIGKILL to every live process whose parent is the
// calling process, which includes orphans re-parented to a child subreaper.
// It returns the pids signaled.
func KillChildren() ([]int, error) {
	procs, err := process.Processes()
	if err != nil {
		return nil, err
	}
	self := int32(os.Getpid())
	var killed []int
	for _, proc := range procs {
		ppid, err := proc.Ppid()
		if err != nil || ppid != self {
			continue
		}
		if err := proc.Kill(); err == nil {
			killed = append(killed, int(proc.Pid))
		}
	}
	return killed, nil
}
