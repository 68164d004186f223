// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package sysinfo checks whether the machine meets a test's requirements.
//
// Every unmet requirement is reported as a result.ConfError so the test is
// skipped rather than failed.
package sysinfo

import (
	"context"
	"os"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/linux-test-project/ltp-sub005/errors"
	"github.com/linux-test-project/ltp-sub005/internal/fstype"
	"github.com/linux-test-project/ltp-sub005/internal/logging"
	"github.com/linux-test-project/ltp-sub005/internal/result"
)

// Host reports facts about the machine.
type Host interface {
	KernelRelease() (string, error)
	OnlineCPUs() (int, error)
	MemAvailableMB() (uint64, error)
	SwapFreeMB() (uint64, error)
	Euid() int
}

type systemHost struct{}

// NewHost returns a Host describing the running system.
func NewHost() Host { return systemHost{} }

func (systemHost) KernelRelease() (string, error) { return host.KernelVersion() }

func (systemHost) OnlineCPUs() (int, error) { return cpu.Counts(true) }

func (systemHost) MemAvailableMB() (uint64, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, err
	}
	return vm.Available >> 20, nil
}

func (systemHost) SwapFreeMB() (uint64, error) {
	sw, err := mem.SwapMemory()
	if err != nil {
		return 0, err
	}
	return sw.Free >> 20, nil
}

func (systemHost) Euid() int { return os.Geteuid() }

// Requirements are host-level needs of a test. Zero values mean no
// requirement.
type Requirements struct {
	NeedsRoot      bool
	MinKver        string
	MinCPUs        int
	MinMemAvailMB  uint64
	MinSwapAvailMB uint64
}

// KernelVersion parses the numeric prefix of a kernel release string.
func KernelVersion(release string) (fstype.Version, error) {
	v, ok := fstype.FindVersion(release)
	if !ok {
		return nil, errors.Errorf("cannot parse kernel release %q", release)
	}
	return v, nil
}

// CheckKernel returns a ConfError if the running kernel is older than min.
func CheckKernel(h Host, min string) error {
	want, err := fstype.ParseVersion(min)
	if err != nil {
		return errors.Wrapf(err, "invalid minimal kernel version %q", min)
	}
	rel, err := h.KernelRelease()
	if err != nil {
		return errors.Wrap(err, "failed to get kernel release")
	}
	have, err := KernelVersion(rel)
	if err != nil {
		return err
	}
	if have.Compare(want) < 0 {
		return result.Conff("The test requires kernel %s or newer", min)
	}
	return nil
}

// Check verifies r against h and returns the first unmet requirement.
func Check(ctx context.Context, h Host, r Requirements) error {
	if r.NeedsRoot && h.Euid() != 0 {
		return result.Conff("Test needs to be run as root")
	}
	if r.MinKver != "" {
		if err := CheckKernel(h, r.MinKver); err != nil {
			return err
		}
	}
	if r.MinCPUs > 0 {
		n, err := h.OnlineCPUs()
		if err != nil {
			return errors.Wrap(err, "failed to count CPUs")
		}
		if n < r.MinCPUs {
			return result.Conff("Test needs at least %d CPUs online", r.MinCPUs)
		}
	}
	if r.MinMemAvailMB > 0 {
		mb, err := h.MemAvailableMB()
		if err != nil {
			return errors.Wrap(err, "failed to read available memory")
		}
		if mb < r.MinMemAvailMB {
			return result.Conff("Test needs at least %dMB MemAvailable", r.MinMemAvailMB)
		}
	}
	if r.MinSwapAvailMB > 0 {
		mb, err := h.SwapFreeMB()
		if err != nil {
			return errors.Wrap(err, "failed to read free swap")
		}
		if mb < r.MinSwapAvailMB {
			return result.Conff("Test needs at least %dMB SwapFree", r.MinSwapAvailMB)
		}
	}
	logging.Debug(ctx, "Host requirements met")
	return nil
}

// CommandChecker checks "cmd [op version]" requirements.
type CommandChecker interface {
	CheckCommand(ctx context.Context, req string) (bool, string, error)
}

// CheckCommands returns a ConfError for the first unmet command requirement.
func CheckCommands(ctx context.Context, c CommandChecker, reqs []string) error {
	for _, req := range reqs {
		ok, reason, err := c.CheckCommand(ctx, req)
		if err != nil {
			return err
		}
		if !ok {
			return result.Conff("%s", reason)
		}
	}
	return nil
}
