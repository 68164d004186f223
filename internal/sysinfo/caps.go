// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package sysinfo

import (
	"context"

	"golang.org/x/sys/unix"
	"kernel.org/pub/linux/libs/security/libcap/cap"

	"github.com/linux-test-project/ltp-sub005/errors"
	"github.com/linux-test-project/ltp-sub005/internal/logging"
	"github.com/linux-test-project/ltp-sub005/internal/result"
)

// CapAction says whether a capability is raised or dropped.
type CapAction int

const (
	// CapRequire raises the capability in the effective set.
	CapRequire CapAction = iota
	// CapDrop lowers the capability in the effective set.
	CapDrop
)

// Cap is one capability change.
type Cap struct {
	Action CapAction
	Name   string // e.g. "cap_sys_admin"
}

// ApplyCaps changes the effective capabilities of the process. Requiring a
// capability outside the permitted set is a ConfError.
func ApplyCaps(ctx context.Context, caps []Cap) error {
	if len(caps) == 0 {
		return nil
	}
	set := cap.GetProc()
	for _, c := range caps {
		v, err := cap.FromName(c.Name)
		if err != nil {
			return errors.Wrapf(err, "unknown capability %q", c.Name)
		}
		switch c.Action {
		case CapRequire:
			permitted, err := set.GetFlag(cap.Permitted, v)
			if err != nil {
				return errors.Wrapf(err, "failed to query %s", v)
			}
			if !permitted {
				return result.Conff("Need %s", v)
			}
			logging.Infof(ctx, "Adding %s to effective set", v)
			if err := set.SetFlag(cap.Effective, true, v); err != nil {
				return errors.Wrapf(err, "failed to raise %s", v)
			}
		case CapDrop:
			logging.Infof(ctx, "Dropping %s from effective set", v)
			if err := set.SetFlag(cap.Effective, false, v); err != nil {
				return errors.Wrapf(err, "failed to drop %s", v)
			}
		}
	}
	if err := set.SetProc(); err != nil {
		return errors.Wrap(err, "failed to set capabilities")
	}
	return nil
}

// Ulimit is one resource limit to set.
type Ulimit struct {
	Resource int // e.g. unix.RLIMIT_NOFILE
	Cur      uint64
}

// ApplyUlimits sets soft limits. A value above the hard limit is a
// ConfError.
func ApplyUlimits(ctx context.Context, limits []Ulimit) error {
	for _, l := range limits {
		var rl unix.Rlimit
		if err := unix.Getrlimit(l.Resource, &rl); err != nil {
			return errors.Wrapf(err, "getrlimit(%d) failed", l.Resource)
		}
		if l.Cur > rl.Max {
			return result.Conff("ulimit %d: %d exceeds hard limit %d", l.Resource, l.Cur, rl.Max)
		}
		rl.Cur = l.Cur
		logging.Infof(ctx, "Setting resource %d to %d", l.Resource, l.Cur)
		if err := unix.Setrlimit(l.Resource, &rl); err != nil {
			return errors.Wrapf(err, "setrlimit(%d) failed", l.Resource)
		}
	}
	return nil
}
