// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package result defines result kinds, their modifiers and the aggregation of
// counters into a process exit status.
package result

import "fmt"

// Kind is a result kind, optionally combined with errno modifiers.
// The numeric values of the base kinds double as exit status bits.
type Kind uint32

// Base kinds.
const (
	TPASS  Kind = 0
	TFAIL  Kind = 1
	TBROK  Kind = 2
	TWARN  Kind = 4
	TDEBUG Kind = 8
	TINFO  Kind = 16
	TCONF  Kind = 32
)

// Modifiers selecting the errno appended to a result line.
const (
	// TERRNO appends the current errno.
	TERRNO Kind = 0x100
	// TTERRNO appends the errno saved by the last TEST.
	TTERRNO Kind = 0x200
	// TRERRNO appends the errno encoded in the negative return value saved by
	// the last TEST.
	TRERRNO Kind = 0x400
)

const typeMask Kind = 0x3f

// Type strips modifiers from k.
func (k Kind) Type() Kind {
	return k & typeMask
}

// Counted reports whether results of this kind update the shared counters.
func (k Kind) Counted() bool {
	switch k.Type() {
	case TPASS, TFAIL, TBROK, TWARN, TCONF:
		return true
	}
	return false
}

// String returns the kind name as printed in result lines.
func (k Kind) String() string {
	switch k.Type() {
	case TPASS:
		return "TPASS"
	case TFAIL:
		return "TFAIL"
	case TBROK:
		return "TBROK"
	case TWARN:
		return "TWARN"
	case TDEBUG:
		return "TDEBUG"
	case TINFO:
		return "TINFO"
	case TCONF:
		return "TCONF"
	default:
		return fmt.Sprintf("???(%#x)", uint32(k.Type()))
	}
}

// Valid reports whether k is a known base kind combined with at most one
// modifier.
func (k Kind) Valid() bool {
	switch k.Type() {
	case TPASS, TFAIL, TBROK, TWARN, TDEBUG, TINFO, TCONF:
	default:
		return false
	}
	n := 0
	for _, m := range []Kind{TERRNO, TTERRNO, TRERRNO} {
		if k&m != 0 {
			n++
		}
	}
	return n <= 1 && k&^(typeMask|TERRNO|TTERRNO|TRERRNO) == 0
}

// Counts is a snapshot of the shared result counters.
type Counts struct {
	Passed   uint32
	Failed   uint32
	Broken   uint32
	Skipped  uint32
	Warnings uint32
}

// Sum returns the total number of counted results.
func (c Counts) Sum() uint64 {
	return uint64(c.Passed) + uint64(c.Failed) + uint64(c.Broken) + uint64(c.Skipped) + uint64(c.Warnings)
}

// ExitStatus folds the counters into a process exit status. prev is a status
// accumulated so far (e.g. returned by an earlier filesystem iteration); a
// CONF-only prev is cleared when anything passed.
func (c Counts) ExitStatus(prev int) int {
	ret := prev
	if c.Passed > 0 && ret == int(TCONF) {
		ret = 0
	}
	if c.Failed > 0 {
		ret |= int(TFAIL)
	}
	if c.Skipped > 0 && c.Passed == 0 {
		ret |= int(TCONF)
	}
	if c.Warnings > 0 {
		ret |= int(TWARN)
	}
	if c.Broken > 0 {
		ret |= int(TBROK)
	}
	return ret
}

// Summary formats the final counter block.
func (c Counts) Summary() string {
	return fmt.Sprintf("\nSummary:\npassed   %d\nfailed   %d\nbroken   %d\nskipped  %d\nwarnings %d\n",
		c.Passed, c.Failed, c.Broken, c.Skipped, c.Warnings)
}
