// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package result

import (
	"testing"

	"github.com/linux-test-project/ltp-sub005/errors"
)

func TestExitStatus(t *testing.T) {
	for _, tc := range []struct {
		name string
		c    Counts
		prev int
		want int
	}{
		{"all pass", Counts{Passed: 3}, 0, 0},
		{"pure skip", Counts{Skipped: 1}, 0, int(TCONF)},
		{"pass clears skip", Counts{Passed: 1, Skipped: 1}, 0, 0},
		{"later pass clears conf-only prev", Counts{Passed: 1, Skipped: 1}, int(TCONF), 0},
		{"nothing recorded", Counts{}, 0, 0},
		{"fail", Counts{Passed: 2, Failed: 1}, 0, int(TFAIL)},
		{"warn", Counts{Passed: 1, Warnings: 2}, 0, int(TWARN)},
		{"broken despite passes", Counts{Passed: 10, Broken: 1}, 0, int(TBROK)},
		{"everything", Counts{Failed: 1, Broken: 1, Skipped: 1, Warnings: 1}, 0, int(TFAIL | TBROK | TCONF | TWARN)},
		{"mixed prev is kept", Counts{Passed: 1}, int(TCONF | TFAIL), int(TCONF | TFAIL)},
	} {
		if got := tc.c.ExitStatus(tc.prev); got != tc.want {
			t.Errorf("%s: ExitStatus(%d) = %d; want %d", tc.name, tc.prev, got, tc.want)
		}
	}
}

func TestKind(t *testing.T) {
	if k := TFAIL | TERRNO; k.Type() != TFAIL || k.String() != "TFAIL" || !k.Counted() {
		t.Errorf("TFAIL|TERRNO: type %v, counted %v", k.Type(), k.Counted())
	}
	for _, k := range []Kind{TINFO, TDEBUG} {
		if k.Counted() {
			t.Errorf("%v is counted", k)
		}
	}
	if (TPASS | TERRNO | TTERRNO).Valid() {
		t.Error("two errno modifiers accepted")
	}
	if Kind(3).Valid() {
		t.Error("kind 3 accepted")
	}
	if !(TCONF | TRERRNO).Valid() {
		t.Error("TCONF|TRERRNO rejected")
	}
}

func TestKindOf(t *testing.T) {
	conf := Conff("needs %s", "root")
	if got := KindOf(conf); got != TCONF {
		t.Errorf("KindOf(%v) = %v; want TCONF", conf, got)
	}
	if got := KindOf(errors.Wrap(conf, "setup")); got != TCONF {
		t.Errorf("KindOf(wrapped) = %v; want TCONF", got)
	}
	if got := KindOf(errors.New("boom")); got != TBROK {
		t.Errorf("KindOf(plain) = %v; want TBROK", got)
	}
	if conf.Error() != "needs root" {
		t.Errorf("Error() = %q; want %q", conf.Error(), "needs root")
	}
}
