// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package harness

import (
	"os"
	"strconv"

	"golang.org/x/crypto/ssh/terminal"

	"github.com/linux-test-project/ltp-sub005/errors"
	"github.com/linux-test-project/ltp-sub005/internal/report"
)

// ColorMode selects ANSI coloring of result lines.
type ColorMode int

const (
	// ColorAuto colors when stderr is a terminal.
	ColorAuto ColorMode = iota
	// ColorAlways always colors.
	ColorAlways
	// ColorNever never colors.
	ColorNever
)

// MinTimeoutMul is the smallest accepted LTP_TIMEOUT_MUL.
const MinTimeoutMul = 0.01

// Env holds the environment variables consumed by the harness.
type Env struct {
	TmpDir       string // TMPDIR
	Dev          string // LTP_DEV
	DevFsType    string // LTP_DEV_FS_TYPE
	SingleFsType string // LTP_SINGLE_FS_TYPE
	LTPRoot      string // LTPROOT
	KconfigPath  string // KCONFIG_PATH
	KconfigSkip  bool   // KCONFIG_SKIP_CHECK
	TimeoutMul   float64
	RuntimeMul   float64
	Color        ColorMode
	Quiet        bool
	Debug        bool
	Reproducible bool
	Role         string // LTP_HARNESS_ROLE
}

func isTrue(v string) bool {
	return v == "1" || v == "y"
}

// ParseEnv reads the harness configuration through lookup, normally
// os.LookupEnv.
func ParseEnv(lookup func(string) (string, bool)) (*Env, error) {
	get := func(k string) string {
		v, _ := lookup(k)
		return v
	}
	e := &Env{
		TmpDir:       get("TMPDIR"),
		Dev:          get("LTP_DEV"),
		DevFsType:    get("LTP_DEV_FS_TYPE"),
		SingleFsType: get("LTP_SINGLE_FS_TYPE"),
		LTPRoot:      get("LTPROOT"),
		KconfigPath:  get("KCONFIG_PATH"),
		Quiet:        isTrue(get("LTP_QUIET")),
		Debug:        isTrue(get("LTP_ENABLE_DEBUG")),
		Reproducible: isTrue(get("LTP_REPRODUCIBLE_OUTPUT")),
		Role:         get(EnvRole),
		TimeoutMul:   1,
		RuntimeMul:   1,
	}
	_, e.KconfigSkip = lookup("KCONFIG_SKIP_CHECK")

	switch get("LTP_COLORIZE_OUTPUT") {
	case "y", "1":
		e.Color = ColorAlways
	case "n", "0":
		e.Color = ColorNever
	}

	if v := get("LTP_TIMEOUT_MUL"); v != "" {
		mul, err := strconv.ParseFloat(v, 64)
		if err != nil || mul < MinTimeoutMul {
			return nil, errors.Errorf("LTP_TIMEOUT_MUL must be a number >= %.2f (%s)", MinTimeoutMul, v)
		}
		e.TimeoutMul = mul
	}
	if v := get("LTP_RUNTIME_MUL"); v != "" {
		mul, err := strconv.ParseFloat(v, 64)
		if err != nil || mul <= 0 {
			return nil, errors.Errorf("LTP_RUNTIME_MUL must be a number > 0 (%s)", v)
		}
		e.RuntimeMul = mul
	}
	return e, nil
}

// reportOptions derives the reporter configuration.
func (e *Env) reportOptions(tags []report.Tag) report.Options {
	color := e.Color == ColorAlways
	if e.Color == ColorAuto {
		color = terminal.IsTerminal(int(os.Stderr.Fd()))
	}
	return report.Options{
		Quiet:        e.Quiet,
		Debug:        e.Debug,
		Reproducible: e.Reproducible,
		Color:        color,
		Tags:         tags,
	}
}
