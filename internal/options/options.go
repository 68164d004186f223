// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package options implements the command line contract shared by every test
// binary: a fixed set of reserved single-letter options plus the options
// declared by the test.
package options

import (
	"flag"
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"golang.org/x/exp/slices"

	"github.com/linux-test-project/ltp-sub005/errors"
	"github.com/linux-test-project/ltp-sub005/internal/command"
)

// Reserved lists the option letters owned by the harness.
var Reserved = []string{"h", "i", "I", "D", "V"}

// Option is a test-specific single-letter option.
type Option struct {
	// Flag is the option letter.
	Flag string
	// Help is a one-line description printed by -h.
	Help string
	// Value receives the option argument. A nil Value declares a switch
	// without argument.
	Value *string
	// Set, if non-nil, is set to true when the option is present.
	Set *bool
}

func (o *Option) takesArg() bool { return o.Value != nil }

// Validate checks test options for malformed letters, duplicates and
// collisions with Reserved.
func Validate(opts []Option) error {
	seen := make(map[string]bool)
	for _, o := range opts {
		if len(o.Flag) != 1 {
			return errors.Errorf("invalid option %q: must be a single character", o.Flag)
		}
		if slices.Contains(Reserved, o.Flag) {
			return errors.Errorf("option collision -%s", o.Flag)
		}
		if seen[o.Flag] {
			return errors.Errorf("duplicate option -%s", o.Flag)
		}
		if o.Value == nil && o.Set == nil {
			return errors.Errorf("option -%s has neither Value nor Set", o.Flag)
		}
		seen[o.Flag] = true
	}
	return nil
}

// Config is the result of parsing a command line.
type Config struct {
	// Help requests the usage text.
	Help bool
	// Version requests the version string.
	Version bool
	// Debug enables TDEBUG output.
	Debug bool
	// Iterations is the -i repetition count.
	Iterations int
	// Duration is the -I argument; DurationSet reports its presence.
	Duration    time.Duration
	DurationSet bool
	// Args holds the positional arguments.
	Args []string
}

// switchValue is a boolean flag.Value that records presence of an option
// without argument.
type switchValue struct {
	opt *Option
	val bool
}

func (v *switchValue) String() string   { return fmt.Sprint(v.val) }
func (v *switchValue) IsBoolFlag() bool { return true }

func (v *switchValue) Set(s string) error {
	v.val = s != "false"
	if v.opt.Set != nil {
		*v.opt.Set = v.val
	}
	return nil
}

// argValue stores the argument of an option.
type argValue struct {
	opt *Option
}

func (v *argValue) String() string {
	if v.opt == nil || v.opt.Value == nil {
		return ""
	}
	return *v.opt.Value
}

func (v *argValue) Set(s string) error {
	*v.opt.Value = s
	if v.opt.Set != nil {
		*v.opt.Set = true
	}
	return nil
}

type intValue struct{ dst *int }

func (v *intValue) String() string {
	if v.dst == nil {
		return "0"
	}
	return fmt.Sprint(*v.dst)
}

func (v *intValue) Set(s string) error {
	n, err := ParseInt(s, 0, math.MaxInt32)
	if err != nil {
		return err
	}
	*v.dst = n
	return nil
}

// NewFlagSet builds the flag set for the reserved options and opts,
// storing results into cfg.
func NewFlagSet(name string, opts []Option, cfg *Config) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	cfg.Iterations = 1
	fs.BoolVar(&cfg.Help, "h", false, "Prints this help")
	fs.Var(&intValue{&cfg.Iterations}, "i", "Execute test n times")
	dur := command.NewDurationFlag(time.Second, &cfg.Duration, 0)
	fs.Var(dur, "I", "Execute test for n seconds")
	fs.BoolVar(&cfg.Debug, "D", false, "Prints debug information")
	fs.BoolVar(&cfg.Version, "V", false, "Prints LTP version")
	for i := range opts {
		o := &opts[i]
		if o.takesArg() {
			fs.Var(&argValue{o}, o.Flag, o.Help)
		} else {
			fs.Var(&switchValue{opt: o}, o.Flag, o.Help)
		}
	}
	return fs
}

// Parse validates opts and parses args.
func Parse(name string, args []string, opts []Option) (*Config, error) {
	if err := Validate(opts); err != nil {
		return nil, err
	}
	cfg := &Config{}
	fs := NewFlagSet(name, opts, cfg)
	if err := fs.Parse(args); err != nil {
		return nil, errors.Wrap(err, "invalid option")
	}
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "I" {
			cfg.DurationSet = true
		}
	})
	if len(fs.Args()) > 0 {
		cfg.Args = fs.Args()
	}
	return cfg, nil
}

// envHelp documents the environment variables honoured by the harness.
var envHelp = [][2]string{
	{"KCONFIG_PATH", "Specify kernel config file"},
	{"KCONFIG_SKIP_CHECK", "Skip kernel config check if variable set (not set by default)"},
	{"LTPROOT", "Prefix for installed LTP (default: /opt/ltp)"},
	{"LTP_COLORIZE_OUTPUT", "Force colorized output behaviour (y/1 always, n/0: never)"},
	{"LTP_DEV", "Path to the block device to be used (for .needs_device)"},
	{"LTP_DEV_FS_TYPE", "Filesystem used for testing (default: ext2)"},
	{"LTP_ENABLE_DEBUG", "Print debug messages (set 1 or y)"},
	{"LTP_REPRODUCIBLE_OUTPUT", "Values 1 or y discard the actual content of the messages printed by the test"},
	{"LTP_QUIET", "Values 1 or y will suppress printing TCONF, TWARN, TINFO, and TDEBUG messages"},
	{"LTP_SINGLE_FS_TYPE", "Testing only - specifies filesystem instead all supported (for .all_filesystems)"},
	{"LTP_TIMEOUT_MUL", "Timeout multiplier (must be a number >=0.01)"},
	{"LTP_RUNTIME_MUL", "Runtime multiplier (must be a number >0)"},
	{"TMPDIR", "Base directory for template directory (for .needs_tmpdir, default: /tmp)"},
}

// Usage writes the help text for the reserved options and opts to w.
func Usage(w io.Writer, opts []Option, timeout, runtime string) {
	fmt.Fprintf(w, "Environment Variables\n")
	fmt.Fprintf(w, "---------------------\n")
	for _, e := range envHelp {
		fmt.Fprintf(w, "%-24s %s\n", e[0], e[1])
	}
	fmt.Fprintf(w, "\nTimeout and runtime\n")
	fmt.Fprintf(w, "-------------------\n")
	fmt.Fprintf(w, "Test timeout (not including runtime) %s\n", timeout)
	if runtime != "" {
		fmt.Fprintf(w, "Test iteration runtime cap %s\n", runtime)
	}
	fmt.Fprintf(w, "\nOptions\n")
	fmt.Fprintf(w, "-------\n")
	fmt.Fprintf(w, "-h       Prints this help\n")
	fmt.Fprintf(w, "-i n     Execute test n times\n")
	fmt.Fprintf(w, "-I x     Execute test for n seconds\n")
	fmt.Fprintf(w, "-D       Prints debug information\n")
	fmt.Fprintf(w, "-V       Prints LTP version\n")
	if len(opts) == 0 {
		return
	}
	fmt.Fprintf(w, "\nOptions specific to this test\n")
	fmt.Fprintf(w, "-----------------------------\n")
	for _, o := range opts {
		f := "-" + o.Flag
		if o.takesArg() {
			f += " x"
		}
		fmt.Fprintf(w, "%-8s %s\n", f, strings.TrimSpace(o.Help))
	}
}
