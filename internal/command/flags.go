// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package command

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// DurationFlag implements flag.Value to save a user-supplied number of
// units (possibly fractional) as a time.Duration.
type DurationFlag struct {
	units time.Duration
	dst   *time.Duration
	set   bool
}

// NewDurationFlag returns a DurationFlag that stores its value in dst, which
// is initialized to def.
func NewDurationFlag(units time.Duration, dst *time.Duration, def time.Duration) *DurationFlag {
	*dst = def
	return &DurationFlag{units: units, dst: dst}
}

func (f *DurationFlag) String() string {
	if f.dst == nil {
		return ""
	}
	return strconv.FormatFloat(float64(*f.dst)/float64(f.units), 'g', -1, 64)
}

// Set parses v as a non-negative number of units.
func (f *DurationFlag) Set(v string) error {
	n, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return err
	}
	if n < 0 {
		return fmt.Errorf("%q is negative", v)
	}
	*f.dst = time.Duration(n * float64(f.units))
	f.set = true
	return nil
}

// IsSet reports whether the flag was supplied on the command line.
func (f *DurationFlag) IsSet() bool { return f.set }

// EnumFlag implements flag.Value to map a user-supplied string value to an enum value.
type EnumFlag struct {
	valid  map[string]int     // map from user-supplied string value to int value
	assign EnumFlagAssignFunc // used to assign int value to dest
	def    string             // default value
}

// EnumFlagAssignFunc is used by EnumFlag to assign an enum value to a target variable.
type EnumFlagAssignFunc func(val int)

// NewEnumFlag returns an EnumFlag using the supplied map of valid values and assignment function.
// def contains a default value to assign when the flag is unspecified.
func NewEnumFlag(valid map[string]int, assign EnumFlagAssignFunc, def string) *EnumFlag {
	f := EnumFlag{valid, assign, def}
	if err := f.Set(def); err != nil {
		panic(err)
	}
	return &f
}

// Default returns the default value used if the flag is unset.
func (f *EnumFlag) Default() string { return f.def }

// QuotedValues returns a comma-separated list of quoted values the user can supply.
func (f *EnumFlag) QuotedValues() string {
	var qn []string
	for n := range f.valid {
		qn = append(qn, fmt.Sprintf("%q", n))
	}
	sort.Strings(qn)
	return strings.Join(qn, ", ")
}

func (f *EnumFlag) String() string { return "" }

// Set assigns the enum value named v.
func (f *EnumFlag) Set(v string) error {
	ev, ok := f.valid[v]
	if !ok {
		return fmt.Errorf("must be in %s", f.QuotedValues())
	}
	f.assign(ev)
	return nil
}

// ListFlag implements flag.Value to split a user-supplied string with a custom delimiter.
type ListFlag struct {
	sep    string
	assign ListFlagAssignFunc
}

// ListFlagAssignFunc is called by ListFlag to assign a slice to a target variable.
type ListFlagAssignFunc func(vals []string)

// NewListFlag returns a ListFlag using the supplied separator and assignment function.
// def contains a default value to assign when the flag is unspecified.
func NewListFlag(sep string, assign ListFlagAssignFunc, def []string) *ListFlag {
	assign(def)
	return &ListFlag{sep, assign}
}

func (f *ListFlag) String() string { return "" }

// Set splits v and assigns the pieces.
func (f *ListFlag) Set(v string) error {
	f.assign(strings.Split(v, f.sep))
	return nil
}
