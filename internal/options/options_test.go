// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package options

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestParseReserved(t *testing.T) {
	for _, tc := range []struct {
		args []string
		want Config
	}{
		{nil, Config{Iterations: 1}},
		{[]string{"-i", "5"}, Config{Iterations: 5}},
		{[]string{"-i", "0"}, Config{Iterations: 0}},
		{[]string{"-I", "2.5"}, Config{Iterations: 1, Duration: 2500 * time.Millisecond, DurationSet: true}},
		{[]string{"-D", "-V"}, Config{Iterations: 1, Debug: true, Version: true}},
		{[]string{"-h"}, Config{Iterations: 1, Help: true}},
		{[]string{"-i", "2", "extra"}, Config{Iterations: 2, Args: []string{"extra"}}},
	} {
		cfg, err := Parse("test", tc.args, nil)
		if err != nil {
			t.Errorf("Parse(%q) failed: %v", tc.args, err)
			continue
		}
		if diff := cmp.Diff(*cfg, tc.want); diff != "" {
			t.Errorf("Parse(%q) mismatch (-got +want):\n%s", tc.args, diff)
		}
	}
}

func TestParseInvalid(t *testing.T) {
	for _, args := range [][]string{
		{"-i", "-1"},
		{"-i", "abc"},
		{"-I", "x"},
		{"-z"},
		{"-i"},
	} {
		if _, err := Parse("test", args, nil); err == nil {
			t.Errorf("Parse(%q) succeeded unexpectedly", args)
		}
	}
}

func TestParseTestOptions(t *testing.T) {
	var size, name string
	var verbose, sizeSet bool
	opts := []Option{
		{Flag: "s", Help: "Size of the file", Value: &size, Set: &sizeSet},
		{Flag: "n", Help: "Name", Value: &name},
		{Flag: "v", Help: "Verbose", Set: &verbose},
	}
	if _, err := Parse("test", []string{"-s", "1m", "-v", "-i", "3"}, opts); err != nil {
		t.Fatal("Parse failed: ", err)
	}
	if size != "1m" || !sizeSet || !verbose || name != "" {
		t.Errorf("got size=%q sizeSet=%v verbose=%v name=%q; want 1m true true \"\"", size, sizeSet, verbose, name)
	}
}

func TestValidate(t *testing.T) {
	var s string
	var b bool
	for _, tc := range []struct {
		name string
		opts []Option
		want string
	}{
		{"reserved h", []Option{{Flag: "h", Set: &b}}, "option collision -h"},
		{"reserved I", []Option{{Flag: "I", Value: &s}}, "option collision -I"},
		{"duplicate", []Option{{Flag: "x", Set: &b}, {Flag: "x", Value: &s}}, "duplicate option -x"},
		{"long", []Option{{Flag: "xy", Set: &b}}, "must be a single character"},
		{"no destination", []Option{{Flag: "x"}}, "neither Value nor Set"},
	} {
		err := Validate(tc.opts)
		if err == nil {
			t.Errorf("%s: Validate succeeded unexpectedly", tc.name)
		} else if !strings.Contains(err.Error(), tc.want) {
			t.Errorf("%s: Validate returned %q; want it to contain %q", tc.name, err, tc.want)
		}
	}

	if err := Validate([]Option{{Flag: "x", Set: &b}, {Flag: "y", Value: &s}}); err != nil {
		t.Error("Validate failed for valid options: ", err)
	}
}

func TestUsage(t *testing.T) {
	var s string
	var b bytes.Buffer
	Usage(&b, []Option{{Flag: "f", Help: "File name", Value: &s}}, "00h 00m 30s", "")
	out := b.String()
	for _, want := range []string{
		"LTP_TIMEOUT_MUL",
		"Test timeout (not including runtime) 00h 00m 30s",
		"-i n     Execute test n times",
		"Options specific to this test",
		"-f x     File name",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("Usage output does not contain %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "runtime cap") {
		t.Error("Usage printed a runtime cap for a test without runtime")
	}
}
