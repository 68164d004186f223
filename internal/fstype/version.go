// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package fstype

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/linux-test-project/ltp-sub005/errors"
)

// Version is a dotted version number.
type Version []int

var versionRe = regexp.MustCompile(`\d+(\.\d+)+`)

// ParseVersion parses "1.43.0". Components are compared numerically.
func ParseVersion(s string) (Version, error) {
	if s == "" {
		return nil, errors.New("empty version")
	}
	var v Version
	for _, c := range strings.Split(s, ".") {
		n, err := strconv.Atoi(c)
		if err != nil || n < 0 {
			return nil, errors.Errorf("invalid version %q", s)
		}
		v = append(v, n)
	}
	return v, nil
}

// FindVersion extracts the first dotted version from s.
func FindVersion(s string) (Version, bool) {
	m := versionRe.FindString(s)
	if m == "" {
		return nil, false
	}
	v, err := ParseVersion(m)
	return v, err == nil
}

// Compare returns -1, 0 or 1. Missing components count as zero.
func (v Version) Compare(o Version) int {
	for i := 0; i < len(v) || i < len(o); i++ {
		var a, b int
		if i < len(v) {
			a = v[i]
		}
		if i < len(o) {
			b = o[i]
		}
		switch {
		case a < b:
			return -1
		case a > b:
			return 1
		}
	}
	return 0
}

func (v Version) String() string {
	parts := make([]string, len(v))
	for i, n := range v {
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, ".")
}

// Requirement is a parsed "command [op version]" string.
type Requirement struct {
	Command string
	Op      string
	Version Version
}

var ops = []string{">=", "<=", "==", "!=", ">", "<"}

// ParseRequirement parses strings like "mkfs.xfs >= 5.0".
func ParseRequirement(s string) (Requirement, error) {
	fields := strings.Fields(s)
	switch len(fields) {
	case 1:
		return Requirement{Command: fields[0]}, nil
	case 3:
	default:
		return Requirement{}, errors.Errorf("invalid command requirement %q", s)
	}
	op := fields[1]
	valid := false
	for _, o := range ops {
		if o == op {
			valid = true
		}
	}
	if !valid {
		return Requirement{}, errors.Errorf("invalid operator %q in %q", op, s)
	}
	v, err := ParseVersion(fields[2])
	if err != nil {
		return Requirement{}, errors.Wrapf(err, "invalid requirement %q", s)
	}
	return Requirement{Command: fields[0], Op: op, Version: v}, nil
}

// Satisfied reports whether have meets r.
func (r Requirement) Satisfied(have Version) bool {
	c := have.Compare(r.Version)
	switch r.Op {
	case "":
		return true
	case ">=":
		return c >= 0
	case "<=":
		return c <= 0
	case "==":
		return c == 0
	case "!=":
		return c != 0
	case ">":
		return c > 0
	case "<":
		return c < 0
	}
	return false
}
