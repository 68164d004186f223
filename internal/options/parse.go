// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package options

import (
	"math"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// ParseInt parses a base-10 integer within [min, max]. It returns EINVAL for
// malformed input and ERANGE for out-of-range values.
func ParseInt(s string, min, max int) (int, error) {
	v, err := strconv.ParseInt(strings.TrimLeft(s, " \t"), 10, 64)
	if err != nil {
		return 0, numError(err)
	}
	if v < int64(min) || v > int64(max) {
		return 0, unix.ERANGE
	}
	return int(v), nil
}

// ParseFloat parses a floating point number within [min, max].
func ParseFloat(s string, min, max float64) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimLeft(s, " \t"), 64)
	if err != nil {
		return 0, numError(err)
	}
	if v < min || v > max {
		return 0, unix.ERANGE
	}
	return v, nil
}

// ParseFilesize parses an integer optionally followed by one of the suffixes
// k, m or g (case-insensitive) multiplying it by 1024, 1024² or 1024³. The
// number may be decimal, octal (leading 0) or hexadecimal (leading 0x).
func ParseFilesize(s string, min, max int64) (int64, error) {
	s = strings.TrimLeft(s, " \t")
	num, mult := s, int64(1)
	if n := len(s); n > 0 {
		switch s[n-1] {
		case 'k', 'K':
			mult = 1 << 10
		case 'm', 'M':
			mult = 1 << 20
		case 'g', 'G':
			mult = 1 << 30
		}
		if mult != 1 {
			num = s[:n-1]
		}
	}
	if num == "" || strings.ContainsRune(num, '_') || hasGoPrefix(num) {
		return 0, unix.EINVAL
	}
	v, err := strconv.ParseInt(num, 0, 64)
	if err != nil {
		return 0, numError(err)
	}
	if v > math.MaxInt64/mult || v < math.MinInt64/mult {
		return 0, unix.ERANGE
	}
	v *= mult
	if v < min || v > max {
		return 0, unix.ERANGE
	}
	return v, nil
}

// hasGoPrefix reports whether s starts with a binary or 0o octal prefix,
// which strconv accepts but strtoll(3) does not.
func hasGoPrefix(s string) bool {
	s = strings.TrimLeft(s, "+-")
	if len(s) < 2 || s[0] != '0' {
		return false
	}
	switch s[1] {
	case 'b', 'B', 'o', 'O':
		return true
	}
	return false
}

func numError(err error) error {
	if ne, ok := err.(*strconv.NumError); ok && ne.Err == strconv.ErrRange {
		return unix.ERANGE
	}
	return unix.EINVAL
}
