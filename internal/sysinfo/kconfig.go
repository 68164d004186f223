// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package sysinfo

import (
	"bufio"
	"compress/gzip"
	"context"
	"io"
	"os"
	"strings"

	"github.com/linux-test-project/ltp-sub005/errors"
	"github.com/linux-test-project/ltp-sub005/internal/logging"
	"github.com/linux-test-project/ltp-sub005/internal/result"
)

// Kconfig looks up kernel build options.
type Kconfig interface {
	// Lookup returns the value of name ("y", "m", a string or number).
	Lookup(name string) (string, bool)
}

// ConfigFile is a parsed kernel .config.
type ConfigFile map[string]string

// Lookup implements Kconfig.
func (c ConfigFile) Lookup(name string) (string, bool) {
	v, ok := c[name]
	return v, ok
}

// ParseKconfig parses "CONFIG_X=value" lines. "is not set" lines are
// dropped.
func ParseKconfig(r io.Reader) (ConfigFile, error) {
	c := make(ConfigFile)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		c[k] = v
	}
	return c, sc.Err()
}

// KconfigPaths returns candidate .config locations. override is the value
// of KCONFIG_PATH.
func KconfigPaths(override, release string) []string {
	if override != "" {
		return []string{override}
	}
	return []string{"/proc/config.gz", "/boot/config-" + release, "/lib/modules/" + release + "/build/.config"}
}

// LoadKconfig reads the first existing file of paths. Files ending in .gz
// are decompressed.
func LoadKconfig(ctx context.Context, paths []string) (ConfigFile, error) {
	for _, p := range paths {
		f, err := os.Open(p)
		if os.IsNotExist(err) {
			continue
		} else if err != nil {
			return nil, errors.Wrapf(err, "failed to open %s", p)
		}
		defer f.Close()

		var r io.Reader = f
		if strings.HasSuffix(p, ".gz") {
			zr, err := gzip.NewReader(f)
			if err != nil {
				return nil, errors.Wrapf(err, "failed to decompress %s", p)
			}
			defer zr.Close()
			r = zr
		}
		logging.Debugf(ctx, "Parsing kernel config '%s'", p)
		return ParseKconfig(r)
	}
	return nil, result.Conff("Cannot find kernel config in %s", strings.Join(paths, ", "))
}

// matchKconfig checks one "CONFIG_X[=val]" term.
func matchKconfig(k Kconfig, term string) bool {
	name, want, hasValue := strings.Cut(strings.TrimSpace(term), "=")
	v, ok := k.Lookup(name)
	if !ok {
		return false
	}
	return !hasValue || v == want
}

// CheckKconfigs verifies that each expression holds. An expression is a term
// like "CONFIG_X" or "CONFIG_X=y", or alternatives joined with "|".
func CheckKconfigs(ctx context.Context, k Kconfig, exprs []string) error {
	var missing []string
	for _, expr := range exprs {
		ok := false
		for _, term := range strings.Split(expr, "|") {
			if matchKconfig(k, term) {
				ok = true
				break
			}
		}
		if !ok {
			logging.Infof(ctx, "Constraint '%s' not satisfied!", expr)
			missing = append(missing, expr)
		}
	}
	if len(missing) > 0 {
		return result.Conff("Aborting due to unsuitable kernel config, missing: %s", strings.Join(missing, ", "))
	}
	return nil
}

// slowKconfigs make the kernel noticeably slower.
var slowKconfigs = []string{
	"CONFIG_PROVE_LOCKING=y",
	"CONFIG_KASAN=y",
	"CONFIG_SLUB_RCU_DEBUG=y",
}

// SlowKconfigFactor is the timeout multiplier for kernels built with
// debugging options.
const SlowKconfigFactor = 4

// IsSlow reports whether the kernel has debugging options that slow it down.
func IsSlow(ctx context.Context, k Kconfig) bool {
	for _, c := range slowKconfigs {
		if matchKconfig(k, c) {
			logging.Infof(ctx, "%s kernel option detected which might slow the execution", c)
			return true
		}
	}
	return false
}
