// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package sysinfo

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/linux-test-project/ltp-sub005/internal/logging"
	"github.com/linux-test-project/ltp-sub005/internal/result"
)

// ModulesDir returns the module directory of the kernel release.
func ModulesDir(release string) string {
	return filepath.Join("/lib/modules", release)
}

func normalizeModule(name string) string {
	return strings.ReplaceAll(name, "-", "_")
}

// moduleName extracts "foo_bar" from "kernel/drivers/foo-bar.ko.xz:".
func moduleName(field string) string {
	base := filepath.Base(strings.TrimSuffix(field, ":"))
	if i := strings.Index(base, ".ko"); i >= 0 {
		base = base[:i]
	}
	return normalizeModule(base)
}

func listModules(dir string) map[string]bool {
	mods := make(map[string]bool)
	for _, name := range []string{"modules.dep", "modules.builtin"} {
		f, err := os.Open(filepath.Join(dir, name))
		if err != nil {
			continue
		}
		sc := bufio.NewScanner(f)
		for sc.Scan() {
			fields := strings.Fields(sc.Text())
			if len(fields) > 0 {
				mods[moduleName(fields[0])] = true
			}
		}
		f.Close()
	}
	return mods
}

// CheckDrivers returns a ConfError for the first driver that is neither a
// loadable nor a built-in module of the kernel.
func CheckDrivers(ctx context.Context, dir string, drivers []string) error {
	if len(drivers) == 0 {
		return nil
	}
	mods := listModules(dir)
	for _, d := range drivers {
		if !mods[normalizeModule(d)] {
			return result.Conff("%s driver not available", d)
		}
		logging.Debugf(ctx, "Driver %s available", d)
	}
	return nil
}
