// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package report

import (
	"fmt"
	"io"
)

// Tag attaches triage information to a test, e.g. the upstream commit that
// fixed the bug it reproduces.
type Tag struct {
	Name  string
	Value string
}

type hint struct {
	name   string
	header string
	url    string
}

var hints = []hint{
	{"linux-git", "You _MAY_ be missing kernel fixes", "https://git.kernel.org/pub/scm/linux/kernel/git/torvalds/linux.git/commit/?id="},
	{"linux-stable-git", "You _MAY_ be missing kernel fixes", "https://git.kernel.org/pub/scm/linux/kernel/git/stable/linux.git/commit/?id="},
	{"glibc-git", "You _MAY_ be missing glibc fixes", "https://sourceware.org/git/?p=glibc.git;a=commit;h="},
	{"musl-git", "You _MAY_ be missing musl fixes", "https://git.musl-libc.org/cgit/musl/commit/src/linux/clone.c?id="},
	{"CVE", "You _MAY_ be vulnerable to CVE(s)", "https://cve.mitre.org/cgi-bin/cvename.cgi?name=CVE-"},
	{"known-fail", "This is a problem with the test itself", ""},
}

// PrintHints writes one block per known tag kind present in tags.
func PrintHints(w io.Writer, tags []Tag) {
	for _, h := range hints {
		printed := false
		for _, t := range tags {
			if t.Name != h.name {
				continue
			}
			if !printed {
				fmt.Fprintf(w, "\nHINT: %s:\n\n", h.header)
				printed = true
			}
			fmt.Fprintf(w, "%s%s\n", h.url, t.Value)
		}
	}
}
