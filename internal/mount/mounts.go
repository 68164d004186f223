// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package mount

import (
	"bufio"
	"io"
	"os"
	"strings"

	"github.com/linux-test-project/ltp-sub005/errors"
)

// ProcMounts is the kernel's table of mounted filesystems.
const ProcMounts = "/proc/mounts"

// Entry is one line of a mount table (see getmntent(3)).
type Entry struct {
	Source     string
	Mountpoint string
	FsType     string
	Options    []string
}

// HasOption reports whether the entry carries the mount option opt. For
// key=value options opt may be just the key.
func (e *Entry) HasOption(opt string) bool {
	for _, o := range e.Options {
		if o == opt || strings.HasPrefix(o, opt+"=") {
			return true
		}
	}
	return false
}

// Table is a parsed mount table.
type Table []Entry

// ParseTable parses a mount table in /proc/mounts format.
func ParseTable(r io.Reader) (Table, error) {
	var t Table
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 4 {
			continue
		}
		t = append(t, Entry{
			Source:     unescape(fields[0]),
			Mountpoint: unescape(fields[1]),
			FsType:     unescape(fields[2]),
			Options:    strings.Split(unescape(fields[3]), ","),
		})
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to read mount table")
	}
	return t, nil
}

// ReadTable reads and parses the mount table at path.
func ReadTable(path string) (Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s", path)
	}
	defer f.Close()
	return ParseTable(f)
}

// Find returns the last entry mounted at mountpoint, i.e. the visible one.
func (t Table) Find(mountpoint string) *Entry {
	for i := len(t) - 1; i >= 0; i-- {
		if t[i].Mountpoint == mountpoint {
			return &t[i]
		}
	}
	return nil
}

// ByType returns the entries of filesystem type fsType.
func (t Table) ByType(fsType string) Table {
	var res Table
	for _, e := range t {
		if e.FsType == fsType {
			res = append(res, e)
		}
	}
	return res
}

// Under returns the entries mounted strictly below dir.
func (t Table) Under(dir string) Table {
	prefix := strings.TrimSuffix(dir, "/") + "/"
	var res Table
	for _, e := range t {
		if strings.HasPrefix(e.Mountpoint, prefix) {
			res = append(res, e)
		}
	}
	return res
}

// IsMounted reports whether something is mounted at path according to the
// kernel mount table.
func IsMounted(path string) (bool, error) {
	t, err := ReadTable(ProcMounts)
	if err != nil {
		return false, err
	}
	return t.Find(strings.TrimSuffix(path, "/")) != nil, nil
}

// unescape decodes the \ooo octal escapes used for blanks in mount tables.
func unescape(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+3 < len(s) && isOctal(s[i+1]) && isOctal(s[i+2]) && isOctal(s[i+3]) {
			b.WriteByte((s[i+1]-'0')<<6 | (s[i+2]-'0')<<3 | (s[i+3] - '0'))
			i += 3
			continue
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

func isOctal(c byte) bool {
	return c >= '0' && c <= '7'
}
