// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package shell

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestQuote(t *testing.T) {
	for _, c := range []struct {
		in, exp string
	}{
		{``, `''`},
		{`a b`, `'a b'`},
		{`/dev/loop0`, `/dev/loop0`},
		{`-O`, `-O`},
		{`^metadata_csum`, `'^metadata_csum'`},
		{`=foo`, `'=foo'`},
		{`it's`, `'it'"'"'s'`},
	} {
		if s := Quote(c.in); s != c.exp {
			t.Errorf("Quote(%q) = %q; want %q", c.in, s, c.exp)
		}
	}
}

func TestJoin(t *testing.T) {
	if got, want := Join("mkfs.ext4", "-b", "1024", "my dev"), `mkfs.ext4 -b 1024 'my dev'`; got != want {
		t.Errorf("Join = %q; want %q", got, want)
	}
}

func TestSplit(t *testing.T) {
	for _, c := range []struct {
		in  string
		exp []string
	}{
		{``, nil},
		{`fallocate01`, []string{"fallocate01"}},
		{`  mmap01  -i 5 `, []string{"mmap01", "-i", "5"}},
		{`a 'b c' "d e"`, []string{"a", "b c", "d e"}},
		{`a\ b`, []string{"a b"}},
		{`x "say \"hi\"" ''`, []string{"x", `say "hi"`, ""}},
	} {
		got, err := Split(c.in)
		if err != nil {
			t.Errorf("Split(%q) failed: %v", c.in, err)
			continue
		}
		if diff := cmp.Diff(got, c.exp); diff != "" {
			t.Errorf("Split(%q) mismatch (-got +want):\n%s", c.in, diff)
		}
	}

	for _, in := range []string{`'open`, `"open`, `trailing\`} {
		if _, err := Split(in); err == nil {
			t.Errorf("Split(%q) succeeded unexpectedly", in)
		}
	}
}

func TestSplitJoinRoundTrip(t *testing.T) {
	args := []string{"cmd", "a b", "it's", "", "-x=1"}
	got, err := Split(Join(args...))
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(got, args); diff != "" {
		t.Errorf("round trip mismatch (-got +want):\n%s", diff)
	}
}
