// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package runfile

import (
	"io"
	"strings"

	"github.com/mndrix/tap-go"
)

// outputTail is the number of output lines attached to a failed test.
const outputTail = 20

func tail(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}

// WriteTAP writes results to w as a TAP stream and returns the number of
// failed tests.
func WriteTAP(w io.Writer, results []Result) int {
	t := tap.New()
	t.Writer = w
	t.Header(len(results))

	failed := 0
	for _, r := range results {
		switch {
		case r.Passed():
			t.Pass(r.Name)
		case r.Skipped():
			t.Skip(1, r.Name)
		default:
			failed++
			t.Fail(r.Name)
			diag := map[string]interface{}{"status": r.Status}
			if r.Err != nil {
				diag["error"] = r.Err.Error()
			}
			if r.Signal != "" {
				diag["signal"] = r.Signal
			}
			if k := r.Kinds(); len(k) > 0 {
				diag["results"] = k
			}
			if r.Output != "" {
				diag["output"] = tail(r.Output, outputTail)
			}
			t.YAML(diag)
		}
	}
	return failed
}
