// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package logging_test

import (
	"bytes"
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/linux-test-project/ltp-sub005/errors/stack"
	"github.com/linux-test-project/ltp-sub005/internal/logging"
)

// memorySink is a Sink that accumulates logs to an in-memory buffer.
type memorySink struct {
	mu   sync.Mutex
	msgs []string
}

func (ms *memorySink) Log(msg string) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.msgs = append(ms.msgs, msg)
}

func (ms *memorySink) Get() []string {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return append([]string(nil), ms.msgs...)
}

type entry struct {
	Level logging.Level
	File  string
	Msg   string
}

func TestSinkLogger_Level(t *testing.T) {
	var sink memorySink
	logger := logging.NewSinkLogger(logging.LevelInfo, false, &sink)
	logger.Log(logging.LevelInfo, time.Time{}, stack.Location{}, "foo")
	logger.Log(logging.LevelDebug, time.Time{}, stack.Location{}, "bar")

	want := []string{"foo"}
	if diff := cmp.Diff(sink.Get(), want); diff != "" {
		t.Errorf("Messages mismatch (-got +want):\n%s", diff)
	}
}

func TestWriterSink(t *testing.T) {
	var buf bytes.Buffer
	sink := logging.NewWriterSink(&buf)
	sink.Log("foo")
	sink.Log("bar")
	if got, want := buf.String(), "foo\nbar\n"; got != want {
		t.Errorf("Got %q; want %q", got, want)
	}
}

func TestFDSink(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	logging.NewFDSink(int(w.Fd())).Log("tst_test.c:12: TPASS: ok")
	w.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(r); err != nil {
		t.Fatal(err)
	}
	if got, want := buf.String(), "tst_test.c:12: TPASS: ok\n"; got != want {
		t.Errorf("Got %q; want %q", got, want)
	}
}

func TestContextLogging(t *testing.T) {
	var got []entry
	logger := logging.NewFuncLogger(func(level logging.Level, ts time.Time, loc stack.Location, msg string) {
		got = append(got, entry{level, loc.File, msg})
	})
	ctx := logging.AttachLogger(context.Background(), logger)

	logging.Info(ctx, "a", 1)
	logging.Infof(ctx, "b%d", 2)
	logging.Debugf(ctx, "c%d", 3)

	want := []entry{
		{logging.LevelInfo, "logging_test.go", "a1"},
		{logging.LevelInfo, "logging_test.go", "b2"},
		{logging.LevelDebug, "logging_test.go", "c3"},
	}
	if diff := cmp.Diff(got, want); diff != "" {
		t.Errorf("Logs mismatch (-got +want):\n%s", diff)
	}
}

func TestAttachLoggerPropagation(t *testing.T) {
	var parent, child memorySink
	ctx := logging.AttachLogger(context.Background(), logging.NewSinkLogger(logging.LevelDebug, false, &parent))
	ctx2 := logging.AttachLogger(ctx, logging.NewSinkLogger(logging.LevelDebug, false, &child))
	ctx3 := logging.AttachLoggerNoPropagation(ctx, logging.NewSinkLogger(logging.LevelDebug, false, &child))

	logging.Info(ctx2, "both")
	logging.Info(ctx3, "child only")

	if diff := cmp.Diff(parent.Get(), []string{"both"}); diff != "" {
		t.Errorf("Parent logs mismatch (-got +want):\n%s", diff)
	}
	if diff := cmp.Diff(child.Get(), []string{"both", "child only"}); diff != "" {
		t.Errorf("Child logs mismatch (-got +want):\n%s", diff)
	}
}

func TestNoLogger(t *testing.T) {
	ctx := context.Background()
	if logging.HasLogger(ctx) {
		t.Error("HasLogger = true for a bare context")
	}
	logging.Info(ctx, "dropped")
}
