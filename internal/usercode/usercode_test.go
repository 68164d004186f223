// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package usercode_test

import (
	"context"
	"runtime"
	"strings"
	"testing"

	"github.com/linux-test-project/ltp-sub005/internal/usercode"
)

func failOnPanic(t *testing.T) usercode.PanicHandler {
	return func(val interface{}, stack []byte) {
		t.Error("Panic: ", val)
	}
}

func TestSafeCall(t *testing.T) {
	called := false
	if err := usercode.SafeCall(context.Background(), failOnPanic(t), func(ctx context.Context) {
		called = true
	}); err != nil {
		t.Fatal("SafeCall: ", err)
	}
	if !called {
		t.Error("Function was not called")
	}
}

func TestSafeCallContextCancel(t *testing.T) {
	ch := make(chan struct{})
	defer close(ch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err := usercode.SafeCall(ctx, failOnPanic(t), func(ctx context.Context) {
		cancel()
		<-ch // freeze until the test finishes
	})
	if err != context.Canceled {
		t.Errorf("SafeCall: %v; want: %v", err, context.Canceled)
	}
}

func TestSafeCallPanic(t *testing.T) {
	const panicMsg = "panicking"
	var got interface{}
	var stack []byte
	ph := func(val interface{}, st []byte) {
		got = val
		stack = st
	}
	if err := usercode.SafeCall(context.Background(), ph, func(ctx context.Context) {
		panic(panicMsg)
	}); err != nil {
		t.Fatal("SafeCall: ", err)
	}
	if got != panicMsg {
		t.Errorf("Panic handler got %v; want %v", got, panicMsg)
	}
	if !strings.Contains(string(stack), "usercode_test.TestSafeCallPanic") {
		t.Errorf("Stack does not contain the panicking function:\n%s", stack)
	}
}

func TestSafeCallGoexit(t *testing.T) {
	if err := usercode.SafeCall(context.Background(), failOnPanic(t), func(ctx context.Context) {
		runtime.Goexit()
	}); err != nil {
		t.Error("SafeCall: ", err)
	}
}
