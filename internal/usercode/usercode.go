// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package usercode calls test-supplied callbacks.
package usercode

import (
	"context"
	"runtime/debug"
	"sync/atomic"
)

// PanicHandler is called with the recovered value and the stack of the
// panicking goroutine.
type PanicHandler func(val interface{}, stack []byte)

// SafeCall runs f on a goroutine and waits for it.
//
// If f panics, ph is called on f's goroutine. If ctx is canceled first,
// SafeCall abandons the goroutine and returns ctx.Err(); ph is not called
// after that even if f panics later. If f calls runtime.Goexit it is treated
// as a normal return.
func SafeCall(ctx context.Context, ph PanicHandler, f func(ctx context.Context)) error {
	// The goroutine finishing f and the caller giving up race for token.
	var token uint32
	takeToken := func() bool {
		return atomic.CompareAndSwapUint32(&token, 0, 1)
	}

	done := make(chan struct{})

	go func() {
		defer close(done)
		defer func() {
			val := recover()
			if !takeToken() {
				return
			}
			if val != nil {
				ph(val, debug.Stack())
			}
		}()
		f(ctx)
	}()

	defer func() {
		if !takeToken() {
			<-done
		}
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
