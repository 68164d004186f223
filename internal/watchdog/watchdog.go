// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package watchdog bounds the lifetime of a test process tree.
//
// A Watchdog is armed with the overall budget of a run. When it fires it
// kills the runner's process group and re-fires every grace period until the
// group is gone; if the kill keeps failing it gives up and exits the process
// uncleanly. A heartbeat from the runner (Rearm) pushes the deadline back.
package watchdog

import (
	"os"
	"sync"
	"time"

	"code.cloudfoundry.org/clock"

	"github.com/linux-test-project/ltp-sub005/internal/logging"
	"github.com/linux-test-project/ltp-sub005/internal/result"
)

const (
	// DefaultGrace is the interval between repeated kills.
	DefaultGrace = 5 * time.Second
	// DefaultMaxRetries is the number of repeated kills tolerated before the
	// process gives up.
	DefaultMaxRetries = 10
)

// Config configures a Watchdog.
type Config struct {
	// Kill terminates the supervised process group. Required.
	Kill func()
	// Sink receives diagnostics. Defaults to a raw write(2) on stderr.
	Sink logging.Sink
	// Exit terminates the process after the retries are exhausted.
	// Defaults to os.Exit.
	Exit func(code int)
	// Clock defaults to the real clock.
	Clock clock.Clock
	// Grace defaults to DefaultGrace.
	Grace time.Duration
	// MaxRetries defaults to DefaultMaxRetries.
	MaxRetries int
}

// Watchdog is a re-armable deadline on a process group.
type Watchdog struct {
	cfg Config

	mu       sync.Mutex
	timer    clock.Timer
	timeout  time.Duration
	deadline time.Time
	retries  int
	done     chan struct{}
}

// New creates a disarmed Watchdog.
func New(cfg Config) *Watchdog {
	if cfg.Sink == nil {
		cfg.Sink = logging.NewFDSink(int(os.Stderr.Fd()))
	}
	if cfg.Exit == nil {
		cfg.Exit = os.Exit
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.NewClock()
	}
	if cfg.Grace == 0 {
		cfg.Grace = DefaultGrace
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	return &Watchdog{cfg: cfg}
}

// Arm starts the watchdog with timeout d, replacing any earlier deadline.
func (w *Watchdog) Arm(d time.Duration) {
	w.Stop()

	w.mu.Lock()
	defer w.mu.Unlock()
	w.timeout = d
	w.retries = 0
	w.deadline = w.cfg.Clock.Now().Add(d)
	w.timer = w.cfg.Clock.NewTimer(d)
	w.done = make(chan struct{})
	go w.loop(w.timer, w.done)
}

// Rearm pushes the deadline back by the armed timeout. It does nothing if
// the watchdog is not armed.
func (w *Watchdog) Rearm() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer == nil {
		return
	}
	w.retries = 0
	w.resetLocked(w.timeout)
}

// Stop disarms the watchdog.
func (w *Watchdog) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer == nil {
		return
	}
	w.timer.Stop()
	close(w.done)
	w.timer = nil
	w.done = nil
}

// Timeout returns the armed timeout.
func (w *Watchdog) Timeout() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.timeout
}

func (w *Watchdog) resetLocked(d time.Duration) {
	w.deadline = w.cfg.Clock.Now().Add(d)
	w.timer.Reset(d)
}

func (w *Watchdog) loop(timer clock.Timer, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case <-timer.C():
		}
		if !w.fire(timer) {
			return
		}
	}
}

// fire handles one expiry. It returns false once the watchdog should stop.
func (w *Watchdog) fire(timer clock.Timer) bool {
	w.mu.Lock()
	if w.timer != timer {
		w.mu.Unlock()
		return false
	}
	// A heartbeat may have raced the expiry.
	if w.cfg.Clock.Now().Before(w.deadline) {
		w.mu.Unlock()
		return true
	}
	w.retries++
	exhausted := w.retries > w.cfg.MaxRetries
	w.resetLocked(w.cfg.Grace)
	w.mu.Unlock()

	w.cfg.Sink.Log("Test timeouted, sending SIGKILL!")
	w.cfg.Kill()

	if exhausted {
		w.cfg.Sink.Log("Cannot kill test processes!")
		w.cfg.Sink.Log("Congratulation, likely test hit a kernel bug.")
		w.cfg.Sink.Log("Exiting uncleanly...")
		w.Stop()
		w.cfg.Exit(int(result.TFAIL))
		return false
	}
	return true
}
