// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package ipc implements the result accounting region: one page of shared
// memory, backed by a file, that every process of a test tree maps to record
// results with single atomic increments.
//
// The library process creates the region before starting any other process.
// Descendants never inherit the mapping itself (they are started with exec);
// they rehydrate it from the LTP_IPC_PATH environment variable with Attach.
package ipc

import (
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/linux-test-project/ltp-sub005/errors"
	"github.com/linux-test-project/ltp-sub005/internal/result"
)

const (
	// EnvPath names the environment variable carrying the region's path.
	EnvPath = "LTP_IPC_PATH"

	// Magic identifies a valid region.
	Magic uint32 = 0x4c545049

	// InheritedFD is the descriptor number at which children receive the
	// region file when its path has already been unlinked.
	InheritedFD = 3

	shmDir = "/dev/shm"
)

// Field offsets of the fixed region layout.
const (
	offMagic     = 0
	offLibPID    = 4
	offMainPID   = 8
	offAbort     = 12
	offStartTime = 16
	offTimeout   = 24
	offRuntime   = 32
	offFlags     = 40
	offPassed    = 44
	offFailed    = 48
	offBroken    = 52
	offSkipped   = 56
	offWarnings  = 60
	offFutexes   = 64
)

// Flag is a boolean stored in the region context.
type Flag uint32

const (
	// FlagMntpointMounted is set while the test mountpoint is mounted.
	FlagMntpointMounted Flag = 1 << iota
	// FlagOverlayMounted is set while an overlay is mounted on top of it.
	FlagOverlayMounted
	// FlagDebug is set when DEBUG results are printed.
	FlagDebug
)

// CreateOptions describes a region to create.
type CreateOptions struct {
	// Name is used in the backing file name, typically the test name.
	Name string
	// FallbackDir is used when /dev/shm is not writable.
	FallbackDir string
	// KeepPath keeps the backing file linked so that arbitrary descendants
	// can attach by path. Otherwise the file is unlinked right after mapping
	// and children attach through the inherited descriptor.
	KeepPath bool
	// LibPID is the pid of the library process; defaults to os.Getpid().
	LibPID int
	// Timeout is the overall per-run budget.
	Timeout time.Duration
	// Runtime is the configured maximum runtime.
	Runtime time.Duration
}

// Region is a mapped result accounting region.
type Region struct {
	f       *os.File
	mem     []byte
	path    string // backing file path; empty once unlinked
	envPath string // value to publish in EnvPath
}

func pageSize() int {
	return os.Getpagesize()
}

func shmRoot(fallback string) string {
	if unix.Access(shmDir, unix.W_OK) == nil {
		return shmDir
	}
	return fallback
}

// Create creates, maps and initializes a new region.
func Create(opts CreateOptions) (*Region, error) {
	dir := shmRoot(opts.FallbackDir)
	if dir == "" {
		return nil, errors.New("no writable directory for the results region")
	}
	libPID := opts.LibPID
	if libPID == 0 {
		libPID = os.Getpid()
	}
	path := filepath.Join(dir, fmt.Sprintf("ltp_%s_%d", filepath.Base(opts.Name), libPID))

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create results region file")
	}
	size := pageSize()
	if err := f.Truncate(int64(size)); err != nil {
		f.Close()
		os.Remove(path)
		return nil, errors.Wrap(err, "failed to size results region file")
	}
	mem, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		os.Remove(path)
		return nil, errors.Wrap(err, "failed to map results region")
	}

	r := &Region{f: f, mem: mem, path: path, envPath: path}
	r.storeU32(offLibPID, uint32(libPID))
	r.storeI64(offStartTime, time.Now().UnixNano())
	r.storeI64(offTimeout, int64(opts.Timeout))
	r.storeI64(offRuntime, int64(opts.Runtime))
	r.storeU32(offMagic, Magic)

	if !opts.KeepPath {
		if err := os.Remove(path); err != nil {
			r.Destroy()
			return nil, errors.Wrap(err, "failed to unlink results region file")
		}
		r.path = ""
		r.envPath = fmt.Sprintf("/proc/self/fd/%d", InheritedFD)
	}
	return r, nil
}

// Attach maps the region named by the EnvPath environment variable and
// validates its magic.
func Attach() (*Region, error) {
	path := os.Getenv(EnvPath)
	if path == "" {
		return nil, errors.Errorf("%s is not set", EnvPath)
	}
	return AttachPath(path)
}

// AttachPath maps the region backed by path and validates its magic.
func AttachPath(path string) (*Region, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open results region %s", path)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errors.Wrap(err, "failed to stat results region")
	}
	size := pageSize()
	if fi.Size() < int64(size) {
		f.Close()
		return nil, errors.Errorf("results region %s is too small (%d bytes)", path, fi.Size())
	}
	mem, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, errors.Wrap(err, "failed to map results region")
	}
	r := &Region{f: f, mem: mem, envPath: path}
	if m := r.loadU32(offMagic); m != Magic {
		r.Destroy()
		return nil, errors.Errorf("results region %s has bad magic %#x", path, m)
	}
	return r, nil
}

// Destroy unmaps the region and unlinks its backing file if it still exists.
// Only the creator should unlink; attached regions have no path recorded.
func (r *Region) Destroy() error {
	var firstErr error
	if r.mem != nil {
		if err := unix.Munmap(r.mem); err != nil {
			firstErr = errors.Wrap(err, "failed to unmap results region")
		}
		r.mem = nil
	}
	if r.f != nil {
		r.f.Close()
		r.f = nil
	}
	if r.path != "" {
		if err := os.Remove(r.path); err != nil && !os.IsNotExist(err) && firstErr == nil {
			firstErr = errors.Wrap(err, "failed to unlink results region")
		}
		r.path = ""
	}
	return firstErr
}

// File returns the backing file, to be passed to children as InheritedFD.
func (r *Region) File() *os.File {
	return r.f
}

// EnvValue returns the value children must see in EnvPath.
func (r *Region) EnvValue() string {
	return r.envPath
}

// Path returns the backing file path, or an empty string once unlinked.
func (r *Region) Path() string {
	return r.path
}

func (r *Region) u32(off int) *uint32 {
	return (*uint32)(unsafe.Pointer(&r.mem[off]))
}

func (r *Region) i64(off int) *int64 {
	return (*int64)(unsafe.Pointer(&r.mem[off]))
}

func (r *Region) loadU32(off int) uint32     { return atomic.LoadUint32(r.u32(off)) }
func (r *Region) storeU32(off int, v uint32) { atomic.StoreUint32(r.u32(off), v) }
func (r *Region) loadI64(off int) int64      { return atomic.LoadInt64(r.i64(off)) }
func (r *Region) storeI64(off int, v int64)  { atomic.StoreInt64(r.i64(off), v) }

// Record atomically increments the counter for k. Kinds that are not
// counted (TINFO, TDEBUG) are ignored.
func (r *Region) Record(k result.Kind) {
	var off int
	switch k.Type() {
	case result.TPASS:
		off = offPassed
	case result.TFAIL:
		off = offFailed
	case result.TBROK:
		off = offBroken
	case result.TCONF:
		off = offSkipped
	case result.TWARN:
		off = offWarnings
	default:
		return
	}
	atomic.AddUint32(r.u32(off), 1)
}

// Results returns a snapshot of the counters.
func (r *Region) Results() result.Counts {
	return result.Counts{
		Passed:   r.loadU32(offPassed),
		Failed:   r.loadU32(offFailed),
		Broken:   r.loadU32(offBroken),
		Skipped:  r.loadU32(offSkipped),
		Warnings: r.loadU32(offWarnings),
	}
}

// LibPID returns the pid of the library process.
func (r *Region) LibPID() int { return int(r.loadU32(offLibPID)) }

// MainPID returns the pid of the main test process, or 0 if none runs.
func (r *Region) MainPID() int { return int(r.loadU32(offMainPID)) }

// SetMainPID records the pid of the main test process.
func (r *Region) SetMainPID(pid int) { r.storeU32(offMainPID, uint32(pid)) }

// SetAbort raises the abort flag. It returns true if the flag was clear.
func (r *Region) SetAbort() bool {
	return atomic.CompareAndSwapUint32(r.u32(offAbort), 0, 1)
}

// ClearAbort lowers the abort flag.
func (r *Region) ClearAbort() { r.storeU32(offAbort, 0) }

// Aborted reports whether the abort flag is raised.
func (r *Region) Aborted() bool { return r.loadU32(offAbort) != 0 }

// StartTime returns the start of the current run.
func (r *Region) StartTime() time.Time { return time.Unix(0, r.loadI64(offStartTime)) }

// SetStartTime restarts the runtime clock, e.g. for a new run.
func (r *Region) SetStartTime(t time.Time) { r.storeI64(offStartTime, t.UnixNano()) }

// Timeout returns the overall per-run budget.
func (r *Region) Timeout() time.Duration { return time.Duration(r.loadI64(offTimeout)) }

// SetTimeout updates the overall per-run budget.
func (r *Region) SetTimeout(d time.Duration) { r.storeI64(offTimeout, int64(d)) }

// Runtime returns the configured maximum runtime.
func (r *Region) Runtime() time.Duration { return time.Duration(r.loadI64(offRuntime)) }

// SetRuntime updates the configured maximum runtime.
func (r *Region) SetRuntime(d time.Duration) { r.storeI64(offRuntime, int64(d)) }

// Flag reports whether f is set.
func (r *Region) Flag(f Flag) bool { return r.loadU32(offFlags)&uint32(f) != 0 }

// SetFlag sets or clears f.
func (r *Region) SetFlag(f Flag, on bool) {
	p := r.u32(offFlags)
	for {
		old := atomic.LoadUint32(p)
		nv := old &^ uint32(f)
		if on {
			nv = old | uint32(f)
		}
		if atomic.CompareAndSwapUint32(p, old, nv) {
			return
		}
	}
}

// NumFutexes returns the number of futex slots trailing the context.
func (r *Region) NumFutexes() int {
	return (len(r.mem) - offFutexes) / 4
}

// Futex returns a pointer to the i-th futex slot.
func (r *Region) Futex(i int) *uint32 {
	if i < 0 || i >= r.NumFutexes() {
		panic(fmt.Sprintf("futex slot %d out of range", i))
	}
	return r.u32(offFutexes + 4*i)
}
