// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package cgroup

// Registry maps each cgroup mountpoint to the private directory created
// under it for this test run. Only Manager modifies it.
type Registry struct {
	head *entry
}

type entry struct {
	mnt     string
	private string
	ctrl    string
	mounted bool // the mountpoint was mounted by Manager
	// cloneChildren is the cpuset cgroup.clone_children value before Mount.
	cloneChildren string
	next    *entry
}

func (r *Registry) add(e *entry) {
	e.next = r.head
	r.head = e
}

func (r *Registry) lookup(mnt string) *entry {
	for e := r.head; e != nil; e = e.next {
		if e.mnt == mnt {
			return e
		}
	}
	return nil
}

func (r *Registry) remove(mnt string) bool {
	for p := &r.head; *p != nil; p = &(*p).next {
		if (*p).mnt == mnt {
			*p = (*p).next
			return true
		}
	}
	return false
}

// Private returns the private directory registered for mnt.
func (r *Registry) Private(mnt string) (string, bool) {
	if e := r.lookup(mnt); e != nil {
		return e.private, true
	}
	return "", false
}

// Mountpoints returns the registered mountpoints, most recent first.
func (r *Registry) Mountpoints() []string {
	var res []string
	for e := r.head; e != nil; e = e.next {
		res = append(res, e.mnt)
	}
	return res
}
