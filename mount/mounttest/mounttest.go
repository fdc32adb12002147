// Copyright 2026 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package mounttest provides a Mounter that only pretends, for tests
// that must run without root.
package mounttest

import (
	"fmt"
	"os"
	"sync"

	"github.com/u-root/diskless/mount"
)

// Call is one Mount or Unmount seen by a Fake.
type Call struct {
	Op     string
	Source string
	Target string
	FSType string
	Opts   string
}

func (c Call) String() string {
	if c.Op == "unmount" {
		return fmt.Sprintf("unmount %s (%s)", c.Target, c.Opts)
	}
	return fmt.Sprintf("mount %s on %s type %q (%s)", c.Source, c.Target, c.FSType, c.Opts)
}

// Fake records mounts in memory. Targets must exist, as they would
// for mount(2).
type Fake struct {
	// Fail, if set, is consulted before every Mount; a non-nil
	// return fails the mount.
	Fail func(source, target, fstype, opts string) error

	mu     sync.Mutex
	calls  []Call
	active map[string]int
}

var _ mount.Mounter = &Fake{}

// Mount implements mount.Mounter.
func (f *Fake) Mount(source, target, fstype, opts string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Fail != nil {
		if err := f.Fail(source, target, fstype, opts); err != nil {
			return err
		}
	}
	if _, err := os.Stat(target); err != nil {
		return err
	}
	f.calls = append(f.calls, Call{Op: "mount", Source: source, Target: target, FSType: fstype, Opts: opts})
	if f.active == nil {
		f.active = map[string]int{}
	}
	// Changing propagation does not stack a new mount.
	if source == "" && fstype == "" {
		return nil
	}
	f.active[target]++
	return nil
}

// Unmount implements mount.Mounter.
func (f *Fake) Unmount(target string, mode mount.UnmountMode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, Call{Op: "unmount", Target: target, Opts: mode.String()})
	if f.active[target] == 0 {
		return fmt.Errorf("unmount %q: %w", target, os.ErrInvalid)
	}
	f.active[target]--
	if f.active[target] == 0 {
		delete(f.active, target)
	}
	return nil
}

// Mounted implements mount.Mounter.
func (f *Fake) Mounted(target string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, err := os.Stat(target); err != nil {
		return false, err
	}
	return f.active[target] > 0, nil
}

// Active returns the targets that are currently mounted.
func (f *Fake) Active() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var a []string
	for t := range f.active {
		a = append(a, t)
	}
	return a
}

// Calls returns every Mount and Unmount so far, in order.
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}
