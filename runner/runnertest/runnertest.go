// Copyright 2026 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package runnertest provides a Runner that pretends to be the
// commands disklessd runs, for tests that must run without root.
package runnertest

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/u-root/diskless/runner"
)

// Host pretends to be mkfs, debugfs, losetup and resize2fs. Loop devices are
// handed out in order, starting at /dev/loop0.
type Host struct {
	mu    sync.Mutex
	fail  func(name string, args ...string) error
	next  int
	bound map[string]string
	cmds  []string
}

var _ runner.Runner = &Host{}

// Run implements runner.Runner.
func (h *Host) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cmds = append(h.cmds, strings.Join(append([]string{name}, args...), " "))
	if h.fail != nil {
		if err := h.fail(name, args...); err != nil {
			return nil, err
		}
	}
	if h.bound == nil {
		h.bound = map[string]string{}
	}
	switch {
	case strings.HasPrefix(name, "mkfs."), name == "resize2fs", name == "debugfs":
		return nil, nil
	case name != "losetup" || len(args) < 2:
	case args[0] == "--find":
		dev := fmt.Sprintf("/dev/loop%d", h.next)
		h.next++
		h.bound[dev] = args[2]
		return []byte(dev + "\n"), nil
	case args[0] == "-j":
		var out string
		for d, f := range h.bound {
			if f == args[1] {
				out += fmt.Sprintf("%s: [2049]:12 (%s)\n", d, f)
			}
		}
		return []byte(out), nil
	case args[0] == "-d":
		delete(h.bound, args[1])
		return nil, nil
	case args[0] == "-c":
		return nil, nil
	}
	return nil, fmt.Errorf("%s %q: unsupported", name, args)
}

// SetFail makes f be consulted before every command; a non-nil
// return fails it.
func (h *Host) SetFail(f func(name string, args ...string) error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.fail = f
}

// Count returns how many commands started with prefix.
func (h *Host) Count(prefix string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	var n int
	for _, c := range h.cmds {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

// Bound returns the loop devices still bound, and their images.
func (h *Host) Bound() map[string]string {
	h.mu.Lock()
	defer h.mu.Unlock()
	b := map[string]string{}
	for d, f := range h.bound {
		b[d] = f
	}
	return b
}
