// Copyright 2018-2026 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package mount wraps the mount(2) family for disklessd.
//
// Options are given the way mount(8) and fstab take them, e.g.
// "nosuid,nodev,mode=755": words that name mount flags become flags,
// everything else is passed to the file system as data.
package mount

import (
	"strings"
)

// UnmountMode selects how hard Unmount tries.
type UnmountMode int

const (
	// Force asks the kernel to force the unmount, falling back to
	// a lazy detach if the mount is still busy.
	Force UnmountMode = iota
	// Lazy detaches the mount now and cleans up once it is no
	// longer referenced. Bind mounts of /dev and /sys usually
	// need this, they are almost always busy.
	Lazy
)

func (m UnmountMode) String() string {
	if m == Lazy {
		return "lazy"
	}
	return "force"
}

// Mounter is the set of mount operations disklessd performs. The
// System mounter does them for real; tests substitute their own.
type Mounter interface {
	// Mount mounts source on target. opts is a mount(8) style
	// option string.
	Mount(source, target, fstype, opts string) error
	// Unmount unmounts target.
	Unmount(target string, mode UnmountMode) error
	// Mounted reports whether target is a mount point.
	Mounted(target string) (bool, error)
}

var v = func(string, ...interface{}) {}

// SetVerbose sets the verbose printer.
func SetVerbose(f func(string, ...interface{})) {
	v = f
}

// There are string args that must be converted to uintptr.
// The table is filled in per kernel.
var convert = map[string]uintptr{}

var ignore = map[string]interface{}{
	"blkio":  nil,
	"nouser": nil,
}

// Parse splits a mount option string into flags and data.
func Parse(m string) (uintptr, string) {
	var opts []string
	var flags uintptr
	for _, f := range strings.Split(strings.TrimSpace(m), ",") {
		if f == "defaults" || f == "" {
			// "defaults" is just consumed; "rw", "suid", "dev",
			// "exec" and "async" are all zero. It's almost a
			// noise word now.
			continue
		}
		if v, ok := convert[f]; ok {
			flags |= v
		} else if _, ok := ignore[f]; !ok {
			opts = append(opts, f)
		}
	}
	return flags, strings.Join(opts, ",")
}
