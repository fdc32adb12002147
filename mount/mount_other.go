// Copyright 2018-2026 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build !linux

package mount

import (
	"errors"
	"fmt"
)

// System performs mounts. Only Linux is supported.
type System struct{}

var _ Mounter = System{}

// Mount implements Mounter.
func (System) Mount(source, target, fstype, opts string) error {
	return fmt.Errorf("Mount(%q, %q, %q, %q): %w", source, target, fstype, opts, errors.ErrUnsupported)
}

// Unmount implements Mounter.
func (System) Unmount(target string, mode UnmountMode) error {
	return fmt.Errorf("Unmount(%q, %v): %w", target, mode, errors.ErrUnsupported)
}

// Mounted implements Mounter.
func (System) Mounted(target string) (bool, error) {
	return false, fmt.Errorf("Mounted(%q): %w", target, errors.ErrUnsupported)
}
