// Copyright 2018-2026 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mount

import (
	"errors"
	"fmt"

	"github.com/moby/sys/mountinfo"
	"golang.org/x/sys/unix"
)

func init() {
	for k, v := range map[string]uintptr{
		"async":        unix.MS_ASYNC,
		"bind":         unix.MS_BIND,
		"dirsync":      unix.MS_DIRSYNC,
		"i_version":    unix.MS_I_VERSION,
		"lazytime":     unix.MS_LAZYTIME,
		"mandlock":     unix.MS_MANDLOCK,
		"move":         unix.MS_MOVE,
		"noatime":      unix.MS_NOATIME,
		"nodev":        unix.MS_NODEV,
		"nodiratime":   unix.MS_NODIRATIME,
		"noexec":       unix.MS_NOEXEC,
		"noremotelock": unix.MS_NOREMOTELOCK,
		"nosuid":       unix.MS_NOSUID,
		"nosymfollow":  unix.MS_NOSYMFOLLOW,
		"posixacl":     unix.MS_POSIXACL,
		"private":      unix.MS_PRIVATE,
		"rbind":        unix.MS_BIND | unix.MS_REC,
		"rdonly":       unix.MS_RDONLY,
		"rec":          unix.MS_REC,
		"relatime":     unix.MS_RELATIME,
		"remount":      unix.MS_REMOUNT,
		"ro":           unix.MS_RDONLY,
		"rprivate":     unix.MS_PRIVATE | unix.MS_REC,
		"rshared":      unix.MS_SHARED | unix.MS_REC,
		"rslave":       unix.MS_SLAVE | unix.MS_REC,
		"rw":           0,
		"shared":       unix.MS_SHARED,
		"silent":       unix.MS_SILENT,
		"slave":        unix.MS_SLAVE,
		"strictatime":  unix.MS_STRICTATIME,
		"sync":         unix.MS_SYNC,
		"synchronous":  unix.MS_SYNCHRONOUS,
		"unbindable":   unix.MS_UNBINDABLE,
	} {
		convert[k] = v
	}
}

// System performs mounts with mount(2).
type System struct{}

var _ Mounter = System{}

// Mount implements Mounter.
func (System) Mount(source, target, fstype, opts string) error {
	flags, data := Parse(opts)
	v("mount %q on %q type %q (%#x, %q)", source, target, fstype, flags, data)
	if err := unix.Mount(source, target, fstype, flags, data); err != nil {
		return fmt.Errorf("Mount(%q, %q, %q, %q=>(%#x, %q)): %w", source, target, fstype, opts, flags, data, err)
	}
	return nil
}

// Unmount implements Mounter.
func (System) Unmount(target string, mode UnmountMode) error {
	v("unmount %q (%v)", target, mode)
	if mode == Force {
		err := unix.Unmount(target, unix.MNT_FORCE)
		if err == nil {
			return nil
		}
		if !errors.Is(err, unix.EBUSY) {
			return fmt.Errorf("Unmount(%q, MNT_FORCE): %w", target, err)
		}
		v("%q is busy, detaching it", target)
	}
	if err := unix.Unmount(target, unix.MNT_DETACH); err != nil {
		return fmt.Errorf("Unmount(%q, MNT_DETACH): %w", target, err)
	}
	return nil
}

// Mounted implements Mounter.
func (System) Mounted(target string) (bool, error) {
	return mountinfo.Mounted(target)
}
