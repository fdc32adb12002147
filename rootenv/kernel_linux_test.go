// Copyright 2026 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build linux

package rootenv

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/u-root/diskless/fault"
	"github.com/u-root/diskless/image"
	"github.com/u-root/diskless/loop"
	"github.com/u-root/diskless/mount"
	"github.com/u-root/diskless/runner"
)

// TestKernelRoundTrip runs a whole image lifetime against real loop
// devices and mounts: create, bind, prepare, unprepare, release.
func TestKernelRoundTrip(t *testing.T) {
	if os.Getuid() != 0 {
		t.Skipf("Skipping test: not uid 0")
	}
	for _, c := range []string{"losetup", "mkfs.ext4", "debugfs"} {
		if _, err := exec.LookPath(c); err != nil {
			t.Skipf("Skipping test: %v", err)
		}
	}
	ctx := context.Background()
	r := &runner.Exec{Timeout: time.Minute}
	var m mount.System
	d := t.TempDir()
	img := filepath.Join(d, "disk.img")
	if err := image.New(r, "ext4").Create(ctx, img, 64<<20); err != nil {
		t.Fatalf("Create(%q): %v != nil", img, err)
	}
	dir := filepath.Join(d, "root")
	if err := os.Mkdir(dir, 0o755); err != nil {
		t.Fatal(err)
	}

	c := loop.New(r, m, "ext4")
	h, err := c.Mount(ctx, img, dir)
	if err != nil {
		t.Fatalf("Mount(%q, %q): %v != nil", img, dir, err)
	}
	released := false
	t.Cleanup(func() {
		if !released {
			c.Unmount(ctx, h)
		}
	})
	if ok, err := m.Mounted(dir); err != nil || !ok {
		t.Fatalf("Mounted(%q): (%v, %v) != (true, nil)", dir, ok, err)
	}
	// A second binding of the same image is refused.
	if _, err := c.Mount(ctx, img, filepath.Join(d, "other")); !fault.Is(err, fault.Internal) {
		t.Fatalf("second Mount(%q): %v, want an internal fault", img, err)
	}

	before := tree(t, dir)
	p := New(m)
	if err := p.Prepare(h); err != nil {
		t.Fatalf("Prepare(%q): %v != nil", dir, err)
	}
	l := p.Layout()
	for _, mp := range []string{l.Proc, l.Sys, l.Dev, l.Run, l.Tmp} {
		if ok, err := m.Mounted(mp); err != nil || !ok {
			t.Errorf("Mounted(%q): (%v, %v) != (true, nil)", mp, ok, err)
		}
	}
	if _, err := os.Stat(filepath.Join(l.Proc, "self")); err != nil {
		t.Errorf("proc is not usable: %v", err)
	}

	if err := p.Unprepare(); err != nil {
		t.Fatalf("Unprepare(): %v != nil", err)
	}
	for _, mp := range []string{l.Proc, l.Sys, l.Dev, l.Run, l.Tmp} {
		if ok, err := m.Mounted(mp); err != nil || ok {
			t.Errorf("Mounted(%q) after Unprepare: (%v, %v) != (false, nil)", mp, ok, err)
		}
	}
	if after := tree(t, dir); !reflect.DeepEqual(before, after) {
		t.Errorf("tree after round trip: %q != %q", after, before)
	}

	released = true
	if err := c.Unmount(ctx, h); err != nil {
		t.Fatalf("Unmount(%q): %v != nil", dir, err)
	}
	if ok, err := m.Mounted(dir); err != nil || ok {
		t.Errorf("Mounted(%q) after Unmount: (%v, %v) != (false, nil)", dir, ok, err)
	}
	devs, err := c.Find(ctx, img)
	if err != nil || len(devs) != 0 {
		t.Errorf("Find(%q) after Unmount: (%q, %v) != ([], nil)", img, devs, err)
	}
}
