// Copyright 2018-2026 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build linux

package mount

import (
	"errors"
	"os"
	"path/filepath"
	"syscall"
	"testing"

	"golang.org/x/sys/unix"
)

func TestParse(t *testing.T) {
	for i, tt := range []struct {
		in   string
		flag uintptr
		opt  string
	}{
		{in: "", flag: 0, opt: ""},
		{in: "defaults", flag: 0, opt: ""},
		{in: "ro,defaults", flag: unix.MS_RDONLY, opt: ""},
		{in: "ro,nodev,relatime", flag: unix.MS_RELATIME | unix.MS_RDONLY | unix.MS_NODEV, opt: ""},
		{in: "rw,nosuid,nodev", flag: unix.MS_NOSUID | unix.MS_NODEV, opt: ""},
		{in: "nosuid,nodev,mode=755", flag: unix.MS_NOSUID | unix.MS_NODEV, opt: "mode=755"},
		{in: "rbind", flag: unix.MS_BIND | unix.MS_REC, opt: ""},
		{in: "rslave", flag: unix.MS_SLAVE | unix.MS_REC, opt: ""},
		{in: "rw,nosuid,nodev,noexec,relatime,size=5120k", flag: unix.MS_RELATIME | unix.MS_NOSUID | unix.MS_NODEV | unix.MS_NOEXEC, opt: "size=5120k"},
		{in: "rw,nosuid,noexec,relatime,gid=5,mode=620,ptmxmode=000", flag: unix.MS_RELATIME | unix.MS_NOSUID | unix.MS_NOEXEC, opt: "gid=5,mode=620,ptmxmode=000"},
		{in: "rw,relatime,nouser,blkio", flag: unix.MS_RELATIME, opt: ""},
	} {
		flag, opt := Parse(tt.in)
		if opt != tt.opt || flag != tt.flag {
			t.Errorf("Parse(%q)(%d): got (%#x, %q), want (%#x, %q)", tt.in, i, flag, opt, tt.flag, tt.opt)
		}
	}
}

func TestMountNotThere(t *testing.T) {
	if os.Getuid() != 0 {
		t.Skipf("Skipping test: not uid 0")
	}
	d := filepath.Join(t.TempDir(), "nothere")
	err := System{}.Mount("tmpfs", d, "tmpfs", "nosuid,nodev")
	if !errors.Is(err, syscall.ENOENT) {
		t.Fatalf("Mount(tmpfs, %q): %v != %v", d, err, syscall.ENOENT)
	}
}

func TestTmpfsRoundTrip(t *testing.T) {
	if os.Getuid() != 0 {
		t.Skipf("Skipping test: not uid 0")
	}
	var s System
	d := t.TempDir()
	if err := s.Mount("tmpfs", d, "tmpfs", "nosuid,nodev,mode=755"); err != nil {
		t.Fatalf("Mount(tmpfs, %q): %v != nil", d, err)
	}
	ok, err := s.Mounted(d)
	if err != nil || !ok {
		t.Errorf("Mounted(%q): (%v, %v) != (true, nil)", d, ok, err)
	}
	for _, m := range []UnmountMode{Force} {
		if err := s.Unmount(d, m); err != nil {
			t.Fatalf("Unmount(%q, %v): %v != nil", d, m, err)
		}
	}
	if ok, err := s.Mounted(d); err != nil || ok {
		t.Fatalf("Mounted(%q) after Unmount: (%v, %v) != (false, nil)", d, ok, err)
	}
}

func TestLazyUnmount(t *testing.T) {
	if os.Getuid() != 0 {
		t.Skipf("Skipping test: not uid 0")
	}
	var s System
	d := t.TempDir()
	if err := s.Mount("tmpfs", d, "tmpfs", ""); err != nil {
		t.Fatalf("Mount(tmpfs, %q): %v != nil", d, err)
	}
	// Hold a reference so a plain unmount would be busy.
	f, err := os.Open(d)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := s.Unmount(d, Lazy); err != nil {
		t.Fatalf("Unmount(%q, Lazy): %v != nil", d, err)
	}
	if ok, _ := s.Mounted(d); ok {
		t.Fatalf("Mounted(%q) after lazy Unmount: true != false", d)
	}
}
