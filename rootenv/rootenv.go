// Copyright 2026 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package rootenv turns a mounted client image into something that
// looks like a running system's root: /proc, /sys and /dev from the
// host, fresh tmpfs on /run and /tmp, and scratch space in /var/tmp.
//
// Prepare is all or nothing. If any step fails, everything done so
// far is undone before the error is returned, so callers never see a
// half-built root. Unprepare undoes a Prepare, and only removes what
// Prepare created: /var and /root belong to the client if they were
// already in the image.
package rootenv

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/hashicorp/go-multierror"
	"github.com/u-root/diskless/fault"
	"github.com/u-root/diskless/loop"
	"github.com/u-root/diskless/mount"
)

var v = func(string, ...interface{}) {}

// SetVerbose sets the verbose printer.
func SetVerbose(f func(string, ...interface{})) {
	v = f
}

// State is where a Preparer is in its life.
type State int

const (
	Unprepared State = iota
	Preparing
	Prepared
	Unpreparing
)

func (s State) String() string {
	switch s {
	case Unprepared:
		return "unprepared"
	case Preparing:
		return "preparing"
	case Prepared:
		return "prepared"
	case Unpreparing:
		return "unpreparing"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Layout holds the paths Prepare manages under a root.
type Layout struct {
	Root      string
	Proc      string
	Sys       string
	Dev       string
	Run       string
	Tmp       string
	Var       string
	VarTmp    string
	Home      string
	LostFound string
}

// NewLayout returns the Layout for root.
func NewLayout(root string) Layout {
	return Layout{
		Root:      root,
		Proc:      filepath.Join(root, "proc"),
		Sys:       filepath.Join(root, "sys"),
		Dev:       filepath.Join(root, "dev"),
		Run:       filepath.Join(root, "run"),
		Tmp:       filepath.Join(root, "tmp"),
		Var:       filepath.Join(root, "var"),
		VarTmp:    filepath.Join(root, "var", "tmp"),
		Home:      filepath.Join(root, "root"),
		LostFound: filepath.Join(root, "lost+found"),
	}
}

// Preparer prepares and unprepares one root. It is not safe for
// concurrent use; a session owns its Preparer.
type Preparer struct {
	m mount.Mounter
	// HostSys and HostDev are bound into the root.
	HostSys string
	HostDev string

	// Overridden in tests to inject failures.
	mkdir func(string, os.FileMode) error
	chmod func(string, os.FileMode) error

	state   State
	l       Layout
	hadVar  bool
	hadHome bool
}

// New returns an unprepared Preparer that mounts with m.
func New(m mount.Mounter) *Preparer {
	return &Preparer{
		m:       m,
		HostSys: "/sys",
		HostDev: "/dev",
		mkdir:   os.Mkdir,
		chmod:   os.Chmod,
	}
}

// State returns the current state.
func (p *Preparer) State() State {
	return p.state
}

// Layout returns the paths of the prepared root. It is the zero
// Layout unless the Preparer is prepared.
func (p *Preparer) Layout() Layout {
	return p.l
}

// Prepare builds the root environment on the image mounted by h.
func (p *Preparer) Prepare(h *loop.Handle) (err error) {
	const op = "rootenv.Prepare"
	if h == nil {
		return fault.Internalf(op, "image is not mounted")
	}
	if p.state != Unprepared {
		return fault.Internalf(op, "%q is %v", p.l.Root, p.state)
	}
	if ok, err := p.m.Mounted(h.Dir); err != nil || !ok {
		return fault.Internalf(op, "%q is not mounted (%v)", h.Dir, err)
	}

	l := NewLayout(h.Dir)
	// Nothing may be touched until the image has been checked.
	if err := check(l); err != nil {
		return err
	}
	hadVar, err := exists(l.Var)
	if err != nil {
		return fault.New(fault.Operational, op, err)
	}
	hadHome, err := exists(l.Home)
	if err != nil {
		return fault.New(fault.Operational, op, err)
	}

	p.l, p.hadVar, p.hadHome = l, hadVar, hadHome
	p.state = Preparing
	defer func() {
		if err == nil {
			p.state = Prepared
			return
		}
		if uerr := p.unprepare(); uerr != nil {
			v("rolling back %q: %v", l.Root, uerr)
		}
	}()

	for _, s := range p.steps() {
		v("prepare %q: %s", l.Root, s.name)
		if err := s.do(); err != nil {
			return fault.New(fault.Operational, op, fmt.Errorf("%s: %w", s.name, err))
		}
	}
	return nil
}

type step struct {
	name string
	do   func() error
}

func (p *Preparer) steps() []step {
	l := p.l
	return []step{
		{"proc", func() error {
			if err := p.mkdir(l.Proc, 0o555); err != nil {
				return err
			}
			return p.m.Mount("proc", l.Proc, "proc", "")
		}},
		{"sys", func() error {
			return p.bind(p.HostSys, l.Sys)
		}},
		{"dev", func() error {
			return p.bind(p.HostDev, l.Dev)
		}},
		{"run", func() error {
			if err := p.mkdir(l.Run, 0o755); err != nil {
				return err
			}
			return p.m.Mount("tmpfs", l.Run, "tmpfs", "nosuid,nodev,mode=755")
		}},
		{"tmp", func() error {
			if err := p.mkdir(l.Tmp, 0o755); err != nil {
				return err
			}
			if err := p.chmod(l.Tmp, 0o777|fs.ModeSticky); err != nil {
				return err
			}
			return p.m.Mount("tmpfs", l.Tmp, "tmpfs", "nosuid,nodev")
		}},
		{"var", func() error {
			if !p.hadVar {
				if err := p.mkdir(l.Var, 0o755); err != nil {
					return err
				}
			}
			return p.mkdir(l.VarTmp, 0o755)
		}},
		{"home", func() error {
			if p.hadHome {
				return nil
			}
			if err := p.mkdir(l.Home, 0o700); err != nil {
				return err
			}
			return p.chmod(l.Home, 0o700)
		}},
	}
}

// bind recursively binds src on a new directory dir, and makes it a
// slave: host mount events reach the client, the client's do not
// reach the host.
func (p *Preparer) bind(src, dir string) error {
	if err := p.mkdir(dir, 0o755); err != nil {
		return err
	}
	if err := p.m.Mount(src, dir, "", "rbind"); err != nil {
		return err
	}
	return p.m.Mount("", dir, "", "rslave")
}

// Unprepare tears down what Prepare built. It is a no-op on an
// unprepared root.
func (p *Preparer) Unprepare() error {
	switch p.state {
	case Unprepared:
		return nil
	case Prepared:
		return p.unprepare()
	}
	return fault.Internalf("rootenv.Unprepare", "%q is %v", p.l.Root, p.state)
}

// unprepare undoes as much of Prepare as was done. Every step checks
// before it acts, so it is safe after a partial Prepare.
func (p *Preparer) unprepare() error {
	p.state = Unpreparing
	l := p.l
	var errs error

	if !p.hadHome {
		if err := os.RemoveAll(l.Home); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	// RemoveAll does not follow a symlink it is given, but it does
	// follow one above it. The client may have swapped its own /var
	// for a link; var/tmp is then left alone.
	tmp := l.Var
	if p.hadVar {
		tmp = l.VarTmp
		if err := realDir(l.Var); err != nil {
			errs = multierror.Append(errs, err)
			tmp = ""
		}
	}
	if tmp != "" {
		if err := os.RemoveAll(tmp); err != nil {
			errs = multierror.Append(errs, err)
		}
	}

	for _, d := range []struct {
		dir  string
		mode mount.UnmountMode
	}{
		{l.Tmp, mount.Force},
		{l.Run, mount.Force},
		{l.Dev, mount.Lazy},
		{l.Sys, mount.Lazy},
		{l.Proc, mount.Force},
	} {
		if err := p.release(d.dir, d.mode); err != nil {
			errs = multierror.Append(errs, err)
		}
	}

	p.l, p.hadVar, p.hadHome = Layout{}, false, false
	p.state = Unprepared
	return fault.New(fault.KindOf(errs), "rootenv.Unprepare", errs)
}

// realDir returns an internal fault unless dir is a directory and
// not a symlink. A dir that is gone is fine.
func realDir(dir string) error {
	fi, err := os.Lstat(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fault.New(fault.Operational, "rootenv.Unprepare", err)
	}
	if !fi.IsDir() {
		return fault.Internalf("rootenv.Unprepare", "%q is now %v, not removing what is under it", dir, fi.Mode().Type())
	}
	return nil
}

// release unmounts dir if it is mounted, then removes it if it is
// there. os.Remove, not RemoveAll: if the unmount did not take, the
// host's files are still visible under dir.
func (p *Preparer) release(dir string, mode mount.UnmountMode) error {
	ok, err := exists(dir)
	if err != nil || !ok {
		return err
	}
	mounted, err := p.m.Mounted(dir)
	if err != nil {
		return err
	}
	if mounted {
		if err := p.m.Unmount(dir, mode); err != nil {
			return err
		}
	}
	return os.Remove(dir)
}

// check refuses images that look already prepared, or odd. It never
// repairs anything: an image in this state needs an administrator.
func check(l Layout) error {
	const op = "rootenv.Prepare"
	for _, d := range []struct {
		path, name string
	}{
		{l.Proc, "/proc"},
		{l.Sys, "/sys"},
		{l.Dev, "/dev"},
		{l.Run, "/run"},
		{l.Tmp, "/tmp"},
		{l.VarTmp, "/var/tmp"},
	} {
		ok, err := exists(d.path)
		if err != nil {
			return fault.New(fault.Operational, op, err)
		}
		if ok {
			return fault.Internalf(op, "redundant directory %s is synced up", d.name)
		}
	}
	if ok, err := exists(l.LostFound); err != nil || ok {
		return fault.Internalf(op, "directory /lost+found should not exist (%v)", err)
	}
	// Both are created into; a symlink would lead out of the image.
	for _, d := range []string{l.Var, l.Home} {
		fi, err := os.Lstat(d)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return fault.New(fault.Operational, op, err)
		}
		if !fi.IsDir() {
			return fault.Internalf(op, "%q is %v, not a directory", d, fi.Mode().Type())
		}
	}
	return nil
}

// exists reports whether path is there, without following symlinks.
func exists(path string) (bool, error) {
	_, err := os.Lstat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}
