// Copyright 2018-2026 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package session

import (
	"context"
	"regexp"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/u-root/diskless/fault"
	"github.com/u-root/diskless/image"
	"github.com/u-root/diskless/loop"
	"github.com/u-root/diskless/mount"
	"github.com/u-root/diskless/registry"
	"github.com/u-root/diskless/rootenv"
)

var v = func(string, ...interface{}) {}

// SetVerbose sets the verbose printer.
func SetVerbose(f func(string, ...interface{})) {
	v = f
}

// Policy says when and how much images grow.
type Policy struct {
	// Step is how much an image grows by.
	Step int64
	// MinFree is the free space below which an image grows.
	MinFree int64
	// MaxSize, if not zero, is the largest an image may grow to.
	MaxSize int64
}

// Deps are what sessions are built from. A Deps must not be copied
// once a session has been opened with it.
type Deps struct {
	Registry *registry.Registry
	Images   *image.Store
	Loop     *loop.Controller
	Mounter  mount.Mounter
	Policy   Policy
	// FreeSpace returns the bytes available on the file system
	// mounted at dir. Nil means DiskFree.
	FreeSpace func(dir string) (uint64, error)

	active sync.Map
}

// Session is one client with its image mounted. It is not safe for
// concurrent use.
type Session struct {
	d     *Deps
	id    registry.ID
	entry registry.Entry
	md    registry.Metadata
	h     *loop.Handle
	prep  *rootenv.Preparer
	done  bool
}

// Open loads the metadata of id and mounts its image.
func Open(ctx context.Context, d *Deps, id registry.ID) (_ *Session, err error) {
	const op = "session.Open"
	if _, busy := d.active.LoadOrStore(id, true); busy {
		return nil, fault.Businessf(op, "session already active for %q", id)
	}
	defer func() {
		if err != nil {
			d.active.Delete(id)
		}
	}()
	md, err := d.Registry.LoadMetadata(id)
	if err != nil {
		return nil, err
	}
	s := &Session{
		d:     d,
		id:    id,
		entry: d.Registry.Entry(id),
		md:    *md,
		prep:  rootenv.New(d.Mounter),
	}
	if err := s.Mount(ctx); err != nil {
		return nil, err
	}
	v("session: opened %q, %d bytes", id, s.md.Capacity)
	return s, nil
}

// ID returns the client's identity.
func (s *Session) ID() registry.ID {
	return s.id
}

// Metadata returns a copy of the client's metadata.
func (s *Session) Metadata() registry.Metadata {
	md := s.md
	md.PublicKey = append([]byte(nil), s.md.PublicKey...)
	return md
}

// RootDir returns where the client's image is mounted.
func (s *Session) RootDir() string {
	return s.entry.MountDir()
}

// Mounted reports whether the image is mounted.
func (s *Session) Mounted() bool {
	return s.h != nil
}

// Prepared reports whether the root is prepared.
func (s *Session) Prepared() bool {
	return s.prep.State() == rootenv.Prepared
}

// Mount mounts the client's image on RootDir. Mounting twice is an
// internal fault.
func (s *Session) Mount(ctx context.Context) error {
	if s.h != nil {
		return fault.Internalf("session.Mount", "%q is already mounted on %q", s.id, s.h.Device)
	}
	h, err := s.d.Loop.Mount(ctx, s.entry.ImageFile(), s.entry.MountDir())
	if err != nil {
		return err
	}
	s.h = h
	return nil
}

// Unmount unmounts the client's image. The root must not be prepared.
func (s *Session) Unmount(ctx context.Context) error {
	if s.prep.State() != rootenv.Unprepared {
		return fault.Internalf("session.Unmount", "root of %q is %v", s.id, s.prep.State())
	}
	if err := s.d.Loop.Unmount(ctx, s.h); err != nil {
		return err
	}
	s.h = nil
	return nil
}

// PrepareRoot makes RootDir usable as a root directory.
func (s *Session) PrepareRoot() error {
	return s.prep.Prepare(s.h)
}

// UnprepareRoot undoes PrepareRoot. It is a no-op if the root is not
// prepared.
func (s *Session) UnprepareRoot() error {
	return s.prep.Unprepare()
}

// RFC 1123 host names.
var hostnameRE = regexp.MustCompile(`^[A-Za-z0-9]([A-Za-z0-9-]{0,61}[A-Za-z0-9])?(\.[A-Za-z0-9]([A-Za-z0-9-]{0,61}[A-Za-z0-9])?)*$`)

// SetHostname sets and stores the client's host name. An empty name
// unsets it.
func (s *Session) SetHostname(name string) error {
	if name != "" && (len(name) > 253 || !hostnameRE.MatchString(name)) {
		return fault.Protocolf("session.SetHostname", "%q is not a valid host name", name)
	}
	md := s.md
	md.Hostname = name
	if err := s.d.Registry.SaveMetadata(s.id, &md); err != nil {
		return err
	}
	s.md.Hostname = name
	return nil
}

// Close unprepares the root and unmounts the image. All steps are
// tried even if some fail. Closing a closed session is a no-op.
//
// If the image could not be unmounted, the session stays open and
// its client can not open another one; Close may be called again.
func (s *Session) Close(ctx context.Context) error {
	if s.done {
		return nil
	}
	var errs error
	if err := s.UnprepareRoot(); err != nil {
		errs = multierror.Append(errs, err)
	}
	if err := s.Unmount(ctx); err != nil {
		errs = multierror.Append(errs, err)
	}
	if s.h == nil {
		s.done = true
		s.d.active.Delete(s.id)
	}
	v("session: closed %q (done %v): %v", s.id, s.done, errs)
	if errs != nil {
		return fault.New(fault.KindOf(errs), "session.Close", errs)
	}
	return nil
}
