// Copyright 2026 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package image creates and grows the sparse file system images that
// back each client's root.
//
// Images are formatted without a journal. That is how clients have
// always been provisioned; whether the journal-less layout is needed
// for correctness or was only chosen to keep sparse images small is
// not known, so it is kept as is.
package image

import (
	"context"
	"fmt"
	"os"

	"github.com/u-root/diskless/fault"
	"github.com/u-root/diskless/runner"
)

var v = func(string, ...interface{}) {}

// SetVerbose sets the verbose printer.
func SetVerbose(f func(string, ...interface{})) {
	v = f
}

// DefaultFSType is the file system images are formatted with.
const DefaultFSType = "ext4"

// Store creates, grows and measures images.
type Store struct {
	// FSType selects mkfs.<FSType>. Empty means DefaultFSType.
	FSType string
	run    runner.Runner
}

// New returns a Store that formats images with r.
func New(r runner.Runner, fstype string) *Store {
	if fstype == "" {
		fstype = DefaultFSType
	}
	return &Store{FSType: fstype, run: r}
}

// Create allocates a sparse image of size bytes at path and makes a
// file system on it. path must not exist.
func (s *Store) Create(ctx context.Context, path string, size int64) error {
	if size <= 0 {
		return fault.Internalf("image.Create", "size %d: %w", size, os.ErrInvalid)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return fault.New(fault.Operational, "image.Create", err)
	}
	// Truncate extends the file without writing any blocks.
	if err := f.Truncate(size); err != nil {
		f.Close()
		return fault.New(fault.Operational, "image.Create", fmt.Errorf("truncate %q to %d: %w", path, size, err))
	}
	if err := f.Close(); err != nil {
		return fault.New(fault.Operational, "image.Create", err)
	}
	v("created sparse image %q, %d bytes", path, size)

	// -F: it is a regular file, not a block device; do not ask.
	if _, err := s.run.Run(ctx, "mkfs."+s.FSType, "-F", "-q", "-O", "^has_journal", path); err != nil {
		return err
	}
	// mkfs leaves a lost+found, and a root is never prepared on an
	// image that has one.
	if _, err := s.run.Run(ctx, "debugfs", "-w", "-R", "rmdir lost+found", path); err != nil {
		return err
	}
	return nil
}

// Grow extends the image at path by step bytes, starting at its
// current end. Existing content is not touched and nothing is
// written; the new extent is a hole.
func (s *Store) Grow(path string, step int64) (int64, error) {
	if step <= 0 {
		return 0, fault.Internalf("image.Grow", "step %d: %w", step, os.ErrInvalid)
	}
	size, err := s.Size(path)
	if err != nil {
		return 0, err
	}
	if err := os.Truncate(path, size+step); err != nil {
		return 0, fault.New(fault.Operational, "image.Grow", err)
	}
	v("grew %q from %d to %d bytes", path, size, size+step)
	return size + step, nil
}

// Size returns the length of the image at path. It is the capacity
// the client has been given.
func (s *Store) Size(path string) (int64, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return 0, fault.New(fault.Operational, "image.Size", err)
	}
	return fi.Size(), nil
}
