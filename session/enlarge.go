// Copyright 2018-2026 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package session

import (
	"context"

	"github.com/dustin/go-humanize"
	"github.com/shirou/gopsutil/disk"
	"github.com/u-root/diskless/fault"
)

// DiskFree returns the bytes available on the file system holding dir.
func DiskFree(dir string) (uint64, error) {
	u, err := disk.Usage(dir)
	if err != nil {
		return 0, err
	}
	return u.Free, nil
}

// EnlargeIfNeeded grows the image by one step if it is low on free
// space, and reports whether it did. It is a no-op otherwise, so it
// can be called whenever. The image must be mounted.
func (s *Session) EnlargeIfNeeded(ctx context.Context) (bool, error) {
	const op = "session.EnlargeIfNeeded"
	if s.h == nil {
		return false, fault.Internalf(op, "image of %q is not mounted", s.id)
	}
	p := s.d.Policy
	free := s.d.FreeSpace
	if free == nil {
		free = DiskFree
	}
	n, err := free(s.h.Dir)
	if err != nil {
		return false, fault.New(fault.Operational, op, err)
	}
	if p.MinFree < 0 || n >= uint64(p.MinFree) {
		return false, nil
	}

	img := s.entry.ImageFile()
	size, err := s.d.Images.Size(img)
	if err != nil {
		return false, err
	}
	if p.MaxSize > 0 && size+p.Step > p.MaxSize {
		return false, fault.Businessf(op, "quota exceeded: %s is full and may not grow past %s",
			humanize.IBytes(uint64(size)), humanize.IBytes(uint64(p.MaxSize)))
	}
	v("session: %q has %s free, growing by %s", s.id, humanize.IBytes(n), humanize.IBytes(uint64(p.Step)))
	grown, err := s.d.Images.Grow(img, p.Step)
	if err != nil {
		return false, err
	}
	if err := s.d.Loop.RefreshGeometry(ctx, s.h); err != nil {
		return false, err
	}
	if err := s.d.Loop.GrowFilesystem(ctx, s.h); err != nil {
		return false, err
	}
	s.md.Capacity = grown
	return true, nil
}
