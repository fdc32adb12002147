// Copyright 2026 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package loop attaches client images to loop devices and mounts them.
//
// The loop device is requested explicitly with losetup --find --show
// and then mounted, rather than letting mount(8) pick one and
// searching for it afterwards. Many clients connect at once, and the
// search would be a race.
package loop

import (
	"bufio"
	"bytes"
	"context"
	"regexp"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/u-root/diskless/fault"
	"github.com/u-root/diskless/mount"
	"github.com/u-root/diskless/runner"
	"golang.org/x/exp/slices"
)

var v = func(string, ...interface{}) {}

// SetVerbose sets the verbose printer.
func SetVerbose(f func(string, ...interface{})) {
	v = f
}

// Handle is a mounted image.
type Handle struct {
	// Image is the backing file.
	Image string
	// Dir is where the image is mounted.
	Dir string
	// Device is the loop device the image is bound to.
	Device string
}

// Controller mounts and unmounts images.
type Controller struct {
	run    runner.Runner
	m      mount.Mounter
	fstype string
}

// New returns a Controller. fstype is the file system on the images.
func New(r runner.Runner, m mount.Mounter, fstype string) *Controller {
	return &Controller{run: r, m: m, fstype: fstype}
}

// Mount binds image to a free loop device and mounts it at dir.
//
// An image that is already bound, or a dir that is already mounted,
// is an internal fault: a second loop device on the same file would
// be a second file system on the same blocks.
func (c *Controller) Mount(ctx context.Context, image, dir string) (*Handle, error) {
	const op = "loop.Mount"
	stale, err := c.Find(ctx, image)
	if err != nil {
		return nil, err
	}
	if len(stale) > 0 {
		return nil, fault.Internalf(op, "%q is still bound to %q", image, stale)
	}
	busy, err := c.m.Mounted(dir)
	if err != nil {
		return nil, fault.New(fault.Operational, op, err)
	}
	if busy {
		return nil, fault.Internalf(op, "%q is already mounted", dir)
	}

	out, err := c.run.Run(ctx, "losetup", "--find", "--show", image)
	if err != nil {
		return nil, err
	}
	dev := strings.TrimSpace(string(out))
	if !strings.HasPrefix(dev, "/dev/loop") {
		return nil, fault.Internalf(op, "losetup --find --show %q returned %q", image, dev)
	}
	v("%q is bound to %q", image, dev)
	h := &Handle{Image: image, Dir: dir, Device: dev}

	if err := c.m.Mount(dev, dir, c.fstype, ""); err != nil {
		if derr := c.detach(ctx, dev); derr != nil {
			v("detaching %q after failed mount: %v", dev, derr)
		}
		return nil, fault.New(fault.Operational, op, err)
	}

	// The binding must still be there: if it is not, someone else is
	// managing our loop devices.
	devs, err := c.Find(ctx, image)
	if err != nil || !slices.Contains(devs, dev) {
		if uerr := c.Unmount(ctx, h); uerr != nil {
			v("unwinding mount of %q: %v", image, uerr)
		}
		return nil, fault.Internalf(op, "can not find loop device %q for mounted disk %q (found %q, %v)", dev, image, devs, err)
	}
	return h, nil
}

// Unmount unmounts the image and releases its loop device.
// A nil handle is not an error.
func (c *Controller) Unmount(ctx context.Context, h *Handle) error {
	if h == nil {
		return nil
	}
	var errs error
	mounted, err := c.m.Mounted(h.Dir)
	if err != nil {
		errs = multierror.Append(errs, err)
	}
	if mounted || err != nil {
		if err := c.m.Unmount(h.Dir, mount.Force); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	if err := c.detach(ctx, h.Device); err != nil {
		errs = multierror.Append(errs, err)
	}
	return fault.New(fault.Operational, "loop.Unmount", errs)
}

func (c *Controller) detach(ctx context.Context, dev string) error {
	_, err := c.run.Run(ctx, "losetup", "-d", dev)
	return err
}

var boundRE = regexp.MustCompile(`^(/dev/loop[0-9]+): `)

// Find returns the loop devices image is bound to.
func (c *Controller) Find(ctx context.Context, image string) ([]string, error) {
	out, err := c.run.Run(ctx, "losetup", "-j", image)
	if err != nil {
		return nil, err
	}
	var devs []string
	s := bufio.NewScanner(bytes.NewReader(out))
	for s.Scan() {
		if m := boundRE.FindStringSubmatch(s.Text()); m != nil {
			devs = append(devs, m[1])
		}
	}
	return devs, nil
}

// RefreshGeometry makes the loop driver notice that the backing file
// has grown. It must be called before GrowFilesystem.
func (c *Controller) RefreshGeometry(ctx context.Context, h *Handle) error {
	if h == nil {
		return fault.Internalf("loop.RefreshGeometry", "image is not mounted")
	}
	_, err := c.run.Run(ctx, "losetup", "-c", h.Device)
	return err
}

// GrowFilesystem grows the mounted file system to fill its device.
func (c *Controller) GrowFilesystem(ctx context.Context, h *Handle) error {
	if h == nil {
		return fault.Internalf("loop.GrowFilesystem", "image is not mounted")
	}
	_, err := c.run.Run(ctx, "resize2fs", h.Device)
	return err
}
