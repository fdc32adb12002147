// Copyright 2018-2026 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package session is for managing client sessions, i.e. the time a
// connected client has its image mounted.
//
// Open(ctx, deps, id) mounts the image of client id and returns a
// Session. A client has at most one live Session; a second Open for
// the same id fails until the first is closed.
//
// PrepareRoot turns the mounted image into a root a command can
// chroot into, and UnprepareRoot undoes it. EnlargeIfNeeded grows the
// image, and its file system, when free space runs low.
//
// Close unprepares and unmounts whatever is still prepared and
// mounted. It must be called, even if other methods failed.
package session
