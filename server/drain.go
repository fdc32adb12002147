// Copyright 2026 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package server

import "sync"

// Drain tracks running sessions so a daemon can wait for them to
// put their images back before it exits. Once Wait has been called,
// no new session may start.
type Drain struct {
	mu      sync.Mutex
	n       int
	closing bool
	idle    chan struct{}
}

// Enter starts a session. It returns false once the Drain is
// closing; the session must then not run.
func (d *Drain) Enter() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closing {
		return false
	}
	d.n++
	return true
}

// Leave ends a session started with Enter.
func (d *Drain) Leave() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.n--
	if d.n == 0 && d.idle != nil {
		close(d.idle)
		d.idle = nil
	}
}

// Running returns how many sessions are running.
func (d *Drain) Running() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.n
}

// Wait refuses new sessions and returns once every running session
// has left.
func (d *Drain) Wait() {
	d.mu.Lock()
	d.closing = true
	if d.n == 0 {
		d.mu.Unlock()
		return
	}
	if d.idle == nil {
		d.idle = make(chan struct{})
	}
	idle := d.idle
	d.mu.Unlock()
	<-idle
}
