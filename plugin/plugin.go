// Copyright 2026 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package plugin holds what a client can ask disklessd to do once
// its image is mounted.
//
// Plugins register a Factory under a name, usually in an init
// function. The daemon enables some of them by name; a client names
// the one it wants as the first word of its command.
//
// A plugin that needs to run things inside the client's root
// implements Rooted. The session prepares the root before running it,
// and unprepares it afterwards.
package plugin

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/u-root/diskless/fault"
	"github.com/u-root/diskless/registry"
	"golang.org/x/exp/slices"
)

var v = func(string, ...interface{}) {}

// SetVerbose sets the verbose printer.
func SetVerbose(f func(string, ...interface{})) {
	v = f
}

// Window is a terminal size.
type Window struct {
	Width  int
	Height int
}

// Pty is a terminal the client asked for.
type Pty struct {
	Term   string
	Window Window
	// Resize delivers window changes. It is closed when the client
	// goes away.
	Resize <-chan Window
}

// Env is everything a plugin may know and do about a client.
type Env struct {
	ID       registry.ID
	Metadata registry.Metadata
	// RootDir is where the client's image is mounted. It is only
	// a prepared root for Rooted plugins.
	RootDir    string
	RemoteAddr net.Addr
	// Args are the client's arguments, without the plugin name.
	Args   []string
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
	// Pty is nil if the client did not ask for a terminal.
	Pty *Pty
	// SetHostname sets and stores the client's host name.
	SetHostname func(string) error
}

// IP returns the client's address without the port.
func (e *Env) IP() string {
	if e.RemoteAddr == nil {
		return ""
	}
	host, _, err := net.SplitHostPort(e.RemoteAddr.String())
	if err != nil {
		return e.RemoteAddr.String()
	}
	return host
}

// PublicKey returns the client's public key record.
func (e *Env) PublicKey() []byte {
	return e.Metadata.PublicKey
}

// Behavior is one run of a plugin.
type Behavior interface {
	Run(ctx context.Context, env *Env) error
}

// Rooted is a Behavior that needs a prepared root.
type Rooted interface {
	Behavior
	NeedsRoot() bool
}

// NeedsRoot reports whether b must run in a prepared root.
func NeedsRoot(b Behavior) bool {
	r, ok := b.(Rooted)
	return ok && r.NeedsRoot()
}

// Factory makes a Behavior for args. It should reject bad args with
// a protocol fault, before anything is mounted or prepared.
type Factory func(args []string) (Behavior, error)

// ExitError is returned by a Behavior whose client visible result is
// a non zero exit status.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit status %d", e.Code)
}

var (
	mu        sync.Mutex
	factories = map[string]Factory{}
)

// Register makes a plugin available under name. It panics if name is
// taken.
func Register(name string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	if _, ok := factories[name]; ok {
		panic("plugin: Register called twice for " + name)
	}
	factories[name] = f
}

// Names returns the names of all registered plugins, sorted.
func Names() []string {
	mu.Lock()
	defer mu.Unlock()
	n := make([]string, 0, len(factories))
	for k := range factories {
		n = append(n, k)
	}
	slices.Sort(n)
	return n
}

func lookup(name string) (Factory, bool) {
	mu.Lock()
	defer mu.Unlock()
	f, ok := factories[name]
	return f, ok
}

// Set is the plugins a daemon has enabled.
type Set struct {
	names []string
	f     map[string]Factory
}

// Enable returns a Set of the named plugins. All of them must be
// registered. No names means all registered plugins.
func Enable(names ...string) (*Set, error) {
	if len(names) == 0 {
		names = Names()
	}
	s := &Set{f: map[string]Factory{}}
	for _, n := range names {
		f, ok := lookup(n)
		if !ok {
			return nil, fault.Internalf("plugin.Enable", "no plugin named %q (have %q)", n, Names())
		}
		if _, dup := s.f[n]; dup {
			continue
		}
		s.f[n] = f
		s.names = append(s.names, n)
	}
	slices.Sort(s.names)
	v("plugins enabled: %q", s.names)
	return s, nil
}

// Names returns the enabled plugins, sorted.
func (s *Set) Names() []string {
	return append([]string(nil), s.names...)
}

// New makes a Behavior of the plugin name.
func (s *Set) New(name string, args []string) (Behavior, error) {
	f, ok := s.f[name]
	if !ok {
		return nil, fault.Protocolf("plugin.New", "no plugin %q; try one of %q", name, s.names)
	}
	return f(args)
}
