// Copyright 2018-2026 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package server

import (
	"context"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"log"

	"github.com/gliderlabs/ssh"
	"github.com/u-root/diskless/fault"
	"github.com/u-root/diskless/plugin"
	"github.com/u-root/diskless/session"
	gossh "golang.org/x/crypto/ssh"
)

// DefaultPort is where disklessd listens unless told otherwise.
const DefaultPort = "17020"

// Exit statuses, see the package documentation.
const (
	ExitOK       = 0
	ExitInternal = 1
	ExitProtocol = 2
	ExitBusiness = 3
)

var v = func(string, ...interface{}) {}

// SetVerbose sets the verbose printer.
func SetVerbose(f func(string, ...interface{})) {
	v = f
}

// KeyRecord returns the record a client is known by: its public key,
// PEM encoded. Keys with no PKIX encoding are recorded in
// authorized_keys format.
func KeyRecord(key gossh.PublicKey) ([]byte, error) {
	if key == nil {
		return nil, fault.Protocolf("server.KeyRecord", "no public key")
	}
	if ck, ok := key.(gossh.CryptoPublicKey); ok {
		der, err := x509.MarshalPKIXPublicKey(ck.CryptoPublicKey())
		if err == nil {
			return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), nil
		}
		v("server: %s key has no PKIX form (%v)", key.Type(), err)
	}
	return gossh.MarshalAuthorizedKey(key), nil
}

// Status returns the exit status for err, and what to tell the
// client about it.
func Status(err error) (int, string) {
	if err == nil {
		return ExitOK, ""
	}
	var ee *plugin.ExitError
	if errors.As(err, &ee) {
		return ee.Code, ""
	}
	msg := err.Error()
	var fe *fault.Error
	if errors.As(err, &fe) {
		msg = fe.Err.Error()
	}
	switch fault.KindOf(err) {
	case fault.Protocol:
		return ExitProtocol, "protocol error: " + msg
	case fault.Business:
		return ExitBusiness, msg
	}
	return ExitInternal, "internal error"
}

// Option configures a server.
type Option func(*handler)

// WithTenants has f told each time a session starts (+1) or ends (-1).
func WithTenants(f func(delta int)) Option {
	return func(h *handler) {
		h.tenant = f
	}
}

// WithDrain has sessions tracked by d.
func WithDrain(d *Drain) Option {
	return func(h *handler) {
		h.drain = d
	}
}

type handler struct {
	d       *session.Deps
	plugins *plugin.Set
	tenant  func(int)
	drain   *Drain
}

func (h *handler) serve(s ssh.Session) {
	var err error
	if h.drain.Enter() {
		h.tenant(1)
		err = h.run(s)
		h.tenant(-1)
		h.drain.Leave()
	} else {
		err = fault.Businessf("server", "disklessd is shutting down")
	}
	code, msg := Status(err)
	if err != nil {
		v("server: %v: %q: %v", s.RemoteAddr(), s.Command(), err)
		if code == ExitInternal {
			log.Printf("DISKLESSD: %v: %q: %v", s.RemoteAddr(), s.Command(), err)
		}
	}
	if msg != "" {
		fmt.Fprintln(s.Stderr(), msg)
	}
	s.Exit(code) //nolint
}

func (h *handler) run(s ssh.Session) (err error) {
	ctx := s.Context()
	key, err := KeyRecord(s.PublicKey())
	if err != nil {
		return err
	}
	a := s.Command()
	if len(a) == 0 {
		return fault.Protocolf("server", "no plugin named; try one of %q", h.plugins.Names())
	}
	// Bad requests are refused before anything is created or mounted.
	b, err := h.plugins.New(a[0], a[1:])
	if err != nil {
		return err
	}

	id, created, err := h.d.Registry.Resolve(ctx, key)
	if err != nil {
		return err
	}
	v("server: %v is %q (new: %v), runs %q", s.RemoteAddr(), id, created, a)

	ss, err := session.Open(ctx, h.d, id)
	if err != nil {
		return err
	}
	defer func() {
		// The client may be gone; put things back regardless.
		if cerr := ss.Close(context.Background()); cerr != nil {
			log.Printf("DISKLESSD: closing session of %q: %v", id, cerr)
			if err == nil {
				err = cerr
			}
		}
	}()

	if _, err := ss.EnlargeIfNeeded(ctx); err != nil {
		return err
	}
	if plugin.NeedsRoot(b) {
		if err := ss.PrepareRoot(); err != nil {
			return err
		}
	}

	env := &plugin.Env{
		ID:          id,
		Metadata:    ss.Metadata(),
		RootDir:     ss.RootDir(),
		RemoteAddr:  s.RemoteAddr(),
		Args:        a[1:],
		Stdin:       s,
		Stdout:      s,
		Stderr:      s.Stderr(),
		SetHostname: ss.SetHostname,
	}
	if req, winCh, isPty := s.Pty(); isPty {
		resize := make(chan plugin.Window)
		go func() {
			defer close(resize)
			for w := range winCh {
				select {
				case resize <- plugin.Window{Width: w.Width, Height: w.Height}:
				case <-ctx.Done():
					return
				}
			}
		}()
		env.Pty = &plugin.Pty{
			Term:   req.Term,
			Window: plugin.Window{Width: req.Window.Width, Height: req.Window.Height},
			Resize: resize,
		}
	}
	return b.Run(ctx, env)
}

// New sets up a disklessd. disklessd is really just an SSH server with
// a special handler, serving the plugins in p with the sessions d
// makes.
func New(d *session.Deps, p *plugin.Set, hostKeyFile string, opts ...Option) (*ssh.Server, error) {
	if d == nil || p == nil {
		return nil, fault.Internalf("server.New", "no session deps or plugins")
	}
	v("configure SSH server")
	h := &handler{d: d, plugins: p, tenant: func(int) {}, drain: &Drain{}}
	for _, o := range opts {
		o(h)
	}
	server := &ssh.Server{
		// Pick a reasonable default, which can be used for a call to listen and which
		// will be overridden later from a listen.Addr
		Addr: ":" + DefaultPort,
		// Any key will do: the key is the identity.
		PublicKeyHandler: func(ctx ssh.Context, key ssh.PublicKey) bool {
			return true
		},
		Handler: h.serve,
	}
	if hostKeyFile != "" {
		if err := server.SetOption(ssh.HostKeyFile(hostKeyFile)); err != nil {
			return nil, fault.New(fault.Operational, "server.New", err)
		}
	}
	return server, nil
}
