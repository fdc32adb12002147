// Copyright 2018-2026 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package client runs disklessd plugins from a client machine.
//
// A Cmd is much like an exec.Cmd: set it up, Dial, then Run.
// The key the client dials with is its identity; disklessd gives
// each key its own root file system.
package client

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/u-root/u-root/pkg/termios"
	"golang.org/x/crypto/ssh"
)

// V allows debug printing.
var V = func(string, ...interface{}) {}

// Cmd is a disklessd command.
type Cmd struct {
	config  ssh.ClientConfig
	client  *ssh.Client
	session *ssh.Session

	// Host is the name used on the command line.
	Host string
	// HostName as found in .ssh/config; set to Host if not found.
	HostName       string
	Args           []string
	HostKeyFile    string
	PrivateKeyFile string
	Port           string
	Network        string

	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	// Interactive requests a pty. Stdin should then be a terminal.
	Interactive bool
	Row         int
	Col         int

	closers []func() error
}

// Command returns a Cmd that runs plugin args[0] on host.
func Command(host string, args ...string) *Cmd {
	return &Cmd{
		Host:     host,
		HostName: GetHostName(host),
		Args:     args,
		Port:     DefaultPort,
		Network:  "tcp",
		Stdin:    os.Stdin,
		Stdout:   os.Stdout,
		Stderr:   os.Stderr,
		Row:      40,
		Col:      80,
		config: ssh.ClientConfig{
			User:            os.Getenv("USER"),
			HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		},
	}
}

// WithPrivateKeyFile sets the key file of a Cmd.
func (c *Cmd) WithPrivateKeyFile(key string) *Cmd {
	c.PrivateKeyFile = key
	return c
}

// WithHostKeyFile sets the file holding the server's public key.
func (c *Cmd) WithHostKeyFile(key string) *Cmd {
	c.HostKeyFile = key
	return c
}

// WithNetwork sets the network of a Cmd.
func (c *Cmd) WithNetwork(network string) *Cmd {
	if network != "" {
		c.Network = network
	}
	return c
}

// WithInteractive asks for a pty, sized to the terminal on fd 0.
func (c *Cmd) WithInteractive(on bool) *Cmd {
	c.Interactive = on
	if !on {
		return c
	}
	if w, err := termios.GetWinSize(0); err != nil {
		V("Can not get winsize: %v; assuming %dx%d", err, c.Col, c.Row)
	} else {
		c.Col, c.Row = int(w.Col), int(w.Row)
	}
	return c
}

// SetPort sets the port in the Cmd.
// It calls GetPort with the passed-in port before assigning it.
func (c *Cmd) SetPort(port string) error {
	p, err := GetPort(c.Host, port)
	if err != nil {
		return err
	}
	c.Port = p
	return nil
}

// Dial connects to disklessd.
func (c *Cmd) Dial() error {
	if err := c.UserKeyConfig(); err != nil {
		return err
	}
	if c.HostKeyFile != "" {
		if err := c.HostKeyConfig(c.HostKeyFile); err != nil {
			return err
		}
	}
	addr := net.JoinHostPort(c.HostName, c.Port)
	cl, err := ssh.Dial(c.Network, addr, &c.config)
	V("client:ssh.Dial(%s, %s): (%v, %v)", c.Network, addr, cl, err)
	if err != nil {
		return fmt.Errorf("Failed to dial: %w", err)
	}
	c.client = cl
	c.closers = append(c.closers, cl.Close)
	return nil
}

// Start starts the plugin.
func (c *Cmd) Start() error {
	var err error
	if c.client == nil {
		return fmt.Errorf("Cmd has no client")
	}
	if len(c.Args) == 0 {
		return fmt.Errorf("no plugin named")
	}
	if c.session, err = c.client.NewSession(); err != nil {
		return err
	}
	c.closers = append([]func() error{func() error {
		if err := c.session.Close(); err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("Closing session: %w", err)
		}
		return nil
	}}, c.closers...)

	if c.Interactive {
		modes := ssh.TerminalModes{
			ssh.ECHO:          1,
			ssh.TTY_OP_ISPEED: 14400,
			ssh.TTY_OP_OSPEED: 14400,
		}
		V("c.session.RequestPty(%q, %v, %v)", os.Getenv("TERM"), c.Row, c.Col)
		if err := c.session.RequestPty(term(), c.Row, c.Col, modes); err != nil {
			return fmt.Errorf("request for pseudo terminal failed: %w", err)
		}
		if err := c.setupInteractive(); err != nil {
			return err
		}
		in, err := c.session.StdinPipe()
		if err != nil {
			return err
		}
		go c.TTYIn(in, c.Stdin)
	} else {
		c.session.Stdin = c.Stdin
	}
	c.session.Stdout = c.Stdout
	c.session.Stderr = c.Stderr

	cmd := strings.Join(c.Args, " ")
	V("call session.Start(%s)", cmd)
	if err := c.session.Start(cmd); err != nil {
		return fmt.Errorf("Failed to run %q: %w", cmd, err)
	}
	return nil
}

func term() string {
	if t := os.Getenv("TERM"); t != "" {
		return t
	}
	return "ansi"
}

// Wait waits for a Cmd to finish.
func (c *Cmd) Wait() error {
	return c.session.Wait()
}

// Run runs a command with Start, and waits for it to finish with Wait.
func (c *Cmd) Run() error {
	if err := c.Start(); err != nil {
		return err
	}
	return c.Wait()
}

// setupInteractive puts the local terminal in raw mode until Close.
func (c *Cmd) setupInteractive() error {
	t, err := termios.New()
	if err != nil {
		return err
	}
	r, err := t.Raw()
	if err != nil {
		return err
	}
	c.closers = append(c.closers, func() error {
		return t.Set(r)
	})
	return nil
}

// TTYIn copies r to w, honoring the ~. escape.
func (c *Cmd) TTYIn(w io.WriteCloser, r io.Reader) {
	defer w.Close()
	newLine := true
	var tilde bool
	var t = []byte{'~'}
	var b [1]byte
	for {
		if _, err := r.Read(b[:]); err != nil {
			return
		}
		switch b[0] {
		default:
			newLine = false
			if tilde {
				if _, err := w.Write(t[:]); err != nil {
					return
				}
				tilde = false
			}
			if _, err := w.Write(b[:]); err != nil {
				return
			}
		case '\n', '\r':
			newLine = true
			if _, err := w.Write(b[:]); err != nil {
				return
			}
		case '~':
			if newLine {
				newLine = false
				tilde = true
				break
			}
			if _, err := w.Write(t[:]); err != nil {
				return
			}
		case '.':
			if tilde {
				if c.session != nil {
					c.session.Close()
				}
				return
			}
			if _, err := w.Write(b[:]); err != nil {
				return
			}
		}
	}
}

// Close ends a session, doing whatever is needed.
func (c *Cmd) Close() error {
	var err error
	for _, f := range c.closers {
		if e := f(); e != nil {
			err = multierror.Append(err, e)
		}
	}
	c.closers = nil
	return err
}

// ExitCode returns the exit status carried by err.
// Errors that did not come from the remote command are 1.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var e *ssh.ExitError
	if errors.As(err, &e) {
		return e.ExitStatus()
	}
	return 1
}
