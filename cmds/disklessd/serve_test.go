// Copyright 2018-2026 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"net"
	"os"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/gliderlabs/ssh"
	"github.com/u-root/diskless/config"
	"github.com/u-root/diskless/server"
	gossh "golang.org/x/crypto/ssh"
)

func TestListen(t *testing.T) {
	// The net package predates wrapped errors and such, and
	// as such is inconvenient. So we divide tests into error-full
	// and error-free.

	// All these tests expect err to be non-nil.
	var tests = []struct {
		network string
		port    string
	}{
		{"blarg", "17020"},
		{"vsock", "xyz"},
	}

	for _, tt := range tests {
		_, err := listen(tt.network, tt.port)
		if err == nil {
			t.Errorf("Listen(%v, %v): nil != some error", tt.network, tt.port)
			continue
		}
	}

	// These should all work.
	var oktests = []struct {
		network string
		port    string
	}{
		{"tcp", "17020"},
		{"tcp4", "17020"},
		{"tcp6", "17020"},
		{"vsock", "17020"},
		{"unix", "@disklessd"},
	}

	for _, tt := range oktests {
		ln, err := listen(tt.network, tt.port)
		if err != nil {
			var sysErr *os.SyscallError
			if tt.network == "vsock" {
				t.Logf("vsock test fails: %v; ignoring", err)
				continue
			}
			if errors.As(err, &sysErr) && sysErr.Err == syscall.EAFNOSUPPORT {
				t.Logf("%s is not supported; continuing", tt.network)
				continue
			}
			// If it is in use, not a lot to do.
			if errors.As(err, &sysErr) && sysErr.Err == syscall.EADDRINUSE {
				t.Logf("%s:%s is in use, so can not test; continuing", tt.network, tt.port)
				continue
			}
			t.Errorf("Listen(%v, %v): got %v, want nil", tt.network, tt.port, err)
			continue
		}
		if ln == nil {
			t.Errorf("Listen(%v, %v): ln is nil, not non-nil", tt.network, tt.port)
			continue
		}
		if err := ln.Close(); err != nil {
			t.Errorf("%v.Close: %v != nil", ln, err)
		}
	}
}

func testConfig(t *testing.T) *config.Config {
	cfg := &config.Config{
		CacheDir:       t.TempDir(),
		CommandTimeout: time.Minute,
		Image: config.ImageConfig{
			InitialSize: "64MiB",
			StepSize:    "16MiB",
			MinFree:     "8MiB",
			MaxSize:     "1GiB",
		},
	}
	config.ApplyDefaults(cfg)
	return cfg
}

func TestDeps(t *testing.T) {
	cfg := testConfig(t)
	d, err := deps(cfg)
	if err != nil {
		t.Fatalf("deps: %v != nil", err)
	}
	if d.Registry == nil || d.Images == nil || d.Loop == nil || d.Mounter == nil {
		t.Fatalf("deps: %+v has nil members", d)
	}
	if d.Policy.Step != 16<<20 || d.Policy.MinFree != 8<<20 || d.Policy.MaxSize != 1<<30 {
		t.Errorf("deps: policy %+v, want step 16MiB, min free 8MiB, max 1GiB", d.Policy)
	}
	if d.Images.FSType != "ext4" {
		t.Errorf("deps: fs type %q != %q", d.Images.FSType, "ext4")
	}

	cfg.Image.StepSize = "lots"
	if _, err := deps(cfg); err == nil {
		t.Errorf("deps with step size %q: nil != an error", cfg.Image.StepSize)
	}
}

func TestAdvertiseRefusesLocal(t *testing.T) {
	for _, n := range []string{"unix", "vsock"} {
		cfg := testConfig(t)
		cfg.Listen.Network = n
		if err := advertise(cfg, nil); err == nil {
			t.Errorf("advertise on %s: nil != an error", n)
		}
	}
	cfg := testConfig(t)
	cfg.Listen.Port = "@sock"
	if err := advertise(cfg, nil); err == nil {
		t.Errorf("advertise on port %q: nil != an error", cfg.Listen.Port)
	}
}

func TestServeUntilWaitsForSessions(t *testing.T) {
	v = t.Logf
	var (
		drain   server.Drain
		cleaned atomic.Bool
		started = make(chan struct{})
	)
	s := &ssh.Server{
		Handler: func(s ssh.Session) {
			if !drain.Enter() {
				s.Exit(3)
				return
			}
			defer drain.Leave()
			close(started)
			// A session putting its image back.
			time.Sleep(500 * time.Millisecond)
			cleaned.Store(true)
		},
		PublicKeyHandler: func(ssh.Context, ssh.PublicKey) bool { return true },
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	sigs := make(chan os.Signal, 1)
	served := make(chan error, 1)
	go func() {
		served <- serveUntil(s, ln, &drain, sigs, 100*time.Millisecond)
	}()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	signer, err := gossh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatal(err)
	}
	c, err := gossh.Dial("tcp", ln.Addr().String(), &gossh.ClientConfig{
		User:            "client",
		Auth:            []gossh.AuthMethod{gossh.PublicKeys(signer)},
		HostKeyCallback: gossh.InsecureIgnoreHostKey(),
	})
	if err != nil {
		t.Fatalf("Dial(%v): %v != nil", ln.Addr(), err)
	}
	defer c.Close()
	ss, err := c.NewSession()
	if err != nil {
		t.Fatal(err)
	}
	if err := ss.Start("shell"); err != nil {
		t.Fatal(err)
	}
	<-started

	sigs <- syscall.SIGTERM
	select {
	case err := <-served:
		if err != nil {
			t.Fatalf("serveUntil: %v != nil", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatalf("serveUntil did not return")
	}
	if !cleaned.Load() {
		t.Fatalf("serveUntil returned before the running session finished")
	}
	if drain.Enter() {
		t.Errorf("Enter() after serveUntil: true != false")
	}
}
