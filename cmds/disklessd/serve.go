// Copyright 2018-2026 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"fmt"
	"log"
	"math"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gliderlabs/ssh"
	"github.com/mdlayher/vsock"
	"github.com/u-root/diskless/config"
	"github.com/u-root/diskless/ds"
	"github.com/u-root/diskless/image"
	"github.com/u-root/diskless/loop"
	"github.com/u-root/diskless/mount"
	"github.com/u-root/diskless/plugin"
	"github.com/u-root/diskless/registry"
	"github.com/u-root/diskless/rootenv"
	"github.com/u-root/diskless/runner"
	"github.com/u-root/diskless/server"
	"github.com/u-root/diskless/session"
	"github.com/u-root/u-root/pkg/ulog"
)

const any = math.MaxUint32

func commonsetup() {
	if !*debug {
		return
	}
	v = log.Printf
	if *klog {
		ulog.KernelLog.Reinit()
		v = ulog.KernelLog.Printf
	}
	for _, f := range []func(func(string, ...interface{})){
		runner.SetVerbose,
		mount.SetVerbose,
		image.SetVerbose,
		loop.SetVerbose,
		rootenv.SetVerbose,
		registry.SetVerbose,
		session.SetVerbose,
		plugin.SetVerbose,
		server.SetVerbose,
		ds.Verbose,
	} {
		f(verbose)
	}
}

func listen(network, port string) (net.Listener, error) {
	// Sadly, vsock is not in the standard Go net package.
	// It should be but ...
	var (
		ln  net.Listener
		err error
	)

	switch network {
	case "vsock":
		var p uint64
		p, err = strconv.ParseUint(port, 0, 16)
		if err != nil {
			return nil, err
		}
		ln, err = vsock.ListenContextID(any, uint32(p), nil)

	case "unix", "unixgram", "unixpacket":
		// net.JoinHostPort really ought to work for UDS, but it's very naive.
		// It does not take the network type as a parameter.
		ln, err = net.Listen(network, port)

	default:
		ln, err = net.Listen(network, net.JoinHostPort("", port))
	}
	return ln, err
}

// deps builds what sessions need from cfg.
func deps(cfg *config.Config) (*session.Deps, error) {
	sizes, err := cfg.Image.Sizes()
	if err != nil {
		return nil, err
	}
	r := &runner.Exec{Timeout: cfg.CommandTimeout}
	m := mount.System{}
	images := image.New(r, cfg.Image.FSType)
	reg, err := registry.Open(cfg.CacheDir, images, sizes.Initial)
	if err != nil {
		return nil, err
	}
	return &session.Deps{
		Registry: reg,
		Images:   images,
		Loop:     loop.New(r, m, cfg.Image.FSType),
		Mounter:  m,
		Policy: session.Policy{
			Step:    sizes.Step,
			MinFree: sizes.MinFree,
			MaxSize: sizes.Max,
		},
	}, nil
}

// advertise registers the daemon with DNS-SD.
func advertise(cfg *config.Config, reg *registry.Registry) error {
	if cfg.Listen.Network == "unix" || cfg.Listen.Network == "vsock" {
		return fmt.Errorf("can not advertise a %s listener", cfg.Listen.Network)
	}
	p, err := strconv.Atoi(cfg.Listen.Port)
	if err != nil {
		return fmt.Errorf("Could not parse port: %s, %w", cfg.Listen.Port, err)
	}
	ds.SetClients(func() int { return len(reg.List()) })
	ds.SetCache(cfg.CacheDir)
	verbose("Advertising w/dnssd %q", cfg.DNSSD.Txt)
	d := cfg.DNSSD
	if err := ds.Register(d.Instance, d.Domain, d.Service, d.Interface, p, d.Txt); err != nil {
		return fmt.Errorf("Could not advertise with dns-sd: %w", err)
	}
	return nil
}

func serve(cfg *config.Config) error {
	d, err := deps(cfg)
	if err != nil {
		return err
	}
	plugins, err := plugin.Enable(cfg.Plugins...)
	if err != nil {
		return err
	}
	log.Printf("DISKLESSD: %d clients, plugins %q", len(d.Registry.List()), plugins.Names())

	var opts []server.Option
	if cfg.DNSSD.Enabled {
		if err := advertise(cfg, d.Registry); err != nil {
			log.Printf("DISKLESSD: %v", err)
		} else {
			defer ds.Unregister()
			opts = append(opts, server.WithTenants(ds.Tenant))
		}
	}

	drain := &server.Drain{}
	opts = append(opts, server.WithDrain(drain))
	s, err := server.New(d, plugins, cfg.HostKey, opts...)
	if err != nil {
		return err
	}
	ln, err := listen(cfg.Listen.Network, cfg.Listen.Port)
	if err != nil {
		return err
	}
	log.Printf("Listening on %v", ln.Addr())

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGHUP, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigs)
	return serveUntil(s, ln, drain, sigs, shutdownGrace)
}

// shutdownGrace is how long clients get to finish on their own
// before their connections are closed.
const shutdownGrace = 30 * time.Second

// serveUntil serves ln until a signal arrives on sigs. It then stops
// taking sessions and returns once every running session has put
// its image back. Sessions still running after grace have their
// connections closed, which cancels them.
func serveUntil(s *ssh.Server, ln net.Listener, drain *server.Drain, sigs <-chan os.Signal, grace time.Duration) error {
	done := make(chan struct{})
	go func() {
		defer close(done)
		sig := <-sigs
		log.Printf("Received %v, Shutdown disklessd listen ...", sig)
		ctx, cancel := context.WithTimeout(context.Background(), grace)
		defer cancel()
		if err := s.Shutdown(ctx); err != nil {
			log.Printf("Shutdown: %v; closing %d sessions", err, drain.Running())
			if err := s.Close(); err != nil {
				v("Close: %v", err)
			}
		}
		drain.Wait()
	}()

	if err := s.Serve(ln); err != ssh.ErrServerClosed {
		return fmt.Errorf("s.Serve(): %v != %v", err, ssh.ErrServerClosed)
	}
	<-done
	verbose("Daemon returns")
	return nil
}
