// Copyright 2018-2026 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// diskless runs a disklessd plugin for this machine.
//
// Synopsis:
//
//	diskless [OPTIONS] host plugin [args...]
//
// host may be a dnssd: URI, in which case a disklessd is found with
// DNS-SD, e.g.
//
//	diskless dnssd: info
//	diskless -t dnssd://local/_diskless._tcp?arch=arm64 shell
//
// The exit status is the plugin's: 2 for a bad request, 3 when the
// server refused, 1 for anything else that went wrong.
package main

import (
	"bytes"
	"flag"
	"log"
	"os"
	"strings"

	"github.com/u-root/diskless/client"
	"github.com/u-root/diskless/ds"
	"golang.org/x/term"
)

var (
	debug       = flag.Bool("d", false, "enable debug prints")
	hostKeyFile = flag.String("hk", "", "file holding the server public key, in authorized_keys format")
	keyFile     = flag.String("key", "", "key file")
	network     = flag.String("net", "", "network type to use")
	port        = flag.String("sp", "", "disklessd port")
	tty         = flag.Bool("t", false, "request a pty, for the shell plugin")

	v = func(string, ...interface{}) {}
)

func flags() {
	flag.Parse()
	if *debug {
		v = log.Printf
		client.V = log.Printf
		ds.Verbose(log.Printf)
	}
}

func usage() {
	var b bytes.Buffer
	flag.CommandLine.SetOutput(&b)
	flag.PrintDefaults()
	log.Fatalf("Usage: diskless [options] host plugin [args...]:\n%v", b.String())
}

// resolve turns a dnssd: URI into a host and port.
// Other hosts are returned as is, with port.
func resolve(host, port string) (string, string, error) {
	if !strings.HasPrefix(host, "dnssd:") {
		return host, port, nil
	}
	q, err := ds.Parse(host)
	if err != nil {
		return "", "", err
	}
	h, p, err := ds.Lookup(q)
	if err != nil {
		return "", "", err
	}
	v("dnssd: %q is %s:%s", host, h, p)
	if port != "" {
		p = port
	}
	return h, p, nil
}

func run(host string, args []string) error {
	h, p, err := resolve(host, *port)
	if err != nil {
		return err
	}
	c := client.Command(h, args...).
		WithPrivateKeyFile(*keyFile).
		WithHostKeyFile(*hostKeyFile).
		WithNetwork(*network).
		WithInteractive(*tty && term.IsTerminal(int(os.Stdin.Fd())))
	defer c.Close()
	if err := c.SetPort(p); err != nil {
		return err
	}
	if err := c.Dial(); err != nil {
		return err
	}
	return c.Run()
}

func main() {
	flags()
	args := flag.Args()
	if len(args) < 2 {
		usage()
	}
	if err := run(args[0], args[1:]); err != nil {
		code := client.ExitCode(err)
		// The plugin has already said what went wrong.
		if code == 1 {
			log.Printf("diskless: %v", err)
		}
		os.Exit(code)
	}
}
