// Copyright 2018-2026 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// disklessd serves per-client root file systems to diskless clients.
//
// Synopsis:
//
//	disklessd [OPTIONS]
//	disklessd -list [OPTIONS]
//	disklessd -list-plugins
//	disklessd -lookup dnssd:[//domain/type][?key=value...]
//
// Each client connects with ssh and is known by its public key. The
// first time a key connects, disklessd creates an image for it in the
// cache directory. The ssh command names a plugin, e.g.
//
//	ssh -p 17020 server info
//	ssh -p 17020 server hostname myhost
//	ssh -t -p 17020 server shell
//
// Options are read from a YAML file (-config), from DISKLESSD_*
// environment variables, and from flags, flags winning.
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/u-root/diskless/config"
	"github.com/u-root/diskless/ds"
	"github.com/u-root/diskless/plugin"
	"github.com/u-root/diskless/registry"
)

var (
	configFile = flag.String("config", "", "configuration file (default /etc/disklessd/config.yaml, if there)")
	cacheDir   = flag.String("cache", config.DefaultCacheDir, "directory holding client images")
	hostKey    = flag.String("hk", "", "file for host key")
	port       = flag.String("sp", config.DefaultPort, "disklessd port, or socket path for unix")
	network    = flag.String("net", config.DefaultNetwork, "network to use")
	enable     = flag.String("plugins", "", "comma separated plugins to enable (default all)")

	dsEnabled = flag.Bool("dnssd", false, "advertise service using DNSSD")
	dsTxtStr  = flag.String("dsTxt", "", "DNSSD key-value pair string parameterizing advertisement")

	list        = flag.Bool("list", false, "list clients and exit")
	listPlugins = flag.Bool("list-plugins", false, "list plugins and exit")
	lookup      = flag.String("lookup", "", "find a disklessd with DNS-SD, print its address, and exit")

	debug = flag.Bool("d", false, "enable debug prints")
	klog  = flag.Bool("klog", false, "Log disklessd messages in kernel log, not stdout")

	// v allows debug printing.
	// Do not call it directly, call verbose instead.
	v = func(string, ...interface{}) {}
)

func verbose(f string, a ...interface{}) {
	v("DISKLESSD:"+f, a...)
}

// load reads the configuration, then applies the flags that were
// set on the command line.
func load(fs *flag.FlagSet) (*config.Config, error) {
	cfg, err := config.Load(*configFile)
	if err != nil {
		return nil, err
	}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "cache":
			cfg.CacheDir = *cacheDir
		case "hk":
			cfg.HostKey = *hostKey
		case "sp":
			cfg.Listen.Port = *port
		case "net":
			cfg.Listen.Network = *network
		case "plugins":
			cfg.Plugins = nil
			for _, p := range strings.Split(*enable, ",") {
				if p = strings.TrimSpace(p); p != "" {
					cfg.Plugins = append(cfg.Plugins, p)
				}
			}
		case "dnssd":
			cfg.DNSSD.Enabled = *dsEnabled
		case "dsTxt":
			for k, val := range ds.ParseKv(*dsTxtStr) {
				cfg.DNSSD.Txt[k] = val
			}
		}
	})
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// listClients writes one line per client in reg.
func listClients(w io.Writer, reg *registry.Registry) error {
	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
	fmt.Fprintf(tw, "ID\tHOSTNAME\tCAPACITY\n")
	for _, id := range reg.List() {
		md, err := reg.LoadMetadata(id)
		if err != nil {
			fmt.Fprintf(tw, "%s\t?\t%v\n", id, err)
			continue
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", id, md.Hostname, humanize.IBytes(uint64(md.Capacity)))
	}
	return tw.Flush()
}

func main() {
	flag.Parse()
	commonsetup()

	switch {
	case *listPlugins:
		for _, n := range plugin.Names() {
			fmt.Println(n)
		}
		return
	case *lookup != "":
		q, err := ds.Parse(*lookup)
		if err != nil {
			log.Fatal(err)
		}
		host, port, err := ds.Lookup(q)
		if err != nil {
			log.Fatal(err)
		}
		fmt.Printf("%s:%s\n", host, port)
		return
	}

	cfg, err := load(flag.CommandLine)
	if err != nil {
		log.Fatalf("DISKLESSD: %v", err)
	}
	verbose("config %+v", cfg)

	if *list {
		d, err := deps(cfg)
		if err != nil {
			log.Fatalf("DISKLESSD: %v", err)
		}
		if err := listClients(os.Stdout, d.Registry); err != nil {
			log.Fatal(err)
		}
		return
	}

	log.Printf("DISKLESSD:PID(%d):serving images from %q", os.Getpid(), cfg.CacheDir)
	if err := serve(cfg); err != nil {
		log.Fatalf("DISKLESSD: %v", err)
	}
}
