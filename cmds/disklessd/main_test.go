// Copyright 2018-2026 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"context"
	"flag"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/u-root/diskless/image"
	"github.com/u-root/diskless/registry"
	"github.com/u-root/diskless/runner/runnertest"
)

func TestLoad(t *testing.T) {
	cf := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `cache_dir: /srv/images
listen:
  port: "2222"
plugins: [info]
dnssd:
  txt:
    arch: amd64
`
	if err := os.WriteFile(cf, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	fs := flag.NewFlagSet("disklessd", flag.ContinueOnError)
	fs.StringVar(configFile, "config", "", "")
	fs.StringVar(port, "sp", "", "")
	fs.StringVar(enable, "plugins", "", "")
	fs.StringVar(dsTxtStr, "dsTxt", "", "")
	if err := fs.Parse([]string{"-config", cf, "-sp", "3333", "-plugins", "info, hostname", "-dsTxt", "site=lab"}); err != nil {
		t.Fatal(err)
	}

	cfg, err := load(fs)
	if err != nil {
		t.Fatalf("load: %v != nil", err)
	}
	if cfg.CacheDir != "/srv/images" {
		t.Errorf("CacheDir: %q != %q", cfg.CacheDir, "/srv/images")
	}
	if cfg.Listen.Port != "3333" {
		t.Errorf("Listen.Port: %q != %q", cfg.Listen.Port, "3333")
	}
	if want := []string{"info", "hostname"}; !reflect.DeepEqual(cfg.Plugins, want) {
		t.Errorf("Plugins: %q != %q", cfg.Plugins, want)
	}
	if want := map[string]string{"arch": "amd64", "site": "lab"}; !reflect.DeepEqual(cfg.DNSSD.Txt, want) {
		t.Errorf("DNSSD.Txt: %q != %q", cfg.DNSSD.Txt, want)
	}
}

func TestListClients(t *testing.T) {
	images := image.New(&runnertest.Host{}, "ext4")
	reg, err := registry.Open(t.TempDir(), images, 1<<20)
	if err != nil {
		t.Fatal(err)
	}
	id, created, err := reg.Resolve(context.Background(), []byte("ssh-ed25519 AAAA test\n"))
	if err != nil || !created {
		t.Fatalf("Resolve: (%v, %v) != (true, nil)", created, err)
	}
	md, err := reg.LoadMetadata(id)
	if err != nil {
		t.Fatal(err)
	}
	md.Hostname = "node1"
	if err := reg.SaveMetadata(id, md); err != nil {
		t.Fatal(err)
	}

	var b bytes.Buffer
	if err := listClients(&b, reg); err != nil {
		t.Fatalf("listClients: %v != nil", err)
	}
	lines := strings.Split(strings.TrimSpace(b.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("listClients: %d lines != 2:\n%s", len(lines), b.String())
	}
	f := strings.Fields(lines[1])
	if want := []string{string(id), "node1", "1.0", "MiB"}; !reflect.DeepEqual(f, want) {
		t.Errorf("listClients: %q != %q", f, want)
	}
}
