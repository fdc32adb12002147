// Copyright 2026 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package plugin

import (
	"bytes"
	"context"
	"debug/elf"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
)

func TestShellArgs(t *testing.T) {
	s, err := Enable("shell")
	if err != nil {
		t.Fatal(err)
	}
	b, err := s.New("shell", nil)
	if err != nil {
		t.Fatalf("New(shell): %v != nil", err)
	}
	if !NeedsRoot(b) {
		t.Errorf("shell does not need a root")
	}
	if a := b.(*shell).args; len(a) != 1 || a[0] != DefaultShell {
		t.Errorf("shell args: %q != [%q]", a, DefaultShell)
	}
	e := env(&bytes.Buffer{})
	e.RootDir = ""
	if err := b.Run(context.Background(), e); err == nil {
		t.Errorf("shell with no root: nil != an error")
	}
}

// TestShellChroot runs a static busybox in a root made of nothing
// else. It needs root, and a busybox.
func TestShellChroot(t *testing.T) {
	if os.Getuid() != 0 {
		t.Skipf("Skipping as we are not root")
	}
	bb, err := exec.LookPath("busybox")
	if err != nil {
		t.Skipf("no busybox: %v", err)
	}
	if f, err := elf.Open(bb); err != nil || f.Section(".interp") != nil {
		t.Skipf("%q is not a static binary", bb)
	}
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "bin"), 0o755); err != nil {
		t.Fatal(err)
	}
	b, err := os.ReadFile(bb)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "bin", "busybox"), b, 0o755); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	e := env(&out)
	e.RootDir = root
	sh := &shell{args: []string{"/bin/busybox", "sh", "-c", "echo $DISKLESS_ID $HOSTNAME; exit 3"}}
	err = sh.Run(context.Background(), e)
	ee, ok := err.(*ExitError)
	if !ok || ee.Code != 3 {
		t.Fatalf("shell: %v, want exit status 3", err)
	}
	if want := "0123456789abcdef0123456789abcdef box\n"; out.String() != want {
		t.Errorf("shell output: %q != %q", out.String(), want)
	}
}
