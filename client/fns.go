// Copyright 2018-2026 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package client

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	config "github.com/kevinburke/ssh_config"
	"golang.org/x/crypto/ssh"
)

// DefaultPort is the default disklessd port.
const DefaultPort = "17020"

// DefaultKeyFile is the default key for diskless clients.
var DefaultKeyFile = filepath.Join(os.Getenv("HOME"), ".ssh/diskless_ed25519")

// UserKeyConfig sets up authentication with the client's key.
func (c *Cmd) UserKeyConfig() error {
	kf := GetKeyFile(c.Host, c.PrivateKeyFile)
	key, err := os.ReadFile(kf)
	if err != nil {
		return fmt.Errorf("unable to read private key %q: %w", kf, err)
	}
	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return fmt.Errorf("ParsePrivateKey %q: %w", kf, err)
	}
	c.config.Auth = append(c.config.Auth, ssh.PublicKeys(signer))
	return nil
}

// HostKeyConfig pins the server key, in authorized_keys format.
func (c *Cmd) HostKeyConfig(hostKeyFile string) error {
	hk, err := os.ReadFile(hostKeyFile)
	if err != nil {
		return fmt.Errorf("unable to read host key %v: %w", hostKeyFile, err)
	}
	pk, _, _, _, err := ssh.ParseAuthorizedKey(hk)
	if err != nil {
		return fmt.Errorf("host key %v: %w", hostKeyFile, err)
	}
	c.config.HostKeyCallback = ssh.FixedHostKey(pk)
	return nil
}

// GetKeyFile picks a keyfile if none has been set.
// It will use ssh config, else use a default.
func GetKeyFile(host, kf string) string {
	V("getKeyFile for %q", kf)
	if len(kf) == 0 {
		kf = config.Get(host, "IdentityFile")
		V("key file from config is %q", kf)
		// ssh_config reports its own default when nothing is set.
		if len(kf) == 0 || kf == "~/.ssh/identity" {
			kf = DefaultKeyFile
		}
	}
	// the config package doesn't handle ~.
	if strings.HasPrefix(kf, "~") {
		kf = filepath.Join(os.Getenv("HOME"), kf[1:])
	}
	V("getKeyFile returns %q", kf)
	return kf
}

// GetHostName reads the host name from the ssh config file,
// if needed. If it is not found, the host name is returned.
func GetHostName(host string) string {
	h := config.Get(host, "HostName")
	if len(h) != 0 {
		host = h
	}
	return host
}

// GetPort gets a port. It verifies that the port fits in 16-bit space.
// The rules here are messy, since config.Get will return "22" if
// there is no entry in .ssh/config. 22 is not allowed. So in the case
// of "22", convert to DefaultPort.
func GetPort(host, port string) (string, error) {
	p := port
	V("getPort(%q, %q)", host, port)
	if len(port) == 0 {
		if cp := config.Get(host, "Port"); len(cp) != 0 {
			V("config.Get(%q,%q): %q", host, port, cp)
			p = cp
		}
	}
	if len(p) == 0 || p == "22" {
		p = DefaultPort
		V("getPort: return default %q", p)
	}
	if _, err := strconv.ParseUint(p, 0, 16); err != nil {
		return "", fmt.Errorf("port %q: %w", p, err)
	}
	V("returns %q", p)
	return p, nil
}
