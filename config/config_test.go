// Copyright 2026 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func write(t *testing.T, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(write(t, "cache_dir: /srv/diskless\n"))
	require.NoError(t, err)

	assert.Equal(t, "/srv/diskless", cfg.CacheDir)
	assert.Equal(t, DefaultInitialSize, cfg.Image.InitialSize)
	assert.Equal(t, DefaultFSType, cfg.Image.FSType)
	assert.Equal(t, DefaultCommandTimeout, cfg.CommandTimeout)
	assert.Equal(t, "tcp", cfg.Listen.Network)
	assert.Equal(t, DefaultPort, cfg.Listen.Port)
	assert.Equal(t, DefaultService, cfg.DNSSD.Service)
	assert.Empty(t, cfg.Plugins)

	s, err := cfg.Image.Sizes()
	require.NoError(t, err)
	assert.Equal(t, Sizes{Initial: 4 << 30, Step: 1 << 30, MinFree: 512 << 20}, s)
}

func TestLoad_File(t *testing.T) {
	cfg, err := Load(write(t, `
cache_dir: /srv/diskless
image:
  initial_size: 2GiB
  step_size: 256MiB
  min_free: 64MiB
  max_size: 16GiB
command_timeout: 90s
listen:
  network: vsock
  port: "17020"
plugins: [info, shell]
dnssd:
  enabled: true
  txt:
    rack: r12
`))
	require.NoError(t, err)

	s, err := cfg.Image.Sizes()
	require.NoError(t, err)
	assert.Equal(t, Sizes{Initial: 2 << 30, Step: 256 << 20, MinFree: 64 << 20, Max: 16 << 30}, s)
	assert.Equal(t, 90*time.Second, cfg.CommandTimeout)
	assert.Equal(t, "vsock", cfg.Listen.Network)
	assert.Equal(t, []string{"info", "shell"}, cfg.Plugins)
	assert.True(t, cfg.DNSSD.Enabled)
	assert.Equal(t, "r12", cfg.DNSSD.Txt["rack"])
}

func TestLoad_Env(t *testing.T) {
	t.Setenv("DISKLESSD_IMAGE_STEP_SIZE", "2GiB")
	t.Setenv("DISKLESSD_CACHE_DIR", "/tmp/cache")
	cfg, err := Load(write(t, "image:\n  step_size: 1GiB\n"))
	require.NoError(t, err)
	assert.Equal(t, "2GiB", cfg.Image.StepSize)
	assert.Equal(t, "/tmp/cache", cfg.CacheDir)
}

func TestLoad_Missing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestLoad_Invalid(t *testing.T) {
	for name, content := range map[string]string{
		"bad size":      "image:\n  initial_size: lots\n",
		"zero step":     "image:\n  step_size: 0B\n",
		"max too small": "image:\n  initial_size: 4GiB\n  max_size: 1GiB\n",
		"bad fs":        "image:\n  fs_type: xfs\n",
		"bad network":   "listen:\n  network: udp\n",
		"bad timeout":   "command_timeout: -1s\n",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Load(write(t, content))
			require.Error(t, err)
		})
	}
}

func TestApplyDefaults(t *testing.T) {
	var cfg Config
	ApplyDefaults(&cfg)
	require.NoError(t, Validate(&cfg))
	assert.NotNil(t, cfg.DNSSD.Txt)
}
