// Copyright 2026 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package config loads the disklessd configuration.
//
// Configuration sources, highest precedence first:
//  1. Command line flags, applied by the caller
//  2. Environment variables (DISKLESSD_*, e.g. DISKLESSD_IMAGE_STEP_SIZE)
//  3. The configuration file (YAML)
//  4. Default values
//
// Sizes are written the way people write them: "4GiB", "512 MB".
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/viper"
)

// Config is the complete disklessd configuration.
type Config struct {
	// CacheDir holds one directory per client.
	CacheDir string `mapstructure:"cache_dir" validate:"required"`

	// Image controls how client images are made and grown.
	Image ImageConfig `mapstructure:"image"`

	// CommandTimeout bounds every external command.
	CommandTimeout time.Duration `mapstructure:"command_timeout" validate:"gt=0"`

	// Listen is where clients connect.
	Listen ListenConfig `mapstructure:"listen"`

	// HostKey is the ssh host key file. Empty means a new key is
	// made each time the daemon starts.
	HostKey string `mapstructure:"host_key"`

	// Plugins are the enabled plugins. Empty means all of them.
	Plugins []string `mapstructure:"plugins" validate:"dive,required"`

	// DNSSD controls advertising the daemon.
	DNSSD DNSSDConfig `mapstructure:"dnssd"`
}

// ImageConfig controls client images.
type ImageConfig struct {
	// InitialSize is the size of a new image.
	InitialSize string `mapstructure:"initial_size" validate:"required,size"`

	// StepSize is how much an image grows by.
	StepSize string `mapstructure:"step_size" validate:"required,size"`

	// MinFree is the free space below which an image grows.
	MinFree string `mapstructure:"min_free" validate:"required,size"`

	// MaxSize, if set, is the largest an image may grow to.
	MaxSize string `mapstructure:"max_size" validate:"omitempty,size"`

	// FSType is the file system images are formatted with.
	FSType string `mapstructure:"fs_type" validate:"required,oneof=ext2 ext3 ext4"`
}

// ListenConfig says where to listen.
type ListenConfig struct {
	// Network is tcp, tcp4, tcp6, unix or vsock.
	Network string `mapstructure:"network" validate:"required,oneof=tcp tcp4 tcp6 unix vsock"`

	// Port is a port for tcp and vsock, a path for unix.
	Port string `mapstructure:"port" validate:"required"`
}

// DNSSDConfig controls DNS-SD advertising.
type DNSSDConfig struct {
	Enabled   bool              `mapstructure:"enabled"`
	Instance  string            `mapstructure:"instance"`
	Domain    string            `mapstructure:"domain"`
	Service   string            `mapstructure:"service"`
	Interface string            `mapstructure:"interface"`
	Txt       map[string]string `mapstructure:"txt"`
}

// Sizes are an ImageConfig's sizes in bytes.
type Sizes struct {
	Initial int64
	Step    int64
	MinFree int64
	// Max is 0 if there is no limit.
	Max int64
}

func parseSize(s string) (int64, error) {
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, err
	}
	if n > 1<<62 {
		return 0, fmt.Errorf("%q is too large", s)
	}
	return int64(n), nil
}

// Sizes parses the sizes in c.
func (c ImageConfig) Sizes() (Sizes, error) {
	var s Sizes
	var err error
	for _, f := range []struct {
		name string
		val  string
		dst  *int64
	}{
		{"initial_size", c.InitialSize, &s.Initial},
		{"step_size", c.StepSize, &s.Step},
		{"min_free", c.MinFree, &s.MinFree},
		{"max_size", c.MaxSize, &s.Max},
	} {
		if f.val == "" {
			continue
		}
		if *f.dst, err = parseSize(f.val); err != nil {
			return Sizes{}, fmt.Errorf("image.%s: %w", f.name, err)
		}
	}
	return s, nil
}

// Load loads configuration from the file at path, the environment,
// and defaults. A missing file is not an error when path is empty.
func Load(path string) (*Config, error) {
	v := viper.New()
	setupViper(v, path)

	if err := readConfigFile(v, path); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, path string) {
	// Environment variables are only seen for keys viper knows
	// about, so every key gets a default.
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.SetEnvPrefix("DISKLESSD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		return
	}
	v.AddConfigPath("/etc/disklessd")
	v.SetConfigName("config")
	v.SetConfigType("yaml")
}

// readConfigFile reads the configuration file if it exists.
func readConfigFile(v *viper.Viper, path string) error {
	if err := v.ReadInConfig(); err != nil {
		var nf viper.ConfigFileNotFoundError
		if errors.As(err, &nf) && path == "" {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}
