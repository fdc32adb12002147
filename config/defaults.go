// Copyright 2026 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package config

import "time"

const (
	DefaultCacheDir       = "/var/cache/disklessd"
	DefaultInitialSize    = "4GiB"
	DefaultStepSize       = "1GiB"
	DefaultMinFree        = "512MiB"
	DefaultFSType         = "ext4"
	DefaultCommandTimeout = 5 * time.Minute
	DefaultNetwork        = "tcp"
	DefaultPort           = "17020"
	DefaultDomain         = "local"
	DefaultService        = "_diskless._tcp"
)

var defaults = map[string]interface{}{
	"cache_dir":          DefaultCacheDir,
	"image.initial_size": DefaultInitialSize,
	"image.step_size":    DefaultStepSize,
	"image.min_free":     DefaultMinFree,
	"image.max_size":     "",
	"image.fs_type":      DefaultFSType,
	"command_timeout":    DefaultCommandTimeout,
	"listen.network":     DefaultNetwork,
	"listen.port":        DefaultPort,
	"host_key":           "",
	"plugins":            []string{},
	"dnssd.enabled":      false,
	"dnssd.instance":     "",
	"dnssd.domain":       DefaultDomain,
	"dnssd.service":      DefaultService,
	"dnssd.interface":    "",
}

// ApplyDefaults sets default values for any unspecified configuration fields.
func ApplyDefaults(cfg *Config) {
	if cfg.CacheDir == "" {
		cfg.CacheDir = DefaultCacheDir
	}
	if cfg.Image.InitialSize == "" {
		cfg.Image.InitialSize = DefaultInitialSize
	}
	if cfg.Image.StepSize == "" {
		cfg.Image.StepSize = DefaultStepSize
	}
	if cfg.Image.MinFree == "" {
		cfg.Image.MinFree = DefaultMinFree
	}
	if cfg.Image.FSType == "" {
		cfg.Image.FSType = DefaultFSType
	}
	if cfg.CommandTimeout == 0 {
		cfg.CommandTimeout = DefaultCommandTimeout
	}
	if cfg.Listen.Network == "" {
		cfg.Listen.Network = DefaultNetwork
	}
	if cfg.Listen.Port == "" {
		cfg.Listen.Port = DefaultPort
	}
	if cfg.DNSSD.Domain == "" {
		cfg.DNSSD.Domain = DefaultDomain
	}
	if cfg.DNSSD.Service == "" {
		cfg.DNSSD.Service = DefaultService
	}
	if cfg.DNSSD.Txt == nil {
		cfg.DNSSD.Txt = map[string]string{}
	}
}
