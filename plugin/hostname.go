// Copyright 2026 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package plugin

import (
	"context"
	"fmt"

	"github.com/u-root/diskless/fault"
)

func init() {
	Register("hostname", func(args []string) (Behavior, error) {
		switch len(args) {
		case 0:
			return hostname{}, nil
		case 1:
			return hostname{set: true, name: args[0]}, nil
		}
		return nil, fault.Protocolf("hostname", "usage: hostname [name]")
	})
}

// hostname prints, or sets, the client's host name.
type hostname struct {
	set  bool
	name string
}

func (h hostname) Run(ctx context.Context, env *Env) error {
	if !h.set {
		_, err := fmt.Fprintln(env.Stdout, env.Metadata.Hostname)
		return err
	}
	if env.SetHostname == nil {
		return fault.Internalf("hostname", "no way to set the host name")
	}
	if err := env.SetHostname(h.name); err != nil {
		return err
	}
	env.Metadata.Hostname = h.name
	return nil
}
