// Copyright 2026 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package plugin

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/u-root/diskless/fault"
)

func init() {
	Register("info", func(args []string) (Behavior, error) {
		if len(args) != 0 {
			return nil, fault.Protocolf("info", "usage: info")
		}
		return info{}, nil
	})
}

// info tells a client what the daemon knows about it.
type info struct{}

func (info) Run(ctx context.Context, env *Env) error {
	hn := env.Metadata.Hostname
	if hn == "" {
		hn = "(unset)"
	}
	w := tabwriter.NewWriter(env.Stdout, 0, 8, 1, ' ', 0)
	fmt.Fprintf(w, "id:\t%s\n", env.ID)
	fmt.Fprintf(w, "hostname:\t%s\n", hn)
	fmt.Fprintf(w, "capacity:\t%s\n", humanize.IBytes(uint64(env.Metadata.Capacity)))
	fmt.Fprintf(w, "address:\t%s\n", env.IP())
	fmt.Fprintf(w, "root:\t%s\n", env.RootDir)
	return w.Flush()
}
