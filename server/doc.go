// Copyright 2018-2026 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package server is for building disklessd servers.
//
// A disklessd is an ssh server with a special handler. Clients are
// not authenticated in the usual sense: any key is accepted, and the
// key is who the client is. The first time a key is seen, a client
// identity and an image are created for it; after that the key
// always gets the same image back.
//
// The command a client sends names a plugin and its arguments. For
// each session the handler mounts the client's image, grows it if it
// is low on space, prepares a root if the plugin needs one, runs the
// plugin, and then puts everything back. The exit status tells the
// client how it went:
//
//	0  the plugin succeeded
//	1  something went wrong in the server; details are only logged
//	2  the request was malformed (protocol error)
//	3  the request could not be granted, e.g. quota exceeded
//
// A plugin may also exit with a status of its own, e.g. the status
// of a command run by the shell plugin.
//
// The basic flow of setting up a server is similar to most such servers:
// a call to New(), preceded or followed by a call to net.Listen to get
// a socket, and a call to Serve with the listener. For a usage example,
// see TestSessions.
package server
