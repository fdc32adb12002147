// Copyright 2026 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package fault defines the kinds of failure disklessd distinguishes.
//
// Protocol and Business faults are visible to clients and map to
// different outcomes at the server boundary. Operational faults, the
// default, come from failed OS operations or external commands.
// Internal faults mean the daemon found itself in a state that should
// not be possible, e.g. a mount that succeeded but whose loop device
// cannot be found; they need an administrator.
package fault

import (
	"errors"
	"fmt"
)

// Kind is the class of a failure.
type Kind int

const (
	Operational Kind = iota
	Protocol
	Business
	Internal
)

func (k Kind) String() string {
	switch k {
	case Operational:
		return "operational"
	case Protocol:
		return "protocol"
	case Business:
		return "business"
	case Internal:
		return "internal"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Error is a failure of a given Kind that happened in Op.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%v fault: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %v fault: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New wraps err as a fault of kind k. A nil err yields nil.
func New(k Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: k, Op: op, Err: err}
}

// Protocolf returns a Protocol fault.
func Protocolf(op, format string, a ...interface{}) error {
	return &Error{Kind: Protocol, Op: op, Err: fmt.Errorf(format, a...)}
}

// Businessf returns a Business fault.
func Businessf(op, format string, a ...interface{}) error {
	return &Error{Kind: Business, Op: op, Err: fmt.Errorf(format, a...)}
}

// Internalf returns an Internal fault.
func Internalf(op, format string, a ...interface{}) error {
	return &Error{Kind: Internal, Op: op, Err: fmt.Errorf(format, a...)}
}

// Operationalf returns an Operational fault.
func Operationalf(op, format string, a ...interface{}) error {
	return &Error{Kind: Operational, Op: op, Err: fmt.Errorf(format, a...)}
}

// KindOf returns the Kind of the outermost fault in err's chain.
// Errors that carry no fault are Operational.
func KindOf(err error) Kind {
	var f *Error
	if errors.As(err, &f) {
		return f.Kind
	}
	return Operational
}

// Is reports whether err carries a fault of kind k.
func Is(err error, k Kind) bool {
	return err != nil && KindOf(err) == k
}
