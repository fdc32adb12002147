// Copyright 2018-2026 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package plugin

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"unsafe"

	"github.com/creack/pty"
	"golang.org/x/sys/unix"
)

// DefaultShell is what the shell plugin runs with no arguments.
const DefaultShell = "/bin/sh"

func init() {
	Register("shell", func(args []string) (Behavior, error) {
		if len(args) == 0 {
			args = []string{DefaultShell}
		}
		return &shell{args: args}, nil
	})
}

// shell runs a command chrooted into the client's prepared root.
type shell struct {
	args []string
}

func (*shell) NeedsRoot() bool { return true }

func setWinsize(f *os.File, w, h int) {
	unix.Syscall(unix.SYS_IOCTL, f.Fd(), uintptr(unix.TIOCSWINSZ), //nolint
		uintptr(unsafe.Pointer(&struct{ h, w, x, y uint16 }{uint16(h), uint16(w), 0, 0})))
}

// errval drops errors that are not errors: a reaper may collect the
// child before Wait does.
func errval(err error) error {
	if err == nil {
		return err
	}
	if strings.Contains(err.Error(), "no child process") {
		return nil
	}
	return err
}

func (s *shell) command(ctx context.Context, env *Env) *exec.Cmd {
	cmd := exec.CommandContext(ctx, s.args[0], s.args[1:]...)
	cmd.Dir = "/"
	cmd.Env = []string{
		"PATH=/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin",
		"HOME=/root",
		"USER=root",
		"DISKLESS_ID=" + string(env.ID),
	}
	if hn := env.Metadata.Hostname; hn != "" {
		cmd.Env = append(cmd.Env, "HOSTNAME="+hn)
	}
	// CLONE_NEWNS keeps whatever the command mounts out of the
	// daemon's name space.
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Chroot:       env.RootDir,
		Unshareflags: syscall.CLONE_NEWNS,
	}
	return cmd
}

func (s *shell) Run(ctx context.Context, env *Env) error {
	if env.RootDir == "" {
		return fmt.Errorf("shell: no root directory")
	}
	cmd := s.command(ctx, env)
	v("shell: %q in %q", s.args, env.RootDir)
	if env.Pty == nil {
		cmd.Stdin, cmd.Stdout, cmd.Stderr = env.Stdin, env.Stdout, env.Stderr
		return exit(errval(cmd.Run()))
	}

	cmd.Env = append(cmd.Env, "TERM="+env.Pty.Term)
	f, err := pty.Start(cmd)
	if err != nil {
		return err
	}
	defer f.Close()
	setWinsize(f, env.Pty.Window.Width, env.Pty.Window.Height)
	go func() {
		for w := range env.Pty.Resize {
			setWinsize(f, w.Width, w.Height)
		}
	}()
	go func() {
		io.Copy(f, env.Stdin) //nolint stdin
	}()
	io.Copy(env.Stdout, f) //nolint stdout
	// Wait only for the process started here. Orphans are the
	// reaper's problem.
	err = cmd.Wait()
	v("shell: %q returns with %v %v", s.args, err, cmd.ProcessState)
	return exit(errval(err))
}

// exit turns a non zero exit status into an ExitError.
func exit(err error) error {
	var ee *exec.ExitError
	if errors.As(err, &ee) && ee.ExitCode() > 0 {
		return &ExitError{Code: ee.ExitCode()}
	}
	return err
}
