//go:build unix

package main

import (
	"os/exec"
	"syscall"
)

// detach starts the daemon in its own session so closing the terminal
// does not deliver SIGHUP to it
func detach(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	cmd.Stdin, cmd.Stdout, cmd.Stderr = nil, nil, nil
}
