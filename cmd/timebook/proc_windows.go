//go:build windows

package main

import "os/exec"

// Windows has no Setsid; a plain child process outlives the TUI.
func configureDaemonProc(cmd *exec.Cmd) {}
