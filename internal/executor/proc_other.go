//go:build !unix

package executor

import (
	"os"
	"os/exec"
	"syscall"
)

var (
	sigTerm = syscall.Signal(0xf)
	sigKill = syscall.Signal(0x9)
)

func processGroupAttr() *syscall.SysProcAttr { return nil }

func signalGroup(cmd *exec.Cmd, sig syscall.Signal) error {
	if cmd.Process == nil {
		return nil
	}
	if sig == sigKill {
		return cmd.Process.Kill()
	}
	return cmd.Process.Signal(os.Interrupt)
}
