//go:build !windows

package localexec

import (
	"errors"
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// configureSysProc leaves children in the launcher's process group so a
// terminal interrupt reaches them too.
func configureSysProc(cmd *exec.Cmd) {}

func terminateProcess(p *os.Process) error {
	return p.Signal(syscall.SIGTERM)
}

func signaled(ps *os.ProcessState) bool {
	ws, ok := ps.Sys().(syscall.WaitStatus)
	return ok && ws.Signaled()
}

func pidExists(pid int) bool {
	err := unix.Kill(pid, 0)
	// EPERM: the process exists but belongs to someone else.
	return err == nil || errors.Is(err, unix.EPERM)
}

func terminatePID(pid int) error {
	return signalPID(pid, unix.SIGTERM)
}

func killPID(pid int) error {
	return signalPID(pid, unix.SIGKILL)
}

func signalPID(pid int, sig unix.Signal) error {
	err := unix.Kill(pid, sig)
	if errors.Is(err, unix.ESRCH) {
		return nil
	}
	return err
}
