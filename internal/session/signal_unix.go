//go:build !windows

package session

import (
	"errors"
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

func sysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true}
}

// signalGroup delivers sig to the process group led by pid, falling back to
// the pid alone. A vanished process is not an error.
func signalGroup(pid int, sig unix.Signal) error {
	if pid <= 0 {
		return nil
	}
	err := unix.Kill(-pid, sig)
	if err == nil || errors.Is(err, unix.ESRCH) {
		return nil
	}
	if err := unix.Kill(pid, sig); err != nil && !errors.Is(err, unix.ESRCH) {
		return err
	}
	return nil
}

func interruptProcess(p *os.Process) error {
	if p == nil {
		return nil
	}
	return signalGroup(p.Pid, unix.SIGTERM)
}

func killProcess(p *os.Process) error {
	if p == nil {
		return nil
	}
	return signalGroup(p.Pid, unix.SIGKILL)
}
