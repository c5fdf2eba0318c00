//go:build !windows

package waker

import (
	"errors"
	"os"
	"os/exec"
	"syscall"
)

// spawnDetached starts the timer in its own session so it outlives the coordinator and
// is not hit by signals sent to the coordinator's process group.
func spawnDetached(executable string, args []string) (int, error) {
	cmd := exec.Command(executable, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil
	if err := cmd.Start(); err != nil {
		return 0, err
	}
	pid := cmd.Process.Pid
	return pid, cmd.Process.Release()
}

func terminate(pid int) error {
	p, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return p.Signal(syscall.SIGTERM)
}

// isRunning sends signal 0; EPERM still means the process exists.
func isRunning(pid int) bool {
	err := syscall.Kill(pid, 0)
	return err == nil || errors.Is(err, syscall.EPERM)
}
