//go:build !windows

package process

import (
	"errors"
	"syscall"
)

var errNoProcess = errors.New("no such process")

// terminate sends SIGTERM to the process group led by pid (services are
// started in their own session), falling back to the single pid.
func terminate(pid int) error {
	if err := syscall.Kill(-pid, syscall.SIGTERM); err == nil {
		return nil
	}
	err := syscall.Kill(pid, syscall.SIGTERM)
	if errors.Is(err, syscall.ESRCH) {
		return errNoProcess
	}
	return err
}

// processExists checks if a process exists
func processExists(pid int) bool {
	return syscall.Kill(pid, 0) == nil
}
