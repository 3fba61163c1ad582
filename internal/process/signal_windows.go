//go:build windows

package process

import (
	"errors"
	"os"
)

var errNoProcess = errors.New("no such process")

// terminate has no graceful equivalent on Windows; the process is killed.
func terminate(pid int) error {
	p, err := os.FindProcess(pid)
	if err != nil {
		return errNoProcess
	}
	if err := p.Kill(); err != nil {
		if errors.Is(err, os.ErrProcessDone) {
			return errNoProcess
		}
		return err
	}
	return nil
}

func processExists(pid int) bool {
	_, err := os.FindProcess(pid)
	return err == nil
}
