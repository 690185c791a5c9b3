// Package process inspects and signals daemon processes by PID.
package process

import (
	"os"
	"syscall"
	"time"
)

// IsProcessAlive reports whether pid names a live process. Signal 0 probes
// for existence; EPERM still means the process exists.
func IsProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = p.Signal(syscall.Signal(0))
	return err == nil || os.IsPermission(err)
}

// Terminate sends SIGTERM to pid.
func Terminate(pid int) error {
	p, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return p.Signal(syscall.SIGTERM)
}

// WaitExit polls until pid is gone or timeout elapses. It reports whether
// the process exited.
func WaitExit(pid int, timeout, interval time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for IsProcessAlive(pid) {
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(interval)
	}
	return true
}
