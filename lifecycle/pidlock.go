package lifecycle

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// ErrAlreadyRunning reports another live instance holding the lock.
var ErrAlreadyRunning = fmt.Errorf("another instance is already running")

// PIDLock is the single-instance guard: one server per data root.
type PIDLock struct {
	path string
}

// AcquirePIDLock claims dataRoot/lyrebird.pid. A lock file left by a dead
// process is replaced; a live owner wins.
func AcquirePIDLock(dataRoot string) (*PIDLock, error) {
	path := filepath.Join(dataRoot, "lyrebird.pid")

	if raw, err := os.ReadFile(path); err == nil {
		if pid, err := strconv.Atoi(strings.TrimSpace(string(raw))); err == nil && pidAlive(pid) {
			return nil, fmt.Errorf("%w (pid %d)", ErrAlreadyRunning, pid)
		}
		// Stale lock from a crashed run.
		os.Remove(path)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil, ErrAlreadyRunning
		}
		return nil, fmt.Errorf("creating pid file: %w", err)
	}
	defer f.Close()

	if _, err := fmt.Fprintf(f, "%d\n", os.Getpid()); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("writing pid file: %w", err)
	}
	return &PIDLock{path: path}, nil
}

// Release removes the lock file.
func (l *PIDLock) Release() {
	os.Remove(l.path)
}

// pidAlive reports whether a process with this pid exists. Signal 0
// performs the existence check without delivering anything.
func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
