package utils

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// ErrAlreadyRunning is returned when the PID file names a live process.
var ErrAlreadyRunning = errors.New("another instance is already running")

// PIDFile guards a single running server instance.
type PIDFile struct {
	path string
}

// NewPIDFile returns a PIDFile at path.
func NewPIDFile(path string) *PIDFile {
	return &PIDFile{path: path}
}

// Path returns the file location.
func (p *PIDFile) Path() string {
	return p.path
}

// Write records the current process. A stale file left by a dead process is
// replaced; one naming a live process other than this one is not.
func (p *PIDFile) Write() error {
	if pid, err := ReadPID(p.path); err == nil && pid != os.Getpid() && Alive(pid) {
		return fmt.Errorf("%w (pid %d in %s)", ErrAlreadyRunning, pid, p.path)
	}
	if err := os.MkdirAll(filepath.Dir(p.path), 0o755); err != nil {
		return fmt.Errorf("failed to create PID directory: %w", err)
	}
	return os.WriteFile(p.path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644)
}

// Remove deletes the file if it still names this process.
func (p *PIDFile) Remove() error {
	pid, err := ReadPID(p.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	if pid != os.Getpid() {
		return nil
	}
	return os.Remove(p.path)
}
