package utils

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"
)

// SendSignalToPIDFile signals the process recorded in pidFile.
func SendSignalToPIDFile(pidFile string, sig syscall.Signal) error {
	if pidFile == "" {
		return errors.New("PID file path is empty")
	}
	pid, err := ReadPID(pidFile)
	if err != nil {
		return fmt.Errorf("failed to read PID file: %w", err)
	}
	if err := unix.Kill(pid, sig); err != nil {
		return fmt.Errorf("failed to send signal to %d: %w", pid, err)
	}
	return nil
}

// ReadPID parses a PID file.
func ReadPID(pidFile string) (int, error) {
	b, err := os.ReadFile(pidFile)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil {
		return 0, fmt.Errorf("invalid PID format in %s: %w", pidFile, err)
	}
	if pid <= 0 {
		return 0, fmt.Errorf("invalid PID value %d in %s", pid, pidFile)
	}
	return pid, nil
}

// Alive reports whether a process with pid exists.
func Alive(pid int) bool {
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}
