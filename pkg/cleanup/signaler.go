package cleanup

import (
	"errors"
	"os"
	"syscall"
)

// Signaler sends termination signals to processes. It exists as an
// interface so cleanup logic can be exercised without killing anything.
type Signaler interface {
	// Term asks the process to exit gracefully.
	Term(pid int) error

	// Kill force-terminates the process.
	Kill(pid int) error

	// Alive reports whether the process still exists.
	Alive(pid int) bool
}

// OSSignaler signals real processes via SIGTERM/SIGKILL.
type OSSignaler struct{}

// Term sends SIGTERM.
func (OSSignaler) Term(pid int) error {
	return signalProcess(pid, syscall.SIGTERM)
}

// Kill sends SIGKILL.
func (OSSignaler) Kill(pid int) error {
	return signalProcess(pid, syscall.SIGKILL)
}

// Alive probes the process with signal 0.
func (OSSignaler) Alive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	// EPERM means the process exists but belongs to someone else.
	return errors.Is(err, syscall.EPERM)
}

// IsGone reports whether a signaling error means the process already
// exited, which cleanup treats as success rather than failure.
func IsGone(err error) bool {
	return errors.Is(err, syscall.ESRCH) || errors.Is(err, os.ErrProcessDone)
}

func signalProcess(pid int, sig syscall.Signal) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return proc.Signal(sig)
}
