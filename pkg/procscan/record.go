package procscan

import (
	"fmt"
	"strings"
	"time"
)

// Class is the classification assigned to a process by the identification
// policy. Classification is derived from the command line on every scan and
// is never stored authoritatively.
type Class int

const (
	// Unrelated processes match no marker and are never touched.
	Unrelated Class = iota

	// Disposable processes are browser workers safe to terminate.
	Disposable

	// Protected processes carry the control-channel connection and must
	// never be targeted by cleanup.
	Protected
)

// String returns the classification name for logging.
func (c Class) String() string {
	switch c {
	case Protected:
		return "protected"
	case Disposable:
		return "disposable"
	default:
		return "unrelated"
	}
}

// ProcessRecord is a point-in-time view of one OS process as captured by a
// scan. Records from different scans must never be mixed: the process table
// is externally mutable and a PID may be reused.
type ProcessRecord struct {
	// PID is the OS process identifier.
	PID int

	// PPID is the parent process identifier.
	PPID int

	// Cmdline is the full command-line signature, arguments joined by
	// single spaces.
	Cmdline string

	// StartedAt is the process launch time, best effort.
	StartedAt time.Time

	// Class is the classification computed for this scan.
	Class Class
}

// String returns a short description used in reports and verbose output.
func (r ProcessRecord) String() string {
	name, _, _ := strings.Cut(r.Cmdline, " ")
	return fmt.Sprintf("%s (PID: %d)", name, r.PID)
}
