package session

import (
	"errors"
	"sync"
	"time"
)

// Errors returned by the tracker. Capacity and conflict errors are
// caller-correctable and are returned immediately without retry.
var (
	// ErrCapacityExceeded means the session ceiling denied admission.
	ErrCapacityExceeded = errors.New("session capacity exceeded")

	// ErrTabLimitExceeded means the per-session tab ceiling denied admission.
	ErrTabLimitExceeded = errors.New("tab limit exceeded")

	// ErrWorkflowConflict means the workflow already owns an active session
	// and a fresh one was requested without closing it first.
	ErrWorkflowConflict = errors.New("workflow already owns an active session")

	// ErrSessionNotFound means the session id is unknown to the tracker.
	ErrSessionNotFound = errors.New("session not found")

	// ErrTabNotFound means the tab id is unknown within the session.
	ErrTabNotFound = errors.New("tab not found")

	// ErrSessionNotActive means the session is suspended or shutting down.
	ErrSessionNotActive = errors.New("session is not active")
)

// Status is the lifecycle state of a session. Transitions are monotonic:
// Active -> Suspended -> Closing -> Closed. A transition never moves
// backward; advancing to an earlier or equal state is a no-op.
type Status int

const (
	StatusActive Status = iota
	StatusSuspended
	StatusClosing
	StatusClosed
)

// String returns the status name for logging and listings.
func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusSuspended:
		return "suspended"
	case StatusClosing:
		return "closing"
	case StatusClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session groups one workflow's browser activity. It owns its tabs
// exclusively; the underlying OS process group is shared, not owned — a
// process may outlive a logically closed session until the cleanup
// executor confirms termination.
type Session struct {
	// ID is the unique session identifier.
	ID string

	// WorkflowID names the workflow that owns this session.
	WorkflowID string

	// CreatedAt is the session creation timestamp.
	CreatedAt time.Time

	mu      sync.Mutex
	status  Status
	tabs    map[string]*Tab
	browser Browser
	context BrowserContext
}

// Status returns the current lifecycle state.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// advance moves the status forward. Backward or same-state moves are
// ignored and reported as false.
func (s *Session) advance(next Status) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if next <= s.status {
		return false
	}
	s.status = next
	return true
}

// TabCount returns the number of open tabs.
func (s *Session) TabCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tabs)
}

// memoryFootprint sums the recorded memory estimates across open tabs.
func (s *Session) memoryFootprint() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total int64
	for _, tab := range s.tabs {
		total += tab.MemoryEstimate()
	}
	return total
}

// Tab is one page handle inside a session.
type Tab struct {
	// ID is the unique tab identifier.
	ID string

	// SessionID names the owning session.
	SessionID string

	mu             sync.Mutex
	lastActivityAt time.Time
	memoryEstimate int64
	page           Page
}

// Touch records activity on the tab.
func (t *Tab) Touch() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastActivityAt = time.Now()
}

// LastActivityAt returns the timestamp of the last operation on this tab.
func (t *Tab) LastActivityAt() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastActivityAt
}

// SetMemoryEstimate records the tab's approximate memory footprint in bytes.
func (t *Tab) SetMemoryEstimate(bytes int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.memoryEstimate = bytes
}

// MemoryEstimate returns the recorded memory footprint in bytes.
func (t *Tab) MemoryEstimate() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.memoryEstimate
}

// URL returns the tab's current page URL.
func (t *Tab) URL() string {
	return t.page.URL()
}

// Info is a read-only snapshot of a session for listings. MemoryBytes is
// the sum of the tabs' recorded estimates and is zero until the caller
// reports them via Tab.SetMemoryEstimate.
type Info struct {
	ID          string
	WorkflowID  string
	Status      Status
	CreatedAt   time.Time
	TabCount    int
	MemoryBytes int64
}
