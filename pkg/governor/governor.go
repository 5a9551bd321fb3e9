// Package governor enforces the supervisor's concurrency ceilings. It hands
// out admission decisions for new sessions and tabs, reserving the slot
// before the decision is returned so two racing requests can never both
// squeeze past the same ceiling.
package governor

import (
	"sync"
)

// Default ceilings for a single supervisor instance.
const (
	DefaultMaxSessions       = 3
	DefaultMaxTabsPerSession = 5
)

// DenyReason explains a denied admission so callers can pick a backoff
// strategy. The governor itself never retries.
type DenyReason string

const (
	// SessionCeiling means the simultaneous-session limit is reached.
	SessionCeiling DenyReason = "session_ceiling"

	// TabCeiling means the per-session tab limit is reached.
	TabCeiling DenyReason = "tab_ceiling"
)

// Decision is the outcome of an admission request. A granted decision has
// already reserved its slot; the caller must release it when the session or
// tab ends, including on failed setup.
type Decision struct {
	Granted bool
	Reason  DenyReason
}

// Logger is the subset of the logging interface the governor emits on.
type Logger interface {
	Warnf(format string, v ...interface{})
}

// Governor tracks in-use session and tab counts under a single mutex.
// Both ceilings are independent: a session admission never consumes tab
// budget and vice versa.
type Governor struct {
	mu                sync.Mutex
	maxSessions       int
	maxTabsPerSession int
	sessions          int
	tabs              map[string]int // session id -> open tab count
	logger            Logger
}

// New creates a governor with the given ceilings. Non-positive values fall
// back to the defaults.
func New(maxSessions, maxTabsPerSession int) *Governor {
	if maxSessions <= 0 {
		maxSessions = DefaultMaxSessions
	}
	if maxTabsPerSession <= 0 {
		maxTabsPerSession = DefaultMaxTabsPerSession
	}
	return &Governor{
		maxSessions:       maxSessions,
		maxTabsPerSession: maxTabsPerSession,
		tabs:              make(map[string]int),
	}
}

// SetLogger installs a logger for near-ceiling warnings.
func (g *Governor) SetLogger(logger Logger) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.logger = logger
}

// AdmitSession reserves a session slot if one is free.
func (g *Governor) AdmitSession() Decision {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.sessions >= g.maxSessions {
		return Decision{Granted: false, Reason: SessionCeiling}
	}
	g.sessions++
	if g.sessions == g.maxSessions && g.logger != nil {
		g.logger.Warnf("session ceiling reached: %d/%d in use", g.sessions, g.maxSessions)
	}
	return Decision{Granted: true}
}

// ReleaseSession returns a session slot and drops the session's tab
// bookkeeping. Releasing below zero is a bookkeeping bug and is clamped.
func (g *Governor) ReleaseSession(sessionID string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.sessions > 0 {
		g.sessions--
	}
	delete(g.tabs, sessionID)
}

// AdmitTab reserves a tab slot for the session if one is free.
func (g *Governor) AdmitTab(sessionID string) Decision {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.tabs[sessionID] >= g.maxTabsPerSession {
		return Decision{Granted: false, Reason: TabCeiling}
	}
	g.tabs[sessionID]++
	if g.tabs[sessionID] == g.maxTabsPerSession && g.logger != nil {
		g.logger.Warnf("tab ceiling reached for session %s: %d/%d in use",
			sessionID, g.tabs[sessionID], g.maxTabsPerSession)
	}
	return Decision{Granted: true}
}

// ReleaseTab returns a tab slot for the session.
func (g *Governor) ReleaseTab(sessionID string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.tabs[sessionID] > 0 {
		g.tabs[sessionID]--
	}
}

// InUse reports the current session count and total tab count.
func (g *Governor) InUse() (sessions, tabs int) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, n := range g.tabs {
		tabs += n
	}
	return g.sessions, tabs
}
