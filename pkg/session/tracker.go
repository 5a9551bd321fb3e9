package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kiteai/herd/pkg/governor"
)

// Logger is the subset of the logging interface the tracker emits on.
type Logger interface {
	Debugf(format string, v ...interface{})
	Infof(format string, v ...interface{})
	Warnf(format string, v ...interface{})
	Errorf(format string, v ...interface{})
}

// Options configure a tracker.
type Options struct {
	// Headless controls launched browsers.
	Headless bool

	// ProfileDir is the browser profile directory; its path carries the
	// worker marker.
	ProfileDir string

	// OperationTimeout is the default page-operation timeout.
	OperationTimeout time.Duration

	// IdleTimeout closes sessions untouched for this long. Zero disables
	// the idle sweep.
	IdleTimeout time.Duration
}

// Tracker maintains the logical model of sessions and tabs, independent of
// OS process identity. Admission goes through the governor before any
// state mutation; process termination never happens here.
type Tracker struct {
	mu         sync.RWMutex
	sessions   map[string]*Session
	byWorkflow map[string]*Session // workflow id -> non-closed session
	engine     Engine
	gov        *governor.Governor
	opts       Options
	logger     Logger
}

// NewTracker creates a tracker over the given engine and governor.
func NewTracker(engine Engine, gov *governor.Governor, opts Options, logger Logger) *Tracker {
	return &Tracker{
		sessions:   make(map[string]*Session),
		byWorkflow: make(map[string]*Session),
		engine:     engine,
		gov:        gov,
		opts:       opts,
		logger:     logger,
	}
}

// Open creates a fresh session for the workflow. It fails with
// ErrWorkflowConflict when the workflow still owns a non-closed session,
// and with ErrCapacityExceeded when the governor denies admission. The
// new session starts Active with zero tabs.
func (t *Tracker) Open(workflowID string) (*Session, error) {
	if workflowID == "" {
		return nil, fmt.Errorf("workflow id is required")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if prior, exists := t.byWorkflow[workflowID]; exists {
		return nil, fmt.Errorf("%w: workflow %q has session %s", ErrWorkflowConflict, workflowID, prior.ID)
	}

	decision := t.gov.AdmitSession()
	if !decision.Granted {
		return nil, fmt.Errorf("%w: %s", ErrCapacityExceeded, decision.Reason)
	}

	session, err := t.launch(workflowID)
	if err != nil {
		// Failed setup must not leak the admission slot.
		t.gov.ReleaseSession("")
		return nil, err
	}

	t.sessions[session.ID] = session
	t.byWorkflow[workflowID] = session
	t.logger.Infof("session %s opened for workflow %s", session.ID, workflowID)
	return session, nil
}

// launch starts the browser and context for a new session. Caller holds
// the tracker lock.
func (t *Tracker) launch(workflowID string) (*Session, error) {
	browser, err := t.engine.Launch(LaunchOptions{
		Headless:   t.opts.Headless,
		ProfileDir: t.opts.ProfileDir,
		Timeout:    t.opts.OperationTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	context, err := browser.NewContext()
	if err != nil {
		_ = browser.Close()
		return nil, fmt.Errorf("failed to create context: %w", err)
	}

	return &Session{
		ID:         uuid.New().String(),
		WorkflowID: workflowID,
		CreatedAt:  time.Now(),
		status:     StatusActive,
		tabs:       make(map[string]*Tab),
		browser:    browser,
		context:    context,
	}, nil
}

// Get returns a session by id.
func (t *Tracker) Get(sessionID string) (*Session, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	session, exists := t.sessions[sessionID]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return session, nil
}

// SessionFor returns the workflow's current non-closed session, if any.
func (t *Tracker) SessionFor(workflowID string) (*Session, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	session, exists := t.byWorkflow[workflowID]
	return session, exists
}

// OpenTab opens a new tab in an active session, subject to the per-session
// tab ceiling.
func (t *Tracker) OpenTab(sessionID string) (*Tab, error) {
	session, err := t.Get(sessionID)
	if err != nil {
		return nil, err
	}

	session.mu.Lock()
	defer session.mu.Unlock()

	if session.status != StatusActive {
		return nil, fmt.Errorf("%w: session %s is %s", ErrSessionNotActive, sessionID, session.status)
	}

	decision := t.gov.AdmitTab(sessionID)
	if !decision.Granted {
		return nil, fmt.Errorf("%w: %s", ErrTabLimitExceeded, decision.Reason)
	}

	page, err := session.context.NewPage()
	if err != nil {
		t.gov.ReleaseTab(sessionID)
		return nil, fmt.Errorf("failed to open tab: %w", err)
	}

	tab := &Tab{
		ID:             uuid.New().String(),
		SessionID:      sessionID,
		lastActivityAt: time.Now(),
		page:           page,
	}
	session.tabs[tab.ID] = tab
	t.logger.Infof("tab %s opened in session %s", tab.ID, sessionID)
	return tab, nil
}

// Navigate drives a tab to the given URL and records the activity. Slow
// navigations are logged at warning level.
func (t *Tracker) Navigate(sessionID, tabID, url string) error {
	session, err := t.Get(sessionID)
	if err != nil {
		return err
	}

	session.mu.Lock()
	tab, exists := session.tabs[tabID]
	session.mu.Unlock()
	if !exists {
		return fmt.Errorf("%w: %s", ErrTabNotFound, tabID)
	}

	t.logger.Debugf("tab %s navigating to %s", tabID, url)
	start := time.Now()
	if err := tab.page.Goto(url); err != nil {
		t.logger.Errorf("tab %s navigation to %s failed: %v", tabID, url, err)
		return err
	}
	tab.Touch()

	if elapsed := time.Since(start); t.opts.OperationTimeout > 0 && elapsed > t.opts.OperationTimeout/2 {
		t.logger.Warnf("slow navigation: tab %s took %v for %s", tabID, elapsed, url)
	}
	return nil
}

// CloseTab closes one tab and returns its admission slot. Closing an
// unknown tab in a known session is an error; closing a tab in a closed
// session is a no-op because the teardown already removed it.
func (t *Tracker) CloseTab(sessionID, tabID string) error {
	session, err := t.Get(sessionID)
	if err != nil {
		return err
	}

	session.mu.Lock()
	defer session.mu.Unlock()

	if session.status == StatusClosed {
		return nil
	}

	tab, exists := session.tabs[tabID]
	if !exists {
		return fmt.Errorf("%w: %s", ErrTabNotFound, tabID)
	}

	if err := tab.page.Close(); err != nil {
		t.logger.Errorf("tab %s close failed: %v", tabID, err)
	}
	delete(session.tabs, tabID)
	t.gov.ReleaseTab(sessionID)
	t.logger.Infof("tab %s closed in session %s", tabID, sessionID)
	return nil
}

// Suspend parks a session: it keeps its tabs and admission slot but
// accepts no new tabs. Suspending a session already past Active is a
// no-op.
func (t *Tracker) Suspend(sessionID string) error {
	session, err := t.Get(sessionID)
	if err != nil {
		return err
	}

	if session.advance(StatusSuspended) {
		t.logger.Infof("session %s suspended", sessionID)
	}
	return nil
}

// Close tears a session down: all tabs close before the session is marked
// Closed, its admission slots are returned, and the workflow becomes free
// to open a fresh session. Closing an already-closed session is a no-op.
// Logical closure never terminates OS processes; that is the cleanup
// executor's job, always explicit.
func (t *Tracker) Close(sessionID string) error {
	session, err := t.Get(sessionID)
	if err != nil {
		return err
	}
	return t.closeSession(session)
}

func (t *Tracker) closeSession(session *Session) error {
	if !session.advance(StatusClosing) {
		// Already Closing or Closed; idempotent.
		return nil
	}

	session.mu.Lock()
	for id, tab := range session.tabs {
		if err := tab.page.Close(); err != nil {
			t.logger.Errorf("tab %s close failed during teardown: %v", id, err)
		}
		delete(session.tabs, id)
	}
	context, browser := session.context, session.browser
	session.mu.Unlock()

	if err := context.Close(); err != nil {
		t.logger.Errorf("session %s context close failed: %v", session.ID, err)
	}
	if err := browser.Close(); err != nil {
		t.logger.Errorf("session %s browser close failed: %v", session.ID, err)
	}

	session.advance(StatusClosed)

	t.mu.Lock()
	if t.byWorkflow[session.WorkflowID] == session {
		delete(t.byWorkflow, session.WorkflowID)
	}
	t.mu.Unlock()
	t.gov.ReleaseSession(session.ID)

	t.logger.Infof("session %s closed", session.ID)
	return nil
}

// CloseAll closes every non-closed session.
func (t *Tracker) CloseAll() error {
	t.mu.RLock()
	sessions := make([]*Session, 0, len(t.sessions))
	for _, s := range t.sessions {
		sessions = append(sessions, s)
	}
	t.mu.RUnlock()

	var errs []error
	for _, s := range sessions {
		if err := t.closeSession(s); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("errors closing sessions: %v", errs)
	}
	return nil
}

// CloseIdle closes sessions whose every tab has been inactive past the
// idle timeout. Sessions with no tabs are judged by creation time.
func (t *Tracker) CloseIdle() error {
	if t.opts.IdleTimeout <= 0 {
		return nil
	}

	now := time.Now()
	t.mu.RLock()
	var idle []*Session
	for _, s := range t.sessions {
		if s.Status() >= StatusClosing {
			continue
		}
		if now.Sub(t.lastActivity(s)) > t.opts.IdleTimeout {
			idle = append(idle, s)
		}
	}
	t.mu.RUnlock()

	var errs []error
	for _, s := range idle {
		t.logger.Infof("closing idle session %s", s.ID)
		if err := t.closeSession(s); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("errors during idle sweep: %v", errs)
	}
	return nil
}

func (t *Tracker) lastActivity(s *Session) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	last := s.CreatedAt
	for _, tab := range s.tabs {
		if at := tab.LastActivityAt(); at.After(last) {
			last = at
		}
	}
	return last
}

// List returns a snapshot of all tracked sessions, including closed ones.
func (t *Tracker) List() []Info {
	t.mu.RLock()
	defer t.mu.RUnlock()

	infos := make([]Info, 0, len(t.sessions))
	for _, s := range t.sessions {
		infos = append(infos, Info{
			ID:          s.ID,
			WorkflowID:  s.WorkflowID,
			Status:      s.Status(),
			CreatedAt:   s.CreatedAt,
			TabCount:    s.TabCount(),
			MemoryBytes: s.memoryFootprint(),
		})
	}
	return infos
}

// Shutdown closes all sessions and stops the engine.
func (t *Tracker) Shutdown() error {
	if err := t.CloseAll(); err != nil {
		t.logger.Errorf("shutdown: %v", err)
	}
	if err := t.engine.Stop(); err != nil {
		return fmt.Errorf("failed to stop engine: %w", err)
	}
	return nil
}
