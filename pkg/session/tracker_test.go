package session

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiteai/herd/pkg/governor"
)

// fakeEngine implements Engine without any real browser.
type fakeEngine struct {
	mu        sync.Mutex
	launches  int
	launchErr error
	stopped   bool
}

func (e *fakeEngine) Launch(opts LaunchOptions) (Browser, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.launchErr != nil {
		return nil, e.launchErr
	}
	e.launches++
	return &fakeBrowser{}, nil
}

func (e *fakeEngine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopped = true
	return nil
}

type fakeBrowser struct {
	mu     sync.Mutex
	closed bool
}

func (b *fakeBrowser) NewContext() (BrowserContext, error) {
	return &fakeContext{}, nil
}

func (b *fakeBrowser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

type fakeContext struct {
	mu     sync.Mutex
	pages  int
	closed bool
}

func (c *fakeContext) NewPage() (Page, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pages++
	return &fakePage{url: "about:blank"}, nil
}

func (c *fakeContext) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

type fakePage struct {
	mu      sync.Mutex
	url     string
	closed  bool
	gotoErr error
}

func (p *fakePage) Goto(url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.gotoErr != nil {
		return p.gotoErr
	}
	p.url = url
	return nil
}

func (p *fakePage) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url
}

func (p *fakePage) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// nopLogger satisfies Logger for tests.
type nopLogger struct{}

func (nopLogger) Debugf(format string, v ...interface{}) {}
func (nopLogger) Infof(format string, v ...interface{})  {}
func (nopLogger) Warnf(format string, v ...interface{})  {}
func (nopLogger) Errorf(format string, v ...interface{}) {}

func newTestTracker(maxSessions, maxTabs int) (*Tracker, *fakeEngine) {
	engine := &fakeEngine{}
	gov := governor.New(maxSessions, maxTabs)
	tracker := NewTracker(engine, gov, Options{
		Headless:         true,
		ProfileDir:       "/tmp/mcp-chrome-profile",
		OperationTimeout: 30 * time.Second,
	}, nopLogger{})
	return tracker, engine
}

func TestOpenSession(t *testing.T) {
	tracker, engine := newTestTracker(3, 5)

	session, err := tracker.Open("W1")
	require.NoError(t, err)
	assert.NotEmpty(t, session.ID)
	assert.Equal(t, "W1", session.WorkflowID)
	assert.Equal(t, StatusActive, session.Status())
	assert.Equal(t, 1, engine.launches)
}

func TestOpenSessionWorkflowConflict(t *testing.T) {
	tracker, _ := newTestTracker(3, 5)

	_, err := tracker.Open("W1")
	require.NoError(t, err)

	_, err = tracker.Open("W1")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrWorkflowConflict)
}

func TestOpenSessionAfterCloseReleasesWorkflow(t *testing.T) {
	tracker, _ := newTestTracker(3, 5)

	first, err := tracker.Open("W1")
	require.NoError(t, err)
	require.NoError(t, tracker.Close(first.ID))

	second, err := tracker.Open("W1")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestOpenSessionCapacityExceeded(t *testing.T) {
	tracker, _ := newTestTracker(2, 5)

	_, err := tracker.Open("W1")
	require.NoError(t, err)
	_, err = tracker.Open("W2")
	require.NoError(t, err)

	_, err = tracker.Open("W3")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCapacityExceeded)
}

func TestOpenSessionLaunchFailureReleasesSlot(t *testing.T) {
	tracker, engine := newTestTracker(1, 5)
	engine.launchErr = errors.New("no executable")

	_, err := tracker.Open("W1")
	require.Error(t, err)

	// The admission slot must not leak; a later open succeeds.
	engine.launchErr = nil
	_, err = tracker.Open("W1")
	assert.NoError(t, err)
}

func TestOpenTabUpToCeiling(t *testing.T) {
	tracker, _ := newTestTracker(3, 2)

	session, err := tracker.Open("W1")
	require.NoError(t, err)

	_, err = tracker.OpenTab(session.ID)
	require.NoError(t, err)
	_, err = tracker.OpenTab(session.ID)
	require.NoError(t, err)

	_, err = tracker.OpenTab(session.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTabLimitExceeded)
}

func TestOpenTabUnknownSession(t *testing.T) {
	tracker, _ := newTestTracker(3, 5)

	_, err := tracker.OpenTab("no-such-session")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestCloseTabReleasesSlot(t *testing.T) {
	tracker, _ := newTestTracker(3, 1)

	session, err := tracker.Open("W1")
	require.NoError(t, err)

	tab, err := tracker.OpenTab(session.ID)
	require.NoError(t, err)
	_, err = tracker.OpenTab(session.ID)
	require.ErrorIs(t, err, ErrTabLimitExceeded)

	require.NoError(t, tracker.CloseTab(session.ID, tab.ID))
	_, err = tracker.OpenTab(session.ID)
	assert.NoError(t, err)
}

func TestCloseTabUnknownTab(t *testing.T) {
	tracker, _ := newTestTracker(3, 5)

	session, err := tracker.Open("W1")
	require.NoError(t, err)

	err = tracker.CloseTab(session.ID, "no-such-tab")
	assert.ErrorIs(t, err, ErrTabNotFound)
}

func TestNavigateUpdatesActivity(t *testing.T) {
	tracker, _ := newTestTracker(3, 5)

	session, err := tracker.Open("W1")
	require.NoError(t, err)
	tab, err := tracker.OpenTab(session.ID)
	require.NoError(t, err)

	before := tab.LastActivityAt()
	time.Sleep(5 * time.Millisecond)

	require.NoError(t, tracker.Navigate(session.ID, tab.ID, "https://example.com"))
	assert.Equal(t, "https://example.com", tab.URL())
	assert.True(t, tab.LastActivityAt().After(before))
}

func TestCloseSessionCascades(t *testing.T) {
	tracker, _ := newTestTracker(3, 5)

	session, err := tracker.Open("W1")
	require.NoError(t, err)
	_, err = tracker.OpenTab(session.ID)
	require.NoError(t, err)
	_, err = tracker.OpenTab(session.ID)
	require.NoError(t, err)

	require.NoError(t, tracker.Close(session.ID))

	assert.Equal(t, StatusClosed, session.Status())
	assert.Zero(t, session.TabCount())
}

func TestCloseSessionIdempotent(t *testing.T) {
	tracker, _ := newTestTracker(3, 5)

	session, err := tracker.Open("W1")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, tracker.Close(session.ID), "close attempt %d", i+1)
		assert.Equal(t, StatusClosed, session.Status())
	}

	// Repeated closes must not corrupt governor bookkeeping.
	for i := 0; i < 3; i++ {
		s, err := tracker.Open(fmt.Sprintf("W%d", i+2))
		require.NoError(t, err)
		require.NotNil(t, s)
	}
}

func TestCloseUnknownSession(t *testing.T) {
	tracker, _ := newTestTracker(3, 5)

	err := tracker.Close("no-such-session")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestSuspendedSessionRefusesTabs(t *testing.T) {
	tracker, _ := newTestTracker(3, 5)

	session, err := tracker.Open("W1")
	require.NoError(t, err)
	require.NoError(t, tracker.Suspend(session.ID))

	_, err = tracker.OpenTab(session.ID)
	assert.ErrorIs(t, err, ErrSessionNotActive)
}

func TestStatusTransitionsAreMonotonic(t *testing.T) {
	tracker, _ := newTestTracker(3, 5)

	session, err := tracker.Open("W1")
	require.NoError(t, err)

	require.NoError(t, tracker.Close(session.ID))
	assert.Equal(t, StatusClosed, session.Status())

	// Suspend after close must not move the status backward.
	require.NoError(t, tracker.Suspend(session.ID))
	assert.Equal(t, StatusClosed, session.Status())
}

func TestCloseAll(t *testing.T) {
	tracker, _ := newTestTracker(3, 5)

	s1, err := tracker.Open("W1")
	require.NoError(t, err)
	s2, err := tracker.Open("W2")
	require.NoError(t, err)

	require.NoError(t, tracker.CloseAll())
	assert.Equal(t, StatusClosed, s1.Status())
	assert.Equal(t, StatusClosed, s2.Status())
}

func TestCloseIdle(t *testing.T) {
	engine := &fakeEngine{}
	gov := governor.New(3, 5)
	tracker := NewTracker(engine, gov, Options{
		ProfileDir:  "/tmp/mcp-chrome-profile",
		IdleTimeout: 10 * time.Millisecond,
	}, nopLogger{})

	session, err := tracker.Open("W1")
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, tracker.CloseIdle())
	assert.Equal(t, StatusClosed, session.Status())
}

func TestCloseIdleSkipsActiveSessions(t *testing.T) {
	engine := &fakeEngine{}
	gov := governor.New(3, 5)
	tracker := NewTracker(engine, gov, Options{
		ProfileDir:  "/tmp/mcp-chrome-profile",
		IdleTimeout: time.Hour,
	}, nopLogger{})

	session, err := tracker.Open("W1")
	require.NoError(t, err)

	require.NoError(t, tracker.CloseIdle())
	assert.Equal(t, StatusActive, session.Status())
}

func TestList(t *testing.T) {
	tracker, _ := newTestTracker(3, 5)

	session, err := tracker.Open("W1")
	require.NoError(t, err)
	_, err = tracker.OpenTab(session.ID)
	require.NoError(t, err)

	infos := tracker.List()
	require.Len(t, infos, 1)
	assert.Equal(t, session.ID, infos[0].ID)
	assert.Equal(t, "W1", infos[0].WorkflowID)
	assert.Equal(t, StatusActive, infos[0].Status)
	assert.Equal(t, 1, infos[0].TabCount)
}

func TestListReportsMemoryFootprint(t *testing.T) {
	tracker, _ := newTestTracker(3, 5)

	session, err := tracker.Open("W1")
	require.NoError(t, err)

	first, err := tracker.OpenTab(session.ID)
	require.NoError(t, err)
	second, err := tracker.OpenTab(session.ID)
	require.NoError(t, err)

	first.SetMemoryEstimate(64 << 20)
	second.SetMemoryEstimate(32 << 20)
	assert.Equal(t, int64(64<<20), first.MemoryEstimate())

	infos := tracker.List()
	require.Len(t, infos, 1)
	assert.Equal(t, int64(96<<20), infos[0].MemoryBytes)

	// Closing a tab drops its share of the footprint.
	require.NoError(t, tracker.CloseTab(session.ID, second.ID))
	infos = tracker.List()
	assert.Equal(t, int64(64<<20), infos[0].MemoryBytes)
}

func TestShutdownStopsEngine(t *testing.T) {
	tracker, engine := newTestTracker(3, 5)

	_, err := tracker.Open("W1")
	require.NoError(t, err)

	require.NoError(t, tracker.Shutdown())
	assert.True(t, engine.stopped)
}

func TestConcurrentOpensRespectCeiling(t *testing.T) {
	tracker, _ := newTestTracker(3, 5)

	const workflows = 6
	errs := make([]error, workflows)

	var wg sync.WaitGroup
	for i := 0; i < workflows; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = tracker.Open(fmt.Sprintf("W%d", i))
		}(i)
	}
	wg.Wait()

	opened := 0
	for _, err := range errs {
		if err == nil {
			opened++
		} else {
			assert.ErrorIs(t, err, ErrCapacityExceeded)
		}
	}
	assert.Equal(t, 3, opened)
}
