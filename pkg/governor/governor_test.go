package governor

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdmitSessionUpToCeiling(t *testing.T) {
	g := New(3, 5)

	for i := 0; i < 3; i++ {
		d := g.AdmitSession()
		require.True(t, d.Granted, "admission %d should be granted", i)
	}

	d := g.AdmitSession()
	assert.False(t, d.Granted)
	assert.Equal(t, SessionCeiling, d.Reason)
}

func TestConcurrentSessionAdmissionNeverExceedsCeiling(t *testing.T) {
	g := New(3, 5)

	const requests = 4
	decisions := make([]Decision, requests)

	var wg sync.WaitGroup
	for i := 0; i < requests; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			decisions[i] = g.AdmitSession()
		}(i)
	}
	wg.Wait()

	granted, denied := 0, 0
	for _, d := range decisions {
		if d.Granted {
			granted++
		} else {
			denied++
			assert.Equal(t, SessionCeiling, d.Reason)
		}
	}
	assert.Equal(t, 3, granted)
	assert.Equal(t, 1, denied)
}

func TestConcurrentTabAdmissionNeverExceedsCeiling(t *testing.T) {
	g := New(3, 5)
	require.True(t, g.AdmitSession().Granted)

	const requests = 8
	results := make(chan Decision, requests)

	var wg sync.WaitGroup
	for i := 0; i < requests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- g.AdmitTab("s1")
		}()
	}
	wg.Wait()
	close(results)

	granted := 0
	for d := range results {
		if d.Granted {
			granted++
		} else {
			assert.Equal(t, TabCeiling, d.Reason)
		}
	}
	assert.Equal(t, 5, granted)
}

func TestTabCeilingIsPerSession(t *testing.T) {
	g := New(3, 2)
	g.AdmitSession()
	g.AdmitSession()

	require.True(t, g.AdmitTab("s1").Granted)
	require.True(t, g.AdmitTab("s1").Granted)
	assert.False(t, g.AdmitTab("s1").Granted)

	// A second session has its own budget.
	assert.True(t, g.AdmitTab("s2").Granted)
}

func TestReleaseSessionFreesSlotAndTabBookkeeping(t *testing.T) {
	g := New(1, 1)

	require.True(t, g.AdmitSession().Granted)
	require.True(t, g.AdmitTab("s1").Granted)
	assert.False(t, g.AdmitSession().Granted)

	g.ReleaseSession("s1")

	sessions, tabs := g.InUse()
	assert.Zero(t, sessions)
	assert.Zero(t, tabs)
	assert.True(t, g.AdmitSession().Granted)
	assert.True(t, g.AdmitTab("s1").Granted)
}

func TestReleaseTabFreesSlot(t *testing.T) {
	g := New(1, 1)
	g.AdmitSession()

	require.True(t, g.AdmitTab("s1").Granted)
	require.False(t, g.AdmitTab("s1").Granted)

	g.ReleaseTab("s1")
	assert.True(t, g.AdmitTab("s1").Granted)
}

func TestReleaseBelowZeroClamps(t *testing.T) {
	g := New(2, 2)

	g.ReleaseSession("never-admitted")
	g.ReleaseTab("never-admitted")

	sessions, tabs := g.InUse()
	assert.Zero(t, sessions)
	assert.Zero(t, tabs)
}

func TestDefaultsApplied(t *testing.T) {
	g := New(0, -1)

	for i := 0; i < DefaultMaxSessions; i++ {
		require.True(t, g.AdmitSession().Granted)
	}
	assert.False(t, g.AdmitSession().Granted)

	for i := 0; i < DefaultMaxTabsPerSession; i++ {
		require.True(t, g.AdmitTab("s1").Granted, fmt.Sprintf("tab %d", i))
	}
	assert.False(t, g.AdmitTab("s1").Granted)
}

func TestNearCeilingWarning(t *testing.T) {
	g := New(2, 2)
	logger := &captureLogger{}
	g.SetLogger(logger)

	g.AdmitSession()
	assert.Zero(t, logger.count())
	g.AdmitSession()
	assert.Equal(t, 1, logger.count())
}

type captureLogger struct {
	mu    sync.Mutex
	warns int
}

func (l *captureLogger) Warnf(format string, v ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warns++
}

func (l *captureLogger) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.warns
}
