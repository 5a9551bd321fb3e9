// Package cleanup implements the privileged operation of the supervisor:
// terminating Disposable browser worker processes while provably leaving
// the Protected control-channel processes untouched.
package cleanup

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kiteai/herd/pkg/procscan"
)

// ErrSupervisorPreservation is the fatal internal error raised when a
// post-cleanup scan shows a Protected process is gone. It indicates a
// policy or scan bug, aborts the cleanup immediately, and must never be
// swallowed.
var ErrSupervisorPreservation = errors.New("supervisor preservation violated: protected process terminated")

// Mode selects what a cleanup run is allowed to do.
type Mode int

const (
	// Live signals Disposable processes for real.
	Live Mode = iota

	// DryRun reports what Live would do without signaling anything.
	DryRun

	// VerifyOnly performs only the confirmation scan, for use after an
	// external or manual cleanup.
	VerifyOnly
)

// String returns the mode name.
func (m Mode) String() string {
	switch m {
	case DryRun:
		return "dry-run"
	case VerifyOnly:
		return "verify-only"
	default:
		return "live"
	}
}

// Report is the outcome of one cleanup invocation. In DryRun mode,
// Terminated lists the processes that would have been signaled.
type Report struct {
	Mode       Mode
	Terminated []procscan.ProcessRecord
	Preserved  []procscan.ProcessRecord
	Errors     []procscan.ProcessRecord
}

// Logger is the subset of the logging interface the executor emits on.
type Logger interface {
	Debugf(format string, v ...interface{})
	Infof(format string, v ...interface{})
	Warnf(format string, v ...interface{})
	Errorf(format string, v ...interface{})
}

// Executor performs cleanup runs. Invocations are serialized under a
// single lock: two concurrent scans racing in-flight terminations could
// misclassify a just-spawned replacement process.
type Executor struct {
	mu       sync.Mutex
	scanner  procscan.Scanner
	policy   procscan.Policy
	signaler Signaler
	grace    time.Duration
	logger   Logger
}

// pollInterval is how often the grace-period wait rechecks liveness.
const pollInterval = 100 * time.Millisecond

// NewExecutor creates a cleanup executor. A zero grace period defaults to
// five seconds, matching how long a healthy Chromium needs to unwind.
func NewExecutor(scanner procscan.Scanner, policy procscan.Policy, signaler Signaler, grace time.Duration, logger Logger) *Executor {
	if grace <= 0 {
		grace = 5 * time.Second
	}
	return &Executor{
		scanner:  scanner,
		policy:   policy,
		signaler: signaler,
		grace:    grace,
		logger:   logger,
	}
}

// Run executes one cleanup pass in the given mode. Classification is
// derived from a fresh scan on every call; nothing carries over from
// earlier invocations.
func (e *Executor) Run(ctx context.Context, mode Mode) (*Report, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	records, err := procscan.Snapshot(e.scanner, e.policy)
	if err != nil {
		return nil, err
	}

	report := &Report{Mode: mode}
	var targets []procscan.ProcessRecord
	protectedBefore := make(map[int]procscan.ProcessRecord)
	for _, rec := range records {
		switch rec.Class {
		case procscan.Disposable:
			targets = append(targets, rec)
		case procscan.Protected:
			protectedBefore[rec.PID] = rec
			report.Preserved = append(report.Preserved, rec)
		}
	}

	switch mode {
	case VerifyOnly:
		return e.verify(report, targets, protectedBefore)
	case DryRun:
		for _, rec := range targets {
			e.logger.Infof("would terminate %s", rec)
		}
		report.Terminated = targets
		return report, nil
	}

	e.logger.Infof("cleanup starting: %d disposable targets, %d protected", len(targets), len(protectedBefore))
	report.Terminated, report.Errors = e.terminate(ctx, targets)

	// Post-condition: every Protected process seen before the pass must
	// still be alive afterwards.
	after, err := procscan.Snapshot(e.scanner, e.policy)
	if err != nil {
		return report, fmt.Errorf("post-cleanup scan failed: %w", err)
	}
	alive := make(map[int]bool, len(after))
	for _, rec := range after {
		alive[rec.PID] = true
	}
	for pid, rec := range protectedBefore {
		if !alive[pid] {
			e.logger.Errorf("protected process %s is gone after cleanup", rec)
			return report, fmt.Errorf("%w: %s", ErrSupervisorPreservation, rec)
		}
	}

	e.logger.Infof("cleanup done: %d terminated, %d preserved, %d errors",
		len(report.Terminated), len(report.Preserved), len(report.Errors))
	return report, nil
}

// verify implements VerifyOnly: no signaling, just judge the current
// process set. Leftover Disposable processes mean the prior cleanup did
// not finish; zero Protected survivors while workers remain means it took
// the supervisor down with them.
func (e *Executor) verify(report *Report, targets []procscan.ProcessRecord, protected map[int]procscan.ProcessRecord) (*Report, error) {
	report.Errors = targets
	for _, rec := range targets {
		e.logger.Warnf("disposable process still running: %s", rec)
	}
	if len(targets) > 0 && len(protected) == 0 {
		return report, fmt.Errorf("%w: no protected process survived", ErrSupervisorPreservation)
	}
	return report, nil
}

// terminate signals every target gracefully, waits out the grace period,
// and force-kills stragglers. A target that vanished before we signaled
// it counts as terminated; one that survives SIGKILL or cannot be
// signaled lands in errs.
func (e *Executor) terminate(ctx context.Context, targets []procscan.ProcessRecord) (terminated, errs []procscan.ProcessRecord) {
	var pending []procscan.ProcessRecord
	for _, rec := range targets {
		e.logger.Infof("terminating %s", rec)
		if err := e.signaler.Term(rec.PID); err != nil {
			if IsGone(err) {
				terminated = append(terminated, rec)
				continue
			}
			e.logger.Errorf("failed to signal %s: %v", rec, err)
			errs = append(errs, rec)
			continue
		}
		pending = append(pending, rec)
	}

	pending, done := e.awaitExit(ctx, pending)
	terminated = append(terminated, done...)

	for _, rec := range pending {
		e.logger.Warnf("%s ignored the grace period, killing", rec)
		if err := e.signaler.Kill(rec.PID); err != nil && !IsGone(err) {
			e.logger.Errorf("failed to kill %s: %v", rec, err)
			errs = append(errs, rec)
			continue
		}
		if e.waitGone(ctx, rec.PID) {
			terminated = append(terminated, rec)
		} else {
			errs = append(errs, rec)
		}
	}
	return terminated, errs
}

// awaitExit polls the pending set until every process exits or the grace
// period ends, returning survivors and the exited.
func (e *Executor) awaitExit(ctx context.Context, pending []procscan.ProcessRecord) (alive, done []procscan.ProcessRecord) {
	deadline := time.Now().Add(e.grace)
	alive = pending
	for len(alive) > 0 && time.Now().Before(deadline) {
		var still []procscan.ProcessRecord
		for _, rec := range alive {
			if e.signaler.Alive(rec.PID) {
				still = append(still, rec)
			} else {
				done = append(done, rec)
			}
		}
		alive = still
		if len(alive) == 0 {
			break
		}
		select {
		case <-ctx.Done():
			return alive, done
		case <-time.After(pollInterval):
		}
	}

	var still []procscan.ProcessRecord
	for _, rec := range alive {
		if e.signaler.Alive(rec.PID) {
			still = append(still, rec)
		} else {
			done = append(done, rec)
		}
	}
	return still, done
}

// waitGone gives a force-killed process one grace period to disappear.
func (e *Executor) waitGone(ctx context.Context, pid int) bool {
	deadline := time.Now().Add(e.grace)
	for time.Now().Before(deadline) {
		if !e.signaler.Alive(pid) {
			return true
		}
		select {
		case <-ctx.Done():
			return !e.signaler.Alive(pid)
		case <-time.After(pollInterval):
		}
	}
	return !e.signaler.Alive(pid)
}
