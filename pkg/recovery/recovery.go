// Package recovery drives the bounded-retry state machine for failed
// browser operations. Each failure event runs Detected -> Retrying ->
// {Recovered, Escalated}; retries happen at most once per event and are
// separated by a fixed settle delay, never an open-ended loop.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kiteai/herd/pkg/cleanup"
	"github.com/kiteai/herd/pkg/procscan"
)

// Errors surfaced when an event cannot be recovered. Both are terminal
// for the operation; the caller decides whether to restart the whole
// supervisor process.
var (
	// ErrEscalated means the retry failed too and the failure is final
	// for this operation.
	ErrEscalated = errors.New("recovery escalated")

	// ErrPersistentLock means the profile lock survived a cleanup of its
	// Disposable holders.
	ErrPersistentLock = errors.New("profile lock persists after cleanup")
)

// Trigger is the failure condition that started a recovery attempt.
type Trigger int

const (
	// Timeout means an operation exceeded its deadline.
	Timeout Trigger = iota

	// Disconnect means the control channel to the automation-control
	// process was lost.
	Disconnect

	// LockConflict means the profile directory is held by a stale
	// process.
	LockConflict
)

// String returns the trigger name.
func (t Trigger) String() string {
	switch t {
	case Disconnect:
		return "disconnect"
	case LockConflict:
		return "lock-conflict"
	default:
		return "timeout"
	}
}

// State is the recovery state machine position.
type State int

const (
	Detected State = iota
	Retrying
	Recovered
	Escalated
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case Retrying:
		return "retrying"
	case Recovered:
		return "recovered"
	case Escalated:
		return "escalated"
	default:
		return "detected"
	}
}

// Attempt records one recovery event for the caller. On escalation it
// carries the last error and a classification snapshot taken right after
// the final failure, so the caller can see what the process table looked
// like when recovery gave up.
type Attempt struct {
	Trigger  Trigger
	State    State
	Attempts int
	Outcome  error
	Snapshot []procscan.ProcessRecord
}

// Logger is the subset of the logging interface the engine emits on.
type Logger interface {
	Debugf(format string, v ...interface{})
	Infof(format string, v ...interface{})
	Warnf(format string, v ...interface{})
	Errorf(format string, v ...interface{})
}

// Operation is the failed action to retry. The attempt number is 1-based
// and counts the original failure, so a retry sees attempt == 2. For
// Timeout and Disconnect triggers the operation is expected to build a
// fresh session rather than reuse the one that failed.
type Operation func(ctx context.Context, attempt int) error

// Options configure an engine.
type Options struct {
	// SettleDelay is the fixed pause before each retry. Zero defaults to
	// 2.5 seconds.
	SettleDelay time.Duration
}

// Engine runs recovery for failure events. It consults the process
// registry and cleanup executor for lock conflicts but never terminates
// processes on its own.
type Engine struct {
	settle  time.Duration
	cleaner *cleanup.Executor
	scanner procscan.Scanner
	policy  procscan.Policy
	logger  Logger

	// sleep is swappable in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewEngine creates a recovery engine.
func NewEngine(cleaner *cleanup.Executor, scanner procscan.Scanner, policy procscan.Policy, opts Options, logger Logger) *Engine {
	settle := opts.SettleDelay
	if settle <= 0 {
		settle = 2500 * time.Millisecond
	}
	return &Engine{
		settle:  settle,
		cleaner: cleaner,
		scanner: scanner,
		policy:  policy,
		logger:  logger,
		sleep:   sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// Recover handles one failure event. The operation has already failed
// once with firstErr; Recover performs the trigger-specific corrective
// action, retries exactly once, and reports the outcome. The returned
// error is nil on recovery; every escalation wraps ErrEscalated, and a
// lock that survives cleanup additionally wraps ErrPersistentLock. It is
// never used for control flow above this layer.
func (e *Engine) Recover(ctx context.Context, trigger Trigger, firstErr error, op Operation) (*Attempt, error) {
	attempt := &Attempt{Trigger: trigger, State: Detected, Attempts: 1, Outcome: firstErr}
	e.logger.Warnf("recovery: %s detected: %v", trigger, firstErr)

	if trigger == LockConflict {
		// Remove the Disposable holders before retrying.
		if _, err := e.cleaner.Run(ctx, cleanup.Live); err != nil {
			return e.escalate(attempt, fmt.Errorf("%w: lock-holder cleanup failed: %w", ErrEscalated, err))
		}
	}

	e.logger.Infof("recovery: settling %v before retry", e.settle)
	if err := e.sleep(ctx, e.settle); err != nil {
		return e.escalate(attempt, fmt.Errorf("%w: %w", ErrEscalated, err))
	}

	attempt.State = Retrying
	attempt.Attempts++
	retryErr := op(ctx, attempt.Attempts)
	if retryErr == nil {
		attempt.State = Recovered
		attempt.Outcome = nil
		e.logger.Infof("recovery: %s recovered on attempt %d", trigger, attempt.Attempts)
		return attempt, nil
	}

	if trigger == LockConflict {
		return e.escalate(attempt, fmt.Errorf("%w: %w: %v", ErrEscalated, ErrPersistentLock, retryErr))
	}
	return e.escalate(attempt, fmt.Errorf("%w: %s failed %d times: %v", ErrEscalated, trigger, attempt.Attempts, retryErr))
}

// escalate finalizes a failed attempt with a fresh classification
// snapshot for the caller's post-mortem.
func (e *Engine) escalate(attempt *Attempt, err error) (*Attempt, error) {
	attempt.State = Escalated
	attempt.Outcome = err

	if snapshot, snapErr := procscan.Snapshot(e.scanner, e.policy); snapErr == nil {
		attempt.Snapshot = snapshot
	} else {
		e.logger.Errorf("recovery: escalation snapshot failed: %v", snapErr)
	}

	e.logger.Errorf("recovery: %s escalated after %d attempts: %v", attempt.Trigger, attempt.Attempts, err)
	return attempt, err
}

// RunWithTimeout executes op under the given deadline and routes a
// deadline overrun through recovery as a Timeout trigger. Other errors
// are returned untouched for the caller to classify.
func (e *Engine) RunWithTimeout(ctx context.Context, timeout time.Duration, op Operation) (*Attempt, error) {
	runOnce := func(ctx context.Context, attempt int) error {
		opCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return op(opCtx, attempt)
	}

	err := runOnce(ctx, 1)
	if err == nil {
		return &Attempt{Trigger: Timeout, State: Recovered, Attempts: 1}, nil
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		return nil, err
	}
	return e.Recover(ctx, Timeout, err, runOnce)
}
