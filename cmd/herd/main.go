// Package main provides the herd supervisor daemon. It owns the browser
// fleet for one profile directory: it takes the profile lock, tracks
// sessions and tabs through the governor's ceilings, routes failures
// through the recovery engine, and sweeps idle sessions until shut down.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kiteai/herd/pkg/cleanup"
	"github.com/kiteai/herd/pkg/config"
	"github.com/kiteai/herd/pkg/governor"
	"github.com/kiteai/herd/pkg/logging"
	"github.com/kiteai/herd/pkg/procscan"
	"github.com/kiteai/herd/pkg/recovery"
	"github.com/kiteai/herd/pkg/session"
)

const version = "0.1.0"

// idleSweepInterval is how often the tracker checks for idle sessions.
const idleSweepInterval = 30 * time.Second

// CLIConfig holds command-line configuration
type CLIConfig struct {
	ConfigPath  string
	Workflow    string
	IdleTimeout time.Duration
	ShowVersion bool
}

func main() {
	cliConfig := parseFlags()

	if cliConfig.ShowVersion {
		fmt.Printf("herd v%s\n", version)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Println("\nShutting down gracefully...")
		cancel()
	}()

	if err := run(ctx, cliConfig); err != nil {
		cancel()
		log.Fatalf("Supervisor error: %v", err)
	}
	cancel()
}

// parseFlags parses command line flags
func parseFlags() *CLIConfig {
	cliConfig := &CLIConfig{}

	flag.StringVar(&cliConfig.ConfigPath, "config", "", "Path to supervisor configuration file (YAML)")
	flag.StringVar(&cliConfig.Workflow, "workflow", "", "Open a session for this workflow id and navigate to the URL arguments")
	flag.DurationVar(&cliConfig.IdleTimeout, "idle-timeout", 0, "Close sessions untouched for this long (0 disables the sweep)")
	flag.BoolVar(&cliConfig.ShowVersion, "version", false, "Show version and exit")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "herd - Browser fleet supervisor\n\n")
		fmt.Fprintf(os.Stderr, "Usage: herd [options] [url ...]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  # Run the supervisor with an idle sweep\n")
		fmt.Fprintf(os.Stderr, "  herd -config herd.yaml -idle-timeout 5m\n\n")
		fmt.Fprintf(os.Stderr, "  # Open a session and visit pages\n")
		fmt.Fprintf(os.Stderr, "  herd -workflow smoke https://example.com https://example.org\n")
	}

	flag.Parse()
	return cliConfig
}

// run executes the supervisor
func run(ctx context.Context, cliConfig *CLIConfig) error {
	cfg, err := config.Load(cliConfig.ConfigPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger, logErr := logging.NewLogger("supervisor")
	if logErr == nil {
		fmt.Printf("herd v%s\n", version)
		fmt.Printf("Run ID: %s\n", logger.RunID())
		fmt.Printf("Logs:   %s\n", logger.LogPath())
	}
	defer logger.Close()

	scanner := procscan.NewSystemScanner()
	policy := cfg.Policy()
	cleaner := cleanup.NewExecutor(scanner, policy, cleanup.OSSignaler{}, cfg.GracePeriod.Duration(), logger)
	recoverer := recovery.NewEngine(cleaner, scanner, policy,
		recovery.Options{SettleDelay: cfg.SettleDelay.Duration()}, logger)

	lock, err := acquireProfile(ctx, cfg, recoverer, logger)
	if err != nil {
		return err
	}
	defer lock.Release()

	engine, err := session.NewPlaywrightEngine()
	if err != nil {
		return fmt.Errorf("starting browser engine: %w", err)
	}

	gov := governor.New(cfg.MaxSessions, cfg.MaxTabsPerSession)
	gov.SetLogger(logger)

	tracker := session.NewTracker(engine, gov, session.Options{
		Headless:         cfg.Headless,
		ProfileDir:       cfg.ProfileDir,
		OperationTimeout: cfg.OperationTimeout.Duration(),
		IdleTimeout:      cliConfig.IdleTimeout,
	}, logger)
	defer tracker.Shutdown()

	if cliConfig.Workflow != "" {
		if err := visit(ctx, cfg, tracker, recoverer, cliConfig.Workflow, flag.Args()); err != nil {
			return err
		}
	}
	if cliConfig.Workflow != "" && cliConfig.IdleTimeout <= 0 {
		// One-shot invocation, nothing left to supervise.
		return nil
	}

	return supervise(ctx, tracker, cliConfig.IdleTimeout, logger)
}

// acquireProfile takes the profile lock, routing a held lock through the
// recovery engine: clean up stale disposable holders, settle, retry once.
func acquireProfile(ctx context.Context, cfg *config.Config, recoverer *recovery.Engine, logger *logging.Logger) (*session.ProfileLock, error) {
	lock, err := session.NewProfileLock(cfg.ProfileDir)
	if err != nil {
		return nil, err
	}

	err = lock.Acquire()
	if err == nil {
		return lock, nil
	}
	if !errors.Is(err, session.ErrProfileLocked) {
		return nil, err
	}

	logger.Warnf("profile %s is locked, attempting recovery", cfg.ProfileDir)
	_, err = recoverer.Recover(ctx, recovery.LockConflict, err,
		func(ctx context.Context, attempt int) error {
			return lock.Acquire()
		})
	if err != nil {
		return nil, fmt.Errorf("profile lock unrecoverable: %w", err)
	}
	return lock, nil
}

// visit opens one session for the workflow and navigates a tab through the
// given URLs, each under the operation timeout with one recovery retry.
// A retry never reuses the session that timed out: the old one is torn
// down and the navigation reruns in a freshly opened session and tab.
func visit(ctx context.Context, cfg *config.Config, tracker *session.Tracker, recoverer *recovery.Engine, workflow string, urls []string) error {
	sess, err := tracker.Open(workflow)
	if err != nil {
		return fmt.Errorf("opening session for workflow %s: %w", workflow, err)
	}
	defer func() { tracker.Close(sess.ID) }()

	tab, err := tracker.OpenTab(sess.ID)
	if err != nil {
		return fmt.Errorf("opening tab: %w", err)
	}

	for _, url := range urls {
		_, err := recoverer.RunWithTimeout(ctx, cfg.OperationTimeout.Duration(),
			func(ctx context.Context, attempt int) error {
				if attempt > 1 {
					// The timed-out session may be wedged; rebuild it
					// before retrying.
					if err := tracker.Close(sess.ID); err != nil {
						return err
					}
					fresh, err := tracker.Open(workflow)
					if err != nil {
						return err
					}
					freshTab, err := tracker.OpenTab(fresh.ID)
					if err != nil {
						return err
					}
					sess, tab = fresh, freshTab
				}
				return tracker.Navigate(sess.ID, tab.ID, url)
			})
		if err != nil {
			return fmt.Errorf("navigating to %s: %w", url, err)
		}
		fmt.Printf("visited %s\n", url)
	}
	return nil
}

// supervise runs the idle sweep until the context is cancelled.
func supervise(ctx context.Context, tracker *session.Tracker, idleTimeout time.Duration, logger *logging.Logger) error {
	logger.Infof("supervisor running, idle timeout %v", idleTimeout)

	ticker := time.NewTicker(idleSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Infof("supervisor stopping")
			return nil
		case <-ticker.C:
			if err := tracker.CloseIdle(); err != nil {
				logger.Errorf("idle sweep: %v", err)
			}
		}
	}
}
