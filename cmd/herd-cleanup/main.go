// Package main provides the herd-cleanup command, the operational entry
// point of the supervisor's cleanup executor. It scans the process table,
// classifies browser automation processes, and terminates the disposable
// workers while preserving the automation-control processes.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gofrs/flock"

	"github.com/kiteai/herd/pkg/cleanup"
	"github.com/kiteai/herd/pkg/config"
	"github.com/kiteai/herd/pkg/logging"
	"github.com/kiteai/herd/pkg/procscan"
)

const version = "0.1.0"

// Exit codes mirror the supervisor's cleanup contract: non-zero means an
// operator or calling script must not assume the fleet is clean.
const (
	exitOK          = 0 // cleanup succeeded or nothing needed doing
	exitInterrupted = 1 // interrupted by signal
	exitFailure     = 2 // cleanup failed, verification failed, or preservation violated
)

// cleanupLockName lives in the profile root so concurrent herd-cleanup
// invocations exclude each other without blocking a live supervisor.
const cleanupLockName = "herd-cleanup.lock"

// Options holds the command configuration.
type Options struct {
	ConfigPath  string
	DryRun      bool
	VerifyOnly  bool
	Verbose     bool
	Grace       time.Duration
	ShowVersion bool
}

func main() {
	opts := parseFlags()

	if opts.ShowVersion {
		fmt.Printf("herd-cleanup v%s\n", version)
		return
	}

	if err := opts.validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitFailure)
	}

	ctx, cancel := context.WithCancel(context.Background())

	interrupted := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Fprintln(os.Stderr, "\nInterrupted, stopping cleanup...")
		close(interrupted)
		cancel()
	}()

	err := run(ctx, opts)
	cancel()

	select {
	case <-interrupted:
		os.Exit(exitInterrupted)
	default:
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitFailure)
	}
}

// parseFlags parses command line flags
func parseFlags() *Options {
	opts := &Options{}

	flag.StringVar(&opts.ConfigPath, "config", "", "Path to supervisor configuration file (YAML)")
	flag.BoolVar(&opts.DryRun, "dry-run", false, "Report what would be terminated without signaling anything")
	flag.BoolVar(&opts.VerifyOnly, "verify-only", false, "Only verify that no disposable processes remain")
	flag.BoolVar(&opts.Verbose, "verbose", false, "Print each affected process to stdout")
	flag.DurationVar(&opts.Grace, "grace", 0, "Grace period between SIGTERM and SIGKILL (overrides config)")
	flag.BoolVar(&opts.ShowVersion, "version", false, "Show version and exit")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "herd-cleanup - Terminate stale browser automation workers\n\n")
		fmt.Fprintf(os.Stderr, "Usage: herd-cleanup [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExit codes:\n")
		fmt.Fprintf(os.Stderr, "  0  cleanup succeeded or nothing to clean\n")
		fmt.Fprintf(os.Stderr, "  1  interrupted\n")
		fmt.Fprintf(os.Stderr, "  2  cleanup or verification failed\n")
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  herd-cleanup                         # terminate stale workers\n")
		fmt.Fprintf(os.Stderr, "  herd-cleanup -dry-run -verbose       # preview the targets\n")
		fmt.Fprintf(os.Stderr, "  herd-cleanup -verify-only            # confirm a prior cleanup finished\n")
		fmt.Fprintf(os.Stderr, "  herd-cleanup -config herd.yaml -grace 10s\n")
	}

	flag.Parse()
	return opts
}

// validate checks that the flag combination is usable
func (o *Options) validate() error {
	if o.DryRun && o.VerifyOnly {
		return fmt.Errorf("-dry-run and -verify-only are mutually exclusive")
	}
	return nil
}

// run executes one cleanup pass and prints the outcome
func run(ctx context.Context, opts *Options) error {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	grace := cfg.GracePeriod.Duration()
	if opts.Grace > 0 {
		grace = opts.Grace
	}

	logger, _ := logging.NewLogger("cleanup")
	defer logger.Close()

	// One cleanup process at a time per profile root. The lock file sits
	// next to the profile so every invocation contends on the same path.
	if err := os.MkdirAll(cfg.ProfileDir, 0750); err != nil {
		return fmt.Errorf("preparing profile directory: %w", err)
	}
	guard := flock.New(filepath.Join(cfg.ProfileDir, cleanupLockName))
	locked, err := guard.TryLock()
	if err != nil {
		return fmt.Errorf("acquiring cleanup lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("another cleanup is already running for %s", cfg.ProfileDir)
	}
	defer guard.Unlock()

	mode := cleanup.Live
	switch {
	case opts.DryRun:
		mode = cleanup.DryRun
	case opts.VerifyOnly:
		mode = cleanup.VerifyOnly
	}

	executor := cleanup.NewExecutor(procscan.NewSystemScanner(), cfg.Policy(), cleanup.OSSignaler{}, grace, logger)
	report, err := executor.Run(ctx, mode)
	if err != nil {
		if report != nil {
			printReport(report, opts.Verbose)
		}
		if errors.Is(err, cleanup.ErrSupervisorPreservation) {
			return fmt.Errorf("preservation check failed: %w", err)
		}
		return err
	}

	printReport(report, opts.Verbose)
	if len(report.Errors) > 0 {
		return fmt.Errorf("%d process(es) could not be cleaned up", len(report.Errors))
	}
	return nil
}

// printReport summarizes a cleanup run on stdout
func printReport(report *cleanup.Report, verbose bool) {
	if verbose {
		for _, rec := range report.Terminated {
			switch report.Mode {
			case cleanup.DryRun:
				fmt.Printf("would terminate: %s\n", rec)
			default:
				fmt.Printf("terminated: %s\n", rec)
			}
		}
		for _, rec := range report.Preserved {
			fmt.Printf("preserved: %s\n", rec)
		}
		for _, rec := range report.Errors {
			fmt.Printf("failed: %s\n", rec)
		}
	}

	switch report.Mode {
	case cleanup.DryRun:
		fmt.Printf("dry run: %d process(es) would be terminated, %d preserved\n",
			len(report.Terminated), len(report.Preserved))
	case cleanup.VerifyOnly:
		if len(report.Errors) == 0 {
			fmt.Printf("verified: no disposable processes remain (%d preserved)\n", len(report.Preserved))
		} else {
			fmt.Printf("verification failed: %d disposable process(es) still running\n", len(report.Errors))
		}
	default:
		if len(report.Terminated) == 0 && len(report.Errors) == 0 {
			fmt.Println("nothing to clean up")
		} else {
			fmt.Printf("terminated %d process(es), preserved %d, %d failure(s)\n",
				len(report.Terminated), len(report.Preserved), len(report.Errors))
		}
	}
}
