// Package config holds the supervisor's runtime configuration: concurrency
// ceilings, identification markers, and the timing constants the recovery
// and cleanup paths depend on. Configuration is loaded from a YAML file and
// every field has a working default, so a missing file is not an error.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kiteai/herd/pkg/procscan"
)

// Matching strategies for identification markers.
const (
	StrategyToken  = "token"
	StrategyGlob   = "glob"
	StrategyRegexp = "regexp"
)

// Config is the supervisor configuration.
type Config struct {
	// MaxSessions caps simultaneous browser sessions.
	MaxSessions int `yaml:"max_sessions"`

	// MaxTabsPerSession caps open tabs within one session.
	MaxTabsPerSession int `yaml:"max_tabs_per_session"`

	// OperationTimeout bounds each browser operation before the recovery
	// engine treats it as a Timeout trigger.
	OperationTimeout Duration `yaml:"operation_timeout"`

	// SettleDelay is the fixed pause after a corrective action before a
	// retry, letting OS-level locks and process exits stabilize.
	SettleDelay Duration `yaml:"settle_delay"`

	// GracePeriod is how long cleanup waits between the graceful signal
	// and the forced kill.
	GracePeriod Duration `yaml:"grace_period"`

	// ProfileDir is the browser profile/data directory. Its final path
	// element doubles as the worker marker on process command lines.
	ProfileDir string `yaml:"profile_dir"`

	// Headless controls whether launched browsers get a window.
	Headless bool `yaml:"headless"`

	// Markers configure process identification.
	Markers MarkerConfig `yaml:"markers"`
}

// MarkerConfig configures the identification policy.
type MarkerConfig struct {
	// Worker markers flag Disposable browser worker processes.
	Worker []string `yaml:"worker"`

	// Supervisor markers flag Protected control-channel processes.
	Supervisor []string `yaml:"supervisor"`

	// Strategy selects how markers are matched: token, glob, or regexp.
	Strategy string `yaml:"strategy"`
}

// DefaultConfig returns the configuration used when no file is provided.
func DefaultConfig() *Config {
	return &Config{
		MaxSessions:       3,
		MaxTabsPerSession: 5,
		OperationTimeout:  Duration(30 * time.Second),
		SettleDelay:       Duration(2500 * time.Millisecond),
		GracePeriod:       Duration(5 * time.Second),
		ProfileDir:        filepath.Join(os.TempDir(), procscan.DefaultWorkerMarker),
		Headless:          true,
		Markers: MarkerConfig{
			Worker:     []string{procscan.DefaultWorkerMarker},
			Supervisor: []string{procscan.DefaultSupervisorMarker, "playwright"},
			Strategy:   StrategyToken,
		},
	}
}

// Load reads configuration from the given YAML file. An empty path returns
// the defaults. Fields omitted in the file keep their default values.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config in %s: %w", path, err)
	}

	return cfg, nil
}

// Validate checks the configuration for values the supervisor cannot
// operate with. An empty marker strategy is normalized to token matching.
func (c *Config) Validate() error {
	if c.MaxSessions <= 0 {
		return fmt.Errorf("max_sessions must be positive, got %d", c.MaxSessions)
	}

	if c.MaxTabsPerSession <= 0 {
		return fmt.Errorf("max_tabs_per_session must be positive, got %d", c.MaxTabsPerSession)
	}

	if c.OperationTimeout <= 0 {
		return fmt.Errorf("operation_timeout must be positive")
	}

	if c.SettleDelay < 0 {
		return fmt.Errorf("settle_delay cannot be negative")
	}

	if c.GracePeriod <= 0 {
		return fmt.Errorf("grace_period must be positive")
	}

	if len(c.Markers.Worker) == 0 && len(c.Markers.Supervisor) == 0 {
		return fmt.Errorf("at least one worker or supervisor marker is required")
	}

	switch c.Markers.Strategy {
	case StrategyToken, StrategyGlob, StrategyRegexp:
	case "":
		c.Markers.Strategy = StrategyToken
	default:
		return fmt.Errorf("invalid marker strategy: %s (must be 'token', 'glob', or 'regexp')", c.Markers.Strategy)
	}

	return nil
}

// Policy builds the process identification policy from the marker config.
func (c *Config) Policy() procscan.Policy {
	var matcher procscan.Matcher
	switch c.Markers.Strategy {
	case StrategyGlob:
		matcher = procscan.GlobMatcher{}
	case StrategyRegexp:
		matcher = procscan.RegexpMatcher{}
	default:
		matcher = procscan.TokenMatcher{}
	}

	return procscan.Policy{
		WorkerMarkers:     c.Markers.Worker,
		SupervisorMarkers: c.Markers.Supervisor,
		Matcher:           matcher,
	}
}
