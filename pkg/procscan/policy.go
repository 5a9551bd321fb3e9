package procscan

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/gobwas/glob"
)

// Matcher decides whether a command-line signature matches an identification
// marker. Matching strategy is pluggable so the supervisor logic never
// depends on how markers are interpreted.
type Matcher interface {
	// Match reports whether cmdline matches the marker.
	Match(cmdline, marker string) bool
}

// TokenMatcher matches a marker as a case-sensitive substring of a single
// command-line token. Splitting on whitespace first prevents a marker from
// matching across argument boundaries.
type TokenMatcher struct{}

// Match reports whether marker is contained in any single token of cmdline.
func (TokenMatcher) Match(cmdline, marker string) bool {
	if marker == "" {
		return false
	}
	for _, token := range strings.Fields(cmdline) {
		if strings.Contains(token, marker) {
			return true
		}
	}
	return false
}

// GlobMatcher interprets markers as glob patterns matched against whole
// command-line tokens.
type GlobMatcher struct{}

// Match reports whether any token of cmdline matches the marker pattern.
// Invalid patterns match nothing.
func (GlobMatcher) Match(cmdline, marker string) bool {
	g, err := glob.Compile(marker)
	if err != nil {
		return false
	}
	for _, token := range strings.Fields(cmdline) {
		if g.Match(token) {
			return true
		}
	}
	return false
}

// RegexpMatcher interprets markers as regular expressions matched against the
// full command line. Invalid expressions match nothing.
type RegexpMatcher struct{}

// Match reports whether cmdline matches the marker expression.
func (RegexpMatcher) Match(cmdline, marker string) bool {
	re, err := regexp.Compile(marker)
	if err != nil {
		return false
	}
	return re.MatchString(cmdline)
}

// Default markers. Workers are Chromium processes launched against the
// supervisor-owned profile directory; the supervisor is the long-lived
// automation-control server that owns the agent connection.
const (
	DefaultWorkerMarker     = "mcp-chrome-profile"
	DefaultSupervisorMarker = "mcp-server-playwright"
)

// Policy is the declarative identification rule set. A record matching a
// supervisor marker is Protected, a record matching only a worker marker is
// Disposable, and everything else is Unrelated. When both marker sets match
// the same record the supervisor marker wins: misclassifying a worker as
// Protected leaks a process, misclassifying the supervisor as Disposable
// severs the agent connection.
type Policy struct {
	// WorkerMarkers identify Disposable browser worker processes.
	WorkerMarkers []string

	// SupervisorMarkers identify Protected control-channel processes.
	SupervisorMarkers []string

	// Matcher is the matching strategy. Nil means TokenMatcher.
	Matcher Matcher
}

// DefaultPolicy returns the policy for a stock playwright deployment:
// Chromium workers on the shared profile, a node-based playwright server as
// the supervisor. "playwright" alone is a secondary supervisor marker so a
// renamed server binary still stays off the kill list.
func DefaultPolicy() Policy {
	return Policy{
		WorkerMarkers:     []string{DefaultWorkerMarker},
		SupervisorMarkers: []string{DefaultSupervisorMarker, "playwright"},
		Matcher:           TokenMatcher{},
	}
}

// Validate checks that the policy can classify anything at all.
func (p Policy) Validate() error {
	if len(p.WorkerMarkers) == 0 && len(p.SupervisorMarkers) == 0 {
		return fmt.Errorf("policy has no markers")
	}
	return nil
}

func (p Policy) matcher() Matcher {
	if p.Matcher == nil {
		return TokenMatcher{}
	}
	return p.Matcher
}

func (p Policy) matchesAny(cmdline string, markers []string) bool {
	m := p.matcher()
	for _, marker := range markers {
		if m.Match(cmdline, marker) {
			return true
		}
	}
	return false
}

// Classify computes the classification of a single record under the policy.
// It is pure: it inspects only the record's command-line signature and never
// touches OS state, so it is safe to call concurrently.
func Classify(rec ProcessRecord, policy Policy) Class {
	// Supervisor match first so overlapping markers always fail safe.
	if policy.matchesAny(rec.Cmdline, policy.SupervisorMarkers) {
		return Protected
	}
	if policy.matchesAny(rec.Cmdline, policy.WorkerMarkers) {
		return Disposable
	}
	return Unrelated
}
