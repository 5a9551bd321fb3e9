package procscan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	policy := Policy{
		WorkerMarkers:     []string{"mcp-chrome-profile"},
		SupervisorMarkers: []string{"mcp-server-playwright"},
		Matcher:           TokenMatcher{},
	}

	tests := []struct {
		name    string
		cmdline string
		want    Class
	}{
		{
			name:    "chrome worker on profile",
			cmdline: "/usr/bin/chrome --user-data-dir=/tmp/mcp-chrome-profile --headless",
			want:    Disposable,
		},
		{
			name:    "node supervisor",
			cmdline: "node /usr/lib/node_modules/mcp-server-playwright/index.js",
			want:    Protected,
		},
		{
			name:    "unrelated process",
			cmdline: "/usr/sbin/sshd -D",
			want:    Unrelated,
		},
		{
			name:    "both markers on one record favors protected",
			cmdline: "node mcp-server-playwright --profile=/tmp/mcp-chrome-profile",
			want:    Protected,
		},
		{
			name:    "supervisor marker inside a worker argument still protects",
			cmdline: "/usr/bin/chrome --user-data-dir=/tmp/mcp-chrome-profile --origin=mcp-server-playwright",
			want:    Protected,
		},
		{
			name:    "empty cmdline",
			cmdline: "",
			want:    Unrelated,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ProcessRecord{PID: 1234, Cmdline: tt.cmdline}
			assert.Equal(t, tt.want, Classify(rec, policy))
		})
	}
}

func TestClassifyIsCaseSensitive(t *testing.T) {
	policy := Policy{
		WorkerMarkers: []string{"mcp-chrome-profile"},
		Matcher:       TokenMatcher{},
	}

	rec := ProcessRecord{Cmdline: "/usr/bin/chrome --user-data-dir=/tmp/MCP-CHROME-PROFILE"}
	assert.Equal(t, Unrelated, Classify(rec, policy))
}

func TestTokenMatcher(t *testing.T) {
	m := TokenMatcher{}

	tests := []struct {
		name    string
		cmdline string
		marker  string
		want    bool
	}{
		{"substring of a token", "chrome --user-data-dir=/tmp/mcp-chrome-profile", "mcp-chrome-profile", true},
		{"exact token", "node mcp-server-playwright", "mcp-server-playwright", true},
		{"marker spanning two tokens never matches", "chrome mcp-chrome profile", "mcp-chrome profile", false},
		{"empty marker never matches", "chrome --headless", "", false},
		{"empty cmdline", "", "chrome", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, m.Match(tt.cmdline, tt.marker))
		})
	}
}

func TestGlobMatcher(t *testing.T) {
	m := GlobMatcher{}

	assert.True(t, m.Match("chrome --user-data-dir=/tmp/mcp-chrome-profile", "*mcp-chrome-profile*"))
	assert.False(t, m.Match("chrome --headless", "*mcp-chrome-profile*"))
	// Invalid pattern matches nothing rather than erroring out of a scan.
	assert.False(t, m.Match("chrome", "[unclosed"))
}

func TestRegexpMatcher(t *testing.T) {
	m := RegexpMatcher{}

	assert.True(t, m.Match("node mcp-server-playwright --port 9000", `mcp-server-playwright`))
	assert.True(t, m.Match("chrome --user-data-dir=/tmp/mcp-chrome-profile", `mcp-chrome-profile\b`))
	assert.False(t, m.Match("chrome", "[unclosed"))
}

func TestPolicyDefaultsToTokenMatcher(t *testing.T) {
	policy := Policy{WorkerMarkers: []string{"mcp-chrome-profile"}}

	rec := ProcessRecord{Cmdline: "chrome --user-data-dir=/tmp/mcp-chrome-profile"}
	assert.Equal(t, Disposable, Classify(rec, policy))
}

func TestPolicyValidate(t *testing.T) {
	assert.Error(t, Policy{}.Validate())
	assert.NoError(t, DefaultPolicy().Validate())
}

func TestSnapshotClassifiesEveryRecord(t *testing.T) {
	scanner := staticScanner{records: []ProcessRecord{
		{PID: 10, Cmdline: "node mcp-server-playwright"},
		{PID: 20, Cmdline: "chrome --user-data-dir=/tmp/mcp-chrome-profile"},
		{PID: 30, Cmdline: "/usr/sbin/cron"},
	}}

	records, err := Snapshot(scanner, DefaultPolicy())
	require.NoError(t, err)
	require.Len(t, records, 3)

	assert.Equal(t, Protected, records[0].Class)
	assert.Equal(t, Disposable, records[1].Class)
	assert.Equal(t, Unrelated, records[2].Class)
}

// staticScanner serves a fixed record set for classification tests.
type staticScanner struct {
	records []ProcessRecord
}

func (s staticScanner) Scan() ([]ProcessRecord, error) {
	out := make([]ProcessRecord, len(s.records))
	copy(out, s.records)
	return out, nil
}
