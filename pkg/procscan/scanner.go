package procscan

import (
	"fmt"
	"sort"
)

// Scanner captures a snapshot of the OS process table. The table is
// externally mutable, so callers must treat every snapshot as immediately
// stale and re-scan rather than reuse records across decisions.
type Scanner interface {
	// Scan returns one record per visible process, ordered by PID.
	// Records carry no classification; see Snapshot.
	Scan() ([]ProcessRecord, error)
}

// NewSystemScanner returns a Scanner backed by the running OS.
func NewSystemScanner() Scanner {
	return systemScanner{}
}

// Snapshot scans and classifies in one step. Classification is recomputed
// from scratch for every record; nothing is cached between calls.
func Snapshot(scanner Scanner, policy Policy) ([]ProcessRecord, error) {
	records, err := scanner.Scan()
	if err != nil {
		return nil, fmt.Errorf("process scan failed: %w", err)
	}
	for i := range records {
		records[i].Class = Classify(records[i], policy)
	}
	return records, nil
}

func sortByPID(records []ProcessRecord) {
	sort.Slice(records, func(i, j int) bool {
		return records[i].PID < records[j].PID
	})
}
